// Package auth provides bearer-token authentication for the HTTP API.
//
// Tokens are JWTs signed either with RS256/RS384/RS512 keys published at a
// JWKS URL or with a shared HMAC secret. The companies claim lists the tax
// IDs a token may act for; "*" grants all of them.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sirosfoundation/go-dfe/internal/config"
	"github.com/sirosfoundation/go-dfe/pkg/message"
)

var (
	ErrNoToken         = errors.New("no bearer token")
	ErrInvalidToken    = errors.New("invalid bearer token")
	ErrTokenExpired    = errors.New("bearer token expired")
	ErrInvalidAudience = errors.New("token audience not accepted")
	ErrInvalidIssuer   = errors.New("token issuer not accepted")
)

// Claims are the token claims read by the API
type Claims struct {
	Companies []string `json:"companies,omitempty"`
	Name      string   `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// HasCompany reports whether the claims cover taxID
func (c *Claims) HasCompany(taxID string) bool {
	taxID = message.NormalizeTaxID(taxID)
	for _, company := range c.Companies {
		if company == "*" || message.NormalizeTaxID(company) == taxID {
			return true
		}
	}
	return false
}

// Authenticator validates bearer tokens. The zero configuration disables it.
type Authenticator struct {
	config *config.AuthConfig
	parser *jwt.Parser
	keys   *keySet
}

// NewAuthenticator returns an authenticator for cfg; nil cfg disables authentication
func NewAuthenticator(cfg *config.AuthConfig, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = &config.AuthConfig{}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	a := &Authenticator{
		config: cfg,
		parser: jwt.NewParser(opts...),
	}
	if cfg.JWKSUrl != "" {
		a.keys = newKeySet(cfg.JWKSUrl, logger)
	}
	return a
}

// IsEnabled reports whether a key source is configured
func (a *Authenticator) IsEnabled() bool {
	return a.keys != nil || a.config.HMACSecret != ""
}

// ValidateRequest validates the bearer token of r
func (a *Authenticator) ValidateRequest(r *http.Request) (*Claims, error) {
	raw := bearerToken(r)
	if raw == "" {
		return nil, ErrNoToken
	}
	return a.ValidateToken(r.Context(), raw)
}

// ValidateToken verifies raw and maps failures to the package errors
func (a *Authenticator) ValidateToken(ctx context.Context, raw string) (*Claims, error) {
	claims := new(Claims)
	_, err := a.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return a.keyFor(ctx, t)
	})
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return nil, ErrInvalidAudience
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return nil, ErrInvalidIssuer
	default:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
}

func (a *Authenticator) keyFor(ctx context.Context, t *jwt.Token) (any, error) {
	switch t.Method.(type) {
	case *jwt.SigningMethodHMAC:
		if a.config.HMACSecret == "" {
			return nil, errors.New("HMAC tokens are not accepted")
		}
		return []byte(a.config.HMACSecret), nil
	case *jwt.SigningMethodRSA:
		if a.keys == nil {
			return nil, errors.New("RSA tokens are not accepted")
		}
		kid, _ := t.Header["kid"].(string)
		return a.keys.lookup(ctx, kid)
	default:
		return nil, fmt.Errorf("unsupported algorithm: %v", t.Header["alg"])
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

type claimsKey struct{}

// ContextWithClaims attaches validated claims to ctx
func ContextWithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, claims)
}

// ClaimsFromContext returns the claims attached by ContextWithClaims, or nil
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsKey{}).(*Claims)
	return claims
}

// Allowed reports whether the request context may act for taxID.
// Unauthenticated contexts are allowed; authentication is then disabled.
func Allowed(ctx context.Context, taxID string) bool {
	claims := ClaimsFromContext(ctx)
	return claims == nil || claims.HasCompany(taxID)
}
