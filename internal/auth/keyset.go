package auth

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwk"
)

const (
	keySetTTL = time.Hour

	// Unknown key IDs trigger a refetch at most this often
	keySetMinRefetch = time.Minute

	maxKeySetBytes = 1 << 20
)

var errUnknownKey = errors.New("signing key not published")

// keySet caches the RSA keys of a JWKS endpoint by key ID
type keySet struct {
	url    string
	client *http.Client
	logger *slog.Logger
	now    func() time.Time

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func newKeySet(url string, logger *slog.Logger) *keySet {
	return &keySet{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		now:    time.Now,
	}
}

// lookup returns the key for kid, fetching the set when it is stale or
// does not know kid yet
func (s *keySet) lookup(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	age := s.now().Sub(s.fetchedAt)
	key, known := s.keys[kid]
	switch {
	case known && age < keySetTTL:
		return key, nil
	case !known && s.keys != nil && age < keySetMinRefetch:
		return nil, fmt.Errorf("%w: %q", errUnknownKey, kid)
	}

	keys, err := s.fetch(ctx)
	if err != nil {
		return nil, err
	}
	s.keys = keys
	s.fetchedAt = s.now()
	s.logger.Info("loaded signing keys", "url", s.url, "keys", len(keys))

	if key, ok := s.keys[kid]; ok {
		return key, nil
	}
	return nil, fmt.Errorf("%w: %q", errUnknownKey, kid)
}

func (s *keySet) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("building JWKS request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("JWKS endpoint returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKeySetBytes))
	if err != nil {
		return nil, fmt.Errorf("reading JWKS: %w", err)
	}
	set, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("decoding JWKS: %w", err)
	}
	return s.rsaKeys(set), nil
}

// rsaKeys keeps the RSA signing keys of set by key ID
func (s *keySet) rsaKeys(set jwk.Set) map[string]*rsa.PublicKey {
	keys := make(map[string]*rsa.PublicKey, set.Len())
	for i := range set.Len() {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		kid, _ := key.KeyID()
		if use, ok := key.KeyUsage(); ok && use != "sig" {
			continue
		}

		var raw any
		if err := jwk.Export(key, &raw); err != nil {
			s.logger.Warn("skipping JWK", "kid", kid, "error", err)
			continue
		}
		pub, ok := raw.(*rsa.PublicKey)
		if !ok {
			s.logger.Warn("skipping JWK", "kid", kid, "type", fmt.Sprintf("%T", raw))
			continue
		}
		keys[kid] = pub
	}
	return keys
}
