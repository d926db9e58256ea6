// Package server provides the HTTP server for the distribution service.
//
// The server exposes the following API surfaces:
//
// # Distribution API
//
//   - POST /api/distribution          - Run one signed distribution query
//   - POST /api/certificates/validate - Report the holder data of a certificate
//
// Both endpoints receive the PKCS#12 container in the request body; it is
// never stored or logged.
//
// # Stored Documents
//
//   - GET  /api/companies                        - List stored cursors
//   - GET  /api/companies/{taxID}/cursor         - Get a company's cursor
//   - GET  /api/companies/{taxID}/documents      - List stored documents
//   - GET  /api/companies/{taxID}/documents/{nsu} - Get one stored document
//   - POST /api/companies/{taxID}/sync           - Run a background sync now
//
// # Portal Scripts
//
//   - GET  /api/portals               - List configured portal scripts
//   - POST /api/portals/{id}/resolve  - Compute step values for a period
//
// # Authentication
//
// When an authenticator is configured, every /api route requires a bearer
// token. Requests for a tax ID outside the token's companies claim are
// refused with 403.
//
// # Health & Metrics
//
//   - GET /health  - Liveness check
//   - GET /ready   - Readiness check (storage ping)
//   - GET /metrics - Prometheus metrics (if enabled)
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sirosfoundation/go-dfe/internal/auth"
	"github.com/sirosfoundation/go-dfe/internal/config"
	"github.com/sirosfoundation/go-dfe/internal/metrics"
	"github.com/sirosfoundation/go-dfe/internal/storage"
	"github.com/sirosfoundation/go-dfe/internal/syncer"
	"github.com/sirosfoundation/go-dfe/pkg/certificate"
	"github.com/sirosfoundation/go-dfe/pkg/dfe"
	"github.com/sirosfoundation/go-dfe/pkg/distribution"
	"github.com/sirosfoundation/go-dfe/pkg/message"
	"github.com/sirosfoundation/go-dfe/pkg/portal"
)

// Distributor runs distribution calls. *dfe.Client implements it.
type Distributor interface {
	FetchDocuments(ctx context.Context, req *dfe.FetchRequest) (*distribution.Result, error)
	ValidateCertificate(container []byte, password string) (*certificate.Info, error)
}

// Options wires the server's collaborators. Syncer, Portals, Metrics and
// Authenticator may be nil.
type Options struct {
	Client        Distributor
	Store         storage.Store
	Syncer        *syncer.Syncer
	Portals       *portal.Registry
	Metrics       *metrics.Metrics
	Authenticator *auth.Authenticator
}

// Server is the distribution HTTP server
type Server struct {
	config  *config.Config
	logger  *slog.Logger
	httpSrv *http.Server
	client  Distributor
	store   storage.Store
	syncer  *syncer.Syncer
	portals *portal.Registry
	metrics *metrics.Metrics
	handler http.Handler

	authenticator *auth.Authenticator
}

// New creates a new server
func New(cfg *config.Config, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		config:  cfg,
		logger:  logger,
		client:  opts.Client,
		store:   opts.Store,
		syncer:  opts.Syncer,
		portals: opts.Portals,
		metrics: opts.Metrics,

		authenticator: opts.Authenticator,
	}
	if s.portals == nil {
		s.portals = portal.NewRegistry()
	}
	if s.authenticator == nil {
		s.authenticator = auth.NewAuthenticator(nil, logger)
	}
	if s.authenticator.IsEnabled() {
		logger.Info("API authentication enabled")
	} else {
		logger.Warn("API authentication disabled - /api endpoints accept unauthenticated requests")
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.handler = s.withRequestLog(mux)

	s.httpSrv = &http.Server{
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

// Handler returns the routed and instrumented handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening on the specified address
func (s *Server) Start(addr string) error {
	s.httpSrv.Addr = addr
	s.logger.Info("starting server", "addr", addr, "tls", s.config.Server.TLS.Enabled)
	if s.config.Server.TLS.Enabled {
		return s.httpSrv.ListenAndServeTLS(
			s.config.Server.TLS.CertFile,
			s.config.Server.TLS.KeyFile,
		)
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)

	if s.config.Metrics.Metrics.Enabled && s.metrics != nil {
		mux.Handle("GET "+s.config.Metrics.Metrics.Path, s.metrics.Handler())
	}

	mux.HandleFunc("POST /api/distribution", s.withAuth(s.limitBody(s.handleDistribution)))
	mux.HandleFunc("POST /api/certificates/validate", s.withAuth(s.limitBody(s.handleValidateCertificate)))

	mux.HandleFunc("GET /api/companies", s.withAuth(s.handleListCompanies))
	mux.HandleFunc("GET /api/companies/{taxID}/cursor", s.withAuth(s.handleGetCursor))
	mux.HandleFunc("GET /api/companies/{taxID}/documents", s.withAuth(s.handleListDocuments))
	mux.HandleFunc("GET /api/companies/{taxID}/documents/{nsu}", s.withAuth(s.handleGetDocument))
	mux.HandleFunc("POST /api/companies/{taxID}/sync", s.withAuth(s.handleSync))

	mux.HandleFunc("GET /api/portals", s.withAuth(s.handleListPortals))
	mux.HandleFunc("POST /api/portals/{id}/resolve", s.withAuth(s.limitBody(s.handleResolvePortal)))
}

// Middleware

// withAuth validates bearer tokens for /api endpoints
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if not configured (development mode)
		if !s.authenticator.IsEnabled() {
			next(w, r)
			return
		}

		claims, err := s.authenticator.ValidateRequest(r)
		if err != nil {
			s.loggerFrom(r.Context()).Debug("authentication failed", "error", err, "path", r.URL.Path)
			switch {
			case errors.Is(err, auth.ErrNoToken):
				w.Header().Set("WWW-Authenticate", `Bearer realm="go-dfe"`)
				s.jsonError(w, "authentication required", http.StatusUnauthorized)
			case errors.Is(err, auth.ErrTokenExpired):
				s.jsonError(w, "token expired", http.StatusUnauthorized)
			case errors.Is(err, auth.ErrInvalidAudience), errors.Is(err, auth.ErrInvalidIssuer):
				s.jsonError(w, "invalid token", http.StatusForbidden)
			default:
				s.jsonError(w, "authentication failed", http.StatusUnauthorized)
			}
			return
		}

		// Check company access if a tax ID is in the path
		taxID := r.PathValue("taxID")
		if taxID != "" && !claims.HasCompany(taxID) {
			s.loggerFrom(r.Context()).Warn("company access denied",
				"user", claims.Subject,
				"tax_id", message.NormalizeTaxID(taxID),
			)
			s.jsonError(w, "access denied for this company", http.StatusForbidden)
			return
		}

		next(w, r.WithContext(auth.ContextWithClaims(r.Context(), claims)))
	}
}

type contextKey string

const loggerContextKey contextKey = "logger"

// statusRecorder captures the status code written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// withRequestLog assigns a request ID, scopes the logger and records metrics
func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		logger := s.logger.With("request_id", requestID)
		req := r.WithContext(context.WithValue(r.Context(), loggerContextKey, logger))
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		start := time.Now()
		next.ServeHTTP(rec, req)

		route := req.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveHTTP(route, rec.status)
		logger.Debug("request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) limitBody(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.config.Server.MaxBodyBytes)
		next(w, r)
	}
}

// loggerFrom returns the request-scoped logger
func (s *Server) loggerFrom(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerContextKey).(*slog.Logger); ok {
		return l
	}
	return s.logger
}

// Health handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, map[string]string{"status": "ok"}, http.StatusOK)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.loggerFrom(r.Context()).Warn("storage not ready", "error", err)
		s.jsonError(w, "storage not ready", http.StatusServiceUnavailable)
		return
	}
	s.jsonResponse(w, map[string]string{"status": "ready"}, http.StatusOK)
}

// Helper functions

func (s *Server) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) jsonError(w http.ResponseWriter, message string, status int) {
	s.jsonResponse(w, map[string]any{"success": false, "error": message}, status)
}
