// Package transport implements the mutual-TLS HTTPS transport for NF-e web services
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// TLS version constants
const (
	TLS12 = tls.VersionTLS12
	TLS13 = tls.VersionTLS13
)

// Defaults bounding one round-trip
const (
	DefaultTimeout          = 30 * time.Second
	DefaultMaxResponseBytes = 50 << 20
	DefaultContentType      = "application/soap+xml; charset=utf-8"
	DefaultUserAgent        = "go-dfe/1.0"
)

// RecommendedTLS12CipherSuites lists the TLS 1.2 suites offered to NF-e endpoints
var RecommendedTLS12CipherSuites = []uint16{
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
}

var (
	ErrResponseTooLarge = errors.New("response exceeds size limit")
	ErrEmptyResponse    = errors.New("response has no body")
)

// Error is a transport failure with no interpretable response body
type Error struct {
	Endpoint   string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport: %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport: %s: %v", e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// HTTPSConfig contains HTTPS client configuration
type HTTPSConfig struct {
	MinTLSVersion uint16
	MaxTLSVersion uint16
	CipherSuites  []uint16
	RootCAs       *x509.CertPool

	// InsecureSkipVerify accepts any server certificate chain.
	// Only for endpoints whose chain cannot be verified locally.
	InsecureSkipVerify bool

	Timeout          time.Duration
	MaxResponseBytes int64

	ContentType string
	SOAPAction  string
	UserAgent   string

	Logger *slog.Logger
}

// DefaultHTTPSConfig returns a default HTTPS configuration
func DefaultHTTPSConfig() *HTTPSConfig {
	return &HTTPSConfig{
		MinTLSVersion:    TLS12,
		MaxTLSVersion:    TLS13,
		CipherSuites:     RecommendedTLS12CipherSuites,
		Timeout:          DefaultTimeout,
		MaxResponseBytes: DefaultMaxResponseBytes,
		ContentType:      DefaultContentType,
		UserAgent:        DefaultUserAgent,
	}
}

// Response is a received HTTP response
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is 2xx
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// HTTPSClient sends SOAP requests over call-scoped mutual-TLS connections
type HTTPSClient struct {
	config *HTTPSConfig
	logger *slog.Logger
}

// NewHTTPSClient creates a new HTTPS client
func NewHTTPSClient(config *HTTPSConfig) *HTTPSClient {
	if config == nil {
		config = DefaultHTTPSConfig()
	}
	cfg := *config
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxResponseBytes == 0 {
		cfg.MaxResponseBytes = DefaultMaxResponseBytes
	}
	if cfg.ContentType == "" {
		cfg.ContentType = DefaultContentType
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.MinTLSVersion == 0 {
		cfg.MinTLSVersion = TLS12
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HTTPSClient{
		config: &cfg,
		logger: logger,
	}
}

// Send posts body to endpoint presenting clientCert, and returns the response.
func (c *HTTPSClient) Send(ctx context.Context, endpoint string, clientCert tls.Certificate, body []byte) (*Response, error) {
	tlsConfig := &tls.Config{
		MinVersion:         c.config.MinTLSVersion,
		MaxVersion:         c.config.MaxTLSVersion,
		CipherSuites:       c.config.CipherSuites,
		RootCAs:            c.config.RootCAs,
		InsecureSkipVerify: c.config.InsecureSkipVerify, //nolint:gosec // opt-in per endpoint
	}
	if len(clientCert.Certificate) > 0 {
		tlsConfig.Certificates = []tls.Certificate{clientCert}
	}

	// One transport per call: the client certificate belongs to the connection
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: c.config.Timeout,
		DisableKeepAlives:   true,
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   c.config.Timeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Endpoint: endpoint, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	req.Header.Set("Content-Type", c.config.ContentType)
	req.Header.Set("User-Agent", c.config.UserAgent)
	if c.config.SOAPAction != "" {
		req.Header.Set("SOAPAction", c.config.SOAPAction)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, &Error{Endpoint: endpoint, Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBytes+1))
	if err != nil {
		return nil, &Error{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	if int64(len(responseBody)) > c.config.MaxResponseBytes {
		return nil, &Error{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("%w: %d bytes", ErrResponseTooLarge, c.config.MaxResponseBytes)}
	}

	out := &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       responseBody,
	}

	if !out.OK() {
		if len(bytes.TrimSpace(responseBody)) == 0 {
			return nil, &Error{Endpoint: endpoint, StatusCode: resp.StatusCode, Err: ErrEmptyResponse}
		}
		// SOAP faults arrive with 4xx/5xx; let the caller decode them
		c.logger.Warn("non-success status with body",
			"endpoint", endpoint,
			"status", resp.StatusCode,
			"bytes", len(responseBody),
		)
	}

	return out, nil
}
