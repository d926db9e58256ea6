package dfe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sirosfoundation/go-dfe/pkg/certificate"
	"github.com/sirosfoundation/go-dfe/pkg/distribution"
	"github.com/sirosfoundation/go-dfe/pkg/message"
	"github.com/sirosfoundation/go-dfe/pkg/security"
	"github.com/sirosfoundation/go-dfe/pkg/transport"
)

const tracerName = "github.com/sirosfoundation/go-dfe/pkg/dfe"

// Sender posts an envelope over mutual TLS. *transport.HTTPSClient implements it.
type Sender interface {
	Send(ctx context.Context, endpoint string, clientCert tls.Certificate, body []byte) (*transport.Response, error)
}

// Config holds client configuration
type Config struct {
	Environment message.Environment

	// Endpoint overrides the environment's default URL
	Endpoint string

	// Jurisdiction is the default cUFAutor for requests that leave it empty
	Jurisdiction string

	// Timeout bounds a whole call, signing included
	Timeout time.Duration

	MaxResponseBytes int64

	// TrustServerCertificate skips verification of the endpoint's chain.
	// Ignored when Sender is set.
	TrustServerCertificate bool
	RootCAs                *x509.CertPool

	Sender Sender
	Logger *slog.Logger
	Tracer trace.Tracer

	// Now returns the current time; defaults to time.Now
	Now func() time.Time
}

// DefaultConfig returns the production configuration.
//
// The national endpoints present ICP-Brasil chains, so server certificate
// verification is off unless RootCAs is supplied.
func DefaultConfig() Config {
	return Config{
		Environment:            message.EnvironmentProduction,
		Timeout:                transport.DefaultTimeout,
		MaxResponseBytes:       transport.DefaultMaxResponseBytes,
		TrustServerCertificate: true,
	}
}

// FetchRequest holds the inputs of FetchDocuments
type FetchRequest struct {
	// Certificate is the PKCS#12 container
	Certificate []byte
	Password    string

	TaxID        string
	Jurisdiction string

	// LastNSU and DocumentKey are mutually exclusive
	LastNSU     uint64
	DocumentKey string
}

// Client runs distribution calls
type Client struct {
	environment  message.Environment
	endpoint     string
	jurisdiction string
	timeout      time.Duration
	sender       Sender
	decoder      *distribution.Decoder
	logger       *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// NewClient creates a distribution client
func NewClient(config Config) (*Client, error) {
	if config.Environment == 0 {
		config.Environment = message.EnvironmentProduction
	}
	if !config.Environment.Valid() {
		return nil, fmt.Errorf("unknown environment %d", int(config.Environment))
	}
	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = config.Environment.Endpoint()
	}
	if config.Timeout == 0 {
		config.Timeout = transport.DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Tracer == nil {
		config.Tracer = otel.Tracer(tracerName)
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	sender := config.Sender
	if sender == nil {
		httpsConfig := transport.DefaultHTTPSConfig()
		httpsConfig.Timeout = config.Timeout
		httpsConfig.MaxResponseBytes = config.MaxResponseBytes
		httpsConfig.RootCAs = config.RootCAs
		httpsConfig.InsecureSkipVerify = config.TrustServerCertificate && config.RootCAs == nil
		httpsConfig.ContentType = message.ContentType
		httpsConfig.SOAPAction = message.SOAPAction
		httpsConfig.Logger = config.Logger

		if httpsConfig.InsecureSkipVerify {
			config.Logger.Warn("server certificate verification disabled", "endpoint", endpoint)
		}
		sender = transport.NewHTTPSClient(httpsConfig)
	}

	return &Client{
		environment:  config.Environment,
		endpoint:     endpoint,
		jurisdiction: config.Jurisdiction,
		timeout:      config.Timeout,
		sender:       sender,
		decoder:      distribution.NewDecoder(config.Logger),
		logger:       config.Logger,
		tracer:       config.Tracer,
		now:          config.Now,
	}, nil
}

// Endpoint returns the URL requests are posted to
func (c *Client) Endpoint() string {
	return c.endpoint
}

// FetchDocuments reads the certificate in req and runs one distribution call.
func (c *Client) FetchDocuments(ctx context.Context, req *FetchRequest) (*distribution.Result, error) {
	const op = "FetchDocuments"
	if req == nil {
		return nil, newError(KindInvalidRequest, op, errors.New("request is required"))
	}

	identity, err := certificate.Read(req.Certificate, req.Password)
	if err != nil {
		return nil, newError(KindCertificate, op, err)
	}

	return c.Fetch(ctx, identity, &message.DistributionQuery{
		TaxID:        req.TaxID,
		Jurisdiction: req.Jurisdiction,
		LastNSU:      req.LastNSU,
		DocumentKey:  req.DocumentKey,
	})
}

// Fetch runs one distribution call with an already decoded identity.
// A zero query Environment or Jurisdiction takes the client's value.
func (c *Client) Fetch(ctx context.Context, identity *certificate.Identity, query *message.DistributionQuery) (result *distribution.Result, err error) {
	const op = "Fetch"
	if identity == nil {
		return nil, newError(KindCertificate, op, errors.New("identity is required"))
	}
	if query == nil {
		return nil, newError(KindInvalidRequest, op, message.ErrInvalidQuery)
	}

	q := *query
	if q.Environment == 0 {
		q.Environment = c.environment
	}
	if q.Jurisdiction == "" {
		q.Jurisdiction = c.jurisdiction
	}
	q.TaxID = message.NormalizeTaxID(q.TaxID)

	ctx, span := c.tracer.Start(ctx, "dfe.fetch", trace.WithAttributes(
		attribute.String("dfe.tax_id", q.TaxID),
		attribute.String("dfe.environment", q.Environment.String()),
		attribute.Int64("dfe.last_nsu", int64(q.LastNSU)),
		attribute.Bool("dfe.by_key", q.ByKey()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(KindOf(err)))
		} else {
			span.SetAttributes(
				attribute.String("dfe.cstat", result.StatusCode),
				attribute.Int("dfe.documents", len(result.Documents)),
			)
			span.SetStatus(codes.Ok, "")
		}
		span.End()
	}()

	logger := c.logger.With("tax_id", q.TaxID, "last_nsu", q.LastNSU)

	if err := identity.CheckValidity(c.now()); err != nil {
		logger.Warn("certificate expired", "not_after", identity.NotAfter)
		return nil, newError(KindExpiredCertificate, op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	fragment, err := message.BuildQuery(&q)
	if err != nil {
		return nil, newError(KindInvalidRequest, op, err)
	}

	signer, err := security.NewRSASigner(identity.PrivateKey, identity.Certificate, security.DistributionTarget)
	if err != nil {
		return nil, newError(KindSigning, op, err)
	}
	signed, err := signer.Sign(fragment)
	if err != nil {
		if errors.Is(err, security.ErrSignatureTargetNotFound) {
			return nil, newError(KindSignatureTargetNotFound, op, err)
		}
		return nil, newError(KindSigning, op, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, newError(KindTransport, op, err)
	}

	envelope := message.WrapEnvelope(signed.XML)

	logger.Debug("sending distribution request", "endpoint", c.endpoint, "bytes", len(envelope))

	resp, err := c.sender.Send(ctx, c.endpoint, identity.TLSCertificate(), envelope)
	if err != nil {
		logger.Error("distribution request failed", "error", err)
		return nil, newError(KindTransport, op, err)
	}

	result, err = c.decoder.Decode(resp.Body)
	if err != nil && !resp.OK() {
		logger.Error("distribution request failed", "status", resp.StatusCode, "error", err)
		return nil, newError(KindTransport, op, &transport.Error{Endpoint: c.endpoint, StatusCode: resp.StatusCode, Err: err})
	}
	if err != nil {
		logger.Error("failed to decode distribution response", "status", resp.StatusCode, "error", err)
		return nil, newError(KindDecode, op, err)
	}

	logger.Info("distribution call completed",
		"cstat", result.StatusCode,
		"xmotivo", result.StatusReason,
		"ult_nsu", result.LastNSU,
		"max_nsu", result.MaxNSU,
		"documents", len(result.Documents),
		"skipped", result.Skipped,
	)

	return result, nil
}

// ValidateCertificate reads a container and reports its holder data.
// An expired certificate is not an error; Info.Expired is set instead.
func (c *Client) ValidateCertificate(container []byte, password string) (*certificate.Info, error) {
	identity, err := certificate.Read(container, password)
	if err != nil {
		return nil, newError(KindCertificate, "ValidateCertificate", err)
	}
	return identity.Info(c.now()), nil
}
