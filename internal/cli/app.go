package cli

import (
	"context"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/sirosfoundation/go-dfe/internal/config"
	"github.com/sirosfoundation/go-dfe/internal/storage"
	"github.com/sirosfoundation/go-dfe/internal/storage/memory"
	"github.com/sirosfoundation/go-dfe/internal/storage/mongodb"
	"github.com/sirosfoundation/go-dfe/internal/syncer"
	"github.com/sirosfoundation/go-dfe/pkg/dfe"
	"github.com/sirosfoundation/go-dfe/pkg/portal"
)

// passwordEnv supplies the certificate password when no flag is given
const passwordEnv = "DFE_CERT_PASSWORD"

// loadConfig reads --config, or returns defaults when it is not set
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configFlag == "" {
		cfg = config.Default()
	} else {
		cfg, err = config.Load(configFlag)
		if err != nil {
			return nil, err
		}
	}
	if logLevelFlag != "" {
		cfg.Logging.Level = logLevelFlag
	}
	if logFormatFlag != "" {
		cfg.Logging.Format = logFormatFlag
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

func newClient(cfg *config.Config, logger *slog.Logger) (*dfe.Client, error) {
	dc := dfe.DefaultConfig()
	dc.Environment = cfg.DistributionEnvironment()
	dc.Endpoint = cfg.Distribution.Endpoint
	dc.Jurisdiction = cfg.Distribution.Jurisdiction
	dc.Timeout = cfg.Distribution.Timeout
	dc.MaxResponseBytes = cfg.Distribution.MaxResponseBytes
	dc.Logger = logger
	if cfg.Distribution.TrustServerCertificate != nil {
		dc.TrustServerCertificate = *cfg.Distribution.TrustServerCertificate
	}

	if cfg.Distribution.RootCAFile != "" {
		data, err := os.ReadFile(cfg.Distribution.RootCAFile)
		if err != nil {
			return nil, fmt.Errorf("reading root CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(data) {
			return nil, fmt.Errorf("no PEM certificates in %s", cfg.Distribution.RootCAFile)
		}
		dc.RootCAs = pool
	}

	return dfe.NewClient(dc)
}

func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Type {
	case "mongodb":
		ctx, cancel := context.WithTimeout(ctx, cfg.Storage.MongoDB.Timeout)
		defer cancel()
		return mongodb.NewStore(ctx, &mongodb.Config{
			URI:      cfg.Storage.MongoDB.URI,
			Database: cfg.Storage.MongoDB.Database,
		})
	default:
		return memory.NewStore(), nil
	}
}

func loadPortals(cfg *config.Config) (*portal.Registry, error) {
	registry := portal.NewRegistry()
	if cfg.Portal.ScriptsFile == "" {
		return registry, nil
	}
	data, err := os.ReadFile(cfg.Portal.ScriptsFile)
	if err != nil {
		return nil, fmt.Errorf("reading portal scripts: %w", err)
	}
	scripts, err := portal.ParseScripts(data)
	if err != nil {
		return nil, err
	}
	for _, s := range scripts {
		registry.Add(s)
	}
	return registry, nil
}

func syncCompanies(cfg *config.Config) []syncer.Company {
	out := make([]syncer.Company, 0, len(cfg.Sync.Companies))
	for _, c := range cfg.Sync.Companies {
		out = append(out, syncer.Company{
			TaxID:           c.TaxID,
			Jurisdiction:    c.Jurisdiction,
			CertificateFile: c.CertificateFile,
			Password:        c.Password,
		})
	}
	return out
}

func syncConfig(cfg *config.Config) *syncer.Config {
	return &syncer.Config{
		Interval:       cfg.Sync.Interval,
		MaxPagesPerRun: cfg.Sync.MaxPagesPerRun,
		Workers:        cfg.Sync.Workers,
		RateLimitPause: cfg.Sync.RateLimitPause,
	}
}

// certificatePassword returns the flag value or the environment fallback
func certificatePassword(flag string) string {
	if flag != "" {
		return flag
	}
	return os.Getenv(passwordEnv)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func shutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}
