package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-dfe/internal/auth"
	"github.com/sirosfoundation/go-dfe/internal/config"
	"github.com/sirosfoundation/go-dfe/internal/metrics"
	"github.com/sirosfoundation/go-dfe/internal/server"
	"github.com/sirosfoundation/go-dfe/internal/syncer"
)

func newServeCmd() *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the background sync",
		Long: `Run the JSON HTTP API. When sync is enabled in the configuration, the
configured companies are downloaded in the background at every interval.

Example:
  godfe serve --config godfe.yaml
  godfe serve --port 9090`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides the configuration)")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating distribution client: %w", err)
	}
	logger.Info("distribution endpoint", "url", client.Endpoint(), "environment", cfg.DistributionEnvironment())

	store, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		sctx, cancel := shutdownContext()
		defer cancel()
		if err := store.Close(sctx); err != nil {
			logger.Error("closing storage", "error", err)
		}
	}()

	portals, err := loadPortals(cfg)
	if err != nil {
		return err
	}

	var m *metrics.Metrics
	if cfg.Metrics.Metrics.Enabled {
		m = metrics.New()
	}

	var worker *syncer.Syncer
	if cfg.Sync.Enabled {
		worker = syncer.NewSyncer(store, client, syncCompanies(cfg), syncConfig(cfg), m, logger.With("component", "syncer"))
		worker.Start(ctx)
		defer worker.Stop()
	}

	srv := server.New(cfg, server.Options{
		Client:  client,
		Store:   store,
		Syncer:  worker,
		Portals: portals,
		Metrics: m,

		Authenticator: auth.NewAuthenticator(&cfg.Auth, logger.With("component", "auth")),
	}, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(fmt.Sprintf(":%d", cfg.Server.Port))
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	sctx, cancel := shutdownContext()
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}
