package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/File-Sharing-BondBridg/Link-Service/cmd/middleware"
	"github.com/File-Sharing-BondBridg/Link-Service/internal/api"
	"github.com/File-Sharing-BondBridg/Link-Service/internal/api/handlers"
	"github.com/File-Sharing-BondBridg/Link-Service/internal/configuration"
	"github.com/File-Sharing-BondBridg/Link-Service/internal/logger"
	natsclient "github.com/File-Sharing-BondBridg/Link-Service/internal/nats"
	"github.com/File-Sharing-BondBridg/Link-Service/internal/services"
	"github.com/File-Sharing-BondBridg/Link-Service/internal/storage"
)

const (
	shutdownTimeout = 15 * time.Second
	sweepTimeout    = 30 * time.Minute
)

func main() {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type cli struct {
	cfg *configuration.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "link-service",
		Short:         "Temporary file sharing links",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configuration.Load()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}
			c.cfg, c.log = cfg, log
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.log != nil {
				_ = c.log.Sync()
			}
		},
	}

	var sweep bool
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.serve(cmd.Context(), sweep)
		},
	}
	serve.Flags().BoolVar(&sweep, "sweep", false, "run both sweeps every SWEEP_INTERVAL in this process")

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one retention sweep and exit",
	}
	sweepCmd.AddCommand(
		&cobra.Command{
			Use:   services.SweepExpired,
			Short: "Delete files whose expiry has passed",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.sweep(cmd, func(r *services.Reaper) (services.SweepResult, error) {
					return r.RunExpirySweep(cmd.Context())
				})
			},
		},
		&cobra.Command{
			Use:   services.SweepOrphans,
			Short: "Delete blobs that no record references",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.sweep(cmd, func(r *services.Reaper) (services.SweepResult, error) {
					return r.RunOrphanSweep(cmd.Context())
				})
			},
		},
	)

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations for the SQL metadata drivers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.migrate(cmd)
		},
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Print a summary of stored files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.stats(cmd)
		},
	}

	root.AddCommand(serve, sweepCmd, migrate, stats)
	root.RunE = serve.RunE
	return root
}

func (c *cli) serve(ctx context.Context, sweep bool) error {
	cfg, log := c.cfg, c.log

	if cfg.Tracing.Enabled {
		tracer.Start(tracer.WithService(cfg.Tracing.Service), tracer.WithEnv(cfg.Tracing.Env))
		defer tracer.Stop()
	}

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.nats != nil {
		if err := a.nats.SubscribeAll(natsclient.Routes(a.reaper, sweepTimeout, log.Named("nats"))); err != nil {
			return err
		}
	}

	var auth *middleware.Authenticator
	if cfg.KeycloakUrl != "" {
		auth, err = middleware.NewOIDCAuthenticator(ctx, cfg.KeycloakUrl, cfg.OIDCClientID, log.Named("auth"))
		if err != nil {
			log.Warn("admin routes disabled", zap.Error(err))
			auth = nil
		}
	}

	gin.SetMode(gin.ReleaseMode)
	h := handlers.New(handlers.Dependencies{
		Uploader: a.uploader,
		Access:   a.access,
		Sweeper:  a.reaper,
		Stats:    a.meta,
		Metadata: a.meta,
		Blobs:    a.blobs,
	}, cfg.Server.PublicBaseURL, log.Named("http"))
	router := api.NewRouter(h, auth, api.RouterConfig{
		CORSOrigins:     cfg.Server.CORSOrigins,
		MaxRequestBytes: cfg.Server.MaxRequestBytes,
		Tracing:         cfg.Tracing.Enabled,
		ServiceName:     cfg.Tracing.Service,
	}, log.Named("http"))

	if sweep {
		a.reaper.Start(ctx, cfg.Reaper.Interval)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			zap.String("addr", srv.Addr),
			zap.String("metadata", cfg.Metadata.Driver),
			zap.String("blobs", cfg.Blob.Driver))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func (c *cli) sweep(cmd *cobra.Command, run func(*services.Reaper) (services.SweepResult, error)) error {
	a, err := newApp(cmd.Context(), c.cfg, c.log)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := run(a.reaper)
	if err != nil {
		return err
	}
	return printJSON(cmd, res)
}

func (c *cli) migrate(cmd *cobra.Command) error {
	var (
		dialect storage.Dialect
		dsn     string
	)
	switch c.cfg.Metadata.Driver {
	case "postgres":
		dialect, dsn = storage.DialectPostgres, c.cfg.Database.ConnectionString()
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(c.cfg.Metadata.SQLitePath), 0o750); err != nil {
			return fmt.Errorf("failed to create sqlite directory: %w", err)
		}
		dialect, dsn = storage.DialectSQLite, c.cfg.Metadata.SQLiteDSN()
	default:
		return fmt.Errorf("metadata driver %q has no migrations", c.cfg.Metadata.Driver)
	}

	// opening the store applies pending migrations
	store, err := storage.OpenSQLStore(cmd.Context(), dialect, dsn, c.log.Named(dialect.String()))
	if err != nil {
		return err
	}
	return store.Close()
}

func (c *cli) stats(cmd *cobra.Command) error {
	meta, err := openMetadata(cmd.Context(), c.cfg, c.log)
	if err != nil {
		return err
	}
	defer meta.Close()

	stats, err := meta.Stats(cmd.Context(), time.Now())
	if err != nil {
		return err
	}
	return printJSON(cmd, stats)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
