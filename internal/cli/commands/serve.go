package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/collections/internal/orm/migrate"
	"github.com/conduit-lang/collections/internal/web/api"
	"github.com/conduit-lang/collections/internal/web/auth"
	"github.com/conduit-lang/collections/internal/web/profiling"
	"github.com/conduit-lang/collections/internal/web/server"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	var (
		autoMigrate     bool
		shutdownTimeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the collections JSON API.

Redis is used for the cache and the rate limiter when redis.addr is set;
otherwise both are kept in process memory. SIGINT and SIGTERM drain
in-flight requests and queued hooks before exiting.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.RequireSecret(); err != nil {
				return err
			}
			logger, err := cfg.Log.NewLogger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			a, err := openApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()

			if autoMigrate {
				if _, err := migrate.New(a.provider, logger).Bootstrap(ctx); err != nil {
					return err
				}
			}
			limiter, err := a.limiter()
			if err != nil {
				return err
			}

			tokens := auth.NewTokenService(cfg.Auth.Secret, cfg.Auth.TokenTTL)
			handler := api.New(a.store, a.relations, a.linked, a.configs, tokens, api.Options{
				Logger:         logger,
				Limiter:        limiter,
				RequestTimeout: cfg.Server.WriteTimeout,
				Events:         a.events,
			}).Router()

			srv, err := server.New(cfg.Server, handler)
			if err != nil {
				return err
			}
			srv.OnShutdown(a.events.Close)
			gs := server.NewGracefulShutdown(srv, shutdownTimeout, logger)
			gs.RegisterHook(func(context.Context) error {
				a.queue.Shutdown()
				return nil
			})
			if cfg.Profiling.Enabled {
				if err := startProfiling(cfg.Profiling, gs, logger); err != nil {
					return err
				}
			}
			logger.Info("starting collections server",
				zap.String("version", Version),
				zap.String("database", string(cfg.Database.Type)),
				zap.Bool("redis", cfg.Redis.Enabled()),
				zap.Bool("rate_limit", limiter != nil))
			return gs.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&autoMigrate, "migrate", true, "apply pending migrations before serving")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed for draining on shutdown")
	return cmd
}

// startProfiling serves pprof on its own listener and stops it with the
// main server. Profiles stream for longer than any API write timeout.
func startProfiling(cfg profiling.Config, gs *server.GracefulShutdown, logger *zap.Logger) error {
	sc := server.DefaultConfig()
	sc.Address = cfg.Address
	sc.WriteTimeout = 0
	srv, err := server.New(sc, profiling.Handler(cfg))
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return fmt.Errorf("failed to start profiling server: %w", err)
	}
	go func() {
		if err := srv.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("profiling server stopped", zap.Error(err))
		}
	}()
	gs.RegisterHook(srv.Shutdown)
	logger.Warn("profiling enabled", zap.String("address", srv.Addr()))
	return nil
}
