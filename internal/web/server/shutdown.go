package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ShutdownHook runs after the server stopped accepting requests, e.g. to
// drain the async hook queue or close the database.
type ShutdownHook func(ctx context.Context) error

// GracefulShutdown serves until a signal or a context cancellation, then
// shuts the server down and runs the hooks in registration order.
type GracefulShutdown struct {
	server  *Server
	timeout time.Duration
	signals []os.Signal
	logger  *zap.Logger

	mu    sync.Mutex
	hooks []ShutdownHook
}

// NewGracefulShutdown creates a shutdown handler with a 30s default timeout.
func NewGracefulShutdown(server *Server, timeout time.Duration, logger *zap.Logger) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GracefulShutdown{
		server:  server,
		timeout: timeout,
		signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM},
		logger:  logger,
	}
}

// RegisterHook adds a shutdown hook.
func (gs *GracefulShutdown) RegisterHook(h ShutdownHook) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.hooks = append(gs.hooks, h)
}

// Run serves until ctx is done or a signal arrives.
func (gs *GracefulShutdown) Run(ctx context.Context) error {
	if err := gs.server.Listen(); err != nil {
		return err
	}
	errCh := make(chan error, 1)
	go func() {
		gs.logger.Info("server listening", zap.String("addr", gs.server.Addr()))
		if err := gs.server.Serve(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(ctx, gs.signals...)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		gs.logger.Info("shutting down", zap.Duration("timeout", gs.timeout))
	}
	return gs.shutdown()
}

func (gs *GracefulShutdown) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()

	err := gs.server.Shutdown(ctx)
	if err != nil {
		gs.logger.Error("server shutdown failed", zap.Error(err))
	}

	gs.mu.Lock()
	hooks := append([]ShutdownHook(nil), gs.hooks...)
	gs.mu.Unlock()
	for i, h := range hooks {
		if herr := h(ctx); herr != nil {
			gs.logger.Warn("shutdown hook failed", zap.Int("hook", i), zap.Error(herr))
		}
	}
	return err
}
