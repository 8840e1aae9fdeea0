// Package server runs the HTTP API with production timeouts and a graceful
// shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// Config holds server configuration.
type Config struct {
	Address string `mapstructure:"address"`

	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	MaxHeaderBytes    int           `mapstructure:"max_header_bytes"`

	// CertFile and KeyFile enable TLS when both are set
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		Address:           ":8080",
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

// Server wraps an http.Server.
type Server struct {
	httpServer *http.Server
	config     Config
	listener   net.Listener
}

// New creates a server for handler.
func New(config Config, handler http.Handler) (*Server, error) {
	if handler == nil {
		return nil, errors.New("handler cannot be nil")
	}
	if (config.CertFile == "") != (config.KeyFile == "") {
		return nil, errors.New("tls needs both cert_file and key_file")
	}
	hs := &http.Server{
		Addr:              config.Address,
		Handler:           handler,
		ReadTimeout:       config.ReadTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		MaxHeaderBytes:    config.MaxHeaderBytes,
	}
	if config.CertFile != "" {
		hs.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12, NextProtos: []string{"h2", "http/1.1"}}
	}
	return &Server{httpServer: hs, config: config}, nil
}

// Listen binds the address. It is separate from Serve so that callers
// learn the bound address, e.g. with ":0". Binding twice is a no-op.
func (s *Server) Listen() error {
	if s.listener != nil {
		return nil
	}
	l, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Address, err)
	}
	s.listener = l
	return nil
}

// Serve serves on the bound listener, binding first if needed. It returns
// http.ErrServerClosed after Shutdown.
func (s *Server) Serve() error {
	if err := s.Listen(); err != nil {
		return err
	}
	if s.config.CertFile != "" {
		return s.httpServer.ServeTLS(s.listener, s.config.CertFile, s.config.KeyFile)
	}
	return s.httpServer.Serve(s.listener)
}

// Shutdown stops accepting connections and waits for active requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// OnShutdown registers f to run when Shutdown starts. Long-lived handlers
// such as event streams use it to end before the drain deadline.
func (s *Server) OnShutdown(f func()) {
	s.httpServer.RegisterOnShutdown(f)
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Address
}
