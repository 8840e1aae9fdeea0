package server

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Validation(t *testing.T) {
	_, err := New(DefaultConfig(), nil)
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.CertFile = "cert.pem"
	_, err = New(cfg, http.NotFoundHandler())
	assert.Error(t, err)
}

func TestGracefulShutdown_RunsHooks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	s, err := New(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "pong")
	}))
	require.NoError(t, err)

	require.NoError(t, s.Listen())
	addr := s.Addr()

	gs := NewGracefulShutdown(s, time.Second, nil)
	var order []string
	gs.RegisterHook(func(context.Context) error { order = append(order, "first"); return nil })
	gs.RegisterHook(func(context.Context) error { order = append(order, "second"); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gs.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return string(body) == "pong"
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.Equal(t, []string{"first", "second"}, order)
}

func TestOnShutdown_ReleasesLongRequests(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	cfg := DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	s, err := New(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
	}))
	require.NoError(t, err)
	s.OnShutdown(func() { close(release) })
	require.NoError(t, s.Listen())
	go s.Serve()

	go func() {
		resp, err := http.Get("http://" + s.Addr())
		if err == nil {
			resp.Body.Close()
		}
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, s.Shutdown(ctx))
}
