package ui

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// syncBuffer guards a buffer shared with the spinner goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestSpinner(t *testing.T) {
	var out syncBuffer
	s := NewSpinner(&out, "migrating", true)
	s.interval = time.Millisecond
	s.Start()
	s.Start()
	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "migrating")
	}, time.Second, time.Millisecond)
	s.Stop()
	s.Stop()
	assert.Contains(t, out.String(), "\r\033[K")
}

func TestWithSpinner_ReturnsError(t *testing.T) {
	var out syncBuffer
	boom := errors.New("boom")
	assert.ErrorIs(t, WithSpinner(&out, "working", true, func() error { return boom }), boom)
	assert.NoError(t, WithSpinner(&out, "working", true, func() error { return nil }))
}
