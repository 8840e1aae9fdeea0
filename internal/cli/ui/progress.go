package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Spinner animates a message on one terminal line while work runs.
type Spinner struct {
	w        io.Writer
	message  string
	interval time.Duration
	noColor  bool

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewSpinner creates a stopped spinner.
func NewSpinner(w io.Writer, message string, noColor bool) *Spinner {
	return &Spinner{w: w, message: message, interval: 100 * time.Millisecond, noColor: noColor}
}

// Start begins the animation. Starting twice is a no-op.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.animate(s.stop, s.done)
}

// Stop ends the animation and clears the line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
	fmt.Fprint(s.w, "\r\033[K")
}

func (s *Spinner) animate(stop, done chan struct{}) {
	defer close(done)
	c := color.New(color.FgCyan)
	if s.noColor {
		c.DisableColor()
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for i := 0; ; i++ {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.Fprintf(s.w, "\r%s %s", spinnerFrames[i%len(spinnerFrames)], s.message)
		}
	}
}

// WithSpinner runs fn behind a spinner.
func WithSpinner(w io.Writer, message string, noColor bool, fn func() error) error {
	s := NewSpinner(w, message, noColor)
	s.Start()
	defer s.Stop()
	return fn()
}
