// Package profiling serves pprof and runtime statistics on an internal
// listener. The endpoints expose goroutine stacks and heap contents, so the
// address must never be public.
package profiling

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"runtime"

	"github.com/go-chi/chi/v5"
)

// Config holds profiling configuration
type Config struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	// BlockRate is passed to runtime.SetBlockProfileRate; 0 leaves it off
	BlockRate int `mapstructure:"block_rate"`
	// MutexFraction is passed to runtime.SetMutexProfileFraction; 0 leaves it off
	MutexFraction int `mapstructure:"mutex_fraction"`
}

// DefaultConfig returns a disabled config bound to localhost.
func DefaultConfig() Config {
	return Config{Address: "127.0.0.1:6060"}
}

// Handler returns the profiling routes under /debug/pprof plus
// /debug/stats.
func Handler(cfg Config) http.Handler {
	if cfg.BlockRate > 0 {
		runtime.SetBlockProfileRate(cfg.BlockRate)
	}
	if cfg.MutexFraction > 0 {
		runtime.SetMutexProfileFraction(cfg.MutexFraction)
	}

	r := chi.NewRouter()
	r.Route("/debug/pprof", func(r chi.Router) {
		r.HandleFunc("/", pprof.Index)
		r.HandleFunc("/cmdline", pprof.Cmdline)
		r.HandleFunc("/profile", pprof.Profile)
		r.HandleFunc("/symbol", pprof.Symbol)
		r.HandleFunc("/trace", pprof.Trace)
		for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
			r.Handle("/"+name, pprof.Handler(name))
		}
	})
	r.Get("/debug/stats", StatsHandler())
	return r
}

// Stats is a snapshot of the runtime.
type Stats struct {
	Goroutines int    `json:"goroutines"`
	NumCPU     int    `json:"num_cpu"`
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

// RuntimeStats reads the current runtime statistics.
func RuntimeStats() Stats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return Stats{
		Goroutines: runtime.NumGoroutine(),
		NumCPU:     runtime.NumCPU(),
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}

// StatsHandler serves RuntimeStats as JSON.
func StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(RuntimeStats())
	}
}
