package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thomasbaden/observable"
	"github.com/thomasbaden/observable/internal/log"
	"github.com/thomasbaden/observable/metrics"
	"github.com/thomasbaden/observable/tracing"
)

// Stack holds the services a Config turns on.
type Stack struct {
	mu       sync.Mutex
	cfg      Config
	tracing  *tracing.Provider
	metrics  *metrics.Collector
	closeLog func()
}

// Build starts logging, tracing and metrics as configured. Metrics are
// registered on reg, or on prometheus.DefaultRegisterer when reg is nil.
func Build(cfg Config, reg prometheus.Registerer) (*Stack, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	s := &Stack{cfg: cfg, closeLog: func() {}}

	if cfg.Log.Enabled {
		level := log.ParseLevel(cfg.Log.Level)
		if cfg.Log.Path == "" {
			log.InitWithWriter(os.Stderr, level)
		} else {
			cleanup, err := log.Init(cfg.Log.Path)
			if err != nil {
				return nil, fmt.Errorf("initializing log: %w", err)
			}
			log.SetMinLevel(level)
			s.closeLog = cleanup
		}
	}

	provider, err := tracing.NewProvider(cfg.Tracing)
	if err != nil {
		s.closeLog()
		return nil, fmt.Errorf("initializing tracing: %w", err)
	}
	s.tracing = provider

	if cfg.Metrics.Enabled {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		collector := metrics.NewCollector(cfg.Metrics.Namespace)
		if err := collector.Register(reg); err != nil {
			_ = provider.Shutdown(context.Background())
			s.closeLog()
			return nil, err
		}
		s.metrics = collector
	}

	log.Info(log.CatConfig, "Stack ready",
		"tracing", provider.Enabled(),
		"metrics", cfg.Metrics.Enabled,
		"on_failure", cfg.Observable.OnFailure,
		"dedup", cfg.Observable.Dedup)
	return s, nil
}

// Tracing returns the tracing provider. It is never nil.
func (s *Stack) Tracing() *tracing.Provider {
	return s.tracing
}

// Metrics returns the collector, or nil when metrics are disabled.
func (s *Stack) Metrics() *metrics.Collector {
	return s.metrics
}

// SlotOptions returns the options for a slot named name: the configured
// policies plus the stack's tracer and metrics recorder.
func (s *Stack) SlotOptions(name string) []observable.Option {
	s.mu.Lock()
	// Validated in Build and ApplyConfig.
	opts, _ := s.cfg.Observable.Options()
	s.mu.Unlock()

	opts = append(opts,
		observable.WithName(name),
		observable.WithTracer(s.tracing.Tracer()),
	)
	if s.metrics != nil {
		opts = append(opts, observable.WithRecorder(s.metrics))
	}
	return opts
}

// ApplyConfig takes the slot policies and log settings from cfg. Slots
// created afterwards use the new policies; existing slots keep theirs.
// Enabling logging starts a logger if none is running; a running logger
// keeps its destination. Tracing and metrics settings need a new Stack.
// It has the observer shape expected by Reloader.Config, e.g.
// observable.Method(stack, "ApplyConfig").
func (s *Stack) ApplyConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	level := log.ParseLevel(cfg.Log.Level)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cfg.Log.Enabled && !log.Initialized() {
		if cfg.Log.Path == "" {
			log.InitWithWriter(os.Stderr, level)
		} else {
			cleanup, err := log.Init(cfg.Log.Path)
			if err != nil {
				return fmt.Errorf("initializing log: %w", err)
			}
			s.closeLog = cleanup
		}
	}

	s.cfg.Observable = cfg.Observable
	s.cfg.Log.Level = cfg.Log.Level
	s.cfg.Log.Enabled = cfg.Log.Enabled

	log.SetEnabled(cfg.Log.Enabled)
	log.SetMinLevel(level)
	log.Info(log.CatConfig, "Config applied",
		"on_failure", cfg.Observable.OnFailure,
		"dedup", cfg.Observable.Dedup,
		"log_level", cfg.Log.Level)
	return nil
}

// Close flushes spans and closes the log file.
func (s *Stack) Close(ctx context.Context) error {
	var errs []error
	if err := s.tracing.Shutdown(ctx); err != nil {
		log.ErrorErr(log.CatTrace, "Tracing shutdown failed", err)
		errs = append(errs, fmt.Errorf("shutting down tracing: %w", err))
	}
	s.mu.Lock()
	closeLog := s.closeLog
	s.mu.Unlock()
	closeLog()
	return errors.Join(errs...)
}
