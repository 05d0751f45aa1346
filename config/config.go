// Package config provides configuration types, defaults, and persistence for
// observable slots and the services around them.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/thomasbaden/observable"
	"github.com/thomasbaden/observable/internal/log"
	"github.com/thomasbaden/observable/metrics"
	"github.com/thomasbaden/observable/tracing"
)

// Config holds all configuration options.
type Config struct {
	Observable ObservableConfig `mapstructure:"observable" yaml:"observable"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Tracing    tracing.Config   `mapstructure:"tracing" yaml:"tracing"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
}

// ObservableConfig holds the default policies applied to slots built through a Stack.
type ObservableConfig struct {
	AlwaysNotify    bool   `mapstructure:"always_notify" yaml:"always_notify"`
	IncludePrevious bool   `mapstructure:"include_previous" yaml:"include_previous"`
	OnFailure       string `mapstructure:"on_failure" yaml:"on_failure"` // "abort" (default) or "continue"
	Dedup           string `mapstructure:"dedup" yaml:"dedup"`           // "target-selector" (default) or "target"
}

// LogConfig holds debug logging options.
type LogConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`   // empty logs to stderr
	Level   string `mapstructure:"level" yaml:"level"` // debug, info (default), warn, error
}

// MetricsConfig holds Prometheus options.
type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	return Config{
		Observable: ObservableConfig{
			AlwaysNotify:    false,
			IncludePrevious: false,
			OnFailure:       string(observable.FailAbort),
			Dedup:           string(observable.DedupTargetSelector),
		},
		Log: LogConfig{
			Enabled: false,
			Level:   "info",
		},
		Tracing: tracing.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: metrics.DefaultNamespace,
		},
	}
}

// Validate checks every section and returns the first problem found.
func (c Config) Validate() error {
	if _, err := c.Observable.Options(); err != nil {
		return err
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be \"debug\", \"info\", \"warn\", or \"error\", got %q", c.Log.Level)
	}
	return c.Tracing.Validate()
}

// Options converts the policies into slot options.
func (o ObservableConfig) Options() ([]observable.Option, error) {
	onFailure, err := observable.ParseFailurePolicy(o.OnFailure)
	if err != nil {
		return nil, fmt.Errorf("observable.on_failure: %w", err)
	}
	dedup, err := observable.ParseDedupPolicy(o.Dedup)
	if err != nil {
		return nil, fmt.Errorf("observable.dedup: %w", err)
	}

	opts := []observable.Option{
		observable.WithFailurePolicy(onFailure),
		observable.WithDedupPolicy(dedup),
	}
	if o.AlwaysNotify {
		opts = append(opts, observable.WithAlwaysNotify())
	}
	if o.IncludePrevious {
		opts = append(opts, observable.WithIncludePrevious())
	}
	return opts, nil
}

// DefaultConfigTemplate returns the default config file content with comments.
func DefaultConfigTemplate() string {
	return `# observable configuration

observable:
  # Notify observers on every set, even when the value did not change.
  always_notify: false

  # Pass the previous value to observers as a second argument.
  include_previous: false

  # What a notification pass does when an observer returns an error.
  # abort: return the first error and skip the remaining observers
  # continue: run every observer and return all errors joined
  on_failure: abort

  # Which registrations count as the same observer.
  # target-selector: same owner and same member name
  # target: same owner; registering again replaces the member name
  dedup: target-selector

log:
  enabled: false
  # Empty path logs to stderr.
  path: ""
  level: info

tracing:
  enabled: false
  # none, file, stdout, otlp
  exporter: file
  file_path: ""
  otlp_endpoint: localhost:4317
  sample_rate: 1.0
  service_name: observable

metrics:
  enabled: false
  namespace: observable
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
