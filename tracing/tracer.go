// Package tracing wires OpenTelemetry into observable slots.
// A Provider built from Config hands out the tracer passed to
// observable.WithTracer; every notification pass then produces one span.
package tracing

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/thomasbaden/observable/internal/log"
)

const (
	// DefaultServiceName identifies slot spans when Config.ServiceName is empty.
	DefaultServiceName = "observable"
	// DefaultOTLPEndpoint is used by the otlp exporter when none is configured.
	DefaultOTLPEndpoint = "localhost:4317"
	// ScopeName is the instrumentation scope of every notification span.
	ScopeName = "github.com/thomasbaden/observable"
)

// Exporter names accepted by Config.Exporter.
const (
	ExporterNone   = "none"
	ExporterFile   = "file"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

var exporters = []string{ExporterNone, ExporterFile, ExporterStdout, ExporterOTLP}

// Config selects where notification spans go. With Enabled false slots get
// a no-op tracer and the other fields are ignored.
type Config struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Exporter string `mapstructure:"exporter" yaml:"exporter"`

	// FilePath receives one JSON span per line with the file exporter.
	FilePath     string `mapstructure:"file_path" yaml:"file_path"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`

	// SampleRate is the fraction of notification passes traced when no
	// parent span decides. Zero means all of them.
	SampleRate  float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	ServiceName string  `mapstructure:"service_name" yaml:"service_name"`
}

// DefaultConfig returns tracing disabled, set up to write to a file once a
// path is given.
func DefaultConfig() Config {
	return Config{
		Exporter:     ExporterFile,
		OTLPEndpoint: DefaultOTLPEndpoint,
		SampleRate:   1.0,
		ServiceName:  DefaultServiceName,
	}
}

// Validate reports the first invalid setting. Paths and endpoints are only
// required when tracing is enabled.
func (c Config) Validate() error {
	if c.SampleRate < 0 || c.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", c.SampleRate)
	}
	if c.Exporter != "" && !slices.Contains(exporters, c.Exporter) {
		return fmt.Errorf("tracing.exporter must be one of %s, got %q", strings.Join(exporters, ", "), c.Exporter)
	}
	if !c.Enabled {
		return nil
	}
	switch {
	case c.Exporter == ExporterFile && c.FilePath == "":
		return fmt.Errorf("tracing.file_path is required when exporter is %q", ExporterFile)
	case c.Exporter == ExporterOTLP && c.OTLPEndpoint == "":
		return fmt.Errorf("tracing.otlp_endpoint is required when exporter is %q", ExporterOTLP)
	}
	return nil
}

func (c Config) serviceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

func (c Config) sampleRate() float64 {
	if c.SampleRate <= 0 {
		return 1
	}
	return c.SampleRate
}

// Provider owns the SDK tracer provider behind the slots' tracer.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewProvider builds the provider for cfg and installs it as the global
// tracer provider. A disabled cfg yields a no-op tracer and touches nothing
// global.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: noop.NewTracerProvider().Tracer(ScopeName)}, nil
	}

	exporter, err := newExporter(cfg)
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{
		// Schemaless so the resource merges with any schema the SDK uses.
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.serviceName()),
			attribute.String("telemetry.scope", ScopeName),
		)),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.sampleRate()))),
	}
	// Without an exporter spans are still recorded so callers can correlate
	// through context.
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	provider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(provider)

	log.Info(log.CatTrace, "Slot tracing enabled",
		"exporter", cfg.Exporter, "service", cfg.serviceName(), "sample_rate", cfg.sampleRate())

	return &Provider{
		provider: provider,
		tracer:   provider.Tracer(ScopeName),
	}, nil
}

// newExporter returns nil for the none exporter.
func newExporter(cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case ExporterNone, "":
		return nil, nil
	case ExporterFile:
		if cfg.FilePath == "" {
			return nil, fmt.Errorf("file_path required for %s exporter", ExporterFile)
		}
		exp, err := NewFileExporter(cfg.FilePath)
		if err != nil {
			return nil, fmt.Errorf("create file exporter: %w", err)
		}
		return exp, nil
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		return exp, nil
	case ExporterOTLP:
		endpoint := cfg.OTLPEndpoint
		if endpoint == "" {
			endpoint = DefaultOTLPEndpoint
		}
		exp, err := otlptracegrpc.New(context.Background(),
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithInsecure(),
		)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("unsupported exporter type: %s", cfg.Exporter)
	}
}

// Tracer returns the tracer to pass to observable.WithTracer. It is usable
// whether or not tracing is enabled.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Enabled reports whether notification spans are recorded.
func (p *Provider) Enabled() bool {
	return p.provider != nil
}

// Shutdown flushes pending notification spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}
