package observable

import (
	"fmt"

	"go.opentelemetry.io/otel/trace"
)

// FailurePolicy decides what a notification pass does when an observer fails.
type FailurePolicy string

const (
	// FailAbort returns the first observer error and skips the rest.
	FailAbort FailurePolicy = "abort"
	// FailContinue runs every observer and joins their errors.
	FailContinue FailurePolicy = "continue"
)

// ParseFailurePolicy maps a config string to a FailurePolicy.
// The empty string selects FailAbort.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case "", FailAbort:
		return FailAbort, nil
	case FailContinue:
		return FailContinue, nil
	default:
		return "", fmt.Errorf("unknown failure policy %q", s)
	}
}

// DedupPolicy decides which registrations count as the same observer.
type DedupPolicy string

const (
	// DedupTargetSelector collapses registrations with the same owner and selector.
	DedupTargetSelector DedupPolicy = "target-selector"
	// DedupTarget keeps one entry per owner; registering it again with a
	// different selector replaces the selector in place.
	DedupTarget DedupPolicy = "target"
)

// ParseDedupPolicy maps a config string to a DedupPolicy.
// The empty string selects DedupTargetSelector.
func ParseDedupPolicy(s string) (DedupPolicy, error) {
	switch DedupPolicy(s) {
	case "", DedupTargetSelector:
		return DedupTargetSelector, nil
	case DedupTarget:
		return DedupTarget, nil
	default:
		return "", fmt.Errorf("unknown dedup policy %q", s)
	}
}

// Recorder receives slot activity for metrics collection.
// metrics.Collector is the Prometheus implementation.
type Recorder interface {
	// RecordSet is called once per Set with whether the value changed.
	RecordSet(slot string, changed bool)
	// RecordNotify is called once per notification pass.
	RecordNotify(slot string, observers int, failures int)
	// RecordRegistrations is called with the delta of live registrations.
	RecordRegistrations(slot string, delta int)
}

type options struct {
	name            string
	alwaysNotify    bool
	includePrevious bool
	onFailure       FailurePolicy
	dedup           DedupPolicy
	tracer          trace.Tracer
	recorder        Recorder
}

func defaultOptions() options {
	return options{
		onFailure: FailAbort,
		dedup:     DedupTargetSelector,
	}
}

// Option configures a Slot at construction time.
type Option func(*options)

// WithName labels the slot in logs, spans and metrics. Defaults to the slot ID.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithAlwaysNotify notifies observers on every Set, even when the value is unchanged.
func WithAlwaysNotify() Option {
	return func(o *options) {
		o.alwaysNotify = true
	}
}

// WithIncludePrevious passes the previous value as a second argument to observers.
func WithIncludePrevious() Option {
	return func(o *options) {
		o.includePrevious = true
	}
}

// WithFailurePolicy sets the observer failure policy. Empty values are ignored.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(o *options) {
		if p != "" {
			o.onFailure = p
		}
	}
}

// WithDedupPolicy sets the registration identity rule. Empty values are ignored.
func WithDedupPolicy(p DedupPolicy) Option {
	return func(o *options) {
		if p != "" {
			o.dedup = p
		}
	}
}

// WithTracer wraps every notification pass in a span.
func WithTracer(t trace.Tracer) Option {
	return func(o *options) {
		o.tracer = t
	}
}

// WithRecorder reports slot activity to r.
func WithRecorder(r Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}
