package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys for slot notification spans.
const (
	AttrSlotID           = "slot.id"
	AttrSlotName         = "slot.name"
	AttrSlotObservers    = "slot.observers"
	AttrSlotChanged      = "slot.changed"
	AttrSlotAlwaysNotify = "slot.always_notify"
	AttrSlotFailures     = "slot.failures"
	AttrObserverSelector = "observer.selector"

	AttrErrorMessage = "error.message"
)

// SpanNotify is the name of the span covering one notification pass.
const SpanNotify = "observable.notify"

// EventObserverFailed is recorded on the notify span for each failing observer.
const EventObserverFailed = "observer.failed"

// NotifyInfo describes a notification pass for StartNotify.
type NotifyInfo struct {
	SlotID       string
	SlotName     string
	Observers    int
	Changed      bool
	AlwaysNotify bool
}

// StartNotify opens the span for one notification pass.
func StartNotify(ctx context.Context, tracer trace.Tracer, info NotifyInfo) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanNotify,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrSlotID, info.SlotID),
			attribute.String(AttrSlotName, info.SlotName),
			attribute.Int(AttrSlotObservers, info.Observers),
			attribute.Bool(AttrSlotChanged, info.Changed),
			attribute.Bool(AttrSlotAlwaysNotify, info.AlwaysNotify),
		),
	)
}

// ObserverFailed records a failing observer on span.
func ObserverFailed(span trace.Span, selector string, err error) {
	span.AddEvent(EventObserverFailed, trace.WithAttributes(
		attribute.String(AttrObserverSelector, selector),
		attribute.String(AttrErrorMessage, err.Error()),
	))
}

// EndNotify sets the span status from the pass result and ends it.
func EndNotify(span trace.Span, failures int, err error) {
	span.SetAttributes(attribute.Int(AttrSlotFailures, failures))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
