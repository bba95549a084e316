// Package observability implements the telemetry and tracing component of
// spec.md §2 item 10 and §6: a fixed event catalogue with hierarchical
// names, a start/stop/exception span contract with a shared measurement
// contract, trace_id propagation, structured logging via log/slog (the
// teacher's pkg/observability idiom), OpenTelemetry tracing, and Prometheus
// metrics mirroring the event catalogue.
package observability

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type traceIDKey struct{}

// WithTraceID attaches a caller-supplied correlation id to ctx, per
// spec.md §6 ("trace_id (caller-supplied correlation id)").
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceID returns the trace id in scope, or "" if none was set.
func TraceID(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

// Subscriber receives every event emitted on the Bus. The cluster fan-out
// forwarder does not use it; it reads the alert bus directly.
type Subscriber func(event string, fields map[string]any)

// Bus is the process-wide telemetry sink: a pub/sub event catalogue layered
// over an OpenTelemetry tracer, a structured logger, and (optionally)
// Prometheus counters. One Bus is created at supervisor start and threaded
// through every component by constructor injection — there is no global.
type Bus struct {
	logger  *slog.Logger
	tracer  trace.Tracer
	metrics *Metrics

	mu          sync.RWMutex
	subscribers map[int]Subscriber
	nextSubID   int
}

// NewBus creates a Bus. tracer and metrics may be nil (tracing/metrics
// disabled); logger defaults to slog.Default() if nil.
func NewBus(logger *slog.Logger, tracer trace.Tracer, metrics *Metrics) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger:      logger,
		tracer:      tracer,
		metrics:     metrics,
		subscribers: make(map[int]Subscriber),
	}
}

// Subscribe registers a subscriber and returns an unsubscribe function.
func (b *Bus) Subscribe(sub Subscriber) func() {
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subscribers[id] = sub
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// Event emits a single discrete telemetry event (not a span): logged,
// counted, and fanned out to subscribers.
func (b *Bus) Event(name string, fields map[string]any) {
	attrs := make([]any, 0, len(fields)*2+2)
	attrs = append(attrs, "event", name)
	for k, v := range fields {
		attrs = append(attrs, k, v)
	}
	b.logger.Info("telemetry", attrs...)

	if b.metrics != nil {
		b.metrics.IncEvent(name)
	}

	b.mu.RLock()
	subs := make([]Subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()
	for _, s := range subs {
		s(name, fields)
	}
}

// Span represents one in-flight start/stop/exception triple as described in
// spec.md §6: Start carries system_time, Stop carries duration, Exception
// carries duration plus {kind, reason, stacktrace}.
type Span struct {
	bus       *Bus
	name      string
	start     time.Time
	traceID   string
	otelSpan  trace.Span
	ctx       context.Context
	done      bool
}

// StartSpan begins a named span, emitting the "<name>.start" event and
// opening an OpenTelemetry span if tracing is enabled.
func (b *Bus) StartSpan(ctx context.Context, name string) (context.Context, *Span) {
	traceID := TraceID(ctx)

	var otelSpan trace.Span
	spanCtx := ctx
	if b.tracer != nil {
		spanCtx, otelSpan = b.tracer.Start(ctx, name)
		if traceID != "" {
			otelSpan.SetAttributes(attribute.String("trace_id", traceID))
		}
	}

	s := &Span{
		bus:      b,
		name:     name,
		start:    time.Now(),
		traceID:  traceID,
		otelSpan: otelSpan,
		ctx:      spanCtx,
	}

	b.Event(name+".start", map[string]any{
		"system_time": s.start,
		"trace_id":    traceID,
	})

	return spanCtx, s
}

// Context returns the (possibly span-carrying) context created by StartSpan.
func (s *Span) Context() context.Context { return s.ctx }

// Stop closes the span successfully.
func (s *Span) Stop(extra map[string]any) {
	if s.done {
		return
	}
	s.done = true
	duration := time.Since(s.start)

	if s.otelSpan != nil {
		s.otelSpan.SetStatus(codes.Ok, "")
		s.otelSpan.End()
	}

	fields := map[string]any{"duration": duration, "trace_id": s.traceID}
	for k, v := range extra {
		fields[k] = v
	}
	s.bus.Event(s.name+".stop", fields)
	if s.bus.metrics != nil {
		s.bus.metrics.ObserveDuration(s.name, duration)
	}
}

// Exception closes the span with failure, recording kind/reason/stacktrace.
func (s *Span) Exception(kind string, err error) {
	if s.done {
		return
	}
	s.done = true
	duration := time.Since(s.start)
	reason := ""
	if err != nil {
		reason = err.Error()
	}

	if s.otelSpan != nil {
		s.otelSpan.RecordError(err)
		s.otelSpan.SetStatus(codes.Error, reason)
		s.otelSpan.End()
	}

	s.bus.Event(s.name+".exception", map[string]any{
		"duration":   duration,
		"kind":       kind,
		"reason":     reason,
		"stacktrace": string(debug.Stack()),
		"trace_id":   s.traceID,
	})
	if s.bus.metrics != nil {
		s.bus.metrics.ObserveDuration(s.name, duration)
		s.bus.metrics.IncException(s.name, kind)
	}
}

// Trace runs fn inside a start/stop/exception span, translating a returned
// error into an Exception("error", err) call automatically. Most call sites
// use this instead of calling StartSpan/Stop/Exception directly.
func (b *Bus) Trace(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	spanCtx, span := b.StartSpan(ctx, name)
	err := fn(spanCtx)
	if err != nil {
		span.Exception("error", err)
		return err
	}
	span.Stop(nil)
	return nil
}

// Logger returns a child logger with the given key/value pairs attached,
// matching the teacher's `logger.With(...)` idiom.
func (b *Bus) Logger(args ...any) *slog.Logger {
	return b.logger.With(args...)
}
