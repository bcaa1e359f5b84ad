package tracing

import (
	"context"
	"log/slog"
	"math/rand"
)

// Tracer decides which requests are traced. Unsampled requests still get a
// root span so child spans have somewhere to attach; it is simply not
// logged.
type Tracer struct {
	enabled bool
	rate    float64
	logger  *slog.Logger
}

// NewTracer samples a fraction rate of requests, clamped to [0, 1].
func NewTracer(enabled bool, rate float64, logger *slog.Logger) *Tracer {
	if rate < 0 {
		rate = 0
	}
	if rate > 1 {
		rate = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracer{enabled: enabled, rate: rate, logger: logger.With("component", "tracing")}
}

// Start opens the root span of a request.
func (t *Tracer) Start(ctx context.Context, name, traceID string) (context.Context, *Span) {
	ctx, span := StartSpan(ctx, name, traceID)
	if t != nil && t.enabled && (t.rate >= 1 || rand.Float64() < t.rate) {
		span.SetAttr("sampled", true)
	}
	return ctx, span
}

// Finish ends the root span and logs its tree when it was sampled.
func (t *Tracer) Finish(span *Span) {
	span.End()
	if t == nil {
		return
	}
	span.mu.Lock()
	sampled, _ := span.Attrs["sampled"].(bool)
	span.mu.Unlock()
	if sampled {
		span.logRecursive(t.logger, 0)
	}
}
