package workerpresentation

import (
	"context"

	domoutbox "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability/logctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// WithEventContext injects a request-scoped logger for background/worker executions.
// Dynamic fields only: trace_id/span_id taken from the span on ctx, event_id (generated
// if empty), plus caller-provided low-cardinality attributes such as "worker" or "event".
func WithEventContext(ctx context.Context, base observability.Logger, attrs map[string]string) context.Context {
	if base == nil {
		base = observability.NopLogger()
	}

	evtID := attrs["event_id"]
	if evtID == "" {
		evtID = uuid.NewString()
	}
	fields := make([]observability.Field, 0, len(attrs)+3)
	fields = append(fields, observability.F("event_id", evtID))

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			observability.F("trace_id", sc.TraceID().String()),
			observability.F("span_id", sc.SpanID().String()),
		)
	}
	for k, v := range attrs {
		if k == "event_id" || v == "" {
			continue
		}
		fields = append(fields, observability.F(k, v))
	}
	return logctx.With(ctx, base.With(fields...))
}

// Subscriber decorates an event bus so every handler runs with an event-scoped logger.
type Subscriber struct {
	next   domoutbox.Subscriber
	base   observability.Logger
	worker string
}

func NewSubscriber(next domoutbox.Subscriber, base observability.Logger, worker string) *Subscriber {
	return &Subscriber{next: next, base: base, worker: worker}
}

func (s *Subscriber) Subscribe(eventName string, h domoutbox.Handler) {
	s.next.Subscribe(eventName, func(ctx context.Context, e domoutbox.Event) error {
		ctx = WithEventContext(ctx, s.base, map[string]string{
			"worker":   s.worker,
			"event":    e.EventName(),
			"order_id": e.OrderKey(),
		})
		return h(ctx, e)
	})
}
