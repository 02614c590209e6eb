package workerpresentation

import (
	"context"
	"sync"
	"testing"

	domoutbox "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability/logctx"
)

type captureLogger struct {
	mu     *sync.Mutex
	fields map[string]any
}

func newCaptureLogger() captureLogger {
	return captureLogger{mu: &sync.Mutex{}, fields: map[string]any{}}
}

func (l captureLogger) With(fields ...observability.Field) observability.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, f := range fields {
		l.fields[f.Key] = f.Value
	}
	return l
}

func (captureLogger) Debug(string, ...observability.Field) {}
func (captureLogger) Info(string, ...observability.Field)  {}
func (captureLogger) Warn(string, ...observability.Field)  {}
func (captureLogger) Error(string, ...observability.Field) {}

type directBus struct{ handlers map[string]domoutbox.Handler }

func (b *directBus) Subscribe(name string, h domoutbox.Handler) { b.handlers[name] = h }

type pinged struct{}

func (pinged) EventName() string { return "test.pinged" }
func (pinged) OrderKey() string  { return "ord-1" }

func TestWithEventContextKeepsCallerAttributes(t *testing.T) {
	log := newCaptureLogger()
	ctx := WithEventContext(context.Background(), log, map[string]string{"event_id": "evt-7", "worker": "sweeper", "empty": ""})

	if logctx.From(ctx) == nil {
		t.Fatal("expected a logger on the context")
	}
	if log.fields["event_id"] != "evt-7" || log.fields["worker"] != "sweeper" {
		t.Fatalf("fields = %v", log.fields)
	}
	if _, ok := log.fields["empty"]; ok {
		t.Fatal("empty attributes must be skipped")
	}
	if _, ok := log.fields["trace_id"]; ok {
		t.Fatal("trace_id must be absent without a span")
	}
}

func TestSubscriberInjectsEventLogger(t *testing.T) {
	bus := &directBus{handlers: map[string]domoutbox.Handler{}}
	log := newCaptureLogger()
	sub := NewSubscriber(bus, log, "notification")

	var got observability.Logger
	sub.Subscribe("test.pinged", func(ctx context.Context, _ domoutbox.Event) error {
		got = logctx.From(ctx)
		return nil
	})
	if err := bus.handlers["test.pinged"](context.Background(), pinged{}); err != nil {
		t.Fatalf("handler: %v", err)
	}
	if got == nil {
		t.Fatal("handler ran without an event logger")
	}
	if log.fields["event"] != "test.pinged" || log.fields["worker"] != "notification" || log.fields["order_id"] != "ord-1" || log.fields["event_id"] == "" {
		t.Fatalf("fields = %v", log.fields)
	}
}
