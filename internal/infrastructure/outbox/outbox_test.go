package outbox

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	domoutbox "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/outbox"
	"go.opentelemetry.io/otel/trace"
)

type pinged struct{}

func (pinged) EventName() string { return "test.pinged" }
func (pinged) OrderKey() string  { return "ord-1" }

func TestBusDeliversToEverySubscriber(t *testing.T) {
	b := NewBus(nil)
	var calls atomic.Int32
	for range 3 {
		b.Subscribe("test.pinged", func(context.Context, domoutbox.Event) error {
			calls.Add(1)
			return nil
		})
	}
	b.Subscribe("test.pinged", func(context.Context, domoutbox.Event) error { panic("boom") })
	b.Start(context.Background())

	for range 5 {
		if err := b.Publish(context.Background(), pinged{}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := calls.Load(); got != 15 {
		t.Fatalf("calls = %d, want 15", got)
	}
	if err := b.Publish(context.Background(), pinged{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("publish after stop: %v", err)
	}
}

func TestBusCarriesPublisherTrace(t *testing.T) {
	b := NewBus(nil)
	got := make(chan trace.SpanContext, 1)
	b.Subscribe("test.pinged", func(ctx context.Context, _ domoutbox.Event) error {
		got <- trace.SpanContextFromContext(ctx)
		return nil
	})
	b.Start(context.Background())
	defer b.Stop(context.Background())

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1, 2, 3},
		SpanID:     trace.SpanID{4, 5, 6},
		TraceFlags: trace.FlagsSampled,
	})
	if err := b.Publish(trace.ContextWithSpanContext(context.Background(), sc), pinged{}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case seen := <-got:
		if seen.TraceID() != sc.TraceID() {
			t.Fatalf("trace id = %s, want %s", seen.TraceID(), sc.TraceID())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler not called")
	}
}
