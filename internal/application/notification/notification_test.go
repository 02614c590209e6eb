package notification

import (
	"context"
	"errors"
	"testing"
	"time"

	domorder "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
)

type captured struct {
	msgs []Message
	err  error
}

func (c *captured) Notify(_ context.Context, m Message) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, m)
	return nil
}

type subscriptions map[string]domoutbox.Handler

func (s subscriptions) Subscribe(name string, h domoutbox.Handler) { s[name] = h }

type stray struct{}

func (stray) EventName() string { return "order.placed" }
func (stray) OrderKey() string  { return "ord-x" }

func TestWorkerSubscribesToOrderLifecycle(t *testing.T) {
	subs := subscriptions{}
	n := &captured{}
	NewWorker(subs, n, observability.Nop()).Start()

	for _, name := range []string{"order.placed", "order.cancelled", "order.completed"} {
		if subs[name] == nil {
			t.Fatalf("no handler for %s", name)
		}
	}

	o := &domorder.Order{ID: "o1", Number: "ORD-1", UserID: "u1", PharmacyID: "p1", TotalAmount: 1300, TotalItems: 3, Currency: "USD", PaymentMethod: domorder.PaymentCash}
	if err := subs["order.placed"](context.Background(), domorder.NewPlacedEvent(o)); err != nil {
		t.Fatalf("handle placed: %v", err)
	}
	o.FailureReason = "payment_declined"
	if err := subs["order.cancelled"](context.Background(), domorder.NewCancelledEvent(o)); err != nil {
		t.Fatalf("handle cancelled: %v", err)
	}

	if len(n.msgs) != 2 {
		t.Fatalf("messages = %d", len(n.msgs))
	}
	if m := n.msgs[0]; m.Kind != KindOrderPlaced || m.TotalAmount != 1300 || m.OrderNumber != "ORD-1" {
		t.Fatalf("placed message %+v", m)
	}
	if m := n.msgs[1]; m.Kind != KindOrderCancelled || m.Reason != "payment_declined" {
		t.Fatalf("cancelled message %+v", m)
	}
}

func TestWorkerErrors(t *testing.T) {
	boom := errors.New("broker down")
	w := NewWorker(nil, &captured{err: boom}, observability.Nop())

	evt := domorder.CompletedEvent{OrderID: "o1", OccurredAt: time.Now()}
	if err := w.Handle(context.Background(), evt); !errors.Is(err, boom) {
		t.Fatalf("want notifier error, got %v", err)
	}
	if err := w.Handle(context.Background(), stray{}); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("want unknown event, got %v", err)
	}
}
