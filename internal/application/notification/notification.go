package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	domorder "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/outbox"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability/instrument"

	"go.opentelemetry.io/otel/attribute"
)

const (
	workerService = "notification-worker"
	notifierPeer  = "notifier"
)

type Kind string

const (
	KindOrderPlaced    Kind = "order_placed"
	KindOrderCancelled Kind = "order_cancelled"
	KindOrderCompleted Kind = "order_completed"
)

// Message is what customers and pharmacies get told about an order.
type Message struct {
	Kind          Kind      `json:"kind"`
	OrderID       string    `json:"order_id"`
	OrderNumber   string    `json:"order_number"`
	UserID        string    `json:"user_id"`
	PharmacyID    string    `json:"pharmacy_id"`
	PaymentMethod string    `json:"payment_method,omitempty"`
	TotalItems    int       `json:"total_items,omitempty"`
	TotalAmount   int64     `json:"total_amount,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

var ErrUnknownEvent = errors.New("notification: unknown event")

// FromEvent maps an order event to a notification.
func FromEvent(e domoutbox.Event) (Message, error) {
	switch evt := e.(type) {
	case domorder.PlacedEvent:
		return Message{
			Kind:          KindOrderPlaced,
			OrderID:       evt.OrderID,
			OrderNumber:   evt.Number,
			UserID:        evt.UserID,
			PharmacyID:    evt.PharmacyID,
			PaymentMethod: string(evt.PaymentMethod),
			TotalItems:    evt.TotalItems,
			TotalAmount:   evt.TotalAmount,
			Currency:      evt.Currency,
			OccurredAt:    evt.OccurredAt,
		}, nil
	case domorder.CancelledEvent:
		return Message{
			Kind:        KindOrderCancelled,
			OrderID:     evt.OrderID,
			OrderNumber: evt.Number,
			UserID:      evt.UserID,
			PharmacyID:  evt.PharmacyID,
			Reason:      evt.Reason,
			OccurredAt:  evt.OccurredAt,
		}, nil
	case domorder.CompletedEvent:
		return Message{
			Kind:        KindOrderCompleted,
			OrderID:     evt.OrderID,
			OrderNumber: evt.Number,
			UserID:      evt.UserID,
			PharmacyID:  evt.PharmacyID,
			OccurredAt:  evt.OccurredAt,
		}, nil
	default:
		return Message{}, fmt.Errorf("%w: %T", ErrUnknownEvent, e)
	}
}

// Worker forwards order lifecycle events to a Notifier.
type Worker struct {
	subscriber domoutbox.Subscriber
	notifier   Notifier
	obs        *instrument.Instruments
}

func NewWorker(subscriber domoutbox.Subscriber, notifier Notifier, tel observability.Observability) *Worker {
	return &Worker{
		subscriber: subscriber,
		notifier:   notifier,
		obs:        instrument.New(tel, workerService),
	}
}

func (w *Worker) Start() {
	if w.subscriber == nil || w.notifier == nil {
		return
	}
	domoutbox.SubscribeAll(w.subscriber, w.Handle, domorder.LifecycleEvents...)
}

// Handle sends the notification for one event.
func (w *Worker) Handle(ctx context.Context, e domoutbox.Event) (err error) {
	ctx, run := w.obs.Start(ctx, "notification.send", "Notify", attribute.String("event", e.EventName()))
	defer func() { run.End(err) }()

	msg, err := FromEvent(e)
	if err != nil {
		run.Fail("EVENT_UNSUPPORTED")
		return err
	}
	run.Annotate(observability.F("order_id", msg.OrderID), observability.F("kind", string(msg.Kind)))

	started := time.Now()
	if err := w.notifier.Notify(ctx, msg); err != nil {
		w.obs.External(notifierPeer, string(msg.Kind), "error", started)
		run.Fail("NOTIFY_FAILED")
		return fmt.Errorf("notification: %s for order %s: %w", msg.Kind, msg.OrderID, err)
	}
	w.obs.External(notifierPeer, string(msg.Kind), "success", started)
	return nil
}
