package order

import "time"

const (
	EventPlaced    = "order.placed"
	EventCancelled = "order.cancelled"
	EventCompleted = "order.completed"
)

// LifecycleEvents lists every event name an order publishes.
var LifecycleEvents = []string{EventPlaced, EventCancelled, EventCompleted}

// PlacedEvent is emitted once an order has been paid and moved to processing.
type PlacedEvent struct {
	OrderID       string
	Number        string
	UserID        string
	PharmacyID    string
	PaymentMethod PaymentMethod
	TotalItems    int
	TotalAmount   int64
	Currency      string
	OccurredAt    time.Time
}

func (PlacedEvent) EventName() string  { return EventPlaced }
func (e PlacedEvent) OrderKey() string { return e.OrderID }

func NewPlacedEvent(o *Order) PlacedEvent {
	return PlacedEvent{
		OrderID:       o.ID,
		Number:        o.Number,
		UserID:        o.UserID,
		PharmacyID:    o.PharmacyID,
		PaymentMethod: o.PaymentMethod,
		TotalItems:    o.TotalItems,
		TotalAmount:   o.TotalAmount,
		Currency:      o.Currency,
		OccurredAt:    time.Now().UTC(),
	}
}

// CancelledEvent is emitted when a pending or processing order is cancelled.
type CancelledEvent struct {
	OrderID    string
	Number     string
	UserID     string
	PharmacyID string
	Reason     string
	OccurredAt time.Time
}

func (CancelledEvent) EventName() string  { return EventCancelled }
func (e CancelledEvent) OrderKey() string { return e.OrderID }

func NewCancelledEvent(o *Order) CancelledEvent {
	return CancelledEvent{
		OrderID:    o.ID,
		Number:     o.Number,
		UserID:     o.UserID,
		PharmacyID: o.PharmacyID,
		Reason:     o.FailureReason,
		OccurredAt: time.Now().UTC(),
	}
}

// CompletedEvent is emitted when the pharmacy has fulfilled the order.
type CompletedEvent struct {
	OrderID    string
	Number     string
	UserID     string
	PharmacyID string
	OccurredAt time.Time
}

func (CompletedEvent) EventName() string  { return EventCompleted }
func (e CompletedEvent) OrderKey() string { return e.OrderID }

func NewCompletedEvent(o *Order) CompletedEvent {
	return CompletedEvent{
		OrderID:    o.ID,
		Number:     o.Number,
		UserID:     o.UserID,
		PharmacyID: o.PharmacyID,
		OccurredAt: time.Now().UTC(),
	}
}
