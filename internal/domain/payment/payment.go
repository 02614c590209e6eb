package payment

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("payment: not found")
	ErrConflict          = errors.New("payment: conflict")
	ErrInvalidTransition = errors.New("payment: invalid status transition")
	ErrUnsupportedMethod = errors.New("payment: unsupported method")
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

type Method string

const (
	MethodCash   Method = "cash"
	MethodPayPal Method = "paypal"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusCompleted, StatusFailed},
	StatusCompleted: {StatusRefunded},
}

type Payment struct {
	ID            string
	OrderID       string
	Method        Method
	Amount        int64
	Currency      string
	Status        Status
	TransactionID string
	PayerID       string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func New(id, orderID string, method Method, amount int64, currency string, now time.Time) (*Payment, error) {
	if method != MethodCash && method != MethodPayPal {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}
	return &Payment{
		ID:        id,
		OrderID:   orderID,
		Method:    method,
		Amount:    amount,
		Currency:  currency,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Transition moves the payment to status. Repeating the current status is a no-op and
// reports changed == false so callers can acknowledge replays without re-applying effects.
func (p *Payment) Transition(to Status, reason string, now time.Time) (changed bool, err error) {
	if p.Status == to {
		return false, nil
	}
	for _, s := range transitions[p.Status] {
		if s == to {
			p.Status = to
			p.FailureReason = reason
			p.UpdatedAt = now
			return true, nil
		}
	}
	return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, p.Status, to)
}

func (p *Payment) Clone() *Payment {
	if p == nil {
		return nil
	}
	c := *p
	return &c
}
