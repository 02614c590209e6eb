package order

import (
	"fmt"
	"time"
)

// Readiness is the evidence required to leave the cart state.
type Readiness struct {
	StockReserved    bool
	UserVerified     bool
	PharmacyVerified bool
}

// State implements the order lifecycle; every method either returns the next state
// or ErrInvalidTransition.
type State interface {
	Status() Status
	OnCheckout(o *Order, r Readiness) (State, error)
	OnPaymentAccepted(o *Order) (State, error)
	OnFulfilled(o *Order) (State, error)
	OnCancel(o *Order, reason string) (State, error)
}

var transitions = map[Status][]Status{
	StatusCart:       {StatusPending},
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusCancelled},
}

// CanTransition reports whether from → to is part of the lifecycle.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func stateFor(s Status) State {
	switch s {
	case StatusCart:
		return cartState{}
	case StatusPending:
		return pendingState{}
	case StatusProcessing:
		return processingState{}
	case StatusCompleted:
		return completedState{}
	case StatusCancelled:
		return cancelledState{}
	}
	return unknownState{status: s}
}

// MarkPending moves a cart order to pending once stock is reserved and both parties are verified.
func (o *Order) MarkPending(r Readiness, now time.Time) error {
	return o.apply(now, func(s State) (State, error) { return s.OnCheckout(o, r) })
}

func (o *Order) MarkProcessing(now time.Time) error {
	return o.apply(now, func(s State) (State, error) { return s.OnPaymentAccepted(o) })
}

func (o *Order) MarkCompleted(now time.Time) error {
	return o.apply(now, func(s State) (State, error) { return s.OnFulfilled(o) })
}

func (o *Order) Cancel(reason string, now time.Time) error {
	return o.apply(now, func(s State) (State, error) { return s.OnCancel(o, reason) })
}

func (o *Order) apply(now time.Time, step func(State) (State, error)) error {
	from := o.Status
	next, err := step(stateFor(from))
	if err != nil {
		return err
	}
	if !CanTransition(from, next.Status()) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next.Status())
	}
	o.Status = next.Status()
	o.touch(now)
	return nil
}

func invalid(from Status, event string) error {
	return fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, from)
}

type cartState struct{}

func (cartState) Status() Status { return StatusCart }

func (cartState) OnCheckout(o *Order, r Readiness) (State, error) {
	if len(o.Items) == 0 {
		return nil, ErrEmpty
	}
	if !r.StockReserved || !r.UserVerified || !r.PharmacyVerified {
		return nil, ErrNotReady
	}
	if err := o.VerifyTotals(); err != nil {
		return nil, err
	}
	return pendingState{}, nil
}

func (cartState) OnPaymentAccepted(*Order) (State, error) { return nil, invalid(StatusCart, "payment") }
func (cartState) OnFulfilled(*Order) (State, error)       { return nil, invalid(StatusCart, "fulfil") }
func (cartState) OnCancel(*Order, string) (State, error)  { return nil, invalid(StatusCart, "cancel") }

type pendingState struct{}

func (pendingState) Status() Status { return StatusPending }

func (pendingState) OnCheckout(*Order, Readiness) (State, error) {
	return nil, invalid(StatusPending, "checkout")
}

func (pendingState) OnPaymentAccepted(o *Order) (State, error) {
	o.FailureReason = ""
	return processingState{}, nil
}

func (pendingState) OnFulfilled(*Order) (State, error) { return nil, invalid(StatusPending, "fulfil") }

func (pendingState) OnCancel(o *Order, reason string) (State, error) {
	o.FailureReason = reason
	return cancelledState{}, nil
}

type processingState struct{}

func (processingState) Status() Status { return StatusProcessing }

func (processingState) OnCheckout(*Order, Readiness) (State, error) {
	return nil, invalid(StatusProcessing, "checkout")
}

func (processingState) OnPaymentAccepted(*Order) (State, error) {
	return nil, invalid(StatusProcessing, "payment")
}

func (processingState) OnFulfilled(*Order) (State, error) { return completedState{}, nil }

func (processingState) OnCancel(o *Order, reason string) (State, error) {
	o.FailureReason = reason
	return cancelledState{}, nil
}

type completedState struct{}

func (completedState) Status() Status { return StatusCompleted }

func (completedState) OnCheckout(*Order, Readiness) (State, error) {
	return nil, invalid(StatusCompleted, "checkout")
}
func (completedState) OnPaymentAccepted(*Order) (State, error) {
	return nil, invalid(StatusCompleted, "payment")
}
func (completedState) OnFulfilled(*Order) (State, error) {
	return nil, invalid(StatusCompleted, "fulfil")
}
func (completedState) OnCancel(*Order, string) (State, error) {
	return nil, invalid(StatusCompleted, "cancel")
}

type cancelledState struct{}

func (cancelledState) Status() Status { return StatusCancelled }

func (cancelledState) OnCheckout(*Order, Readiness) (State, error) {
	return nil, invalid(StatusCancelled, "checkout")
}
func (cancelledState) OnPaymentAccepted(*Order) (State, error) {
	return nil, invalid(StatusCancelled, "payment")
}
func (cancelledState) OnFulfilled(*Order) (State, error) {
	return nil, invalid(StatusCancelled, "fulfil")
}
func (cancelledState) OnCancel(*Order, string) (State, error) {
	return nil, invalid(StatusCancelled, "cancel")
}

type unknownState struct{ status Status }

func (u unknownState) Status() Status { return u.status }
func (u unknownState) OnCheckout(*Order, Readiness) (State, error) {
	return nil, invalid(u.status, "checkout")
}
func (u unknownState) OnPaymentAccepted(*Order) (State, error) {
	return nil, invalid(u.status, "payment")
}
func (u unknownState) OnFulfilled(*Order) (State, error) { return nil, invalid(u.status, "fulfil") }
func (u unknownState) OnCancel(*Order, string) (State, error) {
	return nil, invalid(u.status, "cancel")
}
