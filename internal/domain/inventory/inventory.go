package inventory

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrNotFound               = errors.New("inventory: not found")
	ErrInvalidQuantity        = errors.New("inventory: quantity must be greater than zero")
	ErrInsufficientStock      = errors.New("inventory: insufficient stock")
	ErrConcurrentModification = errors.New("inventory: concurrent modification")
	ErrReservationCommitted   = errors.New("inventory: reservation already committed")
	ErrReservationReleased    = errors.New("inventory: reservation already released")
)

// InsufficientStockError reports how much of a medicine could actually be served.
type InsufficientStockError struct {
	PharmacyID string
	MedicineID string
	Requested  int
	Available  int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for medicine %s at pharmacy %s: requested %d, available %d",
		e.MedicineID, e.PharmacyID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// Batch is one physical lot of a medicine held by a pharmacy.
type Batch struct {
	PharmacyID string
	MedicineID string
	BatchNum   string
	ExpiryDate time.Time
	Quantity   int
	DeletedAt  *time.Time
}

// Sellable reports whether the batch can serve new reservations at now.
func (b Batch) Sellable(now time.Time) bool {
	return b.DeletedAt == nil && b.Quantity > 0 && b.ExpiryDate.After(now)
}

// Allocation is the part of a reservation drawn from one batch.
type Allocation struct {
	BatchNum string
	Quantity int
}

type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

// Reservation is a decrement of available stock that is not yet final.
type Reservation struct {
	Token       string
	OrderID     string
	PharmacyID  string
	MedicineID  string
	Quantity    int
	Allocations []Allocation
	Status      ReservationStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (r *Reservation) Clone() *Reservation {
	if r == nil {
		return nil
	}
	c := *r
	c.Allocations = append([]Allocation(nil), r.Allocations...)
	return &c
}

// Available sums the sellable quantity across batches.
func Available(batches []Batch, now time.Time) int {
	total := 0
	for _, b := range batches {
		if b.Sellable(now) {
			total += b.Quantity
		}
	}
	return total
}

// Allocate splits qty across sellable batches, nearest expiry first.
// It never mutates batches; callers apply the allocations atomically.
func Allocate(batches []Batch, qty int, now time.Time) ([]Allocation, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	sellable := make([]Batch, 0, len(batches))
	for _, b := range batches {
		if b.Sellable(now) {
			sellable = append(sellable, b)
		}
	}
	sort.SliceStable(sellable, func(i, j int) bool {
		if !sellable[i].ExpiryDate.Equal(sellable[j].ExpiryDate) {
			return sellable[i].ExpiryDate.Before(sellable[j].ExpiryDate)
		}
		return sellable[i].BatchNum < sellable[j].BatchNum
	})

	remaining := qty
	out := make([]Allocation, 0, 1)
	for _, b := range sellable {
		if remaining == 0 {
			break
		}
		take := min(b.Quantity, remaining)
		out = append(out, Allocation{BatchNum: b.BatchNum, Quantity: take})
		remaining -= take
	}
	if remaining > 0 {
		var first Batch
		if len(batches) > 0 {
			first = batches[0]
		}
		return nil, &InsufficientStockError{
			PharmacyID: first.PharmacyID,
			MedicineID: first.MedicineID,
			Requested:  qty,
			Available:  qty - remaining,
		}
	}
	return out, nil
}
