package id

import (
	"crypto/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// UUIDs generates random v4 identifiers for carts, items, orders and payments.
type UUIDs struct{}

func (UUIDs) NewID() string { return uuid.NewString() }

// OrderNumbers issues human-facing order numbers. ULIDs sort by creation time, so numbers
// issued later compare greater.
type OrderNumbers struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

func NewOrderNumbers() *OrderNumbers {
	return &OrderNumbers{entropy: ulid.Monotonic(rand.Reader, 0)}
}

func (g *OrderNumbers) NewOrderNumber() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return "ORD-" + ulid.MustNew(ulid.Now(), g.entropy).String()
}
