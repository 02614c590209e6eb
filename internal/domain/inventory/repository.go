package inventory

import (
	"context"
	"time"
)

// Store is the persistence port of the stock ledger. Implementations must make
// Reserve, Release and Commit atomic with respect to each other.
type Store interface {
	Available(ctx context.Context, pharmacyID, medicineID string) (int, error)
	// Reserve decrements stock for r.Quantity and fills r.Allocations.
	// It returns an *InsufficientStockError when the pair cannot cover the quantity.
	Reserve(ctx context.Context, r *Reservation) error
	// Release restores a held reservation. Releasing twice is a no-op.
	Release(ctx context.Context, token string) (*Reservation, error)
	// Commit finalizes a held reservation. Committing twice is a no-op.
	Commit(ctx context.Context, token string) (*Reservation, error)
	Get(ctx context.Context, token string) (*Reservation, error)
	HeldBefore(ctx context.Context, before time.Time) ([]*Reservation, error)
}
