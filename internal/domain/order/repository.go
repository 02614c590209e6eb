package order

import (
	"context"
	"time"
)

// Cursor marks the last order of a page; the next page starts strictly after it.
type Cursor struct {
	UpdatedAt time.Time
	ID        string
}

// After reports whether o sorts after c in (updated_at, id) order.
func (c Cursor) After(o *Order) bool {
	if !o.UpdatedAt.Equal(c.UpdatedAt) {
		return o.UpdatedAt.After(c.UpdatedAt)
	}
	return o.ID > c.ID
}

// CursorOf returns the cursor positioned at o.
func CursorOf(o *Order) Cursor { return Cursor{UpdatedAt: o.UpdatedAt, ID: o.ID} }

type Repository interface {
	Insert(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// Update persists o only if the stored status still equals from; otherwise ErrConflict.
	Update(ctx context.Context, o *Order, from Status) error
	FindByIdempotency(ctx context.Context, userID, key string) (*Order, error)
	// ListByStatus pages orders last updated before updatedBefore in (updated_at, id) order,
	// starting after the given cursor. A zero cursor starts from the beginning.
	ListByStatus(ctx context.Context, status Status, updatedBefore time.Time, after Cursor, limit int) ([]*Order, error)
}
