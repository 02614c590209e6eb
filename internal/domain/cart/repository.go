package cart

import "context"

// Repository stores carts. Save must fail with ErrConflict when c.Version no longer
// matches the stored version; on success it increments c.Version.
type Repository interface {
	Get(ctx context.Context, userID, pharmacyID string) (*Cart, error)
	FindByItem(ctx context.Context, itemID string) (*Cart, error)
	Save(ctx context.Context, c *Cart) error
	Delete(ctx context.Context, c *Cart) error
}
