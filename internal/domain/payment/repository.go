package payment

import "context"

type Repository interface {
	Insert(ctx context.Context, p *Payment) error
	// Update persists p only if the stored status still equals from; otherwise ErrConflict.
	Update(ctx context.Context, p *Payment, from Status) error
	FindByTransactionID(ctx context.Context, transactionID string) (*Payment, error)
	LatestForOrder(ctx context.Context, orderID string) (*Payment, error)
}
