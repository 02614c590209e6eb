package memory

import (
	"context"
	"fmt"
	"sync"

	domain "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/payment"
)

type PaymentRepository struct {
	mu       sync.RWMutex
	payments map[string]*domain.Payment
	byOrder  map[string][]string
}

func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		payments: make(map[string]*domain.Payment),
		byOrder:  make(map[string][]string),
	}
}

func (r *PaymentRepository) Insert(ctx context.Context, p *domain.Payment) error {
	_ = ctx
	if p == nil || p.ID == "" {
		return fmt.Errorf("payment repository: id is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.payments[p.ID]; exists {
		return domain.ErrConflict
	}
	if p.TransactionID != "" && r.findByTransaction(p.TransactionID) != nil {
		return domain.ErrConflict
	}
	r.payments[p.ID] = p.Clone()
	r.byOrder[p.OrderID] = append(r.byOrder[p.OrderID], p.ID)
	return nil
}

func (r *PaymentRepository) Update(ctx context.Context, p *domain.Payment, from domain.Status) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.payments[p.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if stored.Status != from {
		return domain.ErrConflict
	}
	if p.TransactionID != "" {
		if other := r.findByTransaction(p.TransactionID); other != nil && other.ID != p.ID {
			return domain.ErrConflict
		}
	}
	r.payments[p.ID] = p.Clone()
	return nil
}

func (r *PaymentRepository) FindByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	_ = ctx
	if transactionID == "" {
		return nil, domain.ErrNotFound
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if p := r.findByTransaction(transactionID); p != nil {
		return p.Clone(), nil
	}
	return nil, domain.ErrNotFound
}

func (r *PaymentRepository) LatestForOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byOrder[orderID]
	if len(ids) == 0 {
		return nil, domain.ErrNotFound
	}
	return r.payments[ids[len(ids)-1]].Clone(), nil
}

func (r *PaymentRepository) findByTransaction(transactionID string) *domain.Payment {
	for _, p := range r.payments {
		if p.TransactionID == transactionID {
			return p
		}
	}
	return nil
}
