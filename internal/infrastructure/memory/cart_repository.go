package memory

import (
	"context"
	"sync"

	domain "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/cart"
)

type CartRepository struct {
	mu     sync.RWMutex
	carts  map[string]*domain.Cart // userID/pharmacyID -> cart
	byItem map[string]string       // itemID -> cart key
}

func NewCartRepository() *CartRepository {
	return &CartRepository{
		carts:  make(map[string]*domain.Cart),
		byItem: make(map[string]string),
	}
}

func cartKey(userID, pharmacyID string) string { return userID + "/" + pharmacyID }

func (r *CartRepository) Get(ctx context.Context, userID, pharmacyID string) (*domain.Cart, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.carts[cartKey(userID, pharmacyID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return c.Clone(), nil
}

func (r *CartRepository) FindByItem(ctx context.Context, itemID string) (*domain.Cart, error) {
	_ = ctx

	r.mu.RLock()
	defer r.mu.RUnlock()

	key, ok := r.byItem[itemID]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	c, ok := r.carts[key]
	if !ok {
		return nil, domain.ErrItemNotFound
	}
	return c.Clone(), nil
}

func (r *CartRepository) Save(ctx context.Context, c *domain.Cart) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	key := cartKey(c.UserID, c.PharmacyID)
	stored, exists := r.carts[key]
	switch {
	case exists && stored.Version != c.Version:
		return domain.ErrConflict
	case !exists && c.Version != 0:
		return domain.ErrConflict
	}

	if exists {
		for _, it := range stored.Items {
			delete(r.byItem, it.ID)
		}
	}
	c.Version++
	r.carts[key] = c.Clone()
	for _, it := range c.Items {
		r.byItem[it.ID] = key
	}
	return nil
}

func (r *CartRepository) Delete(ctx context.Context, c *domain.Cart) error {
	_ = ctx

	r.mu.Lock()
	defer r.mu.Unlock()

	key := cartKey(c.UserID, c.PharmacyID)
	stored, ok := r.carts[key]
	if !ok {
		return nil
	}
	if stored.ID != c.ID {
		return domain.ErrConflict
	}
	for _, it := range stored.Items {
		delete(r.byItem, it.ID)
	}
	delete(r.carts, key)
	return nil
}
