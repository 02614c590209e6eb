package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/cart"
	"github.com/redis/go-redis/v9"
)

const (
	cartPrefix     = "cart:"
	cartItemPrefix = "cart-item:"
)

// CartRepository stores each cart as one JSON document plus an item-id index. Writes run
// under WATCH so a concurrent writer turns into domain.ErrConflict.
type CartRepository struct {
	rdb       redis.UniversalClient
	retention time.Duration
}

// NewCartRepository drops carts idle for longer than retention; zero keeps them forever.
// Retention must exceed the checkout idle window or expired carts vanish before checkout
// can reject them as expired.
func NewCartRepository(rdb redis.UniversalClient, retention time.Duration) *CartRepository {
	return &CartRepository{rdb: rdb, retention: retention}
}

func cartKey(userID, pharmacyID string) string { return cartPrefix + userID + ":" + pharmacyID }

func itemKey(itemID string) string { return cartItemPrefix + itemID }

func (r *CartRepository) Get(ctx context.Context, userID, pharmacyID string) (*domain.Cart, error) {
	return r.load(ctx, r.rdb, cartKey(userID, pharmacyID))
}

func (r *CartRepository) FindByItem(ctx context.Context, itemID string) (*domain.Cart, error) {
	key, err := r.rdb.Get(ctx, itemKey(itemID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: item index: %w", err)
	}
	c, err := r.load(ctx, r.rdb, key)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrItemNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, ok := c.Item(itemID); !ok {
		return nil, domain.ErrItemNotFound
	}
	return c, nil
}

func (r *CartRepository) Save(ctx context.Context, c *domain.Cart) error {
	key := cartKey(c.UserID, c.PharmacyID)

	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := r.load(ctx, tx, key)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			if c.Version != 0 {
				return domain.ErrConflict
			}
			stored = nil
		case err != nil:
			return err
		case stored.Version != c.Version:
			return domain.ErrConflict
		}

		next := c.Clone()
		next.Version++
		body, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("redis: encode cart: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if stored != nil {
				for _, it := range stored.Items {
					p.Del(ctx, itemKey(it.ID))
				}
			}
			p.Set(ctx, key, body, r.retention)
			for _, it := range next.Items {
				p.Set(ctx, itemKey(it.ID), key, r.retention)
			}
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		c.Version++
		return nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, domain.ErrConflict):
		return domain.ErrConflict
	default:
		return fmt.Errorf("redis: save cart: %w", err)
	}
}

func (r *CartRepository) Delete(ctx context.Context, c *domain.Cart) error {
	key := cartKey(c.UserID, c.PharmacyID)

	err := r.rdb.Watch(ctx, func(tx *redis.Tx) error {
		stored, err := r.load(ctx, tx, key)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if stored.ID != c.ID {
			return domain.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for _, it := range stored.Items {
				p.Del(ctx, itemKey(it.ID))
			}
			p.Del(ctx, key)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.TxFailedErr), errors.Is(err, domain.ErrConflict):
		return domain.ErrConflict
	default:
		return fmt.Errorf("redis: delete cart: %w", err)
	}
}

func (r *CartRepository) load(ctx context.Context, cmd redis.Cmdable, key string) (*domain.Cart, error) {
	body, err := cmd.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: load cart: %w", err)
	}
	var c domain.Cart
	if err := json.Unmarshal(body, &c); err != nil {
		return nil, fmt.Errorf("redis: decode cart %s: %w", key, err)
	}
	return &c, nil
}
