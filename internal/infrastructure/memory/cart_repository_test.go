package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/cart"
)

func TestCartRepositoryOptimisticVersion(t *testing.T) {
	ctx := context.Background()
	repo := NewCartRepository()
	now := time.Now()

	c := domain.New("c1", "u1", "p1", "USD", now)
	_, _ = c.Add(domain.AddInput{ItemID: "i1", MedicineID: "m1", Quantity: 1, CurrentPrice: 100}, domain.DefaultLimits(), now)
	if err := repo.Save(ctx, c); err != nil {
		t.Fatalf("save: %v", err)
	}

	first, _ := repo.Get(ctx, "u1", "p1")
	second, _ := repo.Get(ctx, "u1", "p1")
	first.Clear(now)
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := repo.Save(ctx, second); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale write, got %v", err)
	}

	if _, err := repo.FindByItem(ctx, "i1"); !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected cleared item to be unindexed, got %v", err)
	}
}
