package memory

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/inventory"
	"golang.org/x/sync/errgroup"
)

func seededLedger(t *testing.T, quantities ...int) *LedgerStore {
	t.Helper()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := NewLedgerStore(func() time.Time { return now })
	for i, q := range quantities {
		s.PutBatch(domain.Batch{
			PharmacyID: "p1",
			MedicineID: "m1",
			BatchNum:   fmt.Sprintf("b%d", i),
			ExpiryDate: now.AddDate(0, i+1, 0),
			Quantity:   q,
		})
	}
	return s
}

func reservation(token string, qty int) *domain.Reservation {
	return &domain.Reservation{Token: token, OrderID: "o-" + token, PharmacyID: "p1", MedicineID: "m1", Quantity: qty}
}

func TestLedgerReserveReleaseCommit(t *testing.T) {
	ctx := context.Background()
	s := seededLedger(t, 2, 5)

	r := reservation("t1", 4)
	if err := s.Reserve(ctx, r); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(r.Allocations) != 2 || r.Allocations[0].BatchNum != "b0" || r.Allocations[0].Quantity != 2 {
		t.Fatalf("unexpected allocations %+v", r.Allocations)
	}
	if avail, _ := s.Available(ctx, "p1", "m1"); avail != 3 {
		t.Fatalf("expected 3 available, got %d", avail)
	}

	for i := 0; i < 2; i++ {
		if _, err := s.Release(ctx, "t1"); err != nil {
			t.Fatalf("release #%d: %v", i, err)
		}
	}
	if avail, _ := s.Available(ctx, "p1", "m1"); avail != 7 {
		t.Fatalf("expected stock restored to 7, got %d", avail)
	}
	if _, err := s.Commit(ctx, "t1"); !errors.Is(err, domain.ErrReservationReleased) {
		t.Fatalf("expected ErrReservationReleased, got %v", err)
	}

	r2 := reservation("t2", 3)
	if err := s.Reserve(ctx, r2); err != nil {
		t.Fatalf("reserve t2: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := s.Commit(ctx, "t2"); err != nil {
			t.Fatalf("commit #%d: %v", i, err)
		}
	}
	if _, err := s.Release(ctx, "t2"); !errors.Is(err, domain.ErrReservationCommitted) {
		t.Fatalf("expected ErrReservationCommitted, got %v", err)
	}
	if avail, _ := s.Available(ctx, "p1", "m1"); avail != 4 {
		t.Fatalf("expected 4 available after commit, got %d", avail)
	}
}

func TestLedgerInsufficientStockLeavesStockUntouched(t *testing.T) {
	ctx := context.Background()
	s := seededLedger(t, 1, 1)

	err := s.Reserve(ctx, reservation("t1", 3))
	var ise *domain.InsufficientStockError
	if !errors.As(err, &ise) {
		t.Fatalf("expected InsufficientStockError, got %v", err)
	}
	if ise.Available != 2 || ise.MedicineID != "m1" || ise.PharmacyID != "p1" {
		t.Fatalf("unexpected detail %+v", ise)
	}
	if avail, _ := s.Available(ctx, "p1", "m1"); avail != 2 {
		t.Fatalf("stock changed on failed reserve: %d", avail)
	}
}

func TestLedgerNeverOversells(t *testing.T) {
	ctx := context.Background()
	s := seededLedger(t, 7, 3, 5)
	const stock = 15

	var reserved atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 64; i++ {
		qty := i%3 + 1
		token := fmt.Sprintf("t%d", i)
		g.Go(func() error {
			err := s.Reserve(gctx, reservation(token, qty))
			switch {
			case err == nil:
				reserved.Add(int64(qty))
			case errors.Is(err, domain.ErrInsufficientStock):
			default:
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	avail, _ := s.Available(ctx, "p1", "m1")
	if reserved.Load() > stock {
		t.Fatalf("oversold: reserved %d of %d", reserved.Load(), stock)
	}
	if int64(avail)+reserved.Load() != stock {
		t.Fatalf("ledger drifted: available %d + reserved %d != %d", avail, reserved.Load(), stock)
	}
}

func TestLedgerHeldBefore(t *testing.T) {
	ctx := context.Background()
	s := seededLedger(t, 5)
	_ = s.Reserve(ctx, reservation("held", 1))
	_ = s.Reserve(ctx, reservation("done", 1))
	_, _ = s.Commit(ctx, "done")

	held, err := s.HeldBefore(ctx, time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("held before: %v", err)
	}
	if len(held) != 1 || held[0].Token != "held" {
		t.Fatalf("expected only the held reservation, got %+v", held)
	}
}
