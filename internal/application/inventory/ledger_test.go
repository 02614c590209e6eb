package inventory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("r%d", s.n)
}

// flakyStore fails Reserve with ErrConcurrentModification a fixed number of times.
type flakyStore struct {
	domain.Store
	failures int
	calls    int
}

func (f *flakyStore) Reserve(ctx context.Context, r *domain.Reservation) error {
	f.calls++
	if f.calls <= f.failures {
		return domain.ErrConcurrentModification
	}
	r.Allocations = []domain.Allocation{{BatchNum: "b1", Quantity: r.Quantity}}
	r.Status = domain.ReservationHeld
	return nil
}

func TestReserveRetriesContention(t *testing.T) {
	store := &flakyStore{failures: 2}
	l := NewLedger(store, &seqIDs{}, observability.Nop(), WithRetry(3, time.Millisecond))

	r, err := l.Reserve(context.Background(), ReserveInput{OrderID: "o1", PharmacyID: "p1", MedicineID: "m1", Quantity: 2})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if store.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", store.calls)
	}
	if r.Token == "" || r.OrderID != "o1" {
		t.Fatalf("unexpected reservation %+v", r)
	}
}

func TestReserveSurfacesPersistentContention(t *testing.T) {
	store := &flakyStore{failures: 10}
	l := NewLedger(store, &seqIDs{}, observability.Nop(), WithRetry(2, time.Millisecond))

	_, err := l.Reserve(context.Background(), ReserveInput{PharmacyID: "p1", MedicineID: "m1", Quantity: 1})
	if !errors.Is(err, domain.ErrConcurrentModification) {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
	if store.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", store.calls)
	}
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	l := NewLedger(&flakyStore{}, &seqIDs{}, observability.Nop())
	if _, err := l.Reserve(context.Background(), ReserveInput{Quantity: 0}); !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
}
