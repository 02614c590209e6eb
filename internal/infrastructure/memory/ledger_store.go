package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	domain "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/inventory"
)

// LedgerStore is an in-process stock ledger. A single mutex makes the
// check-and-decrement of Reserve atomic with Release and Commit.
type LedgerStore struct {
	mu           sync.Mutex
	batches      map[stockKey][]*domain.Batch
	reservations map[string]*domain.Reservation
	now          func() time.Time
}

type stockKey struct{ pharmacyID, medicineID string }

func NewLedgerStore(now func() time.Time) *LedgerStore {
	if now == nil {
		now = time.Now
	}
	return &LedgerStore{
		batches:      make(map[stockKey][]*domain.Batch),
		reservations: make(map[string]*domain.Reservation),
		now:          now,
	}
}

// PutBatch inserts or replaces a batch. Used for seeding and stock intake.
func (s *LedgerStore) PutBatch(b domain.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := stockKey{b.PharmacyID, b.MedicineID}
	for i, existing := range s.batches[key] {
		if existing.BatchNum == b.BatchNum {
			cp := b
			s.batches[key][i] = &cp
			return
		}
	}
	cp := b
	s.batches[key] = append(s.batches[key], &cp)
}

func (s *LedgerStore) Available(ctx context.Context, pharmacyID, medicineID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.Available(s.snapshot(stockKey{pharmacyID, medicineID}), s.now()), nil
}

func (s *LedgerStore) Reserve(ctx context.Context, r *domain.Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r == nil || r.Token == "" {
		return fmt.Errorf("ledger store: reservation token is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.reservations[r.Token]; exists {
		return fmt.Errorf("ledger store: reservation %s already exists", r.Token)
	}
	key := stockKey{r.PharmacyID, r.MedicineID}
	now := s.now()
	allocs, err := domain.Allocate(s.snapshot(key), r.Quantity, now)
	if err != nil {
		var ise *domain.InsufficientStockError
		if errors.As(err, &ise) {
			ise.PharmacyID, ise.MedicineID = r.PharmacyID, r.MedicineID
		}
		return err
	}
	for _, a := range allocs {
		b := s.batch(key, a.BatchNum)
		b.Quantity -= a.Quantity
	}

	r.Allocations = allocs
	r.Status = domain.ReservationHeld
	r.CreatedAt, r.UpdatedAt = now, now
	s.reservations[r.Token] = r.Clone()
	return nil
}

func (s *LedgerStore) Release(ctx context.Context, token string) (*domain.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	switch r.Status {
	case domain.ReservationReleased:
		return r.Clone(), nil
	case domain.ReservationCommitted:
		return nil, domain.ErrReservationCommitted
	}
	key := stockKey{r.PharmacyID, r.MedicineID}
	for _, a := range r.Allocations {
		if b := s.batch(key, a.BatchNum); b != nil {
			b.Quantity += a.Quantity
		}
	}
	r.Status = domain.ReservationReleased
	r.UpdatedAt = s.now()
	return r.Clone(), nil
}

func (s *LedgerStore) Commit(ctx context.Context, token string) (*domain.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	switch r.Status {
	case domain.ReservationCommitted:
		return r.Clone(), nil
	case domain.ReservationReleased:
		return nil, domain.ErrReservationReleased
	}
	r.Status = domain.ReservationCommitted
	r.UpdatedAt = s.now()
	return r.Clone(), nil
}

func (s *LedgerStore) Get(ctx context.Context, token string) (*domain.Reservation, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[token]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *LedgerStore) HeldBefore(ctx context.Context, before time.Time) ([]*domain.Reservation, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Reservation
	for _, r := range s.reservations {
		if r.Status == domain.ReservationHeld && r.CreatedAt.Before(before) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *LedgerStore) snapshot(key stockKey) []domain.Batch {
	out := make([]domain.Batch, 0, len(s.batches[key]))
	for _, b := range s.batches[key] {
		out = append(out, *b)
	}
	return out
}

func (s *LedgerStore) batch(key stockKey, batchNum string) *domain.Batch {
	for _, b := range s.batches[key] {
		if b.BatchNum == batchNum {
			return b
		}
	}
	return nil
}
