package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/pharmacy-checkout/internal/application"
	domain "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability/instrument"

	"go.opentelemetry.io/otel/attribute"
)

const (
	ledgerService      = "inventory-service"
	useCaseReserve     = "inventory.reserve"
	useCaseRelease     = "inventory.release"
	useCaseCommit      = "inventory.commit"
	defaultRetries     = 3
	defaultBackoffBase = 20 * time.Millisecond
)

var ErrRepository = errors.New("inventory: repository failure")

// Ledger is the authoritative stock ledger. Reservations are atomic per
// (pharmacy, medicine) pair; lock contention is retried with backoff before it surfaces.
type Ledger struct {
	store   domain.Store
	ids     application.IDGenerator
	obs     *instrument.Instruments
	ops     observability.Counter // stock_reservations_total{op,outcome}
	retries int
	backoff time.Duration
}

type Option func(*Ledger)

// WithRetry overrides how often a contended reservation is retried.
func WithRetry(attempts int, base time.Duration) Option {
	return func(l *Ledger) {
		l.retries, l.backoff = attempts, base
	}
}

func NewLedger(store domain.Store, ids application.IDGenerator, tel observability.Observability, opts ...Option) *Ledger {
	obs := instrument.New(tel, ledgerService)
	l := &Ledger{
		store:   store,
		ids:     ids,
		obs:     obs,
		ops:     obs.Metrics().Counter(observability.MStockReservations),
		retries: defaultRetries,
		backoff: defaultBackoffBase,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Available(ctx context.Context, pharmacyID, medicineID string) (int, error) {
	n, err := l.store.Available(ctx, pharmacyID, medicineID)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrRepository, err)
	}
	return n, nil
}

type ReserveInput struct {
	OrderID    string
	PharmacyID string
	MedicineID string
	Quantity   int
}

// Reserve holds qty units for the order. It returns an *domain.InsufficientStockError
// when the pair cannot cover the request.
func (l *Ledger) Reserve(ctx context.Context, in ReserveInput) (_ *domain.Reservation, err error) {
	ctx, run := l.obs.Start(ctx, useCaseReserve, "ReserveStock",
		attribute.String("order.id", in.OrderID),
		attribute.String("pharmacy.id", in.PharmacyID),
		attribute.String("medicine.id", in.MedicineID),
		attribute.Int("quantity", in.Quantity),
	)
	defer func() {
		l.ops.Add(1, observability.L("op", "reserve"), observability.L("outcome", outcomeOf(err)))
		run.End(err)
	}()

	if in.Quantity <= 0 {
		run.Fail("QUANTITY_INVALID")
		return nil, domain.ErrInvalidQuantity
	}

	r := &domain.Reservation{
		Token:      l.ids.NewID(),
		OrderID:    in.OrderID,
		PharmacyID: in.PharmacyID,
		MedicineID: in.MedicineID,
		Quantity:   in.Quantity,
	}
	err = l.withRetry(ctx, run, func() error { return l.store.Reserve(ctx, r) })
	switch {
	case err == nil:
		run.Annotate(observability.F("reservation", r.Token))
		return r, nil
	case errors.Is(err, domain.ErrInsufficientStock):
		run.Fail("INSUFFICIENT_STOCK")
		return nil, err
	case errors.Is(err, domain.ErrConcurrentModification):
		run.Fail("CONCURRENT_MODIFICATION")
		return nil, err
	default:
		run.Fail("STORE_RESERVE_FAILED")
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}
}

// Release returns held stock. Releasing an already released token is a no-op.
func (l *Ledger) Release(ctx context.Context, token string) (err error) {
	ctx, run := l.obs.Start(ctx, useCaseRelease, "ReleaseStock", attribute.String("reservation", token))
	defer func() {
		l.ops.Add(1, observability.L("op", "release"), observability.L("outcome", outcomeOf(err)))
		run.End(err)
	}()

	err = l.withRetry(ctx, run, func() error {
		_, e := l.store.Release(ctx, token)
		return e
	})
	if err != nil {
		run.Fail(statusFor(err))
		return wrap(err)
	}
	return nil
}

// Commit finalizes held stock. Committing twice is a no-op.
func (l *Ledger) Commit(ctx context.Context, token string) (err error) {
	ctx, run := l.obs.Start(ctx, useCaseCommit, "CommitStock", attribute.String("reservation", token))
	defer func() {
		l.ops.Add(1, observability.L("op", "commit"), observability.L("outcome", outcomeOf(err)))
		run.End(err)
	}()

	err = l.withRetry(ctx, run, func() error {
		_, e := l.store.Commit(ctx, token)
		return e
	})
	if err != nil {
		run.Fail(statusFor(err))
		return wrap(err)
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, token string) (*domain.Reservation, error) {
	r, err := l.store.Get(ctx, token)
	if err != nil {
		return nil, wrap(err)
	}
	return r, nil
}

// HeldBefore lists reservations still held that were created before t.
func (l *Ledger) HeldBefore(ctx context.Context, t time.Time) ([]*domain.Reservation, error) {
	rs, err := l.store.HeldBefore(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}
	return rs, nil
}

func (l *Ledger) withRetry(ctx context.Context, run *instrument.Run, op func() error) error {
	delay := l.backoff
	var err error
	for attempt := 0; attempt <= l.retries; attempt++ {
		if err = op(); !errors.Is(err, domain.ErrConcurrentModification) {
			return err
		}
		if attempt == l.retries {
			break
		}
		run.Event("stock.retry", attribute.Int("attempt", attempt+1))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
	}
	return err
}

func wrap(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrReservationCommitted),
		errors.Is(err, domain.ErrReservationReleased),
		errors.Is(err, domain.ErrConcurrentModification):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "RESERVATION_NOT_FOUND"
	case errors.Is(err, domain.ErrReservationCommitted):
		return "RESERVATION_COMMITTED"
	case errors.Is(err, domain.ErrReservationReleased):
		return "RESERVATION_RELEASED"
	case errors.Is(err, domain.ErrConcurrentModification):
		return "CONCURRENT_MODIFICATION"
	default:
		return "STORE_FAILED"
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient"
	case errors.Is(err, domain.ErrConcurrentModification):
		return "contended"
	default:
		return "error"
	}
}
