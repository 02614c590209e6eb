package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/inventory"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const lockTimeout = "2s"

// LedgerStore reserves stock under row locks on the batches of one medicine. Two checkouts
// for the same medicine serialize on those locks; different medicines never block each other.
type LedgerStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewLedgerStore(pool *pgxpool.Pool, now func() time.Time) *LedgerStore {
	if now == nil {
		now = time.Now
	}
	return &LedgerStore{pool: pool, now: now}
}

func (s *LedgerStore) Available(ctx context.Context, pharmacyID, medicineID string) (int, error) {
	batches, err := s.batches(ctx, s.pool, pharmacyID, medicineID, false)
	if err != nil {
		return 0, err
	}
	return domain.Available(batches, s.now()), nil
}

func (s *LedgerStore) Reserve(ctx context.Context, r *domain.Reservation) error {
	now := s.now().UTC()
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, "SET LOCAL lock_timeout = '"+lockTimeout+"'"); err != nil {
			return err
		}
		batches, err := s.batches(ctx, tx, r.PharmacyID, r.MedicineID, true)
		if err != nil {
			return err
		}
		allocs, err := domain.Allocate(batches, r.Quantity, now)
		if err != nil {
			var ise *domain.InsufficientStockError
			if errors.As(err, &ise) {
				ise.PharmacyID, ise.MedicineID = r.PharmacyID, r.MedicineID
			}
			return err
		}

		for _, a := range allocs {
			tag, err := tx.Exec(ctx,
				`UPDATE batches SET quantity = quantity - $4
				 WHERE pharmacy_id = $1 AND medicine_id = $2 AND batch_num = $3 AND quantity >= $4`,
				r.PharmacyID, r.MedicineID, a.BatchNum, a.Quantity)
			if err != nil {
				return err
			}
			if tag.RowsAffected() != 1 {
				return domain.ErrConcurrentModification
			}
		}

		if _, err := tx.Exec(ctx,
			`INSERT INTO reservations (token, order_id, pharmacy_id, medicine_id, quantity, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`,
			r.Token, r.OrderID, r.PharmacyID, r.MedicineID, r.Quantity, domain.ReservationHeld, now); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for _, a := range allocs {
			batch.Queue(`INSERT INTO reservation_allocations (token, batch_num, quantity) VALUES ($1, $2, $3)`,
				r.Token, a.BatchNum, a.Quantity)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}

		r.Allocations = allocs
		r.Status = domain.ReservationHeld
		r.CreatedAt, r.UpdatedAt = now, now
		return nil
	})
	return mapLedgerError(err)
}

func (s *LedgerStore) Release(ctx context.Context, token string) (*domain.Reservation, error) {
	var out *domain.Reservation
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		r, err := s.lockReservation(ctx, tx, token)
		if err != nil {
			return err
		}
		switch r.Status {
		case domain.ReservationReleased:
			out = r
			return nil
		case domain.ReservationCommitted:
			return domain.ErrReservationCommitted
		}
		for _, a := range r.Allocations {
			if _, err := tx.Exec(ctx,
				`UPDATE batches SET quantity = quantity + $4
				 WHERE pharmacy_id = $1 AND medicine_id = $2 AND batch_num = $3`,
				r.PharmacyID, r.MedicineID, a.BatchNum, a.Quantity); err != nil {
				return err
			}
		}
		if err := s.setStatus(ctx, tx, r, domain.ReservationReleased); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return out, nil
}

func (s *LedgerStore) Commit(ctx context.Context, token string) (*domain.Reservation, error) {
	var out *domain.Reservation
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		r, err := s.lockReservation(ctx, tx, token)
		if err != nil {
			return err
		}
		switch r.Status {
		case domain.ReservationCommitted:
			out = r
			return nil
		case domain.ReservationReleased:
			return domain.ErrReservationReleased
		}
		if err := s.setStatus(ctx, tx, r, domain.ReservationCommitted); err != nil {
			return err
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return out, nil
}

func (s *LedgerStore) Get(ctx context.Context, token string) (*domain.Reservation, error) {
	var out *domain.Reservation
	err := withTx(ctx, s.pool, func(tx pgx.Tx) error {
		r, err := s.reservation(ctx, tx, token, false)
		out = r
		return err
	})
	if err != nil {
		return nil, mapLedgerError(err)
	}
	return out, nil
}

func (s *LedgerStore) HeldBefore(ctx context.Context, before time.Time) ([]*domain.Reservation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT token FROM reservations WHERE status = $1 AND created_at < $2 ORDER BY created_at`,
		domain.ReservationHeld, before)
	if err != nil {
		return nil, mapLedgerError(err)
	}
	tokens, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, mapLedgerError(err)
	}

	out := make([]*domain.Reservation, 0, len(tokens))
	for _, t := range tokens {
		r, err := s.Get(ctx, t)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *LedgerStore) batches(ctx context.Context, q querier, pharmacyID, medicineID string, lock bool) ([]domain.Batch, error) {
	sql := `SELECT pharmacy_id, medicine_id, batch_num, expiry_date, quantity, deleted_at
	        FROM batches WHERE pharmacy_id = $1 AND medicine_id = $2
	        ORDER BY expiry_date, batch_num`
	if lock {
		sql += " FOR UPDATE"
	}
	rows, err := q.Query(ctx, sql, pharmacyID, medicineID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Batch, error) {
		var b domain.Batch
		err := row.Scan(&b.PharmacyID, &b.MedicineID, &b.BatchNum, &b.ExpiryDate, &b.Quantity, &b.DeletedAt)
		return b, err
	})
}

func (s *LedgerStore) lockReservation(ctx context.Context, tx pgx.Tx, token string) (*domain.Reservation, error) {
	if _, err := tx.Exec(ctx, "SET LOCAL lock_timeout = '"+lockTimeout+"'"); err != nil {
		return nil, err
	}
	return s.reservation(ctx, tx, token, true)
}

func (s *LedgerStore) reservation(ctx context.Context, q querier, token string, lock bool) (*domain.Reservation, error) {
	sql := `SELECT token, order_id, pharmacy_id, medicine_id, quantity, status, created_at, updated_at
	        FROM reservations WHERE token = $1`
	if lock {
		sql += " FOR UPDATE"
	}
	var r domain.Reservation
	err := q.QueryRow(ctx, sql, token).Scan(
		&r.Token, &r.OrderID, &r.PharmacyID, &r.MedicineID, &r.Quantity, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := q.Query(ctx, `SELECT batch_num, quantity FROM reservation_allocations WHERE token = $1 ORDER BY batch_num`, token)
	if err != nil {
		return nil, err
	}
	r.Allocations, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Allocation, error) {
		var a domain.Allocation
		err := row.Scan(&a.BatchNum, &a.Quantity)
		return a, err
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *LedgerStore) setStatus(ctx context.Context, tx pgx.Tx, r *domain.Reservation, to domain.ReservationStatus) error {
	now := s.now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE reservations SET status = $2, updated_at = $3 WHERE token = $1`, r.Token, to, now); err != nil {
		return err
	}
	r.Status, r.UpdatedAt = to, now
	return nil
}

// PutBatch upserts a stock batch. Used by seeding and tests.
func (s *LedgerStore) PutBatch(ctx context.Context, b domain.Batch) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO batches (pharmacy_id, medicine_id, batch_num, expiry_date, quantity, deleted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (pharmacy_id, medicine_id, batch_num)
		 DO UPDATE SET expiry_date = $4, quantity = $5, deleted_at = $6`,
		b.PharmacyID, b.MedicineID, b.BatchNum, b.ExpiryDate, b.Quantity, b.DeletedAt)
	if err != nil {
		return fmt.Errorf("postgres: put batch: %w", err)
	}
	return nil
}

func mapLedgerError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrConcurrentModification),
		errors.Is(err, domain.ErrReservationCommitted),
		errors.Is(err, domain.ErrReservationReleased):
		return err
	case contended(err):
		return fmt.Errorf("%w: %w", domain.ErrConcurrentModification, err)
	default:
		return fmt.Errorf("postgres: ledger: %w", err)
	}
}
