package postgres

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/payment"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const paymentColumns = `id, order_id, method, amount, currency, status, transaction_id, payer_id,
	failure_reason, created_at, updated_at`

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

func (r *PaymentRepository) Insert(ctx context.Context, p *domain.Payment) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		p.ID, p.OrderID, p.Method, p.Amount, p.Currency, p.Status, p.TransactionID, p.PayerID,
		p.FailureReason, p.CreatedAt, p.UpdatedAt)
	if pgCode(err) == codeUniqueViolation {
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	}
	return err
}

func (r *PaymentRepository) Update(ctx context.Context, p *domain.Payment, from domain.Status) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE payments SET status = $3, transaction_id = $4, payer_id = $5, failure_reason = $6, updated_at = $7
		 WHERE id = $1 AND status = $2`,
		p.ID, from, p.Status, p.TransactionID, p.PayerID, p.FailureReason, p.UpdatedAt)
	if pgCode(err) == codeUniqueViolation {
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *PaymentRepository) FindByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error) {
	if transactionID == "" {
		return nil, domain.ErrNotFound
	}
	return r.one(ctx, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = $1`, transactionID)
}

func (r *PaymentRepository) LatestForOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	return r.one(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1
		ORDER BY created_at DESC, id DESC LIMIT 1`, orderID)
}

func (r *PaymentRepository) one(ctx context.Context, sql string, args ...any) (*domain.Payment, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	p, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (*domain.Payment, error) {
		var p domain.Payment
		err := row.Scan(&p.ID, &p.OrderID, &p.Method, &p.Amount, &p.Currency, &p.Status, &p.TransactionID,
			&p.PayerID, &p.FailureReason, &p.CreatedAt, &p.UpdatedAt)
		return &p, err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return p, err
}
