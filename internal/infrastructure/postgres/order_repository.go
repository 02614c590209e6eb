package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/order"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const orderColumns = `id, number, user_id, pharmacy_id, cart_id, idempotency_key, payment_method,
	billing_address, shipping_address, currency, total_items, total_amount, reservations,
	status, failure_reason, created_at, updated_at, deleted_at`

type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) Insert(ctx context.Context, o *domain.Order) error {
	err := withTx(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `INSERT INTO orders (`+orderColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)`,
			o.ID, o.Number, o.UserID, o.PharmacyID, o.CartID, o.IdempotencyKey, o.PaymentMethod,
			o.BillingAddress, o.ShippingAddress, o.Currency, o.TotalItems, o.TotalAmount, reservationsOf(o),
			o.Status, o.FailureReason, o.CreatedAt, o.UpdatedAt, o.DeletedAt)
		if err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for i, it := range o.Items {
			batch.Queue(`INSERT INTO order_items (order_id, line, medicine_id, name, quantity, price_at_time)
				VALUES ($1,$2,$3,$4,$5,$6)`,
				o.ID, i, it.MedicineID, it.Name, it.Quantity, it.PriceAtTime)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if pgCode(err) == codeUniqueViolation {
		return fmt.Errorf("%w: %w", domain.ErrConflict, err)
	}
	return err
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*domain.Order, error) {
	return r.one(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 AND deleted_at IS NULL`, id)
}

func (r *OrderRepository) Update(ctx context.Context, o *domain.Order, from domain.Status) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET status = $3, failure_reason = $4, reservations = $5, updated_at = $6
		 WHERE id = $1 AND status = $2 AND deleted_at IS NULL`,
		o.ID, from, o.Status, o.FailureReason, reservationsOf(o), o.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (r *OrderRepository) FindByIdempotency(ctx context.Context, userID, key string) (*domain.Order, error) {
	if key == "" {
		return nil, domain.ErrNotFound
	}
	return r.one(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE user_id = $1 AND idempotency_key = $2 AND deleted_at IS NULL`, userID, key)
}

func (r *OrderRepository) ListByStatus(ctx context.Context, status domain.Status, updatedBefore time.Time, after domain.Cursor, limit int) ([]*domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE status = $1 AND updated_at < $2 AND deleted_at IS NULL
			AND (updated_at, id) > ($3, $4)
		ORDER BY updated_at, id LIMIT $5`, status, updatedBefore, after.UpdatedAt, after.ID, limit)
	if err != nil {
		return nil, err
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, err
	}
	for _, o := range orders {
		if err := r.loadItems(ctx, o); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *OrderRepository) one(ctx context.Context, sql string, args ...any) (*domain.Order, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, o *domain.Order) error {
	rows, err := r.pool.Query(ctx, `SELECT medicine_id, name, quantity, price_at_time
		FROM order_items WHERE order_id = $1 ORDER BY line`, o.ID)
	if err != nil {
		return err
	}
	o.Items, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Item, error) {
		var it domain.Item
		err := row.Scan(&it.MedicineID, &it.Name, &it.Quantity, &it.PriceAtTime)
		return it, err
	})
	return err
}

func scanOrder(row pgx.CollectableRow) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.Number, &o.UserID, &o.PharmacyID, &o.CartID, &o.IdempotencyKey, &o.PaymentMethod,
		&o.BillingAddress, &o.ShippingAddress, &o.Currency, &o.TotalItems, &o.TotalAmount, &o.Reservations,
		&o.Status, &o.FailureReason, &o.CreatedAt, &o.UpdatedAt, &o.DeletedAt)
	return &o, err
}

func reservationsOf(o *domain.Order) []string {
	if o.Reservations == nil {
		return []string{}
	}
	return o.Reservations
}
