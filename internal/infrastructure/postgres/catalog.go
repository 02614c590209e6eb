package postgres

import (
	"context"
	"errors"
	"fmt"

	domain "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/catalog"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Catalog reads pharmacies, medicines and users. The tables are owned by other services;
// this process only reads them, apart from seeding.
type Catalog struct {
	pool *pgxpool.Pool
}

func NewCatalog(pool *pgxpool.Pool) *Catalog {
	return &Catalog{pool: pool}
}

func (c *Catalog) GetPharmacy(ctx context.Context, pharmacyID string) (domain.Pharmacy, error) {
	var p domain.Pharmacy
	err := c.pool.QueryRow(ctx, `SELECT id, name, verified, status FROM pharmacies WHERE id = $1`, pharmacyID).
		Scan(&p.ID, &p.Name, &p.Verified, &p.Status)
	return p, notFound(err)
}

func (c *Catalog) GetMedicine(ctx context.Context, pharmacyID, medicineID string) (domain.Medicine, error) {
	var m domain.Medicine
	err := c.pool.QueryRow(ctx,
		`SELECT id, pharmacy_id, name, price, currency FROM medicines WHERE pharmacy_id = $1 AND id = $2`,
		pharmacyID, medicineID).
		Scan(&m.ID, &m.PharmacyID, &m.Name, &m.Price, &m.Currency)
	return m, notFound(err)
}

func (c *Catalog) ListMedicines(ctx context.Context, pharmacyID string) ([]domain.Medicine, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT id, pharmacy_id, name, price, currency FROM medicines WHERE pharmacy_id = $1 ORDER BY name`,
		pharmacyID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Medicine, error) {
		var m domain.Medicine
		err := row.Scan(&m.ID, &m.PharmacyID, &m.Name, &m.Price, &m.Currency)
		return m, err
	})
}

func (c *Catalog) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var u domain.User
	err := c.pool.QueryRow(ctx, `SELECT id, email, email_verified FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Email, &u.EmailVerified)
	return u, notFound(err)
}

func (c *Catalog) PutPharmacy(ctx context.Context, p domain.Pharmacy) error {
	_, err := c.pool.Exec(ctx, `INSERT INTO pharmacies (id, name, verified, status) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET name = $2, verified = $3, status = $4`,
		p.ID, p.Name, p.Verified, p.Status)
	return wrapSeed("pharmacy", err)
}

func (c *Catalog) PutMedicine(ctx context.Context, m domain.Medicine) error {
	_, err := c.pool.Exec(ctx, `INSERT INTO medicines (pharmacy_id, id, name, price, currency) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pharmacy_id, id) DO UPDATE SET name = $3, price = $4, currency = $5`,
		m.PharmacyID, m.ID, m.Name, m.Price, m.Currency)
	return wrapSeed("medicine", err)
}

func (c *Catalog) PutUser(ctx context.Context, u domain.User) error {
	_, err := c.pool.Exec(ctx, `INSERT INTO users (id, email, email_verified) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET email = $2, email_verified = $3`,
		u.ID, u.Email, u.EmailVerified)
	return wrapSeed("user", err)
}

func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	return err
}

func wrapSeed(what string, err error) error {
	if err != nil {
		return fmt.Errorf("postgres: put %s: %w", what, err)
	}
	return nil
}
