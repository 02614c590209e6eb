//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	dominv "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/payment"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"golang.org/x/sync/errgroup"
)

func startPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("checkout"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	url, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	pool, err := Open(ctx, url)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(pool.Close)
	if err := Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return pool
}

func TestLedgerStoreNeverOversells(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()
	store := NewLedgerStore(pool, nil)

	for _, b := range []dominv.Batch{
		{PharmacyID: "p1", MedicineID: "m1", BatchNum: "late", ExpiryDate: now.AddDate(1, 0, 0), Quantity: 5},
		{PharmacyID: "p1", MedicineID: "m1", BatchNum: "soon", ExpiryDate: now.AddDate(0, 1, 0), Quantity: 3},
		{PharmacyID: "p1", MedicineID: "m1", BatchNum: "expired", ExpiryDate: now.AddDate(0, 0, -1), Quantity: 50},
	} {
		if err := store.PutBatch(ctx, b); err != nil {
			t.Fatalf("put batch: %v", err)
		}
	}

	first := &dominv.Reservation{Token: "r0", OrderID: "o0", PharmacyID: "p1", MedicineID: "m1", Quantity: 4}
	if err := store.Reserve(ctx, first); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if len(first.Allocations) != 2 || first.Allocations[0].BatchNum != "soon" || first.Allocations[0].Quantity != 3 {
		t.Fatalf("allocations = %+v", first.Allocations)
	}

	var g errgroup.Group
	results := make([]error, 8)
	for i := range results {
		g.Go(func() error {
			r := &dominv.Reservation{Token: "r" + string(rune('a'+i)), OrderID: "o", PharmacyID: "p1", MedicineID: "m1", Quantity: 1}
			for {
				results[i] = store.Reserve(ctx, r)
				if !errors.Is(results[i], dominv.ErrConcurrentModification) {
					return nil
				}
			}
		})
	}
	_ = g.Wait()

	var ok int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, dominv.ErrInsufficientStock):
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 4 {
		t.Fatalf("reservations = %d, want 4", ok)
	}
	if n, _ := store.Available(ctx, "p1", "m1"); n != 0 {
		t.Fatalf("available = %d, want 0", n)
	}

	if _, err := store.Release(ctx, "r0"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if n, _ := store.Available(ctx, "p1", "m1"); n != 4 {
		t.Fatalf("available after release = %d, want 4", n)
	}
	if _, err := store.Commit(ctx, "r0"); !errors.Is(err, dominv.ErrReservationReleased) {
		t.Fatalf("commit released: %v", err)
	}
}

func TestOrderAndPaymentRepositories(t *testing.T) {
	pool := startPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	orders := NewOrderRepository(pool)
	addr := domorder.Address{Name: "Ada", Line1: "1 Main St", City: "Springfield", Country: "US"}
	o, err := domorder.New(domorder.Draft{
		ID: "o1", Number: "ORD-1", UserID: "u1", PharmacyID: "p1", CartID: "c1", IdempotencyKey: "k1",
		PaymentMethod: domorder.PaymentPayPal, BillingAddress: addr, ShippingAddress: addr, Currency: "USD",
		Items: []domorder.Item{{MedicineID: "m1", Name: "Amoxicillin", Quantity: 2, PriceAtTime: 500}},
	}, now)
	if err != nil {
		t.Fatalf("new order: %v", err)
	}
	if err := o.MarkPending(domorder.Readiness{StockReserved: true, UserVerified: true, PharmacyVerified: true}, now); err != nil {
		t.Fatalf("pending: %v", err)
	}
	o.Reservations = []string{"r1"}
	if err := orders.Insert(ctx, o); err != nil {
		t.Fatalf("insert: %v", err)
	}

	dup := o.Clone()
	dup.ID, dup.Number = "o2", "ORD-2"
	if err := orders.Insert(ctx, dup); !errors.Is(err, domorder.ErrConflict) {
		t.Fatalf("duplicate idempotency key: %v", err)
	}

	got, err := orders.FindByIdempotency(ctx, "u1", "k1")
	if err != nil || got.ID != "o1" || got.BillingAddress != addr || len(got.Items) != 1 || got.TotalAmount != 1000 {
		t.Fatalf("find = %+v, %v", got, err)
	}

	if err := got.MarkProcessing(now); err != nil {
		t.Fatalf("processing: %v", err)
	}
	if err := orders.Update(ctx, got, domorder.StatusPending); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := orders.Update(ctx, got, domorder.StatusPending); !errors.Is(err, domorder.ErrConflict) {
		t.Fatalf("stale update: %v", err)
	}

	payments := NewPaymentRepository(pool)
	p, _ := dompay.New("pay1", "o1", dompay.MethodPayPal, 1000, "USD", now)
	p.TransactionID = "TX-1"
	if err := payments.Insert(ctx, p); err != nil {
		t.Fatalf("insert payment: %v", err)
	}
	if _, err := p.Transition(dompay.StatusCompleted, "", now); err != nil {
		t.Fatalf("transition: %v", err)
	}
	if err := payments.Update(ctx, p, dompay.StatusPending); err != nil {
		t.Fatalf("update payment: %v", err)
	}
	found, err := payments.FindByTransactionID(ctx, "TX-1")
	if err != nil || found.Status != dompay.StatusCompleted {
		t.Fatalf("find payment = %+v, %v", found, err)
	}
}
