package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Zhima-Mochi/pharmacy-checkout/internal/application"
	domain "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/cart"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/catalog"
	dominv "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
	"golang.org/x/sync/errgroup"
)

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("id-%d", s.n)
}

type fixture struct {
	manager *Manager
	catalog *memory.Catalog
	ledger  *memory.LedgerStore
}

func setup(t *testing.T) fixture {
	t.Helper()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	cat := memory.NewCatalog()
	cat.PutPharmacy(catalog.Pharmacy{ID: "p1", Name: "Central", Verified: true, Status: catalog.PharmacyActive})
	cat.PutMedicine(catalog.Medicine{ID: "m1", PharmacyID: "p1", Name: "Amoxicillin", Price: 500, Currency: "USD"})
	cat.PutMedicine(catalog.Medicine{ID: "m2", PharmacyID: "p1", Name: "Ibuprofen", Price: 300, Currency: "USD"})
	cat.PutMedicine(catalog.Medicine{ID: "m3", PharmacyID: "p1", Name: "Zinc", Price: 100, Currency: "USD"})

	ledger := memory.NewLedgerStore(func() time.Time { return now })
	for _, m := range []string{"m1", "m2"} {
		ledger.PutBatch(dominv.Batch{PharmacyID: "p1", MedicineID: m, BatchNum: "b1", ExpiryDate: now.AddDate(1, 0, 0), Quantity: 20})
	}

	m := NewManager(memory.NewCartRepository(), cat, ledger, &seqIDs{}, func() time.Time { return now },
		Config{Limits: domain.Limits{MaxItemQuantity: 5, MaxTotalItems: 10}}, observability.Nop())
	return fixture{manager: m, catalog: cat, ledger: ledger}
}

func TestAddItem(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	c, err := f.manager.AddItem(ctx, AddItemInput{UserID: "u1", PharmacyID: "p1", MedicineID: "m1", Quantity: 2})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if c.TotalItems != 2 || c.TotalAmount != 1000 || c.Items[0].Name != "Amoxicillin" {
		t.Fatalf("unexpected cart %+v", c)
	}

	tests := []struct {
		name string
		in   AddItemInput
		want error
	}{
		{"unauthenticated", AddItemInput{PharmacyID: "p1", MedicineID: "m1", Quantity: 1}, application.ErrUnauthenticated},
		{"zero quantity", AddItemInput{UserID: "u1", PharmacyID: "p1", MedicineID: "m1"}, domain.ErrInvalidQuantity},
		{"unknown medicine", AddItemInput{UserID: "u1", PharmacyID: "p1", MedicineID: "nope", Quantity: 1}, ErrMedicineNotFound},
		{"out of stock", AddItemInput{UserID: "u1", PharmacyID: "p1", MedicineID: "m3", Quantity: 1}, dominv.ErrInsufficientStock},
		{"item cap", AddItemInput{UserID: "u1", PharmacyID: "p1", MedicineID: "m1", Quantity: 4}, domain.ErrCapExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := f.manager.AddItem(ctx, tt.in); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	after, _ := f.manager.Get(ctx, "u1", "p1")
	if after.TotalItems != 2 {
		t.Fatalf("rejected mutations changed the cart: %d", after.TotalItems)
	}
}

func TestUpdateAndRemoveRespectOwnership(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	c, _ := f.manager.AddItem(ctx, AddItemInput{UserID: "u1", PharmacyID: "p1", MedicineID: "m1", Quantity: 1})
	itemID := c.Items[0].ID

	if _, err := f.manager.UpdateQuantity(ctx, UpdateQuantityInput{UserID: "u2", ItemID: itemID, Quantity: 2}); !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected foreign item to be hidden, got %v", err)
	}
	c, err := f.manager.UpdateQuantity(ctx, UpdateQuantityInput{UserID: "u1", ItemID: itemID, Quantity: 3})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if c.TotalItems != 3 || c.TotalAmount != 1500 {
		t.Fatalf("unexpected totals %d/%d", c.TotalItems, c.TotalAmount)
	}

	f.catalog.PutMedicine(catalog.Medicine{ID: "m1", PharmacyID: "p1", Name: "Amoxicillin", Price: 550, Currency: "USD"})
	if _, err := f.manager.UpdateQuantity(ctx, UpdateQuantityInput{UserID: "u1", ItemID: itemID, Quantity: 4}); !errors.Is(err, domain.ErrPriceChanged) {
		t.Fatalf("expected ErrPriceChanged, got %v", err)
	}
	c, err = f.manager.UpdateQuantity(ctx, UpdateQuantityInput{UserID: "u1", ItemID: itemID, Quantity: 4, AcknowledgePrice: true})
	if err != nil {
		t.Fatalf("acknowledged update: %v", err)
	}
	if c.TotalAmount != 2200 {
		t.Fatalf("expected repriced total 2200, got %d", c.TotalAmount)
	}

	if _, err := f.manager.RemoveItem(ctx, "u2", itemID); !errors.Is(err, domain.ErrItemNotFound) {
		t.Fatalf("expected ErrItemNotFound, got %v", err)
	}
	c, err = f.manager.RemoveItem(ctx, "u1", itemID)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !c.Empty() || c.TotalItems != 0 {
		t.Fatalf("expected empty cart")
	}
}

func TestConcurrentAddsKeepCartCap(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < 20; i++ {
		med := "m1"
		if i%2 == 0 {
			med = "m2"
		}
		g.Go(func() error {
			_, err := f.manager.AddItem(gctx, AddItemInput{UserID: "u1", PharmacyID: "p1", MedicineID: med, Quantity: 1})
			if err != nil && !errors.Is(err, domain.ErrCapExceeded) && !errors.Is(err, domain.ErrConflict) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("concurrent add: %v", err)
	}

	c, err := f.manager.Get(ctx, "u1", "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	sum := 0
	for _, it := range c.Items {
		sum += it.Quantity
		if it.Quantity > 5 {
			t.Fatalf("item cap broken: %d", it.Quantity)
		}
	}
	if c.TotalItems != sum || c.TotalItems > 10 {
		t.Fatalf("cart invariant broken: total=%d sum=%d", c.TotalItems, sum)
	}
}

func TestRecommendations(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, _ = f.manager.AddItem(ctx, AddItemInput{UserID: "u1", PharmacyID: "p1", MedicineID: "m1", Quantity: 1})

	got, err := f.manager.Recommendations(ctx, "u1", "p1", 0)
	if err != nil {
		t.Fatalf("recommendations: %v", err)
	}
	if len(got) != 1 || got[0].ID != "m2" {
		t.Fatalf("expected only m2 (m1 in cart, m3 out of stock), got %+v", got)
	}
}
