package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/pharmacy-checkout/internal/application"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/application/notification"
	domcart "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/cart"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/catalog"
	dominv "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/infrastructure/kafka"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/infrastructure/memory"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/infrastructure/paypal"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/infrastructure/postgres"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/infrastructure/redisstore"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/pkg/config"
)

// adapters holds the port implementations selected by configuration.
type adapters struct {
	carts     domcart.Repository
	orders    domorder.Repository
	payments  dompay.Repository
	stock     dominv.Store
	catalog   catalog.Reader
	directory catalog.Directory
	claims    application.IdempotencyStore
	gateway   dompay.Gateway
	notifier  notification.Notifier
	seed      func(ctx context.Context) error
	closers   []func() error
}

func (a *adapters) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func buildAdapters(ctx context.Context, cfg config.Config, log observability.Logger) (*adapters, error) {
	a := &adapters{}

	if cfg.DatabaseURL != "" {
		pool, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := postgres.Migrate(ctx, pool); err != nil {
			a.Close()
			return nil, err
		}
		ledger := postgres.NewLedgerStore(pool, nil)
		cat := postgres.NewCatalog(pool)
		a.orders = postgres.NewOrderRepository(pool)
		a.payments = postgres.NewPaymentRepository(pool)
		a.stock = ledger
		a.catalog, a.directory = cat, cat
		a.seed = func(ctx context.Context) error { return seedPostgres(ctx, cat, ledger) }
		log.Info("adapter_selected", observability.F("port", "storage"), observability.F("impl", "postgres"))
	} else {
		ledger := memory.NewLedgerStore(nil)
		cat := memory.NewCatalog()
		a.orders = memory.NewOrderRepository()
		a.payments = memory.NewPaymentRepository()
		a.stock = ledger
		a.catalog, a.directory = cat, cat
		a.seed = func(context.Context) error { seedMemory(cat, ledger); return nil }
		log.Info("adapter_selected", observability.F("port", "storage"), observability.F("impl", "memory"))
	}

	if cfg.RedisAddr != "" {
		rdb, err := redisstore.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, 0)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		a.carts = redisstore.NewCartRepository(rdb, cfg.CartRetention)
		a.claims = redisstore.NewIdempotencyStore(rdb)
		log.Info("adapter_selected", observability.F("port", "carts"), observability.F("impl", "redis"))
	} else {
		a.carts = memory.NewCartRepository()
		a.claims = memory.NewIdempotencyStore(nil)
	}

	if cfg.UsePayPal() {
		a.gateway = paypal.NewClient(paypal.Config{
			BaseURL:      cfg.PayPalBaseURL,
			ClientID:     cfg.PayPalClientID,
			ClientSecret: cfg.PayPalClientSecret,
			Timeout:      cfg.PaymentTimeout,
		}, log)
		log.Info("adapter_selected", observability.F("port", "gateway"), observability.F("impl", "paypal"))
	} else {
		a.gateway = memory.NewSandboxGateway()
		log.Warn("adapter_selected", observability.F("port", "gateway"), observability.F("impl", "sandbox"))
	}

	if len(cfg.KafkaBrokers) > 0 {
		w := kafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic)
		a.closers = append(a.closers, w.Close)
		a.notifier = kafka.NewNotifier(w, log)
		log.Info("adapter_selected", observability.F("port", "notifier"), observability.F("impl", "kafka"))
	} else {
		a.notifier = memory.NewNotifier(log)
	}
	return a, nil
}

type demoMedicine struct {
	id, name string
	price    int64
	qty      int
}

var (
	demoPharmacy  = catalog.Pharmacy{ID: "pharmacy-1", Name: "Central Pharmacy", Verified: true, Status: catalog.PharmacyActive}
	demoUser      = catalog.User{ID: "demo-user", Email: "demo@example.com", EmailVerified: true}
	demoMedicines = []demoMedicine{
		{"med-amoxicillin", "Amoxicillin 500mg", 1250, 40},
		{"med-ibuprofen", "Ibuprofen 200mg", 450, 100},
		{"med-cetirizine", "Cetirizine 10mg", 699, 25},
	}
)

func demoBatch(m demoMedicine, now time.Time) dominv.Batch {
	return dominv.Batch{
		PharmacyID: demoPharmacy.ID,
		MedicineID: m.id,
		BatchNum:   "DEMO-" + m.id,
		ExpiryDate: now.AddDate(1, 0, 0),
		Quantity:   m.qty,
	}
}

func seedMemory(cat *memory.Catalog, ledger *memory.LedgerStore) {
	cat.PutPharmacy(demoPharmacy)
	cat.PutUser(demoUser)
	now := time.Now().UTC()
	for _, m := range demoMedicines {
		cat.PutMedicine(catalog.Medicine{ID: m.id, PharmacyID: demoPharmacy.ID, Name: m.name, Price: m.price, Currency: "USD"})
		ledger.PutBatch(demoBatch(m, now))
	}
}

func seedPostgres(ctx context.Context, cat *postgres.Catalog, ledger *postgres.LedgerStore) error {
	if err := cat.PutPharmacy(ctx, demoPharmacy); err != nil {
		return fmt.Errorf("seed pharmacy: %w", err)
	}
	if err := cat.PutUser(ctx, demoUser); err != nil {
		return fmt.Errorf("seed user: %w", err)
	}
	now := time.Now().UTC()
	for _, m := range demoMedicines {
		if err := cat.PutMedicine(ctx, catalog.Medicine{ID: m.id, PharmacyID: demoPharmacy.ID, Name: m.name, Price: m.price, Currency: "USD"}); err != nil {
			return fmt.Errorf("seed medicine %s: %w", m.id, err)
		}
		if err := ledger.PutBatch(ctx, demoBatch(m, now)); err != nil {
			return fmt.Errorf("seed batch %s: %w", m.id, err)
		}
	}
	return nil
}
