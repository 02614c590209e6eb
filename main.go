package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appcart "github.com/Zhima-Mochi/pharmacy-checkout/internal/application/cart"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/application/checkout"
	appinv "github.com/Zhima-Mochi/pharmacy-checkout/internal/application/inventory"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/application/notification"
	apppay "github.com/Zhima-Mochi/pharmacy-checkout/internal/application/payment"
	domcart "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/cart"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/infrastructure/id"
	infraobs "github.com/Zhima-Mochi/pharmacy-checkout/internal/infrastructure/observability"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/infrastructure/observability/oteltrace"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/infrastructure/observability/prometrics"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/infrastructure/observability/zaplogger"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/infrastructure/outbox"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/infrastructure/paypal"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/pkg/config"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/pkg/logging"
	httppresentation "github.com/Zhima-Mochi/pharmacy-checkout/internal/presentation/http"
	workerpresentation "github.com/Zhima-Mochi/pharmacy-checkout/internal/presentation/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config_load_failed", zap.Error(err))
	}

	baseLogger, err := logging.New(logging.Options{
		Service: cfg.ServiceName,
		Env:     cfg.Env,
		Level:   cfg.LogLevel,
		File:    cfg.LogFile,
	})
	if err != nil {
		zap.NewExample().Fatal("logger_init_failed", zap.Error(err))
	}
	defer func() { _ = baseLogger.Sync() }()
	zap.ReplaceGlobals(baseLogger)

	systemLogger := zaplogger.New(logging.WithTrace(baseLogger, logging.SystemTraceID, logging.SystemSpanID))
	logger := zaplogger.New(baseLogger)

	counters, histograms, err := prometrics.New(nil, "").Register(observability.Catalog)
	if err != nil {
		systemLogger.Error("metrics_register_failed", observability.F("error", err))
		os.Exit(1)
	}
	oteltrace.InstallPropagator()
	tel := infraobs.New(oteltrace.New(cfg.ServiceName), logger, counters, histograms)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, tel, systemLogger); err != nil {
		systemLogger.Error("service_failed", observability.F("error", err))
		_ = baseLogger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, tel observability.Observability, systemLogger observability.Logger) error {
	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	adp, err := buildAdapters(ctx, cfg, systemLogger)
	if err != nil {
		return err
	}
	defer adp.Close()

	if cfg.SeedDemoData {
		if err := adp.seed(ctx); err != nil {
			return err
		}
		systemLogger.Info("demo_data_seeded")
	}

	ids := id.UUIDs{}

	// In-memory event bus decoupling order lifecycle events from notification delivery.
	bus := outbox.NewBus(tel.Logger())
	bus.Start(ctx)

	ledger := appinv.NewLedger(adp.stock, ids, tel)
	carts := appcart.NewManager(adp.carts, adp.catalog, ledger, ids, nil, appcart.Config{
		Limits:   domcart.Limits{MaxItemQuantity: cfg.MaxItemQuantity, MaxTotalItems: cfg.MaxCartItems},
		Currency: cfg.Currency,
	}, tel)
	processor := apppay.NewProcessor(adp.payments, adp.gateway, adp.claims, ids, nil, tel)
	orch := checkout.New(checkout.Dependencies{
		Carts:     adp.carts,
		Orders:    adp.orders,
		Ledger:    ledger,
		Payments:  processor,
		Catalog:   adp.catalog,
		Directory: adp.directory,
		Claims:    adp.claims,
		IDs:       ids,
		Numbers:   id.NewOrderNumbers(),
		Publisher: bus,
	}, checkout.Config{
		CartTTL:        cfg.CartTTL,
		PaymentTimeout: cfg.PaymentTimeout,
		PaymentWindow:  cfg.PaymentWindow,
		IdempotencyTTL: cfg.IdempotencyTTL,
	}, tel)

	notifications := notification.NewWorker(
		workerpresentation.NewSubscriber(bus, tel.Logger(), "notification"),
		adp.notifier,
		tel,
	)
	notifications.Start()

	sweepCtx := workerpresentation.WithEventContext(ctx, tel.Logger(), map[string]string{"worker": "reconcile"})
	sweepDone := make(chan struct{})
	go func() {
		defer close(sweepDone)
		orch.SweepEvery(sweepCtx, cfg.SweepInterval)
	}()

	auth := httppresentation.NewAuthenticator(cfg.JWTSecret)
	if cfg.SeedDemoData && cfg.Env == "dev" {
		if tok, err := auth.Issue(demoUser.ID, "", 24*time.Hour); err == nil {
			systemLogger.Info("demo_token_issued", observability.F("user_id", demoUser.ID), observability.F("token", tok))
		}
	}
	handler := httppresentation.NewHandler(httppresentation.Deps{
		Carts:    carts,
		Checkout: orch,
		Webhooks: paypal.NewWebhookVerifier(cfg.WebhookSecret),
		Auth:     auth,
		Metrics:  promhttp.Handler(),
	}, tel)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.PaymentTimeout + 10*time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		systemLogger.Info("http_server_start", observability.F("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
	}
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		systemLogger.Error("http_server_shutdown_error", observability.F("error", err))
	} else {
		systemLogger.Info("http_server_stopped")
	}
	select {
	case <-sweepDone:
	case <-shutdownCtx.Done():
	}
	if err := bus.Stop(shutdownCtx); err != nil {
		systemLogger.Warn("event_bus_stop_incomplete", observability.F("error", err))
	}
	return runErr
}
