package zaplogger

import (
	"errors"
	"testing"

	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerCarriesFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := New(zap.New(core), observability.F("service", "checkout"))

	log.With(observability.F("order_id", "o-1")).Warn("stock_release_failed",
		observability.F("error", errors.New("boom")),
	)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["service"] != "checkout" || fields["order_id"] != "o-1" {
		t.Fatalf("unexpected fields: %v", fields)
	}
	if fields["error"] != "boom" {
		t.Fatalf("expected error field, got %v", fields["error"])
	}
}
