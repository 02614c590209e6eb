package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.MaxItemQuantity != 5 || cfg.MaxCartItems != 10 || cfg.PaymentWindow != 30*time.Minute {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.DatabaseURL != "" || cfg.UsePayPal() {
		t.Fatalf("adapters should default to memory: %+v", cfg)
	}
}

func TestLoadFromFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	body := "JWT_SECRET=from-file\nKAFKA_BROKERS=a:9092, b:9092\nCART_TTL=2h\nHTTP_ADDR=:9000\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("HTTP_ADDR", ":7000")
	// godotenv only fills unset variables
	for _, k := range []string{"JWT_SECRET", "KAFKA_BROKERS", "CART_TTL"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.JWTSecret != "from-file" || cfg.CartTTL != 2*time.Hour {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.HTTPAddr != ":7000" {
		t.Fatalf("environment must win, got %s", cfg.HTTPAddr)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("PAYMENT_WINDOW", "soon")
	t.Setenv("CART_MAX_ITEM_QUANTITY", "20")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err == nil {
		t.Fatal("want error")
	}
	for _, want := range []string{"JWT_SECRET", "PAYMENT_WINDOW", "cart caps"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadCartCaps(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{"defaults", nil, false},
		{"tighter caps", map[string]string{"CART_MAX_ITEM_QUANTITY": "2", "CART_MAX_ITEMS": "4"}, false},
		{"cart cap above ten", map[string]string{"CART_MAX_ITEMS": "50"}, true},
		{"item cap above ten", map[string]string{"CART_MAX_ITEM_QUANTITY": "11", "CART_MAX_ITEMS": "11"}, true},
		{"item cap above cart cap", map[string]string{"CART_MAX_ITEM_QUANTITY": "6", "CART_MAX_ITEMS": "5"}, true},
		{"zero item cap", map[string]string{"CART_MAX_ITEM_QUANTITY": "0"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "s3cret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
			if tt.wantErr {
				if err == nil || !strings.Contains(err.Error(), "CART_MAX_ITEMS") {
					t.Fatalf("want cap error, got %v (%+v)", err, cfg)
				}
				return
			}
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if cfg.MaxCartItems > 10 || cfg.MaxItemQuantity > cfg.MaxCartItems {
				t.Fatalf("caps = %d/%d", cfg.MaxItemQuantity, cfg.MaxCartItems)
			}
		})
	}
}

func TestLoadCartRetentionOutlivesTTL(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CART_TTL", "1h")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.CartRetention != 2*time.Hour {
		t.Fatalf("retention = %s, want 2h", cfg.CartRetention)
	}

	t.Setenv("CART_RETENTION", "30m")
	if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil || !strings.Contains(err.Error(), "CART_RETENTION") {
		t.Fatalf("want retention error, got %v", err)
	}
}

func TestLoadLogging(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("LOG_FILE", "/tmp/pharmacy.log")
	t.Setenv("LOG_LEVEL", "debug")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogFile != "/tmp/pharmacy.log" || cfg.LogLevel != "debug" {
		t.Fatalf("logging config = %q %q", cfg.LogFile, cfg.LogLevel)
	}
}
