// Package config reads process settings from the environment, optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// cartCapCeiling bounds both cart caps; a cart never holds more than ten units.
const cartCapCeiling = 10

type Config struct {
	ServiceName string
	Env         string
	HTTPAddr    string

	// LogFile, when set, receives a copy of every log line.
	LogFile  string
	LogLevel string

	// Empty values select the in-memory adapters.
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	KafkaBrokers  []string
	KafkaTopic    string

	JWTSecret     string
	WebhookSecret string

	PayPalBaseURL      string
	PayPalClientID     string
	PayPalClientSecret string

	Currency        string
	MaxItemQuantity int
	MaxCartItems    int

	CartTTL time.Duration
	// CartRetention is how long an idle cart is kept in Redis. It outlives CartTTL so that
	// checkout can still load the cart and report it expired.
	CartRetention   time.Duration
	PaymentTimeout  time.Duration
	PaymentWindow   time.Duration
	IdempotencyTTL  time.Duration
	SweepInterval   time.Duration
	ShutdownTimeout time.Duration

	SeedDemoData bool
}

// Load reads .env files (when present) and then the environment. Variables already set in
// the environment win over the files.
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	r := reader{}
	cfg := Config{
		ServiceName: r.str("SERVICE_NAME", "pharmacy-checkout"),
		Env:         r.str("ENV", "dev"),
		HTTPAddr:    r.str("HTTP_ADDR", ":8080"),

		LogFile:  r.str("LOG_FILE", ""),
		LogLevel: r.str("LOG_LEVEL", "info"),

		DatabaseURL:   r.str("DATABASE_URL", ""),
		RedisAddr:     r.str("REDIS_ADDR", ""),
		RedisPassword: r.str("REDIS_PASSWORD", ""),
		KafkaBrokers:  r.list("KAFKA_BROKERS"),
		KafkaTopic:    r.str("KAFKA_TOPIC", "order-notifications"),

		JWTSecret:     r.str("JWT_SECRET", ""),
		WebhookSecret: r.str("PAYMENT_WEBHOOK_SECRET", ""),

		PayPalBaseURL:      r.str("PAYPAL_BASE_URL", ""),
		PayPalClientID:     r.str("PAYPAL_CLIENT_ID", ""),
		PayPalClientSecret: r.str("PAYPAL_CLIENT_SECRET", ""),

		Currency:        r.str("CURRENCY", "USD"),
		MaxItemQuantity: r.integer("CART_MAX_ITEM_QUANTITY", 5),
		MaxCartItems:    r.integer("CART_MAX_ITEMS", 10),

		CartTTL:         r.duration("CART_TTL", 24*time.Hour),
		PaymentTimeout:  r.duration("PAYMENT_TIMEOUT", 15*time.Second),
		PaymentWindow:   r.duration("PAYMENT_WINDOW", 30*time.Minute),
		IdempotencyTTL:  r.duration("IDEMPOTENCY_TTL", time.Minute),
		SweepInterval:   r.duration("SWEEP_INTERVAL", time.Minute),
		ShutdownTimeout: r.duration("SHUTDOWN_TIMEOUT", 10*time.Second),

		SeedDemoData: r.boolean("SEED_DEMO_DATA", false),
	}

	if cfg.JWTSecret == "" {
		r.errs = append(r.errs, errors.New("JWT_SECRET is required"))
	}
	if cfg.MaxItemQuantity <= 0 || cfg.MaxCartItems < cfg.MaxItemQuantity || cfg.MaxCartItems > cartCapCeiling {
		r.errs = append(r.errs, fmt.Errorf("cart caps must satisfy 0 < CART_MAX_ITEM_QUANTITY <= CART_MAX_ITEMS <= %d", cartCapCeiling))
	}
	cfg.CartRetention = r.duration("CART_RETENTION", 2*cfg.CartTTL)
	if cfg.CartRetention <= cfg.CartTTL {
		r.errs = append(r.errs, errors.New("CART_RETENTION must exceed CART_TTL"))
	}
	if err := errors.Join(r.errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// UsePayPal reports whether real PayPal credentials are configured.
func (c Config) UsePayPal() bool { return c.PayPalClientID != "" && c.PayPalClientSecret != "" }

type reader struct {
	errs []error
}

func (r *reader) str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *reader) list(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (r *reader) integer(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) boolean(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		r.errs = append(r.errs, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}
