package checkout

import (
	"context"
	"time"

	appinv "github.com/Zhima-Mochi/pharmacy-checkout/internal/application/inventory"
	apppay "github.com/Zhima-Mochi/pharmacy-checkout/internal/application/payment"
	dominv "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/inventory"
	dompay "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/payment"
)

type StockLedger interface {
	Available(ctx context.Context, pharmacyID, medicineID string) (int, error)
	Reserve(ctx context.Context, in appinv.ReserveInput) (*dominv.Reservation, error)
	Release(ctx context.Context, token string) error
	Commit(ctx context.Context, token string) error
	Get(ctx context.Context, token string) (*dominv.Reservation, error)
	HeldBefore(ctx context.Context, t time.Time) ([]*dominv.Reservation, error)
}

type PaymentProcessor interface {
	Charge(ctx context.Context, in apppay.ChargeInput) (*apppay.ChargeResult, error)
	ApplyEvent(ctx context.Context, evt apppay.Event) (*apppay.EventResult, error)
	Expire(ctx context.Context, orderID, reason string) (*dompay.Payment, error)
	Status(ctx context.Context, orderID string) (*dompay.Payment, error)
}

type NumberGenerator interface {
	NewOrderNumber() string
}
