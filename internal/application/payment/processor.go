package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/pharmacy-checkout/internal/application"
	domorder "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/order"
	domain "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability/instrument"

	"go.opentelemetry.io/otel/attribute"
)

const (
	paymentService    = "payment-service"
	useCaseCharge     = "payment.charge"
	useCaseApplyEvent = "payment.apply_event"
	useCaseExpire     = "payment.expire"
	gatewayPeer       = "paypal"
	gatewayEndpoint   = "verify"
	defaultDedupTTL   = 72 * time.Hour

	ReasonDeclined     = "payment_declined"
	ReasonGatewayError = "gateway_error"
)

var (
	ErrRepository         = errors.New("payment: repository failure")
	ErrMissingIdentifiers = errors.New("payment: payer_id and payment_id are required")
)

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomePending   Outcome = "pending"
)

// Processor charges orders and applies gateway events. Every status change goes through a
// compare-and-set update, so a replayed confirmation or webhook never applies twice.
type Processor struct {
	payments domain.Repository
	gateway  domain.Gateway
	dedup    application.IdempotencyStore
	ids      application.IDGenerator
	now      application.Clock
	dedupTTL time.Duration
	obs      *instrument.Instruments
}

func NewProcessor(
	payments domain.Repository,
	gateway domain.Gateway,
	dedup application.IdempotencyStore,
	ids application.IDGenerator,
	clock application.Clock,
	tel observability.Observability,
) *Processor {
	if clock == nil {
		clock = application.SystemClock
	}
	return &Processor{
		payments: payments,
		gateway:  gateway,
		dedup:    dedup,
		ids:      ids,
		now:      clock,
		dedupTTL: defaultDedupTTL,
		obs:      instrument.New(tel, paymentService),
	}
}

type ChargeInput struct {
	Order     *domorder.Order
	PayerID   string
	PaymentID string
	// Confirm requires gateway identifiers; without them a paypal charge stays pending.
	Confirm bool
}

type ChargeResult struct {
	Payment *domain.Payment
	Outcome Outcome
	Reason  string
}

// Charge dispatches on the order's payment method. A gateway fault marks the payment failed
// and is returned wrapped in domain.ErrGatewayUnavailable alongside the result.
func (p *Processor) Charge(ctx context.Context, in ChargeInput) (_ *ChargeResult, err error) {
	o := in.Order
	ctx, run := p.obs.Start(ctx, useCaseCharge, "ChargeOrder",
		attribute.String("order.id", o.ID),
		attribute.String("payment.method", string(o.PaymentMethod)),
		attribute.Int64("payment.amount", o.TotalAmount),
	)
	defer func() { run.End(err) }()

	switch domain.Method(o.PaymentMethod) {
	case domain.MethodCash:
		res, err := p.chargeCash(ctx, o)
		if err != nil {
			run.Fail("CASH_CHARGE_FAILED")
			return nil, err
		}
		return res, nil
	case domain.MethodPayPal:
		if in.PayerID == "" || in.PaymentID == "" {
			if in.Confirm {
				run.Fail("IDENTIFIERS_REQUIRED")
				return nil, ErrMissingIdentifiers
			}
			pay, err := p.openPayment(ctx, o, "", "")
			if err != nil {
				run.Fail("PAYMENT_INSERT_FAILED")
				return nil, err
			}
			run.Status("AWAITING_CONFIRMATION")
			return &ChargeResult{Payment: pay, Outcome: OutcomePending}, nil
		}
		res, err := p.chargePayPal(ctx, o, in.PayerID, in.PaymentID)
		if err != nil {
			run.Fail(statusFor(err))
			return res, err
		}
		if res.Outcome == OutcomeFailed {
			run.Status("DECLINED")
		}
		return res, nil
	default:
		run.Fail("METHOD_UNSUPPORTED")
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedMethod, o.PaymentMethod)
	}
}

func (p *Processor) chargeCash(ctx context.Context, o *domorder.Order) (*ChargeResult, error) {
	now := p.now()
	pay, err := domain.New(p.ids.NewID(), o.ID, domain.MethodCash, o.TotalAmount, o.Currency, now)
	if err != nil {
		return nil, err
	}
	pay.TransactionID = "CASH-" + pay.ID
	if _, err := pay.Transition(domain.StatusCompleted, "", now); err != nil {
		return nil, err
	}
	if err := p.payments.Insert(ctx, pay); err != nil {
		return nil, wrapRepositoryError(err)
	}
	return &ChargeResult{Payment: pay, Outcome: OutcomeCompleted}, nil
}

// openPayment returns the order's pending payment, creating one when none is open.
func (p *Processor) openPayment(ctx context.Context, o *domorder.Order, payerID, paymentID string) (*domain.Payment, error) {
	latest, err := p.payments.LatestForOrder(ctx, o.ID)
	switch {
	case err == nil && latest.Status == domain.StatusPending:
		if paymentID == "" || latest.TransactionID == paymentID {
			return latest, nil
		}
		if latest.TransactionID == "" {
			latest.TransactionID, latest.PayerID = paymentID, payerID
			latest.UpdatedAt = p.now()
			if err := p.payments.Update(ctx, latest, domain.StatusPending); err != nil {
				return nil, wrapRepositoryError(err)
			}
			return latest, nil
		}
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return nil, wrapRepositoryError(err)
	}

	pay, err := domain.New(p.ids.NewID(), o.ID, domain.MethodPayPal, o.TotalAmount, o.Currency, p.now())
	if err != nil {
		return nil, err
	}
	pay.TransactionID, pay.PayerID = paymentID, payerID
	if err := p.payments.Insert(ctx, pay); err != nil {
		return nil, wrapRepositoryError(err)
	}
	return pay, nil
}

func (p *Processor) chargePayPal(ctx context.Context, o *domorder.Order, payerID, paymentID string) (*ChargeResult, error) {
	pay, err := p.openPayment(ctx, o, payerID, paymentID)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	v, verr := p.gateway.Verify(ctx, domain.VerifyRequest{
		PaymentID: paymentID,
		PayerID:   payerID,
		Amount:    o.TotalAmount,
		Currency:  o.Currency,
	})
	// the gateway call may have consumed the caller's deadline; the outcome must still be stored
	ctx = context.WithoutCancel(ctx)
	switch {
	case verr != nil:
		p.obs.External(gatewayPeer, gatewayEndpoint, "error", started)
		if _, err := p.settle(ctx, pay, domain.StatusFailed, ReasonGatewayError); err != nil {
			return nil, err
		}
		return &ChargeResult{Payment: pay, Outcome: OutcomeFailed, Reason: ReasonGatewayError},
			fmt.Errorf("%w: %w", domain.ErrGatewayUnavailable, verr)
	case !v.Approved:
		p.obs.External(gatewayPeer, gatewayEndpoint, "declined", started)
		if _, err := p.settle(ctx, pay, domain.StatusFailed, ReasonDeclined); err != nil {
			return nil, err
		}
		return &ChargeResult{Payment: pay, Outcome: OutcomeFailed, Reason: ReasonDeclined}, nil
	}

	p.obs.External(gatewayPeer, gatewayEndpoint, "success", started)
	if _, err := p.settle(ctx, pay, domain.StatusCompleted, ""); err != nil {
		return nil, err
	}
	return &ChargeResult{Payment: pay, Outcome: OutcomeCompleted}, nil
}

// settle moves pay to status with a compare-and-set write. When another writer won the
// race, pay is refreshed and changed is false.
func (p *Processor) settle(ctx context.Context, pay *domain.Payment, to domain.Status, reason string) (changed bool, err error) {
	for attempt := 0; attempt < 2; attempt++ {
		from := pay.Status
		changed, err = pay.Transition(to, reason, p.now())
		if err != nil || !changed {
			return changed, err
		}
		err = p.payments.Update(ctx, pay, from)
		if !errors.Is(err, domain.ErrConflict) {
			return changed, wrapRepositoryError(err)
		}
		var fresh *domain.Payment
		var ferr error
		if pay.TransactionID != "" {
			fresh, ferr = p.payments.FindByTransactionID(ctx, pay.TransactionID)
		} else {
			fresh, ferr = p.payments.LatestForOrder(ctx, pay.OrderID)
		}
		if ferr != nil {
			return false, wrapRepositoryError(ferr)
		}
		*pay = *fresh
	}
	return false, domain.ErrConflict
}

// Event is a gateway notification about a transaction.
type Event struct {
	ID            string
	TransactionID string
	Status        domain.Status
}

type EventResult struct {
	Payment  *domain.Payment
	Previous domain.Status
	Changed  bool
	Ignored  string
}

// ApplyEvent applies a webhook event exactly once. Unknown transactions and duplicate
// deliveries are acknowledged and ignored.
func (p *Processor) ApplyEvent(ctx context.Context, evt Event) (_ *EventResult, err error) {
	ctx, run := p.obs.Start(ctx, useCaseApplyEvent, "ApplyPaymentEvent",
		attribute.String("payment.transaction_id", evt.TransactionID),
		attribute.String("payment.event_status", string(evt.Status)),
	)
	defer func() { run.End(err) }()

	if evt.TransactionID == "" {
		run.Fail("TRANSACTION_ID_REQUIRED")
		return nil, application.Validation("transaction_id is required")
	}
	switch evt.Status {
	case domain.StatusCompleted, domain.StatusFailed, domain.StatusRefunded:
	default:
		run.Fail("STATUS_UNSUPPORTED")
		return nil, application.Validation(fmt.Sprintf("unsupported status %q", evt.Status))
	}

	dedupKey := ""
	if evt.ID != "" && p.dedup != nil {
		dedupKey = "payment-event:" + evt.ID
		claimed, cerr := p.dedup.Claim(ctx, dedupKey, p.dedupTTL)
		if cerr != nil {
			run.Fail("DEDUP_CLAIM_FAILED")
			return nil, fmt.Errorf("payment: claim event: %w", cerr)
		}
		if !claimed {
			run.Status("DUPLICATE_EVENT")
			return &EventResult{Ignored: "duplicate_event"}, nil
		}
	}
	defer func() {
		if err != nil && dedupKey != "" {
			_ = p.dedup.Release(context.WithoutCancel(ctx), dedupKey)
		}
	}()

	pay, err := p.payments.FindByTransactionID(ctx, evt.TransactionID)
	if errors.Is(err, domain.ErrNotFound) {
		run.Status("UNKNOWN_TRANSACTION")
		return &EventResult{Ignored: "unknown_transaction"}, nil
	}
	if err != nil {
		run.Fail("PAYMENT_LOOKUP_FAILED")
		return nil, wrapRepositoryError(err)
	}

	previous := pay.Status
	changed, err := p.settle(ctx, pay, evt.Status, "webhook")
	if errors.Is(err, domain.ErrInvalidTransition) {
		run.Status("INVALID_TRANSITION")
		run.Logger().Warn("payment_event_rejected",
			observability.F("payment_id", pay.ID),
			observability.F("from", string(previous)),
			observability.F("to", string(evt.Status)),
		)
		return &EventResult{Payment: pay, Previous: previous, Ignored: "invalid_transition"}, nil
	}
	if err != nil {
		run.Fail("PAYMENT_UPDATE_FAILED")
		return nil, err
	}
	if !changed {
		run.Status("ALREADY_APPLIED")
	}
	run.Annotate(observability.F("order_id", pay.OrderID), observability.F("payment_id", pay.ID))
	return &EventResult{Payment: pay, Previous: previous, Changed: changed}, nil
}

// Expire fails the order's pending payment. A payment that completed meanwhile is returned
// unchanged so the caller can finalize instead of compensate.
func (p *Processor) Expire(ctx context.Context, orderID, reason string) (_ *domain.Payment, err error) {
	ctx, run := p.obs.Start(ctx, useCaseExpire, "ExpirePayment", attribute.String("order.id", orderID))
	defer func() { run.End(err) }()

	pay, err := p.payments.LatestForOrder(ctx, orderID)
	if errors.Is(err, domain.ErrNotFound) {
		run.Status("NO_PAYMENT")
		return nil, nil
	}
	if err != nil {
		run.Fail("PAYMENT_LOOKUP_FAILED")
		return nil, wrapRepositoryError(err)
	}
	if pay.Status != domain.StatusPending {
		run.Status("NOT_PENDING")
		return pay, nil
	}
	if _, err := p.settle(ctx, pay, domain.StatusFailed, reason); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			run.Status("NOT_PENDING")
			return pay, nil
		}
		run.Fail("PAYMENT_UPDATE_FAILED")
		return nil, err
	}
	return pay, nil
}

// Status returns the latest payment recorded for the order.
func (p *Processor) Status(ctx context.Context, orderID string) (*domain.Payment, error) {
	pay, err := p.payments.LatestForOrder(ctx, orderID)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return pay, nil
}

func wrapRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrConflict):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrGatewayUnavailable):
		return "GATEWAY_UNAVAILABLE"
	case errors.Is(err, domain.ErrConflict):
		return "PAYMENT_CONFLICT"
	case errors.Is(err, domain.ErrInvalidTransition):
		return "INVALID_TRANSITION"
	default:
		return "INTERNAL"
	}
}
