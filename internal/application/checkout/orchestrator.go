package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Zhima-Mochi/pharmacy-checkout/internal/application"
	appinv "github.com/Zhima-Mochi/pharmacy-checkout/internal/application/inventory"
	apppay "github.com/Zhima-Mochi/pharmacy-checkout/internal/application/payment"
	domcart "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/cart"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/catalog"
	dominv "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/order"
	domoutbox "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/outbox"
	dompay "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability/instrument"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

const (
	checkoutService     = "checkout-service"
	useCaseCheckout     = "checkout.place_order"
	useCaseConfirm      = "checkout.confirm_paypal"
	useCasePaymentEvent = "checkout.payment_event"
	useCaseCancel       = "order.cancel"
	useCaseComplete     = "order.complete"
	publishPeer         = "outbox"
	publishTimeout      = 300 * time.Millisecond
	catalogConcurrency  = 8

	ReasonPaymentFailed   = "payment_failed"
	ReasonCancelledByUser = "cancelled_by_user"
	ReasonWindowElapsed   = "payment_window_elapsed"
)

type Config struct {
	CartTTL        time.Duration
	PaymentTimeout time.Duration
	PaymentWindow  time.Duration
	IdempotencyTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.CartTTL == 0 {
		c.CartTTL = 24 * time.Hour
	}
	if c.PaymentTimeout == 0 {
		c.PaymentTimeout = 15 * time.Second
	}
	if c.PaymentWindow == 0 {
		c.PaymentWindow = 30 * time.Minute
	}
	if c.IdempotencyTTL == 0 {
		c.IdempotencyTTL = time.Minute
	}
	return c
}

type Dependencies struct {
	Carts     domcart.Repository
	Orders    domorder.Repository
	Ledger    StockLedger
	Payments  PaymentProcessor
	Catalog   catalog.Reader
	Directory catalog.Directory
	Claims    application.IdempotencyStore
	IDs       application.IDGenerator
	Numbers   NumberGenerator
	Publisher domoutbox.Publisher
	Clock     application.Clock
}

// Orchestrator runs the checkout saga: reserve stock, materialize the order, charge, then
// commit or compensate. No database transaction is held across the payment call.
type Orchestrator struct {
	carts     domcart.Repository
	orders    domorder.Repository
	ledger    StockLedger
	payments  PaymentProcessor
	catalog   catalog.Reader
	directory catalog.Directory
	claims    application.IdempotencyStore
	ids       application.IDGenerator
	numbers   NumberGenerator
	publisher domoutbox.Publisher
	now       application.Clock
	cfg       Config

	obs       *instrument.Instruments
	reconcile observability.Counter // reconcile_actions_total{action}
}

func New(deps Dependencies, cfg Config, tel observability.Observability) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = application.SystemClock
	}
	obs := instrument.New(tel, checkoutService)
	return &Orchestrator{
		carts:     deps.Carts,
		orders:    deps.Orders,
		ledger:    deps.Ledger,
		payments:  deps.Payments,
		catalog:   deps.Catalog,
		directory: deps.Directory,
		claims:    deps.Claims,
		ids:       deps.IDs,
		numbers:   deps.Numbers,
		publisher: deps.Publisher,
		now:       deps.Clock,
		cfg:       cfg.withDefaults(),
		obs:       obs,
		reconcile: obs.Metrics().Counter(observability.MReconcileActions),
	}
}

type Input struct {
	UserID          string
	PharmacyID      string
	IdempotencyKey  string
	PaymentMethod   domorder.PaymentMethod
	BillingAddress  domorder.Address
	ShippingAddress domorder.Address
	PayerID         string
	PaymentID       string
}

type Result struct {
	Order         *domorder.Order
	PaymentStatus dompay.Status
	TransactionID string
	Replayed      bool
}

// Checkout turns the caller's cart at the pharmacy into a paid or pending order.
func (o *Orchestrator) Checkout(ctx context.Context, in Input) (_ *Result, err error) {
	ctx, run := o.obs.Start(ctx, useCaseCheckout, "Checkout",
		attribute.String("pharmacy.id", in.PharmacyID),
		attribute.String("payment.method", string(in.PaymentMethod)),
		attribute.Bool("idempotent", in.IdempotencyKey != ""),
	)
	defer func() { run.End(err) }()

	switch {
	case in.UserID == "":
		run.Fail("UNAUTHENTICATED")
		return nil, application.ErrUnauthenticated
	case in.PharmacyID == "":
		run.Fail("PHARMACY_ID_REQUIRED")
		return nil, application.Validation("pharmacy id is required")
	case !in.PaymentMethod.Valid():
		run.Fail("PAYMENT_METHOD_INVALID")
		return nil, application.Validation("payment_method must be cash or paypal")
	case !in.BillingAddress.Complete():
		run.Fail("BILLING_ADDRESS_INVALID")
		return nil, application.Validation("billing_address requires line1, city and country")
	}
	if in.ShippingAddress == (domorder.Address{}) {
		in.ShippingAddress = in.BillingAddress
	}
	if err := ctx.Err(); err != nil {
		run.Fail("CONTEXT_CANCELED")
		return nil, err
	}

	inserted := false
	if in.IdempotencyKey != "" {
		if res, ok, err := o.replay(ctx, in.UserID, in.IdempotencyKey); err != nil {
			run.Fail("IDEMPOTENCY_LOOKUP_FAILED")
			return nil, err
		} else if ok {
			run.Status("IDEMPOTENT_REPLAY")
			return res, nil
		}

		claimKey := "checkout:" + in.UserID + ":" + in.IdempotencyKey
		claimed, err := o.claims.Claim(ctx, claimKey, o.cfg.IdempotencyTTL)
		if err != nil {
			run.Fail("IDEMPOTENCY_CLAIM_FAILED")
			return nil, fmt.Errorf("checkout: claim idempotency key: %w", err)
		}
		if !claimed {
			if res, ok, _ := o.replay(ctx, in.UserID, in.IdempotencyKey); ok {
				run.Status("IDEMPOTENT_REPLAY")
				return res, nil
			}
			run.Fail("IN_PROGRESS")
			return nil, ErrCheckoutInProgress
		}
		defer func() {
			if !inserted {
				_ = o.claims.Release(context.WithoutCancel(ctx), claimKey)
			}
		}()
	}

	c, err := o.carts.Get(ctx, in.UserID, in.PharmacyID)
	switch {
	case errors.Is(err, domcart.ErrNotFound):
		run.Fail("CART_NOT_FOUND")
		return nil, domcart.ErrNotFound
	case err != nil:
		run.Fail("CART_LOOKUP_FAILED")
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	case c.UserID != in.UserID:
		run.Fail("CART_NOT_OWNED")
		return nil, application.ErrForbidden
	case c.Empty():
		run.Fail("CART_EMPTY")
		return nil, domcart.ErrEmpty
	case c.Expired(o.cfg.CartTTL, o.now()):
		run.Fail("CART_EXPIRED")
		return nil, domcart.ErrExpired
	}

	if err := o.verifyParties(ctx, in.UserID, in.PharmacyID); err != nil {
		run.Fail(statusFor(err))
		return nil, err
	}
	if err := o.revalidatePrices(ctx, c); err != nil {
		run.Fail(statusFor(err))
		return nil, err
	}

	orderID := o.ids.NewID()
	run.Annotate(observability.F("order_id", orderID))

	tokens, err := o.reserveAll(ctx, orderID, c)
	if err != nil {
		run.Fail(statusFor(err))
		return nil, err
	}

	items := make([]domorder.Item, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, domorder.Item{
			MedicineID:  it.MedicineID,
			Name:        it.Name,
			Quantity:    it.Quantity,
			PriceAtTime: it.PriceAtTime,
		})
	}
	now := o.now()
	ord, err := domorder.New(domorder.Draft{
		ID:              orderID,
		Number:          o.numbers.NewOrderNumber(),
		UserID:          in.UserID,
		PharmacyID:      in.PharmacyID,
		CartID:          c.ID,
		IdempotencyKey:  in.IdempotencyKey,
		PaymentMethod:   in.PaymentMethod,
		BillingAddress:  in.BillingAddress,
		ShippingAddress: in.ShippingAddress,
		Currency:        c.Currency,
		Items:           items,
	}, now)
	if err == nil {
		ord.Reservations = tokens
		err = ord.MarkPending(domorder.Readiness{StockReserved: true, UserVerified: true, PharmacyVerified: true}, now)
	}
	if err != nil {
		o.releaseAll(ctx, tokens)
		run.Fail("ORDER_CONSTRUCTION_FAILED")
		return nil, fmt.Errorf("checkout: construct order: %w", err)
	}

	if err := o.orders.Insert(ctx, ord); err != nil {
		o.releaseAll(ctx, tokens)
		if errors.Is(err, domorder.ErrConflict) && in.IdempotencyKey != "" {
			if res, ok, _ := o.replay(ctx, in.UserID, in.IdempotencyKey); ok {
				run.Status("IDEMPOTENT_REPLAY")
				return res, nil
			}
		}
		run.Fail("ORDER_INSERT_FAILED")
		return nil, fmt.Errorf("%w: %w", ErrRepository, err)
	}
	inserted = true
	run.Event("order.pending", attribute.String("order.id", ord.ID), attribute.String("order.number", ord.Number))

	res, err := o.charge(ctx, ord, in.PayerID, in.PaymentID, false)
	if err != nil {
		run.Fail(statusFor(err))
		return res, err
	}
	run.Status("ORDER_" + string(res.Order.Status))
	return res, nil
}

type ConfirmInput struct {
	UserID     string
	PharmacyID string
	OrderID    string
	PayerID    string
	PaymentID  string
}

// ConfirmPayPal verifies the client-approved payment with the gateway and settles the order.
// Replaying a confirmation that already succeeded returns the settled order.
func (o *Orchestrator) ConfirmPayPal(ctx context.Context, in ConfirmInput) (_ *Result, err error) {
	ctx, run := o.obs.Start(ctx, useCaseConfirm, "ConfirmPayPal", attribute.String("order.id", in.OrderID))
	defer func() { run.End(err) }()

	if in.UserID == "" {
		run.Fail("UNAUTHENTICATED")
		return nil, application.ErrUnauthenticated
	}
	if in.OrderID == "" || in.PayerID == "" || in.PaymentID == "" {
		run.Fail("IDENTIFIERS_REQUIRED")
		return nil, application.Validation("order_id, payer_id and payment_id are required")
	}

	ord, err := o.ownedOrder(ctx, in.UserID, in.OrderID)
	if err == nil && in.PharmacyID != "" && ord.PharmacyID != in.PharmacyID {
		err = domorder.ErrNotFound
	}
	if err != nil {
		run.Fail(statusFor(err))
		return nil, err
	}
	if ord.PaymentMethod != domorder.PaymentPayPal {
		run.Fail("NOT_PAYPAL")
		return nil, application.Validation("order was not placed with paypal")
	}

	if ord.Status != domorder.StatusPending {
		pay, perr := o.payments.Status(ctx, ord.ID)
		if perr == nil && pay.Status == dompay.StatusCompleted && pay.TransactionID == in.PaymentID {
			run.Status("IDEMPOTENT_REPLAY")
			return &Result{Order: ord, PaymentStatus: pay.Status, TransactionID: pay.TransactionID, Replayed: true}, nil
		}
		run.Fail("ORDER_NOT_PENDING")
		return nil, ErrOrderNotPending
	}

	res, err := o.charge(ctx, ord, in.PayerID, in.PaymentID, true)
	if err != nil {
		run.Fail(statusFor(err))
		return res, err
	}
	return res, nil
}

// HandlePaymentEvent applies a gateway webhook and settles the order it belongs to.
func (o *Orchestrator) HandlePaymentEvent(ctx context.Context, evt apppay.Event) (_ *apppay.EventResult, err error) {
	ctx, run := o.obs.Start(ctx, useCasePaymentEvent, "HandlePaymentEvent",
		attribute.String("payment.transaction_id", evt.TransactionID),
	)
	defer func() { run.End(err) }()

	res, err := o.payments.ApplyEvent(ctx, evt)
	if err != nil {
		run.Fail("APPLY_FAILED")
		return nil, err
	}
	if res.Ignored != "" || !res.Changed {
		run.Status("NO_EFFECT")
		return res, nil
	}

	ord, err := o.orders.Get(ctx, res.Payment.OrderID)
	if err != nil {
		run.Fail("ORDER_LOOKUP_FAILED")
		return res, fmt.Errorf("checkout: order for payment %s: %w", res.Payment.ID, err)
	}
	run.Annotate(observability.F("order_id", ord.ID))

	switch res.Payment.Status {
	case dompay.StatusCompleted:
		switch ord.Status {
		case domorder.StatusPending:
			if _, err := o.finalize(ctx, ord, res.Payment); err != nil {
				run.Fail("FINALIZE_FAILED")
				return res, err
			}
		case domorder.StatusCancelled:
			o.reconcile.Add(1, observability.L("action", "paid_after_cancel"))
			run.Logger().Error("payment_completed_for_cancelled_order",
				observability.F("order_id", ord.ID),
				observability.F("payment_id", res.Payment.ID),
			)
		}
	case dompay.StatusFailed:
		if ord.Status == domorder.StatusPending {
			if _, err := o.compensate(ctx, ord, ReasonPaymentFailed); err != nil {
				run.Fail("COMPENSATE_FAILED")
				return res, err
			}
		}
	case dompay.StatusRefunded:
		run.Status("REFUNDED")
	}
	return res, nil
}

// CancelOrder lets the owner abandon an order that is still awaiting payment.
func (o *Orchestrator) CancelOrder(ctx context.Context, userID, orderID string) (_ *domorder.Order, err error) {
	ctx, run := o.obs.Start(ctx, useCaseCancel, "CancelOrder", attribute.String("order.id", orderID))
	defer func() { run.End(err) }()

	ord, err := o.ownedOrder(ctx, userID, orderID)
	if err != nil {
		run.Fail(statusFor(err))
		return nil, err
	}
	if ord.Status != domorder.StatusPending {
		run.Fail("ORDER_NOT_PENDING")
		return nil, fmt.Errorf("%w: cannot cancel a %s order", domorder.ErrInvalidTransition, ord.Status)
	}
	res, err := o.compensate(ctx, ord, ReasonCancelledByUser)
	if err != nil {
		run.Fail("COMPENSATE_FAILED")
		return nil, err
	}
	if res.Order.Status != domorder.StatusCancelled {
		run.Fail("ALREADY_PAID")
		return nil, fmt.Errorf("%w: order was paid before it could be cancelled", domorder.ErrInvalidTransition)
	}
	return res.Order, nil
}

// CompleteOrder records pharmacy fulfillment of a paid order.
func (o *Orchestrator) CompleteOrder(ctx context.Context, orderID string) (_ *domorder.Order, err error) {
	ctx, run := o.obs.Start(ctx, useCaseComplete, "CompleteOrder", attribute.String("order.id", orderID))
	defer func() { run.End(err) }()

	ord, err := o.orders.Get(ctx, orderID)
	if err != nil {
		run.Fail(statusFor(err))
		return nil, wrapOrderError(err)
	}
	from := ord.Status
	if err := ord.MarkCompleted(o.now()); err != nil {
		run.Fail("INVALID_TRANSITION")
		return nil, err
	}
	if err := o.orders.Update(ctx, ord, from); err != nil {
		run.Fail("ORDER_UPDATE_FAILED")
		return nil, wrapOrderError(err)
	}
	o.publish(ctx, domorder.NewCompletedEvent(ord))
	return ord, nil
}

// Order returns an order owned by userID.
func (o *Orchestrator) Order(ctx context.Context, userID, orderID string) (*domorder.Order, error) {
	return o.ownedOrder(ctx, userID, orderID)
}

// PaymentStatus returns the latest payment of an order owned by userID.
func (o *Orchestrator) PaymentStatus(ctx context.Context, userID, orderID string) (*dompay.Payment, error) {
	if _, err := o.ownedOrder(ctx, userID, orderID); err != nil {
		return nil, err
	}
	pay, err := o.payments.Status(ctx, orderID)
	if err != nil {
		if errors.Is(err, dompay.ErrNotFound) {
			return nil, dompay.ErrNotFound
		}
		return nil, err
	}
	return pay, nil
}

func (o *Orchestrator) ownedOrder(ctx context.Context, userID, orderID string) (*domorder.Order, error) {
	if userID == "" {
		return nil, application.ErrUnauthenticated
	}
	ord, err := o.orders.Get(ctx, orderID)
	if err != nil {
		return nil, wrapOrderError(err)
	}
	if ord.UserID != userID {
		return nil, domorder.ErrNotFound
	}
	return ord, nil
}

func (o *Orchestrator) replay(ctx context.Context, userID, key string) (*Result, bool, error) {
	existing, err := o.orders.FindByIdempotency(ctx, userID, key)
	switch {
	case errors.Is(err, domorder.ErrNotFound):
		return nil, false, nil
	case err != nil:
		return nil, false, fmt.Errorf("%w: %w", ErrRepository, err)
	}
	res := &Result{Order: existing, Replayed: true}
	if pay, err := o.payments.Status(ctx, existing.ID); err == nil {
		res.PaymentStatus, res.TransactionID = pay.Status, pay.TransactionID
	}
	return res, true, nil
}

func (o *Orchestrator) verifyParties(ctx context.Context, userID, pharmacyID string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := o.catalog.GetPharmacy(gctx, pharmacyID)
		if errors.Is(err, catalog.ErrNotFound) {
			return ErrPharmacyNotVerified
		}
		if err != nil {
			return fmt.Errorf("checkout: pharmacy lookup: %w", err)
		}
		if !p.Open() {
			return ErrPharmacyNotVerified
		}
		return nil
	})
	g.Go(func() error {
		u, err := o.directory.GetUser(gctx, userID)
		if errors.Is(err, catalog.ErrNotFound) {
			return application.ErrUnauthenticated
		}
		if err != nil {
			return fmt.Errorf("checkout: user lookup: %w", err)
		}
		if !u.EmailVerified {
			return ErrEmailNotVerified
		}
		return nil
	})
	return g.Wait()
}

// revalidatePrices compares every frozen cart price with the catalog concurrently.
func (o *Orchestrator) revalidatePrices(ctx context.Context, c *domcart.Cart) error {
	current := make([]int64, len(c.Items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(catalogConcurrency)
	for i, it := range c.Items {
		g.Go(func() error {
			med, err := o.catalog.GetMedicine(gctx, c.PharmacyID, it.MedicineID)
			if errors.Is(err, catalog.ErrNotFound) {
				return &InsufficientStockError{Items: []UnavailableItem{{
					MedicineID: it.MedicineID, Name: it.Name, Requested: it.Quantity,
				}}}
			}
			if err != nil {
				return fmt.Errorf("checkout: medicine %s lookup: %w", it.MedicineID, err)
			}
			current[i] = med.Price
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var changes []PriceChange
	for i, it := range c.Items {
		if current[i] != it.PriceAtTime {
			changes = append(changes, PriceChange{MedicineID: it.MedicineID, Frozen: it.PriceAtTime, Current: current[i]})
		}
	}
	if len(changes) > 0 {
		return &PriceChangedError{Items: changes}
	}
	return nil
}

// reserveAll reserves every cart line. On the first failure it releases what it already
// holds and reports every line the pharmacy cannot cover.
func (o *Orchestrator) reserveAll(ctx context.Context, orderID string, c *domcart.Cart) ([]string, error) {
	tokens := make([]string, 0, len(c.Items))
	for i, it := range c.Items {
		r, err := o.ledger.Reserve(ctx, appinv.ReserveInput{
			OrderID:    orderID,
			PharmacyID: c.PharmacyID,
			MedicineID: it.MedicineID,
			Quantity:   it.Quantity,
		})
		if err == nil {
			tokens = append(tokens, r.Token)
			continue
		}

		o.releaseAll(ctx, tokens)
		var ise *dominv.InsufficientStockError
		if !errors.As(err, &ise) {
			return nil, err
		}
		unavailable := []UnavailableItem{{MedicineID: it.MedicineID, Name: it.Name, Requested: it.Quantity, Available: ise.Available}}
		for _, rest := range c.Items[i+1:] {
			avail, aerr := o.ledger.Available(ctx, c.PharmacyID, rest.MedicineID)
			if aerr == nil && avail < rest.Quantity {
				unavailable = append(unavailable, UnavailableItem{
					MedicineID: rest.MedicineID, Name: rest.Name, Requested: rest.Quantity, Available: avail,
				})
			}
		}
		return nil, &InsufficientStockError{Items: unavailable}
	}
	return tokens, nil
}

func (o *Orchestrator) releaseAll(ctx context.Context, tokens []string) {
	ctx = context.WithoutCancel(ctx)
	for _, t := range tokens {
		if err := o.ledger.Release(ctx, t); err != nil {
			o.obs.Logger(ctx).Error("stock_release_failed",
				observability.F("reservation", t),
				observability.F("error", err),
			)
		}
	}
}

// charge runs the payment step of the saga and settles the order accordingly.
func (o *Orchestrator) charge(ctx context.Context, ord *domorder.Order, payerID, paymentID string, confirm bool) (*Result, error) {
	chargeCtx, cancel := context.WithTimeout(ctx, o.cfg.PaymentTimeout)
	res, err := o.payments.Charge(chargeCtx, apppay.ChargeInput{
		Order:     ord,
		PayerID:   payerID,
		PaymentID: paymentID,
		Confirm:   confirm,
	})
	cancel()

	switch {
	case errors.Is(err, apppay.ErrMissingIdentifiers):
		return nil, application.Validation("payer_id and payment_id are required")
	case err == nil && res.Outcome == apppay.OutcomePending:
		return &Result{Order: ord, PaymentStatus: res.Payment.Status, TransactionID: res.Payment.TransactionID}, nil
	case err == nil && res.Outcome == apppay.OutcomeCompleted:
		return o.finalize(ctx, ord, res.Payment)
	}

	reason := ReasonPaymentFailed
	if res != nil && res.Reason != "" {
		reason = res.Reason
	}
	settled, cerr := o.compensate(ctx, ord, reason)
	if cerr != nil {
		return nil, errors.Join(err, cerr)
	}
	if settled.Order.Status == domorder.StatusProcessing {
		return settled, nil
	}
	switch {
	case errors.Is(err, dompay.ErrGatewayUnavailable), errors.Is(err, context.DeadlineExceeded):
		return settled, fmt.Errorf("%w: %w", dompay.ErrGatewayUnavailable, err)
	case err != nil:
		return settled, err
	default:
		return settled, dompay.ErrDeclined
	}
}

// finalize commits the reservations, moves the order to processing, clears the cart and
// emits the order-placed notification.
func (o *Orchestrator) finalize(ctx context.Context, ord *domorder.Order, pay *dompay.Payment) (*Result, error) {
	ctx = context.WithoutCancel(ctx)
	logger := o.obs.Logger(ctx).With(observability.F("order_id", ord.ID))

	for _, t := range ord.Reservations {
		if err := o.ledger.Commit(ctx, t); err != nil {
			o.reconcile.Add(1, observability.L("action", "commit_failed"))
			logger.Error("stock_commit_failed",
				observability.F("reservation", t),
				observability.F("error", err),
			)
		}
	}

	from := ord.Status
	if err := ord.MarkProcessing(o.now()); err != nil {
		return nil, err
	}
	if err := o.orders.Update(ctx, ord, from); err != nil {
		if !errors.Is(err, domorder.ErrConflict) {
			return nil, wrapOrderError(err)
		}
		fresh, gerr := o.orders.Get(ctx, ord.ID)
		if gerr != nil {
			return nil, wrapOrderError(gerr)
		}
		*ord = *fresh
		if ord.Status != domorder.StatusProcessing && ord.Status != domorder.StatusCompleted {
			return nil, fmt.Errorf("%w: order moved to %s while settling", domorder.ErrConflict, ord.Status)
		}
		return &Result{Order: ord, PaymentStatus: pay.Status, TransactionID: pay.TransactionID}, nil
	}

	if c, err := o.carts.Get(ctx, ord.UserID, ord.PharmacyID); err == nil && c.ID == ord.CartID {
		if err := o.carts.Delete(ctx, c); err != nil {
			logger.Warn("cart_clear_failed", observability.F("error", err))
		}
	}

	o.publish(ctx, domorder.NewPlacedEvent(ord))
	return &Result{Order: ord, PaymentStatus: pay.Status, TransactionID: pay.TransactionID}, nil
}

// compensate releases the order's stock and cancels it. When the payment turns out to have
// completed meanwhile, the order is finalized instead.
func (o *Orchestrator) compensate(ctx context.Context, ord *domorder.Order, reason string) (*Result, error) {
	ctx = context.WithoutCancel(ctx)

	pay, err := o.payments.Expire(ctx, ord.ID, reason)
	if err != nil {
		return nil, err
	}
	if pay != nil && pay.Status == dompay.StatusCompleted {
		return o.finalize(ctx, ord, pay)
	}

	o.releaseAll(ctx, ord.Reservations)

	from := ord.Status
	if err := ord.Cancel(reason, o.now()); err != nil {
		return nil, err
	}
	if err := o.orders.Update(ctx, ord, from); err != nil {
		if !errors.Is(err, domorder.ErrConflict) {
			return nil, wrapOrderError(err)
		}
		fresh, gerr := o.orders.Get(ctx, ord.ID)
		if gerr != nil {
			return nil, wrapOrderError(gerr)
		}
		*ord = *fresh
	} else {
		o.publish(ctx, domorder.NewCancelledEvent(ord))
	}

	res := &Result{Order: ord}
	if pay != nil {
		res.PaymentStatus, res.TransactionID = pay.Status, pay.TransactionID
	}
	return res, nil
}

// publish hands the event to the bus without letting a slow bus hold the request.
func (o *Orchestrator) publish(ctx context.Context, evt domoutbox.Event) {
	if o.publisher == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	started := time.Now()
	outcome := "success"
	if err := o.publisher.Publish(pubCtx, evt); err != nil {
		outcome = "error"
		o.obs.Logger(ctx).Warn("event_publish_failed",
			observability.F("event", evt.EventName()),
			observability.F("error", err),
		)
	}
	o.obs.External(publishPeer, evt.EventName(), outcome, started)
}

func wrapOrderError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domorder.ErrNotFound), errors.Is(err, domorder.ErrConflict):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, application.ErrUnauthenticated):
		return "UNAUTHENTICATED"
	case errors.Is(err, ErrPharmacyNotVerified):
		return "PHARMACY_NOT_VERIFIED"
	case errors.Is(err, ErrEmailNotVerified):
		return "EMAIL_NOT_VERIFIED"
	case errors.Is(err, domcart.ErrPriceChanged):
		return "PRICE_CHANGED"
	case errors.Is(err, dominv.ErrInsufficientStock):
		return "INSUFFICIENT_STOCK"
	case errors.Is(err, dominv.ErrConcurrentModification):
		return "CONCURRENT_MODIFICATION"
	case errors.Is(err, domorder.ErrNotFound):
		return "ORDER_NOT_FOUND"
	case errors.Is(err, dompay.ErrGatewayUnavailable):
		return "GATEWAY_UNAVAILABLE"
	case errors.Is(err, dompay.ErrDeclined):
		return "PAYMENT_DECLINED"
	case errors.Is(err, application.ErrValidation):
		return "VALIDATION"
	default:
		return "INTERNAL"
	}
}
