package checkout

import (
	"context"
	"errors"
	"time"

	domorder "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"

	"go.opentelemetry.io/otel/attribute"
)

const (
	useCaseReconcile = "checkout.reconcile"
	sweepBatch       = 100
)

// ReconcileReport counts what one sweep did.
type ReconcileReport struct {
	ExpiredOrders     int
	ReleasedHolds     int
	CommittedHolds    int
	PaidWithoutCharge int
}

// Reconcile repairs state left behind by crashed or abandoned checkouts: pending orders whose
// payment window elapsed are compensated and reservation holds are matched to their order.
func (o *Orchestrator) Reconcile(ctx context.Context) (report ReconcileReport, err error) {
	ctx, run := o.obs.Start(ctx, useCaseReconcile, "Reconcile")
	defer func() {
		run.Annotate(
			observability.F("expired_orders", report.ExpiredOrders),
			observability.F("released_holds", report.ReleasedHolds),
			observability.F("committed_holds", report.CommittedHolds),
		)
		run.End(err)
	}()

	cutoff := o.now().Add(-o.cfg.PaymentWindow)

	err = o.eachOrder(ctx, domorder.StatusPending, cutoff, func(ord *domorder.Order) {
		res, cerr := o.compensate(ctx, ord, ReasonWindowElapsed)
		if cerr != nil {
			run.Logger().Warn("expire_order_failed", observability.F("order_id", ord.ID), observability.F("error", cerr))
			return
		}
		if res.Order.Status == domorder.StatusCancelled {
			report.ExpiredOrders++
			o.reconcile.Add(1, observability.L("action", "expire_order"))
		}
	})
	if err != nil {
		run.Fail("LIST_PENDING_FAILED")
		return report, wrapOrderError(err)
	}

	holds, err := o.ledger.HeldBefore(ctx, cutoff)
	if err != nil {
		run.Fail("LIST_HOLDS_FAILED")
		return report, err
	}
	for _, r := range holds {
		ord, gerr := o.orders.Get(ctx, r.OrderID)
		switch {
		case errors.Is(gerr, domorder.ErrNotFound), gerr == nil && ord.Status == domorder.StatusCancelled:
			if err := o.ledger.Release(ctx, r.Token); err == nil {
				report.ReleasedHolds++
				o.reconcile.Add(1, observability.L("action", "release_orphan"))
			}
		case gerr == nil && (ord.Status == domorder.StatusProcessing || ord.Status == domorder.StatusCompleted):
			if err := o.ledger.Commit(ctx, r.Token); err == nil {
				report.CommittedHolds++
				o.reconcile.Add(1, observability.L("action", "commit_paid"))
			}
		}
	}

	err = o.eachOrder(ctx, domorder.StatusProcessing, cutoff, func(ord *domorder.Order) {
		pay, perr := o.payments.Status(ctx, ord.ID)
		if perr == nil && pay.Status == dompay.StatusCompleted {
			return
		}
		report.PaidWithoutCharge++
		o.reconcile.Add(1, observability.L("action", "processing_without_payment"))
		run.Event("anomaly.processing_without_payment", attribute.String("order.id", ord.ID))
		run.Logger().Error("processing_order_without_completed_payment", observability.F("order_id", ord.ID))
	})
	if err != nil {
		run.Fail("LIST_PROCESSING_FAILED")
		return report, wrapOrderError(err)
	}
	return report, nil
}

// eachOrder visits every order in status last updated before cutoff, sweepBatch rows at a time.
func (o *Orchestrator) eachOrder(ctx context.Context, status domorder.Status, cutoff time.Time, fn func(*domorder.Order)) error {
	var cursor domorder.Cursor
	for {
		page, err := o.orders.ListByStatus(ctx, status, cutoff, cursor, sweepBatch)
		if err != nil {
			return err
		}
		for _, ord := range page {
			fn(ord)
		}
		if len(page) < sweepBatch {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		cursor = domorder.CursorOf(page[len(page)-1])
	}
}

// SweepEvery runs Reconcile on a ticker until ctx is done. A non-positive interval disables it.
func (o *Orchestrator) SweepEvery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := o.Reconcile(ctx); err != nil && ctx.Err() == nil {
				o.obs.Logger(ctx).Warn("reconcile_failed", observability.F("error", err))
			}
		}
	}
}
