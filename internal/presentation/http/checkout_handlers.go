package httppresentation

import (
	"io"
	"net/http"

	"github.com/Zhima-Mochi/pharmacy-checkout/internal/application/checkout"
	domorder "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/order"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability/logctx"
	"github.com/go-chi/chi/v5"
)

type checkoutRequest struct {
	PaymentMethod   string           `json:"payment_method"`
	BillingAddress  domorder.Address `json:"billing_address"`
	ShippingAddress domorder.Address `json:"shipping_address"`
	PayerID         string           `json:"payer_id"`
	PaymentID       string           `json:"payment_id"`
	IdempotencyKey  string           `json:"idempotency_key"`
}

func (h *Handler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}
	key := r.Header.Get(headerIdempotencyKey)
	if key == "" {
		key = req.IdempotencyKey
	}

	res, err := h.checkout.Checkout(r.Context(), checkout.Input{
		UserID:          principalFrom(r.Context()).UserID,
		PharmacyID:      chi.URLParam(r, "pharmacyId"),
		IdempotencyKey:  key,
		PaymentMethod:   domorder.PaymentMethod(req.PaymentMethod),
		BillingAddress:  req.BillingAddress,
		ShippingAddress: req.ShippingAddress,
		PayerID:         req.PayerID,
		PaymentID:       req.PaymentID,
	})
	if err != nil {
		h.writeSettlementError(w, r, res, err)
		return
	}
	writeJSON(w, http.StatusOK, newCheckoutResponse(res))
}

type confirmPayPalRequest struct {
	OrderID   string `json:"order_id"`
	PayerID   string `json:"payer_id"`
	PaymentID string `json:"payment_id"`
}

func (h *Handler) handleConfirmPayPal(w http.ResponseWriter, r *http.Request) {
	var req confirmPayPalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}
	res, err := h.checkout.ConfirmPayPal(r.Context(), checkout.ConfirmInput{
		UserID:     principalFrom(r.Context()).UserID,
		PharmacyID: chi.URLParam(r, "pharmacyId"),
		OrderID:    req.OrderID,
		PayerID:    req.PayerID,
		PaymentID:  req.PaymentID,
	})
	if err != nil {
		h.writeSettlementError(w, r, res, err)
		return
	}
	writeJSON(w, http.StatusOK, newCheckoutResponse(res))
}

// writeSettlementError reports a failed charge together with the order it left behind.
func (h *Handler) writeSettlementError(w http.ResponseWriter, r *http.Request, res *checkout.Result, err error) {
	if res == nil || res.Order == nil {
		h.writeError(w, r, err)
		return
	}
	p := classify(err)
	if p.status >= http.StatusInternalServerError {
		logctx.FromOr(r.Context(), h.log).Error("checkout_settlement_failed",
			observability.F("order_id", res.Order.ID),
			observability.F("error", err.Error()),
		)
	}
	writeProblem(w, p.status, p.code, err.Error(), map[string]any{
		"order_id":       res.Order.ID,
		"order_status":   res.Order.Status,
		"payment_status": res.PaymentStatus,
	})
}

// handleWebhook acknowledges every correctly signed delivery so the gateway stops retrying.
// Processing failures and ignore reasons are logged, not surfaced.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	log := logctx.FromOr(r.Context(), h.log)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, "validation_error", "unreadable body", nil)
		return
	}
	if err := h.webhooks.Verify(body, r.Header.Get(headerSignature)); err != nil {
		log.Warn("webhook_signature_rejected", observability.F("error", err.Error()))
		writeProblem(w, http.StatusUnauthorized, "unauthorized", "invalid webhook signature", nil)
		return
	}

	evt, err := h.webhooks.Decode(body)
	if err != nil {
		log.Warn("webhook_event_ignored", observability.F("error", err.Error()))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	res, err := h.checkout.HandlePaymentEvent(r.Context(), evt)
	switch {
	case err != nil:
		log.Error("webhook_processing_failed",
			observability.F("transaction_id", evt.TransactionID),
			observability.F("error", err.Error()),
		)
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	case res != nil && res.Ignored != "":
		log.Info("webhook_event_ignored",
			observability.F("event_id", evt.ID),
			observability.F("reason", res.Ignored),
		)
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
	}
}
