package httppresentation

import (
	"context"
	"errors"
	"net/http"

	"github.com/Zhima-Mochi/pharmacy-checkout/internal/application"
	appcart "github.com/Zhima-Mochi/pharmacy-checkout/internal/application/cart"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/application/checkout"
	apppay "github.com/Zhima-Mochi/pharmacy-checkout/internal/application/payment"
	domcart "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/cart"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/catalog"
	dominv "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/inventory"
	domorder "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/payment"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability/logctx"
)

const retryAfterSeconds = "1"

type problem struct {
	status int
	code   string
}

// errorTable is checked in order; the first sentinel matched by errors.Is wins.
var errorTable = []struct {
	target error
	problem
}{
	{application.ErrValidation, problem{http.StatusBadRequest, "validation_error"}},
	{domcart.ErrInvalidQuantity, problem{http.StatusBadRequest, "validation_error"}},
	{domcart.ErrCapExceeded, problem{http.StatusBadRequest, "validation_error"}},
	{domcart.ErrEmpty, problem{http.StatusBadRequest, "validation_error"}},
	{dominv.ErrInvalidQuantity, problem{http.StatusBadRequest, "validation_error"}},
	{dompay.ErrUnsupportedMethod, problem{http.StatusBadRequest, "validation_error"}},
	{apppay.ErrMissingIdentifiers, problem{http.StatusBadRequest, "validation_error"}},
	{dompay.ErrDeclined, problem{http.StatusBadRequest, "payment_failed"}},

	{application.ErrUnauthenticated, problem{http.StatusUnauthorized, "unauthorized"}},
	{checkout.ErrPharmacyNotVerified, problem{http.StatusForbidden, "pharmacy_not_verified"}},
	{checkout.ErrEmailNotVerified, problem{http.StatusForbidden, "email_not_verified"}},
	{application.ErrForbidden, problem{http.StatusForbidden, "forbidden"}},

	{domcart.ErrNotFound, problem{http.StatusNotFound, "cart_not_found"}},
	{domcart.ErrItemNotFound, problem{http.StatusNotFound, "not_found"}},
	{appcart.ErrMedicineNotFound, problem{http.StatusNotFound, "not_found"}},
	{catalog.ErrNotFound, problem{http.StatusNotFound, "not_found"}},
	{domorder.ErrNotFound, problem{http.StatusNotFound, "not_found"}},
	{dompay.ErrNotFound, problem{http.StatusNotFound, "not_found"}},
	{dominv.ErrNotFound, problem{http.StatusNotFound, "not_found"}},

	{dominv.ErrInsufficientStock, problem{http.StatusConflict, "insufficient_stock"}},
	{domcart.ErrExpired, problem{http.StatusConflict, "cart_expired"}},
	{domcart.ErrPriceChanged, problem{http.StatusConflict, "price_changed"}},
	{checkout.ErrCheckoutInProgress, problem{http.StatusConflict, "checkout_in_progress"}},
	{checkout.ErrOrderNotPending, problem{http.StatusConflict, "invalid_transition"}},
	{domorder.ErrInvalidTransition, problem{http.StatusConflict, "invalid_transition"}},
	{dompay.ErrInvalidTransition, problem{http.StatusConflict, "invalid_transition"}},
	{dominv.ErrConcurrentModification, problem{http.StatusConflict, "concurrent_modification"}},
	{domcart.ErrConflict, problem{http.StatusConflict, "concurrent_modification"}},
	{domorder.ErrConflict, problem{http.StatusConflict, "concurrent_modification"}},
	{dompay.ErrConflict, problem{http.StatusConflict, "concurrent_modification"}},

	{dompay.ErrGatewayUnavailable, problem{http.StatusBadGateway, "gateway_error"}},
	{context.DeadlineExceeded, problem{http.StatusBadGateway, "gateway_error"}},
}

func classify(err error) problem {
	for _, e := range errorTable {
		if errors.Is(err, e.target) {
			return e.problem
		}
	}
	return problem{http.StatusInternalServerError, "internal_error"}
}

// details extracts the structured payload carried by typed errors.
func details(err error) map[string]any {
	var (
		stock    *checkout.InsufficientStockError
		lineLack *dominv.InsufficientStockError
		prices   *checkout.PriceChangedError
		price    *domcart.PriceChangedError
		capErr   *domcart.CapError
	)
	switch {
	case errors.As(err, &stock):
		return map[string]any{"unavailable_items": stock.Items}
	case errors.As(err, &lineLack):
		return map[string]any{"unavailable_items": []checkout.UnavailableItem{{
			MedicineID: lineLack.MedicineID,
			Requested:  lineLack.Requested,
			Available:  lineLack.Available,
		}}}
	case errors.As(err, &prices):
		return map[string]any{"changed_items": prices.Items}
	case errors.As(err, &price):
		return map[string]any{"changed_items": []checkout.PriceChange{{
			MedicineID: price.MedicineID,
			Frozen:     price.Frozen,
			Current:    price.Current,
		}}}
	case errors.As(err, &capErr):
		return map[string]any{"cap": capErr.Cap, "limit": capErr.Limit, "projected": capErr.Projected}
	}
	return nil
}

// writeError maps err onto the error taxonomy. Server-side failures are logged with the request logger.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	p := classify(err)
	msg := err.Error()
	switch {
	case p.status >= http.StatusInternalServerError:
		logctx.FromOr(r.Context(), h.log).Error("http_request_failed",
			observability.F("route", routeFromContext(r.Context())),
			observability.F("code", p.code),
			observability.F("error", err.Error()),
		)
		if p.status == http.StatusInternalServerError {
			msg = "internal error"
		}
	case p.code == "concurrent_modification":
		w.Header().Set("Retry-After", retryAfterSeconds)
	}
	writeProblem(w, p.status, p.code, msg, details(err))
}

func writeProblem(w http.ResponseWriter, status int, code, message string, extra map[string]any) {
	body := make(map[string]any, len(extra)+2)
	for k, v := range extra {
		body[k] = v
	}
	body["error"] = code
	body["message"] = message
	writeJSON(w, status, body)
}
