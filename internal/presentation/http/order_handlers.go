package httppresentation

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.checkout.Order(r.Context(), principalFrom(r.Context()).UserID, chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

func (h *Handler) handlePaymentStatus(w http.ResponseWriter, r *http.Request) {
	p, err := h.checkout.PaymentStatus(r.Context(), principalFrom(r.Context()).UserID, chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPaymentStatusResponse(p))
}

func (h *Handler) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.checkout.CancelOrder(r.Context(), principalFrom(r.Context()).UserID, chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

// handleCompleteOrder is restricted to pharmacists by the route guard.
func (h *Handler) handleCompleteOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.checkout.CompleteOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(o))
}
