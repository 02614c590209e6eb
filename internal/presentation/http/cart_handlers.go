package httppresentation

import (
	"net/http"
	"strconv"

	appcart "github.com/Zhima-Mochi/pharmacy-checkout/internal/application/cart"
	"github.com/go-chi/chi/v5"
)

func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Get(r.Context(), principalFrom(r.Context()).UserID, chi.URLParam(r, "pharmacyId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(c))
}

type addItemRequest struct {
	MedicineID       string `json:"medicine_id"`
	Quantity         int    `json:"quantity"`
	AcknowledgePrice bool   `json:"acknowledge_price"`
}

func (h *Handler) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}
	c, err := h.carts.AddItem(r.Context(), appcart.AddItemInput{
		UserID:           principalFrom(r.Context()).UserID,
		PharmacyID:       chi.URLParam(r, "pharmacyId"),
		MedicineID:       req.MedicineID,
		Quantity:         req.Quantity,
		AcknowledgePrice: req.AcknowledgePrice,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(c))
}

func (h *Handler) handleClearCart(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.Clear(r.Context(), principalFrom(r.Context()).UserID, chi.URLParam(r, "pharmacyId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(c))
}

func (h *Handler) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeProblem(w, http.StatusBadRequest, "validation_error", "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}
	meds, err := h.carts.Recommendations(r.Context(), principalFrom(r.Context()).UserID, chi.URLParam(r, "pharmacyId"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": newMedicineResponses(meds)})
}

type updateItemRequest struct {
	Quantity         int  `json:"quantity"`
	AcknowledgePrice bool `json:"acknowledge_price"`
}

func (h *Handler) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	var req updateItemRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeProblem(w, http.StatusBadRequest, "validation_error", err.Error(), nil)
		return
	}
	c, err := h.carts.UpdateQuantity(r.Context(), appcart.UpdateQuantityInput{
		UserID:           principalFrom(r.Context()).UserID,
		ItemID:           chi.URLParam(r, "itemId"),
		Quantity:         req.Quantity,
		AcknowledgePrice: req.AcknowledgePrice,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(c))
}

func (h *Handler) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	c, err := h.carts.RemoveItem(r.Context(), principalFrom(r.Context()).UserID, chi.URLParam(r, "itemId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCartResponse(c))
}
