package checkout

import (
	"errors"
	"fmt"
	"strings"

	domcart "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/cart"
	dominv "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/inventory"
)

var (
	ErrPharmacyNotVerified = errors.New("checkout: pharmacy is not verified or not active")
	ErrEmailNotVerified    = errors.New("checkout: user email is not verified")
	ErrCheckoutInProgress  = errors.New("checkout: another attempt with this idempotency key is in progress")
	ErrOrderNotPending     = errors.New("checkout: order is not awaiting payment")
	ErrRepository          = errors.New("checkout: repository failure")
)

type UnavailableItem struct {
	MedicineID string `json:"medicine_id"`
	Name       string `json:"name,omitempty"`
	Requested  int    `json:"requested"`
	Available  int    `json:"available_quantity"`
}

// InsufficientStockError lists every cart line the pharmacy could not cover.
type InsufficientStockError struct {
	Items []UnavailableItem
}

func (e *InsufficientStockError) Error() string {
	ids := make([]string, 0, len(e.Items))
	for _, it := range e.Items {
		ids = append(ids, it.MedicineID)
	}
	return fmt.Sprintf("checkout: insufficient stock for %s", strings.Join(ids, ", "))
}

func (e *InsufficientStockError) Is(target error) bool { return target == dominv.ErrInsufficientStock }

type PriceChange struct {
	MedicineID string `json:"medicine_id"`
	Frozen     int64  `json:"price_at_time"`
	Current    int64  `json:"current_price"`
}

// PriceChangedError lists cart lines whose frozen price no longer matches the catalog.
type PriceChangedError struct {
	Items []PriceChange
}

func (e *PriceChangedError) Error() string {
	return fmt.Sprintf("checkout: %d item price(s) changed since they were added", len(e.Items))
}

func (e *PriceChangedError) Is(target error) bool { return target == domcart.ErrPriceChanged }
