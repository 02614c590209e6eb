package httppresentation

import (
	"time"

	"github.com/Zhima-Mochi/pharmacy-checkout/internal/application/checkout"
	domcart "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/cart"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/catalog"
	domorder "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/order"
	dompay "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/payment"
	"github.com/shopspring/decimal"
)

// money renders minor units as a fixed two-decimal amount.
func money(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2)
}

type cartItemResponse struct {
	ItemID      string    `json:"item_id"`
	MedicineID  string    `json:"medicine_id"`
	Name        string    `json:"name"`
	Quantity    int       `json:"quantity"`
	PriceAtTime string    `json:"price_at_time"`
	LineTotal   string    `json:"line_total"`
	AddedAt     time.Time `json:"added_at"`
}

type cartResponse struct {
	CartID      string             `json:"cart_id"`
	PharmacyID  string             `json:"pharmacy_id"`
	Currency    string             `json:"currency"`
	Items       []cartItemResponse `json:"items"`
	TotalItems  int                `json:"total_items"`
	TotalAmount string             `json:"total_amount"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

func newCartResponse(c *domcart.Cart) cartResponse {
	items := make([]cartItemResponse, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, cartItemResponse{
			ItemID:      it.ID,
			MedicineID:  it.MedicineID,
			Name:        it.Name,
			Quantity:    it.Quantity,
			PriceAtTime: money(it.PriceAtTime),
			LineTotal:   money(it.LineTotal()),
			AddedAt:     it.AddedAt,
		})
	}
	return cartResponse{
		CartID:      c.ID,
		PharmacyID:  c.PharmacyID,
		Currency:    c.Currency,
		Items:       items,
		TotalItems:  c.TotalItems,
		TotalAmount: money(c.TotalAmount),
		UpdatedAt:   c.UpdatedAt,
	}
}

type medicineResponse struct {
	MedicineID string `json:"medicine_id"`
	Name       string `json:"name"`
	Price      string `json:"price"`
	Currency   string `json:"currency"`
}

func newMedicineResponses(meds []catalog.Medicine) []medicineResponse {
	out := make([]medicineResponse, 0, len(meds))
	for _, m := range meds {
		out = append(out, medicineResponse{MedicineID: m.ID, Name: m.Name, Price: money(m.Price), Currency: m.Currency})
	}
	return out
}

type orderItemResponse struct {
	MedicineID  string `json:"medicine_id"`
	Name        string `json:"name"`
	Quantity    int    `json:"quantity"`
	PriceAtTime string `json:"price_at_time"`
	LineTotal   string `json:"line_total"`
}

type orderResponse struct {
	OrderID         string              `json:"order_id"`
	OrderNumber     string              `json:"order_number"`
	PharmacyID      string              `json:"pharmacy_id"`
	Status          domorder.Status     `json:"status"`
	PaymentMethod   string              `json:"payment_method"`
	Items           []orderItemResponse `json:"items"`
	TotalItems      int                 `json:"total_items"`
	TotalAmount     string              `json:"total_amount"`
	Currency        string              `json:"currency"`
	BillingAddress  domorder.Address    `json:"billing_address"`
	ShippingAddress domorder.Address    `json:"shipping_address"`
	FailureReason   string              `json:"failure_reason,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

func newOrderResponse(o *domorder.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, orderItemResponse{
			MedicineID:  it.MedicineID,
			Name:        it.Name,
			Quantity:    it.Quantity,
			PriceAtTime: money(it.PriceAtTime),
			LineTotal:   money(it.LineTotal()),
		})
	}
	return orderResponse{
		OrderID:         o.ID,
		OrderNumber:     o.Number,
		PharmacyID:      o.PharmacyID,
		Status:          o.Status,
		PaymentMethod:   string(o.PaymentMethod),
		Items:           items,
		TotalItems:      o.TotalItems,
		TotalAmount:     money(o.TotalAmount),
		Currency:        o.Currency,
		BillingAddress:  o.BillingAddress,
		ShippingAddress: o.ShippingAddress,
		FailureReason:   o.FailureReason,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

type checkoutResponse struct {
	orderResponse
	PaymentStatus dompay.Status `json:"payment_status"`
	TransactionID string        `json:"transaction_id,omitempty"`
	Replayed      bool          `json:"replayed,omitempty"`
}

func newCheckoutResponse(res *checkout.Result) checkoutResponse {
	return checkoutResponse{
		orderResponse: newOrderResponse(res.Order),
		PaymentStatus: res.PaymentStatus,
		TransactionID: res.TransactionID,
		Replayed:      res.Replayed,
	}
}

type paymentStatusResponse struct {
	OrderID       string        `json:"order_id"`
	Status        dompay.Status `json:"status"`
	Method        dompay.Method `json:"method"`
	Amount        string        `json:"amount"`
	Currency      string        `json:"currency"`
	TransactionID string        `json:"transaction_id,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

func newPaymentStatusResponse(p *dompay.Payment) paymentStatusResponse {
	return paymentStatusResponse{
		OrderID:       p.OrderID,
		Status:        p.Status,
		Method:        p.Method,
		Amount:        money(p.Amount),
		Currency:      p.Currency,
		TransactionID: p.TransactionID,
		FailureReason: p.FailureReason,
		UpdatedAt:     p.UpdatedAt,
	}
}
