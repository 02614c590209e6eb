package order

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound          = errors.New("order: not found")
	ErrConflict          = errors.New("order: conflict")
	ErrInvalidTransition = errors.New("order: invalid state transition")
	ErrEmpty             = errors.New("order: no items")
	ErrInvalidQuantity   = errors.New("order: quantity must be greater than zero")
	ErrInvalidPrice      = errors.New("order: price must not be negative")
	ErrTotalMismatch     = errors.New("order: total does not match items")
	ErrNotReady          = errors.New("order: not ready for checkout")
)

type Status string

const (
	StatusCart       Status = "cart"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusCancelled }

type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentPayPal PaymentMethod = "paypal"
)

func (m PaymentMethod) Valid() bool { return m == PaymentCash || m == PaymentPayPal }

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

func (a Address) Complete() bool {
	return a.Line1 != "" && a.City != "" && a.Country != ""
}

// Item is an immutable order line copied from the cart at checkout.
type Item struct {
	MedicineID  string
	Name        string
	Quantity    int
	PriceAtTime int64
}

func (i Item) LineTotal() int64 { return i.PriceAtTime * int64(i.Quantity) }

type Order struct {
	ID              string
	Number          string
	UserID          string
	PharmacyID      string
	CartID          string
	IdempotencyKey  string
	PaymentMethod   PaymentMethod
	BillingAddress  Address
	ShippingAddress Address
	Currency        string
	Items           []Item
	TotalItems      int
	TotalAmount     int64
	Reservations    []string
	Status          Status
	FailureReason   string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// Draft carries everything needed to materialize an order from a cart snapshot.
type Draft struct {
	ID              string
	Number          string
	UserID          string
	PharmacyID      string
	CartID          string
	IdempotencyKey  string
	PaymentMethod   PaymentMethod
	BillingAddress  Address
	ShippingAddress Address
	Currency        string
	Items           []Item
}

// New builds an order in the cart state with totals derived from its items.
func New(d Draft, now time.Time) (*Order, error) {
	if len(d.Items) == 0 {
		return nil, ErrEmpty
	}
	o := &Order{
		ID:              d.ID,
		Number:          d.Number,
		UserID:          d.UserID,
		PharmacyID:      d.PharmacyID,
		CartID:          d.CartID,
		IdempotencyKey:  d.IdempotencyKey,
		PaymentMethod:   d.PaymentMethod,
		BillingAddress:  d.BillingAddress,
		ShippingAddress: d.ShippingAddress,
		Currency:        d.Currency,
		Items:           append([]Item(nil), d.Items...),
		Status:          StatusCart,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for _, it := range o.Items {
		if it.Quantity <= 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidQuantity, it.MedicineID)
		}
		if it.PriceAtTime < 0 {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPrice, it.MedicineID)
		}
		o.TotalItems += it.Quantity
		o.TotalAmount += it.LineTotal()
	}
	return o, nil
}

// VerifyTotals checks total_amount == sum(price_at_time * quantity).
func (o *Order) VerifyTotals() error {
	var items int
	var amount int64
	for _, it := range o.Items {
		items += it.Quantity
		amount += it.LineTotal()
	}
	if items != o.TotalItems || amount != o.TotalAmount {
		return fmt.Errorf("%w: stored %d/%d, computed %d/%d", ErrTotalMismatch, o.TotalItems, o.TotalAmount, items, amount)
	}
	return nil
}

func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	c.Reservations = append([]string(nil), o.Reservations...)
	if o.DeletedAt != nil {
		t := *o.DeletedAt
		c.DeletedAt = &t
	}
	return &c
}

func (o *Order) touch(now time.Time) {
	o.UpdatedAt = now
}
