package cart

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("cart: not found")
	ErrItemNotFound    = errors.New("cart: item not found")
	ErrConflict        = errors.New("cart: concurrent update")
	ErrInvalidQuantity = errors.New("cart: quantity must be greater than zero")
	ErrCapExceeded     = errors.New("cart: quantity cap exceeded")
	ErrPriceChanged    = errors.New("cart: price changed")
	ErrEmpty           = errors.New("cart: empty")
	ErrExpired         = errors.New("cart: expired")
)

// Limits caps the quantities a cart may hold.
type Limits struct {
	MaxItemQuantity int
	MaxTotalItems   int
}

func DefaultLimits() Limits {
	return Limits{MaxItemQuantity: 5, MaxTotalItems: 10}
}

// CapError describes which cap a mutation would have broken.
type CapError struct {
	Cap       string
	Limit     int
	Projected int
}

func (e *CapError) Error() string {
	return fmt.Sprintf("cart: %s cap of %d exceeded (projected %d)", e.Cap, e.Limit, e.Projected)
}

func (e *CapError) Is(target error) bool { return target == ErrCapExceeded }

// PriceChangedError is returned when the catalog price moved since the item was frozen.
type PriceChangedError struct {
	MedicineID string
	Frozen     int64
	Current    int64
}

func (e *PriceChangedError) Error() string {
	return fmt.Sprintf("cart: price of %s changed from %d to %d", e.MedicineID, e.Frozen, e.Current)
}

func (e *PriceChangedError) Is(target error) bool { return target == ErrPriceChanged }

type Item struct {
	ID          string
	MedicineID  string
	Name        string
	Quantity    int
	PriceAtTime int64
	AddedAt     time.Time
}

func (i Item) LineTotal() int64 { return i.PriceAtTime * int64(i.Quantity) }

// Cart is the mutable pre-order basket of one user at one pharmacy.
type Cart struct {
	ID          string
	UserID      string
	PharmacyID  string
	Currency    string
	Items       []Item
	TotalItems  int
	TotalAmount int64
	Version     int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func New(id, userID, pharmacyID, currency string, now time.Time) *Cart {
	return &Cart{
		ID:         id,
		UserID:     userID,
		PharmacyID: pharmacyID,
		Currency:   currency,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// AddInput describes one add-to-cart request after the catalog lookup.
type AddInput struct {
	ItemID           string
	MedicineID       string
	Name             string
	Quantity         int
	CurrentPrice     int64
	AcknowledgePrice bool
}

// Add merges qty into the line for the medicine, creating it if needed.
func (c *Cart) Add(in AddInput, limits Limits, now time.Time) (*Item, error) {
	if in.Quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	idx := c.indexOfMedicine(in.MedicineID)
	existing := 0
	if idx >= 0 {
		existing = c.Items[idx].Quantity
	}
	if err := c.checkCaps(existing+in.Quantity, c.TotalItems+in.Quantity, limits); err != nil {
		return nil, err
	}

	if idx < 0 {
		c.Items = append(c.Items, Item{
			ID:          in.ItemID,
			MedicineID:  in.MedicineID,
			Name:        in.Name,
			Quantity:    in.Quantity,
			PriceAtTime: in.CurrentPrice,
			AddedAt:     now,
		})
		c.touch(now)
		return &c.Items[len(c.Items)-1], nil
	}

	item := &c.Items[idx]
	if err := repriceOnIncrease(item, in.CurrentPrice, in.AcknowledgePrice); err != nil {
		return nil, err
	}
	item.Quantity += in.Quantity
	c.touch(now)
	return item, nil
}

// SetQuantity replaces the quantity of an existing line.
func (c *Cart) SetQuantity(itemID string, qty int, currentPrice int64, acknowledge bool, limits Limits, now time.Time) (*Item, error) {
	if qty <= 0 {
		return nil, ErrInvalidQuantity
	}
	idx := c.indexOfItem(itemID)
	if idx < 0 {
		return nil, ErrItemNotFound
	}
	item := &c.Items[idx]
	if err := c.checkCaps(qty, c.TotalItems-item.Quantity+qty, limits); err != nil {
		return nil, err
	}
	if qty > item.Quantity {
		if err := repriceOnIncrease(item, currentPrice, acknowledge); err != nil {
			return nil, err
		}
	}
	item.Quantity = qty
	c.touch(now)
	return item, nil
}

func (c *Cart) Remove(itemID string, now time.Time) error {
	idx := c.indexOfItem(itemID)
	if idx < 0 {
		return ErrItemNotFound
	}
	c.Items = append(c.Items[:idx], c.Items[idx+1:]...)
	c.touch(now)
	return nil
}

func (c *Cart) Clear(now time.Time) {
	c.Items = nil
	c.touch(now)
}

func (c *Cart) Item(itemID string) (Item, bool) {
	if idx := c.indexOfItem(itemID); idx >= 0 {
		return c.Items[idx], true
	}
	return Item{}, false
}

func (c *Cart) HasMedicine(medicineID string) bool { return c.indexOfMedicine(medicineID) >= 0 }

func (c *Cart) Empty() bool { return len(c.Items) == 0 }

// Expired reports whether the cart has been idle longer than ttl.
func (c *Cart) Expired(ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(c.UpdatedAt) > ttl
}

// Recompute derives the totals from the item lines.
func (c *Cart) Recompute() {
	items, amount := 0, int64(0)
	for _, it := range c.Items {
		items += it.Quantity
		amount += it.LineTotal()
	}
	c.TotalItems, c.TotalAmount = items, amount
}

func (c *Cart) Clone() *Cart {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Items = append([]Item(nil), c.Items...)
	return &cp
}

func (c *Cart) checkCaps(itemQty, totalQty int, limits Limits) error {
	if limits.MaxItemQuantity > 0 && itemQty > limits.MaxItemQuantity {
		return &CapError{Cap: "item", Limit: limits.MaxItemQuantity, Projected: itemQty}
	}
	if limits.MaxTotalItems > 0 && totalQty > limits.MaxTotalItems {
		return &CapError{Cap: "cart", Limit: limits.MaxTotalItems, Projected: totalQty}
	}
	return nil
}

func (c *Cart) touch(now time.Time) {
	c.Recompute()
	c.UpdatedAt = now
}

func (c *Cart) indexOfMedicine(medicineID string) int {
	for i := range c.Items {
		if c.Items[i].MedicineID == medicineID {
			return i
		}
	}
	return -1
}

func (c *Cart) indexOfItem(itemID string) int {
	for i := range c.Items {
		if c.Items[i].ID == itemID {
			return i
		}
	}
	return -1
}

func repriceOnIncrease(item *Item, current int64, acknowledge bool) error {
	if item.PriceAtTime == current {
		return nil
	}
	if !acknowledge {
		return &PriceChangedError{MedicineID: item.MedicineID, Frozen: item.PriceAtTime, Current: current}
	}
	item.PriceAtTime = current
	return nil
}
