package cart

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Zhima-Mochi/pharmacy-checkout/internal/application"
	domain "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/cart"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/catalog"
	dominv "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/inventory"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability"
	"github.com/Zhima-Mochi/pharmacy-checkout/internal/observability/instrument"

	"go.opentelemetry.io/otel/attribute"
)

const (
	cartService           = "cart-service"
	useCaseAddItem        = "cart.add_item"
	useCaseUpdateQuantity = "cart.update_quantity"
	useCaseRemoveItem     = "cart.remove_item"
	useCaseClear          = "cart.clear"
	useCaseRecommend      = "cart.recommendations"
	saveAttempts          = 3
	defaultRecommend      = 5
)

var (
	ErrMedicineNotFound = errors.New("cart: medicine not found at pharmacy")
	ErrRepository       = errors.New("cart: repository failure")
)

// StockChecker is the read side of the stock ledger used for soft availability checks.
type StockChecker interface {
	Available(ctx context.Context, pharmacyID, medicineID string) (int, error)
}

type Config struct {
	Limits   domain.Limits
	Currency string
}

// Manager owns every mutation of a user's cart. Totals are recomputed on each write and
// concurrent writers of the same cart are serialized through the repository version.
type Manager struct {
	carts   domain.Repository
	catalog catalog.Reader
	stock   StockChecker
	ids     application.IDGenerator
	now     application.Clock
	cfg     Config
	obs     *instrument.Instruments
}

func NewManager(
	carts domain.Repository,
	reader catalog.Reader,
	stock StockChecker,
	ids application.IDGenerator,
	clock application.Clock,
	cfg Config,
	tel observability.Observability,
) *Manager {
	if clock == nil {
		clock = application.SystemClock
	}
	if cfg.Limits == (domain.Limits{}) {
		cfg.Limits = domain.DefaultLimits()
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Manager{
		carts:   carts,
		catalog: reader,
		stock:   stock,
		ids:     ids,
		now:     clock,
		cfg:     cfg,
		obs:     instrument.New(tel, cartService),
	}
}

func (m *Manager) Get(ctx context.Context, userID, pharmacyID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, application.ErrUnauthenticated
	}
	c, err := m.carts.Get(ctx, userID, pharmacyID)
	if err != nil {
		return nil, wrapRepositoryError(err)
	}
	return c, nil
}

type AddItemInput struct {
	UserID           string
	PharmacyID       string
	MedicineID       string
	Quantity         int
	AcknowledgePrice bool
}

func (m *Manager) AddItem(ctx context.Context, in AddItemInput) (_ *domain.Cart, err error) {
	ctx, run := m.obs.Start(ctx, useCaseAddItem, "AddCartItem",
		attribute.String("pharmacy.id", in.PharmacyID),
		attribute.String("medicine.id", in.MedicineID),
		attribute.Int("quantity", in.Quantity),
	)
	defer func() { run.End(err) }()

	switch {
	case in.UserID == "":
		run.Fail("UNAUTHENTICATED")
		return nil, application.ErrUnauthenticated
	case strings.TrimSpace(in.PharmacyID) == "" || strings.TrimSpace(in.MedicineID) == "":
		run.Fail("IDS_REQUIRED")
		return nil, application.Validation("pharmacy_id and medicine_id are required")
	case in.Quantity <= 0:
		run.Fail("QUANTITY_INVALID")
		return nil, domain.ErrInvalidQuantity
	}

	med, err := m.catalog.GetMedicine(ctx, in.PharmacyID, in.MedicineID)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			run.Fail("MEDICINE_NOT_FOUND")
			return nil, ErrMedicineNotFound
		}
		run.Fail("CATALOG_LOOKUP_FAILED")
		return nil, fmt.Errorf("cart: catalog lookup: %w", err)
	}

	c, err := m.mutate(ctx,
		func() (*domain.Cart, error) {
			c, err := m.carts.Get(ctx, in.UserID, in.PharmacyID)
			if errors.Is(err, domain.ErrNotFound) {
				return domain.New(m.ids.NewID(), in.UserID, in.PharmacyID, m.cfg.Currency, m.now()), nil
			}
			return c, err
		},
		func(c *domain.Cart) error {
			projected := in.Quantity
			for _, it := range c.Items {
				if it.MedicineID == in.MedicineID {
					projected += it.Quantity
				}
			}
			if err := m.checkAvailable(ctx, in.PharmacyID, in.MedicineID, projected); err != nil {
				return err
			}
			_, err := c.Add(domain.AddInput{
				ItemID:           m.ids.NewID(),
				MedicineID:       med.ID,
				Name:             med.Name,
				Quantity:         in.Quantity,
				CurrentPrice:     med.Price,
				AcknowledgePrice: in.AcknowledgePrice,
			}, m.cfg.Limits, m.now())
			return err
		},
	)
	if err != nil {
		run.Fail(statusFor(err))
		return nil, err
	}
	run.Annotate(observability.F("cart_id", c.ID), observability.F("total_items", c.TotalItems))
	return c, nil
}

type UpdateQuantityInput struct {
	UserID           string
	ItemID           string
	Quantity         int
	AcknowledgePrice bool
}

func (m *Manager) UpdateQuantity(ctx context.Context, in UpdateQuantityInput) (_ *domain.Cart, err error) {
	ctx, run := m.obs.Start(ctx, useCaseUpdateQuantity, "UpdateCartItem",
		attribute.String("item.id", in.ItemID),
		attribute.Int("quantity", in.Quantity),
	)
	defer func() { run.End(err) }()

	if in.UserID == "" {
		run.Fail("UNAUTHENTICATED")
		return nil, application.ErrUnauthenticated
	}
	if in.Quantity <= 0 {
		run.Fail("QUANTITY_INVALID")
		return nil, domain.ErrInvalidQuantity
	}

	c, err := m.mutate(ctx,
		func() (*domain.Cart, error) { return m.ownedCartForItem(ctx, in.UserID, in.ItemID) },
		func(c *domain.Cart) error {
			item, ok := c.Item(in.ItemID)
			if !ok {
				return domain.ErrItemNotFound
			}
			med, err := m.catalog.GetMedicine(ctx, c.PharmacyID, item.MedicineID)
			if err != nil {
				if errors.Is(err, catalog.ErrNotFound) {
					return ErrMedicineNotFound
				}
				return fmt.Errorf("cart: catalog lookup: %w", err)
			}
			if in.Quantity > item.Quantity {
				if err := m.checkAvailable(ctx, c.PharmacyID, item.MedicineID, in.Quantity); err != nil {
					return err
				}
			}
			_, err = c.SetQuantity(in.ItemID, in.Quantity, med.Price, in.AcknowledgePrice, m.cfg.Limits, m.now())
			return err
		},
	)
	if err != nil {
		run.Fail(statusFor(err))
		return nil, err
	}
	return c, nil
}

func (m *Manager) RemoveItem(ctx context.Context, userID, itemID string) (_ *domain.Cart, err error) {
	ctx, run := m.obs.Start(ctx, useCaseRemoveItem, "RemoveCartItem", attribute.String("item.id", itemID))
	defer func() { run.End(err) }()

	if userID == "" {
		run.Fail("UNAUTHENTICATED")
		return nil, application.ErrUnauthenticated
	}
	c, err := m.mutate(ctx,
		func() (*domain.Cart, error) { return m.ownedCartForItem(ctx, userID, itemID) },
		func(c *domain.Cart) error { return c.Remove(itemID, m.now()) },
	)
	if err != nil {
		run.Fail(statusFor(err))
		return nil, err
	}
	return c, nil
}

func (m *Manager) Clear(ctx context.Context, userID, pharmacyID string) (_ *domain.Cart, err error) {
	ctx, run := m.obs.Start(ctx, useCaseClear, "ClearCart", attribute.String("pharmacy.id", pharmacyID))
	defer func() { run.End(err) }()

	if userID == "" {
		run.Fail("UNAUTHENTICATED")
		return nil, application.ErrUnauthenticated
	}
	c, err := m.mutate(ctx,
		func() (*domain.Cart, error) { return m.carts.Get(ctx, userID, pharmacyID) },
		func(c *domain.Cart) error {
			c.Clear(m.now())
			return nil
		},
	)
	if err != nil {
		run.Fail(statusFor(err))
		return nil, err
	}
	return c, nil
}

// Recommendations lists in-stock medicines of the pharmacy that are not already in the cart.
func (m *Manager) Recommendations(ctx context.Context, userID, pharmacyID string, limit int) (_ []catalog.Medicine, err error) {
	ctx, run := m.obs.Start(ctx, useCaseRecommend, "RecommendMedicines", attribute.String("pharmacy.id", pharmacyID))
	defer func() { run.End(err) }()

	if userID == "" {
		run.Fail("UNAUTHENTICATED")
		return nil, application.ErrUnauthenticated
	}
	if limit <= 0 {
		limit = defaultRecommend
	}

	c, err := m.carts.Get(ctx, userID, pharmacyID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		run.Fail("CART_LOOKUP_FAILED")
		return nil, wrapRepositoryError(err)
	}
	meds, err := m.catalog.ListMedicines(ctx, pharmacyID)
	if err != nil {
		run.Fail("CATALOG_LOOKUP_FAILED")
		return nil, fmt.Errorf("cart: catalog list: %w", err)
	}

	out := make([]catalog.Medicine, 0, limit)
	for _, med := range meds {
		if len(out) == limit {
			break
		}
		if c != nil && c.HasMedicine(med.ID) {
			continue
		}
		avail, err := m.stock.Available(ctx, pharmacyID, med.ID)
		if err != nil {
			run.Fail("STOCK_LOOKUP_FAILED")
			return nil, err
		}
		if avail > 0 {
			out = append(out, med)
		}
	}
	run.Annotate(observability.F("recommended", len(out)))
	return out, nil
}

func (m *Manager) mutate(ctx context.Context, load func() (*domain.Cart, error), apply func(*domain.Cart) error) (*domain.Cart, error) {
	for attempt := 0; attempt < saveAttempts; attempt++ {
		c, err := load()
		if err != nil {
			return nil, wrapRepositoryError(err)
		}
		if err := apply(c); err != nil {
			return nil, err
		}
		err = m.carts.Save(ctx, c)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, wrapRepositoryError(err)
		}
		return c, nil
	}
	return nil, domain.ErrConflict
}

func (m *Manager) ownedCartForItem(ctx context.Context, userID, itemID string) (*domain.Cart, error) {
	c, err := m.carts.FindByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		return nil, domain.ErrItemNotFound
	}
	return c, nil
}

func (m *Manager) checkAvailable(ctx context.Context, pharmacyID, medicineID string, want int) error {
	avail, err := m.stock.Available(ctx, pharmacyID, medicineID)
	if err != nil {
		return err
	}
	if avail < want {
		return &dominv.InsufficientStockError{
			PharmacyID: pharmacyID,
			MedicineID: medicineID,
			Requested:  want,
			Available:  avail,
		}
	}
	return nil
}

func wrapRepositoryError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrItemNotFound),
		errors.Is(err, domain.ErrConflict):
		return err
	default:
		return fmt.Errorf("%w: %w", ErrRepository, err)
	}
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "CART_NOT_FOUND"
	case errors.Is(err, domain.ErrItemNotFound):
		return "ITEM_NOT_FOUND"
	case errors.Is(err, domain.ErrCapExceeded):
		return "CAP_EXCEEDED"
	case errors.Is(err, domain.ErrPriceChanged):
		return "PRICE_CHANGED"
	case errors.Is(err, domain.ErrInvalidQuantity):
		return "QUANTITY_INVALID"
	case errors.Is(err, domain.ErrConflict):
		return "CONCURRENT_UPDATE"
	case errors.Is(err, dominv.ErrInsufficientStock):
		return "INSUFFICIENT_STOCK"
	case errors.Is(err, ErrMedicineNotFound):
		return "MEDICINE_NOT_FOUND"
	default:
		return "INTERNAL"
	}
}
