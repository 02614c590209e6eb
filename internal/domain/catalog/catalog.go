package catalog

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("catalog: not found")
)

const PharmacyActive = "active"

type Pharmacy struct {
	ID       string
	Name     string
	Verified bool
	Status   string
}

// Open reports whether the pharmacy may take orders.
func (p Pharmacy) Open() bool { return p.Verified && p.Status == PharmacyActive }

// Medicine is a medicine as priced at one pharmacy.
type Medicine struct {
	ID         string
	PharmacyID string
	Name       string
	Price      int64
	Currency   string
}

type User struct {
	ID            string
	Email         string
	EmailVerified bool
}

// Reader is the read-only view of the catalog owned by another service.
type Reader interface {
	GetPharmacy(ctx context.Context, pharmacyID string) (Pharmacy, error)
	GetMedicine(ctx context.Context, pharmacyID, medicineID string) (Medicine, error)
	ListMedicines(ctx context.Context, pharmacyID string) ([]Medicine, error)
}

// Directory resolves users known to the identity service.
type Directory interface {
	GetUser(ctx context.Context, userID string) (User, error)
}
