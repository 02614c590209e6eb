package memory

import (
	"context"
	"sort"
	"sync"

	domain "github.com/Zhima-Mochi/pharmacy-checkout/internal/domain/catalog"
)

// Catalog serves pharmacies, medicines and users from memory. It implements both
// catalog.Reader and catalog.Directory.
type Catalog struct {
	mu         sync.RWMutex
	pharmacies map[string]domain.Pharmacy
	medicines  map[string]map[string]domain.Medicine
	users      map[string]domain.User
}

func NewCatalog() *Catalog {
	return &Catalog{
		pharmacies: make(map[string]domain.Pharmacy),
		medicines:  make(map[string]map[string]domain.Medicine),
		users:      make(map[string]domain.User),
	}
}

func (c *Catalog) PutPharmacy(p domain.Pharmacy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pharmacies[p.ID] = p
}

func (c *Catalog) PutMedicine(m domain.Medicine) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.medicines[m.PharmacyID] == nil {
		c.medicines[m.PharmacyID] = make(map[string]domain.Medicine)
	}
	c.medicines[m.PharmacyID][m.ID] = m
}

func (c *Catalog) PutUser(u domain.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users[u.ID] = u
}

func (c *Catalog) GetPharmacy(ctx context.Context, pharmacyID string) (domain.Pharmacy, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.pharmacies[pharmacyID]
	if !ok {
		return domain.Pharmacy{}, domain.ErrNotFound
	}
	return p, nil
}

func (c *Catalog) GetMedicine(ctx context.Context, pharmacyID, medicineID string) (domain.Medicine, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.medicines[pharmacyID][medicineID]
	if !ok {
		return domain.Medicine{}, domain.ErrNotFound
	}
	return m, nil
}

func (c *Catalog) ListMedicines(ctx context.Context, pharmacyID string) ([]domain.Medicine, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Medicine, 0, len(c.medicines[pharmacyID]))
	for _, m := range c.medicines[pharmacyID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (c *Catalog) GetUser(ctx context.Context, userID string) (domain.User, error) {
	_ = ctx
	c.mu.RLock()
	defer c.mu.RUnlock()

	u, ok := c.users[userID]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}
