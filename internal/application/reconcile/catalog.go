package reconcile

import (
	"fmt"
	"slices"

	"github.com/orris-inc/adfree/internal/domain/entitlement"
	"github.com/orris-inc/adfree/internal/shared/config"
)

// Catalog maps store product identifiers to entitlement product types.
type Catalog struct {
	types map[string]entitlement.ProductType
}

// NewCatalog builds the mapping from configuration. A product listed under
// both types is rejected.
func NewCatalog(cfg config.ProductsConfig) (*Catalog, error) {
	c := &Catalog{types: make(map[string]entitlement.ProductType)}
	add := func(ids []string, pt entitlement.ProductType) error {
		for _, id := range ids {
			if id == "" {
				continue
			}
			if existing, ok := c.types[id]; ok && existing != pt {
				return fmt.Errorf("product %s is configured as both %s and %s", id, existing, pt)
			}
			c.types[id] = pt
		}
		return nil
	}
	if err := add(cfg.Lifetime, entitlement.ProductTypeLifetime); err != nil {
		return nil, err
	}
	if err := add(cfg.Monthly, entitlement.ProductTypeMonthly); err != nil {
		return nil, err
	}
	return c, nil
}

// ProductType returns the product type sold under productID.
func (c *Catalog) ProductType(productID string) (entitlement.ProductType, error) {
	pt, ok := c.types[productID]
	if !ok {
		return entitlement.ProductTypeNone, fmt.Errorf("%w: %s", entitlement.ErrUnknownProduct, productID)
	}
	return pt, nil
}

// ProductIDs returns every configured product id in a stable order.
func (c *Catalog) ProductIDs() []string {
	ids := make([]string, 0, len(c.types))
	for id := range c.types {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
