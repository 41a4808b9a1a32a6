package entitlement

import "time"

// Product is a purchasable item as listed by the platform store.
type Product struct {
	ID       string `json:"id" yaml:"id"`
	Title    string `json:"title" yaml:"title"`
	Price    string `json:"price" yaml:"price"`
	Currency string `json:"currency" yaml:"currency"`
}

// Catalog is the store's answer to a product query. An empty catalog is a
// valid answer and distinct from the store being unavailable.
type Catalog []Product

// Find returns the product with the given id.
func (c Catalog) Find(id string) (Product, bool) {
	for _, p := range c {
		if p.ID == id {
			return p, true
		}
	}
	return Product{}, false
}

// StoreConnection is the handle returned by a successful store connect.
type StoreConnection struct {
	AccountID   string
	ConnectedAt time.Time
}
