// Package entitlement holds the ad-free entitlement domain: the backend-owned
// record, store transactions, the device cache entry and the view exposed to
// the UI layer.
package entitlement

// ProductType is the kind of purchase backing an entitlement.
type ProductType string

const (
	ProductTypeLifetime ProductType = "lifetime"
	ProductTypeMonthly  ProductType = "monthly"
	ProductTypeNone     ProductType = "none"
)

// IsValid checks if the product type is a known value
func (p ProductType) IsValid() bool {
	switch p {
	case ProductTypeLifetime, ProductTypeMonthly, ProductTypeNone:
		return true
	default:
		return false
	}
}

// IsPurchasable reports whether a transaction may carry this product type.
func (p ProductType) IsPurchasable() bool {
	return p == ProductTypeLifetime || p == ProductTypeMonthly
}

// Rank orders product types so a record never downgrades: none < monthly < lifetime.
func (p ProductType) Rank() int {
	switch p {
	case ProductTypeLifetime:
		return 2
	case ProductTypeMonthly:
		return 1
	default:
		return 0
	}
}

func (p ProductType) String() string {
	return string(p)
}

// Status is the entitlement status shown to the user.
type Status string

const (
	StatusEntitled    Status = "ENTITLED"
	StatusNotEntitled Status = "NOT_ENTITLED"
	StatusUnknown     Status = "UNKNOWN"
)

func (s Status) String() string {
	return string(s)
}

// Source says where the displayed status came from.
type Source string

const (
	SourceRemote Source = "REMOTE"
	SourceCache  Source = "CACHE"
	SourceNone   Source = "NONE"
)

func (s Source) String() string {
	return string(s)
}
