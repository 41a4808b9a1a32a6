package entitlement

import "time"

// CacheEntry is the device-local last known status. It is only ever written
// from a remote confirmation and is never the sole basis for a grant.
type CacheEntry struct {
	Status   bool
	StoredAt time.Time
	TTL      time.Duration
}

// Fresh reports whether the entry is still inside its validity window.
func (e *CacheEntry) Fresh(now time.Time) bool {
	if e == nil || e.TTL <= 0 || e.StoredAt.IsZero() {
		return false
	}
	if now.Before(e.StoredAt) {
		// Stored in the future: clock skew or tampering
		return false
	}
	return now.Sub(e.StoredAt) < e.TTL
}

// Positive reports whether the entry may back an optimistic ENTITLED display.
func (e *CacheEntry) Positive(now time.Time) bool {
	return e != nil && e.Status && e.Fresh(now)
}

// ExpiresAt is the end of the validity window.
func (e *CacheEntry) ExpiresAt() time.Time {
	return e.StoredAt.Add(e.TTL)
}
