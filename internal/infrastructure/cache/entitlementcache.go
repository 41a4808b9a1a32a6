package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/orris-inc/adfree/internal/domain/entitlement"
)

// EntitlementCache is the device-local last known entitlement status.
// Read never fails: any storage problem is reported as a miss, which callers
// must treat as "no information" and never as "not entitled".
type EntitlementCache interface {
	Read(ctx context.Context, userID string) (*entitlement.CacheEntry, bool)
	Write(ctx context.Context, userID string, status bool, at time.Time) error
	Invalidate(ctx context.Context, userID string) error
}

const defaultTTL = 24 * time.Hour

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return defaultTTL
	}
	return ttl
}

// checksum binds the stored fields to the user so a row edited by hand or
// copied between users does not validate.
func checksum(userID string, status bool, storedAt time.Time, ttl time.Duration) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatBool(status)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(storedAt.UTC().UnixNano(), 10)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(int64(ttl/time.Second), 10)))
	return hex.EncodeToString(h.Sum(nil))
}
