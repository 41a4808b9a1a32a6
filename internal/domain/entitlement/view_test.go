package entitlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCacheEntry_Positive(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		entry *CacheEntry
		want  bool
	}{
		{"nil entry", nil, false},
		{"positive one hour old", &CacheEntry{Status: true, StoredAt: now.Add(-time.Hour), TTL: 24 * time.Hour}, true},
		{"negative entry", &CacheEntry{Status: false, StoredAt: now.Add(-time.Hour), TTL: 24 * time.Hour}, false},
		{"expired positive", &CacheEntry{Status: true, StoredAt: now.Add(-25 * time.Hour), TTL: 24 * time.Hour}, false},
		{"exactly at ttl", &CacheEntry{Status: true, StoredAt: now.Add(-24 * time.Hour), TTL: 24 * time.Hour}, false},
		{"stored in the future", &CacheEntry{Status: true, StoredAt: now.Add(time.Hour), TTL: 24 * time.Hour}, false},
		{"zero ttl", &CacheEntry{Status: true, StoredAt: now, TTL: 0}, false},
		{"zero stored at", &CacheEntry{Status: true, TTL: 24 * time.Hour}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.entry.Positive(now))
		})
	}
}

func TestRemoteView(t *testing.T) {
	now := time.Now().UTC()
	granted, _ := ReconstructRecord("u", true, ProductTypeLifetime, nil, nil, now)
	denied, _ := ReconstructRecord("u", false, ProductTypeLifetime, nil, nil, now)

	assert.Equal(t, StatusEntitled, RemoteView(granted, now).Status)
	assert.Equal(t, SourceRemote, RemoteView(granted, now).Source)
	assert.Equal(t, StatusNotEntitled, RemoteView(denied, now).Status, "product type alone never grants")
	assert.Equal(t, StatusNotEntitled, RemoteView(nil, now).Status)
}

func TestCachedView_ExpiresWithEntry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entry := &CacheEntry{Status: true, StoredAt: now.Add(-time.Hour), TTL: 24 * time.Hour}

	v := CachedView(entry, now)
	assert.Equal(t, StatusEntitled, v.Status)
	assert.Equal(t, SourceCache, v.Source)

	assert.Equal(t, StatusEntitled, v.At(now.Add(22*time.Hour)).Status)

	expired := v.At(now.Add(23 * time.Hour))
	assert.Equal(t, StatusNotEntitled, expired.Status)
	assert.Equal(t, SourceNone, expired.Source)
}

func TestCachedView_NegativeEntryIsUnknown(t *testing.T) {
	now := time.Now().UTC()
	v := CachedView(&CacheEntry{Status: false, StoredAt: now, TTL: time.Hour}, now)
	assert.Equal(t, StatusUnknown, v.Status)
	assert.Equal(t, SourceNone, v.Source)
}
