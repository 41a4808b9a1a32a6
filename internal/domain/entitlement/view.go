package entitlement

import "time"

// View is the only entitlement value the rest of the application sees.
type View struct {
	Status    Status     `json:"status"`
	Source    Source     `json:"source"`
	UpdatedAt time.Time  `json:"updated_at"`
	RetryAt   *time.Time `json:"retry_at,omitempty"`
	// ValidUntil bounds a cache-sourced ENTITLED view.
	ValidUntil *time.Time `json:"valid_until,omitempty"`
}

// UnknownView is shown while nothing has been confirmed yet.
func UnknownView(at time.Time) View {
	return View{Status: StatusUnknown, Source: SourceNone, UpdatedAt: at}
}

// NotEntitledView is the fail-closed view.
func NotEntitledView(source Source, at time.Time) View {
	return View{Status: StatusNotEntitled, Source: source, UpdatedAt: at}
}

// RemoteView derives the view from an authority record. Only the record's
// entitled flag is consulted.
func RemoteView(r *Record, at time.Time) View {
	if r != nil && r.Entitled() {
		return View{Status: StatusEntitled, Source: SourceRemote, UpdatedAt: at}
	}
	return NotEntitledView(SourceRemote, at)
}

// CachedView is the provisional display for a positive, fresh cache entry.
func CachedView(e *CacheEntry, at time.Time) View {
	if !e.Positive(at) {
		return UnknownView(at)
	}
	until := e.ExpiresAt()
	return View{Status: StatusEntitled, Source: SourceCache, UpdatedAt: at, ValidUntil: &until}
}

// IsEntitled reports whether ads should be hidden.
func (v View) IsEntitled() bool {
	return v.Status == StatusEntitled
}

// At re-evaluates the view at a later time: a cache-sourced grant that has
// outlived its entry reads as NOT_ENTITLED.
func (v View) At(now time.Time) View {
	if v.Source == SourceCache && v.ValidUntil != nil && !now.Before(*v.ValidUntil) {
		expired := NotEntitledView(SourceNone, now)
		expired.RetryAt = v.RetryAt
		return expired
	}
	return v
}
