package model

import "time"

// PermanentDependency marks a cache entry that is never invalidated by table
// changes. Only an explicit chart refresh clears it.
const PermanentDependency = "__permanent__"

// CacheKey identifies one cached chart result.
type CacheKey struct {
	ChartID     string `json:"chart_id"`
	TenantID    string `json:"tenant_id"`
	Fingerprint string `json:"fingerprint"`
}

// CacheEntry is a stored query result together with what it depends on.
type CacheEntry struct {
	Key             CacheKey        `json:"key"`
	StorageLocation StorageLocation `json:"storage_location"`
	Result          *ResultSet      `json:"result"`
	RowCount        int             `json:"row_count"`
	DurationMs      int64           `json:"duration_ms"`
	CapturedAt      time.Time       `json:"captured_at"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty"`
	Dependencies    []string        `json:"dependencies"`
}

// Permanent reports whether the entry carries the permanent sentinel.
func (e *CacheEntry) Permanent() bool {
	for _, d := range e.Dependencies {
		if d == PermanentDependency {
			return true
		}
	}
	return false
}

// Expired reports whether the entry has an expiry that lies before now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}
