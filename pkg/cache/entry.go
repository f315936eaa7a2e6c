package cache

import "time"

// Entry is one cached raw API response.
type Entry struct {
	// Data is the raw response body.
	Data []byte `json:"data"`

	// StoredAt is when the response was cached.
	StoredAt time.Time `json:"stored_at"`

	// Expires is when the entry becomes stale.
	Expires time.Time `json:"expires"`
}

// IsExpired returns true if the cache entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
