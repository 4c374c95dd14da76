package model

import "time"

// QueryCacheEntry records one executed search query. One entry exists per
// query hash; re-execution overwrites. The expiry horizon depends on the
// outcome: productive queries are retried after 24h, empty ones after 7d
// because the underlying search surface changes slowly.
type QueryCacheEntry struct {
	QueryHash       string    `json:"query_hash"`
	NormalizedQuery string    `json:"normalized_query"`
	ExecutedAt      time.Time `json:"executed_at"`
	ResultsCount    int       `json:"results_count"`
	ExpiresAt       time.Time `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry at the given instant.
func (e *QueryCacheEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}
