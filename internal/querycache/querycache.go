// Package querycache deduplicates search queries over outcome-dependent time
// windows: a query that returned results is not repeated for 24 hours, a
// query that returned nothing is not repeated for 7 days.
package querycache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/eatplanted/venuescout/internal/model"
	"github.com/eatplanted/venuescout/internal/store"
)

const (
	// TTLWithResults is the retry horizon for productive queries.
	TTLWithResults = 24 * time.Hour
	// TTLNoResults is the retry horizon for empty queries; the underlying
	// search surface changes slowly so there is no point hammering it.
	TTLNoResults = 7 * 24 * time.Hour
)

// NormalizeQuery lowercases, trims and collapses internal whitespace. Word
// order is preserved: phrase order affects search relevance and must not be
// shuffled.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// HashQuery returns the content hash of the normalized query.
func HashQuery(q string) string {
	sum := sha256.Sum256([]byte(NormalizeQuery(q)))
	return hex.EncodeToString(sum[:])
}

// Cache is the query deduplication layer. The per-hash lock serializes the
// check-execute-record critical section so two workers racing on the same
// normalized query cannot both execute it; distinct queries proceed in
// parallel.
type Cache struct {
	store store.Store
	now   func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Cache over the given store.
func New(st store.Store) *Cache {
	return &Cache{
		store: st,
		now:   time.Now,
		locks: make(map[string]*sync.Mutex),
	}
}

// Acquire locks the critical section for q's hash and returns the release
// function. Callers hold the lock across ShouldSkipQuery, the search call and
// RecordQuery.
func (c *Cache) Acquire(q string) func() {
	hash := HashQuery(q)

	c.mu.Lock()
	l, ok := c.locks[hash]
	if !ok {
		l = &sync.Mutex{}
		c.locks[hash] = l
	}
	c.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// ShouldSkipQuery reports whether q was executed recently enough to skip.
// Stale entries are treated as expired but not purged here; CleanupExpired
// handles removal once per orchestration session.
func (c *Cache) ShouldSkipQuery(ctx context.Context, q string) (bool, error) {
	entry, err := c.store.GetQueryCache(ctx, HashQuery(q))
	if eris.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "querycache: lookup")
	}

	age := c.now().UTC().Sub(entry.ExecutedAt)
	if entry.ResultsCount > 0 {
		return age < TTLWithResults, nil
	}
	return age < TTLNoResults, nil
}

// RecordQuery upserts the cache entry for q, overwriting any prior entry and
// choosing the TTL from the outcome.
func (c *Cache) RecordQuery(ctx context.Context, q string, resultsCount int) error {
	now := c.now().UTC()
	ttl := TTLWithResults
	if resultsCount == 0 {
		ttl = TTLNoResults
	}

	entry := &model.QueryCacheEntry{
		QueryHash:       HashQuery(q),
		NormalizedQuery: NormalizeQuery(q),
		ExecutedAt:      now,
		ResultsCount:    resultsCount,
		ExpiresAt:       now.Add(ttl),
	}
	if err := c.store.UpsertQueryCache(ctx, entry); err != nil {
		return eris.Wrap(err, "querycache: record")
	}
	return nil
}

// CleanupExpired bulk-removes entries past their expiry. Intended to run once
// per orchestration session, not per query.
func (c *Cache) CleanupExpired(ctx context.Context) (int64, error) {
	n, err := c.store.DeleteExpiredQueryCache(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "querycache: cleanup")
	}
	if n > 0 {
		zap.L().Info("query cache cleanup", zap.Int64("removed", n))
	}

	// Drop idle per-hash locks so the map does not grow without bound across
	// long-lived processes.
	c.mu.Lock()
	for k, l := range c.locks {
		if l.TryLock() {
			l.Unlock()
			delete(c.locks, k)
		}
	}
	c.mu.Unlock()

	return n, nil
}
