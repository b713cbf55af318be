package deduplication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"feedtriage/logging"
	"feedtriage/types"

	"github.com/charmbracelet/log"
)

const (
	DefaultWindow         = 72 * time.Hour
	DefaultMaxEntries     = 1000
	DefaultStaleAfter     = 5 * time.Minute
	DefaultRefreshTimeout = 10 * time.Second
)

// CandidateStore supplies the recently accepted items a cache is refreshed
// from, most recent first.
type CandidateStore interface {
	RecentCandidates(ctx context.Context, window time.Duration, limit int) ([]types.CacheEntry, error)
}

// CacheConfig tunes the duplicate cache.
type CacheConfig struct {
	Window         time.Duration // Default: 72h
	MaxEntries     int           // Default: 1000
	StaleAfter     time.Duration // Default: 5m
	RefreshTimeout time.Duration // Default: 10s
}

// Cache is a recency-windowed snapshot of accepted items. Entries are kept
// most recent first; that order is the tie-break used by the detector.
type Cache struct {
	store CandidateStore
	cfg   CacheConfig
	log   *log.Logger
	now   func() time.Time

	mu          sync.Mutex
	entries     []types.CacheEntry
	refreshedAt time.Time
	loaded      bool
}

// NewCache creates an empty cache backed by store. A nil store yields a
// cache that only holds appended entries.
func NewCache(store CandidateStore, cfg CacheConfig, logger *log.Logger) *Cache {
	return &Cache{
		store: store,
		cfg:   applyCacheDefaults(cfg),
		log:   logging.OrDiscard(logger),
		now:   time.Now,
	}
}

// Refresh replaces the snapshot with the store's recent candidates. On
// failure the previous snapshot is kept and the error is returned.
func (c *Cache) Refresh(ctx context.Context) error {
	if c.store == nil {
		c.mu.Lock()
		c.loaded = true
		c.refreshedAt = c.now()
		c.mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RefreshTimeout)
	defer cancel()

	entries, err := c.store.RecentCandidates(ctx, c.cfg.Window, c.cfg.MaxEntries)
	if err != nil {
		// Back off until the next staleness interval instead of retrying on
		// every lookup.
		c.mu.Lock()
		kept := len(c.entries)
		c.refreshedAt = c.now()
		c.loaded = true
		c.mu.Unlock()
		c.log.Warn("cache refresh failed, keeping previous snapshot", "entries", kept, "err", err)
		return fmt.Errorf("refresh duplicate cache: %w", err)
	}
	if len(entries) > c.cfg.MaxEntries {
		entries = entries[:c.cfg.MaxEntries]
	}

	c.mu.Lock()
	c.entries = entries
	c.refreshedAt = c.now()
	c.loaded = true
	c.mu.Unlock()

	c.log.Debug("cache refreshed", "entries", len(entries), "window", c.cfg.Window)
	return nil
}

// EnsureFresh refreshes the cache when it was never loaded or is older than
// the staleness interval.
func (c *Cache) EnsureFresh(ctx context.Context) error {
	if !c.Stale() {
		return nil
	}
	return c.Refresh(ctx)
}

// Stale reports whether the next lookup should refresh first.
func (c *Cache) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.loaded || c.now().Sub(c.refreshedAt) > c.cfg.StaleAfter
}

// Append records a newly accepted item as the most recent entry.
func (c *Cache) Append(entry types.CacheEntry) {
	if entry.InsertedAt.IsZero() {
		entry.InsertedAt = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = append(c.entries, types.CacheEntry{})
	copy(c.entries[1:], c.entries)
	c.entries[0] = entry
	if len(c.entries) > c.cfg.MaxEntries {
		c.entries = c.entries[:c.cfg.MaxEntries]
	}
}

// Reset drops the snapshot so the next lookup reloads from the store.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	c.refreshedAt = time.Time{}
	c.loaded = false
}

// Snapshot returns the entries inside the window, most recent first.
func (c *Cache) Snapshot() []types.CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.cfg.Window)
	out := make([]types.CacheEntry, 0, len(c.entries))
	for _, e := range c.entries {
		if !e.InsertedAt.IsZero() && e.InsertedAt.Before(cutoff) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Len returns the number of held entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func applyCacheDefaults(cfg CacheConfig) CacheConfig {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}
	return cfg
}
