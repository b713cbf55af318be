package deduplication

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"feedtriage/types"
)

type fakeCandidateStore struct {
	mu      sync.Mutex
	entries []types.CacheEntry
	err     error
	block   bool
	calls   int
}

func (f *fakeCandidateStore) RecentCandidates(ctx context.Context, window time.Duration, limit int) ([]types.CacheEntry, error) {
	f.mu.Lock()
	f.calls++
	block, err := f.block, f.err
	entries := append([]types.CacheEntry(nil), f.entries...)
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (f *fakeCandidateStore) set(entries []types.CacheEntry, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = entries
	f.err = err
}

func (f *fakeCandidateStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestCache(store CandidateStore, cfg CacheConfig) (*Cache, *fakeClock) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := NewCache(store, cfg, nil)
	c.now = clock.Now
	return c, clock
}

func ids(entries []types.CacheEntry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCacheRefreshLoadsEntries(t *testing.T) {
	store := &fakeCandidateStore{entries: []types.CacheEntry{{ID: 2, Title: "b"}, {ID: 1, Title: "a"}}}
	c, _ := newTestCache(store, CacheConfig{})

	if !c.Stale() {
		t.Fatalf("new cache should be stale")
	}
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if got := ids(c.Snapshot()); !equalIDs(got, []int64{2, 1}) {
		t.Fatalf("Snapshot ids = %v; want [2 1]", got)
	}
	if c.Stale() {
		t.Fatalf("freshly refreshed cache reported stale")
	}
}

func TestCacheRefreshFailureKeepsSnapshot(t *testing.T) {
	store := &fakeCandidateStore{entries: []types.CacheEntry{{ID: 1, Title: "a"}}}
	c, clock := newTestCache(store, CacheConfig{})

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}

	boom := errors.New("database is locked")
	store.set(nil, boom)
	clock.Advance(DefaultStaleAfter + time.Second)

	err := c.EnsureFresh(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("EnsureFresh error = %v; want wrapped %v", err, boom)
	}
	if got := ids(c.Snapshot()); !equalIDs(got, []int64{1}) {
		t.Fatalf("Snapshot after failed refresh = %v; want [1]", got)
	}

	// A failed refresh backs off until the next staleness interval.
	calls := store.callCount()
	if err := c.EnsureFresh(context.Background()); err != nil {
		t.Fatalf("EnsureFresh during back-off returned %v", err)
	}
	if store.callCount() != calls {
		t.Fatalf("store queried again during back-off")
	}
}

func TestCacheEnsureFreshRespectsStaleness(t *testing.T) {
	store := &fakeCandidateStore{}
	c, clock := newTestCache(store, CacheConfig{StaleAfter: time.Minute})
	ctx := context.Background()

	if err := c.EnsureFresh(ctx); err != nil {
		t.Fatalf("EnsureFresh error: %v", err)
	}
	if err := c.EnsureFresh(ctx); err != nil {
		t.Fatalf("EnsureFresh error: %v", err)
	}
	if n := store.callCount(); n != 1 {
		t.Fatalf("store calls = %d; want 1", n)
	}

	clock.Advance(2 * time.Minute)
	if err := c.EnsureFresh(ctx); err != nil {
		t.Fatalf("EnsureFresh error: %v", err)
	}
	if n := store.callCount(); n != 2 {
		t.Fatalf("store calls after staleness = %d; want 2", n)
	}
}

func TestCacheAppendPrependsAndTrims(t *testing.T) {
	c, _ := newTestCache(nil, CacheConfig{MaxEntries: 3})

	for i := int64(1); i <= 5; i++ {
		c.Append(types.CacheEntry{ID: i, Title: "item"})
	}
	if got := ids(c.Snapshot()); !equalIDs(got, []int64{5, 4, 3}) {
		t.Fatalf("Snapshot ids = %v; want [5 4 3]", got)
	}
	if c.Len() != 3 {
		t.Fatalf("Len = %d; want 3", c.Len())
	}
}

func TestCacheSnapshotSkipsExpired(t *testing.T) {
	c, clock := newTestCache(nil, CacheConfig{Window: time.Hour})

	c.Append(types.CacheEntry{ID: 1, Title: "old"})
	clock.Advance(90 * time.Minute)
	c.Append(types.CacheEntry{ID: 2, Title: "fresh"})

	if got := ids(c.Snapshot()); !equalIDs(got, []int64{2}) {
		t.Fatalf("Snapshot ids = %v; want [2]", got)
	}
	if c.Len() != 2 {
		t.Fatalf("Len = %d; want 2 (expired entries are held until refresh)", c.Len())
	}
}

func TestCacheReset(t *testing.T) {
	store := &fakeCandidateStore{entries: []types.CacheEntry{{ID: 7, Title: "a"}}}
	c, _ := newTestCache(store, CacheConfig{})

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	c.Reset()
	if c.Len() != 0 {
		t.Fatalf("Len after Reset = %d; want 0", c.Len())
	}
	if !c.Stale() {
		t.Fatalf("cache should be stale after Reset")
	}
}

func TestCacheRefreshTimeout(t *testing.T) {
	store := &fakeCandidateStore{block: true}
	c, _ := newTestCache(store, CacheConfig{RefreshTimeout: 20 * time.Millisecond})

	start := time.Now()
	err := c.Refresh(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Refresh error = %v; want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("Refresh took %v despite timeout", elapsed)
	}
}
