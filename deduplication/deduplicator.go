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

// FingerprintFilter is a probabilistic set of title fingerprints that
// outlives a single run (see RedisBloom).
type FingerprintFilter interface {
	Exists(ctx context.Context, hash string) (bool, error)
	Add(ctx context.Context, hash string) error
	Close() error
}

// DeduplicationResult contains the result of a duplicate check.
type DeduplicationResult struct {
	IsDuplicate     bool      `json:"is_duplicate"`
	MatchingID      int64     `json:"matching_id,omitempty"`
	SimilarityScore float64   `json:"similarity_score,omitempty"`
	MatchType       string    `json:"match_type,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

// ProcessResult is the outcome of ProcessArticle.
type ProcessResult struct {
	DeduplicationResult
	// ID is the stored id when the item was accepted.
	ID int64 `json:"id,omitempty"`
	// Inserted is false for duplicates and for links storage already had.
	Inserted bool `json:"inserted"`
}

// InsertFunc persists an accepted item. It returns inserted=false when the
// item already existed.
type InsertFunc func(ctx context.Context) (id int64, inserted bool, err error)

// DeduplicatorConfig holds configuration for the deduplicator.
type DeduplicatorConfig struct {
	Cache               CacheConfig
	SimilarityThreshold float64 // Default: 0.6
	// Optional Bloom filter configuration. If nil, Bloom checks are disabled.
	BloomConfig *BloomConfig
}

// Deduplicator owns the duplicate cache during live ingestion. Every check
// and every check-insert-append sequence is serialized, so two near-identical
// items arriving from different sources at once cannot both be accepted.
type Deduplicator struct {
	mu        sync.Mutex
	cache     *Cache
	threshold float64
	bloom     FingerprintFilter
	log       *log.Logger
}

// NewDeduplicator creates a deduplicator refreshing its cache from store.
func NewDeduplicator(store CandidateStore, config DeduplicatorConfig, logger *log.Logger) (*Deduplicator, error) {
	cfg := applyConfigDefaults(config)

	var filter FingerprintFilter
	if cfg.BloomConfig != nil {
		bloomCfg := *cfg.BloomConfig
		bloomCfg.TTL = bloomWindow(bloomCfg.TTL, cfg.Cache.Window)
		b, err := NewRedisBloom(bloomCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize RedisBloom: %w", err)
		}
		filter = b
	}

	return NewDeduplicatorWithFilter(store, filter, cfg, logger), nil
}

// NewDeduplicatorWithFilter constructs a deduplicator around a preconfigured
// fingerprint filter, which may be nil.
func NewDeduplicatorWithFilter(store CandidateStore, filter FingerprintFilter, config DeduplicatorConfig, logger *log.Logger) *Deduplicator {
	cfg := applyConfigDefaults(config)
	logger = logging.OrDiscard(logger)

	return &Deduplicator{
		cache:     NewCache(store, cfg.Cache, logger),
		threshold: cfg.SimilarityThreshold,
		bloom:     filter,
		log:       logger,
	}
}

// Threshold returns the similarity cut-off in use.
func (d *Deduplicator) Threshold() float64 { return d.threshold }

// Cache exposes the underlying duplicate cache.
func (d *Deduplicator) Cache() *Cache { return d.cache }

// CheckForDuplicates checks title and description against the cache without
// recording anything.
func (d *Deduplicator) CheckForDuplicates(ctx context.Context, title, description string) (*DeduplicationResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.check(ctx, title, description)
}

// AddArticle records an accepted item in the cache and the fingerprint filter.
func (d *Deduplicator) AddArticle(ctx context.Context, entry types.CacheEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.add(ctx, entry)
}

// ProcessArticle performs the duplicate check and, when the item is new,
// persists it through insert and records it, all as one step.
func (d *Deduplicator) ProcessArticle(ctx context.Context, title, description string, insert InsertFunc) (*ProcessResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	result, err := d.check(ctx, title, description)
	if err != nil {
		return nil, err
	}
	if result.IsDuplicate {
		return &ProcessResult{DeduplicationResult: *result}, nil
	}

	id, inserted, err := insert(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to add new article: %w", err)
	}
	if inserted {
		d.add(ctx, types.CacheEntry{ID: id, Title: title, Description: description})
	}

	return &ProcessResult{DeduplicationResult: *result, ID: id, Inserted: inserted}, nil
}

// Reset clears the cache; called at the start of a full run.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cache.Reset()
}

// Close releases the fingerprint filter.
func (d *Deduplicator) Close() error {
	if d.bloom != nil {
		return d.bloom.Close()
	}
	return nil
}

func (d *Deduplicator) check(ctx context.Context, title, description string) (*DeduplicationResult, error) {
	checkTime := time.Now()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Refresh failures are logged by the cache; the stale snapshot is used.
	_ = d.cache.EnsureFresh(ctx)

	// Fast path: probabilistic filter of fingerprints from earlier runs.
	if d.bloom != nil {
		if normalized := Normalize(title); normalized != "" {
			exists, err := d.bloom.Exists(ctx, shortHash(normalized))
			if err != nil {
				d.log.Warn("bloom check failed", "err", err)
			} else if exists {
				return &DeduplicationResult{
					IsDuplicate:     true,
					SimilarityScore: 1,
					MatchType:       MatchBloom,
					CheckedAt:       checkTime,
				}, nil
			}
		}
	}

	candidates := d.cache.Snapshot()
	idx, score, matchType := findDuplicate(title, description, candidates, d.threshold)
	if idx < 0 {
		return &DeduplicationResult{CheckedAt: checkTime}, nil
	}

	match := candidates[idx]
	d.log.Debug("duplicate found", "title", title, "matches", match.ID, "score", score, "type", matchType)
	return &DeduplicationResult{
		IsDuplicate:     true,
		MatchingID:      match.ID,
		SimilarityScore: score,
		MatchType:       matchType,
		CheckedAt:       checkTime,
	}, nil
}

func (d *Deduplicator) add(ctx context.Context, entry types.CacheEntry) {
	d.cache.Append(entry)

	if d.bloom == nil {
		return
	}
	normalized := Normalize(entry.Title)
	if normalized == "" {
		return
	}
	if err := d.bloom.Add(ctx, shortHash(normalized)); err != nil {
		d.log.Warn("failed to add fingerprint to bloom filter", "id", entry.ID, "err", err)
	}
}

func applyConfigDefaults(config DeduplicatorConfig) DeduplicatorConfig {
	if config.SimilarityThreshold <= 0 {
		config.SimilarityThreshold = DefaultThreshold
	}
	config.Cache = applyCacheDefaults(config.Cache)
	return config
}
