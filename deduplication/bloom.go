package deduplication

import (
	"context"
	"fmt"
	"time"

	"feedtriage/logging"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	bloomOpTimeout = 5 * time.Second

	// bloomSlices is how many time-bucketed filters cover one window.
	bloomSlices = 4

	defaultBloomWindow = 24 * time.Hour
)

// BloomConfig configures RedisBloom connection and key
type BloomConfig struct {
	Addr     string // e.g. localhost:6379
	Password string
	DB       int
	Key      string // key prefix; each time slice gets "<Key>:<slice>"
	// TTL is how long a fingerprint stays matchable. It is capped at the
	// cache window by NewDeduplicator.
	TTL time.Duration
	// Capacity sets the BF.INSERT capacity of each slice (number of items)
	Capacity int
	// ErrorRate sets the desired false positive probability (e.g. 0.001)
	ErrorRate float64
	// If true, slices are created NONSCALING
	NonScaling bool
}

// bloomCommands is the part of the Redis client RedisBloom uses.
type bloomCommands interface {
	Do(ctx context.Context, args ...interface{}) *redis.Cmd
	ExpireAt(ctx context.Context, key string, tm time.Time) *redis.BoolCmd
	Close() error
}

// RedisBloom keeps title fingerprints in RedisBloom filters so exact
// re-publications are caught across runs and processes.
//
// The window is split into bloomSlices buckets, one filter key per bucket.
// A fingerprint goes into the current bucket, whose key expires at a fixed
// time once the bucket has left the window. Lookups consult the buckets still
// inside the window, so a fingerprint older than the window never matches.
type RedisBloom struct {
	client     bloomCommands
	key        string
	window     time.Duration
	capacity   int
	errorRate  float64
	nonScaling bool
	now        func() time.Time
}

// NewRedisBloom creates a RedisBloom wrapper and verifies connectivity
func NewRedisBloom(cfg BloomConfig, logger *log.Logger) (*RedisBloom, error) {
	logger = logging.OrDiscard(logger)
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), bloomOpTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	b := newRedisBloom(client, cfg)
	logger.Debug("bloom filter ready", "key", b.key, "window", b.window, "slice", b.slice())
	return b, nil
}

func newRedisBloom(client bloomCommands, cfg BloomConfig) *RedisBloom {
	window := cfg.TTL
	if window <= 0 {
		window = defaultBloomWindow
	}
	return &RedisBloom{
		client:     client,
		key:        cfg.Key,
		window:     window,
		capacity:   cfg.Capacity,
		errorRate:  cfg.ErrorRate,
		nonScaling: cfg.NonScaling,
		now:        time.Now,
	}
}

// Close closes the underlying Redis client
func (r *RedisBloom) Close() error {
	return r.client.Close()
}

// Exists checks if the fingerprint is present in any slice inside the window.
func (r *RedisBloom) Exists(ctx context.Context, hash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, bloomOpTimeout)
	defer cancel()

	for _, key := range r.activeKeys(r.now()) {
		// BF.EXISTS on a missing key answers 0.
		res, err := r.client.Do(ctx, "BF.EXISTS", key, hash).Result()
		if err != nil {
			return false, err
		}
		found, err := bloomBool(res)
		if err != nil || found {
			return found, err
		}
	}
	return false, nil
}

// Add inserts the fingerprint into the current slice. The slice key gets a
// fixed expiry at the moment it leaves the window; later inserts do not
// push it back.
func (r *RedisBloom) Add(ctx context.Context, hash string) error {
	ctx, cancel := context.WithTimeout(ctx, bloomOpTimeout)
	defer cancel()

	b := r.bucket(r.now())
	key := r.bucketKey(b)

	// BF.INSERT creates the slice with the configured sizing when it is new.
	args := []interface{}{"BF.INSERT", key}
	if r.capacity > 0 {
		args = append(args, "CAPACITY", r.capacity)
	}
	if r.errorRate > 0 {
		args = append(args, "ERROR", fmt.Sprintf("%f", r.errorRate))
	}
	if r.nonScaling {
		args = append(args, "NONSCALING")
	}
	args = append(args, "ITEMS", hash)
	if err := r.client.Do(ctx, args...).Err(); err != nil {
		return err
	}
	return r.client.ExpireAt(ctx, key, r.bucketExpiry(b)).Err()
}

func (r *RedisBloom) slice() time.Duration {
	s := r.window / bloomSlices
	if s < time.Second {
		s = time.Second
	}
	return s
}

func (r *RedisBloom) bucket(t time.Time) int64 {
	return t.UnixNano() / int64(r.slice())
}

func (r *RedisBloom) bucketKey(b int64) string {
	return fmt.Sprintf("%s:%d", r.key, b)
}

// bucketExpiry is the first instant at which bucket b is no longer consulted.
func (r *RedisBloom) bucketExpiry(b int64) time.Time {
	return time.Unix(0, (b+bloomSlices)*int64(r.slice()))
}

// activeKeys lists the current slice and the ones before it that are still
// inside the window, newest first.
func (r *RedisBloom) activeKeys(now time.Time) []string {
	b := r.bucket(now)
	keys := make([]string, 0, bloomSlices)
	for i := int64(0); i < bloomSlices; i++ {
		keys = append(keys, r.bucketKey(b-i))
	}
	return keys
}

// bloomWindow caps how long a fingerprint stays in the filter at the cache
// window, so the filter never remembers more than the cache would.
func bloomWindow(ttl, cacheWindow time.Duration) time.Duration {
	if ttl <= 0 || ttl > cacheWindow {
		return cacheWindow
	}
	return ttl
}

func bloomBool(res interface{}) (bool, error) {
	switch v := res.(type) {
	case int64:
		return v == 1, nil
	case bool:
		return v, nil
	case string:
		return v == "1", nil
	default:
		return false, fmt.Errorf("unexpected BF.EXISTS response type %T: %v", res, res)
	}
}
