package orchestrator

import (
	"context"
	"errors"
	"time"

	"feedtriage/deduplication"
	"feedtriage/logging"
	"feedtriage/types"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	DefaultWorkers       = 8
	DefaultRatePerSecond = 4.0
	DefaultMinScore      = 2.0
	DefaultQueueLimit    = 20
	DefaultProcessLimit  = 10
	DefaultRetentionDays = 30
	dispatchTimeout      = 30 * time.Second
)

// ErrNoDispatcher is returned by Process when neither a publisher nor an
// archiver is configured. The queue is left untouched.
var ErrNoDispatcher = errors.New("no downstream dispatcher configured: set KAFKA_BOOTSTRAP_SERVERS or S3_BUCKET")

// FeedFetcher retrieves and cleans the entries of one feed.
type FeedFetcher interface {
	FetchFeed(ctx context.Context, url string) ([]types.RawItem, error)
}

// Enricher fills in missing article bodies in place.
type Enricher interface {
	Enrich(ctx context.Context, items []types.RawItem) int
}

// Publisher sends a selected item downstream.
type Publisher interface {
	Publish(ctx context.Context, key string, v any) error
}

// Archiver stores a processed batch.
type Archiver interface {
	ArchiveBatch(ctx context.Context, batchID string, items []types.NewsItem) (string, error)
}

// Store is the persistence the runner needs.
type Store interface {
	ActiveSources(ctx context.Context, category string) ([]types.Source, error)
	Keywords(ctx context.Context) (positive, negative []string, err error)
	InsertNews(ctx context.Context, item types.NewsItem) (int64, bool, error)
	RecordFetch(ctx context.Context, entry types.FetchLog) error
	QueueHighPriority(ctx context.Context, minScore float64, limit int) (int, error)
	PendingQueue(ctx context.Context, limit int) ([]types.QueuedItem, error)
	UpdateQueueStatus(ctx context.Context, queueID int64, status, errMsg string) error
	MarkProcessed(ctx context.Context, newsID int64) error
	MarkPublished(ctx context.Context, newsID int64) error
	CleanupOldNews(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Config holds the runner settings and its optional collaborators.
type Config struct {
	Workers        int     // Default: 8
	RatePerSecond  float64 // Source starts per second. Default: 4
	BatchThreshold float64 // Default: deduplication.DefaultBatchThreshold

	// Optional.
	Enricher  Enricher
	Publisher Publisher
	Archiver  Archiver
	// OnSource is called after each source finishes, one call at a time.
	OnSource func(done, total int, stats types.FetchStats)
}

// Runner drives fetch runs and the queue workflow.
type Runner struct {
	store   Store
	fetcher FeedFetcher
	dedup   *deduplication.Deduplicator
	cfg     Config
	limiter *rate.Limiter
	log     *log.Logger
	newID   func() string
}

// New creates a Runner. dedup must be built over the same store.
func New(store Store, fetcher FeedFetcher, dedup *deduplication.Deduplicator, cfg Config, logger *log.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = DefaultRatePerSecond
	}
	if cfg.BatchThreshold <= 0 {
		cfg.BatchThreshold = deduplication.DefaultBatchThreshold
	}

	return &Runner{
		store:   store,
		fetcher: fetcher,
		dedup:   dedup,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1),
		log:     logging.OrDiscard(logger).WithPrefix("orchestrator"),
		newID:   uuid.NewString,
	}
}

// Deduplicator returns the live deduplicator.
func (r *Runner) Deduplicator() *deduplication.Deduplicator { return r.dedup }
