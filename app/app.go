// Package app wires configuration into the storage, deduplication, fetch and
// dispatch components shared by the server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"feedtriage/common"
	"feedtriage/config"
	"feedtriage/deduplication"
	"feedtriage/logging"
	"feedtriage/orchestrator"
	"feedtriage/rssfeeds"
	"feedtriage/shared/kafka"
	"feedtriage/storage"
	"feedtriage/types"

	"github.com/charmbracelet/log"
)

// App holds the long-lived components.
type App struct {
	Config config.Config
	Store  *storage.Store
	Dedup  *deduplication.Deduplicator
	Runner *orchestrator.Runner

	producer *kafka.Producer
	log      *log.Logger
}

// Options adjust how New builds the runner.
type Options struct {
	// OnSource receives per-source progress during fetch runs.
	OnSource func(done, total int, stats types.FetchStats)
}

// New opens storage and builds the deduplicator and runner. Optional
// collaborators (Redis bloom filter, Kafka, S3) are skipped with a warning
// when they cannot be reached.
func New(ctx context.Context, cfg config.Config, opts Options, logger *log.Logger) (*App, error) {
	logger = logging.OrDiscard(logger)
	store, err := storage.Open(ctx, cfg.Database.Driver, cfg.Database.URL, logger.WithPrefix("storage"))
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Store: store, log: logger}
	a.Dedup = a.newDeduplicator()

	runnerCfg := orchestrator.Config{
		Workers:        cfg.Fetch.Workers,
		RatePerSecond:  cfg.Fetch.RatePerSecond,
		BatchThreshold: cfg.Dedup.BatchThreshold,
		OnSource:       opts.OnSource,
	}
	if cfg.Fetch.EnrichContent {
		runnerCfg.Enricher = rssfeeds.NewEnricher(cfg.Fetch.EnrichWorkers, logger.WithPrefix("enrich"))
	}
	if p := a.newProducer(); p != nil {
		a.producer = p
		runnerCfg.Publisher = p
	}
	if s3 := a.newArchive(ctx); s3 != nil {
		runnerCfg.Archiver = s3
	}

	fetcher := rssfeeds.NewFetcher(cfg.Fetch.Timeout(), logger.WithPrefix("fetch"))
	a.Runner = orchestrator.New(store, fetcher, a.Dedup, runnerCfg, logger)
	return a, nil
}

func (a *App) newDeduplicator() *deduplication.Deduplicator {
	cfg := a.Config
	dedupCfg := deduplication.DeduplicatorConfig{
		SimilarityThreshold: cfg.Dedup.Threshold,
		Cache: deduplication.CacheConfig{
			Window:     cfg.Dedup.Window(),
			MaxEntries: cfg.Dedup.MaxEntries,
			StaleAfter: cfg.Dedup.StaleAfter(),
		},
	}
	logger := a.log.WithPrefix("dedup")

	if cfg.Bloom.Enabled {
		bloomCfg := deduplication.BloomConfig{
			Addr:       cfg.Bloom.Addr,
			Password:   cfg.Bloom.Password,
			Key:        cfg.Bloom.Key,
			TTL:        cfg.Bloom.TTL(),
			Capacity:   cfg.Bloom.Capacity,
			ErrorRate:  cfg.Bloom.ErrorRate,
			NonScaling: cfg.Bloom.NonScaling,
		}
		dedupCfg.BloomConfig = &bloomCfg
		d, err := deduplication.NewDeduplicator(a.Store, dedupCfg, logger)
		if err == nil {
			return d
		}
		a.log.Warn("bloom filter disabled", "addr", cfg.Bloom.Addr, "err", err)
		dedupCfg.BloomConfig = nil
	}
	return deduplication.NewDeduplicatorWithFilter(a.Store, nil, dedupCfg, logger)
}

func (a *App) newProducer() *kafka.Producer {
	cfg := a.Config.Kafka
	if !cfg.Enabled() {
		return nil
	}
	p, err := kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Brokers, Topic: cfg.Topic}, a.log)
	if err != nil {
		a.log.Warn("kafka publishing disabled", "brokers", cfg.Brokers, "err", err)
		return nil
	}
	return p
}

func (a *App) newArchive(ctx context.Context) *common.S3 {
	cfg := a.Config.S3
	if !cfg.Enabled() {
		a.log.Debug("S3 not configured; batches are not archived")
		return nil
	}
	s3, err := common.NewS3(ctx, common.S3Config{
		Bucket:       cfg.Bucket,
		Prefix:       cfg.Prefix,
		Region:       cfg.Region,
		Profile:      cfg.Profile,
		UsePathStyle: cfg.UsePathStyle,
	}, a.log)
	if err != nil {
		a.log.Warn("S3 archive disabled", "bucket", cfg.Bucket, "err", err)
		return nil
	}
	return s3
}

// Setup loads sources and keywords from the sources file. Rows that already
// exist are left alone.
func (a *App) Setup(ctx context.Context) (sources, keywords int, err error) {
	srcs, kws, err := rssfeeds.LoadSources(a.Config.SourcesFile)
	if err != nil {
		return 0, 0, err
	}
	if sources, err = a.Store.UpsertSources(ctx, srcs); err != nil {
		return sources, 0, err
	}
	if keywords, err = a.Store.UpsertKeywords(ctx, kws); err != nil {
		return sources, keywords, err
	}
	a.log.Info("setup complete", "sources", sources, "keywords", keywords, "file", a.Config.SourcesFile)
	return sources, keywords, nil
}

// NewStreamConsumer builds a consumer group that ingests raw items from the
// input topic.
func (a *App) NewStreamConsumer(ctx context.Context) (*kafka.Consumer, error) {
	cfg := a.Config.Kafka
	if !cfg.Enabled() {
		return nil, errors.New("stream intake needs KAFKA_BOOTSTRAP_SERVERS")
	}
	handler, err := a.Runner.StreamHandler(ctx)
	if err != nil {
		return nil, err
	}
	c, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.InputTopic,
		GroupID: cfg.GroupID,
		Handler: handler,
	}, a.log)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	return c, nil
}

// Close releases every component.
func (a *App) Close() error {
	var errs []error
	if a.producer != nil {
		errs = append(errs, a.producer.Close())
	}
	if a.Dedup != nil {
		errs = append(errs, a.Dedup.Close())
	}
	errs = append(errs, a.Store.Close())
	return errors.Join(errs...)
}
