package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"feedtriage/deduplication"
	"feedtriage/priority"
	"feedtriage/types"

	"golang.org/x/sync/errgroup"
)

// Outcome is what happened to a single ingested entry.
type Outcome string

const (
	OutcomeNew       Outcome = "new"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeExisting  Outcome = "existing"
	OutcomeFiltered  Outcome = "filtered"
	OutcomeSkipped   Outcome = "skipped"
)

// IngestResult describes how an entry was handled.
type IngestResult struct {
	Outcome         Outcome                            `json:"outcome"`
	ID              int64                              `json:"id,omitempty"`
	Score           float64                            `json:"score"`
	MatchedKeywords []string                           `json:"matched_keywords"`
	Dedup           *deduplication.DeduplicationResult `json:"dedup,omitempty"`
}

// FetchRun is the result of RunFetch.
type FetchRun struct {
	ID      string             `json:"run_id"`
	Summary types.FetchSummary `json:"summary"`
	Sources []types.FetchStats `json:"sources"`
}

// RunFetch fetches every active source (optionally of one category) and
// ingests their entries. On cancellation it returns the stats gathered so
// far together with ctx.Err().
func (r *Runner) RunFetch(ctx context.Context, category string) (*FetchRun, error) {
	run := &FetchRun{ID: r.newID()}
	logger := r.log.With("run", run.ID)

	sources, err := r.store.ActiveSources(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("load sources: %w", err)
	}
	positive, negative, err := r.store.Keywords(ctx)
	if err != nil {
		return nil, fmt.Errorf("load keywords: %w", err)
	}

	// Every run starts from what storage holds.
	r.dedup.Reset()

	logger.Info("fetch run started", "sources", len(sources), "category", category, "workers", r.cfg.Workers)
	start := time.Now()

	var (
		mu      sync.Mutex
		results = make([]types.FetchStats, 0, len(sources))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for _, src := range sources {
		if err := r.limiter.Wait(gctx); err != nil {
			break
		}
		g.Go(func() error {
			stats := r.fetchSource(gctx, src, positive, negative)

			mu.Lock()
			results = append(results, stats)
			done := len(results)
			if r.cfg.OnSource != nil {
				r.cfg.OnSource(done, len(sources), stats)
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	run.Sources = results
	run.Summary = types.Summarize(results)
	run.Summary.RunID = run.ID

	logger.Info("fetch run finished",
		"duration", time.Since(start).Round(time.Millisecond),
		"successful", run.Summary.Successful,
		"failed", run.Summary.Failed,
		"new", run.Summary.NewNews,
		"duplicates", run.Summary.Duplicates)

	if err := ctx.Err(); err != nil {
		return run, err
	}
	return run, nil
}

func (r *Runner) fetchSource(ctx context.Context, src types.Source, positive, negative []string) types.FetchStats {
	start := time.Now()
	stats := types.FetchStats{SourceID: src.ID, SourceName: src.Name}
	logger := r.log.With("source", src.Name)

	defer func() {
		stats.DurationMS = time.Since(start).Milliseconds()
		// The fetch log is written even when the run is being cancelled.
		entry := types.FetchLog{
			SourceID:   src.ID,
			Success:    stats.Success,
			NewsCount:  stats.NewCount,
			Error:      stats.Error,
			DurationMS: stats.DurationMS,
		}
		if err := r.store.RecordFetch(context.WithoutCancel(ctx), entry); err != nil {
			logger.Warn("failed to record fetch", "err", err)
		}
	}()

	items, err := r.fetcher.FetchFeed(ctx, src.URL)
	if err != nil {
		stats.Error = err.Error()
		logger.Warn("fetch failed", "url", src.URL, "err", err)
		return stats
	}

	if r.cfg.Enricher != nil {
		if n := r.cfg.Enricher.Enrich(ctx, items); n > 0 {
			logger.Debug("content enriched", "items", n)
		}
	}

	stats.NewsCount = len(items)
	for _, raw := range items {
		if ctx.Err() != nil {
			break
		}
		raw.SourceID = src.ID

		res, err := r.Ingest(ctx, raw, positive, negative)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			logger.Warn("failed to ingest entry", "link", raw.Link, "err", err)
			stats.SkippedCount++
			continue
		}

		switch res.Outcome {
		case OutcomeNew:
			stats.NewCount++
		case OutcomeDuplicate:
			stats.DuplicateCount++
		case OutcomeExisting:
			// Already stored under this link: neither new nor a duplicate.
		default:
			stats.SkippedCount++
		}
	}

	stats.Success = true
	logger.Debug("source done", "entries", stats.NewsCount, "new", stats.NewCount, "duplicates", stats.DuplicateCount)
	return stats
}

// Ingest runs one entry through the duplicate check and scoring, and stores
// it when it is new and not filtered. The check, insert and cache update
// happen as one step.
func (r *Runner) Ingest(ctx context.Context, raw types.RawItem, positive, negative []string) (*IngestResult, error) {
	raw.Title = strings.TrimSpace(raw.Title)
	raw.Link = strings.TrimSpace(raw.Link)
	if raw.Title == "" || raw.Link == "" {
		return &IngestResult{Outcome: OutcomeSkipped, MatchedKeywords: []string{}}, nil
	}

	score, matched := priority.Score(raw.Title, raw.Description, positive, negative)
	res := &IngestResult{Score: score, MatchedKeywords: matched}
	filtered := score < 0

	insert := func(ctx context.Context) (int64, bool, error) {
		if filtered {
			return 0, false, nil
		}
		return r.store.InsertNews(ctx, types.NewNewsItem(raw, score, matched))
	}

	pr, err := r.dedup.ProcessArticle(ctx, raw.Title, raw.Description, insert)
	if err != nil {
		return nil, err
	}

	dedupResult := pr.DeduplicationResult
	res.Dedup = &dedupResult
	res.ID = pr.ID

	switch {
	case pr.IsDuplicate:
		res.Outcome = OutcomeDuplicate
	case filtered:
		res.Outcome = OutcomeFiltered
	case pr.Inserted:
		res.Outcome = OutcomeNew
	default:
		res.Outcome = OutcomeExisting
	}
	return res, nil
}
