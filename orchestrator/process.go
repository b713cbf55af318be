package orchestrator

import (
	"context"
	"fmt"
	"time"

	"feedtriage/deduplication"
	"feedtriage/priority"
	"feedtriage/types"
)

// ProcessReport summarizes a Process call.
type ProcessReport struct {
	BatchID    string `json:"batch_id"`
	Pulled     int    `json:"pulled"`
	Selected   int    `json:"selected"`
	Completed  int    `json:"completed"`
	Duplicates int    `json:"duplicates"`
	Failed     int    `json:"failed"`
	ArchiveKey string `json:"archive_key,omitempty"`
}

// Queue enqueues unprocessed, not yet queued news scoring at least minScore,
// highest first.
func (r *Runner) Queue(ctx context.Context, minScore float64, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	n, err := r.store.QueueHighPriority(ctx, minScore, limit)
	if err != nil {
		return 0, fmt.Errorf("queue high priority news: %w", err)
	}
	r.log.Info("news queued", "count", n, "min_score", minScore)
	return n, nil
}

// Process takes up to limit*2 pending queue items, collapses near-duplicates,
// dispatches at most limit survivors and records the outcome of each. It
// returns ErrNoDispatcher without touching the queue when nothing downstream
// is configured.
func (r *Runner) Process(ctx context.Context, limit int) (*ProcessReport, error) {
	if r.cfg.Publisher == nil && r.cfg.Archiver == nil {
		return nil, ErrNoDispatcher
	}
	if limit <= 0 {
		limit = DefaultProcessLimit
	}
	report := &ProcessReport{BatchID: r.newID()}
	logger := r.log.With("batch", report.BatchID)

	pending, err := r.store.PendingQueue(ctx, limit*2)
	if err != nil {
		return nil, fmt.Errorf("load pending queue: %w", err)
	}
	report.Pulled = len(pending)
	if len(pending) == 0 {
		logger.Info("queue is empty")
		return report, nil
	}

	queueIDs := make(map[int64]int64, len(pending))
	items := make([]types.NewsItem, len(pending))
	for i, q := range pending {
		items[i] = q.NewsItem
		queueIDs[q.ID] = q.QueueID
	}
	priority.Rank(items)

	survivors, groups := deduplication.DeduplicateBatchWithGroups(items, r.cfg.BatchThreshold)
	if len(survivors) > limit {
		survivors = survivors[:limit]
	}
	report.Selected = len(survivors)

	selected := make(map[int64]bool, len(survivors))
	for _, s := range survivors {
		selected[s.ID] = true
	}

	// Members of a group whose best item was selected are duplicates. Groups
	// cut off by the limit stay pending.
	for _, g := range groups {
		if len(g) < 2 || !groupSelected(g, selected) {
			continue
		}
		for _, item := range g {
			if selected[item.ID] {
				continue
			}
			if err := r.store.UpdateQueueStatus(ctx, queueIDs[item.ID], types.QueueDuplicate, ""); err != nil {
				return report, fmt.Errorf("mark duplicate %d: %w", item.ID, err)
			}
			report.Duplicates++
		}
	}

	delivered := r.publish(ctx, survivors, queueIDs, report)

	if r.cfg.Archiver != nil && len(delivered) > 0 {
		actx, cancel := context.WithTimeout(ctx, dispatchTimeout)
		key, err := r.cfg.Archiver.ArchiveBatch(actx, report.BatchID, delivered)
		cancel()
		if err != nil {
			logger.Warn("archive failed", "err", err)
			for _, item := range delivered {
				r.markFailed(ctx, queueIDs[item.ID], err, report)
			}
			delivered = nil
		} else {
			report.ArchiveKey = key
			if r.cfg.Publisher == nil {
				r.markPublished(ctx, delivered)
			}
		}
	}

	for _, item := range delivered {
		if err := r.store.UpdateQueueStatus(ctx, queueIDs[item.ID], types.QueueCompleted, ""); err != nil {
			return report, fmt.Errorf("mark completed %d: %w", item.ID, err)
		}
		if err := r.store.MarkProcessed(ctx, item.ID); err != nil {
			return report, fmt.Errorf("mark processed %d: %w", item.ID, err)
		}
		report.Completed++
	}

	logger.Info("batch processed",
		"pulled", report.Pulled,
		"selected", report.Selected,
		"completed", report.Completed,
		"duplicates", report.Duplicates,
		"failed", report.Failed)
	return report, nil
}

// publish sends each item to the publisher, when there is one, and returns
// the items that went out. Published rows are kept by Cleanup.
func (r *Runner) publish(ctx context.Context, items []types.NewsItem, queueIDs map[int64]int64, report *ProcessReport) []types.NewsItem {
	if r.cfg.Publisher == nil {
		return items
	}

	delivered := make([]types.NewsItem, 0, len(items))
	for _, item := range items {
		pctx, cancel := context.WithTimeout(ctx, dispatchTimeout)
		err := r.cfg.Publisher.Publish(pctx, types.GenerateID(item.Link), item)
		cancel()
		if err != nil {
			r.log.Warn("publish failed", "id", item.ID, "err", err)
			r.markFailed(ctx, queueIDs[item.ID], err, report)
			continue
		}
		r.markPublished(ctx, []types.NewsItem{item})
		delivered = append(delivered, item)
	}
	return delivered
}

// markPublished flags rows that left the system so Cleanup keeps them.
func (r *Runner) markPublished(ctx context.Context, items []types.NewsItem) {
	for _, item := range items {
		if err := r.store.MarkPublished(ctx, item.ID); err != nil {
			r.log.Warn("failed to mark published", "id", item.ID, "err", err)
		}
	}
}

func (r *Runner) markFailed(ctx context.Context, queueID int64, cause error, report *ProcessReport) {
	report.Failed++
	if err := r.store.UpdateQueueStatus(ctx, queueID, types.QueueError, cause.Error()); err != nil {
		r.log.Error("failed to record queue error", "queue_id", queueID, "err", err)
	}
}

func groupSelected(group []types.NewsItem, selected map[int64]bool) bool {
	for _, item := range group {
		if selected[item.ID] {
			return true
		}
	}
	return false
}

// Cleanup deletes news fetched more than days ago that was never published.
func (r *Runner) Cleanup(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	n, err := r.store.CleanupOldNews(ctx, time.Duration(days)*24*time.Hour)
	if err != nil {
		return 0, fmt.Errorf("cleanup old news: %w", err)
	}
	r.log.Info("old news removed", "count", n, "days", days)
	return n, nil
}
