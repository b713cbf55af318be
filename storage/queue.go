package storage

import (
	"context"
	"fmt"

	"feedtriage/types"

	sq "github.com/Masterminds/squirrel"
)

// QueueHighPriority enqueues unprocessed items scoring at least minScore
// that are not queued yet, highest score first. It returns how many were
// queued.
func (s *Store) QueueHighPriority(ctx context.Context, minScore float64, limit int) (int, error) {
	query, args, err := s.sb.Select("n.id").
		From("news n").
		LeftJoin("processing_queue pq ON n.id = pq.news_id").
		Where(sq.And{
			sq.GtOrEq{"n.priority_score": minScore},
			sq.Eq{"pq.id": nil},
			sq.Eq{"n.is_processed": 0},
		}).
		OrderBy("n.priority_score DESC", "n.id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return 0, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("select queue candidates: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan queue candidate: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	queued := 0
	for _, id := range ids {
		query, args, err := s.sb.Insert("processing_queue").
			Columns("news_id", "status", "created_at").
			Values(id, types.QueuePending, s.now()).
			Suffix("ON CONFLICT (news_id) DO NOTHING").
			ToSql()
		if err != nil {
			return queued, err
		}
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return queued, fmt.Errorf("enqueue news %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			queued++
		}
	}
	return queued, nil
}

// PendingQueue returns pending queue items, highest priority first.
func (s *Store) PendingQueue(ctx context.Context, limit int) ([]types.QueuedItem, error) {
	cols := append(append([]string{}, newsColumns...), "pq.id", "pq.status")
	query, args, err := s.sb.Select(cols...).
		From("processing_queue pq").
		Join("news n ON pq.news_id = n.id").
		Join("sources s ON n.source_id = s.id").
		Where(sq.Eq{"pq.status": types.QueuePending}).
		OrderBy("n.priority_score DESC", "pq.id").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query pending queue: %w", err)
	}
	defer rows.Close()

	var out []types.QueuedItem
	for rows.Next() {
		var q types.QueuedItem
		item, err := s.scanNews(rows, &q.QueueID, &q.Status)
		if err != nil {
			return nil, err
		}
		q.NewsItem = item
		out = append(out, q)
	}
	return out, rows.Err()
}

// UpdateQueueStatus moves a queue entry to status. Leaving the pending
// state stamps processed_at; an error status bumps retry_count.
func (s *Store) UpdateQueueStatus(ctx context.Context, queueID int64, status, errMsg string) error {
	update := s.sb.Update("processing_queue").
		Set("status", status).
		Where(sq.Eq{"id": queueID})

	if errMsg != "" {
		update = update.Set("error_message", errMsg)
	}
	if status != types.QueuePending {
		update = update.Set("processed_at", s.now())
	}
	if status == types.QueueError {
		update = update.Set("retry_count", sq.Expr("retry_count + 1"))
	}

	query, args, err := update.ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update queue %d: %w", queueID, err)
	}
	return nil
}
