package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"feedtriage/types"

	sq "github.com/Masterminds/squirrel"
)

// UpsertSources inserts sources whose URL is not stored yet and returns how
// many were added.
func (s *Store) UpsertSources(ctx context.Context, sources []types.Source) (int, error) {
	added := 0
	for _, src := range sources {
		focus, err := json.Marshal(src.Focus)
		if err != nil {
			return added, fmt.Errorf("encode focus for %s: %w", src.Name, err)
		}
		if src.Focus == nil {
			focus = []byte("[]")
		}

		query, args, err := s.sb.Insert("sources").
			Columns("name", "url", "category", "country", "region", "focus", "is_active", "created_at").
			Values(src.Name, src.URL, src.Category, src.Country, src.Region, string(focus), 1, s.now()).
			Suffix("ON CONFLICT (url) DO NOTHING").
			ToSql()
		if err != nil {
			return added, err
		}
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return added, fmt.Errorf("insert source %s: %w", src.Name, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}

// UpsertKeywords inserts keywords that are not stored yet and returns how
// many were added. Terms are stored lower-cased by the caller.
func (s *Store) UpsertKeywords(ctx context.Context, keywords []types.Keyword) (int, error) {
	added := 0
	for _, kw := range keywords {
		query, args, err := s.sb.Insert("keywords").
			Columns("keyword", "category", "weight", "is_negative").
			Values(kw.Keyword, kw.Category, kw.Weight, boolToInt(kw.IsNegative)).
			Suffix("ON CONFLICT (keyword) DO NOTHING").
			ToSql()
		if err != nil {
			return added, err
		}
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return added, fmt.Errorf("insert keyword %q: %w", kw.Keyword, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}
	return added, nil
}

// ActiveSources returns the active sources, optionally restricted to one
// category.
func (s *Store) ActiveSources(ctx context.Context, category string) ([]types.Source, error) {
	q := s.sb.Select("id", "name", "url", "category", "country", "region", "focus",
		"is_active", "last_fetch", "fetch_count", "error_count").
		From("sources").
		Where(sq.Eq{"is_active": 1}).
		OrderBy("id")
	if category != "" {
		q = q.Where(sq.Eq{"category": category})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var out []types.Source
	for rows.Next() {
		var (
			src             types.Source
			country, region sql.NullString
			focus           sql.NullString
			active          int
			lastFetch       sql.NullTime
		)
		if err := rows.Scan(&src.ID, &src.Name, &src.URL, &src.Category, &country, &region, &focus,
			&active, &lastFetch, &src.FetchCount, &src.ErrorCount); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		src.Country = country.String
		src.Region = region.String
		src.IsActive = active == 1
		src.LastFetch = timePtr(lastFetch)
		if focus.Valid && focus.String != "" {
			if err := json.Unmarshal([]byte(focus.String), &src.Focus); err != nil {
				s.log.Warn("ignoring malformed focus", "source", src.Name, "err", err)
			}
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// Keywords returns the positive and negative keyword terms.
func (s *Store) Keywords(ctx context.Context) (positive, negative []string, err error) {
	query, args, err := s.sb.Select("keyword", "is_negative").From("keywords").OrderBy("id").ToSql()
	if err != nil {
		return nil, nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("query keywords: %w", err)
	}
	defer rows.Close()

	positive, negative = []string{}, []string{}
	for rows.Next() {
		var (
			term string
			neg  int
		)
		if err := rows.Scan(&term, &neg); err != nil {
			return nil, nil, fmt.Errorf("scan keyword: %w", err)
		}
		if neg == 1 {
			negative = append(negative, term)
		} else {
			positive = append(positive, term)
		}
	}
	return positive, negative, rows.Err()
}

// RecordFetch updates a source's fetch counters and appends a fetch log row.
// A success bumps fetch_count and last_fetch; a failure bumps error_count.
func (s *Store) RecordFetch(ctx context.Context, entry types.FetchLog) error {
	now := s.now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	update := s.sb.Update("sources").Where(sq.Eq{"id": entry.SourceID})
	status := "success"
	if entry.Success {
		update = update.Set("last_fetch", now).Set("fetch_count", sq.Expr("fetch_count + 1"))
	} else {
		status = "error"
		update = update.Set("error_count", sq.Expr("error_count + 1"))
	}
	query, args, err := update.ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update source %d: %w", entry.SourceID, err)
	}

	var errMsg any
	if entry.Error != "" {
		errMsg = entry.Error
	}
	query, args, err = s.sb.Insert("fetch_logs").
		Columns("source_id", "status", "news_count", "error_message", "duration_ms", "created_at").
		Values(entry.SourceID, status, entry.NewsCount, errMsg, entry.DurationMS, now).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert fetch log: %w", err)
	}
	return tx.Commit()
}

// Stats summarizes the database contents.
func (s *Store) Stats(ctx context.Context) (*types.Stats, error) {
	stats := &types.Stats{SourcesByCategory: map[string]int{}}

	counts := []struct {
		dst *int
		q   sq.SelectBuilder
	}{
		{&stats.TotalSources, s.sb.Select("COUNT(*)").From("sources")},
		{&stats.ActiveSources, s.sb.Select("COUNT(*)").From("sources").Where(sq.Eq{"is_active": 1})},
		{&stats.TotalNews, s.sb.Select("COUNT(*)").From("news")},
		{&stats.UnprocessedNews, s.sb.Select("COUNT(*)").From("news").Where(sq.Eq{"is_processed": 0})},
		{&stats.PublishedNews, s.sb.Select("COUNT(*)").From("news").Where(sq.Eq{"is_published": 1})},
		{&stats.PendingQueue, s.sb.Select("COUNT(*)").From("processing_queue").Where(sq.Eq{"status": types.QueuePending})},
	}
	for _, c := range counts {
		n, err := s.count(ctx, c.q)
		if err != nil {
			return nil, fmt.Errorf("stats: %w", err)
		}
		*c.dst = n
	}

	query, args, err := s.sb.Select("category", "COUNT(*)").From("sources").GroupBy("category").ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stats by category: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			category string
			n        int
		)
		if err := rows.Scan(&category, &n); err != nil {
			return nil, err
		}
		stats.SourcesByCategory[category] = n
	}
	return stats, rows.Err()
}
