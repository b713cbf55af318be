package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedtriage/types"

	sq "github.com/Masterminds/squirrel"
)

var newsColumns = []string{
	"n.id", "n.source_id", "s.name", "s.category", "n.title", "n.link",
	"n.description", "n.content", "n.author", "n.published_at", "n.fetched_at",
	"n.priority_score", "n.matched_keywords", "n.is_processed", "n.is_published",
}

// InsertNews stores a scored item. It is idempotent on the link: when the
// link is already stored nothing is written and inserted is false.
func (s *Store) InsertNews(ctx context.Context, item types.NewsItem) (id int64, inserted bool, err error) {
	fetchedAt := item.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = s.now()
	}

	var matched any
	if len(item.MatchedKeywords) > 0 {
		b, err := json.Marshal(item.MatchedKeywords)
		if err != nil {
			return 0, false, fmt.Errorf("encode matched keywords: %w", err)
		}
		matched = string(b)
	}

	query, args, err := s.sb.Insert("news").
		Columns("source_id", "title", "link", "description", "content", "author",
			"published_at", "fetched_at", "priority_score", "matched_keywords").
		Values(item.SourceID, item.Title, item.Link, item.Description, item.Content, item.Author,
			nullableTime(item.PublishedAt), fetchedAt.UTC(), item.PriorityScore, matched).
		Suffix("ON CONFLICT (link) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return 0, false, err
	}

	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("insert news: %w", err)
	}
	return id, true, nil
}

// RecentCandidates returns the items fetched within window, most recent
// first, capped at limit. It feeds the duplicate cache.
func (s *Store) RecentCandidates(ctx context.Context, window time.Duration, limit int) ([]types.CacheEntry, error) {
	cutoff := s.now().Add(-window)

	query, args, err := s.sb.Select("id", "title", "description", "fetched_at").
		From("news").
		Where(sq.Gt{"fetched_at": cutoff}).
		OrderBy("fetched_at DESC", "id DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query recent news: %w", err)
	}
	defer rows.Close()

	var out []types.CacheEntry
	for rows.Next() {
		var (
			e    types.CacheEntry
			desc sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Title, &desc, &e.InsertedAt); err != nil {
			return nil, fmt.Errorf("scan recent news: %w", err)
		}
		e.Description = desc.String
		out = append(out, e)
	}
	return out, rows.Err()
}

// UnprocessedNews returns items not yet processed, highest priority first.
func (s *Store) UnprocessedNews(ctx context.Context, limit int) ([]types.NewsItem, error) {
	return s.ListNews(ctx, types.NewsFilter{Mode: types.NewsUnprocessed, Limit: limit})
}

// ListNews returns stored news selected by f.
func (s *Store) ListNews(ctx context.Context, f types.NewsFilter) ([]types.NewsItem, error) {
	q := s.sb.Select(newsColumns...).
		From("news n").
		Join("sources s ON n.source_id = s.id")

	switch f.Mode {
	case types.NewsUnprocessed, "":
		q = q.Where(sq.Eq{"n.is_processed": 0}).
			OrderBy("n.priority_score DESC", "n.published_at DESC", "n.id DESC")
	case types.NewsTop:
		hours := f.Hours
		if hours <= 0 {
			hours = 24
		}
		cutoff := s.now().Add(-time.Duration(hours) * time.Hour).UTC()
		q = q.Where(sq.Gt{"n.priority_score": 0}).
			Where(sq.Gt{"n.fetched_at": cutoff}).
			OrderBy("n.priority_score DESC", "n.published_at DESC", "n.id DESC")
	case types.NewsRecent:
		q = q.OrderBy("n.published_at DESC", "n.fetched_at DESC", "n.id DESC")
	case types.NewsSearch:
		keyword := strings.TrimSpace(f.Keyword)
		if keyword == "" {
			return nil, errors.New("search needs a keyword")
		}
		pattern := "%" + strings.ToLower(keyword) + "%"
		q = q.Where(sq.Or{
			sq.Expr("LOWER(n.title) LIKE ?", pattern),
			sq.Expr("LOWER(COALESCE(n.description, '')) LIKE ?", pattern),
		}).OrderBy("n.published_at DESC", "n.fetched_at DESC", "n.id DESC")
	default:
		return nil, fmt.Errorf("unknown news mode %q", f.Mode)
	}

	if f.Category != "" {
		q = q.Where(sq.Eq{"s.category": f.Category})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}

	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s news: %w", f.Mode, err)
	}
	defer rows.Close()

	var out []types.NewsItem
	for rows.Next() {
		item, err := s.scanNews(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// MarkProcessed flags an item as handed downstream.
func (s *Store) MarkProcessed(ctx context.Context, newsID int64) error {
	query, args, err := s.sb.Update("news").Set("is_processed", 1).Where(sq.Eq{"id": newsID}).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark news %d processed: %w", newsID, err)
	}
	return nil
}

// MarkPublished flags an item as published; published items survive
// cleanup.
func (s *Store) MarkPublished(ctx context.Context, newsID int64) error {
	query, args, err := s.sb.Update("news").Set("is_published", 1).Where(sq.Eq{"id": newsID}).ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark news %d published: %w", newsID, err)
	}
	return nil
}

// CleanupOldNews deletes unpublished items fetched before olderThan ago and
// returns how many were removed.
func (s *Store) CleanupOldNews(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan)

	// Queue rows go first; SQLite does not enforce the cascade by default.
	// The subquery keeps "?" placeholders so the outer builder numbers them.
	sub := sq.Select("id").From("news").Where(sq.And{sq.Lt{"fetched_at": cutoff}, sq.Eq{"is_published": 0}})
	subSQL, subArgs, err := sub.ToSql()
	if err != nil {
		return 0, err
	}
	query, args, err := s.sb.Delete("processing_queue").Where("news_id IN ("+subSQL+")", subArgs...).ToSql()
	if err != nil {
		return 0, err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return 0, fmt.Errorf("cleanup queue: %w", err)
	}

	query, args, err = s.sb.Delete("news").
		Where(sq.And{sq.Lt{"fetched_at": cutoff}, sq.Eq{"is_published": 0}}).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("cleanup news: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	s.log.Info("old news removed", "count", n, "older_than", olderThan)
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanNews(row rowScanner, extra ...any) (types.NewsItem, error) {
	var (
		item                     types.NewsItem
		desc, content, author    sql.NullString
		matched                  sql.NullString
		published                sql.NullTime
		processed, publishedFlag int
	)
	dest := []any{
		&item.ID, &item.SourceID, &item.SourceName, &item.Category, &item.Title, &item.Link,
		&desc, &content, &author, &published, &item.FetchedAt,
		&item.PriorityScore, &matched, &processed, &publishedFlag,
	}
	dest = append(dest, extra...)
	if err := row.Scan(dest...); err != nil {
		return item, fmt.Errorf("scan news: %w", err)
	}

	item.Description = desc.String
	item.Content = content.String
	item.Author = author.String
	item.PublishedAt = timePtr(published)
	item.FetchedAt = item.FetchedAt.UTC()
	item.IsProcessed = processed == 1
	item.IsPublished = publishedFlag == 1
	if matched.Valid && matched.String != "" {
		if err := json.Unmarshal([]byte(matched.String), &item.MatchedKeywords); err != nil {
			s.log.Warn("ignoring malformed matched keywords", "id", item.ID, "err", err)
		}
	}
	return item, nil
}
