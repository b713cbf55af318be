// Package storage persists sources, keywords, news and the processing queue
// in SQLite or Postgres.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedtriage/logging"

	sq "github.com/Masterminds/squirrel"
	"github.com/charmbracelet/log"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrUnknownDriver is returned by Open for an unsupported driver name.
var ErrUnknownDriver = errors.New("unknown database driver")

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Store is the SQL backing store. It is safe for concurrent use.
type Store struct {
	db     *sql.DB
	driver string
	sb     sq.StatementBuilderType
	log    *log.Logger
	now    func() time.Time
}

// Open connects to the database and creates the schema when missing.
// For SQLite, dsn is a file path or ":memory:".
func Open(ctx context.Context, driver, dsn string, logger *log.Logger) (*Store, error) {
	driver, err := canonicalDriver(driver)
	if err != nil {
		return nil, err
	}

	connStr := dsn
	if driver == DriverSQLite && dsn != ":memory:" && !strings.Contains(dsn, "?") {
		connStr = dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite serializes writers anyway; one connection also keeps an
	// in-memory database alive for the lifetime of the store.
	if driver == DriverSQLite {
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{
		db:     db,
		driver: driver,
		sb:     sq.StatementBuilder.PlaceholderFormat(sq.Question),
		log:    logging.OrDiscard(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}
	if driver == DriverPostgres {
		s.sb = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}

	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func canonicalDriver(driver string) (string, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return DriverSQLite, nil
	case "postgres", "postgresql", "pq":
		return DriverPostgres, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

// Driver returns the canonical driver name.
func (s *Store) Driver() string { return s.driver }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates tables and indexes if they don't exist.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := sqliteSchema
	if s.driver == DriverPostgres {
		stmts = postgresSchema
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema: %w", err)
		}
	}
	return nil
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		url TEXT UNIQUE NOT NULL,
		category TEXT NOT NULL,
		country TEXT,
		region TEXT,
		focus TEXT,
		is_active INTEGER DEFAULT 1,
		last_fetch TIMESTAMP,
		fetch_count INTEGER DEFAULT 0,
		error_count INTEGER DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS news (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL REFERENCES sources(id),
		title TEXT NOT NULL,
		link TEXT UNIQUE NOT NULL,
		description TEXT,
		content TEXT,
		author TEXT,
		published_at TIMESTAMP,
		fetched_at TIMESTAMP NOT NULL,
		priority_score REAL DEFAULT 0,
		matched_keywords TEXT,
		is_processed INTEGER DEFAULT 0,
		is_published INTEGER DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS keywords (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		keyword TEXT UNIQUE NOT NULL,
		category TEXT NOT NULL,
		weight REAL DEFAULT 1.0,
		is_negative INTEGER DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS fetch_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_id INTEGER NOT NULL REFERENCES sources(id),
		status TEXT NOT NULL,
		news_count INTEGER DEFAULT 0,
		error_message TEXT,
		duration_ms INTEGER,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS processing_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		news_id INTEGER UNIQUE NOT NULL REFERENCES news(id) ON DELETE CASCADE,
		status TEXT DEFAULT 'pending',
		retry_count INTEGER DEFAULT 0,
		error_message TEXT,
		created_at TIMESTAMP NOT NULL,
		processed_at TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_news_published ON news(published_at)`,
	`CREATE INDEX IF NOT EXISTS idx_news_fetched ON news(fetched_at)`,
	`CREATE INDEX IF NOT EXISTS idx_news_source ON news(source_id)`,
	`CREATE INDEX IF NOT EXISTS idx_news_priority ON news(priority_score)`,
	`CREATE INDEX IF NOT EXISTS idx_news_processed ON news(is_processed)`,
	`CREATE INDEX IF NOT EXISTS idx_processing_queue_status ON processing_queue(status)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS sources (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		url TEXT UNIQUE NOT NULL,
		category TEXT NOT NULL,
		country TEXT,
		region TEXT,
		focus TEXT,
		is_active INTEGER DEFAULT 1,
		last_fetch TIMESTAMPTZ,
		fetch_count INTEGER DEFAULT 0,
		error_count INTEGER DEFAULT 0,
		created_at TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS news (
		id BIGSERIAL PRIMARY KEY,
		source_id BIGINT NOT NULL REFERENCES sources(id),
		title TEXT NOT NULL,
		link TEXT UNIQUE NOT NULL,
		description TEXT,
		content TEXT,
		author TEXT,
		published_at TIMESTAMPTZ,
		fetched_at TIMESTAMPTZ NOT NULL,
		priority_score DOUBLE PRECISION DEFAULT 0,
		matched_keywords TEXT,
		is_processed INTEGER DEFAULT 0,
		is_published INTEGER DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS keywords (
		id BIGSERIAL PRIMARY KEY,
		keyword TEXT UNIQUE NOT NULL,
		category TEXT NOT NULL,
		weight DOUBLE PRECISION DEFAULT 1.0,
		is_negative INTEGER DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS fetch_logs (
		id BIGSERIAL PRIMARY KEY,
		source_id BIGINT NOT NULL REFERENCES sources(id),
		status TEXT NOT NULL,
		news_count INTEGER DEFAULT 0,
		error_message TEXT,
		duration_ms BIGINT,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS processing_queue (
		id BIGSERIAL PRIMARY KEY,
		news_id BIGINT UNIQUE NOT NULL REFERENCES news(id) ON DELETE CASCADE,
		status TEXT DEFAULT 'pending',
		retry_count INTEGER DEFAULT 0,
		error_message TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		processed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_news_published ON news(published_at)`,
	`CREATE INDEX IF NOT EXISTS idx_news_fetched ON news(fetched_at)`,
	`CREATE INDEX IF NOT EXISTS idx_news_source ON news(source_id)`,
	`CREATE INDEX IF NOT EXISTS idx_news_priority ON news(priority_score)`,
	`CREATE INDEX IF NOT EXISTS idx_news_processed ON news(is_processed)`,
	`CREATE INDEX IF NOT EXISTS idx_processing_queue_status ON processing_queue(status)`,
}

func (s *Store) count(ctx context.Context, q sq.SelectBuilder) (int, error) {
	query, args, err := q.ToSql()
	if err != nil {
		return 0, err
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
