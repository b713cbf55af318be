package types

import "time"

// Source is a configured feed.
type Source struct {
	ID         int64      `json:"id"`
	Name       string     `json:"name"`
	URL        string     `json:"url"`
	Category   string     `json:"category"`
	Country    string     `json:"country,omitempty"`
	Region     string     `json:"region,omitempty"`
	Focus      []string   `json:"focus,omitempty"`
	IsActive   bool       `json:"is_active"`
	LastFetch  *time.Time `json:"last_fetch,omitempty"`
	FetchCount int        `json:"fetch_count"`
	ErrorCount int        `json:"error_count"`
}

// Keyword is a scoring term. Negative keywords act as a hard filter.
type Keyword struct {
	Keyword    string  `json:"keyword"`
	Category   string  `json:"category"`
	Weight     float64 `json:"weight"`
	IsNegative bool    `json:"is_negative"`
}

// FetchLog records the outcome of fetching a single source.
type FetchLog struct {
	SourceID   int64
	Success    bool
	NewsCount  int
	Error      string
	DurationMS int64
}

// FetchStats is the per-source outcome of a fetch run.
type FetchStats struct {
	SourceID       int64  `json:"source_id"`
	SourceName     string `json:"source_name"`
	Success        bool   `json:"success"`
	NewsCount      int    `json:"news_count"`
	NewCount       int    `json:"new_count"`
	SkippedCount   int    `json:"skipped_count"`
	DuplicateCount int    `json:"duplicate_count"`
	Error          string `json:"error,omitempty"`
	DurationMS     int64  `json:"duration_ms"`
}

// SourceError pairs a failed source with its error message.
type SourceError struct {
	Source string `json:"source"`
	Error  string `json:"error"`
}

// FetchSummary aggregates the stats of a whole fetch run.
type FetchSummary struct {
	RunID        string        `json:"run_id,omitempty"`
	TotalSources int           `json:"total_sources"`
	Successful   int           `json:"successful"`
	Failed       int           `json:"failed"`
	TotalNews    int           `json:"total_news"`
	NewNews      int           `json:"new_news"`
	Skipped      int           `json:"skipped"`
	Duplicates   int           `json:"duplicates"`
	Errors       []SourceError `json:"errors"`
}

// Summarize folds per-source stats into a FetchSummary.
func Summarize(results []FetchStats) FetchSummary {
	summary := FetchSummary{
		TotalSources: len(results),
		Errors:       []SourceError{},
	}
	for _, r := range results {
		if r.Success {
			summary.Successful++
		} else {
			summary.Failed++
		}
		summary.TotalNews += r.NewsCount
		summary.NewNews += r.NewCount
		summary.Skipped += r.SkippedCount
		summary.Duplicates += r.DuplicateCount
		if r.Error != "" {
			summary.Errors = append(summary.Errors, SourceError{Source: r.SourceName, Error: r.Error})
		}
	}
	return summary
}

// Stats is a snapshot of the database contents.
type Stats struct {
	TotalSources      int            `json:"total_sources"`
	ActiveSources     int            `json:"active_sources"`
	TotalNews         int            `json:"total_news"`
	UnprocessedNews   int            `json:"unprocessed_news"`
	PublishedNews     int            `json:"published_news"`
	PendingQueue      int            `json:"pending_queue"`
	SourcesByCategory map[string]int `json:"sources_by_category"`
}
