package types

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RawItem is a single feed entry as handed over by a feed retriever.
type RawItem struct {
	SourceID    int64      `json:"source_id"`
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Description string     `json:"description,omitempty"`
	Content     string     `json:"content,omitempty"`
	Author      string     `json:"author,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
}

// NewsItem is a scored item as persisted by storage.
type NewsItem struct {
	ID              int64      `json:"id"`
	SourceID        int64      `json:"source_id"`
	SourceName      string     `json:"source_name,omitempty"`
	Category        string     `json:"category,omitempty"`
	Title           string     `json:"title"`
	Link            string     `json:"link"`
	Description     string     `json:"description,omitempty"`
	Content         string     `json:"content,omitempty"`
	Author          string     `json:"author,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	FetchedAt       time.Time  `json:"fetched_at"`
	PriorityScore   float64    `json:"priority_score"`
	MatchedKeywords []string   `json:"matched_keywords,omitempty"`
	IsProcessed     bool       `json:"is_processed"`
	IsPublished     bool       `json:"is_published"`
}

// NewNewsItem builds a NewsItem from a raw entry and its priority score.
func NewNewsItem(raw RawItem, score float64, matched []string) NewsItem {
	return NewsItem{
		SourceID:        raw.SourceID,
		Title:           raw.Title,
		Link:            raw.Link,
		Description:     raw.Description,
		Content:         raw.Content,
		Author:          raw.Author,
		PublishedAt:     raw.PublishedAt,
		FetchedAt:       time.Now().UTC(),
		PriorityScore:   score,
		MatchedKeywords: matched,
	}
}

// CacheEntry is the summary of an accepted item kept by the duplicate cache.
type CacheEntry struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	InsertedAt  time.Time `json:"inserted_at"`
}

// Queue statuses.
const (
	QueuePending   = "pending"
	QueueCompleted = "completed"
	QueueDuplicate = "duplicate"
	QueueError     = "error"
)

// QueuedItem is a news item waiting in the processing queue.
type QueuedItem struct {
	NewsItem
	QueueID int64  `json:"queue_id"`
	Status  string `json:"status"`
}

// GenerateID creates a short, stable identifier by hashing the input.
func GenerateID(input string) string {
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])[:16]
}

// News listing modes.
const (
	NewsUnprocessed = "unprocessed"
	NewsTop         = "top"
	NewsRecent      = "recent"
	NewsSearch      = "search"
)

// NewsFilter selects stored news for viewing.
//
//   - unprocessed: not yet processed, highest priority first
//   - top: positive score fetched within the last Hours, highest priority first
//   - recent: newest publication first
//   - search: Keyword in title or description, newest publication first
//
// Category, when set, narrows every mode to one source category.
type NewsFilter struct {
	Mode     string
	Category string
	Hours    int
	Keyword  string
	Limit    int
}
