package rssfeeds

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"feedtriage/logging"
	"feedtriage/types"

	"github.com/charmbracelet/log"
	"github.com/mmcdole/gofeed"
)

const (
	DefaultUserAgent = "MacroNewsCron/1.0"
	DefaultTimeout   = 15 * time.Second
)

// ErrEmptyFeed is returned when a feed could not be parsed into any entry.
var ErrEmptyFeed = errors.New("empty or invalid feed")

// Fetcher retrieves and parses RSS/Atom feeds.
type Fetcher struct {
	client    *http.Client
	userAgent string
	log       *log.Logger
}

// NewFetcher creates a Fetcher whose requests time out after timeout.
func NewFetcher(timeout time.Duration, logger *log.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: DefaultUserAgent,
		log:       logging.OrDiscard(logger),
	}
}

// FetchFeed downloads a feed and returns its entries in feed order. Entries
// without a title or link are dropped. SourceID is left for the caller.
func (f *Fetcher) FetchFeed(ctx context.Context, feedURL string) ([]types.RawItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: %s", resp.Status)
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmptyFeed, err)
	}

	items := make([]types.RawItem, 0, len(feed.Items))
	for _, entry := range feed.Items {
		item, ok := convertEntry(entry)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	f.log.Debug("feed parsed", "url", feedURL, "entries", len(feed.Items), "kept", len(items))
	return items, nil
}

func convertEntry(entry *gofeed.Item) (types.RawItem, bool) {
	title := CleanHTML(entry.Title)
	link := CanonicalLink(entry.Link)
	if title == "" || link == "" {
		return types.RawItem{}, false
	}

	author := ""
	if entry.Author != nil {
		author = strings.TrimSpace(entry.Author.Name)
	}

	return types.RawItem{
		Title:       title,
		Link:        link,
		Description: CleanHTML(entry.Description),
		Content:     CleanHTML(entry.Content),
		Author:      author,
		PublishedAt: entryDate(entry),
	}, true
}

// entryDate prefers the dates gofeed already parsed and falls back to the
// raw strings for formats it does not recognise.
func entryDate(entry *gofeed.Item) *time.Time {
	for _, t := range []*time.Time{entry.PublishedParsed, entry.UpdatedParsed} {
		if t != nil {
			u := t.UTC()
			return &u
		}
	}
	if t := ParseDate(entry.Published); t != nil {
		return t
	}
	return ParseDate(entry.Updated)
}
