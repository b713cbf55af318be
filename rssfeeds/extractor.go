package rssfeeds

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"feedtriage/logging"
	"feedtriage/types"

	"github.com/charmbracelet/log"
	readability "github.com/go-shiori/go-readability"
)

const (
	DefaultEnrichWorkers = 5
	extractorTimeout     = 30 * time.Second
)

// extractFunc fetches a page and returns its readable text and byline.
type extractFunc func(pageURL string, timeout time.Duration) (text, byline string, err error)

// Enricher fills in the body of entries whose feed carried only a summary,
// by extracting the readable text of the linked page.
type Enricher struct {
	workers int
	timeout time.Duration
	extract extractFunc
	log     *log.Logger
}

// NewEnricher creates an Enricher running the given number of workers.
func NewEnricher(workers int, logger *log.Logger) *Enricher {
	if workers <= 0 {
		workers = DefaultEnrichWorkers
	}
	return &Enricher{
		workers: workers,
		timeout: extractorTimeout,
		extract: readabilityExtract,
		log:     logging.OrDiscard(logger),
	}
}

// Enrich extracts content for every item with an empty Content, in place.
// Failures are logged and leave the item unchanged. It returns the number of
// items enriched.
func (e *Enricher) Enrich(ctx context.Context, items []types.RawItem) int {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		enriched int
	)
	jobs := make(chan int)

	for w := 0; w < e.workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for i := range jobs {
				if err := e.enrichOne(&items[i]); err != nil {
					e.log.Warn("content extraction failed", "worker", workerID, "link", items[i].Link, "err", err)
					continue
				}
				mu.Lock()
				enriched++
				mu.Unlock()
			}
		}(w)
	}

queue:
	for i := range items {
		if strings.TrimSpace(items[i].Content) != "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		select {
		case jobs <- i:
		case <-ctx.Done():
			break queue
		}
	}
	close(jobs)
	wg.Wait()

	return enriched
}

func (e *Enricher) enrichOne(item *types.RawItem) error {
	if item.Link == "" {
		return fmt.Errorf("item link is empty")
	}
	text, byline, err := e.extract(item.Link, e.timeout)
	if err != nil {
		return err
	}
	item.Content = collapseSpace(text)
	if item.Author == "" {
		item.Author = strings.TrimSpace(byline)
	}
	return nil
}

func readabilityExtract(pageURL string, timeout time.Duration) (string, string, error) {
	article, err := readability.FromURL(pageURL, timeout)
	if err != nil {
		return "", "", fmt.Errorf("readability extraction failed: %w", err)
	}
	return article.TextContent, article.Byline, nil
}
