package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"

	"feedtriage/deduplication"
	"feedtriage/storage"
	"feedtriage/types"
)

type fakeFetcher struct {
	mu    sync.Mutex
	feeds map[string][]types.RawItem
	errs  map[string]error
	calls []string
}

func (f *fakeFetcher) FetchFeed(ctx context.Context, url string) ([]types.RawItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls = append(f.calls, url)
	f.mu.Unlock()
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return append([]types.RawItem(nil), f.feeds[url]...), nil
}

type fakePublisher struct {
	keys   []string
	failOn map[string]bool
}

func (p *fakePublisher) Publish(_ context.Context, key string, v any) error {
	item := v.(types.NewsItem)
	if p.failOn[item.Link] {
		return errors.New("broker unavailable")
	}
	p.keys = append(p.keys, key)
	return nil
}

type fakeArchiver struct {
	batches map[string][]types.NewsItem
	err     error
}

func (a *fakeArchiver) ArchiveBatch(_ context.Context, batchID string, items []types.NewsItem) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	if a.batches == nil {
		a.batches = map[string][]types.NewsItem{}
	}
	a.batches[batchID] = items
	return "batches/" + batchID + ".json", nil
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), storage.DriverSQLite, ":memory:", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seed(t *testing.T, s *storage.Store, sources ...types.Source) map[string]int64 {
	t.Helper()
	ctx := context.Background()
	if _, err := s.UpsertSources(ctx, sources); err != nil {
		t.Fatalf("UpsertSources: %v", err)
	}
	keywords := []types.Keyword{
		{Keyword: "inflation", Category: "macro", Weight: 1},
		{Keyword: "rates", Category: "macro", Weight: 1},
		{Keyword: "sponsored", Category: "filter", Weight: -1, IsNegative: true},
	}
	if _, err := s.UpsertKeywords(ctx, keywords); err != nil {
		t.Fatalf("UpsertKeywords: %v", err)
	}
	stored, err := s.ActiveSources(ctx, "")
	if err != nil {
		t.Fatalf("ActiveSources: %v", err)
	}
	ids := make(map[string]int64, len(stored))
	for _, src := range stored {
		ids[src.Name] = src.ID
	}
	return ids
}

func newRunner(s *storage.Store, f FeedFetcher, cfg Config) *Runner {
	dedup := deduplication.NewDeduplicatorWithFilter(s, nil, deduplication.DeduplicatorConfig{}, nil)
	if cfg.RatePerSecond == 0 {
		cfg.RatePerSecond = 1000
	}
	r := New(s, f, dedup, cfg, nil)
	n := 0
	r.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	return r
}

func TestRunFetch(t *testing.T) {
	s := openStore(t)
	seed(t, s,
		types.Source{Name: "Alpha", URL: "https://alpha/rss", Category: "macro"},
		types.Source{Name: "Beta", URL: "https://beta/rss", Category: "macro"},
		types.Source{Name: "Broken", URL: "https://broken/rss", Category: "macro"},
	)

	fetcher := &fakeFetcher{
		feeds: map[string][]types.RawItem{
			"https://alpha/rss": {
				{Title: "Fed raises interest rates by 0.25% amid inflation", Link: "https://alpha/1"},
				{Title: "Sponsored: gold coins on sale", Link: "https://alpha/2"},
				{Title: "Oil prices slump as OPEC output climbs", Link: "https://alpha/3", Description: "Brent fell sharply."},
			},
			"https://beta/rss": {
				{Title: "Inflation: Fed raises interest rates by 0.25%", Link: "https://beta/1"},
			},
		},
		errs: map[string]error{"https://broken/rss": errors.New("status 503")},
	}

	var lines []string
	r := newRunner(s, fetcher, Config{
		Workers: 2,
		OnSource: func(done, total int, st types.FetchStats) {
			lines = append(lines, SourceLine(done, total, st))
		},
	})

	run, err := r.RunFetch(context.Background(), "")
	if err != nil {
		t.Fatalf("RunFetch error: %v", err)
	}

	want := types.FetchSummary{
		RunID:        "id-1",
		TotalSources: 3,
		Successful:   2,
		Failed:       1,
		TotalNews:    4,
		NewNews:      2,
		Skipped:      1,
		Duplicates:   1,
	}
	got := run.Summary
	got.Errors = nil
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("summary = %+v; want %+v", got, want)
	}
	if len(run.Summary.Errors) != 1 || run.Summary.Errors[0].Source != "Broken" {
		t.Fatalf("errors = %+v", run.Summary.Errors)
	}
	if len(lines) != 3 || !strings.HasPrefix(lines[2], "[3/3]") {
		t.Fatalf("progress lines = %q", lines)
	}

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalNews != 2 {
		t.Fatalf("stored news = %d; want 2", stats.TotalNews)
	}

	// A second run starts from storage: nothing is new.
	again, err := r.RunFetch(context.Background(), "")
	if err != nil {
		t.Fatalf("second RunFetch error: %v", err)
	}
	if again.Summary.NewNews != 0 || again.Summary.Duplicates != 3 || again.Summary.Skipped != 1 {
		t.Fatalf("second summary = %+v", again.Summary)
	}
}

func TestRunFetchExistingLinkIsNotADuplicate(t *testing.T) {
	s := openStore(t)
	seed(t, s, types.Source{Name: "Alpha", URL: "https://alpha/rss", Category: "macro"})

	fetcher := &fakeFetcher{feeds: map[string][]types.RawItem{
		"https://alpha/rss": {{Title: "Copper futures rally in London", Link: "https://alpha/1"}},
	}}
	r := newRunner(s, fetcher, Config{})
	if _, err := r.RunFetch(context.Background(), ""); err != nil {
		t.Fatalf("RunFetch error: %v", err)
	}

	// The publisher retitled the story; the link is already stored.
	fetcher.feeds["https://alpha/rss"] = []types.RawItem{
		{Title: "Wheat harvest forecast lowered in Kansas", Link: "https://alpha/1"},
	}
	again, err := r.RunFetch(context.Background(), "")
	if err != nil {
		t.Fatalf("second RunFetch error: %v", err)
	}
	got := again.Summary
	if got.TotalNews != 1 || got.NewNews != 0 || got.Duplicates != 0 || got.Skipped != 0 {
		t.Fatalf("second summary = %+v; want 1 entry, nothing new, no duplicates", got)
	}
}

func TestRunFetchCategory(t *testing.T) {
	s := openStore(t)
	seed(t, s,
		types.Source{Name: "Alpha", URL: "https://alpha/rss", Category: "macro"},
		types.Source{Name: "Coins", URL: "https://coins/rss", Category: "crypto"},
	)
	fetcher := &fakeFetcher{}
	r := newRunner(s, fetcher, Config{})

	run, err := r.RunFetch(context.Background(), "crypto")
	if err != nil {
		t.Fatalf("RunFetch error: %v", err)
	}
	if run.Summary.TotalSources != 1 || len(fetcher.calls) != 1 || fetcher.calls[0] != "https://coins/rss" {
		t.Fatalf("fetched %v; want only the crypto source", fetcher.calls)
	}
}

func TestRunFetchCancelled(t *testing.T) {
	s := openStore(t)
	seed(t, s,
		types.Source{Name: "One", URL: "https://one/rss", Category: "macro"},
		types.Source{Name: "Two", URL: "https://two/rss", Category: "macro"},
		types.Source{Name: "Three", URL: "https://three/rss", Category: "macro"},
	)
	fetcher := &fakeFetcher{feeds: map[string][]types.RawItem{
		"https://one/rss":   {{Title: "Copper futures rally in London", Link: "https://one/1"}},
		"https://two/rss":   {{Title: "Brazil central bank holds Selic", Link: "https://two/1"}},
		"https://three/rss": {{Title: "Tokyo stocks close higher", Link: "https://three/1"}},
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r := newRunner(s, fetcher, Config{
		Workers:  1,
		OnSource: func(int, int, types.FetchStats) { cancel() },
	})

	run, err := r.RunFetch(ctx, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("RunFetch error = %v; want context.Canceled", err)
	}
	if run == nil || len(run.Sources) == 0 || len(run.Sources) > 2 {
		t.Fatalf("run = %+v; want partial stats", run)
	}
	if !run.Sources[0].Success || run.Sources[0].NewCount != 1 {
		t.Fatalf("first source = %+v", run.Sources[0])
	}

	// Rows inserted before the cancellation stay.
	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalNews != 1 {
		t.Fatalf("stored news = %d; want 1", stats.TotalNews)
	}
}

func TestIngestOutcomes(t *testing.T) {
	s := openStore(t)
	ids := seed(t, s, types.Source{Name: "Alpha", URL: "https://alpha/rss", Category: "macro"})
	r := newRunner(s, &fakeFetcher{}, Config{})
	ctx := context.Background()
	positive, negative, err := s.Keywords(ctx)
	if err != nil {
		t.Fatalf("Keywords: %v", err)
	}

	src := ids["Alpha"]
	cases := []struct {
		name      string
		raw       types.RawItem
		want      Outcome
		wantScore float64
	}{
		{"new", types.RawItem{SourceID: src, Title: "Fed raises interest rates by 0.25% amid inflation", Link: "https://a/1"}, OutcomeNew, 4},
		{"near duplicate", types.RawItem{SourceID: src, Title: "Inflation: Fed raises interest rates by 0.25%", Link: "https://a/2"}, OutcomeDuplicate, 4},
		{"filtered", types.RawItem{SourceID: src, Title: "Sponsored gold offer", Link: "https://a/3"}, OutcomeFiltered, -1},
		{"same link", types.RawItem{SourceID: src, Title: "Copper futures rally in London", Link: "https://a/1"}, OutcomeExisting, 0},
		{"missing title", types.RawItem{SourceID: src, Title: "   ", Link: "https://a/4"}, OutcomeSkipped, 0},
		{"missing link", types.RawItem{SourceID: src, Title: "Tokyo stocks close higher"}, OutcomeSkipped, 0},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			res, err := r.Ingest(ctx, c.raw, positive, negative)
			if err != nil {
				t.Fatalf("Ingest error: %v", err)
			}
			if res.Outcome != c.want || res.Score != c.wantScore {
				t.Fatalf("Ingest = (%s, %.1f); want (%s, %.1f)", res.Outcome, res.Score, c.want, c.wantScore)
			}
			if res.MatchedKeywords == nil {
				t.Fatal("matched keywords should never be nil")
			}
		})
	}
}

// seedQueue stores three items and queues them. The first two are the same
// story; pending order is by score: Inflation (3), Bitcoin (2), Fed (1).
func seedQueue(t *testing.T, s *storage.Store, r *Runner) {
	t.Helper()
	ctx := context.Background()
	ids := seed(t, s, types.Source{Name: "Alpha", URL: "https://alpha/rss", Category: "macro"})

	items := []types.NewsItem{
		types.NewNewsItem(types.RawItem{SourceID: ids["Alpha"], Title: "Fed raises interest rates by 0.25% amid inflation", Link: "https://a/fed"}, 1, nil),
		types.NewNewsItem(types.RawItem{SourceID: ids["Alpha"], Title: "Inflation: Fed raises interest rates by 0.25%", Link: "https://a/inflation"}, 3, nil),
		types.NewNewsItem(types.RawItem{SourceID: ids["Alpha"], Title: "Bitcoin drops 10% amid market uncertainty", Link: "https://a/bitcoin"}, 2, nil),
	}
	for _, item := range items {
		if _, _, err := s.InsertNews(ctx, item); err != nil {
			t.Fatalf("InsertNews: %v", err)
		}
	}
	if n, err := r.Queue(ctx, 0, 0); err != nil || n != 3 {
		t.Fatalf("Queue = (%d, %v); want 3 queued", n, err)
	}
}

func pendingLinks(t *testing.T, s *storage.Store) []string {
	t.Helper()
	pending, err := s.PendingQueue(context.Background(), 10)
	if err != nil {
		t.Fatalf("PendingQueue: %v", err)
	}
	links := make([]string, 0, len(pending))
	for _, q := range pending {
		links = append(links, q.Link)
	}
	return links
}

func TestProcess(t *testing.T) {
	s := openStore(t)
	pub := &fakePublisher{}
	arch := &fakeArchiver{}
	r := newRunner(s, &fakeFetcher{}, Config{Publisher: pub, Archiver: arch})
	seedQueue(t, s, r)

	report, err := r.Process(context.Background(), 10)
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	want := ProcessReport{BatchID: "id-1", Pulled: 3, Selected: 2, Completed: 2, Duplicates: 1, ArchiveKey: "batches/id-1.json"}
	if *report != want {
		t.Fatalf("report = %+v; want %+v", *report, want)
	}

	wantKeys := []string{types.GenerateID("https://a/inflation"), types.GenerateID("https://a/bitcoin")}
	if len(pub.keys) != 2 || pub.keys[0] != wantKeys[0] || pub.keys[1] != wantKeys[1] {
		t.Fatalf("published keys = %v; want %v", pub.keys, wantKeys)
	}
	if batch := arch.batches["id-1"]; len(batch) != 2 {
		t.Fatalf("archived batch = %+v", batch)
	}
	if links := pendingLinks(t, s); len(links) != 0 {
		t.Fatalf("still pending: %v", links)
	}

	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	// The duplicate is resolved in the queue but its row is not processed.
	if stats.UnprocessedNews != 1 || stats.PublishedNews != 2 {
		t.Fatalf("unprocessed = %d, published = %d; want 1, 2", stats.UnprocessedNews, stats.PublishedNews)
	}
}

func TestProcessLimitLeavesRestPending(t *testing.T) {
	s := openStore(t)
	r := newRunner(s, &fakeFetcher{}, Config{Publisher: &fakePublisher{}})
	seedQueue(t, s, r)

	report, err := r.Process(context.Background(), 1)
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if report.Pulled != 2 || report.Selected != 1 || report.Completed != 1 || report.Duplicates != 0 {
		t.Fatalf("report = %+v", report)
	}

	links := pendingLinks(t, s)
	if len(links) != 2 || links[0] != "https://a/bitcoin" || links[1] != "https://a/fed" {
		t.Fatalf("pending = %v", links)
	}
}

func TestProcessWithoutDispatcher(t *testing.T) {
	s := openStore(t)
	r := newRunner(s, &fakeFetcher{}, Config{})
	seedQueue(t, s, r)

	report, err := r.Process(context.Background(), 10)
	if !errors.Is(err, ErrNoDispatcher) || report != nil {
		t.Fatalf("Process = (%+v, %v); want ErrNoDispatcher", report, err)
	}
	if links := pendingLinks(t, s); len(links) != 3 {
		t.Fatalf("pending = %v; want all three left pending", links)
	}
	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.UnprocessedNews != 3 || stats.PublishedNews != 0 {
		t.Fatalf("unprocessed = %d, published = %d; want 3, 0", stats.UnprocessedNews, stats.PublishedNews)
	}
}

func TestProcessArchiveOnlyMarksPublished(t *testing.T) {
	s := openStore(t)
	arch := &fakeArchiver{}
	r := newRunner(s, &fakeFetcher{}, Config{Archiver: arch})
	seedQueue(t, s, r)

	report, err := r.Process(context.Background(), 10)
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if report.Completed != 2 || report.ArchiveKey != "batches/id-1.json" {
		t.Fatalf("report = %+v", report)
	}
	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.PublishedNews != 2 {
		t.Fatalf("published = %d; want 2", stats.PublishedNews)
	}
}

func TestProcessDispatchFailures(t *testing.T) {
	cases := []struct {
		name          string
		pub           *fakePublisher
		arch          *fakeArchiver
		wantCompleted int
		wantFailed    int
	}{
		{"publish fails for one", &fakePublisher{failOn: map[string]bool{"https://a/bitcoin": true}}, nil, 1, 1},
		{"archive fails", nil, &fakeArchiver{err: errors.New("access denied")}, 0, 2},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			s := openStore(t)
			cfg := Config{}
			if c.pub != nil {
				cfg.Publisher = c.pub
			}
			if c.arch != nil {
				cfg.Archiver = c.arch
			}
			r := newRunner(s, &fakeFetcher{}, cfg)
			seedQueue(t, s, r)

			report, err := r.Process(context.Background(), 10)
			if err != nil {
				t.Fatalf("Process error: %v", err)
			}
			if report.Completed != c.wantCompleted || report.Failed != c.wantFailed || report.Duplicates != 1 {
				t.Fatalf("report = %+v", report)
			}
			if links := pendingLinks(t, s); len(links) != 0 {
				t.Fatalf("still pending: %v", links)
			}
		})
	}
}

func TestProcessEmptyQueue(t *testing.T) {
	s := openStore(t)
	r := newRunner(s, &fakeFetcher{}, Config{Publisher: &fakePublisher{}})
	report, err := r.Process(context.Background(), 0)
	if err != nil {
		t.Fatalf("Process error: %v", err)
	}
	if report.Pulled != 0 || report.Completed != 0 {
		t.Fatalf("report = %+v", report)
	}
}

func TestCleanup(t *testing.T) {
	s := openStore(t)
	r := newRunner(s, &fakeFetcher{}, Config{})
	seedQueue(t, s, r)

	// Everything was fetched just now.
	n, err := r.Cleanup(context.Background(), 0)
	if err != nil || n != 0 {
		t.Fatalf("Cleanup = (%d, %v); want nothing removed", n, err)
	}
}

func TestStreamHandler(t *testing.T) {
	s := openStore(t)
	ids := seed(t, s, types.Source{Name: "Alpha", URL: "https://alpha/rss", Category: "macro"})
	r := newRunner(s, &fakeFetcher{}, Config{})
	ctx := context.Background()

	h, err := r.StreamHandler(ctx)
	if err != nil {
		t.Fatalf("StreamHandler error: %v", err)
	}

	msg := func(raw types.RawItem) []byte {
		b, err := json.Marshal(raw)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return b
	}

	cases := []struct {
		name string
		body []byte
	}{
		{"valid", msg(types.RawItem{SourceID: ids["Alpha"], Title: "<b>Copper</b> futures rally in London", Link: "https://stream/1"})},
		{"repeat", msg(types.RawItem{SourceID: ids["Alpha"], Title: "Copper futures rally in London", Link: "https://stream/2"})},
		{"no source", msg(types.RawItem{Title: "Tokyo stocks close higher", Link: "https://stream/3"})},
		{"garbage", []byte("{")},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			mark, err := h.HandleMessage(ctx, c.body)
			if !mark || err != nil {
				t.Fatalf("HandleMessage = (%v, %v); want marked", mark, err)
			}
		})
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalNews != 1 {
		t.Fatalf("stored news = %d; want 1", stats.TotalNews)
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, types.FetchSummary{
		RunID:        "r1",
		TotalSources: 2,
		Successful:   1,
		Failed:       1,
		NewNews:      5,
		Errors:       []types.SourceError{{Source: "Broken", Error: "status 503"}},
	})
	out := buf.String()
	for _, want := range []string{"Run:          r1", "2 (1 ok, 1 failed)", "New:          5", "! Broken: status 503"} {
		if !strings.Contains(out, want) {
			t.Fatalf("summary missing %q:\n%s", want, out)
		}
	}

	line := SourceLine(1, 2, types.FetchStats{SourceName: "Alpha", Success: true, NewCount: 3, DuplicateCount: 1})
	if line != "[1/2] Alpha... OK (3 new, 1 dup)" {
		t.Fatalf("SourceLine = %q", line)
	}
}
