package orchestrator

import (
	"fmt"
	"io"
	"maps"
	"slices"

	"feedtriage/types"
)

// SourceLine formats the progress line printed for a finished source.
func SourceLine(done, total int, st types.FetchStats) string {
	if !st.Success {
		return fmt.Sprintf("[%d/%d] %s... ERROR (%s)", done, total, st.SourceName, st.Error)
	}
	return fmt.Sprintf("[%d/%d] %s... OK (%d new, %d dup)", done, total, st.SourceName, st.NewCount, st.DuplicateCount)
}

// PrintSummary writes a human readable fetch summary.
func PrintSummary(w io.Writer, s types.FetchSummary) {
	fmt.Fprintln(w, "\n=== Fetch Summary ===")
	if s.RunID != "" {
		fmt.Fprintf(w, "Run:          %s\n", s.RunID)
	}
	fmt.Fprintf(w, "Sources:      %d (%d ok, %d failed)\n", s.TotalSources, s.Successful, s.Failed)
	fmt.Fprintf(w, "Entries:      %d\n", s.TotalNews)
	fmt.Fprintf(w, "New:          %d\n", s.NewNews)
	fmt.Fprintf(w, "Duplicates:   %d\n", s.Duplicates)
	fmt.Fprintf(w, "Skipped:      %d\n", s.Skipped)
	for _, e := range s.Errors {
		fmt.Fprintf(w, "  ! %s: %s\n", e.Source, e.Error)
	}
	fmt.Fprintln(w, "=====================")
}

// PrintStats writes a human readable database snapshot.
func PrintStats(w io.Writer, s *types.Stats) {
	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "Sources:      %d (%d active)\n", s.TotalSources, s.ActiveSources)
	fmt.Fprintf(w, "News:         %d (%d unprocessed, %d published)\n", s.TotalNews, s.UnprocessedNews, s.PublishedNews)
	fmt.Fprintf(w, "Queue:        %d pending\n", s.PendingQueue)
	for _, cat := range slices.Sorted(maps.Keys(s.SourcesByCategory)) {
		fmt.Fprintf(w, "  %-20s %d\n", cat, s.SourcesByCategory[cat])
	}
	fmt.Fprintln(w, "=============")
}
