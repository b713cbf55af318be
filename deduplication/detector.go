package deduplication

import "feedtriage/types"

// DefaultThreshold is the live ingestion similarity cut-off.
const DefaultThreshold = 0.6

// Match types reported in a DeduplicationResult.
const (
	MatchFingerprint = "fingerprint"
	MatchSimilarity  = "similarity"
	MatchBloom       = "bloom"
)

// IsDuplicate returns the id of the first candidate that duplicates the
// given title and description. Candidates are expected most recent first, so
// the most recently cached match wins. An exact title fingerprint match
// short-circuits before any similarity is computed.
func IsDuplicate(title, description string, candidates []types.CacheEntry, threshold float64) (int64, bool) {
	idx, _, _ := findDuplicate(title, description, candidates, threshold)
	if idx < 0 {
		return 0, false
	}
	return candidates[idx].ID, true
}

// findDuplicate returns the index of the matching candidate (or -1), its
// score and how it matched.
func findDuplicate(title, description string, candidates []types.CacheEntry, threshold float64) (int, float64, string) {
	if len(candidates) == 0 {
		return -1, 0, ""
	}

	// A title that normalizes to nothing has no fingerprint identity.
	normalized := Normalize(title)
	hash := ""
	if normalized != "" {
		hash = shortHash(normalized)
	}
	for i, c := range candidates {
		if hash != "" && TitleHash(c.Title) == hash {
			return i, 1, MatchFingerprint
		}
		if score := Similarity(title, description, c.Title, c.Description); score >= threshold {
			return i, score, MatchSimilarity
		}
	}
	return -1, 0, ""
}
