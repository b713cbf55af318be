package deduplication

import (
	"sort"

	"feedtriage/types"
)

// DefaultBatchThreshold is looser than the live threshold: batch
// deduplication runs on a curated subset and merges more aggressively.
const DefaultBatchThreshold = 0.5

// GroupSimilar clusters items in a single greedy pass. Each unassigned item
// seeds a group and pulls in every later unassigned item whose similarity to
// the seed reaches threshold. Members are compared with the seed only, so two
// members of one group may themselves be dissimilar.
func GroupSimilar(items []types.NewsItem, threshold float64) [][]types.NewsItem {
	if len(items) == 0 {
		return nil
	}

	used := make([]bool, len(items))
	var groups [][]types.NewsItem

	for i, seed := range items {
		if used[i] {
			continue
		}
		used[i] = true
		group := []types.NewsItem{seed}

		for j := i + 1; j < len(items); j++ {
			if used[j] {
				continue
			}
			other := items[j]
			if Similarity(seed.Title, seed.Description, other.Title, other.Description) >= threshold {
				group = append(group, other)
				used[j] = true
			}
		}
		groups = append(groups, group)
	}
	return groups
}

// SelectBest picks the representative of a group: highest priority, then
// longest content, then longest description. Earlier items win ties.
func SelectBest(group []types.NewsItem) types.NewsItem {
	if len(group) == 1 {
		return group[0]
	}

	sorted := make([]types.NewsItem, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		if len(a.Content) != len(b.Content) {
			return len(a.Content) > len(b.Content)
		}
		return len(a.Description) > len(b.Description)
	})
	return sorted[0]
}

// DeduplicateBatch keeps one representative per group of similar items, in
// the order the groups were discovered.
func DeduplicateBatch(items []types.NewsItem) []types.NewsItem {
	out, _ := DeduplicateBatchWithGroups(items, DefaultBatchThreshold)
	return out
}

// DeduplicateBatchWithGroups is DeduplicateBatch with an explicit threshold;
// it also returns the groups.
func DeduplicateBatchWithGroups(items []types.NewsItem, threshold float64) ([]types.NewsItem, [][]types.NewsItem) {
	groups := GroupSimilar(items, threshold)
	out := make([]types.NewsItem, 0, len(groups))
	for _, g := range groups {
		out = append(out, SelectBest(g))
	}
	return out, groups
}
