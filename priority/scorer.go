// Package priority ranks accepted news items by keyword relevance.
package priority

import (
	"sort"
	"strings"
	"time"

	"feedtriage/types"
)

// Weights of a positive keyword hit.
const (
	TitleWeight = 2.0
	BodyWeight  = 1.0
)

// Filtered is the score of an item that hit a negative keyword.
const Filtered = -1.0

// Score weighs the keywords found in title and description. Any negative
// keyword is a hard filter: the score is Filtered and nothing is matched.
// Each positive keyword found counts TitleWeight when it occurs in the title
// and BodyWeight otherwise. Matches are reported in keyword order.
func Score(title, description string, positive, negative []string) (float64, []string) {
	text := strings.ToLower(title + " " + description)

	for _, kw := range negative {
		kw = strings.ToLower(kw)
		if kw != "" && strings.Contains(text, kw) {
			return Filtered, []string{}
		}
	}

	lowerTitle := strings.ToLower(title)
	matched := []string{}
	score := 0.0
	for _, kw := range positive {
		kw = strings.ToLower(kw)
		if kw == "" || !strings.Contains(text, kw) {
			continue
		}
		matched = append(matched, kw)
		if strings.Contains(lowerTitle, kw) {
			score += TitleWeight
		} else {
			score += BodyWeight
		}
	}
	return score, matched
}

// Rank sorts items by score, highest first. Ties go to the more recent item,
// by publication time and then fetch time.
func Rank(items []types.NewsItem) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		pa, pb := published(a), published(b)
		if !pa.Equal(pb) {
			return pa.After(pb)
		}
		return a.FetchedAt.After(b.FetchedAt)
	})
}

func published(item types.NewsItem) time.Time {
	if item.PublishedAt == nil {
		return time.Time{}
	}
	return *item.PublishedAt
}
