package rssfeeds

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"feedtriage/types"
)

const (
	keywordsKey      = "keywords"
	negativeCategory = "filter"
	positiveWeight   = 1.0
	negativeWeight   = -1.0
	descriptionKey   = "description"
)

type feedEntry struct {
	Name    string   `json:"name"`
	URL     string   `json:"url"`
	Country string   `json:"country"`
	Region  string   `json:"region"`
	Focus   []string `json:"focus"`
}

type keywordSection struct {
	HighPriority map[string]json.RawMessage `json:"high_priority"`
	FilterOut    struct {
		Terms []string `json:"terms"`
	} `json:"filter_out"`
}

// LoadSources reads a sources.json file.
func LoadSources(path string) ([]types.Source, []types.Keyword, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read sources file: %w", err)
	}
	return ParseSources(data)
}

// ParseSources decodes the sources.json layout: every top-level key except
// "keywords" is a category holding a feeds list; "keywords" holds the
// high_priority terms per category and the filter_out terms.
func ParseSources(data []byte) ([]types.Source, []types.Keyword, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, nil, fmt.Errorf("decode sources: %w", err)
	}

	categories := make([]string, 0, len(top))
	for k := range top {
		if k != keywordsKey {
			categories = append(categories, k)
		}
	}
	sort.Strings(categories)

	var sources []types.Source
	for _, category := range categories {
		var section struct {
			Feeds []feedEntry `json:"feeds"`
		}
		if err := json.Unmarshal(top[category], &section); err != nil {
			// Not a category object.
			continue
		}
		for _, f := range section.Feeds {
			if f.Name == "" || f.URL == "" {
				continue
			}
			sources = append(sources, types.Source{
				Name:     f.Name,
				URL:      f.URL,
				Category: category,
				Country:  f.Country,
				Region:   f.Region,
				Focus:    f.Focus,
				IsActive: true,
			})
		}
	}

	keywords, err := parseKeywords(top[keywordsKey])
	if err != nil {
		return nil, nil, err
	}
	return sources, keywords, nil
}

func parseKeywords(raw json.RawMessage) ([]types.Keyword, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var section keywordSection
	if err := json.Unmarshal(raw, &section); err != nil {
		return nil, fmt.Errorf("decode keywords: %w", err)
	}

	categories := make([]string, 0, len(section.HighPriority))
	for k := range section.HighPriority {
		if k != descriptionKey {
			categories = append(categories, k)
		}
	}
	sort.Strings(categories)

	var keywords []types.Keyword
	for _, category := range categories {
		var terms []string
		if err := json.Unmarshal(section.HighPriority[category], &terms); err != nil {
			return nil, fmt.Errorf("decode high_priority.%s: %w", category, err)
		}
		for _, term := range terms {
			if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
				keywords = append(keywords, types.Keyword{Keyword: term, Category: category, Weight: positiveWeight})
			}
		}
	}
	for _, term := range section.FilterOut.Terms {
		if term = strings.ToLower(strings.TrimSpace(term)); term != "" {
			keywords = append(keywords, types.Keyword{Keyword: term, Category: negativeCategory, Weight: negativeWeight, IsNegative: true})
		}
	}
	return keywords, nil
}
