package deduplication

import (
	"regexp"
	"unicode"
	"unicode/utf8"
)

var (
	numberRe      = regexp.MustCompile(`\$?\d+(?:\.\d+)?%?`)
	upperRunRe    = regexp.MustCompile(`[A-Z]+`)
	capitalizedRe = regexp.MustCompile(`[A-Z][a-z]+`)
)

// ExtractEntities collects numbers (with optional currency and percent
// markers), acronyms and mid-sentence capitalized words from raw text.
func ExtractEntities(text string) map[string]struct{} {
	entities := make(map[string]struct{})
	if text == "" {
		return entities
	}

	for _, m := range numberRe.FindAllString(text, -1) {
		entities[m] = struct{}{}
	}
	for _, loc := range upperRunRe.FindAllStringIndex(text, -1) {
		if n := loc[1] - loc[0]; n < 2 || n > 5 {
			continue
		}
		if wordRuneBefore(text, loc[0]) || wordRuneAfter(text, loc[1]) {
			continue
		}
		entities[text[loc[0]:loc[1]]] = struct{}{}
	}
	for _, loc := range capitalizedRe.FindAllStringIndex(text, -1) {
		if sentenceStart(text, loc[0]) {
			continue
		}
		entities[text[loc[0]:loc[1]]] = struct{}{}
	}
	return entities
}

// An acronym must stand alone: the runes around it may not be letters or
// digits in any script, so "éBCE" or "BCE2" yield nothing.
func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r)
}

func wordRuneBefore(text string, pos int) bool {
	if pos == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text[:pos])
	return isWordRune(r)
}

func wordRuneAfter(text string, pos int) bool {
	if pos >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[pos:])
	return isWordRune(r)
}

// sentenceStart reports whether pos opens the text or directly follows ". ".
func sentenceStart(text string, pos int) bool {
	if pos == 0 {
		return true
	}
	return pos >= 2 && text[pos-2:pos] == ". "
}
