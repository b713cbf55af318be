package deduplication

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	urlRe     = regexp.MustCompile(`https?://\S+`)
	nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
)

// stopwords holds the English and Portuguese filler words ignored during
// comparison.
var stopwords = makeSet(
	// English
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for",
	"of", "with", "by", "from", "as", "is", "was", "are", "were", "been",
	"be", "have", "has", "had", "do", "does", "did", "will", "would",
	"could", "should", "may", "might", "must", "shall", "can", "need",
	"it", "its", "this", "that", "these", "those", "i", "you", "he",
	"she", "we", "they", "what", "which", "who", "whom", "when", "where",
	"why", "how", "all", "each", "every", "both", "few", "more", "most",
	"other", "some", "such", "no", "not", "only", "own", "same", "so",
	"than", "too", "very", "just", "also", "now", "here", "there", "says",
	"said", "report", "reports", "according", "new", "news",
	// Portuguese
	"o", "os", "as", "um", "uma", "uns", "umas", "de", "da", "do",
	"das", "dos", "em", "na", "no", "nas", "nos", "por", "para", "com",
	"sem", "sob", "sobre", "entre", "e", "ou", "mas", "se", "que", "qual",
	"quais", "como", "quando", "onde", "porque", "isso", "isto", "esse",
	"essa", "este", "esta", "aquele", "aquela", "ser", "estar", "ter",
	"haver", "fazer", "dizer", "disse", "diz", "vai", "vão", "pode",
	"podem", "deve", "devem", "segundo", "ainda", "mais", "menos",
	"muito", "pouco", "bem", "mal", "já", "sempre", "nunca", "notícia",
	"notícias", "novo", "nova", "novos", "novas",
)

// Normalize reduces free text to a canonical, order-independent form:
// lower-cased, URLs and punctuation stripped, standalone numbers, stopwords
// and tokens of two characters or fewer dropped, remaining tokens sorted.
func Normalize(text string) string {
	return strings.Join(Tokens(text), " ")
}

// Tokens returns the sorted tokens Normalize would join.
func Tokens(text string) []string {
	if text == "" {
		return nil
	}

	text = strings.ToLower(text)
	text = urlRe.ReplaceAllString(text, "")
	text = nonWordRe.ReplaceAllString(text, " ")

	fields := strings.Fields(text)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if allDigits(f) {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if utf8.RuneCountInString(f) <= 2 {
			continue
		}
		tokens = append(tokens, f)
	}
	sort.Strings(tokens)
	return tokens
}

// TokenSet returns the distinct normalized tokens of text.
func TokenSet(text string) map[string]struct{} {
	return makeSet(Tokens(text)...)
}

func allDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

func makeSet(items ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}
