package deduplication

import (
	"math"
	"testing"
)

type textPair struct {
	title string
	desc  string
}

var similarityFixtures = []textPair{
	{"Fed Raises Interest Rates by 0.25%", ""},
	{"Federal Reserve increases interest rates by 0.25 percent", ""},
	{"Inflation: Fed raises interest rates by 0.25%", "Markets react to the decision"},
	{"Bitcoin drops 10% amid market uncertainty", "Crypto selloff deepens"},
	{"", ""},
	{"O Banco Central anunciou nova taxa de juros", "Copom eleva Selic"},
}

func TestSimilaritySymmetric(t *testing.T) {
	for _, a := range similarityFixtures {
		for _, b := range similarityFixtures {
			ab := Similarity(a.title, a.desc, b.title, b.desc)
			ba := Similarity(b.title, b.desc, a.title, a.desc)
			if ab != ba {
				t.Fatalf("Similarity not symmetric for %q / %q: %v vs %v", a.title, b.title, ab, ba)
			}
			if ab < 0 || ab > 1 {
				t.Fatalf("Similarity out of range for %q / %q: %v", a.title, b.title, ab)
			}
		}
	}
}

func TestSimilarityReflexive(t *testing.T) {
	for _, p := range similarityFixtures {
		if len(TokenSet(p.title+" "+p.desc)) == 0 {
			continue
		}
		if got := Similarity(p.title, p.desc, p.title, p.desc); math.Abs(got-1) > 1e-9 {
			t.Fatalf("Similarity(%q, itself) = %v; want 1", p.title, got)
		}
	}
}

func TestSimilarityEmpty(t *testing.T) {
	if got := Similarity("", "", "", ""); got != 0 {
		t.Fatalf("Similarity of empty inputs = %v; want 0", got)
	}
	if got := Similarity("Fed Raises Interest Rates", "", "", ""); got != 0 {
		t.Fatalf("Similarity against empty input = %v; want 0", got)
	}
	// Only stopwords and short tokens normalize to nothing.
	if got := Similarity("The news", "", "The news", ""); got != 0 {
		t.Fatalf("Similarity of stopword-only titles = %v; want 0", got)
	}
}

func TestSimilarityScenarios(t *testing.T) {
	cases := []struct {
		name      string
		a, b      textPair
		duplicate bool
	}{
		{
			name:      "same story reworded",
			a:         textPair{"Fed raises interest rates by 0.25% amid inflation", ""},
			b:         textPair{"Inflation: Fed raises interest rates by 0.25%", ""},
			duplicate: true,
		},
		{
			name:      "unrelated stories",
			a:         textPair{"Fed Raises Interest Rates by 0.25%", ""},
			b:         textPair{"Bitcoin drops 10% amid market uncertainty", ""},
			duplicate: false,
		},
		{
			// Plain token and entity overlap cannot see through synonyms
			// ("raises"/"increases") or unit spelling ("%"/"percent").
			name:      "paraphrase without shared wording",
			a:         textPair{"Fed Raises Interest Rates by 0.25%", ""},
			b:         textPair{"Federal Reserve increases interest rates by 0.25 percent", ""},
			duplicate: false,
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			score := Similarity(c.a.title, c.a.desc, c.b.title, c.b.desc)
			if got := score >= DefaultThreshold; got != c.duplicate {
				t.Fatalf("score %.3f: duplicate = %v; want %v", score, got, c.duplicate)
			}
		})
	}
}

func TestSimilarityBlendsEntities(t *testing.T) {
	// jaccard 5/6, entities {0.25%} vs {Fed, 0.25%} overlap 1/2
	got := Similarity("Fed raises interest rates by 0.25% amid inflation", "", "Inflation: Fed raises interest rates by 0.25%", "")
	want := 0.4*(5.0/6.0) + 0.6*0.5
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("Similarity = %v; want %v", got, want)
	}

	// No entities on either side: plain Jaccard, 2 shared of 8.
	got = Similarity("quiet harbour morning", "fishing boats", "quiet harbour evening", "sailing yachts")
	want = 2.0 / 8.0
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("Similarity without entities = %v; want %v", got, want)
	}
}
