package deduplication

const (
	jaccardWeight = 0.4
	entityWeight  = 0.6
)

// Similarity scores two items in [0, 1]. Token overlap of the normalized text
// is blended with overlap of extracted entities when both sides have any;
// shared concrete facts weigh more than shared vocabulary.
func Similarity(titleA, descA, titleB, descB string) float64 {
	textA := titleA + " " + descA
	textB := titleB + " " + descB

	tokensA := TokenSet(textA)
	tokensB := TokenSet(textB)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	jaccard := jaccardIndex(tokensA, tokensB)

	entitiesA := ExtractEntities(textA)
	entitiesB := ExtractEntities(textB)
	if len(entitiesA) == 0 || len(entitiesB) == 0 {
		return jaccard
	}

	overlap := float64(intersectionSize(entitiesA, entitiesB)) / float64(max(len(entitiesA), len(entitiesB)))
	return jaccardWeight*jaccard + entityWeight*overlap
}

func jaccardIndex(a, b map[string]struct{}) float64 {
	inter := intersectionSize(a, b)
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func intersectionSize(a, b map[string]struct{}) int {
	if len(a) > len(b) {
		a, b = b, a
	}
	n := 0
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}
