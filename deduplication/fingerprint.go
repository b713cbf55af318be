package deduplication

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// fingerprintTokens is how many sorted tokens feed a content fingerprint.
const fingerprintTokens = 10

// TitleHash returns the 16 hex character fingerprint of a normalized title.
func TitleHash(title string) string {
	return shortHash(Normalize(title))
}

// ContentFingerprint hashes the first ten sorted tokens of title and
// description. The tokens are alphabetical, not ranked by importance; stored
// fingerprints depend on that order.
func ContentFingerprint(title, description string) string {
	tokens := Tokens(title + " " + description)
	if len(tokens) > fingerprintTokens {
		tokens = tokens[:fingerprintTokens]
	}
	return shortHash(strings.Join(tokens, " "))
}

func shortHash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}
