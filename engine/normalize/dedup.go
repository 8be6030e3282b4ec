package normalize

import (
	"crypto/md5"
	"encoding/hex"
	"sort"

	"github.com/WessleyAI/axlelore-kb/engine/domain"
)

// FingerprintPrefix is how much content takes part in a fingerprint.
const FingerprintPrefix = 200

// Fingerprint identifies near-duplicates: title plus the first 200
// characters of content.
func Fingerprint(d domain.Document) string {
	content := []rune(d.Content)
	if len(content) > FingerprintPrefix {
		content = content[:FingerprintPrefix]
	}
	sum := md5.Sum([]byte(d.Title + string(content)))
	return hex.EncodeToString(sum[:])
}

// Deduplicate keeps the first document per fingerprint in input order.
func Deduplicate(docs []domain.Document) []domain.Document {
	seen := make(map[string]struct{}, len(docs))
	out := make([]domain.Document, 0, len(docs))
	for _, d := range docs {
		fp := Fingerprint(d)
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, d)
	}
	return out
}

// SortByQuality orders docs best first, keeping input order among equals.
func SortByQuality(docs []domain.Document) {
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].QualityScore > docs[j].QualityScore })
}

// Finalize deduplicates and then sorts. A lower-quality duplicate seen
// first wins over a better one seen later.
func Finalize(docs []domain.Document) []domain.Document {
	out := Deduplicate(docs)
	SortByQuality(out)
	return out
}
