package verify

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/unicode/norm"

	"github.com/joelkehle/civic-associations/internal/records"
)

const typeMismatchCredit = 0.5

// NormalizeName folds a name for exact-match comparison: NFKC, lower case,
// internal whitespace collapsed.
func NormalizeName(s string) string {
	s = norm.NFKC.String(s)
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

func normalizeType(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NameSimilarity is 1 for names that normalize equal, otherwise one minus the
// rune edit distance over the longer normalized name.
func NameSimilarity(a, b string) float64 {
	na, nb := NormalizeName(a), NormalizeName(b)
	if na == nb {
		return 1
	}
	longest := max(utf8.RuneCountInString(na), utf8.RuneCountInString(nb))
	d := levenshtein.ComputeDistance(na, nb)
	return 1 - float64(d)/float64(longest)
}

// PairSimilarity scores agreement between two records in [0,1]. The name
// contributes half the score; the association type contributes the other
// half, with partial credit when the types disagree.
func PairSimilarity(a, b records.Record) float64 {
	typeCredit := 1.0
	if normalizeType(a.AssociationType) != normalizeType(b.AssociationType) {
		typeCredit = typeMismatchCredit
	}
	return (NameSimilarity(a.Name, b.Name) + typeCredit) / 2
}

// GroupSimilarity is the mean PairSimilarity over every unordered pair. A
// group of fewer than two records is trivially self-consistent.
func GroupSimilarity(recs []records.Record) float64 {
	if len(recs) < 2 {
		return 1
	}
	var sum float64
	pairs := 0
	for i := 0; i < len(recs); i++ {
		for j := i + 1; j < len(recs); j++ {
			sum += PairSimilarity(recs[i], recs[j])
			pairs++
		}
	}
	return sum / float64(pairs)
}
