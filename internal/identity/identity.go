// Package identity derives stable content-based identifiers for associations
// and sections.
//
// Key depends on the extracted name, so two runs that name the same entity
// differently produce different keys. StructuralKey is the output-independent
// anchor (section plus entity ordinal) used when grouping structurally.
package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Key returns the association identity key: the hex SHA-256 of
// "name|city|year|pages" where name and city are lower-cased and trimmed and
// pages are sorted and joined with "-". An unknown city is "" and an unknown
// year is 0; both still contribute to the key.
func Key(name, city string, year int, sourcePages []string) string {
	composite := fmt.Sprintf("%s|%s|%d|%s",
		strings.ToLower(strings.TrimSpace(name)),
		strings.ToLower(strings.TrimSpace(city)),
		year,
		joinSorted(sourcePages),
	)
	return digest(composite)
}

// SectionID returns a stable id for a section spanning pageIDs. startOffset
// separates sections that share the same pages.
func SectionID(pageIDs []string, startOffset int) string {
	return digest(fmt.Sprintf("%s|%d", joinSorted(pageIDs), startOffset))
}

// StructuralKey identifies the ordinal-th entity extracted from a section,
// independent of anything the model wrote.
func StructuralKey(sectionID string, ordinal int) string {
	return digest(fmt.Sprintf("section:%s|%d", sectionID, ordinal))
}

func joinSorted(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return strings.Join(sorted, "-")
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
