package verify

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/joelkehle/civic-associations/internal/records"
)

const DefaultMinNameLength = 3

// Verifier applies the structural quality rules to a single record.
type Verifier struct {
	minNameLength int
}

func NewVerifier(minNameLength int) Verifier {
	if minNameLength <= 0 {
		minNameLength = DefaultMinNameLength
	}
	return Verifier{minNameLength: minNameLength}
}

// Verify reports whether r passes the rules, and the first failing rule's
// reason otherwise. Rules run in order: name length, location/date, pages.
func (v Verifier) Verify(r records.Record) (bool, string) {
	name := strings.TrimSpace(r.Name)
	if name == "" || utf8.RuneCountInString(name) < v.minNameLength {
		return false, fmt.Sprintf("association name too short: %q", r.Name)
	}
	if strings.TrimSpace(r.City) == "" || strings.TrimSpace(r.State) == "" || r.Year == 0 {
		return false, "missing required location/date fields"
	}
	if len(r.SourcePages) == 0 {
		return false, "no source pages specified"
	}
	return true, ""
}
