// Package report renders the review queue and rejection log as an audit
// document for human reviewers.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joelkehle/civic-associations/internal/gate"
	"github.com/joelkehle/civic-associations/internal/records"
	"github.com/joelkehle/civic-associations/internal/verify"
)

const (
	reportTitle     = "Civic Association Audit Report"
	reviewHeading   = "Needs Review"
	rejectedHeading = "Rejected"
)

// Input is everything the audit report covers.
type Input struct {
	Review      []gate.ReviewEntry
	Rejected    []gate.RejectedEntry
	GeneratedAt time.Time
}

type entry struct {
	rec     records.Record
	verdict verify.Verdict
	reason  string
}

// BuildMarkdown renders the audit report. Entries within each part are
// ordered by city, year and name.
func BuildMarkdown(in Input) string {
	review := make([]entry, 0, len(in.Review))
	for _, e := range in.Review {
		review = append(review, entry{e.Record, e.Verification, e.ReviewReason})
	}
	rejected := make([]entry, 0, len(in.Rejected))
	for _, e := range in.Rejected {
		rejected = append(rejected, entry{e.Record, e.Verification, e.RejectionReason})
	}
	sortEntries(review)
	sortEntries(rejected)

	var b strings.Builder
	b.WriteString("# " + reportTitle + "\n\n")
	if !in.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "Generated %s.\n\n", in.GeneratedAt.UTC().Format(time.RFC3339))
	}
	b.WriteString("| Outcome | Associations | Members |\n")
	b.WriteString("|---|---|---|\n")
	fmt.Fprintf(&b, "| %s | %d | %d |\n", reviewHeading, len(review), memberCount(review))
	fmt.Fprintf(&b, "| %s | %d | %d |\n\n", rejectedHeading, len(rejected), memberCount(rejected))

	writePart(&b, reviewHeading, review)
	writePart(&b, rejectedHeading, rejected)
	return b.String()
}

func writePart(b *strings.Builder, heading string, entries []entry) {
	fmt.Fprintf(b, "## %s\n\n", heading)
	if len(entries) == 0 {
		b.WriteString("None.\n\n")
		return
	}
	for _, e := range entries {
		fmt.Fprintf(b, "### %s\n\n", displayName(e.rec.Name))
		b.WriteString("| Field | Value |\n|---|---|\n")
		row(b, "Identity key", "`"+e.rec.AssociationID+"`")
		row(b, "Place", place(e.rec))
		row(b, "Type", e.rec.AssociationType)
		row(b, "Source pages", strings.Join(e.rec.SourcePages, ", "))
		row(b, "Reason", e.reason)
		if e.verdict.RunCount > 0 {
			row(b, "Runs", fmt.Sprintf("%d (%d exact, similarity %.2f)", e.verdict.RunCount, e.verdict.ExactMatchCount, e.verdict.SimilarityScore))
			row(b, "Aggregate status", string(e.verdict.Status))
		}
		b.WriteString("\n")
		if len(e.rec.Members) > 0 {
			b.WriteString("Members:\n\n")
			for _, m := range e.rec.Members {
				if m.Role != "" {
					fmt.Fprintf(b, "- %s (%s)\n", m.FullName, m.Role)
				} else {
					fmt.Fprintf(b, "- %s\n", m.FullName)
				}
			}
			b.WriteString("\n")
		}
		if text := strings.TrimSpace(e.rec.RawSectionText); text != "" {
			b.WriteString("```text\n")
			b.WriteString(text)
			b.WriteString("\n```\n\n")
		}
	}
}

func row(b *strings.Builder, field, value string) {
	if strings.TrimSpace(value) == "" {
		value = "-"
	}
	fmt.Fprintf(b, "| %s | %s |\n", field, escapeCell(value))
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "(unnamed)"
	}
	return name
}

func place(r records.Record) string {
	parts := []string{}
	for _, p := range []string{r.City, r.County, r.State} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	s := strings.Join(parts, ", ")
	if r.Year != 0 {
		s = strings.TrimSpace(fmt.Sprintf("%s %d", s, r.Year))
	}
	return s
}

func memberCount(entries []entry) int {
	n := 0
	for _, e := range entries {
		n += len(e.rec.Members)
	}
	return n
}

func sortEntries(entries []entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i].rec, entries[j].rec
		if a.City != b.City {
			return a.City < b.City
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Name < b.Name
	})
}
