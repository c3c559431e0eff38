package sections

import (
	"strings"

	"go.uber.org/zap"

	"github.com/joelkehle/civic-associations/internal/identity"
	"github.com/joelkehle/civic-associations/internal/manifest"
	"github.com/joelkehle/civic-associations/internal/records"
)

const SectionType = "associations"

var DefaultKeywords = []string{
	"societies",
	"associations",
	"lodges",
	"temperance",
	"hunting",
	"masonic",
	"fraternal",
	"benevolent",
}

// Finder locates runs of pages that list associations.
type Finder struct {
	keywords []string
	logger   *zap.Logger
}

func NewFinder(keywords []string, logger *zap.Logger) *Finder {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	lower := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			lower = append(lower, k)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Finder{keywords: lower, logger: logger}
}

func (f *Finder) matches(text string) bool {
	text = strings.ToLower(text)
	for _, k := range f.keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}

// Find scans OCR results in order. Each maximal run of consecutive pages
// whose text mentions a keyword becomes one section. Page metadata comes
// from pages when available.
func (f *Finder) Find(results []records.PageOCR, pages []records.Page) []records.Section {
	byID := make(map[string]records.Page, len(pages))
	for _, p := range pages {
		byID[p.PageID] = p
	}

	var out []records.Section
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		out = append(out, f.section(results[start:end], start, byID))
		start = -1
	}
	for i, r := range results {
		if f.matches(r.TextPlain) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(results))

	f.logger.Info("located sections", zap.Int("pages", len(results)), zap.Int("sections", len(out)))
	return out
}

func (f *Finder) section(run []records.PageOCR, offset int, byID map[string]records.Page) records.Section {
	ids := make([]string, 0, len(run))
	texts := make([]string, 0, len(run))
	for _, r := range run {
		ids = append(ids, r.PageID)
		texts = append(texts, r.TextPlain)
	}
	first, last := byID[ids[0]], byID[ids[len(ids)-1]]
	return records.Section{
		SectionID:       identity.SectionID(ids, offset),
		PageIDs:         ids,
		City:            first.City,
		County:          first.County,
		State:           first.State,
		Year:            first.Year,
		StartPageNumber: pageNumber(first, ids[0]),
		EndPageNumber:   pageNumber(last, ids[len(ids)-1]),
		SectionType:     SectionType,
		RawText:         strings.Join(texts, "\n\n"),
	}
}

func pageNumber(p records.Page, id string) int {
	if p.PageNumber > 0 {
		return p.PageNumber
	}
	_, n, _ := manifest.ParsePageID(id)
	return n
}
