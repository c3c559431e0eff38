package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/joelkehle/civic-associations/internal/jsonl"
	"github.com/joelkehle/civic-associations/internal/records"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tif":  true,
	".tiff": true,
}

var pageIDPattern = regexp.MustCompile(`^(.+)_p(\d+)$`)

// ParsePageID splits "{collection}_p{NNN}" into its parts. ok is false when
// the id does not have that shape.
func ParsePageID(pageID string) (collection string, pageNumber int, ok bool) {
	m := pageIDPattern.FindStringSubmatch(pageID)
	if m == nil {
		return "", 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return "", 0, false
	}
	return m[1], n, true
}

func GeneratePageID(collection string, pageNumber int) string {
	return fmt.Sprintf("%s_p%03d", collection, pageNumber)
}

// Directory describes the printed directory a set of page images came from.
type Directory struct {
	City             string
	County           string
	State            string
	Year             int
	SourceCollection string
}

func (d Directory) validate() error {
	var missing []string
	if strings.TrimSpace(d.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(d.State) == "" {
		missing = append(missing, "state")
	}
	if d.Year == 0 {
		missing = append(missing, "year")
	}
	if strings.TrimSpace(d.SourceCollection) == "" {
		missing = append(missing, "collection")
	}
	if len(missing) > 0 {
		return fmt.Errorf("directory metadata missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

type Builder struct {
	dir    Directory
	logger *zap.Logger
}

func NewBuilder(dir Directory, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{dir: dir, logger: logger}
}

// Scan lists the page images in imagesDir, ordered by file name and numbered
// from 1. A file stem that already contains "_p" is used as the page id.
func (b *Builder) Scan(imagesDir string) ([]records.Page, error) {
	if err := b.dir.validate(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(imagesDir)
	if err != nil {
		return nil, fmt.Errorf("images directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	pages := make([]records.Page, 0, len(names))
	for i, name := range names {
		number := i + 1
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		id := stem
		if !strings.Contains(stem, "_p") {
			id = GeneratePageID(b.dir.SourceCollection, number)
		}
		pages = append(pages, records.Page{
			PageID:           id,
			City:             b.dir.City,
			County:           b.dir.County,
			State:            b.dir.State,
			Year:             b.dir.Year,
			SourceCollection: b.dir.SourceCollection,
			PageNumber:       number,
			ImagePath:        filepath.Join(imagesDir, name),
		})
	}
	b.logger.Info("scanned page images", zap.String("dir", imagesDir), zap.Int("pages", len(pages)))
	return pages, nil
}

// Build scans imagesDir and writes the manifest to outputPath as JSONL.
func (b *Builder) Build(imagesDir, outputPath string) ([]records.Page, error) {
	pages, err := b.Scan(imagesDir)
	if err != nil {
		return nil, err
	}
	if err := jsonl.Write(outputPath, pages); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	b.logger.Info("wrote manifest", zap.String("path", outputPath), zap.Int("pages", len(pages)))
	return pages, nil
}

// Load reads a manifest written by Build.
func Load(path string) ([]records.Page, error) {
	pages, err := jsonl.Read[records.Page](path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return pages, nil
}
