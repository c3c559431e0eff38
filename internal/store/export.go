package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joelkehle/civic-associations/internal/jsonl"
)

type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSONL Format = "jsonl"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSONL:
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("unknown export format %q", s)
	}
}

var associationColumns = []string{
	"association_id", "name", "association_type", "city", "county", "state", "year",
	"source_collection", "source_pages", "member_count",
	"num_runs", "exact_match_runs", "similarity_score", "extraction_run_id",
}

var memberColumns = []string{
	"association_id", "association_name", "position", "full_name", "role", "notes",
}

// ExportResult lists the files written by Export.
type ExportResult struct {
	AssociationsPath string
	MembersPath      string
	Associations     int
	Members          int
}

// Export writes the associations and members tables into dir as
// associations.{csv,jsonl} and members.{csv,jsonl}.
func (s *SQLiteStore) Export(ctx context.Context, dir string, format Format) (ExportResult, error) {
	assocs, err := s.ListAssociations(ctx)
	if err != nil {
		return ExportResult{}, err
	}
	members, err := s.ListMembers(ctx)
	if err != nil {
		return ExportResult{}, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ExportResult{}, fmt.Errorf("create export dir: %w", err)
	}
	res := ExportResult{
		AssociationsPath: filepath.Join(dir, "associations."+string(format)),
		MembersPath:      filepath.Join(dir, "members."+string(format)),
		Associations:     len(assocs),
		Members:          len(members),
	}

	switch format {
	case FormatJSONL:
		if err := jsonl.Write(res.AssociationsPath, assocs); err != nil {
			return ExportResult{}, err
		}
		if err := jsonl.Write(res.MembersPath, members); err != nil {
			return ExportResult{}, err
		}
	case FormatCSV:
		if err := writeCSV(res.AssociationsPath, associationColumns, associationCSVRows(assocs)); err != nil {
			return ExportResult{}, err
		}
		if err := writeCSV(res.MembersPath, memberColumns, memberCSVRows(members)); err != nil {
			return ExportResult{}, err
		}
	default:
		return ExportResult{}, fmt.Errorf("unknown export format %q", format)
	}
	return res, nil
}

func associationCSVRows(assocs []Association) [][]string {
	rows := make([][]string, 0, len(assocs))
	for _, a := range assocs {
		rows = append(rows, []string{
			a.AssociationID,
			a.Name,
			a.AssociationType,
			a.City,
			a.County,
			a.State,
			strconv.Itoa(a.Year),
			a.SourceCollection,
			strings.Join(a.SourcePages, ";"),
			strconv.Itoa(len(a.Members)),
			strconv.Itoa(a.RunCount),
			strconv.Itoa(a.ExactMatchCount),
			strconv.FormatFloat(a.SimilarityScore, 'f', 4, 64),
			a.ExtractionRunID,
		})
	}
	return rows
}

func memberCSVRows(members []MemberRow) [][]string {
	rows := make([][]string, 0, len(members))
	for _, m := range members {
		rows = append(rows, []string{
			m.AssociationID,
			m.AssociationName,
			strconv.Itoa(m.Position),
			m.FullName,
			m.Role,
			m.Notes,
		})
	}
	return rows
}

func writeCSV(path string, header []string, rows [][]string) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}
