package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/civic-associations/internal/records"
	"github.com/joelkehle/civic-associations/internal/verify"
)

var ErrNotFound = errors.New("association not found")

// WriteError reports a failed association write. The transaction it belonged
// to has been rolled back.
type WriteError struct {
	AssociationID string
	Err           error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write association %s: %v", e.AssociationID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Association is a persisted record together with the verification
// statistics that let it through.
type Association struct {
	records.Record
	RunCount        int       `json:"num_runs"`
	ExactMatchCount int       `json:"exact_match_runs"`
	SimilarityScore float64   `json:"similarity_score"`
	LoadedAt        time.Time `json:"loaded_at"`
}

// MemberRow is one member line joined with its association name, as exported.
type MemberRow struct {
	AssociationID   string `db:"association_id" json:"association_id"`
	AssociationName string `db:"association_name" json:"association_name"`
	Position        int    `db:"position" json:"position"`
	FullName        string `db:"full_name" json:"full_name"`
	Role            string `db:"role" json:"role,omitempty"`
	Notes           string `db:"notes" json:"notes,omitempty"`
}

// SQLiteStore keeps accepted associations, their source pages and members.
// Each upsert replaces the association's pages and members wholesale.
type SQLiteStore struct {
	db    *sqlx.DB
	clock func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*SQLiteStore)

func WithClock(clock func() time.Time) Option {
	return func(s *SQLiteStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS associations (
	association_id         TEXT PRIMARY KEY,
	name                   TEXT NOT NULL,
	association_type       TEXT NOT NULL DEFAULT '',
	city                   TEXT NOT NULL DEFAULT '',
	county                 TEXT NOT NULL DEFAULT '',
	state                  TEXT NOT NULL DEFAULT '',
	year                   INTEGER NOT NULL DEFAULT 0,
	source_directory_title TEXT NOT NULL DEFAULT '',
	source_collection      TEXT NOT NULL DEFAULT '',
	raw_section_text       TEXT NOT NULL DEFAULT '',
	extraction_run_id      TEXT NOT NULL DEFAULT '',
	section_id             TEXT NOT NULL DEFAULT '',
	ordinal                INTEGER NOT NULL DEFAULT 0,
	num_runs               INTEGER NOT NULL DEFAULT 1,
	exact_match_runs       INTEGER NOT NULL DEFAULT 1,
	similarity_score       REAL NOT NULL DEFAULT 1,
	metadata               TEXT NOT NULL DEFAULT '{}',
	loaded_at              TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS association_pages (
	association_id TEXT NOT NULL REFERENCES associations(association_id) ON DELETE CASCADE,
	page_id        TEXT NOT NULL,
	position       INTEGER NOT NULL,
	PRIMARY KEY (association_id, page_id)
);

CREATE TABLE IF NOT EXISTS members (
	association_id TEXT NOT NULL REFERENCES associations(association_id) ON DELETE CASCADE,
	position       INTEGER NOT NULL,
	full_name      TEXT NOT NULL,
	role           TEXT NOT NULL DEFAULT '',
	notes          TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (association_id, position)
);

CREATE INDEX IF NOT EXISTS idx_associations_place ON associations(city, year);
CREATE INDEX IF NOT EXISTS idx_association_pages_page ON association_pages(page_id);
CREATE INDEX IF NOT EXISTS idx_members_name ON members(full_name);
`

// Open opens (creating if needed) the SQLite database at dbPath.
func Open(dbPath string, opts ...Option) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	s := &SQLiteStore{
		db:    db,
		clock: time.Now,
		locks: map[string]*sync.Mutex{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) keyLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

type associationRow struct {
	AssociationID        string  `db:"association_id"`
	Name                 string  `db:"name"`
	AssociationType      string  `db:"association_type"`
	City                 string  `db:"city"`
	County               string  `db:"county"`
	State                string  `db:"state"`
	Year                 int     `db:"year"`
	SourceDirectoryTitle string  `db:"source_directory_title"`
	SourceCollection     string  `db:"source_collection"`
	RawSectionText       string  `db:"raw_section_text"`
	ExtractionRunID      string  `db:"extraction_run_id"`
	SectionID            string  `db:"section_id"`
	Ordinal              int     `db:"ordinal"`
	NumRuns              int     `db:"num_runs"`
	ExactMatchRuns       int     `db:"exact_match_runs"`
	SimilarityScore      float64 `db:"similarity_score"`
	Metadata             string  `db:"metadata"`
	LoadedAt             string  `db:"loaded_at"`
}

const upsertAssociationSQL = `INSERT OR REPLACE INTO associations
	(association_id, name, association_type, city, county, state, year,
	 source_directory_title, source_collection, raw_section_text, extraction_run_id,
	 section_id, ordinal, num_runs, exact_match_runs, similarity_score, metadata, loaded_at)
	VALUES
	(:association_id, :name, :association_type, :city, :county, :state, :year,
	 :source_directory_title, :source_collection, :raw_section_text, :extraction_run_id,
	 :section_id, :ordinal, :num_runs, :exact_match_runs, :similarity_score, :metadata, :loaded_at)`

// UpsertAssociation writes rec with its verdict statistics. The association
// row, its pages and its members are written in one transaction; on any
// failure nothing is kept and a *WriteError is returned. The row is keyed on
// the identity key derived from rec; a serialized association_id is ignored.
func (s *SQLiteStore) UpsertAssociation(ctx context.Context, rec records.Record, v verify.Verdict) error {
	rec.AssociationID = verify.KeyOf(rec)
	l := s.keyLock(rec.AssociationID)
	l.Lock()
	defer l.Unlock()

	if err := s.upsert(ctx, rec, v); err != nil {
		return &WriteError{AssociationID: rec.AssociationID, Err: err}
	}
	return nil
}

func (s *SQLiteStore) upsert(ctx context.Context, rec records.Record, v verify.Verdict) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	runs, exact, sim := v.RunCount, v.ExactMatchCount, v.SimilarityScore
	if runs == 0 {
		runs, exact, sim = 1, 1, 1
	}
	row := associationRow{
		AssociationID:        rec.AssociationID,
		Name:                 rec.Name,
		AssociationType:      rec.AssociationType,
		City:                 rec.City,
		County:               rec.County,
		State:                rec.State,
		Year:                 rec.Year,
		SourceDirectoryTitle: rec.SourceDirectoryTitle,
		SourceCollection:     rec.SourceCollection,
		RawSectionText:       rec.RawSectionText,
		ExtractionRunID:      rec.ExtractionRunID,
		SectionID:            rec.SectionID,
		Ordinal:              rec.Ordinal,
		NumRuns:              runs,
		ExactMatchRuns:       exact,
		SimilarityScore:      sim,
		Metadata:             string(meta),
		LoadedAt:             s.clock().UTC().Format(time.RFC3339Nano),
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM association_pages WHERE association_id = ?`, rec.AssociationID); err != nil {
		return fmt.Errorf("clear pages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM members WHERE association_id = ?`, rec.AssociationID); err != nil {
		return fmt.Errorf("clear members: %w", err)
	}
	if _, err := tx.NamedExecContext(ctx, upsertAssociationSQL, row); err != nil {
		return fmt.Errorf("insert association: %w", err)
	}
	for i, page := range rec.SourcePages {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO association_pages (association_id, page_id, position) VALUES (?, ?, ?)`,
			rec.AssociationID, page, i); err != nil {
			return fmt.Errorf("insert page %s: %w", page, err)
		}
	}
	for i, m := range rec.Members {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO members (association_id, position, full_name, role, notes) VALUES (?, ?, ?, ?, ?)`,
			rec.AssociationID, i, m.FullName, m.Role, m.Notes); err != nil {
			return fmt.Errorf("insert member %q: %w", m.FullName, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetAssociation loads one association with its pages and members.
func (s *SQLiteStore) GetAssociation(ctx context.Context, id string) (Association, error) {
	var row associationRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM associations WHERE association_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Association{}, ErrNotFound
	}
	if err != nil {
		return Association{}, fmt.Errorf("get association: %w", err)
	}
	return s.hydrate(ctx, row)
}

// ListAssociations returns every stored association ordered by city, year and name.
func (s *SQLiteStore) ListAssociations(ctx context.Context) ([]Association, error) {
	var rows []associationRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM associations ORDER BY city, year, name, association_id`); err != nil {
		return nil, fmt.Errorf("list associations: %w", err)
	}
	out := make([]Association, 0, len(rows))
	for _, row := range rows {
		a, err := s.hydrate(ctx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// ListMembers returns every member row joined with its association name.
func (s *SQLiteStore) ListMembers(ctx context.Context) ([]MemberRow, error) {
	var rows []MemberRow
	err := s.db.SelectContext(ctx, &rows, `
		SELECT m.association_id, a.name AS association_name, m.position, m.full_name, m.role, m.notes
		FROM members m JOIN associations a ON a.association_id = m.association_id
		ORDER BY a.city, a.year, a.name, m.association_id, m.position`)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return rows, nil
}

// Count returns the number of stored associations.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM associations`); err != nil {
		return 0, fmt.Errorf("count associations: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) hydrate(ctx context.Context, row associationRow) (Association, error) {
	a := Association{
		Record: records.Record{
			AssociationID:        row.AssociationID,
			Name:                 row.Name,
			AssociationType:      row.AssociationType,
			City:                 row.City,
			County:               row.County,
			State:                row.State,
			Year:                 row.Year,
			SourceDirectoryTitle: row.SourceDirectoryTitle,
			SourceCollection:     row.SourceCollection,
			RawSectionText:       row.RawSectionText,
			ExtractionRunID:      row.ExtractionRunID,
			SectionID:            row.SectionID,
			Ordinal:              row.Ordinal,
		},
		RunCount:        row.NumRuns,
		ExactMatchCount: row.ExactMatchRuns,
		SimilarityScore: row.SimilarityScore,
	}
	if row.Metadata != "" {
		if err := json.Unmarshal([]byte(row.Metadata), &a.Metadata); err != nil {
			return Association{}, fmt.Errorf("decode metadata for %s: %w", row.AssociationID, err)
		}
	}
	if t, err := time.Parse(time.RFC3339Nano, row.LoadedAt); err == nil {
		a.LoadedAt = t
	}

	if err := s.db.SelectContext(ctx, &a.SourcePages,
		`SELECT page_id FROM association_pages WHERE association_id = ? ORDER BY position`, row.AssociationID); err != nil {
		return Association{}, fmt.Errorf("load pages for %s: %w", row.AssociationID, err)
	}
	var members []struct {
		FullName string `db:"full_name"`
		Role     string `db:"role"`
		Notes    string `db:"notes"`
	}
	if err := s.db.SelectContext(ctx, &members,
		`SELECT full_name, role, notes FROM members WHERE association_id = ? ORDER BY position`, row.AssociationID); err != nil {
		return Association{}, fmt.Errorf("load members for %s: %w", row.AssociationID, err)
	}
	a.Members = make([]records.Member, 0, len(members))
	for _, m := range members {
		a.Members = append(a.Members, records.Member{FullName: m.FullName, Role: m.Role, Notes: m.Notes})
	}
	return a, nil
}
