package manifest

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func touch(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("img"), 0o644); err != nil {
			t.Fatalf("write %s: %v", n, err)
		}
	}
}

func testDirectory() Directory {
	return Directory{City: "Boston", State: "MA", Year: 1855, SourceCollection: "boston_1855"}
}

func TestParsePageID(t *testing.T) {
	tests := []struct {
		id         string
		collection string
		number     int
		ok         bool
	}{
		{"boston_1855_p012", "boston_1855", 12, true},
		{"a_p_p7", "a_p", 7, true},
		{"boston_1855", "", 0, false},
		{"boston_p", "", 0, false},
	}
	for _, tc := range tests {
		c, n, ok := ParsePageID(tc.id)
		if c != tc.collection || n != tc.number || ok != tc.ok {
			t.Fatalf("ParsePageID(%q) = %q,%d,%v", tc.id, c, n, ok)
		}
	}
	if got := GeneratePageID("boston_1855", 7); got != "boston_1855_p007" {
		t.Fatalf("GeneratePageID = %q", got)
	}
}

func TestBuildManifest(t *testing.T) {
	images := t.TempDir()
	touch(t, images, "scan_b.TIF", "scan_a.jpg", "notes.txt", "salem_1860_p004.png")
	if err := os.Mkdir(filepath.Join(images, "sub.jpg"), 0o755); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(t.TempDir(), "manifests", "boston.jsonl")

	pages, err := NewBuilder(testDirectory(), nil).Build(images, out)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("expected 3 image pages, got %d", len(pages))
	}
	wantIDs := []string{"boston_1855_p001", "boston_1855_p002", "salem_1860_p004"}
	for i, p := range pages {
		if p.PageID != wantIDs[i] || p.PageNumber != i+1 {
			t.Fatalf("page %d: got %s/%d", i, p.PageID, p.PageNumber)
		}
		if p.City != "Boston" || p.Year != 1855 {
			t.Fatalf("directory metadata not copied: %+v", p)
		}
	}
	if filepath.Base(pages[1].ImagePath) != "scan_b.TIF" {
		t.Fatalf("unexpected image path %s", pages[1].ImagePath)
	}

	loaded, err := Load(out)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 3 || loaded[2] != pages[2] {
		t.Fatalf("manifest did not round-trip: %+v", loaded)
	}
}

func TestBuildMissingDirectory(t *testing.T) {
	_, err := NewBuilder(testDirectory(), nil).Scan(filepath.Join(t.TempDir(), "absent"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestBuildRequiresDirectoryMetadata(t *testing.T) {
	d := testDirectory()
	d.State = ""
	if _, err := NewBuilder(d, nil).Scan(t.TempDir()); err == nil {
		t.Fatal("expected error for missing state")
	}
}
