package verify

import (
	"strings"
	"testing"

	"github.com/joelkehle/civic-associations/internal/records"
)

func validRecord() records.Record {
	return records.Record{
		AssociationID:   "test_id",
		Name:            "Boston Temperance Society",
		City:            "Boston",
		State:           "MA",
		Year:            1855,
		SourcePages:     []string{"test_p001"},
		RawSectionText:  "Test text",
		ExtractionRunID: "test_run",
	}
}

func TestVerifyValidRecord(t *testing.T) {
	ok, reason := NewVerifier(0).Verify(validRecord())
	if !ok || reason != "" {
		t.Fatalf("expected valid record, got ok=%v reason=%q", ok, reason)
	}
}

func TestVerifyNameLengthBoundary(t *testing.T) {
	v := NewVerifier(DefaultMinNameLength)
	r := validRecord()
	r.Name = "ab"
	if ok, reason := v.Verify(r); ok || !strings.Contains(reason, "name too short") {
		t.Fatalf("length 2 should fail with name reason, got ok=%v reason=%q", ok, reason)
	}
	r.Name = "abc"
	if ok, reason := v.Verify(r); !ok {
		t.Fatalf("length 3 should pass, got %q", reason)
	}
	r.Name = "Æon"
	if ok, _ := v.Verify(r); !ok {
		t.Fatal("name length should count characters, not bytes")
	}
}

func TestVerifyRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*records.Record)
		want   string
	}{
		{"empty name", func(r *records.Record) { r.Name = "" }, "name too short"},
		{"blank name", func(r *records.Record) { r.Name = "    " }, "name too short"},
		{"missing city", func(r *records.Record) { r.City = "" }, "missing required location/date fields"},
		{"missing state", func(r *records.Record) { r.State = " " }, "missing required location/date fields"},
		{"missing year", func(r *records.Record) { r.Year = 0 }, "missing required location/date fields"},
		{"no pages", func(r *records.Record) { r.SourcePages = nil }, "no source pages specified"},
		{"name wins over location", func(r *records.Record) { r.Name = "x"; r.City = "" }, "name too short"},
		{"location wins over pages", func(r *records.Record) { r.City = ""; r.SourcePages = nil }, "location"},
	}
	v := NewVerifier(3)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := validRecord()
			tc.mutate(&r)
			ok, reason := v.Verify(r)
			if ok {
				t.Fatal("expected invalid record")
			}
			if !strings.Contains(reason, tc.want) {
				t.Fatalf("reason %q does not mention %q", reason, tc.want)
			}
		})
	}
}

func TestVerifyCustomMinimum(t *testing.T) {
	r := validRecord()
	r.Name = "Odd Fellows"
	if ok, _ := NewVerifier(20).Verify(r); ok {
		t.Fatal("expected failure with minimum 20")
	}
}
