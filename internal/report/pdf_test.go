package report

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type fakePrinter struct {
	got string
	out []byte
	err error
}

func (p *fakePrinter) Render(_ context.Context, htmlDoc string) ([]byte, error) {
	p.got = htmlDoc
	return p.out, p.err
}

func TestWritePDF(t *testing.T) {
	html, err := RenderHTML(BuildMarkdown(sampleInput()))
	if err != nil {
		t.Fatalf("RenderHTML: %v", err)
	}
	p := &fakePrinter{out: []byte("%PDF-1.7")}
	path := filepath.Join(t.TempDir(), "reports", "audit.pdf")
	if err := WritePDF(context.Background(), p, html, path); err != nil {
		t.Fatalf("WritePDF: %v", err)
	}
	if p.got != html {
		t.Fatal("printer did not receive the rendered html")
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "%PDF-1.7" {
		t.Fatalf("unexpected pdf file %q (%v)", data, err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temporary file left behind: %v", err)
	}
}

func TestWritePDFFailureKeepsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.pdf")
	if err := os.WriteFile(path, []byte("old"), 0o644); err != nil {
		t.Fatalf("seed: %v", err)
	}
	for _, p := range []*fakePrinter{
		{err: errors.New("chromium crashed")},
		{out: nil},
	} {
		if err := WritePDF(context.Background(), p, "<html></html>", path); err == nil {
			t.Fatal("expected error")
		}
	}
	if data, _ := os.ReadFile(path); string(data) != "old" {
		t.Fatalf("existing report overwritten: %q", data)
	}
}

func TestPageSetupParams(t *testing.T) {
	setup := DefaultPageSetup()
	setup.Paper = PaperA4
	setup.Landscape = true
	setup.Title = "Boston & Salem 1855"
	params := setup.params()
	if params.PaperWidth != 8.27 || params.PaperHeight != 11.69 || !params.Landscape {
		t.Fatalf("unexpected paper settings %+v", params)
	}
	if params.MarginBottom <= params.MarginTop {
		t.Fatalf("bottom margin must leave room for the footer: %+v", params)
	}
	if !strings.Contains(params.FooterTemplate, "Boston &amp; Salem 1855") || !strings.Contains(params.FooterTemplate, `class="pageNumber"`) {
		t.Fatalf("unexpected footer %s", params.FooterTemplate)
	}
	if DefaultPageSetup().Title != reportTitle {
		t.Fatalf("default footer should carry the report title")
	}
}

func TestParsePaperSize(t *testing.T) {
	for in, want := range map[string]PaperSize{"": PaperLetter, "A4": PaperA4, " legal ": PaperLegal} {
		got, err := ParsePaperSize(in)
		if err != nil || got != want {
			t.Fatalf("ParsePaperSize(%q) = %+v, %v", in, got, err)
		}
	}
	if _, err := ParsePaperSize("tabloid"); err == nil {
		t.Fatal("expected error for unknown size")
	}
}
