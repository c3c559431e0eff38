package report

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"html"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Printer turns a complete HTML document into PDF bytes.
type Printer interface {
	Render(ctx context.Context, htmlDoc string) ([]byte, error)
}

// PaperSize is a sheet size in inches.
type PaperSize struct {
	Name   string
	Width  float64
	Height float64
}

var (
	PaperLetter = PaperSize{Name: "letter", Width: 8.5, Height: 11}
	PaperLegal  = PaperSize{Name: "legal", Width: 8.5, Height: 14}
	PaperA4     = PaperSize{Name: "a4", Width: 8.27, Height: 11.69}
)

func ParsePaperSize(s string) (PaperSize, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", PaperLetter.Name:
		return PaperLetter, nil
	case PaperLegal.Name:
		return PaperLegal, nil
	case PaperA4.Name:
		return PaperA4, nil
	default:
		return PaperSize{}, fmt.Errorf("unknown paper size %q", s)
	}
}

// PageSetup controls the printed layout. Title is shown in every page footer.
type PageSetup struct {
	Paper     PaperSize
	Landscape bool
	MarginIn  float64
	Title     string
}

func DefaultPageSetup() PageSetup {
	return PageSetup{Paper: PaperLetter, MarginIn: 0.5, Title: reportTitle}
}

func (p PageSetup) footer() string {
	var b strings.Builder
	b.WriteString(`<div style="width:100%;display:flex;justify-content:space-between;padding:0 0.4in;font-size:9px;color:#666;">`)
	fmt.Fprintf(&b, `<span>%s</span>`, html.EscapeString(p.Title))
	b.WriteString(`<span>Page <span class="pageNumber"></span> of <span class="totalPages"></span></span></div>`)
	return b.String()
}

func (p PageSetup) params() *page.PrintToPDFParams {
	margin := p.MarginIn
	if margin <= 0 {
		margin = 0.5
	}
	return page.PrintToPDF().
		WithPrintBackground(true).
		WithLandscape(p.Landscape).
		WithDisplayHeaderFooter(true).
		WithHeaderTemplate(`<div></div>`).
		WithFooterTemplate(p.footer()).
		WithPaperWidth(p.Paper.Width).
		WithPaperHeight(p.Paper.Height).
		WithMarginTop(margin).
		WithMarginLeft(margin).
		WithMarginRight(margin).
		// Room for the footer line.
		WithMarginBottom(margin + 0.25)
}

// PDFRenderer prints HTML to PDF with a headless Chromium.
type PDFRenderer struct {
	chromePath string
	timeout    time.Duration
	setup      PageSetup
}

func NewPDFRenderer(setup PageSetup) *PDFRenderer {
	if setup.Paper.Width <= 0 || setup.Paper.Height <= 0 {
		setup.Paper = PaperLetter
	}
	return &PDFRenderer{chromePath: detectChromePath(), timeout: 30 * time.Second, setup: setup}
}

func (r *PDFRenderer) Render(ctx context.Context, htmlDoc string) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if r.chromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.chromePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(timeoutCtx, opts...)
	defer allocCancel()
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	var pdf []byte
	params := r.setup.params()
	dataURL := "data:text/html;base64," + base64.StdEncoding.EncodeToString([]byte(htmlDoc))
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(dataURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			out, _, err := params.Do(ctx)
			pdf = out
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("print pdf: %w", err)
	}
	return pdf, nil
}

// WritePDF prints htmlDoc with p and replaces path with the result.
func WritePDF(ctx context.Context, p Printer, htmlDoc, path string) error {
	pdf, err := p.Render(ctx, htmlDoc)
	if err != nil {
		return err
	}
	if len(pdf) == 0 {
		return errors.New("print pdf: empty output")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, pdf, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func detectChromePath() string {
	if p := os.Getenv("CHROME_PATH"); p != "" {
		return p
	}
	for _, p := range []string{
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/usr/bin/google-chrome",
	} {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
