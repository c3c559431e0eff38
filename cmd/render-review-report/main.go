package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/joelkehle/civic-associations/internal/gate"
	"github.com/joelkehle/civic-associations/internal/jsonl"
	"github.com/joelkehle/civic-associations/internal/logging"
	"github.com/joelkehle/civic-associations/internal/report"
)

func main() {
	reviewPath := flag.String("review", "", "Path to review_needed.jsonl")
	rejectedPath := flag.String("rejected", "", "Path to rejected.jsonl")
	output := flag.String("output", "", "Path to write markdown (defaults to stdout)")
	htmlOutput := flag.String("html-output", "", "Optional path to write HTML")
	pdfOutput := flag.String("pdf-output", "", "Optional path to write PDF (requires Chromium)")
	paper := flag.String("paper", "letter", "PDF paper size: letter, legal or a4")
	landscape := flag.Bool("landscape", false, "Print the PDF in landscape")
	logMode := flag.String("log-mode", "prod", "Log mode: dev or prod")
	flag.Parse()

	logger := logging.Must(*logMode)
	defer logger.Sync()
	if *reviewPath == "" && *rejectedPath == "" {
		logger.Fatal("missing required -review or -rejected")
	}

	review, err := readOptional[gate.ReviewEntry](*reviewPath)
	if err != nil {
		logger.Fatal("read review queue", zap.Error(err))
	}
	rejected, err := readOptional[gate.RejectedEntry](*rejectedPath)
	if err != nil {
		logger.Fatal("read rejection log", zap.Error(err))
	}

	md := report.BuildMarkdown(report.Input{Review: review, Rejected: rejected, GeneratedAt: time.Now()})
	if err := writeMarkdown(*output, md); err != nil {
		logger.Fatal("write markdown", zap.Error(err))
	}
	if *htmlOutput == "" && *pdfOutput == "" {
		return
	}
	html, err := report.RenderHTML(md)
	if err != nil {
		logger.Fatal("render html", zap.Error(err))
	}
	if *htmlOutput != "" {
		if err := os.WriteFile(*htmlOutput, []byte(html), 0o644); err != nil {
			logger.Fatal("write html", zap.Error(err))
		}
	}
	if *pdfOutput != "" {
		setup := report.DefaultPageSetup()
		if setup.Paper, err = report.ParsePaperSize(*paper); err != nil {
			logger.Fatal("parse paper size", zap.Error(err))
		}
		setup.Landscape = *landscape
		if err := report.WritePDF(context.Background(), report.NewPDFRenderer(setup), html, *pdfOutput); err != nil {
			logger.Fatal("write pdf", zap.Error(err))
		}
	}
	logger.Info("report rendered", zap.Int("review", len(review)), zap.Int("rejected", len(rejected)))
}

// readOptional treats an empty path or a missing file as an empty queue.
func readOptional[T any](path string) ([]T, error) {
	if path == "" {
		return nil, nil
	}
	items, err := jsonl.Read[T](path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return items, err
}

func writeMarkdown(outputPath, markdown string) error {
	if outputPath == "" {
		_, err := fmt.Print(markdown)
		return err
	}
	return os.WriteFile(outputPath, []byte(markdown), 0o644)
}
