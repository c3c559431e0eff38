package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/joelkehle/civic-associations/internal/jsonl"
	"github.com/joelkehle/civic-associations/internal/records"
)

const ResultsFile = "ocr.jsonl"

// Runner feeds manifest pages through an engine one at a time.
type Runner struct {
	engine              Engine
	confidenceThreshold float64
	logger              *zap.Logger
}

func NewRunner(engine Engine, confidenceThreshold float64, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{engine: engine, confidenceThreshold: confidenceThreshold, logger: logger}
}

// RunStats summarizes one OCR batch.
type RunStats struct {
	Pages         int
	Succeeded     int
	Failed        int
	LowConfidence int
}

// Run processes pages in order, writing {page_id}.md for each page and
// ocr.jsonl for the batch into outputDir. A page that fails is logged and
// skipped; only cancellation stops the batch.
func (r *Runner) Run(ctx context.Context, pages []records.Page, outputDir string) ([]records.PageOCR, RunStats, error) {
	stats := RunStats{Pages: len(pages)}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, stats, fmt.Errorf("create output dir: %w", err)
	}
	results := make([]records.PageOCR, 0, len(pages))
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		r.logger.Info("processing page",
			zap.Int("index", i+1),
			zap.Int("total", len(pages)),
			zap.String("page_id", page.PageID),
			zap.String("engine", r.engine.Name()),
		)
		res, err := r.engine.ProcessPage(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return nil, stats, ctx.Err()
			}
			stats.Failed++
			r.logger.Error("ocr failed", zap.String("page_id", page.PageID), zap.Error(err))
			continue
		}
		if res.OCRConfidence < r.confidenceThreshold {
			stats.LowConfidence++
			r.logger.Warn("low ocr confidence",
				zap.String("page_id", page.PageID),
				zap.Float64("confidence", res.OCRConfidence),
				zap.Float64("threshold", r.confidenceThreshold),
			)
		}
		md := filepath.Join(outputDir, page.PageID+".md")
		if err := os.WriteFile(md, []byte(res.TextMarkdown), 0o644); err != nil {
			return nil, stats, fmt.Errorf("write %s: %w", md, err)
		}
		stats.Succeeded++
		results = append(results, res)
	}
	if err := jsonl.Write(filepath.Join(outputDir, ResultsFile), results); err != nil {
		return nil, stats, fmt.Errorf("write ocr results: %w", err)
	}
	r.logger.Info("ocr batch complete",
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Int("low_confidence", stats.LowConfidence),
	)
	return results, stats, nil
}
