package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/joelkehle/civic-associations/internal/config"
	"github.com/joelkehle/civic-associations/internal/logging"
	"github.com/joelkehle/civic-associations/internal/manifest"
	"github.com/joelkehle/civic-associations/internal/ocr"
	_ "github.com/joelkehle/civic-associations/internal/ocr/tesseract"
)

func main() {
	configPath := flag.String("config", "", "Path to pipeline YAML config")
	manifestPath := flag.String("manifest", "", "Path to the JSONL page manifest")
	outputDir := flag.String("output-dir", "", "Directory for {page_id}.md files and ocr.jsonl")
	backend := flag.String("backend", "", "OCR backend override (tesseract or fallback)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	logger := logging.Must(cfg.LogMode)
	defer logger.Sync()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	for _, w := range cfg.Warnings {
		logger.Warn(w)
	}
	if *manifestPath == "" || *outputDir == "" {
		logger.Fatal("missing required -manifest or -output-dir")
	}

	pages, err := manifest.Load(*manifestPath)
	if err != nil {
		logger.Fatal("load manifest", zap.Error(err))
	}
	name := cfg.OCR.Backend
	if *backend != "" {
		name = *backend
	}
	engine, err := ocr.Select(name, ocr.Options{Languages: cfg.OCR.Languages})
	if err != nil {
		logger.Fatal("select ocr backend", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	_, stats, err := ocr.NewRunner(engine, cfg.OCR.ConfidenceThreshold, logger).Run(ctx, pages, *outputDir)
	if err != nil {
		logger.Fatal("run ocr", zap.Error(err))
	}
	logger.Info("ocr complete",
		zap.Int("pages", stats.Pages),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
	)
}
