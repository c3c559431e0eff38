package main

import (
	"flag"

	"go.uber.org/zap"

	"github.com/joelkehle/civic-associations/internal/config"
	"github.com/joelkehle/civic-associations/internal/jsonl"
	"github.com/joelkehle/civic-associations/internal/logging"
	"github.com/joelkehle/civic-associations/internal/manifest"
	"github.com/joelkehle/civic-associations/internal/records"
	"github.com/joelkehle/civic-associations/internal/sections"
)

func main() {
	configPath := flag.String("config", "", "Path to pipeline YAML config")
	ocrPath := flag.String("ocr", "", "Path to ocr.jsonl")
	manifestPath := flag.String("manifest", "", "Path to the page manifest (supplies city, state and year)")
	output := flag.String("output", "", "Path to write sections JSONL")
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
	if *ocrPath == "" || *manifestPath == "" || *output == "" {
		logger.Fatal("missing required -ocr, -manifest or -output")
	}

	results, err := jsonl.Read[records.PageOCR](*ocrPath)
	if err != nil {
		logger.Fatal("read ocr results", zap.Error(err))
	}
	pages, err := manifest.Load(*manifestPath)
	if err != nil {
		logger.Fatal("load manifest", zap.Error(err))
	}
	found := sections.NewFinder(cfg.Sections.Keywords, logger).Find(results, pages)
	if err := jsonl.Write(*output, found); err != nil {
		logger.Fatal("write sections", zap.Error(err))
	}
	logger.Info("sections written", zap.String("output", *output), zap.Int("sections", len(found)))
}
