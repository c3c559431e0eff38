package main

import (
	"flag"

	"go.uber.org/zap"

	"github.com/joelkehle/civic-associations/internal/config"
	"github.com/joelkehle/civic-associations/internal/logging"
	"github.com/joelkehle/civic-associations/internal/manifest"
)

func main() {
	configPath := flag.String("config", "", "Path to pipeline YAML config (defaults to CIVIC_CONFIG_PATH or config/pipeline.yaml)")
	imagesDir := flag.String("images-dir", "", "Directory of page images")
	output := flag.String("output", "", "Path to write the JSONL manifest")
	city := flag.String("city", "", "City the directory covers")
	county := flag.String("county", "", "County (optional)")
	state := flag.String("state", "", "State abbreviation")
	year := flag.Int("year", 0, "Directory year")
	collection := flag.String("collection", "", "Source collection id, e.g. boston_1855")
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
	if *imagesDir == "" || *output == "" {
		logger.Fatal("missing required -images-dir or -output")
	}

	b := manifest.NewBuilder(manifest.Directory{
		City:             *city,
		County:           *county,
		State:            *state,
		Year:             *year,
		SourceCollection: *collection,
	}, logger)
	pages, err := b.Build(*imagesDir, *output)
	if err != nil {
		logger.Fatal("build manifest", zap.Error(err))
	}
	logger.Info("manifest built", zap.String("output", *output), zap.Int("pages", len(pages)))
}
