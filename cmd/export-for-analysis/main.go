package main

import (
	"context"
	"flag"

	"go.uber.org/zap"

	"github.com/joelkehle/civic-associations/internal/config"
	"github.com/joelkehle/civic-associations/internal/logging"
	"github.com/joelkehle/civic-associations/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to pipeline YAML config")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	outputDir := flag.String("output-dir", "", "Directory for associations and members exports")
	format := flag.String("format", "csv", "Export format: csv or jsonl")
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
	if *outputDir == "" {
		logger.Fatal("missing required -output-dir")
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	f, err := store.ParseFormat(*format)
	if err != nil {
		logger.Fatal("parse format", zap.Error(err))
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	res, err := st.Export(context.Background(), *outputDir, f)
	if err != nil {
		logger.Fatal("export", zap.Error(err))
	}
	logger.Info("export complete",
		zap.String("associations", res.AssociationsPath),
		zap.Int("association_rows", res.Associations),
		zap.String("members", res.MembersPath),
		zap.Int("member_rows", res.Members),
	)
}
