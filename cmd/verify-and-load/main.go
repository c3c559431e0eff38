package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/joelkehle/civic-associations/internal/config"
	"github.com/joelkehle/civic-associations/internal/gate"
	"github.com/joelkehle/civic-associations/internal/logging"
	"github.com/joelkehle/civic-associations/internal/pipeline"
	"github.com/joelkehle/civic-associations/internal/store"
	"github.com/joelkehle/civic-associations/internal/verify"
)

func main() {
	configPath := flag.String("config", "", "Path to pipeline YAML config")
	extractionsDir := flag.String("extractions-dir", "", "Directory holding run_*.jsonl files")
	queueDir := flag.String("queue-dir", "", "Directory for review_needed.jsonl and rejected.jsonl (defaults to -extractions-dir)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	grouping := flag.String("grouping", "", "Grouping mode override: identity or structural")
	keepQueues := flag.Bool("append-queues", false, "Append to existing review and rejection files instead of replacing them")
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
	if *extractionsDir == "" {
		logger.Fatal("missing required -extractions-dir")
	}
	if *queueDir == "" {
		*queueDir = *extractionsDir
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	mode := cfg.GroupMode()
	if *grouping != "" {
		if mode, err = verify.ParseGroupMode(*grouping); err != nil {
			logger.Fatal("parse grouping", zap.Error(err))
		}
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
		logger.Fatal("create db dir", zap.Error(err))
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer st.Close()

	review, rejected, err := pipeline.OpenQueues(*queueDir, *keepQueues)
	if err != nil {
		logger.Fatal("open queues", zap.Error(err))
	}
	g := gate.New(st, verify.NewVerifier(cfg.Verification.MinNameLength), review, rejected, logger)
	loader := pipeline.NewLoader(verify.NewAggregator(cfg.Policy()), g, mode, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	res, err := loader.LoadDir(ctx, *extractionsDir)
	logger.Info("verification summary",
		zap.Int("files", len(res.Files)),
		zap.Int("candidates", res.Candidates),
		zap.Int("groups", res.Groups),
		zap.Int("split_sections", len(res.Splits)),
		zap.Int("accepted", res.Summary.Accepted),
		zap.Int("needs_review", res.Summary.Review),
		zap.Int("rejected", res.Summary.Rejected),
		zap.String("review_queue", review.Path()),
		zap.String("rejection_log", rejected.Path()),
	)
	if err != nil {
		logger.Fatal("verify and load", zap.Error(err))
	}
}
