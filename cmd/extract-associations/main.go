package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/joelkehle/civic-associations/internal/config"
	"github.com/joelkehle/civic-associations/internal/extraction"
	"github.com/joelkehle/civic-associations/internal/jsonl"
	"github.com/joelkehle/civic-associations/internal/logging"
	"github.com/joelkehle/civic-associations/internal/pipeline"
	"github.com/joelkehle/civic-associations/internal/records"
	"github.com/joelkehle/civic-associations/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to pipeline YAML config")
	sectionsPath := flag.String("sections", "", "Path to sections JSONL")
	outputDir := flag.String("output-dir", "", "Directory to write run_{id}.jsonl")
	repeats := flag.Int("repeats", 0, "Extraction attempts per section (overrides config)")
	runID := flag.String("run-id", "", "Run id (random when empty)")
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
	if *sectionsPath == "" || *outputDir == "" {
		logger.Fatal("missing required -sections or -output-dir")
	}
	if *repeats > 0 {
		cfg.Extraction.Repeats = *repeats
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdown, err := telemetry.Setup(ctx, "extract-associations", logger)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer shutdown(context.Background())

	secs, err := jsonl.Read[records.Section](*sectionsPath)
	if err != nil {
		logger.Fatal("read sections", zap.Error(err))
	}
	caller, err := extraction.NewAnthropicCaller(cfg.AnthropicAPIKey, cfg.LLMSettings())
	if err != nil {
		logger.Fatal("configure llm", zap.Error(err))
	}
	exec := extraction.NewExecutor(caller,
		extraction.WithConcurrency(cfg.Extraction.Concurrency),
		extraction.WithSystemPrompt(cfg.Extraction.SystemPrompt),
		extraction.WithLogger(logger),
	)
	res, err := pipeline.NewExtractor(exec, cfg.Extraction.Repeats, logger).Run(ctx, secs, *outputDir, *runID)
	if err != nil {
		logger.Fatal("extract associations", zap.Error(err))
	}
	logger.Info("extraction written",
		zap.String("output", res.OutputPath),
		zap.String("model", caller.ModelName()),
		zap.Int("candidates", res.Candidates),
		zap.Int("dropped", res.Failures),
	)
}
