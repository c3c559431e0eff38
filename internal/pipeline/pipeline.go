package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/joelkehle/civic-associations/internal/extraction"
	"github.com/joelkehle/civic-associations/internal/gate"
	"github.com/joelkehle/civic-associations/internal/jsonl"
	"github.com/joelkehle/civic-associations/internal/records"
	"github.com/joelkehle/civic-associations/internal/verify"
)

const (
	ReviewFile     = "review_needed.jsonl"
	RejectedFile   = "rejected.jsonl"
	runFilePattern = "run_*.jsonl"
)

type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

var ErrNoRunFiles = errors.New("no extraction run files found")

// RunFileName is the extraction output file for one batch.
func RunFileName(runID string) string {
	return "run_" + runID + ".jsonl"
}

// ExtractResult summarizes one extraction batch.
type ExtractResult struct {
	RunID      string
	OutputPath string
	Sections   int
	Attempts   int
	Candidates int
	Failures   int
	Duration   time.Duration
}

// Extractor runs the executor over every section of a batch.
type Extractor struct {
	executor *extraction.Executor
	repeats  int
	logger   *zap.Logger
}

func NewExtractor(executor *extraction.Executor, repeats int, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{executor: executor, repeats: repeats, logger: logger}
}

// Run extracts every section in order and appends the candidates to
// run_{runID}.jsonl in outputDir. An empty runID gets a fresh one.
func (x *Extractor) Run(ctx context.Context, sections []records.Section, outputDir, runID string) (ExtractResult, error) {
	started := time.Now()
	if runID == "" {
		runID = extraction.NewRunID()
	}
	out := jsonl.NewAppender[records.Record](filepath.Join(outputDir, RunFileName(runID)))
	res := ExtractResult{RunID: runID, OutputPath: out.Path(), Sections: len(sections)}

	x.logger.Info("extraction batch started",
		zap.String("run_id", runID),
		zap.Int("sections", len(sections)),
		zap.Int("repeats", x.repeats),
	)
	for i, section := range sections {
		sr, err := x.executor.ExtractSection(ctx, section, runID, x.repeats)
		if err != nil {
			return res, &StageError{Stage: "extract", Err: fmt.Errorf("section %s: %w", section.SectionID, err)}
		}
		res.Attempts += sr.Attempts
		res.Failures += len(sr.Failures)
		for _, c := range sr.Candidates {
			if err := out.Append(c); err != nil {
				return res, &StageError{Stage: "extract", Err: fmt.Errorf("write candidate: %w", err)}
			}
			res.Candidates++
		}
		x.logger.Info("section extracted",
			zap.Int("index", i+1),
			zap.Int("total", len(sections)),
			zap.String("section_id", section.SectionID),
			zap.Int("candidates", len(sr.Candidates)),
			zap.Int("dropped", len(sr.Failures)),
		)
	}
	res.Duration = time.Since(started)
	x.logger.Info("extraction batch complete",
		zap.String("run_id", runID),
		zap.Int("candidates", res.Candidates),
		zap.Int("dropped", res.Failures),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// OpenQueues returns the review queue and rejection log in dir. Unless keep
// is set both files are truncated, so they hold only the next batch.
func OpenQueues(dir string, keep bool) (*jsonl.Appender[gate.ReviewEntry], *jsonl.Appender[gate.RejectedEntry], error) {
	review := jsonl.NewAppender[gate.ReviewEntry](filepath.Join(dir, ReviewFile))
	rejected := jsonl.NewAppender[gate.RejectedEntry](filepath.Join(dir, RejectedFile))
	if !keep {
		if err := review.Reset(); err != nil {
			return nil, nil, fmt.Errorf("reset review queue: %w", err)
		}
		if err := rejected.Reset(); err != nil {
			return nil, nil, fmt.Errorf("reset rejection log: %w", err)
		}
	}
	return review, rejected, nil
}

// LoadResult summarizes one verify-and-load batch.
type LoadResult struct {
	Files      []string
	Candidates int
	Groups     int
	Splits     []verify.SplitSection
	Verdicts   []verify.Verdict
	Summary    gate.Summary
}

// Loader aggregates candidate records and routes the verdicts through the gate.
type Loader struct {
	aggregator *verify.Aggregator
	gate       *gate.Gate
	mode       verify.GroupMode
	logger     *zap.Logger
}

func NewLoader(aggregator *verify.Aggregator, g *gate.Gate, mode verify.GroupMode, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{aggregator: aggregator, gate: g, mode: mode, logger: logger}
}

// RunFiles lists the extraction run files in dir in name order.
func RunFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, runFilePattern))
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoRunFiles, dir)
	}
	sort.Strings(files)
	return files, nil
}

// LoadDir reads every run file in dir and processes the candidates together.
func (l *Loader) LoadDir(ctx context.Context, dir string) (LoadResult, error) {
	files, err := RunFiles(dir)
	if err != nil {
		return LoadResult{}, &StageError{Stage: "read", Err: err}
	}
	var all []records.Record
	for _, f := range files {
		recs, err := jsonl.Read[records.Record](f)
		if err != nil {
			return LoadResult{}, &StageError{Stage: "read", Err: err}
		}
		l.logger.Info("read extraction run", zap.String("path", f), zap.Int("records", len(recs)))
		all = append(all, recs...)
	}
	res, err := l.Process(ctx, all)
	res.Files = files
	return res, err
}

// Process groups the candidates, aggregates each group and routes every
// verdict. Store failures do not stop the batch; they are returned joined.
func (l *Loader) Process(ctx context.Context, candidates []records.Record) (LoadResult, error) {
	res := LoadResult{Candidates: len(candidates)}

	res.Splits = verify.FindSplitSections(candidates)
	for _, s := range res.Splits {
		l.logger.Warn("section candidates split across identity keys",
			zap.String("section_id", s.SectionID),
			zap.Int("ordinal", s.Ordinal),
			zap.Strings("keys", s.Keys),
			zap.String("grouping", string(l.mode)),
		)
	}

	groups := verify.GroupRecords(candidates, l.mode)
	res.Groups = len(groups)
	outcomes := make([]gate.Outcome, 0, len(groups))
	for _, g := range groups {
		v, rep, err := l.aggregator.Aggregate(g)
		if err != nil {
			return res, &StageError{Stage: "aggregate", Err: err}
		}
		res.Verdicts = append(res.Verdicts, v)
		outcomes = append(outcomes, gate.Outcome{Verdict: v, Representative: rep})
	}

	sum, err := l.gate.Process(ctx, outcomes)
	res.Summary = sum
	l.logger.Info("verify-and-load complete",
		zap.Int("candidates", res.Candidates),
		zap.Int("groups", res.Groups),
		zap.Int("accepted", sum.Accepted),
		zap.Int("review", sum.Review),
		zap.Int("demoted", sum.Demoted),
		zap.Int("rejected", sum.Rejected),
		zap.Int("failed", sum.Failed),
	)
	if err != nil {
		return res, &StageError{Stage: "persist", Err: err}
	}
	return res, nil
}
