package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/joelkehle/civic-associations/internal/identity"
	"github.com/joelkehle/civic-associations/internal/records"
)

const tracerName = "github.com/joelkehle/civic-associations/internal/extraction"

type FailureKind string

const (
	FailureTransport FailureKind = "transport"
	FailureTimeout   FailureKind = "timeout"
	FailureRateLimit FailureKind = "rate_limit"
	FailureClient    FailureKind = "client"
	FailureEmpty     FailureKind = "empty"
	FailureParse     FailureKind = "parse"
	FailureSchema    FailureKind = "schema"
)

// AttemptError describes one dropped extraction attempt.
type AttemptError struct {
	SectionID string
	Attempt   int
	Kind      FailureKind
	Err       error
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("section %s attempt %d: %s: %v", e.SectionID, e.Attempt, e.Kind, e.Err)
}

func (e *AttemptError) Unwrap() error { return e.Err }

// payload is the JSON object the model is asked to return.
type payload struct {
	Name            string           `json:"name"`
	AssociationType string           `json:"association_type"`
	Members         []records.Member `json:"members"`
}

// SectionResult holds the candidates one section produced across all
// attempts, in attempt order, plus the attempts that were dropped.
type SectionResult struct {
	SectionID  string
	Attempts   int
	Candidates []records.Record
	Failures   []*AttemptError
}

type Executor struct {
	caller       LLMCaller
	systemPrompt string
	concurrency  int
	logger       *zap.Logger
	tracer       trace.Tracer
}

type Option func(*Executor)

// WithConcurrency bounds how many attempts for one section run at once.
func WithConcurrency(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

func WithSystemPrompt(s string) Option {
	return func(e *Executor) { e.systemPrompt = s }
}

func NewExecutor(caller LLMCaller, opts ...Option) *Executor {
	e := &Executor{
		caller:      caller,
		concurrency: 1,
		logger:      zap.NewNop(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewRunID returns a short random identifier for an extraction batch.
func NewRunID() string {
	return uuid.NewString()[:8]
}

// ExtractSection performs repeats independent extraction attempts over one
// section. Failed attempts are logged and dropped; only cancellation of ctx
// aborts the section. Attempts are never retried.
func (e *Executor) ExtractSection(ctx context.Context, section records.Section, runID string, repeats int) (SectionResult, error) {
	res := SectionResult{SectionID: section.SectionID, Attempts: repeats}
	if repeats < 1 {
		return res, fmt.Errorf("repeats must be at least 1, got %d", repeats)
	}
	prompts := BuildPrompts(section, e.systemPrompt)

	outcomes := make([]*records.Record, repeats)
	failures := make([]*AttemptError, repeats)

	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i := 0; i < repeats; i++ {
		attempt := i + 1
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			rec, aerr := e.attempt(ctx, section, prompts, runID, attempt)
			if aerr != nil {
				failures[attempt-1] = aerr
				return nil
			}
			outcomes[attempt-1] = rec
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return res, err
	}

	for i := 0; i < repeats; i++ {
		if outcomes[i] != nil {
			res.Candidates = append(res.Candidates, *outcomes[i])
		}
		if failures[i] != nil {
			res.Failures = append(res.Failures, failures[i])
		}
	}
	return res, nil
}

func (e *Executor) attempt(ctx context.Context, section records.Section, prompts Prompts, runID string, attempt int) (*records.Record, *AttemptError) {
	ctx, span := e.tracer.Start(ctx, "extraction.attempt", trace.WithAttributes(
		attribute.String("section_id", section.SectionID),
		attribute.String("run_id", runID),
		attribute.Int("attempt", attempt),
	))
	defer span.End()

	fail := func(kind FailureKind, err error) (*records.Record, *AttemptError) {
		aerr := &AttemptError{SectionID: section.SectionID, Attempt: attempt, Kind: kind, Err: err}
		span.RecordError(aerr)
		span.SetStatus(codes.Error, string(kind))
		e.logger.Warn("extraction attempt dropped",
			zap.String("section_id", section.SectionID),
			zap.String("run_id", runID),
			zap.Int("attempt", attempt),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return nil, aerr
	}

	resp, err := e.caller.Call(ctx, prompts.System, prompts.User)
	if err != nil {
		return fail(classifyTransportError(err), err)
	}
	raw := stripCodeFences(resp.Content)
	if raw == "" {
		return fail(FailureEmpty, errors.New("empty response"))
	}
	var p payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return fail(FailureParse, err)
	}
	if strings.TrimSpace(p.Name) == "" {
		return fail(FailureSchema, errors.New("response has no association name"))
	}

	rec := newRecord(p, section, runID, resp)
	span.SetAttributes(
		attribute.String("association_id", rec.AssociationID),
		attribute.Int64("tokens", resp.TokenCount),
	)
	e.logger.Debug("extraction attempt succeeded",
		zap.String("section_id", section.SectionID),
		zap.String("run_id", runID),
		zap.Int("attempt", attempt),
		zap.String("association_id", rec.AssociationID),
	)
	return &rec, nil
}

func newRecord(p payload, section records.Section, runID string, resp Response) records.Record {
	members := make([]records.Member, 0, len(p.Members))
	for _, m := range p.Members {
		m.FullName = strings.TrimSpace(m.FullName)
		if m.FullName == "" {
			continue
		}
		members = append(members, m)
	}
	pages := append([]string{}, section.PageIDs...)
	collection := ""
	if len(pages) > 0 {
		collection = records.CollectionFromPageID(pages[0])
	}
	name := strings.TrimSpace(p.Name)
	return records.Record{
		AssociationID:    identity.Key(name, section.City, section.Year, pages),
		Name:             name,
		AssociationType:  strings.TrimSpace(p.AssociationType),
		City:             section.City,
		County:           section.County,
		State:            section.State,
		Year:             section.Year,
		SourceCollection: collection,
		SourcePages:      pages,
		RawSectionText:   section.RawText,
		Members:          members,
		ExtractionRunID:  runID,
		SectionID:        section.SectionID,
		Metadata:         records.Metadata{Model: resp.ModelName, Tokens: resp.TokenCount},
	}
}
