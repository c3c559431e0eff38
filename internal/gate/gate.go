package gate

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/joelkehle/civic-associations/internal/records"
	"github.com/joelkehle/civic-associations/internal/verify"
)

// Destination is where a verdict ended up.
type Destination string

const (
	ToStore        Destination = "store"
	ToReview       Destination = "review"
	ToRejectionLog Destination = "rejected"
)

// Store is the durable write path for accepted associations.
type Store interface {
	UpsertAssociation(ctx context.Context, rec records.Record, v verify.Verdict) error
}

// ReviewEntry is one line of the review queue.
type ReviewEntry struct {
	records.Record
	Verification verify.Verdict `json:"verification"`
	ReviewReason string         `json:"review_reason"`
}

// RejectedEntry is one line of the rejection log.
type RejectedEntry struct {
	records.Record
	Verification    verify.Verdict `json:"verification"`
	RejectionReason string         `json:"rejection_reason"`
}

type ReviewQueue interface {
	Append(ReviewEntry) error
}

type RejectionLog interface {
	Append(RejectedEntry) error
}

// Outcome pairs a verdict with the representative record of its group.
type Outcome struct {
	Verdict        verify.Verdict
	Representative records.Record
}

// Summary counts where a batch of outcomes went. Demoted counts accepted
// verdicts that failed the record verifier; they are included in Review.
type Summary struct {
	Accepted     int
	Review       int
	Rejected     int
	Demoted      int
	Failed       int
	Destinations map[string]Destination
}

// Gate routes verdicts to the store, the review queue or the rejection log.
type Gate struct {
	store    Store
	verifier verify.Verifier
	review   ReviewQueue
	rejected RejectionLog
	logger   *zap.Logger
}

func New(store Store, verifier verify.Verifier, review ReviewQueue, rejected RejectionLog, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{store: store, verifier: verifier, review: review, rejected: rejected, logger: logger}
}

// Route sends one outcome to exactly one destination. A store failure is
// returned with the write already rolled back; the outcome is then in no
// destination and the caller decides whether to retry.
func (g *Gate) Route(ctx context.Context, o Outcome) (Destination, error) {
	v, rec := o.Verdict, o.Representative
	switch v.Status {
	case verify.StatusAccepted:
		if ok, reason := g.verifier.Verify(rec); !ok {
			g.logger.Warn("accepted association failed verification; demoting to review",
				zap.String("association_id", v.AssociationID),
				zap.String("reason", reason),
			)
			v.Notes = reason
			return g.toReview(v, rec, reason)
		}
		if err := g.store.UpsertAssociation(ctx, rec, v); err != nil {
			return "", err
		}
		return ToStore, nil
	case verify.StatusNeedsReview:
		return g.toReview(v, rec, v.Notes)
	case verify.StatusRejected:
		if err := g.rejected.Append(RejectedEntry{Record: rec, Verification: v, RejectionReason: v.Notes}); err != nil {
			return "", fmt.Errorf("append rejection log: %w", err)
		}
		return ToRejectionLog, nil
	default:
		return "", fmt.Errorf("association %s: unknown status %q", v.AssociationID, v.Status)
	}
}

func (g *Gate) toReview(v verify.Verdict, rec records.Record, reason string) (Destination, error) {
	if err := g.review.Append(ReviewEntry{Record: rec, Verification: v, ReviewReason: reason}); err != nil {
		return "", fmt.Errorf("append review queue: %w", err)
	}
	return ToReview, nil
}

// Process routes every outcome and keeps going past individual failures.
// The returned error joins every failure.
func (g *Gate) Process(ctx context.Context, outcomes []Outcome) (Summary, error) {
	sum := Summary{Destinations: make(map[string]Destination, len(outcomes))}
	var errs []error
	for _, o := range outcomes {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		dest, err := g.Route(ctx, o)
		if err != nil {
			sum.Failed++
			g.logger.Error("persisting association failed",
				zap.String("association_id", o.Verdict.AssociationID),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		sum.Destinations[o.Verdict.AssociationID] = dest
		switch dest {
		case ToStore:
			sum.Accepted++
		case ToReview:
			sum.Review++
			if o.Verdict.Status == verify.StatusAccepted {
				sum.Demoted++
			}
		case ToRejectionLog:
			sum.Rejected++
		}
	}
	return sum, errors.Join(errs...)
}
