package gate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joelkehle/civic-associations/internal/identity"
	"github.com/joelkehle/civic-associations/internal/jsonl"
	"github.com/joelkehle/civic-associations/internal/records"
	"github.com/joelkehle/civic-associations/internal/verify"
)

type recordingStore struct {
	written map[string]records.Record
	failFor string
}

func (s *recordingStore) UpsertAssociation(_ context.Context, rec records.Record, _ verify.Verdict) error {
	if rec.AssociationID == s.failFor {
		return errors.New("disk full")
	}
	if s.written == nil {
		s.written = map[string]records.Record{}
	}
	s.written[rec.AssociationID] = rec
	return nil
}

type memQueue[T any] struct{ entries []T }

func (q *memQueue[T]) Append(v T) error {
	q.entries = append(q.entries, v)
	return nil
}

func rec(name, city string) records.Record {
	pages := []string{"boston_1855_p012"}
	return records.Record{
		AssociationID: identity.Key(name, city, 1855, pages),
		Name:          name,
		City:          city,
		State:         "MA",
		Year:          1855,
		SourcePages:   pages,
	}
}

func outcome(r records.Record, status verify.Status, notes string) Outcome {
	return Outcome{
		Verdict:        verify.Verdict{AssociationID: r.AssociationID, RunCount: 1, ExactMatchCount: 1, SimilarityScore: 1, Status: status, Notes: notes},
		Representative: r,
	}
}

func newTestGate(store Store) (*Gate, *memQueue[ReviewEntry], *memQueue[RejectedEntry]) {
	review := &memQueue[ReviewEntry]{}
	rejected := &memQueue[RejectedEntry]{}
	return New(store, verify.NewVerifier(0), review, rejected, nil), review, rejected
}

func TestRouteByStatus(t *testing.T) {
	store := &recordingStore{}
	g, review, rejected := newTestGate(store)
	ctx := context.Background()

	accepted := rec("Boston Temperance Society", "Boston")
	if dest, err := g.Route(ctx, outcome(accepted, verify.StatusAccepted, "")); err != nil || dest != ToStore {
		t.Fatalf("accepted: got %s, %v", dest, err)
	}
	if _, ok := store.written[accepted.AssociationID]; !ok {
		t.Fatal("accepted record not written")
	}

	low := rec("Salem Lyceum", "Boston")
	if dest, _ := g.Route(ctx, outcome(low, verify.StatusNeedsReview, "Low consistency: 1/3 exact matches, 0.80 similarity")); dest != ToReview {
		t.Fatalf("needs_review routed to %s", dest)
	}
	if len(review.entries) != 1 || !strings.HasPrefix(review.entries[0].ReviewReason, "Low consistency") {
		t.Fatalf("unexpected review entries %+v", review.entries)
	}

	bad := rec("Hibernian Rifles", "Boston")
	if dest, _ := g.Route(ctx, outcome(bad, verify.StatusRejected, "Failed verification: 1/3 exact matches, 0.40 similarity")); dest != ToRejectionLog {
		t.Fatalf("rejected routed to %s", dest)
	}
	if len(rejected.entries) != 1 || rejected.entries[0].Verification.Status != verify.StatusRejected {
		t.Fatalf("unexpected rejection entries %+v", rejected.entries)
	}
}

func TestAcceptedButInvalidIsDemoted(t *testing.T) {
	store := &recordingStore{}
	g, review, _ := newTestGate(store)
	noCity := rec("Boston Temperance Society", "")

	dest, err := g.Route(context.Background(), outcome(noCity, verify.StatusAccepted, ""))
	if err != nil || dest != ToReview {
		t.Fatalf("expected demotion to review, got %s, %v", dest, err)
	}
	if len(store.written) != 0 {
		t.Fatal("invalid record must not reach the store")
	}
	entry := review.entries[0]
	if !strings.Contains(entry.ReviewReason, "location") || entry.Verification.Notes != entry.ReviewReason {
		t.Fatalf("demotion reason not recorded: %+v", entry)
	}
	if entry.Verification.Status != verify.StatusAccepted {
		t.Fatal("review entry should keep the original verdict status")
	}
}

func TestProcessEveryKeyLandsOnce(t *testing.T) {
	store := &recordingStore{}
	g, review, rejected := newTestGate(store)
	statuses := []verify.Status{verify.StatusAccepted, verify.StatusNeedsReview, verify.StatusRejected}
	var outcomes []Outcome
	for i := 0; i < 30; i++ {
		city := "Boston"
		if i%7 == 0 {
			city = ""
		}
		outcomes = append(outcomes, outcome(rec(fmt.Sprintf("Society %02d", i), city), statuses[i%3], "n"))
	}

	sum, err := g.Process(context.Background(), outcomes)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	seen := map[string]int{}
	for id := range store.written {
		seen[id]++
	}
	for _, e := range review.entries {
		seen[e.AssociationID]++
	}
	for _, e := range rejected.entries {
		seen[e.AssociationID]++
	}
	for _, o := range outcomes {
		if seen[o.Verdict.AssociationID] != 1 {
			t.Fatalf("%s landed in %d destinations", o.Representative.Name, seen[o.Verdict.AssociationID])
		}
	}
	if sum.Accepted+sum.Review+sum.Rejected != len(outcomes) || len(sum.Destinations) != len(outcomes) {
		t.Fatalf("summary does not account for every outcome: %+v", sum)
	}
	if sum.Demoted == 0 {
		t.Fatal("expected some accepted-but-invalid demotions")
	}
}

func TestProcessContinuesPastStoreFailure(t *testing.T) {
	failing := rec("Boston Temperance Society", "Boston")
	store := &recordingStore{failFor: failing.AssociationID}
	g, _, _ := newTestGate(store)
	other := rec("Salem Lyceum", "Boston")

	sum, err := g.Process(context.Background(), []Outcome{
		outcome(failing, verify.StatusAccepted, ""),
		outcome(other, verify.StatusAccepted, ""),
	})
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected store error, got %v", err)
	}
	if sum.Failed != 1 || sum.Accepted != 1 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if _, ok := sum.Destinations[failing.AssociationID]; ok {
		t.Fatal("failed write must not be recorded as stored")
	}
}

func TestQueuesAsJSONLFiles(t *testing.T) {
	dir := t.TempDir()
	review := jsonl.NewAppender[ReviewEntry](filepath.Join(dir, "review_needed.jsonl"))
	rejected := jsonl.NewAppender[RejectedEntry](filepath.Join(dir, "rejected.jsonl"))
	g := New(&recordingStore{}, verify.NewVerifier(0), review, rejected, nil)

	r := rec("Boston Temperance Society", "Boston")
	if _, err := g.Route(context.Background(), outcome(r, verify.StatusNeedsReview, "Low consistency")); err != nil {
		t.Fatalf("Route: %v", err)
	}
	got, err := jsonl.Read[ReviewEntry](review.Path())
	if err != nil {
		t.Fatalf("read review queue: %v", err)
	}
	if len(got) != 1 || got[0].Name != r.Name || got[0].ReviewReason != "Low consistency" {
		t.Fatalf("unexpected review queue contents %+v", got)
	}
}
