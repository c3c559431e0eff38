package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/joelkehle/civic-associations/internal/extraction"
	"github.com/joelkehle/civic-associations/internal/gate"
	"github.com/joelkehle/civic-associations/internal/identity"
	"github.com/joelkehle/civic-associations/internal/jsonl"
	"github.com/joelkehle/civic-associations/internal/records"
	"github.com/joelkehle/civic-associations/internal/store"
	"github.com/joelkehle/civic-associations/internal/verify"
)

// namesCaller answers each call with the next name in order.
type namesCaller struct {
	mu    sync.Mutex
	names []string
	n     int
}

func (c *namesCaller) Call(context.Context, string, string) (extraction.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name := c.names[c.n%len(c.names)]
	c.n++
	if name == "" {
		return extraction.Response{Content: "not json"}, nil
	}
	return extraction.Response{
		Content:    fmt.Sprintf(`{"name": %q, "association_type": "temperance", "members": [{"full_name": "John Smith", "role": "President"}]}`, name),
		ModelName:  "test-model",
		TokenCount: 50,
	}, nil
}

type harness struct {
	dir      string
	store    *store.SQLiteStore
	review   *jsonl.Appender[gate.ReviewEntry]
	rejected *jsonl.Appender[gate.RejectedEntry]
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(filepath.Join(dir, "civic.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return &harness{
		dir:      dir,
		store:    s,
		review:   jsonl.NewAppender[gate.ReviewEntry](filepath.Join(dir, ReviewFile)),
		rejected: jsonl.NewAppender[gate.RejectedEntry](filepath.Join(dir, RejectedFile)),
	}
}

func (h *harness) loader(mode verify.GroupMode) *Loader {
	g := gate.New(h.store, verify.NewVerifier(0), h.review, h.rejected, nil)
	return NewLoader(verify.NewAggregator(verify.DefaultPolicy()), g, mode, nil)
}

func bostonSection(city string) records.Section {
	pages := []string{"boston_1855_p012"}
	return records.Section{
		SectionID:   identity.SectionID(pages, 0),
		PageIDs:     pages,
		City:        city,
		State:       "MA",
		Year:        1855,
		SectionType: "associations",
		RawText:     "Boston Temperance Society. President, John Smith.",
	}
}

func extract(t *testing.T, h *harness, section records.Section, names ...string) ExtractResult {
	t.Helper()
	exec := extraction.NewExecutor(&namesCaller{names: names})
	res, err := NewExtractor(exec, len(names), nil).Run(context.Background(), []records.Section{section}, h.dir, "")
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	return res
}

func TestIdenticalRunsAreAccepted(t *testing.T) {
	h := newHarness(t)
	ex := extract(t, h, bostonSection("Boston"), "Boston Temperance Society", "Boston Temperance Society", "Boston Temperance Society")
	if ex.Candidates != 3 || ex.Failures != 0 {
		t.Fatalf("unexpected extraction result %+v", ex)
	}
	if filepath.Base(ex.OutputPath) != RunFileName(ex.RunID) {
		t.Fatalf("unexpected output path %s", ex.OutputPath)
	}

	res, err := h.loader(verify.GroupByIdentity).LoadDir(context.Background(), h.dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(res.Verdicts) != 1 {
		t.Fatalf("expected 1 verdict, got %d", len(res.Verdicts))
	}
	v := res.Verdicts[0]
	if v.Status != verify.StatusAccepted || v.ExactMatchCount != 3 || v.SimilarityScore != 1.0 {
		t.Fatalf("unexpected verdict %+v", v)
	}
	got, err := h.store.GetAssociation(context.Background(), v.AssociationID)
	if err != nil {
		t.Fatalf("stored association: %v", err)
	}
	if got.Name != "Boston Temperance Society" || len(got.Members) != 1 || got.RunCount != 3 {
		t.Fatalf("unexpected stored association %+v", got)
	}
}

func TestAbbreviatedRunStructuralGrouping(t *testing.T) {
	h := newHarness(t)
	extract(t, h, bostonSection("Boston"), "Boston Temperance Society", "Boston Temperance Society", "Boston Temp. Society")

	res, err := h.loader(verify.GroupByStructure).LoadDir(context.Background(), h.dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Groups != 1 || len(res.Splits) != 1 {
		t.Fatalf("expected one structural group and one split, got %d groups, %d splits", res.Groups, len(res.Splits))
	}
	v := res.Verdicts[0]
	if v.ExactMatchCount != 2 || v.Status != verify.StatusAccepted {
		t.Fatalf("unexpected verdict %+v", v)
	}
	if math.Abs(v.SimilarityScore-0.92) > 1e-9 {
		t.Fatalf("expected similarity 0.92, got %v", v.SimilarityScore)
	}
	if n, _ := h.store.Count(context.Background()); n != 1 {
		t.Fatalf("expected 1 stored association, got %d", n)
	}
	got, err := h.store.GetAssociation(context.Background(), v.AssociationID)
	if err != nil || got.Name != "Boston Temperance Society" {
		t.Fatalf("majority name should be stored: %+v %v", got, err)
	}
}

func TestAbbreviatedRunIdentityGrouping(t *testing.T) {
	h := newHarness(t)
	extract(t, h, bostonSection("Boston"), "Boston Temperance Society", "Boston Temperance Society", "Boston Temp. Society")

	res, err := h.loader(verify.GroupByIdentity).LoadDir(context.Background(), h.dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Groups != 2 || len(res.Splits) != 1 {
		t.Fatalf("expected two identity groups and one split, got %d groups, %d splits", res.Groups, len(res.Splits))
	}
	if res.Verdicts[0].ExactMatchCount != 2 || res.Verdicts[1].RunCount != 1 {
		t.Fatalf("unexpected verdicts %+v", res.Verdicts)
	}
	if res.Summary.Accepted != 2 {
		t.Fatalf("expected both groups accepted, got %+v", res.Summary)
	}
}

func TestMissingCityIsDemotedToReview(t *testing.T) {
	h := newHarness(t)
	extract(t, h, bostonSection(""), "Boston Temperance Society", "Boston Temperance Society")

	res, err := h.loader(verify.GroupByIdentity).LoadDir(context.Background(), h.dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Verdicts[0].Status != verify.StatusAccepted {
		t.Fatalf("aggregation should still accept, got %+v", res.Verdicts[0])
	}
	if res.Summary.Demoted != 1 || res.Summary.Accepted != 0 {
		t.Fatalf("expected demotion, got %+v", res.Summary)
	}
	entries, err := jsonl.Read[gate.ReviewEntry](h.review.Path())
	if err != nil {
		t.Fatalf("read review queue: %v", err)
	}
	if len(entries) != 1 || !strings.Contains(entries[0].ReviewReason, "location") {
		t.Fatalf("unexpected review queue %+v", entries)
	}
	if n, _ := h.store.Count(context.Background()); n != 0 {
		t.Fatalf("demoted record must not be stored, got %d", n)
	}
}

func TestDroppedAttemptsDoNotAbortBatch(t *testing.T) {
	h := newHarness(t)
	ex := extract(t, h, bostonSection("Boston"), "Boston Temperance Society", "", "Boston Temperance Society")
	if ex.Candidates != 2 || ex.Failures != 1 || ex.Attempts != 3 {
		t.Fatalf("unexpected extraction result %+v", ex)
	}
	res, err := h.loader(verify.GroupByIdentity).LoadDir(context.Background(), h.dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Verdicts[0].RunCount != 2 {
		t.Fatalf("dropped attempt should not join the group: %+v", res.Verdicts[0])
	}
}

func TestLoadDirMergesRunFiles(t *testing.T) {
	h := newHarness(t)
	extract(t, h, bostonSection("Boston"), "Boston Temperance Society")
	extract(t, h, bostonSection("Boston"), "Boston Temperance Society")

	res, err := h.loader(verify.GroupByIdentity).LoadDir(context.Background(), h.dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(res.Files) != 2 || res.Candidates != 2 || res.Verdicts[0].RunCount != 2 {
		t.Fatalf("expected both run files in one group, got %+v", res)
	}
}

func TestLoadDirWithoutRunFiles(t *testing.T) {
	h := newHarness(t)
	_, err := h.loader(verify.GroupByIdentity).LoadDir(context.Background(), h.dir)
	var se *StageError
	if !errors.As(err, &se) || se.Stage != "read" || !errors.Is(err, ErrNoRunFiles) {
		t.Fatalf("expected read-stage ErrNoRunFiles, got %v", err)
	}
}

func TestRejectedGroupIsLogged(t *testing.T) {
	h := newHarness(t)
	a := records.Record{Name: "Boston Temperance Society", City: "Boston", State: "MA", Year: 1855, SourcePages: []string{"p_p001"}, SectionID: "s", ExtractionRunID: "r1"}
	b := a
	b.Name = "Hibernian Rifles"
	b.AssociationType = "military"
	b.ExtractionRunID = "r2"
	a.AssociationType = "temperance"

	res, err := h.loader(verify.GroupByStructure).Process(context.Background(), []records.Record{a, b})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Summary.Rejected != 1 {
		t.Fatalf("expected rejection, got %+v", res.Summary)
	}
	entries, err := jsonl.Read[gate.RejectedEntry](h.rejected.Path())
	if err != nil || len(entries) != 1 || !strings.HasPrefix(entries[0].RejectionReason, "Failed verification") {
		t.Fatalf("unexpected rejection log %+v %v", entries, err)
	}
}

func TestLoadDirDerivesKeysForRunLinesWithoutIDs(t *testing.T) {
	h := newHarness(t)
	base := records.Record{City: "Boston", State: "MA", Year: 1855, SourcePages: []string{"p1"}, AssociationType: "temperance", ExtractionRunID: "r1"}
	temperance := base
	temperance.Name = "Boston Temperance Society"
	lodge := base
	lodge.Name = "Mechanics Lodge"
	stale := lodge
	stale.AssociationID = temperance.Name
	stale.ExtractionRunID = "r2"
	if err := jsonl.Write(filepath.Join(h.dir, RunFileName("manual")), []records.Record{temperance, lodge, stale}); err != nil {
		t.Fatalf("write run file: %v", err)
	}

	res, err := h.loader(verify.GroupByIdentity).LoadDir(context.Background(), h.dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if res.Groups != 2 || res.Summary.Accepted != 2 {
		t.Fatalf("expected two accepted groups, got %d groups, %+v", res.Groups, res.Summary)
	}
	n, err := h.store.Count(context.Background())
	if err != nil || n != res.Summary.Accepted {
		t.Fatalf("stored %d associations for %d accepted (%v)", n, res.Summary.Accepted, err)
	}
	for _, rec := range []records.Record{temperance, lodge} {
		got, err := h.store.GetAssociation(context.Background(), verify.KeyOf(rec))
		if err != nil || got.Name != rec.Name {
			t.Fatalf("%s not stored under its identity key: %+v %v", rec.Name, got, err)
		}
	}
}

func TestRerunReplacesReviewQueue(t *testing.T) {
	h := newHarness(t)
	extract(t, h, bostonSection(""), "Boston Temperance Society", "Boston Temperance Society")

	for i := 0; i < 2; i++ {
		review, rejected, err := OpenQueues(h.dir, false)
		if err != nil {
			t.Fatalf("open queues: %v", err)
		}
		g := gate.New(h.store, verify.NewVerifier(0), review, rejected, nil)
		loader := NewLoader(verify.NewAggregator(verify.DefaultPolicy()), g, verify.GroupByIdentity, nil)
		if _, err := loader.LoadDir(context.Background(), h.dir); err != nil {
			t.Fatalf("load %d: %v", i, err)
		}
	}
	entries, err := jsonl.Read[gate.ReviewEntry](filepath.Join(h.dir, ReviewFile))
	if err != nil {
		t.Fatalf("read review queue: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one review entry after rerun, got %d", len(entries))
	}

	review, _, err := OpenQueues(h.dir, true)
	if err != nil {
		t.Fatalf("open queues keeping contents: %v", err)
	}
	if kept, err := jsonl.Read[gate.ReviewEntry](review.Path()); err != nil || len(kept) != 1 {
		t.Fatalf("keep should leave the queue intact, got %d (%v)", len(kept), err)
	}
}
