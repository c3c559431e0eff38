package verify

import (
	"errors"
	"fmt"
	"sort"

	"github.com/joelkehle/civic-associations/internal/identity"
	"github.com/joelkehle/civic-associations/internal/records"
)

type Status string

const (
	StatusAccepted    Status = "accepted"
	StatusNeedsReview Status = "needs_review"
	StatusRejected    Status = "rejected"
)

const (
	DefaultMinSimilarity     = 0.9
	DefaultMinExactMatchRuns = 2
	// reviewBand scales MinSimilarity down to the needs_review floor.
	reviewBand = 0.8
)

var ErrEmptyGroup = errors.New("verify: empty run group")

// Policy holds the acceptance thresholds. It carries no state between groups.
type Policy struct {
	MinSimilarity     float64 `json:"min_similarity" yaml:"min_similarity"`
	MinExactMatchRuns int     `json:"min_exact_match_runs" yaml:"min_exact_match_runs"`
}

func DefaultPolicy() Policy {
	return Policy{MinSimilarity: DefaultMinSimilarity, MinExactMatchRuns: DefaultMinExactMatchRuns}
}

// Verdict is the outcome of aggregating one run group.
type Verdict struct {
	AssociationID   string  `json:"association_id"`
	GroupKey        string  `json:"group_key,omitempty"`
	RunCount        int     `json:"num_runs"`
	ExactMatchCount int     `json:"exact_match_runs"`
	SimilarityScore float64 `json:"similarity_score"`
	Status          Status  `json:"status"`
	Notes           string  `json:"notes,omitempty"`
}

// Decide maps group statistics to a status and note. The exact-match
// requirement is clamped to runCount so single-run batches can be accepted.
func (p Policy) Decide(runCount, exactMatches int, similarity float64) (Status, string) {
	required := min(p.MinExactMatchRuns, runCount)
	switch {
	case exactMatches >= required && similarity >= p.MinSimilarity:
		return StatusAccepted, ""
	case similarity >= p.MinSimilarity*reviewBand:
		return StatusNeedsReview, fmt.Sprintf("Low consistency: %d/%d exact matches, %.2f similarity", exactMatches, runCount, similarity)
	default:
		return StatusRejected, fmt.Sprintf("Failed verification: %d/%d exact matches, %.2f similarity", exactMatches, runCount, similarity)
	}
}

// Aggregator folds run groups into verdicts.
type Aggregator struct {
	policy Policy
}

func NewAggregator(policy Policy) *Aggregator {
	return &Aggregator{policy: policy}
}

func (a *Aggregator) Policy() Policy { return a.policy }

// Aggregate produces the verdict for g and its representative record: the
// first record, in run order, carrying the majority name.
func (a *Aggregator) Aggregate(g Group) (Verdict, records.Record, error) {
	if len(g.Records) == 0 {
		return Verdict{}, records.Record{}, ErrEmptyGroup
	}
	runCount := len(g.Records)
	exact, rep := 1, 0
	similarity := 1.0
	if runCount > 1 {
		exact, rep = majorityName(g.Records)
		similarity = GroupSimilarity(g.Records)
	}
	representative := g.Records[rep]
	representative.AssociationID = KeyOf(representative)
	status, notes := a.policy.Decide(runCount, exact, similarity)
	return Verdict{
		AssociationID:   representative.AssociationID,
		GroupKey:        g.Key,
		RunCount:        runCount,
		ExactMatchCount: exact,
		SimilarityScore: similarity,
		Status:          status,
		Notes:           notes,
	}, representative, nil
}

// majorityName returns the size of the largest subset sharing one normalized
// name, and the index of that subset's first record. Ties go to the name seen first.
func majorityName(recs []records.Record) (int, int) {
	counts := map[string]int{}
	first := map[string]int{}
	var order []string
	for i, r := range recs {
		n := NormalizeName(r.Name)
		if _, ok := counts[n]; !ok {
			first[n] = i
			order = append(order, n)
		}
		counts[n]++
	}
	best := order[0]
	for _, n := range order[1:] {
		if counts[n] > counts[best] {
			best = n
		}
	}
	return counts[best], first[best]
}

type GroupMode string

const (
	GroupByIdentity  GroupMode = "identity"
	GroupByStructure GroupMode = "structural"
)

func ParseGroupMode(s string) (GroupMode, error) {
	switch GroupMode(s) {
	case "", GroupByIdentity:
		return GroupByIdentity, nil
	case GroupByStructure:
		return GroupByStructure, nil
	default:
		return "", fmt.Errorf("unknown grouping mode %q", s)
	}
}

// Group is every candidate sharing one grouping key, in run order.
type Group struct {
	Key     string
	Records []records.Record
}

// KeyOf recomputes a record's identity key from its own fields.
func KeyOf(r records.Record) string {
	return identity.Key(r.Name, r.City, r.Year, r.SourcePages)
}

// GroupRecords partitions recs by identity key, or by section and ordinal in
// structural mode. Records without a section id always group by identity.
// Groups are returned in order of first appearance.
func GroupRecords(recs []records.Record, mode GroupMode) []Group {
	index := map[string]int{}
	var groups []Group
	for _, r := range recs {
		key := KeyOf(r)
		if mode == GroupByStructure && r.SectionID != "" {
			key = identity.StructuralKey(r.SectionID, r.Ordinal)
		}
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, Group{Key: key})
		}
		groups[i].Records = append(groups[i].Records, r)
	}
	return groups
}

// SplitSection is a section slot whose candidates landed under more than one
// identity key because runs named the entity differently.
type SplitSection struct {
	SectionID string
	Ordinal   int
	Keys      []string
}

// FindSplitSections reports every section slot whose candidates disagree on identity key.
func FindSplitSections(recs []records.Record) []SplitSection {
	type slot struct {
		section string
		ordinal int
	}
	keys := map[slot]map[string]struct{}{}
	for _, r := range recs {
		if r.SectionID == "" {
			continue
		}
		s := slot{r.SectionID, r.Ordinal}
		if keys[s] == nil {
			keys[s] = map[string]struct{}{}
		}
		keys[s][KeyOf(r)] = struct{}{}
	}
	var out []SplitSection
	for s, set := range keys {
		if len(set) < 2 {
			continue
		}
		split := SplitSection{SectionID: s.section, Ordinal: s.ordinal}
		for k := range set {
			split.Keys = append(split.Keys, k)
		}
		sort.Strings(split.Keys)
		out = append(out, split)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SectionID != out[j].SectionID {
			return out[i].SectionID < out[j].SectionID
		}
		return out[i].Ordinal < out[j].Ordinal
	})
	return out
}
