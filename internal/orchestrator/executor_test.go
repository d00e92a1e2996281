package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"synapse/internal/config"
	"synapse/internal/store"
	"synapse/internal/types"
)

// fakeStore scripts per-domain search outcomes.
type fakeStore struct {
	matches  map[string][]store.SimilarityMatch
	items    map[string]types.KnowledgeItem
	failures map[string]error
	keywords map[string]map[string]bool

	failOnce map[string]*atomic.Int32 // domainID -> remaining failures
	calls    atomic.Int32
}

func (f *fakeStore) SearchSimilar(ctx context.Context, domainID string, _ []float32, _ float64, _ int) ([]store.SimilarityMatch, error) {
	f.calls.Add(1)
	if c, ok := f.failOnce[domainID]; ok && c.Add(-1) >= 0 {
		return nil, fmt.Errorf("transient search failure")
	}
	if err, ok := f.failures[domainID]; ok {
		return nil, err
	}
	return f.matches[domainID], nil
}

func (f *fakeStore) KeywordMatches(domainID, _ string, _ int) (map[string]bool, error) {
	return f.keywords[domainID], nil
}

func (f *fakeStore) GetKnowledgeItem(id string) (types.KnowledgeItem, error) {
	item, ok := f.items[id]
	if !ok {
		return types.KnowledgeItem{}, &types.NotFoundError{Kind: "knowledge item", ID: id}
	}
	return item, nil
}

func executorConfig() config.ExecutorConfig {
	cfg := config.DefaultConfig().Executor
	cfg.MaxRetries = 2
	return cfg
}

func decisionOver(domainIDs ...string) types.RoutingDecision {
	d := types.RoutingDecision{DomainScores: map[string]float64{}}
	for i, id := range domainIDs {
		d.SelectedDomains = append(d.SelectedDomains, types.DomainRelevance{
			DomainID: id, Score: 0.8, Rank: i + 1,
		})
		d.DomainScores[id] = 0.8
	}
	return d
}

func TestExecutePartialFailure(t *testing.T) {
	// The opencensus stats worker is started by a transitive dependency's
	// package init and cannot be stopped; it is not created by the executor.
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	fs := &fakeStore{
		matches: map[string][]store.SimilarityMatch{
			"good": {{KnowledgeID: "k1", Similarity: 0.9}},
		},
		items: map[string]types.KnowledgeItem{
			"k1": {ID: "k1", DomainID: "good", Title: "hit", Content: "body"},
		},
		failures: map[string]error{
			"broken": errors.New("disk on fire"),
		},
	}
	ex := NewExecutor(fs, executorConfig(), time.Second, 0.7)

	results, status, warnings, err := ex.Execute(context.Background(), "q", []float32{1}, decisionOver("good", "broken"))
	if err != nil {
		t.Fatalf("Execute: %v (partial failure must not error)", err)
	}
	if len(results) != 1 || results[0].KnowledgeID != "k1" {
		t.Errorf("results = %+v, want the one hit from the healthy domain", results)
	}
	if status["good"] != "ok" {
		t.Errorf("status[good] = %q, want ok", status["good"])
	}
	if status["broken"] == "ok" {
		t.Error("failed domain reported ok")
	}
	if len(warnings) != 1 {
		t.Errorf("warnings = %v, want one entry for the failed domain", warnings)
	}
}

func TestExecuteAllDomainsFail(t *testing.T) {
	fs := &fakeStore{
		failures: map[string]error{
			"a": errors.New("down"),
			"b": errors.New("also down"),
		},
	}
	ex := NewExecutor(fs, executorConfig(), time.Second, 0.7)

	_, _, _, err := ex.Execute(context.Background(), "q", []float32{1}, decisionOver("a", "b"))
	var ee *types.ExhaustedError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want ExhaustedError", err)
	}
	if len(ee.Failures) != 2 {
		t.Errorf("Failures = %d, want 2", len(ee.Failures))
	}
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	var remaining atomic.Int32
	remaining.Store(1) // first attempt fails, second succeeds
	fs := &fakeStore{
		matches: map[string][]store.SimilarityMatch{
			"flaky": {{KnowledgeID: "k1", Similarity: 0.8}},
		},
		items: map[string]types.KnowledgeItem{
			"k1": {ID: "k1", DomainID: "flaky", Title: "eventually", Content: "works"},
		},
		failOnce: map[string]*atomic.Int32{"flaky": &remaining},
	}
	ex := NewExecutor(fs, executorConfig(), time.Second, 0.7)

	results, _, warnings, err := ex.Execute(context.Background(), "q", []float32{1}, decisionOver("flaky"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1 after retry", len(results))
	}
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none after a successful retry", warnings)
	}
}

func TestExecuteKeywordBoostAndScoring(t *testing.T) {
	fs := &fakeStore{
		matches: map[string][]store.SimilarityMatch{
			"d": {
				{KnowledgeID: "plain", Similarity: 0.7},
				{KnowledgeID: "boosted", Similarity: 0.7},
			},
		},
		items: map[string]types.KnowledgeItem{
			"plain":   {ID: "plain", DomainID: "d", Title: "plain", Content: "c"},
			"boosted": {ID: "boosted", DomainID: "d", Title: "boosted", Content: "c"},
		},
		keywords: map[string]map[string]bool{
			"d": {"boosted": true},
		},
	}
	ex := NewExecutor(fs, executorConfig(), time.Second, 0.7)

	results, _, _, err := ex.Execute(context.Background(), "q", []float32{1}, decisionOver("d"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].KnowledgeID != "boosted" {
		t.Errorf("top result = %s, want the keyword-boosted item first", results[0].KnowledgeID)
	}
	wantTop := 0.7*(0.7+keywordBoost) + 0.3*0.8
	if diff := results[0].CombinedScore - wantTop; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("CombinedScore = %v, want %v", results[0].CombinedScore, wantTop)
	}
}

func TestExecuteDedupesByTitle(t *testing.T) {
	fs := &fakeStore{
		matches: map[string][]store.SimilarityMatch{
			"d": {
				{KnowledgeID: "v1", Similarity: 0.7},
				{KnowledgeID: "v2", Similarity: 0.9},
			},
		},
		items: map[string]types.KnowledgeItem{
			"v1": {ID: "v1", DomainID: "d", Title: "Same Title", Content: "old"},
			"v2": {ID: "v2", DomainID: "d", Title: "same title ", Content: "new"},
		},
	}
	ex := NewExecutor(fs, executorConfig(), time.Second, 0.7)

	results, _, _, err := ex.Execute(context.Background(), "q", []float32{1}, decisionOver("d"))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1 after dedupe", len(results))
	}
	if results[0].KnowledgeID != "v2" {
		t.Errorf("kept %s, want the higher-scoring duplicate", results[0].KnowledgeID)
	}
}

func TestExecuteEmptySelection(t *testing.T) {
	ex := NewExecutor(&fakeStore{}, executorConfig(), time.Second, 0.7)
	_, _, _, err := ex.Execute(context.Background(), "q", []float32{1}, types.RoutingDecision{})
	var ve *types.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("err = %v, want ValidationError", err)
	}
}
