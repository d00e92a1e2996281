package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"synapse/internal/types"
)

func newTestStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(":memory:")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func mustDomain(t *testing.T, s *LocalStore, name string) types.Domain {
	t.Helper()
	d, err := s.CreateDomain(name, name+" knowledge", "", "")
	if err != nil {
		t.Fatalf("CreateDomain(%s): %v", name, err)
	}
	return d
}

func mustItem(t *testing.T, s *LocalStore, domainID, title string, vec []float32) types.KnowledgeItem {
	t.Helper()
	item, err := s.AddKnowledgeItem(types.KnowledgeItem{
		DomainID:  domainID,
		Title:     title,
		Content:   title + " content",
		Embedding: vec,
	})
	if err != nil {
		t.Fatalf("AddKnowledgeItem(%s): %v", title, err)
	}
	return item
}

func TestDomainLifecycle(t *testing.T) {
	s := newTestStore(t)

	d := mustDomain(t, s, "distributed-systems")
	got, err := s.GetDomain(d.ID)
	if err != nil {
		t.Fatalf("GetDomain: %v", err)
	}
	if got.Name != "distributed-systems" {
		t.Errorf("Name = %q, want distributed-systems", got.Name)
	}

	if err := s.UpdateDomain(d.ID, "dist-sys", "renamed", "#336699", ""); err != nil {
		t.Fatalf("UpdateDomain: %v", err)
	}
	got, _ = s.GetDomain(d.ID)
	if got.Name != "dist-sys" || got.Color != "#336699" {
		t.Errorf("update not applied: %+v", got)
	}

	_, err = s.GetDomain("no-such-id")
	var nf *types.NotFoundError
	if !errors.As(err, &nf) {
		t.Errorf("GetDomain(missing) = %v, want NotFoundError", err)
	}
}

func TestCreateDomainValidation(t *testing.T) {
	s := newTestStore(t)
	_, err := s.CreateDomain("", "desc", "", "")
	var ve *types.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("empty name = %v, want ValidationError", err)
	}
}

func TestSearchSimilarOrdersAndFilters(t *testing.T) {
	s := newTestStore(t)
	d := mustDomain(t, s, "ml")

	mustItem(t, s, d.ID, "close", []float32{1, 0, 0})
	mustItem(t, s, d.ID, "closer", []float32{0.95, 0.05, 0})
	mustItem(t, s, d.ID, "far", []float32{0, 1, 0})
	mustItem(t, s, d.ID, "unembedded", nil)

	matches, err := s.SearchSimilar(context.Background(), d.ID, []float32{1, 0, 0}, 0.5, 10)
	if err != nil {
		t.Fatalf("SearchSimilar: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2 (threshold filters orthogonal and unembedded)", len(matches))
	}
	if matches[0].Similarity < matches[1].Similarity {
		t.Errorf("matches not ordered by similarity desc: %v", matches)
	}
}

func TestWeightDefaultsAndUpdate(t *testing.T) {
	s := newTestStore(t)
	d := mustDomain(t, s, "databases")

	w, err := s.GetWeight(d.ID)
	if err != nil {
		t.Fatalf("GetWeight: %v", err)
	}
	if w.Weight != 0.5 || w.SuccessCount != 0 {
		t.Errorf("default weight = %+v, want 0.5 with zero counts", w)
	}

	updated, err := s.UpdateWeight(d.ID, func(w types.RoutingWeight) types.RoutingWeight {
		w.SuccessCount++
		w.Weight = 0.6
		return w
	})
	if err != nil {
		t.Fatalf("UpdateWeight: %v", err)
	}
	if updated.SuccessCount != 1 || updated.Weight != 0.6 {
		t.Errorf("updated = %+v", updated)
	}
}

func TestUpdateWeightConcurrent(t *testing.T) {
	s := newTestStore(t)
	d := mustDomain(t, s, "go")

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateWeight(d.ID, func(w types.RoutingWeight) types.RoutingWeight {
				w.SuccessCount++
				return w
			})
			if err != nil {
				t.Errorf("UpdateWeight: %v", err)
			}
		}()
	}
	wg.Wait()

	w, _ := s.GetWeight(d.ID)
	if w.SuccessCount != writers {
		t.Errorf("SuccessCount = %d, want %d (lost update)", w.SuccessCount, writers)
	}
}

func TestCoreLogicVersionChain(t *testing.T) {
	s := newTestStore(t)
	d := mustDomain(t, s, "architecture")

	v1, err := s.InsertCoreLogicVersion(types.CoreLogic{
		DomainID:        d.ID,
		FirstPrinciples: []string{"prefer boring tech"},
		ChangeSummary:   "initial distillation",
	})
	if err != nil {
		t.Fatalf("InsertCoreLogicVersion: %v", err)
	}
	if v1.Version != 1 || v1.ParentVersionID != "" {
		t.Errorf("v1 = version %d parent %q, want 1 with no parent", v1.Version, v1.ParentVersionID)
	}

	v2, err := s.InsertCoreLogicVersion(types.CoreLogic{
		DomainID:      d.ID,
		MentalModels:  []string{"cost of coordination"},
		ChangeSummary: "second pass",
	})
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if v2.Version != 2 || v2.ParentVersionID != v1.ID {
		t.Errorf("v2 = version %d parent %q, want 2 with parent %s", v2.Version, v2.ParentVersionID, v1.ID)
	}

	active, err := s.ActiveCoreLogic(d.ID)
	if err != nil {
		t.Fatalf("ActiveCoreLogic: %v", err)
	}
	if active.ID != v2.ID {
		t.Errorf("active = %s, want v2 %s", active.ID, v2.ID)
	}

	// Rollback flips the flag without touching history.
	restored, err := s.ActivateCoreLogicVersion(d.ID, 1, "Restored as active, rolling back v2")
	if err != nil {
		t.Fatalf("ActivateCoreLogicVersion: %v", err)
	}
	if restored.ID != v1.ID || !restored.IsActive {
		t.Errorf("restored = %+v", restored)
	}

	versions, err := s.CoreLogicVersions(d.ID)
	if err != nil {
		t.Fatalf("CoreLogicVersions: %v", err)
	}
	if len(versions) != 2 {
		t.Errorf("got %d versions after rollback, want 2 (rollback must not delete)", len(versions))
	}
}

func TestSessionTurns(t *testing.T) {
	s := newTestStore(t)
	d := mustDomain(t, s, "security")

	sess, err := s.CreateSession("threat review", []string{d.ID})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	turns := []types.ConversationTurn{
		{Role: "user", Content: "what is a replay attack?"},
		{Role: "assistant", Content: "resending captured messages"},
	}
	updated, err := s.AppendSessionTurn(sess.ID, turns, map[string]int{d.ID: 3}, 420)
	if err != nil {
		t.Fatalf("AppendSessionTurn: %v", err)
	}
	if updated.TotalQueries != 1 || updated.TotalTokensUsed != 420 {
		t.Errorf("counters = %d queries %d tokens", updated.TotalQueries, updated.TotalTokensUsed)
	}
	if updated.AccumulatedKnowledge[d.ID] != 3 {
		t.Errorf("accumulated = %v", updated.AccumulatedKnowledge)
	}

	reloaded, err := s.GetSession(sess.ID)
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if len(reloaded.ConversationHistory) != 2 {
		t.Errorf("history length = %d, want 2", len(reloaded.ConversationHistory))
	}

	if err := s.RateSession(sess.ID, 4); err != nil {
		t.Fatalf("RateSession: %v", err)
	}
	if err := s.RateSession(sess.ID, 9); err == nil {
		t.Error("rating 9 accepted, want ValidationError")
	}
}

func TestGraphUpsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	d := mustDomain(t, s, "networking")
	item := mustItem(t, s, d.ID, "tcp handshake", []float32{1, 0})

	n1, created, err := s.UpsertNode(types.GraphNode{
		NodeType: types.NodeKnowledge,
		Label:    item.Title,
		DomainID: d.ID,
		SourceID: item.ID,
	})
	if err != nil || !created {
		t.Fatalf("first upsert: created=%v err=%v", created, err)
	}
	n2, created, err := s.UpsertNode(types.GraphNode{
		NodeType: types.NodeKnowledge,
		Label:    item.Title,
		DomainID: d.ID,
		SourceID: item.ID,
	})
	if err != nil || created {
		t.Fatalf("second upsert: created=%v err=%v", created, err)
	}
	if n1.ID != n2.ID {
		t.Errorf("upsert produced duplicate nodes %s / %s", n1.ID, n2.ID)
	}

	other, _, err := s.UpsertNode(types.GraphNode{
		NodeType: types.NodeConcept,
		Label:    "handshake",
		DomainID: d.ID,
		SourceID: "concept:handshake",
	})
	if err != nil {
		t.Fatalf("concept upsert: %v", err)
	}

	_, created, err = s.UpsertEdge(types.GraphEdge{
		SourceNodeID: n1.ID,
		TargetNodeID: other.ID,
		EdgeType:     types.EdgeRelatedTo,
		Weight:       0.8,
		Confidence:   0.9,
	})
	if err != nil || !created {
		t.Fatalf("edge upsert: created=%v err=%v", created, err)
	}
	_, created, err = s.UpsertEdge(types.GraphEdge{
		SourceNodeID: n1.ID,
		TargetNodeID: other.ID,
		EdgeType:     types.EdgeRelatedTo,
		Weight:       0.7,
		Confidence:   0.9,
	})
	if err != nil || created {
		t.Fatalf("duplicate edge: created=%v err=%v", created, err)
	}

	stats, err := s.GraphStats(d.ID)
	if err != nil {
		t.Fatalf("GraphStats: %v", err)
	}
	if stats.NodeCount != 2 || stats.EdgeCount != 1 {
		t.Errorf("stats = %+v, want 2 nodes 1 edge", stats)
	}
}

func TestHistoryFeedback(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AppendHistory(types.RoutingHistoryEntry{
		QueryText:         "how do raft leaders get elected",
		SelectedDomainIDs: []string{"d1", "d2"},
		DomainScores:      map[string]float64{"d1": 0.8, "d2": 0.6},
		ResultsCount:      7,
	})
	if err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}

	rating := 5
	if err := s.AttachFeedback(id, true, &rating); err != nil {
		t.Fatalf("AttachFeedback: %v", err)
	}

	entry, err := s.GetHistoryEntry(id)
	if err != nil {
		t.Fatalf("GetHistoryEntry: %v", err)
	}
	if entry.WasHelpful == nil || !*entry.WasHelpful {
		t.Errorf("WasHelpful = %v, want true", entry.WasHelpful)
	}
	if entry.UserRating == nil || *entry.UserRating != 5 {
		t.Errorf("UserRating = %v, want 5", entry.UserRating)
	}
	if entry.DomainScores["d1"] != 0.8 {
		t.Errorf("DomainScores = %v", entry.DomainScores)
	}
}

func TestAttachFeedbackDerivesQualityScore(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AppendHistory(types.RoutingHistoryEntry{QueryText: "explain write-ahead logging"})
	if err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}

	if err := s.AttachFeedback(id, true, nil); err != nil {
		t.Fatalf("AttachFeedback helpful: %v", err)
	}
	entry, _ := s.GetHistoryEntry(id)
	if entry.QualityScore != 1.0 {
		t.Errorf("QualityScore = %v after helpful, want 1.0", entry.QualityScore)
	}

	// An explicit rating overrides the helpful flag.
	rating := 4
	if err := s.AttachFeedback(id, false, &rating); err != nil {
		t.Fatalf("AttachFeedback rated: %v", err)
	}
	entry, _ = s.GetHistoryEntry(id)
	if entry.QualityScore != 0.8 {
		t.Errorf("QualityScore = %v after rating 4, want 0.8", entry.QualityScore)
	}

	if err := s.AttachFeedback(id, false, nil); err != nil {
		t.Fatalf("AttachFeedback unhelpful: %v", err)
	}
	entry, _ = s.GetHistoryEntry(id)
	if entry.QualityScore != 0 {
		t.Errorf("QualityScore = %v after unhelpful, want 0", entry.QualityScore)
	}
}

func TestRecordHistoryOutcome(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AppendHistory(types.RoutingHistoryEntry{QueryText: "compare lsm trees and btrees"})
	if err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}

	if err := s.RecordHistoryOutcome(id, 4, 128); err != nil {
		t.Fatalf("RecordHistoryOutcome: %v", err)
	}
	entry, err := s.GetHistoryEntry(id)
	if err != nil {
		t.Fatalf("GetHistoryEntry: %v", err)
	}
	if entry.ResultsCount != 4 {
		t.Errorf("ResultsCount = %d, want 4", entry.ResultsCount)
	}
	if entry.LatencyMs != 128 {
		t.Errorf("LatencyMs = %d, want 128", entry.LatencyMs)
	}

	var nf *types.NotFoundError
	if err := s.RecordHistoryOutcome("missing", 1, 1); !errors.As(err, &nf) {
		t.Errorf("unknown routing id err = %v, want NotFoundError", err)
	}
}
