package distill

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"synapse/internal/generation"
	"synapse/internal/store"
	"synapse/internal/types"
)

// scriptGen returns canned text, optionally blocking until released.
type scriptGen struct {
	text  string
	err   error
	block chan struct{}
}

func (g *scriptGen) Generate(ctx context.Context, _, _ string, _ int) (generation.Result, error) {
	if g.block != nil {
		select {
		case <-g.block:
		case <-ctx.Done():
			return generation.Result{}, ctx.Err()
		}
	}
	if g.err != nil {
		return generation.Result{}, g.err
	}
	return generation.Result{Text: g.text, TokensUsed: 50}, nil
}

func (g *scriptGen) Name() string { return "script" }

const goodResponse = "```json\n" + `{
	"firstPrinciples": ["measure before optimizing"],
	"mentalModels": ["amortized cost"],
	"decisionRules": ["profile first"],
	"antiPatterns": ["guessing at hotspots"],
	"changeSummary": "initial distillation"
}` + "\n```"

func newDistillFixture(t *testing.T, gen generation.Generator) (*Distiller, *store.LocalStore, types.Domain) {
	t.Helper()
	s, err := store.NewLocalStore(":memory:")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	d, err := s.CreateDomain("performance", "profiling and optimization", "", "")
	if err != nil {
		t.Fatalf("CreateDomain: %v", err)
	}
	_, err = s.AddKnowledgeItem(types.KnowledgeItem{
		DomainID: d.ID,
		Title:    "profiling basics",
		Content:  "always measure before changing code",
	})
	if err != nil {
		t.Fatalf("AddKnowledgeItem: %v", err)
	}
	return New(s, gen), s, d
}

func TestDistillCreatesVersion(t *testing.T) {
	dist, _, d := newDistillFixture(t, &scriptGen{text: goodResponse})

	cl, err := dist.Distill(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("Distill: %v", err)
	}
	if cl.Version != 1 {
		t.Errorf("Version = %d, want 1", cl.Version)
	}
	if !cl.IsActive {
		t.Error("new version not active")
	}
	if len(cl.FirstPrinciples) != 1 || cl.FirstPrinciples[0] != "measure before optimizing" {
		t.Errorf("FirstPrinciples = %v", cl.FirstPrinciples)
	}
	if cl.ChangeSummary != "initial distillation" {
		t.Errorf("ChangeSummary = %q", cl.ChangeSummary)
	}

	// Second pass chains onto the first.
	cl2, err := dist.Distill(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("second Distill: %v", err)
	}
	if cl2.Version != 2 || cl2.ParentVersionID != cl.ID {
		t.Errorf("v2 = version %d parent %q", cl2.Version, cl2.ParentVersionID)
	}

	active, err := dist.Active(d.ID)
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if active.ID != cl2.ID {
		t.Errorf("active = %s, want v2", active.ID)
	}
}

func TestDistillRejectsConcurrentRuns(t *testing.T) {
	block := make(chan struct{})
	dist, _, d := newDistillFixture(t, &scriptGen{text: goodResponse, block: block})

	started := make(chan struct{})
	done := make(chan error, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		close(started)
		_, err := dist.Distill(context.Background(), d.ID)
		done <- err
	}()
	<-started

	// Wait until the first run holds the domain.
	for {
		dist.mu.Lock()
		held := dist.inFlight[d.ID]
		dist.mu.Unlock()
		if held {
			break
		}
		time.Sleep(time.Millisecond)
	}

	_, err := dist.Distill(context.Background(), d.ID)
	var ce *types.ConflictError
	if !errors.As(err, &ce) {
		t.Errorf("concurrent distill err = %v, want ConflictError", err)
	}

	close(block)
	wg.Wait()
	if err := <-done; err != nil {
		t.Fatalf("first distill: %v", err)
	}
}

func TestDistillEmptyDomain(t *testing.T) {
	dist, s, _ := newDistillFixture(t, &scriptGen{text: goodResponse})

	empty, err := s.CreateDomain("empty", "", "", "")
	if err != nil {
		t.Fatalf("CreateDomain: %v", err)
	}
	_, err = dist.Distill(context.Background(), empty.ID)
	var ve *types.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("err = %v, want ValidationError for an empty domain", err)
	}
}

func TestDistillMalformedResponse(t *testing.T) {
	dist, _, d := newDistillFixture(t, &scriptGen{text: "sorry, I cannot help with that"})

	_, err := dist.Distill(context.Background(), d.ID)
	var ve *types.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("err = %v, want ValidationError for non-JSON output", err)
	}

	// A failed pass must not leave a version behind.
	versions, err := dist.Versions(d.ID)
	if err != nil {
		t.Fatalf("Versions: %v", err)
	}
	if len(versions) != 0 {
		t.Errorf("got %d versions after a failed distillation, want 0", len(versions))
	}
}

func TestRollback(t *testing.T) {
	dist, _, d := newDistillFixture(t, &scriptGen{text: goodResponse})

	v1, err := dist.Distill(context.Background(), d.ID)
	if err != nil {
		t.Fatalf("Distill v1: %v", err)
	}
	if _, err := dist.Distill(context.Background(), d.ID); err != nil {
		t.Fatalf("Distill v2: %v", err)
	}

	restored, err := dist.Rollback(d.ID, 1, "v2 overfit to stale docs")
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if restored.ID != v1.ID || !restored.IsActive {
		t.Errorf("restored = %+v, want v1 active", restored)
	}
	if !strings.Contains(restored.ChangeSummary, "v2 overfit to stale docs") {
		t.Errorf("ChangeSummary = %q, want rollback reason recorded", restored.ChangeSummary)
	}

	// Rolling back to the active version changes no state but still leaves
	// an audit note.
	again, err := dist.Rollback(d.ID, 1, "confirming after incident review")
	if err != nil {
		t.Fatalf("same-version Rollback: %v", err)
	}
	if again.Version != 1 || !again.IsActive {
		t.Errorf("same-version rollback = %+v, want v1 still active", again)
	}
	if !strings.Contains(again.ChangeSummary, "confirming after incident review") {
		t.Errorf("ChangeSummary = %q, want audit note for same-version rollback", again.ChangeSummary)
	}

	// Unknown version surfaces as not found.
	if _, err := dist.Rollback(d.ID, 99, ""); err == nil {
		t.Error("rollback to missing version accepted")
	}

	versions, _ := dist.Versions(d.ID)
	if len(versions) != 2 {
		t.Errorf("history = %d versions after rollback, want 2", len(versions))
	}
}

func TestDiff(t *testing.T) {
	const secondResponse = `{
		"firstPrinciples": ["measure before optimizing", "latency hides in tails"],
		"mentalModels": ["amortized cost"],
		"decisionRules": ["profile first"],
		"antiPatterns": ["guessing at hotspots"],
		"changeSummary": "added tail latency principle"
	}`

	gen := &scriptGen{text: goodResponse}
	dist, _, d := newDistillFixture(t, gen)

	if _, err := dist.Distill(context.Background(), d.ID); err != nil {
		t.Fatalf("Distill v1: %v", err)
	}
	gen.text = secondResponse
	if _, err := dist.Distill(context.Background(), d.ID); err != nil {
		t.Fatalf("Distill v2: %v", err)
	}

	diff, err := dist.Diff(d.ID, 1, 2)
	if err != nil {
		t.Fatalf("Diff: %v", err)
	}
	if diff == "" {
		t.Error("diff empty for versions with different principles")
	}

	same, err := dist.Diff(d.ID, 1, 1)
	if err != nil {
		t.Fatalf("Diff same: %v", err)
	}
	if same != "" {
		t.Errorf("diff of a version with itself = %q, want empty", same)
	}
}
