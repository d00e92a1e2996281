// Package distill condenses a domain's knowledge into versioned core logic:
// first principles, mental models, decision rules, and anti-patterns. The
// version chain is append-only; rollback flips the active pointer and never
// discards history.
package distill

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"synapse/internal/generation"
	"synapse/internal/logging"
	"synapse/internal/store"
	"synapse/internal/types"
)

// sampleLimit bounds how many items feed one distillation pass.
const sampleLimit = 50

// Store is the persistence surface distillation consumes.
type Store interface {
	GetDomain(id string) (types.Domain, error)
	ListKnowledgeByDomain(domainID string, limit int) ([]types.KnowledgeItem, error)
	InsertCoreLogicVersion(cl types.CoreLogic) (types.CoreLogic, error)
	ActiveCoreLogic(domainID string) (types.CoreLogic, error)
	CoreLogicVersion(domainID string, version int) (types.CoreLogic, error)
	CoreLogicVersions(domainID string) ([]types.CoreLogic, error)
	ActivateCoreLogicVersion(domainID string, targetVersion int, note string) (types.CoreLogic, error)
}

var _ Store = (*store.LocalStore)(nil)

// Distiller runs distillation and version management for core logic.
type Distiller struct {
	store Store
	gen   generation.Generator

	mu       sync.Mutex
	inFlight map[string]bool // domainID -> distillation running
}

// New wires a distiller over the store and generation backend.
func New(s Store, gen generation.Generator) *Distiller {
	return &Distiller{store: s, gen: gen, inFlight: make(map[string]bool)}
}

// distilled is the JSON shape the generation backend is asked to produce.
type distilled struct {
	FirstPrinciples []string `json:"firstPrinciples"`
	MentalModels    []string `json:"mentalModels"`
	DecisionRules   []string `json:"decisionRules"`
	AntiPatterns    []string `json:"antiPatterns"`
	ChangeSummary   string   `json:"changeSummary"`
}

// Distill condenses the domain's knowledge into a new core logic version.
// Only one distillation per domain may run at a time; a second call while
// one is in flight returns a ConflictError.
func (d *Distiller) Distill(ctx context.Context, domainID string) (types.CoreLogic, error) {
	if _, err := d.store.GetDomain(domainID); err != nil {
		return types.CoreLogic{}, err
	}

	d.mu.Lock()
	if d.inFlight[domainID] {
		d.mu.Unlock()
		return types.CoreLogic{}, &types.ConflictError{DomainID: domainID, Operation: "distillation"}
	}
	d.inFlight[domainID] = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.inFlight, domainID)
		d.mu.Unlock()
	}()

	timer := logging.StartTimer(logging.CategoryDistill, "Distill")
	defer timer.Stop()

	items, err := d.store.ListKnowledgeByDomain(domainID, sampleLimit)
	if err != nil {
		return types.CoreLogic{}, err
	}
	if len(items) == 0 {
		return types.CoreLogic{}, &types.ValidationError{Field: "domainId", Reason: "domain has no knowledge to distill"}
	}

	result, err := d.gen.Generate(ctx, distillPrompt, corpus(items), 2000)
	if err != nil {
		return types.CoreLogic{}, fmt.Errorf("distillation generation failed: %w", err)
	}

	parsed, err := parseDistilled(result.Text)
	if err != nil {
		return types.CoreLogic{}, err
	}

	return d.store.InsertCoreLogicVersion(types.CoreLogic{
		DomainID:        domainID,
		FirstPrinciples: parsed.FirstPrinciples,
		MentalModels:    parsed.MentalModels,
		DecisionRules:   parsed.DecisionRules,
		AntiPatterns:    parsed.AntiPatterns,
		ChangeSummary:   parsed.ChangeSummary,
	})
}

const distillPrompt = `Distill the following knowledge into core logic. Respond with only a JSON object:
{"firstPrinciples": [...], "mentalModels": [...], "decisionRules": [...], "antiPatterns": [...], "changeSummary": "..."}`

func corpus(items []types.KnowledgeItem) string {
	var b strings.Builder
	for _, item := range items {
		fmt.Fprintf(&b, "## %s\n%s\n\n", item.Title, item.Content)
	}
	return b.String()
}

// parseDistilled extracts the JSON object from the model output, stripping
// code fences and leading prose if present.
func parseDistilled(text string) (distilled, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return distilled{}, &types.ValidationError{Field: "distillation", Reason: "response contains no JSON object"}
	}

	var out distilled
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return distilled{}, &types.ValidationError{Field: "distillation", Reason: "response is not valid JSON: " + err.Error()}
	}
	if len(out.FirstPrinciples)+len(out.MentalModels)+len(out.DecisionRules)+len(out.AntiPatterns) == 0 {
		return distilled{}, &types.ValidationError{Field: "distillation", Reason: "response distilled nothing"}
	}
	return out, nil
}

// =============================================================================
// VERSION MANAGEMENT
// =============================================================================

// Active returns the active core logic version for a domain.
func (d *Distiller) Active(domainID string) (types.CoreLogic, error) {
	return d.store.ActiveCoreLogic(domainID)
}

// Versions lists every version for a domain, newest first.
func (d *Distiller) Versions(domainID string) ([]types.CoreLogic, error) {
	return d.store.CoreLogicVersions(domainID)
}

// Rollback makes targetVersion the active version. Rolling back to the
// already-active version changes no state but still records the audit note.
// History always survives; the note and optional reason are stamped on the
// restored version's change summary.
func (d *Distiller) Rollback(domainID string, targetVersion int, reason string) (types.CoreLogic, error) {
	d.mu.Lock()
	if d.inFlight[domainID] {
		d.mu.Unlock()
		return types.CoreLogic{}, &types.ConflictError{DomainID: domainID, Operation: "distillation"}
	}
	d.inFlight[domainID] = true
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.inFlight, domainID)
		d.mu.Unlock()
	}()

	active, err := d.store.ActiveCoreLogic(domainID)
	note := "Restored as active on rollback"
	switch {
	case err == nil && active.Version == targetVersion:
		note = "Rollback to already-active version"
	case err == nil:
		note = fmt.Sprintf("Restored as active, rolling back v%d", active.Version)
	}
	if reason != "" {
		note += ": " + reason
	}
	restored, err := d.store.ActivateCoreLogicVersion(domainID, targetVersion, note)
	if err != nil {
		return types.CoreLogic{}, err
	}
	logging.Distill("Domain %s rolled back to core logic v%d", domainID, targetVersion)
	return restored, nil
}

// Diff reports the structural differences between two versions of a
// domain's core logic. Empty means identical content.
func (d *Distiller) Diff(domainID string, fromVersion, toVersion int) (string, error) {
	from, err := d.store.CoreLogicVersion(domainID, fromVersion)
	if err != nil {
		return "", err
	}
	to, err := d.store.CoreLogicVersion(domainID, toVersion)
	if err != nil {
		return "", err
	}

	// Compare content only; identity and lineage fields always differ.
	ignore := cmpopts.IgnoreFields(types.CoreLogic{},
		"ID", "Version", "ParentVersionID", "IsActive", "ChangeSummary", "CreatedAt")
	return cmp.Diff(from, to, ignore), nil
}
