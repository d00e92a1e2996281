package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"synapse/internal/config"
	"synapse/internal/embedding"
	"synapse/internal/generation"
	"synapse/internal/graph"
	"synapse/internal/logging"
	"synapse/internal/router"
	"synapse/internal/store"
	"synapse/internal/types"
)

// charsPerToken approximates token cost for budget accounting. Exact
// tokenization belongs to the backend; the budget only needs to bound the
// prompt, not meter it.
const charsPerToken = 4

// SessionStore is the store surface for session bookkeeping, routing audit
// backfill, and core logic lookup.
type SessionStore interface {
	GetSession(id string) (types.Session, error)
	AppendSessionTurn(id string, turns []types.ConversationTurn, gathered map[string]int, tokensUsed int) (types.Session, error)
	NodesByDomain(domainID string) ([]types.GraphNode, error)
	ActiveCoreLogic(domainID string) (types.CoreLogic, error)
	RecordHistoryOutcome(routingID string, resultsCount int, latencyMs int64) error
}

var _ SessionStore = (*store.LocalStore)(nil)

// Orchestrator drives one query through route, gather, analyze, synthesize,
// respond.
type Orchestrator struct {
	store    SessionStore
	scorer   *router.Scorer
	executor *Executor
	graph    *graph.Graph
	engine   embedding.Engine
	gen      generation.Generator
	cfg      config.SynthesisConfig

	mu       sync.Mutex
	inFlight map[string]bool // sessionID -> an orchestration is running
}

// New wires the orchestrator over its collaborators.
func New(s SessionStore, sc *router.Scorer, ex *Executor, g *graph.Graph, engine embedding.Engine, gen generation.Generator, cfg config.SynthesisConfig) *Orchestrator {
	return &Orchestrator{
		store:    s,
		scorer:   sc,
		executor: ex,
		graph:    g,
		engine:   engine,
		gen:      gen,
		cfg:      cfg,
		inFlight: make(map[string]bool),
	}
}

// ProcessQuery runs the full pipeline for one query. sessionID may be empty
// for one-shot queries; when set, the turn is recorded against the session,
// only one orchestration per session may run at a time, and the session's
// domain list scopes routing. A non-empty domainIDs restricts routing to
// those domains and takes precedence over the session's list.
func (o *Orchestrator) ProcessQuery(ctx context.Context, sessionID, query string, domainIDs []string) (types.SynthesizedResponse, error) {
	if strings.TrimSpace(query) == "" {
		return types.SynthesizedResponse{}, &types.ValidationError{Field: "query", Reason: "must not be empty"}
	}

	if sessionID != "" {
		session, err := o.store.GetSession(sessionID)
		if err != nil {
			return types.SynthesizedResponse{}, err
		}
		if len(domainIDs) == 0 {
			domainIDs = session.DomainIDs
		}
		if !o.acquireSession(sessionID) {
			return types.SynthesizedResponse{}, &types.ConflictError{DomainID: sessionID, Operation: "orchestration"}
		}
		defer o.releaseSession(sessionID)
	}
	start := time.Now()

	timer := logging.StartTimer(logging.CategoryOrchestrator, "ProcessQuery")
	defer timer.Stop()

	state := &types.OrchestrationState{
		ID:              uuid.NewString(),
		SessionID:       sessionID,
		CurrentStep:     types.StepInitialized,
		AnalysisResults: make(map[string][]string),
	}
	logging.Orchestrator("Orchestration %s started (session %q)", state.ID, sessionID)

	// ---- gathering -------------------------------------------------------
	if err := state.Advance(types.StepGathering); err != nil {
		return types.SynthesizedResponse{}, err
	}

	decision, err := o.scorer.Route(ctx, query, domainIDs)
	if err != nil {
		return types.SynthesizedResponse{}, err
	}
	if decision.NoMatch {
		// A definitive no-answer beats a fabricated one.
		return types.SynthesizedResponse{
			Response:   "No registered domain covers this query.",
			Confidence: 0,
			IsDegraded: true,
			RoutingID:  decision.RoutingID,
		}, nil
	}

	queryVec, err := o.engine.Embed(ctx, query)
	if err != nil {
		return types.SynthesizedResponse{}, fmt.Errorf("query embedding failed: %w", err)
	}

	results, status, warnings, err := o.executor.Execute(ctx, query, queryVec, decision)
	if err != nil {
		return types.SynthesizedResponse{}, err
	}
	state.GatheredContext = results
	state.DomainStatus = status
	state.Warnings = warnings
	state.CoreLogic = o.gatherCoreLogic(status)

	if err := o.store.RecordHistoryOutcome(decision.RoutingID, len(results), time.Since(start).Milliseconds()); err != nil {
		logging.Get(logging.CategoryRouter).Warn("Failed to backfill routing outcome %s: %v", decision.RoutingID, err)
	}

	// ---- analyzing -------------------------------------------------------
	if err := state.Advance(types.StepAnalyzing); err != nil {
		return types.SynthesizedResponse{}, err
	}
	o.analyze(state)

	// ---- synthesizing ----------------------------------------------------
	if err := state.Advance(types.StepSynthesizing); err != nil {
		return types.SynthesizedResponse{}, err
	}

	contextText := o.assembleContext(state)
	genResult, err := o.gen.Generate(ctx, query, contextText, o.cfg.MaxTokens)
	if err != nil {
		return types.SynthesizedResponse{}, err
	}
	state.SynthesisData = genResult.Text

	// ---- responding ------------------------------------------------------
	if err := state.Advance(types.StepResponding); err != nil {
		return types.SynthesizedResponse{}, err
	}

	resp := types.SynthesizedResponse{
		Response:   genResult.Text,
		Results:    state.GatheredContext,
		TokensUsed: genResult.TokensUsed,
		RoutingID:  decision.RoutingID,
		Warnings:   state.Warnings,
	}
	resp.Confidence, resp.IsDegraded = o.assess(decision, state)

	if sessionID != "" {
		o.recordTurn(sessionID, query, state, resp)
	}
	logging.Orchestrator("Orchestration %s finished: %d results, confidence %.2f, degraded=%v",
		state.ID, len(resp.Results), resp.Confidence, resp.IsDegraded)
	return resp, nil
}

func (o *Orchestrator) acquireSession(sessionID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inFlight[sessionID] {
		return false
	}
	o.inFlight[sessionID] = true
	return true
}

func (o *Orchestrator) releaseSession(sessionID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inFlight, sessionID)
}

// gatherCoreLogic loads the active distilled logic of every contributing
// domain. Domains that were never distilled simply contribute none.
func (o *Orchestrator) gatherCoreLogic(status map[string]string) map[string]types.CoreLogic {
	logic := make(map[string]types.CoreLogic)
	for domainID, s := range status {
		if s != "ok" {
			continue
		}
		cl, err := o.store.ActiveCoreLogic(domainID)
		if err != nil {
			continue
		}
		logic[domainID] = cl
	}
	return logic
}

// analyze expands the top gathered results through the knowledge graph,
// collecting related concepts per result. Graph misses are fine; analysis
// enriches synthesis, it does not gate it.
func (o *Orchestrator) analyze(state *types.OrchestrationState) {
	nodeByItem := make(map[string]types.GraphNode)
	seen := make(map[string]bool)
	for _, r := range state.GatheredContext {
		if seen[r.DomainID] {
			continue
		}
		seen[r.DomainID] = true
		nodes, err := o.store.NodesByDomain(r.DomainID)
		if err != nil {
			continue
		}
		for _, n := range nodes {
			if n.NodeType == types.NodeKnowledge {
				nodeByItem[n.SourceID] = n
			}
		}
	}

	for _, r := range state.GatheredContext {
		node, ok := nodeByItem[r.KnowledgeID]
		if !ok {
			continue
		}
		related, err := o.graph.RelatedConcepts(node.ID, 5)
		if err != nil || len(related) == 0 {
			continue
		}
		labels := make([]string, 0, len(related))
		for _, rc := range related {
			labels = append(labels, rc.Node.Label)
		}
		state.AnalysisResults[r.Title] = labels
		state.RelatedConcepts = append(state.RelatedConcepts, related...)
	}

	sort.SliceStable(state.RelatedConcepts, func(i, j int) bool {
		return state.RelatedConcepts[i].Relevance > state.RelatedConcepts[j].Relevance
	})
	logging.OrchestratorDebug("Analysis linked %d results to %d related concepts",
		len(state.AnalysisResults), len(state.RelatedConcepts))
}

// assembleContext packs distilled domain logic and gathered results into
// the token budget, best scores first, then appends related-concept hints
// with whatever budget remains.
func (o *Orchestrator) assembleContext(state *types.OrchestrationState) string {
	budget := o.cfg.TokenBudget * charsPerToken
	var b strings.Builder

	logicDomains := make([]string, 0, len(state.CoreLogic))
	for domainID := range state.CoreLogic {
		logicDomains = append(logicDomains, domainID)
	}
	sort.Strings(logicDomains)
	for _, domainID := range logicDomains {
		entry := coreLogicEntry(state.CoreLogic[domainID])
		if b.Len()+len(entry) > budget {
			break
		}
		b.WriteString(entry)
	}

	for _, r := range state.GatheredContext {
		entry := fmt.Sprintf("## %s\n%s\n\n", r.Title, r.Content)
		if b.Len()+len(entry) > budget {
			break
		}
		b.WriteString(entry)
	}

	if len(state.AnalysisResults) > 0 {
		var hints strings.Builder
		hints.WriteString("## Related concepts\n")
		for title, labels := range state.AnalysisResults {
			hints.WriteString(fmt.Sprintf("- %s: %s\n", title, strings.Join(labels, ", ")))
		}
		if b.Len()+hints.Len() <= budget {
			b.WriteString(hints.String())
		}
	}
	return b.String()
}

// coreLogicEntry renders one domain's distilled logic for the synthesis
// prompt.
func coreLogicEntry(cl types.CoreLogic) string {
	var b strings.Builder
	b.WriteString("## Distilled domain logic\n")
	for _, p := range cl.FirstPrinciples {
		b.WriteString("- principle: " + p + "\n")
	}
	for _, m := range cl.MentalModels {
		b.WriteString("- model: " + m + "\n")
	}
	for _, r := range cl.DecisionRules {
		b.WriteString("- rule: " + r + "\n")
	}
	for _, a := range cl.AntiPatterns {
		b.WriteString("- avoid: " + a + "\n")
	}
	b.WriteString("\n")
	return b.String()
}

// assess computes the response confidence and whether the answer is
// degraded. Confidence scales the mean similarity by domain coverage;
// degradation flags partial fan-out or weak similarity.
func (o *Orchestrator) assess(decision types.RoutingDecision, state *types.OrchestrationState) (float64, bool) {
	requested := len(decision.SelectedDomains)
	contributing := 0
	for _, s := range state.DomainStatus {
		if s == "ok" {
			contributing++
		}
	}

	if len(state.GatheredContext) == 0 {
		return 0, true
	}

	var sum float64
	for _, r := range state.GatheredContext {
		sum += r.Similarity
	}
	avgSim := sum / float64(len(state.GatheredContext))

	coverage := 1.0
	if requested > 0 {
		coverage = float64(contributing) / float64(requested)
		if coverage > 1 {
			coverage = 1
		}
	}
	confidence := avgSim * (0.5 + 0.5*coverage)
	degraded := contributing < requested || avgSim < 0.5
	return confidence, degraded
}

// recordTurn appends the completed exchange to the session. Best effort:
// the response is already computed, a bookkeeping failure only logs.
func (o *Orchestrator) recordTurn(sessionID, query string, state *types.OrchestrationState, resp types.SynthesizedResponse) {
	gathered := make(map[string]int)
	for _, r := range state.GatheredContext {
		gathered[r.DomainID]++
	}
	now := time.Now().UTC()
	turns := []types.ConversationTurn{
		{Role: "user", Content: query, Timestamp: now},
		{Role: "assistant", Content: resp.Response, Timestamp: now},
	}
	if _, err := o.store.AppendSessionTurn(sessionID, turns, gathered, resp.TokensUsed); err != nil {
		logging.Get(logging.CategorySession).Error("Failed to record turn on session %s: %v", sessionID, err)
	}
}
