// Package orchestrator runs a query end to end: fan-out across the selected
// domains, graph-assisted analysis, and synthesis of the final response
// through a staged state machine.
package orchestrator

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"synapse/internal/config"
	"synapse/internal/logging"
	"synapse/internal/store"
	"synapse/internal/types"
)

// keywordBoost is added to the similarity of results whose title or content
// also matches the query terms lexically.
const keywordBoost = 0.1

// ExecutorStore is the store surface the fan-out reads.
type ExecutorStore interface {
	SearchSimilar(ctx context.Context, domainID string, queryVec []float32, threshold float64, topN int) ([]store.SimilarityMatch, error)
	KeywordMatches(domainID, query string, limit int) (map[string]bool, error)
	GetKnowledgeItem(id string) (types.KnowledgeItem, error)
}

var _ ExecutorStore = (*store.LocalStore)(nil)

// Executor fans a query out across selected domains concurrently, tolerating
// partial failure.
type Executor struct {
	store ExecutorStore
	cfg   config.ExecutorConfig

	perDomainTimeout time.Duration
	blend            float64 // similarity vs domain relevance in the combined score
}

// NewExecutor wires a fan-out executor. blend is the similarity coefficient
// of the combined score; the domain relevance share is its complement.
func NewExecutor(s ExecutorStore, cfg config.ExecutorConfig, perDomainTimeout time.Duration, blend float64) *Executor {
	if perDomainTimeout <= 0 {
		perDomainTimeout = 10 * time.Second
	}
	return &Executor{store: s, cfg: cfg, perDomainTimeout: perDomainTimeout, blend: blend}
}

// domainOutcome is one domain's settled result, success or failure.
type domainOutcome struct {
	domainID string
	results  []types.QueryResult
	err      error
}

// Execute queries every selected domain in parallel, bounded by the
// configured parallelism, with a per-domain timeout and bounded retries.
// All domains settle before results merge. Failed domains become warnings
// in the returned state; only when every domain fails does Execute return
// an ExhaustedError.
func (e *Executor) Execute(ctx context.Context, query string, queryVec []float32, decision types.RoutingDecision) ([]types.QueryResult, map[string]string, []string, error) {
	timer := logging.StartTimer(logging.CategoryOrchestrator, "Execute")
	defer timer.Stop()

	if len(decision.SelectedDomains) == 0 {
		return nil, nil, nil, &types.ValidationError{Field: "selectedDomains", Reason: "must not be empty"}
	}

	sem := semaphore.NewWeighted(int64(e.cfg.Parallelism))
	outcomes := make([]domainOutcome, len(decision.SelectedDomains))

	g, gctx := errgroup.WithContext(ctx)
	for i, sel := range decision.SelectedDomains {
		i, sel := i, sel
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				outcomes[i] = domainOutcome{domainID: sel.DomainID, err: err}
				return nil
			}
			defer sem.Release(1)

			results, err := e.queryDomain(gctx, query, queryVec, sel)
			outcomes[i] = domainOutcome{domainID: sel.DomainID, results: results, err: err}
			// Worker errors are recorded, never returned: one slow or broken
			// domain must not cancel its siblings.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}

	status := make(map[string]string, len(outcomes))
	var warnings []string
	var failures []types.DomainFailure
	var merged []types.QueryResult

	for _, o := range outcomes {
		if o.err != nil {
			status[o.domainID] = o.err.Error()
			warnings = append(warnings, types.DomainFailure{DomainID: o.domainID, Reason: o.err.Error()}.String())
			failures = append(failures, types.DomainFailure{DomainID: o.domainID, Reason: o.err.Error()})
			continue
		}
		status[o.domainID] = "ok"
		merged = append(merged, o.results...)
	}

	if len(failures) == len(outcomes) {
		return nil, status, warnings, &types.ExhaustedError{Query: query, Failures: failures}
	}

	merged = dedupe(merged)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CombinedScore > merged[j].CombinedScore
	})
	if e.cfg.ResultLimit > 0 && len(merged) > e.cfg.ResultLimit {
		merged = merged[:e.cfg.ResultLimit]
	}
	return merged, status, warnings, nil
}

// queryDomain runs one domain's search under its own timeout, retrying
// transient failures with doubling backoff.
func (e *Executor) queryDomain(ctx context.Context, query string, queryVec []float32, sel types.DomainRelevance) ([]types.QueryResult, error) {
	var lastErr error
	delay := 250 * time.Millisecond

	attempts := e.cfg.MaxRetries
	if attempts <= 0 {
		attempts = 1
	}
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			delay *= 2
			logging.OrchestratorDebug("Retrying domain %s (attempt %d/%d)", sel.DomainID, attempt+1, attempts)
		}

		results, err := e.queryDomainOnce(ctx, query, queryVec, sel)
		if err == nil {
			return results, nil
		}
		lastErr = err
		if !types.IsRetryable(err) || errors.Is(err, context.Canceled) {
			return nil, err
		}
	}
	return nil, lastErr
}

func (e *Executor) queryDomainOnce(ctx context.Context, query string, queryVec []float32, sel types.DomainRelevance) ([]types.QueryResult, error) {
	dctx, cancel := context.WithTimeout(ctx, e.perDomainTimeout)
	defer cancel()

	matches, err := e.store.SearchSimilar(dctx, sel.DomainID, queryVec, e.cfg.SimilarityFloor, e.cfg.TopN)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &types.UpstreamTimeoutError{Operation: "search", Deadline: e.perDomainTimeout, Err: err}
		}
		return nil, err
	}

	boosted, err := e.store.KeywordMatches(sel.DomainID, query, e.cfg.TopN)
	if err != nil {
		// Boost is an enhancement: similarity results stand on their own.
		logging.Get(logging.CategoryOrchestrator).Warn("Keyword match failed for domain %s: %v", sel.DomainID, err)
		boosted = nil
	}

	results := make([]types.QueryResult, 0, len(matches))
	for _, m := range matches {
		item, err := e.store.GetKnowledgeItem(m.KnowledgeID)
		if err != nil {
			continue
		}
		sim := m.Similarity
		if boosted[m.KnowledgeID] {
			sim += keywordBoost
			if sim > 1 {
				sim = 1
			}
		}
		results = append(results, types.QueryResult{
			KnowledgeID:   item.ID,
			DomainID:      sel.DomainID,
			Title:         item.Title,
			Content:       item.Content,
			Similarity:    sim,
			CombinedScore: e.blend*sim + (1-e.blend)*sel.Score,
		})
	}
	logging.OrchestratorDebug("Domain %s returned %d results", sel.DomainID, len(results))
	return results, nil
}

// dedupe collapses results sharing a domain and normalized title, keeping
// the higher combined score.
func dedupe(results []types.QueryResult) []types.QueryResult {
	best := make(map[string]types.QueryResult, len(results))
	order := make([]string, 0, len(results))
	for _, r := range results {
		key := r.DomainID + "\x00" + strings.ToLower(strings.TrimSpace(r.Title))
		if existing, ok := best[key]; !ok {
			best[key] = r
			order = append(order, key)
		} else if r.CombinedScore > existing.CombinedScore {
			best[key] = r
		}
	}
	out := make([]types.QueryResult, 0, len(best))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}
