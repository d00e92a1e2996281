// Package router decides which knowledge domains a query should reach and
// learns from feedback how useful each domain turned out to be.
package router

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"synapse/internal/config"
	"synapse/internal/embedding"
	"synapse/internal/logging"
	"synapse/internal/store"
	"synapse/internal/types"
)

// =============================================================================
// DOMAIN RELEVANCE SCORER
// =============================================================================

// ScorerStore is the store surface the scorer reads.
type ScorerStore interface {
	ListDomains() ([]types.Domain, error)
	DomainCentroid(domainID string) []float32
	GetWeight(domainID string) (types.RoutingWeight, error)
	AppendHistory(entry types.RoutingHistoryEntry) (string, error)
}

// Scorer ranks every registered domain against a query and selects the
// most relevant subset.
type Scorer struct {
	store  ScorerStore
	engine embedding.Engine
	cfg    config.RoutingConfig
}

// NewScorer wires a scorer over the given store and embedding engine.
func NewScorer(s ScorerStore, engine embedding.Engine, cfg config.RoutingConfig) *Scorer {
	return &Scorer{store: s, engine: engine, cfg: cfg}
}

var _ ScorerStore = (*store.LocalStore)(nil)

// scoreParts are the three weighted signals behind a domain score.
const (
	semanticWeight = 0.6
	keywordWeight  = 0.2
	learnedWeight  = 0.2
)

// Route scores every candidate domain for the query and returns the ranked
// selection. A non-empty domainIDs restricts candidates to those domains;
// nil means every registered domain competes. An empty selection is a valid
// outcome flagged NoMatch, never an error. The decision is recorded in
// routing history before returning.
func (sc *Scorer) Route(ctx context.Context, query string, domainIDs []string) (types.RoutingDecision, error) {
	if strings.TrimSpace(query) == "" {
		return types.RoutingDecision{}, &types.ValidationError{Field: "query", Reason: "must not be empty"}
	}

	timer := logging.StartTimer(logging.CategoryRouter, "Route")
	defer timer.Stop()
	start := time.Now()

	domains, err := sc.store.ListDomains()
	if err != nil {
		return types.RoutingDecision{}, err
	}
	if len(domainIDs) > 0 {
		allowed := make(map[string]bool, len(domainIDs))
		for _, id := range domainIDs {
			allowed[id] = true
		}
		scoped := domains[:0]
		for _, d := range domains {
			if allowed[d.ID] {
				scoped = append(scoped, d)
			}
		}
		domains = scoped
	}
	if len(domains) == 0 {
		decision := types.RoutingDecision{NoMatch: true, DomainScores: map[string]float64{}}
		decision.RoutingID, err = sc.recordDecision(query, decision, time.Since(start))
		return decision, err
	}

	queryVec, err := sc.engine.Embed(ctx, query)
	if err != nil {
		// Semantic signal degrades to zero; keyword and learned signals
		// still rank domains so routing survives an embedding outage.
		logging.Get(logging.CategoryRouter).Warn("Query embedding failed, scoring without semantic signal: %v", err)
		queryVec = nil
	}

	type scored struct {
		domain      types.Domain
		score       float64
		successRate float64
	}
	all := make([]scored, 0, len(domains))
	scores := make(map[string]float64, len(domains))

	queryTerms := tokenize(query)
	for _, d := range domains {
		semantic := sc.semanticScore(queryVec, d.ID)
		keyword := sc.keywordScore(d, queryTerms)

		weight, err := sc.store.GetWeight(d.ID)
		if err != nil {
			return types.RoutingDecision{}, err
		}
		learned := weight.Weight + sc.cfg.ExplorationFloor
		if learned > 1 {
			learned = 1
		}

		score := semanticWeight*semantic + keywordWeight*keyword + learnedWeight*learned
		scores[d.ID] = score
		all = append(all, scored{domain: d, score: score, successRate: weight.SuccessRate()})
		logging.RouterDebug("Domain %s scored %.3f (semantic %.3f keyword %.3f learned %.3f)",
			d.Name, score, semantic, keyword, learned)
	}

	// Rank by score, breaking ties by historical success rate and then by
	// domain age so equal newcomers order deterministically.
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		if all[i].successRate != all[j].successRate {
			return all[i].successRate > all[j].successRate
		}
		return all[i].domain.CreatedAt.Before(all[j].domain.CreatedAt)
	})

	decision := types.RoutingDecision{DomainScores: scores}
	for _, s := range all {
		if s.score < sc.cfg.MinScore {
			break
		}
		if len(decision.SelectedDomains) >= sc.cfg.MaxDomains {
			break
		}
		decision.SelectedDomains = append(decision.SelectedDomains, types.DomainRelevance{
			DomainID: s.domain.ID,
			Score:    s.score,
			Rank:     len(decision.SelectedDomains) + 1,
		})
	}

	if len(decision.SelectedDomains) == 0 {
		decision.NoMatch = true
	} else {
		decision.Confidence = decision.SelectedDomains[0].Score
	}

	decision.RoutingID, err = sc.recordDecision(query, decision, time.Since(start))
	if err != nil {
		return types.RoutingDecision{}, err
	}
	return decision, nil
}

func (sc *Scorer) semanticScore(queryVec []float32, domainID string) float64 {
	if len(queryVec) == 0 {
		return 0
	}
	centroid := sc.store.DomainCentroid(domainID)
	if len(centroid) == 0 {
		return 0
	}
	sim, err := embedding.CosineSimilarity(queryVec, centroid)
	if err != nil {
		return 0
	}
	if sim < 0 {
		return 0
	}
	return sim
}

// keywordScore is the Jaccard overlap between query terms and the domain's
// name and description terms.
func (sc *Scorer) keywordScore(d types.Domain, queryTerms map[string]bool) float64 {
	domainTerms := tokenize(d.Name + " " + d.Description)
	if len(queryTerms) == 0 || len(domainTerms) == 0 {
		return 0
	}
	intersection := 0
	for t := range queryTerms {
		if domainTerms[t] {
			intersection++
		}
	}
	union := len(queryTerms) + len(domainTerms) - intersection
	return float64(intersection) / float64(union)
}

func (sc *Scorer) recordDecision(query string, d types.RoutingDecision, elapsed time.Duration) (string, error) {
	ids := make([]string, len(d.SelectedDomains))
	for i, sel := range d.SelectedDomains {
		ids[i] = sel.DomainID
	}
	return sc.store.AppendHistory(types.RoutingHistoryEntry{
		ID:                uuid.NewString(),
		QueryText:         query,
		SelectedDomainIDs: ids,
		DomainScores:      d.DomainScores,
		LatencyMs:         elapsed.Milliseconds(),
	})
}

// tokenize lowercases and splits text into a term set, skipping one-character
// fragments.
func tokenize(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, t := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	}) {
		if len(t) > 1 {
			terms[t] = true
		}
	}
	return terms
}
