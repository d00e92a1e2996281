// Package types defines the shared data model for the synapse engine:
// domains, knowledge items, graph nodes and edges, routing state, core
// logic versions, and sessions. Persistence lives in internal/store;
// nothing here touches a database.
package types

import "time"

// =============================================================================
// DOMAINS AND KNOWLEDGE
// =============================================================================

// Domain is a named knowledge category grouping knowledge items.
// Identity is immutable; soft fields (name, description, color, icon)
// may be updated after creation.
type Domain struct {
	ID          string
	Name        string
	Description string
	Color       string
	Icon        string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// KnowledgeItem is a titled content chunk owned by exactly one domain.
// The embedding is populated asynchronously by ingestion and may be nil
// until the embedding service has processed the item.
type KnowledgeItem struct {
	ID          string
	DomainID    string
	Title       string
	Content     string
	Embedding   []float32
	ContentType string
	Tags        []string
	SourceRef   string
	Metadata    map[string]interface{}
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// =============================================================================
// ROUTING
// =============================================================================

// RoutingWeight is the learned usefulness of a domain. One row per domain,
// mutated only by the feedback loop. Counts never decrease and the weight
// stays strictly inside (0, 1).
type RoutingWeight struct {
	DomainID     string
	Weight       float64
	SuccessCount int64
	FailureCount int64
	LastUpdated  time.Time
}

// SuccessRate returns the raw success fraction, 0 when no feedback exists.
func (w RoutingWeight) SuccessRate() float64 {
	total := w.SuccessCount + w.FailureCount
	if total == 0 {
		return 0
	}
	return float64(w.SuccessCount) / float64(total)
}

// DomainRelevance is one ranked entry of a routing decision.
type DomainRelevance struct {
	DomainID string  `json:"domainId"`
	Score    float64 `json:"score"`
	Rank     int     `json:"rank"`
}

// RoutingDecision is the ranked set of domains selected for a query.
// Empty is a valid outcome: NoMatch is set instead of returning an error.
type RoutingDecision struct {
	RoutingID       string             `json:"routingId"`
	SelectedDomains []DomainRelevance  `json:"selectedDomains"`
	DomainScores    map[string]float64 `json:"domainScores"`
	Confidence      float64            `json:"confidence"`
	NoMatch         bool               `json:"noMatch"`
}

// RoutingHistoryEntry is one append-only audit record of a routing decision.
type RoutingHistoryEntry struct {
	ID                string
	QueryText         string
	SelectedDomainIDs []string
	DomainScores      map[string]float64
	ResultsCount      int
	QualityScore      float64
	LatencyMs         int64
	UserRating        *int
	WasHelpful        *bool
	CreatedAt         time.Time
}

// =============================================================================
// QUERY RESULTS
// =============================================================================

// QueryResult is one retrieved knowledge item with its scores.
// Similarity is the raw vector similarity; CombinedScore blends it with
// the owning domain's relevance score.
type QueryResult struct {
	KnowledgeID   string  `json:"knowledgeId"`
	DomainID      string  `json:"domainId"`
	Title         string  `json:"title"`
	Content       string  `json:"content"`
	Similarity    float64 `json:"similarity"`
	CombinedScore float64 `json:"combinedScore"`
}

// SynthesizedResponse is the final answer returned to the caller.
// Confidence and IsDegraded are always set so callers can decide whether
// to trust a partial answer.
type SynthesizedResponse struct {
	Response   string        `json:"response"`
	Results    []QueryResult `json:"results"`
	Confidence float64       `json:"confidence"`
	IsDegraded bool          `json:"isDegraded"`
	TokensUsed int           `json:"tokensUsed"`
	RoutingID  string        `json:"routingId"`
	Warnings   []string      `json:"warnings,omitempty"`
}

// =============================================================================
// CORE LOGIC
// =============================================================================

// CoreLogic is a distilled, versioned summary of a domain. Rows form an
// append-only chain per domain; exactly one row per domain is active.
type CoreLogic struct {
	ID              string
	DomainID        string
	Version         int
	FirstPrinciples []string
	MentalModels    []string
	DecisionRules   []string
	AntiPatterns    []string
	ParentVersionID string
	IsActive        bool
	ChangeSummary   string
	CreatedAt       time.Time
}

// =============================================================================
// SESSIONS
// =============================================================================

// ConversationTurn is one entry of a session's conversation history.
type ConversationTurn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is a long-lived conversation spanning multiple queries.
// Mutated by the orchestrator at the end of each turn; a session allows
// only one orchestration in flight at a time.
type Session struct {
	ID                   string
	Name                 string
	DomainIDs            []string
	ConversationHistory  []ConversationTurn
	AccumulatedKnowledge map[string]int // domainID -> gathered item count
	TotalQueries         int
	TotalTokensUsed      int
	Rating               *int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}
