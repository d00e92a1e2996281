package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"synapse/internal/logging"
	"synapse/internal/types"
)

// =============================================================================
// ROUTING HISTORY
// =============================================================================
// Append-only audit log. Feedback attaches to existing entries; nothing is
// ever deleted.

// AppendHistory records one routing decision and returns its id.
func (s *LocalStore) AppendHistory(entry types.RoutingHistoryEntry) (string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "AppendHistory")
	defer timer.Stop()

	if entry.QueryText == "" {
		return "", &types.ValidationError{Field: "queryText", Reason: "must be non-empty"}
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	entry.CreatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO routing_history
		 (id, query_text, selected_domain_ids, domain_scores, results_count, quality_score, latency_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.QueryText, marshalJSON(entry.SelectedDomainIDs), marshalJSON(entry.DomainScores),
		entry.ResultsCount, entry.QualityScore, entry.LatencyMs, entry.CreatedAt,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to append routing history: %v", err)
		return "", err
	}
	return entry.ID, nil
}

// GetHistoryEntry fetches one routing history entry by id.
func (s *LocalStore) GetHistoryEntry(id string) (types.RoutingHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, query_text, selected_domain_ids, domain_scores, results_count,
		        quality_score, latency_ms, user_rating, was_helpful, created_at
		 FROM routing_history WHERE id = ?`, id)

	entry, err := scanHistoryEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.RoutingHistoryEntry{}, &types.NotFoundError{Kind: "routing entry", ID: id}
	}
	return entry, err
}

func scanHistoryEntry(r rowScanner) (types.RoutingHistoryEntry, error) {
	var e types.RoutingHistoryEntry
	var domainIDs, scores sql.NullString
	var rating, helpful sql.NullInt64
	err := r.Scan(&e.ID, &e.QueryText, &domainIDs, &scores, &e.ResultsCount,
		&e.QualityScore, &e.LatencyMs, &rating, &helpful, &e.CreatedAt)
	if err != nil {
		return e, err
	}
	e.SelectedDomainIDs = unmarshalStrings(domainIDs.String)
	e.DomainScores = unmarshalScoreMap(scores.String)
	if rating.Valid {
		v := int(rating.Int64)
		e.UserRating = &v
	}
	if helpful.Valid {
		v := helpful.Int64 != 0
		e.WasHelpful = &v
	}
	return e, nil
}

// ListHistory returns the most recent routing entries, newest first.
func (s *LocalStore) ListHistory(limit int) ([]types.RoutingHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(
		`SELECT id, query_text, selected_domain_ids, domain_scores, results_count,
		        quality_score, latency_ms, user_rating, was_helpful, created_at
		 FROM routing_history ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []types.RoutingHistoryEntry
	for rows.Next() {
		entry, err := scanHistoryEntry(rows)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("History row scan failed: %v", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// AttachFeedback records user feedback on an existing routing entry. The
// quality score derives from the rating when given, otherwise from the
// helpful flag.
func (s *LocalStore) AttachFeedback(routingID string, wasHelpful bool, rating *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ratingVal interface{}
	quality := 0.0
	if wasHelpful {
		quality = 1.0
	}
	if rating != nil {
		ratingVal = *rating
		quality = float64(*rating) / 5.0
	}

	res, err := s.db.Exec(
		`UPDATE routing_history SET was_helpful = ?, user_rating = ?, quality_score = ? WHERE id = ?`,
		boolToInt(wasHelpful), ratingVal, quality, routingID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &types.NotFoundError{Kind: "routing entry", ID: routingID}
	}
	return nil
}

// RecordHistoryOutcome backfills the execution outcome onto a routing entry
// once the fan-out has settled.
func (s *LocalStore) RecordHistoryOutcome(routingID string, resultsCount int, latencyMs int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE routing_history SET results_count = ?, latency_ms = ? WHERE id = ?`,
		resultsCount, latencyMs, routingID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &types.NotFoundError{Kind: "routing entry", ID: routingID}
	}
	return nil
}
