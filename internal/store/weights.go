package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"synapse/internal/logging"
	"synapse/internal/types"
)

// =============================================================================
// ROUTING WEIGHTS
// =============================================================================
// One row per domain, mutated only through UpdateWeight's compare-and-swap
// loop so concurrent feedback submissions never lose updates.

const defaultRoutingWeight = 0.5

// GetWeight returns the routing weight for a domain, synthesizing the
// default row when no feedback has been recorded yet.
func (s *LocalStore) GetWeight(domainID string) (types.RoutingWeight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, _, err := s.weightWithRevisionLocked(domainID)
	return w, err
}

func (s *LocalStore) weightWithRevisionLocked(domainID string) (types.RoutingWeight, int64, error) {
	row := s.db.QueryRow(
		`SELECT domain_id, weight, success_count, failure_count, revision, last_updated
		 FROM routing_weights WHERE domain_id = ?`, domainID)

	var w types.RoutingWeight
	var revision int64
	err := row.Scan(&w.DomainID, &w.Weight, &w.SuccessCount, &w.FailureCount, &revision, &w.LastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return types.RoutingWeight{
			DomainID:    domainID,
			Weight:      defaultRoutingWeight,
			LastUpdated: time.Time{},
		}, -1, nil
	}
	if err != nil {
		return types.RoutingWeight{}, 0, err
	}
	return w, revision, nil
}

// ListWeights returns all persisted routing weights keyed by domain id.
func (s *LocalStore) ListWeights() (map[string]types.RoutingWeight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT domain_id, weight, success_count, failure_count, last_updated FROM routing_weights`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	weights := make(map[string]types.RoutingWeight)
	for rows.Next() {
		var w types.RoutingWeight
		if err := rows.Scan(&w.DomainID, &w.Weight, &w.SuccessCount, &w.FailureCount, &w.LastUpdated); err != nil {
			continue
		}
		weights[w.DomainID] = w
	}
	return weights, rows.Err()
}

// UpdateWeight applies fn to the current weight row and persists the result
// atomically. The revision column backs a compare-and-swap: when a
// concurrent writer advances it between read and write, the update is
// retried against the fresh row.
func (s *LocalStore) UpdateWeight(domainID string, fn func(types.RoutingWeight) types.RoutingWeight) (types.RoutingWeight, error) {
	timer := logging.StartTimer(logging.CategoryStore, "UpdateWeight")
	defer timer.Stop()

	const maxAttempts = 10

	for attempt := 0; attempt < maxAttempts; attempt++ {
		s.mu.Lock()
		current, revision, err := s.weightWithRevisionLocked(domainID)
		if err != nil {
			s.mu.Unlock()
			return types.RoutingWeight{}, err
		}

		updated := fn(current)
		updated.DomainID = domainID
		updated.LastUpdated = time.Now().UTC()

		var res sql.Result
		if revision < 0 {
			res, err = s.db.Exec(
				`INSERT INTO routing_weights (domain_id, weight, success_count, failure_count, revision, last_updated)
				 VALUES (?, ?, ?, ?, 1, ?)
				 ON CONFLICT(domain_id) DO NOTHING`,
				domainID, updated.Weight, updated.SuccessCount, updated.FailureCount, updated.LastUpdated)
		} else {
			res, err = s.db.Exec(
				`UPDATE routing_weights
				 SET weight = ?, success_count = ?, failure_count = ?, revision = revision + 1, last_updated = ?
				 WHERE domain_id = ? AND revision = ?`,
				updated.Weight, updated.SuccessCount, updated.FailureCount, updated.LastUpdated,
				domainID, revision)
		}
		s.mu.Unlock()

		if err != nil {
			return types.RoutingWeight{}, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			logging.RouterDebug("Weight updated for domain %s: %.4f (s=%d f=%d)",
				domainID, updated.Weight, updated.SuccessCount, updated.FailureCount)
			return updated, nil
		}
		// Lost the race; re-read and retry.
	}

	return types.RoutingWeight{}, fmt.Errorf("weight update for domain %s did not settle after %d attempts", domainID, maxAttempts)
}
