package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"synapse/internal/logging"
	"synapse/internal/types"
)

// =============================================================================
// SESSIONS
// =============================================================================

// CreateSession starts a new conversation session over the given domains.
func (s *LocalStore) CreateSession(name string, domainIDs []string) (types.Session, error) {
	if name == "" {
		return types.Session{}, &types.ValidationError{Field: "name", Reason: "must not be empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range domainIDs {
		if _, err := s.getDomainLocked(id); err != nil {
			return types.Session{}, err
		}
	}

	now := time.Now().UTC()
	sess := types.Session{
		ID:                   uuid.NewString(),
		Name:                 name,
		DomainIDs:            domainIDs,
		AccumulatedKnowledge: make(map[string]int),
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	_, err := s.db.Exec(
		`INSERT INTO sessions
		 (id, name, domain_ids, conversation_history, accumulated_knowledge,
		  total_queries, total_tokens_used, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 0, 0, ?, ?)`,
		sess.ID, sess.Name, marshalJSON(domainIDs), "[]", "{}", now, now,
	)
	if err != nil {
		return types.Session{}, err
	}

	logging.Get(logging.CategorySession).Info("Session %s created (%d domains)", sess.ID, len(domainIDs))
	return sess, nil
}

// GetSession loads a session by ID.
func (s *LocalStore) GetSession(id string) (types.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getSessionLocked(id)
}

func (s *LocalStore) getSessionLocked(id string) (types.Session, error) {
	row := s.db.QueryRow(
		`SELECT id, name, domain_ids, conversation_history, accumulated_knowledge,
		 total_queries, total_tokens_used, rating, created_at, updated_at
		 FROM sessions WHERE id = ?`, id)

	var sess types.Session
	var domains, history, knowledge sql.NullString
	var rating sql.NullInt64
	err := row.Scan(&sess.ID, &sess.Name, &domains, &history, &knowledge,
		&sess.TotalQueries, &sess.TotalTokensUsed, &rating, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.Session{}, &types.NotFoundError{Kind: "session", ID: id}
	}
	if err != nil {
		return types.Session{}, err
	}

	sess.DomainIDs = unmarshalStrings(domains.String)
	sess.ConversationHistory = unmarshalTurns(history.String)
	sess.AccumulatedKnowledge = unmarshalCounts(knowledge.String)
	if rating.Valid {
		r := int(rating.Int64)
		sess.Rating = &r
	}
	return sess, nil
}

// AppendSessionTurn records one completed query against a session: the user
// and assistant turns, the per-domain gathered item counts, and token usage.
func (s *LocalStore) AppendSessionTurn(id string, turns []types.ConversationTurn, gathered map[string]int, tokensUsed int) (types.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.getSessionLocked(id)
	if err != nil {
		return types.Session{}, err
	}

	sess.ConversationHistory = append(sess.ConversationHistory, turns...)
	if sess.AccumulatedKnowledge == nil {
		sess.AccumulatedKnowledge = make(map[string]int)
	}
	for domainID, count := range gathered {
		sess.AccumulatedKnowledge[domainID] += count
	}
	sess.TotalQueries++
	sess.TotalTokensUsed += tokensUsed
	sess.UpdatedAt = time.Now().UTC()

	_, err = s.db.Exec(
		`UPDATE sessions SET conversation_history = ?, accumulated_knowledge = ?,
		 total_queries = ?, total_tokens_used = ?, updated_at = ?
		 WHERE id = ?`,
		marshalJSON(sess.ConversationHistory), marshalJSON(sess.AccumulatedKnowledge),
		sess.TotalQueries, sess.TotalTokensUsed, sess.UpdatedAt, id,
	)
	if err != nil {
		return types.Session{}, err
	}
	return sess, nil
}

// RateSession attaches a final user rating to a session.
func (s *LocalStore) RateSession(id string, rating int) error {
	if rating < 1 || rating > 5 {
		return &types.ValidationError{Field: "rating", Reason: "must be between 1 and 5"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE sessions SET rating = ?, updated_at = ? WHERE id = ?`,
		rating, time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &types.NotFoundError{Kind: "session", ID: id}
	}
	return nil
}

// ListSessions returns sessions newest first, up to limit.
func (s *LocalStore) ListSessions(limit int) ([]types.Session, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id FROM sessions ORDER BY updated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sessions := make([]types.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.getSessionLocked(id)
		if err != nil {
			continue
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func unmarshalTurns(raw string) []types.ConversationTurn {
	if raw == "" {
		return nil
	}
	var out []types.ConversationTurn
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func unmarshalCounts(raw string) map[string]int {
	if raw == "" {
		return nil
	}
	var out map[string]int
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
