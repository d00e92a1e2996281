package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"synapse/internal/embedding"
	"synapse/internal/logging"
	"synapse/internal/types"
)

// =============================================================================
// KNOWLEDGE ITEMS
// =============================================================================

// AddKnowledgeItem inserts a knowledge item. The embedding may be nil; it is
// populated later by SetEmbedding once the embedding service has run.
func (s *LocalStore) AddKnowledgeItem(item types.KnowledgeItem) (types.KnowledgeItem, error) {
	timer := logging.StartTimer(logging.CategoryStore, "AddKnowledgeItem")
	defer timer.Stop()

	if item.Title == "" || item.Content == "" {
		return types.KnowledgeItem{}, &types.ValidationError{Field: "title/content", Reason: "must be non-empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getDomainLocked(item.DomainID); err != nil {
		return types.KnowledgeItem{}, err
	}

	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	if item.ContentType == "" {
		item.ContentType = "document"
	}

	_, err := s.db.Exec(
		`INSERT INTO knowledge_items
		 (id, domain_id, title, content, embedding, content_type, tags, source_ref, metadata, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.DomainID, item.Title, item.Content,
		embeddingColumn(item.Embedding), item.ContentType,
		marshalJSON(item.Tags), item.SourceRef, marshalJSON(item.Metadata),
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to insert knowledge item %q: %v", item.Title, err)
		return types.KnowledgeItem{}, err
	}

	if len(item.Embedding) > 0 {
		s.vecMirrorEmbeddingLocked(item.ID, item.DomainID, item.Embedding)
	}

	logging.StoreDebug("Stored knowledge item %q in domain %s", item.Title, item.DomainID)
	return item, nil
}

func embeddingColumn(vec []float32) interface{} {
	if len(vec) == 0 {
		return nil
	}
	return marshalJSON(vec)
}

// SetEmbedding attaches an embedding to an existing item.
func (s *LocalStore) SetEmbedding(itemID string, vec []float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE knowledge_items SET embedding = ?, updated_at = ? WHERE id = ?`,
		marshalJSON(vec), time.Now().UTC(), itemID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &types.NotFoundError{Kind: "knowledge item", ID: itemID}
	}

	var domainID string
	if err := s.db.QueryRow(
		`SELECT domain_id FROM knowledge_items WHERE id = ?`, itemID).Scan(&domainID); err == nil {
		s.vecMirrorEmbeddingLocked(itemID, domainID, vec)
	}
	return nil
}

// GetKnowledgeItem fetches one item by id.
func (s *LocalStore) GetKnowledgeItem(id string) (types.KnowledgeItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, domain_id, title, content, embedding, content_type, tags, source_ref, metadata, created_at, updated_at
		 FROM knowledge_items WHERE id = ?`, id)

	item, err := scanKnowledgeItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return types.KnowledgeItem{}, &types.NotFoundError{Kind: "knowledge item", ID: id}
	}
	return item, err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanKnowledgeItem(r rowScanner) (types.KnowledgeItem, error) {
	var item types.KnowledgeItem
	var embRaw, tagsRaw, metaRaw sql.NullString
	err := r.Scan(&item.ID, &item.DomainID, &item.Title, &item.Content,
		&embRaw, &item.ContentType, &tagsRaw, &item.SourceRef, &metaRaw,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return item, err
	}
	item.Embedding = unmarshalFloats(embRaw.String)
	item.Tags = unmarshalStrings(tagsRaw.String)
	if metaRaw.String != "" {
		json.Unmarshal([]byte(metaRaw.String), &item.Metadata)
	}
	return item, nil
}

// ListKnowledgeByDomain returns all items of a domain, newest first.
func (s *LocalStore) ListKnowledgeByDomain(domainID string, limit int) ([]types.KnowledgeItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listKnowledgeLocked(domainID, limit)
}

func (s *LocalStore) listKnowledgeLocked(domainID string, limit int) ([]types.KnowledgeItem, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(
		`SELECT id, domain_id, title, content, embedding, content_type, tags, source_ref, metadata, created_at, updated_at
		 FROM knowledge_items WHERE domain_id = ? ORDER BY created_at DESC LIMIT ?`,
		domainID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []types.KnowledgeItem
	for rows.Next() {
		item, err := scanKnowledgeItem(rows)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("Knowledge row scan failed: %v", err)
			continue
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// =============================================================================
// SIMILARITY SEARCH
// =============================================================================

// SimilarityMatch is one hit of a vector search within a domain.
type SimilarityMatch struct {
	KnowledgeID string
	Similarity  float64
}

// errVecUnavailable marks builds or states where the vec0 index cannot
// serve a search; the caller falls back to the in-Go scan.
var errVecUnavailable = errors.New("vec0 index unavailable")

// SearchSimilar scores a domain's embedded items against the query vector
// and returns matches at or above the threshold, best first, truncated to
// topN. With the sqlite_vec build tag the scoring runs inside SQLite over
// the vec0 mirror; otherwise, and whenever the mirror cannot answer, the
// scan runs in Go over the JSON embeddings. Items without embeddings are
// skipped.
func (s *LocalStore) SearchSimilar(ctx context.Context, domainID string, queryVec []float32, threshold float64, topN int) ([]SimilarityMatch, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SearchSimilar")
	defer timer.Stop()

	if len(queryVec) == 0 {
		return nil, &types.ValidationError{Field: "queryVector", Reason: "must be non-empty"}
	}
	if topN <= 0 {
		topN = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if matches, err := s.vecSearchLocked(ctx, domainID, queryVec, threshold, topN); err == nil {
		return matches, nil
	} else if !errors.Is(err, errVecUnavailable) {
		logging.StoreDebug("Falling back to in-Go similarity scan: %v", err)
	}

	rows, err := s.db.Query(
		`SELECT id, embedding FROM knowledge_items WHERE domain_id = ? AND embedding IS NOT NULL`,
		domainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []SimilarityMatch
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var id, embRaw string
		if err := rows.Scan(&id, &embRaw); err != nil {
			continue
		}
		vec := unmarshalFloats(embRaw)
		if vec == nil {
			continue
		}

		sim, err := embedding.CosineSimilarity(queryVec, vec)
		if err != nil {
			continue
		}
		if sim >= threshold {
			matches = append(matches, SimilarityMatch{KnowledgeID: id, Similarity: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > topN {
		matches = matches[:topN]
	}

	logging.StoreDebug("SearchSimilar domain=%s returned %d matches (threshold=%.2f)", domainID, len(matches), threshold)
	return matches, nil
}

// KeywordMatches returns ids of items in the domain whose title or content
// contains any query term. Used as a retrieval boost on top of vector hits.
func (s *LocalStore) KeywordMatches(domainID, query string, limit int) (map[string]bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	var conditions []string
	var args []interface{}
	args = append(args, domainID)
	for _, term := range terms {
		conditions = append(conditions, "(LOWER(title) LIKE ? OR LOWER(content) LIKE ?)")
		pattern := "%" + term + "%"
		args = append(args, pattern, pattern)
	}
	args = append(args, limit)

	rows, err := s.db.Query(
		`SELECT id FROM knowledge_items WHERE domain_id = ? AND (`+strings.Join(conditions, " OR ")+`) LIMIT ?`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hits := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err == nil {
			hits[id] = true
		}
	}
	return hits, rows.Err()
}

// DomainCentroid returns the centroid of a domain's item embeddings, the
// domain's representative vector for relevance scoring. Returns nil when
// no item has an embedding yet.
func (s *LocalStore) DomainCentroid(domainID string) []float32 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT embedding FROM knowledge_items WHERE domain_id = ? AND embedding IS NOT NULL`,
		domainID)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var vectors [][]float32
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			continue
		}
		if vec := unmarshalFloats(raw); vec != nil {
			vectors = append(vectors, vec)
		}
	}
	return embedding.Centroid(vectors)
}
