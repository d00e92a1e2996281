//go:build sqlite_vec && cgo

package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"synapse/internal/logging"
)

// The cgo build registers the sqlite-vec extension with the mattn/go-sqlite3
// driver so similarity search runs inside SQLite over a vec0 virtual table.
const driverName = "sqlite3"

func init() {
	vec.Auto()
}

// ensureVecTableLocked creates the vec0 shadow table on first use. Creation
// is deferred until an embedding arrives because vec0 columns need a fixed
// dimension.
func (s *LocalStore) ensureVecTableLocked(dim int) error {
	_, err := s.db.Exec(fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_knowledge USING vec0(
			embedding float[%d],
			item_id TEXT,
			domain_id TEXT
		)`, dim))
	return err
}

// vecMirrorEmbeddingLocked mirrors an item's embedding into the vec0 table.
// Best effort: the JSON column stays authoritative and search falls back to
// the in-Go scan when the mirror cannot answer.
func (s *LocalStore) vecMirrorEmbeddingLocked(itemID, domainID string, v []float32) {
	if len(v) == 0 {
		return
	}
	if err := s.ensureVecTableLocked(len(v)); err != nil {
		logging.Get(logging.CategoryStore).Warn("vec0 table unavailable: %v", err)
		return
	}
	if _, err := s.db.Exec(`DELETE FROM vec_knowledge WHERE item_id = ?`, itemID); err != nil {
		logging.Get(logging.CategoryStore).Warn("vec0 delete failed for item %s: %v", itemID, err)
		return
	}
	if _, err := s.db.Exec(
		`INSERT INTO vec_knowledge (embedding, item_id, domain_id) VALUES (?, ?, ?)`,
		encodeFloat32Blob(v), itemID, domainID); err != nil {
		logging.Get(logging.CategoryStore).Warn("vec0 insert failed for item %s: %v", itemID, err)
	}
}

// vecSearchLocked ranks a domain's items by cosine distance inside SQLite.
func (s *LocalStore) vecSearchLocked(ctx context.Context, domainID string, queryVec []float32, threshold float64, topN int) ([]SimilarityMatch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id, vec_distance_cosine(embedding, ?) AS distance
		FROM vec_knowledge
		WHERE domain_id = ?
		ORDER BY distance ASC
		LIMIT ?`, encodeFloat32Blob(queryVec), domainID, topN)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []SimilarityMatch
	for rows.Next() {
		var id string
		var distance float64
		if err := rows.Scan(&id, &distance); err != nil {
			continue
		}
		if sim := 1 - distance; sim >= threshold {
			matches = append(matches, SimilarityMatch{KnowledgeID: id, Similarity: sim})
		}
	}
	return matches, rows.Err()
}

func encodeFloat32Blob(v []float32) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, v); err != nil {
		return nil
	}
	return buf.Bytes()
}
