//go:build !(sqlite_vec && cgo)

package store

import "context"

// Default build uses the pure-Go driver; similarity scoring runs in Go over
// JSON-serialized embeddings. Build with -tags sqlite_vec for the
// sqlite-vec accelerated path.
const driverName = "sqlite"

func (s *LocalStore) vecMirrorEmbeddingLocked(itemID, domainID string, vec []float32) {}

func (s *LocalStore) vecSearchLocked(ctx context.Context, domainID string, queryVec []float32, threshold float64, topN int) ([]SimilarityMatch, error) {
	return nil, errVecUnavailable
}
