// Package store persists the synapse data model in SQLite: domains,
// knowledge items with embeddings, graph nodes and edges, routing weights
// and history, core logic versions, and sessions.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// LocalStore implements every persistence interface the engine consumes,
// backed by a single SQLite database.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewLocalStore initializes the SQLite database at the given path.
// Pass ":memory:" for an ephemeral store in tests.
func NewLocalStore(path string) (*LocalStore, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &LocalStore{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initialize creates the required tables.
func (s *LocalStore) initialize() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS domains (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			color TEXT,
			icon TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS knowledge_items (
			id TEXT PRIMARY KEY,
			domain_id TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			embedding TEXT,
			content_type TEXT DEFAULT 'document',
			tags TEXT,
			source_ref TEXT,
			metadata TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (domain_id) REFERENCES domains(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_domain ON knowledge_items(domain_id)`,

		`CREATE TABLE IF NOT EXISTS graph_nodes (
			id TEXT PRIMARY KEY,
			node_type TEXT NOT NULL,
			label TEXT NOT NULL,
			embedding TEXT,
			domain_id TEXT,
			source_id TEXT NOT NULL,
			importance_score REAL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(node_type, source_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_domain ON graph_nodes(domain_id)`,

		`CREATE TABLE IF NOT EXISTS graph_edges (
			id TEXT PRIMARY KEY,
			source_node_id TEXT NOT NULL,
			target_node_id TEXT NOT NULL,
			edge_type TEXT NOT NULL,
			weight REAL DEFAULT 1.0,
			confidence REAL DEFAULT 1.0,
			is_cross_domain INTEGER DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(source_node_id, target_node_id, edge_type),
			FOREIGN KEY (source_node_id) REFERENCES graph_nodes(id),
			FOREIGN KEY (target_node_id) REFERENCES graph_nodes(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_source ON graph_edges(source_node_id)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_target ON graph_edges(target_node_id)`,

		`CREATE TABLE IF NOT EXISTS routing_weights (
			domain_id TEXT PRIMARY KEY,
			weight REAL NOT NULL DEFAULT 0.5,
			success_count INTEGER NOT NULL DEFAULT 0,
			failure_count INTEGER NOT NULL DEFAULT 0,
			revision INTEGER NOT NULL DEFAULT 0,
			last_updated DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS routing_history (
			id TEXT PRIMARY KEY,
			query_text TEXT NOT NULL,
			selected_domain_ids TEXT,
			domain_scores TEXT,
			results_count INTEGER DEFAULT 0,
			quality_score REAL DEFAULT 0,
			latency_ms INTEGER DEFAULT 0,
			user_rating INTEGER,
			was_helpful INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS core_logic (
			id TEXT PRIMARY KEY,
			domain_id TEXT NOT NULL,
			version INTEGER NOT NULL,
			first_principles TEXT,
			mental_models TEXT,
			decision_rules TEXT,
			anti_patterns TEXT,
			parent_version_id TEXT,
			is_active INTEGER NOT NULL DEFAULT 0,
			change_summary TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(domain_id, version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_core_logic_domain ON core_logic(domain_id)`,

		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			domain_ids TEXT,
			conversation_history TEXT,
			accumulated_knowledge TEXT,
			total_queries INTEGER DEFAULT 0,
			total_tokens_used INTEGER DEFAULT 0,
			rating INTEGER,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *LocalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

// Path returns the database path.
func (s *LocalStore) Path() string { return s.dbPath }

// =============================================================================
// JSON COLUMN HELPERS
// =============================================================================

func marshalJSON(v interface{}) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func unmarshalStrings(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func unmarshalFloats(raw string) []float32 {
	if raw == "" {
		return nil
	}
	var out []float32
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func unmarshalScoreMap(raw string) map[string]float64 {
	if raw == "" {
		return nil
	}
	var out map[string]float64
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}
