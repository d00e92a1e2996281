package store

import (
	"database/sql"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"synapse/internal/logging"
	"synapse/internal/types"
)

// =============================================================================
// GRAPH NODES AND EDGES
// =============================================================================
// Nodes upsert by (node_type, source_id) and edges by (source, target, type)
// so graph rebuilds stay idempotent.

// UpsertNode inserts a graph node or returns the existing one with the same
// (nodeType, sourceID) identity. The bool result reports whether a new row
// was created.
func (s *LocalStore) UpsertNode(node types.GraphNode) (types.GraphNode, bool, error) {
	timer := logging.StartTimer(logging.CategoryStore, "UpsertNode")
	defer timer.Stop()

	if !node.NodeType.Valid() {
		return types.GraphNode{}, false, &types.ValidationError{Field: "nodeType", Reason: "unknown node type"}
	}
	if node.Label == "" || node.SourceID == "" {
		return types.GraphNode{}, false, &types.ValidationError{Field: "label/sourceId", Reason: "must be non-empty"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.nodeByIdentityLocked(node.NodeType, node.SourceID)
	if err == nil {
		return existing, false, nil
	}
	var nf *types.NotFoundError
	if !errors.As(err, &nf) {
		return types.GraphNode{}, false, err
	}

	if node.ID == "" {
		node.ID = uuid.NewString()
	}
	node.CreatedAt = time.Now().UTC()

	_, err = s.db.Exec(
		`INSERT INTO graph_nodes (id, node_type, label, embedding, domain_id, source_id, importance_score, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ID, string(node.NodeType), node.Label, embeddingColumn(node.Embedding),
		node.DomainID, node.SourceID, node.ImportanceScore, node.CreatedAt,
	)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to insert graph node %q: %v", node.Label, err)
		return types.GraphNode{}, false, err
	}

	logging.GraphDebug("Created graph node %s (%s/%s)", node.Label, node.NodeType, node.SourceID)
	return node, true, nil
}

func (s *LocalStore) nodeByIdentityLocked(nodeType types.NodeType, sourceID string) (types.GraphNode, error) {
	row := s.db.QueryRow(
		`SELECT id, node_type, label, embedding, domain_id, source_id, importance_score, created_at
		 FROM graph_nodes WHERE node_type = ? AND source_id = ?`,
		string(nodeType), sourceID)
	return scanGraphNode(row, sourceID)
}

// GetNode fetches one node by id.
func (s *LocalStore) GetNode(id string) (types.GraphNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, node_type, label, embedding, domain_id, source_id, importance_score, created_at
		 FROM graph_nodes WHERE id = ?`, id)
	return scanGraphNode(row, id)
}

func scanGraphNode(row *sql.Row, id string) (types.GraphNode, error) {
	var n types.GraphNode
	var nodeType string
	var embRaw, domainID sql.NullString
	err := row.Scan(&n.ID, &nodeType, &n.Label, &embRaw, &domainID, &n.SourceID, &n.ImportanceScore, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return types.GraphNode{}, &types.NotFoundError{Kind: "graph node", ID: id}
	}
	if err != nil {
		return types.GraphNode{}, err
	}
	n.NodeType = types.NodeType(nodeType)
	n.Embedding = unmarshalFloats(embRaw.String)
	n.DomainID = domainID.String
	return n, nil
}

// NodesByDomain returns all nodes belonging to a domain.
func (s *LocalStore) NodesByDomain(domainID string) ([]types.GraphNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT id, node_type, label, embedding, domain_id, source_id, importance_score, created_at
		 FROM graph_nodes WHERE domain_id = ?`, domainID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []types.GraphNode
	for rows.Next() {
		var n types.GraphNode
		var nodeType string
		var embRaw, dID sql.NullString
		if err := rows.Scan(&n.ID, &nodeType, &n.Label, &embRaw, &dID, &n.SourceID, &n.ImportanceScore, &n.CreatedAt); err != nil {
			logging.Get(logging.CategoryStore).Warn("Graph node scan failed: %v", err)
			continue
		}
		n.NodeType = types.NodeType(nodeType)
		n.Embedding = unmarshalFloats(embRaw.String)
		n.DomainID = dID.String
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// UpsertEdge inserts a directed edge or updates the weight and confidence of
// the existing edge with the same (source, target, type) identity. The bool
// result reports whether a new row was created.
func (s *LocalStore) UpsertEdge(edge types.GraphEdge) (types.GraphEdge, bool, error) {
	timer := logging.StartTimer(logging.CategoryStore, "UpsertEdge")
	defer timer.Stop()

	if !edge.EdgeType.Valid() {
		return types.GraphEdge{}, false, &types.ValidationError{Field: "edgeType", Reason: "unknown edge type"}
	}
	if edge.SourceNodeID == "" || edge.TargetNodeID == "" {
		return types.GraphEdge{}, false, &types.ValidationError{Field: "sourceNodeId/targetNodeId", Reason: "must be non-empty"}
	}
	if math.IsNaN(edge.Weight) || math.IsInf(edge.Weight, 0) {
		return types.GraphEdge{}, false, &types.ValidationError{Field: "weight", Reason: "must be finite"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		`SELECT id FROM graph_edges WHERE source_node_id = ? AND target_node_id = ? AND edge_type = ?`,
		edge.SourceNodeID, edge.TargetNodeID, string(edge.EdgeType))
	var existingID string
	err := row.Scan(&existingID)
	if err == nil {
		_, err = s.db.Exec(
			`UPDATE graph_edges SET weight = ?, confidence = ?, is_cross_domain = ? WHERE id = ?`,
			edge.Weight, edge.Confidence, boolToInt(edge.IsCrossDomain), existingID)
		edge.ID = existingID
		return edge, false, err
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return types.GraphEdge{}, false, err
	}

	if edge.ID == "" {
		edge.ID = uuid.NewString()
	}
	edge.CreatedAt = time.Now().UTC()

	_, err = s.db.Exec(
		`INSERT INTO graph_edges (id, source_node_id, target_node_id, edge_type, weight, confidence, is_cross_domain, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		edge.ID, edge.SourceNodeID, edge.TargetNodeID, string(edge.EdgeType),
		edge.Weight, edge.Confidence, boolToInt(edge.IsCrossDomain), edge.CreatedAt,
	)
	if err != nil {
		return types.GraphEdge{}, false, err
	}
	return edge, true, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// EdgesFrom returns all outgoing edges of a node.
func (s *LocalStore) EdgesFrom(nodeID string) ([]types.GraphEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.edgesFromLocked(nodeID)
}

// edgesFromLocked assumes the caller holds at least s.mu.RLock. Traversals
// call this directly; re-acquiring RLock mid-walk can deadlock when a
// writer is pending.
func (s *LocalStore) edgesFromLocked(nodeID string) ([]types.GraphEdge, error) {
	rows, err := s.db.Query(
		`SELECT id, source_node_id, target_node_id, edge_type, weight, confidence, is_cross_domain, created_at
		 FROM graph_edges WHERE source_node_id = ?`, nodeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []types.GraphEdge
	for rows.Next() {
		var e types.GraphEdge
		var edgeType string
		var crossDomain int
		if err := rows.Scan(&e.ID, &e.SourceNodeID, &e.TargetNodeID, &edgeType, &e.Weight, &e.Confidence, &crossDomain, &e.CreatedAt); err != nil {
			logging.Get(logging.CategoryStore).Warn("Graph edge scan failed: %v", err)
			continue
		}
		e.EdgeType = types.EdgeType(edgeType)
		e.IsCrossDomain = crossDomain != 0
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// WalkEdges runs fn under a single read lock, handing it a locked edge
// accessor. Traversal algorithms use this to expand many nodes without
// re-locking per hop.
func (s *LocalStore) WalkEdges(fn func(edgesFrom func(nodeID string) ([]types.GraphEdge, error)) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.edgesFromLocked)
}

// GraphStats summarizes the graph, optionally scoped to one domain.
func (s *LocalStore) GraphStats(domainID string) (types.GraphStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats types.GraphStats
	var err error
	if domainID == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM graph_nodes`).Scan(&stats.NodeCount)
		if err == nil {
			err = s.db.QueryRow(
				`SELECT COUNT(*), COALESCE(SUM(is_cross_domain), 0) FROM graph_edges`,
			).Scan(&stats.EdgeCount, &stats.CrossDomainEdges)
		}
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM graph_nodes WHERE domain_id = ?`, domainID).Scan(&stats.NodeCount)
		if err == nil {
			err = s.db.QueryRow(
				`SELECT COUNT(*), COALESCE(SUM(e.is_cross_domain), 0)
				 FROM graph_edges e
				 JOIN graph_nodes n ON n.id = e.source_node_id
				 WHERE n.domain_id = ?`, domainID,
			).Scan(&stats.EdgeCount, &stats.CrossDomainEdges)
		}
	}
	if err != nil {
		return types.GraphStats{}, err
	}

	if stats.NodeCount > 0 {
		stats.AvgDegree = float64(stats.EdgeCount) / float64(stats.NodeCount)
	}
	return stats, nil
}
