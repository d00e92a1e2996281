package types

import (
	"fmt"
	"time"
)

// =============================================================================
// GRAPH MODEL
// =============================================================================
// Nodes and edges are flat records keyed by id (arena+index). Edges reference
// node ids, never embedded pointers, so the cyclic cross-referencing graph
// carries no ownership cycles.

// NodeType is the closed set of graph node kinds.
type NodeType string

const (
	NodeConcept   NodeType = "concept"
	NodeKnowledge NodeType = "knowledge"
	NodeDomain    NodeType = "domain"
	NodePrinciple NodeType = "principle"
	NodeModel     NodeType = "model"
	NodeRule      NodeType = "rule"
	NodePattern   NodeType = "pattern"
)

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	switch t {
	case NodeConcept, NodeKnowledge, NodeDomain, NodePrinciple, NodeModel, NodeRule, NodePattern:
		return true
	}
	return false
}

// ParseNodeType converts a raw string to a NodeType, rejecting unknown kinds
// before they can enter the store.
func ParseNodeType(s string) (NodeType, error) {
	t := NodeType(s)
	if !t.Valid() {
		return "", &ValidationError{Field: "nodeType", Reason: fmt.Sprintf("unknown node type %q", s)}
	}
	return t, nil
}

// EdgeType is the closed set of graph edge kinds.
type EdgeType string

const (
	EdgeRelatedTo   EdgeType = "related_to"
	EdgeSimilarTo   EdgeType = "similar_to"
	EdgeDependsOn   EdgeType = "depends_on"
	EdgeContradicts EdgeType = "contradicts"
	EdgeSupports    EdgeType = "supports"
	EdgePartOf      EdgeType = "part_of"
	EdgeInstanceOf  EdgeType = "instance_of"
)

// Valid reports whether t is a known edge type.
func (t EdgeType) Valid() bool {
	switch t {
	case EdgeRelatedTo, EdgeSimilarTo, EdgeDependsOn, EdgeContradicts, EdgeSupports, EdgePartOf, EdgeInstanceOf:
		return true
	}
	return false
}

// ParseEdgeType converts a raw string to an EdgeType.
func ParseEdgeType(s string) (EdgeType, error) {
	t := EdgeType(s)
	if !t.Valid() {
		return "", &ValidationError{Field: "edgeType", Reason: fmt.Sprintf("unknown edge type %q", s)}
	}
	return t, nil
}

// GraphNode is one concept or knowledge item in the graph, keyed by
// (NodeType, SourceID) so rebuilding never duplicates nodes.
type GraphNode struct {
	ID              string
	NodeType        NodeType
	Label           string
	Embedding       []float32
	DomainID        string
	SourceID        string
	ImportanceScore float64
	CreatedAt       time.Time
}

// GraphEdge is a directed, typed, weighted relationship between two nodes.
type GraphEdge struct {
	ID            string
	SourceNodeID  string
	TargetNodeID  string
	EdgeType      EdgeType
	Weight        float64
	Confidence    float64
	IsCrossDomain bool
	CreatedAt     time.Time
}

// GraphPath is one simple path between two nodes. TotalWeight is the sum
// of traversed edge weights.
type GraphPath struct {
	PathNodes   []string  `json:"pathNodes"`
	PathEdges   []string  `json:"pathEdges"`
	TotalWeight float64   `json:"totalWeight"`
}

// TraversalResult is one reachable node from a BFS walk. Depth is the
// shortest hop count from the start node.
type TraversalResult struct {
	NodeID        string   `json:"nodeId"`
	Depth         int      `json:"depth"`
	PathFromStart []string `json:"pathFromStart"`
}

// RelatedConcept is a one-hop neighbor ranked by edge weight x confidence.
type RelatedConcept struct {
	Node      GraphNode `json:"node"`
	EdgeType  EdgeType  `json:"edgeType"`
	Relevance float64   `json:"relevance"`
}

// GraphStats summarizes a graph (or one domain's slice of it).
type GraphStats struct {
	NodeCount        int     `json:"nodeCount"`
	EdgeCount        int     `json:"edgeCount"`
	CrossDomainEdges int     `json:"crossDomainEdges"`
	AvgDegree        float64 `json:"avgDegree"`
}
