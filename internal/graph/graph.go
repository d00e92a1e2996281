// Package graph builds and queries the knowledge graph: nodes for embedded
// knowledge items, typed weighted edges for their relationships, and the
// path, traversal, and neighborhood queries the orchestrator consumes.
package graph

import (
	"context"
	"fmt"
	"sort"

	"synapse/internal/config"
	"synapse/internal/embedding"
	"synapse/internal/logging"
	"synapse/internal/store"
	"synapse/internal/types"
)

// Store is the persistence surface the graph layer consumes.
type Store interface {
	ListDomains() ([]types.Domain, error)
	ListKnowledgeByDomain(domainID string, limit int) ([]types.KnowledgeItem, error)
	UpsertNode(node types.GraphNode) (types.GraphNode, bool, error)
	UpsertEdge(edge types.GraphEdge) (types.GraphEdge, bool, error)
	GetNode(id string) (types.GraphNode, error)
	NodesByDomain(domainID string) ([]types.GraphNode, error)
	WalkEdges(fn func(edgesFrom func(nodeID string) ([]types.GraphEdge, error)) error) error
	GraphStats(domainID string) (types.GraphStats, error)
}

var _ Store = (*store.LocalStore)(nil)

// Graph wires graph construction and queries over a store.
type Graph struct {
	store Store
	cfg   config.GraphConfig
}

// New returns a graph layer with the given tuning.
func New(s Store, cfg config.GraphConfig) *Graph {
	return &Graph{store: s, cfg: cfg}
}

// BuildResult reports what one build pass touched.
type BuildResult struct {
	NodesCreated int
	NodesSeen    int
	EdgesCreated int
	EdgesUpdated int
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

// Build creates one knowledge node per embedded item in the given domains
// and connects pairs by embedding similarity (similar_to) or shared tags
// (related_to). Edges across domains are flagged cross-domain. Rebuilds are
// idempotent: nodes and edges upsert by identity, nothing is duplicated.
// Empty domainIDs means every registered domain.
func (g *Graph) Build(ctx context.Context, domainIDs []string) (BuildResult, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "Build")
	defer timer.Stop()

	if len(domainIDs) == 0 {
		domains, err := g.store.ListDomains()
		if err != nil {
			return BuildResult{}, err
		}
		for _, d := range domains {
			domainIDs = append(domainIDs, d.ID)
		}
	}

	var result BuildResult

	type nodeItem struct {
		node types.GraphNode
		item types.KnowledgeItem
	}
	var all []nodeItem

	for _, domainID := range domainIDs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		items, err := g.store.ListKnowledgeByDomain(domainID, 0)
		if err != nil {
			return result, err
		}
		for _, item := range items {
			if len(item.Embedding) == 0 {
				continue // unembedded items stay out of the graph
			}
			node, created, err := g.store.UpsertNode(types.GraphNode{
				NodeType:  types.NodeKnowledge,
				Label:     item.Title,
				Embedding: item.Embedding,
				DomainID:  item.DomainID,
				SourceID:  item.ID,
			})
			if err != nil {
				return result, err
			}
			if created {
				result.NodesCreated++
			}
			result.NodesSeen++
			all = append(all, nodeItem{node: node, item: item})
		}
	}

	for i := 0; i < len(all); i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		for j := i + 1; j < len(all); j++ {
			a, b := all[i], all[j]
			cross := a.item.DomainID != b.item.DomainID

			sim, err := embedding.CosineSimilarity(a.node.Embedding, b.node.Embedding)
			if err == nil && sim >= g.cfg.SimilarityThreshold {
				if err := g.connect(a.node, b.node, types.EdgeSimilarTo, sim, cross, &result); err != nil {
					return result, err
				}
				continue
			}

			if overlap := tagOverlap(a.item.Tags, b.item.Tags); overlap > 0 {
				if err := g.connect(a.node, b.node, types.EdgeRelatedTo, overlap, cross, &result); err != nil {
					return result, err
				}
			}
		}
	}

	logging.Get(logging.CategoryGraph).Info("Graph build: %d nodes (%d new), %d edges created, %d updated",
		result.NodesSeen, result.NodesCreated, result.EdgesCreated, result.EdgesUpdated)
	return result, nil
}

// connect upserts the edge in both directions so traversal over outgoing
// edges sees symmetric relationships.
func (g *Graph) connect(a, b types.GraphNode, edgeType types.EdgeType, weight float64, cross bool, result *BuildResult) error {
	for _, pair := range [][2]string{{a.ID, b.ID}, {b.ID, a.ID}} {
		_, created, err := g.store.UpsertEdge(types.GraphEdge{
			SourceNodeID:  pair[0],
			TargetNodeID:  pair[1],
			EdgeType:      edgeType,
			Weight:        weight,
			Confidence:    1.0,
			IsCrossDomain: cross,
		})
		if err != nil {
			return err
		}
		if created {
			result.EdgesCreated++
		} else {
			result.EdgesUpdated++
		}
	}
	return nil
}

// tagOverlap is the Jaccard overlap of two tag sets, 0 when either is empty.
func tagOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	intersection := 0
	for _, t := range b {
		if set[t] {
			intersection++
		}
	}
	if intersection == 0 {
		return 0
	}
	return float64(intersection) / float64(len(a)+len(b)-intersection)
}

// =============================================================================
// QUERIES
// =============================================================================

// FindPaths returns simple paths from startID to endID up to maxDepth hops,
// capped at the configured path limit. Paths never revisit a node, so cycles
// cannot trap the search. Zero paths is a valid answer.
func (g *Graph) FindPaths(startID, endID string, maxDepth int) ([]types.GraphPath, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "FindPaths")
	defer timer.Stop()

	if _, err := g.store.GetNode(startID); err != nil {
		return nil, err
	}
	if _, err := g.store.GetNode(endID); err != nil {
		return nil, err
	}
	if maxDepth <= 0 || maxDepth > g.cfg.MaxDepth {
		maxDepth = g.cfg.MaxDepth
	}

	var paths []types.GraphPath
	err := g.store.WalkEdges(func(edgesFrom func(string) ([]types.GraphEdge, error)) error {
		visited := map[string]bool{startID: true}
		var nodeTrail []string
		var edgeTrail []types.GraphEdge

		var dfs func(current string, depth int) error
		dfs = func(current string, depth int) error {
			if len(paths) >= g.cfg.PathCap {
				return nil
			}
			if current == endID {
				paths = append(paths, snapshotPath(startID, nodeTrail, edgeTrail))
				return nil
			}
			if depth == maxDepth {
				return nil
			}
			edges, err := edgesFrom(current)
			if err != nil {
				return err
			}
			for _, e := range edges {
				if visited[e.TargetNodeID] {
					continue
				}
				visited[e.TargetNodeID] = true
				nodeTrail = append(nodeTrail, e.TargetNodeID)
				edgeTrail = append(edgeTrail, e)

				if err := dfs(e.TargetNodeID, depth+1); err != nil {
					return err
				}

				nodeTrail = nodeTrail[:len(nodeTrail)-1]
				edgeTrail = edgeTrail[:len(edgeTrail)-1]
				visited[e.TargetNodeID] = false
			}
			return nil
		}
		return dfs(startID, 0)
	})
	if err != nil {
		return nil, err
	}

	// Shortest and heaviest paths first.
	sort.SliceStable(paths, func(i, j int) bool {
		if len(paths[i].PathNodes) != len(paths[j].PathNodes) {
			return len(paths[i].PathNodes) < len(paths[j].PathNodes)
		}
		return paths[i].TotalWeight > paths[j].TotalWeight
	})
	return paths, nil
}

func snapshotPath(startID string, nodeTrail []string, edgeTrail []types.GraphEdge) types.GraphPath {
	p := types.GraphPath{
		PathNodes: append([]string{startID}, nodeTrail...),
		PathEdges: make([]string, len(edgeTrail)),
	}
	for i, e := range edgeTrail {
		p.PathEdges[i] = e.ID
		p.TotalWeight += e.Weight
	}
	return p
}

// Traverse walks breadth-first from startID up to maxDepth hops and returns
// every reachable node with its shortest depth and one shortest path back to
// the start. The start node itself is not included.
func (g *Graph) Traverse(startID string, maxDepth int) ([]types.TraversalResult, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "Traverse")
	defer timer.Stop()

	if _, err := g.store.GetNode(startID); err != nil {
		return nil, err
	}
	if maxDepth <= 0 || maxDepth > g.cfg.MaxDepth {
		maxDepth = g.cfg.MaxDepth
	}

	var results []types.TraversalResult
	err := g.store.WalkEdges(func(edgesFrom func(string) ([]types.GraphEdge, error)) error {
		type frame struct {
			nodeID string
			depth  int
			path   []string
		}
		visited := map[string]bool{startID: true}
		queue := []frame{{nodeID: startID, depth: 0, path: []string{startID}}}

		for len(queue) > 0 {
			f := queue[0]
			queue = queue[1:]
			if f.depth == maxDepth {
				continue
			}
			edges, err := edgesFrom(f.nodeID)
			if err != nil {
				return err
			}
			for _, e := range edges {
				if visited[e.TargetNodeID] {
					continue
				}
				visited[e.TargetNodeID] = true
				path := append(append([]string{}, f.path...), e.TargetNodeID)
				results = append(results, types.TraversalResult{
					NodeID:        e.TargetNodeID,
					Depth:         f.depth + 1,
					PathFromStart: path,
				})
				queue = append(queue, frame{nodeID: e.TargetNodeID, depth: f.depth + 1, path: path})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// RelatedConcepts returns the one-hop neighbors of a node ranked by edge
// weight times confidence, truncated to limit.
func (g *Graph) RelatedConcepts(nodeID string, limit int) ([]types.RelatedConcept, error) {
	if _, err := g.store.GetNode(nodeID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	var edges []types.GraphEdge
	err := g.store.WalkEdges(func(edgesFrom func(string) ([]types.GraphEdge, error)) error {
		var err error
		edges, err = edgesFrom(nodeID)
		return err
	})
	if err != nil {
		return nil, err
	}

	// Node fetches happen after the walk releases its lock.
	related := make([]types.RelatedConcept, 0, len(edges))
	for _, e := range edges {
		node, err := g.store.GetNode(e.TargetNodeID)
		if err != nil {
			return nil, fmt.Errorf("edge %s references missing node: %w", e.ID, err)
		}
		related = append(related, types.RelatedConcept{
			Node:      node,
			EdgeType:  e.EdgeType,
			Relevance: e.Weight * e.Confidence,
		})
	}

	sort.SliceStable(related, func(i, j int) bool {
		return related[i].Relevance > related[j].Relevance
	})
	if len(related) > limit {
		related = related[:limit]
	}
	return related, nil
}

// Stats reports node and edge counts, optionally scoped to one domain.
func (g *Graph) Stats(domainID string) (types.GraphStats, error) {
	return g.store.GraphStats(domainID)
}
