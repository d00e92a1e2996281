package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// graphCmd groups knowledge graph operations
var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Build and query the knowledge graph",
}

var graphBuildDomains string

var graphBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build or refresh the knowledge graph from embedded items",
	Long: `Creates one graph node per embedded knowledge item and connects
pairs by embedding similarity or shared tags. Rebuilding is idempotent.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		var domainIDs []string
		if graphBuildDomains != "" {
			for _, id := range strings.Split(graphBuildDomains, ",") {
				domainIDs = append(domainIDs, strings.TrimSpace(id))
			}
		}

		result, err := rt.graph().Build(context.Background(), domainIDs)
		if err != nil {
			return err
		}
		fmt.Printf("Graph build: %d nodes (%d new), %d edges created, %d refreshed\n",
			result.NodesSeen, result.NodesCreated, result.EdgesCreated, result.EdgesUpdated)
		return nil
	},
}

var graphPathDepth int

var graphPathsCmd = &cobra.Command{
	Use:   "paths [start-node-id] [end-node-id]",
	Short: "Find paths between two graph nodes",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		paths, err := rt.graph().FindPaths(args[0], args[1], graphPathDepth)
		if err != nil {
			return err
		}
		if len(paths) == 0 {
			fmt.Println("No path within depth limit.")
			return nil
		}
		for i, p := range paths {
			fmt.Printf("%d. %d hop(s), weight %.2f: %s\n",
				i+1, len(p.PathEdges), p.TotalWeight, strings.Join(p.PathNodes, " -> "))
		}
		return nil
	},
}

var graphTraverseDepth int

var graphTraverseCmd = &cobra.Command{
	Use:   "traverse [start-node-id]",
	Short: "Walk the graph outward from a node, breadth-first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		results, err := rt.graph().Traverse(args[0], graphTraverseDepth)
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Printf("depth %d  %s  (%s)\n", r.Depth, r.NodeID, strings.Join(r.PathFromStart, " -> "))
		}
		return nil
	},
}

var graphRelatedLimit int

var graphRelatedCmd = &cobra.Command{
	Use:   "related [node-id]",
	Short: "Show a node's related concepts, most relevant first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		related, err := rt.graph().RelatedConcepts(args[0], graphRelatedLimit)
		if err != nil {
			return err
		}
		for _, rc := range related {
			fmt.Printf("%.3f  %-12s  %s\n", rc.Relevance, rc.EdgeType, rc.Node.Label)
		}
		return nil
	},
}

var graphStatsDomain string

var graphStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show graph size and connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		stats, err := rt.graph().Stats(graphStatsDomain)
		if err != nil {
			return err
		}
		fmt.Printf("Nodes: %d  Edges: %d  Cross-domain: %d  Avg degree: %.2f\n",
			stats.NodeCount, stats.EdgeCount, stats.CrossDomainEdges, stats.AvgDegree)
		return nil
	},
}

func init() {
	graphBuildCmd.Flags().StringVar(&graphBuildDomains, "domains", "", "comma-separated domain ids (default: all)")
	graphPathsCmd.Flags().IntVar(&graphPathDepth, "depth", 0, "maximum hops (default: configured limit)")
	graphTraverseCmd.Flags().IntVar(&graphTraverseDepth, "depth", 0, "maximum hops (default: configured limit)")
	graphRelatedCmd.Flags().IntVar(&graphRelatedLimit, "limit", 10, "maximum related concepts")
	graphStatsCmd.Flags().StringVar(&graphStatsDomain, "domain", "", "scope stats to one domain id")

	graphCmd.AddCommand(graphBuildCmd)
	graphCmd.AddCommand(graphPathsCmd)
	graphCmd.AddCommand(graphTraverseCmd)
	graphCmd.AddCommand(graphRelatedCmd)
	graphCmd.AddCommand(graphStatsCmd)
}
