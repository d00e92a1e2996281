package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	querySession string
	queryDomains string
)

// queryCmd runs the full pipeline for one question
var queryCmd = &cobra.Command{
	Use:   "query [question]",
	Short: "Route a question across domains and synthesize an answer",
	Long: `Scores every registered domain against the question, queries the
selected domains in parallel, expands the results through the knowledge
graph, and synthesizes one answer with explicit confidence.

Use --session to record the exchange against a long-lived session.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

// routeCmd shows the routing decision without executing it
var routeCmd = &cobra.Command{
	Use:   "route [question]",
	Short: "Show which domains a question would be routed to",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRoute,
}

var (
	feedbackHelpful bool
	feedbackRating  int
)

// feedbackCmd scores a past answer
var feedbackCmd = &cobra.Command{
	Use:   "feedback [routing-id]",
	Short: "Record whether an answer helped, updating routing weights",
	Args:  cobra.ExactArgs(1),
	RunE:  runFeedback,
}

func runQuery(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	orch, err := rt.orchestrator()
	if err != nil {
		return err
	}

	question := strings.Join(args, " ")
	logger.Info("processing query", zap.String("question", question))

	resp, err := orch.ProcessQuery(context.Background(), querySession, question, splitIDs(queryDomains))
	if err != nil {
		return err
	}

	fmt.Println(resp.Response)
	fmt.Println()
	fmt.Printf("Confidence: %.2f", resp.Confidence)
	if resp.IsDegraded {
		fmt.Print("  (degraded)")
	}
	fmt.Println()
	fmt.Printf("Sources: %d  Tokens: %d  Routing: %s\n", len(resp.Results), resp.TokensUsed, resp.RoutingID)
	for _, w := range resp.Warnings {
		fmt.Println("Warning:", w)
	}
	return nil
}

func runRoute(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	engine, err := rt.embeddingEngine()
	if err != nil {
		return err
	}

	decision, err := rt.scorer(engine).Route(context.Background(), strings.Join(args, " "), splitIDs(queryDomains))
	if err != nil {
		return err
	}

	if decision.NoMatch {
		fmt.Println("No domain matched this query.")
		fmt.Println("Routing:", decision.RoutingID)
		return nil
	}

	fmt.Printf("Selected %d domain(s), confidence %.2f:\n", len(decision.SelectedDomains), decision.Confidence)
	for _, sel := range decision.SelectedDomains {
		d, err := rt.store.GetDomain(sel.DomainID)
		name := sel.DomainID
		if err == nil {
			name = d.Name
		}
		fmt.Printf("  %d. %-24s %.3f\n", sel.Rank, name, sel.Score)
	}
	fmt.Println("Routing:", decision.RoutingID)
	return nil
}

func runFeedback(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime()
	if err != nil {
		return err
	}
	defer rt.close()

	var rating *int
	if feedbackRating > 0 {
		rating = &feedbackRating
	}

	fb := routerFeedback(rt)
	if err := fb.Record(args[0], feedbackHelpful, rating); err != nil {
		return err
	}
	fmt.Println("Feedback recorded.")
	return nil
}

// splitIDs parses a comma-separated id list, empty input meaning none.
func splitIDs(csv string) []string {
	if csv == "" {
		return nil
	}
	var ids []string
	for _, id := range strings.Split(csv, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

func init() {
	queryCmd.Flags().StringVar(&querySession, "session", "", "session id to record the exchange against")
	queryCmd.Flags().StringVar(&queryDomains, "domains", "", "comma-separated domain ids to scope routing")
	routeCmd.Flags().StringVar(&queryDomains, "domains", "", "comma-separated domain ids to scope routing")
	feedbackCmd.Flags().BoolVar(&feedbackHelpful, "helpful", true, "whether the answer helped")
	feedbackCmd.Flags().IntVar(&feedbackRating, "rating", 0, "optional 1-5 rating")
}
