package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// sessionCmd groups session management
var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage conversation sessions",
}

var sessionDomains string

var sessionNewCmd = &cobra.Command{
	Use:   "new [name]",
	Short: "Start a new session over selected domains",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		var domainIDs []string
		if sessionDomains != "" {
			for _, id := range strings.Split(sessionDomains, ",") {
				domainIDs = append(domainIDs, strings.TrimSpace(id))
			}
		}

		sess, err := rt.store.CreateSession(args[0], domainIDs)
		if err != nil {
			return err
		}
		fmt.Printf("Session %q created: %s\n", sess.Name, sess.ID)
		return nil
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		sessions, err := rt.store.ListSessions(0)
		if err != nil {
			return err
		}
		for _, sess := range sessions {
			rating := "-"
			if sess.Rating != nil {
				rating = strconv.Itoa(*sess.Rating)
			}
			fmt.Printf("%-36s  %-20s  %3d queries  %6d tokens  rating %s\n",
				sess.ID, sess.Name, sess.TotalQueries, sess.TotalTokensUsed, rating)
		}
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show [session-id]",
	Short: "Show a session's conversation history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		sess, err := rt.store.GetSession(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Session %q (%d queries, %d tokens)\n", sess.Name, sess.TotalQueries, sess.TotalTokensUsed)
		for domainID, count := range sess.AccumulatedKnowledge {
			fmt.Printf("  %s: %d item(s) gathered\n", domainID, count)
		}
		for _, turn := range sess.ConversationHistory {
			fmt.Printf("[%s] %s\n", turn.Role, turn.Content)
		}
		return nil
	},
}

var sessionRateCmd = &cobra.Command{
	Use:   "rate [session-id] [1-5]",
	Short: "Rate a finished session",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		rating, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("rating must be a number: %w", err)
		}
		if err := rt.store.RateSession(args[0], rating); err != nil {
			return err
		}
		fmt.Println("Session rated.")
		return nil
	},
}

// historyCmd shows routing history
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent routing decisions and their feedback",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		entries, err := rt.store.ListHistory(historyLimit)
		if err != nil {
			return err
		}
		for _, e := range entries {
			feedback := "    "
			if e.WasHelpful != nil {
				if *e.WasHelpful {
					feedback = "  +1"
				} else {
					feedback = "  -1"
				}
			}
			fmt.Printf("%-36s  %d domain(s)%s  %s\n", e.ID, len(e.SelectedDomainIDs), feedback, e.QueryText)
		}
		return nil
	},
}

var historyLimit int

func init() {
	sessionNewCmd.Flags().StringVar(&sessionDomains, "domains", "", "comma-separated domain ids")
	sessionCmd.AddCommand(sessionNewCmd)
	sessionCmd.AddCommand(sessionListCmd)
	sessionCmd.AddCommand(sessionShowCmd)
	sessionCmd.AddCommand(sessionRateCmd)

	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum entries")
}
