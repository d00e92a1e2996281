package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"synapse/internal/types"
)

// domainCmd groups domain management
var domainCmd = &cobra.Command{
	Use:   "domain",
	Short: "Manage knowledge domains",
}

var (
	domainDescription string
	domainColor       string
	domainIcon        string
)

var domainAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Register a new knowledge domain",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		d, err := rt.store.CreateDomain(args[0], domainDescription, domainColor, domainIcon)
		if err != nil {
			return err
		}
		fmt.Printf("Domain %q created: %s\n", d.Name, d.ID)
		return nil
	},
}

var domainListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered domains with their routing weights",
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		domains, err := rt.store.ListDomains()
		if err != nil {
			return err
		}
		if len(domains) == 0 {
			fmt.Println("No domains registered.")
			return nil
		}

		fmt.Printf("%-36s  %-20s  %-7s  %s\n", "ID", "NAME", "WEIGHT", "FEEDBACK")
		for _, d := range domains {
			w, err := rt.store.GetWeight(d.ID)
			if err != nil {
				return err
			}
			fmt.Printf("%-36s  %-20s  %.3f   %d+ / %d-\n", d.ID, d.Name, w.Weight, w.SuccessCount, w.FailureCount)
		}
		return nil
	},
}

// knowledgeCmd groups knowledge item management
var knowledgeCmd = &cobra.Command{
	Use:   "knowledge",
	Short: "Manage knowledge items",
}

var (
	knowledgeTags   string
	knowledgeSource string
	knowledgeEmbed  bool
)

var knowledgeAddCmd = &cobra.Command{
	Use:   "add [domain-id] [title] [content]",
	Short: "Add a knowledge item to a domain",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		item := types.KnowledgeItem{
			DomainID:  args[0],
			Title:     args[1],
			Content:   args[2],
			SourceRef: knowledgeSource,
		}
		if knowledgeTags != "" {
			for _, t := range strings.Split(knowledgeTags, ",") {
				item.Tags = append(item.Tags, strings.TrimSpace(t))
			}
		}

		item, err = rt.store.AddKnowledgeItem(item)
		if err != nil {
			return err
		}

		if knowledgeEmbed {
			engine, err := rt.embeddingEngine()
			if err != nil {
				return err
			}
			vec, err := engine.Embed(context.Background(), item.Title+"\n"+item.Content)
			if err != nil {
				return fmt.Errorf("embedding failed (item stored without vector): %w", err)
			}
			if err := rt.store.SetEmbedding(item.ID, vec); err != nil {
				return err
			}
		}

		fmt.Printf("Knowledge item %q stored: %s\n", item.Title, item.ID)
		return nil
	},
}

var knowledgeListCmd = &cobra.Command{
	Use:   "list [domain-id]",
	Short: "List a domain's knowledge items",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		items, err := rt.store.ListKnowledgeByDomain(args[0], 0)
		if err != nil {
			return err
		}
		for _, item := range items {
			embedded := " "
			if len(item.Embedding) > 0 {
				embedded = "*"
			}
			fmt.Printf("%s %-36s  %s\n", embedded, item.ID, item.Title)
		}
		fmt.Printf("%d item(s); * = embedded\n", len(items))
		return nil
	},
}

func init() {
	domainAddCmd.Flags().StringVar(&domainDescription, "description", "", "what this domain covers")
	domainAddCmd.Flags().StringVar(&domainColor, "color", "", "display color")
	domainAddCmd.Flags().StringVar(&domainIcon, "icon", "", "display icon")
	domainCmd.AddCommand(domainAddCmd)
	domainCmd.AddCommand(domainListCmd)

	knowledgeAddCmd.Flags().StringVar(&knowledgeTags, "tags", "", "comma-separated tags")
	knowledgeAddCmd.Flags().StringVar(&knowledgeSource, "source", "", "source reference")
	knowledgeAddCmd.Flags().BoolVar(&knowledgeEmbed, "embed", true, "embed the item on insert")
	knowledgeCmd.AddCommand(knowledgeAddCmd)
	knowledgeCmd.AddCommand(knowledgeListCmd)
}
