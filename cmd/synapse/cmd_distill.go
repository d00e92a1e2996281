package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"synapse/internal/distill"
	"synapse/internal/types"
)

func distiller(rt *runtime) (*distill.Distiller, error) {
	gen, err := rt.generator()
	if err != nil {
		return nil, err
	}
	return distill.New(rt.store, gen), nil
}

// distillCmd condenses a domain into versioned core logic
var distillCmd = &cobra.Command{
	Use:   "distill [domain-id]",
	Short: "Distill a domain's knowledge into a new core logic version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		d, err := distiller(rt)
		if err != nil {
			return err
		}
		cl, err := d.Distill(context.Background(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Core logic v%d created for domain %s\n", cl.Version, cl.DomainID)
		printCoreLogic(cl)
		return nil
	},
}

var rollbackReason string

// rollbackCmd restores a previous core logic version
var rollbackCmd = &cobra.Command{
	Use:   "rollback [domain-id] [version]",
	Short: "Make an earlier core logic version active again",
	Long: `Flips the active pointer to the given version. The version chain is
append-only: rollback never deletes anything, and rolling back to the
already-active version is a no-op.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		version, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("version must be a number: %w", err)
		}

		// Rollback needs no generator; wire the distiller without one.
		d := distill.New(rt.store, nil)
		cl, err := d.Rollback(args[0], version, rollbackReason)
		if err != nil {
			return err
		}
		fmt.Printf("Domain %s now active at core logic v%d\n", args[0], cl.Version)
		return nil
	},
}

var versionsDiff string

// versionsCmd lists the version chain
var versionsCmd = &cobra.Command{
	Use:   "versions [domain-id]",
	Short: "List a domain's core logic versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime()
		if err != nil {
			return err
		}
		defer rt.close()

		d := distill.New(rt.store, nil)

		if versionsDiff != "" {
			parts := strings.SplitN(versionsDiff, ":", 2)
			if len(parts) != 2 {
				return fmt.Errorf("--diff expects FROM:TO, got %q", versionsDiff)
			}
			from, err1 := strconv.Atoi(parts[0])
			to, err2 := strconv.Atoi(parts[1])
			if err1 != nil || err2 != nil {
				return fmt.Errorf("--diff expects numeric versions, got %q", versionsDiff)
			}
			diff, err := d.Diff(args[0], from, to)
			if err != nil {
				return err
			}
			if diff == "" {
				fmt.Println("Versions are identical.")
			} else {
				fmt.Print(diff)
			}
			return nil
		}

		versions, err := d.Versions(args[0])
		if err != nil {
			return err
		}
		for _, cl := range versions {
			marker := " "
			if cl.IsActive {
				marker = "*"
			}
			fmt.Printf("%s v%-3d  %s  %s\n", marker, cl.Version, cl.CreatedAt.Format("2006-01-02 15:04"), cl.ChangeSummary)
		}
		fmt.Printf("%d version(s); * = active\n", len(versions))
		return nil
	},
}

func printCoreLogic(cl types.CoreLogic) {
	sections := []struct {
		name  string
		items []string
	}{
		{"First principles", cl.FirstPrinciples},
		{"Mental models", cl.MentalModels},
		{"Decision rules", cl.DecisionRules},
		{"Anti-patterns", cl.AntiPatterns},
	}
	for _, sec := range sections {
		if len(sec.items) == 0 {
			continue
		}
		fmt.Println(sec.name + ":")
		for _, item := range sec.items {
			fmt.Println("  -", item)
		}
	}
}

func init() {
	rollbackCmd.Flags().StringVar(&rollbackReason, "reason", "", "why this rollback happened, recorded on the restored version")
	versionsCmd.Flags().StringVar(&versionsDiff, "diff", "", "compare two versions, FROM:TO")
}
