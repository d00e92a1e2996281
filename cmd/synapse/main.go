package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"synapse/internal/config"
	"synapse/internal/embedding"
	"synapse/internal/generation"
	"synapse/internal/graph"
	"synapse/internal/logging"
	"synapse/internal/orchestrator"
	"synapse/internal/router"
	"synapse/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "synapse",
	Short: "synapse - multi-domain knowledge routing and synthesis engine",
	Long: `synapse routes queries across specialized knowledge domains, gathers
context concurrently, walks the knowledge graph for related concepts, and
synthesizes a single response with explicit confidence.

Feedback on answers feeds back into routing weights, so domains that help
get asked more and domains that don't fade without ever being silenced.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Close()
	},
}

// runtime bundles the wired engine for command handlers.
type runtime struct {
	cfg   config.Config
	store *store.LocalStore
}

// openRuntime loads config, initializes logging, and opens the store.
// Commands that need embeddings or generation wire those separately so
// store-only commands work without API keys.
func openRuntime() (*runtime, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	settings := logging.Settings{
		DebugMode:  cfg.Logging.DebugMode || verbose,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
	}
	if err := logging.Initialize(workspace, settings); err != nil {
		return nil, err
	}

	s, err := store.NewLocalStore(cfg.Memory.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open knowledge store: %w", err)
	}
	return &runtime{cfg: cfg, store: s}, nil
}

func (r *runtime) close() {
	if err := r.store.Close(); err != nil {
		logger.Warn("store close failed", zap.Error(err))
	}
}

func (r *runtime) embeddingEngine() (embedding.Engine, error) {
	return embedding.NewEngine(embedding.Config{
		Provider:       r.cfg.Embedding.Provider,
		APIKey:         r.cfg.Embedding.APIKey,
		Model:          r.cfg.Embedding.Model,
		OllamaEndpoint: r.cfg.Embedding.OllamaEndpoint,
	})
}

func (r *runtime) generator() (generation.Generator, error) {
	gen, err := generation.NewGenerator(generation.Config{
		Provider: r.cfg.LLM.Provider,
		APIKey:   r.cfg.LLM.APIKey,
		Model:    r.cfg.LLM.Model,
		BaseURL:  r.cfg.LLM.BaseURL,
		Timeout:  r.cfg.LLMTimeout(),
	})
	if err != nil {
		return nil, err
	}
	return generation.WithRetry(gen, r.cfg.Executor.MaxRetries, time.Second), nil
}

func (r *runtime) scorer(engine embedding.Engine) *router.Scorer {
	return router.NewScorer(r.store, engine, r.cfg.Routing)
}

func (r *runtime) graph() *graph.Graph {
	return graph.New(r.store, r.cfg.Graph)
}

func routerFeedback(r *runtime) *router.Feedback {
	return router.NewFeedback(r.store, r.cfg.Routing)
}

// orchestrator wires the full pipeline.
func (r *runtime) orchestrator() (*orchestrator.Orchestrator, error) {
	engine, err := r.embeddingEngine()
	if err != nil {
		return nil, err
	}
	gen, err := r.generator()
	if err != nil {
		return nil, err
	}

	perDomain, err := r.cfg.PerDomainTimeout()
	if err != nil {
		return nil, err
	}
	executor := orchestrator.NewExecutor(r.store, r.cfg.Executor, perDomain, r.cfg.Routing.BlendCoefficient)
	return orchestrator.New(r.store, r.scorer(engine), executor, r.graph(), engine, gen, r.cfg.Synthesis), nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", ".synapse/config.yaml", "config file path")
	rootCmd.PersistentFlags().StringVar(&workspace, "workspace", ".", "workspace directory")

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(domainCmd)
	rootCmd.AddCommand(knowledgeCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(distillCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(versionsCmd)
	rootCmd.AddCommand(sessionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
