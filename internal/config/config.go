// Package config loads and validates synapse configuration from YAML,
// with environment-variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all synapse configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Memory    MemoryConfig    `yaml:"memory"`
	Routing   RoutingConfig   `yaml:"routing"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Graph     GraphConfig     `yaml:"graph"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LLMConfig configures the generation backend.
type LLMConfig struct {
	Provider string `yaml:"provider"` // genai, openai
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"` // openai-compatible endpoint override
	Timeout  string `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding engine.
type EmbeddingConfig struct {
	Provider       string `yaml:"provider"` // genai, ollama
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	OllamaEndpoint string `yaml:"ollama_endpoint"`
}

// MemoryConfig configures the SQLite knowledge store.
type MemoryConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// RoutingConfig tunes the domain relevance scorer and feedback loop.
type RoutingConfig struct {
	MaxDomains       int     `yaml:"max_domains"`
	MinScore         float64 `yaml:"min_score"`
	BlendCoefficient float64 `yaml:"blend_coefficient"` // similarity vs domain relevance
	ExplorationFloor float64 `yaml:"exploration_floor"`
	EMAAlpha         float64 `yaml:"ema_alpha"`
}

// ExecutorConfig bounds the per-query fan-out.
type ExecutorConfig struct {
	Parallelism      int     `yaml:"parallelism"`
	PerDomainTimeout string  `yaml:"per_domain_timeout"`
	MaxRetries       int     `yaml:"max_retries"`
	TopN             int     `yaml:"top_n"`
	SimilarityFloor  float64 `yaml:"similarity_floor"`
	ResultLimit      int     `yaml:"result_limit"`
}

// SynthesisConfig bounds the generation step.
type SynthesisConfig struct {
	TokenBudget int `yaml:"token_budget"`
	MaxTokens   int `yaml:"max_tokens"`
}

// GraphConfig tunes graph construction and traversal.
type GraphConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	MaxDepth            int     `yaml:"max_depth"`
	PathCap             int     `yaml:"path_cap"`
}

// LoggingConfig mirrors logging.Settings.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	Categories map[string]bool `yaml:"categories"`
}

// DefaultConfig returns sensible defaults for a local workspace.
func DefaultConfig() Config {
	return Config{
		Name:    "synapse",
		Version: "0.1.0",
		LLM: LLMConfig{
			Provider: "genai",
			Model:    "gemini-2.0-flash",
			Timeout:  "60s",
		},
		Embedding: EmbeddingConfig{
			Provider:       "genai",
			Model:          "gemini-embedding-001",
			OllamaEndpoint: "http://localhost:11434",
		},
		Memory: MemoryConfig{
			DatabasePath: ".synapse/brain.db",
		},
		Routing: RoutingConfig{
			MaxDomains:       5,
			MinScore:         0.3,
			BlendCoefficient: 0.7,
			ExplorationFloor: 0.05,
			EMAAlpha:         0.3,
		},
		Executor: ExecutorConfig{
			Parallelism:      4,
			PerDomainTimeout: "10s",
			MaxRetries:       3,
			TopN:             10,
			SimilarityFloor:  0.6,
			ResultLimit:      20,
		},
		Synthesis: SynthesisConfig{
			TokenBudget: 6000,
			MaxTokens:   2000,
		},
		Graph: GraphConfig{
			SimilarityThreshold: 0.75,
			MaxDepth:            5,
			PathCap:             50,
		},
		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},
	}
}

// Load reads config from path, merges defaults, and applies env overrides.
// A missing file is not an error; defaults apply.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnvOverrides fills API keys from the environment so secrets stay out
// of checked-in config files.
func applyEnvOverrides(cfg *Config) {
	if key := os.Getenv("SYNAPSE_LLM_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = key
		}
		if cfg.Embedding.APIKey == "" {
			cfg.Embedding.APIKey = key
		}
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.LLM.Provider == "openai" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = key
	}
	if path := os.Getenv("SYNAPSE_DB_PATH"); path != "" {
		cfg.Memory.DatabasePath = path
	}
}

// Validate rejects configurations that would break invariants downstream.
func (c *Config) Validate() error {
	if c.Routing.MaxDomains <= 0 {
		return fmt.Errorf("routing.max_domains must be positive, got %d", c.Routing.MaxDomains)
	}
	if c.Routing.BlendCoefficient < 0 || c.Routing.BlendCoefficient > 1 {
		return fmt.Errorf("routing.blend_coefficient must be in [0,1], got %v", c.Routing.BlendCoefficient)
	}
	if c.Routing.ExplorationFloor <= 0 || c.Routing.ExplorationFloor >= 0.5 {
		return fmt.Errorf("routing.exploration_floor must be in (0,0.5), got %v", c.Routing.ExplorationFloor)
	}
	if c.Routing.EMAAlpha <= 0 || c.Routing.EMAAlpha > 1 {
		return fmt.Errorf("routing.ema_alpha must be in (0,1], got %v", c.Routing.EMAAlpha)
	}
	if c.Executor.Parallelism <= 0 {
		return fmt.Errorf("executor.parallelism must be positive, got %d", c.Executor.Parallelism)
	}
	if _, err := c.PerDomainTimeout(); err != nil {
		return err
	}
	if c.Synthesis.TokenBudget <= 0 {
		return fmt.Errorf("synthesis.token_budget must be positive, got %d", c.Synthesis.TokenBudget)
	}
	if c.Graph.PathCap <= 0 {
		return fmt.Errorf("graph.path_cap must be positive, got %d", c.Graph.PathCap)
	}
	return nil
}

// PerDomainTimeout parses the executor timeout string.
func (c *Config) PerDomainTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Executor.PerDomainTimeout)
	if err != nil {
		return 0, fmt.Errorf("executor.per_domain_timeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("executor.per_domain_timeout must be positive, got %v", d)
	}
	return d, nil
}

// LLMTimeout parses the generation timeout string.
func (c *Config) LLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}
