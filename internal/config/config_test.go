package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	d, err := cfg.PerDomainTimeout()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, d)
	assert.Equal(t, 60*time.Second, cfg.LLMTimeout())
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Routing.MaxDomains, cfg.Routing.MaxDomains)
}

func TestLoadMergesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
routing:
  max_domains: 3
  min_score: 0.4
executor:
  parallelism: 8
llm:
  provider: openai
  model: local-model
  base_url: http://localhost:8080/v1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Routing.MaxDomains)
	assert.Equal(t, 0.4, cfg.Routing.MinScore)
	assert.Equal(t, 8, cfg.Executor.Parallelism)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "http://localhost:8080/v1", cfg.LLM.BaseURL)
	// Untouched sections keep defaults.
	assert.Equal(t, DefaultConfig().Synthesis.TokenBudget, cfg.Synthesis.TokenBudget)
}

func TestLoadRejectsBrokenInvariants(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("routing:\n  max_domains: 0\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SYNAPSE_LLM_API_KEY", "key-from-env")
	t.Setenv("SYNAPSE_DB_PATH", "/tmp/other.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "key-from-env", cfg.LLM.APIKey)
	assert.Equal(t, "/tmp/other.db", cfg.Memory.DatabasePath)
}

func TestGeminiKeyFillsBothEngines(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "gem-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "gem-key", cfg.LLM.APIKey)
	assert.Equal(t, "gem-key", cfg.Embedding.APIKey)
}
