package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "truncation", cfg.Context.Strategy)
	assert.Equal(t, "atomic", cfg.Context.MultimodalMode)
	assert.Equal(t, 20, cfg.Context.WindowSize)
	assert.Equal(t, "memory", cfg.Frames.Store)
	assert.Equal(t, 24*time.Hour, cfg.Frames.TokenTTL)
	assert.Equal(t, "sequential", cfg.Plan.ExecutionMode)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.NotEmpty(t, cfg.LLM.Model)
}

func TestLoadExpandsEnv(t *testing.T) {
	t.Setenv("TEST_PRAXIS_KEY", "sk-test")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: openai
  model: gpt-4o-mini
  api_key: ${TEST_PRAXIS_KEY}
context:
  strategy: level
  token_budget: 1000
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
	assert.Equal(t, "level", cfg.Context.Strategy)
	assert.Equal(t, 1000, cfg.Context.TokenBudget)
}

func TestExpandEnvVarsDefaultValue(t *testing.T) {
	assert.Equal(t, "fallback", expandEnvVars("${PRAXIS_UNSET_VAR:-fallback}"))
	t.Setenv("PRAXIS_SET_VAR", "real")
	assert.Equal(t, "real", expandEnvVars("${PRAXIS_SET_VAR:-fallback}"))
	assert.Equal(t, "real", expandEnvVars("${PRAXIS_SET_VAR}"))
	assert.Equal(t, "no vars here", expandEnvVars("no vars here"))
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "sk-x"
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.Context.Strategy = "zip"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Frames.Store = "filesystem"
	bad.Frames.Directory = ""
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Plan.ExecutionMode = "chaotic"
	assert.Error(t, bad.Validate())
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/praxis.yaml")
	assert.Error(t, err)
}
