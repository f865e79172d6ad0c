package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "memory", cfg.Index.Backend)
	assert.Equal(t, "lexical", cfg.Rerank.Backend)
	assert.Positive(t, cfg.Retrieval.TopK)
	assert.Equal(t, 0.7, cfg.Ranker.Lambda)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/policyqa.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Index.Backend)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
index:
  backend: sqlite
  path: /var/lib/policyqa/chunks.db
retrieval:
  top_k: 25
  alpha: 0.6
pipeline:
  total_timeout: 45s
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "sqlite", cfg.Index.Backend)
	assert.Equal(t, "/var/lib/policyqa/chunks.db", cfg.Index.Path)
	assert.Equal(t, 25, cfg.Retrieval.TopK)
	assert.Equal(t, 0.6, cfg.Retrieval.Alpha)
	assert.Equal(t, 45*time.Second, cfg.Pipeline.TotalTimeout)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retrieval:\n  top_k: 25\n"), 0o644))

	t.Setenv("POLICYQA_RETRIEVAL_TOP_K", "40")
	t.Setenv("POLICYQA_LOG_LEVEL", "warn")
	t.Setenv("POLICYQA_RANKER_LAMBDA", "0.5")
	t.Setenv("POLICYQA_PIPELINE_TOTAL_TIMEOUT", "90s")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 40, cfg.Retrieval.TopK, "env wins over the file")
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 0.5, cfg.Ranker.Lambda)
	assert.Equal(t, 90*time.Second, cfg.Pipeline.TotalTimeout)
}

func TestEnvPrefixOverride(t *testing.T) {
	t.Setenv("QA_LOG_LEVEL", "error")

	cfg, err := NewLoader().WithEnvPrefix("QA").Load()
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestEnvInvalidValue(t *testing.T) {
	t.Setenv("POLICYQA_RETRIEVAL_TOP_K", "not-a-number")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POLICYQA_RETRIEVAL_TOP_K")
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"unknown index backend", func(c *Config) { c.Index.Backend = "postgres" }, "unknown index backend"},
		{"sqlite without path", func(c *Config) { c.Index.Backend = "sqlite" }, "index.path is required"},
		{"unknown rerank backend", func(c *Config) { c.Rerank.Backend = "grpc" }, "unknown rerank backend"},
		{"http rerank without url", func(c *Config) { c.Rerank.Backend = "http" }, "rerank.http.base_url is required"},
		{"alpha out of range", func(c *Config) { c.Retrieval.Alpha = 1.5 }, "retrieval.alpha"},
		{"lambda out of range", func(c *Config) { c.Ranker.Lambda = -0.1 }, "ranker.lambda"},
		{"temperature out of range", func(c *Config) { c.Generator.Temperature = 3 }, "generator.temperature"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestCustomValidator(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.LLM.APIKey == "" {
				return assert.AnError
			}
			return nil
		}).
		Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}
