// Package config loads the full application configuration from defaults, an
// optional YAML file, and environment-variable overrides, in that order.
package config

import (
	"fmt"
	"strings"

	"github.com/coverbot/policyqa/analyzer"
	"github.com/coverbot/policyqa/embedding"
	"github.com/coverbot/policyqa/generator"
	"github.com/coverbot/policyqa/llm"
	"github.com/coverbot/policyqa/pipeline"
	"github.com/coverbot/policyqa/ranker"
	"github.com/coverbot/policyqa/rerank"
	"github.com/coverbot/policyqa/retrieval"
	"github.com/coverbot/policyqa/verifier"
)

// Config is the complete application configuration.
type Config struct {
	Log       LogConfig              `yaml:"log" env:"LOG"`
	LLM       llm.OpenAIConfig       `yaml:"llm" env:"LLM"`
	Embedding embedding.OpenAIConfig `yaml:"embedding" env:"EMBEDDING"`
	Index     IndexConfig            `yaml:"index" env:"INDEX"`
	Rerank    RerankConfig           `yaml:"rerank" env:"RERANK"`
	Analyzer  analyzer.Config        `yaml:"analyzer" env:"ANALYZER"`
	Retrieval retrieval.Config       `yaml:"retrieval" env:"RETRIEVAL"`
	Ranker    ranker.Config          `yaml:"ranker" env:"RANKER"`
	Generator generator.Config       `yaml:"generator" env:"GENERATOR"`
	Verifier  verifier.Config        `yaml:"verifier" env:"VERIFIER"`
	Pipeline  pipeline.Config        `yaml:"pipeline" env:"PIPELINE"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console.
	Format string `yaml:"format" env:"FORMAT"`
	// EnableCaller annotates entries with the call site.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// IndexConfig selects and configures the document index backend.
type IndexConfig struct {
	// Backend: memory, sqlite.
	Backend string `yaml:"backend" env:"BACKEND"`
	// Path is the SQLite database file for the sqlite backend.
	Path string `yaml:"path" env:"PATH"`
}

// RerankConfig selects and configures the re-rank scorer.
type RerankConfig struct {
	// Backend: lexical, http.
	Backend string            `yaml:"backend" env:"BACKEND"`
	HTTP    rerank.HTTPConfig `yaml:"http" env:"HTTP"`
}

// DefaultConfig returns the full default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log:       LogConfig{Level: "info", Format: "json"},
		LLM:       llm.DefaultOpenAIConfig(),
		Embedding: embedding.DefaultOpenAIConfig(),
		Index:     IndexConfig{Backend: "memory"},
		Rerank:    RerankConfig{Backend: "lexical"},
		Analyzer:  analyzer.DefaultConfig(),
		Retrieval: retrieval.DefaultConfig(),
		Ranker:    ranker.DefaultConfig(),
		Generator: generator.DefaultConfig(),
		Verifier:  verifier.DefaultConfig(),
		Pipeline:  pipeline.DefaultConfig(),
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	switch c.Index.Backend {
	case "memory":
	case "sqlite":
		if c.Index.Path == "" {
			errs = append(errs, "index.path is required for the sqlite backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown index backend %q", c.Index.Backend))
	}

	switch c.Rerank.Backend {
	case "lexical":
	case "http":
		if c.Rerank.HTTP.BaseURL == "" {
			errs = append(errs, "rerank.http.base_url is required for the http backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("unknown rerank backend %q", c.Rerank.Backend))
	}

	if c.Retrieval.Alpha < 0 || c.Retrieval.Alpha > 1 {
		errs = append(errs, "retrieval.alpha must be in [0,1]")
	}
	if c.Ranker.Lambda < 0 || c.Ranker.Lambda > 1 {
		errs = append(errs, "ranker.lambda must be in [0,1]")
	}
	if c.Generator.Temperature < 0 || c.Generator.Temperature > 2 {
		errs = append(errs, "generator.temperature must be in [0,2]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
