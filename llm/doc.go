// Package llm defines the abstract language-model provider the pipeline
// consumes, plus an OpenAI-compatible HTTP implementation with rate limiting
// and bounded-backoff retry. Providers are opaque and swappable; selection is
// explicit configuration.
package llm
