// Package embedding defines the abstract embedding provider and a caching
// wrapper that guarantees at most one underlying computation per unique
// normalized text, even under concurrent identical requests.
package embedding

import (
	"context"
)

// Provider is the unified embedding interface.
type Provider interface {
	// EmbedQuery embeds a single search query.
	EmbedQuery(ctx context.Context, text string) ([]float64, error)

	// EmbedDocuments embeds a batch of documents.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the embedding dimensionality.
	Dimensions() int

	// Name returns the provider name.
	Name() string
}
