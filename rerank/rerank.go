// Package rerank defines the abstract re-ranking scorer: a batched
// (query, passage) -> relevance mapping used by the context ranker to correct
// retrieval-stage recall bias. A lexical scorer serves as the local default;
// an HTTP provider covers hosted cross-encoder backends.
package rerank

import "context"

// Scorer scores passages against a query. Scores are comparable within one
// call; higher is more relevant.
type Scorer interface {
	// Score returns one relevance score per passage, in input order.
	Score(ctx context.Context, query string, passages []string) ([]float64, error)

	// Name returns the scorer name.
	Name() string
}
