// Package types defines the shared data model of the PolicyQA pipeline:
// queries and their decomposition, document chunks and retrieval results,
// ranked context, generated answers with citations, verification results,
// and the unified error taxonomy.
//
// All per-request values (SubQuery, RetrievalResult, RankedContext, Answer,
// VerificationResult) are owned by the single pipeline run that created them
// and are never shared across runs.
package types
