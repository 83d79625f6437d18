package rag

import "context"

// Document is a unit of retrievable content. Score is populated on query
// results and ignored on ingestion.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float64        `json:"score,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// QueryOptions tunes a single retrieval.
type QueryOptions struct {
	// Limit caps how many documents are returned. Values <= 0 use the
	// pipeline's default.
	Limit int
}

// Result is the outcome of one retrieval.
type Result struct {
	Query     string     `json:"query"`
	Documents []Document `json:"documents"`
}

// Pipeline retrieves documents relevant to a query. Implementations must
// be safe for concurrent use; the engine may query the same pipeline from
// parallel branches.
type Pipeline interface {
	Query(ctx context.Context, query string, opts QueryOptions) (*Result, error)
}
