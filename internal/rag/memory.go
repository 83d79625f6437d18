package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// DefaultLimit is the number of documents a query returns when the caller
// does not ask for a specific limit.
const DefaultLimit = 5

// MemoryPipeline is a keyword-overlap retriever over an in-memory corpus.
// It is the reference Pipeline implementation: deterministic, dependency
// free, and good enough for workflows whose knowledge base fits in memory.
type MemoryPipeline struct {
	mu   sync.RWMutex
	docs []Document
	seq  int
}

// NewMemoryPipeline creates an empty in-memory pipeline.
func NewMemoryPipeline() *MemoryPipeline {
	return &MemoryPipeline{}
}

// Add ingests documents. Documents without an ID get a generated one.
func (p *MemoryPipeline) Add(docs ...Document) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, doc := range docs {
		if doc.ID == "" {
			p.seq++
			doc.ID = fmt.Sprintf("doc-%d", p.seq)
		}
		doc.Score = 0
		p.docs = append(p.docs, doc)
	}
}

// Len returns the corpus size.
func (p *MemoryPipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.docs)
}

// Query scores every document by case-folded token overlap with the query
// and returns the best matches, highest score first. Ties keep ingestion
// order. Documents sharing no token with the query are omitted.
func (p *MemoryPipeline) Query(ctx context.Context, query string, opts QueryOptions) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	queryTokens := tokenize(query)

	p.mu.RLock()
	defer p.mu.RUnlock()

	var matches []Document
	for _, doc := range p.docs {
		score := overlapScore(queryTokens, tokenize(doc.Content))
		if score <= 0 {
			continue
		}
		match := doc
		match.Score = score
		match.Metadata = cloneMetadata(doc.Metadata)
		matches = append(matches, match)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	return &Result{Query: query, Documents: matches}, nil
}

// overlapScore is the fraction of query tokens present in the document,
// in [0, 1].
func overlapScore(queryTokens, docTokens []string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	docSet := make(map[string]struct{}, len(docTokens))
	for _, tok := range docTokens {
		docSet[tok] = struct{}{}
	}
	hits := 0
	for _, tok := range queryTokens {
		if _, ok := docSet[tok]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(queryTokens))
}

// tokenize lowercases and splits on anything that is not a letter or digit.
// Duplicate tokens are collapsed so repeated words do not inflate scores.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	tokens := fields[:0]
	for _, f := range fields {
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		tokens = append(tokens, f)
	}
	return tokens
}

func cloneMetadata(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ Pipeline = (*MemoryPipeline)(nil)
