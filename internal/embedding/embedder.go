package embedding

import (
	"context"
	"fmt"
	"strings"
)

// DefaultBatchSize caps how many texts go to the provider in one call.
// Small batches bound memory and network burst per request.
const DefaultBatchSize = 20

// Provider is the remote embedding call. Implementations must return one
// vector per input text, index-aligned with the inputs.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder prepares and batches text for the embedding provider.
// It does not retry failed batches; retry policy belongs to the caller.
type Embedder struct {
	provider  Provider
	batchSize int
}

// NewEmbedder creates an Embedder with the given provider and optional
// batch size. If batchSize is 0, DefaultBatchSize (20) is used.
func NewEmbedder(provider Provider, batchSize int) *Embedder {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Embedder{
		provider:  provider,
		batchSize: batchSize,
	}
}

// BatchSize returns the maximum number of texts per EmbedBatch call.
func (e *Embedder) BatchSize() int {
	return e.batchSize
}

// EmbedBatch embeds one batch of texts, preserving input order in the
// output: vectors[i] corresponds to texts[i]. Batches larger than
// BatchSize are rejected so a caller cannot silently exceed provider
// limits.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > e.batchSize {
		return nil, fmt.Errorf("batch of %d exceeds limit %d", len(texts), e.batchSize)
	}

	sanitized := make([]string, len(texts))
	for i, t := range texts {
		sanitized[i] = Sanitize(t)
	}

	vectors, err := e.provider.Embed(ctx, sanitized)
	if err != nil {
		return nil, fmt.Errorf("embed batch of %d: %w", len(texts), err)
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (e *Embedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// Sanitize collapses line breaks to single spaces. Embedding quality
// degrades on raw newlines, and collapsing here means two texts differing
// only in line-break placement produce identical embedding input.
func Sanitize(text string) string {
	return lineBreaks.Replace(text)
}
