package retriever

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/bull/docqa/internal/storage"
)

const (
	// DefaultTopK is the number of chunks returned when the caller does
	// not ask for a specific count.
	DefaultTopK = 5

	// NoRelevantContext is the context text returned when a search
	// produces no usable chunks. Callers surface it verbatim so the
	// answering model knows the library had nothing to offer.
	NoRelevantContext = "no relevant material found"
)

// Filter narrows a search to explicit documents or to a collection.
// When both are set, DocumentIDs wins and the collection is ignored.
type Filter struct {
	DocumentIDs  []string
	CollectionID string
}

// ChunkSearcher runs a vector similarity search scoped to one owner.
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, ownerID string, documentIDs []string, vector []float32, topK int, threshold float64) ([]*storage.ScoredChunk, error)
}

// CollectionStore expands a collection id into the owner's document ids.
type CollectionStore interface {
	CollectionDocumentIDs(ctx context.Context, collectionID, ownerID string) ([]string, error)
}

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Source is one retrieved chunk attributed back to its document.
type Source struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Excerpt    string  `json:"excerpt"`
	Similarity float64 `json:"similarity"`
}

// Result is a retrieval response: the ranked sources plus a single
// context text block ready to prepend to a model prompt.
type Result struct {
	Sources     []Source `json:"sources"`
	ContextText string   `json:"context_text"`
}

// Retriever turns a natural-language query into ranked library context.
type Retriever struct {
	searcher    ChunkSearcher
	collections CollectionStore
	embedder    QueryEmbedder
	logger      *slog.Logger
}

func New(searcher ChunkSearcher, collections CollectionStore, embedder QueryEmbedder, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		searcher:    searcher,
		collections: collections,
		embedder:    embedder,
		logger:      logger,
	}
}

// Retrieve embeds the query, searches the owner's chunks, and assembles
// the context block. topK <= 0 falls back to DefaultTopK; threshold <= 0
// disables score filtering.
func (r *Retriever) Retrieve(ctx context.Context, query, ownerID string, filter Filter, topK int, threshold float64) (*Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query is empty")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}

	documentIDs, empty, err := r.resolveScope(ctx, ownerID, filter)
	if err != nil {
		return nil, err
	}
	if empty {
		// An empty collection means there is nothing to search; an empty
		// result is the honest answer, not an error.
		return &Result{ContextText: NoRelevantContext}, nil
	}

	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	scored, err := r.searcher.SearchChunks(ctx, ownerID, documentIDs, vector, topK, threshold)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	r.logger.Debug("Retrieved chunks", "owner", ownerID, "results", len(scored), "top_k", topK)

	return assemble(scored), nil
}

// resolveScope reduces the filter to a document id list. The empty flag
// reports a collection that expanded to no documents, which short-circuits
// the search entirely.
func (r *Retriever) resolveScope(ctx context.Context, ownerID string, filter Filter) (ids []string, empty bool, err error) {
	if len(filter.DocumentIDs) > 0 {
		return filter.DocumentIDs, false, nil
	}
	if filter.CollectionID == "" {
		return nil, false, nil
	}

	ids, err = r.collections.CollectionDocumentIDs(ctx, filter.CollectionID, ownerID)
	if err != nil {
		return nil, false, fmt.Errorf("expand collection %s: %w", filter.CollectionID, err)
	}
	if len(ids) == 0 {
		return nil, true, nil
	}
	return ids, false, nil
}

// assemble builds the numbered context block from scored chunks, in
// descending score order as returned by the search.
func assemble(scored []*storage.ScoredChunk) *Result {
	if len(scored) == 0 {
		return &Result{ContextText: NoRelevantContext}
	}

	result := &Result{Sources: make([]Source, 0, len(scored))}
	var sb strings.Builder
	for i, sc := range scored {
		result.Sources = append(result.Sources, Source{
			DocumentID: sc.Chunk.DocumentID,
			Title:      sc.Chunk.Title,
			Excerpt:    excerpt(sc.Chunk.Text),
			Similarity: sc.Score,
		})

		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] %s\n%s", i+1, sc.Chunk.Title, sc.Chunk.Text)
	}
	result.ContextText = sb.String()
	return result
}

const excerptLen = 200

func excerpt(text string) string {
	if len(text) <= excerptLen {
		return text
	}
	// Back up to a rune boundary so the cut never splits a multibyte
	// character.
	cut := excerptLen
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}
