// Package indexer orchestrates the full reindex of one document:
// chunk, embed in batches, and replace stored vectors idempotently.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/bull/docqa/internal/chunker"
	"github.com/bull/docqa/internal/storage"
)

// ErrReindexInProgress is returned when a reindex is requested for a
// document that already has one in flight. The advisory lock prevents two
// concurrent reindexes from interleaving delete/insert on the same chunk set.
var ErrReindexInProgress = errors.New("reindex already in progress for document")

// ErrDocumentNotFound is the sentinel a DocumentStore returns for an
// unknown document id. The indexer records it as a skip, not a failure.
var ErrDocumentNotFound = errors.New("document not found")

// Document is the snapshot of a stored document the indexer works from.
type Document struct {
	ID      string
	OwnerID string
	Title   string
	Content string
}

// Outcome summarizes one document's reindex. Skipped marks the distinct
// "nothing to index" case (missing or empty document), which is a recorded
// non-failure, not an error.
type Outcome struct {
	ChunksWritten int
	ChunksFailed  int
	Skipped       bool
}

// DocumentStore reads document snapshots.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (*Document, error)
}

// ChunkStore is the vector-capable chunk storage the indexer writes to.
type ChunkStore interface {
	DeleteDocumentChunks(ctx context.Context, documentID string) error
	InsertChunk(ctx context.Context, chunk *storage.Chunk) error
}

// Embedder turns one batch of texts into vectors.
type Embedder interface {
	BatchSize() int
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Indexer rebuilds a document's chunk set from scratch.
type Indexer struct {
	docs     DocumentStore
	chunks   ChunkStore
	embedder Embedder
	splitter *chunker.Chunker
	logger   *slog.Logger

	// inflight holds document ids with a reindex in progress.
	inflight sync.Map
}

// New creates an Indexer with the given collaborators.
func New(docs DocumentStore, chunks ChunkStore, embedder Embedder, splitter *chunker.Chunker, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		docs:     docs,
		chunks:   chunks,
		embedder: embedder,
		splitter: splitter,
		logger:   logger,
	}
}

// ReindexDocument deletes and recreates all stored chunks for a document.
// Safe to run twice on unchanged text: the result is the same chunk set
// with orders exactly 0..n-1.
//
// Failure handling: an embedding failure loses that batch's chunks but
// later batches still proceed; a failed write of an individual chunk is
// logged and skipped. Both are reported through the outcome counts rather
// than aborting the document.
func (ix *Indexer) ReindexDocument(ctx context.Context, documentID, ownerID string) (*Outcome, error) {
	if _, busy := ix.inflight.LoadOrStore(documentID, struct{}{}); busy {
		return nil, fmt.Errorf("%w: %s", ErrReindexInProgress, documentID)
	}
	defer ix.inflight.Delete(documentID)

	doc, err := ix.docs.GetDocument(ctx, documentID)
	if errors.Is(err, ErrDocumentNotFound) {
		ix.logger.Info("Nothing to index, document missing", "document", documentID)
		return &Outcome{Skipped: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load document: %w", err)
	}
	if doc.OwnerID != ownerID {
		return nil, fmt.Errorf("document %s does not belong to owner %s", documentID, ownerID)
	}

	pieces := ix.splitter.Split(doc.Content)
	if len(pieces) == 0 {
		ix.logger.Info("Nothing to index, document empty", "document", documentID)
		return &Outcome{Skipped: true}, nil
	}

	// Idempotent reset: drop whatever a previous run left behind.
	if err := ix.chunks.DeleteDocumentChunks(ctx, documentID); err != nil {
		return nil, fmt.Errorf("delete existing chunks: %w", err)
	}

	outcome := &Outcome{}
	batchSize := ix.embedder.BatchSize()
	now := time.Now().UTC()

	for start := 0; start < len(pieces); start += batchSize {
		end := min(start+batchSize, len(pieces))
		batch := pieces[start:end]

		texts := make([]string, len(batch))
		for i, piece := range batch {
			texts[i] = piece.Text
		}

		vectors, err := ix.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			// The batch's chunks stay unindexed; later batches proceed.
			ix.logger.Warn("Embedding batch failed",
				"document", documentID, "batch_start", start, "batch_size", len(batch), "error", err)
			outcome.ChunksFailed += len(batch)
			continue
		}

		written, failed := ix.writeBatch(ctx, doc, batch, vectors, now)
		outcome.ChunksWritten += written
		outcome.ChunksFailed += failed
	}

	ix.logger.Info("Reindexed document",
		"document", documentID,
		"written", outcome.ChunksWritten,
		"failed", outcome.ChunksFailed,
	)
	return outcome, nil
}

// writeBatch inserts one embedded batch's chunks concurrently. Write
// completion order does not matter: each chunk carries its own order, so
// downstream retrieval ordering holds regardless.
func (ix *Indexer) writeBatch(ctx context.Context, doc *Document, batch []chunker.Chunk, vectors [][]float32, createdAt time.Time) (written, failed int) {
	var wg sync.WaitGroup
	var okCount, errCount atomic.Int64

	for i, piece := range batch {
		chunk := &storage.Chunk{
			ID:         uuid.New().String(),
			DocumentID: doc.ID,
			OwnerID:    doc.OwnerID,
			Order:      piece.Order,
			Title:      doc.Title,
			Text:       piece.Text,
			Embedding:  vectors[i],
			CreatedAt:  createdAt,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ix.chunks.InsertChunk(ctx, chunk); err != nil {
				// A single corrupt chunk is non-fatal to the document.
				ix.logger.Warn("Chunk write failed, skipping",
					"document", chunk.DocumentID, "order", chunk.Order, "error", err)
				errCount.Add(1)
				return
			}
			okCount.Add(1)
		}()
	}
	wg.Wait()

	return int(okCount.Load()), int(errCount.Load())
}
