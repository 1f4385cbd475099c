package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docqa/internal/chunker"
	"github.com/bull/docqa/internal/storage"
)

type fakeDocs struct {
	docs map[string]*Document
}

func (f *fakeDocs) GetDocument(_ context.Context, id string) (*Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return doc, nil
}

type fakeChunks struct {
	mu      sync.Mutex
	chunks  map[string]*storage.Chunk // keyed by chunk ID
	failAt  map[int]bool              // chunk orders whose insert fails
	deletes int
}

func newFakeChunks() *fakeChunks {
	return &fakeChunks{chunks: make(map[string]*storage.Chunk), failAt: make(map[int]bool)}
}

func (f *fakeChunks) DeleteDocumentChunks(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes++
	for id, c := range f.chunks {
		if c.DocumentID == documentID {
			delete(f.chunks, id)
		}
	}
	return nil
}

func (f *fakeChunks) InsertChunk(_ context.Context, chunk *storage.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAt[chunk.Order] {
		return errors.New("write refused")
	}
	f.chunks[chunk.ID] = chunk
	return nil
}

func (f *fakeChunks) stored(documentID string) []*storage.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*storage.Chunk
	for _, c := range f.chunks {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	return out
}

type fakeEmbedder struct {
	mu        sync.Mutex
	batchSize int
	calls     int
	failCall  int // 1-based call number to fail, 0 = never
	started   chan struct{}
	block     chan struct{}
}

func (f *fakeEmbedder) BatchSize() int { return f.batchSize }

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.failCall != 0 && call == f.failCall {
		return nil, errors.New("provider unavailable")
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

// paragraphs builds n paragraphs that each land in their own chunk when
// split with maxChars 64.
func paragraphs(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "Paragraph %02d with filler text to reach enough size.\n\n", i)
	}
	return sb.String()
}

func newTestIndexer(docs *fakeDocs, chunks *fakeChunks, embedder *fakeEmbedder) *Indexer {
	return New(docs, chunks, embedder, chunker.New(64), slog.Default())
}

func TestReindexDocument_OrderContiguity(t *testing.T) {
	docs := &fakeDocs{docs: map[string]*Document{
		"doc-1": {ID: "doc-1", OwnerID: "owner-1", Title: "T", Content: paragraphs(9)},
	}}
	chunks := newFakeChunks()
	ix := newTestIndexer(docs, chunks, &fakeEmbedder{batchSize: 4})

	outcome, err := ix.ReindexDocument(context.Background(), "doc-1", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 9, outcome.ChunksWritten)
	assert.Zero(t, outcome.ChunksFailed)
	assert.False(t, outcome.Skipped)

	stored := chunks.stored("doc-1")
	require.Len(t, stored, 9)
	seen := make(map[int]bool)
	for _, c := range stored {
		assert.False(t, seen[c.Order], "duplicate order %d", c.Order)
		seen[c.Order] = true
		assert.GreaterOrEqual(t, c.Order, 0)
		assert.Less(t, c.Order, 9)
		assert.Equal(t, "owner-1", c.OwnerID)
	}
}

func TestReindexDocument_Idempotent(t *testing.T) {
	docs := &fakeDocs{docs: map[string]*Document{
		"doc-1": {ID: "doc-1", OwnerID: "owner-1", Title: "T", Content: paragraphs(7)},
	}}
	chunks := newFakeChunks()
	ix := newTestIndexer(docs, chunks, &fakeEmbedder{batchSize: 20})

	first, err := ix.ReindexDocument(context.Background(), "doc-1", "owner-1")
	require.NoError(t, err)

	second, err := ix.ReindexDocument(context.Background(), "doc-1", "owner-1")
	require.NoError(t, err)

	assert.Equal(t, first.ChunksWritten, second.ChunksWritten)
	assert.Len(t, chunks.stored("doc-1"), first.ChunksWritten, "rerun must not duplicate chunks")
	assert.Equal(t, 2, chunks.deletes)
}

func TestReindexDocument_PartialBatchFailure(t *testing.T) {
	// 45 chunks in batches of 20/20/5; the second batch's embedding call
	// fails. Its chunks stay unindexed but the remaining batch proceeds.
	docs := &fakeDocs{docs: map[string]*Document{
		"doc-1": {ID: "doc-1", OwnerID: "owner-1", Title: "T", Content: paragraphs(45)},
	}}
	chunks := newFakeChunks()
	ix := newTestIndexer(docs, chunks, &fakeEmbedder{batchSize: 20, failCall: 2})

	outcome, err := ix.ReindexDocument(context.Background(), "doc-1", "owner-1")
	require.NoError(t, err, "a failed batch must not abort the document")
	assert.Equal(t, 25, outcome.ChunksWritten)
	assert.Equal(t, 20, outcome.ChunksFailed)
	assert.Len(t, chunks.stored("doc-1"), 25)
}

func TestReindexDocument_ChunkWriteFailure(t *testing.T) {
	docs := &fakeDocs{docs: map[string]*Document{
		"doc-1": {ID: "doc-1", OwnerID: "owner-1", Title: "T", Content: paragraphs(6)},
	}}
	chunks := newFakeChunks()
	chunks.failAt[3] = true
	ix := newTestIndexer(docs, chunks, &fakeEmbedder{batchSize: 20})

	outcome, err := ix.ReindexDocument(context.Background(), "doc-1", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, 5, outcome.ChunksWritten)
	assert.Equal(t, 1, outcome.ChunksFailed)
}

func TestReindexDocument_EmptyDocument(t *testing.T) {
	docs := &fakeDocs{docs: map[string]*Document{
		"doc-1": {ID: "doc-1", OwnerID: "owner-1", Title: "T", Content: "   \n\n  "},
	}}
	chunks := newFakeChunks()
	ix := newTestIndexer(docs, chunks, &fakeEmbedder{batchSize: 20})

	outcome, err := ix.ReindexDocument(context.Background(), "doc-1", "owner-1")
	require.NoError(t, err, "empty content is a recorded outcome, not an error")
	assert.True(t, outcome.Skipped)
	assert.Zero(t, outcome.ChunksWritten)
}

func TestReindexDocument_MissingDocument(t *testing.T) {
	ix := newTestIndexer(&fakeDocs{docs: map[string]*Document{}}, newFakeChunks(), &fakeEmbedder{batchSize: 20})

	outcome, err := ix.ReindexDocument(context.Background(), "nope", "owner-1")
	require.NoError(t, err)
	assert.True(t, outcome.Skipped)
}

func TestReindexDocument_WrongOwner(t *testing.T) {
	docs := &fakeDocs{docs: map[string]*Document{
		"doc-1": {ID: "doc-1", OwnerID: "owner-1", Title: "T", Content: paragraphs(2)},
	}}
	ix := newTestIndexer(docs, newFakeChunks(), &fakeEmbedder{batchSize: 20})

	_, err := ix.ReindexDocument(context.Background(), "doc-1", "owner-2")
	assert.Error(t, err)
}

func TestReindexDocument_ConcurrentReindexRejected(t *testing.T) {
	docs := &fakeDocs{docs: map[string]*Document{
		"doc-1": {ID: "doc-1", OwnerID: "owner-1", Title: "T", Content: paragraphs(3)},
	}}
	started := make(chan struct{})
	block := make(chan struct{})
	embedder := &fakeEmbedder{batchSize: 20, started: started, block: block}
	ix := newTestIndexer(docs, newFakeChunks(), embedder)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := ix.ReindexDocument(context.Background(), "doc-1", "owner-1")
		assert.NoError(t, err)
	}()

	// Wait until the first reindex is parked inside the embedder.
	<-started

	_, err := ix.ReindexDocument(context.Background(), "doc-1", "owner-1")
	assert.ErrorIs(t, err, ErrReindexInProgress)

	close(block)
	<-done
}
