package retriever

import (
	"context"
	"errors"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docqa/internal/storage"
)

type fakeSearcher struct {
	chunks []*storage.ScoredChunk
	err    error

	gotOwner     string
	gotDocIDs    []string
	gotTopK      int
	gotThreshold float64
}

func (f *fakeSearcher) SearchChunks(_ context.Context, ownerID string, documentIDs []string, _ []float32, topK int, threshold float64) ([]*storage.ScoredChunk, error) {
	f.gotOwner = ownerID
	f.gotDocIDs = documentIDs
	f.gotTopK = topK
	f.gotThreshold = threshold
	return f.chunks, f.err
}

type fakeCollections struct {
	ids    map[string][]string
	called bool
}

func (f *fakeCollections) CollectionDocumentIDs(_ context.Context, collectionID, _ string) ([]string, error) {
	f.called = true
	return f.ids[collectionID], nil
}

type fakeQueryEmbedder struct {
	err error
}

func (f *fakeQueryEmbedder) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func scoredChunk(docID, title, text string, score float64) *storage.ScoredChunk {
	return &storage.ScoredChunk{
		Chunk: &storage.Chunk{DocumentID: docID, Title: title, Text: text},
		Score: score,
	}
}

func TestRetrieve_AssemblesContext(t *testing.T) {
	searcher := &fakeSearcher{chunks: []*storage.ScoredChunk{
		scoredChunk("doc-1", "Install Guide", "Run the installer.", 0.92),
		scoredChunk("doc-2", "FAQ", "It is supported.", 0.81),
	}}
	r := New(searcher, &fakeCollections{}, &fakeQueryEmbedder{}, nil)

	result, err := r.Retrieve(context.Background(), "how do I install", "owner-a", Filter{}, 0, 0)
	require.NoError(t, err)

	require.Len(t, result.Sources, 2)
	assert.Equal(t, "doc-1", result.Sources[0].DocumentID)
	assert.Equal(t, 0.92, result.Sources[0].Similarity)
	assert.Equal(t, "Run the installer.", result.Sources[0].Excerpt)

	assert.Equal(t, "[1] Install Guide\nRun the installer.\n\n[2] FAQ\nIt is supported.", result.ContextText)

	assert.Equal(t, "owner-a", searcher.gotOwner)
	assert.Equal(t, DefaultTopK, searcher.gotTopK)
}

func TestRetrieve_NoResults(t *testing.T) {
	r := New(&fakeSearcher{}, &fakeCollections{}, &fakeQueryEmbedder{}, nil)

	result, err := r.Retrieve(context.Background(), "anything", "owner-a", Filter{}, 3, 0)
	require.NoError(t, err)
	assert.Empty(t, result.Sources)
	assert.Equal(t, NoRelevantContext, result.ContextText)
}

func TestRetrieve_DocumentIDsTakePrecedence(t *testing.T) {
	searcher := &fakeSearcher{}
	collections := &fakeCollections{ids: map[string][]string{"col-1": {"doc-9"}}}
	r := New(searcher, collections, &fakeQueryEmbedder{}, nil)

	_, err := r.Retrieve(context.Background(), "q", "owner-a", Filter{
		DocumentIDs:  []string{"doc-1", "doc-2"},
		CollectionID: "col-1",
	}, 3, 0)
	require.NoError(t, err)

	assert.Equal(t, []string{"doc-1", "doc-2"}, searcher.gotDocIDs)
	assert.False(t, collections.called)
}

func TestRetrieve_CollectionExpansion(t *testing.T) {
	searcher := &fakeSearcher{}
	collections := &fakeCollections{ids: map[string][]string{"col-1": {"doc-3", "doc-4"}}}
	r := New(searcher, collections, &fakeQueryEmbedder{}, nil)

	_, err := r.Retrieve(context.Background(), "q", "owner-a", Filter{CollectionID: "col-1"}, 3, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc-3", "doc-4"}, searcher.gotDocIDs)
}

func TestRetrieve_EmptyCollectionSkipsSearch(t *testing.T) {
	searcher := &fakeSearcher{chunks: []*storage.ScoredChunk{
		scoredChunk("doc-1", "T", "never returned", 0.9),
	}}
	collections := &fakeCollections{ids: map[string][]string{}}
	r := New(searcher, collections, &fakeQueryEmbedder{}, nil)

	result, err := r.Retrieve(context.Background(), "q", "owner-a", Filter{CollectionID: "col-empty"}, 3, 0)
	require.NoError(t, err)
	assert.Empty(t, result.Sources)
	assert.Equal(t, NoRelevantContext, result.ContextText)
	assert.Empty(t, searcher.gotOwner, "search must not run for an empty collection")
}

func TestRetrieve_EmptyQuery(t *testing.T) {
	r := New(&fakeSearcher{}, &fakeCollections{}, &fakeQueryEmbedder{}, nil)

	_, err := r.Retrieve(context.Background(), "   ", "owner-a", Filter{}, 3, 0)
	assert.Error(t, err)
}

func TestRetrieve_EmbedFailure(t *testing.T) {
	r := New(&fakeSearcher{}, &fakeCollections{}, &fakeQueryEmbedder{err: errors.New("provider down")}, nil)

	_, err := r.Retrieve(context.Background(), "q", "owner-a", Filter{}, 3, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
}

func TestRetrieve_LongExcerptTruncated(t *testing.T) {
	long := strings.Repeat("x", 300)
	searcher := &fakeSearcher{chunks: []*storage.ScoredChunk{scoredChunk("doc-1", "T", long, 0.9)}}
	r := New(searcher, &fakeCollections{}, &fakeQueryEmbedder{}, nil)

	result, err := r.Retrieve(context.Background(), "q", "owner-a", Filter{}, 1, 0)
	require.NoError(t, err)
	assert.Len(t, result.Sources[0].Excerpt, excerptLen+3)
	assert.True(t, strings.HasSuffix(result.Sources[0].Excerpt, "..."))
}

func TestRetrieve_ExcerptKeepsRunesWhole(t *testing.T) {
	// The leading ASCII byte puts every two-byte rune on an odd offset,
	// so a naive cut at excerptLen would land mid-rune.
	long := "a" + strings.Repeat("é", 200)
	searcher := &fakeSearcher{chunks: []*storage.ScoredChunk{scoredChunk("doc-1", "T", long, 0.9)}}
	r := New(searcher, &fakeCollections{}, &fakeQueryEmbedder{}, nil)

	result, err := r.Retrieve(context.Background(), "q", "owner-a", Filter{}, 1, 0)
	require.NoError(t, err)
	got := result.Sources[0].Excerpt
	assert.True(t, utf8.ValidString(got), "excerpt must not split a multibyte rune")
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.Len(t, got, excerptLen-1+3)
}
