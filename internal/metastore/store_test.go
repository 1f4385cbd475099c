package metastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bull/docqa/internal/indexer"
	"github.com/bull/docqa/internal/jobs"
	"github.com/bull/docqa/internal/memory"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "meta.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestDocumentRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := &Document{
		ID:      uuid.New().String(),
		OwnerID: "owner-1",
		Title:   "Moby Dick",
		Content: "Call me Ishmael.",
	}
	require.NoError(t, store.SaveDocument(ctx, doc))

	got, err := store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.OwnerID, got.OwnerID)
	assert.Equal(t, doc.Title, got.Title)
	assert.Equal(t, doc.Content, got.Content)
	assert.False(t, got.CreatedAt.IsZero())

	// Save again updates in place.
	doc.Content = "Call me Ishmael. Some years ago..."
	require.NoError(t, store.SaveDocument(ctx, doc))
	got, err = store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Content, "Some years ago")

	require.NoError(t, store.DeleteDocument(ctx, doc.ID))
	_, err = store.GetDocument(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentSource(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	doc := &Document{
		ID:      uuid.New().String(),
		OwnerID: "owner-1",
		Title:   "Moby Dick",
		Content: "Call me Ishmael.",
	}
	require.NoError(t, store.SaveDocument(ctx, doc))

	source := store.DocumentSource()
	snap, err := source.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, doc.ID, snap.ID)
	assert.Equal(t, doc.OwnerID, snap.OwnerID)
	assert.Equal(t, doc.Title, snap.Title)
	assert.Equal(t, doc.Content, snap.Content)

	_, err = source.GetDocument(ctx, "missing")
	assert.ErrorIs(t, err, indexer.ErrDocumentNotFound)
}

func TestCollectionExpansion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	docA := &Document{ID: uuid.New().String(), OwnerID: "owner-1", Title: "A"}
	docB := &Document{ID: uuid.New().String(), OwnerID: "owner-1", Title: "B"}
	foreign := &Document{ID: uuid.New().String(), OwnerID: "owner-2", Title: "X"}
	for _, d := range []*Document{docA, docB, foreign} {
		require.NoError(t, store.SaveDocument(ctx, d))
	}

	col := &Collection{ID: uuid.New().String(), OwnerID: "owner-1", Name: "novels"}
	require.NoError(t, store.SaveCollection(ctx, col))
	require.NoError(t, store.AddDocumentToCollection(ctx, col.ID, docA.ID))
	require.NoError(t, store.AddDocumentToCollection(ctx, col.ID, docB.ID))
	// Foreign-owned document linked in must not leak through expansion.
	require.NoError(t, store.AddDocumentToCollection(ctx, col.ID, foreign.ID))

	ids, err := store.CollectionDocumentIDs(ctx, col.ID, "owner-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{docA.ID, docB.ID}, ids)

	// Another owner expanding the same collection gets nothing.
	ids, err = store.CollectionDocumentIDs(ctx, col.ID, "owner-2")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestJobRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	job := &jobs.Job{
		ID:        uuid.New().String(),
		OwnerID:   "owner-1",
		Type:      jobs.TypeIndexBatch,
		Status:    jobs.StatusPending,
		Payload:   jobs.IndexBatchPayload{DocumentIDs: []string{"d1", "d2"}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, store.CreateJob(ctx, job))

	got, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusPending, got.Status)
	assert.Nil(t, got.Result)

	payload, ok := got.Payload.(jobs.IndexBatchPayload)
	require.True(t, ok, "payload should decode to the batch type")
	assert.Equal(t, []string{"d1", "d2"}, payload.DocumentIDs)

	got.Status = jobs.StatusCompleted
	got.Progress = 100
	got.Result = &jobs.Result{Processed: 2, Total: 2, ChunksWritten: 7, DurationMillis: 1500}
	got.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.UpdateJob(ctx, got))

	final, err := store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)
	require.NotNil(t, final.Result)
	assert.Equal(t, 7, final.Result.ChunksWritten)
}

func TestGetJob_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, jobs.ErrJobNotFound)
}

func TestSessionAndMessages(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	session := &memory.Session{ID: uuid.New().String(), OwnerID: "owner-1"}
	require.NoError(t, store.CreateSession(ctx, session))

	base := time.Now().UTC()
	for i, content := range []string{"hello", "hi there", "what about whales?"} {
		role := memory.RoleUser
		if i%2 == 1 {
			role = memory.RoleAssistant
		}
		require.NoError(t, store.AppendMessage(ctx, &memory.Message{
			ID:        uuid.New().String(),
			SessionID: session.ID,
			Role:      role,
			Content:   content,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	messages, err := store.Messages(ctx, session.ID)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "hello", messages[0].Content)
	assert.Equal(t, memory.RoleAssistant, messages[1].Role)
	assert.Equal(t, "what about whales?", messages[2].Content)

	require.NoError(t, store.UpdateSummary(ctx, session.ID, "talked about whales", 3))

	got, err := store.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, "talked about whales", got.Summary)
	assert.Equal(t, 3, got.SummarizedCount)
	assert.False(t, got.SummaryUpdatedAt.IsZero())
}

func TestUpdateSummary_MissingSession(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateSummary(context.Background(), "missing", "s", 1)
	assert.ErrorIs(t, err, ErrNotFound)
}
