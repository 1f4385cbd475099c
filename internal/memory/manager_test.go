package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessionStore struct {
	session  *Session
	messages []*Message

	updatedSummary   string
	updatedWatermark int
	updateCalls      int
	updateErr        error
}

func (f *fakeSessionStore) GetSession(_ context.Context, _ string) (*Session, error) {
	if f.session == nil {
		return nil, errors.New("session not found")
	}
	return f.session, nil
}

func (f *fakeSessionStore) Messages(_ context.Context, _ string) ([]*Message, error) {
	return f.messages, nil
}

func (f *fakeSessionStore) UpdateSummary(_ context.Context, _ string, summary string, watermark int) error {
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updateCalls++
	f.updatedSummary = summary
	f.updatedWatermark = watermark
	f.session.Summary = summary
	f.session.SummarizedCount = watermark
	return nil
}

type fakeSummarizer struct {
	summary string
	err     error

	calls        int
	gotPrevious  string
	gotMsgCounts []int
}

func (f *fakeSummarizer) Summarize(_ context.Context, previousSummary string, messages []*Message) (string, error) {
	f.calls++
	f.gotPrevious = previousSummary
	f.gotMsgCounts = append(f.gotMsgCounts, len(messages))
	if f.err != nil {
		return "", f.err
	}
	return f.summary, nil
}

func transcript(n int) []*Message {
	msgs := make([]*Message, n)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := range msgs {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		msgs[i] = &Message{
			ID:        fmt.Sprintf("msg-%03d", i),
			SessionID: "sess-1",
			Role:      role,
			Content:   fmt.Sprintf("message number %d", i),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return msgs
}

func TestShouldSummarize(t *testing.T) {
	m := NewManager(&fakeSessionStore{}, &fakeSummarizer{}, Config{}, nil)

	cases := []struct {
		count      int
		hasSummary bool
		want       bool
	}{
		{19, false, false},
		{20, false, true},
		{25, true, false},
		{30, true, true},
		{40, true, true},
		{31, true, false},
	}
	for _, tc := range cases {
		got := m.ShouldSummarize(tc.count, tc.hasSummary)
		assert.Equal(t, tc.want, got, "count=%d hasSummary=%v", tc.count, tc.hasSummary)
	}
}

func TestMaintain_FirstPass(t *testing.T) {
	store := &fakeSessionStore{
		session:  &Session{ID: "sess-1", OwnerID: "owner-a"},
		messages: transcript(20),
	}
	summarizer := &fakeSummarizer{summary: "they discussed setup"}
	m := NewManager(store, summarizer, Config{}, nil)

	require.NoError(t, m.Maintain(context.Background(), "sess-1"))

	assert.Equal(t, 1, summarizer.calls)
	// Everything except the trailing window gets summarized.
	assert.Equal(t, []int{10}, summarizer.gotMsgCounts)
	assert.Equal(t, "they discussed setup", store.updatedSummary)
	assert.Equal(t, 20, store.updatedWatermark)
}

func TestMaintain_BelowThreshold(t *testing.T) {
	store := &fakeSessionStore{
		session:  &Session{ID: "sess-1"},
		messages: transcript(19),
	}
	summarizer := &fakeSummarizer{}
	m := NewManager(store, summarizer, Config{}, nil)

	require.NoError(t, m.Maintain(context.Background(), "sess-1"))
	assert.Zero(t, summarizer.calls)
	assert.Zero(t, store.updateCalls)
}

func TestMaintain_IdempotentAtWatermark(t *testing.T) {
	store := &fakeSessionStore{
		session:  &Session{ID: "sess-1", Summary: "earlier", SummarizedCount: 20},
		messages: transcript(20),
	}
	summarizer := &fakeSummarizer{summary: "should not appear"}
	m := NewManager(store, summarizer, Config{}, nil)

	require.NoError(t, m.Maintain(context.Background(), "sess-1"))
	assert.Zero(t, summarizer.calls)
	assert.Equal(t, "earlier", store.session.Summary)
}

func TestMaintain_UpdatePassFoldsPrevious(t *testing.T) {
	store := &fakeSessionStore{
		session:  &Session{ID: "sess-1", Summary: "v1 summary", SummarizedCount: 20},
		messages: transcript(30),
	}
	summarizer := &fakeSummarizer{summary: "v2 summary"}
	m := NewManager(store, summarizer, Config{}, nil)

	require.NoError(t, m.Maintain(context.Background(), "sess-1"))

	assert.Equal(t, "v1 summary", summarizer.gotPrevious)
	assert.Equal(t, []int{20}, summarizer.gotMsgCounts)
	assert.Equal(t, "v2 summary", store.updatedSummary)
	assert.Equal(t, 30, store.updatedWatermark)
}

func TestMaintain_OffIntervalNoop(t *testing.T) {
	store := &fakeSessionStore{
		session:  &Session{ID: "sess-1", Summary: "v1", SummarizedCount: 20},
		messages: transcript(25),
	}
	summarizer := &fakeSummarizer{}
	m := NewManager(store, summarizer, Config{}, nil)

	require.NoError(t, m.Maintain(context.Background(), "sess-1"))
	assert.Zero(t, summarizer.calls)
}

func TestMaintain_ProviderFailureFallsBack(t *testing.T) {
	store := &fakeSessionStore{
		session:  &Session{ID: "sess-1"},
		messages: transcript(20),
	}
	summarizer := &fakeSummarizer{err: errors.New("rate limited")}
	m := NewManager(store, summarizer, Config{}, nil)

	require.NoError(t, m.Maintain(context.Background(), "sess-1"))

	assert.Equal(t, 1, store.updateCalls)
	assert.Contains(t, store.updatedSummary, "Topics raised:")
	assert.Contains(t, store.updatedSummary, "message number 0")
	assert.Equal(t, 20, store.updatedWatermark)
}

func TestContext_TrailingWindow(t *testing.T) {
	store := &fakeSessionStore{
		session:  &Session{ID: "sess-1", Summary: "the summary"},
		messages: transcript(30),
	}
	m := NewManager(store, &fakeSummarizer{}, Config{}, nil)

	summary, recent, err := m.Context(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "the summary", summary)
	require.Len(t, recent, DefaultRetainWindow)
	assert.Equal(t, "msg-020", recent[0].ID)
	assert.Equal(t, "msg-029", recent[len(recent)-1].ID)
}

func TestFallbackSummary_TruncatesLongTurns(t *testing.T) {
	long := strings.Repeat("a", 200)
	msgs := []*Message{
		{Role: RoleUser, Content: long},
		{Role: RoleAssistant, Content: "ignored"},
	}

	got := fallbackSummary("", msgs)
	assert.Contains(t, got, strings.Repeat("a", fallbackSnippetLen)+"...")
	assert.NotContains(t, got, "ignored")
}

func TestFallbackSummary_SnippetKeepsRunesWhole(t *testing.T) {
	// Two-byte runes on odd offsets make a naive byte cut land mid-rune.
	msgs := []*Message{
		{Role: RoleUser, Content: "a" + strings.Repeat("é", fallbackSnippetLen)},
	}

	got := fallbackSummary("", msgs)
	assert.True(t, utf8.ValidString(got), "fallback snippet must not split a multibyte rune")
	assert.Contains(t, got, "...")
}
