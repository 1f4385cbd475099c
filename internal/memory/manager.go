package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultRetainWindow is how many trailing messages stay verbatim
	// and are never folded into the summary.
	DefaultRetainWindow = 10

	// DefaultTriggerThreshold is the message count at which the first
	// summarization runs.
	DefaultTriggerThreshold = 20

	// DefaultUpdateInterval is how many messages accumulate between
	// summary refreshes once a summary exists.
	DefaultUpdateInterval = 10
)

// SessionStore is the persistence the manager needs: session metadata,
// the full ordered transcript, and the summary watermark update.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	Messages(ctx context.Context, sessionID string) ([]*Message, error)
	UpdateSummary(ctx context.Context, sessionID, summary string, watermark int) error
}

// Summarizer condenses older messages into a rolling summary.
type Summarizer interface {
	Summarize(ctx context.Context, previousSummary string, messages []*Message) (string, error)
}

// Config tunes when summarization triggers and how much recent
// conversation stays verbatim.
type Config struct {
	RetainWindow     int
	TriggerThreshold int
	UpdateInterval   int
}

func (c Config) withDefaults() Config {
	if c.RetainWindow <= 0 {
		c.RetainWindow = DefaultRetainWindow
	}
	if c.TriggerThreshold <= 0 {
		c.TriggerThreshold = DefaultTriggerThreshold
	}
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = DefaultUpdateInterval
	}
	return c
}

// Manager maintains per-session conversation memory: a rolling summary
// of older turns plus a verbatim window of recent ones.
type Manager struct {
	store      SessionStore
	summarizer Summarizer
	cfg        Config
	logger     *slog.Logger
}

func NewManager(store SessionStore, summarizer Summarizer, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:      store,
		summarizer: summarizer,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// ShouldSummarize reports whether a session with the given message count
// is due for a summary pass. The first pass runs at the trigger
// threshold; later passes run every UpdateInterval messages after it.
func (m *Manager) ShouldSummarize(messageCount int, hasSummary bool) bool {
	if !hasSummary {
		return messageCount >= m.cfg.TriggerThreshold
	}
	return messageCount >= m.cfg.TriggerThreshold &&
		(messageCount-m.cfg.TriggerThreshold)%m.cfg.UpdateInterval == 0
}

// Maintain runs one summary pass over a session if it is due. Everything
// except the trailing RetainWindow messages is folded into the summary.
// The pass is idempotent: a session whose message count has not moved
// past the stored watermark is left untouched, so callers may invoke it
// after every turn.
func (m *Manager) Maintain(ctx context.Context, sessionID string) error {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", sessionID, err)
	}

	messages, err := m.store.Messages(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load messages for %s: %w", sessionID, err)
	}

	count := len(messages)
	if count == session.SummarizedCount {
		return nil
	}
	if !m.ShouldSummarize(count, session.Summary != "") {
		return nil
	}

	cut := count - m.cfg.RetainWindow
	if cut <= 0 {
		return nil
	}
	older := messages[:cut]

	summary, err := m.summarizer.Summarize(ctx, session.Summary, older)
	if err != nil {
		// The conversation must keep flowing even when the provider is
		// down, so fall back to a local digest instead of failing.
		m.logger.Warn("Summarization failed, using fallback", "session", sessionID, "error", err)
		summary = fallbackSummary(session.Summary, older)
	}

	if err := m.store.UpdateSummary(ctx, sessionID, summary, count); err != nil {
		return fmt.Errorf("store summary for %s: %w", sessionID, err)
	}

	m.logger.Info("Session summary updated", "session", sessionID, "summarized", count-m.cfg.RetainWindow, "watermark", count)
	return nil
}

// Context returns what a prompt should carry for a session: the rolling
// summary (possibly empty) and the verbatim trailing window.
func (m *Manager) Context(ctx context.Context, sessionID string) (summary string, recent []*Message, err error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return "", nil, fmt.Errorf("load session %s: %w", sessionID, err)
	}

	messages, err := m.store.Messages(ctx, sessionID)
	if err != nil {
		return "", nil, fmt.Errorf("load messages for %s: %w", sessionID, err)
	}

	if len(messages) > m.cfg.RetainWindow {
		messages = messages[len(messages)-m.cfg.RetainWindow:]
	}
	return session.Summary, messages, nil
}

const fallbackSnippetLen = 80

// fallbackSummary builds a crude extractive digest from user turns when
// the summarization provider is unavailable.
func fallbackSummary(previous string, older []*Message) string {
	var topics []string
	for _, msg := range older {
		if msg.Role != RoleUser {
			continue
		}
		snippet := strings.TrimSpace(msg.Content)
		if snippet == "" {
			continue
		}
		if len(snippet) > fallbackSnippetLen {
			cut := fallbackSnippetLen
			for cut > 0 && !utf8.RuneStart(snippet[cut]) {
				cut--
			}
			snippet = snippet[:cut] + "..."
		}
		topics = append(topics, snippet)
	}

	var sb strings.Builder
	if previous != "" {
		sb.WriteString(previous)
		sb.WriteString("\n")
	}
	sb.WriteString("Topics raised: ")
	if len(topics) == 0 {
		sb.WriteString("(none)")
	} else {
		sb.WriteString(strings.Join(topics, "; "))
	}
	return sb.String()
}
