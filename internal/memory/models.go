// Package memory keeps a conversation session's history within a bounded
// context by periodically summarizing older turns.
package memory

import "time"

// Role identifies who produced a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single conversation turn.
type Message struct {
	ID        string
	SessionID string
	Role      Role
	Content   string
	CreatedAt time.Time
}

// Session is a conversational session with its running summary state.
// Summary, when present, covers exactly the messages older than the
// retained trailing window at the time it was generated.
type Session struct {
	ID               string
	OwnerID          string
	Summary          string    // empty until first summarization
	SummaryUpdatedAt time.Time // zero until first summarization
	SummarizedCount  int       // message-count watermark at last summary update
	CreatedAt        time.Time
}
