package metastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/bull/docqa/internal/memory"
)

var _ memory.SessionStore = (*Store)(nil)

// CreateSession inserts a new conversation session.
func (s *Store) CreateSession(ctx context.Context, session *memory.Session) error {
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, owner_id, summary, summary_updated_at, summarized_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, session.ID, session.OwnerID, session.Summary,
		nullTime(session.SummaryUpdatedAt), session.SummarizedCount, session.CreatedAt)

	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID. Returns ErrNotFound if absent.
func (s *Store) GetSession(ctx context.Context, id string) (*memory.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, summary, summary_updated_at, summarized_count, created_at
		FROM sessions WHERE id = ?
	`, id)

	var session memory.Session
	var summaryUpdatedAt sql.NullTime
	if err := row.Scan(&session.ID, &session.OwnerID, &session.Summary,
		&summaryUpdatedAt, &session.SummarizedCount, &session.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	if summaryUpdatedAt.Valid {
		session.SummaryUpdatedAt = summaryUpdatedAt.Time
	}

	return &session, nil
}

// AppendMessage stores a new message at the end of a session's history.
func (s *Store) AppendMessage(ctx context.Context, msg *memory.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, session_id, role, content, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, msg.ID, msg.SessionID, string(msg.Role), msg.Content, msg.CreatedAt)

	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// Messages returns a session's messages in chronological order.
func (s *Store) Messages(ctx context.Context, sessionID string) ([]*memory.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at, id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	var messages []*memory.Message
	for rows.Next() {
		msg := &memory.Message{}
		var role string
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Role = memory.Role(role)
		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return messages, nil
}

// UpdateSummary replaces a session's summary and advances its
// message-count watermark in one statement.
func (s *Store) UpdateSummary(ctx context.Context, sessionID, summary string, watermark int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET summary = ?, summary_updated_at = ?, summarized_count = ?
		WHERE id = ?
	`, summary, time.Now().UTC(), watermark, sessionID)
	if err != nil {
		return fmt.Errorf("updating summary: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking summary update: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t, Valid: true}
}
