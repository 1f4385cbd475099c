package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/bull/docqa/internal/jobs"
	"github.com/bull/docqa/internal/memory"
	"github.com/bull/docqa/internal/metastore"
	"github.com/bull/docqa/internal/retriever"
)

// makeAskHandler creates the ask_library tool handler.
// Ask flow:
// 1. If a session id is given, record the question as a user turn
// 2. Embed the query and run the owner-scoped similarity search
// 3. Return ranked sources plus the assembled context block
// 4. Include the session's rolling summary so the client can ground
//    answers in earlier conversation
func makeAskHandler(ret *retriever.Retriever, store *metastore.Store, mem *memory.Manager, owner string) func(
	context.Context, *mcp.CallToolRequest, AskLibraryInput,
) (*mcp.CallToolResult, AskLibraryOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input AskLibraryInput) (
		*mcp.CallToolResult, AskLibraryOutput, error,
	) {
		var summary string
		if input.SessionID != "" {
			if err := recordTurn(ctx, store, owner, input.SessionID, memory.RoleUser, input.Query); err != nil {
				return nil, AskLibraryOutput{}, err
			}
			var err error
			summary, _, err = mem.Context(ctx, input.SessionID)
			if err != nil {
				return nil, AskLibraryOutput{}, fmt.Errorf("load conversation context: %w", err)
			}
		}

		result, err := ret.Retrieve(ctx, input.Query, owner, retriever.Filter{
			DocumentIDs:  input.DocumentIDs,
			CollectionID: input.CollectionID,
		}, input.MaxResults, input.MinScore)
		if err != nil {
			return nil, AskLibraryOutput{}, fmt.Errorf("retrieval failed: %w", err)
		}

		sources := result.Sources
		if sources == nil {
			sources = []retriever.Source{} // non-nil for JSON marshaling
		}

		return nil, AskLibraryOutput{
			Sources:             sources,
			ContextText:         result.ContextText,
			ConversationSummary: summary,
		}, nil
	}
}

// makeSubmitIndexHandler creates the submit_index tool handler. It
// returns as soon as the job record exists; indexing continues in the
// background.
func makeSubmitIndexHandler(sched *jobs.Scheduler, owner string) func(
	context.Context, *mcp.CallToolRequest, SubmitIndexInput,
) (*mcp.CallToolResult, SubmitIndexOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input SubmitIndexInput) (
		*mcp.CallToolResult, SubmitIndexOutput, error,
	) {
		var jobID string
		var err error
		switch {
		case input.DocumentID != "" && len(input.DocumentIDs) > 0:
			return nil, SubmitIndexOutput{}, fmt.Errorf("pass document_id or document_ids, not both")
		case input.DocumentID != "":
			jobID, err = sched.SubmitDocument(ctx, input.DocumentID, owner)
		case len(input.DocumentIDs) > 0:
			jobID, err = sched.SubmitBatch(ctx, input.DocumentIDs, owner)
		default:
			return nil, SubmitIndexOutput{}, fmt.Errorf("document_id or document_ids is required")
		}
		if err != nil {
			return nil, SubmitIndexOutput{}, fmt.Errorf("submit failed: %w", err)
		}

		return nil, SubmitIndexOutput{JobID: jobID}, nil
	}
}

// makeJobStatusHandler creates the get_job_status tool handler.
func makeJobStatusHandler(sched *jobs.Scheduler, owner string) func(
	context.Context, *mcp.CallToolRequest, JobStatusInput,
) (*mcp.CallToolResult, JobStatusOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input JobStatusInput) (
		*mcp.CallToolResult, JobStatusOutput, error,
	) {
		job, err := sched.Status(ctx, input.JobID)
		if err != nil {
			if errors.Is(err, jobs.ErrJobNotFound) {
				return nil, JobStatusOutput{}, fmt.Errorf("job %s not found", input.JobID)
			}
			return nil, JobStatusOutput{}, fmt.Errorf("status lookup failed: %w", err)
		}
		if job.OwnerID != owner {
			return nil, JobStatusOutput{}, fmt.Errorf("job %s not found", input.JobID)
		}

		out := JobStatusOutput{
			JobID:    job.ID,
			Status:   string(job.Status),
			Progress: job.Progress,
		}
		if job.Result != nil {
			out.Processed = job.Result.Processed
			out.Failed = job.Result.Failed
			out.Total = job.Result.Total
			out.ChunksWritten = job.Result.ChunksWritten
			out.ChunksFailed = job.Result.ChunksFailed
			out.Error = job.Result.Error
		}
		return nil, out, nil
	}
}

// makeCancelJobHandler creates the cancel_job tool handler.
func makeCancelJobHandler(sched *jobs.Scheduler, owner string) func(
	context.Context, *mcp.CallToolRequest, CancelJobInput,
) (*mcp.CallToolResult, CancelJobOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input CancelJobInput) (
		*mcp.CallToolResult, CancelJobOutput, error,
	) {
		job, err := sched.Status(ctx, input.JobID)
		if err != nil || job.OwnerID != owner {
			return nil, CancelJobOutput{}, fmt.Errorf("job %s not found", input.JobID)
		}

		if err := sched.Cancel(ctx, input.JobID); err != nil {
			return nil, CancelJobOutput{}, fmt.Errorf("cancel failed: %w", err)
		}
		return nil, CancelJobOutput{Cancelled: true}, nil
	}
}

// makeListDocumentsHandler creates the list_documents tool handler.
func makeListDocumentsHandler(store *metastore.Store, owner string) func(
	context.Context, *mcp.CallToolRequest, ListDocumentsInput,
) (*mcp.CallToolResult, ListDocumentsOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input ListDocumentsInput) (
		*mcp.CallToolResult, ListDocumentsOutput, error,
	) {
		docs, err := store.ListDocuments(ctx, owner)
		if err != nil {
			return nil, ListDocumentsOutput{}, fmt.Errorf("failed to list documents: %w", err)
		}

		infos := make([]DocumentInfo, 0, len(docs))
		for _, doc := range docs {
			infos = append(infos, DocumentInfo{
				ID:        doc.ID,
				Title:     doc.Title,
				UpdatedAt: doc.UpdatedAt.Format(time.RFC3339),
			})
		}
		return nil, ListDocumentsOutput{Documents: infos, Count: len(infos)}, nil
	}
}

// makeLogMessageHandler creates the log_message tool handler. Clients
// record assistant turns with it so summarization sees both sides of
// the conversation.
func makeLogMessageHandler(store *metastore.Store, owner string) func(
	context.Context, *mcp.CallToolRequest, LogMessageInput,
) (*mcp.CallToolResult, LogMessageOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input LogMessageInput) (
		*mcp.CallToolResult, LogMessageOutput, error,
	) {
		role := memory.Role(input.Role)
		if role != memory.RoleUser && role != memory.RoleAssistant {
			return nil, LogMessageOutput{}, fmt.Errorf("role must be user or assistant")
		}

		id, err := appendMessage(ctx, store, owner, input.SessionID, role, input.Content)
		if err != nil {
			return nil, LogMessageOutput{}, err
		}
		return nil, LogMessageOutput{MessageID: id}, nil
	}
}

// makeMaintainHandler creates the maintain_conversation tool handler.
// The pass is idempotent, so clients may call it after every turn.
func makeMaintainHandler(mem *memory.Manager, store *metastore.Store, owner string) func(
	context.Context, *mcp.CallToolRequest, MaintainConversationInput,
) (*mcp.CallToolResult, MaintainConversationOutput, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, input MaintainConversationInput) (
		*mcp.CallToolResult, MaintainConversationOutput, error,
	) {
		session, err := store.GetSession(ctx, input.SessionID)
		if err != nil || session.OwnerID != owner {
			return nil, MaintainConversationOutput{}, fmt.Errorf("session %s not found", input.SessionID)
		}

		if err := mem.Maintain(ctx, input.SessionID); err != nil {
			return nil, MaintainConversationOutput{}, fmt.Errorf("maintenance failed: %w", err)
		}

		summary, recent, err := mem.Context(ctx, input.SessionID)
		if err != nil {
			return nil, MaintainConversationOutput{}, fmt.Errorf("load conversation context: %w", err)
		}
		return nil, MaintainConversationOutput{
			Summary:        summary,
			RecentMessages: len(recent),
		}, nil
	}
}

// recordTurn appends a message, creating the session on first use.
func recordTurn(ctx context.Context, store *metastore.Store, owner, sessionID string, role memory.Role, content string) error {
	_, err := appendMessage(ctx, store, owner, sessionID, role, content)
	return err
}

func appendMessage(ctx context.Context, store *metastore.Store, owner, sessionID string, role memory.Role, content string) (string, error) {
	if err := resolveSession(ctx, store, owner, sessionID); err != nil {
		return "", err
	}

	msg := &memory.Message{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
	}
	if err := store.AppendMessage(ctx, msg); err != nil {
		return "", fmt.Errorf("record message: %w", err)
	}
	return msg.ID, nil
}

// resolveSession creates the session on first use and verifies ownership
// of an existing one. A foreign session reads as not found, like jobs do.
func resolveSession(ctx context.Context, store *metastore.Store, owner, sessionID string) error {
	session, err := store.GetSession(ctx, sessionID)
	if errors.Is(err, metastore.ErrNotFound) {
		if err := store.CreateSession(ctx, &memory.Session{ID: sessionID, OwnerID: owner}); err != nil {
			return fmt.Errorf("session %s: %w", sessionID, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("session %s: %w", sessionID, err)
	}
	if session.OwnerID != owner {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return nil
}
