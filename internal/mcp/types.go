// Package mcp exposes the document library over the Model Context Protocol.
package mcp

import "github.com/bull/docqa/internal/retriever"

// AskLibraryInput defines the input parameters for the ask_library tool.
type AskLibraryInput struct {
	// Query is the natural-language question to search the library with.
	Query string `json:"query" jsonschema:"required,description=Natural-language question to search the library with"`
	// SessionID ties the question to a conversation for memory tracking.
	SessionID string `json:"session_id,omitempty" jsonschema:"description=Optional conversation session id; the question is recorded as a user turn"`
	// DocumentIDs restricts the search to specific documents.
	DocumentIDs []string `json:"document_ids,omitempty" jsonschema:"description=Restrict the search to these document ids"`
	// CollectionID restricts the search to one collection. Ignored when
	// DocumentIDs is set.
	CollectionID string `json:"collection_id,omitempty" jsonschema:"description=Restrict the search to one collection (ignored when document_ids is set)"`
	// MaxResults is the maximum number of chunks to return.
	MaxResults int `json:"max_results,omitempty" jsonschema:"minimum=1,maximum=20,default=5,description=Maximum number of chunks to return"`
	// MinScore is the minimum similarity threshold (0-1).
	MinScore float64 `json:"min_score,omitempty" jsonschema:"minimum=0,maximum=1,description=Minimum similarity score threshold (0-1)"`
}

// AskLibraryOutput contains the retrieved context.
type AskLibraryOutput struct {
	// Sources is the ranked list of matching chunks with attribution.
	Sources []retriever.Source `json:"sources"`
	// ContextText is the assembled context block to ground an answer on.
	ContextText string `json:"context_text"`
	// ConversationSummary is the session's rolling summary, if any.
	ConversationSummary string `json:"conversation_summary,omitempty"`
}

// SubmitIndexInput defines the input parameters for the submit_index tool.
type SubmitIndexInput struct {
	// DocumentID indexes a single document.
	DocumentID string `json:"document_id,omitempty" jsonschema:"description=Single document id to index"`
	// DocumentIDs indexes several documents in one batch job.
	DocumentIDs []string `json:"document_ids,omitempty" jsonschema:"description=Document ids to index as one batch job"`
}

// SubmitIndexOutput returns the created job id.
type SubmitIndexOutput struct {
	// JobID identifies the background job; poll get_job_status with it.
	JobID string `json:"job_id"`
}

// JobStatusInput defines the input parameters for the get_job_status tool.
type JobStatusInput struct {
	// JobID is the job to inspect.
	JobID string `json:"job_id" jsonschema:"required,description=The job id returned by submit_index"`
}

// JobStatusOutput reports a job's current state.
type JobStatusOutput struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	// Processed, Failed, and Total are document counts for batch jobs.
	Processed     int    `json:"processed,omitempty"`
	Failed        int    `json:"failed,omitempty"`
	Total         int    `json:"total,omitempty"`
	ChunksWritten int    `json:"chunks_written,omitempty"`
	ChunksFailed  int    `json:"chunks_failed,omitempty"`
	Error         string `json:"error,omitempty"`
}

// CancelJobInput defines the input parameters for the cancel_job tool.
type CancelJobInput struct {
	// JobID is the job to cancel.
	JobID string `json:"job_id" jsonschema:"required,description=The job id to cancel"`
}

// CancelJobOutput confirms the cancellation request.
type CancelJobOutput struct {
	// Cancelled is true when the request was accepted. Cancellation is
	// advisory: work already dispatched may still complete.
	Cancelled bool `json:"cancelled"`
}

// ListDocumentsInput defines the input parameters for the list_documents
// tool. It takes no parameters.
type ListDocumentsInput struct{}

// DocumentInfo describes one library document.
type DocumentInfo struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	UpdatedAt string `json:"updated_at"`
}

// ListDocumentsOutput contains the owner's documents.
type ListDocumentsOutput struct {
	Documents []DocumentInfo `json:"documents"`
	Count     int            `json:"count"`
}

// LogMessageInput defines the input parameters for the log_message tool.
type LogMessageInput struct {
	// SessionID is the conversation the message belongs to.
	SessionID string `json:"session_id" jsonschema:"required,description=Conversation session id"`
	// Role is "user" or "assistant".
	Role string `json:"role" jsonschema:"required,description=Message role: user or assistant"`
	// Content is the message text.
	Content string `json:"content" jsonschema:"required,description=The message text"`
}

// LogMessageOutput confirms the recorded message.
type LogMessageOutput struct {
	MessageID string `json:"message_id"`
}

// MaintainConversationInput defines the input parameters for the
// maintain_conversation tool.
type MaintainConversationInput struct {
	// SessionID is the conversation to maintain.
	SessionID string `json:"session_id" jsonschema:"required,description=Conversation session id to run a summary pass over"`
}

// MaintainConversationOutput reports the session's memory state after
// the pass.
type MaintainConversationOutput struct {
	// Summary is the current rolling summary, possibly unchanged.
	Summary string `json:"summary,omitempty"`
	// RecentMessages is how many trailing messages remain verbatim.
	RecentMessages int `json:"recent_messages"`
}
