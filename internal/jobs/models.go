// Package jobs wraps indexing work in trackable, polled background jobs.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrJobNotFound is returned when a job id has no stored record.
var ErrJobNotFound = errors.New("job not found")

// Status is the lifecycle state of a job.
// Valid transitions: PENDING -> PROCESSING -> {COMPLETED, FAILED}.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Type identifies the kind of work a job carries.
type Type string

const (
	TypeIndexDocument Type = "index_document"
	TypeIndexBatch    Type = "index_batch"
)

// Payload is the typed work description for a job. Each job type has its
// own payload shape.
type Payload interface {
	jobPayload()
}

// IndexDocumentPayload describes a single-document reindex.
type IndexDocumentPayload struct {
	DocumentID string `json:"document_id"`
}

func (IndexDocumentPayload) jobPayload() {}

// IndexBatchPayload describes a sequential reindex of multiple documents.
type IndexBatchPayload struct {
	DocumentIDs []string `json:"document_ids"`
}

func (IndexBatchPayload) jobPayload() {}

// UnmarshalPayload decodes a stored payload according to the job type.
func UnmarshalPayload(t Type, data []byte) (Payload, error) {
	switch t {
	case TypeIndexDocument:
		var p IndexDocumentPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return p, nil
	case TypeIndexBatch:
		var p IndexBatchPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", t, err)
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown job type %q", t)
	}
}

// Result is the outcome summary recorded when a job reaches a terminal state.
type Result struct {
	Processed      int    `json:"processed"`
	Failed         int    `json:"failed"`
	Total          int    `json:"total"`
	ChunksWritten  int    `json:"chunks_written"`
	ChunksFailed   int    `json:"chunks_failed"`
	DurationMillis int64  `json:"duration_ms"`
	Error          string `json:"error,omitempty"`
}

// Job is a trackable unit of asynchronous background work. The record is
// created synchronously at submit time so a caller can poll immediately.
type Job struct {
	ID        string
	OwnerID   string
	Type      Type
	Status    Status
	Progress  int // 0-100, monotonically non-decreasing while PROCESSING
	Payload   Payload
	Result    *Result
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the durable job record CRUD the scheduler runs against.
type Store interface {
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	UpdateJob(ctx context.Context, job *Job) error
}
