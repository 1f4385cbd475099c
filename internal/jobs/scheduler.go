package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bull/docqa/internal/indexer"
)

const (
	// DefaultMaxWorkers bounds how many jobs run concurrently. Submitted
	// jobs beyond the bound stay PENDING until a slot frees up.
	DefaultMaxWorkers = 4

	// progressEvery is the batch progress cadence: update every N
	// documents and on the last one.
	progressEvery = 5
)

// DocumentIndexer is the per-document reindex operation jobs execute.
type DocumentIndexer interface {
	ReindexDocument(ctx context.Context, documentID, ownerID string) (*indexer.Outcome, error)
}

// Scheduler runs indexing work as detached background jobs with durable
// status/progress records. Submitting returns as soon as the PENDING
// record exists; the submitter may disconnect and poll later.
type Scheduler struct {
	store   Store
	indexer DocumentIndexer
	logger  *slog.Logger

	slots chan struct{}
	wg    sync.WaitGroup
}

// NewScheduler creates a Scheduler with a bounded worker pool.
// If maxWorkers is 0, DefaultMaxWorkers is used.
func NewScheduler(store Store, ix DocumentIndexer, maxWorkers int, logger *slog.Logger) *Scheduler {
	if maxWorkers <= 0 {
		maxWorkers = DefaultMaxWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:   store,
		indexer: ix,
		logger:  logger,
		slots:   make(chan struct{}, maxWorkers),
	}
}

// SubmitDocument creates a single-document index job and returns its id.
func (s *Scheduler) SubmitDocument(ctx context.Context, documentID, ownerID string) (string, error) {
	return s.submit(ctx, ownerID, TypeIndexDocument, IndexDocumentPayload{DocumentID: documentID})
}

// SubmitBatch creates a batch index job over the given documents and
// returns its id.
func (s *Scheduler) SubmitBatch(ctx context.Context, documentIDs []string, ownerID string) (string, error) {
	if len(documentIDs) == 0 {
		return "", fmt.Errorf("batch job needs at least one document")
	}
	return s.submit(ctx, ownerID, TypeIndexBatch, IndexBatchPayload{DocumentIDs: documentIDs})
}

func (s *Scheduler) submit(ctx context.Context, ownerID string, t Type, payload Payload) (string, error) {
	now := time.Now().UTC()
	job := &Job{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Type:      t,
		Status:    StatusPending,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// The record is created synchronously so the caller can poll the id
	// it gets back immediately.
	if err := s.store.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job record: %w", err)
	}

	s.wg.Add(1)
	go s.run(job)

	return job.ID, nil
}

// Status returns a job's current status, progress, and result.
// Pure read, safe to poll at any rate.
func (s *Scheduler) Status(ctx context.Context, jobID string) (*Job, error) {
	return s.store.GetJob(ctx, jobID)
}

// Cancel marks a job FAILED with a cancelled result. Advisory only: it
// does not interrupt in-flight network calls or writes already dispatched.
// Cancelling a terminal job is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, jobID string) error {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}

	job.Status = StatusFailed
	job.Result = &Result{Error: "cancelled"}
	job.UpdatedAt = time.Now().UTC()
	return s.store.UpdateJob(ctx, job)
}

// Wait blocks until all in-flight jobs have finished. Used for graceful
// shutdown and in tests.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// run executes one job detached from the submitting request. Any error or
// panic escaping the work transitions the job to FAILED; a job is never
// left PROCESSING forever.
func (s *Scheduler) run(job *Job) {
	defer s.wg.Done()

	s.slots <- struct{}{}
	defer func() { <-s.slots }()

	// Detached from the submitter's request context on purpose.
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Job panicked", "job", job.ID, "panic", r)
			s.finalize(ctx, job, StatusFailed, &Result{Error: fmt.Sprintf("panic: %v", r)})
		}
	}()

	if !s.transition(ctx, job, StatusProcessing) {
		return // cancelled before it started
	}

	var result *Result
	var err error
	switch payload := job.Payload.(type) {
	case IndexDocumentPayload:
		result, err = s.runDocument(ctx, job, payload)
	case IndexBatchPayload:
		result, err = s.runBatch(ctx, job, payload)
	default:
		err = fmt.Errorf("unknown payload type %T", job.Payload)
	}

	if err != nil {
		s.logger.Warn("Job failed", "job", job.ID, "error", err)
		if result == nil {
			result = &Result{}
		}
		result.Error = err.Error()
		s.finalize(ctx, job, StatusFailed, result)
		return
	}

	s.finalize(ctx, job, StatusCompleted, result)
}

// runDocument reindexes a single document. An empty or missing document
// completes the job with zero chunks rather than failing it.
func (s *Scheduler) runDocument(ctx context.Context, job *Job, payload IndexDocumentPayload) (*Result, error) {
	start := time.Now()

	outcome, err := s.indexer.ReindexDocument(ctx, payload.DocumentID, job.OwnerID)
	if err != nil {
		return nil, err
	}

	return &Result{
		Processed:      1,
		Total:          1,
		ChunksWritten:  outcome.ChunksWritten,
		ChunksFailed:   outcome.ChunksFailed,
		DurationMillis: time.Since(start).Milliseconds(),
	}, nil
}

// runBatch reindexes documents sequentially. A per-document failure
// increments the failed count but does not stop the loop.
func (s *Scheduler) runBatch(ctx context.Context, job *Job, payload IndexBatchPayload) (*Result, error) {
	start := time.Now()
	total := len(payload.DocumentIDs)
	result := &Result{Total: total}

	for i, documentID := range payload.DocumentIDs {
		outcome, err := s.indexer.ReindexDocument(ctx, documentID, job.OwnerID)
		if err != nil {
			s.logger.Warn("Batch document failed", "job", job.ID, "document", documentID, "error", err)
			result.Failed++
		} else {
			result.Processed++
			result.ChunksWritten += outcome.ChunksWritten
			result.ChunksFailed += outcome.ChunksFailed
		}

		done := i + 1
		if done%progressEvery == 0 || done == total {
			if !s.updateProgress(ctx, job, done*100/total) {
				// Cancelled mid-batch; stop between documents.
				result.DurationMillis = time.Since(start).Milliseconds()
				return result, nil
			}
		}
	}

	result.DurationMillis = time.Since(start).Milliseconds()
	return result, nil
}

// updateProgress persists a new progress value. Progress never decreases,
// and a record that went terminal meanwhile (advisory cancel) is never
// overwritten. Returns false when the stored record is terminal.
func (s *Scheduler) updateProgress(ctx context.Context, job *Job, progress int) bool {
	current, err := s.store.GetJob(ctx, job.ID)
	if err == nil && current.Status.Terminal() {
		return false
	}

	if progress <= job.Progress {
		return true
	}
	job.Progress = progress
	job.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateJob(ctx, job); err != nil {
		s.logger.Warn("Progress update failed", "job", job.ID, "error", err)
	}
	return true
}

// transition moves a non-terminal job to the given status. Returns false
// if the stored record is already terminal (e.g. cancelled meanwhile).
func (s *Scheduler) transition(ctx context.Context, job *Job, status Status) bool {
	current, err := s.store.GetJob(ctx, job.ID)
	if err == nil && current.Status.Terminal() {
		return false
	}

	job.Status = status
	job.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateJob(ctx, job); err != nil {
		s.logger.Warn("Status update failed", "job", job.ID, "error", err)
	}
	return true
}

// finalize writes the terminal state exactly once: a job already terminal
// in the store (cancelled, or failed from the panic handler) is left alone.
func (s *Scheduler) finalize(ctx context.Context, job *Job, status Status, result *Result) {
	current, err := s.store.GetJob(ctx, job.ID)
	if err == nil && current.Status.Terminal() {
		return
	}

	job.Status = status
	job.Result = result
	if status == StatusCompleted {
		job.Progress = 100
	}
	job.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateJob(ctx, job); err != nil {
		s.logger.Error("Failed to record terminal job state", "job", job.ID, "error", err)
	}
}
