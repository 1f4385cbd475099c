package metastore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/bull/docqa/internal/jobs"
)

// Job store. Payloads and results are stored as JSON, decoded back through
// the job type's tagged union.

var _ jobs.Store = (*Store)(nil)

// CreateJob inserts a new job record.
func (s *Store) CreateJob(ctx context.Context, job *jobs.Job) error {
	payloadJSON, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("marshalling payload: %w", err)
	}

	resultJSON, err := marshalResult(job.Result)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, owner_id, type, status, progress, payload, result, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.OwnerID, string(job.Type), string(job.Status), job.Progress,
		string(payloadJSON), resultJSON, job.CreatedAt, job.UpdatedAt)

	if err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID. Returns jobs.ErrJobNotFound if absent.
func (s *Store) GetJob(ctx context.Context, id string) (*jobs.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, type, status, progress, payload, result, created_at, updated_at
		FROM jobs WHERE id = ?
	`, id)

	var job jobs.Job
	var jobType, status, payloadJSON string
	var resultJSON sql.NullString
	if err := row.Scan(&job.ID, &job.OwnerID, &jobType, &status, &job.Progress,
		&payloadJSON, &resultJSON, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, jobs.ErrJobNotFound
		}
		return nil, fmt.Errorf("scanning job: %w", err)
	}

	job.Type = jobs.Type(jobType)
	job.Status = jobs.Status(status)

	payload, err := jobs.UnmarshalPayload(job.Type, []byte(payloadJSON))
	if err != nil {
		return nil, err
	}
	job.Payload = payload

	if resultJSON.Valid && resultJSON.String != "" {
		var result jobs.Result
		if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
			return nil, fmt.Errorf("unmarshaling result: %w", err)
		}
		job.Result = &result
	}

	return &job, nil
}

// UpdateJob persists status, progress, and result changes for a job.
func (s *Store) UpdateJob(ctx context.Context, job *jobs.Job) error {
	resultJSON, err := marshalResult(job.Result)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, progress = ?, result = ?, updated_at = ?
		WHERE id = ?
	`, string(job.Status), job.Progress, resultJSON, job.UpdatedAt, job.ID)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking job update: %w", err)
	}
	if affected == 0 {
		return jobs.ErrJobNotFound
	}
	return nil
}

func marshalResult(result *jobs.Result) (sql.NullString, error) {
	if result == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshalling result: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
