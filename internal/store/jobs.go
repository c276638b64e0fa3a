package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	argerr "github.com/argus-soc/argus/internal/errors"
	"github.com/argus-soc/argus/internal/models"
)

// JobStore persists parsing jobs and enforces the monotonic state machine.
type JobStore struct {
	db *sql.DB
}

const jobColumns = `id, evidence_id, case_id, parser_type, parser_hint, config, submitted_by,
	priority, status, task_id, events_parsed, events_indexed, events_failed, progress_percent,
	error, results, created_at, started_at, completed_at`

// Create inserts a new job in pending state.
func (s *JobStore) Create(ctx context.Context, job *models.ParsingJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.JobPending
	}
	if job.Priority == "" {
		job.Priority = models.PriorityDefault
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parsing_job (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.EvidenceID, job.CaseID, job.ParserType, job.ParserHint,
		marshalJSON(job.Config), job.SubmittedBy, string(job.Priority), string(job.Status),
		job.TaskID, job.EventsParsed, job.EventsIndexed, job.EventsFailed, job.Progress,
		job.Error, marshalJSON(job.Results),
		formatTime(job.CreatedAt), formatTimePtr(job.StartedAt), formatTimePtr(job.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// Get loads one job by id.
func (s *JobStore) Get(ctx context.Context, id string) (*models.ParsingJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM parsing_job WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, argerr.NotFound("get_job", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job: %w", err)
	}
	return job, nil
}

// FindActiveByEvidence returns the in-flight job for an evidence id, if any.
// Used to make resubmission idempotent.
func (s *JobStore) FindActiveByEvidence(ctx context.Context, evidenceID string) (*models.ParsingJob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM parsing_job
		WHERE evidence_id = ? AND status IN (?, ?, ?)
		ORDER BY created_at DESC LIMIT 1`,
		evidenceID, string(models.JobPending), string(models.JobQueued), string(models.JobRunning))
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up active job: %w", err)
	}
	return job, nil
}

// Transition moves a job to the next status, enforcing the state machine.
// The update is conditional on the current status so concurrent transitions
// cannot skip states.
func (s *JobStore) Transition(ctx context.Context, id string, from, to models.JobStatus, mutate func(*models.ParsingJob)) error {
	if !models.ValidJobTransition(from, to) {
		return argerr.Validationf("transition_job", "invalid job transition %s -> %s", from, to)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin job transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM parsing_job WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return argerr.NotFound("transition_job", id)
	}
	if err != nil {
		return fmt.Errorf("failed to load job for transition: %w", err)
	}
	if job.Status != from {
		return argerr.Conflict("transition_job", id, fmt.Errorf("job is %s, expected %s", job.Status, from))
	}

	job.Status = to
	now := time.Now().UTC()
	if to == models.JobRunning && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if to.Terminal() && job.CompletedAt == nil {
		job.CompletedAt = &now
	}
	if mutate != nil {
		mutate(job)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE parsing_job SET status = ?, task_id = ?, error = ?, results = ?,
			events_parsed = ?, events_indexed = ?, events_failed = ?, progress_percent = ?,
			started_at = ?, completed_at = ?
		WHERE id = ?`,
		string(job.Status), job.TaskID, job.Error, marshalJSON(job.Results),
		job.EventsParsed, job.EventsIndexed, job.EventsFailed, job.Progress,
		formatTimePtr(job.StartedAt), formatTimePtr(job.CompletedAt), id,
	)
	if err != nil {
		return fmt.Errorf("failed to transition job: %w", err)
	}
	return tx.Commit()
}

// FailOrphans marks every non-terminal job as failed and returns how many
// rows changed. Run at startup: pending, queued and running rows left behind
// by a dead process have no in-memory queue entry and would otherwise block
// resubmission of their evidence indefinitely.
func (s *JobStore) FailOrphans(ctx context.Context, reason string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE parsing_job SET status = ?, error = ?, completed_at = ?
		WHERE status IN (?, ?, ?)`,
		string(models.JobFailed), reason, formatTime(time.Now().UTC()),
		string(models.JobPending), string(models.JobQueued), string(models.JobRunning))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep orphaned jobs: %w", err)
	}
	return res.RowsAffected()
}

// UpdateProgress writes chunk counters. Progress is clamped monotonic.
func (s *JobStore) UpdateProgress(ctx context.Context, id string, parsed, indexed, failed int64, progress float64) error {
	if progress > 100 {
		progress = 100
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE parsing_job SET
			events_parsed = ?, events_indexed = ?, events_failed = ?,
			progress_percent = MAX(progress_percent, ?)
		WHERE id = ?`,
		parsed, indexed, failed, progress, id)
	if err != nil {
		return fmt.Errorf("failed to update job progress: %w", err)
	}
	return nil
}

func scanJob(row rowScanner) (*models.ParsingJob, error) {
	var (
		job                  models.ParsingJob
		priority, status     string
		config, results      string
		createdAt            string
		startedAt, completed sql.NullString
	)
	err := row.Scan(
		&job.ID, &job.EvidenceID, &job.CaseID, &job.ParserType, &job.ParserHint,
		&config, &job.SubmittedBy, &priority, &status, &job.TaskID,
		&job.EventsParsed, &job.EventsIndexed, &job.EventsFailed, &job.Progress,
		&job.Error, &results, &createdAt, &startedAt, &completed,
	)
	if err != nil {
		return nil, err
	}
	job.Priority = models.JobPriority(priority)
	job.Status = models.JobStatus(status)
	job.Config = unmarshalMap(config)
	job.Results = unmarshalMap(results)
	job.CreatedAt = parseStoredTime(createdAt)
	job.StartedAt = parseStoredTimePtr(startedAt)
	job.CompletedAt = parseStoredTimePtr(completed)
	return &job, nil
}
