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

// ActionStore persists response actions.
type ActionStore struct {
	db *sql.DB
}

const actionColumns = `id, tenant_id, user_id, case_id, action_type, status, client_id, hostname,
	target_details, reason, job_id, result, error_message, correlation_id,
	created_at, started_at, completed_at`

// Create inserts a new response action in pending state.
func (s *ActionStore) Create(ctx context.Context, a *models.ResponseAction) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = models.ActionPending
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO response_action (`+actionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.UserID, a.CaseID, string(a.ActionType), string(a.Status),
		a.ClientID, a.Hostname, marshalJSON(a.TargetDetails), a.Reason, a.JobID,
		marshalJSON(a.Result), a.ErrorMessage, a.CorrelationID,
		formatTime(a.CreatedAt), formatTimePtr(a.StartedAt), formatTimePtr(a.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert response action: %w", err)
	}
	return nil
}

// Get loads one response action by id.
func (s *ActionStore) Get(ctx context.Context, id string) (*models.ResponseAction, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM response_action WHERE id = ?`, id)
	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, argerr.NotFound("get_action", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load response action: %w", err)
	}
	return a, nil
}

// Update rewrites the mutable action fields (status, timestamps, result).
func (s *ActionStore) Update(ctx context.Context, a *models.ResponseAction) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE response_action SET status = ?, job_id = ?, result = ?, error_message = ?,
			started_at = ?, completed_at = ?
		WHERE id = ?`,
		string(a.Status), a.JobID, marshalJSON(a.Result), a.ErrorMessage,
		formatTimePtr(a.StartedAt), formatTimePtr(a.CompletedAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update response action: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return argerr.NotFound("update_action", a.ID)
	}
	return nil
}

// ListByClient returns actions targeting a client, newest first.
func (s *ActionStore) ListByClient(ctx context.Context, clientID string, limit int) ([]*models.ResponseAction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+` FROM response_action
		WHERE client_id = ? ORDER BY created_at DESC LIMIT ?`, clientID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list response actions: %w", err)
	}
	defer rows.Close()

	var out []*models.ResponseAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan response action: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAction(row rowScanner) (*models.ResponseAction, error) {
	var (
		a                    models.ResponseAction
		caseID               sql.NullString
		actionType, status   string
		target, result       string
		createdAt            string
		startedAt, completed sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.TenantID, &a.UserID, &caseID, &actionType, &status, &a.ClientID, &a.Hostname,
		&target, &a.Reason, &a.JobID, &result, &a.ErrorMessage, &a.CorrelationID,
		&createdAt, &startedAt, &completed,
	)
	if err != nil {
		return nil, err
	}
	if caseID.Valid && caseID.String != "" {
		v := caseID.String
		a.CaseID = &v
	}
	a.ActionType = models.ResponseActionType(actionType)
	a.Status = models.ActionStatus(status)
	a.TargetDetails = unmarshalMap(target)
	a.Result = unmarshalMap(result)
	a.CreatedAt = parseStoredTime(createdAt)
	a.StartedAt = parseStoredTimePtr(startedAt)
	a.CompletedAt = parseStoredTimePtr(completed)
	return &a, nil
}

// AuditStore persists the audit trail.
type AuditStore struct {
	db *sql.DB
}

// Record appends one audit entry.
func (s *AuditStore) Record(ctx context.Context, e *models.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, timestamp, tenant_id, user_id, action, target, success, correlation_id, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.Timestamp), e.TenantID, e.UserID, e.Action, e.Target,
		boolToInt(e.Success), e.CorrelationID, marshalJSON(e.Details),
	)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// ListByCorrelation returns all audit entries sharing a correlation id.
func (s *AuditStore) ListByCorrelation(ctx context.Context, correlationID string) ([]*models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, tenant_id, user_id, action, target, success, correlation_id, details
		FROM audit_log WHERE correlation_id = ? ORDER BY timestamp`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*models.AuditEntry
	for rows.Next() {
		var (
			e         models.AuditEntry
			timestamp string
			success   int
			details   string
		)
		if err := rows.Scan(&e.ID, &timestamp, &e.TenantID, &e.UserID, &e.Action, &e.Target, &success, &e.CorrelationID, &details); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		e.Timestamp = parseStoredTime(timestamp)
		e.Success = success != 0
		e.Details = unmarshalMap(details)
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Prune deletes audit entries older than the retention horizon.
func (s *AuditStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_log WHERE timestamp < ?`, formatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to prune audit entries: %w", err)
	}
	return res.RowsAffected()
}
