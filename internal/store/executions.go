package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/argus-soc/argus/internal/models"
)

// ExecutionStore persists the append-only rule execution history.
type ExecutionStore struct {
	db *sql.DB
}

// Record appends one execution row.
func (s *ExecutionStore) Record(ctx context.Context, exec *models.RuleExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_execution (id, rule_id, started_at, finished_at, duration_ms, hit_count, status, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.RuleID, formatTime(exec.StartedAt), formatTime(exec.FinishedAt),
		exec.DurationMS, exec.HitCount, string(exec.Status), exec.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

// ListByRule returns the most recent executions for a rule, newest first.
func (s *ExecutionStore) ListByRule(ctx context.Context, ruleID string, limit int) ([]*models.RuleExecution, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_id, started_at, finished_at, duration_ms, hit_count, status, error
		FROM rule_execution WHERE rule_id = ? ORDER BY started_at DESC LIMIT ?`, ruleID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	var out []*models.RuleExecution
	for rows.Next() {
		var (
			exec                 models.RuleExecution
			startedAt, finished  string
			status               string
		)
		if err := rows.Scan(&exec.ID, &exec.RuleID, &startedAt, &finished, &exec.DurationMS, &exec.HitCount, &status, &exec.Error); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		exec.StartedAt = parseStoredTime(startedAt)
		exec.FinishedAt = parseStoredTime(finished)
		exec.Status = models.ExecutionStatus(status)
		out = append(out, &exec)
	}
	return out, rows.Err()
}

// Prune deletes execution rows older than the retention horizon and returns
// the number removed.
func (s *ExecutionStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rule_execution WHERE started_at < ?`, formatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}
	return res.RowsAffected()
}
