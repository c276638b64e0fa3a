package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	argerr "github.com/argus-soc/argus/internal/errors"
	"github.com/argus-soc/argus/internal/models"
)

// RuleStore persists detection rules.
type RuleStore struct {
	db *sql.DB
}

const ruleColumns = `id, tenant_id, name, description, rule_type, severity, query, indices,
	status, schedule_interval_s, lookback_s, threshold_count, threshold_field, correlation,
	mitre_tactics, mitre_techniques, tags, hit_count, consecutive_failures,
	last_run_at, last_hit_at, created_at, updated_at`

// Create inserts a new rule. Duplicate (tenant, name) pairs conflict.
func (s *RuleStore) Create(ctx context.Context, rule *models.DetectionRule) error {
	if err := rule.Validate(); err != nil {
		return argerr.Validation("create_rule", err)
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	var correlation interface{}
	if rule.Correlation != nil {
		correlation = marshalJSON(rule.Correlation)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO detection_rule (`+ruleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.TenantID, rule.Name, rule.Description, string(rule.RuleType), rule.Severity,
		rule.Query, marshalJSON(rule.Indices), string(rule.Status),
		rule.ScheduleIntervalS, rule.LookbackS, rule.ThresholdCount, rule.ThresholdField, correlation,
		marshalJSON(rule.MitreTactics), marshalJSON(rule.MitreTechniques), marshalJSON(rule.Tags),
		rule.HitCount, rule.ConsecutiveFailures,
		formatTimePtr(rule.LastRunAt), formatTimePtr(rule.LastHitAt),
		formatTime(rule.CreatedAt), formatTime(rule.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return argerr.Conflict("create_rule", rule.Name, fmt.Errorf("rule %q already exists for tenant", rule.Name))
		}
		return fmt.Errorf("failed to insert rule: %w", err)
	}
	return nil
}

// Get loads one rule by id.
func (s *RuleStore) Get(ctx context.Context, id string) (*models.DetectionRule, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+ruleColumns+` FROM detection_rule WHERE id = ?`, id)
	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, argerr.NotFound("get_rule", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load rule: %w", err)
	}
	return rule, nil
}

// Update rewrites a mutable rule. last_run_at never moves backwards.
func (s *RuleStore) Update(ctx context.Context, rule *models.DetectionRule) error {
	if err := rule.Validate(); err != nil {
		return argerr.Validation("update_rule", err)
	}
	rule.UpdatedAt = time.Now().UTC()

	var correlation interface{}
	if rule.Correlation != nil {
		correlation = marshalJSON(rule.Correlation)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE detection_rule SET
			name = ?, description = ?, rule_type = ?, severity = ?, query = ?, indices = ?,
			status = ?, schedule_interval_s = ?, lookback_s = ?,
			threshold_count = ?, threshold_field = ?, correlation = ?,
			mitre_tactics = ?, mitre_techniques = ?, tags = ?, updated_at = ?
		WHERE id = ?`,
		rule.Name, rule.Description, string(rule.RuleType), rule.Severity, rule.Query, marshalJSON(rule.Indices),
		string(rule.Status), rule.ScheduleIntervalS, rule.LookbackS,
		rule.ThresholdCount, rule.ThresholdField, correlation,
		marshalJSON(rule.MitreTactics), marshalJSON(rule.MitreTechniques), marshalJSON(rule.Tags),
		formatTime(rule.UpdatedAt), rule.ID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return argerr.Conflict("update_rule", rule.Name, fmt.Errorf("rule %q already exists for tenant", rule.Name))
		}
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return argerr.NotFound("update_rule", rule.ID)
	}
	return nil
}

// Delete removes a rule. Alerts referencing it survive with a nulled rule id.
func (s *RuleStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin delete transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE alert SET rule_id = NULL WHERE rule_id = ?`, id); err != nil {
		return fmt.Errorf("failed to detach alerts: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM detection_rule WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return argerr.NotFound("delete_rule", id)
	}
	return tx.Commit()
}

// ListEnabled returns every enabled rule, ordered by name for stable
// scheduling.
func (s *RuleStore) ListEnabled(ctx context.Context) ([]*models.DetectionRule, error) {
	return s.list(ctx, `SELECT `+ruleColumns+` FROM detection_rule WHERE status = ? ORDER BY name`, string(models.RuleStatusEnabled))
}

// List returns all rules for a tenant.
func (s *RuleStore) List(ctx context.Context, tenantID string) ([]*models.DetectionRule, error) {
	return s.list(ctx, `SELECT `+ruleColumns+` FROM detection_rule WHERE tenant_id = ? ORDER BY name`, tenantID)
}

func (s *RuleStore) list(ctx context.Context, query string, args ...interface{}) ([]*models.DetectionRule, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var out []*models.DetectionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

// RecordRun updates run counters after an execution. last_run_at is clamped
// monotonic in SQL so concurrent writers cannot move it backwards.
func (s *RuleStore) RecordRun(ctx context.Context, ruleID string, ranAt time.Time, hits int64, failed bool) error {
	var err error
	if failed {
		_, err = s.db.ExecContext(ctx, `
			UPDATE detection_rule SET
				last_run_at = MAX(COALESCE(last_run_at, ''), ?),
				consecutive_failures = consecutive_failures + 1,
				updated_at = ?
			WHERE id = ?`,
			formatTime(ranAt), formatTime(time.Now().UTC()), ruleID)
	} else if hits > 0 {
		_, err = s.db.ExecContext(ctx, `
			UPDATE detection_rule SET
				last_run_at = MAX(COALESCE(last_run_at, ''), ?),
				last_hit_at = ?,
				hit_count = hit_count + ?,
				consecutive_failures = 0,
				updated_at = ?
			WHERE id = ?`,
			formatTime(ranAt), formatTime(ranAt), hits, formatTime(time.Now().UTC()), ruleID)
	} else {
		_, err = s.db.ExecContext(ctx, `
			UPDATE detection_rule SET
				last_run_at = MAX(COALESCE(last_run_at, ''), ?),
				consecutive_failures = 0,
				updated_at = ?
			WHERE id = ?`,
			formatTime(ranAt), formatTime(time.Now().UTC()), ruleID)
	}
	if err != nil {
		return fmt.Errorf("failed to record rule run: %w", err)
	}
	return nil
}

// Disable flips a rule to disabled. Used by the auto-disable path.
func (s *RuleStore) Disable(ctx context.Context, ruleID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE detection_rule SET status = ?, updated_at = ? WHERE id = ?`,
		string(models.RuleStatusDisabled), formatTime(time.Now().UTC()), ruleID)
	if err != nil {
		return fmt.Errorf("failed to disable rule: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRule(row rowScanner) (*models.DetectionRule, error) {
	var (
		rule                                      models.DetectionRule
		ruleType, status                          string
		indices, tactics, techniques, tags        string
		thresholdCount                            sql.NullInt64
		thresholdField, correlation               sql.NullString
		lastRunAt, lastHitAt                      sql.NullString
		createdAt, updatedAt                      string
	)
	err := row.Scan(
		&rule.ID, &rule.TenantID, &rule.Name, &rule.Description, &ruleType, &rule.Severity,
		&rule.Query, &indices, &status, &rule.ScheduleIntervalS, &rule.LookbackS,
		&thresholdCount, &thresholdField, &correlation,
		&tactics, &techniques, &tags, &rule.HitCount, &rule.ConsecutiveFailures,
		&lastRunAt, &lastHitAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	rule.RuleType = models.RuleType(ruleType)
	rule.Status = models.RuleStatus(status)
	rule.Indices = unmarshalStrings(indices)
	rule.MitreTactics = unmarshalStrings(tactics)
	rule.MitreTechniques = unmarshalStrings(techniques)
	rule.Tags = unmarshalStrings(tags)
	if thresholdCount.Valid {
		v := thresholdCount.Int64
		rule.ThresholdCount = &v
	}
	if thresholdField.Valid && thresholdField.String != "" {
		v := thresholdField.String
		rule.ThresholdField = &v
	}
	if correlation.Valid && correlation.String != "" && correlation.String != "null" {
		var cfg models.CorrelationConfig
		if err := json.Unmarshal([]byte(correlation.String), &cfg); err == nil {
			rule.Correlation = &cfg
		}
	}
	rule.LastRunAt = parseStoredTimePtr(lastRunAt)
	rule.LastHitAt = parseStoredTimePtr(lastHitAt)
	rule.CreatedAt = parseStoredTime(createdAt)
	rule.UpdatedAt = parseStoredTime(updatedAt)
	return &rule, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
