package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	argerr "github.com/argus-soc/argus/internal/errors"
	"github.com/argus-soc/argus/internal/models"
)

// AlertStore persists alerts. Dedup updates run inside a transaction so at
// most one open row per fingerprint exists inside the dedup window.
type AlertStore struct {
	db *sql.DB
}

const alertColumns = `id, tenant_id, rule_id, rule_name, title, description, severity, status,
	fingerprint, hit_count, first_seen_at, last_seen_at, mitre_tactics, mitre_techniques,
	event_refs, entities, case_id, acknowledged_by, acknowledged_at, closed_by, closed_at,
	resolution, is_false_positive`

// Upsert applies a new hit for the fingerprint: an open row inside the dedup
// window is updated (hit_count, last_seen, merged entities and refs, severity
// bumped monotonically), otherwise a new row is inserted. It returns the
// stored alert and whether it was newly created.
func (s *AlertStore) Upsert(ctx context.Context, incoming *models.Alert, dedupWindow time.Duration) (*models.Alert, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin alert transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `
		SELECT `+alertColumns+` FROM alert
		WHERE fingerprint = ? AND status != ? AND last_seen_at >= ?
		ORDER BY last_seen_at DESC LIMIT 1`,
		incoming.Fingerprint, string(models.AlertClosed),
		formatTime(incoming.LastSeenAt.Add(-dedupWindow)),
	)
	existing, err := scanAlert(row)
	if err != nil && err != sql.ErrNoRows {
		return nil, false, fmt.Errorf("failed to look up alert fingerprint: %w", err)
	}

	if err == sql.ErrNoRows {
		if incoming.ID == "" {
			incoming.ID = uuid.NewString()
		}
		if incoming.Status == "" {
			incoming.Status = models.AlertOpen
		}
		if incoming.HitCount < 1 {
			incoming.HitCount = 1
		}
		if err := insertAlert(ctx, tx, incoming); err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit alert insert: %w", err)
		}
		return incoming.Clone(), true, nil
	}

	existing.HitCount++
	if incoming.LastSeenAt.After(existing.LastSeenAt) {
		existing.LastSeenAt = incoming.LastSeenAt
	}
	// Severity is monotonic: never downgraded by a weaker hit.
	if incoming.Severity > existing.Severity {
		existing.Severity = incoming.Severity
	}
	existing.Entities.Merge(incoming.Entities)
	existing.EventRefs = mergeRefs(existing.EventRefs, incoming.EventRefs)

	_, err = tx.ExecContext(ctx, `
		UPDATE alert SET hit_count = ?, last_seen_at = ?, severity = ?, entities = ?, event_refs = ?
		WHERE id = ?`,
		existing.HitCount, formatTime(existing.LastSeenAt), existing.Severity,
		marshalJSON(existing.Entities), marshalJSON(existing.EventRefs), existing.ID,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to update deduplicated alert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit alert update: %w", err)
	}
	return existing.Clone(), false, nil
}

func mergeRefs(dst, src []string) []string {
	seen := make(map[string]struct{}, len(dst))
	for _, r := range dst {
		seen[r] = struct{}{}
	}
	for _, r := range src {
		if _, ok := seen[r]; !ok {
			seen[r] = struct{}{}
			dst = append(dst, r)
		}
	}
	return dst
}

func insertAlert(ctx context.Context, tx *sql.Tx, a *models.Alert) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO alert (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.TenantID, a.RuleID, a.RuleName, a.Title, a.Description, a.Severity, string(a.Status),
		a.Fingerprint, a.HitCount, formatTime(a.FirstSeenAt), formatTime(a.LastSeenAt),
		marshalJSON(a.MitreTactics), marshalJSON(a.MitreTechniques),
		marshalJSON(a.EventRefs), marshalJSON(a.Entities), a.CaseID,
		a.AcknowledgedBy, formatTimePtr(a.AcknowledgedAt), a.ClosedBy, formatTimePtr(a.ClosedAt),
		a.Resolution, boolToInt(a.IsFalsePositive),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// Get loads one alert by id.
func (s *AlertStore) Get(ctx context.Context, id string) (*models.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alert WHERE id = ?`, id)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, argerr.NotFound("get_alert", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load alert: %w", err)
	}
	return a, nil
}

// ListOpen returns open (non-closed) alerts, most recent first.
func (s *AlertStore) ListOpen(ctx context.Context, limit int) ([]*models.Alert, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+alertColumns+` FROM alert WHERE status != ?
		ORDER BY last_seen_at DESC LIMIT ?`, string(models.AlertClosed), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var out []*models.Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Acknowledge marks an alert acknowledged by a user.
func (s *AlertStore) Acknowledge(ctx context.Context, id, user string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE alert SET status = ?, acknowledged_by = ?, acknowledged_at = ?
		WHERE id = ? AND status = ?`,
		string(models.AlertAcknowledged), user, formatTime(now), id, string(models.AlertOpen))
	if err != nil {
		return fmt.Errorf("failed to acknowledge alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return argerr.NotFound("acknowledge_alert", id)
	}
	return nil
}

// Close closes an alert with a resolution.
func (s *AlertStore) Close(ctx context.Context, id, user, resolution string, falsePositive bool) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE alert SET status = ?, closed_by = ?, closed_at = ?, resolution = ?, is_false_positive = ?
		WHERE id = ? AND status != ?`,
		string(models.AlertClosed), user, formatTime(now), resolution, boolToInt(falsePositive),
		id, string(models.AlertClosed))
	if err != nil {
		return fmt.Errorf("failed to close alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return argerr.NotFound("close_alert", id)
	}
	return nil
}

func scanAlert(row rowScanner) (*models.Alert, error) {
	var (
		a                        models.Alert
		ruleID, caseID           sql.NullString
		status                   string
		firstSeen, lastSeen      string
		tactics, techniques      string
		eventRefs, entities      string
		ackAt, closedAt          sql.NullString
		falsePositive            int
	)
	err := row.Scan(
		&a.ID, &a.TenantID, &ruleID, &a.RuleName, &a.Title, &a.Description, &a.Severity, &status,
		&a.Fingerprint, &a.HitCount, &firstSeen, &lastSeen, &tactics, &techniques,
		&eventRefs, &entities, &caseID, &a.AcknowledgedBy, &ackAt, &a.ClosedBy, &closedAt,
		&a.Resolution, &falsePositive,
	)
	if err != nil {
		return nil, err
	}

	if ruleID.Valid && ruleID.String != "" {
		v := ruleID.String
		a.RuleID = &v
	}
	if caseID.Valid && caseID.String != "" {
		v := caseID.String
		a.CaseID = &v
	}
	a.Status = models.AlertStatus(status)
	a.FirstSeenAt = parseStoredTime(firstSeen)
	a.LastSeenAt = parseStoredTime(lastSeen)
	a.MitreTactics = unmarshalStrings(tactics)
	a.MitreTechniques = unmarshalStrings(techniques)
	a.EventRefs = unmarshalStrings(eventRefs)
	if entities != "" && entities != "null" {
		_ = json.Unmarshal([]byte(entities), &a.Entities)
	}
	a.AcknowledgedAt = parseStoredTimePtr(ackAt)
	a.ClosedAt = parseStoredTimePtr(closedAt)
	a.IsFalsePositive = falsePositive != 0
	return &a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
