// Package store persists platform state in SQLite. One writer connection,
// WAL journaling, additive schema migrations.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Store owns the platform database and exposes the per-entity stores.
type Store struct {
	db     *sql.DB
	dbPath string

	Rules      *RuleStore
	Executions *ExecutionStore
	Alerts     *AlertStore
	Jobs       *JobStore
	Actions    *ActionStore
	Audit      *AuditStore
	Queries    *SavedQueryStore
}

// Open opens (and if necessary creates) the platform database under dataDir.
func Open(dataDir string) (*Store, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "argus.db")

	// Pragmas in the DSN so every pool connection is configured.
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(ON)",
			"cache_size(-64000)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	s.Rules = &RuleStore{db: db}
	s.Executions = &ExecutionStore{db: db}
	s.Alerts = &AlertStore{db: db}
	s.Jobs = &JobStore{db: db}
	s.Actions = &ActionStore{db: db}
	s.Audit = &AuditStore{db: db}
	s.Queries = &SavedQueryStore{db: db}

	log.Info().Str("dbPath", dbPath).Msg("Store initialized")
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for maintenance tasks (retention workers).
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS detection_rule (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		rule_type TEXT NOT NULL,
		severity INTEGER NOT NULL DEFAULT 0,
		query TEXT NOT NULL DEFAULT '',
		indices TEXT NOT NULL DEFAULT '[]',
		status TEXT NOT NULL,
		schedule_interval_s INTEGER NOT NULL,
		lookback_s INTEGER NOT NULL,
		threshold_count INTEGER,
		threshold_field TEXT,
		correlation TEXT,
		mitre_tactics TEXT NOT NULL DEFAULT '[]',
		mitre_techniques TEXT NOT NULL DEFAULT '[]',
		tags TEXT NOT NULL DEFAULT '[]',
		hit_count INTEGER NOT NULL DEFAULT 0,
		consecutive_failures INTEGER NOT NULL DEFAULT 0,
		last_run_at TEXT,
		last_hit_at TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(tenant_id, name)
	);

	CREATE TABLE IF NOT EXISTS rule_execution (
		id TEXT PRIMARY KEY,
		rule_id TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_rule_execution_rule ON rule_execution(rule_id, started_at);

	CREATE TABLE IF NOT EXISTS alert (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL DEFAULT '',
		rule_id TEXT,
		rule_name TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		severity INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		hit_count INTEGER NOT NULL DEFAULT 1,
		first_seen_at TEXT NOT NULL,
		last_seen_at TEXT NOT NULL,
		mitre_tactics TEXT NOT NULL DEFAULT '[]',
		mitre_techniques TEXT NOT NULL DEFAULT '[]',
		event_refs TEXT NOT NULL DEFAULT '[]',
		entities TEXT NOT NULL DEFAULT '{}',
		case_id TEXT,
		acknowledged_by TEXT NOT NULL DEFAULT '',
		acknowledged_at TEXT,
		closed_by TEXT NOT NULL DEFAULT '',
		closed_at TEXT,
		resolution TEXT NOT NULL DEFAULT '',
		is_false_positive INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_alert_fingerprint ON alert(fingerprint, status);
	CREATE INDEX IF NOT EXISTS idx_alert_rule ON alert(rule_id);

	CREATE TABLE IF NOT EXISTS parsing_job (
		id TEXT PRIMARY KEY,
		evidence_id TEXT NOT NULL,
		case_id TEXT NOT NULL DEFAULT '',
		parser_type TEXT NOT NULL DEFAULT '',
		parser_hint TEXT NOT NULL DEFAULT '',
		config TEXT NOT NULL DEFAULT '{}',
		submitted_by TEXT NOT NULL DEFAULT '',
		priority TEXT NOT NULL DEFAULT 'default',
		status TEXT NOT NULL,
		task_id TEXT NOT NULL DEFAULT '',
		events_parsed INTEGER NOT NULL DEFAULT 0,
		events_indexed INTEGER NOT NULL DEFAULT 0,
		events_failed INTEGER NOT NULL DEFAULT 0,
		progress_percent REAL NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		results TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_parsing_job_evidence ON parsing_job(evidence_id, status);

	CREATE TABLE IF NOT EXISTS response_action (
		id TEXT PRIMARY KEY,
		tenant_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		case_id TEXT,
		action_type TEXT NOT NULL,
		status TEXT NOT NULL,
		client_id TEXT NOT NULL DEFAULT '',
		hostname TEXT NOT NULL DEFAULT '',
		target_details TEXT NOT NULL DEFAULT '{}',
		reason TEXT NOT NULL DEFAULT '',
		job_id TEXT NOT NULL DEFAULT '',
		result TEXT NOT NULL DEFAULT '{}',
		error_message TEXT NOT NULL DEFAULT '',
		correlation_id TEXT NOT NULL,
		created_at TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT
	);

	CREATE TABLE IF NOT EXISTS audit_log (
		id TEXT PRIMARY KEY,
		timestamp TEXT NOT NULL,
		tenant_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		action TEXT NOT NULL,
		target TEXT NOT NULL DEFAULT '',
		success INTEGER NOT NULL,
		correlation_id TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '{}'
	);
	CREATE INDEX IF NOT EXISTS idx_audit_log_time ON audit_log(timestamp);
	CREATE INDEX IF NOT EXISTS idx_audit_log_correlation ON audit_log(correlation_id);

	CREATE TABLE IF NOT EXISTS saved_query (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		query TEXT NOT NULL,
		indices TEXT NOT NULL DEFAULT '[]',
		is_shared INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(user_id, name)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// JSON column helpers. Arrays and maps are stored as portable JSON text.

func marshalJSON(v interface{}) string {
	if v == nil {
		return "null"
	}
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON column")
		return "null"
	}
	return string(data)
}

func unmarshalStrings(raw string) []string {
	if raw == "" || raw == "null" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

func unmarshalMap(raw string) map[string]interface{} {
	if raw == "" || raw == "null" {
		return nil
	}
	var out map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil
	}
	return out
}

// Timestamps are stored as RFC 3339 UTC text.

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseStoredTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseStoredTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseStoredTime(s.String)
	if t.IsZero() {
		return nil
	}
	return &t
}
