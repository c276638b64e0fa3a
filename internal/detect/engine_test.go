package detect

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-soc/argus/internal/models"
	"github.com/argus-soc/argus/internal/search"
	"github.com/argus-soc/argus/internal/store"
)

const testIndex = "argus-events-test"

func newTestEngine(t *testing.T, sinks ...AlertSink) (*Engine, *store.Store, *search.Memory) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := search.NewMemory()
	engine := NewEngine(st, svc, Config{DefaultIndices: []string{testIndex}}, sinks...)
	return engine, st, svc
}

func seedFailedLogins(t *testing.T, svc *search.Memory, user, host string, n int, base time.Time) {
	t.Helper()
	actions := make([]search.BulkAction, 0, n)
	for i := 0; i < n; i++ {
		actions = append(actions, search.BulkAction{
			Index: testIndex,
			ID:    fmt.Sprintf("%s-%s-%d-%d", user, host, base.UnixNano(), i),
			Doc: map[string]interface{}{
				"@timestamp": base.Add(time.Duration(i) * time.Second).UTC().Format(time.RFC3339Nano),
				"event":      map[string]interface{}{"action": "user_logon_failed"},
				"user":       map[string]interface{}{"name": user},
				"host":       map[string]interface{}{"name": host},
			},
		})
	}
	_, err := svc.Bulk(context.Background(), actions)
	require.NoError(t, err)
}

func thresholdRule(t *testing.T, st *store.Store, count int64, field string) *models.DetectionRule {
	t.Helper()
	rule := &models.DetectionRule{
		TenantID:          "t1",
		Name:              "brute force attempts",
		RuleType:          models.RuleTypeThreshold,
		Severity:          70,
		Query:             `event.action == "user_logon_failed"`,
		Status:            models.RuleStatusEnabled,
		ScheduleIntervalS: 60,
		LookbackS:         600,
		ThresholdCount:    &count,
	}
	if field != "" {
		rule.ThresholdField = &field
	}
	require.NoError(t, st.Rules.Create(context.Background(), rule))
	return rule
}

func TestFingerprintStable(t *testing.T) {
	a := Fingerprint("rule-1", "alice", "ws-01")
	b := Fingerprint("rule-1", "Alice", " ws-01 ")
	c := Fingerprint("rule-1", "bob", "ws-01")
	assert.Equal(t, a, b, "fingerprint normalizes case and whitespace")
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestThresholdRuleDeduplicatesRepeatHits(t *testing.T) {
	ctx := context.Background()
	engine, st, svc := newTestEngine(t)

	now := time.Now().UTC()
	seedFailedLogins(t, svc, "alice", "ws-01", 5, now.Add(-5*time.Minute))

	rule := thresholdRule(t, st, 5, "user.name")

	exec, err := engine.ExecuteRule(ctx, rule, now)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSuccess, exec.Status)
	assert.Equal(t, int64(1), exec.HitCount)

	alerts, err := st.Alerts.ListOpen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	first := alerts[0]
	assert.Equal(t, int64(1), first.HitCount)
	assert.Contains(t, first.Entities.Users, "alice")

	// Second run inside the dedup window: same fingerprint, hit_count bumps,
	// no second row.
	seedFailedLogins(t, svc, "alice", "ws-01", 5, now.Add(-2*time.Minute))
	later := now.Add(time.Minute)
	exec, err = engine.ExecuteRule(ctx, rule, later)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSuccess, exec.Status)

	alerts, err = st.Alerts.ListOpen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, first.ID, alerts[0].ID)
	assert.Equal(t, int64(2), alerts[0].HitCount)
	assert.True(t, !alerts[0].LastSeenAt.Before(first.LastSeenAt))
}

func TestThresholdBelowCountRaisesNothing(t *testing.T) {
	ctx := context.Background()
	engine, st, svc := newTestEngine(t)

	now := time.Now().UTC()
	seedFailedLogins(t, svc, "bob", "ws-02", 3, now.Add(-5*time.Minute))

	rule := thresholdRule(t, st, 5, "user.name")

	exec, err := engine.ExecuteRule(ctx, rule, now)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSuccess, exec.Status)
	assert.Zero(t, exec.HitCount)

	alerts, err := st.Alerts.ListOpen(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestThresholdPerFieldValueGroups(t *testing.T) {
	ctx := context.Background()
	engine, st, svc := newTestEngine(t)

	now := time.Now().UTC()
	seedFailedLogins(t, svc, "alice", "ws-01", 6, now.Add(-5*time.Minute))
	seedFailedLogins(t, svc, "bob", "ws-02", 2, now.Add(-5*time.Minute))

	rule := thresholdRule(t, st, 5, "user.name")

	exec, err := engine.ExecuteRule(ctx, rule, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), exec.HitCount, "only alice crosses the threshold")

	alerts, err := st.Alerts.ListOpen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Entities.Users, "alice")
	assert.NotContains(t, alerts[0].Entities.Users, "bob")
}

func TestSeverityNeverDowngraded(t *testing.T) {
	ctx := context.Background()
	engine, st, svc := newTestEngine(t)

	now := time.Now().UTC()
	seedFailedLogins(t, svc, "carol", "ws-03", 5, now.Add(-5*time.Minute))
	rule := thresholdRule(t, st, 5, "user.name")

	_, err := engine.ExecuteRule(ctx, rule, now)
	require.NoError(t, err)

	// Lower the rule severity and run again: the stored alert keeps the
	// higher value.
	rule.Severity = 30
	require.NoError(t, st.Rules.Update(ctx, rule))
	fresh, err := st.Rules.Get(ctx, rule.ID)
	require.NoError(t, err)

	seedFailedLogins(t, svc, "carol", "ws-03", 5, now.Add(-time.Minute))
	_, err = engine.ExecuteRule(ctx, fresh, now.Add(time.Minute))
	require.NoError(t, err)

	alerts, err := st.Alerts.ListOpen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, 70, alerts[0].Severity)
	assert.Equal(t, int64(2), alerts[0].HitCount)
}

func TestAlertFloodFailsRunWithoutDisabling(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	svc := search.NewMemory()
	engine := NewEngine(st, svc, Config{DefaultIndices: []string{testIndex}, MaxAlertsPerRun: 3})

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		seedFailedLogins(t, svc, fmt.Sprintf("user-%d", i), "ws-01", 1, now.Add(-5*time.Minute))
	}

	rule := &models.DetectionRule{
		TenantID:          "t1",
		Name:              "every failed login",
		RuleType:          models.RuleTypeScheduled,
		Severity:          10,
		Query:             `event.action == "user_logon_failed"`,
		Status:            models.RuleStatusEnabled,
		ScheduleIntervalS: 60,
		LookbackS:         600,
	}
	require.NoError(t, st.Rules.Create(ctx, rule))

	exec, err := engine.ExecuteRule(ctx, rule, now)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionFailure, exec.Status)
	assert.Contains(t, exec.Error, "cap")
	assert.Equal(t, int64(3), exec.HitCount)

	// Flood failures do not feed the auto-disable counter.
	fresh, err := st.Rules.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RuleStatusEnabled, fresh.Status)
	assert.Zero(t, fresh.ConsecutiveFailures)

	// The first MaxAlertsPerRun alerts still land; only the excess is dropped.
	alerts, err := st.Alerts.ListOpen(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, alerts, 3, "a throttled run keeps the alerts raised before the cap")
}

func TestAutoDisableAfterConsecutiveFailures(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	engine := NewEngine(st, &failingSearch{}, Config{
		DefaultIndices:         []string{testIndex},
		MaxConsecutiveFailures: 3,
	})

	rule := thresholdRule(t, st, 5, "")

	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		exec, err := engine.ExecuteRule(ctx, rule, now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, models.ExecutionFailure, exec.Status)
	}

	fresh, err := st.Rules.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RuleStatusDisabled, fresh.Status)
	assert.Equal(t, 3, fresh.ConsecutiveFailures)

	// Auto-disable leaves an audit trail.
	execs, err := st.Executions.ListByRule(ctx, rule.ID, 10)
	require.NoError(t, err)
	assert.Len(t, execs, 3)
}

func TestCorrelationRuleRaisesPerPartition(t *testing.T) {
	ctx := context.Background()
	engine, st, svc := newTestEngine(t)

	now := time.Now().UTC()
	seedFailedLogins(t, svc, "dave", "srv-01", 3, now.Add(-8*time.Minute))
	_, err := svc.Bulk(ctx, []search.BulkAction{{
		Index: testIndex,
		ID:    "success-1",
		Doc: map[string]interface{}{
			"@timestamp": now.Add(-2 * time.Minute).UTC().Format(time.RFC3339Nano),
			"event":      map[string]interface{}{"action": "user_logon"},
			"user":       map[string]interface{}{"name": "dave"},
			"host":       map[string]interface{}{"name": "srv-01"},
		},
	}})
	require.NoError(t, err)

	rule := &models.DetectionRule{
		TenantID:          "t1",
		Name:              "brute force then success",
		RuleType:          models.RuleTypeCorrelation,
		Severity:          85,
		Status:            models.RuleStatusEnabled,
		ScheduleIntervalS: 60,
		LookbackS:         600,
		Correlation: &models.CorrelationConfig{
			PatternType: models.PatternSequence,
			Window:      "10m",
			Events: []models.CorrelationEvent{
				{ID: "fails", Query: `event.action == "user_logon_failed"`},
				{ID: "success", Query: `event.action == "user_logon"`},
			},
			JoinOn: []models.JoinField{{Field: "user.name"}, {Field: "host.name"}},
			Thresholds: []models.CorrelationThreshold{
				{Event: "fails", Count: ">= 3"},
			},
			Sequence: &models.SequenceSpec{Order: []string{"fails", "success"}, StrictOrder: true},
		},
	}
	require.NoError(t, st.Rules.Create(ctx, rule))

	exec, err := engine.ExecuteRule(ctx, rule, now)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionSuccess, exec.Status)
	assert.Equal(t, int64(1), exec.HitCount)

	alerts, err := st.Alerts.ListOpen(ctx, 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Contains(t, alerts[0].Entities.Users, "dave")
	assert.Contains(t, alerts[0].Entities.Hosts, "srv-01")
	assert.Len(t, alerts[0].EventRefs, 4)
}

func TestSinkReceivesStoredAlerts(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{}
	engine, st, svc := newTestEngine(t, sink)

	now := time.Now().UTC()
	seedFailedLogins(t, svc, "eve", "ws-09", 5, now.Add(-5*time.Minute))
	rule := thresholdRule(t, st, 5, "user.name")

	_, err := engine.ExecuteRule(ctx, rule, now)
	require.NoError(t, err)

	require.Len(t, sink.alerts, 1)
	assert.True(t, sink.created[0])

	seedFailedLogins(t, svc, "eve", "ws-09", 5, now.Add(-time.Minute))
	_, err = engine.ExecuteRule(ctx, rule, now.Add(time.Minute))
	require.NoError(t, err)

	require.Len(t, sink.alerts, 2)
	assert.False(t, sink.created[1], "dedup update is delivered as not-created")
}

type recordingSink struct {
	mu      sync.Mutex
	alerts  []*models.Alert
	created []bool
}

func (r *recordingSink) AlertStored(alert *models.Alert, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	r.created = append(r.created, created)
}

// failingSearch errors every call to simulate a broken backend.
type failingSearch struct{}

func (f *failingSearch) Search(ctx context.Context, req search.Request) (*search.Result, error) {
	return nil, fmt.Errorf("search backend unavailable")
}
func (f *failingSearch) Bulk(ctx context.Context, actions []search.BulkAction) (*search.BulkResult, error) {
	return nil, fmt.Errorf("search backend unavailable")
}
func (f *failingSearch) Count(ctx context.Context, index string, query search.Query) (int64, error) {
	return 0, fmt.Errorf("search backend unavailable")
}
func (f *failingSearch) CatIndices(ctx context.Context, pattern string) ([]search.IndexInfo, error) {
	return nil, fmt.Errorf("search backend unavailable")
}
func (f *failingSearch) GetMapping(ctx context.Context, index string) (map[string]interface{}, error) {
	return nil, fmt.Errorf("search backend unavailable")
}
func (f *failingSearch) CreateIndex(ctx context.Context, name string, mappings, settings map[string]interface{}) error {
	return fmt.Errorf("search backend unavailable")
}
func (f *failingSearch) Reindex(ctx context.Context, src, dest string, query search.Query) (*search.ReindexResult, error) {
	return nil, fmt.Errorf("search backend unavailable")
}
func (f *failingSearch) DeleteByQuery(ctx context.Context, index string, query search.Query) (int64, error) {
	return 0, fmt.Errorf("search backend unavailable")
}
