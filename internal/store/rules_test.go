package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	argerr "github.com/argus-soc/argus/internal/errors"
	"github.com/argus-soc/argus/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleRule(name string) *models.DetectionRule {
	return &models.DetectionRule{
		TenantID:          "default",
		Name:              name,
		Description:       "failed logons over threshold",
		RuleType:          models.RuleTypeThreshold,
		Severity:          70,
		Query:             `event.action == "user_logon" and event.outcome == "failure"`,
		Indices:           []string{"argus-events-*"},
		Status:            models.RuleStatusEnabled,
		ScheduleIntervalS: 60,
		LookbackS:         300,
	}
}

func TestRuleCreateAndGet(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rule := sampleRule("brute-force")
	require.NoError(t, st.Rules.Create(ctx, rule))
	require.NotEmpty(t, rule.ID)

	got, err := st.Rules.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, "brute-force", got.Name)
	assert.Equal(t, models.RuleTypeThreshold, got.RuleType)
	assert.Equal(t, []string{"argus-events-*"}, got.Indices)
	assert.Equal(t, time.UTC, got.CreatedAt.Location())
}

func TestRuleDuplicateNameConflicts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, st.Rules.Create(ctx, sampleRule("dup")))
	err := st.Rules.Create(ctx, sampleRule("dup"))
	require.Error(t, err)
	assert.Equal(t, argerr.KindConflict, argerr.KindOf(err))
}

func TestRuleValidationRejected(t *testing.T) {
	st := newTestStore(t)
	bad := sampleRule("bad")
	bad.ScheduleIntervalS = 0
	err := st.Rules.Create(context.Background(), bad)
	require.Error(t, err)
	assert.Equal(t, argerr.KindValidation, argerr.KindOf(err))
}

func TestRuleUpdateAndNotFound(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rule := sampleRule("to-update")
	require.NoError(t, st.Rules.Create(ctx, rule))

	rule.Severity = 90
	rule.Status = models.RuleStatusDisabled
	require.NoError(t, st.Rules.Update(ctx, rule))

	got, err := st.Rules.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, got.Severity)
	assert.Equal(t, models.RuleStatusDisabled, got.Status)

	missing := sampleRule("ghost")
	missing.ID = "does-not-exist"
	err = st.Rules.Update(ctx, missing)
	assert.Equal(t, argerr.KindNotFound, argerr.KindOf(err))
}

func TestRuleListEnabledOrdering(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"zeta", "alpha", "mid"} {
		require.NoError(t, st.Rules.Create(ctx, sampleRule(name)))
	}
	disabled := sampleRule("off")
	disabled.Status = models.RuleStatusDisabled
	require.NoError(t, st.Rules.Create(ctx, disabled))

	rules, err := st.Rules.ListEnabled(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "alpha", rules[0].Name)
	assert.Equal(t, "mid", rules[1].Name)
	assert.Equal(t, "zeta", rules[2].Name)
}

func TestRuleRecordRunCounters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rule := sampleRule("counters")
	require.NoError(t, st.Rules.Create(ctx, rule))

	ranAt := time.Now().UTC()
	require.NoError(t, st.Rules.RecordRun(ctx, rule.ID, ranAt, 0, true))
	require.NoError(t, st.Rules.RecordRun(ctx, rule.ID, ranAt.Add(time.Minute), 0, true))

	got, err := st.Rules.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ConsecutiveFailures)

	require.NoError(t, st.Rules.RecordRun(ctx, rule.ID, ranAt.Add(2*time.Minute), 5, false))
	got, err = st.Rules.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ConsecutiveFailures, "success resets the failure streak")
	assert.Equal(t, int64(5), got.HitCount)
	require.NotNil(t, got.LastHitAt)

	// Stale run timestamps never move last_run_at backwards.
	require.NoError(t, st.Rules.RecordRun(ctx, rule.ID, ranAt.Add(-time.Hour), 0, false))
	after, err := st.Rules.Get(ctx, rule.ID)
	require.NoError(t, err)
	require.NotNil(t, after.LastRunAt)
	assert.False(t, after.LastRunAt.Before(*got.LastRunAt))
}

func TestRuleDeleteDetachesAlerts(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rule := sampleRule("doomed")
	require.NoError(t, st.Rules.Create(ctx, rule))

	now := time.Now().UTC()
	alert := &models.Alert{
		RuleID:      &rule.ID,
		RuleName:    rule.Name,
		Title:       "hit",
		Severity:    70,
		Fingerprint: "fp-1",
		FirstSeenAt: now,
		LastSeenAt:  now,
	}
	stored, created, err := st.Alerts.Upsert(ctx, alert, time.Hour)
	require.NoError(t, err)
	require.True(t, created)

	require.NoError(t, st.Rules.Delete(ctx, rule.ID))

	_, err = st.Rules.Get(ctx, rule.ID)
	assert.Equal(t, argerr.KindNotFound, argerr.KindOf(err))

	got, err := st.Alerts.Get(ctx, stored.ID)
	require.NoError(t, err)
	assert.Nil(t, got.RuleID, "alert survives with the rule reference cleared")
}

func TestRuleDisable(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rule := sampleRule("flaky")
	require.NoError(t, st.Rules.Create(ctx, rule))
	require.NoError(t, st.Rules.Disable(ctx, rule.ID))

	got, err := st.Rules.Get(ctx, rule.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RuleStatusDisabled, got.Status)
}
