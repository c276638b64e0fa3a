package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-soc/argus/internal/models"
)

func TestExecutionRecordAndList(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		require.NoError(t, st.Executions.Record(ctx, &models.RuleExecution{
			RuleID:     "rule-1",
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + 2*time.Second),
			DurationMS: 2000,
			HitCount:   int64(i),
			Status:     models.ExecutionSuccess,
		}))
	}
	require.NoError(t, st.Executions.Record(ctx, &models.RuleExecution{
		RuleID:     "rule-2",
		StartedAt:  base,
		FinishedAt: base.Add(time.Second),
		Status:     models.ExecutionFailure,
		Error:      "search backend unavailable",
	}))

	execs, err := st.Executions.ListByRule(ctx, "rule-1", 10)
	require.NoError(t, err)
	require.Len(t, execs, 3)
	assert.True(t, execs[0].StartedAt.After(execs[1].StartedAt), "newest first")
	assert.Equal(t, int64(2), execs[0].HitCount)

	other, err := st.Executions.ListByRule(ctx, "rule-2", 10)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Equal(t, models.ExecutionFailure, other[0].Status)
	assert.Equal(t, "search backend unavailable", other[0].Error)
}

func TestExecutionPrune(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, st.Executions.Record(ctx, &models.RuleExecution{
		RuleID: "rule-1", StartedAt: now.Add(-48 * time.Hour), FinishedAt: now.Add(-48 * time.Hour), Status: models.ExecutionSuccess,
	}))
	require.NoError(t, st.Executions.Record(ctx, &models.RuleExecution{
		RuleID: "rule-1", StartedAt: now, FinishedAt: now, Status: models.ExecutionSuccess,
	}))

	pruned, err := st.Executions.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	left, err := st.Executions.ListByRule(ctx, "rule-1", 10)
	require.NoError(t, err)
	assert.Len(t, left, 1)
}
