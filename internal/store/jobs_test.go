package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	argerr "github.com/argus-soc/argus/internal/errors"
	"github.com/argus-soc/argus/internal/models"
)

func newJob(evidenceID string) *models.ParsingJob {
	return &models.ParsingJob{
		EvidenceID: evidenceID,
		ParserHint: "evtx",
		Priority:   models.PriorityDefault,
	}
}

func TestJobLifecycle(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := newJob("ev-1")
	require.NoError(t, st.Jobs.Create(ctx, job))
	assert.Equal(t, models.JobPending, job.Status)

	require.NoError(t, st.Jobs.Transition(ctx, job.ID, models.JobPending, models.JobQueued, nil))
	require.NoError(t, st.Jobs.Transition(ctx, job.ID, models.JobQueued, models.JobRunning, func(j *models.ParsingJob) {
		j.TaskID = "task-7"
	}))

	running, err := st.Jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobRunning, running.Status)
	assert.Equal(t, "task-7", running.TaskID)
	require.NotNil(t, running.StartedAt)
	assert.Nil(t, running.CompletedAt)

	require.NoError(t, st.Jobs.Transition(ctx, job.ID, models.JobRunning, models.JobCompleted, func(j *models.ParsingJob) {
		j.EventsParsed = 1000
		j.EventsIndexed = 990
		j.EventsFailed = 10
		j.Progress = 100
	}))

	done, err := st.Jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, done.Status)
	assert.Equal(t, int64(990), done.EventsIndexed)
	require.NotNil(t, done.CompletedAt)
}

func TestJobInvalidTransitionRejected(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := newJob("ev-2")
	require.NoError(t, st.Jobs.Create(ctx, job))

	err := st.Jobs.Transition(ctx, job.ID, models.JobPending, models.JobRunning, nil)
	require.Error(t, err)
	assert.Equal(t, argerr.KindValidation, argerr.KindOf(err))
}

func TestJobTransitionRequiresCurrentStatus(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := newJob("ev-3")
	require.NoError(t, st.Jobs.Create(ctx, job))
	require.NoError(t, st.Jobs.Transition(ctx, job.ID, models.JobPending, models.JobQueued, nil))

	// A second worker racing the same transition loses.
	err := st.Jobs.Transition(ctx, job.ID, models.JobPending, models.JobQueued, nil)
	require.Error(t, err)
	assert.Equal(t, argerr.KindConflict, argerr.KindOf(err))
}

func TestJobTerminalStatusIsFinal(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := newJob("ev-4")
	require.NoError(t, st.Jobs.Create(ctx, job))
	require.NoError(t, st.Jobs.Transition(ctx, job.ID, models.JobPending, models.JobCancelled, nil))

	err := st.Jobs.Transition(ctx, job.ID, models.JobCancelled, models.JobQueued, nil)
	require.Error(t, err)
	assert.Equal(t, argerr.KindValidation, argerr.KindOf(err))
}

func TestJobFindActiveByEvidence(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := newJob("ev-active")
	require.NoError(t, st.Jobs.Create(ctx, job))

	active, err := st.Jobs.FindActiveByEvidence(ctx, "ev-active")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, job.ID, active.ID)

	require.NoError(t, st.Jobs.Transition(ctx, job.ID, models.JobPending, models.JobFailed, func(j *models.ParsingJob) {
		j.Error = "no parser matched"
	}))

	none, err := st.Jobs.FindActiveByEvidence(ctx, "ev-active")
	require.NoError(t, err)
	assert.Nil(t, none, "terminal jobs do not block resubmission")
}

func TestFailOrphansSweepsNonTerminalJobs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	pending := newJob("ev-pending")
	require.NoError(t, st.Jobs.Create(ctx, pending))

	queued := newJob("ev-queued")
	require.NoError(t, st.Jobs.Create(ctx, queued))
	require.NoError(t, st.Jobs.Transition(ctx, queued.ID, models.JobPending, models.JobQueued, nil))

	running := newJob("ev-running")
	require.NoError(t, st.Jobs.Create(ctx, running))
	require.NoError(t, st.Jobs.Transition(ctx, running.ID, models.JobPending, models.JobQueued, nil))
	require.NoError(t, st.Jobs.Transition(ctx, running.ID, models.JobQueued, models.JobRunning, nil))

	done := newJob("ev-done")
	require.NoError(t, st.Jobs.Create(ctx, done))
	require.NoError(t, st.Jobs.Transition(ctx, done.ID, models.JobPending, models.JobCancelled, nil))

	n, err := st.Jobs.FailOrphans(ctx, "interrupted by daemon restart")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	for _, id := range []string{pending.ID, queued.ID, running.ID} {
		got, err := st.Jobs.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.JobFailed, got.Status)
		assert.Equal(t, "interrupted by daemon restart", got.Error)
		require.NotNil(t, got.CompletedAt)
	}

	// Terminal rows are untouched.
	got, err := st.Jobs.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, got.Status)

	// The swept evidence is free for resubmission.
	active, err := st.Jobs.FindActiveByEvidence(ctx, "ev-running")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestJobProgressMonotonic(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	job := newJob("ev-progress")
	require.NoError(t, st.Jobs.Create(ctx, job))

	require.NoError(t, st.Jobs.UpdateProgress(ctx, job.ID, 500, 500, 0, 50))
	require.NoError(t, st.Jobs.UpdateProgress(ctx, job.ID, 600, 600, 0, 30))

	got, err := st.Jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(50), got.Progress, "progress never moves backwards")
	assert.Equal(t, int64(600), got.EventsParsed)

	require.NoError(t, st.Jobs.UpdateProgress(ctx, job.ID, 1000, 1000, 0, 140))
	got, err = st.Jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, float64(100), got.Progress, "progress is clamped to 100")
}
