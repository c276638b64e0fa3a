package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-soc/argus/internal/models"
	"github.com/argus-soc/argus/internal/parsers"
	"github.com/argus-soc/argus/internal/search"
	"github.com/argus-soc/argus/internal/store"
)

func writeEvidence(t *testing.T, dir, evidenceID string, lines int) {
	t.Helper()
	var buf []byte
	base := time.Now().Add(-time.Hour).UTC()
	for i := 0; i < lines; i++ {
		line := fmt.Sprintf(`{"timestamp":%q,"message":"event %d","host":"ws-01","user":"alice"}`+"\n",
			base.Add(time.Duration(i)*time.Second).Format(time.RFC3339), i)
		buf = append(buf, line...)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, evidenceID+".jsonl"), buf, 0o644))
}

func newTestOrchestrator(t *testing.T, cfg Config) (*Orchestrator, *store.Store, *search.Memory, string) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	evidenceDir := t.TempDir()
	svc := search.NewMemory()
	orch := NewOrchestrator(st.Jobs, parsers.NewDefaultRegistry(), svc, &DirEvidence{Root: evidenceDir}, cfg)
	return orch, st, svc, evidenceDir
}

func waitForStatus(t *testing.T, st *store.Store, jobID string, want models.JobStatus) *models.ParsingJob {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := st.Jobs.Get(context.Background(), jobID)
		require.NoError(t, err)
		if job.Status == want {
			return job
		}
		if job.Status.Terminal() {
			t.Fatalf("job %s reached terminal status %s, wanted %s (error: %s)", jobID, job.Status, want, job.Error)
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return nil
}

func TestSubmitAndProcessToCompletion(t *testing.T) {
	orch, st, svc, evidenceDir := newTestOrchestrator(t, Config{Workers: 1, ChunkSize: 10})
	writeEvidence(t, evidenceDir, "ev-1", 25)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		orch.Run(ctx)
		close(done)
	}()

	job, err := orch.Submit(ctx, &models.ParsingJob{
		EvidenceID: "ev-1",
		CaseID:     "case-7",
		Priority:   models.PriorityDefault,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, job.TaskID)

	final := waitForStatus(t, st, job.ID, models.JobCompleted)
	assert.Equal(t, int64(25), final.EventsParsed)
	assert.Equal(t, int64(25), final.EventsIndexed)
	assert.Zero(t, final.EventsFailed)
	assert.Equal(t, float64(100), final.Progress)
	require.NotNil(t, final.StartedAt)
	require.NotNil(t, final.CompletedAt)

	count, err := svc.Count(context.Background(), "argus-events-case-7", search.MatchAll())
	require.NoError(t, err)
	assert.Equal(t, int64(25), count)

	cancel()
	<-done
}

func TestSubmitIsIdempotentPerEvidence(t *testing.T) {
	orch, _, _, evidenceDir := newTestOrchestrator(t, Config{Workers: 1})
	writeEvidence(t, evidenceDir, "ev-2", 5)

	// No worker running: the job stays queued.
	first, err := orch.Submit(context.Background(), &models.ParsingJob{
		EvidenceID: "ev-2",
		Priority:   models.PriorityDefault,
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, first.Status)

	second, err := orch.Submit(context.Background(), &models.ParsingJob{
		EvidenceID: "ev-2",
		Priority:   models.PriorityHigh,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID, "resubmission returns the in-flight job")
}

func TestCancelPendingJob(t *testing.T) {
	_, st, _, _ := newTestOrchestrator(t, Config{Workers: 1})

	job := &models.ParsingJob{EvidenceID: "ev-3", Priority: models.PriorityDefault}
	require.NoError(t, st.Jobs.Create(context.Background(), job))

	orch := NewOrchestrator(st.Jobs, parsers.NewDefaultRegistry(), search.NewMemory(), &DirEvidence{Root: t.TempDir()}, Config{})
	require.NoError(t, orch.Cancel(context.Background(), job.ID))

	stored, err := st.Jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, stored.Status)
}

func TestMissingEvidenceFailsJob(t *testing.T) {
	orch, st, _, _ := newTestOrchestrator(t, Config{Workers: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go orch.Run(ctx)

	job, err := orch.Submit(ctx, &models.ParsingJob{
		EvidenceID: "no-such-evidence",
		Priority:   models.PriorityDefault,
	})
	require.NoError(t, err)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		stored, err := st.Jobs.Get(context.Background(), job.ID)
		require.NoError(t, err)
		if stored.Status == models.JobFailed {
			assert.Contains(t, stored.Error, "failed to open evidence")
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never failed")
}

// gatedSearch blocks the first Bulk call until released, so a test can stop
// the worker pool while a job is mid-run.
type gatedSearch struct {
	*search.Memory
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedSearch) Bulk(ctx context.Context, actions []search.BulkAction) (*search.BulkResult, error) {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.Memory.Bulk(ctx, actions)
}

func TestPoolShutdownDoesNotStrandRunningJob(t *testing.T) {
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	evidenceDir := t.TempDir()
	writeEvidence(t, evidenceDir, "ev-shutdown", 25)

	svc := &gatedSearch{
		Memory:  search.NewMemory(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	orch := NewOrchestrator(st.Jobs, parsers.NewDefaultRegistry(), svc, &DirEvidence{Root: evidenceDir}, Config{Workers: 1, ChunkSize: 5})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		orch.Run(ctx)
		close(done)
	}()

	job, err := orch.Submit(ctx, &models.ParsingJob{
		EvidenceID: "ev-shutdown",
		Priority:   models.PriorityDefault,
	})
	require.NoError(t, err)

	// Stop the pool while the job is inside its first flush.
	<-svc.entered
	cancel()
	close(svc.release)
	<-done

	// The terminal transition runs on its own context, so the row must not
	// stay in running after shutdown.
	stored, err := st.Jobs.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCancelled, stored.Status)
	require.NotNil(t, stored.CompletedAt)

	// With the old row terminal, the same evidence can be resubmitted.
	resubmitted, err := orch.Submit(context.Background(), &models.ParsingJob{
		EvidenceID: "ev-shutdown",
		Priority:   models.PriorityDefault,
	})
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, resubmitted.ID)
}

func TestRunSweepsJobsOrphanedByRestart(t *testing.T) {
	orch, st, _, _ := newTestOrchestrator(t, Config{Workers: 1})

	// A running row left behind by a previous process: no queue entry exists.
	job := &models.ParsingJob{EvidenceID: "ev-orphan", Priority: models.PriorityDefault}
	require.NoError(t, st.Jobs.Create(context.Background(), job))
	require.NoError(t, st.Jobs.Transition(context.Background(), job.ID, models.JobPending, models.JobQueued, nil))
	require.NoError(t, st.Jobs.Transition(context.Background(), job.ID, models.JobQueued, models.JobRunning, nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		orch.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		stored, err := st.Jobs.Get(context.Background(), job.ID)
		require.NoError(t, err)
		if stored.Status == models.JobFailed {
			assert.Contains(t, stored.Error, "restart")
			cancel()
			<-done
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("orphaned job was never swept")
}

func TestPriorityQueueOrdering(t *testing.T) {
	q := newPriorityQueue(16, 100)
	require.True(t, q.enqueue("low-1", models.PriorityLow))
	require.True(t, q.enqueue("default-1", models.PriorityDefault))
	require.True(t, q.enqueue("high-1", models.PriorityHigh))

	ctx := context.Background()
	id, ok := q.dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "high-1", id)

	id, ok = q.dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "default-1", id)

	id, ok = q.dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "low-1", id)
}

func TestPriorityQueuePromotesStarvedLow(t *testing.T) {
	q := newPriorityQueue(256, 3)
	require.True(t, q.enqueue("low-1", models.PriorityLow))

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.True(t, q.enqueue(fmt.Sprintf("high-%d", i), models.PriorityHigh))
		id, ok := q.dequeue(ctx)
		require.True(t, ok)
		assert.Contains(t, id, "high-")
	}

	// Three skips recorded: the starved low job goes before new high work.
	require.True(t, q.enqueue("high-final", models.PriorityHigh))
	id, ok := q.dequeue(ctx)
	require.True(t, ok)
	assert.Equal(t, "low-1", id)
}

func TestPriorityQueueFullRejects(t *testing.T) {
	q := newPriorityQueue(1, 100)
	require.True(t, q.enqueue("a", models.PriorityDefault))
	assert.False(t, q.enqueue("b", models.PriorityDefault))
}

func TestDirEvidenceRejectsTraversal(t *testing.T) {
	d := &DirEvidence{Root: t.TempDir()}
	_, _, _, err := d.Open(context.Background(), "../etc/passwd")
	assert.Error(t, err)
}
