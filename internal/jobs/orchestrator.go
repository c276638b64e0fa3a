package jobs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/argus-soc/argus/internal/ecs"
	"github.com/argus-soc/argus/internal/metrics"
	"github.com/argus-soc/argus/internal/models"
	"github.com/argus-soc/argus/internal/parsers"
	"github.com/argus-soc/argus/internal/search"
	"github.com/argus-soc/argus/internal/store"
)

// errJobCancelled stops a parse stream at a chunk boundary after the
// in-flight buffer has been flushed.
var errJobCancelled = errors.New("job cancelled")

// Config tunes the orchestrator.
type Config struct {
	Workers      int
	ChunkSize    int
	QueueDepth   int
	PromoteAfter int
	IndexPrefix  string
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 1000
	}
	if c.IndexPrefix == "" {
		c.IndexPrefix = "argus-events-"
	}
}

// Orchestrator owns the job lifecycle from submission to terminal state.
type Orchestrator struct {
	jobs     *store.JobStore
	registry *parsers.Registry
	search   search.Service
	evidence EvidenceSource
	cfg      Config
	queue    *priorityQueue

	mu        sync.Mutex
	running   map[string]context.CancelFunc
	requested map[string]struct{} // cancel requested before the worker picked it up

	wg sync.WaitGroup
}

// NewOrchestrator wires a job orchestrator.
func NewOrchestrator(jobs *store.JobStore, registry *parsers.Registry, svc search.Service, evidence EvidenceSource, cfg Config) *Orchestrator {
	cfg.applyDefaults()
	return &Orchestrator{
		jobs:      jobs,
		registry:  registry,
		search:    svc,
		evidence:  evidence,
		cfg:       cfg,
		queue:     newPriorityQueue(cfg.QueueDepth, cfg.PromoteAfter),
		running:   make(map[string]context.CancelFunc),
		requested: make(map[string]struct{}),
	}
}

// Submit persists and enqueues a job. Resubmitting evidence with an in-flight
// job returns that job instead of creating new work.
func (o *Orchestrator) Submit(ctx context.Context, job *models.ParsingJob) (*models.ParsingJob, error) {
	existing, err := o.jobs.FindActiveByEvidence(ctx, job.EvidenceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		log.Debug().Str("job_id", existing.ID).Str("evidence_id", job.EvidenceID).
			Msg("evidence already has an in-flight job")
		return existing, nil
	}

	job.Status = models.JobPending
	if err := o.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	taskID := uuid.NewString()
	if !o.queue.enqueue(job.ID, job.Priority) {
		reason := "job queue full"
		if terr := o.jobs.Transition(ctx, job.ID, models.JobPending, models.JobFailed, func(j *models.ParsingJob) {
			j.Error = reason
		}); terr != nil {
			return nil, terr
		}
		return nil, fmt.Errorf("failed to enqueue job %s: %s", job.ID, reason)
	}
	if err := o.jobs.Transition(ctx, job.ID, models.JobPending, models.JobQueued, func(j *models.ParsingJob) {
		j.TaskID = taskID
	}); err != nil {
		return nil, err
	}

	log.Info().Str("job_id", job.ID).Str("evidence_id", job.EvidenceID).
		Str("priority", string(job.Priority)).Msg("parsing job queued")
	return o.jobs.Get(ctx, job.ID)
}

// Cancel requests cancellation. Pending jobs cancel immediately; queued jobs
// cancel when a worker picks them up; running jobs stop at the next chunk
// boundary after flushing buffered events.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		return err
	}

	switch job.Status {
	case models.JobPending:
		return o.jobs.Transition(ctx, jobID, models.JobPending, models.JobCancelled, nil)
	case models.JobQueued:
		o.mu.Lock()
		o.requested[jobID] = struct{}{}
		o.mu.Unlock()
		return nil
	case models.JobRunning:
		o.mu.Lock()
		cancel, ok := o.running[jobID]
		o.mu.Unlock()
		if ok {
			cancel()
		}
		return nil
	default:
		return fmt.Errorf("job %s is already %s", jobID, job.Status)
	}
}

// Run starts the worker pool and blocks until the context ends and all
// workers have drained. Jobs left non-terminal by a previous process are
// failed first: the queue is in-memory, so they can never progress, and an
// active row would make resubmission of the same evidence a no-op forever.
func (o *Orchestrator) Run(ctx context.Context) {
	if n, err := o.jobs.FailOrphans(ctx, "interrupted by daemon restart"); err != nil {
		log.Error().Err(err).Msg("failed to sweep orphaned jobs")
	} else if n > 0 {
		log.Warn().Int64("jobs", n).Msg("failed jobs orphaned by a previous run")
	}
	log.Info().Int("workers", o.cfg.Workers).Int("chunk_size", o.cfg.ChunkSize).
		Msg("parsing worker pool started")
	for i := 0; i < o.cfg.Workers; i++ {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.workerLoop(ctx)
		}()
	}
	o.wg.Wait()
}

func (o *Orchestrator) workerLoop(ctx context.Context) {
	for {
		jobID, ok := o.queue.dequeue(ctx)
		if !ok {
			return
		}
		o.process(ctx, jobID)
	}
}

func (o *Orchestrator) process(ctx context.Context, jobID string) {
	if o.takeCancelRequest(jobID) {
		if err := o.jobs.Transition(ctx, jobID, models.JobQueued, models.JobCancelled, nil); err != nil {
			log.Error().Err(err).Str("job_id", jobID).Msg("failed to cancel queued job")
		}
		return
	}

	if err := o.jobs.Transition(ctx, jobID, models.JobQueued, models.JobRunning, nil); err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("failed to start job")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.running[jobID] = cancel
	o.mu.Unlock()
	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.running, jobID)
		o.mu.Unlock()
	}()

	job, err := o.jobs.Get(ctx, jobID)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("failed to load job")
		return
	}

	stats, runErr := o.runJob(runCtx, job)

	switch {
	case runErr == nil:
		o.finish(job, models.JobCompleted, stats, "")
	case errors.Is(runErr, errJobCancelled) || errors.Is(runErr, context.Canceled):
		o.finish(job, models.JobCancelled, stats, "")
	default:
		o.finish(job, models.JobFailed, stats, runErr.Error())
	}
}

func (o *Orchestrator) takeCancelRequest(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.requested[jobID]; ok {
		delete(o.requested, jobID)
		return true
	}
	return false
}

// runStats carries the chunk counters of one run.
type runStats struct {
	parsed  int64
	indexed int64
	failed  int64
}

func (o *Orchestrator) runJob(ctx context.Context, job *models.ParsingJob) (runStats, error) {
	var stats runStats

	rc, name, size, err := o.evidence.Open(ctx, job.EvidenceID)
	if err != nil {
		return stats, fmt.Errorf("failed to open evidence: %w", err)
	}
	defer rc.Close()

	counter := &countingReader{r: rc}
	reader := bufio.NewReaderSize(counter, 64*1024)
	head, _ := reader.Peek(4096)

	hint := job.ParserHint
	if hint == "" {
		hint = job.ParserType
	}
	parser, err := o.registry.Resolve(name, "", head, hint)
	if err != nil {
		return stats, fmt.Errorf("failed to resolve parser for %s: %w", name, err)
	}
	meta := parser.Metadata()
	log.Info().Str("job_id", job.ID).Str("parser", meta.Name).Str("evidence", name).
		Msg("parsing evidence")

	index := o.indexFor(job)
	batch := make([]search.BulkAction, 0, o.cfg.ChunkSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		// Flushing uses a fresh context so a cancelled job still lands its
		// in-flight buffer.
		flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		res, err := o.search.Bulk(flushCtx, batch)
		if err != nil {
			return fmt.Errorf("failed to bulk index: %w", err)
		}
		stats.indexed += int64(res.Success)
		stats.failed += int64(len(res.Errors))
		batch = batch[:0]

		progress := progressPercent(counter.n, size)
		if err := o.jobs.UpdateProgress(flushCtx, job.ID, stats.parsed, stats.indexed, stats.failed, progress); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("failed to update job progress")
		}
		return nil
	}

	emit := func(ev *models.ParsedEvent) error {
		stats.parsed++
		doc, warnings := ecs.Normalize(ev)
		if len(warnings) > 0 {
			log.Debug().Str("job_id", job.ID).Strs("warnings", warnings).Msg("event normalized with warnings")
		}
		batch = append(batch, search.BulkAction{
			Index: index,
			ID:    ecs.DocumentID(ev),
			Doc:   map[string]interface{}(doc),
		})
		if len(batch) >= o.cfg.ChunkSize {
			if err := flush(); err != nil {
				return err
			}
			// Cooperative cancel: only observed between chunks, after the
			// buffer is safely indexed.
			if ctx.Err() != nil {
				return errJobCancelled
			}
		}
		return nil
	}

	parseErr := parser.Parse(ctx, reader, name, emit)

	// Land whatever the parser emitted before it stopped, for every outcome.
	if err := flush(); err != nil {
		if parseErr == nil {
			parseErr = err
		}
	}
	return stats, parseErr
}

func (o *Orchestrator) finish(job *models.ParsingJob, status models.JobStatus, stats runStats, errMsg string) {
	// The terminal transition uses a fresh context, like flush: a shutdown
	// that cancelled the pool must not strand the job row in running.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := o.jobs.Transition(ctx, job.ID, models.JobRunning, status, func(j *models.ParsingJob) {
		j.EventsParsed = stats.parsed
		j.EventsIndexed = stats.indexed
		j.EventsFailed = stats.failed
		j.Error = errMsg
		if status == models.JobCompleted {
			j.Progress = 100
		}
		j.Results = map[string]interface{}{
			"events_parsed":  stats.parsed,
			"events_indexed": stats.indexed,
			"events_failed":  stats.failed,
		}
	})
	if err != nil {
		log.Error().Err(err).Str("job_id", job.ID).Str("status", string(status)).
			Msg("failed to finish job")
		return
	}
	metrics.JobsTotal.WithLabelValues(string(status)).Inc()
	metrics.EventsIndexedTotal.Add(float64(stats.indexed))
	log.Info().Str("job_id", job.ID).Str("status", string(status)).
		Int64("parsed", stats.parsed).Int64("indexed", stats.indexed).Int64("failed", stats.failed).
		Msg("parsing job finished")
}

func (o *Orchestrator) indexFor(job *models.ParsingJob) string {
	if job.CaseID != "" {
		return o.cfg.IndexPrefix + job.CaseID
	}
	return o.cfg.IndexPrefix + "default"
}

func progressPercent(read, size int64) float64 {
	if size <= 0 {
		return 0
	}
	p := float64(read) / float64(size) * 100
	if p > 99 {
		// 100 is reserved for the completed transition.
		p = 99
	}
	return p
}
