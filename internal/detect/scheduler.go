package detect

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/argus-soc/argus/internal/store"
)

// Scheduler ticks once a second, picks the enabled rules whose interval has
// elapsed and hands them to the engine. A rule never runs concurrently with
// itself; distinct rules share a bounded worker pool.
type Scheduler struct {
	engine *Engine
	rules  *store.RuleStore

	tick time.Duration
	sem  *semaphore.Weighted

	mu       sync.Mutex
	inflight map[string]struct{}

	wg sync.WaitGroup
}

// NewScheduler builds a scheduler over the engine. workers <= 0 defaults to
// twice the CPU count.
func NewScheduler(engine *Engine, rules *store.RuleStore, workers int) *Scheduler {
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	return &Scheduler{
		engine:   engine,
		rules:    rules,
		tick:     time.Second,
		sem:      semaphore.NewWeighted(int64(workers)),
		inflight: make(map[string]struct{}),
	}
}

// Run drives the scheduling loop until the context is cancelled, then waits
// for in-flight rule runs to finish.
func (s *Scheduler) Run(ctx context.Context) {
	log.Info().Dur("tick", s.tick).Msg("detection scheduler started")
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("detection scheduler stopping, draining rule runs")
			s.wg.Wait()
			return
		case <-ticker.C:
			s.dispatch(ctx)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context) {
	rules, err := s.rules.ListEnabled(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list enabled rules")
		return
	}

	now := time.Now().UTC()
	for _, rule := range rules {
		if !rule.Due(now) {
			continue
		}
		if !s.claim(rule.ID) {
			// Previous run of this rule is still going.
			continue
		}
		if err := s.sem.Acquire(ctx, 1); err != nil {
			s.release(rule.ID)
			return
		}

		rule := rule
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			defer s.release(rule.ID)

			if _, err := s.engine.ExecuteRule(ctx, rule, now); err != nil {
				log.Error().Err(err).Str("rule_id", rule.ID).Msg("rule run bookkeeping failed")
			}
		}()
	}
}

func (s *Scheduler) claim(ruleID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[ruleID]; busy {
		return false
	}
	s.inflight[ruleID] = struct{}{}
	return true
}

func (s *Scheduler) release(ruleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, ruleID)
}
