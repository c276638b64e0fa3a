package enrich

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/argus-soc/argus/internal/metrics"
	"github.com/argus-soc/argus/internal/models"
)

// Provider is one threat-intel source. Lookup returns nil without error when
// the provider has no record of the indicator.
type Provider interface {
	Name() string
	Supports(typ models.IOCType) bool
	Lookup(ctx context.Context, value string, typ models.IOCType) (*models.ProviderResult, error)
}

// Config tunes the enrichment service.
type Config struct {
	CacheTTL         time.Duration // positive results
	NegativeCacheTTL time.Duration // not_found results
	RequestTimeout   time.Duration // per provider call
	MaxConcurrent    int           // global provider RPC bound
}

func (c *Config) applyDefaults() {
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.NegativeCacheTTL <= 0 {
		c.NegativeCacheTTL = 5 * time.Minute
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 10
	}
}

// Enricher resolves indicators against all configured providers, caching the
// merged result.
type Enricher struct {
	providers []Provider
	cache     Cache
	sem       *semaphore.Weighted
	cfg       Config
}

// NewEnricher wires an enrichment service. A nil cache falls back to an
// in-process one.
func NewEnricher(providers []Provider, cache Cache, cfg Config) *Enricher {
	cfg.applyDefaults()
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Enricher{
		providers: providers,
		cache:     cache,
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		cfg:       cfg,
	}
}

// Enrich resolves one indicator: cache first, then a provider fan-out whose
// merged result is cached before returning.
func (e *Enricher) Enrich(ctx context.Context, value string, typ models.IOCType) (*models.EnrichmentResult, error) {
	key := CacheKey(typ, value)

	cached, hit, err := e.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("indicator", value).Msg("enrichment cache read failed")
	}
	if hit {
		cached.Status = models.EnrichmentCached
		cached.CacheHit = true
		metrics.EnrichLookupsTotal.WithLabelValues(string(models.EnrichmentCached)).Inc()
		return cached, nil
	}

	result := e.fanOut(ctx, value, typ)
	metrics.EnrichLookupsTotal.WithLabelValues(string(result.Status)).Inc()

	ttl := e.cfg.CacheTTL
	if result.Status == models.EnrichmentNotFound {
		ttl = e.cfg.NegativeCacheTTL
	}
	if result.Status != models.EnrichmentFailed {
		if err := e.cache.Set(ctx, key, result, ttl); err != nil {
			log.Warn().Err(err).Str("indicator", value).Msg("enrichment cache write failed")
		}
	}
	return result, nil
}

// Indicator is one (value, type) pair for batch enrichment.
type Indicator struct {
	Value string
	Type  models.IOCType
}

// EnrichBatch runs per-indicator enrichments concurrently, capped by the
// batch's own concurrency. Results keep the input order.
func (e *Enricher) EnrichBatch(ctx context.Context, indicators []Indicator, concurrency int) []*models.EnrichmentResult {
	if concurrency <= 0 {
		concurrency = 5
	}
	sem := semaphore.NewWeighted(int64(concurrency))
	results := make([]*models.EnrichmentResult, len(indicators))

	var wg sync.WaitGroup
	for i, ind := range indicators {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = failedResult(ind.Value, ind.Type, err)
			continue
		}
		wg.Add(1)
		go func(i int, ind Indicator) {
			defer wg.Done()
			defer sem.Release(1)
			res, err := e.Enrich(ctx, ind.Value, ind.Type)
			if err != nil {
				res = failedResult(ind.Value, ind.Type, err)
			}
			results[i] = res
		}(i, ind)
	}
	wg.Wait()
	return results
}

// fanOut queries every provider supporting the type and merges the payloads.
func (e *Enricher) fanOut(ctx context.Context, value string, typ models.IOCType) *models.EnrichmentResult {
	result := &models.EnrichmentResult{
		Indicator:  value,
		Type:       typ,
		Verdict:    models.VerdictUnknown,
		EnrichedAt: time.Now().UTC(),
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		payload []models.ProviderResult
		errs    []string
	)
	for _, p := range e.providers {
		if !p.Supports(typ) {
			continue
		}
		if err := e.sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Sprintf("%s: %v", p.Name(), err))
			mu.Unlock()
			break
		}
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			defer e.sem.Release(1)

			callCtx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
			defer cancel()

			pr, err := p.Lookup(callCtx, value, typ)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// A failing provider degrades, never fails, the enrichment.
				log.Warn().Err(err).Str("provider", p.Name()).Str("indicator", value).
					Msg("provider lookup failed")
				errs = append(errs, fmt.Sprintf("%s: %v", p.Name(), err))
				return
			}
			if pr != nil {
				pr.Provider = p.Name()
				payload = append(payload, *pr)
			}
		}(p)
	}
	wg.Wait()

	result.Errors = errs
	sort.Slice(payload, func(i, j int) bool { return payload[i].Provider < payload[j].Provider })
	result.Providers = payload

	switch {
	case len(payload) > 0:
		result.Status = models.EnrichmentCompleted
		mergePayloads(result, payload)
	case len(errs) > 0:
		result.Status = models.EnrichmentFailed
	default:
		result.Status = models.EnrichmentNotFound
	}
	return result
}

// mergePayloads folds provider payloads: score averaged, verdict by
// precedence, tags unioned, first_seen min, last_seen max.
func mergePayloads(result *models.EnrichmentResult, payload []models.ProviderResult) {
	var (
		scoreSum float64
		scoreN   int
		tagSeen  = make(map[string]struct{})
	)
	for _, pr := range payload {
		if pr.Score != nil {
			scoreSum += *pr.Score
			scoreN++
		}
		if pr.Verdict != "" {
			result.Verdict = models.MergeVerdicts(result.Verdict, pr.Verdict)
		}
		for _, tag := range pr.Tags {
			if _, dup := tagSeen[tag]; !dup {
				tagSeen[tag] = struct{}{}
				result.Tags = append(result.Tags, tag)
			}
		}
		if pr.FirstSeen != nil && (result.FirstSeen == nil || pr.FirstSeen.Before(*result.FirstSeen)) {
			result.FirstSeen = pr.FirstSeen
		}
		if pr.LastSeen != nil && (result.LastSeen == nil || pr.LastSeen.After(*result.LastSeen)) {
			result.LastSeen = pr.LastSeen
		}
	}
	if scoreN > 0 {
		avg := scoreSum / float64(scoreN)
		result.Score = &avg
	}
}

func failedResult(value string, typ models.IOCType, err error) *models.EnrichmentResult {
	return &models.EnrichmentResult{
		Indicator:  value,
		Type:       typ,
		Status:     models.EnrichmentFailed,
		Verdict:    models.VerdictUnknown,
		EnrichedAt: time.Now().UTC(),
		Errors:     []string{err.Error()},
	}
}
