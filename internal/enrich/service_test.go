package enrich

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/argus-soc/argus/internal/models"
)

type fakeProvider struct {
	name   string
	result *models.ProviderResult
	err    error
	delay  time.Duration
	calls  atomic.Int64
}

func (p *fakeProvider) Name() string                        { return p.name }
func (p *fakeProvider) Supports(typ models.IOCType) bool    { return true }
func (p *fakeProvider) Lookup(ctx context.Context, value string, typ models.IOCType) (*models.ProviderResult, error) {
	p.calls.Add(1)
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	if p.result == nil {
		return nil, nil
	}
	clone := *p.result
	return &clone, nil
}

func score(v float64) *float64 { return &v }

func ts(s string) *time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return &t
}

func TestEnrichMergesProviderPayloads(t *testing.T) {
	a := &fakeProvider{name: "alpha", result: &models.ProviderResult{
		Score:     score(80),
		Verdict:   models.VerdictMalicious,
		Tags:      []string{"botnet", "c2"},
		FirstSeen: ts("2026-01-01T00:00:00Z"),
		LastSeen:  ts("2026-03-01T00:00:00Z"),
	}}
	b := &fakeProvider{name: "beta", result: &models.ProviderResult{
		Score:     score(40),
		Verdict:   models.VerdictSuspicious,
		Tags:      []string{"c2", "phishing"},
		FirstSeen: ts("2025-12-01T00:00:00Z"),
		LastSeen:  ts("2026-02-01T00:00:00Z"),
	}}

	e := NewEnricher([]Provider{a, b}, NewMemoryCache(), Config{})
	res, err := e.Enrich(context.Background(), "203.0.113.7", models.IOCIPv4)
	require.NoError(t, err)

	assert.Equal(t, models.EnrichmentCompleted, res.Status)
	assert.Equal(t, models.VerdictMalicious, res.Verdict, "malicious wins precedence")
	require.NotNil(t, res.Score)
	assert.InDelta(t, 60.0, *res.Score, 0.001, "scores are averaged")
	assert.ElementsMatch(t, []string{"botnet", "c2", "phishing"}, res.Tags)
	assert.Equal(t, *ts("2025-12-01T00:00:00Z"), *res.FirstSeen)
	assert.Equal(t, *ts("2026-03-01T00:00:00Z"), *res.LastSeen)
	assert.False(t, res.CacheHit)
	assert.Len(t, res.Providers, 2)
}

func TestEnrichCacheHit(t *testing.T) {
	p := &fakeProvider{name: "alpha", result: &models.ProviderResult{Verdict: models.VerdictClean}}
	e := NewEnricher([]Provider{p}, NewMemoryCache(), Config{})

	ctx := context.Background()
	first, err := e.Enrich(ctx, "203.0.113.8", models.IOCIPv4)
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := e.Enrich(ctx, "203.0.113.8", models.IOCIPv4)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, models.EnrichmentCached, second.Status)
	assert.Equal(t, int64(1), p.calls.Load(), "cache hit skips the provider")
}

func TestEnrichProviderErrorDegrades(t *testing.T) {
	good := &fakeProvider{name: "good", result: &models.ProviderResult{Verdict: models.VerdictSuspicious}}
	bad := &fakeProvider{name: "bad", err: fmt.Errorf("upstream 503")}

	e := NewEnricher([]Provider{good, bad}, NewMemoryCache(), Config{})
	res, err := e.Enrich(context.Background(), "evil.example.net", models.IOCDomain)
	require.NoError(t, err)

	assert.Equal(t, models.EnrichmentCompleted, res.Status)
	assert.Equal(t, models.VerdictSuspicious, res.Verdict)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "bad")
}

func TestEnrichNotFoundUsesNegativeCache(t *testing.T) {
	p := &fakeProvider{name: "alpha"} // nil result: no record
	cache := NewMemoryCache()
	e := NewEnricher([]Provider{p}, cache, Config{NegativeCacheTTL: time.Minute})

	ctx := context.Background()
	res, err := e.Enrich(ctx, "unknown.example.net", models.IOCDomain)
	require.NoError(t, err)
	assert.Equal(t, models.EnrichmentNotFound, res.Status)
	assert.Equal(t, models.VerdictUnknown, res.Verdict)

	res, err = e.Enrich(ctx, "unknown.example.net", models.IOCDomain)
	require.NoError(t, err)
	assert.True(t, res.CacheHit)
	assert.Equal(t, int64(1), p.calls.Load())
}

func TestEnrichProviderTimeoutContributesError(t *testing.T) {
	slow := &fakeProvider{name: "slow", delay: 200 * time.Millisecond,
		result: &models.ProviderResult{Verdict: models.VerdictMalicious}}
	e := NewEnricher([]Provider{slow}, NewMemoryCache(), Config{RequestTimeout: 20 * time.Millisecond})

	res, err := e.Enrich(context.Background(), "203.0.113.9", models.IOCIPv4)
	require.NoError(t, err)
	assert.Equal(t, models.EnrichmentFailed, res.Status)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "slow")
}

func TestEnrichBatchKeepsOrder(t *testing.T) {
	p := &fakeProvider{name: "alpha", result: &models.ProviderResult{Verdict: models.VerdictClean}}
	e := NewEnricher([]Provider{p}, NewMemoryCache(), Config{})

	indicators := []Indicator{
		{Value: "203.0.113.1", Type: models.IOCIPv4},
		{Value: "203.0.113.2", Type: models.IOCIPv4},
		{Value: "203.0.113.3", Type: models.IOCIPv4},
	}
	results := e.EnrichBatch(context.Background(), indicators, 2)
	require.Len(t, results, 3)
	for i, res := range results {
		require.NotNil(t, res, "result %d", i)
		assert.Equal(t, indicators[i].Value, res.Indicator)
	}
}
