package correlate

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/argus-soc/argus/internal/kql"
	"github.com/argus-soc/argus/internal/models"
	"github.com/argus-soc/argus/internal/search"
)

// maxEventHits caps how many hits a single event query pulls per run.
const maxEventHits = 10000

// Match is one satisfied correlation pattern instance. Matches are keyed by
// partition (the join_on or group_by field values) so the caller can
// fingerprint alerts per entity.
type Match struct {
	PartitionKey string
	Entities     map[string]string
	EventRefs    []string
	Counts       map[string]int64
	FirstSeen    time.Time
	LastSeen     time.Time
}

// Engine evaluates correlation patterns against the search service.
type Engine struct {
	svc search.Service
}

// New returns an engine bound to a search service.
func New(svc search.Service) *Engine {
	return &Engine{svc: svc}
}

// Evaluate runs the configured pattern over [now-window, now] and returns one
// match per satisfied partition. defaultIndices is used for event queries that
// name no indices of their own.
func (e *Engine) Evaluate(ctx context.Context, cfg *models.CorrelationConfig, defaultIndices []string, now time.Time) ([]Match, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid correlation config: %w", err)
	}
	window, _ := ParseDuration(cfg.Window)
	from := now.Add(-window)

	if cfg.PatternType == models.PatternSpike {
		return e.evaluateSpike(ctx, cfg, defaultIndices, now)
	}

	occurrences, err := e.fetchAll(ctx, cfg.Events, defaultIndices, from, now)
	if err != nil {
		return nil, err
	}

	switch cfg.PatternType {
	case models.PatternSequence:
		return evaluateSequence(cfg, occurrences), nil
	case models.PatternTemporalJoin:
		return evaluateTemporalJoin(cfg, occurrences), nil
	case models.PatternAggregation:
		return evaluateAggregation(cfg, occurrences), nil
	}
	return nil, fmt.Errorf("unknown pattern type %q", cfg.PatternType)
}

// occurrence is one hit of one correlation event query.
type occurrence struct {
	eventID string
	ts      time.Time
	ref     string
	source  map[string]interface{}
}

func (e *Engine) fetchAll(ctx context.Context, events []models.CorrelationEvent, defaultIndices []string, from, to time.Time) ([]occurrence, error) {
	var all []occurrence
	for _, ev := range events {
		indices := ev.Indices
		if len(indices) == 0 {
			indices = defaultIndices
		}
		req := search.Request{
			Indices: indices,
			Query:   search.And(kql.Translate(ev.Query), search.TimeRange(from, to)),
			Size:    maxEventHits,
			Sort:    []map[string]string{{"@timestamp": "asc"}},
		}
		res, err := e.svc.Search(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch event %q: %w", ev.ID, err)
		}
		if res.Total > maxEventHits {
			log.Warn().Str("event", ev.ID).Int64("total", res.Total).
				Msg("correlation event query truncated at hit cap")
		}
		for _, h := range res.Hits {
			all = append(all, occurrence{
				eventID: ev.ID,
				ts:      hitTimestamp(h),
				ref:     hitRef(h),
				source:  h.Source,
			})
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ts.Before(all[j].ts) })
	return all, nil
}

func hitTimestamp(h search.Hit) time.Time {
	v, ok := search.LookupField(h.Source, "@timestamp")
	if !ok {
		return time.Time{}
	}
	if t, ok := v.(time.Time); ok {
		return t
	}
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func hitRef(h search.Hit) string {
	if h.ID != "" {
		return h.ID
	}
	return h.Index
}

// partition groups occurrences by the values of the given fields. Occurrences
// missing any field are dropped: an unjoinable hit cannot correlate.
type partition struct {
	key      string
	entities map[string]string
	byEvent  map[string][]occurrence
}

func partitionBy(occurrences []occurrence, fields []string) []*partition {
	byKey := make(map[string]*partition)
	var order []string
	for _, occ := range occurrences {
		values := make(map[string]string, len(fields))
		parts := make([]string, 0, len(fields))
		ok := true
		for _, f := range fields {
			v, found := search.LookupField(occ.source, f)
			if !found {
				ok = false
				break
			}
			s := search.Stringify(v)
			values[f] = s
			parts = append(parts, s)
		}
		if !ok {
			continue
		}
		key := strings.Join(parts, "|")
		p, exists := byKey[key]
		if !exists {
			p = &partition{key: key, entities: values, byEvent: make(map[string][]occurrence)}
			byKey[key] = p
			order = append(order, key)
		}
		p.byEvent[occ.eventID] = append(p.byEvent[occ.eventID], occ)
	}
	out := make([]*partition, 0, len(order))
	for _, k := range order {
		out = append(out, byKey[k])
	}
	return out
}

func joinFields(cfg *models.CorrelationConfig) []string {
	fields := make([]string, 0, len(cfg.JoinOn))
	for _, j := range cfg.JoinOn {
		fields = append(fields, j.Field)
	}
	return fields
}

// thresholdsHold checks the per-event count conditions for one partition.
// Events without an explicit threshold only need to be present when required.
func thresholdsHold(cfg *models.CorrelationConfig, p *partition) bool {
	for _, th := range cfg.Thresholds {
		cond, err := ParseCondition(th.Count)
		if err != nil {
			return false
		}
		if !cond.Holds(int64(len(p.byEvent[th.Event]))) {
			return false
		}
	}
	return true
}

func matchFromPartition(p *partition) Match {
	m := Match{
		PartitionKey: p.key,
		Entities:     p.entities,
		Counts:       make(map[string]int64, len(p.byEvent)),
	}
	for id, occs := range p.byEvent {
		m.Counts[id] = int64(len(occs))
		for _, occ := range occs {
			m.EventRefs = append(m.EventRefs, occ.ref)
			if m.FirstSeen.IsZero() || occ.ts.Before(m.FirstSeen) {
				m.FirstSeen = occ.ts
			}
			if occ.ts.After(m.LastSeen) {
				m.LastSeen = occ.ts
			}
		}
	}
	sort.Strings(m.EventRefs)
	return m
}

// evaluateSequence checks the ordered chain per partition. With strict order
// the first occurrence of each step must come after the first occurrence of
// the previous step; otherwise any in-order chain of occurrences qualifies.
func evaluateSequence(cfg *models.CorrelationConfig, occurrences []occurrence) []Match {
	var matches []Match
	for _, p := range partitionBy(occurrences, joinFields(cfg)) {
		if !thresholdsHold(cfg, p) {
			continue
		}
		ordered := true
		if cfg.Sequence.StrictOrder {
			prev := time.Time{}
			for _, step := range cfg.Sequence.Order {
				occs := p.byEvent[step]
				if len(occs) == 0 {
					ordered = false
					break
				}
				first := occs[0].ts
				if !first.After(prev) {
					ordered = false
					break
				}
				prev = first
			}
		} else {
			// Loose order: a chain with strictly increasing timestamps,
			// unrelated events in between are fine.
			prev := time.Time{}
			for _, step := range cfg.Sequence.Order {
				found := false
				for _, occ := range p.byEvent[step] {
					if occ.ts.After(prev) {
						prev = occ.ts
						found = true
						break
					}
				}
				if !found {
					ordered = false
					break
				}
			}
		}
		if ordered {
			matches = append(matches, matchFromPartition(p))
		}
	}
	return matches
}

// evaluateTemporalJoin checks co-occurrence per partition. With require_all
// every event id must appear; otherwise two distinct ids suffice. max_span
// bounds the spread between the earliest occurrence of each present event.
func evaluateTemporalJoin(cfg *models.CorrelationConfig, occurrences []occurrence) []Match {
	var maxSpan time.Duration
	if cfg.TemporalJoin.MaxSpan != "" {
		maxSpan, _ = ParseDuration(cfg.TemporalJoin.MaxSpan)
	}

	var matches []Match
	for _, p := range partitionBy(occurrences, joinFields(cfg)) {
		if !thresholdsHold(cfg, p) {
			continue
		}
		present := 0
		var earliest, latest time.Time
		for _, ev := range cfg.Events {
			occs := p.byEvent[ev.ID]
			if len(occs) == 0 {
				continue
			}
			present++
			first := occs[0].ts
			if earliest.IsZero() || first.Before(earliest) {
				earliest = first
			}
			if first.After(latest) {
				latest = first
			}
		}
		if cfg.TemporalJoin.RequireAll && present < len(cfg.Events) {
			continue
		}
		if !cfg.TemporalJoin.RequireAll && present < 2 {
			continue
		}
		if maxSpan > 0 && latest.Sub(earliest) > maxSpan {
			continue
		}
		matches = append(matches, matchFromPartition(p))
	}
	return matches
}

// evaluateAggregation groups by the configured fields and applies the having
// clauses as per-event count conditions.
func evaluateAggregation(cfg *models.CorrelationConfig, occurrences []occurrence) []Match {
	type havingClause struct {
		event string
		cond  Condition
	}
	clauses := make([]havingClause, 0, len(cfg.Aggregation.Having))
	for _, h := range cfg.Aggregation.Having {
		event, cond, err := ParseHaving(h)
		if err != nil {
			continue
		}
		clauses = append(clauses, havingClause{event: event, cond: cond})
	}

	var matches []Match
	for _, p := range partitionBy(occurrences, cfg.Aggregation.GroupBy) {
		if !thresholdsHold(cfg, p) {
			continue
		}
		ok := true
		for _, c := range clauses {
			if !c.cond.Holds(int64(len(p.byEvent[c.event]))) {
				ok = false
				break
			}
		}
		if ok {
			matches = append(matches, matchFromPartition(p))
		}
	}
	return matches
}

// evaluateSpike compares the recent spike window against a preceding baseline
// window per distinct field value. A value matches when its spike count reaches
// the threshold multiple of its raw baseline count.
func (e *Engine) evaluateSpike(ctx context.Context, cfg *models.CorrelationConfig, defaultIndices []string, now time.Time) ([]Match, error) {
	spike := cfg.Spike
	spikeWin, _ := ParseDuration(spike.SpikeWindow)
	baseWin, _ := ParseDuration(spike.BaselineWindow)

	spikeFrom := now.Add(-spikeWin)
	baseFrom := spikeFrom.Add(-baseWin)

	spikeCounts, refs, err := e.countByField(ctx, cfg, defaultIndices, spike.Field, spikeFrom, now)
	if err != nil {
		return nil, err
	}
	baseCounts, _, err := e.countByField(ctx, cfg, defaultIndices, spike.Field, baseFrom, spikeFrom)
	if err != nil {
		return nil, err
	}

	minBaseline := spike.MinBaseline
	if minBaseline < 1 {
		minBaseline = 1
	}

	values := make([]string, 0, len(spikeCounts))
	for v := range spikeCounts {
		values = append(values, v)
	}
	sort.Strings(values)

	var matches []Match
	for _, v := range values {
		base := baseCounts[v]
		if base < minBaseline {
			continue
		}
		count := spikeCounts[v]
		if float64(count) >= spike.SpikeThreshold*float64(base) {
			matches = append(matches, Match{
				PartitionKey: v,
				Entities:     map[string]string{spike.Field: v},
				EventRefs:    refs[v],
				Counts:       map[string]int64{"spike": count, "baseline": base},
				FirstSeen:    spikeFrom,
				LastSeen:     now,
			})
		}
	}
	return matches, nil
}

// countByField fetches the event query over [from, to) and counts hits per
// distinct value of the spike field.
func (e *Engine) countByField(ctx context.Context, cfg *models.CorrelationConfig, defaultIndices []string, field string, from, to time.Time) (map[string]int64, map[string][]string, error) {
	ev := cfg.Events[0]
	indices := ev.Indices
	if len(indices) == 0 {
		indices = defaultIndices
	}
	res, err := e.svc.Search(ctx, search.Request{
		Indices: indices,
		Query:   search.And(kql.Translate(ev.Query), search.TimeRange(from, to)),
		Size:    maxEventHits,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch spike event %q: %w", ev.ID, err)
	}

	counts := make(map[string]int64)
	refs := make(map[string][]string)
	for _, h := range res.Hits {
		v, ok := search.LookupField(h.Source, field)
		if !ok {
			continue
		}
		s := search.Stringify(v)
		counts[s]++
		refs[s] = append(refs[s], hitRef(h))
	}
	return counts, refs, nil
}
