package detect

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/argus-soc/argus/internal/correlate"
	"github.com/argus-soc/argus/internal/kql"
	"github.com/argus-soc/argus/internal/metrics"
	"github.com/argus-soc/argus/internal/models"
	"github.com/argus-soc/argus/internal/search"
	"github.com/argus-soc/argus/internal/store"
)

// maxQueryHits caps how many hits a rule query pulls per run.
const maxQueryHits = 10000

// errAlertFlood marks a run that produced more candidates than the per-run
// cap. The first MaxAlertsPerRun alerts are still raised; the run then fails,
// but the rule stays enabled: a noisy rule is an operator problem, not a
// broken one.
var errAlertFlood = errors.New("alert volume exceeded per-run cap")

// AlertSink receives alerts as the engine stores them. Implementations must
// not block; slow delivery belongs in the sink.
type AlertSink interface {
	AlertStored(alert *models.Alert, created bool)
}

// Config tunes the detection engine.
type Config struct {
	DedupWindow            time.Duration
	RuleTimeout            time.Duration
	MaxAlertsPerRun        int
	MaxConsecutiveFailures int
	DefaultIndices         []string
}

func (c *Config) applyDefaults() {
	if c.DedupWindow <= 0 {
		c.DedupWindow = time.Hour
	}
	if c.RuleTimeout <= 0 {
		c.RuleTimeout = 60 * time.Second
	}
	if c.MaxAlertsPerRun <= 0 {
		c.MaxAlertsPerRun = 1000
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 5
	}
	if len(c.DefaultIndices) == 0 {
		c.DefaultIndices = []string{"argus-events-*"}
	}
}

// Engine evaluates detection rules against the search service and writes
// deduplicated alerts.
type Engine struct {
	store      *store.Store
	search     search.Service
	correlator *correlate.Engine
	cfg        Config
	locks      *keyedMutex
	sinks      []AlertSink

	// onDisable, when set, is invoked after a rule is auto-disabled.
	onDisable func(ruleID, ruleName string, failures int)
}

// OnRuleDisabled registers a callback fired whenever the engine auto-disables
// a rule, so operators can be notified out of band.
func (e *Engine) OnRuleDisabled(fn func(ruleID, ruleName string, failures int)) {
	e.onDisable = fn
}

// NewEngine wires a detection engine.
func NewEngine(st *store.Store, svc search.Service, cfg Config, sinks ...AlertSink) *Engine {
	cfg.applyDefaults()
	return &Engine{
		store:      st,
		search:     svc,
		correlator: correlate.New(svc),
		cfg:        cfg,
		locks:      newKeyedMutex(),
		sinks:      sinks,
	}
}

// ExecuteRule runs one rule and records the execution. The returned execution
// carries the outcome; an error is only returned when bookkeeping itself
// failed.
func (e *Engine) ExecuteRule(ctx context.Context, rule *models.DetectionRule, now time.Time) (*models.RuleExecution, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.cfg.RuleTimeout)
	defer cancel()

	exec := &models.RuleExecution{
		RuleID:    rule.ID,
		StartedAt: now,
	}

	hits, evalErr := e.evaluate(runCtx, rule, now)

	exec.FinishedAt = time.Now().UTC()
	exec.DurationMS = exec.FinishedAt.Sub(exec.StartedAt).Milliseconds()
	exec.HitCount = hits

	flood := false
	switch {
	case evalErr == nil:
		exec.Status = models.ExecutionSuccess
	case errors.Is(evalErr, errAlertFlood):
		exec.Status = models.ExecutionFailure
		exec.Error = evalErr.Error()
		flood = true
	case errors.Is(evalErr, context.DeadlineExceeded):
		exec.Status = models.ExecutionTimeout
		exec.Error = fmt.Sprintf("rule run exceeded %s", e.cfg.RuleTimeout)
	case errors.Is(evalErr, context.Canceled):
		exec.Status = models.ExecutionCancelled
		exec.Error = "rule run cancelled"
	default:
		exec.Status = models.ExecutionFailure
		exec.Error = evalErr.Error()
	}

	// Bookkeeping uses the parent context: the run deadline must not lose
	// the execution record.
	if err := e.store.Executions.Record(ctx, exec); err != nil {
		return exec, err
	}

	failed := exec.Status == models.ExecutionFailure || exec.Status == models.ExecutionTimeout
	if exec.Status != models.ExecutionCancelled {
		// A flood run fails without feeding the auto-disable counter.
		if err := e.store.Rules.RecordRun(ctx, rule.ID, now, hits, failed && !flood); err != nil {
			return exec, err
		}
	}

	if failed && !flood {
		if err := e.maybeAutoDisable(ctx, rule.ID); err != nil {
			log.Error().Err(err).Str("rule_id", rule.ID).Msg("auto-disable check failed")
		}
	}

	logEvent := log.Debug()
	if failed {
		logEvent = log.Warn()
	}
	logEvent.Str("rule_id", rule.ID).Str("rule", rule.Name).
		Str("status", string(exec.Status)).Int64("hits", hits).
		Int64("duration_ms", exec.DurationMS).Msg("rule run finished")

	metrics.RuleRunsTotal.WithLabelValues(string(exec.Status)).Inc()
	metrics.RuleRunDuration.Observe(float64(exec.DurationMS) / 1000)

	return exec, nil
}

// maybeAutoDisable disables a rule once its consecutive failure count reaches
// the cap, leaving an audit trail.
func (e *Engine) maybeAutoDisable(ctx context.Context, ruleID string) error {
	rule, err := e.store.Rules.Get(ctx, ruleID)
	if err != nil {
		return err
	}
	if rule.ConsecutiveFailures < e.cfg.MaxConsecutiveFailures {
		return nil
	}
	if err := e.store.Rules.Disable(ctx, ruleID); err != nil {
		return err
	}
	log.Warn().Str("rule_id", ruleID).Str("rule", rule.Name).
		Int("consecutive_failures", rule.ConsecutiveFailures).
		Msg("rule auto-disabled after repeated failures")
	if e.onDisable != nil {
		e.onDisable(ruleID, rule.Name, rule.ConsecutiveFailures)
	}
	return e.store.Audit.Record(ctx, &models.AuditEntry{
		TenantID: rule.TenantID,
		UserID:   "system",
		Action:   "rule.auto_disable",
		Target:   ruleID,
		Success:  true,
		Details: map[string]interface{}{
			"rule_name":            rule.Name,
			"consecutive_failures": rule.ConsecutiveFailures,
		},
	})
}

// candidate is one alert the evaluation wants to raise.
type candidate struct {
	entityTuple []string
	entities    models.AlertEntities
	eventRefs   []string
	firstSeen   time.Time
	lastSeen    time.Time
	detail      string
}

func (e *Engine) evaluate(ctx context.Context, rule *models.DetectionRule, now time.Time) (int64, error) {
	var (
		candidates []candidate
		err        error
	)
	if rule.RuleType == models.RuleTypeCorrelation {
		candidates, err = e.evaluateCorrelation(ctx, rule, now)
	} else {
		candidates, err = e.evaluateQuery(ctx, rule, now)
	}
	if err != nil {
		return 0, err
	}

	// A flooding run still raises the first MaxAlertsPerRun alerts; only the
	// excess is discarded.
	total := len(candidates)
	if total > e.cfg.MaxAlertsPerRun {
		candidates = candidates[:e.cfg.MaxAlertsPerRun]
	}
	for _, c := range candidates {
		if err := e.raise(ctx, rule, c, now); err != nil {
			return 0, err
		}
	}
	if total > e.cfg.MaxAlertsPerRun {
		return int64(len(candidates)), fmt.Errorf("%w: %d candidates from rule %s, raised first %d",
			errAlertFlood, total, rule.ID, len(candidates))
	}
	return int64(total), nil
}

// evaluateQuery handles scheduled and threshold rules.
func (e *Engine) evaluateQuery(ctx context.Context, rule *models.DetectionRule, now time.Time) ([]candidate, error) {
	lookback := time.Duration(rule.LookbackS) * time.Second
	indices := rule.Indices
	if len(indices) == 0 {
		indices = e.cfg.DefaultIndices
	}

	res, err := e.search.Search(ctx, search.Request{
		Indices: indices,
		Query:   search.And(kql.Translate(rule.Query), search.TimeRange(now.Add(-lookback), now)),
		Size:    maxQueryHits,
		Sort:    []map[string]string{{"@timestamp": "asc"}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to run rule query: %w", err)
	}

	if rule.ThresholdCount == nil {
		// Plain query rule: one candidate per entity tuple. Dedup collapses
		// repeat hits on the same entities.
		return groupByEntities(res.Hits), nil
	}

	threshold := *rule.ThresholdCount
	if rule.ThresholdField == nil {
		// Total-count threshold: one candidate covering every hit.
		if res.Total < threshold {
			return nil, nil
		}
		c := mergeHits(res.Hits)
		c.detail = fmt.Sprintf("%d events in %s (threshold %d)", res.Total, lookback, threshold)
		return []candidate{c}, nil
	}

	// Per-value threshold: group hits by the threshold field, one candidate
	// per value whose count crosses the line.
	field := *rule.ThresholdField
	groups := make(map[string][]search.Hit)
	var order []string
	for _, h := range res.Hits {
		v, ok := search.LookupField(h.Source, field)
		if !ok {
			continue
		}
		key := search.Stringify(v)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], h)
	}

	var out []candidate
	for _, key := range order {
		hits := groups[key]
		if int64(len(hits)) < threshold {
			continue
		}
		c := mergeHits(hits)
		c.entityTuple = []string{key}
		classifyEntity(field, key, &c.entities)
		c.detail = fmt.Sprintf("%s=%s seen %d times in %s (threshold %d)", field, key, len(hits), lookback, threshold)
		out = append(out, c)
	}
	return out, nil
}

func (e *Engine) evaluateCorrelation(ctx context.Context, rule *models.DetectionRule, now time.Time) ([]candidate, error) {
	indices := rule.Indices
	if len(indices) == 0 {
		indices = e.cfg.DefaultIndices
	}
	matches, err := e.correlator.Evaluate(ctx, rule.Correlation, indices, now)
	if err != nil {
		return nil, err
	}

	out := make([]candidate, 0, len(matches))
	for _, m := range matches {
		c := candidate{
			eventRefs: m.EventRefs,
			firstSeen: m.FirstSeen,
			lastSeen:  m.LastSeen,
			detail:    fmt.Sprintf("correlation %s matched for %s", rule.Correlation.PatternType, m.PartitionKey),
		}
		fields := make([]string, 0, len(m.Entities))
		for f := range m.Entities {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			v := m.Entities[f]
			c.entityTuple = append(c.entityTuple, v)
			classifyEntity(f, v, &c.entities)
		}
		out = append(out, c)
	}
	return out, nil
}

// raise stores one candidate as a deduplicated alert and notifies the sinks.
func (e *Engine) raise(ctx context.Context, rule *models.DetectionRule, c candidate, now time.Time) error {
	fingerprint := Fingerprint(rule.ID, c.entityTuple...)
	unlock := e.locks.lock(fingerprint)
	defer unlock()

	firstSeen := c.firstSeen
	if firstSeen.IsZero() {
		firstSeen = now
	}
	lastSeen := c.lastSeen
	if lastSeen.IsZero() {
		lastSeen = now
	}

	ruleID := rule.ID
	alert := &models.Alert{
		TenantID:        rule.TenantID,
		RuleID:          &ruleID,
		RuleName:        rule.Name,
		Title:           rule.Name,
		Description:     c.detail,
		Severity:        rule.Severity,
		Fingerprint:     fingerprint,
		FirstSeenAt:     firstSeen,
		LastSeenAt:      lastSeen,
		MitreTactics:    rule.MitreTactics,
		MitreTechniques: rule.MitreTechniques,
		EventRefs:       c.eventRefs,
		Entities:        c.entities,
	}

	stored, created, err := e.store.Alerts.Upsert(ctx, alert, e.cfg.DedupWindow)
	if err != nil {
		return fmt.Errorf("failed to store alert: %w", err)
	}
	outcome := "deduplicated"
	if created {
		outcome = "created"
	}
	metrics.AlertsTotal.WithLabelValues(outcome).Inc()
	for _, sink := range e.sinks {
		sink.AlertStored(stored.Clone(), created)
	}
	return nil
}

// groupByEntities folds hits into one candidate per entity tuple.
func groupByEntities(hits []search.Hit) []candidate {
	byTuple := make(map[string]*candidate)
	var order []string
	for _, h := range hits {
		tuple, entities := hitEntities(h)
		key := strings.Join(tuple, "|")
		c, ok := byTuple[key]
		if !ok {
			c = &candidate{entityTuple: tuple, entities: entities}
			byTuple[key] = c
			order = append(order, key)
		}
		appendHit(c, h)
	}
	out := make([]candidate, 0, len(order))
	for _, key := range order {
		out = append(out, *byTuple[key])
	}
	return out
}

// mergeHits folds all hits into one candidate, collecting every entity.
func mergeHits(hits []search.Hit) candidate {
	var c candidate
	for _, h := range hits {
		_, entities := hitEntities(h)
		c.entities.Merge(entities)
		appendHit(&c, h)
	}
	return c
}

func appendHit(c *candidate, h search.Hit) {
	if h.ID != "" {
		c.eventRefs = append(c.eventRefs, h.ID)
	}
	ts := hitTime(h)
	if !ts.IsZero() {
		if c.firstSeen.IsZero() || ts.Before(c.firstSeen) {
			c.firstSeen = ts
		}
		if ts.After(c.lastSeen) {
			c.lastSeen = ts
		}
	}
}

// entityFields are the fields a hit's entity tuple is built from, in order.
var entityFields = []string{"host.name", "user.name", "source.ip"}

func hitEntities(h search.Hit) ([]string, models.AlertEntities) {
	var (
		tuple    []string
		entities models.AlertEntities
	)
	for _, f := range entityFields {
		v, ok := search.LookupField(h.Source, f)
		if !ok {
			continue
		}
		s := search.Stringify(v)
		if s == "" {
			continue
		}
		tuple = append(tuple, s)
		classifyEntity(f, s, &entities)
	}
	return tuple, entities
}

// classifyEntity buckets a field value into the alert entity sets based on
// the field name.
func classifyEntity(field, value string, ent *models.AlertEntities) {
	switch {
	case strings.Contains(field, "host"):
		ent.Hosts = mergeValue(ent.Hosts, value)
	case strings.Contains(field, "user"):
		ent.Users = mergeValue(ent.Users, value)
	case strings.HasSuffix(field, ".ip") || field == "ip":
		ent.IPs = mergeValue(ent.IPs, value)
	}
}

func mergeValue(dst []string, v string) []string {
	for _, existing := range dst {
		if existing == v {
			return dst
		}
	}
	return append(dst, v)
}

func hitTime(h search.Hit) time.Time {
	v, ok := search.LookupField(h.Source, "@timestamp")
	if !ok {
		return time.Time{}
	}
	if s, ok := v.(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
