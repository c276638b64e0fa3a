// Package correlate evaluates multi-event detection patterns (sequence,
// temporal join, aggregation, spike) over the search service.
package correlate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/argus-soc/argus/internal/models"
)

// durationPattern: positive integer plus a single unit letter.
var durationPattern = regexp.MustCompile(`^(\d+)([smhdw])$`)

// ParseDuration parses "5m", "1h", "2d", "1w" style windows.
func ParseDuration(s string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("invalid duration %q (want e.g. 30s, 5m, 1h, 2d, 1w)", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid duration %q: value must be a positive integer", s)
	}
	var unit time.Duration
	switch m[2] {
	case "s":
		unit = time.Second
	case "m":
		unit = time.Minute
	case "h":
		unit = time.Hour
	case "d":
		unit = 24 * time.Hour
	case "w":
		unit = 7 * 24 * time.Hour
	}
	return time.Duration(n) * unit, nil
}

// Condition is a parsed "<op> <n>" count comparison.
type Condition struct {
	Op string // >=, >, <=, <, ==
	N  int64
}

// Holds reports whether count satisfies the condition.
func (c Condition) Holds(count int64) bool {
	switch c.Op {
	case ">=":
		return count >= c.N
	case ">":
		return count > c.N
	case "<=":
		return count <= c.N
	case "<":
		return count < c.N
	case "==":
		return count == c.N
	}
	return false
}

var conditionPattern = regexp.MustCompile(`^(>=|<=|==|>|<)\s*(\d+)$`)

// ParseCondition parses a "<op> <n>" string.
func ParseCondition(s string) (Condition, error) {
	m := conditionPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Condition{}, fmt.Errorf("invalid count condition %q (want e.g. \">= 3\")", s)
	}
	n, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return Condition{}, fmt.Errorf("invalid count condition %q: %w", s, err)
	}
	return Condition{Op: m[1], N: n}, nil
}

// havingPattern is "<event> count <op> <n>".
var havingPattern = regexp.MustCompile(`^(\S+)\s+count\s+(>=|<=|==|>|<)\s*(\d+)$`)

// ParseHaving parses an aggregation having clause.
func ParseHaving(s string) (event string, cond Condition, err error) {
	m := havingPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", Condition{}, fmt.Errorf("invalid having clause %q (want \"<event> count <op> <n>\")", s)
	}
	n, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return "", Condition{}, err
	}
	return m[1], Condition{Op: m[2], N: n}, nil
}

// ValidateConfig checks a correlation config before a rule is accepted.
func ValidateConfig(cfg *models.CorrelationConfig) error {
	if cfg == nil {
		return fmt.Errorf("correlation config is required")
	}
	window, err := ParseDuration(cfg.Window)
	if err != nil {
		return fmt.Errorf("window: %w", err)
	}

	if cfg.PatternType != models.PatternSpike && len(cfg.Events) == 0 {
		return fmt.Errorf("at least one event query is required")
	}
	ids := make(map[string]struct{}, len(cfg.Events))
	for _, ev := range cfg.Events {
		if ev.ID == "" {
			return fmt.Errorf("event id is required")
		}
		if ev.Query == "" {
			return fmt.Errorf("event %q: query is required", ev.ID)
		}
		if _, dup := ids[ev.ID]; dup {
			return fmt.Errorf("duplicate event id %q", ev.ID)
		}
		ids[ev.ID] = struct{}{}
	}
	for _, th := range cfg.Thresholds {
		if _, ok := ids[th.Event]; !ok {
			return fmt.Errorf("threshold references unknown event %q", th.Event)
		}
		if _, err := ParseCondition(th.Count); err != nil {
			return err
		}
	}

	switch cfg.PatternType {
	case models.PatternSequence:
		if cfg.Sequence == nil || len(cfg.Sequence.Order) < 2 {
			return fmt.Errorf("sequence pattern needs an order of at least two events")
		}
		for _, id := range cfg.Sequence.Order {
			if _, ok := ids[id]; !ok {
				return fmt.Errorf("sequence order references unknown event %q", id)
			}
		}
		if len(cfg.JoinOn) == 0 {
			return fmt.Errorf("sequence pattern needs join_on fields")
		}
	case models.PatternTemporalJoin:
		if cfg.TemporalJoin == nil {
			return fmt.Errorf("temporal_join pattern needs temporal_join settings")
		}
		if cfg.TemporalJoin.MaxSpan != "" {
			span, err := ParseDuration(cfg.TemporalJoin.MaxSpan)
			if err != nil {
				return fmt.Errorf("max_span: %w", err)
			}
			if span > window {
				return fmt.Errorf("max_span %s exceeds window %s", cfg.TemporalJoin.MaxSpan, cfg.Window)
			}
		}
		if len(cfg.JoinOn) == 0 {
			return fmt.Errorf("temporal_join pattern needs join_on fields")
		}
	case models.PatternAggregation:
		if cfg.Aggregation == nil || len(cfg.Aggregation.GroupBy) == 0 {
			return fmt.Errorf("aggregation pattern needs group_by fields")
		}
		if len(cfg.Aggregation.Having) == 0 {
			return fmt.Errorf("aggregation pattern needs having clauses")
		}
		for _, h := range cfg.Aggregation.Having {
			event, _, err := ParseHaving(h)
			if err != nil {
				return err
			}
			if _, ok := ids[event]; !ok {
				return fmt.Errorf("having clause references unknown event %q", event)
			}
		}
	case models.PatternSpike:
		if cfg.Spike == nil {
			return fmt.Errorf("spike pattern needs spike settings")
		}
		if cfg.Spike.Field == "" {
			return fmt.Errorf("spike pattern needs a field")
		}
		if _, err := ParseDuration(cfg.Spike.BaselineWindow); err != nil {
			return fmt.Errorf("baseline_window: %w", err)
		}
		if _, err := ParseDuration(cfg.Spike.SpikeWindow); err != nil {
			return fmt.Errorf("spike_window: %w", err)
		}
		if cfg.Spike.SpikeThreshold <= 0 {
			return fmt.Errorf("spike_threshold must be positive")
		}
		if len(cfg.Events) == 0 {
			return fmt.Errorf("spike pattern needs one event query")
		}
	default:
		return fmt.Errorf("unknown pattern type %q", cfg.PatternType)
	}
	return nil
}
