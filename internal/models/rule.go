package models

import "time"

// RuleType distinguishes how a detection rule is evaluated.
type RuleType string

const (
	RuleTypeScheduled   RuleType = "scheduled"
	RuleTypeThreshold   RuleType = "threshold"
	RuleTypeCorrelation RuleType = "correlation"
	RuleTypeML          RuleType = "ml"
	RuleTypeStatic      RuleType = "static"
)

// RuleStatus is the lifecycle status of a detection rule.
type RuleStatus string

const (
	RuleStatusDraft    RuleStatus = "draft"
	RuleStatusEnabled  RuleStatus = "enabled"
	RuleStatusDisabled RuleStatus = "disabled"
	RuleStatusArchived RuleStatus = "archived"
)

// PatternType selects the correlation pattern evaluated by a correlation rule.
type PatternType string

const (
	PatternSequence     PatternType = "sequence"
	PatternTemporalJoin PatternType = "temporal_join"
	PatternAggregation  PatternType = "aggregation"
	PatternSpike        PatternType = "spike"
)

// CorrelationEvent names one event query inside a correlation config.
type CorrelationEvent struct {
	ID      string   `json:"id"`
	Query   string   `json:"query"`
	Indices []string `json:"indices,omitempty"`
}

// JoinField is one entity field the correlation partitions on.
type JoinField struct {
	Field string `json:"field"`
}

// CorrelationThreshold is a per-event count condition, e.g. {event: e1, count: ">= 3"}.
type CorrelationThreshold struct {
	Event string `json:"event"`
	Count string `json:"count"` // "<op> <n>"
}

// SequenceSpec holds sequence-pattern specifics.
type SequenceSpec struct {
	Order       []string `json:"order"`
	StrictOrder bool     `json:"strictOrder,omitempty"`
}

// TemporalJoinSpec holds temporal-join specifics.
type TemporalJoinSpec struct {
	RequireAll bool   `json:"requireAll,omitempty"`
	MaxSpan    string `json:"maxSpan,omitempty"` // duration, <= window
}

// AggregationSpec holds aggregation-pattern specifics.
type AggregationSpec struct {
	GroupBy []string `json:"groupBy"`
	Having  []string `json:"having"` // "<event> count <op> <n>"
}

// SpikeSpec holds spike-pattern specifics.
type SpikeSpec struct {
	Field          string  `json:"field"`
	BaselineWindow string  `json:"baselineWindow"`
	SpikeWindow    string  `json:"spikeWindow"`
	SpikeThreshold float64 `json:"spikeThreshold"`
	MinBaseline    int64   `json:"minBaseline"`
}

// CorrelationConfig describes a multi-event detection pattern.
type CorrelationConfig struct {
	PatternType PatternType            `json:"patternType"`
	Window      string                 `json:"window"` // duration, e.g. "5m"
	Events      []CorrelationEvent     `json:"events"`
	JoinOn      []JoinField            `json:"joinOn,omitempty"`
	Thresholds  []CorrelationThreshold `json:"thresholds,omitempty"`

	Sequence     *SequenceSpec     `json:"sequence,omitempty"`
	TemporalJoin *TemporalJoinSpec `json:"temporalJoin,omitempty"`
	Aggregation  *AggregationSpec  `json:"aggregation,omitempty"`
	Spike        *SpikeSpec        `json:"spike,omitempty"`
}

// DetectionRule is a persisted detection rule.
type DetectionRule struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenantId"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	RuleType    RuleType   `json:"ruleType"`
	Severity    int        `json:"severity"` // 0-100
	Query       string     `json:"query"`
	Indices     []string   `json:"indices,omitempty"`
	Status      RuleStatus `json:"status"`

	ScheduleIntervalS int `json:"scheduleIntervalS"`
	LookbackS         int `json:"lookbackS"`

	ThresholdCount *int64  `json:"thresholdCount,omitempty"`
	ThresholdField *string `json:"thresholdField,omitempty"`

	Correlation *CorrelationConfig `json:"correlation,omitempty"`

	MitreTactics    []string `json:"mitreTactics,omitempty"`
	MitreTechniques []string `json:"mitreTechniques,omitempty"`
	Tags            []string `json:"tags,omitempty"`

	HitCount            int64      `json:"hitCount"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastRunAt           *time.Time `json:"lastRunAt,omitempty"`
	LastHitAt           *time.Time `json:"lastHitAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Enabled reports whether the rule should be scheduled.
func (r *DetectionRule) Enabled() bool {
	return r.Status == RuleStatusEnabled
}

// Due reports whether the rule's schedule interval has elapsed since its
// last run.
func (r *DetectionRule) Due(now time.Time) bool {
	if r.LastRunAt == nil {
		return true
	}
	interval := time.Duration(r.ScheduleIntervalS) * time.Second
	return now.Sub(*r.LastRunAt) >= interval
}

// Validate checks the rule invariants. Enabled rules need a query; a
// correlation rule needs a correlation config.
func (r *DetectionRule) Validate() error {
	if r.Name == "" {
		return errRuleInvalid("rule name is required")
	}
	if r.Status == RuleStatusEnabled && r.Query == "" && r.RuleType != RuleTypeCorrelation {
		return errRuleInvalid("enabled rule must have a non-empty query")
	}
	if r.RuleType == RuleTypeCorrelation && r.Correlation == nil {
		return errRuleInvalid("correlation rule must have a correlation config")
	}
	if r.ScheduleIntervalS <= 0 {
		return errRuleInvalid("schedule interval must be positive")
	}
	if r.LookbackS <= 0 {
		return errRuleInvalid("lookback period must be positive")
	}
	if r.Severity < 0 || r.Severity > 100 {
		return errRuleInvalid("severity must be in [0,100]")
	}
	return nil
}

type ruleValidationError string

func (e ruleValidationError) Error() string { return string(e) }

func errRuleInvalid(msg string) error { return ruleValidationError(msg) }

// ExecutionStatus is the outcome of one rule run.
type ExecutionStatus string

const (
	ExecutionSuccess   ExecutionStatus = "success"
	ExecutionFailure   ExecutionStatus = "failure"
	ExecutionTimeout   ExecutionStatus = "timeout"
	ExecutionCancelled ExecutionStatus = "cancelled"
)

// RuleExecution is an append-only record of one rule run.
type RuleExecution struct {
	ID         string          `json:"id"`
	RuleID     string          `json:"ruleId"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt"`
	DurationMS int64           `json:"durationMs"`
	HitCount   int64           `json:"hitCount"`
	Status     ExecutionStatus `json:"status"`
	Error      string          `json:"error,omitempty"`
}
