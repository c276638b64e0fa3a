package models

import "time"

// JobStatus is the lifecycle status of a parsing job. Transitions are
// monotonic: pending -> queued -> running -> {completed|failed|cancelled},
// with pending -> cancelled and pending/queued -> failed on submission error.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCancelled JobStatus = "cancelled"
)

// Terminal reports whether a status ends the job lifecycle.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled:
		return true
	}
	return false
}

// ValidJobTransition reports whether moving from to next is allowed by the
// state machine.
func ValidJobTransition(from, next JobStatus) bool {
	if from == next {
		return false
	}
	if from.Terminal() {
		return false
	}
	switch {
	case from == JobPending && (next == JobQueued || next == JobCancelled || next == JobFailed):
		return true
	case from == JobQueued && (next == JobRunning || next == JobFailed || next == JobCancelled):
		return true
	case from == JobRunning && next.Terminal():
		return true
	}
	return false
}

// JobPriority selects which worker queue a job lands on.
type JobPriority string

const (
	PriorityHigh    JobPriority = "high"
	PriorityDefault JobPriority = "default"
	PriorityLow     JobPriority = "low"
)

// ParsingJob is a durable unit of parse-and-index work.
type ParsingJob struct {
	ID          string                 `json:"id"`
	EvidenceID  string                 `json:"evidenceId"`
	CaseID      string                 `json:"caseId,omitempty"`
	ParserType  string                 `json:"parserType,omitempty"`
	ParserHint  string                 `json:"parserHint,omitempty"`
	Config      map[string]interface{} `json:"config,omitempty"`
	SubmittedBy string                 `json:"submittedBy,omitempty"`
	Priority    JobPriority            `json:"priority"`
	Status      JobStatus              `json:"status"`
	TaskID      string                 `json:"taskId,omitempty"` // worker task id

	EventsParsed  int64   `json:"eventsParsed"`
	EventsIndexed int64   `json:"eventsIndexed"`
	EventsFailed  int64   `json:"eventsFailed"`
	Progress      float64 `json:"progressPercent"` // monotonic, clamped to 100

	Error   string                 `json:"error,omitempty"`
	Results map[string]interface{} `json:"results,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}
