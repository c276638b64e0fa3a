package models

import "time"

// ResponseActionType enumerates the response actions the executor can
// dispatch to an adapter.
type ResponseActionType string

const (
	ActionIsolate         ResponseActionType = "isolate"
	ActionRelease         ResponseActionType = "release"
	ActionKillProcess     ResponseActionType = "kill_process"
	ActionQuarantineFile  ResponseActionType = "quarantine_file"
	ActionCollectEvidence ResponseActionType = "collect_evidence"
	ActionBlockIP         ResponseActionType = "block_ip"
	ActionDisableUser     ResponseActionType = "disable_user"
	ActionRunWorkflow     ResponseActionType = "run_workflow"
)

// ActionStatus is the lifecycle status of a response action.
type ActionStatus string

const (
	ActionPending    ActionStatus = "pending"
	ActionInProgress ActionStatus = "in_progress"
	ActionCompleted  ActionStatus = "completed"
	ActionFailed     ActionStatus = "failed"
)

// ResponseAction is the durable audit record of one dispatched action.
type ResponseAction struct {
	ID            string                 `json:"id"`
	TenantID      string                 `json:"tenantId"`
	UserID        string                 `json:"userId"`
	CaseID        *string                `json:"caseId,omitempty"`
	ActionType    ResponseActionType     `json:"actionType"`
	Status        ActionStatus           `json:"status"`
	ClientID      string                 `json:"clientId,omitempty"`
	Hostname      string                 `json:"hostname,omitempty"`
	TargetDetails map[string]interface{} `json:"targetDetails,omitempty"`
	Reason        string                 `json:"reason,omitempty"`
	JobID         string                 `json:"jobId,omitempty"` // external adapter job id
	Result        map[string]interface{} `json:"result,omitempty"`
	ErrorMessage  string                 `json:"errorMessage,omitempty"`
	CorrelationID string                 `json:"correlationId"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// AuditEntry pairs with a ResponseAction (or any other auditable operation)
// via the correlation id.
type AuditEntry struct {
	ID            string                 `json:"id"`
	Timestamp     time.Time              `json:"timestamp"`
	TenantID      string                 `json:"tenantId,omitempty"`
	UserID        string                 `json:"userId,omitempty"`
	Action        string                 `json:"action"` // e.g. "response.isolate"
	Target        string                 `json:"target,omitempty"`
	Success       bool                   `json:"success"`
	CorrelationID string                 `json:"correlationId,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
}

// SavedQuery is a named KQL snippet owned by a user.
type SavedQuery struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Query       string    `json:"query"`
	Indices     []string  `json:"indices,omitempty"`
	IsShared    bool      `json:"isShared"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}
