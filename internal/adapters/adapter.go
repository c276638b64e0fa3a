// Package adapters abstracts the external tools the platform drives: EDR
// fleets, SOAR engines, and object storage. A concrete adapter implements
// the base Adapter contract plus any subset of the role interfaces.
package adapters

import (
	"context"
	"io"
	"time"
)

// HealthState is the coarse availability of an adapter.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// Health is the result of an adapter health check.
type Health struct {
	Status  HealthState            `json:"status"`
	Version string                 `json:"version,omitempty"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Config is the connection configuration shared by REST adapters.
type Config struct {
	URL       string                 `json:"url"`
	APIKey    string                 `json:"-"`
	Username  string                 `json:"username,omitempty"`
	Password  string                 `json:"-"`
	VerifySSL bool                   `json:"verifySsl"`
	TimeoutS  int                    `json:"timeoutS"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

// Redacted returns the config without secrets, safe for API exposure and
// logs.
func (c Config) Redacted() map[string]interface{} {
	out := map[string]interface{}{
		"url":        c.URL,
		"verify_ssl": c.VerifySSL,
		"timeout_s":  c.TimeoutS,
	}
	if c.Username != "" {
		out["username"] = c.Username
	}
	if c.APIKey != "" {
		out["api_key"] = "***"
	}
	if c.Password != "" {
		out["password"] = "***"
	}
	for k, v := range c.Extra {
		out[k] = v
	}
	return out
}

// Adapter is the base contract every adapter fulfils.
type Adapter interface {
	Name() string
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	HealthCheck(ctx context.Context) (*Health, error)
	// GetConfig exposes the adapter configuration with secrets redacted.
	GetConfig() map[string]interface{}
}

// Endpoint is one managed host as seen by a collection adapter.
type Endpoint struct {
	ClientID     string     `json:"clientId"`
	Hostname     string     `json:"hostname"`
	OS           string     `json:"os,omitempty"`
	IPAddress    string     `json:"ipAddress,omitempty"`
	AgentVersion string     `json:"agentVersion,omitempty"`
	IsOnline     bool       `json:"isOnline"`
	IsIsolated   bool       `json:"isIsolated"`
	LastSeenAt   *time.Time `json:"lastSeenAt,omitempty"`
	LastActionAt *time.Time `json:"lastActionAt,omitempty"`
}

// CollectionJob tracks a remote artifact collection.
type CollectionJob struct {
	ID         string     `json:"id"`
	ClientID   string     `json:"clientId"`
	Artifact   string     `json:"artifact"`
	Status     string     `json:"status"` // pending, running, finished, error
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// Hunt is a fleet-wide artifact collection.
type Hunt struct {
	ID          string    `json:"id"`
	Description string    `json:"description,omitempty"`
	Artifact    string    `json:"artifact"`
	State       string    `json:"state"` // paused, running, stopped
	CreatedAt   time.Time `json:"createdAt"`
}

// ActionResult is the adapter-side outcome of a containment primitive.
type ActionResult struct {
	JobID   string                 `json:"jobId,omitempty"`
	Status  string                 `json:"status"` // accepted, completed, failed
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// Collector is the EDR-like role: endpoint inventory, artifact collection,
// hunts, and containment.
type Collector interface {
	Adapter

	ListEndpoints(ctx context.Context) ([]Endpoint, error)
	GetEndpoint(ctx context.Context, clientID string) (*Endpoint, error)
	SearchEndpoints(ctx context.Context, query string) ([]Endpoint, error)

	ListArtifacts(ctx context.Context) ([]string, error)
	CollectArtifact(ctx context.Context, clientID, artifact string, params map[string]interface{}, urgent bool) (*CollectionJob, error)
	GetCollectionStatus(ctx context.Context, jobID string) (*CollectionJob, error)
	GetCollectionResults(ctx context.Context, jobID string) ([]map[string]interface{}, error)

	ListHunts(ctx context.Context) ([]Hunt, error)
	CreateHunt(ctx context.Context, artifact, description string) (*Hunt, error)
	StartHunt(ctx context.Context, huntID string) error
	StopHunt(ctx context.Context, huntID string) error
	GetHuntResults(ctx context.Context, huntID string) ([]map[string]interface{}, error)

	IsolateHost(ctx context.Context, clientID string) (*ActionResult, error)
	UnisolateHost(ctx context.Context, clientID string) (*ActionResult, error)
	QuarantineFile(ctx context.Context, clientID, path string) (*ActionResult, error)
	KillProcess(ctx context.Context, clientID string, pid int64) (*ActionResult, error)
}

// Workflow is a SOAR playbook.
type Workflow struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsValid     bool   `json:"isValid"`
}

// WorkflowExecution is one SOAR playbook run.
type WorkflowExecution struct {
	ID         string                 `json:"id"`
	WorkflowID string                 `json:"workflowId"`
	Status     string                 `json:"status"` // executing, finished, aborted, failure
	Result     map[string]interface{} `json:"result,omitempty"`
	StartedAt  time.Time              `json:"startedAt"`
	FinishedAt *time.Time             `json:"finishedAt,omitempty"`
}

// Approval is a pending human decision inside a SOAR workflow.
type Approval struct {
	ID          string    `json:"id"`
	WorkflowID  string    `json:"workflowId"`
	ExecutionID string    `json:"executionId"`
	Summary     string    `json:"summary,omitempty"`
	RequestedAt time.Time `json:"requestedAt"`
}

// SOAR is the workflow-engine role.
type SOAR interface {
	Adapter

	ListWorkflows(ctx context.Context) ([]Workflow, error)
	GetWorkflow(ctx context.Context, id string) (*Workflow, error)
	TriggerWorkflow(ctx context.Context, id string, params map[string]interface{}) (*WorkflowExecution, error)
	GetExecutionStatus(ctx context.Context, executionID string) (*WorkflowExecution, error)
	CancelExecution(ctx context.Context, executionID string) error

	ListPendingApprovals(ctx context.Context) ([]Approval, error)
	ApproveRequest(ctx context.Context, approvalID, reason string) error
	DenyRequest(ctx context.Context, approvalID, reason string) error
}

// FileMetadata describes a stored object.
type FileMetadata struct {
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	SHA256     string    `json:"sha256,omitempty"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// StorageStats summarizes a storage backend.
type StorageStats struct {
	Files      int64 `json:"files"`
	TotalBytes int64 `json:"totalBytes"`
}

// Storage is the object-storage role.
type Storage interface {
	Adapter

	UploadBytes(ctx context.Context, path string, data []byte) (*FileMetadata, error)
	UploadFile(ctx context.Context, path, localPath string) (*FileMetadata, error)
	DownloadBytes(ctx context.Context, path string) ([]byte, error)
	DownloadFile(ctx context.Context, path, localPath string) error
	StreamDownload(ctx context.Context, path string) (io.ReadCloser, error)

	Exists(ctx context.Context, path string) (bool, error)
	GetMetadata(ctx context.Context, path string) (*FileMetadata, error)
	ListFiles(ctx context.Context, prefix string) ([]FileMetadata, error)
	GetStats(ctx context.Context) (*StorageStats, error)

	Copy(ctx context.Context, src, dst string) error
	Move(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, path string) error
	DeleteMany(ctx context.Context, paths []string) (int, error)

	PresignedURL(ctx context.Context, path string, expiry time.Duration) (string, error)
}
