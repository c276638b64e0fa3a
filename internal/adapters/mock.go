package adapters

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	argerr "github.com/argus-soc/argus/internal/errors"
)

// MockCollector is an in-memory Collector used in tests and local
// development. It tracks isolation state per endpoint and records every
// containment call.
type MockCollector struct {
	name string

	mu        sync.Mutex
	endpoints map[string]*Endpoint
	calls     []string
	failNext  error
}

// NewMockCollector creates a mock with the given endpoints registered.
func NewMockCollector(name string, endpoints ...Endpoint) *MockCollector {
	m := &MockCollector{name: name, endpoints: make(map[string]*Endpoint)}
	for i := range endpoints {
		ep := endpoints[i]
		m.endpoints[ep.ClientID] = &ep
	}
	return m
}

// FailNext makes the next containment call return err.
func (m *MockCollector) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = err
}

// Calls returns the recorded containment verbs in order.
func (m *MockCollector) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// Name implements Adapter.
func (m *MockCollector) Name() string { return m.name }

// Connect implements Adapter.
func (m *MockCollector) Connect(ctx context.Context) error { return nil }

// Disconnect implements Adapter.
func (m *MockCollector) Disconnect(ctx context.Context) error { return nil }

// HealthCheck implements Adapter.
func (m *MockCollector) HealthCheck(ctx context.Context) (*Health, error) {
	return &Health{Status: HealthHealthy, Version: "mock"}, nil
}

// GetConfig implements Adapter.
func (m *MockCollector) GetConfig() map[string]interface{} {
	return map[string]interface{}{"mock": true}
}

// ListEndpoints implements Collector.
func (m *MockCollector) ListEndpoints(ctx context.Context) ([]Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Endpoint, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		out = append(out, *ep)
	}
	return out, nil
}

// GetEndpoint implements Collector.
func (m *MockCollector) GetEndpoint(ctx context.Context, clientID string) (*Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.endpoints[clientID]
	if !ok {
		return nil, argerr.NotFound("get_endpoint", clientID)
	}
	clone := *ep
	return &clone, nil
}

// SearchEndpoints implements Collector.
func (m *MockCollector) SearchEndpoints(ctx context.Context, query string) ([]Endpoint, error) {
	return m.ListEndpoints(ctx)
}

// ListArtifacts implements Collector.
func (m *MockCollector) ListArtifacts(ctx context.Context) ([]string, error) {
	return []string{"Generic.Collection.File", "Windows.EventLogs.Evtx"}, nil
}

// CollectArtifact implements Collector.
func (m *MockCollector) CollectArtifact(ctx context.Context, clientID, artifact string, params map[string]interface{}, urgent bool) (*CollectionJob, error) {
	if _, err := m.GetEndpoint(ctx, clientID); err != nil {
		return nil, err
	}
	return &CollectionJob{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Artifact:  artifact,
		Status:    "running",
		CreatedAt: time.Now().UTC(),
	}, nil
}

// GetCollectionStatus implements Collector.
func (m *MockCollector) GetCollectionStatus(ctx context.Context, jobID string) (*CollectionJob, error) {
	now := time.Now().UTC()
	return &CollectionJob{ID: jobID, Status: "finished", CreatedAt: now, FinishedAt: &now}, nil
}

// GetCollectionResults implements Collector.
func (m *MockCollector) GetCollectionResults(ctx context.Context, jobID string) ([]map[string]interface{}, error) {
	return nil, nil
}

// ListHunts implements Collector.
func (m *MockCollector) ListHunts(ctx context.Context) ([]Hunt, error) { return nil, nil }

// CreateHunt implements Collector.
func (m *MockCollector) CreateHunt(ctx context.Context, artifact, description string) (*Hunt, error) {
	return &Hunt{ID: uuid.NewString(), Artifact: artifact, Description: description, State: "paused", CreatedAt: time.Now().UTC()}, nil
}

// StartHunt implements Collector.
func (m *MockCollector) StartHunt(ctx context.Context, huntID string) error { return nil }

// StopHunt implements Collector.
func (m *MockCollector) StopHunt(ctx context.Context, huntID string) error { return nil }

// GetHuntResults implements Collector.
func (m *MockCollector) GetHuntResults(ctx context.Context, huntID string) ([]map[string]interface{}, error) {
	return nil, nil
}

// IsolateHost implements Collector.
func (m *MockCollector) IsolateHost(ctx context.Context, clientID string) (*ActionResult, error) {
	return m.containment(clientID, "isolate", func(ep *Endpoint) { ep.IsIsolated = true })
}

// UnisolateHost implements Collector.
func (m *MockCollector) UnisolateHost(ctx context.Context, clientID string) (*ActionResult, error) {
	return m.containment(clientID, "unisolate", func(ep *Endpoint) { ep.IsIsolated = false })
}

// QuarantineFile implements Collector.
func (m *MockCollector) QuarantineFile(ctx context.Context, clientID, path string) (*ActionResult, error) {
	return m.containment(clientID, "quarantine", nil)
}

// KillProcess implements Collector.
func (m *MockCollector) KillProcess(ctx context.Context, clientID string, pid int64) (*ActionResult, error) {
	return m.containment(clientID, "kill_process", nil)
}

func (m *MockCollector) containment(clientID, verb string, apply func(*Endpoint)) (*ActionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, verb+":"+clientID)
	if m.failNext != nil {
		err := m.failNext
		m.failNext = nil
		return nil, err
	}
	ep, ok := m.endpoints[clientID]
	if !ok {
		return nil, argerr.NotFound("containment", clientID)
	}
	if apply != nil {
		apply(ep)
	}
	now := time.Now().UTC()
	ep.LastActionAt = &now
	return &ActionResult{
		JobID:   uuid.NewString(),
		Status:  "completed",
		Message: fmt.Sprintf("%s on %s", verb, clientID),
	}, nil
}
