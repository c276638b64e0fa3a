package adapters

import (
	"context"
	"fmt"
	"net/url"
)

// EDRAdapter drives a REST EDR fleet API as a Collector. The wire shape is
// a generic agent-management API: endpoint inventory, artifact collection
// flows, hunts, and containment verbs.
type EDRAdapter struct {
	name string
	cfg  Config
	rest *restClient
}

// NewEDRAdapter builds an EDR collector adapter.
func NewEDRAdapter(name string, cfg Config) *EDRAdapter {
	return &EDRAdapter{
		name: name,
		cfg:  cfg,
		rest: newRESTClient(name, cfg),
	}
}

// Name implements Adapter.
func (a *EDRAdapter) Name() string { return a.name }

// Connect implements Adapter. The EDR API is stateless HTTP, so connect is a
// health probe.
func (a *EDRAdapter) Connect(ctx context.Context) error {
	health, err := a.HealthCheck(ctx)
	if err != nil {
		return err
	}
	if health.Status == HealthUnhealthy {
		return fmt.Errorf("EDR %s unhealthy: %s", a.name, health.Message)
	}
	return nil
}

// Disconnect implements Adapter.
func (a *EDRAdapter) Disconnect(ctx context.Context) error {
	a.rest.client.CloseIdleConnections()
	return nil
}

// HealthCheck implements Adapter.
func (a *EDRAdapter) HealthCheck(ctx context.Context) (*Health, error) {
	var payload struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if err := a.rest.doJSON(ctx, "GET", "/api/v1/health", nil, &payload); err != nil {
		return &Health{Status: HealthUnhealthy, Message: err.Error()}, nil
	}
	status := HealthHealthy
	if payload.Status != "" && payload.Status != "ok" && payload.Status != "healthy" {
		status = HealthDegraded
	}
	return &Health{Status: status, Version: payload.Version}, nil
}

// GetConfig implements Adapter.
func (a *EDRAdapter) GetConfig() map[string]interface{} {
	return a.cfg.Redacted()
}

// ListEndpoints implements Collector.
func (a *EDRAdapter) ListEndpoints(ctx context.Context) ([]Endpoint, error) {
	var out []Endpoint
	if err := a.rest.doJSON(ctx, "GET", "/api/v1/endpoints", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetEndpoint implements Collector.
func (a *EDRAdapter) GetEndpoint(ctx context.Context, clientID string) (*Endpoint, error) {
	var out Endpoint
	if err := a.rest.doJSON(ctx, "GET", "/api/v1/endpoints/"+url.PathEscape(clientID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchEndpoints implements Collector.
func (a *EDRAdapter) SearchEndpoints(ctx context.Context, query string) ([]Endpoint, error) {
	var out []Endpoint
	path := "/api/v1/endpoints?query=" + url.QueryEscape(query)
	if err := a.rest.doJSON(ctx, "GET", path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListArtifacts implements Collector.
func (a *EDRAdapter) ListArtifacts(ctx context.Context) ([]string, error) {
	var out []string
	if err := a.rest.doJSON(ctx, "GET", "/api/v1/artifacts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CollectArtifact implements Collector.
func (a *EDRAdapter) CollectArtifact(ctx context.Context, clientID, artifact string, params map[string]interface{}, urgent bool) (*CollectionJob, error) {
	body := map[string]interface{}{
		"client_id": clientID,
		"artifact":  artifact,
		"params":    params,
		"urgent":    urgent,
	}
	var out CollectionJob
	if err := a.rest.doJSON(ctx, "POST", "/api/v1/collections", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCollectionStatus implements Collector.
func (a *EDRAdapter) GetCollectionStatus(ctx context.Context, jobID string) (*CollectionJob, error) {
	var out CollectionJob
	if err := a.rest.doJSON(ctx, "GET", "/api/v1/collections/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetCollectionResults implements Collector.
func (a *EDRAdapter) GetCollectionResults(ctx context.Context, jobID string) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	if err := a.rest.doJSON(ctx, "GET", "/api/v1/collections/"+url.PathEscape(jobID)+"/results", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListHunts implements Collector.
func (a *EDRAdapter) ListHunts(ctx context.Context) ([]Hunt, error) {
	var out []Hunt
	if err := a.rest.doJSON(ctx, "GET", "/api/v1/hunts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateHunt implements Collector.
func (a *EDRAdapter) CreateHunt(ctx context.Context, artifact, description string) (*Hunt, error) {
	body := map[string]interface{}{"artifact": artifact, "description": description}
	var out Hunt
	if err := a.rest.doJSON(ctx, "POST", "/api/v1/hunts", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// StartHunt implements Collector.
func (a *EDRAdapter) StartHunt(ctx context.Context, huntID string) error {
	return a.rest.doJSON(ctx, "POST", "/api/v1/hunts/"+url.PathEscape(huntID)+"/start", nil, nil)
}

// StopHunt implements Collector.
func (a *EDRAdapter) StopHunt(ctx context.Context, huntID string) error {
	return a.rest.doJSON(ctx, "POST", "/api/v1/hunts/"+url.PathEscape(huntID)+"/stop", nil, nil)
}

// GetHuntResults implements Collector.
func (a *EDRAdapter) GetHuntResults(ctx context.Context, huntID string) ([]map[string]interface{}, error) {
	var out []map[string]interface{}
	if err := a.rest.doJSON(ctx, "GET", "/api/v1/hunts/"+url.PathEscape(huntID)+"/results", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// IsolateHost implements Collector.
func (a *EDRAdapter) IsolateHost(ctx context.Context, clientID string) (*ActionResult, error) {
	return a.containment(ctx, clientID, "isolate", nil)
}

// UnisolateHost implements Collector.
func (a *EDRAdapter) UnisolateHost(ctx context.Context, clientID string) (*ActionResult, error) {
	return a.containment(ctx, clientID, "unisolate", nil)
}

// QuarantineFile implements Collector.
func (a *EDRAdapter) QuarantineFile(ctx context.Context, clientID, path string) (*ActionResult, error) {
	return a.containment(ctx, clientID, "quarantine", map[string]interface{}{"path": path})
}

// KillProcess implements Collector.
func (a *EDRAdapter) KillProcess(ctx context.Context, clientID string, pid int64) (*ActionResult, error) {
	return a.containment(ctx, clientID, "kill_process", map[string]interface{}{"pid": pid})
}

func (a *EDRAdapter) containment(ctx context.Context, clientID, verb string, params map[string]interface{}) (*ActionResult, error) {
	body := map[string]interface{}{"client_id": clientID}
	for k, v := range params {
		body[k] = v
	}
	var out ActionResult
	if err := a.rest.doJSON(ctx, "POST", "/api/v1/endpoints/"+url.PathEscape(clientID)+"/"+verb, body, &out); err != nil {
		return nil, err
	}
	if out.Status == "" {
		out.Status = "accepted"
	}
	return &out, nil
}
