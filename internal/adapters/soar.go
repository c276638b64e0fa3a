package adapters

import (
	"context"
	"fmt"
	"net/url"
)

// SOARAdapter drives a REST workflow engine: playbook discovery, triggered
// executions, and human approval gates.
type SOARAdapter struct {
	name string
	cfg  Config
	rest *restClient
}

// NewSOARAdapter builds a SOAR adapter.
func NewSOARAdapter(name string, cfg Config) *SOARAdapter {
	return &SOARAdapter{
		name: name,
		cfg:  cfg,
		rest: newRESTClient(name, cfg),
	}
}

// Name implements Adapter.
func (a *SOARAdapter) Name() string { return a.name }

// Connect implements Adapter.
func (a *SOARAdapter) Connect(ctx context.Context) error {
	health, err := a.HealthCheck(ctx)
	if err != nil {
		return err
	}
	if health.Status == HealthUnhealthy {
		return fmt.Errorf("SOAR %s unhealthy: %s", a.name, health.Message)
	}
	return nil
}

// Disconnect implements Adapter.
func (a *SOARAdapter) Disconnect(ctx context.Context) error {
	a.rest.client.CloseIdleConnections()
	return nil
}

// HealthCheck implements Adapter.
func (a *SOARAdapter) HealthCheck(ctx context.Context) (*Health, error) {
	var payload struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
	if err := a.rest.doJSON(ctx, "GET", "/api/v1/health", nil, &payload); err != nil {
		return &Health{Status: HealthUnhealthy, Message: err.Error()}, nil
	}
	return &Health{Status: HealthHealthy, Version: payload.Version}, nil
}

// GetConfig implements Adapter.
func (a *SOARAdapter) GetConfig() map[string]interface{} {
	return a.cfg.Redacted()
}

// ListWorkflows implements SOAR.
func (a *SOARAdapter) ListWorkflows(ctx context.Context) ([]Workflow, error) {
	var out []Workflow
	if err := a.rest.doJSON(ctx, "GET", "/api/v1/workflows", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetWorkflow implements SOAR.
func (a *SOARAdapter) GetWorkflow(ctx context.Context, id string) (*Workflow, error) {
	var out Workflow
	if err := a.rest.doJSON(ctx, "GET", "/api/v1/workflows/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TriggerWorkflow implements SOAR.
func (a *SOARAdapter) TriggerWorkflow(ctx context.Context, id string, params map[string]interface{}) (*WorkflowExecution, error) {
	var out WorkflowExecution
	if err := a.rest.doJSON(ctx, "POST", "/api/v1/workflows/"+url.PathEscape(id)+"/execute", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetExecutionStatus implements SOAR.
func (a *SOARAdapter) GetExecutionStatus(ctx context.Context, executionID string) (*WorkflowExecution, error) {
	var out WorkflowExecution
	if err := a.rest.doJSON(ctx, "GET", "/api/v1/executions/"+url.PathEscape(executionID), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelExecution implements SOAR.
func (a *SOARAdapter) CancelExecution(ctx context.Context, executionID string) error {
	return a.rest.doJSON(ctx, "POST", "/api/v1/executions/"+url.PathEscape(executionID)+"/abort", nil, nil)
}

// ListPendingApprovals implements SOAR.
func (a *SOARAdapter) ListPendingApprovals(ctx context.Context) ([]Approval, error) {
	var out []Approval
	if err := a.rest.doJSON(ctx, "GET", "/api/v1/approvals?state=pending", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ApproveRequest implements SOAR.
func (a *SOARAdapter) ApproveRequest(ctx context.Context, approvalID, reason string) error {
	body := map[string]interface{}{"decision": "approve", "reason": reason}
	return a.rest.doJSON(ctx, "POST", "/api/v1/approvals/"+url.PathEscape(approvalID), body, nil)
}

// DenyRequest implements SOAR.
func (a *SOARAdapter) DenyRequest(ctx context.Context, approvalID, reason string) error {
	body := map[string]interface{}{"decision": "deny", "reason": reason}
	return a.rest.doJSON(ctx, "POST", "/api/v1/approvals/"+url.PathEscape(approvalID), body, nil)
}
