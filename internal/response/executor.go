// Package response dispatches containment and remediation actions to the
// configured adapters, keeping a durable, audited lifecycle per action.
package response

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/argus-soc/argus/internal/adapters"
	argerr "github.com/argus-soc/argus/internal/errors"
	"github.com/argus-soc/argus/internal/metrics"
	"github.com/argus-soc/argus/internal/models"
	"github.com/argus-soc/argus/internal/store"
)

// paramSpec declares the required and optional parameters of one action type.
type paramSpec struct {
	required []string
	optional []string
}

// actionSchemas is the static parameter schema per action type. Dispatch
// rejects requests missing required fields before any adapter is touched.
var actionSchemas = map[models.ResponseActionType]paramSpec{
	models.ActionIsolate:         {required: []string{"client_id"}},
	models.ActionRelease:         {required: []string{"client_id"}},
	models.ActionKillProcess:     {required: []string{"client_id", "pid"}},
	models.ActionQuarantineFile:  {required: []string{"client_id", "path"}},
	models.ActionCollectEvidence: {required: []string{"client_id", "artifact"}, optional: []string{"params", "urgent"}},
	models.ActionBlockIP:         {required: []string{"ip"}},
	models.ActionDisableUser:     {required: []string{"username"}},
	models.ActionRunWorkflow:     {required: []string{"workflow_id"}, optional: []string{"params"}},
}

// soarWorkflows maps action types to the fallback SOAR workflow triggered
// when no collector can serve them directly.
var soarWorkflows = map[models.ResponseActionType]string{
	models.ActionBlockIP:     "block_ip",
	models.ActionDisableUser: "disable_user",
}

// Request is one response-action request.
type Request struct {
	TenantID   string
	UserID     string
	CaseID     *string
	ActionType models.ResponseActionType
	ClientID   string
	Hostname   string
	Params     map[string]interface{}
	Reason     string
}

// Executor validates, dispatches, and audits response actions.
type Executor struct {
	actions  *store.ActionStore
	audit    *store.AuditStore
	registry *adapters.Registry
}

// NewExecutor wires a response executor.
func NewExecutor(actions *store.ActionStore, audit *store.AuditStore, registry *adapters.Registry) *Executor {
	return &Executor{actions: actions, audit: audit, registry: registry}
}

// Execute runs one action through its full lifecycle and returns the final
// row. The audit entry is written before dispatch so a crashed or failed
// dispatch still leaves a trace.
func (e *Executor) Execute(ctx context.Context, req Request) (*models.ResponseAction, error) {
	if err := validateParams(req.ActionType, req); err != nil {
		return nil, err
	}

	correlationID := uuid.NewString()
	action := &models.ResponseAction{
		TenantID:      req.TenantID,
		UserID:        req.UserID,
		CaseID:        req.CaseID,
		ActionType:    req.ActionType,
		Status:        models.ActionPending,
		ClientID:      req.ClientID,
		Hostname:      req.Hostname,
		TargetDetails: req.Params,
		Reason:        req.Reason,
		CorrelationID: correlationID,
	}
	if err := e.actions.Create(ctx, action); err != nil {
		return nil, err
	}

	// Audit first, dispatch second.
	if err := e.audit.Record(ctx, &models.AuditEntry{
		TenantID:      req.TenantID,
		UserID:        req.UserID,
		Action:        "response." + string(req.ActionType),
		Target:        targetOf(req),
		Success:       true,
		CorrelationID: correlationID,
		Details: map[string]interface{}{
			"action_id": action.ID,
			"reason":    req.Reason,
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to audit response action: %w", err)
	}

	now := time.Now().UTC()
	action.Status = models.ActionInProgress
	action.StartedAt = &now
	if err := e.actions.Update(ctx, action); err != nil {
		return nil, err
	}

	result, dispatchErr := e.dispatch(ctx, req)

	done := time.Now().UTC()
	action.CompletedAt = &done
	if dispatchErr != nil {
		action.Status = models.ActionFailed
		action.ErrorMessage = dispatchErr.Error()
		log.Warn().Err(dispatchErr).Str("action_id", action.ID).
			Str("action_type", string(req.ActionType)).Msg("response action failed")
	} else {
		action.Status = models.ActionCompleted
		action.Result = result.Details
		if action.Result == nil {
			action.Result = map[string]interface{}{}
		}
		action.Result["status"] = result.Status
		if result.Message != "" {
			action.Result["message"] = result.Message
		}
		action.JobID = result.JobID
		log.Info().Str("action_id", action.ID).Str("action_type", string(req.ActionType)).
			Str("client_id", req.ClientID).Msg("response action completed")
	}
	if err := e.actions.Update(ctx, action); err != nil {
		return nil, err
	}
	metrics.ResponseActionsTotal.WithLabelValues(string(action.ActionType), string(action.Status)).Inc()
	return action, nil
}

// dispatch routes the action: collector first, SOAR workflow fallback, and a
// manual-action record when nothing can serve it.
func (e *Executor) dispatch(ctx context.Context, req Request) (*adapters.ActionResult, error) {
	if collector, ok := e.registry.Collector(); ok {
		res, err, served := e.viaCollector(ctx, collector, req)
		if served {
			return res, err
		}
	}

	if workflow, ok := soarWorkflows[req.ActionType]; ok {
		if soar, haveSOAR := e.registry.SOAR(); haveSOAR {
			params := map[string]interface{}{}
			for k, v := range req.Params {
				params[k] = v
			}
			params["action"] = string(req.ActionType)
			exec, err := soar.TriggerWorkflow(ctx, workflow, params)
			if err != nil {
				return nil, err
			}
			return &adapters.ActionResult{
				JobID:  exec.ID,
				Status: "accepted",
				Details: map[string]interface{}{
					"workflow_id":  exec.WorkflowID,
					"execution_id": exec.ID,
				},
			}, nil
		}
	}

	// No adapter can serve the action: hand it to a human instead of
	// failing the request.
	return &adapters.ActionResult{
		Status:  "manual_action_required",
		Message: fmt.Sprintf("no adapter can execute %s", req.ActionType),
	}, nil
}

// viaCollector tries the EDR-side primitives. served=false means the action
// type is not a collector capability and the fallback chain continues.
func (e *Executor) viaCollector(ctx context.Context, c adapters.Collector, req Request) (*adapters.ActionResult, error, bool) {
	switch req.ActionType {
	case models.ActionIsolate:
		res, err := c.IsolateHost(ctx, req.ClientID)
		return res, err, true
	case models.ActionRelease:
		res, err := c.UnisolateHost(ctx, req.ClientID)
		return res, err, true
	case models.ActionQuarantineFile:
		path, _ := req.Params["path"].(string)
		res, err := c.QuarantineFile(ctx, req.ClientID, path)
		return res, err, true
	case models.ActionKillProcess:
		pid := toInt64(req.Params["pid"])
		res, err := c.KillProcess(ctx, req.ClientID, pid)
		return res, err, true
	case models.ActionCollectEvidence:
		artifact, _ := req.Params["artifact"].(string)
		params, _ := req.Params["params"].(map[string]interface{})
		urgent, _ := req.Params["urgent"].(bool)
		job, err := c.CollectArtifact(ctx, req.ClientID, artifact, params, urgent)
		if err != nil {
			return nil, err, true
		}
		return &adapters.ActionResult{
			JobID:  job.ID,
			Status: "accepted",
			Details: map[string]interface{}{
				"collection_id": job.ID,
				"artifact":      job.Artifact,
			},
		}, nil, true
	}
	return nil, nil, false
}

// IsolationStatus reports the current containment state of an endpoint,
// combined with the most recent completed action timestamp.
type IsolationStatus struct {
	ClientID     string     `json:"clientId"`
	IsIsolated   bool       `json:"isIsolated"`
	LastActionAt *time.Time `json:"lastActionAt,omitempty"`
}

// GetIsolationStatus queries the collector for an endpoint's isolation state.
func (e *Executor) GetIsolationStatus(ctx context.Context, clientID string) (*IsolationStatus, error) {
	collector, ok := e.registry.Collector()
	if !ok {
		return nil, argerr.Validationf("isolation_status", "no collector adapter configured")
	}
	ep, err := collector.GetEndpoint(ctx, clientID)
	if err != nil {
		return nil, err
	}
	status := &IsolationStatus{ClientID: clientID, IsIsolated: ep.IsIsolated, LastActionAt: ep.LastActionAt}

	// Prefer the durable action record for the timestamp when we have one.
	history, err := e.actions.ListByClient(ctx, clientID, 20)
	if err != nil {
		return nil, err
	}
	for _, a := range history {
		if a.Status == models.ActionCompleted && a.CompletedAt != nil {
			if status.LastActionAt == nil || a.CompletedAt.After(*status.LastActionAt) {
				status.LastActionAt = a.CompletedAt
			}
			break
		}
	}
	return status, nil
}

func validateParams(actionType models.ResponseActionType, req Request) error {
	schema, ok := actionSchemas[actionType]
	if !ok {
		return argerr.Validationf("execute_action", "unknown action type %q", actionType)
	}
	for _, field := range schema.required {
		if field == "client_id" {
			if req.ClientID == "" {
				return argerr.Validationf("execute_action", "%s requires client_id", actionType)
			}
			continue
		}
		if _, present := req.Params[field]; !present {
			return argerr.Validationf("execute_action", "%s requires parameter %q", actionType, field)
		}
	}
	return nil
}

func targetOf(req Request) string {
	if req.ClientID != "" {
		return req.ClientID
	}
	if ip, ok := req.Params["ip"].(string); ok {
		return ip
	}
	if user, ok := req.Params["username"].(string); ok {
		return user
	}
	return string(req.ActionType)
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
