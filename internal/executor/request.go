/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-logr/logr"

	"github.com/iLLeniumStudios/vigilant/internal/queue"
	"github.com/iLLeniumStudios/vigilant/internal/store"
)

// Request actions
const (
	ActionAlertAcknowledge = "alert_acknowledge"
	ActionAlertLock        = "alert_lock"
	ActionAlertSolve       = "alert_solve"
	ActionIssueDrop        = "issue_drop"

	// pluginActionPrefix routes plugin.<monitor>.<action> requests to the
	// monitor module's action table
	pluginActionPrefix = "plugin."
)

// handleRequest runs an operator request under the request timeout. Every
// action waits for the target monitor's module to be loaded first.
func (e *Executor) handleRequest(ctx context.Context, raw json.RawMessage, log logr.Logger) error {
	var payload queue.RequestPayload
	if err := unmarshalPayload(raw, &payload); err != nil {
		log.Error(err, "Dropping malformed request message")
		return nil
	}

	log = log.WithValues("action", payload.Action)

	requestCtx, cancel := context.WithTimeout(ctx, e.Config.RequestTimeout)
	defer cancel()

	var err error
	switch {
	case payload.Action == ActionAlertAcknowledge:
		err = e.requestAlertAcknowledge(requestCtx, payload.Params)
	case payload.Action == ActionAlertLock:
		err = e.requestAlertLock(requestCtx, payload.Params)
	case payload.Action == ActionAlertSolve:
		err = e.requestAlertSolve(requestCtx, payload.Params)
	case payload.Action == ActionIssueDrop:
		err = e.requestIssueDrop(requestCtx, payload.Params)
	case strings.HasPrefix(payload.Action, pluginActionPrefix):
		err = e.requestPlugin(requestCtx, payload.Action, payload.Params)
	default:
		// Unknown actions are dropped, redelivering them cannot help
		log.Info("Dropping request with unknown action")
		return nil
	}

	if err != nil {
		return fmt.Errorf("request %s: %w", payload.Action, err)
	}
	log.Info("Request handled")
	return nil
}

// requestAlert resolves the alert behind an alert-scoped request and waits
// for its monitor's module
func (e *Executor) requestAlert(ctx context.Context, params map[string]any) (*store.Alert, error) {
	alertID, err := paramID(params, "alert_id")
	if err != nil {
		return nil, err
	}

	alert, err := e.Store.GetAlertByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, fmt.Errorf("alert %d not found", alertID)
	}

	if err := e.Registry.WaitMonitorLoaded(ctx, alert.MonitorID, e.Config.RequestTimeout); err != nil {
		return nil, err
	}
	return alert, nil
}

func (e *Executor) requestAlertAcknowledge(ctx context.Context, params map[string]any) error {
	alert, err := e.requestAlert(ctx, params)
	if err != nil {
		return err
	}
	return e.Engine.AcknowledgeAlert(ctx, alert.ID)
}

// requestAlertLock locks the alert, or unlocks it when the locked parameter
// is false
func (e *Executor) requestAlertLock(ctx context.Context, params map[string]any) error {
	alert, err := e.requestAlert(ctx, params)
	if err != nil {
		return err
	}

	if locked, ok := params["locked"].(bool); ok && !locked {
		return e.Engine.UnlockAlert(ctx, alert.ID)
	}
	return e.Engine.LockAlert(ctx, alert.ID)
}

func (e *Executor) requestAlertSolve(ctx context.Context, params map[string]any) error {
	alert, err := e.requestAlert(ctx, params)
	if err != nil {
		return err
	}

	module, ok := e.Registry.GetModule(alert.MonitorID)
	if !ok {
		return fmt.Errorf("monitor %d not registered", alert.MonitorID)
	}
	return e.Engine.SolveAlert(ctx, alert.ID, module.IssueOptions)
}

func (e *Executor) requestIssueDrop(ctx context.Context, params map[string]any) error {
	issueID, err := paramID(params, "issue_id")
	if err != nil {
		return err
	}

	issue, err := e.Store.GetIssueByID(ctx, issueID)
	if err != nil {
		return err
	}
	if issue == nil {
		return fmt.Errorf("issue %d not found", issueID)
	}

	if err := e.Registry.WaitMonitorLoaded(ctx, issue.MonitorID, e.Config.RequestTimeout); err != nil {
		return err
	}
	return e.Engine.DropIssue(ctx, issue.ID)
}

// requestPlugin dispatches plugin.<monitor>.<action> to the named monitor's
// action table
func (e *Executor) requestPlugin(ctx context.Context, action string, params map[string]any) error {
	parts := strings.SplitN(strings.TrimPrefix(action, pluginActionPrefix), ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return fmt.Errorf("invalid plugin action %q", action)
	}
	monitorName, actionName := parts[0], parts[1]

	mon, err := e.Store.GetMonitorByName(ctx, monitorName)
	if err != nil {
		return err
	}
	if mon == nil {
		return fmt.Errorf("monitor %q not found", monitorName)
	}

	if err := e.Registry.WaitMonitorLoaded(ctx, mon.ID, e.Config.RequestTimeout); err != nil {
		return err
	}
	module, ok := e.Registry.GetModule(mon.ID)
	if !ok {
		return fmt.Errorf("monitor %q not registered", monitorName)
	}

	fn, ok := module.Actions[actionName]
	if !ok {
		return fmt.Errorf("monitor %q has no action %q", monitorName, actionName)
	}
	return fn(ctx, params)
}

// paramID reads a numeric id parameter, tolerating the numeric types a JSON
// round trip may produce
func paramID(params map[string]any, key string) (uint, error) {
	if params == nil {
		return 0, fmt.Errorf("missing parameter %q", key)
	}
	switch value := params[key].(type) {
	case float64:
		return uint(value), nil
	case int:
		return uint(value), nil
	case int64:
		return uint(value), nil
	case uint:
		return value, nil
	case json.Number:
		id, err := value.Int64()
		if err != nil {
			return 0, fmt.Errorf("parameter %q is not an id: %w", key, err)
		}
		return uint(id), nil
	default:
		return 0, fmt.Errorf("missing parameter %q", key)
	}
}
