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

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iLLeniumStudios/vigilant/internal/events"
	"github.com/iLLeniumStudios/vigilant/internal/executor"
	"github.com/iLLeniumStudios/vigilant/internal/monitor"
	"github.com/iLLeniumStudios/vigilant/internal/queue"
	"github.com/iLLeniumStudios/vigilant/internal/store"
)

// Handlers contains all API handlers
type Handlers struct {
	srv *Server
}

// NewHandlers creates a Handlers instance bound to the server
func NewHandlers(s *Server) *Handlers {
	return &Handlers{srv: s}
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// pathID parses the {id} url parameter
func pathID(r *http.Request) (uint, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", raw)
	}
	return uint(id), nil
}

// GetHealthz handles GET /healthz
func (h *Handlers) GetHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// GetStatus handles GET /api/v1/status
func (h *Handlers) GetStatus(w http.ResponseWriter, _ *http.Request) {
	components := make(map[string]map[string]any, len(h.srv.health))
	for name, source := range h.srv.health {
		components[name] = source.Health()
	}

	timeZone := ""
	if h.srv.config != nil {
		timeZone = h.srv.config.TimeZone
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:   "running",
		Version:  Version,
		Uptime:   time.Since(h.srv.startTime).Round(time.Second).String(),
		TimeZone: timeZone,
		Registry: RegistryStatus{
			Ready:    h.srv.registry.IsReady(),
			Monitors: len(h.srv.registry.IDs()),
		},
		Components: components,
		Config:     h.srv.config,
	})
}

// monitorItem converts a store monitor to its API view
func (h *Handlers) monitorItem(mon *store.Monitor) MonitorItem {
	return MonitorItem{
		ID:               mon.ID,
		Name:             mon.Name,
		Enabled:          mon.Enabled,
		Queued:           mon.Queued,
		Running:          mon.Running,
		Registered:       h.srv.registry.IsRegistered(mon.ID),
		SearchExecutedAt: mon.SearchExecutedAt,
		UpdateExecutedAt: mon.UpdateExecutedAt,
		LastHeartbeat:    mon.LastHeartbeat,
		CreatedAt:        mon.CreatedAt,
	}
}

// ListMonitors handles GET /api/v1/monitors
func (h *Handlers) ListMonitors(w http.ResponseWriter, r *http.Request) {
	monitors, err := h.srv.store.ListEnabledMonitors(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	items := make([]MonitorItem, 0, len(monitors))
	for i := range monitors {
		items = append(items, h.monitorItem(&monitors[i]))
	}
	writeJSON(w, http.StatusOK, MonitorListResponse{Items: items})
}

// GetMonitor handles GET /api/v1/monitors/{id}
func (h *Handlers) GetMonitor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	mon, err := h.srv.store.GetMonitorByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if mon == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("Monitor %d not found", id))
		return
	}

	writeJSON(w, http.StatusOK, h.monitorItem(mon))
}

// RegisterMonitor handles POST /api/v1/monitors
func (h *Handlers) RegisterMonitor(w http.ResponseWriter, r *http.Request) {
	var req RegisterMonitorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if req.Name == "" || req.Code == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "name and code are required")
		return
	}

	mon, err := h.srv.loader.RegisterMonitor(r.Context(), req.Name, req.Code, req.AdditionalFiles)
	if err != nil {
		var validationErr *monitor.ValidationError
		if errors.As(err, &validationErr) {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_FAILED", validationErr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	// Ask the loader for an early pass so the monitor goes live without
	// waiting for the next scheduled load
	h.srv.registry.RequestLoad()

	writeJSON(w, http.StatusCreated, h.monitorItem(mon))
}

// SetMonitorEnabled handles POST /api/v1/monitors/{id}/enabled
func (h *Handlers) SetMonitorEnabled(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	var req EnabledRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}

	ctx := r.Context()
	mon, err := h.srv.store.GetMonitorByID(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if mon == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("Monitor %d not found", id))
		return
	}

	if mon.Enabled == req.Enabled {
		writeJSON(w, http.StatusOK, SimpleResponse{Success: true, Message: "No change"})
		return
	}

	if err := h.srv.store.SetMonitorEnabled(ctx, id, req.Enabled); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	if err := h.srv.bus.Dispatch(ctx, events.Payload{
		EventSource:          events.SourceMonitor,
		EventSourceID:        mon.ID,
		EventSourceMonitorID: mon.ID,
		EventName:            events.MonitorEnabledChanged,
		EventData: map[string]any{
			"id":      mon.ID,
			"name":    mon.Name,
			"enabled": req.Enabled,
		},
	}); err != nil {
		h.srv.log.Error(err, "Failed to dispatch enabled-changed event", "monitorID", mon.ID)
	}

	if req.Enabled {
		h.srv.registry.RequestLoad()
	} else {
		h.srv.registry.Remove(mon.ID)
	}

	writeJSON(w, http.StatusOK, SimpleResponse{
		Success: true,
		Message: fmt.Sprintf("Monitor %q enabled=%t", mon.Name, req.Enabled),
	})
}

// ListMonitorAlerts handles GET /api/v1/monitors/{id}/alerts
func (h *Handlers) ListMonitorAlerts(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	ctx := r.Context()
	alerts, err := h.srv.store.ListActiveAlerts(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	items := make([]AlertItem, 0, len(alerts))
	for _, alert := range alerts {
		count, err := h.srv.store.CountActiveIssuesByAlert(ctx, alert.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
			return
		}
		items = append(items, AlertItem{
			ID:           alert.ID,
			MonitorID:    alert.MonitorID,
			Status:       alert.Status,
			Priority:     alert.Priority,
			Acknowledged: alert.Acknowledged,
			Locked:       alert.Locked,
			ActiveIssues: count,
			CreatedAt:    alert.CreatedAt,
			SolvedAt:     alert.SolvedAt,
		})
	}
	writeJSON(w, http.StatusOK, AlertListResponse{Items: items})
}

// ListMonitorIssues handles GET /api/v1/monitors/{id}/issues
func (h *Handlers) ListMonitorIssues(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	issues, err := h.srv.store.ListActiveIssues(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	items := make([]IssueItem, 0, len(issues))
	for _, issue := range issues {
		items = append(items, IssueItem{
			ID:        issue.ID,
			MonitorID: issue.MonitorID,
			AlertID:   issue.AlertID,
			ModelID:   issue.ModelID,
			Status:    issue.Status,
			Data:      issue.Data,
			CreatedAt: issue.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, IssueListResponse{Items: items})
}

// ListMonitorEvents handles GET /api/v1/monitors/{id}/events
func (h *Handlers) ListMonitorEvents(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	eventRows, err := h.srv.store.ListEventsByMonitor(r.Context(), id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}

	items := make([]EventItem, 0, len(eventRows))
	for _, event := range eventRows {
		items = append(items, EventItem{
			ID:         event.ID,
			MonitorID:  event.MonitorID,
			SourceType: event.SourceType,
			SourceID:   event.SourceID,
			Name:       event.Name,
			Payload:    event.Payload,
			CreatedAt:  event.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, EventListResponse{Items: items})
}

// submitAction enqueues a request message and acknowledges it
func (h *Handlers) submitAction(w http.ResponseWriter, r *http.Request, action string, params map[string]any) {
	payload := queue.RequestPayload{Action: action, Params: params}
	if err := h.srv.queue.Send(r.Context(), queue.TypeRequest, payload); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, SimpleResponse{
		Success: true,
		Message: fmt.Sprintf("Request %q accepted", action),
	})
}

// requireAlert resolves the {id} parameter to an existing alert
func (h *Handlers) requireAlert(w http.ResponseWriter, r *http.Request) (*store.Alert, bool) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return nil, false
	}

	alert, err := h.srv.store.GetAlertByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return nil, false
	}
	if alert == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("Alert %d not found", id))
		return nil, false
	}
	return alert, true
}

// AcknowledgeAlert handles POST /api/v1/alerts/{id}/acknowledge
func (h *Handlers) AcknowledgeAlert(w http.ResponseWriter, r *http.Request) {
	alert, ok := h.requireAlert(w, r)
	if !ok {
		return
	}
	h.submitAction(w, r, executor.ActionAlertAcknowledge, map[string]any{"alert_id": alert.ID})
}

// LockAlert handles POST /api/v1/alerts/{id}/lock. An empty body locks; pass
// {"locked": false} to unlock.
func (h *Handlers) LockAlert(w http.ResponseWriter, r *http.Request) {
	alert, ok := h.requireAlert(w, r)
	if !ok {
		return
	}

	req := LockRequest{Locked: true}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		req.Locked = true
	}

	h.submitAction(w, r, executor.ActionAlertLock, map[string]any{
		"alert_id": alert.ID,
		"locked":   req.Locked,
	})
}

// SolveAlert handles POST /api/v1/alerts/{id}/solve
func (h *Handlers) SolveAlert(w http.ResponseWriter, r *http.Request) {
	alert, ok := h.requireAlert(w, r)
	if !ok {
		return
	}
	h.submitAction(w, r, executor.ActionAlertSolve, map[string]any{"alert_id": alert.ID})
}

// DropIssue handles POST /api/v1/issues/{id}/drop
func (h *Handlers) DropIssue(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	issue, err := h.srv.store.GetIssueByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if issue == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("Issue %d not found", id))
		return
	}

	h.submitAction(w, r, executor.ActionIssueDrop, map[string]any{"issue_id": issue.ID})
}

// SubmitRequest handles POST /api/v1/requests: a generic action passthrough,
// mainly for plugin actions (plugin.<monitor>.<action>)
func (h *Handlers) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid request body")
		return
	}
	if req.Action == "" {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", "action is required")
		return
	}

	h.submitAction(w, r, req.Action, req.Params)
}
