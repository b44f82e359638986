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
	"time"

	"github.com/iLLeniumStudios/vigilant/internal/config"
)

// ErrorResponse is the error envelope
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SimpleResponse is a generic success/failure response
type SimpleResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RegisterMonitorRequest is the body of POST /monitors
type RegisterMonitorRequest struct {
	Name            string         `json:"name"`
	Code            string         `json:"code"`
	AdditionalFiles map[string]any `json:"additionalFiles,omitempty"`
}

// EnabledRequest is the body of POST /monitors/{id}/enabled
type EnabledRequest struct {
	Enabled bool `json:"enabled"`
}

// LockRequest is the body of POST /alerts/{id}/lock
type LockRequest struct {
	Locked bool `json:"locked"`
}

// ActionRequest is the body of POST /requests
type ActionRequest struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params,omitempty"`
}

// MonitorItem is the API view of a monitor
type MonitorItem struct {
	ID               uint       `json:"id"`
	Name             string     `json:"name"`
	Enabled          bool       `json:"enabled"`
	Queued           bool       `json:"queued"`
	Running          bool       `json:"running"`
	Registered       bool       `json:"registered"`
	SearchExecutedAt *time.Time `json:"searchExecutedAt,omitempty"`
	UpdateExecutedAt *time.Time `json:"updateExecutedAt,omitempty"`
	LastHeartbeat    *time.Time `json:"lastHeartbeat,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// MonitorListResponse wraps the monitor listing
type MonitorListResponse struct {
	Items []MonitorItem `json:"items"`
}

// AlertItem is the API view of an alert
type AlertItem struct {
	ID           uint       `json:"id"`
	MonitorID    uint       `json:"monitorId"`
	Status       string     `json:"status"`
	Priority     int        `json:"priority"`
	Acknowledged bool       `json:"acknowledged"`
	Locked       bool       `json:"locked"`
	ActiveIssues int64      `json:"activeIssues"`
	CreatedAt    time.Time  `json:"createdAt"`
	SolvedAt     *time.Time `json:"solvedAt,omitempty"`
}

// AlertListResponse wraps the alert listing
type AlertListResponse struct {
	Items []AlertItem `json:"items"`
}

// IssueItem is the API view of an issue
type IssueItem struct {
	ID        uint           `json:"id"`
	MonitorID uint           `json:"monitorId"`
	AlertID   *uint          `json:"alertId,omitempty"`
	ModelID   string         `json:"modelId"`
	Status    string         `json:"status"`
	Data      map[string]any `json:"data,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// IssueListResponse wraps the issue listing
type IssueListResponse struct {
	Items []IssueItem `json:"items"`
}

// EventItem is the API view of an audit event
type EventItem struct {
	ID         uint           `json:"id"`
	MonitorID  uint           `json:"monitorId"`
	SourceType string         `json:"sourceType"`
	SourceID   uint           `json:"sourceId"`
	Name       string         `json:"name"`
	Payload    map[string]any `json:"payload,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
}

// EventListResponse wraps the event listing
type EventListResponse struct {
	Items []EventItem `json:"items"`
}

// RegistryStatus summarizes the module registry for diagnostics
type RegistryStatus struct {
	Ready    bool `json:"ready"`
	Monitors int  `json:"monitors"`
}

// StatusResponse is the diagnostics payload of GET /status
type StatusResponse struct {
	Status     string                    `json:"status"`
	Version    string                    `json:"version"`
	Uptime     string                    `json:"uptime"`
	TimeZone   string                    `json:"timeZone"`
	Registry   RegistryStatus            `json:"registry"`
	Components map[string]map[string]any `json:"components"`
	Config     *config.Config            `json:"config,omitempty"`
}

// HealthResponse is the payload of GET /healthz
type HealthResponse struct {
	Status string `json:"status"`
}
