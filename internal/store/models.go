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

package store

import (
	"time"

	"gorm.io/datatypes"
)

// Issue statuses
const (
	IssueStatusActive  = "active"
	IssueStatusDropped = "dropped"
	IssueStatusSolved  = "solved"
)

// Alert statuses
const (
	AlertStatusActive = "active"
	AlertStatusSolved = "solved"
)

// Notification statuses
const (
	NotificationStatusActive = "active"
	NotificationStatusClosed = "closed"
)

// MonitorExecution statuses
const (
	ExecutionStatusSuccess = "success"
	ExecutionStatusFailed  = "failed"
)

// Monitor is the unit of scheduled work (GORM model)
type Monitor struct {
	ID               uint       `gorm:"primaryKey;autoIncrement"`
	Name             string     `gorm:"column:name;size:255;not null;uniqueIndex"`
	Enabled          bool       `gorm:"column:enabled;default:true;index"`
	SearchExecutedAt *time.Time `gorm:"column:search_executed_at"`
	UpdateExecutedAt *time.Time `gorm:"column:update_executed_at"`
	Queued           bool       `gorm:"column:queued;default:false"`
	Running          bool       `gorm:"column:running;default:false"`
	LastHeartbeat    *time.Time `gorm:"column:last_heartbeat"`
	CreatedAt        time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for Monitor
func (*Monitor) TableName() string {
	return "monitors"
}

// CodeModule holds the module source for a Monitor (GORM model)
type CodeModule struct {
	ID              uint              `gorm:"primaryKey;autoIncrement"`
	MonitorID       uint              `gorm:"column:monitor_id;not null;uniqueIndex"`
	Code            string            `gorm:"column:code;type:text;not null"`
	AdditionalFiles datatypes.JSONMap `gorm:"column:additional_files"`
	RegisteredAt    time.Time         `gorm:"column:registered_at;not null;index"`
}

// TableName specifies the table name for CodeModule
func (*CodeModule) TableName() string {
	return "code_modules"
}

// Issue is a concrete finding produced by a monitor (GORM model)
type Issue struct {
	ID        uint              `gorm:"primaryKey;autoIncrement"`
	MonitorID uint              `gorm:"column:monitor_id;not null;index:idx_issue_monitor_status,priority:1;index:idx_issue_monitor_model,priority:1"`
	AlertID   *uint             `gorm:"column:alert_id;index"`
	ModelID   string            `gorm:"column:model_id;size:255;not null;index:idx_issue_monitor_model,priority:2"`
	Status    string            `gorm:"column:status;size:20;not null;default:active;index:idx_issue_monitor_status,priority:2"`
	Data      datatypes.JSONMap `gorm:"column:data"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime"`
	SolvedAt  *time.Time        `gorm:"column:solved_at"`
	DroppedAt *time.Time        `gorm:"column:dropped_at"`
}

// TableName specifies the table name for Issue
func (*Issue) TableName() string {
	return "issues"
}

// IsActive reports whether the issue is still open
func (i *Issue) IsActive() bool {
	return i.Status == IssueStatusActive
}

// Age returns the seconds elapsed since the issue was created
func (i *Issue) Age(now time.Time) float64 {
	return now.Sub(i.CreatedAt).Seconds()
}

// Alert aggregates related active issues into an incident (GORM model)
type Alert struct {
	ID                  uint       `gorm:"primaryKey;autoIncrement"`
	MonitorID           uint       `gorm:"column:monitor_id;not null;index:idx_alert_monitor_status,priority:1"`
	Status              string     `gorm:"column:status;size:20;not null;default:active;index:idx_alert_monitor_status,priority:2"`
	Acknowledged        bool       `gorm:"column:acknowledged;default:false"`
	AcknowledgePriority *int       `gorm:"column:acknowledge_priority"`
	Locked              bool       `gorm:"column:locked;default:false"`
	Priority            int        `gorm:"column:priority;default:4"`
	CreatedAt           time.Time  `gorm:"column:created_at;autoCreateTime"`
	SolvedAt            *time.Time `gorm:"column:solved_at"`
}

// TableName specifies the table name for Alert
func (*Alert) TableName() string {
	return "alerts"
}

// IsActive reports whether the alert is still open
func (a *Alert) IsActive() bool {
	return a.Status == AlertStatusActive
}

// IsPriorityAcknowledged reports whether the acknowledgement still covers the
// current priority. Lower numeric priority is more severe, so an
// acknowledgement holds while its recorded priority is at most the current one.
func (a *Alert) IsPriorityAcknowledged() bool {
	return a.Acknowledged && a.AcknowledgePriority != nil && *a.AcknowledgePriority <= a.Priority
}

// Notification is a delivery record owned by a notifier (GORM model)
type Notification struct {
	ID        uint              `gorm:"primaryKey;autoIncrement"`
	MonitorID uint              `gorm:"column:monitor_id;not null;index"`
	AlertID   uint              `gorm:"column:alert_id;not null;index:idx_notification_alert_target,priority:1"`
	Target    string            `gorm:"column:target;size:255;not null;index:idx_notification_alert_target,priority:2"`
	Status    string            `gorm:"column:status;size:20;not null;default:active"`
	Data      datatypes.JSONMap `gorm:"column:data"`
	CreatedAt time.Time         `gorm:"column:created_at;autoCreateTime"`
	ClosedAt  *time.Time        `gorm:"column:closed_at"`
}

// TableName specifies the table name for Notification
func (*Notification) TableName() string {
	return "notifications"
}

// Variable is a monitor-scoped key/value pair (GORM model)
type Variable struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	MonitorID uint      `gorm:"column:monitor_id;not null;index:idx_variable_monitor_name,unique,priority:1"`
	Name      string    `gorm:"column:name;size:255;not null;index:idx_variable_monitor_name,unique,priority:2"`
	Value     *string   `gorm:"column:value;type:text"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName specifies the table name for Variable
func (*Variable) TableName() string {
	return "variables"
}

// MonitorExecution is an audit row per executor invocation (GORM model)
type MonitorExecution struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	MonitorID  uint      `gorm:"column:monitor_id;not null;index:idx_execution_monitor_started,priority:1"`
	Status     string    `gorm:"column:status;size:20;not null"`
	ErrorType  string    `gorm:"column:error_type;size:255"`
	StartedAt  time.Time `gorm:"column:started_at;not null;index:idx_execution_monitor_started,priority:2,sort:desc"`
	FinishedAt time.Time `gorm:"column:finished_at"`
}

// TableName specifies the table name for MonitorExecution
func (*MonitorExecution) TableName() string {
	return "monitor_executions"
}

// Event persists a reaction event envelope for audit (GORM model)
type Event struct {
	ID         uint              `gorm:"primaryKey;autoIncrement"`
	MonitorID  uint              `gorm:"column:monitor_id;not null;index"`
	SourceType string            `gorm:"column:source_type;size:20;not null"`
	SourceID   uint              `gorm:"column:source_id;not null"`
	Name       string            `gorm:"column:name;size:255;not null"`
	Payload    datatypes.JSONMap `gorm:"column:payload"`
	CreatedAt  time.Time         `gorm:"column:created_at;autoCreateTime;index"`
}

// TableName specifies the table name for Event
func (*Event) TableName() string {
	return "events"
}
