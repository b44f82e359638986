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

// Package store provides the persistent models and the transactional session
// used by the rest of the platform. Sessions support deferred callbacks that
// run only when the enclosing transaction commits.
package store

import (
	"context"
	"time"
)

// Store is the persistence contract
type Store interface {
	// Init creates tables via auto-migration
	Init() error

	// Close closes the store and releases resources
	Close() error

	// WithSession runs fn inside a transaction. Callbacks deferred on the
	// session run after a successful commit and are discarded on rollback.
	WithSession(ctx context.Context, fn func(sess *Session) error) error

	// Monitors
	CreateMonitor(ctx context.Context, monitor *Monitor) error
	GetMonitorByID(ctx context.Context, id uint) (*Monitor, error)
	GetMonitorByName(ctx context.Context, name string) (*Monitor, error)
	ListEnabledMonitors(ctx context.Context) ([]Monitor, error)
	RefreshMonitor(ctx context.Context, monitor *Monitor) error
	SaveMonitor(ctx context.Context, monitor *Monitor) error
	SetMonitorQueued(ctx context.Context, id uint, queued bool) error
	SetMonitorEnabled(ctx context.Context, id uint, enabled bool) error
	SetMonitorHeartbeat(ctx context.Context, id uint, at time.Time) error
	ResetStuckMonitors(ctx context.Context, heartbeatBefore time.Time) (int64, error)

	// Code modules
	UpsertCodeModule(ctx context.Context, monitorID uint, code string, additionalFiles map[string]any, registeredAt time.Time) error
	GetCodeModule(ctx context.Context, monitorID uint) (*CodeModule, error)
	ListCodeModulesRegisteredSince(ctx context.Context, since time.Time) ([]CodeModule, error)
	ListEnabledMonitorsWithoutCodeModule(ctx context.Context) ([]Monitor, error)

	// Issues
	GetIssueByID(ctx context.Context, id uint) (*Issue, error)
	ListActiveIssues(ctx context.Context, monitorID uint) ([]*Issue, error)
	ListActiveIssuesByAlert(ctx context.Context, alertID uint) ([]*Issue, error)
	CountActiveIssuesByAlert(ctx context.Context, alertID uint) (int64, error)
	CountIssuesByModelID(ctx context.Context, monitorID uint, modelID string) (int64, error)

	// Alerts
	GetAlertByID(ctx context.Context, id uint) (*Alert, error)
	GetActiveUnlockedAlert(ctx context.Context, monitorID uint) (*Alert, error)
	ListActiveAlerts(ctx context.Context, monitorID uint) ([]*Alert, error)

	// Notifications
	GetOrCreateNotification(ctx context.Context, monitorID, alertID uint, target string) (*Notification, bool, error)
	ListActiveNotificationsByAlert(ctx context.Context, alertID uint) ([]*Notification, error)
	ListActiveNotificationsOfSolvedAlerts(ctx context.Context) ([]*Notification, error)

	// Variables
	GetVariable(ctx context.Context, monitorID uint, name string) (*Variable, error)
	SetVariable(ctx context.Context, monitorID uint, name string, value *string) error

	// Monitor executions
	CreateMonitorExecution(ctx context.Context, execution *MonitorExecution) error
	ListFailedExecutionsSince(ctx context.Context, since time.Time) ([]MonitorExecution, error)

	// Events
	CreateEvent(ctx context.Context, event *Event) error
	ListEventsByMonitor(ctx context.Context, monitorID uint, limit int) ([]Event, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
