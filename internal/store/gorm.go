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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite" // Pure Go SQLite driver (no CGO required)
	"github.com/hashicorp/go-multierror"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormStore implements Store using GORM
type GormStore struct {
	db      *gorm.DB
	dialect string
}

// ConnectionPoolConfig holds connection pool settings
type ConnectionPoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewGormStore creates a new GORM-based store
func NewGormStore(dialect string, dsn string) (*GormStore, error) {
	return NewGormStoreWithPool(dialect, dsn, ConnectionPoolConfig{})
}

// NewGormStoreWithPool creates a new GORM-based store with connection pool settings
func NewGormStoreWithPool(dialect string, dsn string, pool ConnectionPoolConfig) (*GormStore, error) {
	var dialector gorm.Dialector
	switch dialect {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "postgres":
		dialector = postgres.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported dialect: %s", dialect)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for non-SQLite databases
	if dialect != "sqlite" && (pool.MaxIdleConns > 0 || pool.MaxOpenConns > 0 || pool.ConnMaxLifetime > 0 || pool.ConnMaxIdleTime > 0) {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB for pool config: %w", err)
		}

		if pool.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
		}
		if pool.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
		}
		if pool.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
		}
		if pool.ConnMaxIdleTime > 0 {
			sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
		}
	}

	return &GormStore{db: db, dialect: dialect}, nil
}

// Init initializes the store (creates tables via auto-migration)
func (s *GormStore) Init() error {
	return s.db.AutoMigrate(
		&Monitor{},
		&CodeModule{},
		&Issue{},
		&Alert{},
		&Notification{},
		&Variable{},
		&MonitorExecution{},
		&Event{},
	)
}

// Close closes the store and releases resources
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// WithSession runs fn inside a transaction. Deferred callbacks run after a
// successful commit; a rollback discards them.
func (s *GormStore) WithSession(ctx context.Context, fn func(sess *Session) error) error {
	sess := &Session{ctx: ctx}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sess.tx = tx
		return fn(sess)
	})
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, cb := range sess.callbacks {
		if cbErr := cb(ctx); cbErr != nil {
			result = multierror.Append(result, cbErr)
		}
	}
	return result.ErrorOrNil()
}

// ---------------------------------------------------------------------------
// Monitors
// ---------------------------------------------------------------------------

// CreateMonitor stores a new monitor
func (s *GormStore) CreateMonitor(ctx context.Context, monitor *Monitor) error {
	return s.db.WithContext(ctx).Create(monitor).Error
}

// GetMonitorByID returns a monitor by id, or nil when not found
func (s *GormStore) GetMonitorByID(ctx context.Context, id uint) (*Monitor, error) {
	var monitor Monitor
	err := s.db.WithContext(ctx).First(&monitor, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &monitor, nil
}

// GetMonitorByName returns a monitor by name, or nil when not found
func (s *GormStore) GetMonitorByName(ctx context.Context, name string) (*Monitor, error) {
	var monitor Monitor
	err := s.db.WithContext(ctx).Where("name = ?", name).First(&monitor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &monitor, nil
}

// ListEnabledMonitors returns all enabled monitors ordered by id
func (s *GormStore) ListEnabledMonitors(ctx context.Context) ([]Monitor, error) {
	var monitors []Monitor
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Order("id").
		Find(&monitors).Error
	return monitors, err
}

// RefreshMonitor reloads the monitor row from the database
func (s *GormStore) RefreshMonitor(ctx context.Context, monitor *Monitor) error {
	return s.db.WithContext(ctx).First(monitor, monitor.ID).Error
}

// SaveMonitor persists all fields of the monitor
func (s *GormStore) SaveMonitor(ctx context.Context, monitor *Monitor) error {
	return s.db.WithContext(ctx).Save(monitor).Error
}

// SetMonitorQueued flips the queued flag
func (s *GormStore) SetMonitorQueued(ctx context.Context, id uint, queued bool) error {
	return s.db.WithContext(ctx).
		Model(&Monitor{}).
		Where("id = ?", id).
		Update("queued", queued).Error
}

// SetMonitorEnabled flips the enabled flag
func (s *GormStore) SetMonitorEnabled(ctx context.Context, id uint, enabled bool) error {
	return s.db.WithContext(ctx).
		Model(&Monitor{}).
		Where("id = ?", id).
		Update("enabled", enabled).Error
}

// SetMonitorHeartbeat updates the monitor's last heartbeat timestamp
func (s *GormStore) SetMonitorHeartbeat(ctx context.Context, id uint, at time.Time) error {
	return s.db.WithContext(ctx).
		Model(&Monitor{}).
		Where("id = ?", id).
		Update("last_heartbeat", at).Error
}

// ResetStuckMonitors clears queued/running for monitors whose heartbeat is
// older than the given threshold, returning the number affected
func (s *GormStore) ResetStuckMonitors(ctx context.Context, heartbeatBefore time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Model(&Monitor{}).
		Where("(queued = ? OR running = ?) AND (last_heartbeat IS NULL OR last_heartbeat < ?)",
			true, true, heartbeatBefore).
		Updates(map[string]any{"queued": false, "running": false})
	return result.RowsAffected, result.Error
}

// ---------------------------------------------------------------------------
// Code modules
// ---------------------------------------------------------------------------

// UpsertCodeModule creates or updates the code module of a monitor, bumping
// registered_at
func (s *GormStore) UpsertCodeModule(ctx context.Context, monitorID uint, code string, additionalFiles map[string]any, registeredAt time.Time) error {
	module := CodeModule{
		MonitorID:       monitorID,
		Code:            code,
		AdditionalFiles: additionalFiles,
		RegisteredAt:    registeredAt,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "monitor_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"code", "additional_files", "registered_at"}),
		}).
		Create(&module).Error
}

// GetCodeModule returns the code module of a monitor, or nil when not found
func (s *GormStore) GetCodeModule(ctx context.Context, monitorID uint) (*CodeModule, error) {
	var module CodeModule
	err := s.db.WithContext(ctx).Where("monitor_id = ?", monitorID).First(&module).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &module, nil
}

// ListCodeModulesRegisteredSince returns code modules registered at or after
// the reference timestamp
func (s *GormStore) ListCodeModulesRegisteredSince(ctx context.Context, since time.Time) ([]CodeModule, error) {
	var modules []CodeModule
	err := s.db.WithContext(ctx).
		Where("registered_at >= ?", since).
		Find(&modules).Error
	return modules, err
}

// ListEnabledMonitorsWithoutCodeModule returns enabled monitors that lost
// their code module
func (s *GormStore) ListEnabledMonitorsWithoutCodeModule(ctx context.Context) ([]Monitor, error) {
	var monitors []Monitor
	err := s.db.WithContext(ctx).
		Where("enabled = ?", true).
		Where("id NOT IN (?)", s.db.Model(&CodeModule{}).Select("monitor_id")).
		Find(&monitors).Error
	return monitors, err
}

// ---------------------------------------------------------------------------
// Issues
// ---------------------------------------------------------------------------

// GetIssueByID returns an issue by id, or nil when not found
func (s *GormStore) GetIssueByID(ctx context.Context, id uint) (*Issue, error) {
	var issue Issue
	err := s.db.WithContext(ctx).First(&issue, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &issue, nil
}

// ListActiveIssues returns the active issues of a monitor ordered by id
func (s *GormStore) ListActiveIssues(ctx context.Context, monitorID uint) ([]*Issue, error) {
	var issues []*Issue
	err := s.db.WithContext(ctx).
		Where("monitor_id = ? AND status = ?", monitorID, IssueStatusActive).
		Order("id").
		Find(&issues).Error
	return issues, err
}

// ListActiveIssuesByAlert returns the active issues linked to an alert
func (s *GormStore) ListActiveIssuesByAlert(ctx context.Context, alertID uint) ([]*Issue, error) {
	var issues []*Issue
	err := s.db.WithContext(ctx).
		Where("alert_id = ? AND status = ?", alertID, IssueStatusActive).
		Order("id").
		Find(&issues).Error
	return issues, err
}

// CountActiveIssuesByAlert counts the active issues linked to an alert
func (s *GormStore) CountActiveIssuesByAlert(ctx context.Context, alertID uint) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Issue{}).
		Where("alert_id = ? AND status = ?", alertID, IssueStatusActive).
		Count(&count).Error
	return count, err
}

// CountIssuesByModelID counts issues of any status for (monitor, model_id)
func (s *GormStore) CountIssuesByModelID(ctx context.Context, monitorID uint, modelID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Issue{}).
		Where("monitor_id = ? AND model_id = ?", monitorID, modelID).
		Count(&count).Error
	return count, err
}

// ---------------------------------------------------------------------------
// Alerts
// ---------------------------------------------------------------------------

// GetAlertByID returns an alert by id, or nil when not found
func (s *GormStore) GetAlertByID(ctx context.Context, id uint) (*Alert, error) {
	var alert Alert
	err := s.db.WithContext(ctx).First(&alert, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// GetActiveUnlockedAlert returns the first active unlocked alert of a
// monitor, or nil when none exists
func (s *GormStore) GetActiveUnlockedAlert(ctx context.Context, monitorID uint) (*Alert, error) {
	var alert Alert
	err := s.db.WithContext(ctx).
		Where("monitor_id = ? AND status = ? AND locked = ?", monitorID, AlertStatusActive, false).
		Order("id").
		First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

// ListActiveAlerts returns the active alerts of a monitor ordered by id
func (s *GormStore) ListActiveAlerts(ctx context.Context, monitorID uint) ([]*Alert, error) {
	var alerts []*Alert
	err := s.db.WithContext(ctx).
		Where("monitor_id = ? AND status = ?", monitorID, AlertStatusActive).
		Order("id").
		Find(&alerts).Error
	return alerts, err
}

// ---------------------------------------------------------------------------
// Notifications
// ---------------------------------------------------------------------------

// GetOrCreateNotification returns the notification for (alert, target),
// creating it when absent. The second return value reports creation.
func (s *GormStore) GetOrCreateNotification(ctx context.Context, monitorID, alertID uint, target string) (*Notification, bool, error) {
	var notification Notification
	err := s.db.WithContext(ctx).
		Where("alert_id = ? AND target = ?", alertID, target).
		First(&notification).Error
	if err == nil {
		return &notification, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	notification = Notification{
		MonitorID: monitorID,
		AlertID:   alertID,
		Target:    target,
		Status:    NotificationStatusActive,
	}
	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return nil, false, err
	}
	return &notification, true, nil
}

// ListActiveNotificationsByAlert returns the active notifications of an alert
func (s *GormStore) ListActiveNotificationsByAlert(ctx context.Context, alertID uint) ([]*Notification, error) {
	var notifications []*Notification
	err := s.db.WithContext(ctx).
		Where("alert_id = ? AND status = ?", alertID, NotificationStatusActive).
		Find(&notifications).Error
	return notifications, err
}

// ListActiveNotificationsOfSolvedAlerts returns active notifications whose
// alert has already been solved
func (s *GormStore) ListActiveNotificationsOfSolvedAlerts(ctx context.Context) ([]*Notification, error) {
	var notifications []*Notification
	err := s.db.WithContext(ctx).
		Where("status = ?", NotificationStatusActive).
		Where("alert_id IN (?)", s.db.Model(&Alert{}).Select("id").Where("status = ?", AlertStatusSolved)).
		Find(&notifications).Error
	return notifications, err
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// GetVariable returns a monitor-scoped variable, or nil when not found
func (s *GormStore) GetVariable(ctx context.Context, monitorID uint, name string) (*Variable, error) {
	var variable Variable
	err := s.db.WithContext(ctx).
		Where("monitor_id = ? AND name = ?", monitorID, name).
		First(&variable).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &variable, nil
}

// SetVariable creates or updates a monitor-scoped variable
func (s *GormStore) SetVariable(ctx context.Context, monitorID uint, name string, value *string) error {
	variable := Variable{
		MonitorID: monitorID,
		Name:      name,
		Value:     value,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "monitor_id"}, {Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&variable).Error
}

// ---------------------------------------------------------------------------
// Monitor executions
// ---------------------------------------------------------------------------

// CreateMonitorExecution stores a new execution audit row
func (s *GormStore) CreateMonitorExecution(ctx context.Context, execution *MonitorExecution) error {
	return s.db.WithContext(ctx).Create(execution).Error
}

// ListFailedExecutionsSince returns failed executions started at or after the
// reference timestamp
func (s *GormStore) ListFailedExecutionsSince(ctx context.Context, since time.Time) ([]MonitorExecution, error) {
	var executions []MonitorExecution
	err := s.db.WithContext(ctx).
		Where("status = ? AND started_at >= ?", ExecutionStatusFailed, since).
		Order("started_at DESC").
		Find(&executions).Error
	return executions, err
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// CreateEvent stores an event audit row
func (s *GormStore) CreateEvent(ctx context.Context, event *Event) error {
	return s.db.WithContext(ctx).Create(event).Error
}

// ListEventsByMonitor returns the most recent events of a monitor
func (s *GormStore) ListEventsByMonitor(ctx context.Context, monitorID uint, limit int) ([]Event, error) {
	var evts []Event
	query := s.db.WithContext(ctx).
		Where("monitor_id = ?", monitorID).
		Order("id DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	err := query.Find(&evts).Error
	return evts, err
}

// DeleteEventsBefore removes events created before the cutoff, returning the
// number deleted
func (s *GormStore) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&Event{})
	return result.RowsAffected, result.Error
}
