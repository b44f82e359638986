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

	"gorm.io/gorm"
)

// Session wraps a database transaction and a list of deferred callbacks.
// Callbacks registered with Defer run only after the transaction commits, so
// events caused by a state change are never emitted for a rolled-back change.
type Session struct {
	ctx       context.Context
	tx        *gorm.DB
	callbacks []func(ctx context.Context) error
}

// Context returns the context the session was opened with
func (s *Session) Context() context.Context {
	return s.ctx
}

// DB returns the transaction handle
func (s *Session) DB() *gorm.DB {
	return s.tx
}

// Defer registers a callback to run after a successful commit
func (s *Session) Defer(cb func(ctx context.Context) error) {
	s.callbacks = append(s.callbacks, cb)
}

// CreateIssues batch-creates issues within the transaction
func (s *Session) CreateIssues(issues []*Issue) error {
	if len(issues) == 0 {
		return nil
	}
	return s.tx.Create(issues).Error
}

// SaveIssue persists all fields of the issue within the transaction
func (s *Session) SaveIssue(issue *Issue) error {
	return s.tx.Save(issue).Error
}

// CreateAlert stores a new alert within the transaction
func (s *Session) CreateAlert(alert *Alert) error {
	return s.tx.Create(alert).Error
}

// SaveAlert persists all fields of the alert within the transaction
func (s *Session) SaveAlert(alert *Alert) error {
	return s.tx.Save(alert).Error
}

// SaveNotification persists all fields of the notification within the
// transaction
func (s *Session) SaveNotification(notification *Notification) error {
	return s.tx.Save(notification).Error
}

// ListActiveIssuesByAlert returns the active issues linked to an alert,
// read within the transaction
func (s *Session) ListActiveIssuesByAlert(alertID uint) ([]*Issue, error) {
	var issues []*Issue
	err := s.tx.
		Where("alert_id = ? AND status = ?", alertID, IssueStatusActive).
		Order("id").
		Find(&issues).Error
	return issues, err
}

// CountActiveIssuesByAlert counts the active issues linked to an alert,
// read within the transaction
func (s *Session) CountActiveIssuesByAlert(alertID uint) (int64, error) {
	var count int64
	err := s.tx.
		Model(&Issue{}).
		Where("alert_id = ? AND status = ?", alertID, IssueStatusActive).
		Count(&count).Error
	return count, err
}
