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

package engine

import (
	"context"
	"fmt"

	"gorm.io/datatypes"

	"github.com/iLLeniumStudios/vigilant/internal/events"
	"github.com/iLLeniumStudios/vigilant/internal/store"
	"github.com/iLLeniumStudios/vigilant/internal/timeutil"
)

// issueEventData snapshots the issue attributes carried in event payloads
func issueEventData(issue *store.Issue) map[string]any {
	data := map[string]any{
		"id":         issue.ID,
		"monitor_id": issue.MonitorID,
		"model_id":   issue.ModelID,
		"status":     issue.Status,
		"data":       map[string]any(issue.Data),
		"created_at": timeutil.FormatISO(&issue.CreatedAt),
		"solved_at":  timeutil.FormatISO(issue.SolvedAt),
		"dropped_at": timeutil.FormatISO(issue.DroppedAt),
	}
	if issue.AlertID != nil {
		data["alert_id"] = *issue.AlertID
	}
	return data
}

// emitIssueEvent stages an issue event on the session
func (e *Engine) emitIssueEvent(sess *store.Session, issue *store.Issue, name string, extra map[string]any) {
	e.Bus.Emit(sess, events.Payload{
		EventSource:          events.SourceIssue,
		EventSourceID:        issue.ID,
		EventSourceMonitorID: issue.MonitorID,
		EventName:            name,
		EventData:            issueEventData(issue),
		ExtraPayload:         extra,
	})
}

// solveIssue transitions an active issue to solved
func (e *Engine) solveIssue(sess *store.Session, issue *store.Issue) error {
	if !issue.IsActive() {
		return nil
	}

	now := e.Clock.Now()
	issue.Status = store.IssueStatusSolved
	issue.SolvedAt = &now
	if err := sess.SaveIssue(issue); err != nil {
		return fmt.Errorf("solving issue %d: %w", issue.ID, err)
	}
	e.emitIssueEvent(sess, issue, events.IssueSolved, nil)
	return nil
}

// dropIssue transitions an active issue to dropped
func (e *Engine) dropIssue(sess *store.Session, issue *store.Issue) error {
	if !issue.IsActive() {
		return nil
	}

	now := e.Clock.Now()
	issue.Status = store.IssueStatusDropped
	issue.DroppedAt = &now
	if err := sess.SaveIssue(issue); err != nil {
		return fmt.Errorf("dropping issue %d: %w", issue.ID, err)
	}
	e.emitIssueEvent(sess, issue, events.IssueDropped, nil)
	return nil
}

// updateIssueData replaces the issue data and stages the matching updated
// event according to the current resolution state
func (e *Engine) updateIssueData(sess *store.Session, issue *store.Issue, newData map[string]any, solved bool) error {
	if !issue.IsActive() {
		return nil
	}

	issue.Data = datatypes.JSONMap(newData)
	if err := sess.SaveIssue(issue); err != nil {
		return fmt.Errorf("updating issue %d: %w", issue.ID, err)
	}

	name := events.IssueUpdatedNotSolved
	if solved {
		name = events.IssueUpdatedSolved
	}
	e.emitIssueEvent(sess, issue, name, nil)
	return nil
}

// linkIssue attaches an active issue to an alert
func (e *Engine) linkIssue(sess *store.Session, issue *store.Issue, alertID uint) error {
	if !issue.IsActive() {
		return nil
	}

	issue.AlertID = &alertID
	if err := sess.SaveIssue(issue); err != nil {
		return fmt.Errorf("linking issue %d to alert %d: %w", issue.ID, alertID, err)
	}
	e.emitIssueEvent(sess, issue, events.IssueLinked, nil)
	return nil
}

// DropIssue drops an issue by id, for operator requests
func (e *Engine) DropIssue(ctx context.Context, issueID uint) error {
	issue, err := e.Store.GetIssueByID(ctx, issueID)
	if err != nil {
		return err
	}
	if issue == nil {
		return fmt.Errorf("issue %d not found", issueID)
	}

	return e.Store.WithSession(ctx, func(sess *store.Session) error {
		return e.dropIssue(sess, issue)
	})
}
