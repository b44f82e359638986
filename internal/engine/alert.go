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

	"github.com/iLLeniumStudios/vigilant/internal/events"
	"github.com/iLLeniumStudios/vigilant/internal/monitor"
	"github.com/iLLeniumStudios/vigilant/internal/store"
	"github.com/iLLeniumStudios/vigilant/internal/timeutil"
)

// alertEventData snapshots the alert attributes carried in event payloads
func alertEventData(alert *store.Alert) map[string]any {
	data := map[string]any{
		"id":           alert.ID,
		"monitor_id":   alert.MonitorID,
		"status":       alert.Status,
		"acknowledged": alert.Acknowledged,
		"locked":       alert.Locked,
		"priority":     alert.Priority,
		"created_at":   timeutil.FormatISO(&alert.CreatedAt),
		"solved_at":    timeutil.FormatISO(alert.SolvedAt),
	}
	if alert.AcknowledgePriority != nil {
		data["acknowledge_priority"] = *alert.AcknowledgePriority
	}
	return data
}

// emitAlertEvent stages an alert event on the session
func (e *Engine) emitAlertEvent(sess *store.Session, alert *store.Alert, name string, extra map[string]any) {
	e.Bus.Emit(sess, events.Payload{
		EventSource:          events.SourceAlert,
		EventSourceID:        alert.ID,
		EventSourceMonitorID: alert.MonitorID,
		EventName:            name,
		EventData:            alertEventData(alert),
		ExtraPayload:         extra,
	})
}

// linkIssues attaches the issues to the alert, dismissing the acknowledgement
// when the module asks for it
func (e *Engine) linkIssues(sess *store.Session, alert *store.Alert, issues []*store.Issue, dismissAcknowledge bool) error {
	if !alert.IsActive() || alert.Locked || len(issues) == 0 {
		return nil
	}

	issueIDs := make([]uint, 0, len(issues))
	for _, issue := range issues {
		if err := e.linkIssue(sess, issue, alert.ID); err != nil {
			return err
		}
		issueIDs = append(issueIDs, issue.ID)
	}

	e.emitAlertEvent(sess, alert, events.AlertIssuesLinked, map[string]any{"issue_ids": issueIDs})

	if dismissAcknowledge && alert.Acknowledged {
		return e.dismissAcknowledge(sess, alert)
	}
	return nil
}

// acknowledge marks the alert acknowledged at its current priority. The event
// is suppressed for the implicit acknowledgement done by solveIssues.
func (e *Engine) acknowledge(sess *store.Session, alert *store.Alert, withEvent bool) error {
	if !alert.IsActive() || alert.IsPriorityAcknowledged() {
		return nil
	}

	priority := alert.Priority
	alert.Acknowledged = true
	alert.AcknowledgePriority = &priority
	if err := sess.SaveAlert(alert); err != nil {
		return fmt.Errorf("acknowledging alert %d: %w", alert.ID, err)
	}
	if withEvent {
		e.emitAlertEvent(sess, alert, events.AlertAcknowledged, nil)
	}
	return nil
}

// dismissAcknowledge clears the alert's acknowledgement
func (e *Engine) dismissAcknowledge(sess *store.Session, alert *store.Alert) error {
	if !alert.IsActive() || !alert.Acknowledged {
		return nil
	}

	alert.Acknowledged = false
	alert.AcknowledgePriority = nil
	if err := sess.SaveAlert(alert); err != nil {
		return fmt.Errorf("dismissing acknowledgement of alert %d: %w", alert.ID, err)
	}
	e.emitAlertEvent(sess, alert, events.AlertAcknowledgeDismiss, nil)
	return nil
}

// lock prevents further issue linking
func (e *Engine) lock(sess *store.Session, alert *store.Alert) error {
	if !alert.IsActive() || alert.Locked {
		return nil
	}

	alert.Locked = true
	if err := sess.SaveAlert(alert); err != nil {
		return fmt.Errorf("locking alert %d: %w", alert.ID, err)
	}
	e.emitAlertEvent(sess, alert, events.AlertLocked, nil)
	return nil
}

// unlock allows issue linking again
func (e *Engine) unlock(sess *store.Session, alert *store.Alert) error {
	if !alert.IsActive() || !alert.Locked {
		return nil
	}

	alert.Locked = false
	if err := sess.SaveAlert(alert); err != nil {
		return fmt.Errorf("unlocking alert %d: %w", alert.ID, err)
	}
	e.emitAlertEvent(sess, alert, events.AlertUnlocked, nil)
	return nil
}

// updatePriority recomputes the alert priority from its linked active issues.
// A numerically lower priority is more severe, so a decreasing value emits
// alert_priority_increased.
func (e *Engine) updatePriority(sess *store.Session, alert *store.Alert, rule monitor.Rule) error {
	if !alert.IsActive() || rule == nil {
		return nil
	}

	issues, err := sess.ListActiveIssuesByAlert(alert.ID)
	if err != nil {
		return fmt.Errorf("listing issues of alert %d: %w", alert.ID, err)
	}

	newPriority := int(monitor.CalculatePriority(rule, issues, e.Clock.Now()))
	if newPriority == alert.Priority {
		return nil
	}

	increased := newPriority < alert.Priority
	previous := alert.Priority
	alert.Priority = newPriority
	if err := sess.SaveAlert(alert); err != nil {
		return fmt.Errorf("updating priority of alert %d: %w", alert.ID, err)
	}

	name := events.AlertPriorityDecreased
	if increased {
		name = events.AlertPriorityIncreased
	}
	e.emitAlertEvent(sess, alert, name, map[string]any{"previous_priority": previous})
	return nil
}

// solveIssues force-solves every active issue of a non-solvable alert, then
// acknowledges silently and updates the alert
func (e *Engine) solveIssues(sess *store.Session, alert *store.Alert, issueOptions monitor.IssueOptions) error {
	if !alert.IsActive() {
		return nil
	}
	if issueOptions.Solvable {
		return fmt.Errorf("alert %d: solve_issues applies only to non-solvable monitors", alert.ID)
	}

	issues, err := sess.ListActiveIssuesByAlert(alert.ID)
	if err != nil {
		return fmt.Errorf("listing issues of alert %d: %w", alert.ID, err)
	}
	for _, issue := range issues {
		if err := e.solveIssue(sess, issue); err != nil {
			return err
		}
	}

	if err := e.acknowledge(sess, alert, false); err != nil {
		return err
	}
	return e.updateAlert(sess, alert)
}

// updateAlert solves the alert when no active issues remain, otherwise emits
// alert_updated
func (e *Engine) updateAlert(sess *store.Session, alert *store.Alert) error {
	if !alert.IsActive() {
		return nil
	}

	count, err := sess.CountActiveIssuesByAlert(alert.ID)
	if err != nil {
		return fmt.Errorf("counting issues of alert %d: %w", alert.ID, err)
	}

	if count == 0 {
		return e.solveAlert(sess, alert)
	}
	e.emitAlertEvent(sess, alert, events.AlertUpdated, nil)
	return nil
}

// solveAlert transitions the alert to solved
func (e *Engine) solveAlert(sess *store.Session, alert *store.Alert) error {
	if !alert.IsActive() {
		return nil
	}

	now := e.Clock.Now()
	alert.Status = store.AlertStatusSolved
	alert.SolvedAt = &now
	if err := sess.SaveAlert(alert); err != nil {
		return fmt.Errorf("solving alert %d: %w", alert.ID, err)
	}
	e.emitAlertEvent(sess, alert, events.AlertSolved, nil)
	return nil
}

// ---------------------------------------------------------------------------
// Operator request entry points
// ---------------------------------------------------------------------------

func (e *Engine) getAlert(ctx context.Context, alertID uint) (*store.Alert, error) {
	alert, err := e.Store.GetAlertByID(ctx, alertID)
	if err != nil {
		return nil, err
	}
	if alert == nil {
		return nil, fmt.Errorf("alert %d not found", alertID)
	}
	return alert, nil
}

// AcknowledgeAlert acknowledges an alert by id
func (e *Engine) AcknowledgeAlert(ctx context.Context, alertID uint) error {
	alert, err := e.getAlert(ctx, alertID)
	if err != nil {
		return err
	}
	return e.Store.WithSession(ctx, func(sess *store.Session) error {
		return e.acknowledge(sess, alert, true)
	})
}

// LockAlert locks an alert by id
func (e *Engine) LockAlert(ctx context.Context, alertID uint) error {
	alert, err := e.getAlert(ctx, alertID)
	if err != nil {
		return err
	}
	return e.Store.WithSession(ctx, func(sess *store.Session) error {
		return e.lock(sess, alert)
	})
}

// UnlockAlert unlocks an alert by id
func (e *Engine) UnlockAlert(ctx context.Context, alertID uint) error {
	alert, err := e.getAlert(ctx, alertID)
	if err != nil {
		return err
	}
	return e.Store.WithSession(ctx, func(sess *store.Session) error {
		return e.unlock(sess, alert)
	})
}

// SolveAlert force-solves the issues of a non-solvable alert by id
func (e *Engine) SolveAlert(ctx context.Context, alertID uint, issueOptions monitor.IssueOptions) error {
	alert, err := e.getAlert(ctx, alertID)
	if err != nil {
		return err
	}
	return e.Store.WithSession(ctx, func(sess *store.Session) error {
		return e.solveIssues(sess, alert, issueOptions)
	})
}
