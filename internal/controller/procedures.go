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

package controller

import (
	"context"
	"fmt"
	"time"

	"github.com/iLLeniumStudios/vigilant/internal/events"
	"github.com/iLLeniumStudios/vigilant/internal/metrics"
	"github.com/iLLeniumStudios/vigilant/internal/store"
	"github.com/iLLeniumStudios/vigilant/internal/timeutil"
)

// Housekeeping procedure names
const (
	ProcedureMonitorsStuck            = "monitors_stuck"
	ProcedureNotificationsAlertSolved = "notifications_alert_solved"
	ProcedureCleanEvents              = "clean_events"
)

// Procedure parameter defaults
const (
	defaultStuckTolerance = 300
	defaultRetentionDays  = 7
)

// RunProcedures runs every configured procedure whose schedule fired since
// its last run. A failing procedure never aborts the others.
func (c *Controller) RunProcedures(ctx context.Context) {
	for name, cfg := range c.Config.Procedures {
		last, ok := c.lastProcedure[name]
		if !ok {
			last = c.startedAt
		}

		triggered, err := c.Clock.IsTriggered(cfg.Schedule, last)
		if err != nil {
			metrics.ControllerProcedureError.WithLabelValues(name).Inc()
			c.Log.Error(err, "Invalid procedure schedule", "procedure", name, "schedule", cfg.Schedule)
			continue
		}
		if !triggered {
			continue
		}

		c.lastProcedure[name] = c.Clock.Now()
		if err := c.RunProcedure(ctx, name, cfg.Params); err != nil {
			metrics.ControllerProcedureError.WithLabelValues(name).Inc()
			c.Log.Error(err, "Procedure failed", "procedure", name)
		}
	}
}

// RunProcedure runs one housekeeping procedure by name
func (c *Controller) RunProcedure(ctx context.Context, name string, params map[string]any) error {
	switch name {
	case ProcedureMonitorsStuck:
		return c.procedureMonitorsStuck(ctx, params)
	case ProcedureNotificationsAlertSolved:
		return c.procedureNotificationsAlertSolved(ctx)
	case ProcedureCleanEvents:
		return c.procedureCleanEvents(ctx, params)
	default:
		return fmt.Errorf("unknown procedure %q", name)
	}
}

// procedureMonitorsStuck clears the queued and running flags of monitors
// whose heartbeat went silent longer than the tolerance
func (c *Controller) procedureMonitorsStuck(ctx context.Context, params map[string]any) error {
	tolerance := paramInt(params, "time_tolerance", defaultStuckTolerance)

	cutoff := c.Clock.Now().Add(-time.Duration(tolerance) * time.Second)
	reset, err := c.Store.ResetStuckMonitors(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("resetting stuck monitors: %w", err)
	}
	if reset > 0 {
		c.Log.Info("Stuck monitors reset", "count", reset, "tolerance", tolerance)
	}
	return nil
}

// procedureNotificationsAlertSolved closes the open notifications of alerts
// that solved since the notification was created
func (c *Controller) procedureNotificationsAlertSolved(ctx context.Context) error {
	notifications, err := c.Store.ListActiveNotificationsOfSolvedAlerts(ctx)
	if err != nil {
		return fmt.Errorf("listing notifications of solved alerts: %w", err)
	}

	for _, notification := range notifications {
		err := c.Store.WithSession(ctx, func(sess *store.Session) error {
			now := c.Clock.Now()
			notification.Status = store.NotificationStatusClosed
			notification.ClosedAt = &now
			if err := sess.SaveNotification(notification); err != nil {
				return err
			}

			c.Bus.Emit(sess, events.Payload{
				EventSource:          events.SourceNotification,
				EventSourceID:        notification.ID,
				EventSourceMonitorID: notification.MonitorID,
				EventName:            events.NotificationClosed,
				EventData: map[string]any{
					"id":         notification.ID,
					"monitor_id": notification.MonitorID,
					"alert_id":   notification.AlertID,
					"target":     notification.Target,
					"status":     notification.Status,
					"closed_at":  timeutil.FormatISO(notification.ClosedAt),
				},
			})
			return nil
		})
		if err != nil {
			return fmt.Errorf("closing notification %d: %w", notification.ID, err)
		}
	}

	if len(notifications) > 0 {
		c.Log.Info("Notifications of solved alerts closed", "count", len(notifications))
	}
	return nil
}

// procedureCleanEvents deletes event records older than the retention window
func (c *Controller) procedureCleanEvents(ctx context.Context, params map[string]any) error {
	days := paramInt(params, "retention_days", defaultRetentionDays)

	cutoff := c.Clock.Now().AddDate(0, 0, -days)
	deleted, err := c.Store.DeleteEventsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("deleting events: %w", err)
	}
	if deleted > 0 {
		c.Log.Info("Events cleaned", "count", deleted, "retentionDays", days)
	}
	return nil
}

// paramInt reads an integer procedure parameter, tolerating the numeric types
// the config layer may decode
func paramInt(params map[string]any, key string, fallback int) int {
	if params == nil {
		return fallback
	}
	switch value := params[key].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	default:
		return fallback
	}
}
