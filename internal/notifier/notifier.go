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

package notifier

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"
	"gorm.io/datatypes"

	"github.com/iLLeniumStudios/vigilant/internal/events"
	"github.com/iLLeniumStudios/vigilant/internal/metrics"
	"github.com/iLLeniumStudios/vigilant/internal/monitor"
	"github.com/iLLeniumStudios/vigilant/internal/store"
	"github.com/iLLeniumStudios/vigilant/internal/timeutil"
)

// Notifier keeps one notification record per alert and channel. It plugs into
// a monitor module as notification options; the loader merges its reactions
// into the module at configure time.
type Notifier struct {
	Log     logr.Logger
	Store   store.Store
	Bus     *events.Bus
	Clock   *timeutil.Clock
	Channel Channel

	// limiter caps deliveries across all alerts of this notifier
	limiter *rate.Limiter
}

// New creates a notifier for the channel, rate limited to maxPerMinute
// deliveries. A non-positive limit uses 50 per minute with a burst of 10.
func New(log logr.Logger, st store.Store, bus *events.Bus, clock *timeutil.Clock, channel Channel, maxPerMinute int) *Notifier {
	if maxPerMinute <= 0 {
		maxPerMinute = 50
	}
	return &Notifier{
		Log:     log.WithName("notifier").WithValues("channel", channel.Name()),
		Store:   st,
		Bus:     bus,
		Clock:   clock,
		Channel: channel,
		limiter: rate.NewLimiter(rate.Limit(float64(maxPerMinute)/60.0), 10),
	}
}

// Name implements monitor.Notifier
func (n *Notifier) Name() string {
	return n.Channel.Name()
}

// Reactions implements monitor.Notifier. Alert creation and escalation
// deliver a notification; alert resolution closes it.
func (n *Notifier) Reactions() map[string][]monitor.Reaction {
	return map[string][]monitor.Reaction{
		events.AlertCreated: {{
			Name: n.Name() + ".notify",
			Fn:   n.notify,
		}},
		events.AlertPriorityIncreased: {{
			Name: n.Name() + ".notify",
			Fn:   n.notify,
		}},
		events.AlertSolved: {{
			Name: n.Name() + ".close",
			Fn:   n.close,
		}},
	}
}

// notify delivers the alert event and records the notification
func (n *Notifier) notify(ctx context.Context, event events.Payload) error {
	if !n.limiter.Allow() {
		metrics.NotificationsFailed.WithLabelValues(n.Name()).Inc()
		return fmt.Errorf("notification rate limit exceeded for %s", n.Name())
	}

	notification, created, err := n.Store.GetOrCreateNotification(ctx, event.EventSourceMonitorID, event.EventSourceID, n.Name())
	if err != nil {
		return fmt.Errorf("fetching notification: %w", err)
	}
	if notification.Status != store.NotificationStatusActive {
		n.Log.V(1).Info("Notification already closed, skipping",
			"alertID", event.EventSourceID)
		return nil
	}

	if err := n.Channel.Send(ctx, Message{Notification: notification, Event: event}); err != nil {
		metrics.NotificationsFailed.WithLabelValues(n.Name()).Inc()
		return fmt.Errorf("delivering notification: %w", err)
	}
	metrics.NotificationsSent.WithLabelValues(n.Name()).Inc()

	return n.Store.WithSession(ctx, func(sess *store.Session) error {
		notification.Data = datatypes.JSONMap(event.EventData)
		if err := sess.SaveNotification(notification); err != nil {
			return err
		}
		if created {
			n.emit(sess, notification, events.NotificationCreated)
		}
		return nil
	})
}

// close closes this channel's notification when its alert solves
func (n *Notifier) close(ctx context.Context, event events.Payload) error {
	notifications, err := n.Store.ListActiveNotificationsByAlert(ctx, event.EventSourceID)
	if err != nil {
		return fmt.Errorf("listing notifications: %w", err)
	}

	for _, notification := range notifications {
		if notification.Target != n.Name() {
			continue
		}

		err := n.Store.WithSession(ctx, func(sess *store.Session) error {
			now := n.Clock.Now()
			notification.Status = store.NotificationStatusClosed
			notification.ClosedAt = &now
			if err := sess.SaveNotification(notification); err != nil {
				return err
			}
			n.emit(sess, notification, events.NotificationClosed)
			return nil
		})
		if err != nil {
			return fmt.Errorf("closing notification %d: %w", notification.ID, err)
		}
	}
	return nil
}

// emit stages a notification lifecycle event on the session
func (n *Notifier) emit(sess *store.Session, notification *store.Notification, name string) {
	n.Bus.Emit(sess, events.Payload{
		EventSource:          events.SourceNotification,
		EventSourceID:        notification.ID,
		EventSourceMonitorID: notification.MonitorID,
		EventName:            name,
		EventData: map[string]any{
			"id":         notification.ID,
			"monitor_id": notification.MonitorID,
			"alert_id":   notification.AlertID,
			"target":     notification.Target,
			"status":     notification.Status,
			"created_at": timeutil.FormatISO(&notification.CreatedAt),
			"closed_at":  timeutil.FormatISO(notification.ClosedAt),
		},
	})
}
