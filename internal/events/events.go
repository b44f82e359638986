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

// Package events implements the reactions bus. State changes emit events as
// deferred session callbacks, so a rolled-back transaction never produces
// events.
package events

// Source types
const (
	SourceAlert        = "alert"
	SourceIssue        = "issue"
	SourceMonitor      = "monitor"
	SourceNotification = "notification"
)

// Issue events
const (
	IssueCreated          = "issue_created"
	IssueLinked           = "issue_linked"
	IssueDropped          = "issue_dropped"
	IssueSolved           = "issue_solved"
	IssueUpdatedSolved    = "issue_updated_solved"
	IssueUpdatedNotSolved = "issue_updated_not_solved"
)

// Alert events
const (
	AlertCreated             = "alert_created"
	AlertIssuesLinked        = "alert_issues_linked"
	AlertAcknowledged        = "alert_acknowledged"
	AlertAcknowledgeDismiss  = "alert_acknowledge_dismissed"
	AlertLocked              = "alert_locked"
	AlertUnlocked            = "alert_unlocked"
	AlertPriorityIncreased   = "alert_priority_increased"
	AlertPriorityDecreased   = "alert_priority_decreased"
	AlertUpdated             = "alert_updated"
	AlertSolved              = "alert_solved"
)

// Notification events
const (
	NotificationCreated = "notification_created"
	NotificationClosed  = "notification_closed"
)

// Monitor events
const (
	MonitorEnabledChanged = "monitor_enabled_changed"
)

// KnownEvents lists every event name a monitor may register reactions for
var KnownEvents = []string{
	IssueCreated,
	IssueLinked,
	IssueDropped,
	IssueSolved,
	IssueUpdatedSolved,
	IssueUpdatedNotSolved,
	AlertCreated,
	AlertIssuesLinked,
	AlertAcknowledged,
	AlertAcknowledgeDismiss,
	AlertLocked,
	AlertUnlocked,
	AlertPriorityIncreased,
	AlertPriorityDecreased,
	AlertUpdated,
	AlertSolved,
	NotificationCreated,
	NotificationClosed,
	MonitorEnabledChanged,
}

// IsKnownEvent reports whether name is a recognized event name
func IsKnownEvent(name string) bool {
	for _, known := range KnownEvents {
		if known == name {
			return true
		}
	}
	return false
}

// Payload is the event envelope carried by event messages
type Payload struct {
	EventSource          string         `json:"event_source"`
	EventSourceID        uint           `json:"event_source_id"`
	EventSourceMonitorID uint           `json:"event_source_monitor_id"`
	EventName            string         `json:"event_name"`
	EventData            map[string]any `json:"event_data"`
	ExtraPayload         map[string]any `json:"extra_payload,omitempty"`
}
