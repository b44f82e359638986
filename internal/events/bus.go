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

package events

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/iLLeniumStudios/vigilant/internal/queue"
	"github.com/iLLeniumStudios/vigilant/internal/store"
)

// ReactionLookup answers whether a monitor registered reactions for an event
type ReactionLookup interface {
	HasReactions(monitorID uint, eventName string) bool
}

// Bus routes events to the queue when the owning monitor registered a
// reaction for them. Events without reactions are logged only when the global
// log_all_events policy is on.
type Bus struct {
	Log          logr.Logger
	Queue        queue.Queue
	Store        store.Store
	Lookup       ReactionLookup
	LogAllEvents bool
}

// NewBus creates a reactions bus
func NewBus(log logr.Logger, q queue.Queue, st store.Store, lookup ReactionLookup, logAllEvents bool) *Bus {
	return &Bus{
		Log:          log.WithName("events"),
		Queue:        q,
		Store:        st,
		Lookup:       lookup,
		LogAllEvents: logAllEvents,
	}
}

// Emit stages the event on the session. It is dispatched only if the
// transaction commits.
func (b *Bus) Emit(sess *store.Session, payload Payload) {
	sess.Defer(func(ctx context.Context) error {
		return b.Dispatch(ctx, payload)
	})
}

// Dispatch persists the event for audit and, when the monitor registered a
// reaction for it, enqueues an event message
func (b *Bus) Dispatch(ctx context.Context, payload Payload) error {
	if err := b.Store.CreateEvent(ctx, &store.Event{
		MonitorID:  payload.EventSourceMonitorID,
		SourceType: payload.EventSource,
		SourceID:   payload.EventSourceID,
		Name:       payload.EventName,
		Payload:    payload.EventData,
	}); err != nil {
		// Audit failures must not block reaction delivery
		b.Log.Error(err, "Failed to persist event",
			"event", payload.EventName, "monitorID", payload.EventSourceMonitorID)
	}

	if b.Lookup != nil && b.Lookup.HasReactions(payload.EventSourceMonitorID, payload.EventName) {
		if err := b.Queue.Send(ctx, queue.TypeEvent, payload); err != nil {
			return fmt.Errorf("sending event %s: %w", payload.EventName, err)
		}
		return nil
	}

	if b.LogAllEvents {
		b.Log.Info("Event without registered reactions",
			"event", payload.EventName,
			"source", payload.EventSource,
			"sourceID", payload.EventSourceID,
			"monitorID", payload.EventSourceMonitorID)
	}
	return nil
}
