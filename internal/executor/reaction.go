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

package executor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/iLLeniumStudios/vigilant/internal/core"
	"github.com/iLLeniumStudios/vigilant/internal/events"
	"github.com/iLLeniumStudios/vigilant/internal/monitor"
)

// handleEvent runs the reactions the owning monitor registered for the event.
// Each callback gets its own timeout; one failing callback never aborts its
// siblings.
func (e *Executor) handleEvent(ctx context.Context, raw json.RawMessage, log logr.Logger) error {
	var payload events.Payload
	if err := unmarshalPayload(raw, &payload); err != nil {
		log.Error(err, "Dropping malformed event message")
		return nil
	}

	log = log.WithValues("event", payload.EventName, "monitorID", payload.EventSourceMonitorID)

	if err := e.Registry.WaitMonitorLoaded(ctx, payload.EventSourceMonitorID, e.Config.RequestTimeout); err != nil {
		return fmt.Errorf("waiting for monitor %d: %w", payload.EventSourceMonitorID, err)
	}

	module, ok := e.Registry.GetModule(payload.EventSourceMonitorID)
	if !ok {
		log.Info("Monitor no longer registered, dropping event")
		return nil
	}

	reactions := module.ReactionOptions[payload.EventName]
	if len(reactions) == 0 {
		log.V(1).Info("No reactions registered, dropping event")
		return nil
	}

	for _, reaction := range reactions {
		if err := e.runReaction(ctx, reaction, payload); err != nil {
			if core.IsCoreError(err) {
				return err
			}
			log.Error(err, "Reaction failed", "reaction", reaction.Name)
		}
	}
	return nil
}

// runReaction runs one callback under the reaction timeout
func (e *Executor) runReaction(ctx context.Context, reaction monitor.Reaction, payload events.Payload) error {
	timeout := e.Config.ReactionTimeout
	reactionCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- reaction.Fn(reactionCtx, payload)
	}()

	select {
	case err := <-done:
		return err
	case <-reactionCtx.Done():
		return fmt.Errorf("reaction %q: %w", reaction.Name, reactionCtx.Err())
	}
}
