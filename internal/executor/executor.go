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

// Package executor consumes the queue and runs the handlers behind each
// message type: monitor routines, event reactions, and operator requests.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/iLLeniumStudios/vigilant/internal/config"
	"github.com/iLLeniumStudios/vigilant/internal/core"
	"github.com/iLLeniumStudios/vigilant/internal/engine"
	"github.com/iLLeniumStudios/vigilant/internal/metrics"
	"github.com/iLLeniumStudios/vigilant/internal/queue"
	"github.com/iLLeniumStudios/vigilant/internal/registry"
	"github.com/iLLeniumStudios/vigilant/internal/store"
	"github.com/iLLeniumStudios/vigilant/internal/timeutil"
)

// readyTimeout bounds how long a runner waits for the registry per cycle
const readyTimeout = 30 * time.Second

// Executor is the runner pool consuming the queue
type Executor struct {
	Log      logr.Logger
	Store    store.Store
	Queue    queue.Queue
	Registry *registry.Registry
	Engine   *engine.Engine
	Clock    *timeutil.Clock
	Config   config.ExecutorConfig

	// messageHeartbeat is the interval between visibility extensions of the
	// message being handled
	messageHeartbeat time.Duration

	healthMu      sync.Mutex
	startedAt     time.Time
	lastMessageAt time.Time
}

// New creates an executor
func New(log logr.Logger, st store.Store, q queue.Queue, reg *registry.Registry, eng *engine.Engine, clock *timeutil.Clock, cfg config.ExecutorConfig, queueCfg config.QueueConfig) *Executor {
	return &Executor{
		Log:              log.WithName("executor"),
		Store:            st,
		Queue:            q,
		Registry:         reg,
		Engine:           eng,
		Clock:            clock,
		Config:           cfg,
		messageHeartbeat: queueCfg.WaitMessageTime,
	}
}

// Run starts the runner pool and blocks until the context is cancelled or a
// runner hits a core error. Core errors stop the whole pool so the supervisor
// restarts the process.
func (e *Executor) Run(ctx context.Context) error {
	concurrency := e.Config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	e.Log.Info("Executor started", "concurrency", concurrency)
	e.healthMu.Lock()
	e.startedAt = e.Clock.Now()
	e.healthMu.Unlock()

	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		runner := i
		group.Go(func() error {
			return e.runLoop(groupCtx, runner)
		})
	}

	err := group.Wait()
	e.Log.Info("Executor stopped")
	return err
}

// Health reports the pool's liveness for the status endpoint
func (e *Executor) Health() map[string]any {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()

	health := map[string]any{}
	if !e.startedAt.IsZero() {
		health["started_at"] = timeutil.FormatISO(&e.startedAt)
	}
	if !e.lastMessageAt.IsZero() {
		health["last_message_at"] = timeutil.FormatISO(&e.lastMessageAt)
	}
	return health
}

func (e *Executor) markMessage() {
	e.healthMu.Lock()
	e.lastMessageAt = e.Clock.Now()
	e.healthMu.Unlock()
}

// runLoop is one runner's consume cycle
func (e *Executor) runLoop(ctx context.Context, runner int) error {
	log := e.Log.WithValues("runner", runner)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := e.runOnce(ctx, log); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if core.IsCoreError(err) {
				log.Error(err, "Core error, stopping")
				return err
			}
			log.Error(err, "Cycle failed")
		}
	}
}

// runOnce waits for the registry, receives one message, and handles it. The
// message is deleted only when its handler succeeds; failures leave it for
// redelivery after the visibility window.
func (e *Executor) runOnce(ctx context.Context, log logr.Logger) error {
	if err := e.Registry.WaitReady(ctx, readyTimeout); err != nil {
		var loadErr *registry.MonitorsLoadError
		if errors.As(err, &loadErr) {
			log.Info("Monitors not loaded, retrying")
			return nil
		}
		return err
	}

	delivery, err := e.Queue.Receive(ctx, e.Config.Sleep)
	if err != nil {
		return fmt.Errorf("receiving message: %w", err)
	}
	if delivery == nil {
		return nil
	}
	e.markMessage()

	msgType := string(delivery.Message.Type)
	metrics.RecordMessage(msgType)
	metrics.ExecutorMessagesProcessing.WithLabelValues(msgType).Inc()
	defer metrics.ExecutorMessagesProcessing.WithLabelValues(msgType).Dec()

	// Keep the message invisible while the handler runs
	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go e.heartbeatLoop(heartbeatCtx, delivery, log)

	handlerErr := e.dispatch(ctx, delivery, log)
	stopHeartbeat()

	if handlerErr != nil {
		metrics.RecordMessageError(msgType)
		return handlerErr
	}

	if err := e.Queue.Delete(ctx, delivery); err != nil {
		return fmt.Errorf("deleting message: %w", err)
	}
	return nil
}

// heartbeatLoop extends the delivery's visibility until stopped
func (e *Executor) heartbeatLoop(ctx context.Context, delivery *queue.Delivery, log logr.Logger) {
	interval := e.messageHeartbeat
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Queue.Heartbeat(ctx, delivery); err != nil {
				log.Error(err, "Message heartbeat failed", "deliveryID", delivery.ID)
				return
			}
		}
	}
}

// dispatch routes the message to its handler
func (e *Executor) dispatch(ctx context.Context, delivery *queue.Delivery, log logr.Logger) error {
	switch delivery.Message.Type {
	case queue.TypeProcessMonitor:
		return e.handleProcessMonitor(ctx, delivery.Message.Payload, log)
	case queue.TypeEvent:
		return e.handleEvent(ctx, delivery.Message.Payload, log)
	case queue.TypeRequest:
		return e.handleRequest(ctx, delivery.Message.Payload, log)
	default:
		// Unknown types are dropped, redelivering them cannot help
		log.Info("Dropping message of unknown type", "type", delivery.Message.Type)
		return nil
	}
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("unmarshaling payload: %w", err)
	}
	return nil
}
