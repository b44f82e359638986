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

// Package controller decides which monitors are due and enqueues their
// process tasks. It also drives the housekeeping procedures.
package controller

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/iLLeniumStudios/vigilant/internal/config"
	"github.com/iLLeniumStudios/vigilant/internal/engine"
	"github.com/iLLeniumStudios/vigilant/internal/events"
	"github.com/iLLeniumStudios/vigilant/internal/metrics"
	"github.com/iLLeniumStudios/vigilant/internal/monitor"
	"github.com/iLLeniumStudios/vigilant/internal/queue"
	"github.com/iLLeniumStudios/vigilant/internal/registry"
	"github.com/iLLeniumStudios/vigilant/internal/store"
	"github.com/iLLeniumStudios/vigilant/internal/timeutil"
)

// readyTimeout bounds how long a tick waits for the registry before skipping
const readyTimeout = 30 * time.Second

// Controller enqueues due monitor tasks and runs housekeeping procedures
type Controller struct {
	Log      logr.Logger
	Store    store.Store
	Queue    queue.Queue
	Registry *registry.Registry
	Bus      *events.Bus
	Clock    *timeutil.Clock
	Config   config.ControllerConfig

	startedAt     time.Time
	lastProcedure map[string]time.Time

	healthMu   sync.Mutex
	lastTickAt time.Time
}

// New creates a controller
func New(log logr.Logger, st store.Store, q queue.Queue, reg *registry.Registry, bus *events.Bus, clock *timeutil.Clock, cfg config.ControllerConfig) *Controller {
	return &Controller{
		Log:           log.WithName("controller"),
		Store:         st,
		Queue:         q,
		Registry:      reg,
		Bus:           bus,
		Clock:         clock,
		Config:        cfg,
		lastProcedure: make(map[string]time.Time),
	}
}

// decideTasks returns the routines due for the monitor, in stable order. A
// routine whose cron never fired before (no executed-at stamp) is due
// immediately.
func (c *Controller) decideTasks(mon *store.Monitor, module *monitor.Module) ([]string, error) {
	if !mon.Enabled || mon.Queued || mon.Running {
		return nil, nil
	}

	var tasks []string

	due, err := c.routineDue(module.Options.SearchCron, mon.SearchExecutedAt)
	if err != nil {
		return nil, fmt.Errorf("monitor %q search schedule: %w", mon.Name, err)
	}
	if due {
		tasks = append(tasks, engine.TaskSearch)
	}

	due, err = c.routineDue(module.Options.UpdateCron, mon.UpdateExecutedAt)
	if err != nil {
		return nil, fmt.Errorf("monitor %q update schedule: %w", mon.Name, err)
	}
	if due {
		tasks = append(tasks, engine.TaskUpdate)
	}

	return tasks, nil
}

func (c *Controller) routineDue(cron string, lastExecuted *time.Time) (bool, error) {
	if cron == "" {
		return false, nil
	}
	if lastExecuted == nil {
		return true, nil
	}
	return c.Clock.IsTriggered(cron, *lastExecuted)
}

// ProcessMonitors runs one controller tick over all enabled monitors, bounded
// by the configured concurrency
func (c *Controller) ProcessMonitors(ctx context.Context) error {
	monitors, err := c.Store.ListEnabledMonitors(ctx)
	if err != nil {
		return fmt.Errorf("listing enabled monitors: %w", err)
	}

	concurrency := c.Config.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i := range monitors {
		mon := monitors[i]

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			c.processMonitor(ctx, &mon)
		}()
	}
	wg.Wait()

	return nil
}

// processMonitor enqueues the monitor's due tasks. The queued flag flips
// before the send and reverts when the send fails, so a crash between the two
// leaves a flag the stuck-monitors procedure recovers.
func (c *Controller) processMonitor(ctx context.Context, mon *store.Monitor) {
	log := c.Log.WithValues("monitor", mon.Name, "monitorID", mon.ID)

	module, ok := c.Registry.GetModule(mon.ID)
	if !ok {
		metrics.ControllerMonitorNotRegistered.Inc()
		log.V(1).Info("Monitor not registered, skipping")
		return
	}

	tasks, err := c.decideTasks(mon, module)
	if err != nil {
		log.Error(err, "Failed to decide tasks")
		return
	}
	if len(tasks) == 0 {
		return
	}

	if err := c.Store.SetMonitorQueued(ctx, mon.ID, true); err != nil {
		log.Error(err, "Failed to mark monitor queued")
		return
	}

	payload := queue.ProcessMonitorPayload{MonitorID: mon.ID, Tasks: tasks}
	if err := c.Queue.Send(ctx, queue.TypeProcessMonitor, payload); err != nil {
		metrics.ControllerTaskQueueError.Inc()
		log.Error(err, "Failed to enqueue process task", "tasks", tasks)

		if err := c.Store.SetMonitorQueued(ctx, mon.ID, false); err != nil {
			log.Error(err, "Failed to revert queued flag")
		}
		return
	}

	metrics.RecordMonitorsProcessed(strings.Join(tasks, ","), 1)
	log.V(1).Info("Process task enqueued", "tasks", tasks)
}

// Health reports the loop's liveness for the status endpoint
func (c *Controller) Health() map[string]any {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()

	health := map[string]any{}
	if !c.startedAt.IsZero() {
		health["started_at"] = timeutil.FormatISO(&c.startedAt)
	}
	if !c.lastTickAt.IsZero() {
		health["last_tick_at"] = timeutil.FormatISO(&c.lastTickAt)
	}
	return health
}

func (c *Controller) markTick() {
	c.healthMu.Lock()
	c.lastTickAt = c.Clock.Now()
	c.healthMu.Unlock()
}

// Run executes the controller loop until the context is cancelled
func (c *Controller) Run(ctx context.Context) error {
	c.Log.Info("Controller started", "schedule", c.Config.ProcessSchedule)
	c.healthMu.Lock()
	c.startedAt = c.Clock.Now()
	c.healthMu.Unlock()

	for {
		wait, err := c.Clock.TimeUntilNext(c.Config.ProcessSchedule)
		if err != nil {
			return fmt.Errorf("invalid process schedule %q: %w", c.Config.ProcessSchedule, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			c.Log.Info("Controller stopped")
			return ctx.Err()
		case <-timer.C:
		}

		if err := c.Registry.WaitReady(ctx, readyTimeout); err != nil {
			c.Log.Error(err, "Monitors not loaded, skipping tick")
			continue
		}

		if err := c.ProcessMonitors(ctx); err != nil {
			c.Log.Error(err, "Controller tick failed")
		}

		c.RunProcedures(ctx)
		c.markTick()
	}
}
