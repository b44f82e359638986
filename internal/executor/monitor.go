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
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/iLLeniumStudios/vigilant/internal/core"
	"github.com/iLLeniumStudios/vigilant/internal/metrics"
	"github.com/iLLeniumStudios/vigilant/internal/queue"
	"github.com/iLLeniumStudios/vigilant/internal/store"
)

const (
	// errorTypeTimeout marks executions killed by the deadline
	errorTypeTimeout = "timeout"

	// errorTypeSize matches the error_type column size
	errorTypeSize = 255
)

// handleProcessMonitor runs the requested routines for one monitor under the
// execution timeout, maintaining the monitor's heartbeat while it runs
func (e *Executor) handleProcessMonitor(ctx context.Context, raw json.RawMessage, log logr.Logger) error {
	var payload queue.ProcessMonitorPayload
	if err := unmarshalPayload(raw, &payload); err != nil {
		// Malformed messages are dropped
		log.Error(err, "Dropping malformed process message")
		return nil
	}

	mon, err := e.Store.GetMonitorByID(ctx, payload.MonitorID)
	if err != nil {
		return fmt.Errorf("fetching monitor %d: %w", payload.MonitorID, err)
	}
	if mon == nil {
		log.Info("Monitor gone, dropping process task", "monitorID", payload.MonitorID)
		return nil
	}

	log = log.WithValues("monitor", mon.Name, "monitorID", mon.ID)

	// Another runner already holds this monitor, drop without recording
	if mon.Running {
		log.Info("Monitor already running, dropping process task")
		return nil
	}

	module, ok := e.Registry.GetModule(mon.ID)
	if !ok {
		log.Info("Monitor not registered, releasing process task")
		if err := e.Store.SetMonitorQueued(ctx, mon.ID, false); err != nil {
			return fmt.Errorf("releasing queued flag of %q: %w", mon.Name, err)
		}
		return nil
	}

	now := e.Clock.Now()
	mon.Running = true
	mon.LastHeartbeat = &now
	if err := e.Store.SaveMonitor(ctx, mon); err != nil {
		return fmt.Errorf("marking monitor %q running: %w", mon.Name, err)
	}
	metrics.MonitorsRunning.Inc()

	timeout := module.Options.ExecutionTimeout
	if timeout <= 0 {
		timeout = e.Config.MonitorTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)

	heartbeatCtx, stopHeartbeat := context.WithCancel(ctx)
	go e.monitorHeartbeatLoop(heartbeatCtx, mon.ID, log)

	startedAt := e.Clock.Now()
	execErr := e.Engine.Process(execCtx, mon, module, payload.Tasks)
	finishedAt := e.Clock.Now()

	stopHeartbeat()
	cancel()

	metrics.ObserveExecution(mon.Name, finishedAt.Sub(startedAt).Seconds())
	e.recordExecution(ctx, mon, execCtx, execErr, startedAt, finishedAt, log)

	if err := e.releaseMonitor(ctx, mon); err != nil {
		return err
	}

	if execErr != nil && core.IsCoreError(execErr) {
		return execErr
	}
	return nil
}

// monitorHeartbeatLoop stamps the monitor's heartbeat while a routine runs,
// so the stuck-monitors procedure leaves it alone
func (e *Executor) monitorHeartbeatLoop(ctx context.Context, monitorID uint, log logr.Logger) {
	interval := e.Config.MonitorHeartbeatTime
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Store.SetMonitorHeartbeat(ctx, monitorID, e.Clock.Now()); err != nil {
				log.Error(err, "Monitor heartbeat failed")
			}
		}
	}
}

// recordExecution writes the execution outcome
func (e *Executor) recordExecution(ctx context.Context, mon *store.Monitor, execCtx context.Context, execErr error, startedAt, finishedAt time.Time, log logr.Logger) {
	execution := &store.MonitorExecution{
		MonitorID:  mon.ID,
		Status:     store.ExecutionStatusSuccess,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}

	if execErr != nil {
		execution.Status = store.ExecutionStatusFailed
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			execution.ErrorType = errorTypeTimeout
			metrics.RecordExecutionTimeout(mon.Name)
			log.Error(execErr, "Monitor execution timed out")
		} else {
			execution.ErrorType = truncateError(execErr)
			metrics.RecordExecutionError(mon.Name)
			log.Error(execErr, "Monitor execution failed")
		}
	}

	if err := e.Store.CreateMonitorExecution(ctx, execution); err != nil {
		log.Error(err, "Failed to record execution")
	}
}

// truncateError fits the error text into the error_type column
func truncateError(err error) string {
	text := err.Error()
	if len(text) > errorTypeSize {
		return text[:errorTypeSize]
	}
	return text
}

// releaseMonitor clears the running and queued flags after an execution
func (e *Executor) releaseMonitor(ctx context.Context, mon *store.Monitor) error {
	defer metrics.MonitorsRunning.Dec()

	if err := e.Store.RefreshMonitor(ctx, mon); err != nil {
		return fmt.Errorf("refreshing monitor %q: %w", mon.Name, err)
	}
	mon.Running = false
	mon.Queued = false
	if err := e.Store.SaveMonitor(ctx, mon); err != nil {
		return fmt.Errorf("releasing monitor %q: %w", mon.Name, err)
	}
	return nil
}
