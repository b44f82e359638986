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

// Package registry keeps the process-wide map of loaded monitor modules. The
// loader is the only writer; the controller and executor read it and wait on
// its ready/pending events.
package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/iLLeniumStudios/vigilant/internal/metrics"
	"github.com/iLLeniumStudios/vigilant/internal/monitor"
)

// MonitorsLoadError signals that the registry did not become ready in time.
// Consumers treat it as transient and retry on their next cycle.
type MonitorsLoadError struct {
	Timeout time.Duration
}

func (e *MonitorsLoadError) Error() string {
	return fmt.Sprintf("monitors not loaded after %s", e.Timeout)
}

// Entry pairs a monitor's name with its loaded module
type Entry struct {
	Name   string
	Module *monitor.Module
}

// Registry is the in-memory map monitor_id -> module with two edge-triggered
// events: ready (a load completed) and pending (a load was requested).
type Registry struct {
	Log logr.Logger

	mu       sync.RWMutex
	monitors map[uint]Entry
	readyCh  chan struct{}
	pending  chan struct{}
}

// New creates an empty registry in the not-ready state
func New(log logr.Logger) *Registry {
	return &Registry{
		Log:      log.WithName("registry"),
		monitors: make(map[uint]Entry),
		readyCh:  make(chan struct{}),
		pending:  make(chan struct{}),
	}
}

// Add publishes a monitor module
func (r *Registry) Add(id uint, name string, module *monitor.Module) {
	r.mu.Lock()
	r.monitors[id] = Entry{Name: name, Module: module}
	count := len(r.monitors)
	r.mu.Unlock()

	metrics.MonitorsRegistered.Set(float64(count))
	r.Log.V(1).Info("Monitor registered", "monitorID", id, "name", name)
}

// Remove drops a monitor from the registry
func (r *Registry) Remove(id uint) {
	r.mu.Lock()
	delete(r.monitors, id)
	count := len(r.monitors)
	r.mu.Unlock()

	metrics.MonitorsRegistered.Set(float64(count))
}

// GetModule returns the module of a registered monitor
func (r *Registry) GetModule(id uint) (*monitor.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.monitors[id]
	if !ok {
		return nil, false
	}
	return entry.Module, true
}

// GetEntry returns the registry entry of a monitor
func (r *Registry) GetEntry(id uint) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.monitors[id]
	return entry, ok
}

// IsRegistered reports whether a monitor is loaded
func (r *Registry) IsRegistered(id uint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.monitors[id]
	return ok
}

// IDs returns the ids of all registered monitors
func (r *Registry) IDs() []uint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]uint, 0, len(r.monitors))
	for id := range r.monitors {
		ids = append(ids, id)
	}
	return ids
}

// HasReactions implements the reactions bus lookup
func (r *Registry) HasReactions(monitorID uint, eventName string) bool {
	module, ok := r.GetModule(monitorID)
	if !ok {
		return false
	}
	return module.HasReactions(eventName)
}

// SetReady marks a completed load. Waiters blocked in WaitReady resume.
func (r *Registry) SetReady() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.readyCh:
		// already ready
	default:
		close(r.readyCh)
	}
}

// IsReady reports whether a load has completed
func (r *Registry) IsReady() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	select {
	case <-r.readyCh:
		return true
	default:
		return false
	}
}

// ClearReady marks a load in progress
func (r *Registry) ClearReady() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.readyCh:
		r.readyCh = make(chan struct{})
	default:
		// already cleared
	}
}

// RequestLoad sets the pending event, asking the loader for an early reload
func (r *Registry) RequestLoad() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.pending:
		// already pending
	default:
		close(r.pending)
	}
}

// PendingChan returns a channel closed while a load request is pending
func (r *Registry) PendingChan() <-chan struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pending
}

// ClearPending resets the pending event after a load
func (r *Registry) ClearPending() {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.pending:
		r.pending = make(chan struct{})
	default:
		// not pending
	}
}

// WaitReady blocks until a load completed, failing with MonitorsLoadError
// after the timeout
func (r *Registry) WaitReady(ctx context.Context, timeout time.Duration) error {
	r.mu.RLock()
	ch := r.readyCh
	r.mu.RUnlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return &MonitorsLoadError{Timeout: timeout}
	}
}

// WaitMonitorLoaded blocks until the monitor is registered, requesting an
// early load when it is not. Fails with MonitorsLoadError on timeout.
func (r *Registry) WaitMonitorLoaded(ctx context.Context, id uint, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	if err := r.WaitReady(ctx, timeout); err != nil {
		return err
	}
	if r.IsRegistered(id) {
		return nil
	}

	r.RequestLoad()
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return &MonitorsLoadError{Timeout: timeout}
		}

		wait := 100 * time.Millisecond
		if wait > remaining {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if r.IsRegistered(id) {
			return nil
		}
	}
}
