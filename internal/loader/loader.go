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

// Package loader registers monitors and materializes their modules into the
// registry. Loading runs on a schedule and on demand when a consumer requests
// an early load.
package loader

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/iLLeniumStudios/vigilant/internal/config"
	"github.com/iLLeniumStudios/vigilant/internal/monitor"
	"github.com/iLLeniumStudios/vigilant/internal/registry"
	"github.com/iLLeniumStudios/vigilant/internal/store"
	"github.com/iLLeniumStudios/vigilant/internal/timeutil"
)

const (
	// coolDown is the minimum gap between two loads
	coolDown = 2 * time.Second

	// earlyLoad is the settle time before a requested load runs, so bursts
	// of registrations coalesce into one pass
	earlyLoad = 2 * time.Second

	// reloadMargin widens the delta window to absorb clock skew between the
	// process and the database
	reloadMargin = 15 * time.Second
)

// Loader owns monitor registration and the load loop. It is the registry's
// only writer.
type Loader struct {
	Log      logr.Logger
	Store    store.Store
	Registry *registry.Registry
	Factory  *monitor.Factory
	Clock    *timeutil.Clock
	Config   config.MonitorsConfig

	mu       sync.Mutex
	lastLoad time.Time
}

// New creates a loader
func New(log logr.Logger, st store.Store, reg *registry.Registry, factory *monitor.Factory, clock *timeutil.Clock, cfg config.MonitorsConfig) *Loader {
	return &Loader{
		Log:      log.WithName("loader"),
		Store:    st,
		Registry: reg,
		Factory:  factory,
		Clock:    clock,
		Config:   cfg,
	}
}

// RegisterMonitor validates the module behind code and upserts the monitor
// and its code module. Monitor state (enabled, executed-at stamps) is
// preserved across re-registrations.
func (l *Loader) RegisterMonitor(ctx context.Context, name, code string, additionalFiles map[string]any) (*store.Monitor, error) {
	module, err := l.Factory.Build(code)
	if err != nil {
		return nil, fmt.Errorf("registering monitor %q: %w", name, err)
	}
	if violations := monitor.Validate(module); len(violations) > 0 {
		return nil, &monitor.ValidationError{MonitorName: name, Violations: violations}
	}

	mon, err := l.Store.GetMonitorByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("looking up monitor %q: %w", name, err)
	}
	if mon == nil {
		mon = &store.Monitor{Name: name, Enabled: true}
		if err := l.Store.CreateMonitor(ctx, mon); err != nil {
			return nil, fmt.Errorf("creating monitor %q: %w", name, err)
		}
		l.Log.Info("Monitor created", "monitor", name, "monitorID", mon.ID)
	}

	if err := l.Store.UpsertCodeModule(ctx, mon.ID, code, additionalFiles, l.Clock.Now()); err != nil {
		return nil, fmt.Errorf("storing code module of %q: %w", name, err)
	}

	l.Log.Info("Monitor registered", "monitor", name, "code", code)
	return mon, nil
}

// RegisterBuiltins registers every factory builder under the internal path,
// plus the sample path when sample loading is on. The monitor name is the
// builder name's last path segment.
func (l *Loader) RegisterBuiltins(ctx context.Context) error {
	prefixes := []string{l.Config.InternalPath + "."}
	if l.Config.LoadSamples {
		prefixes = append(prefixes, l.Config.SamplePath+".")
	}

	for _, code := range l.Factory.Names() {
		matched := false
		for _, prefix := range prefixes {
			if strings.HasPrefix(code, prefix) {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}

		segments := strings.Split(code, ".")
		name := segments[len(segments)-1]
		if _, err := l.RegisterMonitor(ctx, name, code, nil); err != nil {
			return err
		}
	}
	return nil
}

// Load runs one load pass: disable monitors that lost their code module,
// materialize changed or missing modules, and publish them to the registry.
// Concurrent calls serialize; a call inside the cool-down window is a no-op.
func (l *Loader) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.Clock.Now()
	if !l.lastLoad.IsZero() && now.Sub(l.lastLoad) < coolDown {
		l.Log.V(1).Info("Load skipped, inside cool-down window")
		return nil
	}

	// Hold consumers back while modules swap
	l.Registry.ClearReady()

	if err := l.disableOrphans(ctx); err != nil {
		return err
	}

	candidates, err := l.candidateIDs(ctx)
	if err != nil {
		return err
	}

	loaded := 0
	for id := range candidates {
		ok, err := l.loadMonitor(ctx, id)
		if err != nil {
			// A broken module must not block the other monitors
			l.Log.Error(err, "Failed to load monitor", "monitorID", id)
			continue
		}
		if ok {
			loaded++
		}
	}

	l.evictDisabled(ctx)

	l.lastLoad = now
	l.Registry.ClearPending()
	l.Registry.SetReady()

	if loaded > 0 {
		l.Log.Info("Monitors loaded", "count", loaded)
	}
	return nil
}

// disableOrphans disables enabled monitors that have no code module
func (l *Loader) disableOrphans(ctx context.Context) error {
	orphans, err := l.Store.ListEnabledMonitorsWithoutCodeModule(ctx)
	if err != nil {
		return fmt.Errorf("listing monitors without code module: %w", err)
	}
	for _, mon := range orphans {
		if err := l.Store.SetMonitorEnabled(ctx, mon.ID, false); err != nil {
			return fmt.Errorf("disabling monitor %q: %w", mon.Name, err)
		}
		l.Registry.Remove(mon.ID)
		l.Log.Info("Monitor disabled, no code module", "monitor", mon.Name, "monitorID", mon.ID)
	}
	return nil
}

// candidateIDs returns the monitor ids needing a (re)load: code modules
// registered since the last load minus a margin, plus enabled monitors absent
// from the registry. The first load takes every enabled monitor.
func (l *Loader) candidateIDs(ctx context.Context) (map[uint]struct{}, error) {
	candidates := make(map[uint]struct{})

	if l.lastLoad.IsZero() {
		monitors, err := l.Store.ListEnabledMonitors(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing enabled monitors: %w", err)
		}
		for _, mon := range monitors {
			candidates[mon.ID] = struct{}{}
		}
		return candidates, nil
	}

	changed, err := l.Store.ListCodeModulesRegisteredSince(ctx, l.lastLoad.Add(-reloadMargin))
	if err != nil {
		return nil, fmt.Errorf("listing changed code modules: %w", err)
	}
	for _, module := range changed {
		candidates[module.MonitorID] = struct{}{}
	}

	monitors, err := l.Store.ListEnabledMonitors(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing enabled monitors: %w", err)
	}
	for _, mon := range monitors {
		if !l.Registry.IsRegistered(mon.ID) {
			candidates[mon.ID] = struct{}{}
		}
	}
	return candidates, nil
}

// loadMonitor materializes one monitor's module and publishes it
func (l *Loader) loadMonitor(ctx context.Context, id uint) (bool, error) {
	mon, err := l.Store.GetMonitorByID(ctx, id)
	if err != nil {
		return false, fmt.Errorf("fetching monitor %d: %w", id, err)
	}
	if mon == nil || !mon.Enabled {
		l.Registry.Remove(id)
		return false, nil
	}

	codeModule, err := l.Store.GetCodeModule(ctx, id)
	if err != nil {
		return false, fmt.Errorf("fetching code module of %q: %w", mon.Name, err)
	}
	if codeModule == nil {
		return false, nil
	}

	module, err := l.Factory.Build(codeModule.Code)
	if err != nil {
		return false, fmt.Errorf("building module of %q: %w", mon.Name, err)
	}
	if violations := monitor.Validate(module); len(violations) > 0 {
		return false, &monitor.ValidationError{MonitorName: mon.Name, Violations: violations}
	}

	l.configureModule(module)
	l.Registry.Add(mon.ID, mon.Name, module)
	return true, nil
}

// configureModule applies global defaults and merges notifier reactions into
// the module's reaction options
func (l *Loader) configureModule(module *monitor.Module) {
	if module.Options.MaxIssuesCreation <= 0 {
		module.Options.MaxIssuesCreation = l.Config.MaxIssuesCreation
	}

	if len(module.NotificationOptions) == 0 {
		return
	}
	if module.ReactionOptions == nil {
		module.ReactionOptions = make(map[string][]monitor.Reaction)
	}
	for _, notifier := range module.NotificationOptions {
		for event, reactions := range notifier.Reactions() {
			module.ReactionOptions[event] = append(module.ReactionOptions[event], reactions...)
		}
	}
}

// evictDisabled removes registry entries whose monitor is gone or disabled
func (l *Loader) evictDisabled(ctx context.Context) {
	for _, id := range l.Registry.IDs() {
		mon, err := l.Store.GetMonitorByID(ctx, id)
		if err != nil {
			l.Log.Error(err, "Failed to check registered monitor", "monitorID", id)
			continue
		}
		if mon == nil || !mon.Enabled {
			l.Registry.Remove(id)
		}
	}
}

// Run executes the load loop until the context is cancelled. Loads fire on
// the configured schedule and, after a short settle time, whenever a consumer
// requests one.
func (l *Loader) Run(ctx context.Context) error {
	l.Log.Info("Loader started", "schedule", l.Config.LoadSchedule)

	if err := l.Load(ctx); err != nil {
		l.Log.Error(err, "Initial load failed")
	}

	for {
		wait, err := l.Clock.TimeUntilNext(l.Config.LoadSchedule)
		if err != nil {
			return fmt.Errorf("invalid load schedule %q: %w", l.Config.LoadSchedule, err)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			l.Log.Info("Loader stopped")
			return ctx.Err()

		case <-l.Registry.PendingChan():
			timer.Stop()
			// Let registrations in flight settle before loading
			settle := time.NewTimer(earlyLoad)
			select {
			case <-ctx.Done():
				settle.Stop()
				return ctx.Err()
			case <-settle.C:
			}

		case <-timer.C:
		}

		if err := l.Load(ctx); err != nil {
			l.Log.Error(err, "Load failed")
		}
	}
}
