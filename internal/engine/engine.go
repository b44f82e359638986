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

// Package engine implements the per-monitor routines: update, solve, search
// and the alert routine, plus the issue and alert lifecycles they drive.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"gorm.io/datatypes"

	"github.com/iLLeniumStudios/vigilant/internal/events"
	"github.com/iLLeniumStudios/vigilant/internal/metrics"
	"github.com/iLLeniumStudios/vigilant/internal/monitor"
	"github.com/iLLeniumStudios/vigilant/internal/store"
	"github.com/iLLeniumStudios/vigilant/internal/timeutil"
)

// Task names in process_monitor messages
const (
	TaskSearch = "search"
	TaskUpdate = "update"
)

// Engine runs monitor routines against the store
type Engine struct {
	Log   logr.Logger
	Store store.Store
	Bus   *events.Bus
	Clock *timeutil.Clock

	// MaxIssuesCreation is the global cap applied when a module sets none
	MaxIssuesCreation int
}

// New creates a routine engine
func New(log logr.Logger, st store.Store, bus *events.Bus, clock *timeutil.Clock, maxIssuesCreation int) *Engine {
	return &Engine{
		Log:               log.WithName("engine"),
		Store:             st,
		Bus:               bus,
		Clock:             clock,
		MaxIssuesCreation: maxIssuesCreation,
	}
}

// Process runs the requested routines for one monitor. The caller holds the
// monitor's running flag; Process assumes exclusive access.
func (e *Engine) Process(ctx context.Context, mon *store.Monitor, module *monitor.Module, tasks []string) error {
	log := e.Log.WithValues("monitor", mon.Name, "monitorID", mon.ID)

	doSearch := containsTask(tasks, TaskSearch)
	doUpdate := containsTask(tasks, TaskUpdate)

	if doUpdate {
		if err := e.timedPhase(mon.Name, "update", func() error {
			return e.updateRoutine(ctx, mon, module, log)
		}); err != nil {
			return err
		}
	}

	// Resolution always runs so stale issues close even on search-only ticks
	if err := e.timedPhase(mon.Name, "solve", func() error {
		return e.solveRoutine(ctx, mon, module, log)
	}); err != nil {
		return err
	}

	if doSearch {
		if err := e.timedPhase(mon.Name, "search", func() error {
			return e.searchRoutine(ctx, mon, module, log)
		}); err != nil {
			return err
		}
	}

	if module.AlertOptions != nil {
		if err := e.timedPhase(mon.Name, "alert", func() error {
			return e.alertRoutine(ctx, mon, module, log)
		}); err != nil {
			return err
		}
	}

	return nil
}

func (e *Engine) timedPhase(monitorName, phase string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.ObservePhase(monitorName, phase, time.Since(start).Seconds())
	return err
}

func containsTask(tasks []string, task string) bool {
	for _, t := range tasks {
		if t == task {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Update routine
// ---------------------------------------------------------------------------

func (e *Engine) updateRoutine(ctx context.Context, mon *store.Monitor, module *monitor.Module, log logr.Logger) error {
	activeIssues, err := e.Store.ListActiveIssues(ctx, mon.ID)
	if err != nil {
		return fmt.Errorf("listing active issues: %w", err)
	}
	if len(activeIssues) == 0 {
		return e.markExecuted(ctx, mon, TaskUpdate)
	}

	issuesData := make([]monitor.IssueData, 0, len(activeIssues))
	for _, issue := range activeIssues {
		issuesData = append(issuesData, map[string]any(issue.Data))
	}

	results, err := module.Update(ctx, issuesData)
	if err != nil {
		return fmt.Errorf("update function: %w", err)
	}
	if results == nil {
		log.V(1).Info("Update returned no data")
		return e.markExecuted(ctx, mon, TaskUpdate)
	}

	byModelID := make(map[string]*store.Issue, len(activeIssues))
	for _, issue := range activeIssues {
		byModelID[issue.ModelID] = issue
	}

	type pendingUpdate struct {
		issue  *store.Issue
		data   map[string]any
		solved bool
	}
	var updates []pendingUpdate
	seen := make(map[string]bool)

	for _, result := range results {
		data := coerceJSON(result)

		modelID, ok := extractModelID(data, module.IssueOptions.ModelIDKey)
		if !ok {
			log.Info("Update result missing model id key, skipping",
				"modelIDKey", module.IssueOptions.ModelIDKey)
			continue
		}
		if seen[modelID] {
			continue
		}
		seen[modelID] = true

		issue, ok := byModelID[modelID]
		if !ok {
			log.Info("Update result matches no active issue, skipping", "modelID", modelID)
			continue
		}

		solved := module.IssueOptions.Solvable && module.IsSolved != nil && module.IsSolved(data)
		updates = append(updates, pendingUpdate{issue: issue, data: data, solved: solved})
	}

	if len(updates) > 0 {
		err = e.Store.WithSession(ctx, func(sess *store.Session) error {
			for _, u := range updates {
				if err := e.updateIssueData(sess, u.issue, u.data, u.solved); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("applying issue updates: %w", err)
		}
	}

	return e.markExecuted(ctx, mon, TaskUpdate)
}

// markExecuted refreshes the monitor and stamps the routine's executed-at
func (e *Engine) markExecuted(ctx context.Context, mon *store.Monitor, task string) error {
	if err := e.Store.RefreshMonitor(ctx, mon); err != nil {
		return fmt.Errorf("refreshing monitor: %w", err)
	}

	now := e.Clock.Now()
	switch task {
	case TaskSearch:
		mon.SearchExecutedAt = &now
	case TaskUpdate:
		mon.UpdateExecutedAt = &now
	}
	if err := e.Store.SaveMonitor(ctx, mon); err != nil {
		return fmt.Errorf("saving monitor: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Solve routine
// ---------------------------------------------------------------------------

func (e *Engine) solveRoutine(ctx context.Context, mon *store.Monitor, module *monitor.Module, log logr.Logger) error {
	if !module.IssueOptions.Solvable || module.IsSolved == nil {
		return nil
	}

	activeIssues, err := e.Store.ListActiveIssues(ctx, mon.ID)
	if err != nil {
		return fmt.Errorf("listing active issues: %w", err)
	}

	var solvable []*store.Issue
	for _, issue := range activeIssues {
		if module.IsSolved(map[string]any(issue.Data)) {
			solvable = append(solvable, issue)
		}
	}
	if len(solvable) == 0 {
		return nil
	}

	err = e.Store.WithSession(ctx, func(sess *store.Session) error {
		for _, issue := range solvable {
			if err := e.solveIssue(sess, issue); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("solving issues: %w", err)
	}

	log.Info("Issues solved", "count", len(solvable))
	return nil
}

// ---------------------------------------------------------------------------
// Search routine
// ---------------------------------------------------------------------------

func (e *Engine) searchRoutine(ctx context.Context, mon *store.Monitor, module *monitor.Module, log logr.Logger) error {
	results, err := module.Search(ctx)
	if err != nil {
		return fmt.Errorf("search function: %w", err)
	}
	if results == nil {
		log.V(1).Info("Search returned no data")
		return e.markExecuted(ctx, mon, TaskSearch)
	}

	activeIssues, err := e.Store.ListActiveIssues(ctx, mon.ID)
	if err != nil {
		return fmt.Errorf("listing active issues: %w", err)
	}
	activeModelIDs := make(map[string]bool, len(activeIssues))
	for _, issue := range activeIssues {
		activeModelIDs[issue.ModelID] = true
	}

	var candidates []*store.Issue
	seen := make(map[string]bool)

	for _, result := range results {
		data := coerceJSON(result)

		modelID, ok := extractModelID(data, module.IssueOptions.ModelIDKey)
		if !ok {
			log.Info("Search result missing model id key, skipping",
				"modelIDKey", module.IssueOptions.ModelIDKey)
			continue
		}
		if seen[modelID] || activeModelIDs[modelID] {
			continue
		}
		seen[modelID] = true

		if module.IssueOptions.Unique {
			count, err := e.Store.CountIssuesByModelID(ctx, mon.ID, modelID)
			if err != nil {
				return fmt.Errorf("checking unique issue %q: %w", modelID, err)
			}
			if count > 0 {
				continue
			}
		}

		if module.IssueOptions.Solvable && module.IsSolved != nil && module.IsSolved(data) {
			continue
		}

		candidates = append(candidates, &store.Issue{
			MonitorID: mon.ID,
			ModelID:   modelID,
			Status:    store.IssueStatusActive,
			Data:      datatypes.JSONMap(data),
		})
	}

	limit := module.Options.MaxIssuesCreation
	if limit <= 0 {
		limit = e.MaxIssuesCreation
	}
	if limit > 0 && len(candidates) > limit {
		log.Info("Issue creation limit reached, truncating",
			"limit", limit, "found", len(candidates))
		metrics.SearchIssuesLimitReached.WithLabelValues(mon.Name).Inc()
		candidates = candidates[:limit]
	}

	if len(candidates) > 0 {
		err = e.Store.WithSession(ctx, func(sess *store.Session) error {
			if err := sess.CreateIssues(candidates); err != nil {
				return err
			}
			for _, issue := range candidates {
				e.emitIssueEvent(sess, issue, events.IssueCreated, nil)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("creating issues: %w", err)
		}
		log.Info("Issues created", "count", len(candidates))
	}

	return e.markExecuted(ctx, mon, TaskSearch)
}

// ---------------------------------------------------------------------------
// Alert routine
// ---------------------------------------------------------------------------

func (e *Engine) alertRoutine(ctx context.Context, mon *store.Monitor, module *monitor.Module, log logr.Logger) error {
	options := module.AlertOptions

	activeIssues, err := e.Store.ListActiveIssues(ctx, mon.ID)
	if err != nil {
		return fmt.Errorf("listing active issues: %w", err)
	}

	var unlinked []*store.Issue
	for _, issue := range activeIssues {
		if issue.AlertID == nil {
			unlinked = append(unlinked, issue)
		}
	}

	if len(unlinked) > 0 {
		alert, err := e.Store.GetActiveUnlockedAlert(ctx, mon.ID)
		if err != nil {
			return fmt.Errorf("finding active alert: %w", err)
		}

		if alert == nil {
			priority := options.Rule.Priority(unlinked, e.Clock.Now())
			if priority != nil {
				// New alerts start at low; the update-priority pass below
				// raises them and emits the priority change event
				err = e.Store.WithSession(ctx, func(sess *store.Session) error {
					alert = &store.Alert{
						MonitorID: mon.ID,
						Status:    store.AlertStatusActive,
						Priority:  int(monitor.PriorityLow),
					}
					if err := sess.CreateAlert(alert); err != nil {
						return fmt.Errorf("creating alert: %w", err)
					}
					e.emitAlertEvent(sess, alert, events.AlertCreated, nil)
					return e.linkIssues(sess, alert, unlinked, options.DismissAcknowledgeOnNewIssues)
				})
				if err != nil {
					return err
				}
				log.Info("Alert created", "alertID", alert.ID, "priority", alert.Priority)
			}
		} else {
			err = e.Store.WithSession(ctx, func(sess *store.Session) error {
				return e.linkIssues(sess, alert, unlinked, options.DismissAcknowledgeOnNewIssues)
			})
			if err != nil {
				return err
			}
		}
	}

	activeAlerts, err := e.Store.ListActiveAlerts(ctx, mon.ID)
	if err != nil {
		return fmt.Errorf("listing active alerts: %w", err)
	}
	for _, alert := range activeAlerts {
		err = e.Store.WithSession(ctx, func(sess *store.Session) error {
			if err := e.updatePriority(sess, alert, options.Rule); err != nil {
				return err
			}
			return e.updateAlert(sess, alert)
		})
		if err != nil {
			return fmt.Errorf("updating alert %d: %w", alert.ID, err)
		}
	}

	return nil
}
