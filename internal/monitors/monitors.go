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

// Package monitors holds the built-in monitor modules. The loader registers
// them under the internal and sample paths at startup.
package monitors

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/iLLeniumStudios/vigilant/internal/monitor"
	"github.com/iLLeniumStudios/vigilant/internal/store"
	"github.com/iLLeniumStudios/vigilant/internal/timeutil"
)

// Builder names, also stored as monitor code
const (
	CodeFailedExecutions = "internal_monitors.failed_executions"
	CodeSamplePing       = "sample_monitors.ping"
)

// failedExecutionsWindow is how far back the failed-executions monitor looks
const failedExecutionsWindow = time.Hour

// Register adds the built-in module builders to the factory. Notifiers are
// attached to the alerting modules; the loader merges their reactions at load
// time.
func Register(factory *monitor.Factory, st store.Store, clock *timeutil.Clock, log logr.Logger, notifiers ...monitor.Notifier) error {
	builders := map[string]monitor.Builder{
		CodeFailedExecutions: failedExecutionsBuilder(st, clock, notifiers),
		CodeSamplePing:       samplePingBuilder(clock, log),
	}
	for code, builder := range builders {
		if err := factory.Register(code, builder); err != nil {
			return fmt.Errorf("registering builder %q: %w", code, err)
		}
	}
	return nil
}

// failedExecutionsBuilder watches the platform's own execution records: one
// issue per monitor that failed inside the window, solved when the failures
// age out
func failedExecutionsBuilder(st store.Store, clock *timeutil.Clock, notifiers []monitor.Notifier) monitor.Builder {
	countFailures := func(ctx context.Context) (map[uint]int, error) {
		since := clock.Now().Add(-failedExecutionsWindow)
		failed, err := st.ListFailedExecutionsSince(ctx, since)
		if err != nil {
			return nil, fmt.Errorf("listing failed executions: %w", err)
		}

		counts := make(map[uint]int)
		for _, execution := range failed {
			counts[execution.MonitorID]++
		}
		return counts, nil
	}

	return func() (*monitor.Module, error) {
		return &monitor.Module{
			Options: monitor.Options{
				SearchCron: "*/5 * * * *",
				UpdateCron: "*/5 * * * *",
			},
			IssueOptions: monitor.IssueOptions{
				ModelIDKey: "monitor_id",
				Solvable:   true,
			},
			AlertOptions: &monitor.AlertOptions{
				Rule: monitor.ValueRule{
					ValueKey:  "failed_count",
					Operation: monitor.OperationGreaterThan,
					Levels: monitor.PriorityLevels{
						monitor.PriorityLow:      0,
						monitor.PriorityHigh:     10,
						monitor.PriorityCritical: 50,
					},
				},
			},
			NotificationOptions: notifiers,
			Search: func(ctx context.Context) ([]monitor.IssueData, error) {
				counts, err := countFailures(ctx)
				if err != nil {
					return nil, err
				}

				results := make([]monitor.IssueData, 0, len(counts))
				for monitorID, count := range counts {
					results = append(results, monitor.IssueData{
						"monitor_id":   monitorID,
						"failed_count": count,
					})
				}
				return results, nil
			},
			Update: func(ctx context.Context, issuesData []monitor.IssueData) ([]monitor.IssueData, error) {
				counts, err := countFailures(ctx)
				if err != nil {
					return nil, err
				}

				results := make([]monitor.IssueData, 0, len(issuesData))
				for _, data := range issuesData {
					monitorID, ok := numericID(data["monitor_id"])
					if !ok {
						continue
					}
					results = append(results, monitor.IssueData{
						"monitor_id":   monitorID,
						"failed_count": counts[monitorID],
					})
				}
				return results, nil
			},
			IsSolved: func(data monitor.IssueData) bool {
				count, ok := numericID(data["failed_count"])
				return ok && count == 0
			},
		}, nil
	}
}

// samplePingBuilder is a minimal lifecycle demonstration: every search opens
// a ping issue, the next update acknowledges and solves it
func samplePingBuilder(clock *timeutil.Clock, log logr.Logger) monitor.Builder {
	return func() (*monitor.Module, error) {
		return &monitor.Module{
			Options: monitor.Options{
				SearchCron: "* * * * *",
				UpdateCron: "* * * * *",
			},
			IssueOptions: monitor.IssueOptions{
				ModelIDKey: "id",
				Solvable:   true,
			},
			Search: func(ctx context.Context) ([]monitor.IssueData, error) {
				now := clock.Now()
				return []monitor.IssueData{{
					"id":           fmt.Sprintf("ping-%d", now.Unix()/60),
					"sent_at":      timeutil.FormatISO(&now),
					"acknowledged": false,
				}}, nil
			},
			Update: func(ctx context.Context, issuesData []monitor.IssueData) ([]monitor.IssueData, error) {
				results := make([]monitor.IssueData, 0, len(issuesData))
				for _, data := range issuesData {
					updated := monitor.IssueData{}
					for k, v := range data {
						updated[k] = v
					}
					updated["acknowledged"] = true
					results = append(results, updated)
				}
				return results, nil
			},
			IsSolved: func(data monitor.IssueData) bool {
				acknowledged, ok := data["acknowledged"].(bool)
				return ok && acknowledged
			},
			Actions: map[string]monitor.ActionFunc{
				"ping": func(ctx context.Context, params map[string]any) error {
					log.Info("Pong", "params", params)
					return nil
				},
			},
		}, nil
	}
}

// numericID coerces a JSON-decoded number to uint
func numericID(v any) (uint, bool) {
	switch value := v.(type) {
	case float64:
		return uint(value), true
	case int:
		return uint(value), true
	case int64:
		return uint(value), true
	case uint:
		return value, true
	default:
		return 0, false
	}
}
