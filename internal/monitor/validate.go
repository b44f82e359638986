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

package monitor

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/iLLeniumStudios/vigilant/internal/events"
	"github.com/iLLeniumStudios/vigilant/internal/timeutil"
)

// ValidationError reports the violations found in a monitor module
type ValidationError struct {
	MonitorName string
	Violations  []string
}

func (e *ValidationError) Error() string {
	result := &multierror.Error{}
	for _, violation := range e.Violations {
		result = multierror.Append(result, fmt.Errorf("%s", violation))
	}
	return fmt.Sprintf("monitor %q validation failed: %s", e.MonitorName, result.Error())
}

// Validate returns the list of contract violations in the module. An empty
// list means the module is loadable.
func Validate(m *Module) []string {
	var violations []string

	if m.Search == nil {
		violations = append(violations, "search function is required")
	}
	if m.Update == nil {
		violations = append(violations, "update function is required")
	}

	if m.Options.SearchCron != "" {
		if _, err := timeutil.ParseCron(m.Options.SearchCron); err != nil {
			violations = append(violations, fmt.Sprintf("search_cron is not a valid cron expression: %q", m.Options.SearchCron))
		}
	}
	if m.Options.UpdateCron != "" {
		if _, err := timeutil.ParseCron(m.Options.UpdateCron); err != nil {
			violations = append(violations, fmt.Sprintf("update_cron is not a valid cron expression: %q", m.Options.UpdateCron))
		}
	}
	if m.Options.SearchCron == "" && m.Options.UpdateCron == "" {
		violations = append(violations, "at least one of search_cron or update_cron must be set")
	}
	if m.Options.MaxIssuesCreation < 0 {
		violations = append(violations, "max_issues_creation must not be negative")
	}
	if m.Options.ExecutionTimeout < 0 {
		violations = append(violations, "execution_timeout must not be negative")
	}

	if m.IssueOptions.ModelIDKey == "" {
		violations = append(violations, "issue_options.model_id_key is required")
	}
	if m.IssueOptions.Solvable && m.IsSolved == nil {
		violations = append(violations, "is_solved function is required when issues are solvable")
	}

	if m.AlertOptions != nil && m.AlertOptions.Rule == nil {
		violations = append(violations, "alert_options.rule is required when alert_options is set")
	}

	for actionName, action := range m.Actions {
		if actionName == "" {
			violations = append(violations, "actions must not have an empty name")
		}
		if action == nil {
			violations = append(violations, fmt.Sprintf("action %q has no callback", actionName))
		}
	}

	for eventName, reactions := range m.ReactionOptions {
		if !events.IsKnownEvent(eventName) {
			violations = append(violations, fmt.Sprintf("reaction_options references unknown event %q", eventName))
		}
		for i, reaction := range reactions {
			if reaction.Fn == nil {
				violations = append(violations, fmt.Sprintf("reaction %d for event %q has no callback", i, eventName))
			}
		}
	}

	return violations
}
