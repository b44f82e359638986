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
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iLLeniumStudios/vigilant/internal/events"
)

func validModule() *Module {
	return &Module{
		Options: Options{
			SearchCron: "*/5 * * * *",
		},
		IssueOptions: IssueOptions{
			ModelIDKey: "id",
			Solvable:   true,
		},
		Search: func(ctx context.Context) ([]IssueData, error) {
			return nil, nil
		},
		Update: func(ctx context.Context, issuesData []IssueData) ([]IssueData, error) {
			return issuesData, nil
		},
		IsSolved: func(issueData IssueData) bool {
			return false
		},
	}
}

func TestValidateAcceptsValidModule(t *testing.T) {
	assert.Empty(t, Validate(validModule()))
}

func TestValidateViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *Module)
		want   string
	}{
		{
			name:   "missing search",
			mutate: func(m *Module) { m.Search = nil },
			want:   "search function is required",
		},
		{
			name:   "missing update",
			mutate: func(m *Module) { m.Update = nil },
			want:   "update function is required",
		},
		{
			name:   "invalid search cron",
			mutate: func(m *Module) { m.Options.SearchCron = "bogus" },
			want:   "search_cron is not a valid cron expression",
		},
		{
			name:   "invalid update cron",
			mutate: func(m *Module) { m.Options.UpdateCron = "* * *" },
			want:   "update_cron is not a valid cron expression",
		},
		{
			name: "no cron at all",
			mutate: func(m *Module) {
				m.Options.SearchCron = ""
				m.Options.UpdateCron = ""
			},
			want: "at least one of search_cron or update_cron",
		},
		{
			name:   "missing model id key",
			mutate: func(m *Module) { m.IssueOptions.ModelIDKey = "" },
			want:   "model_id_key is required",
		},
		{
			name:   "solvable without is_solved",
			mutate: func(m *Module) { m.IsSolved = nil },
			want:   "is_solved function is required",
		},
		{
			name:   "alert options without rule",
			mutate: func(m *Module) { m.AlertOptions = &AlertOptions{} },
			want:   "alert_options.rule is required",
		},
		{
			name: "unknown reaction event",
			mutate: func(m *Module) {
				m.ReactionOptions = map[string][]Reaction{
					"not_an_event": {{Name: "x", Fn: func(ctx context.Context, e events.Payload) error { return nil }}},
				}
			},
			want: "unknown event",
		},
		{
			name: "reaction without callback",
			mutate: func(m *Module) {
				m.ReactionOptions = map[string][]Reaction{
					events.AlertCreated: {{Name: "x"}},
				}
			},
			want: "has no callback",
		},
		{
			name:   "negative max issues creation",
			mutate: func(m *Module) { m.Options.MaxIssuesCreation = -1 },
			want:   "max_issues_creation must not be negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := validModule()
			tt.mutate(m)
			violations := Validate(m)
			require.NotEmpty(t, violations)

			found := false
			for _, violation := range violations {
				if strings.Contains(violation, tt.want) {
					found = true
				}
			}
			assert.True(t, found, "expected a violation containing %q, got %v", tt.want, violations)
		})
	}
}

func TestFactory(t *testing.T) {
	factory := NewFactory()

	require.NoError(t, factory.Register("orders_failed", func() (*Module, error) {
		return validModule(), nil
	}))

	assert.True(t, factory.Has("orders_failed"))
	assert.False(t, factory.Has("missing"))
	assert.Contains(t, factory.Names(), "orders_failed")

	module, err := factory.Build("orders_failed")
	require.NoError(t, err)
	assert.NotNil(t, module.Search)

	_, err = factory.Build("missing")
	assert.Error(t, err)

	// Double registration is rejected
	err = factory.Register("orders_failed", func() (*Module, error) { return validModule(), nil })
	assert.Error(t, err)
}
