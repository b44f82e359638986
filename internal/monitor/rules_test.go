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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"

	"github.com/iLLeniumStudios/vigilant/internal/store"
)

func issueWithAge(age time.Duration, now time.Time) *store.Issue {
	return &store.Issue{Status: store.IssueStatusActive, CreatedAt: now.Add(-age)}
}

func issueWithData(data map[string]any) *store.Issue {
	return &store.Issue{Status: store.IssueStatusActive, Data: datatypes.JSONMap(data)}
}

func TestCountRule(t *testing.T) {
	now := time.Now()
	rule := CountRule{Levels: PriorityLevels{
		PriorityLow:      0,
		PriorityCritical: 3,
	}}

	tests := []struct {
		name   string
		issues int
		want   *Priority
	}{
		{name: "no issues triggers nothing", issues: 0, want: nil},
		{name: "one issue exceeds low", issues: 1, want: priorityPtr(PriorityLow)},
		{name: "three issues still low", issues: 3, want: priorityPtr(PriorityLow)},
		{name: "four issues exceed critical", issues: 4, want: priorityPtr(PriorityCritical)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			issues := make([]*store.Issue, tt.issues)
			for i := range issues {
				issues[i] = issueWithData(map[string]any{"id": i})
			}
			assert.Equal(t, tt.want, rule.Priority(issues, now))
		})
	}
}

func TestAgeRule(t *testing.T) {
	now := time.Now()
	rule := AgeRule{Levels: PriorityLevels{
		PriorityModerate: 60,
		PriorityCritical: 3600,
	}}

	// Oldest issue decides: one fresh and one old issue trigger critical
	issues := []*store.Issue{
		issueWithAge(10*time.Second, now),
		issueWithAge(2*time.Hour, now),
	}
	assert.Equal(t, priorityPtr(PriorityCritical), rule.Priority(issues, now))

	// Only the fresh issue: nothing triggers
	assert.Nil(t, rule.Priority([]*store.Issue{issueWithAge(10*time.Second, now)}, now))

	// Between the thresholds
	assert.Equal(t, priorityPtr(PriorityModerate),
		rule.Priority([]*store.Issue{issueWithAge(5*time.Minute, now)}, now))

	// No issues
	assert.Nil(t, rule.Priority(nil, now))
}

func TestValueRuleGreaterThan(t *testing.T) {
	now := time.Now()
	rule := ValueRule{
		ValueKey:  "error_rate",
		Operation: OperationGreaterThan,
		Levels: PriorityLevels{
			PriorityLow:      10,
			PriorityCritical: 75,
		},
	}

	assert.Equal(t, priorityPtr(PriorityCritical),
		rule.Priority([]*store.Issue{issueWithData(map[string]any{"id": "x", "error_rate": 80.0})}, now))

	assert.Equal(t, priorityPtr(PriorityLow),
		rule.Priority([]*store.Issue{issueWithData(map[string]any{"error_rate": 20.0})}, now))

	assert.Nil(t, rule.Priority([]*store.Issue{issueWithData(map[string]any{"error_rate": 5.0})}, now))

	// Missing or non-numeric values never trigger
	assert.Nil(t, rule.Priority([]*store.Issue{issueWithData(map[string]any{"other": 100.0})}, now))
	assert.Nil(t, rule.Priority([]*store.Issue{issueWithData(map[string]any{"error_rate": "high"})}, now))
}

func TestValueRuleLesserThan(t *testing.T) {
	now := time.Now()
	rule := ValueRule{
		ValueKey:  "free_space",
		Operation: OperationLesserThan,
		Levels: PriorityLevels{
			PriorityHigh:     10,
			PriorityModerate: 25,
		},
	}

	assert.Equal(t, priorityPtr(PriorityHigh),
		rule.Priority([]*store.Issue{issueWithData(map[string]any{"free_space": 5.0})}, now))
	assert.Equal(t, priorityPtr(PriorityModerate),
		rule.Priority([]*store.Issue{issueWithData(map[string]any{"free_space": 15.0})}, now))
	assert.Nil(t, rule.Priority([]*store.Issue{issueWithData(map[string]any{"free_space": 50.0})}, now))
}

func TestCalculatePriority(t *testing.T) {
	now := time.Now()

	// Nil rule substitutes low
	assert.Equal(t, PriorityLow, CalculatePriority(nil, nil, now))

	// No triggered level substitutes low
	rule := CountRule{Levels: PriorityLevels{PriorityCritical: 100}}
	assert.Equal(t, PriorityLow, CalculatePriority(rule, []*store.Issue{issueWithData(nil)}, now))

	// Triggered level wins
	rule = CountRule{Levels: PriorityLevels{PriorityCritical: 0}}
	assert.Equal(t, PriorityCritical, CalculatePriority(rule, []*store.Issue{issueWithData(nil)}, now))
}

func priorityPtr(p Priority) *Priority {
	return &p
}
