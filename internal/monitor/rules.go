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
	"time"

	"github.com/iLLeniumStudios/vigilant/internal/store"
)

// Priority is an alert severity level. Lower values are more severe.
type Priority int

const (
	PriorityCritical      Priority = 1
	PriorityHigh          Priority = 2
	PriorityModerate      Priority = 3
	PriorityLow           Priority = 4
	PriorityInformational Priority = 5
)

// severityOrder walks priorities from most to least severe
var severityOrder = []Priority{
	PriorityCritical,
	PriorityHigh,
	PriorityModerate,
	PriorityLow,
	PriorityInformational,
}

// PriorityLevels maps a priority to its numeric threshold. Absent priorities
// are skipped during evaluation.
type PriorityLevels map[Priority]float64

// Value rule operations
const (
	OperationGreaterThan = "greater_than"
	OperationLesserThan  = "lesser_than"
)

// Rule computes an alert priority from a set of active issues. A nil result
// means no level triggered.
type Rule interface {
	Priority(issues []*store.Issue, now time.Time) *Priority
}

// AgeRule triggers the highest severity whose threshold is exceeded by the
// age in seconds of the oldest issue
type AgeRule struct {
	Levels PriorityLevels
}

// Priority implements Rule
func (r AgeRule) Priority(issues []*store.Issue, now time.Time) *Priority {
	if len(issues) == 0 {
		return nil
	}

	maxAge := 0.0
	for _, issue := range issues {
		if age := issue.Age(now); age > maxAge {
			maxAge = age
		}
	}

	return firstTriggered(r.Levels, func(threshold float64) bool {
		return maxAge > threshold
	})
}

// CountRule triggers the highest severity whose threshold is exceeded by the
// number of issues
type CountRule struct {
	Levels PriorityLevels
}

// Priority implements Rule
func (r CountRule) Priority(issues []*store.Issue, now time.Time) *Priority {
	count := float64(len(issues))
	return firstTriggered(r.Levels, func(threshold float64) bool {
		return count > threshold
	})
}

// ValueRule triggers the highest severity for which any issue's data value
// satisfies the comparison against the threshold
type ValueRule struct {
	ValueKey  string
	Operation string
	Levels    PriorityLevels
}

// Priority implements Rule
func (r ValueRule) Priority(issues []*store.Issue, now time.Time) *Priority {
	return firstTriggered(r.Levels, func(threshold float64) bool {
		for _, issue := range issues {
			value, ok := numericValue(issue.Data[r.ValueKey])
			if !ok {
				continue
			}
			switch r.Operation {
			case OperationGreaterThan:
				if value > threshold {
					return true
				}
			case OperationLesserThan:
				if value < threshold {
					return true
				}
			}
		}
		return false
	})
}

// firstTriggered walks severities from most to least severe, returning the
// first whose threshold test passes
func firstTriggered(levels PriorityLevels, triggered func(threshold float64) bool) *Priority {
	for _, priority := range severityOrder {
		threshold, ok := levels[priority]
		if !ok {
			continue
		}
		if triggered(threshold) {
			p := priority
			return &p
		}
	}
	return nil
}

// numericValue coerces a JSON-decoded value to float64
func numericValue(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case uint:
		return float64(value), true
	default:
		return 0, false
	}
}

// CalculatePriority evaluates the rule over the issues, substituting low when
// the rule is nil or no level triggered
func CalculatePriority(rule Rule, issues []*store.Issue, now time.Time) Priority {
	if rule == nil {
		return PriorityLow
	}
	if p := rule.Priority(issues, now); p != nil {
		return *p
	}
	return PriorityLow
}
