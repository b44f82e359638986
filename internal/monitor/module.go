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

// Package monitor defines the module contract every monitor implements:
// options, issue and alert configuration, the search/update/is_solved
// callables, and the priority rules used by the alert routine.
package monitor

import (
	"context"
	"time"

	"github.com/iLLeniumStudios/vigilant/internal/events"
)

// IssueData is the JSON-compatible record a monitor produces per finding
type IssueData = map[string]any

// SearchFunc looks for new findings
type SearchFunc func(ctx context.Context) ([]IssueData, error)

// UpdateFunc refreshes the data of the given active findings
type UpdateFunc func(ctx context.Context, issuesData []IssueData) ([]IssueData, error)

// IsSolvedFunc reports whether a finding is resolved
type IsSolvedFunc func(issueData IssueData) bool

// ReactionFunc handles an event the monitor registered for
type ReactionFunc func(ctx context.Context, event events.Payload) error

// ActionFunc handles an operator-requested plugin action
type ActionFunc func(ctx context.Context, params map[string]any) error

// Reaction is a named reaction callback. The name identifies the callback in
// logs when it fails or times out.
type Reaction struct {
	Name string
	Fn   ReactionFunc
}

// Notifier contributes reactions that maintain notification records for a
// monitor's alerts
type Notifier interface {
	// Name identifies the notifier target
	Name() string

	// Reactions returns the event reactions the notifier needs. They are
	// merged into the module's reaction options at configure time.
	Reactions() map[string][]Reaction
}

// Options controls when and how a monitor executes
type Options struct {
	// SearchCron schedules the search routine; empty disables it
	SearchCron string

	// UpdateCron schedules the update routine; empty disables it
	UpdateCron string

	// MaxIssuesCreation caps new issues per search; 0 uses the global policy
	MaxIssuesCreation int

	// ExecutionTimeout bounds a whole execution; 0 uses the global default
	ExecutionTimeout time.Duration
}

// IssueOptions controls issue identity and resolution
type IssueOptions struct {
	// ModelIDKey is the data key holding the stable external identity
	ModelIDKey string

	// Solvable monitors resolve issues via IsSolved; non-solvable issues
	// are closed only through their alert
	Solvable bool

	// Unique forbids a second issue for a model id that ever had one
	Unique bool
}

// AlertOptions enables the alert routine for a monitor
type AlertOptions struct {
	// Rule computes the alert priority from the active issues
	Rule Rule

	// DismissAcknowledgeOnNewIssues drops an acknowledgement when new
	// issues link to the alert
	DismissAcknowledgeOnNewIssues bool
}

// Module bundles everything a monitor defines
type Module struct {
	Options             Options
	IssueOptions        IssueOptions
	AlertOptions        *AlertOptions
	ReactionOptions     map[string][]Reaction
	NotificationOptions []Notifier
	Actions             map[string]ActionFunc
	Search              SearchFunc
	Update              UpdateFunc
	IsSolved            IsSolvedFunc
}

// HasReactions reports whether the module registered reactions for the event
func (m *Module) HasReactions(eventName string) bool {
	return len(m.ReactionOptions[eventName]) > 0
}
