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

// Package timeutil provides the platform clock and cron trigger helpers. All
// scheduling decisions go through a Clock so the time zone is applied
// consistently and tests can pin the current instant.
package timeutil

import (
	"fmt"
	"math"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts standard 5-field cron expressions
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Clock provides the current time in a fixed zone
type Clock struct {
	location *time.Location
	nowFunc  func() time.Time
}

// NewClock creates a clock for the given IANA time zone name. An empty name
// selects UTC.
func NewClock(timeZone string) (*Clock, error) {
	if timeZone == "" {
		timeZone = "UTC"
	}
	loc, err := time.LoadLocation(timeZone)
	if err != nil {
		return nil, fmt.Errorf("loading time zone %q: %w", timeZone, err)
	}
	return &Clock{location: loc, nowFunc: time.Now}, nil
}

// NewFixedClock creates a clock pinned at the given instant, for tests
func NewFixedClock(at time.Time) *Clock {
	return &Clock{
		location: at.Location(),
		nowFunc:  func() time.Time { return at },
	}
}

// Now returns the current instant in the configured zone
func (c *Clock) Now() time.Time {
	return c.nowFunc().In(c.location)
}

// ParseCron validates a 5-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	schedule, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("parsing cron expression %q: %w", expr, err)
	}
	return schedule, nil
}

// IsTriggered reports whether the cron expression fired between lastTrigger
// (exclusive) and ref (inclusive). Equivalently: the most recent firing at or
// before ref is strictly after lastTrigger.
func (c *Clock) IsTriggered(expr string, lastTrigger time.Time, ref ...time.Time) (bool, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return false, err
	}

	reference := c.Now()
	if len(ref) > 0 {
		reference = ref[0]
	}

	next := schedule.Next(lastTrigger.In(c.location))
	return !next.After(reference), nil
}

// TimeUntilNext returns the duration until the next cron firing, rounded up
// to whole seconds
func (c *Clock) TimeUntilNext(expr string, ref ...time.Time) (time.Duration, error) {
	schedule, err := ParseCron(expr)
	if err != nil {
		return 0, err
	}

	reference := c.Now()
	if len(ref) > 0 {
		reference = ref[0]
	}

	next := schedule.Next(reference)
	seconds := math.Ceil(next.Sub(reference).Seconds())
	return time.Duration(seconds) * time.Second, nil
}

// TimeSince returns the seconds elapsed since the given timestamp, or -1 when
// the timestamp is nil
func (c *Clock) TimeSince(t *time.Time, ref ...time.Time) float64 {
	if t == nil {
		return -1
	}

	reference := c.Now()
	if len(ref) > 0 {
		reference = ref[0]
	}

	return reference.Sub(*t).Seconds()
}

// FormatISO formats a timestamp with millisecond precision, returning an
// empty string for nil
func FormatISO(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02T15:04:05.000Z07:00")
}
