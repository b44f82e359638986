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

package timeutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClock(t *testing.T) {
	tests := []struct {
		name     string
		timeZone string
		wantErr  bool
	}{
		{name: "utc", timeZone: "UTC"},
		{name: "empty defaults to utc", timeZone: ""},
		{name: "named zone", timeZone: "America/Sao_Paulo"},
		{name: "invalid zone", timeZone: "Not/AZone", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock, err := NewClock(tt.timeZone)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, clock)
		})
	}
}

func TestIsTriggered(t *testing.T) {
	ref := time.Date(2025, 6, 15, 12, 30, 30, 0, time.UTC)
	clock := NewFixedClock(ref)

	tests := []struct {
		name        string
		expr        string
		lastTrigger time.Time
		want        bool
	}{
		{
			name:        "fired since last trigger",
			expr:        "* * * * *",
			lastTrigger: ref.Add(-2 * time.Minute),
			want:        true,
		},
		{
			name:        "not fired yet",
			expr:        "0 0 * * *",
			lastTrigger: time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC),
			want:        false,
		},
		{
			name:        "fires exactly at reference",
			expr:        "30 12 * * *",
			lastTrigger: ref.Add(-24 * time.Hour),
			want:        true,
		},
		{
			name:        "last trigger after most recent firing",
			expr:        "*/5 * * * *",
			lastTrigger: time.Date(2025, 6, 15, 12, 30, 0, 0, time.UTC),
			want:        false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := clock.IsTriggered(tt.expr, tt.lastTrigger)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsTriggered_InvalidExpression(t *testing.T) {
	clock := NewFixedClock(time.Now())
	_, err := clock.IsTriggered("not a cron", time.Now())
	assert.Error(t, err)
}

func TestTimeUntilNext(t *testing.T) {
	ref := time.Date(2025, 6, 15, 12, 30, 30, 0, time.UTC)
	clock := NewFixedClock(ref)

	// Next */5 firing is at 12:35:00, 270 seconds away
	d, err := clock.TimeUntilNext("*/5 * * * *")
	require.NoError(t, err)
	assert.Equal(t, 270*time.Second, d)

	// Next every-minute firing is at 12:31:00
	d, err = clock.TimeUntilNext("* * * * *")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, d)
}

func TestTimeSince(t *testing.T) {
	ref := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	clock := NewFixedClock(ref)

	past := ref.Add(-90 * time.Second)
	assert.Equal(t, 90.0, clock.TimeSince(&past))

	assert.Equal(t, -1.0, clock.TimeSince(nil))
}

func TestFormatISO(t *testing.T) {
	at := time.Date(2025, 6, 15, 12, 0, 0, 123000000, time.UTC)
	assert.Equal(t, "2025-06-15T12:00:00.123Z", FormatISO(&at))
	assert.Equal(t, "", FormatISO(nil))
}
