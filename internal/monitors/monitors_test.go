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

package monitors

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/suite"

	"github.com/iLLeniumStudios/vigilant/internal/monitor"
	"github.com/iLLeniumStudios/vigilant/internal/store"
	"github.com/iLLeniumStudios/vigilant/internal/timeutil"
)

type MonitorsTestSuite struct {
	suite.Suite
	store   *store.GormStore
	factory *monitor.Factory
	clock   *timeutil.Clock
	ctx     context.Context
}

func (s *MonitorsTestSuite) SetupTest() {
	st, err := store.NewGormStore("sqlite", "file::memory:?cache=shared")
	s.Require().NoError(err)
	s.Require().NoError(st.Init())
	s.store = st
	s.ctx = context.Background()

	s.clock, err = timeutil.NewClock("UTC")
	s.Require().NoError(err)

	s.factory = monitor.NewFactory()
	s.Require().NoError(Register(s.factory, st, s.clock, logr.Discard()))
}

func (s *MonitorsTestSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func TestMonitorsTestSuite(t *testing.T) {
	suite.Run(t, new(MonitorsTestSuite))
}

func (s *MonitorsTestSuite) build(code string) *monitor.Module {
	module, err := s.factory.Build(code)
	s.Require().NoError(err)
	return module
}

func (s *MonitorsTestSuite) recordExecution(monitorID uint, status string, startedAt time.Time) {
	s.Require().NoError(s.store.CreateMonitorExecution(s.ctx, &store.MonitorExecution{
		MonitorID:  monitorID,
		Status:     status,
		StartedAt:  startedAt,
		FinishedAt: startedAt.Add(time.Second),
	}))
}

func (s *MonitorsTestSuite) TestBuildersValidate() {
	for _, code := range []string{CodeFailedExecutions, CodeSamplePing} {
		module := s.build(code)
		s.Empty(monitor.Validate(module), code)
	}
}

func (s *MonitorsTestSuite) TestFailedExecutionsSearch() {
	now := s.clock.Now()
	s.recordExecution(3, store.ExecutionStatusFailed, now.Add(-10*time.Minute))
	s.recordExecution(3, store.ExecutionStatusFailed, now.Add(-5*time.Minute))
	s.recordExecution(4, store.ExecutionStatusFailed, now.Add(-time.Minute))
	// Outside the window and successes don't count
	s.recordExecution(3, store.ExecutionStatusFailed, now.Add(-2*time.Hour))
	s.recordExecution(5, store.ExecutionStatusSuccess, now.Add(-time.Minute))

	module := s.build(CodeFailedExecutions)
	results, err := module.Search(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(results, 2)

	counts := map[uint]int{}
	for _, data := range results {
		id, ok := numericID(data["monitor_id"])
		s.Require().True(ok)
		count, ok := numericID(data["failed_count"])
		s.Require().True(ok)
		counts[id] = int(count)
	}
	s.Equal(map[uint]int{3: 2, 4: 1}, counts)
}

func (s *MonitorsTestSuite) TestFailedExecutionsUpdateSolves() {
	now := s.clock.Now()
	s.recordExecution(3, store.ExecutionStatusFailed, now.Add(-10*time.Minute))

	module := s.build(CodeFailedExecutions)

	// Data as it comes back from JSON storage
	updated, err := module.Update(s.ctx, []monitor.IssueData{
		{"monitor_id": float64(3), "failed_count": float64(1)},
		{"monitor_id": float64(9), "failed_count": float64(2)},
	})
	s.Require().NoError(err)
	s.Require().Len(updated, 2)

	s.False(module.IsSolved(updated[0]), "monitor 3 still has a recent failure")
	s.True(module.IsSolved(updated[1]), "monitor 9 failures aged out")
}

type stubNotifier struct{ name string }

func (n *stubNotifier) Name() string { return n.name }

func (n *stubNotifier) Reactions() map[string][]monitor.Reaction {
	return nil
}

func (s *MonitorsTestSuite) TestNotifiersAttachToAlertingModules() {
	factory := monitor.NewFactory()
	s.Require().NoError(Register(factory, s.store, s.clock, logr.Discard(), &stubNotifier{name: "mail"}))

	module, err := factory.Build(CodeFailedExecutions)
	s.Require().NoError(err)
	s.Require().Len(module.NotificationOptions, 1)
	s.Equal("mail", module.NotificationOptions[0].Name())
}

func (s *MonitorsTestSuite) TestSamplePingLifecycle() {
	module := s.build(CodeSamplePing)

	results, err := module.Search(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(results, 1)
	s.False(module.IsSolved(results[0]))

	updated, err := module.Update(s.ctx, results)
	s.Require().NoError(err)
	s.Require().Len(updated, 1)
	s.True(module.IsSolved(updated[0]))

	s.Require().Contains(module.Actions, "ping")
	s.NoError(module.Actions["ping"](s.ctx, map[string]any{"from": "test"}))
}
