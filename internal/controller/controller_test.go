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

package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/suite"

	"github.com/iLLeniumStudios/vigilant/internal/config"
	"github.com/iLLeniumStudios/vigilant/internal/engine"
	"github.com/iLLeniumStudios/vigilant/internal/events"
	"github.com/iLLeniumStudios/vigilant/internal/monitor"
	"github.com/iLLeniumStudios/vigilant/internal/queue"
	"github.com/iLLeniumStudios/vigilant/internal/registry"
	"github.com/iLLeniumStudios/vigilant/internal/store"
	"github.com/iLLeniumStudios/vigilant/internal/timeutil"
)

type ControllerTestSuite struct {
	suite.Suite
	store      *store.GormStore
	queue      *queue.MemoryQueue
	registry   *registry.Registry
	controller *Controller
	ctx        context.Context
}

func (s *ControllerTestSuite) SetupTest() {
	st, err := store.NewGormStore("sqlite", "file::memory:?cache=shared")
	s.Require().NoError(err)
	s.Require().NoError(st.Init())
	s.store = st
	s.ctx = context.Background()

	clock, err := timeutil.NewClock("UTC")
	s.Require().NoError(err)

	s.queue = queue.NewMemoryQueue(logr.Discard(), time.Minute)
	s.registry = registry.New(logr.Discard())
	bus := events.NewBus(logr.Discard(), s.queue, st, s.registry, false)

	s.controller = New(logr.Discard(), st, s.queue, s.registry, bus, clock, config.DefaultConfig().Controller)
}

func (s *ControllerTestSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func TestControllerTestSuite(t *testing.T) {
	suite.Run(t, new(ControllerTestSuite))
}

func searchOnlyModule() *monitor.Module {
	return &monitor.Module{
		Options:      monitor.Options{SearchCron: "* * * * *"},
		IssueOptions: monitor.IssueOptions{ModelIDKey: "id"},
		Search: func(ctx context.Context) ([]monitor.IssueData, error) {
			return nil, nil
		},
		Update: func(ctx context.Context, issuesData []monitor.IssueData) ([]monitor.IssueData, error) {
			return issuesData, nil
		},
	}
}

func (s *ControllerTestSuite) createMonitor(name string) *store.Monitor {
	mon := &store.Monitor{Name: name, Enabled: true}
	s.Require().NoError(s.store.CreateMonitor(s.ctx, mon))
	return mon
}

func (s *ControllerTestSuite) receiveProcessTask() queue.ProcessMonitorPayload {
	delivery, err := s.queue.Receive(s.ctx, 100*time.Millisecond)
	s.Require().NoError(err)
	s.Require().NotNil(delivery)
	s.Require().Equal(queue.TypeProcessMonitor, delivery.Message.Type)

	var payload queue.ProcessMonitorPayload
	s.Require().NoError(json.Unmarshal(delivery.Message.Payload, &payload))
	return payload
}

// ============================================================================
// Task decisions
// ============================================================================

func (s *ControllerTestSuite) TestDecideTasksNeverExecuted() {
	mon := &store.Monitor{Name: "a", Enabled: true}
	module := searchOnlyModule()
	module.Options.UpdateCron = "* * * * *"

	tasks, err := s.controller.decideTasks(mon, module)
	s.Require().NoError(err)
	s.Equal([]string{engine.TaskSearch, engine.TaskUpdate}, tasks)
}

func (s *ControllerTestSuite) TestDecideTasksCronWindow() {
	ref := time.Date(2026, 8, 26, 12, 0, 30, 0, time.UTC)
	s.controller.Clock = timeutil.NewFixedClock(ref)

	recent := ref.Add(-20 * time.Second)
	stale := ref.Add(-time.Minute)

	mon := &store.Monitor{Name: "a", Enabled: true, SearchExecutedAt: &recent}
	tasks, err := s.controller.decideTasks(mon, searchOnlyModule())
	s.Require().NoError(err)
	s.Empty(tasks)

	mon.SearchExecutedAt = &stale
	tasks, err = s.controller.decideTasks(mon, searchOnlyModule())
	s.Require().NoError(err)
	s.Equal([]string{engine.TaskSearch}, tasks)
}

func (s *ControllerTestSuite) TestDecideTasksLifecycleGuards() {
	module := searchOnlyModule()

	for _, mon := range []*store.Monitor{
		{Name: "disabled", Enabled: false},
		{Name: "queued", Enabled: true, Queued: true},
		{Name: "running", Enabled: true, Running: true},
	} {
		tasks, err := s.controller.decideTasks(mon, module)
		s.Require().NoError(err)
		s.Empty(tasks, "monitor %s must not be scheduled", mon.Name)
	}
}

// ============================================================================
// Tick processing
// ============================================================================

func (s *ControllerTestSuite) TestProcessMonitorsEnqueuesDueTasks() {
	mon := s.createMonitor("due")
	s.registry.Add(mon.ID, mon.Name, searchOnlyModule())

	s.Require().NoError(s.controller.ProcessMonitors(s.ctx))

	payload := s.receiveProcessTask()
	s.Equal(mon.ID, payload.MonitorID)
	s.Equal([]string{engine.TaskSearch}, payload.Tasks)

	stored, err := s.store.GetMonitorByID(s.ctx, mon.ID)
	s.Require().NoError(err)
	s.True(stored.Queued)
}

func (s *ControllerTestSuite) TestProcessMonitorsSkipsUnregistered() {
	s.createMonitor("unregistered")

	s.Require().NoError(s.controller.ProcessMonitors(s.ctx))

	delivery, err := s.queue.Receive(s.ctx, 50*time.Millisecond)
	s.Require().NoError(err)
	s.Nil(delivery)
}

func (s *ControllerTestSuite) TestProcessMonitorsSkipsQueued() {
	mon := s.createMonitor("already-queued")
	s.Require().NoError(s.store.SetMonitorQueued(s.ctx, mon.ID, true))
	s.registry.Add(mon.ID, mon.Name, searchOnlyModule())

	s.Require().NoError(s.controller.ProcessMonitors(s.ctx))

	delivery, err := s.queue.Receive(s.ctx, 50*time.Millisecond)
	s.Require().NoError(err)
	s.Nil(delivery)
}

// failingQueue rejects every send
type failingQueue struct {
	queue.Queue
}

func (failingQueue) Send(ctx context.Context, msgType queue.MessageType, payload any) error {
	return fmt.Errorf("queue unavailable")
}

func (s *ControllerTestSuite) TestProcessMonitorsRevertsQueuedOnSendFailure() {
	mon := s.createMonitor("revert")
	s.registry.Add(mon.ID, mon.Name, searchOnlyModule())
	s.controller.Queue = failingQueue{}

	s.Require().NoError(s.controller.ProcessMonitors(s.ctx))

	stored, err := s.store.GetMonitorByID(s.ctx, mon.ID)
	s.Require().NoError(err)
	s.False(stored.Queued)
}

// ============================================================================
// Procedures
// ============================================================================

func (s *ControllerTestSuite) TestProcedureMonitorsStuck() {
	stale := time.Now().Add(-10 * time.Minute)
	stuck := &store.Monitor{Name: "stuck", Enabled: true, Queued: true, Running: true, LastHeartbeat: &stale}
	s.Require().NoError(s.store.CreateMonitor(s.ctx, stuck))

	fresh := time.Now()
	healthy := &store.Monitor{Name: "healthy", Enabled: true, Running: true, LastHeartbeat: &fresh}
	s.Require().NoError(s.store.CreateMonitor(s.ctx, healthy))

	err := s.controller.RunProcedure(s.ctx, ProcedureMonitorsStuck, map[string]any{"time_tolerance": 300})
	s.Require().NoError(err)

	stored, err := s.store.GetMonitorByID(s.ctx, stuck.ID)
	s.Require().NoError(err)
	s.False(stored.Queued)
	s.False(stored.Running)

	stored, err = s.store.GetMonitorByID(s.ctx, healthy.ID)
	s.Require().NoError(err)
	s.True(stored.Running)
}

func (s *ControllerTestSuite) TestProcedureNotificationsAlertSolved() {
	mon := s.createMonitor("notified")

	solvedAt := time.Now()
	var solvedAlert, activeAlert *store.Alert
	err := s.store.WithSession(s.ctx, func(sess *store.Session) error {
		solvedAlert = &store.Alert{MonitorID: mon.ID, Status: store.AlertStatusSolved, SolvedAt: &solvedAt}
		if err := sess.CreateAlert(solvedAlert); err != nil {
			return err
		}
		activeAlert = &store.Alert{MonitorID: mon.ID, Status: store.AlertStatusActive}
		return sess.CreateAlert(activeAlert)
	})
	s.Require().NoError(err)

	closable, _, err := s.store.GetOrCreateNotification(s.ctx, mon.ID, solvedAlert.ID, "mail")
	s.Require().NoError(err)
	open, _, err := s.store.GetOrCreateNotification(s.ctx, mon.ID, activeAlert.ID, "mail")
	s.Require().NoError(err)

	s.Require().NoError(s.controller.RunProcedure(s.ctx, ProcedureNotificationsAlertSolved, nil))

	remaining, err := s.store.ListActiveNotificationsByAlert(s.ctx, solvedAlert.ID)
	s.Require().NoError(err)
	s.Empty(remaining)

	remaining, err = s.store.ListActiveNotificationsByAlert(s.ctx, activeAlert.ID)
	s.Require().NoError(err)
	s.Require().Len(remaining, 1)
	s.Equal(open.ID, remaining[0].ID)

	evts, err := s.store.ListEventsByMonitor(s.ctx, mon.ID, 0)
	s.Require().NoError(err)
	s.Require().Len(evts, 1)
	s.Equal(events.NotificationClosed, evts[0].Name)
	s.Equal(closable.ID, evts[0].SourceID)
}

func (s *ControllerTestSuite) TestProcedureCleanEvents() {
	mon := s.createMonitor("audited")
	s.Require().NoError(s.store.CreateEvent(s.ctx, &store.Event{
		MonitorID:  mon.ID,
		SourceType: events.SourceIssue,
		SourceID:   1,
		Name:       events.IssueCreated,
	}))

	// A fresh event survives the retention window
	s.Require().NoError(s.controller.RunProcedure(s.ctx, ProcedureCleanEvents, map[string]any{"retention_days": 7}))

	evts, err := s.store.ListEventsByMonitor(s.ctx, mon.ID, 0)
	s.Require().NoError(err)
	s.Len(evts, 1)

	// A negative retention moves the cutoff past now and cleans everything
	s.Require().NoError(s.controller.RunProcedure(s.ctx, ProcedureCleanEvents, map[string]any{"retention_days": -1}))

	evts, err = s.store.ListEventsByMonitor(s.ctx, mon.ID, 0)
	s.Require().NoError(err)
	s.Empty(evts)
}

func (s *ControllerTestSuite) TestRunProcedureUnknownName() {
	s.Error(s.controller.RunProcedure(s.ctx, "no_such_procedure", nil))
}
