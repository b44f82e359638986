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

package loader

import (
	"context"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/suite"

	"github.com/iLLeniumStudios/vigilant/internal/config"
	"github.com/iLLeniumStudios/vigilant/internal/events"
	"github.com/iLLeniumStudios/vigilant/internal/monitor"
	"github.com/iLLeniumStudios/vigilant/internal/registry"
	"github.com/iLLeniumStudios/vigilant/internal/store"
	"github.com/iLLeniumStudios/vigilant/internal/timeutil"
)

type LoaderTestSuite struct {
	suite.Suite
	store    *store.GormStore
	registry *registry.Registry
	factory  *monitor.Factory
	loader   *Loader
	ctx      context.Context
}

func (s *LoaderTestSuite) SetupTest() {
	st, err := store.NewGormStore("sqlite", "file::memory:?cache=shared")
	s.Require().NoError(err)
	s.Require().NoError(st.Init())
	s.store = st
	s.ctx = context.Background()

	clock, err := timeutil.NewClock("UTC")
	s.Require().NoError(err)

	s.registry = registry.New(logr.Discard())
	s.factory = monitor.NewFactory()
	s.loader = New(logr.Discard(), st, s.registry, s.factory, clock, config.DefaultConfig().Monitors)
}

func (s *LoaderTestSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func TestLoaderTestSuite(t *testing.T) {
	suite.Run(t, new(LoaderTestSuite))
}

func validBuilder() monitor.Builder {
	return func() (*monitor.Module, error) {
		return &monitor.Module{
			Options:      monitor.Options{SearchCron: "* * * * *"},
			IssueOptions: monitor.IssueOptions{ModelIDKey: "id"},
			Search: func(ctx context.Context) ([]monitor.IssueData, error) {
				return nil, nil
			},
			Update: func(ctx context.Context, issuesData []monitor.IssueData) ([]monitor.IssueData, error) {
				return issuesData, nil
			},
		}, nil
	}
}

// resetCoolDown lets a follow-up Load run immediately while keeping the delta
// window behavior of a non-initial load
func (s *LoaderTestSuite) resetCoolDown() {
	s.loader.mu.Lock()
	s.loader.lastLoad = s.loader.lastLoad.Add(-coolDown)
	s.loader.mu.Unlock()
}

func (s *LoaderTestSuite) TestRegisterMonitor() {
	s.Require().NoError(s.factory.Register("internal_monitors.failed_executions", validBuilder()))

	mon, err := s.loader.RegisterMonitor(s.ctx, "failed_executions", "internal_monitors.failed_executions", map[string]any{"helper": "x"})
	s.Require().NoError(err)
	s.True(mon.Enabled)

	codeModule, err := s.store.GetCodeModule(s.ctx, mon.ID)
	s.Require().NoError(err)
	s.Require().NotNil(codeModule)
	s.Equal("internal_monitors.failed_executions", codeModule.Code)

	// Re-registration preserves monitor state
	s.Require().NoError(s.store.SetMonitorEnabled(s.ctx, mon.ID, false))
	again, err := s.loader.RegisterMonitor(s.ctx, "failed_executions", "internal_monitors.failed_executions", nil)
	s.Require().NoError(err)
	s.Equal(mon.ID, again.ID)

	stored, err := s.store.GetMonitorByID(s.ctx, mon.ID)
	s.Require().NoError(err)
	s.False(stored.Enabled)
}

func (s *LoaderTestSuite) TestRegisterMonitorRejectsInvalidModule() {
	s.Require().NoError(s.factory.Register("broken", func() (*monitor.Module, error) {
		return &monitor.Module{}, nil
	}))

	_, err := s.loader.RegisterMonitor(s.ctx, "broken", "broken", nil)
	s.Require().Error(err)

	var validationErr *monitor.ValidationError
	s.Require().ErrorAs(err, &validationErr)
	s.Equal("broken", validationErr.MonitorName)
	s.NotEmpty(validationErr.Violations)
}

func (s *LoaderTestSuite) TestRegisterMonitorUnknownCode() {
	_, err := s.loader.RegisterMonitor(s.ctx, "ghost", "no_such_builder", nil)
	s.Error(err)
}

func (s *LoaderTestSuite) TestLoadPublishesModules() {
	s.Require().NoError(s.factory.Register("internal_monitors.failed_executions", validBuilder()))
	mon, err := s.loader.RegisterMonitor(s.ctx, "failed_executions", "internal_monitors.failed_executions", nil)
	s.Require().NoError(err)

	s.Require().NoError(s.loader.Load(s.ctx))

	s.True(s.registry.IsRegistered(mon.ID))
	s.NoError(s.registry.WaitReady(s.ctx, time.Second))

	// Global defaults are applied at configure time
	module, ok := s.registry.GetModule(mon.ID)
	s.Require().True(ok)
	s.Equal(s.loader.Config.MaxIssuesCreation, module.Options.MaxIssuesCreation)
}

// gatedStore stalls the first store call of a load pass until released
type gatedStore struct {
	store.Store
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) ListEnabledMonitorsWithoutCodeModule(ctx context.Context) ([]store.Monitor, error) {
	close(g.entered)
	<-g.release
	return g.Store.ListEnabledMonitorsWithoutCodeModule(ctx)
}

func (s *LoaderTestSuite) TestLoadClearsReadyWhileRunning() {
	s.Require().NoError(s.loader.Load(s.ctx))
	s.Require().True(s.registry.IsReady())
	s.resetCoolDown()

	gated := &gatedStore{Store: s.store, entered: make(chan struct{}), release: make(chan struct{})}
	s.loader.Store = gated

	done := make(chan error, 1)
	go func() { done <- s.loader.Load(s.ctx) }()

	// Mid-reload the registry is not ready, so consumers hold back
	<-gated.entered
	s.False(s.registry.IsReady())
	s.Error(s.registry.WaitReady(s.ctx, 20*time.Millisecond))

	close(gated.release)
	s.Require().NoError(<-done)
	s.True(s.registry.IsReady())
}

func (s *LoaderTestSuite) TestLoadDisablesMonitorsWithoutCodeModule() {
	orphan := &store.Monitor{Name: "orphan", Enabled: true}
	s.Require().NoError(s.store.CreateMonitor(s.ctx, orphan))

	s.Require().NoError(s.loader.Load(s.ctx))

	stored, err := s.store.GetMonitorByID(s.ctx, orphan.ID)
	s.Require().NoError(err)
	s.False(stored.Enabled)
	s.False(s.registry.IsRegistered(orphan.ID))
}

func (s *LoaderTestSuite) TestLoadCoolDown() {
	s.Require().NoError(s.loader.Load(s.ctx))

	s.Require().NoError(s.factory.Register("internal_monitors.failed_executions", validBuilder()))
	mon, err := s.loader.RegisterMonitor(s.ctx, "failed_executions", "internal_monitors.failed_executions", nil)
	s.Require().NoError(err)

	// Inside the cool-down window nothing is loaded
	s.Require().NoError(s.loader.Load(s.ctx))
	s.False(s.registry.IsRegistered(mon.ID))

	s.resetCoolDown()
	s.Require().NoError(s.loader.Load(s.ctx))
	s.True(s.registry.IsRegistered(mon.ID))
}

func (s *LoaderTestSuite) TestLoadEvictsDisabledMonitors() {
	s.Require().NoError(s.factory.Register("internal_monitors.failed_executions", validBuilder()))
	mon, err := s.loader.RegisterMonitor(s.ctx, "failed_executions", "internal_monitors.failed_executions", nil)
	s.Require().NoError(err)

	s.Require().NoError(s.loader.Load(s.ctx))
	s.Require().True(s.registry.IsRegistered(mon.ID))

	s.Require().NoError(s.store.SetMonitorEnabled(s.ctx, mon.ID, false))
	s.resetCoolDown()
	s.Require().NoError(s.loader.Load(s.ctx))

	s.False(s.registry.IsRegistered(mon.ID))
}

func (s *LoaderTestSuite) TestLoadSkipsBrokenModuleWithoutBlockingOthers() {
	s.Require().NoError(s.factory.Register("internal_monitors.good", validBuilder()))
	s.Require().NoError(s.factory.Register("internal_monitors.bad", func() (*monitor.Module, error) {
		return &monitor.Module{}, nil
	}))

	good := &store.Monitor{Name: "good", Enabled: true}
	s.Require().NoError(s.store.CreateMonitor(s.ctx, good))
	s.Require().NoError(s.store.UpsertCodeModule(s.ctx, good.ID, "internal_monitors.good", nil, time.Now()))

	bad := &store.Monitor{Name: "bad", Enabled: true}
	s.Require().NoError(s.store.CreateMonitor(s.ctx, bad))
	s.Require().NoError(s.store.UpsertCodeModule(s.ctx, bad.ID, "internal_monitors.bad", nil, time.Now()))

	s.Require().NoError(s.loader.Load(s.ctx))

	s.True(s.registry.IsRegistered(good.ID))
	s.False(s.registry.IsRegistered(bad.ID))
}

func (s *LoaderTestSuite) TestRegisterBuiltins() {
	s.Require().NoError(s.factory.Register("internal_monitors.failed_executions", validBuilder()))
	s.Require().NoError(s.factory.Register("sample_monitors.ping", validBuilder()))
	s.Require().NoError(s.factory.Register("custom.other", validBuilder()))

	s.Require().NoError(s.loader.RegisterBuiltins(s.ctx))

	internal, err := s.store.GetMonitorByName(s.ctx, "failed_executions")
	s.Require().NoError(err)
	s.NotNil(internal)

	// Samples are off by default
	sample, err := s.store.GetMonitorByName(s.ctx, "ping")
	s.Require().NoError(err)
	s.Nil(sample)

	other, err := s.store.GetMonitorByName(s.ctx, "other")
	s.Require().NoError(err)
	s.Nil(other)

	s.loader.Config.LoadSamples = true
	s.Require().NoError(s.loader.RegisterBuiltins(s.ctx))

	sample, err = s.store.GetMonitorByName(s.ctx, "ping")
	s.Require().NoError(err)
	s.NotNil(sample)
}

type recordingNotifier struct {
	name string
}

func (n recordingNotifier) Name() string { return n.name }

func (n recordingNotifier) Reactions() map[string][]monitor.Reaction {
	return map[string][]monitor.Reaction{
		events.AlertCreated: {{
			Name: n.name + ".alert_created",
			Fn: func(ctx context.Context, event events.Payload) error {
				return nil
			},
		}},
	}
}

func (s *LoaderTestSuite) TestConfigureModuleMergesNotifierReactions() {
	module, err := validBuilder()()
	s.Require().NoError(err)
	module.NotificationOptions = []monitor.Notifier{recordingNotifier{name: "mail"}}

	s.loader.configureModule(module)

	s.Require().Len(module.ReactionOptions[events.AlertCreated], 1)
	s.True(module.HasReactions(events.AlertCreated))
}
