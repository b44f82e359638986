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

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iLLeniumStudios/vigilant/internal/config"
	"github.com/iLLeniumStudios/vigilant/internal/events"
	"github.com/iLLeniumStudios/vigilant/internal/executor"
	"github.com/iLLeniumStudios/vigilant/internal/loader"
	"github.com/iLLeniumStudios/vigilant/internal/monitor"
	"github.com/iLLeniumStudios/vigilant/internal/queue"
	"github.com/iLLeniumStudios/vigilant/internal/registry"
	"github.com/iLLeniumStudios/vigilant/internal/store"
	"github.com/iLLeniumStudios/vigilant/internal/timeutil"
)

const testCode = "internal_monitors.api_test"

type testEnv struct {
	server *Server
	router http.Handler
	store  *store.GormStore
	queue  *queue.MemoryQueue
	reg    *registry.Registry
}

type staticHealth map[string]any

func (s staticHealth) Health() map[string]any { return s }

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.NewGormStore("sqlite", "file::memory:?cache=shared")
	require.NoError(t, err)
	require.NoError(t, st.Init())
	t.Cleanup(func() { _ = st.Close() })

	clock, err := timeutil.NewClock("UTC")
	require.NoError(t, err)

	q := queue.NewMemoryQueue(logr.Discard(), time.Minute)
	reg := registry.New(logr.Discard())
	reg.SetReady()
	bus := events.NewBus(logr.Discard(), q, st, reg, false)

	factory := monitor.NewFactory()
	require.NoError(t, factory.Register(testCode, func() (*monitor.Module, error) {
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
	}))

	cfg := config.DefaultConfig()
	ld := loader.New(logr.Discard(), st, reg, factory, clock, cfg.Monitors)

	srv := NewServer(ServerOptions{
		Log:      logr.Discard(),
		Store:    st,
		Queue:    q,
		Loader:   ld,
		Registry: reg,
		Bus:      bus,
		Clock:    clock,
		Config:   cfg,
		Health: map[string]HealthSource{
			"controller": staticHealth{"last_tick_at": "2026-08-26T12:00:00.000Z"},
		},
	})

	return &testEnv{
		server: srv,
		router: srv.setupRoutes(),
		store:  st,
		queue:  q,
		reg:    reg,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

// receiveRequest pops one request message off the queue
func (e *testEnv) receiveRequest(t *testing.T) queue.RequestPayload {
	t.Helper()
	delivery, err := e.queue.Receive(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, delivery)
	require.Equal(t, queue.TypeRequest, delivery.Message.Type)

	var payload queue.RequestPayload
	require.NoError(t, json.Unmarshal(delivery.Message.Payload, &payload))
	return payload
}

func TestGetHealthz(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestGetStatus(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/v1/status", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp StatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "running", resp.Status)
	assert.True(t, resp.Registry.Ready)
	assert.Equal(t, "UTC", resp.TimeZone)
	assert.Contains(t, resp.Components, "controller")
	require.NotNil(t, resp.Config)
	assert.Equal(t, "memory", resp.Config.Queue.Type)
}

func TestStatusOmitsPasswords(t *testing.T) {
	env := newTestEnv(t)
	env.server.config.Storage.PostgreSQL.Password = "secret"
	env.server.config.Queue.Redis.Password = "secret"

	w := env.do(t, http.MethodGet, "/api/v1/status", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "secret")
}

func TestRegisterMonitorEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/monitors",
		`{"name": "api_test", "code": "`+testCode+`"}`)
	assert.Equal(t, http.StatusCreated, w.Code)

	var item MonitorItem
	require.NoError(t, json.NewDecoder(w.Body).Decode(&item))
	assert.Equal(t, "api_test", item.Name)
	assert.True(t, item.Enabled)

	mon, err := env.store.GetMonitorByName(context.Background(), "api_test")
	require.NoError(t, err)
	require.NotNil(t, mon)

	// Registration asks for an early load
	select {
	case <-env.reg.PendingChan():
	default:
		t.Fatal("expected a pending load request")
	}
}

func TestRegisterMonitorUnknownCode(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/monitors",
		`{"name": "broken", "code": "internal_monitors.missing"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRegisterMonitorRequiresNameAndCode(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/monitors", `{"name": "x"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSetMonitorEnabled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mon := &store.Monitor{Name: "toggle_me", Enabled: true}
	require.NoError(t, env.store.CreateMonitor(ctx, mon))
	env.reg.Add(mon.ID, mon.Name, &monitor.Module{})

	w := env.do(t, http.MethodPost, "/api/v1/monitors/1/enabled", `{"enabled": false}`)
	assert.Equal(t, http.StatusOK, w.Code)

	refreshed, err := env.store.GetMonitorByID(ctx, mon.ID)
	require.NoError(t, err)
	assert.False(t, refreshed.Enabled)
	assert.False(t, env.reg.IsRegistered(mon.ID))

	// The toggle leaves an audit event
	eventRows, err := env.store.ListEventsByMonitor(ctx, mon.ID, 0)
	require.NoError(t, err)
	require.Len(t, eventRows, 1)
	assert.Equal(t, events.MonitorEnabledChanged, eventRows[0].Name)
}

func TestSetMonitorEnabledNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/monitors/99/enabled", `{"enabled": true}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListMonitors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mon := &store.Monitor{Name: "listed", Enabled: true}
	require.NoError(t, env.store.CreateMonitor(ctx, mon))
	env.reg.Add(mon.ID, mon.Name, &monitor.Module{})

	w := env.do(t, http.MethodGet, "/api/v1/monitors", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp MonitorListResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "listed", resp.Items[0].Name)
	assert.True(t, resp.Items[0].Registered)
}

func TestAcknowledgeAlertEnqueuesRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mon := &store.Monitor{Name: "alerting", Enabled: true}
	require.NoError(t, env.store.CreateMonitor(ctx, mon))

	var alert *store.Alert
	require.NoError(t, env.store.WithSession(ctx, func(sess *store.Session) error {
		alert = &store.Alert{MonitorID: mon.ID, Status: store.AlertStatusActive, Priority: 2}
		return sess.CreateAlert(alert)
	}))

	w := env.do(t, http.MethodPost, "/api/v1/alerts/1/acknowledge", "")
	assert.Equal(t, http.StatusAccepted, w.Code)

	payload := env.receiveRequest(t)
	assert.Equal(t, executor.ActionAlertAcknowledge, payload.Action)
	assert.Equal(t, float64(alert.ID), payload.Params["alert_id"])
}

func TestLockAlertWithUnlockBody(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	mon := &store.Monitor{Name: "locking", Enabled: true}
	require.NoError(t, env.store.CreateMonitor(ctx, mon))
	require.NoError(t, env.store.WithSession(ctx, func(sess *store.Session) error {
		return sess.CreateAlert(&store.Alert{MonitorID: mon.ID, Status: store.AlertStatusActive, Priority: 2, Locked: true})
	}))

	w := env.do(t, http.MethodPost, "/api/v1/alerts/1/lock", `{"locked": false}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	payload := env.receiveRequest(t)
	assert.Equal(t, executor.ActionAlertLock, payload.Action)
	assert.Equal(t, false, payload.Params["locked"])
}

func TestSolveAlertNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/alerts/42/solve", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDropIssueNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/issues/42/drop", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSubmitPluginRequest(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/requests",
		`{"action": "plugin.api_test.rotate", "params": {"key": "primary"}}`)
	assert.Equal(t, http.StatusAccepted, w.Code)

	payload := env.receiveRequest(t)
	assert.Equal(t, "plugin.api_test.rotate", payload.Action)
	assert.Equal(t, "primary", payload.Params["key"])
}

func TestSubmitRequestRequiresAction(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/v1/requests", `{"params": {}}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
