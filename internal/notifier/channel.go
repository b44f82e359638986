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

// Package notifier keeps notification records in sync with alert events and
// delivers them through channels.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/time/rate"

	"github.com/iLLeniumStudios/vigilant/internal/events"
	"github.com/iLLeniumStudios/vigilant/internal/store"
)

// Message is the delivery payload handed to a channel
type Message struct {
	Notification *store.Notification
	Event        events.Payload
}

// Channel delivers notification messages to an external target
type Channel interface {
	// Name identifies the channel; it doubles as the notification target
	Name() string

	// Send delivers one message
	Send(ctx context.Context, msg Message) error
}

// Template functions for payload formatting
var templateFuncs = template.FuncMap{
	"formatTime": func(t time.Time, layout string) string {
		if layout == "RFC3339" {
			return t.Format(time.RFC3339)
		}
		return t.Format(layout)
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"jsonEscape": func(s string) string {
		b, err := json.Marshal(s)
		if err != nil {
			return `""`
		}
		return string(b)
	},
	"toJSON": func(v any) string {
		b, err := json.Marshal(v)
		if err != nil {
			return "null"
		}
		return string(b)
	},
}

// ---------------------------------------------------------------------------
// Log channel
// ---------------------------------------------------------------------------

// LogChannel writes notifications to the process log. It is the default
// channel when no external target is configured.
type LogChannel struct {
	Log       logr.Logger
	TargetKey string
}

// NewLogChannel creates a log-backed channel
func NewLogChannel(log logr.Logger, name string) *LogChannel {
	return &LogChannel{Log: log.WithName("notifier"), TargetKey: name}
}

// Name implements Channel
func (c *LogChannel) Name() string {
	return c.TargetKey
}

// Send implements Channel
func (c *LogChannel) Send(ctx context.Context, msg Message) error {
	c.Log.Info("Notification",
		"target", c.TargetKey,
		"event", msg.Event.EventName,
		"monitorID", msg.Event.EventSourceMonitorID,
		"alertID", msg.Notification.AlertID)
	return nil
}

// ---------------------------------------------------------------------------
// Webhook channel
// ---------------------------------------------------------------------------

// WebhookChannel delivers notifications as JSON over HTTP
type WebhookChannel struct {
	name     string
	url      string
	method   string
	headers  map[string]string
	template *template.Template
	limiter  *rate.Limiter
	client   *http.Client
}

// WebhookOptions configures a webhook channel
type WebhookOptions struct {
	// URL receives the rendered payload
	URL string

	// Method defaults to POST
	Method string

	// Headers are added to every request
	Headers map[string]string

	// PayloadTemplate overrides the default JSON payload
	PayloadTemplate string

	// MaxPerHour caps deliveries; 0 uses 100
	MaxPerHour int

	// Burst caps delivery bursts; 0 uses 10
	Burst int
}

// NewWebhookChannel creates a webhook channel
func NewWebhookChannel(name string, opts WebhookOptions) (*WebhookChannel, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("webhook channel %q: url is required", name)
	}

	method := opts.Method
	if method == "" {
		method = http.MethodPost
	}

	tmplStr := defaultWebhookTemplate
	if opts.PayloadTemplate != "" {
		tmplStr = opts.PayloadTemplate
	}
	tmpl, err := template.New("webhook").Funcs(templateFuncs).Parse(tmplStr)
	if err != nil {
		return nil, fmt.Errorf("webhook channel %q: invalid template: %w", name, err)
	}

	maxPerHour := opts.MaxPerHour
	if maxPerHour <= 0 {
		maxPerHour = 100
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 10
	}

	return &WebhookChannel{
		name:     name,
		url:      opts.URL,
		method:   method,
		headers:  opts.Headers,
		template: tmpl,
		limiter:  rate.NewLimiter(rate.Limit(float64(maxPerHour)/3600), burst),
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// Name implements Channel
func (c *WebhookChannel) Name() string {
	return c.name
}

// Send implements Channel
func (c *WebhookChannel) Send(ctx context.Context, msg Message) error {
	if !c.limiter.Allow() {
		return fmt.Errorf("rate limit exceeded for channel %s", c.name)
	}

	var buf bytes.Buffer
	if err := c.template.Execute(&buf, msg); err != nil {
		return fmt.Errorf("rendering payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, c.method, c.url, &buf)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

var defaultWebhookTemplate = `{
  "event": "{{ .Event.EventName }}",
  "source": "{{ .Event.EventSource }}",
  "monitor_id": {{ .Event.EventSourceMonitorID }},
  "alert_id": {{ .Notification.AlertID }},
  "target": "{{ .Notification.Target }}",
  "data": {{ .Event.EventData | toJSON }}
}`
