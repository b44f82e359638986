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

// Package queue provides the typed message bus with at-least-once delivery.
// A received message stays invisible to other receivers until its visibility
// window elapses; heartbeats extend the window, and only an explicit delete
// acknowledges completion.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the kind of work a message carries
type MessageType string

const (
	// TypeProcessMonitor asks the executor to run monitor routines
	TypeProcessMonitor MessageType = "process_monitor"

	// TypeEvent carries a reaction event envelope
	TypeEvent MessageType = "event"

	// TypeRequest carries an operator request action
	TypeRequest MessageType = "request"
)

// Message is the wire envelope: exactly a type and a payload
type Message struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ProcessMonitorPayload is the payload for process_monitor messages
type ProcessMonitorPayload struct {
	MonitorID uint     `json:"monitor_id"`
	Tasks     []string `json:"tasks"`
}

// RequestPayload is the payload for request messages
type RequestPayload struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

// Delivery is a received message plus the handle needed to heartbeat or
// delete it. The handle becomes invalid after Delete.
type Delivery struct {
	ID      string
	Message Message
}

// Queue is the message bus contract shared by all backends
type Queue interface {
	// Send enqueues a message of the given type. The payload is marshaled
	// to JSON.
	Send(ctx context.Context, msgType MessageType, payload any) error

	// Receive returns the next message, blocking up to wait. A nil delivery
	// with a nil error means the queue was empty.
	Receive(ctx context.Context, wait time.Duration) (*Delivery, error)

	// Heartbeat extends the delivery's invisibility window
	Heartbeat(ctx context.Context, d *Delivery) error

	// Delete acknowledges the delivery; the message will not redeliver
	Delete(ctx context.Context, d *Delivery) error

	// Close releases backend resources
	Close() error
}

// NewMessage builds a message envelope, marshaling the payload
func NewMessage(msgType MessageType, payload any) (Message, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshaling %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, Payload: body}, nil
}
