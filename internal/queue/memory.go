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

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// memoryItem is a message plus its in-flight visibility deadline
type memoryItem struct {
	id       string
	msg      Message
	deadline time.Time
}

// MemoryQueue is the in-process queue backend. It keeps a FIFO pending list
// and an in-flight set; expired in-flight items are reclaimed to the front of
// the pending list on the next receive.
type MemoryQueue struct {
	Log        logr.Logger
	visibility time.Duration

	mu       sync.Mutex
	pending  []*memoryItem
	inflight map[string]*memoryItem
	notify   chan struct{}
}

// NewMemoryQueue creates an in-process queue with the given visibility window
func NewMemoryQueue(log logr.Logger, visibility time.Duration) *MemoryQueue {
	return &MemoryQueue{
		Log:        log.WithName("queue"),
		visibility: visibility,
		inflight:   make(map[string]*memoryItem),
		notify:     make(chan struct{}, 1),
	}
}

// Send enqueues a message
func (q *MemoryQueue) Send(ctx context.Context, msgType MessageType, payload any) error {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}

	q.mu.Lock()
	q.pending = append(q.pending, &memoryItem{id: uuid.NewString(), msg: msg})
	q.mu.Unlock()

	// Wake one waiting receiver
	select {
	case q.notify <- struct{}{}:
	default:
	}

	q.Log.V(1).Info("Message sent", "type", msgType)
	return nil
}

// Receive returns the next visible message, blocking up to wait
func (q *MemoryQueue) Receive(ctx context.Context, wait time.Duration) (*Delivery, error) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		if d := q.tryReceive(); d != nil {
			return d, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		case <-q.notify:
			// retry
		}
	}
}

// tryReceive reclaims expired in-flight items and pops the pending head
func (q *MemoryQueue) tryReceive() *Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for id, item := range q.inflight {
		if item.deadline.Before(now) {
			delete(q.inflight, id)
			q.pending = append([]*memoryItem{item}, q.pending...)
			q.Log.Info("Reclaimed expired message", "id", id, "type", item.msg.Type)
		}
	}

	if len(q.pending) == 0 {
		return nil
	}

	item := q.pending[0]
	q.pending = q.pending[1:]
	item.deadline = now.Add(q.visibility)
	q.inflight[item.id] = item

	return &Delivery{ID: item.id, Message: item.msg}
}

// Heartbeat extends the invisibility window to twice the visibility time
func (q *MemoryQueue) Heartbeat(ctx context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.inflight[d.ID]
	if !ok {
		return fmt.Errorf("heartbeat: unknown delivery %s", d.ID)
	}
	item.deadline = time.Now().Add(2 * q.visibility)
	return nil
}

// Delete acknowledges the delivery
func (q *MemoryQueue) Delete(ctx context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.inflight[d.ID]; !ok {
		return fmt.Errorf("delete: unknown delivery %s", d.ID)
	}
	delete(q.inflight, d.ID)
	return nil
}

// Close is a no-op for the in-process backend
func (q *MemoryQueue) Close() error {
	return nil
}
