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
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	redisPendingKey  = "vigilant:queue:pending"
	redisInflightKey = "vigilant:queue:inflight"
	redisBodiesKey   = "vigilant:queue:bodies"
)

// RedisQueue is the redis-backed queue. Pending message ids live in a list,
// in-flight ids in a sorted set scored by visibility deadline, and message
// bodies in a hash keyed by id.
type RedisQueue struct {
	Log        logr.Logger
	client     *redis.Client
	visibility time.Duration
}

// RedisQueueConfig holds connection settings for the redis backend
type RedisQueueConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisQueue creates a redis-backed queue
func NewRedisQueue(log logr.Logger, cfg RedisQueueConfig, visibility time.Duration) *RedisQueue {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisQueue{
		Log:        log.WithName("queue"),
		client:     client,
		visibility: visibility,
	}
}

// Ping verifies the redis connection
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Send enqueues a message
func (q *RedisQueue) Send(ctx context.Context, msgType MessageType, payload any) error {
	msg, err := NewMessage(msgType, payload)
	if err != nil {
		return err
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshaling message: %w", err)
	}

	id := uuid.NewString()
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, redisBodiesKey, id, body)
	pipe.LPush(ctx, redisPendingKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueueing message: %w", err)
	}

	q.Log.V(1).Info("Message sent", "type", msgType, "id", id)
	return nil
}

// receivePoll is the pop retry interval while waiting for a message
const receivePoll = 100 * time.Millisecond

// popScript pops a pending id and marks it in flight in one step, so a crash
// mid-receive can never strand a message outside both structures. KEYS:
// pending list, inflight set, bodies hash. ARGV: visibility deadline.
var popScript = redis.NewScript(`
local id = redis.call('RPOP', KEYS[1])
if not id then
	return false
end
redis.call('ZADD', KEYS[2], ARGV[1], id)
local body = redis.call('HGET', KEYS[3], id)
if not body then
	redis.call('ZREM', KEYS[2], id)
	return false
end
return {id, body}
`)

// Receive reclaims expired in-flight messages, then polls the pending tail
// until a message arrives or the wait elapses
func (q *RedisQueue) Receive(ctx context.Context, wait time.Duration) (*Delivery, error) {
	if err := q.reclaimExpired(ctx); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(wait)
	for {
		visible := time.Now().Add(q.visibility)
		res, err := popScript.Run(ctx, q.client,
			[]string{redisPendingKey, redisInflightKey, redisBodiesKey},
			visible.Unix()).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("receiving message: %w", err)
		}
		if err == nil {
			return decodePop(res)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}
		poll := receivePoll
		if poll > remaining {
			poll = remaining
		}
		timer := time.NewTimer(poll)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// decodePop turns the pop script's [id, body] reply into a delivery
func decodePop(res any) (*Delivery, error) {
	pair, ok := res.([]any)
	if !ok || len(pair) != 2 {
		return nil, fmt.Errorf("unexpected pop reply %v", res)
	}
	id, ok := pair[0].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected pop reply %v", res)
	}
	body, ok := pair[1].(string)
	if !ok {
		return nil, fmt.Errorf("unexpected pop reply %v", res)
	}

	var msg Message
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		return nil, fmt.Errorf("unmarshaling message %s: %w", id, err)
	}
	return &Delivery{ID: id, Message: msg}, nil
}

// reclaimScript moves one expired id back to pending in one step. Returns 0
// when another receiver reclaimed it first. KEYS: inflight set, pending list.
// ARGV: message id.
var reclaimScript = redis.NewScript(`
if redis.call('ZREM', KEYS[1], ARGV[1]) == 0 then
	return 0
end
redis.call('LPUSH', KEYS[2], ARGV[1])
return 1
`)

// reclaimExpired moves in-flight messages past their deadline back to pending
func (q *RedisQueue) reclaimExpired(ctx context.Context) error {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	ids, err := q.client.ZRangeByScore(ctx, redisInflightKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return fmt.Errorf("listing expired messages: %w", err)
	}

	for _, id := range ids {
		moved, err := reclaimScript.Run(ctx, q.client,
			[]string{redisInflightKey, redisPendingKey}, id).Int()
		if err != nil {
			return fmt.Errorf("reclaiming message %s: %w", id, err)
		}
		if moved == 0 {
			continue
		}
		q.Log.Info("Reclaimed expired message", "id", id)
	}
	return nil
}

// Heartbeat extends the invisibility window to twice the visibility time
func (q *RedisQueue) Heartbeat(ctx context.Context, d *Delivery) error {
	deadline := time.Now().Add(2 * q.visibility)
	err := q.client.ZAddXX(ctx, redisInflightKey, redis.Z{
		Score:  float64(deadline.Unix()),
		Member: d.ID,
	}).Err()
	if err != nil {
		return fmt.Errorf("heartbeating message %s: %w", d.ID, err)
	}
	return nil
}

// Delete acknowledges the delivery and removes its body
func (q *RedisQueue) Delete(ctx context.Context, d *Delivery) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, redisInflightKey, d.ID)
	pipe.HDel(ctx, redisBodiesKey, d.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("deleting message %s: %w", d.ID, err)
	}
	return nil
}

// Close releases the redis connection
func (q *RedisQueue) Close() error {
	return q.client.Close()
}
