// Copyright 2025 The OpSentra Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package publish batches and publishes records to the broker with
// reconnection and backpressure (spec.md §4.4). One Publisher owns one
// broker connection and one channel for the process.
package publish

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/opsentra/opsentra/internal/broker"
	"github.com/opsentra/opsentra/internal/record"
)

// DefaultQueueCapacity is the publisher's bounded in-memory queue
// high-water mark (spec.md §4.4).
const DefaultQueueCapacity = 10000

const (
	sendRetries    = 3
	sendRetryDelay = 250 * time.Millisecond
)

// Publisher accepts records from the Record Builder and delivers them
// to the broker's topic exchange with at-least-once semantics.
type Publisher struct {
	capacity int
	log      zerolog.Logger

	mu      sync.Mutex
	queue   []record.LogRecord
	dropped atomic.Int64

	wake chan struct{}

	reconnector *broker.Reconnector
}

// New builds a Publisher bound to brokerURL with the given queue
// capacity (DefaultQueueCapacity if capacity <= 0).
func New(brokerURL string, capacity int, log zerolog.Logger) *Publisher {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &Publisher{
		capacity:    capacity,
		log:         log.With().Str("component", "publisher").Logger(),
		wake:        make(chan struct{}, 1),
		reconnector: broker.NewReconnector(brokerURL),
	}
}

// Enqueue appends rec to the local queue. When the queue is at
// capacity the oldest record is discarded so the most recent activity
// survives a backlog ("drop-oldest", spec.md §4.4).
func (p *Publisher) Enqueue(rec record.LogRecord) {
	p.mu.Lock()
	if len(p.queue) >= p.capacity {
		p.queue = p.queue[1:]
		p.dropped.Add(1)
	}
	p.queue = append(p.queue, rec)
	p.mu.Unlock()

	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Dropped returns the count of records discarded by the drop-oldest
// policy since startup.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// QueueLen returns the current backlog length, primarily for health
// reporting.
func (p *Publisher) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Flush blocks until the queue drains to empty or deadline elapses,
// used by the lifecycle supervisor's bounded shutdown drain (spec.md
// §4.9, §5: "10 s ceiling for publisher flush").
func (p *Publisher) Flush(ctx context.Context, deadline time.Duration) bool {
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for {
		if p.QueueLen() == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return p.QueueLen() == 0
		case <-timer.C:
			return p.QueueLen() == 0
		case <-ticker.C:
		}
	}
}

// Run drives the publisher's connect-publish-reconnect loop until ctx
// is canceled. It owns the broker connection and channel for the
// process's publishing role (spec.md §5).
func (p *Publisher) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := p.reconnector.Connect(ctx)
		if err != nil {
			return err
		}

		if err := p.drainWhileConnected(ctx, conn); err != nil {
			conn.Close()
			if ctx.Err() != nil {
				return nil
			}
			p.log.Warn().Err(err).Msg("publisher: connection lost, reconnecting")
			continue
		}

		conn.Close()
		return nil
	}
}

// drainWhileConnected publishes from the head of the queue until ctx
// is canceled or a publish exhausts its retry budget, in which case it
// returns an error so Run reconnects; the undelivered record stays at
// the head of the queue.
func (p *Publisher) drainWhileConnected(ctx context.Context, conn *broker.Conn) error {
	idle := time.NewTicker(100 * time.Millisecond)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-p.wake:
		case <-idle.C:
		}

		for {
			rec, ok := p.peekFront()
			if !ok {
				break
			}

			if err := p.publishWithRetry(ctx, conn, rec); err != nil {
				return err
			}
			p.popFront()

			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

func (p *Publisher) peekFront() (record.LogRecord, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return record.LogRecord{}, false
	}
	return p.queue[0], true
}

func (p *Publisher) popFront() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) > 0 {
		p.queue = p.queue[1:]
	}
}

// publishWithRetry attempts to publish rec up to sendRetries times
// with sendRetryDelay spacing (spec.md §4.4).
func (p *Publisher) publishWithRetry(ctx context.Context, conn *broker.Conn, rec record.LogRecord) error {
	body, err := broker.MarshalRecord(rec)
	if err != nil {
		p.log.Warn().Err(err).Str("source", rec.Source).Msg("publisher: dropping unmarshalable record")
		return nil
	}

	var lastErr error
	for attempt := 0; attempt < sendRetries; attempt++ {
		publishCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = conn.Channel.PublishWithContext(
			publishCtx,
			broker.ExchangeName,
			rec.RoutingKey(),
			false, // mandatory
			false, // immediate
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent,
				Timestamp:    rec.Timestamp,
				Body:         body,
			},
		)
		cancel()
		if lastErr == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sendRetryDelay):
		}
	}

	return lastErr
}
