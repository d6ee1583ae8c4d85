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

package broker

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/opsentra/opsentra/internal/opserr"
)

// State is one stage of the reconnection state machine described in
// spec.md §4.4: Disconnected -> Connecting -> Connected ->
// {Channeling -> Ready} -> Errored -> Disconnected.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateChanneling
	StateReady
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateChanneling:
		return "channeling"
	case StateReady:
		return "ready"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

const (
	baseRetryDelay    = 5 * time.Second
	maxRetryDelay     = 30 * time.Second
	retryBackoffMul   = 1.5
	connectTargetTime = 5 * time.Second
	maxConnectAttempts = 10
)

// Conn bundles a live connection and channel with declared topology.
type Conn struct {
	Connection *amqp.Connection
	Channel    *amqp.Channel
}

// Close releases the channel and connection, ignoring errors from an
// already-dead broker.
func (c *Conn) Close() {
	if c == nil {
		return
	}
	if c.Channel != nil {
		_ = c.Channel.Close()
	}
	if c.Connection != nil {
		_ = c.Connection.Close()
	}
}

// Reconnector owns the single connection/channel for one role
// (publisher or a consumer queue) and drives the state machine in
// spec.md §4.4. It is not safe for concurrent use by more than one
// goroutine at a time; each role owns exactly one Reconnector per §5.
type Reconnector struct {
	url       string
	state     State
	onStateCh chan State
}

// NewReconnector builds a Reconnector for the given broker URL.
func NewReconnector(url string) *Reconnector {
	return &Reconnector{
		url:       url,
		state:     StateDisconnected,
		onStateCh: make(chan State, 16),
	}
}

// State returns the current state machine stage.
func (r *Reconnector) State() State {
	return r.state
}

// StateChanges returns a channel of state transitions for observers
// (e.g. the lifecycle supervisor's health reporting).
func (r *Reconnector) StateChanges() <-chan State {
	return r.onStateCh
}

func (r *Reconnector) setState(s State) {
	r.state = s
	select {
	case r.onStateCh <- s:
	default:
	}
}

// Connect drives Disconnected -> Connecting -> Connected -> Channeling
// -> Ready, retrying with exponential backoff (5s base, x1.5 per
// attempt, capped at 30s) up to maxConnectAttempts before giving up
// entirely (spec.md §5: "max 10 attempts before the process exits
// non-zero"). On success the delay resets to base for the next call.
func (r *Reconnector) Connect(ctx context.Context) (*Conn, error) {
	delay := baseRetryDelay

	for attempt := 1; attempt <= maxConnectAttempts; attempt++ {
		r.setState(StateConnecting)

		connCtx, cancel := context.WithTimeout(ctx, connectTargetTime)
		conn, err := dialContext(connCtx, r.url)
		cancel()
		if err != nil {
			r.setState(StateErrored)
			r.setState(StateDisconnected)
			if waitErr := sleepOrDone(ctx, delay); waitErr != nil {
				return nil, waitErr
			}
			delay = nextDelay(delay)
			continue
		}
		r.setState(StateConnected)

		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			r.setState(StateErrored)
			r.setState(StateDisconnected)
			if waitErr := sleepOrDone(ctx, delay); waitErr != nil {
				return nil, waitErr
			}
			delay = nextDelay(delay)
			continue
		}
		r.setState(StateChanneling)

		if err := DeclareTopology(ch); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			r.setState(StateErrored)
			r.setState(StateDisconnected)
			if waitErr := sleepOrDone(ctx, delay); waitErr != nil {
				return nil, waitErr
			}
			delay = nextDelay(delay)
			continue
		}

		r.setState(StateReady)
		return &Conn{Connection: conn, Channel: ch}, nil
	}

	return nil, fmt.Errorf("%w: broker: exhausted %d connect attempts", opserr.ErrTransient, maxConnectAttempts)
}

func nextDelay(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * retryBackoffMul)
	if next > maxRetryDelay {
		return maxRetryDelay
	}
	return next
}

func sleepOrDone(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// dialContext dials the broker, returning early if ctx is canceled
// before amqp.DialConfig completes. amqp091-go has no native context
// support, so this races the dial against ctx.Done() the way the
// pack's own retry/backoff helpers (ardikabs-hibernator/pkg/waiter)
// race a check function against a context deadline.
func dialContext(ctx context.Context, url string) (*amqp.Connection, error) {
	type result struct {
		conn *amqp.Connection
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := amqp.Dial(url)
		ch <- result{conn, err}
	}()
	select {
	case <-ctx.Done():
		go func() {
			if res := <-ch; res.conn != nil {
				_ = res.conn.Close()
			}
		}()
		return nil, ctx.Err()
	case res := <-ch:
		return res.conn, res.err
	}
}
