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

package hub

import (
	"context"
	"time"
)

// heartbeatInterval is the idle window after which a subscriber
// receives a heartbeat event (spec.md §4.7).
const heartbeatInterval = 30 * time.Second

// heartbeatCheckInterval is how often idle subscribers are scanned;
// finer than heartbeatInterval so no subscriber waits much longer than
// the advertised window.
const heartbeatCheckInterval = 5 * time.Second

func nowUnixNano() int64 {
	return time.Now().UnixNano()
}

// RunHeartbeats emits a heartbeat to every subscriber that has not been
// sent any event (record, enrichment, or heartbeat) in the prior 30s,
// or none since registering, until ctx is canceled.
func (h *Hub) RunHeartbeats(ctx context.Context) {
	ticker := time.NewTicker(heartbeatCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			for _, sub := range h.subscribers.snapshot() {
				last := time.Unix(0, sub.lastSent.Load())
				if sub.lastSent.Load() == 0 || now.Sub(last) >= heartbeatInterval {
					h.deliver(sub, Event{Kind: EventHeartbeat})
				}
			}
		}
	}
}
