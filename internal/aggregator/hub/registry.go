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

import "sync"

// chanMap is the shared mutable subscriber set. Registration,
// delivery snapshot, and removal all take the same mutex so they are
// linearizable with respect to each other (spec.md §5).
type chanMap struct {
	mu   sync.Mutex
	subs map[string]*Subscriber
}

func newChanMap() chanMap {
	return chanMap{subs: make(map[string]*Subscriber)}
}

func (c *chanMap) put(sub *Subscriber) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[sub.ID] = sub
}

func (c *chanMap) remove(id string) (*Subscriber, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sub, ok := c.subs[id]
	if ok {
		delete(c.subs, id)
	}
	return sub, ok
}

func (c *chanMap) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// snapshot returns the current subscribers. Fan-out is bounded by the
// subscriber count at dispatch time; a subscriber registered after
// snapshot is taken does not receive the in-flight record (spec.md
// §5).
func (c *chanMap) snapshot() []*Subscriber {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Subscriber, 0, len(c.subs))
	for _, sub := range c.subs {
		out = append(out, sub)
	}
	return out
}
