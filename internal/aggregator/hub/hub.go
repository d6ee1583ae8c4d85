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

// Package hub maintains the set of long-lived subscribers to the
// Aggregator's event stream and fans records out to them in broker
// delivery order (spec.md §4.7). Registration, fan-out, and removal
// are linearized through a single mutex per spec.md §5.
package hub

import (
	"sync/atomic"

	evbus "github.com/asaskevich/EventBus"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/opsentra/opsentra/internal/record"
)

// Topics the Broker Consumer publishes dispatch events on; the Hub
// subscribes to both at construction so the consumer never holds a
// direct reference to subscriber state (spec.md §4.5 dispatch step).
const (
	TopicRecord     = "dispatch.record"
	TopicEnrichment = "dispatch.enrichment"
)

// EventKind identifies the framed event kinds the subscriber endpoint
// emits (spec.md §6).
type EventKind string

const (
	EventRecord     EventKind = "record"
	EventEnrichment EventKind = "enrichment"
	EventHeartbeat  EventKind = "heartbeat"
)

// Event is one framed message delivered to a subscriber sink.
type Event struct {
	Kind       EventKind
	Record     *record.LogRecord
	Enrichment *record.EnrichmentMessage
}

// DefaultBufferSize is a subscriber's bounded outbound buffer capacity
// (spec.md §4.7).
const DefaultBufferSize = 1000

// Subscriber is one registered client of the event stream.
type Subscriber struct {
	ID      string
	Service string // optional filter; empty matches every service
	Events  chan Event

	hub      *Hub
	lastSent atomic.Int64 // unix nanoseconds of the last event enqueued
}

// Close unregisters the subscriber and closes its event channel. Safe
// to call more than once.
func (s *Subscriber) Close() {
	s.hub.unregister(s.ID)
}

func (s *Subscriber) matches(service string) bool {
	return s.Service == "" || s.Service == service
}

// Hub fans LogRecords and enrichments out to registered subscribers.
type Hub struct {
	bufferSize int
	bus        evbus.Bus
	log        zerolog.Logger

	subscribers chanMap
}

// New builds a Hub and wires it to bus's dispatch topics. bufferSize
// <= 0 uses DefaultBufferSize.
func New(bus evbus.Bus, bufferSize int, log zerolog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	h := &Hub{
		bufferSize:  bufferSize,
		bus:         bus,
		log:         log.With().Str("component", "subscriber-hub").Logger(),
		subscribers: newChanMap(),
	}
	_ = bus.Subscribe(TopicRecord, h.handleRecord)
	_ = bus.Subscribe(TopicEnrichment, h.handleEnrichment)
	return h
}

// Register creates a new subscriber, optionally filtered to service.
// A subscriber sees only records delivered after registration (spec.md
// §4.7: the hub does not buffer history).
func (h *Hub) Register(service string) *Subscriber {
	sub := &Subscriber{
		ID:      uuid.NewString(),
		Service: service,
		Events:  make(chan Event, h.bufferSize),
		hub:     h,
	}
	h.subscribers.put(sub)
	return sub
}

// Count returns the number of currently registered subscribers, for
// health reporting (spec.md §6).
func (h *Hub) Count() int {
	return h.subscribers.len()
}

func (h *Hub) unregister(id string) {
	if sub, ok := h.subscribers.remove(id); ok {
		close(sub.Events)
	}
}

// handleRecord fans a newly dispatched record out to every matching
// subscriber, disconnecting any whose buffer is full (spec.md §4.7:
// backpressure is disconnect, never block).
func (h *Hub) handleRecord(rec record.LogRecord) {
	for _, sub := range h.subscribers.snapshot() {
		if !sub.matches(rec.Service) {
			continue
		}
		h.deliver(sub, Event{Kind: EventRecord, Record: &rec})
	}
}

// handleEnrichment broadcasts an enrichment update to every
// subscriber; enrichment payloads are not service-filtered since they
// carry only a record identifier (DESIGN.md Open Question decisions).
func (h *Hub) handleEnrichment(msg record.EnrichmentMessage) {
	for _, sub := range h.subscribers.snapshot() {
		h.deliver(sub, Event{Kind: EventEnrichment, Enrichment: &msg})
	}
}

func (h *Hub) deliver(sub *Subscriber, ev Event) {
	select {
	case sub.Events <- ev:
		sub.lastSent.Store(nowUnixNano())
	default:
		h.log.Warn().Str("subscriber", sub.ID).Msg("hub: outbound buffer full, disconnecting subscriber")
		h.unregister(sub.ID)
	}
}

// PublishRecord is the Broker Consumer's entry point for fanning a
// dispatched record out to subscribers (spec.md §4.5 dispatch step).
func (h *Hub) PublishRecord(rec record.LogRecord) {
	h.bus.Publish(TopicRecord, rec)
}

// PublishEnrichment is the Broker Consumer's entry point for notifying
// subscribers of an enrichment update.
func (h *Hub) PublishEnrichment(msg record.EnrichmentMessage) {
	h.bus.Publish(TopicEnrichment, msg)
}
