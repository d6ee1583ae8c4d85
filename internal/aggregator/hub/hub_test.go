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
	"testing"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/opsentra/opsentra/internal/record"
)

func TestSubscriberReceivesMatchingRecords(t *testing.T) {
	h := New(evbus.New(), 10, zerolog.Nop())
	sub := h.Register("nginx")
	defer sub.Close()

	other := h.Register("mysql")
	defer other.Close()

	h.PublishRecord(record.LogRecord{Service: "nginx", Message: "upstream timed out"})

	select {
	case ev := <-sub.Events:
		require.Equal(t, EventRecord, ev.Kind)
		require.Equal(t, "nginx", ev.Record.Service)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for filtered subscriber event")
	}

	select {
	case <-other.Events:
		t.Fatal("non-matching subscriber should not receive the record")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnfilteredSubscriberReceivesEverything(t *testing.T) {
	h := New(evbus.New(), 10, zerolog.Nop())
	sub := h.Register("")
	defer sub.Close()

	h.PublishRecord(record.LogRecord{Service: "nginx"})
	h.PublishRecord(record.LogRecord{Service: "mysql"})

	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub.Events:
			require.Equal(t, EventRecord, ev.Kind)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestOverflowDisconnectsSubscriber(t *testing.T) {
	h := New(evbus.New(), 1, zerolog.Nop())
	sub := h.Register("")

	h.PublishRecord(record.LogRecord{Service: "a"})
	h.PublishRecord(record.LogRecord{Service: "a"})

	// second publish should have overflowed the size-1 buffer and
	// triggered disconnection
	require.Eventually(t, func() bool {
		return h.Count() == 0
	}, time.Second, 10*time.Millisecond)

	_, stillOpen := <-sub.Events
	_ = stillOpen
}

func TestEnrichmentBroadcastToAllSubscribers(t *testing.T) {
	h := New(evbus.New(), 10, zerolog.Nop())
	sub := h.Register("nginx")
	defer sub.Close()

	h.PublishEnrichment(record.EnrichmentMessage{Identifier: "abc123", Analysis: "looks fine"})

	select {
	case ev := <-sub.Events:
		require.Equal(t, EventEnrichment, ev.Kind)
		require.Equal(t, "abc123", ev.Enrichment.Identifier)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for enrichment event")
	}
}
