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

// Package broker wraps the AMQP topology shared by the Shipper's
// publisher (spec.md §4.4) and the Aggregator's consumer (§4.5): one
// topic-typed durable exchange, two durable queues bound to it, and a
// dead-letter queue for poisoned messages (§9, supplemented per
// SPEC_FULL.md §9).
package broker

import (
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/opsentra/opsentra/internal/record"
)

const (
	// ExchangeName is the single topic-typed durable exchange every
	// record is published to (spec.md §4.4, §6).
	ExchangeName = "opsentra.logs"

	// RawLogsQueue receives every record, bound to "logs.#" (§4.5).
	RawLogsQueue = "raw-logs"

	// EnrichedQueue receives enrichment payloads (§4.5).
	EnrichedQueue = "enriched"

	// EnrichedRoutingKey is the routing key the (out-of-scope)
	// enrichment service publishes analysis results on.
	EnrichedRoutingKey = "enriched.#"

	// DeadLetterQueue collects messages dead-lettered after repeated
	// negative acknowledgement (§4.5, §7; SPEC_FULL.md §9).
	DeadLetterQueue = "logs.deadletter"

	deadLetterExchange = "opsentra.logs.deadletter"

	// MaxDeliveryAttempts bounds the negative-ack retry budget before
	// a message is dead-lettered (§7: "dead-lettered after 3 attempts").
	MaxDeliveryAttempts = 3
)

// Dial opens a connection to the broker. Callers are responsible for
// closing the returned connection.
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("broker: dial: %w", err)
	}
	return conn, nil
}

// DeclareTopology declares the exchange, queues, and bindings this
// package's consumers and publishers depend on. Idempotent: AMQP queue
// and exchange declaration is a no-op when the topology already
// matches.
func DeclareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		ExchangeName,
		"topic",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("broker: declare exchange: %w", err)
	}

	if err := ch.ExchangeDeclare(
		deadLetterExchange,
		"fanout",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("broker: declare dead-letter exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(
		DeadLetterQueue,
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		return fmt.Errorf("broker: declare dead-letter queue: %w", err)
	}

	if err := ch.QueueBind(DeadLetterQueue, "", deadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("broker: bind dead-letter queue: %w", err)
	}

	deadLetterArgs := amqp.Table{"x-dead-letter-exchange": deadLetterExchange}

	if _, err := ch.QueueDeclare(
		RawLogsQueue,
		true,
		false,
		false,
		false,
		deadLetterArgs,
	); err != nil {
		return fmt.Errorf("broker: declare raw-logs queue: %w", err)
	}

	if err := ch.QueueBind(RawLogsQueue, "logs.#", ExchangeName, false, nil); err != nil {
		return fmt.Errorf("broker: bind raw-logs queue: %w", err)
	}

	if _, err := ch.QueueDeclare(
		EnrichedQueue,
		true,
		false,
		false,
		false,
		deadLetterArgs,
	); err != nil {
		return fmt.Errorf("broker: declare enriched queue: %w", err)
	}

	if err := ch.QueueBind(EnrichedQueue, EnrichedRoutingKey, ExchangeName, false, nil); err != nil {
		return fmt.Errorf("broker: bind enriched queue: %w", err)
	}

	return nil
}

// MarshalRecord encodes a LogRecord as the UTF-8 JSON payload spec.md
// §6 requires.
func MarshalRecord(r record.LogRecord) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("broker: marshal record: %w", err)
	}
	return b, nil
}

// UnmarshalRecord decodes a LogRecord payload.
func UnmarshalRecord(b []byte) (record.LogRecord, error) {
	var r record.LogRecord
	if err := json.Unmarshal(b, &r); err != nil {
		return record.LogRecord{}, fmt.Errorf("broker: unmarshal record: %w", err)
	}
	return r, nil
}

// MarshalEnrichment encodes an enrichment payload per spec.md §6.
func MarshalEnrichment(m record.EnrichmentMessage) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("broker: marshal enrichment: %w", err)
	}
	return b, nil
}

// UnmarshalEnrichment decodes an enrichment payload.
func UnmarshalEnrichment(b []byte) (record.EnrichmentMessage, error) {
	var m record.EnrichmentMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return record.EnrichmentMessage{}, fmt.Errorf("broker: unmarshal enrichment: %w", err)
	}
	return m, nil
}

// DeliveryCount extracts the broker's x-death delivery count header, if
// present, so the consumer can detect repeated redelivery of the same
// message (spec.md §4.5: "detected via delivery count when the broker
// exposes it").
func DeliveryCount(headers amqp.Table) int {
	xDeath, ok := headers["x-death"]
	if !ok {
		return 0
	}
	deaths, ok := xDeath.([]interface{})
	if !ok || len(deaths) == 0 {
		return 0
	}
	first, ok := deaths[0].(amqp.Table)
	if !ok {
		return 0
	}
	switch v := first["count"].(type) {
	case int64:
		return int(v)
	case int32:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
