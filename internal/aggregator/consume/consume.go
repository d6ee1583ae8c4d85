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

// Package consume pulls messages from the broker's raw-logs and
// enriched queues, dispatches them, and acknowledges only after
// successful dispatch (spec.md §4.5).
package consume

import (
	"context"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/opsentra/opsentra/internal/aggregator/hub"
	"github.com/opsentra/opsentra/internal/aggregator/store"
	"github.com/opsentra/opsentra/internal/broker"
	"github.com/opsentra/opsentra/internal/record"
)

// DefaultPrefetch bounds the in-flight message count per queue
// (spec.md §4.5).
const DefaultPrefetch = 10

const writeTimeout = 5 * time.Second

// Consumer dispatches raw-logs and enriched deliveries to the
// Persistence Writer and Subscriber Hub.
type Consumer struct {
	store    *store.Store
	hub      *hub.Hub
	prefetch int
	log      zerolog.Logger
}

// New builds a Consumer. prefetch <= 0 uses DefaultPrefetch.
func New(st *store.Store, h *hub.Hub, prefetch int, log zerolog.Logger) *Consumer {
	if prefetch <= 0 {
		prefetch = DefaultPrefetch
	}
	return &Consumer{
		store:    st,
		hub:      h,
		prefetch: prefetch,
		log:      log.With().Str("component", "consumer").Logger(),
	}
}

// Run starts both queue consumers on conn's channel and blocks until
// both have returned (ctx canceled, delivery channel closed, or a
// Consume call failed), then returns the first non-nil error. A failure
// in one queue's consumer does not stop the other (spec.md §4.5).
func (c *Consumer) Run(ctx context.Context, conn *broker.Conn) error {
	if err := conn.Channel.Qos(c.prefetch, 0, false); err != nil {
		return err
	}

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		errs <- c.consumeRaw(ctx, conn.Channel)
	}()
	go func() {
		defer wg.Done()
		errs <- c.consumeEnriched(ctx, conn.Channel)
	}()

	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Consumer) consumeRaw(ctx context.Context, ch *amqp.Channel) error {
	deliveries, err := ch.Consume(broker.RawLogsQueue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handleRaw(ctx, d)
		}
	}
}

func (c *Consumer) handleRaw(ctx context.Context, d amqp.Delivery) {
	rec, err := broker.UnmarshalRecord(d.Body)
	if err != nil {
		c.rejectOrDeadLetter(d, err)
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	_, err = c.store.Insert(writeCtx, rec)
	cancel()
	if err != nil {
		c.log.Warn().Err(err).Str("service", rec.Service).Msg("consumer: persistence write failed, nacking with requeue")
		_ = d.Nack(false, true)
		return
	}

	c.hub.PublishRecord(rec)

	if err := d.Ack(false); err != nil {
		c.log.Warn().Err(err).Msg("consumer: ack failed")
	}
}

func (c *Consumer) consumeEnriched(ctx context.Context, ch *amqp.Channel) error {
	deliveries, err := ch.Consume(broker.EnrichedQueue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.handleEnriched(ctx, d)
		}
	}
}

func (c *Consumer) handleEnriched(ctx context.Context, d amqp.Delivery) {
	msg, err := broker.UnmarshalEnrichment(d.Body)
	if err != nil {
		c.rejectOrDeadLetter(d, err)
		return
	}

	enr := record.Enrichment{
		Analysis:    msg.Analysis,
		Suggestions: msg.Suggestions,
		Confidence:  msg.Confidence,
		EnrichedAt:  time.Now().UTC(),
	}

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	err = c.store.ApplyEnrichment(writeCtx, msg.Identifier, enr)
	cancel()
	if err != nil {
		c.log.Warn().Err(err).Str("identifier", msg.Identifier).Msg("consumer: enrichment write failed, nacking with requeue")
		_ = d.Nack(false, true)
		return
	}

	c.hub.PublishEnrichment(msg)

	if err := d.Ack(false); err != nil {
		c.log.Warn().Err(err).Msg("consumer: ack failed")
	}
}

// rejectOrDeadLetter negatively acknowledges a delivery that could not
// be decoded or processed. Once the broker reports it has been
// redelivered MaxDeliveryAttempts times, it is routed to the
// dead-letter queue instead of requeued indefinitely (spec.md §4.5,
// §7).
func (c *Consumer) rejectOrDeadLetter(d amqp.Delivery, cause error) {
	attempts := broker.DeliveryCount(d.Headers)
	if attempts >= broker.MaxDeliveryAttempts {
		c.log.Warn().Err(cause).Int("attempts", attempts).Msg("consumer: dead-lettering poisoned message")
		_ = d.Nack(false, false)
		return
	}
	c.log.Warn().Err(cause).Msg("consumer: undecodable message, requeuing")
	_ = d.Nack(false, true)
}
