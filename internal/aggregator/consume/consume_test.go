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

package consume

import (
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/opsentra/opsentra/internal/broker"
)

// fakeAcknowledger records the Ack/Nack/Reject calls a delivery
// receives, standing in for the real broker channel.
type fakeAcknowledger struct {
	acked      bool
	nacked     bool
	nackReq    bool
	nackMulti  bool
	rejectCall bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error { f.acked = true; return nil }
func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = true
	f.nackMulti = multiple
	f.nackReq = requeue
	return nil
}
func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error { f.rejectCall = true; return nil }

func newDelivery(ack *fakeAcknowledger, headers amqp.Table) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, Headers: headers}
}

func TestRejectOrDeadLetterRequeuesBelowThreshold(t *testing.T) {
	c := &Consumer{log: zerolog.Nop()}
	ack := &fakeAcknowledger{}
	d := newDelivery(ack, amqp.Table{})

	c.rejectOrDeadLetter(d, errors.New("bad json"))

	require.True(t, ack.nacked)
	require.True(t, ack.nackReq)
}

func TestRejectOrDeadLetterDropsAtThreshold(t *testing.T) {
	c := &Consumer{log: zerolog.Nop()}
	ack := &fakeAcknowledger{}
	headers := amqp.Table{
		"x-death": []interface{}{
			amqp.Table{"count": int64(broker.MaxDeliveryAttempts)},
		},
	}
	d := newDelivery(ack, headers)

	c.rejectOrDeadLetter(d, errors.New("bad json"))

	require.True(t, ack.nacked)
	require.False(t, ack.nackReq)
}
