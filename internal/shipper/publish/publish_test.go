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

package publish

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/opsentra/opsentra/internal/record"
)

func TestEnqueueDropsOldestOnOverflow(t *testing.T) {
	p := New("amqp://unused", 3, zerolog.Nop())

	for i := 0; i < 5; i++ {
		p.Enqueue(record.LogRecord{Message: string(rune('a' + i))})
	}

	require.Equal(t, 3, p.QueueLen())
	require.Equal(t, int64(2), p.Dropped())

	first, ok := p.peekFront()
	require.True(t, ok)
	require.Equal(t, "c", first.Message)
}

func TestFlushReturnsTrueWhenQueueEmpty(t *testing.T) {
	p := New("amqp://unused", DefaultQueueCapacity, zerolog.Nop())
	ok := p.Flush(context.Background(), 100*time.Millisecond)
	require.True(t, ok)
}

func TestFlushTimesOutWithBacklog(t *testing.T) {
	p := New("amqp://unused", DefaultQueueCapacity, zerolog.Nop())
	p.Enqueue(record.LogRecord{Message: "stuck"})

	start := time.Now()
	ok := p.Flush(context.Background(), 50*time.Millisecond)
	require.False(t, ok)
	require.WithinDuration(t, start.Add(50*time.Millisecond), time.Now(), 100*time.Millisecond)
}
