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

// Package supervisor wires the Shipper's pipeline together and
// coordinates its startup and shutdown ordering (spec.md §4.9).
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/opsentra/opsentra/internal/config"
	"github.com/opsentra/opsentra/internal/netidentity"
	"github.com/opsentra/opsentra/internal/shipper/builder"
	"github.com/opsentra/opsentra/internal/shipper/discover"
	"github.com/opsentra/opsentra/internal/shipper/publish"
	"github.com/opsentra/opsentra/internal/shipper/tailer"
)

// shutdownDrainDeadline bounds the publisher flush on shutdown
// (spec.md §5).
const shutdownDrainDeadline = 10 * time.Second

// lineBufferSize sizes the channel between tailers and the builder.
const lineBufferSize = 4096

// Supervisor owns the Shipper's tailers, builder, and publisher.
type Supervisor struct {
	cfg *config.ShipperConfig
	log zerolog.Logger

	publisher *publish.Publisher
}

// New builds a Supervisor from cfg.
func New(cfg *config.ShipperConfig, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		log:       log.With().Str("component", "shipper-supervisor").Logger(),
		publisher: publish.New(cfg.BrokerURL, cfg.BatchSize, log),
	}
}

// Run discovers sources, starts one tailer per source, builds records,
// and runs the publisher until ctx is canceled, then drains the
// publisher's local queue within shutdownDrainDeadline before
// returning (spec.md §4.9 shutdown order).
func (s *Supervisor) Run(ctx context.Context) error {
	sources, errs := discover.Discover(s.cfg)
	for _, err := range errs {
		s.log.Warn().Err(err).Msg("supervisor: discovery error")
	}
	s.log.Info().Int("count", len(sources)).Msg("supervisor: discovery complete")

	lines := make(chan tailer.Line, lineBufferSize)
	identity := netidentity.New()
	rb := builder.New(identity)

	var wg sync.WaitGroup

	for _, src := range sources {
		wg.Add(1)
		go func(src discover.Source) {
			defer wg.Done()
			retryWindow := time.Duration(s.cfg.RetryWindowSecs) * time.Second
			tl := tailer.New(src, retryWindow, lines, s.log)
			if err := tl.Run(ctx); err != nil {
				s.log.Warn().Err(err).Str("source", src.Path).Msg("supervisor: tailer exited")
			}
		}(src)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case line, ok := <-lines:
				if !ok {
					return
				}
				if rec, ok := rb.Build(line); ok {
					s.publisher.Enqueue(rec)
				}
			}
		}
	}()

	// The publisher gets its own context so it keeps publishing through
	// the shutdown drain below; it is canceled once the drain ends.
	pubCtx, pubCancel := context.WithCancel(context.Background())
	defer pubCancel()
	publisherErr := make(chan error, 1)
	go func() {
		publisherErr <- s.publisher.Run(pubCtx)
	}()

	<-ctx.Done()
	s.log.Info().Msg("supervisor: shutdown signal received, draining publisher queue")

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownDrainDeadline)
	defer cancel()
	if !s.publisher.Flush(drainCtx, shutdownDrainDeadline) {
		s.log.Warn().Int("remaining", s.publisher.QueueLen()).Msg("supervisor: shutdown drain deadline exceeded")
	}
	pubCancel()

	wg.Wait()
	<-publisherErr
	return nil
}
