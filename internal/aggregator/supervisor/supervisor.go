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

// Package supervisor brings up the Aggregator's dependencies in the
// fixed order spec.md §4.9 requires and tears them down in reverse.
package supervisor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog"

	"github.com/opsentra/opsentra/internal/aggregator/archive"
	"github.com/opsentra/opsentra/internal/aggregator/consume"
	"github.com/opsentra/opsentra/internal/aggregator/hub"
	"github.com/opsentra/opsentra/internal/aggregator/httpapi"
	"github.com/opsentra/opsentra/internal/aggregator/store"
	"github.com/opsentra/opsentra/internal/broker"
	"github.com/opsentra/opsentra/internal/config"
	"github.com/opsentra/opsentra/internal/netidentity"

	evbus "github.com/asaskevich/EventBus"
)

// httpShutdownTimeout bounds the HTTP server's graceful shutdown.
const httpShutdownTimeout = 5 * time.Second

// version is surfaced on the health endpoint.
const version = "1.0.0"

// Supervisor owns every long-lived Aggregator dependency and brings
// them up/down in the order spec.md §4.9 mandates:
//  1. store connect + collection/index setup
//  2. object store client
//  3. broker connect
//  4. subscriber hub + heartbeats + HTTP server, then the broker
//     consumer that publishes into the hub
//  5. archival scheduler
type Supervisor struct {
	cfg *config.AggregatorConfig
	log zerolog.Logger

	st          *store.Store
	s3Client    *s3.Client
	reconnector *broker.Reconnector
	conn        *broker.Conn
	h           *hub.Hub
	httpServer  *http.Server
	scheduler   *archive.Scheduler

	identity  *netidentity.Identity
	startedAt time.Time
}

// New builds an unstarted Supervisor.
func New(cfg *config.AggregatorConfig, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		cfg:      cfg,
		log:      log.With().Str("component", "aggregator-supervisor").Logger(),
		identity: netidentity.New(),
	}
}

// Run brings every dependency up in order, blocks until ctx is
// canceled or the broker consumer exits, then tears everything down in
// reverse order and returns nil. Any startup step failing aborts the
// remaining steps and returns the error (spec.md §4.9: "the process
// exits non-zero").
func (s *Supervisor) Run(ctx context.Context) error {
	s.startedAt = time.Now().UTC()

	if err := s.startStore(ctx); err != nil {
		return err
	}
	if err := s.startObjectStore(ctx); err != nil {
		return err
	}
	if err := s.startBroker(ctx); err != nil {
		return err
	}
	consumerErrCh, err := s.startHub(ctx)
	if err != nil {
		return err
	}
	if err := s.startArchive(ctx); err != nil {
		return err
	}

	s.log.Info().Msg("supervisor: all dependencies ready")

	select {
	case <-ctx.Done():
		s.log.Info().Msg("supervisor: shutdown signal received")
	case err := <-consumerErrCh:
		s.log.Error().Err(err).Msg("supervisor: consumer exited unexpectedly")
	}

	s.shutdown()
	return nil
}

func (s *Supervisor) startStore(ctx context.Context) error {
	st, err := store.Connect(ctx, s.cfg.StoreURI)
	if err != nil {
		return fmt.Errorf("supervisor: store connect: %w", err)
	}
	if err := st.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("supervisor: store ensure collection: %w", err)
	}
	s.st = st
	s.log.Info().Msg("supervisor: store ready")
	return nil
}

func (s *Supervisor) startObjectStore(ctx context.Context) error {
	client, err := archive.NewS3Client(ctx, s.cfg.ObjectStoreRegion, s.cfg.ObjectStoreAccessKey, s.cfg.ObjectStoreSecretKey)
	if err != nil {
		return fmt.Errorf("supervisor: object store client: %w", err)
	}
	s.s3Client = client
	s.log.Info().Msg("supervisor: object store client ready")
	return nil
}

func (s *Supervisor) startBroker(ctx context.Context) error {
	s.reconnector = broker.NewReconnector(s.cfg.BrokerURL)
	conn, err := s.reconnector.Connect(ctx)
	if err != nil {
		return fmt.Errorf("supervisor: broker connect: %w", err)
	}
	s.conn = conn
	s.log.Info().Msg("supervisor: broker connected")
	return nil
}

// startHub constructs the subscriber hub, starts its heartbeat loop
// and HTTP server, then starts the broker consumer now that the hub
// it publishes into exists (spec.md §4.9 steps 3-4).
func (s *Supervisor) startHub(ctx context.Context) (<-chan error, error) {
	s.h = hub.New(evbus.New(), s.cfg.SubscriberBufferSize, s.log)
	go s.h.RunHeartbeats(ctx)

	hc := newHealthChecker(s.st, s.reconnector, s.checkObjectStore)
	engine := httpapi.New(s.st, s.h, hc, version, s.startedAt, s.log)

	s.httpServer = &http.Server{
		Addr:    s.cfg.ListenAddress,
		Handler: engine,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("supervisor: http server exited")
		}
	}()
	s.log.Info().Str("addr", s.cfg.ListenAddress).Msg("supervisor: http server ready")

	consumer := consume.New(s.st, s.h, s.cfg.PublisherPrefetch, s.log)
	errCh := make(chan error, 1)
	go func() {
		errCh <- consumer.Run(ctx, s.conn)
	}()
	s.log.Info().Msg("supervisor: broker consumer ready")

	return errCh, nil
}

// checkObjectStore probes object-store reachability for the health
// endpoint (spec.md §6: "per-dependency status (broker, store,
// object-store)"). ListBuckets is a cheap, bucket-agnostic call that
// fails the same way HeadBucket/PutObject would on bad credentials or
// an unreachable endpoint, without depending on a bucket already
// existing.
func (s *Supervisor) checkObjectStore(ctx context.Context) error {
	_, err := s.s3Client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return fmt.Errorf("supervisor: object store unreachable: %w", err)
	}
	return nil
}

func (s *Supervisor) startArchive(ctx context.Context) error {
	cfg := archive.DefaultConfig()
	cfg.Interval = time.Duration(s.cfg.ArchiveIntervalMinutes) * time.Minute
	cfg.Window = time.Duration(s.cfg.ArchiveWindowMinutes) * time.Minute
	cfg.BatchLimit = int64(s.cfg.ArchiveBatchLimit)
	cfg.BucketPrefix = s.cfg.BucketPrefix
	// Resolved once per process (spec.md §4.8: "capture IP determined
	// once per process") via the same cloud-metadata-then-hostname
	// fallback the Shipper uses to identity-tag records.
	cfg.CaptureIP = s.identity.IP()

	s.scheduler = archive.New(cfg, s.st, s.s3Client, s.log)
	if err := s.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("supervisor: archive scheduler: %w", err)
	}
	s.log.Info().Msg("supervisor: archive scheduler ready")
	return nil
}

// shutdown tears dependencies down in reverse startup order: stop
// accepting new work first, then stop the broker consumer, then close
// the store and broker connections.
func (s *Supervisor) shutdown() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("supervisor: http server shutdown")
		}
	}

	if s.conn != nil {
		s.conn.Close()
	}

	if s.st != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := s.st.Close(closeCtx); err != nil {
			s.log.Warn().Err(err).Msg("supervisor: store close")
		}
	}

	s.log.Info().Msg("supervisor: shutdown complete")
}
