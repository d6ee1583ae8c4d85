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

// Package archive periodically compresses and uploads unsynchronized
// records to object storage (spec.md §4.8) on a cron-driven cadence.
package archive

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/opsentra/opsentra/internal/aggregator/store"
	"github.com/opsentra/opsentra/internal/opserr"
)

// objectVersion is stamped onto every archived object's metadata
// (spec.md §6).
const objectVersion = "3.0"

// Config controls the scheduler's cadence and query bounds (spec.md
// §4.8 defaults).
type Config struct {
	Interval     time.Duration
	BatchLimit   int64
	Window       time.Duration
	BucketPrefix string
	CaptureIP    string
}

// DefaultConfig returns spec.md §4.8's stated defaults; BucketPrefix
// and CaptureIP must be supplied by the caller.
func DefaultConfig() Config {
	return Config{
		Interval:   10 * time.Minute,
		BatchLimit: 10000,
		Window:     10 * time.Minute,
	}
}

// Scheduler drives the archival cron job.
type Scheduler struct {
	cfg   Config
	store *store.Store
	s3    S3API
	log   zerolog.Logger
	cron  *cron.Cron

	inFlight      atomic.Bool
	bucketEnsured atomic.Bool
}

// New builds a Scheduler. It does not start ticking until Start is
// called.
func New(cfg Config, st *store.Store, s3Client S3API, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:   cfg,
		store: st,
		s3:    s3Client,
		log:   log.With().Str("component", "archival-scheduler").Logger(),
		cron:  cron.New(),
	}
}

// Start registers the cron job and begins the scheduler's internal
// clock. Overlapping ticks are skipped, not queued (spec.md §4.8
// cadence invariant).
func (s *Scheduler) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", s.cfg.Interval)
	_, err := s.cron.AddFunc(spec, func() {
		s.tick(ctx)
	})
	if err != nil {
		return fmt.Errorf("%w: archive: schedule cron: %w", opserr.ErrConfig, err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron clock, waiting for any in-flight tick's
// scheduled goroutine bookkeeping to settle.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.log.Debug().Msg("archive: previous tick still running, skipping")
		return
	}
	defer s.inFlight.Store(false)

	if err := s.runOnce(ctx); err != nil {
		s.log.Error().Err(err).Msg("archive: tick failed, will retry next cadence")
	}
}

// runOnce executes one archival pass: query, serialize, compress,
// upload, mark synced.
func (s *Scheduler) runOnce(ctx context.Context) error {
	records, err := s.store.SelectUnsynced(ctx, s.cfg.Window, s.cfg.BatchLimit)
	if err != nil {
		return fmt.Errorf("archive: select unsynced: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	payload, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("archive: marshal batch: %w", err)
	}

	compressed, err := gzipCompress(payload)
	if err != nil {
		return fmt.Errorf("archive: compress batch: %w", err)
	}

	bucket := s.bucketName()
	if err := s.ensureBucket(ctx, bucket); err != nil {
		return fmt.Errorf("archive: ensure bucket: %w", err)
	}

	key := objectKey(time.Now().UTC())
	if err := s.upload(ctx, bucket, key, compressed, len(records)); err != nil {
		return fmt.Errorf("archive: upload: %w", err)
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	if err := s.store.MarkSynced(ctx, ids, time.Now().UTC()); err != nil {
		return fmt.Errorf("archive: mark synced: %w", err)
	}

	s.log.Info().Int("count", len(records)).Str("bucket", bucket).Str("key", key).Msg("archive: batch uploaded")
	return nil
}

func (s *Scheduler) bucketName() string {
	return fmt.Sprintf("%s-logs-%s", s.cfg.BucketPrefix, sanitizeForBucket(s.cfg.CaptureIP))
}

// ensureBucket performs an existence check then a create, tolerating
// the "already exists" race rather than catching an exception (spec.md
// §9). It only does the round trip once per process lifetime.
func (s *Scheduler) ensureBucket(ctx context.Context, bucket string) error {
	if s.bucketEnsured.Load() {
		return nil
	}

	_, err := s.s3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		s.bucketEnsured.Store(true)
		return nil
	}

	_, err = s.s3.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil && !isBucketAlreadyOwnedError(err) {
		return err
	}

	s.bucketEnsured.Store(true)
	return nil
}

// isBucketAlreadyOwnedError tolerates the lazy-creation race spec.md
// §9 flags: another process may have created the bucket between the
// HeadBucket check and this CreateBucket call.
func isBucketAlreadyOwnedError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "BucketAlreadyOwnedByYou") || strings.Contains(msg, "BucketAlreadyExists")
}

func (s *Scheduler) upload(ctx context.Context, bucket, key string, body []byte, count int) error {
	_, err := s.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(bucket),
		Key:             aws.String(key),
		Body:            bytes.NewReader(body),
		ContentType:     aws.String("application/gzip"),
		ContentEncoding: aws.String("gzip"),
		Metadata: map[string]string{
			"log-count":   fmt.Sprintf("%d", count),
			"compression": "gzip",
			"version":     objectVersion,
		},
	})
	return err
}

func objectKey(t time.Time) string {
	ts := strings.ReplaceAll(t.Format(time.RFC3339), ":", "-")
	return fmt.Sprintf("logs-%s.json.gz", ts)
}

func sanitizeForBucket(ip string) string {
	return strings.ReplaceAll(strings.ReplaceAll(ip, ":", "-"), ".", "-")
}

// gzipCompress is the standard-library compression path (spec.md §4.8:
// "compress with a standard lossless scheme"). Every example repo in
// the retrieval pack that touches klauspost/compress pulls it in only
// transitively; no hand-written pack code imports it directly, so
// there is no grounded third-party alternative for the plain gzip
// container format this object key's ".json.gz" extension promises.
func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		gw.Close()
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
