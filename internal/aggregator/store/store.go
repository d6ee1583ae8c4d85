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

// Package store persists LogRecords to a time-series collection and
// serves the filtered-read and archival-scan queries the rest of the
// aggregator depends on (spec.md §4.6, §6).
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/opsentra/opsentra/internal/opserr"
	"github.com/opsentra/opsentra/internal/record"
)

const (
	databaseName   = "opsentra"
	collectionName = "logs"

	// ttlSeconds is the store-native retention window (spec.md §4.6:
	// "native TTL of 30 days").
	ttlSeconds = 30 * 24 * 3600

	// namespaceExistsCode is the server error code for creating a
	// collection that already exists.
	namespaceExistsCode = 48
)

// Store wraps the time-series collection backing persisted records.
type Store struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Connect dials the store at uri and pings it. Collection/index setup
// is a separate step (EnsureCollection) per the lifecycle supervisor's
// startup ordering (spec.md §4.9).
func Connect(ctx context.Context, uri string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: store: connect: %w", opserr.ErrConfig, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%w: store: ping: %w", opserr.ErrTransient, err)
	}
	return &Store{
		client: client,
		coll:   client.Database(databaseName).Collection(collectionName),
	}, nil
}

// Close disconnects from the store.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks store reachability for health reporting (spec.md §6).
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, nil); err != nil {
		return fmt.Errorf("%w: store: ping: %w", opserr.ErrTransient, err)
	}
	return nil
}

// EnsureCollection creates the time-series collection and its
// secondary indexes if they do not already exist. It checks for the
// collection before creating it; if another instance creates it
// between the check and the create, the resulting NamespaceExists
// error is treated as success, so the creation race spec.md §9 flags
// is tolerated.
func (s *Store) EnsureCollection(ctx context.Context) error {
	names, err := s.client.Database(databaseName).ListCollectionNames(ctx, bson.M{"name": collectionName})
	if err != nil {
		return fmt.Errorf("%w: store: list collections: %w", opserr.ErrTransient, err)
	}

	if len(names) == 0 {
		tsOpts := options.TimeSeries().
			SetTimeField("timestamp").
			SetMetaField("service").
			SetGranularity("minutes")

		createOpts := options.CreateCollection().
			SetTimeSeriesOptions(tsOpts).
			SetExpireAfterSeconds(ttlSeconds)

		if err := s.client.Database(databaseName).CreateCollection(ctx, collectionName, createOpts); err != nil {
			var cmdErr mongo.CommandError
			if !errors.As(err, &cmdErr) || cmdErr.Code != namespaceExistsCode {
				return fmt.Errorf("%w: store: create time-series collection: %w", opserr.ErrTransient, err)
			}
		}
	}

	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "timestamp", Value: -1}, {Key: "service", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "level", Value: 1}, {Key: "timestamp", Value: -1}},
		},
		{
			Keys: bson.D{{Key: "synced", Value: 1}, {Key: "timestamp", Value: 1}},
		},
	}
	if _, err := s.coll.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("%w: store: create indexes: %w", opserr.ErrTransient, err)
	}

	return nil
}

// Insert persists rec with synced=false and returns its assigned
// identifier.
func (s *Store) Insert(ctx context.Context, rec record.LogRecord) (string, error) {
	doc := record.Persisted{LogRecord: rec, Synced: false}
	res, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("%w: store: insert: %w", opserr.ErrTransient, err)
	}
	oid, ok := res.InsertedID.(interface{ Hex() string })
	if !ok {
		return "", fmt.Errorf("%w: store: unexpected inserted id type", opserr.ErrTransient)
	}
	return oid.Hex(), nil
}

// ApplyEnrichment locates the record by identifier and sets its
// enrichment fields (spec.md §4.6 update path).
func (s *Store) ApplyEnrichment(ctx context.Context, id string, enr record.Enrichment) error {
	objID, err := objectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: store: invalid identifier %q: %w", opserr.ErrProtocol, id, err)
	}

	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": objID},
		bson.M{"$set": bson.M{"enrichment": enr}},
	)
	if err != nil {
		return fmt.Errorf("%w: store: apply enrichment: %w", opserr.ErrTransient, err)
	}
	return nil
}

// FetchOptions narrows a filtered-fetch read (spec.md §6).
type FetchOptions struct {
	Limit   int64
	Service string
	Level   string
}

// Fetch returns persisted records matching opts, most recent first.
func (s *Store) Fetch(ctx context.Context, opts FetchOptions) ([]record.Persisted, error) {
	filter := bson.M{}
	if opts.Service != "" {
		filter["service"] = opts.Service
	}
	if opts.Level != "" {
		filter["level"] = opts.Level
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}}).
		SetLimit(limit)

	cur, err := s.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: store: fetch: %w", opserr.ErrTransient, err)
	}
	defer cur.Close(ctx)

	var results []record.Persisted
	if err := cur.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("%w: store: decode fetch results: %w", opserr.ErrTransient, err)
	}
	return results, nil
}

// ListServices returns the distinct service values seen in the store.
func (s *Store) ListServices(ctx context.Context) ([]string, error) {
	raw, err := s.coll.Distinct(ctx, "service", bson.M{})
	if err != nil {
		return nil, fmt.Errorf("%w: store: distinct services: %w", opserr.ErrTransient, err)
	}
	services := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			services = append(services, s)
		}
	}
	return services, nil
}

// SelectUnsynced returns up to limit unsynchronized records captured
// within the last window, for the Archival Scheduler (spec.md §4.8).
func (s *Store) SelectUnsynced(ctx context.Context, window time.Duration, limit int64) ([]record.Persisted, error) {
	cutoff := time.Now().UTC().Add(-window)
	filter := bson.M{
		"synced":    false,
		"timestamp": bson.M{"$gte": cutoff},
	}

	findOpts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: 1}}).
		SetLimit(limit)

	cur, err := s.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: store: select unsynced: %w", opserr.ErrTransient, err)
	}
	defer cur.Close(ctx)

	var results []record.Persisted
	if err := cur.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("%w: store: decode unsynced results: %w", opserr.ErrTransient, err)
	}
	return results, nil
}

// MarkSynced atomically sets synced=true and syncedAt=at for ids,
// after a successful archival upload (spec.md §4.8). Archival
// monotonicity (spec.md §8) depends on this being the only writer of
// synced=true.
func (s *Store) MarkSynced(ctx context.Context, ids []string, at time.Time) error {
	objIDs := make([]interface{}, 0, len(ids))
	for _, id := range ids {
		oid, err := objectIDFromHex(id)
		if err != nil {
			continue
		}
		objIDs = append(objIDs, oid)
	}
	if len(objIDs) == 0 {
		return nil
	}

	_, err := s.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": objIDs}},
		bson.M{"$set": bson.M{"synced": true, "syncedAt": at}},
	)
	if err != nil {
		return fmt.Errorf("%w: store: mark synced: %w", opserr.ErrTransient, err)
	}
	return nil
}
