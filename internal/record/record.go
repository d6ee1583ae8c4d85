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

// Package record defines the canonical LogRecord type shared by the
// Shipper and the Aggregator.
package record

import (
	"fmt"
	"time"
)

// Level is a normalized log severity.
type Level string

const (
	LevelTrace Level = "trace"
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// IsValid reports whether l is one of the known levels.
func (l Level) IsValid() bool {
	switch l {
	case LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return true
	}
	return false
}

// SourceType classifies where a record came from.
type SourceType string

const (
	SourceTypeSystem    SourceType = "system"
	SourceTypeContainer SourceType = "container"
	SourceTypePod       SourceType = "pod"
	SourceTypeCI        SourceType = "ci"
	SourceTypeCustom    SourceType = "custom"
)

// LogRecord is the universal unit produced by the Shipper and stored
// by the Aggregator.
type LogRecord struct {
	Timestamp  time.Time         `json:"timestamp" bson:"timestamp"`
	Level      Level             `json:"level" bson:"level"`
	Service    string            `json:"service" bson:"service"`
	Host       string            `json:"host" bson:"host"`
	IP         string            `json:"ip" bson:"ip"`
	Source     string            `json:"source" bson:"source"`
	Message    string            `json:"message" bson:"message"`
	SourceType SourceType        `json:"sourceType" bson:"sourceType"`
	Metadata   map[string]string `json:"metadata,omitempty" bson:"metadata,omitempty"`
}

// Validate enforces the invariants in spec.md §3: every record has a
// non-empty message, service, host, timestamp, and a level drawn from
// the enumeration.
func (r LogRecord) Validate() error {
	if r.Message == "" {
		return fmt.Errorf("record: empty message")
	}
	if r.Service == "" {
		return fmt.Errorf("record: empty service")
	}
	if r.Host == "" {
		return fmt.Errorf("record: empty host")
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("record: zero timestamp")
	}
	if !r.Level.IsValid() {
		return fmt.Errorf("record: invalid level %q", r.Level)
	}
	return nil
}

// RoutingKey returns the AMQP routing key for this record per spec.md
// §4.4: "logs.<service>.<ip-or-host>".
func (r LogRecord) RoutingKey() string {
	identity := r.IP
	if identity == "" {
		identity = r.Host
	}
	return fmt.Sprintf("logs.%s.%s", r.Service, identity)
}

// Enrichment is the asynchronous secondary payload produced by the
// (out of scope) enrichment service and merged onto a persisted record.
type Enrichment struct {
	Analysis    string    `json:"analysis" bson:"analysis"`
	Suggestions []string  `json:"suggestions" bson:"suggestions"`
	Confidence  float64   `json:"confidence" bson:"confidence"`
	EnrichedAt  time.Time `json:"enrichedAt" bson:"enrichedAt"`
}

// EnrichmentMessage is the wire shape of an `enriched` queue payload
// per spec.md §6.
type EnrichmentMessage struct {
	Identifier  string   `json:"identifier"`
	Analysis    string   `json:"analysis"`
	Suggestions []string `json:"suggestions"`
	Confidence  float64  `json:"confidence"`
}

// Persisted is a LogRecord plus the Aggregator-side archival bookkeeping
// fields described in spec.md §3.
type Persisted struct {
	ID         string      `json:"id" bson:"_id,omitempty"`
	LogRecord  `bson:",inline"`
	Synced     bool        `json:"synced" bson:"synced"`
	SyncedAt   time.Time   `json:"syncedAt,omitempty" bson:"syncedAt,omitempty"`
	Enrichment *Enrichment `json:"enrichment,omitempty" bson:"enrichment,omitempty"`
}
