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

package builder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opsentra/opsentra/internal/netidentity"
	"github.com/opsentra/opsentra/internal/record"
	"github.com/opsentra/opsentra/internal/shipper/discover"
	"github.com/opsentra/opsentra/internal/shipper/tailer"
)

func TestExtractLevel(t *testing.T) {
	tests := []struct {
		name string
		line string
		want record.Level
	}{
		{"bracketed", "[ERROR] upstream timed out", record.LevelError},
		{"colon suffixed", "WARN: disk almost full", record.LevelWarn},
		{"date prefixed", "2025-09-17 10:30:00 INFO: starting worker", record.LevelInfo},
		{"critical folds to error", "[CRITICAL] out of memory", record.LevelError},
		{"warning folds to warn", "[WARNING] retrying connection", record.LevelWarn},
		{"secondary heuristic error word", "request failed with error code 500", record.LevelError},
		{"secondary heuristic warn word", "deprecated flag used, warning emitted once", record.LevelWarn},
		{"secondary heuristic debug word", "entering loop in debug mode", record.LevelDebug},
		{"no match defaults to info", "starting worker normally", record.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, extractLevel(tt.line))
		})
	}
}

func TestBuildPlainLine(t *testing.T) {
	b := New(netidentity.New())
	line := tailer.Line{
		Source: discover.Source{
			Path:       "/var/log/app.log",
			SourceType: record.SourceTypeSystem,
			Service:    "app",
		},
		Text:   "2025-09-17 10:30:00 INFO: starting worker",
		ReadAt: time.Date(2025, 9, 17, 10, 30, 0, 0, time.UTC),
	}

	rec, ok := b.Build(line)
	require.True(t, ok)
	require.Equal(t, record.LevelInfo, rec.Level)
	require.Equal(t, "app", rec.Service)
	require.Equal(t, "2025-09-17 10:30:00 INFO: starting worker", rec.Message)
	require.Equal(t, record.SourceTypeSystem, rec.SourceType)
}

func TestBuildContainerUnwrap(t *testing.T) {
	b := New(netidentity.New())
	line := tailer.Line{
		Source: discover.Source{
			Path:       "/var/lib/docker/containers/abc123/abc123-json.log",
			SourceType: record.SourceTypeContainer,
			Service:    "myapp",
			AuxMetadata: map[string]string{
				"containerId": "abc123",
			},
		},
		Text:   `{"log":"[WARN] disk 90% full\n","stream":"stderr","time":"2025-09-17T10:30:00Z"}`,
		ReadAt: time.Now().UTC(),
	}

	rec, ok := b.Build(line)
	require.True(t, ok)
	require.Equal(t, "[WARN] disk 90% full", rec.Message)
	require.Equal(t, record.LevelWarn, rec.Level)
	require.Equal(t, record.SourceTypeContainer, rec.SourceType)
	require.Equal(t, "abc123", rec.Metadata["containerId"])
}

func TestBuildContainerParseFailureTreatedAsPlain(t *testing.T) {
	b := New(netidentity.New())
	line := tailer.Line{
		Source: discover.Source{
			Path:       "/var/lib/docker/containers/abc123/abc123-json.log",
			SourceType: record.SourceTypeContainer,
			Service:    "myapp",
		},
		Text:   `{not valid json`,
		ReadAt: time.Now().UTC(),
	}

	rec, ok := b.Build(line)
	require.True(t, ok)
	require.Equal(t, `{not valid json`, rec.Message)
}

func TestBuildEmptyLineDropped(t *testing.T) {
	b := New(netidentity.New())
	line := tailer.Line{
		Source: discover.Source{Path: "/var/log/app.log", Service: "app"},
		Text:   "   ",
	}

	_, ok := b.Build(line)
	require.False(t, ok)
}
