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

// Package builder turns a raw tailed line into a fully populated
// LogRecord (spec.md §4.3): level extraction, container-runtime JSON
// unwrap, and host/IP identity attachment.
package builder

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/opsentra/opsentra/internal/netidentity"
	"github.com/opsentra/opsentra/internal/record"
	"github.com/opsentra/opsentra/internal/shipper/tailer"
)

// levelToken matches any recognized level word, case-insensitively.
const levelToken = `(?:error|warn|warning|info|debug|trace|fatal|critical)`

var (
	bracketLevelRe = regexp.MustCompile(`(?i)\[(` + levelToken + `)\]`)
	colonLevelRe   = regexp.MustCompile(`(?i)\b(` + levelToken + `)\b\s*:`)
	dateLevelRe    = regexp.MustCompile(`(?i)^\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?\s+(` + levelToken + `)\b`)

	secondaryErrorRe = regexp.MustCompile(`(?i)\b(error|err|fatal|critical)\b`)
	secondaryWarnRe  = regexp.MustCompile(`(?i)\b(warn|warning)\b`)
	secondaryInfoRe  = regexp.MustCompile(`(?i)\binfo\b`)
	secondaryDebugRe = regexp.MustCompile(`(?i)\b(debug|trace)\b`)
)

// containerLogLine is the container runtime's one-JSON-object-per-line
// wire format (spec.md §4.2, §4.3).
type containerLogLine struct {
	Log    string `json:"log"`
	Stream string `json:"stream"`
}

// Builder constructs LogRecords from tailed lines.
type Builder struct {
	identity *netidentity.Identity
}

// New returns a Builder using identity for host/IP attachment.
func New(identity *netidentity.Identity) *Builder {
	return &Builder{identity: identity}
}

// Build takes a tailed line and yields a fully populated LogRecord.
// Empty trimmed lines yield (zero-value, false).
func (b *Builder) Build(line tailer.Line) (record.LogRecord, bool) {
	raw := strings.TrimRight(line.Text, "\r\n")
	if strings.TrimSpace(raw) == "" {
		return record.LogRecord{}, false
	}

	message := raw
	sourceType := line.Source.SourceType

	if sourceType == record.SourceTypeContainer && strings.HasPrefix(strings.TrimSpace(raw), "{") {
		var unwrapped containerLogLine
		if err := json.Unmarshal([]byte(raw), &unwrapped); err == nil && unwrapped.Log != "" {
			message = strings.TrimRight(unwrapped.Log, "\r\n")
		}
	}

	rec := record.LogRecord{
		Timestamp:  line.ReadAt,
		Level:      extractLevel(message),
		Service:    line.Source.Service,
		Host:       b.identity.Host(),
		IP:         b.identity.IP(),
		Source:     line.Source.Path,
		Message:    message,
		SourceType: sourceType,
		Metadata:   line.Source.AuxMetadata,
	}
	return rec, true
}

// extractLevel implements the ordered extraction rules of spec.md
// §4.3: bracketed level, colon-suffixed level, or date-prefixed level,
// each case-insensitive; falling back to a word-scan heuristic; and
// finally defaulting to info.
func extractLevel(line string) record.Level {
	for _, re := range []*regexp.Regexp{bracketLevelRe, colonLevelRe, dateLevelRe} {
		if m := re.FindStringSubmatch(line); m != nil {
			return normalizeLevel(m[1])
		}
	}

	switch {
	case secondaryErrorRe.MatchString(line):
		return record.LevelError
	case secondaryWarnRe.MatchString(line):
		return record.LevelWarn
	case secondaryInfoRe.MatchString(line):
		return record.LevelInfo
	case secondaryDebugRe.MatchString(line):
		return record.LevelDebug
	default:
		return record.LevelInfo
	}
}

// normalizeLevel maps a matched level token onto the canonical
// six-value Level enumeration (spec.md §3): "warning" folds to warn,
// "critical" folds to error.
func normalizeLevel(token string) record.Level {
	switch strings.ToLower(token) {
	case "warning":
		return record.LevelWarn
	case "critical":
		return record.LevelError
	default:
		lvl := record.Level(strings.ToLower(token))
		if lvl.IsValid() {
			return lvl
		}
		return record.LevelInfo
	}
}
