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

// Package logging configures the process-wide zerolog logger.
package logging

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Options controls global logger configuration.
type Options struct {
	Level  string // trace, debug, info, warn, error, fatal, disabled
	Format string // json or pretty
}

var configureOnce sync.Once

// Configure installs the global zerolog logger. Safe to call multiple
// times; only the first call takes effect.
func Configure(opts Options) {
	configureOnce.Do(func() {
		zerolog.TimestampFunc = func() time.Time {
			return time.Now().UTC()
		}
		zerolog.TimeFieldFormat = time.RFC3339Nano
		zerolog.DurationFieldUnit = time.Millisecond

		level, err := zerolog.ParseLevel(opts.Level)
		if err != nil {
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)

		if opts.Format == "pretty" {
			zlog.Logger = zlog.Logger.Output(zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: time.RFC3339Nano,
			})
		}
	})
}

// Component returns a logger pre-tagged with a component name, the
// convention every package in this repo uses for structured fields
// (component, operation, and caller-supplied identifiers).
func Component(name string) zerolog.Logger {
	return zlog.With().Str("component", name).Logger()
}
