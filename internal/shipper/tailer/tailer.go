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

// Package tailer follows a single log source across rotation and
// truncation, emitting newline-terminated lines in file order
// (spec.md §4.2). One Tailer runs per source; a Tailer's failure never
// affects any other.
package tailer

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/opsentra/opsentra/internal/shipper/discover"
)

// debounceWait coalesces bursts of write events before triggering a
// read; small enough that single-line-per-write latency stays
// imperceptible.
const debounceWait = 50 * time.Millisecond

// pollInterval is the fallback cadence used to notice file changes a
// directory watch alone might miss (e.g. watch installed after a
// write already landed).
const pollInterval = 1 * time.Second

// Line is one newline-terminated record handed to the Record Builder.
type Line struct {
	Source discover.Source
	Text   string
	ReadAt time.Time
}

// Tailer follows one source file.
type Tailer struct {
	source      discover.Source
	retryWindow time.Duration
	out         chan<- Line
	log         zerolog.Logger
}

// New builds a Tailer for source, delivering lines to out. retryWindow
// bounds how long a tailer keeps retrying a gone/unreadable file
// before abandoning it (spec.md §4.2; minimum 5s is the caller's
// responsibility per config validation).
func New(source discover.Source, retryWindow time.Duration, out chan<- Line, log zerolog.Logger) *Tailer {
	return &Tailer{
		source:      source,
		retryWindow: retryWindow,
		out:         out,
		log:         log.With().Str("source", source.Path).Logger(),
	}
}

// Run tails the source until ctx is canceled or the source is
// abandoned after exceeding retryWindow of consecutive failures.
// Partial buffered content is finalized as a line on return if ctx was
// canceled (explicit finalization at shutdown per spec.md §4.2); it is
// dropped on abandonment since it cannot be trusted to be complete.
func (t *Tailer) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tailer: new watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(t.source.Path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("tailer: watch dir %q: %w", dir, err)
	}

	wake := make(chan struct{}, 1)
	trigger := func() {
		select {
		case wake <- struct{}{}:
		default:
		}
	}
	debouncedWake := newWriteDebouncer(ctx, debounceWait, trigger)

	var (
		file     *os.File
		fileInfo os.FileInfo
		reader   *bufio.Reader
		partial  strings.Builder
	)

	openAtEnd := func() error {
		f, err := os.Open(t.source.Path)
		if err != nil {
			return err
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return err
		}
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			f.Close()
			return err
		}
		file = f
		fileInfo = fi
		reader = bufio.NewReader(f)
		return nil
	}

	// openAtStart reopens a rotated, truncated, or recreated file at
	// offset zero (spec.md §4.2).
	openAtStart := func() error {
		f, err := os.Open(t.source.Path)
		if err != nil {
			return err
		}
		fi, err := f.Stat()
		if err != nil {
			f.Close()
			return err
		}
		file = f
		fileInfo = fi
		reader = bufio.NewReader(f)
		return nil
	}

	firstFailure := time.Time{}
	if err := t.retryOpen(ctx, openAtEnd, &firstFailure); err != nil {
		return err
	}
	defer func() {
		if file != nil {
			file.Close()
		}
	}()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if partial.Len() > 0 {
				t.emit(partial.String())
			}
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(t.source.Path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				debouncedWake()
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				trigger()
			}

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			t.log.Warn().Err(werr).Msg("tailer: watcher error")

		case <-ticker.C:
			trigger()

		case <-wake:
			rotated, err := t.checkRotation(file, fileInfo, t.source.Path)
			if err != nil {
				if closeErr := t.handleMissing(ctx, openAtStart, &firstFailure); closeErr != nil {
					return closeErr
				}
				if file != nil {
					fileInfo, _ = file.Stat()
					reader = bufio.NewReader(file)
				}
				continue
			}
			if rotated {
				t.log.Info().Msg("tailer: rotation detected, reopening at offset zero")
				if file != nil {
					file.Close()
				}
				partial.Reset()
				if err := t.retryOpen(ctx, openAtStart, &firstFailure); err != nil {
					return err
				}
				continue
			}

			firstFailure = time.Time{}
			t.readAvailable(reader, &partial)
			if fi, err := file.Stat(); err == nil {
				fileInfo = fi
			}
		}
	}
}

// checkRotation compares the currently open file against the path on
// disk: a different underlying file (inode change) or a shrunk size
// both indicate rotation/truncation (spec.md §4.2).
func (t *Tailer) checkRotation(file *os.File, openedInfo os.FileInfo, path string) (bool, error) {
	diskInfo, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if !os.SameFile(openedInfo, diskInfo) {
		return true, nil
	}
	curPos, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return false, err
	}
	if diskInfo.Size() < curPos {
		return true, nil
	}
	return false, nil
}

// readAvailable drains whatever is newly available on reader,
// emitting complete lines and retaining any trailing partial line in
// buf across calls.
func (t *Tailer) readAvailable(reader *bufio.Reader, buf *strings.Builder) {
	for {
		chunk, err := reader.ReadString('\n')
		if chunk != "" {
			buf.WriteString(chunk)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.log.Warn().Err(err).Msg("tailer: read error")
			}
			return
		}
		line := strings.TrimSuffix(buf.String(), "\n")
		buf.Reset()
		t.emit(line)
	}
}

func (t *Tailer) emit(line string) {
	line = strings.TrimRight(line, "\r")
	if line == "" {
		return
	}
	select {
	case t.out <- Line{Source: t.source, Text: line, ReadAt: time.Now().UTC()}:
	default:
		// Record Builder / publisher stage is the bounded queue of
		// record (spec.md §4.4); this channel is unbounded in
		// practice (sized generously by the supervisor) so a full
		// channel here indicates a stalled downstream and the line
		// is dropped rather than blocking this tailer indefinitely.
		t.log.Warn().Msg("tailer: downstream channel full, dropping line")
	}
}

// retryOpen attempts openFn repeatedly, 250ms apart, until
// it succeeds, ctx is canceled, or retryWindow has elapsed since the
// first failure, at which point the source is abandoned.
func (t *Tailer) retryOpen(ctx context.Context, openFn func() error, firstFailure *time.Time) error {
	for {
		err := openFn()
		if err == nil {
			return nil
		}
		if firstFailure.IsZero() {
			*firstFailure = time.Now()
		}
		if time.Since(*firstFailure) >= t.retryWindow {
			t.log.Warn().Err(err).Str("source", t.source.Path).Msg("tailer: abandoning source after retry window elapsed")
			return fmt.Errorf("tailer: abandon %q: %w", t.source.Path, err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(250 * time.Millisecond):
		}
	}
}

// handleMissing is called when a rotation check fails (typically
// because the file vanished); it retries reopening within the
// retryWindow before giving up.
func (t *Tailer) handleMissing(ctx context.Context, openFn func() error, firstFailure *time.Time) error {
	return t.retryOpen(ctx, openFn, firstFailure)
}
