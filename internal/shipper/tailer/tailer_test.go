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

package tailer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/opsentra/opsentra/internal/record"
	"github.com/opsentra/opsentra/internal/shipper/discover"
)

func testSource(path string) discover.Source {
	return discover.Source{
		Path:       path,
		SourceType: record.SourceTypeSystem,
		Service:    "app",
	}
}

func TestTailerEmitsAppendedLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	out := make(chan Line, 16)
	tl := New(testSource(path), 5*time.Second, out, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- tl.Run(ctx) }()

	// give the watcher time to attach before writing
	time.Sleep(100 * time.Millisecond)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("first line\nsecond line\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	select {
	case line := <-out:
		require.Equal(t, "first line", line.Text)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for first line")
	}

	select {
	case line := <-out:
		require.Equal(t, "second line", line.Text)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for second line")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tailer did not stop after cancel")
	}
}

func TestTailerHandlesRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.log")
	require.NoError(t, os.WriteFile(path, []byte("before rotation\n"), 0o644))

	out := make(chan Line, 16)
	tl := New(testSource(path), 5*time.Second, out, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = tl.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	// rotate: rename aside, create a fresh file at the same path
	require.NoError(t, os.Rename(path, path+".1"))
	require.NoError(t, os.WriteFile(path, []byte("after rotation\n"), 0o644))

	select {
	case line := <-out:
		require.Equal(t, "after rotation", line.Text)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for post-rotation line")
	}
}

func TestTailerAbandonsAfterRetryWindow(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gone.log")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	require.NoError(t, os.Remove(path))

	out := make(chan Line, 1)
	tl := New(testSource(path), 300*time.Millisecond, out, zerolog.Nop())

	err := tl.Run(context.Background())
	require.Error(t, err)
}
