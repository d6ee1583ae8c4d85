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
	"time"

	"github.com/zmwangx/debounce"
)

// newWriteDebouncer coalesces a burst of fsnotify write events on a
// Tailer's one watched path into a single wake signal, so a tailer
// reads appended content once per burst instead of once per event.
// Leading+trailing firing means the first write in a burst wakes the
// tailer immediately and a final catch-up wake follows once the burst
// settles, matching how rotation/truncation checks expect to run right
// after the last write lands rather than mid-burst.
//
// A Tailer only ever watches a single path, so unlike a shared
// debouncer serving many independent keys, one underlying
// zmwangx/debounce instance is all a Tailer needs; it is canceled when
// ctx is done.
func newWriteDebouncer(ctx context.Context, wait time.Duration, wake func()) func() {
	debounceFn, controller := debounce.DebounceWithCustomSignature(
		func(...struct{}) error {
			wake()
			return nil
		},
		wait,
		debounce.WithLeading(true),
		debounce.WithTrailing(true),
	)

	go func() {
		<-ctx.Done()
		controller.Cancel()
	}()

	return func() {
		if ctx.Err() != nil {
			return
		}
		debounceFn(struct{}{})
	}
}
