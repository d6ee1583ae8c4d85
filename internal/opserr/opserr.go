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

// Package opserr defines the error taxonomy from spec.md §7: transient
// I/O, configuration faults, protocol violations, resource exhaustion,
// and poisoned messages. Components wrap the sentinel with
// fmt.Errorf("...: %w", sentinel) and callers dispatch on errors.Is.
package opserr

import "errors"

var (
	// ErrTransient marks I/O errors that should be retried with
	// backoff and never surface past the component boundary.
	ErrTransient = errors.New("transient I/O error")

	// ErrConfig marks a configuration fault: fatal at startup only.
	ErrConfig = errors.New("configuration fault")

	// ErrProtocol marks an undecodable message or corrupt line: the
	// offending record is dropped and the pipeline continues.
	ErrProtocol = errors.New("protocol violation")

	// ErrExhausted marks a resource-exhaustion condition (queue or
	// buffer overflow) whose policy is drop-oldest or disconnect.
	ErrExhausted = errors.New("resource exhausted")

	// ErrPoisoned marks a message that has exceeded its negative-ack
	// retry budget and must be dead-lettered.
	ErrPoisoned = errors.New("poisoned message")
)
