// Copyright © 2025 Valdere, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package components holds the interfaces between the validation engine and
// its external collaborators (state reader, executor, commit strategy,
// completion sink), so each can be mocked independently and selected at
// composition time.
package components

import (
	"context"

	"github.com/valdere-io/valdere/core/pkg/envelope"
	"github.com/valdere-io/valdere/core/pkg/vdtypes"
)

// StateRead is one (value option, fingerprint) result of a batch state read.
// A nil Value means the key has never been written; the fingerprint still
// captures that fact for later conflict detection.
type StateRead struct {
	Key         vdtypes.StateKey
	Value       vdtypes.StateValue
	Fingerprint vdtypes.Fingerprint
}

// StateReader batch-reads ledger state, snapshot-consistent at call time.
// Results are returned in request order, one per key.
type StateReader interface {
	ReadState(ctx context.Context, keys []vdtypes.StateKey) ([]*StateRead, error)
}

// CommitContext is the executor's window onto state during one validation
// attempt. Get falls back from staged outputs to declared inputs; a key never
// declared is a protocol violation. Implemented by commitctx.
type CommitContext interface {
	// Get returns the current value of a key (nil if declared absent), output-first
	Get(ctx context.Context, key vdtypes.StateKey) (vdtypes.StateValue, error)
	// Set stages a write, preserving first-set ordering
	Set(ctx context.Context, key vdtypes.StateKey, value vdtypes.StateValue)
	// PreExecute is true when no record time has been assigned yet
	PreExecute() bool
	// RecordTime is the assigned record time, nil during pre-execution
	RecordTime() *vdtypes.Timestamp
}

// Executor evaluates a submission into effects expressed through the commit
// context. It must be deterministic given exactly the declared inputs - no
// hidden clock, no I/O.
type Executor interface {
	Execute(ctx context.Context, sub *envelope.Submission, cc CommitContext) (*ExecutionResult, error)
}

// ExecutionResult carries the record-time bounds the executor derived, and
// the participants that must learn the outcome
type ExecutionResult struct {
	MinRecordTime        *vdtypes.Timestamp
	MaxRecordTime        *vdtypes.Timestamp
	InvolvedParticipants []string
}

// StateWrite is one key/value pair of the minimal state delta
type StateWrite struct {
	Key   vdtypes.StateKey
	Value vdtypes.StateValue
}

// ReadSetEntry pairs a canonically-serialized key with the fingerprint
// observed when it was read
type ReadSetEntry struct {
	KeyBytes    vdtypes.HexBytes
	Fingerprint vdtypes.Fingerprint
}

// ExecutionOutcome is everything the commit strategy needs to materialize
// physical write sets for one validated submission
type ExecutionOutcome struct {
	Submission           *envelope.Submission
	MinRecordTime        *vdtypes.Timestamp
	MaxRecordTime        *vdtypes.Timestamp
	Outputs              []StateWrite // minimal diff extracted from the commit context
	InvolvedParticipants []string
}

// GeneratedWriteSets holds the two alternative physical write sets of a
// pre-executed submission. Which one applies is decided downstream, when the
// final record time is known.
type GeneratedWriteSets[W any] struct {
	Success              W
	OutOfTimeBounds      W
	InvolvedParticipants []string
}

// CommitStrategy materializes backend-specific write sets over an abstract
// write-set type W, selected at composition time
type CommitStrategy[W any] interface {
	GenerateWriteSets(ctx context.Context, participantID string, entryID vdtypes.HexBytes, inputs []*StateRead, outcome *ExecutionOutcome) (*GeneratedWriteSets[W], error)
}

// PreExecutionOutput is the immutable result of pre-executing one submission,
// handed to the ordering/commit layer
type PreExecutionOutput[W any] struct {
	EntryID              vdtypes.HexBytes
	MinRecordTime        *vdtypes.Timestamp
	MaxRecordTime        *vdtypes.Timestamp
	Success              W
	OutOfTimeBounds      W
	ReadSet              []ReadSetEntry
	InvolvedParticipants []string
}
