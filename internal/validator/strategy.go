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

package validator

import (
	"context"

	"github.com/valdere-io/valdere/core/internal/components"
	"github.com/valdere-io/valdere/core/pkg/vdtypes"
)

// LedgerWriteSet is the reference physical write-set shape: the state delta
// plus the log-entry status the committer records for the submission.
// Backends with richer formats supply their own CommitStrategy instead.
type LedgerWriteSet struct {
	EntryID vdtypes.HexBytes
	Status  components.CompletionStatus
	Writes  []components.StateWrite
}

type ledgerCommitStrategy struct{}

// NewLedgerCommitStrategy builds the reference commit strategy. The success
// write set carries the execution outputs plus a dedup marker for the
// command's window; the out-of-time-bounds alternative carries no state
// writes, only a rejection log entry.
func NewLedgerCommitStrategy() components.CommitStrategy[*LedgerWriteSet] {
	return &ledgerCommitStrategy{}
}

func (s *ledgerCommitStrategy) GenerateWriteSets(_ context.Context, participantID string, entryID vdtypes.HexBytes, _ []*components.StateRead, outcome *components.ExecutionOutcome) (*components.GeneratedWriteSets[*LedgerWriteSet], error) {
	writes := outcome.Outputs
	if until := outcome.Submission.SubmitterInfo.DeduplicateUntil; until != 0 {
		dedupEntry := &vdtypes.StateEntry{
			Kind:  vdtypes.ValueKindDedup,
			Dedup: &vdtypes.DedupValue{DeduplicatedUntil: until},
		}
		writes = append(writes, components.StateWrite{
			Key:   vdtypes.CommandDedupStateKey(outcome.Submission.SubmitterInfo.Submitter, outcome.Submission.SubmitterInfo.CommandID),
			Value: dedupEntry.Encode(),
		})
	}

	participants := outcome.InvolvedParticipants
	if len(participants) == 0 {
		participants = []string{participantID}
	}

	return &components.GeneratedWriteSets[*LedgerWriteSet]{
		Success: &LedgerWriteSet{
			EntryID: entryID,
			Status:  components.StatusOK,
			Writes:  writes,
		},
		OutOfTimeBounds: &LedgerWriteSet{
			EntryID: entryID,
			Status:  components.StatusOutOfTimeBounds,
		},
		InvolvedParticipants: participants,
	}, nil
}

// SelectWriteSet applies the record-time bounds of a pre-execution output to
// the finally-assigned record time, choosing which alternative the committer
// must apply. Nil bounds are open.
func SelectWriteSet[W any](out *components.PreExecutionOutput[W], recordTime vdtypes.Timestamp) W {
	if out.MinRecordTime != nil && recordTime.Before(*out.MinRecordTime) {
		return out.OutOfTimeBounds
	}
	if out.MaxRecordTime != nil && recordTime.After(*out.MaxRecordTime) {
		return out.OutOfTimeBounds
	}
	return out.Success
}
