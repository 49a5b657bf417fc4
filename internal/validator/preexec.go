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

// Package validator implements the two validation modes of the engine.
//
// Pre-execution computes a submission's effects before the ordering layer
// has assigned a position or record time: it reads the declared inputs once,
// executes, and emits two alternative write sets plus a canonical read set.
// The ordering/commit layer later compares the read set's fingerprints
// against then-current state and picks which write set to apply - this
// package never re-reads state after the initial batch read.
//
// In-order validation runs with an assigned record time directly against
// current head state, and produces a single write set.
package validator

import (
	"bytes"
	"context"
	"sort"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/valdere-io/valdere/core/internal/commitctx"
	"github.com/valdere-io/valdere/core/internal/components"
	"github.com/valdere-io/valdere/core/internal/msgs"
	"github.com/valdere-io/valdere/core/pkg/envelope"
)

// PreExecutingValidator validates submissions speculatively, before total
// order is assigned. W is the backend write-set type of the commit strategy.
type PreExecutingValidator[W any] struct {
	participantID string
	reader        components.StateReader
	executor      components.Executor
	strategy      components.CommitStrategy[W]
}

func NewPreExecutingValidator[W any](
	participantID string,
	reader components.StateReader,
	executor components.Executor,
	strategy components.CommitStrategy[W],
) *PreExecutingValidator[W] {
	return &PreExecutingValidator[W]{
		participantID: participantID,
		reader:        reader,
		executor:      executor,
		strategy:      strategy,
	}
}

// Validate pre-executes one raw submission envelope. On any failure it
// returns a typed error and no partial output.
func (v *PreExecutingValidator[W]) Validate(ctx context.Context, correlationID string, rawEnvelope []byte) (*components.PreExecutionOutput[W], error) {
	ctx = log.WithLogField(ctx, "correlation", correlationID)

	env, err := envelope.Decode(ctx, rawEnvelope)
	if err != nil {
		return nil, err
	}
	if env.Kind == envelope.KindBatch {
		// Pre-execution operates at single-submission granularity only
		return nil, i18n.NewError(ctx, msgs.MsgEnvelopeBatchUnsupported, len(env.Batch))
	}
	sub := env.Submission

	inputs, err := v.readDeclaredInputs(ctx, sub)
	if err != nil {
		return nil, err
	}

	cc := commitctx.New(nil, inputs)
	execResult, err := v.executor.Execute(ctx, sub, cc)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgValidatorExecutionFailed, correlationID)
	}

	entryID := ComputeEntryID(rawEnvelope)

	writeSets, err := v.strategy.GenerateWriteSets(ctx, v.participantID, entryID, inputs, &components.ExecutionOutcome{
		Submission:           sub,
		MinRecordTime:        execResult.MinRecordTime,
		MaxRecordTime:        execResult.MaxRecordTime,
		Outputs:              cc.GetOutputs(),
		InvolvedParticipants: execResult.InvolvedParticipants,
	})
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgValidatorWriteSetFailed, entryID)
	}

	out := &components.PreExecutionOutput[W]{
		EntryID:              entryID,
		MinRecordTime:        execResult.MinRecordTime,
		MaxRecordTime:        execResult.MaxRecordTime,
		Success:              writeSets.Success,
		OutOfTimeBounds:      writeSets.OutOfTimeBounds,
		ReadSet:              canonicalReadSet(cc),
		InvolvedParticipants: writeSets.InvolvedParticipants,
	}
	log.L(ctx).Debugf("Pre-executed submission entry=%s reads=%d participants=%d",
		entryID.HexString0xPrefix(), len(out.ReadSet), len(out.InvolvedParticipants))
	return out, nil
}

func (v *PreExecutingValidator[W]) readDeclaredInputs(ctx context.Context, sub *envelope.Submission) ([]*components.StateRead, error) {
	inputs, err := v.reader.ReadState(ctx, sub.DeclaredInputs)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgValidatorStateReadFailed, len(sub.DeclaredInputs))
	}
	if len(inputs) != len(sub.DeclaredInputs) {
		return nil, i18n.NewError(ctx, msgs.MsgValidatorInputCountMismatch, len(inputs), len(sub.DeclaredInputs))
	}
	return inputs, nil
}

// canonicalReadSet extracts the accessed inputs sorted by the canonical
// serialized key form, so independently-running participants derive
// byte-identical read sets
func canonicalReadSet(cc *commitctx.Context) []components.ReadSetEntry {
	readSet := cc.GetAccessedInputKeysWithFingerprints()
	sort.Slice(readSet, func(i, j int) bool {
		return bytes.Compare(readSet[i].KeyBytes, readSet[j].KeyBytes) < 0
	})
	return readSet
}
