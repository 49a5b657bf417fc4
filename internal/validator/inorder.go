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

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/valdere-io/valdere/core/internal/commitctx"
	"github.com/valdere-io/valdere/core/internal/components"
	"github.com/valdere-io/valdere/core/internal/msgs"
	"github.com/valdere-io/valdere/core/pkg/envelope"
	"github.com/valdere-io/valdere/core/pkg/vdtypes"
)

// InOrderResult is the single write set of an in-order validation. Unlike
// pre-execution there is no alternative write set: the record time is already
// known, so time-bound rejections surface as errors instead.
type InOrderResult struct {
	EntryID              vdtypes.HexBytes
	RecordTime           vdtypes.Timestamp
	Writes               []components.StateWrite
	InvolvedParticipants []string
}

// InOrderValidator validates a submission directly against current head
// state, with the final record time already assigned
type InOrderValidator struct {
	participantID string
	reader        components.StateReader
	executor      components.Executor
}

func NewInOrderValidator(participantID string, reader components.StateReader, executor components.Executor) *InOrderValidator {
	return &InOrderValidator{
		participantID: participantID,
		reader:        reader,
		executor:      executor,
	}
}

func boundString(ts *vdtypes.Timestamp) string {
	if ts == nil {
		return "open"
	}
	return ts.String()
}

func (v *InOrderValidator) Validate(ctx context.Context, correlationID string, rawEnvelope []byte, recordTime vdtypes.Timestamp) (*InOrderResult, error) {
	ctx = log.WithLogField(ctx, "correlation", correlationID)
	if recordTime == 0 {
		return nil, i18n.NewError(ctx, msgs.MsgValidatorRecordTimeRequired)
	}

	env, err := envelope.Decode(ctx, rawEnvelope)
	if err != nil {
		return nil, err
	}
	if env.Kind != envelope.KindSubmission {
		return nil, i18n.NewError(ctx, msgs.MsgEnvelopeBatchUnsupported, len(env.Batch))
	}
	sub := env.Submission

	inputs, err := v.reader.ReadState(ctx, sub.DeclaredInputs)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgValidatorStateReadFailed, len(sub.DeclaredInputs))
	}
	if len(inputs) != len(sub.DeclaredInputs) {
		return nil, i18n.NewError(ctx, msgs.MsgValidatorInputCountMismatch, len(inputs), len(sub.DeclaredInputs))
	}

	cc := commitctx.New(&recordTime, inputs)
	execResult, err := v.executor.Execute(ctx, sub, cc)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgValidatorExecutionFailed, correlationID)
	}

	// The record time is already fixed, so a bound violation that the
	// pre-execution path would resolve by applying the out-of-time-bounds
	// write set is a rejection here. Both paths must reach the same decision
	// for the same envelope.
	if (execResult.MinRecordTime != nil && recordTime.Before(*execResult.MinRecordTime)) ||
		(execResult.MaxRecordTime != nil && recordTime.After(*execResult.MaxRecordTime)) {
		return nil, i18n.NewError(ctx, msgs.MsgValidatorRecordTimeOutside,
			recordTime, boundString(execResult.MinRecordTime), boundString(execResult.MaxRecordTime))
	}

	result := &InOrderResult{
		EntryID:              ComputeEntryID(rawEnvelope),
		RecordTime:           recordTime,
		Writes:               cc.GetOutputs(),
		InvolvedParticipants: execResult.InvolvedParticipants,
	}
	log.L(ctx).Debugf("Validated submission in-order entry=%s writes=%d", result.EntryID.HexString0xPrefix(), len(result.Writes))
	return result, nil
}
