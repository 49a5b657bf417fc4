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

// Package envelope defines the versioned wire form of a submission handed to
// the validation engine. An envelope carries either a single submission, or a
// batch of correlated submissions. The encoding is deterministic CBOR, so the
// envelope bytes themselves are a stable input to content addressing.
package envelope

import (
	"context"

	"github.com/fxamacker/cbor/v2"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/valdere-io/valdere/core/internal/msgs"
	"github.com/valdere-io/valdere/core/pkg/vdtypes"
)

// CurrentVersion is written on encode. Decode accepts this version only -
// there is no version older than 1 in the wild.
const CurrentVersion = 1

type Kind uint8

const (
	KindSubmission Kind = 1
	KindBatch      Kind = 2
)

type CommandKind uint8

const (
	CommandCreate      CommandKind = 1 // create a contract, optionally claiming a contract key
	CommandExercise    CommandKind = 2 // exercise a choice on a contract (consuming archives it)
	CommandFetch       CommandKind = 3 // fetch a contract by ID
	CommandLookupByKey CommandKind = 4 // resolve a contract key, asserting absence or a specific contract
)

// Command is one effect-bearing instruction within a submission. Which fields
// are meaningful depends on Kind.
type Command struct {
	Kind               CommandKind      `cbor:"1,keyasint"`
	ContractID         vdtypes.HexBytes `cbor:"2,keyasint,omitempty"` // exercise/fetch target; create: the new contract ID
	KeyHash            vdtypes.HexBytes `cbor:"3,keyasint,omitempty"` // create/lookupByKey: the contract key hash
	ExpectedContractID vdtypes.HexBytes `cbor:"4,keyasint,omitempty"` // lookupByKey: asserted resolution (nil asserts absence)
	Consuming          bool             `cbor:"5,keyasint,omitempty"` // exercise: archives the contract
	Observers          []string         `cbor:"6,keyasint,omitempty"` // create: parties witnessing creation
}

// SubmitterInfo identifies the submitting party and the command for
// deduplication and completion correlation
type SubmitterInfo struct {
	Submitter        string            `cbor:"1,keyasint"`
	CommandID        string            `cbor:"2,keyasint"`
	DeduplicateUntil vdtypes.Timestamp `cbor:"3,keyasint,omitempty"`
}

// Submission is the unit of validation: declared inputs, the commands to
// execute against them, and the submitter's timing expectations
type Submission struct {
	SubmitterInfo       SubmitterInfo      `cbor:"1,keyasint"`
	LedgerEffectiveTime vdtypes.Timestamp  `cbor:"2,keyasint"`
	DeclaredInputs      []vdtypes.StateKey `cbor:"3,keyasint,omitempty"`
	Commands            []Command          `cbor:"4,keyasint"`
}

// BatchEntry correlates one submission within a batch envelope
type BatchEntry struct {
	CorrelationID string `cbor:"1,keyasint"`
	Submission    []byte `cbor:"2,keyasint"` // an encoded single-submission envelope
}

// Envelope is the decoded top-level wire structure
type Envelope struct {
	Version    uint16        `cbor:"1,keyasint"`
	Kind       Kind          `cbor:"2,keyasint"`
	Submission *Submission   `cbor:"3,keyasint,omitempty"`
	Batch      []*BatchEntry `cbor:"4,keyasint,omitempty"`
}

var encMode cbor.EncMode

func init() {
	// Core-deterministic encoding so re-encoding the same submission always
	// yields the same bytes (and thus the same entry ID)
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em
}

func EncodeSubmission(s *Submission) ([]byte, error) {
	return encMode.Marshal(&Envelope{
		Version:    CurrentVersion,
		Kind:       KindSubmission,
		Submission: s,
	})
}

func EncodeBatch(entries []*BatchEntry) ([]byte, error) {
	return encMode.Marshal(&Envelope{
		Version: CurrentVersion,
		Kind:    KindBatch,
		Batch:   entries,
	})
}

// Decode parses and structurally validates an envelope. All failures are
// decode errors fatal to the enclosing submission only.
func Decode(ctx context.Context, raw []byte) (*Envelope, error) {
	var env Envelope
	if err := cbor.Unmarshal(raw, &env); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgEnvelopeDecodeFailed)
	}
	if env.Version == 0 || env.Version > CurrentVersion {
		return nil, i18n.NewError(ctx, msgs.MsgEnvelopeUnsupportedVersion, env.Version, CurrentVersion)
	}
	switch env.Kind {
	case KindSubmission:
		if err := validateSubmission(ctx, env.Submission); err != nil {
			return nil, err
		}
	case KindBatch:
		if len(env.Batch) == 0 {
			return nil, i18n.NewError(ctx, msgs.MsgEnvelopeNotABatch)
		}
	default:
		return nil, i18n.NewError(ctx, msgs.MsgEnvelopeDecodeFailed)
	}
	return &env, nil
}

func validateSubmission(ctx context.Context, s *Submission) error {
	if s == nil || len(s.Commands) == 0 {
		return i18n.NewError(ctx, msgs.MsgEnvelopeEmptySubmission)
	}
	if s.SubmitterInfo.Submitter == "" || s.SubmitterInfo.CommandID == "" {
		return i18n.NewError(ctx, msgs.MsgEnvelopeMissingSubmitter)
	}
	return nil
}
