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

// Package refexec is the reference executor: a deterministic interpreter of
// the envelope command set, expressing all effects through a commit context.
// Production deployments plug in their own language runtime behind the
// components.Executor interface; this one backs local composition and the
// test harness.
package refexec

import (
	"context"
	"fmt"
	"time"

	"github.com/valdere-io/valdere/core/internal/components"
	"github.com/valdere-io/valdere/core/pkg/envelope"
	"github.com/valdere-io/valdere/core/pkg/vdtypes"
)

// Config bounds the acceptable record-time window around the submission's
// ledger-effective time. Zero skews with a nonzero effective time produce a
// point window; a zero effective time leaves the bounds open.
type Config struct {
	MinRecordTimeSkew time.Duration
	MaxRecordTimeSkew time.Duration
}

type executor struct {
	conf Config
}

func New(conf Config) components.Executor {
	return &executor{conf: conf}
}

// DeclaredInputsFor derives the input keys a submission with these commands
// must declare. Submitters call this when building envelopes.
func DeclaredInputsFor(commands []envelope.Command) []vdtypes.StateKey {
	seen := make(map[string]bool)
	var keys []vdtypes.StateKey
	add := func(k vdtypes.StateKey) {
		if !seen[k.MapKey()] {
			seen[k.MapKey()] = true
			keys = append(keys, k)
		}
	}
	for _, cmd := range commands {
		switch cmd.Kind {
		case envelope.CommandCreate:
			add(vdtypes.ContractStateKey(cmd.ContractID))
			if cmd.KeyHash != nil {
				add(vdtypes.ContractKeyStateKey(cmd.KeyHash))
			}
		case envelope.CommandExercise, envelope.CommandFetch:
			add(vdtypes.ContractStateKey(cmd.ContractID))
		case envelope.CommandLookupByKey:
			add(vdtypes.ContractKeyStateKey(cmd.KeyHash))
		}
	}
	return keys
}

func (e *executor) Execute(ctx context.Context, sub *envelope.Submission, cc components.CommitContext) (*components.ExecutionResult, error) {
	for i, cmd := range sub.Commands {
		var err error
		switch cmd.Kind {
		case envelope.CommandCreate:
			err = e.create(ctx, sub, cc, &cmd)
		case envelope.CommandExercise:
			err = e.exercise(ctx, sub, cc, &cmd)
		case envelope.CommandFetch:
			err = e.fetch(ctx, sub, cc, &cmd)
		case envelope.CommandLookupByKey:
			err = e.lookupByKey(ctx, cc, &cmd)
		default:
			err = fmt.Errorf("unknown command kind %d", cmd.Kind)
		}
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
	}
	return &components.ExecutionResult{
		MinRecordTime:        e.minRecordTime(sub),
		MaxRecordTime:        e.maxRecordTime(sub),
		InvolvedParticipants: involvedParticipants(sub),
	}, nil
}

func (e *executor) create(ctx context.Context, sub *envelope.Submission, cc components.CommitContext, cmd *envelope.Command) error {
	contractKey := vdtypes.ContractStateKey(cmd.ContractID)
	existing, err := cc.Get(ctx, contractKey)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("contract %s already exists", cmd.ContractID)
	}
	if cmd.KeyHash != nil {
		indexKey := vdtypes.ContractKeyStateKey(cmd.KeyHash)
		index, err := cc.Get(ctx, indexKey)
		if err != nil {
			return err
		}
		if taken, holder := keyIndexResolves(ctx, index); taken {
			return fmt.Errorf("contract key %s already held by %s", cmd.KeyHash, holder)
		}
		cc.Set(ctx, indexKey, (&vdtypes.StateEntry{
			Kind:     vdtypes.ValueKindKeyIndex,
			KeyIndex: &vdtypes.KeyIndexValue{ContractID: cmd.ContractID},
		}).Encode())
	}
	cc.Set(ctx, contractKey, (&vdtypes.StateEntry{
		Kind: vdtypes.ValueKindContract,
		Contract: &vdtypes.ContractValue{
			Active:    true,
			KeyHash:   cmd.KeyHash,
			Observers: append([]string{sub.SubmitterInfo.Submitter}, cmd.Observers...),
		},
	}).Encode())
	return nil
}

func (e *executor) exercise(ctx context.Context, sub *envelope.Submission, cc components.CommitContext, cmd *envelope.Command) error {
	contract, entry, err := e.fetchContract(ctx, sub, cc, cmd.ContractID)
	if err != nil {
		return err
	}
	if cmd.Consuming {
		archived := *entry.Contract
		archived.Active = false
		cc.Set(ctx, contract, (&vdtypes.StateEntry{
			Kind:     vdtypes.ValueKindContract,
			Contract: &archived,
		}).Encode())
		if entry.Contract.KeyHash != nil {
			// Release the key index so the key can be re-claimed
			cc.Set(ctx, vdtypes.ContractKeyStateKey(entry.Contract.KeyHash), (&vdtypes.StateEntry{
				Kind:     vdtypes.ValueKindKeyIndex,
				KeyIndex: &vdtypes.KeyIndexValue{},
			}).Encode())
		}
	}
	return nil
}

func (e *executor) fetch(ctx context.Context, sub *envelope.Submission, cc components.CommitContext, cmd *envelope.Command) error {
	_, _, err := e.fetchContract(ctx, sub, cc, cmd.ContractID)
	return err
}

func (e *executor) fetchContract(ctx context.Context, sub *envelope.Submission, cc components.CommitContext, contractID vdtypes.HexBytes) (vdtypes.StateKey, *vdtypes.StateEntry, error) {
	key := vdtypes.ContractStateKey(contractID)
	raw, err := cc.Get(ctx, key)
	if err != nil {
		return key, nil, err
	}
	if raw == nil {
		return key, nil, fmt.Errorf("contract %s not found", contractID)
	}
	entry, err := vdtypes.DecodeStateEntry(ctx, raw)
	if err != nil || entry.Contract == nil {
		return key, nil, fmt.Errorf("contract %s state is not a contract record", contractID)
	}
	if !entry.Contract.Active && !entry.DivulgedOrObservedBy(sub.SubmitterInfo.Submitter) {
		return key, nil, fmt.Errorf("contract %s is not active", contractID)
	}
	return key, entry, nil
}

func (e *executor) lookupByKey(ctx context.Context, cc components.CommitContext, cmd *envelope.Command) error {
	index, err := cc.Get(ctx, vdtypes.ContractKeyStateKey(cmd.KeyHash))
	if err != nil {
		return err
	}
	resolves, holder := keyIndexResolves(ctx, index)
	if cmd.ExpectedContractID == nil {
		if resolves {
			return fmt.Errorf("key %s expected absent, resolves to %s", cmd.KeyHash, holder)
		}
		return nil
	}
	if !resolves || !holder.Equals(cmd.ExpectedContractID) {
		return fmt.Errorf("key %s does not resolve to %s", cmd.KeyHash, cmd.ExpectedContractID)
	}
	return nil
}

func keyIndexResolves(ctx context.Context, raw vdtypes.StateValue) (bool, vdtypes.HexBytes) {
	if raw == nil {
		return false, nil
	}
	entry, err := vdtypes.DecodeStateEntry(ctx, raw)
	if err != nil || entry.KeyIndex == nil || entry.KeyIndex.ContractID == nil {
		return false, nil
	}
	return true, entry.KeyIndex.ContractID
}

func (e *executor) minRecordTime(sub *envelope.Submission) *vdtypes.Timestamp {
	if sub.LedgerEffectiveTime == 0 {
		return nil
	}
	t := vdtypes.TimestampFromTime(sub.LedgerEffectiveTime.Time().Add(-e.conf.MinRecordTimeSkew))
	return &t
}

func (e *executor) maxRecordTime(sub *envelope.Submission) *vdtypes.Timestamp {
	if sub.LedgerEffectiveTime == 0 {
		return nil
	}
	t := vdtypes.TimestampFromTime(sub.LedgerEffectiveTime.Time().Add(e.conf.MaxRecordTimeSkew))
	return &t
}

func involvedParticipants(sub *envelope.Submission) []string {
	seen := map[string]bool{sub.SubmitterInfo.Submitter: true}
	participants := []string{sub.SubmitterInfo.Submitter}
	for _, cmd := range sub.Commands {
		for _, o := range cmd.Observers {
			if !seen[o] {
				seen[o] = true
				participants = append(participants, o)
			}
		}
	}
	return participants
}
