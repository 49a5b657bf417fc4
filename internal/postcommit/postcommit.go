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

// Package postcommit re-validates causal claims at serialization time. A
// submission was interpreted against a snapshot; by the time the total order
// fixes its position, overlapping commits may have invalidated what the
// interpreter assumed - a contract key claimed by a racing create, a fetched
// contract archived, a lookup gone stale. Each command is judged
// independently against now-current state: a failing command becomes a
// rejection on the completion stream and neither blocks nor rolls back its
// siblings.
package postcommit

import (
	"context"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/valdere-io/valdere/core/internal/components"
	"github.com/valdere-io/valdere/core/internal/msgs"
	"github.com/valdere-io/valdere/core/pkg/envelope"
	"github.com/valdere-io/valdere/core/pkg/vdtypes"
)

// CommandResult is the independent outcome of one command's re-validation
type CommandResult struct {
	Index int
	Err   error // nil means the causal claims still hold
}

func (r *CommandResult) OK() bool {
	return r.Err == nil
}

type Validator struct {
	reader components.StateReader
}

func New(reader components.StateReader) *Validator {
	return &Validator{reader: reader}
}

// Validate re-checks every command of a committed submission against
// now-current state. The returned slice has one entry per command, in
// command order. Only a state-read failure aborts the whole call.
func (v *Validator) Validate(ctx context.Context, sub *envelope.Submission) ([]*CommandResult, error) {
	state, err := v.readCurrentState(ctx, sub)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgPostCommitStateReadFailed)
	}

	results := make([]*CommandResult, len(sub.Commands))
	for i, cmd := range sub.Commands {
		results[i] = &CommandResult{Index: i, Err: v.checkCommand(ctx, sub, &cmd, state)}
		if results[i].Err != nil {
			log.L(ctx).Infof("Post-commit rejection for command %d of %s/%s: %s",
				i, sub.SubmitterInfo.Submitter, sub.SubmitterInfo.CommandID, results[i].Err)
		}
	}
	return results, nil
}

// readCurrentState batch-reads, in one snapshot, everything any command's
// re-check can touch: the directly referenced keys, plus the contracts that
// key indexes currently resolve to (a second, dependent read).
func (v *Validator) readCurrentState(ctx context.Context, sub *envelope.Submission) (map[string]*vdtypes.StateEntry, error) {
	direct := DeclaredChecksFor(sub.Commands)
	state, err := v.readInto(ctx, direct, map[string]*vdtypes.StateEntry{})
	if err != nil {
		return nil, err
	}

	var holders []vdtypes.StateKey
	for _, entry := range state {
		if entry != nil && entry.KeyIndex != nil && entry.KeyIndex.ContractID != nil {
			holders = append(holders, vdtypes.ContractStateKey(entry.KeyIndex.ContractID))
		}
	}
	if len(holders) == 0 {
		return state, nil
	}
	return v.readInto(ctx, holders, state)
}

func (v *Validator) readInto(ctx context.Context, keys []vdtypes.StateKey, state map[string]*vdtypes.StateEntry) (map[string]*vdtypes.StateEntry, error) {
	var missing []vdtypes.StateKey
	for _, k := range keys {
		if _, ok := state[k.MapKey()]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return state, nil
	}
	reads, err := v.reader.ReadState(ctx, missing)
	if err != nil {
		return nil, err
	}
	for _, r := range reads {
		if r.Value == nil {
			state[r.Key.MapKey()] = nil
			continue
		}
		entry, err := vdtypes.DecodeStateEntry(ctx, r.Value)
		if err != nil {
			return nil, err
		}
		state[r.Key.MapKey()] = entry
	}
	return state, nil
}

// DeclaredChecksFor lists the state keys post-commit validation reads for
// these commands
func DeclaredChecksFor(commands []envelope.Command) []vdtypes.StateKey {
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
			if cmd.KeyHash != nil {
				add(vdtypes.ContractKeyStateKey(cmd.KeyHash))
			}
		case envelope.CommandLookupByKey:
			add(vdtypes.ContractKeyStateKey(cmd.KeyHash))
		case envelope.CommandExercise, envelope.CommandFetch:
			add(vdtypes.ContractStateKey(cmd.ContractID))
		}
	}
	return keys
}

func (v *Validator) checkCommand(ctx context.Context, sub *envelope.Submission, cmd *envelope.Command, state map[string]*vdtypes.StateEntry) error {
	switch cmd.Kind {
	case envelope.CommandCreate:
		return v.checkCreate(ctx, cmd, state)
	case envelope.CommandLookupByKey:
		return v.checkLookup(ctx, cmd, state)
	case envelope.CommandExercise, envelope.CommandFetch:
		return v.checkActiveOrDivulged(ctx, sub, cmd, state)
	default:
		return i18n.NewError(ctx, msgs.MsgPostCommitUnknownCommandKind, cmd.Kind)
	}
}

// resolveKey follows a key-index entry to its holding contract, returning the
// holder only if that contract is still active
func resolveKey(keyHash vdtypes.HexBytes, state map[string]*vdtypes.StateEntry) vdtypes.HexBytes {
	index := state[vdtypes.ContractKeyStateKey(keyHash).MapKey()]
	if index == nil || index.KeyIndex == nil || index.KeyIndex.ContractID == nil {
		return nil
	}
	holder := state[vdtypes.ContractStateKey(index.KeyIndex.ContractID).MapKey()]
	if holder == nil || holder.Contract == nil || !holder.Contract.Active {
		return nil
	}
	return index.KeyIndex.ContractID
}

func (v *Validator) checkCreate(ctx context.Context, cmd *envelope.Command, state map[string]*vdtypes.StateEntry) error {
	if cmd.KeyHash == nil {
		return nil // keyless creates have no uniqueness claim to re-check
	}
	if holder := resolveKey(cmd.KeyHash, state); holder != nil && !holder.Equals(cmd.ContractID) {
		return i18n.NewError(ctx, msgs.MsgPostCommitKeyAlreadyExists, cmd.KeyHash, holder)
	}
	return nil
}

func (v *Validator) checkLookup(ctx context.Context, cmd *envelope.Command, state map[string]*vdtypes.StateEntry) error {
	holder := resolveKey(cmd.KeyHash, state)
	if cmd.ExpectedContractID == nil {
		if holder != nil {
			return i18n.NewError(ctx, msgs.MsgPostCommitLookupNowExists, cmd.KeyHash, holder)
		}
		return nil
	}
	if !cmd.ExpectedContractID.Equals(holder) {
		return i18n.NewError(ctx, msgs.MsgPostCommitLookupMismatch, cmd.KeyHash, cmd.ExpectedContractID, holder)
	}
	return nil
}

func (v *Validator) checkActiveOrDivulged(ctx context.Context, sub *envelope.Submission, cmd *envelope.Command, state map[string]*vdtypes.StateEntry) error {
	entry := state[vdtypes.ContractStateKey(cmd.ContractID).MapKey()]
	if entry != nil && entry.Contract != nil {
		if entry.Contract.Active {
			return nil
		}
		// An archived contract stays fetchable for parties it was explicitly
		// divulged to between interpretation and commit
		if entry.DivulgedOrObservedBy(sub.SubmitterInfo.Submitter) {
			return nil
		}
	}
	return i18n.NewError(ctx, msgs.MsgPostCommitContractNotActive, cmd.ContractID, sub.SubmitterInfo.Submitter)
}
