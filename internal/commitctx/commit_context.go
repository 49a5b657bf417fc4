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

// Package commitctx implements the per-attempt working set of a validation:
// the declared inputs with their fingerprints, the staged output writes, and
// the record of which inputs were actually read. A context is exclusively
// owned by one in-flight validation, is never shared, and is discarded once
// its outputs and read set have been extracted.
package commitctx

import (
	"context"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/valdere-io/valdere/core/internal/components"
	"github.com/valdere-io/valdere/core/internal/msgs"
	"github.com/valdere-io/valdere/core/pkg/vdtypes"
)

type trackedInput struct {
	key         vdtypes.StateKey
	value       vdtypes.StateValue // nil means declared, but never written
	fingerprint vdtypes.Fingerprint
}

type stagedOutput struct {
	key   vdtypes.StateKey
	value vdtypes.StateValue
}

// Context tracks one validation attempt. Not safe for concurrent use - by
// construction a single executor goroutine owns it.
type Context struct {
	recordTime  *vdtypes.Timestamp
	inputs      map[string]*trackedInput
	accessed    map[string]bool
	outputs     map[string]*stagedOutput
	outputOrder []string
}

// New builds a context over the batch-read declared inputs. A nil recordTime
// puts the context in pre-execution mode.
func New(recordTime *vdtypes.Timestamp, inputs []*components.StateRead) *Context {
	cc := &Context{
		recordTime: recordTime,
		inputs:     make(map[string]*trackedInput, len(inputs)),
		accessed:   make(map[string]bool, len(inputs)),
		outputs:    make(map[string]*stagedOutput),
	}
	for _, in := range inputs {
		cc.inputs[in.Key.MapKey()] = &trackedInput{
			key:         in.Key,
			value:       in.Value,
			fingerprint: in.Fingerprint,
		}
	}
	return cc
}

// Get returns the current value of a key, checking staged outputs before the
// declared inputs. A key found in neither was never declared - that is a
// protocol violation by the executor, never a user error.
func (cc *Context) Get(ctx context.Context, key vdtypes.StateKey) (vdtypes.StateValue, error) {
	mk := key.MapKey()
	if out, ok := cc.outputs[mk]; ok {
		return out.value, nil
	}
	if in, ok := cc.inputs[mk]; ok {
		// Only input hits enter the accessed set - declared-but-unread keys
		// must not inflate the read set
		cc.accessed[mk] = true
		return in.value, nil
	}
	return nil, i18n.NewError(ctx, msgs.MsgContextMissingInputState, key)
}

// Set stages a write. The position of a key in the output sequence is fixed
// by its first Set, even if the value is overwritten later.
func (cc *Context) Set(_ context.Context, key vdtypes.StateKey, value vdtypes.StateValue) {
	mk := key.MapKey()
	if _, seen := cc.outputs[mk]; !seen {
		cc.outputOrder = append(cc.outputOrder, mk)
	}
	cc.outputs[mk] = &stagedOutput{key: key, value: value}
}

// PreExecute is true when no record time has been assigned yet
func (cc *Context) PreExecute() bool {
	return cc.recordTime == nil
}

// RecordTime returns the assigned record time, or nil in pre-execution mode
func (cc *Context) RecordTime() *vdtypes.Timestamp {
	return cc.recordTime
}

// GetOutputs extracts the minimal state delta in first-set order. A key whose
// final value equals its declared input value is suppressed - rewriting an
// unchanged value is not an effective write.
func (cc *Context) GetOutputs() []components.StateWrite {
	writes := make([]components.StateWrite, 0, len(cc.outputOrder))
	for _, mk := range cc.outputOrder {
		out := cc.outputs[mk]
		if in, declared := cc.inputs[mk]; declared && in.value.Equals(out.value) {
			continue
		}
		writes = append(writes, components.StateWrite{Key: out.key, Value: out.value})
	}
	return writes
}

// GetAccessedInputKeysWithFingerprints returns the set of inputs the executor
// actually read, each with the fingerprint captured at read time. Order is
// unspecified; callers sort canonically when emitting a read set.
func (cc *Context) GetAccessedInputKeysWithFingerprints() []components.ReadSetEntry {
	entries := make([]components.ReadSetEntry, 0, len(cc.accessed))
	for mk := range cc.accessed {
		in := cc.inputs[mk]
		entries = append(entries, components.ReadSetEntry{
			KeyBytes:    in.key.Bytes(),
			Fingerprint: in.fingerprint,
		})
	}
	return entries
}
