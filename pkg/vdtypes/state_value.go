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

package vdtypes

import (
	"context"

	"github.com/fxamacker/cbor/v2"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/valdere-io/valdere/core/internal/msgs"
)

// StateValue is the opaque versioned value stored against a StateKey. The
// validation engine compares and copies these without interpretation; only
// the executor and the post-commit validator decode them.
type StateValue []byte

func (v StateValue) Equals(v2 StateValue) bool {
	if v == nil || v2 == nil {
		return v == nil && v2 == nil
	}
	return HexBytes(v).Equals(HexBytes(v2))
}

// ValueKind tags the CBOR union stored in a StateValue by the reference stack
type ValueKind uint8

const (
	ValueKindContract ValueKind = 1 // a contract instance record
	ValueKindKeyIndex ValueKind = 2 // contract-key index entry
	ValueKindDedup    ValueKind = 3 // command dedup marker
)

// ContractValue is the stored record of a contract instance
type ContractValue struct {
	Active     bool     `cbor:"1,keyasint"`
	KeyHash    HexBytes `cbor:"2,keyasint,omitempty"` // hash of the contract key, if the template has one
	Observers  []string `cbor:"3,keyasint,omitempty"` // parties that witnessed creation
	DivulgedTo []string `cbor:"4,keyasint,omitempty"` // parties the contract was divulged to after creation
}

// KeyIndexValue records which active contract (if any) a contract key
// currently resolves to
type KeyIndexValue struct {
	ContractID HexBytes `cbor:"1,keyasint,omitempty"`
}

// DedupValue marks a command as executed within its deduplication window
type DedupValue struct {
	DeduplicatedUntil Timestamp `cbor:"1,keyasint"`
}

// StateEntry is the decoded form of a StateValue
type StateEntry struct {
	Kind     ValueKind      `cbor:"1,keyasint"`
	Contract *ContractValue `cbor:"2,keyasint,omitempty"`
	KeyIndex *KeyIndexValue `cbor:"3,keyasint,omitempty"`
	Dedup    *DedupValue    `cbor:"4,keyasint,omitempty"`
}

func (e *StateEntry) Encode() StateValue {
	b, err := cbor.Marshal(e)
	if err != nil {
		panic(err) // static struct shape, cannot fail marshaling
	}
	return b
}

func DecodeStateEntry(ctx context.Context, v StateValue) (*StateEntry, error) {
	var e StateEntry
	if err := cbor.Unmarshal(v, &e); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgTypesInvalidValueKind, 0)
	}
	switch e.Kind {
	case ValueKindContract, ValueKindKeyIndex, ValueKindDedup:
		return &e, nil
	default:
		return nil, i18n.NewError(ctx, msgs.MsgTypesInvalidValueKind, e.Kind)
	}
}

func (e *StateEntry) DivulgedOrObservedBy(party string) bool {
	if e.Contract == nil {
		return false
	}
	for _, p := range e.Contract.Observers {
		if p == party {
			return true
		}
	}
	for _, p := range e.Contract.DivulgedTo {
		if p == party {
			return true
		}
	}
	return false
}
