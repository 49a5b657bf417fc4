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
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"sort"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/valdere-io/valdere/core/internal/msgs"
)

// KeyDomain partitions the ledger state key space. The domain byte leads the
// canonical serialized form, so keys of different domains never collide and
// sort grouped by domain.
type KeyDomain byte

const (
	KeyDomainContract     KeyDomain = 0x01 // a contract instance, ID is the contract ID
	KeyDomainContractKey  KeyDomain = 0x02 // the contract-key index, ID is the key hash
	KeyDomainCommandDedup KeyDomain = 0x03 // command deduplication entries
	KeyDomainParty        KeyDomain = 0x04 // party allocations
	KeyDomainConfig       KeyDomain = 0x05 // ledger configuration
)

func (d KeyDomain) String() string {
	switch d {
	case KeyDomainContract:
		return "contract"
	case KeyDomainContractKey:
		return "contract-key"
	case KeyDomainCommandDedup:
		return "command-dedup"
	case KeyDomainParty:
		return "party"
	case KeyDomainConfig:
		return "config"
	default:
		return fmt.Sprintf("unknown-0x%02x", byte(d))
	}
}

// StateKey identifies one unit of ledger state. It is opaque to the storage
// layer, which only ever sees the canonical serialized byte form.
type StateKey struct {
	Domain KeyDomain `json:"domain"`
	ID     HexBytes  `json:"id"`
}

func ContractStateKey(contractID HexBytes) StateKey {
	return StateKey{Domain: KeyDomainContract, ID: contractID}
}

func ContractKeyStateKey(keyHash HexBytes) StateKey {
	return StateKey{Domain: KeyDomainContractKey, ID: keyHash}
}

// CommandDedupStateKey derives the dedup key for a (submitter, commandId)
// pair. Hashed so arbitrary-length identifiers produce a fixed-size key.
func CommandDedupStateKey(submitter, commandID string) StateKey {
	h := sha256.New()
	h.Write([]byte(submitter))
	h.Write([]byte{0x00})
	h.Write([]byte(commandID))
	return StateKey{Domain: KeyDomainCommandDedup, ID: h.Sum(nil)}
}

// Bytes returns the canonical serialized form: the domain byte followed by
// the ID bytes. Byte-lexicographic order of this form is the canonical sort
// order for read sets.
func (k StateKey) Bytes() []byte {
	b := make([]byte, 0, 1+len(k.ID))
	b = append(b, byte(k.Domain))
	return append(b, k.ID...)
}

func ParseStateKey(ctx context.Context, b []byte) (StateKey, error) {
	if len(b) < 2 {
		return StateKey{}, i18n.NewError(ctx, msgs.MsgTypesShortKeyBytes, len(b))
	}
	d := KeyDomain(b[0])
	switch d {
	case KeyDomainContract, KeyDomainContractKey, KeyDomainCommandDedup, KeyDomainParty, KeyDomainConfig:
	default:
		return StateKey{}, i18n.NewError(ctx, msgs.MsgTypesUnknownKeyDomain, b[0])
	}
	id := make(HexBytes, len(b)-1)
	copy(id, b[1:])
	return StateKey{Domain: d, ID: id}, nil
}

func (k StateKey) String() string {
	return fmt.Sprintf("%s:%s", k.Domain, k.ID.HexString0xPrefix())
}

func (k StateKey) Equals(k2 StateKey) bool {
	return k.Domain == k2.Domain && k.ID.Equals(k2.ID)
}

// MapKey returns a form usable as a Go map key
func (k StateKey) MapKey() string {
	return string(k.Bytes())
}

func CompareStateKeys(a, b StateKey) int {
	return bytes.Compare(a.Bytes(), b.Bytes())
}

// SortStateKeys sorts in place into canonical byte-lexicographic order
func SortStateKeys(keys []StateKey) {
	sort.Slice(keys, func(i, j int) bool {
		return CompareStateKeys(keys[i], keys[j]) < 0
	})
}
