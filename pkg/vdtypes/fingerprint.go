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
	"crypto/sha256"
)

// Fingerprint is the opaque version marker captured for a stored value at
// read time. Two equal fingerprints for the same key imply no effective
// change between the reads. It carries no meaning beyond equality.
type Fingerprint []byte

const (
	fingerprintTagAbsent  = 0x00
	fingerprintTagPresent = 0x01
)

// FingerprintAbsent is the fixed marker for a key that has never been written
func FingerprintAbsent() Fingerprint {
	return Fingerprint{fingerprintTagAbsent}
}

// FingerprintForValue derives the reference fingerprint of a stored value: a
// presence tag followed by the SHA-256 of the value bytes. Backends with a
// native version counter may substitute their own construction - equality is
// the only contract.
func FingerprintForValue(v StateValue) Fingerprint {
	h := sha256.Sum256(v)
	return append(Fingerprint{fingerprintTagPresent}, h[:]...)
}

// FingerprintFor derives the fingerprint of an optional value
func FingerprintFor(v StateValue) Fingerprint {
	if v == nil {
		return FingerprintAbsent()
	}
	return FingerprintForValue(v)
}

func (f Fingerprint) Equals(f2 Fingerprint) bool {
	return HexBytes(f).Equals(HexBytes(f2))
}

func (f Fingerprint) String() string {
	return HexBytes(f).HexString0xPrefix()
}
