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
	"crypto/sha256"

	"github.com/valdere-io/valdere/core/pkg/vdtypes"
)

// entryIDVersionPrefix is folded into the digest on both the pre-execution
// and in-order paths. A single fixed byte: bump only if the entry format
// itself changes incompatibly.
const entryIDVersionPrefix byte = 0x01

// ComputeEntryID derives the content-addressed identifier of a submission
// from the raw envelope bytes. Independent of eventual ordering - two
// participants pre-executing the same envelope derive the same ID.
func ComputeEntryID(rawEnvelope []byte) vdtypes.HexBytes {
	h := sha256.New()
	h.Write([]byte{entryIDVersionPrefix})
	h.Write(rawEnvelope)
	return h.Sum(nil)
}
