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
	"github.com/valdere-io/valdere/core/internal/components"
	"github.com/valdere-io/valdere/core/internal/msgs"
	"github.com/valdere-io/valdere/core/pkg/vdtypes"
)

// VerifyReadSet is the reference commit-time conflict check: re-read every
// key of a pre-executed submission's read set and compare fingerprints. True
// means no key changed since pre-execution, so the success write set is safe
// to apply at this position in the order. Backends with native versioning
// perform this check themselves; this helper serves those without.
func VerifyReadSet(ctx context.Context, reader components.StateReader, readSet []components.ReadSetEntry) (bool, error) {
	keys := make([]vdtypes.StateKey, len(readSet))
	for i, entry := range readSet {
		key, err := vdtypes.ParseStateKey(ctx, entry.KeyBytes)
		if err != nil {
			return false, err
		}
		keys[i] = key
	}

	reads, err := reader.ReadState(ctx, keys)
	if err != nil {
		return false, i18n.WrapError(ctx, err, msgs.MsgValidatorStateReadFailed, len(keys))
	}
	if len(reads) != len(keys) {
		return false, i18n.NewError(ctx, msgs.MsgValidatorInputCountMismatch, len(reads), len(keys))
	}

	for i, r := range reads {
		if !r.Fingerprint.Equals(readSet[i].Fingerprint) {
			log.L(ctx).Debugf("Read set conflict on %s (was %s, now %s)", keys[i], readSet[i].Fingerprint, r.Fingerprint)
			return false, nil
		}
	}
	return true, nil
}
