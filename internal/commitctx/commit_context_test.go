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

package commitctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valdere-io/valdere/core/internal/components"
	"github.com/valdere-io/valdere/core/pkg/vdtypes"
)

func testKey(id byte) vdtypes.StateKey {
	return vdtypes.ContractStateKey(vdtypes.HexBytes{id, id, id})
}

func testInput(id byte, value vdtypes.StateValue) *components.StateRead {
	return &components.StateRead{
		Key:         testKey(id),
		Value:       value,
		Fingerprint: vdtypes.FingerprintFor(value),
	}
}

func TestGetReturnsDeclaredInput(t *testing.T) {
	ctx := context.Background()
	cc := New(nil, []*components.StateRead{
		testInput(1, vdtypes.StateValue("v1")),
		testInput(2, nil), // declared, never written
	})

	v, err := cc.Get(ctx, testKey(1))
	require.NoError(t, err)
	assert.Equal(t, vdtypes.StateValue("v1"), v)

	v, err = cc.Get(ctx, testKey(2))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestGetChecksOutputsBeforeInputs(t *testing.T) {
	ctx := context.Background()
	cc := New(nil, []*components.StateRead{testInput(1, vdtypes.StateValue("v1"))})

	cc.Set(ctx, testKey(1), vdtypes.StateValue("v2"))
	v, err := cc.Get(ctx, testKey(1))
	require.NoError(t, err)
	assert.Equal(t, vdtypes.StateValue("v2"), v)
}

func TestGetUndeclaredKeyIsProtocolViolation(t *testing.T) {
	ctx := context.Background()
	cc := New(nil, []*components.StateRead{testInput(1, vdtypes.StateValue("v1"))})

	_, err := cc.Get(ctx, testKey(9))
	assert.Regexp(t, "VD010200", err)
}

func TestReadingTwiceYieldsOneReadSetEntry(t *testing.T) {
	ctx := context.Background()
	cc := New(nil, []*components.StateRead{
		testInput(1, vdtypes.StateValue("v1")),
		testInput(2, vdtypes.StateValue("v2")),
	})

	_, err := cc.Get(ctx, testKey(1))
	require.NoError(t, err)
	_, err = cc.Get(ctx, testKey(1))
	require.NoError(t, err)

	accessed := cc.GetAccessedInputKeysWithFingerprints()
	require.Len(t, accessed, 1)
	assert.Equal(t, vdtypes.HexBytes(testKey(1).Bytes()), accessed[0].KeyBytes)
	assert.True(t, accessed[0].Fingerprint.Equals(vdtypes.FingerprintForValue(vdtypes.StateValue("v1"))))
}

func TestDeclaredButUnreadKeysNeverEnterReadSet(t *testing.T) {
	cc := New(nil, []*components.StateRead{
		testInput(1, vdtypes.StateValue("v1")),
		testInput(2, vdtypes.StateValue("v2")),
	})
	assert.Empty(t, cc.GetAccessedInputKeysWithFingerprints())
}

func TestOutputHitsDoNotEnterAccessedSet(t *testing.T) {
	ctx := context.Background()
	cc := New(nil, []*components.StateRead{testInput(1, vdtypes.StateValue("v1"))})

	cc.Set(ctx, testKey(1), vdtypes.StateValue("v2"))
	_, err := cc.Get(ctx, testKey(1)) // resolved from outputs
	require.NoError(t, err)

	assert.Empty(t, cc.GetAccessedInputKeysWithFingerprints())
}

func TestNoOpWritesAreSuppressed(t *testing.T) {
	ctx := context.Background()
	cc := New(nil, []*components.StateRead{
		testInput(1, vdtypes.StateValue("v1")),
		testInput(2, nil),
	})

	// Intermediate change, then back to the declared input value
	cc.Set(ctx, testKey(1), vdtypes.StateValue("other"))
	cc.Set(ctx, testKey(1), vdtypes.StateValue("v1"))
	// Absent input set to nil output is also a no-op
	cc.Set(ctx, testKey(2), nil)
	// A genuine write survives
	cc.Set(ctx, testKey(3), vdtypes.StateValue("v3"))

	outputs := cc.GetOutputs()
	require.Len(t, outputs, 1)
	assert.True(t, outputs[0].Key.Equals(testKey(3)))
}

func TestOutputOrderIsFirstSetOrder(t *testing.T) {
	ctx := context.Background()
	cc := New(nil, nil)

	cc.Set(ctx, testKey(3), vdtypes.StateValue("a"))
	cc.Set(ctx, testKey(1), vdtypes.StateValue("b"))
	cc.Set(ctx, testKey(2), vdtypes.StateValue("c"))
	cc.Set(ctx, testKey(3), vdtypes.StateValue("d")) // overwrite keeps first position

	outputs := cc.GetOutputs()
	require.Len(t, outputs, 3)
	assert.True(t, outputs[0].Key.Equals(testKey(3)))
	assert.Equal(t, vdtypes.StateValue("d"), outputs[0].Value)
	assert.True(t, outputs[1].Key.Equals(testKey(1)))
	assert.True(t, outputs[2].Key.Equals(testKey(2)))
}

func TestPreExecuteFollowsRecordTime(t *testing.T) {
	cc := New(nil, nil)
	assert.True(t, cc.PreExecute())
	assert.Nil(t, cc.RecordTime())

	rt := vdtypes.TimestampNow()
	cc = New(&rt, nil)
	assert.False(t, cc.PreExecute())
	require.NotNil(t, cc.RecordTime())
	assert.Equal(t, rt, *cc.RecordTime())
}
