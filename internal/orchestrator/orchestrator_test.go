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

package orchestrator

import (
	"context"
	"crypto/sha256"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valdere-io/valdere/core/internal/components"
	"github.com/valdere-io/valdere/core/internal/confutil"
	"github.com/valdere-io/valdere/core/internal/dedup"
	"github.com/valdere-io/valdere/core/internal/refexec"
	"github.com/valdere-io/valdere/core/internal/validator"
	"github.com/valdere-io/valdere/core/pkg/envelope"
	"github.com/valdere-io/valdere/core/pkg/vdconf"
	"github.com/valdere-io/valdere/core/pkg/vdtypes"
)

type mapReader struct {
	state map[string]vdtypes.StateValue
}

func (m *mapReader) ReadState(_ context.Context, keys []vdtypes.StateKey) ([]*components.StateRead, error) {
	reads := make([]*components.StateRead, len(keys))
	for i, k := range keys {
		v := m.state[k.MapKey()]
		reads[i] = &components.StateRead{Key: k, Value: v, Fingerprint: vdtypes.FingerprintFor(v)}
	}
	return reads, nil
}

type recordingDispatcher struct {
	dispatched chan *components.PreExecutionOutput[*validator.LedgerWriteSet]
	block      chan struct{} // when set, Dispatch blocks until closed
	err        error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, out *components.PreExecutionOutput[*validator.LedgerWriteSet]) error {
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if d.err != nil {
		return d.err
	}
	d.dispatched <- out
	return nil
}

type collectSink struct {
	completions chan *components.Completion
}

func (s *collectSink) PublishCompletion(_ context.Context, c *components.Completion) {
	s.completions <- c
}

func (s *collectSink) next(t *testing.T) *components.Completion {
	select {
	case c := <-s.completions:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for completion")
		return nil
	}
}

func newTestOrchestrator(t *testing.T, conf *vdconf.OrchestratorConfig, dispatcher Dispatcher[*validator.LedgerWriteSet]) (*Orchestrator[*validator.LedgerWriteSet], *collectSink) {
	ctx := context.Background()
	dedupMgr, err := dedup.NewManager(ctx, &vdconf.DedupConfig{Store: dedup.StoreMemory}, nil)
	require.NoError(t, err)
	t.Cleanup(dedupMgr.Close)

	preExec := validator.NewPreExecutingValidator(
		"participant-0",
		&mapReader{state: map[string]vdtypes.StateValue{}},
		refexec.New(refexec.Config{MinRecordTimeSkew: time.Minute, MaxRecordTimeSkew: time.Minute}),
		validator.NewLedgerCommitStrategy(),
	)

	sink := &collectSink{completions: make(chan *components.Completion, 100)}
	o := NewOrchestrator(ctx, conf, preExec, dedupMgr, dispatcher, sink)
	o.Start()
	t.Cleanup(o.Stop)
	return o, sink
}

func encodeCreate(t *testing.T, submitter, commandID string, mods ...func(*envelope.Submission)) []byte {
	contract := sha256.Sum256([]byte(submitter + "/" + commandID))
	commands := []envelope.Command{{
		Kind:       envelope.CommandCreate,
		ContractID: contract[:],
	}}
	sub := &envelope.Submission{
		SubmitterInfo:  envelope.SubmitterInfo{Submitter: submitter, CommandID: commandID},
		DeclaredInputs: refexec.DeclaredInputsFor(commands),
		Commands:       commands,
	}
	for _, mod := range mods {
		mod(sub)
	}
	raw, err := envelope.EncodeSubmission(sub)
	require.NoError(t, err)
	return raw
}

func TestSubmitSingleSubmissionDispatches(t *testing.T) {
	dispatcher := &recordingDispatcher{dispatched: make(chan *components.PreExecutionOutput[*validator.LedgerWriteSet], 1)}
	o, sink := newTestOrchestrator(t, &vdconf.OrchestratorConfig{}, dispatcher)

	require.NoError(t, o.Submit(context.Background(), encodeCreate(t, "alice", "cmd-1")))

	out := <-dispatcher.dispatched
	assert.NotEmpty(t, out.EntryID)
	assert.Equal(t, components.StatusOK, out.Success.Status)

	c := sink.next(t)
	assert.Equal(t, "alice", c.Submitter)
	assert.Equal(t, "cmd-1", c.CommandID)
	assert.Equal(t, components.StatusOK, c.Status)
}

func TestSubmitBatchAllEntriesComplete(t *testing.T) {
	dispatcher := &recordingDispatcher{dispatched: make(chan *components.PreExecutionOutput[*validator.LedgerWriteSet], 2)}
	o, sink := newTestOrchestrator(t, &vdconf.OrchestratorConfig{}, dispatcher)

	raw, err := envelope.EncodeBatch([]*envelope.BatchEntry{
		{CorrelationID: "b-1", Submission: encodeCreate(t, "alice", "cmd-1")},
		{CorrelationID: "b-2", Submission: encodeCreate(t, "bob", "cmd-2")},
	})
	require.NoError(t, err)
	require.NoError(t, o.Submit(context.Background(), raw))

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		c := sink.next(t)
		assert.Equal(t, components.StatusOK, c.Status)
		seen[c.Submitter] = true
	}
	assert.True(t, seen["alice"])
	assert.True(t, seen["bob"])
}

func TestSubmitBatchBrokenEntryRejectsIndividually(t *testing.T) {
	dispatcher := &recordingDispatcher{dispatched: make(chan *components.PreExecutionOutput[*validator.LedgerWriteSet], 1)}
	o, sink := newTestOrchestrator(t, &vdconf.OrchestratorConfig{}, dispatcher)

	raw, err := envelope.EncodeBatch([]*envelope.BatchEntry{
		{CorrelationID: "bad", Submission: []byte("not cbor")},
		{CorrelationID: "good", Submission: encodeCreate(t, "alice", "cmd-1")},
	})
	require.NoError(t, err)
	require.NoError(t, o.Submit(context.Background(), raw))

	statuses := map[components.CompletionStatus]bool{}
	for i := 0; i < 2; i++ {
		statuses[sink.next(t).Status] = true
	}
	assert.True(t, statuses[components.StatusInvalidSubmission])
	assert.True(t, statuses[components.StatusOK])
}

func TestSubmitBatchUncorrelatedEntryGetsGeneratedID(t *testing.T) {
	dispatcher := &recordingDispatcher{dispatched: make(chan *components.PreExecutionOutput[*validator.LedgerWriteSet], 1)}
	o, sink := newTestOrchestrator(t, &vdconf.OrchestratorConfig{}, dispatcher)

	raw, err := envelope.EncodeBatch([]*envelope.BatchEntry{
		{Submission: []byte("not cbor")}, // no correlation ID supplied
	})
	require.NoError(t, err)
	require.NoError(t, o.Submit(context.Background(), raw))

	c := sink.next(t)
	assert.Equal(t, components.StatusInvalidSubmission, c.Status)
	assert.NotEmpty(t, c.CommandID)
}

func TestSubmitUndecodableEnvelope(t *testing.T) {
	dispatcher := &recordingDispatcher{dispatched: make(chan *components.PreExecutionOutput[*validator.LedgerWriteSet], 1)}
	o, _ := newTestOrchestrator(t, &vdconf.OrchestratorConfig{}, dispatcher)

	err := o.Submit(context.Background(), []byte("garbage"))
	assert.Regexp(t, "VD010100", err)
}

func TestDuplicateCommandRejected(t *testing.T) {
	dispatcher := &recordingDispatcher{dispatched: make(chan *components.PreExecutionOutput[*validator.LedgerWriteSet], 2)}
	o, sink := newTestOrchestrator(t, &vdconf.OrchestratorConfig{}, dispatcher)

	until := vdtypes.TimestampFromTime(time.Now().Add(time.Hour))
	raw := encodeCreate(t, "alice", "cmd-1", func(s *envelope.Submission) {
		s.SubmitterInfo.DeduplicateUntil = until
	})

	require.NoError(t, o.Submit(context.Background(), raw))
	c := sink.next(t)
	require.Equal(t, components.StatusOK, c.Status)

	require.NoError(t, o.Submit(context.Background(), raw))
	c = sink.next(t)
	assert.Equal(t, components.StatusDuplicateCommand, c.Status)
	assert.Regexp(t, "VD010500", c.Detail)
}

func TestValidationFailureReleasesDedupWindow(t *testing.T) {
	dispatcher := &recordingDispatcher{dispatched: make(chan *components.PreExecutionOutput[*validator.LedgerWriteSet], 1)}
	o, sink := newTestOrchestrator(t, &vdconf.OrchestratorConfig{}, dispatcher)

	until := vdtypes.TimestampFromTime(time.Now().Add(time.Hour))
	// Fetch of a contract that does not exist fails execution
	contract := sha256.Sum256([]byte("missing"))
	commands := []envelope.Command{{Kind: envelope.CommandFetch, ContractID: contract[:]}}
	sub := &envelope.Submission{
		SubmitterInfo:  envelope.SubmitterInfo{Submitter: "alice", CommandID: "cmd-1", DeduplicateUntil: until},
		DeclaredInputs: refexec.DeclaredInputsFor(commands),
		Commands:       commands,
	}
	raw, err := envelope.EncodeSubmission(sub)
	require.NoError(t, err)

	require.NoError(t, o.Submit(context.Background(), raw))
	c := sink.next(t)
	assert.Equal(t, components.StatusInvalidSubmission, c.Status)

	// Window released: the retry fails validation again, not deduplication
	require.NoError(t, o.Submit(context.Background(), raw))
	c = sink.next(t)
	assert.Equal(t, components.StatusInvalidSubmission, c.Status)
}

func TestBackpressureRejectsImmediately(t *testing.T) {
	block := make(chan struct{})
	dispatcher := &recordingDispatcher{
		dispatched: make(chan *components.PreExecutionOutput[*validator.LedgerWriteSet], 10),
		block:      block,
	}
	o, sink := newTestOrchestrator(t, &vdconf.OrchestratorConfig{
		WorkerCount: confutil.P(1),
		QueueLength: confutil.P(1),
	}, dispatcher)

	// First submission occupies the worker (blocked in dispatch), second
	// fills the queue; the third must reject without waiting
	require.NoError(t, o.Submit(context.Background(), encodeCreate(t, "alice", "cmd-1")))
	time.Sleep(50 * time.Millisecond) // let the worker pick up cmd-1
	require.NoError(t, o.Submit(context.Background(), encodeCreate(t, "alice", "cmd-2")))
	require.NoError(t, o.Submit(context.Background(), encodeCreate(t, "alice", "cmd-3")))

	c := sink.next(t)
	assert.Equal(t, components.StatusResourceExhausted, c.Status)
	assert.Equal(t, "cmd-3", c.CommandID)
	assert.Regexp(t, "VD010601", c.Detail)

	close(block)
	assert.Equal(t, components.StatusOK, sink.next(t).Status)
	assert.Equal(t, components.StatusOK, sink.next(t).Status)
}

func TestPerSubmitterOrderPreserved(t *testing.T) {
	dispatcher := &recordingDispatcher{dispatched: make(chan *components.PreExecutionOutput[*validator.LedgerWriteSet], 20)}
	o, sink := newTestOrchestrator(t, &vdconf.OrchestratorConfig{
		WorkerCount: confutil.P(4),
	}, dispatcher)

	const n = 10
	for i := 0; i < n; i++ {
		require.NoError(t, o.Submit(context.Background(), encodeCreate(t, "alice", fmt.Sprintf("cmd-%03d", i))))
	}
	for i := 0; i < n; i++ {
		c := sink.next(t)
		assert.Equal(t, fmt.Sprintf("cmd-%03d", i), c.CommandID)
		assert.Equal(t, components.StatusOK, c.Status)
	}
}

func TestWallClockPacingDelaysDispatch(t *testing.T) {
	dispatcher := &recordingDispatcher{dispatched: make(chan *components.PreExecutionOutput[*validator.LedgerWriteSet], 1)}
	o, sink := newTestOrchestrator(t, &vdconf.OrchestratorConfig{
		TimeMode:        vdconf.TimeModeWallClock,
		ExpectedLatency: confutil.P("1ms"),
	}, dispatcher)

	delay := 200 * time.Millisecond
	raw := encodeCreate(t, "alice", "cmd-1", func(s *envelope.Submission) {
		s.LedgerEffectiveTime = vdtypes.TimestampFromTime(time.Now().Add(delay))
	})

	start := time.Now()
	require.NoError(t, o.Submit(context.Background(), raw))
	c := sink.next(t)
	assert.Equal(t, components.StatusOK, c.Status)
	assert.GreaterOrEqual(t, time.Since(start), delay/2)
}

func TestStaticModeDispatchesImmediately(t *testing.T) {
	dispatcher := &recordingDispatcher{dispatched: make(chan *components.PreExecutionOutput[*validator.LedgerWriteSet], 1)}
	o, sink := newTestOrchestrator(t, &vdconf.OrchestratorConfig{
		TimeMode: vdconf.TimeModeStatic,
	}, dispatcher)

	raw := encodeCreate(t, "alice", "cmd-1", func(s *envelope.Submission) {
		s.LedgerEffectiveTime = vdtypes.TimestampFromTime(time.Now().Add(time.Hour))
	})

	start := time.Now()
	require.NoError(t, o.Submit(context.Background(), raw))
	c := sink.next(t)
	assert.Equal(t, components.StatusOK, c.Status)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestStopCancelsPendingDelay(t *testing.T) {
	dispatcher := &recordingDispatcher{dispatched: make(chan *components.PreExecutionOutput[*validator.LedgerWriteSet], 1)}
	o, sink := newTestOrchestrator(t, &vdconf.OrchestratorConfig{
		TimeMode:         vdconf.TimeModeWallClock,
		MaxDispatchDelay: confutil.P("1h"),
	}, dispatcher)

	raw := encodeCreate(t, "alice", "cmd-1", func(s *envelope.Submission) {
		s.LedgerEffectiveTime = vdtypes.TimestampFromTime(time.Now().Add(time.Hour))
	})
	require.NoError(t, o.Submit(context.Background(), raw))
	time.Sleep(50 * time.Millisecond) // let the worker park in its delay

	done := make(chan struct{})
	go func() {
		o.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not cancel the pending delay")
	}

	c := sink.next(t)
	assert.Equal(t, components.StatusResourceExhausted, c.Status)
}

func TestUndeclaredInputMapsToInternalError(t *testing.T) {
	dispatcher := &recordingDispatcher{dispatched: make(chan *components.PreExecutionOutput[*validator.LedgerWriteSet], 1)}
	o, sink := newTestOrchestrator(t, &vdconf.OrchestratorConfig{}, dispatcher)

	// The executor reading a key missing from DeclaredInputs is a collaborator
	// protocol violation, not a malformed submission
	raw := encodeCreate(t, "alice", "cmd-1", func(s *envelope.Submission) {
		s.DeclaredInputs = nil
	})
	require.NoError(t, o.Submit(context.Background(), raw))

	c := sink.next(t)
	assert.Equal(t, components.StatusInternalError, c.Status)
	assert.Regexp(t, "VD010200", c.Detail)
}

func TestStopSweepsTaskQueuedAfterWorkersExit(t *testing.T) {
	dispatcher := &recordingDispatcher{dispatched: make(chan *components.PreExecutionOutput[*validator.LedgerWriteSet], 1)}
	o, sink := newTestOrchestrator(t, &vdconf.OrchestratorConfig{WorkerCount: confutil.P(1)}, dispatcher)

	// Force the race window: cancel and wait for the worker's own drain to
	// finish, then land a task on its queue the way a Submit racing Stop can
	o.cancelCtx()
	for _, done := range o.workersDone {
		<-done
	}
	o.queues[0] <- &task{
		correlationID: "raced",
		sub: &envelope.Submission{
			SubmitterInfo: envelope.SubmitterInfo{Submitter: "alice", CommandID: "cmd-1"},
		},
	}

	o.Stop()
	c := sink.next(t)
	assert.Equal(t, components.StatusResourceExhausted, c.Status)
	assert.Regexp(t, "VD010600", c.Detail)
	assert.Equal(t, "cmd-1", c.CommandID)
}

func TestSubmitAfterStopRejected(t *testing.T) {
	dispatcher := &recordingDispatcher{dispatched: make(chan *components.PreExecutionOutput[*validator.LedgerWriteSet], 1)}
	o, _ := newTestOrchestrator(t, &vdconf.OrchestratorConfig{}, dispatcher)
	o.Stop()

	err := o.Submit(context.Background(), encodeCreate(t, "alice", "cmd-1"))
	assert.Regexp(t, "VD010600", err)
}

func TestDispatchErrorMapping(t *testing.T) {
	for _, tc := range []struct {
		err    error
		status components.CompletionStatus
	}{
		{ErrDispatchOverloaded, components.StatusResourceExhausted},
		{ErrDispatchNotSupported, components.StatusNotSupported},
		{assert.AnError, components.StatusInternalError},
	} {
		assert.Equal(t, tc.status, statusForDispatchError(tc.err))
	}
}

func TestChannelSinkDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(&vdconf.OrchestratorConfig{CompletionBacklog: confutil.P(2)})
	ctx := context.Background()
	sink.PublishCompletion(ctx, &components.Completion{CommandID: "a"})
	sink.PublishCompletion(ctx, &components.Completion{CommandID: "b"})
	assert.Equal(t, "a", (<-sink.Completions()).CommandID)
	assert.Equal(t, "b", (<-sink.Completions()).CommandID)
}

func TestChannelSinkDropsOnCancel(t *testing.T) {
	sink := NewChannelSink(&vdconf.OrchestratorConfig{CompletionBacklog: confutil.P(1)})
	ctx, cancel := context.WithCancel(context.Background())
	sink.PublishCompletion(ctx, &components.Completion{CommandID: "a"})
	cancel()
	// Full channel + cancelled context: returns rather than blocking
	sink.PublishCompletion(ctx, &components.Completion{CommandID: "b"})
	assert.Equal(t, "a", (<-sink.Completions()).CommandID)
}
