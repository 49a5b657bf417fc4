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

// Package orchestrator drives submissions from arrival to dispatch:
// deduplicate, pre-execute, pace against the wall clock, hand to the
// ordering layer, and publish the outcome on the completion stream.
//
// All submissions from one submitter ride the same worker (consistent-hash
// routing), so a submitter's completions are published in submission order
// without any cross-worker coordination. The bounded per-worker queues are
// the only admission control: a full queue rejects immediately rather than
// building hidden backlog.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/serialx/hashring"
	"github.com/valdere-io/valdere/core/internal/components"
	"github.com/valdere-io/valdere/core/internal/confutil"
	"github.com/valdere-io/valdere/core/internal/dedup"
	"github.com/valdere-io/valdere/core/internal/msgs"
	"github.com/valdere-io/valdere/core/internal/validator"
	"github.com/valdere-io/valdere/core/pkg/envelope"
	"github.com/valdere-io/valdere/core/pkg/vdconf"
	"github.com/valdere-io/valdere/core/pkg/vdtypes"
)

var Defaults = &vdconf.OrchestratorConfig{
	WorkerCount:       confutil.P(4),
	QueueLength:       confutil.P(16),
	TimeMode:          vdconf.TimeModeStatic,
	ExpectedLatency:   confutil.P("1s"),
	MaxDispatchDelay:  confutil.P("30s"),
	CompletionBacklog: confutil.P(64),
}

// Dispatcher hands a pre-executed submission to the ordering/commit layer.
// The sentinel errors below map to completion statuses; anything else is
// treated as an internal fault.
type Dispatcher[W any] interface {
	Dispatch(ctx context.Context, out *components.PreExecutionOutput[W]) error
}

var (
	ErrDispatchOverloaded   = errors.New("ordering layer overloaded")
	ErrDispatchNotSupported = errors.New("submission not supported by ordering layer")
)

type task struct {
	correlationID string
	rawEnvelope   []byte
	sub           *envelope.Submission
}

type Orchestrator[W any] struct {
	bgCtx     context.Context
	cancelCtx context.CancelFunc

	validator  *validator.PreExecutingValidator[W]
	dedup      *dedup.Manager
	dispatcher Dispatcher[W]
	sink       components.CompletionSink

	timeMode         vdconf.TimeMode
	expectedLatency  time.Duration
	maxDispatchDelay time.Duration

	workerCount int
	queueLength int
	ring        *hashring.HashRing
	workerIndex map[string]int
	queues      []chan *task
	workersDone []chan struct{}

	delayLock sync.Mutex
	delays    map[string]*time.Timer
}

func NewOrchestrator[W any](
	bgCtx context.Context,
	conf *vdconf.OrchestratorConfig,
	preExec *validator.PreExecutingValidator[W],
	dedupMgr *dedup.Manager,
	dispatcher Dispatcher[W],
	sink components.CompletionSink,
) *Orchestrator[W] {
	workerCount := confutil.IntMin(conf.WorkerCount, 1, *Defaults.WorkerCount)
	workerNames := make([]string, workerCount)
	workerIndex := make(map[string]int, workerCount)
	for i := range workerNames {
		workerNames[i] = fmt.Sprintf("worker_%04d", i)
		workerIndex[workerNames[i]] = i
	}
	timeMode := conf.TimeMode
	if timeMode == "" {
		timeMode = Defaults.TimeMode
	}
	o := &Orchestrator[W]{
		validator:        preExec,
		dedup:            dedupMgr,
		dispatcher:       dispatcher,
		sink:             sink,
		timeMode:         timeMode,
		expectedLatency:  confutil.DurationMin(conf.ExpectedLatency, 0, *Defaults.ExpectedLatency),
		maxDispatchDelay: confutil.DurationMin(conf.MaxDispatchDelay, 0, *Defaults.MaxDispatchDelay),
		workerCount:      workerCount,
		queueLength:      confutil.IntMin(conf.QueueLength, 1, *Defaults.QueueLength),
		ring:             hashring.New(workerNames),
		workerIndex:      workerIndex,
		delays:           map[string]*time.Timer{},
	}
	o.bgCtx, o.cancelCtx = context.WithCancel(bgCtx)
	return o
}

func (o *Orchestrator[W]) Start() {
	log.L(o.bgCtx).Infof("Starting submission orchestrator workers=%d queue=%d timeMode=%s",
		o.workerCount, o.queueLength, o.timeMode)
	o.queues = make([]chan *task, o.workerCount)
	o.workersDone = make([]chan struct{}, o.workerCount)
	for i := 0; i < o.workerCount; i++ {
		o.queues[i] = make(chan *task, o.queueLength)
		o.workersDone[i] = make(chan struct{})
		go o.worker(i)
	}
}

// Stop cancels all pending delays and in-flight work, then waits for the
// workers. Queued submissions that never started are rejected as quiescing.
func (o *Orchestrator[W]) Stop() {
	o.cancelCtx()
	o.delayLock.Lock()
	for _, timer := range o.delays {
		timer.Stop()
	}
	o.delayLock.Unlock()
	for _, done := range o.workersDone {
		<-done
	}
	// A submission can slip past submitOne's quiescing check onto a queue
	// whose worker has already drained and exited. Sweep the queues once more
	// now that no worker will touch them, so it still gets its terminal
	// completion.
	for i := range o.queues {
		o.rejectQueued(o.bgCtx, o.queues[i])
	}
}

// rejectQueued publishes a quiescing rejection for everything still sitting
// on a queue
func (o *Orchestrator[W]) rejectQueued(ctx context.Context, queue chan *task) {
	for {
		select {
		case t := <-queue:
			detail := i18n.NewError(ctx, msgs.MsgOrchestratorQuiescing).Error()
			o.publish(ctx, t.sub.SubmitterInfo.Submitter, t.sub.SubmitterInfo.CommandID,
				components.StatusResourceExhausted, detail, nil)
		default:
			return
		}
	}
}

// Submit accepts an encoded envelope (single submission or batch). Admission
// is synchronous: an entry either lands on its submitter's worker queue, or
// is rejected on the completion stream right here. Terminal outcomes always
// arrive via the completion sink. The returned error covers only envelopes
// too broken to attribute to any submitter.
func (o *Orchestrator[W]) Submit(ctx context.Context, rawEnvelope []byte) error {
	env, err := envelope.Decode(ctx, rawEnvelope)
	if err != nil {
		return err
	}

	if env.Kind == envelope.KindSubmission {
		return o.submitOne(ctx, &task{
			correlationID: vdtypes.ShortID(),
			rawEnvelope:   rawEnvelope,
			sub:           env.Submission,
		})
	}

	for _, entry := range env.Batch {
		if entry.CorrelationID == "" {
			// Completions must stay attributable even when the batcher didn't
			// correlate the entry
			entry.CorrelationID = uuid.NewString()
		}
		inner, err := envelope.Decode(ctx, entry.Submission)
		if err == nil && inner.Kind != envelope.KindSubmission {
			err = i18n.NewError(ctx, msgs.MsgEnvelopeBatchUnsupported, len(inner.Batch))
		}
		if err != nil {
			// Broken batch entries reject individually - the rest of the
			// batch still proceeds
			log.L(ctx).Warnf("Batch entry %s undecodable: %s", entry.CorrelationID, err)
			o.publish(ctx, "", entry.CorrelationID, components.StatusInvalidSubmission, err.Error(), nil)
			continue
		}
		if err := o.submitOne(ctx, &task{
			correlationID: entry.CorrelationID,
			rawEnvelope:   entry.Submission,
			sub:           inner.Submission,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator[W]) submitOne(ctx context.Context, t *task) error {
	select {
	case <-o.bgCtx.Done():
		return i18n.NewError(ctx, msgs.MsgOrchestratorQuiescing)
	default:
	}
	worker := o.workerFor(t.sub.SubmitterInfo.Submitter)
	select {
	case o.queues[worker] <- t:
		log.L(ctx).Debugf("Queued submission %s for %s on worker %d", t.correlationID, t.sub.SubmitterInfo.Submitter, worker)
	default:
		// Bounded queues are the sole admission control - reject now rather
		// than queue invisibly
		detail := i18n.NewError(ctx, msgs.MsgOrchestratorOverloaded).Error()
		o.publish(ctx, t.sub.SubmitterInfo.Submitter, t.sub.SubmitterInfo.CommandID,
			components.StatusResourceExhausted, detail, nil)
	}
	return nil
}

func (o *Orchestrator[W]) workerFor(submitter string) int {
	node, _ := o.ring.GetNode(submitter)
	return o.workerIndex[node]
}

func (o *Orchestrator[W]) worker(i int) {
	defer close(o.workersDone[i])
	ctx := log.WithLogField(o.bgCtx, "job", fmt.Sprintf("orchestrator_%04d", i))
	queue := o.queues[i]
	for {
		select {
		case t := <-queue:
			o.process(ctx, t)
		case <-ctx.Done():
			// Reject anything still queued so every accepted submission gets
			// a terminal completion
			o.rejectQueued(ctx, queue)
			return
		}
	}
}

func (o *Orchestrator[W]) process(ctx context.Context, t *task) {
	info := &t.sub.SubmitterInfo
	ctx = log.WithLogField(ctx, "correlation", t.correlationID)

	if err := o.dedup.DeduplicateCommand(ctx, info, vdtypes.TimestampNow()); err != nil {
		if dedup.IsDuplicate(err) {
			o.publish(ctx, info.Submitter, info.CommandID, components.StatusDuplicateCommand, err.Error(), nil)
		} else {
			// Dedup store fault, not a duplicate
			detail := i18n.WrapError(ctx, err, msgs.MsgOrchestratorInternal, t.correlationID).Error()
			o.publish(ctx, info.Submitter, info.CommandID, components.StatusInternalError, detail, nil)
		}
		return
	}

	out, err := o.validator.Validate(ctx, t.correlationID, t.rawEnvelope)
	if err != nil {
		// The window must not burn on a command that never dispatched
		if relErr := o.dedup.StopDeduplicatingCommand(ctx, info); relErr != nil {
			log.L(ctx).Errorf("Failed to release dedup window for %s/%s: %s", info.Submitter, info.CommandID, relErr)
		}
		o.publish(ctx, info.Submitter, info.CommandID, statusForValidationError(err), err.Error(), nil)
		return
	}

	if !o.paceDispatch(ctx, t) {
		o.publish(ctx, info.Submitter, info.CommandID, components.StatusResourceExhausted,
			i18n.NewError(ctx, msgs.MsgOrchestratorQuiescing).Error(), nil)
		return
	}

	if err := o.dispatcher.Dispatch(ctx, out); err != nil {
		if relErr := o.dedup.StopDeduplicatingCommand(ctx, info); relErr != nil {
			log.L(ctx).Errorf("Failed to release dedup window for %s/%s: %s", info.Submitter, info.CommandID, relErr)
		}
		o.publish(ctx, info.Submitter, info.CommandID, statusForDispatchError(err), err.Error(), nil)
		return
	}

	log.L(ctx).Infof("Dispatched submission %s entry=%s", t.correlationID, out.EntryID.HexString0xPrefix())
	o.publish(ctx, info.Submitter, info.CommandID, components.StatusOK, "", nil)
}

// paceDispatch delays wall-clock-mode dispatch so the downstream record time
// lands close to the submission's declared ledger-effective time. Returns
// false if the orchestrator shut down while waiting.
func (o *Orchestrator[W]) paceDispatch(ctx context.Context, t *task) bool {
	if o.timeMode != vdconf.TimeModeWallClock || t.sub.LedgerEffectiveTime == 0 {
		return true
	}
	delay := time.Until(t.sub.LedgerEffectiveTime.Time().Add(-o.expectedLatency))
	if delay <= 0 {
		return true
	}
	if delay > o.maxDispatchDelay {
		delay = o.maxDispatchDelay
	}

	timer := time.NewTimer(delay)
	o.delayLock.Lock()
	o.delays[t.correlationID] = timer
	o.delayLock.Unlock()
	defer func() {
		timer.Stop()
		o.delayLock.Lock()
		delete(o.delays, t.correlationID)
		o.delayLock.Unlock()
	}()

	log.L(ctx).Debugf("Delaying dispatch of %s by %s", t.correlationID, delay)
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator[W]) publish(ctx context.Context, submitter, commandID string, status components.CompletionStatus, detail string, recordTime *vdtypes.Timestamp) {
	o.sink.PublishCompletion(ctx, &components.Completion{
		Submitter:  submitter,
		CommandID:  commandID,
		Status:     status,
		Detail:     detail,
		RecordTime: recordTime,
	})
}

// isCode reports whether an i18n error carries the given catalog code. Coded
// errors always stringify with their code first, including through wrapping.
func isCode(err error, code string) bool {
	return err != nil && strings.HasPrefix(err.Error(), code)
}

func statusForValidationError(err error) components.CompletionStatus {
	switch {
	case isCode(err, "VD010304"), isCode(err, "VD010302"):
		// infrastructure faults, not submission defects
		return components.StatusInternalError
	case strings.Contains(err.Error(), "VD010200"):
		// the executor read a key it never declared - a collaborator bug
		// surfacing through the execution-failed wrapper, not a bad submission
		return components.StatusInternalError
	default:
		return components.StatusInvalidSubmission
	}
}

func statusForDispatchError(err error) components.CompletionStatus {
	switch {
	case errors.Is(err, ErrDispatchOverloaded):
		return components.StatusResourceExhausted
	case errors.Is(err, ErrDispatchNotSupported):
		return components.StatusNotSupported
	default:
		return components.StatusInternalError
	}
}
