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

package components

import (
	"context"

	"github.com/valdere-io/valdere/core/pkg/vdtypes"
)

// CompletionStatus classifies the terminal outcome of one command on the
// per-submitter completion stream
type CompletionStatus int

const (
	StatusOK                CompletionStatus = iota
	StatusDuplicateCommand                   // resubmitted inside the dedup window - retryable after expiry
	StatusInvalidSubmission                  // decode or structural failure - not retryable as-is
	StatusCausalViolation                    // post-commit causal re-check failed
	StatusOutOfTimeBounds                    // record time landed outside the pre-executed bounds
	StatusResourceExhausted                  // backpressure - retry with backoff
	StatusNotSupported                       // submission shape the backend cannot process
	StatusInternalError                      // unexpected executor/storage fault
)

func (s CompletionStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusDuplicateCommand:
		return "DUPLICATE_COMMAND"
	case StatusInvalidSubmission:
		return "INVALID_SUBMISSION"
	case StatusCausalViolation:
		return "CAUSAL_VIOLATION"
	case StatusOutOfTimeBounds:
		return "OUT_OF_TIME_BOUNDS"
	case StatusResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case StatusNotSupported:
		return "NOT_SUPPORTED"
	default:
		return "INTERNAL_ERROR"
	}
}

// Completion is one entry of the per-submitter ordered completion stream
type Completion struct {
	Submitter  string
	CommandID  string
	Status     CompletionStatus
	Detail     string // human-readable rejection detail, empty on OK
	RecordTime *vdtypes.Timestamp
}

// CompletionSink receives completions. Implementations must preserve
// per-submitter publish order; the orchestrator's worker affinity guarantees
// a single goroutine publishes for any one submitter.
type CompletionSink interface {
	PublishCompletion(ctx context.Context, completion *Completion)
}
