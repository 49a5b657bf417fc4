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

package vdconf

// TimeMode selects how record time relates to wall-clock time
type TimeMode string

const (
	// TimeModeStatic - record time is definitionally ledger time, dispatch immediately
	TimeModeStatic TimeMode = "static"
	// TimeModeWallClock - dispatch is delayed so downstream record time lands
	// close to the submission's declared ledger-effective time
	TimeModeWallClock TimeMode = "wallclock"
)

type OrchestratorConfig struct {
	WorkerCount       *int     `json:"workerCount"`       // bounded worker pool size
	QueueLength       *int     `json:"queueLength"`       // per-worker queue depth before backpressure
	TimeMode          TimeMode `json:"timeMode"`          // static or wallclock
	ExpectedLatency   *string  `json:"expectedLatency"`   // expected submission-to-record-time propagation latency
	MaxDispatchDelay  *string  `json:"maxDispatchDelay"`  // upper bound on wall-clock pacing delay
	CompletionBacklog *int     `json:"completionBacklog"` // completion sink buffering, where the sink is channel backed
}

type DedupConfig struct {
	Store         string  `json:"store"`         // memory or database
	SweepInterval *string `json:"sweepInterval"` // expiry sweep for the memory store
}
