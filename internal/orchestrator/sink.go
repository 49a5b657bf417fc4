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

	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/valdere-io/valdere/core/internal/components"
	"github.com/valdere-io/valdere/core/internal/confutil"
	"github.com/valdere-io/valdere/core/pkg/vdconf"
)

// ChannelSink is a channel-backed completion sink for in-process consumers.
// Publish order is preserved per submitter because each submitter's worker
// is the only goroutine publishing for it.
type ChannelSink struct {
	completions chan *components.Completion
}

func NewChannelSink(conf *vdconf.OrchestratorConfig) *ChannelSink {
	return &ChannelSink{
		completions: make(chan *components.Completion,
			confutil.IntMin(conf.CompletionBacklog, 1, *Defaults.CompletionBacklog)),
	}
}

func (s *ChannelSink) PublishCompletion(ctx context.Context, completion *components.Completion) {
	select {
	case s.completions <- completion:
	case <-ctx.Done():
		log.L(ctx).Warnf("Completion for %s/%s dropped on shutdown (status=%s)",
			completion.Submitter, completion.CommandID, completion.Status)
	}
}

func (s *ChannelSink) Completions() <-chan *components.Completion {
	return s.completions
}
