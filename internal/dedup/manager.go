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

package dedup

import (
	"context"
	"errors"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-common/pkg/log"
	"github.com/valdere-io/valdere/core/internal/confutil"
	"github.com/valdere-io/valdere/core/internal/msgs"
	"github.com/valdere-io/valdere/core/pkg/envelope"
	"github.com/valdere-io/valdere/core/pkg/persistence"
	"github.com/valdere-io/valdere/core/pkg/vdconf"
	"github.com/valdere-io/valdere/core/pkg/vdtypes"
)

const (
	StoreMemory   = "memory"
	StoreDatabase = "database"
)

var DedupDefaults = &vdconf.DedupConfig{
	Store:         StoreMemory,
	SweepInterval: confutil.P("1m"),
}

// Manager applies command deduplication ahead of execution. A command that
// declares no window (DeduplicateUntil zero) is never deduplicated.
type Manager struct {
	store Store
}

// duplicateError marks the duplicate-command rejection, so callers route it
// by type rather than by parsing the message
type duplicateError struct {
	err error
}

func (e *duplicateError) Error() string { return e.err.Error() }
func (e *duplicateError) Unwrap() error { return e.err }

// IsDuplicate reports whether an error from DeduplicateCommand is the
// duplicate-command rejection, as opposed to a store fault
func IsDuplicate(err error) bool {
	var d *duplicateError
	return errors.As(err, &d)
}

func NewManager(ctx context.Context, conf *vdconf.DedupConfig, p persistence.Persistence) (*Manager, error) {
	switch conf.Store {
	case "", StoreMemory:
		sweep := confutil.DurationMin(conf.SweepInterval, 0, *DedupDefaults.SweepInterval)
		return &Manager{store: NewMemoryStore(ctx, sweep)}, nil
	case StoreDatabase:
		return &Manager{store: NewSQLStore(p)}, nil
	default:
		return nil, i18n.NewError(ctx, msgs.MsgDedupInvalidStore, conf.Store)
	}
}

// DeduplicateCommand reserves the command's (submitter, commandID) pair for
// its declared window. A duplicate within a live window returns a typed
// error carrying the window end.
func (m *Manager) DeduplicateCommand(ctx context.Context, info *envelope.SubmitterInfo, now vdtypes.Timestamp) error {
	if info.DeduplicateUntil == 0 {
		return nil
	}
	reserved, existing, err := m.store.Reserve(ctx, info.Submitter, info.CommandID, info.DeduplicateUntil, now)
	if err != nil {
		return err
	}
	if !reserved {
		log.L(ctx).Debugf("Duplicate command %s/%s (window ends %s)", info.Submitter, info.CommandID, existing)
		return &duplicateError{err: i18n.NewError(ctx, msgs.MsgDedupDuplicateCommand, info.CommandID, info.Submitter, existing)}
	}
	return nil
}

// StopDeduplicatingCommand releases a reservation after a submission failed
// before it could commit, so the submitter can retry without waiting out the
// window
func (m *Manager) StopDeduplicatingCommand(ctx context.Context, info *envelope.SubmitterInfo) error {
	if info.DeduplicateUntil == 0 {
		return nil
	}
	return m.store.Release(ctx, info.Submitter, info.CommandID)
}

func (m *Manager) Close() {
	m.store.Close()
}
