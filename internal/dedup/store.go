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

// Package dedup tracks (submitter, commandID) pairs over their declared
// deduplication windows, so a command resubmitted within its window is
// rejected as a duplicate rather than executed twice.
package dedup

import (
	"context"
	"sync"
	"time"

	cacheimpl "github.com/Code-Hex/go-generics-cache"
	"github.com/valdere-io/valdere/core/pkg/vdtypes"
)

// Store is the reservation backend. Reserve must be atomic: of two
// concurrent calls for the same (submitter, commandID), exactly one wins.
type Store interface {
	// Reserve claims the pair until windowEnd. A pair whose previous window
	// has passed (relative to now) can be re-claimed. When the claim loses,
	// the live window's end is returned.
	Reserve(ctx context.Context, submitter, commandID string, windowEnd, now vdtypes.Timestamp) (reserved bool, existingWindowEnd vdtypes.Timestamp, err error)
	// Release drops a reservation before its window ends, so a failed
	// submission does not block an immediate retry
	Release(ctx context.Context, submitter, commandID string) error
	Close()
}

type memoryStore struct {
	lock   sync.Mutex
	cache  *cacheimpl.Cache[string, vdtypes.Timestamp]
	cancel context.CancelFunc
}

// NewMemoryStore builds a purely in-process store. Reservations are lost on
// restart; deployments needing restart-safe deduplication use the database
// store instead.
func NewMemoryStore(bgCtx context.Context, sweepInterval time.Duration) Store {
	ctx, cancel := context.WithCancel(bgCtx)
	return &memoryStore{
		cache: cacheimpl.NewContext[string, vdtypes.Timestamp](ctx,
			cacheimpl.WithJanitorInterval[string, vdtypes.Timestamp](sweepInterval)),
		cancel: cancel,
	}
}

func pairKey(submitter, commandID string) string {
	return submitter + "\x00" + commandID
}

func (s *memoryStore) Reserve(_ context.Context, submitter, commandID string, windowEnd, now vdtypes.Timestamp) (bool, vdtypes.Timestamp, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	key := pairKey(submitter, commandID)
	if existing, ok := s.cache.Get(key); ok && now.Before(existing) {
		return false, existing, nil
	}
	s.cache.Set(key, windowEnd,
		cacheimpl.WithExpiration(windowEnd.Time().Sub(now.Time())))
	return true, 0, nil
}

func (s *memoryStore) Release(_ context.Context, submitter, commandID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.cache.Delete(pairKey(submitter, commandID))
	return nil
}

func (s *memoryStore) Close() {
	s.cancel()
}
