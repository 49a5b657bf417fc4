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

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/valdere-io/valdere/core/internal/msgs"
	"github.com/valdere-io/valdere/core/pkg/persistence"
	"github.com/valdere-io/valdere/core/pkg/vdtypes"
	"gorm.io/gorm/clause"
)

type reservation struct {
	Submitter string            `gorm:"column:submitter;primaryKey"`
	CommandID string            `gorm:"column:command_id;primaryKey"`
	WindowEnd vdtypes.Timestamp `gorm:"column:window_end"`
	Created   vdtypes.Timestamp `gorm:"column:created;autoCreateTime:false"`
}

func (reservation) TableName() string {
	return "command_dedup"
}

type sqlStore struct {
	p persistence.Persistence
}

// NewSQLStore builds a reservation store on the engine's database, so the
// dedup window survives restarts and is shared across replicas pointing at
// the same database
func NewSQLStore(p persistence.Persistence) Store {
	return &sqlStore{p: p}
}

func (s *sqlStore) Reserve(ctx context.Context, submitter, commandID string, windowEnd, now vdtypes.Timestamp) (reserved bool, existingWindowEnd vdtypes.Timestamp, err error) {
	err = s.p.Transaction(ctx, func(ctx context.Context, tx persistence.DBTX) error {
		row := &reservation{
			Submitter: submitter,
			CommandID: commandID,
			WindowEnd: windowEnd,
			Created:   now,
		}
		ins := tx.DB().
			WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(row)
		if ins.Error != nil {
			return ins.Error
		}
		if ins.RowsAffected == 1 {
			reserved = true
			return nil
		}

		// The pair exists. Take the row over if its window has passed -
		// the guarded UPDATE keeps the takeover atomic under concurrency.
		upd := tx.DB().
			WithContext(ctx).
			Model(&reservation{}).
			Where("submitter = ?", submitter).
			Where("command_id = ?", commandID).
			Where("window_end <= ?", now).
			Updates(map[string]any{"window_end": windowEnd, "created": now})
		if upd.Error != nil {
			return upd.Error
		}
		if upd.RowsAffected == 1 {
			reserved = true
			return nil
		}

		var existing reservation
		if err := tx.DB().
			WithContext(ctx).
			Where("submitter = ?", submitter).
			Where("command_id = ?", commandID).
			First(&existing).
			Error; err != nil {
			return err
		}
		existingWindowEnd = existing.WindowEnd
		return nil
	})
	if err != nil {
		return false, 0, i18n.WrapError(ctx, err, msgs.MsgDedupStoreFailed)
	}
	return reserved, existingWindowEnd, nil
}

func (s *sqlStore) Release(ctx context.Context, submitter, commandID string) error {
	err := s.p.Transaction(ctx, func(ctx context.Context, tx persistence.DBTX) error {
		return tx.DB().
			WithContext(ctx).
			Where("submitter = ?", submitter).
			Where("command_id = ?", commandID).
			Delete(&reservation{}).
			Error
	})
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgDedupStoreFailed)
	}
	return nil
}

func (s *sqlStore) Close() {
	// lifecycle of the shared persistence layer is owned by the caller
}
