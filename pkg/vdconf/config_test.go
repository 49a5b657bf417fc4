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

import (
	"context"
	"os"
	"path"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadYAMLConfig(t *testing.T) {
	confFile := path.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(confFile, []byte(`
log:
  level: debug
db:
  type: sqlite
  sqlite:
    dsn: ":memory:"
    autoMigrate: true
    migrationsDir: ./db/migrations/sqlite
dedup:
  store: database
orchestrator:
  workerCount: 8
  timeMode: wallclock
  expectedLatency: 2s
`), 0644))

	conf, err := Load(context.Background(), confFile)
	require.NoError(t, err)
	assert.Equal(t, "debug", conf.Log.Level)
	assert.Equal(t, "sqlite", conf.DB.Type)
	assert.Equal(t, ":memory:", conf.DB.SQLite.DSN)
	require.NotNil(t, conf.DB.SQLite.AutoMigrate)
	assert.True(t, *conf.DB.SQLite.AutoMigrate)
	assert.Equal(t, "database", conf.Dedup.Store)
	require.NotNil(t, conf.Orchestrator.WorkerCount)
	assert.Equal(t, 8, *conf.Orchestrator.WorkerCount)
	assert.Equal(t, TimeModeWallClock, conf.Orchestrator.TimeMode)
	require.NotNil(t, conf.Orchestrator.ExpectedLatency)
	assert.Equal(t, "2s", *conf.Orchestrator.ExpectedLatency)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(context.Background(), path.Join(t.TempDir(), "nope.yaml"))
	assert.Regexp(t, "VD010800", err)
}

func TestLoadBadYAML(t *testing.T) {
	confFile := path.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(confFile, []byte("log: [unclosed"), 0644))
	_, err := Load(context.Background(), confFile)
	assert.Regexp(t, "VD010801", err)
}

func TestInitLogging(t *testing.T) {
	defer logrus.SetLevel(logrus.InfoLevel)

	InitLogging(&LogConfig{Level: "trace"})
	assert.Equal(t, logrus.TraceLevel, logrus.GetLevel())

	// Unparseable level falls back to info
	InitLogging(&LogConfig{Level: "shouty"})
	assert.Equal(t, logrus.InfoLevel, logrus.GetLevel())
}
