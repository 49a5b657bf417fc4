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

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/valdere-io/valdere/core/internal/msgs"
	"sigs.k8s.io/yaml"
)

// EngineConfig is the root configuration of the validation engine
type EngineConfig struct {
	Log          LogConfig          `json:"log"`
	DB           DBConfig           `json:"db"`
	Dedup        DedupConfig        `json:"dedup"`
	Orchestrator OrchestratorConfig `json:"orchestrator"`
}

// Load reads and parses a YAML (or JSON) config file
func Load(ctx context.Context, filePath string) (*EngineConfig, error) {
	b, err := os.ReadFile(filePath)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgConfigFileReadFailed, filePath)
	}
	var conf EngineConfig
	if err := yaml.Unmarshal(b, &conf); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgConfigFileParseFailed, filePath)
	}
	return &conf, nil
}
