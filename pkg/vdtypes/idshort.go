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

package vdtypes

import (
	"github.com/aidarkhanov/nanoid"
)

const shortIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// ShortID returns a short random identifier, used to distinguish workers and
// in-flight operations in logs. Not suitable as a correlation ID on the API.
func ShortID() string {
	id, _ := nanoid.Generate(shortIDAlphabet, 8)
	return id
}
