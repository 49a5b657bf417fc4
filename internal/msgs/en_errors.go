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

package msgs

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"golang.org/x/text/language"
)

const valdereCorePrefix = "VD01"

var registered sync.Once
var ffe = func(key, translation string, statusHint ...int) i18n.ErrorMessageKey {
	registered.Do(func() {
		i18n.RegisterPrefix(valdereCorePrefix, "Valdere Ledger Validation Engine")
	})
	if !strings.HasPrefix(key, valdereCorePrefix) {
		panic(fmt.Errorf("must have prefix '%s': %s", valdereCorePrefix, key))
	}
	return i18n.FFE(language.AmericanEnglish, key, translation, statusHint...)
}

var (
	// Types VD0100XX
	MsgTypesInvalidHex       = ffe("VD010000", "Invalid hex: %s")
	MsgTypesScanFail         = ffe("VD010001", "Unable to scan type %T into type %T")
	MsgTypesTimeParseFail    = ffe("VD010002", "Cannot parse time as RFC3339, Unix, or UnixNano: '%s'")
	MsgTypesUnknownKeyDomain = ffe("VD010003", "Unknown state key domain 0x%02x")
	MsgTypesShortKeyBytes    = ffe("VD010004", "Serialized state key too short (len=%d)")
	MsgTypesInvalidValueKind = ffe("VD010005", "Unknown state value kind %d")

	// Envelope VD0101XX
	MsgEnvelopeDecodeFailed       = ffe("VD010100", "Submission envelope decode failed")
	MsgEnvelopeUnsupportedVersion = ffe("VD010101", "Unsupported envelope version %d (max supported %d)")
	MsgEnvelopeBatchUnsupported   = ffe("VD010102", "Batch envelopes are not supported by pre-execution (batch of %d)")
	MsgEnvelopeNotABatch          = ffe("VD010103", "Envelope does not contain a submission batch")
	MsgEnvelopeEmptySubmission    = ffe("VD010104", "Submission has no commands")
	MsgEnvelopeMissingSubmitter   = ffe("VD010105", "Submission missing submitter or command ID")

	// Commit context VD0102XX
	MsgContextMissingInputState = ffe("VD010200", "State key %s was read but never declared as an input")

	// Validator VD0103XX
	MsgValidatorInputCountMismatch = ffe("VD010300", "State reader returned %d values for %d keys")
	MsgValidatorExecutionFailed    = ffe("VD010301", "Transaction execution failed for submission %s")
	MsgValidatorWriteSetFailed     = ffe("VD010302", "Commit strategy failed to generate write sets for entry %s")
	MsgValidatorRecordTimeRequired = ffe("VD010303", "In-order validation requires a record time")
	MsgValidatorStateReadFailed    = ffe("VD010304", "Batch read of %d declared inputs failed")
	MsgValidatorRecordTimeOutside  = ffe("VD010305", "Record time %s is outside the bounds [%s, %s] derived from the submission")

	// Post-commit validation VD0104XX
	MsgPostCommitKeyAlreadyExists   = ffe("VD010400", "A contract with key %s already exists (contract %s)")
	MsgPostCommitLookupNowExists    = ffe("VD010401", "Lookup asserted key %s is absent, but it now resolves to contract %s")
	MsgPostCommitLookupMismatch     = ffe("VD010402", "Lookup asserted key %s resolves to contract %s, but it now resolves to %s")
	MsgPostCommitContractNotActive  = ffe("VD010403", "Contract %s is not active and has not been divulged to %s")
	MsgPostCommitStateReadFailed    = ffe("VD010404", "State read during post-commit validation failed")
	MsgPostCommitUnknownCommandKind = ffe("VD010405", "Unknown command kind %d")

	// Deduplication VD0105XX
	MsgDedupDuplicateCommand = ffe("VD010500", "Command %s from submitter %s is a duplicate (deduplicated until %s)")
	MsgDedupStoreFailed      = ffe("VD010501", "Deduplication store operation failed")
	MsgDedupInvalidStore     = ffe("VD010502", "Invalid deduplication store type: %s")

	// Orchestrator VD0106XX
	MsgOrchestratorQuiescing  = ffe("VD010600", "Submission orchestrator shutting down")
	MsgOrchestratorOverloaded = ffe("VD010601", "Submission workers saturated - retry with backoff")
	MsgOrchestratorInternal   = ffe("VD010602", "Internal error processing submission %s")

	// Persistence VD0107XX
	MsgPersistenceInvalidType          = ffe("VD010700", "Invalid persistence type: %s")
	MsgPersistenceMissingDSN           = ffe("VD010701", "Missing database connection Data Source Name (DSN)")
	MsgPersistenceInitFailed           = ffe("VD010702", "Database init failed")
	MsgPersistenceMigrationFailed      = ffe("VD010703", "Database migration failed")
	MsgPersistenceMissingMigrationDir  = ffe("VD010704", "Missing database migration directory for autoMigrate")
	MsgPersistenceErrorInDBTransaction = ffe("VD010705", "Error in database transaction: %s")

	// Config VD0108XX
	MsgConfigFileReadFailed  = ffe("VD010800", "Failed to read config file %s")
	MsgConfigFileParseFailed = ffe("VD010801", "Failed to parse config file %s")
)
