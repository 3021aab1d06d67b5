/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package transfers

import (
	"time"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
)

// SettlementState is derived from a transfer snapshot and never stored.
type SettlementState string

const (
	StateWaiting      SettlementState = "waiting"
	StateDelayed      SettlementState = "delayed"
	StateSuccessful   SettlementState = "successful"
	StateUnsuccessful SettlementState = "unsuccessful"
)

// State classifies a transfer at the given moment. Without a server supplied
// checkup time, a transfer with no result becomes delayed once delayedAfter
// has passed since its initiation.
func State(t *models.TransferSnapshot, now time.Time, delayedAfter time.Duration) SettlementState {
	if t.Result != nil {
		if t.Result.CommittedAmount > 0 {
			return StateSuccessful
		}
		return StateUnsuccessful
	}

	deadline := t.InitiatedAt.Add(delayedAfter)
	if t.CheckupAt != nil {
		deadline = *t.CheckupAt
	}
	if now.Before(deadline) {
		return StateWaiting
	}
	return StateDelayed
}

// IsFinal reports whether the server has finalized the transfer.
func (s SettlementState) IsFinal() bool {
	return s == StateSuccessful || s == StateUnsuccessful
}

// CreateTransferStatus is the user-visible progress of a CreateTransfer action.
type CreateTransferStatus string

const (
	StatusDraft        CreateTransferStatus = "Draft"
	StatusNotSent      CreateTransferStatus = "Not sent"
	StatusNotConfirmed CreateTransferStatus = "Not confirmed"
	StatusInitiated    CreateTransferStatus = "Initiated"
	StatusFailed       CreateTransferStatus = "Failed"
	StatusTimedOut     CreateTransferStatus = "Timed out"
)

// Status reports where a CreateTransfer action stands. The local clock alone
// decides when an unconfirmed execution has timed out.
func Status(a *models.CreateTransferAction, now time.Time, minDelay time.Duration) CreateTransferStatus {
	exec := a.Execution
	if exec == nil {
		return StatusDraft
	}
	if exec.Result != nil {
		if exec.Result.OK {
			return StatusInitiated
		}
		return StatusFailed
	}
	if now.Sub(exec.StartedAt) > minDelay {
		return StatusTimedOut
	}
	if exec.UnresolvedRequestAt != nil {
		return StatusNotConfirmed
	}
	return StatusNotSent
}
