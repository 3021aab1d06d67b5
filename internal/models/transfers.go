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

package models

import "time"

// PaymentInfo holds the denormalized fields parsed from a transfer note.
type PaymentInfo struct {
	PayeeName      string `json:"payeeName" msgpack:"payeeName" yaml:"payeeName"`
	PayeeReference string `json:"payeeReference" msgpack:"payeeReference" yaml:"payeeReference"`
	Description    string `json:"description" msgpack:"description" yaml:"description"`
}

type TransferError struct {
	ErrorCode         string `json:"errorCode" msgpack:"errorCode" yaml:"errorCode"`
	TotalLockedAmount int64  `json:"totalLockedAmount,omitempty" msgpack:"totalLockedAmount,omitempty" yaml:"totalLockedAmount,omitempty"`
}

type TransferResult struct {
	FinalizedAt     time.Time      `json:"finalizedAt" msgpack:"finalizedAt" yaml:"finalizedAt"`
	CommittedAmount int64          `json:"committedAmount" msgpack:"committedAmount" yaml:"committedAmount"`
	Error           *TransferError `json:"error,omitempty" msgpack:"error,omitempty" yaml:"error,omitempty"`
}

// TransferSnapshot is a transfer as the server reports it.
type TransferSnapshot struct {
	URI            string          `json:"uri" msgpack:"uri" yaml:"uri"`
	TransferUUID   string          `json:"transferUuid" msgpack:"transferUuid" yaml:"transferUuid"`
	InitiatedAt    time.Time       `json:"initiatedAt" msgpack:"initiatedAt" yaml:"initiatedAt"`
	Amount         int64           `json:"amount" msgpack:"amount" yaml:"amount"`
	Recipient      ObjectReference `json:"recipient" msgpack:"recipient" yaml:"recipient"`
	NoteFormat     string          `json:"noteFormat" msgpack:"noteFormat" yaml:"noteFormat"`
	Note           string          `json:"note" msgpack:"note" yaml:"note"`
	CheckupAt      *time.Time      `json:"checkupAt,omitempty" msgpack:"checkupAt,omitempty" yaml:"checkupAt,omitempty"`
	Result         *TransferResult `json:"result,omitempty" msgpack:"result,omitempty" yaml:"result,omitempty"`
	LatestUpdateID uint64          `json:"latestUpdateId" msgpack:"latestUpdateId" yaml:"latestUpdateId"`
}

// Transfer extends the server snapshot with locally computed fields.
type Transfer struct {
	TransferSnapshot
	UserID string `json:"userId"`
	// Time is the ordering key: initiation time in unix millis, bumped on collision.
	Time           int64       `json:"time"`
	PaymentInfo    PaymentInfo `json:"paymentInfo"`
	OriginatesHere bool        `json:"originatesHere"`
	Aborted        bool        `json:"aborted"`
}
