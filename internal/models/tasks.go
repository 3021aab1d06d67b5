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

type TaskType string

const (
	TaskFetchDebtorInfo TaskType = "FetchDebtorInfo"
	TaskDeleteTransfer  TaskType = "DeleteTransfer"
	TaskDeleteAccount   TaskType = "DeleteAccount"
)

// Task is a deferred background job.
type Task struct {
	TaskID         int64     `json:"taskId"`
	UserID         string    `json:"userId"`
	TaskType       TaskType  `json:"taskType"`
	ScheduledFor   time.Time `json:"scheduledFor"`
	BackoffSeconds int64     `json:"backoffSeconds"`

	IRI         string `json:"iri,omitempty"`
	TransferURI string `json:"transferUri,omitempty"`
	AccountURI  string `json:"accountUri,omitempty"`
}

// TargetKey is the value that makes re-arming a task idempotent.
func (t *Task) TargetKey() string {
	switch t.TaskType {
	case TaskFetchDebtorInfo:
		return t.IRI
	case TaskDeleteTransfer:
		return t.TransferURI
	case TaskDeleteAccount:
		return t.AccountURI
	}
	return ""
}
