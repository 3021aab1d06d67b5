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

package store

import (
	"context"
	"errors"
	"time"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
)

// Sentinel errors shared by every component that reads or writes the store.
var (
	ErrRecordDoesNotExist  = errors.New("record does not exist")
	ErrConflict            = errors.New("record has been modified concurrently")
	ErrUserNotInstalled    = errors.New("user is not installed")
	ErrRecordAlreadyExists = errors.New("record already exists")
	ErrInvariantViolation  = errors.New("store invariant violated")
)

// ListOptions bounds a range query ordered by (userId, createdAt).
type ListOptions struct {
	Before      *time.Time
	After       *time.Time
	Limit       int
	LatestFirst bool
}

// TaskResult carries the outcome of a task execution back to the store.
type TaskResult struct {
	Document *models.Document
}

// ObjectStore is the versioned object store.
type ObjectStore interface {
	PutObject(ctx context.Context, userId string, obj models.Object) (bool, error)
	GetObject(ctx context.Context, uri string) (models.Object, error)
	DeleteObject(ctx context.Context, uri string, objType models.ObjectType, updateId uint64) (bool, error)
	StoreAccount(ctx context.Context, userId string, aggregate *models.AccountAggregate) error
	GetAccount(ctx context.Context, accountUri string) (*models.AccountAggregate, error)
	DeleteAccount(ctx context.Context, accountUri string, updateId uint64) (bool, error)
	ListAccountObjects(ctx context.Context) ([]models.Object, error)
	PutDocument(ctx context.Context, userId string, doc *models.Document) (bool, error)
}

// ActionLedger manages action records.
type ActionLedger interface {
	ListActions(ctx context.Context, userId string, opts ListOptions) ([]models.Action, error)
	GetAction(ctx context.Context, actionId int64) (*models.Action, error)
	CreateAction(ctx context.Context, action *models.Action) (int64, error)
	CreateOrReuseAction(ctx context.Context, action *models.Action, overrideExisting bool) (int64, error)
	ReplaceAction(ctx context.Context, original *models.Action, replacement *models.Action) error
	RemoveAction(ctx context.Context, actionId int64) error
}

// TaskStore persists background tasks.
type TaskStore interface {
	PutTask(ctx context.Context, task *models.Task) (int64, error)
	DueTasks(ctx context.Context, userId string, now time.Time, limit int) ([]models.Task, error)
	RemoveTask(ctx context.Context, taskId int64) error
	RescheduleTask(ctx context.Context, task *models.Task, success bool, result *TaskResult) error
}

// TransferStore persists transfers together with their local fields.
type TransferStore interface {
	StoreTransfer(ctx context.Context, userId string, snapshot *models.TransferSnapshot, originatesHere bool) (*models.Transfer, error)
	GetTransfer(ctx context.Context, uri string) (*models.Transfer, error)
	ListTransfers(ctx context.Context, userId string, limit int) ([]models.Transfer, error)
	RefreshTransfers(ctx context.Context, userId string) (int, error)
}

// WalletStore defines the contract of the persistent mirror.
type WalletStore interface {
	ObjectStore
	ActionLedger
	TaskStore
	TransferStore

	// --- Users ---
	InstallUser(ctx context.Context, userId, walletUri string) (*models.User, error)
	UninstallUser(ctx context.Context, userId string) error
	GetUsers(ctx context.Context) ([]models.User, error)
	GetUserById(ctx context.Context, userId string) (*models.User, error)

	// --- Lifecycle ---
	Close()
}
