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
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/store"

	"go.uber.org/zap"
)

// Store is what the tracker needs from the persistent mirror.
type Store interface {
	store.ActionLedger
	StoreTransfer(ctx context.Context, userId string, snapshot *models.TransferSnapshot, originatesHere bool) (*models.Transfer, error)
}

// Draft describes a payment the user is about to make.
type Draft struct {
	UserID       string
	AccountURI   string
	RecipientURI string
	Amount       int64
	NoteFormat   string
	Note         string
	PaymentInfo  models.PaymentInfo
	Deadline     *time.Time
}

// Outcome is the server's answer to a transfer request. Transfer is set when
// the server created the transfer, Error when it refused the request.
type Outcome struct {
	Transfer *models.TransferSnapshot
	Error    string
}

// Tracker moves CreateTransfer actions through their lifecycle. Every step
// is a compare-and-swap on the stored action, so a step taken concurrently
// elsewhere surfaces as store.ErrConflict.
type Tracker struct {
	store    Store
	minDelay time.Duration
	now      func() time.Time
}

func NewTracker(s Store, cfg models.TransfersConfig, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{store: s, minDelay: cfg.DeletionMinDelay, now: now}
}

// NewDraft records a CreateTransfer action with a fresh transfer UUID.
func (t *Tracker) NewDraft(ctx context.Context, d Draft) (*models.Action, error) {
	if d.Amount <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive, got %d", d.Amount)
	}
	action := &models.Action{
		UserID:     d.UserID,
		CreatedAt:  t.now(),
		ActionType: models.ActionCreateTransfer,
		CreateTransfer: &models.CreateTransferAction{
			AccountURI:   d.AccountURI,
			TransferUUID: uuid.New().String(),
			RecipientURI: d.RecipientURI,
			Amount:       d.Amount,
			NoteFormat:   d.NoteFormat,
			Note:         d.Note,
			PaymentInfo:  d.PaymentInfo,
			Deadline:     d.Deadline,
		},
	}
	if _, err := t.store.CreateAction(ctx, action); err != nil {
		return nil, fmt.Errorf("failed to create transfer draft: %w", err)
	}
	return action, nil
}

// Execute marks the start of the execution. Restarting an execution that
// already began keeps its original start time so the timeout cannot be
// extended.
func (t *Tracker) Execute(ctx context.Context, action *models.Action) (*models.Action, error) {
	return t.update(ctx, action, func(a *models.CreateTransferAction) error {
		if a.Execution == nil {
			a.Execution = &models.TransferExecution{StartedAt: t.now()}
		}
		return nil
	})
}

// MarkRequestSent records that a request went out whose outcome is unknown.
func (t *Tracker) MarkRequestSent(ctx context.Context, action *models.Action) (*models.Action, error) {
	return t.update(ctx, action, func(a *models.CreateTransferAction) error {
		if a.Execution == nil {
			return fmt.Errorf("transfer %s has not been executed", a.TransferUUID)
		}
		if a.Execution.Result != nil {
			return fmt.Errorf("transfer %s is already resolved", a.TransferUUID)
		}
		now := t.now()
		a.Execution.UnresolvedRequestAt = &now
		return nil
	})
}

// Resolve applies the server's answer. A created transfer is stored and the
// action removed. A refusal is recorded on the action for the user to see.
func (t *Tracker) Resolve(ctx context.Context, action *models.Action, outcome Outcome) (*models.Action, error) {
	if outcome.Transfer != nil {
		if _, err := t.store.StoreTransfer(ctx, action.UserID, outcome.Transfer, true); err != nil {
			return nil, fmt.Errorf("failed to store transfer %s: %w", outcome.Transfer.URI, err)
		}
	}

	if outcome.Transfer != nil && outcome.Error == "" {
		if err := t.store.ReplaceAction(ctx, action, nil); err != nil {
			return nil, err
		}
		zap.L().Info("Transfer initiated",
			zap.String("user_id", action.UserID),
			zap.String("transfer_uri", outcome.Transfer.URI))
		return nil, nil
	}

	resolved, err := t.update(ctx, action, func(a *models.CreateTransferAction) error {
		if a.Execution == nil {
			a.Execution = &models.TransferExecution{StartedAt: t.now()}
		}
		a.Execution.UnresolvedRequestAt = nil
		a.Execution.Result = &models.TransferExecutionResult{OK: false, Error: outcome.Error}
		if outcome.Transfer != nil {
			a.Execution.Result.TransferURI = outcome.Transfer.URI
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	zap.L().Warn("Transfer failed",
		zap.String("user_id", action.UserID),
		zap.String("transfer_uuid", action.CreateTransfer.TransferUUID),
		zap.String("error", outcome.Error))
	return resolved, nil
}

// Dismiss removes a draft or a failed transfer action.
func (t *Tracker) Dismiss(ctx context.Context, action *models.Action) error {
	switch t.Status(action) {
	case StatusDraft, StatusFailed, StatusTimedOut:
		return t.store.ReplaceAction(ctx, action, nil)
	default:
		return fmt.Errorf("transfer %s is still in progress", action.CreateTransfer.TransferUUID)
	}
}

// Status reports the action's status at the current time.
func (t *Tracker) Status(action *models.Action) CreateTransferStatus {
	return Status(action.CreateTransfer, t.now(), t.minDelay)
}

func (t *Tracker) update(ctx context.Context, action *models.Action, mutate func(*models.CreateTransferAction) error) (*models.Action, error) {
	if action.ActionType != models.ActionCreateTransfer || action.CreateTransfer == nil {
		return nil, errors.New("not a CreateTransfer action")
	}
	next, err := action.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to copy action %d: %w", action.ActionID, err)
	}
	if err := mutate(next.CreateTransfer); err != nil {
		return nil, err
	}
	if err := t.store.ReplaceAction(ctx, action, next); err != nil {
		return nil, err
	}
	return next, nil
}
