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

package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/store"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/transfers"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// maxTimeAttempts bounds the search for a free ordering slot.
const maxTimeAttempts = 100

// StoreTransfer merges a server snapshot into the local transfer record and
// applies the side effects of the transfer's settlement state.
func (s *Service) StoreTransfer(ctx context.Context, userId string, snapshot *models.TransferSnapshot, originatesHere bool) (*models.Transfer, error) {
	if snapshot == nil || snapshot.URI == "" {
		return nil, fmt.Errorf("transfer snapshot without uri")
	}

	var stored *models.Transfer
	err := s.inTx(ctx, func(w *txWork) error {
		if err := s.requireUserTx(w, userId); err != nil {
			return err
		}
		var err error
		stored, err = s.storeTransferTx(w, userId, snapshot, originatesHere)
		return err
	})
	return stored, err
}

func (s *Service) GetTransfer(ctx context.Context, uri string) (*models.Transfer, error) {
	return getTransfer(ctx, s.db, uri)
}

// ListTransfers returns the user's transfers, most recent first.
func (s *Service) ListTransfers(ctx context.Context, userId string, limit int) ([]models.Transfer, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, queryListTransfers, userId, limit)
	if err != nil {
		zap.L().Error("Failed to query transfers", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("unable to query transfers: %w", err)
	}
	defer closeRows(rows)

	var out []models.Transfer
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("unable to scan transfer row: %w", err)
		}
		var t models.Transfer
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("unable to decode transfer: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transfer rows: %w", err)
	}
	return out, nil
}

// RefreshTransfers re-applies settlement side effects to the user's transfers
// that are not final yet, so that transfers become delayed as time passes.
func (s *Service) RefreshTransfers(ctx context.Context, userId string) (int, error) {
	list, err := s.ListTransfers(ctx, userId, 0)
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for i := range list {
		t := &list[i]
		if t.Aborted || transfers.State(&t.TransferSnapshot, s.now(), s.transfers.DelayedAfter) != transfers.StateDelayed {
			continue
		}
		err := s.inTx(ctx, func(w *txWork) error {
			current, err := getTransfer(w.ctx, w.tx, t.URI)
			if err != nil {
				return err
			}
			return s.applyTransferStateTx(w, current)
		})
		if err != nil {
			return refreshed, err
		}
		refreshed++
	}
	return refreshed, nil
}

func (s *Service) storeTransferTx(w *txWork, userId string, snapshot *models.TransferSnapshot, originatesHere bool) (*models.Transfer, error) {
	existing, err := getTransfer(w.ctx, w.tx, snapshot.URI)
	if err != nil && !isRecordMissing(err) {
		return nil, err
	}

	if existing != nil {
		if existing.UserID != userId {
			return nil, fmt.Errorf("%w: transfer %s belongs to another user", store.ErrInvariantViolation, snapshot.URI)
		}
		if snapshot.LatestUpdateID <= existing.LatestUpdateID {
			if originatesHere && !existing.OriginatesHere {
				existing.OriginatesHere = true
				if err := s.updateTransferTx(w, existing); err != nil {
					return nil, err
				}
			}
			return existing, nil
		}

		t := *existing
		t.TransferSnapshot = *snapshot
		t.OriginatesHere = existing.OriginatesHere || originatesHere
		t.PaymentInfo = s.notes.Parse(snapshot.NoteFormat, snapshot.Note)
		if err := s.updateTransferTx(w, &t); err != nil {
			return nil, err
		}
		return &t, s.applyTransferStateTx(w, &t)
	}

	t := &models.Transfer{
		TransferSnapshot: *snapshot,
		UserID:           userId,
		PaymentInfo:      s.notes.Parse(snapshot.NoteFormat, snapshot.Note),
		OriginatesHere:   originatesHere,
	}
	if err := s.insertTransferTx(w, t); err != nil {
		return nil, err
	}
	return t, s.applyTransferStateTx(w, t)
}

// insertTransferTx stores a new transfer. Its ordering time starts at the
// initiation time and moves forward by a millisecond until it is unique.
func (s *Service) insertTransferTx(w *txWork, t *models.Transfer) error {
	t.Time = t.InitiatedAt.UnixMilli()
	for attempt := 0; attempt < maxTimeAttempts; attempt++ {
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("unable to encode transfer %s: %w", t.URI, err)
		}
		_, err = w.tx.ExecContext(w.ctx, queryInsertTransfer, t.URI, t.UserID, t.Time, int64(t.LatestUpdateID), data)
		if err == nil {
			return nil
		}
		if !isUniqueViolation(err) {
			return fmt.Errorf("unable to insert transfer %s: %w", t.URI, err)
		}
		t.Time++
	}
	return fmt.Errorf("%w: no free ordering time for transfer %s", store.ErrRecordAlreadyExists, t.URI)
}

func (s *Service) updateTransferTx(w *txWork, t *models.Transfer) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("unable to encode transfer %s: %w", t.URI, err)
	}
	if _, err := w.tx.ExecContext(w.ctx, queryUpdateTransfer, int64(t.LatestUpdateID), data, t.URI); err != nil {
		return fmt.Errorf("unable to update transfer %s: %w", t.URI, err)
	}
	return nil
}

// applyTransferStateTx creates, refreshes or retracts the AbortTransfer
// action and schedules deletion according to the settlement state.
func (s *Service) applyTransferStateTx(w *txWork, t *models.Transfer) error {
	state := transfers.State(&t.TransferSnapshot, w.now, s.transfers.DelayedAfter)

	switch state {
	case transfers.StateSuccessful:
		pending, err := s.findReusableActionTx(w, t.UserID, models.ActionAbortTransfer, t.URI)
		if err != nil {
			return err
		}
		if pending != nil {
			if err := s.deleteActionRowTx(w, pending.ActionID); err != nil {
				return err
			}
		}
		_, err = s.putTaskTx(w, &models.Task{
			UserID:       t.UserID,
			TaskType:     models.TaskDeleteTransfer,
			ScheduledFor: t.Result.FinalizedAt.Add(s.transfers.DeletionDelay),
			TransferURI:  t.URI,
		})
		return err

	case transfers.StateDelayed, transfers.StateUnsuccessful:
		if t.Aborted {
			return nil
		}
		pending, err := s.findReusableActionTx(w, t.UserID, models.ActionAbortTransfer, t.URI)
		if err != nil {
			return err
		}
		if pending == nil {
			action := &models.Action{
				UserID:     t.UserID,
				CreatedAt:  w.now,
				ActionType: models.ActionAbortTransfer,
				AbortTransfer: &models.AbortTransferAction{
					TransferURI: t.URI,
					Transfer:    *t,
				},
			}
			if _, err := s.insertActionTx(w, action); err != nil {
				return err
			}
			zap.L().Info("Transfer needs attention",
				zap.String("transfer_uri", t.URI),
				zap.String("state", string(state)),
				zap.Int64("action_id", action.ActionID))
			return nil
		}
		// Only a more final snapshot replaces the one the user is looking at.
		if pending.AbortTransfer.Transfer.Result == nil && t.Result != nil {
			pending.AbortTransfer.Transfer = *t
			return s.updateActionTx(w, pending)
		}
		return nil

	case transfers.StateWaiting:
		return nil

	default:
		return fmt.Errorf("unknown settlement state %q", state)
	}
}

// abortTransferTx marks a transfer as given up locally and schedules its
// deletion after the minimum delay.
func (s *Service) abortTransferTx(w *txWork, uri string) error {
	t, err := getTransfer(w.ctx, w.tx, uri)
	if isRecordMissing(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if t.Aborted {
		return nil
	}

	t.Aborted = true
	if err := s.updateTransferTx(w, t); err != nil {
		return err
	}
	_, err = s.putTaskTx(w, &models.Task{
		UserID:       t.UserID,
		TaskType:     models.TaskDeleteTransfer,
		ScheduledFor: w.now.Add(s.transfers.DeletionMinDelay),
		TransferURI:  t.URI,
	})
	if err != nil {
		return err
	}

	zap.L().Info("Transfer aborted", zap.String("transfer_uri", uri))
	return nil
}

func getTransfer(ctx context.Context, q dbtx, uri string) (*models.Transfer, error) {
	var data []byte
	err := q.QueryRowContext(ctx, queryGetTransfer, uri).Scan(&data)
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: transfer %s", store.ErrRecordDoesNotExist, uri)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to load transfer %s: %w", uri, err)
	}
	var t models.Transfer
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unable to decode transfer %s: %w", uri, err)
	}
	return &t, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
