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
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/reconcile"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/store"

	"go.uber.org/zap"
)

// ListActions returns the user's actions ordered by creation time.
func (s *Service) ListActions(ctx context.Context, userId string, opts store.ListOptions) ([]models.Action, error) {
	var (
		where strings.Builder
		args  = []any{userId}
	)
	where.WriteString("user_id = ?")
	if opts.After != nil {
		where.WriteString(" AND created_at > ?")
		args = append(args, opts.After.UnixMilli())
	}
	if opts.Before != nil {
		where.WriteString(" AND created_at < ?")
		args = append(args, opts.Before.UnixMilli())
	}
	order := "ASC"
	if opts.LatestFirst {
		order = "DESC"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT action_id, data
		FROM actions
		WHERE %s
		ORDER BY created_at %s, action_id %s
		LIMIT ?`, where.String(), order, order)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		zap.L().Error("Failed to query actions", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("unable to query actions: %w", err)
	}
	defer closeRows(rows)

	var actions []models.Action
	for rows.Next() {
		var id int64
		var data []byte
		if err := rows.Scan(&id, &data); err != nil {
			return nil, fmt.Errorf("unable to scan action row: %w", err)
		}
		action, err := decodeAction(id, data)
		if err != nil {
			return nil, err
		}
		actions = append(actions, *action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating action rows: %w", err)
	}
	return actions, nil
}

func (s *Service) GetAction(ctx context.Context, actionId int64) (*models.Action, error) {
	action, _, err := getAction(ctx, s.db, actionId)
	return action, err
}

// CreateAction stores a new action and sets its ActionID.
func (s *Service) CreateAction(ctx context.Context, action *models.Action) (int64, error) {
	if err := action.Validate(); err != nil {
		return 0, err
	}

	var id int64
	err := s.inTx(ctx, func(w *txWork) error {
		if err := s.requireUserTx(w, action.UserID); err != nil {
			return err
		}
		var err error
		id, err = s.insertActionTx(w, action)
		return err
	})
	return id, err
}

// CreateOrReuseAction stores the action unless an unresolved one of the same
// kind exists for the same target. With overrideExisting the old one is
// replaced, otherwise it is kept and its id returned.
func (s *Service) CreateOrReuseAction(ctx context.Context, action *models.Action, overrideExisting bool) (int64, error) {
	if err := action.Validate(); err != nil {
		return 0, err
	}

	var id int64
	err := s.inTx(ctx, func(w *txWork) error {
		if err := s.requireUserTx(w, action.UserID); err != nil {
			return err
		}
		var err error
		id, err = s.createOrReuseTx(w, action, overrideExisting)
		return err
	})
	return id, err
}

// ReplaceAction swaps original for replacement if the stored record still
// equals original. A replacement with the same ActionID, ActionType and
// CreatedAt is updated in place. Otherwise the original is removed, with the
// same cleanup as RemoveAction, and a non-nil replacement is stored as a new
// action.
func (s *Service) ReplaceAction(ctx context.Context, original *models.Action, replacement *models.Action) error {
	if original == nil || original.ActionID == 0 {
		return fmt.Errorf("original action must have an id")
	}
	if replacement != nil {
		if err := replacement.Validate(); err != nil {
			return err
		}
	}

	return s.inTx(ctx, func(w *txWork) error {
		stored, raw, err := getAction(w.ctx, w.tx, original.ActionID)
		if isRecordMissing(err) {
			return fmt.Errorf("%w: %w", store.ErrConflict, err)
		}
		if err != nil {
			return err
		}
		expected, err := canonicalAction(original)
		if err != nil {
			return err
		}
		if !bytes.Equal(expected, raw) {
			zap.L().Info("Action modified concurrently", zap.Int64("action_id", original.ActionID))
			return fmt.Errorf("%w: action %d", store.ErrConflict, original.ActionID)
		}

		if replacement != nil && isInPlaceUpdate(original, replacement) {
			return s.updateActionTx(w, replacement)
		}
		if err := s.removeActionTx(w, stored); err != nil {
			return err
		}
		if replacement == nil {
			return nil
		}
		if err := s.requireUserTx(w, replacement.UserID); err != nil {
			return err
		}
		_, err = s.insertActionTx(w, replacement)
		return err
	})
}

func isInPlaceUpdate(original, replacement *models.Action) bool {
	return replacement.ActionID == original.ActionID &&
		replacement.ActionType == original.ActionType &&
		replacement.CreatedAt.Equal(original.CreatedAt)
}

// RemoveAction deletes the action and cleans up after it. Removing an
// action that no longer exists is not an error.
func (s *Service) RemoveAction(ctx context.Context, actionId int64) error {
	return s.inTx(ctx, func(w *txWork) error {
		action, _, err := getAction(w.ctx, w.tx, actionId)
		if isRecordMissing(err) {
			zap.L().Debug("Action already removed", zap.Int64("action_id", actionId))
			return nil
		}
		if err != nil {
			return err
		}
		return s.removeActionTx(w, action)
	})
}

// removeActionTx deletes the row and runs the kind-specific cleanup.
func (s *Service) removeActionTx(w *txWork, action *models.Action) error {
	if err := s.deleteActionRowTx(w, action.ActionID); err != nil {
		return err
	}

	switch action.ActionType {
	case models.ActionAbortTransfer:
		return s.abortTransferTx(w, action.AbortTransfer.TransferURI)
	case models.ActionAckAccountInfo:
		if action.AckAccountInfo.Acknowledged {
			return s.applyAcknowledgementTx(w, action)
		}
		return nil
	case models.ActionCreateAccount, models.ActionApprovePeg, models.ActionApproveAmountDisplay,
		models.ActionApproveDebtorName, models.ActionConfigAccount, models.ActionUpdatePolicy,
		models.ActionPaymentRequest, models.ActionCreateTransfer:
		return nil
	default:
		return fmt.Errorf("%w: %q", models.ErrUnknownActionType, action.ActionType)
	}
}

// applyAcknowledgementTx records what the user has seen as the account's
// knowledge, creates the approvals the changes call for, and looks for
// changes that arrived in the meantime.
func (s *Service) applyAcknowledgementTx(w *txWork, action *models.Action) error {
	ack := action.AckAccountInfo
	aggregate, err := loadAccount(w.ctx, w.tx, ack.AccountURI)
	if isRecordMissing(err) {
		return nil
	}
	if err != nil {
		return err
	}

	knowledge := reconcile.AcknowledgedKnowledge(aggregate.Knowledge, ack)
	if err := s.writeObjectTx(w, action.UserID, knowledge); err != nil {
		return err
	}

	for _, followUp := range reconcile.FollowUps(action.UserID, w.now, ack) {
		if _, err := s.createOrReuseTx(w, followUp.Action, followUp.Override); err != nil {
			return err
		}
	}
	return s.checkAccountInfoTx(w, action.UserID, ack.AccountURI)
}

func (s *Service) createOrReuseTx(w *txWork, action *models.Action, overrideExisting bool) (int64, error) {
	key := action.ReuseKey()
	if key == "" {
		return s.insertActionTx(w, action)
	}

	existing, err := s.findReusableActionTx(w, action.UserID, action.ActionType, key)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		return s.insertActionTx(w, action)
	}
	if overrideExisting {
		if err := s.deleteActionRowTx(w, existing.ActionID); err != nil {
			return 0, err
		}
		return s.insertActionTx(w, action)
	}

	if action.ActionType == models.ActionApprovePeg {
		current, next := &existing.ApprovePeg.Peg, &action.ApprovePeg.Peg
		if reconcile.SamePegParams(current, next) && current.LatestDebtorInfo != next.LatestDebtorInfo {
			current.LatestDebtorInfo = next.LatestDebtorInfo
			existing.ApprovePeg.IgnoreCoinMismatch = false
			if err := s.updateActionTx(w, existing); err != nil {
				return 0, err
			}
		}
	}
	action.ActionID = existing.ActionID
	return existing.ActionID, nil
}

func (s *Service) findReusableActionTx(w *txWork, userId string, actionType models.ActionType, key string) (*models.Action, error) {
	var id int64
	var data []byte
	err := w.tx.QueryRowContext(w.ctx, queryFindReusableAction, userId, string(actionType), key).Scan(&id, &data)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("unable to look up %s action for %s: %w", actionType, key, err)
	}
	return decodeAction(id, data)
}

func (s *Service) insertActionTx(w *txWork, action *models.Action) (int64, error) {
	if action.CreatedAt.IsZero() {
		action.CreatedAt = w.now
	}
	action.ActionID = 0
	data, err := canonicalAction(action)
	if err != nil {
		return 0, err
	}

	res, err := w.tx.ExecContext(w.ctx, queryInsertAction,
		action.UserID, action.CreatedAt.UnixMilli(), string(action.ActionType),
		nullString(action.AccountURI()), nullString(action.ReuseKey()), data)
	if err != nil {
		return 0, fmt.Errorf("unable to insert action: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("unable to get action id: %w", err)
	}
	action.ActionID = id

	zap.L().Debug("Action created",
		zap.Int64("action_id", id),
		zap.String("user_id", action.UserID),
		zap.String("action_type", string(action.ActionType)))
	return id, nil
}

func (s *Service) updateActionTx(w *txWork, action *models.Action) error {
	data, err := canonicalAction(action)
	if err != nil {
		return err
	}
	res, err := w.tx.ExecContext(w.ctx, queryUpdateAction,
		action.UserID, action.CreatedAt.UnixMilli(), string(action.ActionType),
		nullString(action.AccountURI()), nullString(action.ReuseKey()), data, action.ActionID)
	if err != nil {
		return fmt.Errorf("unable to update action %d: %w", action.ActionID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("unable to get rows affected: %w", err)
	} else if n == 0 {
		return fmt.Errorf("%w: action %d", store.ErrRecordDoesNotExist, action.ActionID)
	}
	return nil
}

func (s *Service) deleteActionRowTx(w *txWork, actionId int64) error {
	if _, err := w.tx.ExecContext(w.ctx, queryDeleteAction, actionId); err != nil {
		return fmt.Errorf("unable to delete action %d: %w", actionId, err)
	}
	return nil
}

func getAction(ctx context.Context, q dbtx, actionId int64) (*models.Action, []byte, error) {
	var data []byte
	err := q.QueryRowContext(ctx, queryGetAction, actionId).Scan(&data)
	if isNoRows(err) {
		return nil, nil, fmt.Errorf("%w: action %d", store.ErrRecordDoesNotExist, actionId)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("unable to load action %d: %w", actionId, err)
	}
	action, err := decodeAction(actionId, data)
	return action, data, err
}

// canonicalAction is the stored form of an action: its JSON encoding after
// one decode round trip, without the id.
func canonicalAction(action *models.Action) ([]byte, error) {
	c, err := action.Clone()
	if err != nil {
		return nil, fmt.Errorf("unable to encode action: %w", err)
	}
	c.ActionID = 0
	return json.Marshal(c)
}

func decodeAction(id int64, data []byte) (*models.Action, error) {
	var action models.Action
	if err := json.Unmarshal(data, &action); err != nil {
		return nil, fmt.Errorf("unable to decode action %d: %w", id, err)
	}
	action.ActionID = id
	return &action, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isRecordMissing(err error) bool {
	return err != nil && errors.Is(err, store.ErrRecordDoesNotExist)
}
