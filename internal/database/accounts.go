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
	"database/sql"
	"errors"
	"fmt"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/store"

	"go.uber.org/zap"
)

const stepReconcile = "reconcile"

// StoreAccount writes an account together with its six sub-objects. Either
// all seven records are written or none is.
func (s *Service) StoreAccount(ctx context.Context, userId string, aggregate *models.AccountAggregate) error {
	if aggregate == nil {
		return fmt.Errorf("%w: nil account aggregate", store.ErrInvariantViolation)
	}
	if err := aggregate.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvariantViolation, err)
	}
	accountUri := aggregate.Account.URI

	return s.inTx(ctx, func(w *txWork) error {
		if err := s.requireUserTx(w, userId); err != nil {
			return err
		}

		exists, err := s.accountExistsTx(w, accountUri)
		if err != nil {
			return err
		}
		if exists {
			if err := s.mergeAccountTx(w, userId, aggregate); err != nil {
				return err
			}
		} else {
			if err := s.insertAccountTx(w, userId, aggregate); err != nil {
				return err
			}
		}

		if err := s.fault(stepReconcile); err != nil {
			return err
		}
		return s.checkAccountInfoTx(w, userId, accountUri)
	})
}

func (s *Service) insertAccountTx(w *txWork, userId string, aggregate *models.AccountAggregate) error {
	account := aggregate.Account

	var other string
	err := w.tx.QueryRowContext(w.ctx, queryFindAccountByDebtor, userId, account.Debtor.URI).Scan(&other)
	switch {
	case err == nil:
		zap.L().Error("Debtor already has an account",
			zap.String("debtor_uri", account.Debtor.URI),
			zap.String("existing_account_uri", other),
			zap.String("account_uri", account.URI))
		return fmt.Errorf("%w: debtor %s already has account %s",
			store.ErrInvariantViolation, account.Debtor.URI, other)
	case !errors.Is(err, sql.ErrNoRows):
		return fmt.Errorf("unable to check debtor %s: %w", account.Debtor.URI, err)
	}

	objects := []models.Object{account}
	for _, m := range aggregate.Members() {
		objects = append(objects, m)
	}
	for _, obj := range objects {
		applied, err := s.putObjectTx(w, userId, obj)
		if err != nil {
			return err
		}
		if !applied {
			return fmt.Errorf("%w: %s %s is older than a recorded deletion",
				store.ErrInvariantViolation, obj.ObjectType(), obj.ObjectURI())
		}
		if err := s.fault(string(obj.ObjectType())); err != nil {
			return err
		}
	}

	zap.L().Info("Account created",
		zap.String("user_id", userId),
		zap.String("account_uri", account.URI),
		zap.String("debtor_uri", account.Debtor.URI))
	return nil
}

func (s *Service) mergeAccountTx(w *txWork, userId string, aggregate *models.AccountAggregate) error {
	if _, err := s.putAccountRecordTx(w, userId, aggregate.Account); err != nil {
		return err
	}
	if err := s.fault(string(models.TypeAccount)); err != nil {
		return err
	}
	for _, m := range aggregate.Members() {
		if _, err := s.putObjectTx(w, userId, m); err != nil {
			return err
		}
		if err := s.fault(string(m.ObjectType())); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) GetAccount(ctx context.Context, accountUri string) (*models.AccountAggregate, error) {
	return loadAccount(ctx, s.db, accountUri)
}

// DeleteAccount removes the account, its sub-objects, committed transfers,
// pending actions and pending tasks, unless the account has been updated
// after updateId.
func (s *Service) DeleteAccount(ctx context.Context, accountUri string, updateId uint64) (bool, error) {
	var applied bool
	err := s.inTx(ctx, func(w *txWork) error {
		var err error
		applied, err = s.deleteAccountTx(w, accountUri, updateId, false)
		return err
	})
	return applied, err
}

func (s *Service) deleteAccountTx(w *txWork, accountUri string, updateId uint64, force bool) (bool, error) {
	aggregate, err := loadAccount(w.ctx, w.tx, accountUri)
	if errors.Is(err, store.ErrRecordDoesNotExist) {
		if _, err := s.deleteObjectTx(w, accountUri, models.TypeAccount, updateId); err != nil {
			return false, err
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}

	account := aggregate.Account
	if force && account.LatestUpdateID > updateId {
		updateId = account.LatestUpdateID
	}
	if account.LatestUpdateID > updateId {
		zap.L().Debug("Ignoring stale account deletion",
			zap.String("account_uri", accountUri),
			zap.Uint64("deletion_update_id", updateId),
			zap.Uint64("stored_update_id", account.LatestUpdateID))
		return false, nil
	}

	if _, err := s.deleteObjectTx(w, accountUri, models.TypeAccount, updateId); err != nil {
		return false, err
	}
	if err := s.fault(string(models.TypeAccount)); err != nil {
		return false, err
	}
	for _, m := range aggregate.Members() {
		if _, err := s.deleteObjectTx(w, m.ObjectURI(), m.ObjectType(), max(updateId, m.UpdateID())); err != nil {
			return false, err
		}
		if err := s.fault(string(m.ObjectType())); err != nil {
			return false, err
		}
	}

	committed, err := s.objectRefsByAccountTx(w, accountUri, models.TypeCommittedTransfer)
	if err != nil {
		return false, err
	}
	for _, ref := range committed {
		if _, err := s.deleteObjectTx(w, ref.uri, ref.objType, ref.updateId); err != nil {
			return false, err
		}
	}
	if err := s.fault(string(models.TypeCommittedTransfer)); err != nil {
		return false, err
	}

	if _, err := w.tx.ExecContext(w.ctx, queryDeleteAccountActions, accountUri); err != nil {
		return false, fmt.Errorf("unable to delete actions of %s: %w", accountUri, err)
	}
	if _, err := w.tx.ExecContext(w.ctx, queryDeleteAccountTasks, accountUri); err != nil {
		return false, fmt.Errorf("unable to delete tasks of %s: %w", accountUri, err)
	}

	zap.L().Info("Account deleted",
		zap.String("account_uri", accountUri),
		zap.Int("committed_transfers", len(committed)))
	return true, nil
}

type objectRef struct {
	uri      string
	objType  models.ObjectType
	updateId uint64
}

func (s *Service) objectRefsByAccountTx(w *txWork, accountUri string, objType models.ObjectType) ([]objectRef, error) {
	rows, err := w.tx.QueryContext(w.ctx, queryGetObjectsByAccount, accountUri, string(objType))
	if err != nil {
		return nil, fmt.Errorf("unable to query %s objects of %s: %w", objType, accountUri, err)
	}
	defer closeRows(rows)

	var refs []objectRef
	for rows.Next() {
		var r objectRef
		if err := rows.Scan(&r.uri, &r.objType, &r.updateId); err != nil {
			return nil, fmt.Errorf("unable to scan object row: %w", err)
		}
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

// loadAccount reads an account aggregate. A stored account with a missing
// sub-object is reported as an invariant violation.
func loadAccount(ctx context.Context, q dbtx, accountUri string) (*models.AccountAggregate, error) {
	obj, _, err := scanObject(q.QueryRowContext(ctx, queryGetObject, accountUri))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: account %s", store.ErrRecordDoesNotExist, accountUri)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to load account %s: %w", accountUri, err)
	}
	account, ok := obj.(*models.Account)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not an account", store.ErrRecordDoesNotExist, accountUri)
	}

	aggregate := &models.AccountAggregate{Account: account}
	for objType, uri := range account.SubObjectURIs() {
		member, _, err := scanObject(q.QueryRowContext(ctx, queryGetObject, uri))
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: account %s has no %s", store.ErrInvariantViolation, accountUri, objType)
		}
		if err != nil {
			return nil, fmt.Errorf("unable to load %s: %w", uri, err)
		}

		switch m := member.(type) {
		case *models.AccountDisplay:
			aggregate.Display = m
		case *models.AccountConfig:
			aggregate.Config = m
		case *models.AccountKnowledge:
			aggregate.Knowledge = m
		case *models.AccountExchange:
			aggregate.Exchange = m
		case *models.AccountInfo:
			aggregate.Info = m
		case *models.AccountLedger:
			aggregate.Ledger = m
		default:
			return nil, fmt.Errorf("%w: %s has unexpected type %s", store.ErrInvariantViolation, uri, member.ObjectType())
		}
	}
	return aggregate, nil
}
