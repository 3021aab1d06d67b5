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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/bus"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/store"

	"go.uber.org/zap"
)

// PutObject stores obj if its update id is greater than both the stored one
// and any deletion recorded for its URI. Sub-objects and committed transfers
// of unknown accounts are dropped.
func (s *Service) PutObject(ctx context.Context, userId string, obj models.Object) (bool, error) {
	if obj == nil {
		return false, fmt.Errorf("nil object")
	}

	var applied bool
	err := s.inTx(ctx, func(w *txWork) error {
		if err := s.requireUserTx(w, userId); err != nil {
			return err
		}

		var err error
		switch o := obj.(type) {
		case *models.Account:
			applied, err = s.putAccountRecordTx(w, userId, o)
		case *models.AccountDisplay, *models.AccountKnowledge, *models.AccountInfo:
			member := o.(models.AccountMember)
			if applied, err = s.putMemberTx(w, userId, member); err == nil && applied {
				err = s.checkAccountInfoTx(w, userId, member.OwnerURI())
			}
		case *models.AccountConfig, *models.AccountExchange, *models.AccountLedger, *models.CommittedTransfer:
			applied, err = s.putMemberTx(w, userId, o.(models.AccountMember))
		case *models.Document:
			applied, err = s.putDocumentTx(w, userId, o)
		default:
			err = fmt.Errorf("%w: %T", models.ErrUnknownObjectType, obj)
		}
		return err
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (s *Service) GetObject(ctx context.Context, uri string) (models.Object, error) {
	row := s.db.QueryRowContext(ctx, queryGetObject, uri)
	obj, _, err := scanObject(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrRecordDoesNotExist, uri)
		}
		return nil, fmt.Errorf("unable to load object %s: %w", uri, err)
	}
	return obj, nil
}

// DeleteObject removes the object unless a write newer than updateId has
// superseded it. The deletion is remembered so that older additions arriving
// later are rejected.
func (s *Service) DeleteObject(ctx context.Context, uri string, objType models.ObjectType, updateId uint64) (bool, error) {
	if objType == models.TypeAccount {
		return s.DeleteAccount(ctx, uri, updateId)
	}
	if objType.IsAccountMember() {
		return false, fmt.Errorf("%w: %s %s can only be deleted with its account",
			store.ErrInvariantViolation, objType, uri)
	}

	var applied bool
	err := s.inTx(ctx, func(w *txWork) error {
		var err error
		applied, err = s.deleteObjectTx(w, uri, objType, updateId)
		return err
	})
	return applied, err
}

// ListAccountObjects returns every stored account and account sub-object.
func (s *Service) ListAccountObjects(ctx context.Context) ([]models.Object, error) {
	var out []models.Object
	for _, t := range append([]models.ObjectType{models.TypeAccount}, models.AccountSubObjectTypes...) {
		objs, err := queryObjectsByType(ctx, s.db, t)
		if err != nil {
			return nil, err
		}
		out = append(out, objs...)
	}
	return out, nil
}

// putAccountRecordTx updates an already stored account. New accounts must
// arrive as a whole aggregate through StoreAccount.
func (s *Service) putAccountRecordTx(w *txWork, userId string, a *models.Account) (bool, error) {
	existing, err := s.getObjectTx(w, a.URI)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("%w: account %s must be stored together with its sub-objects",
			store.ErrInvariantViolation, a.URI)
	}
	if err != nil {
		return false, err
	}
	stored := existing.(*models.Account)
	if stored.Debtor.URI != a.Debtor.URI {
		return false, fmt.Errorf("%w: account %s cannot change its debtor", store.ErrInvariantViolation, a.URI)
	}
	if !sameRefs(stored, a) {
		return false, fmt.Errorf("%w: account %s cannot change its sub-objects", store.ErrInvariantViolation, a.URI)
	}
	return s.putObjectTx(w, userId, a)
}

func sameRefs(a, b *models.Account) bool {
	ra, rb := a.SubObjectURIs(), b.SubObjectURIs()
	for t, uri := range ra {
		if rb[t] != uri {
			return false
		}
	}
	return true
}

func (s *Service) putMemberTx(w *txWork, userId string, m models.AccountMember) (bool, error) {
	ok, err := s.accountExistsTx(w, m.OwnerURI())
	if err != nil {
		return false, err
	}
	if !ok {
		zap.L().Warn("Dropping write for unknown account",
			zap.String("uri", m.ObjectURI()),
			zap.String("type", string(m.ObjectType())),
			zap.String("account_uri", m.OwnerURI()))
		return false, nil
	}
	return s.putObjectTx(w, userId, m)
}

func (s *Service) accountExistsTx(w *txWork, accountUri string) (bool, error) {
	var objType models.ObjectType
	err := w.tx.QueryRowContext(w.ctx, `SELECT object_type FROM objects WHERE uri = ?`, accountUri).Scan(&objType)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("unable to look up account %s: %w", accountUri, err)
	}
	return objType == models.TypeAccount, nil
}

// versionTx returns the highest update id known for uri, counting deletions,
// and whether anything at all is known about it.
func (s *Service) versionTx(w *txWork, uri string) (uint64, bool, error) {
	var stored, tomb sql.NullInt64
	err := w.tx.QueryRowContext(w.ctx, `SELECT latest_update_id FROM objects WHERE uri = ?`, uri).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("unable to read version of %s: %w", uri, err)
	}
	err = w.tx.QueryRowContext(w.ctx, queryGetTombstone, uri).Scan(&tomb)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("unable to read tombstone of %s: %w", uri, err)
	}

	version := uint64(0)
	if stored.Valid {
		version = uint64(stored.Int64)
	}
	if tomb.Valid && uint64(tomb.Int64) > version {
		version = uint64(tomb.Int64)
	}
	return version, stored.Valid || tomb.Valid, nil
}

// putObjectTx applies the update-id rule and writes the row.
func (s *Service) putObjectTx(w *txWork, userId string, obj models.Object) (bool, error) {
	version, known, err := s.versionTx(w, obj.ObjectURI())
	if err != nil {
		return false, err
	}
	if known && obj.UpdateID() <= version {
		zap.L().Debug("Ignoring stale write",
			zap.String("uri", obj.ObjectURI()),
			zap.Uint64("incoming_update_id", obj.UpdateID()),
			zap.Uint64("known_update_id", version))
		return false, nil
	}
	if err := s.writeObjectTx(w, userId, obj); err != nil {
		return false, err
	}
	if _, err := w.tx.ExecContext(w.ctx, queryDeleteTombstone, obj.ObjectURI()); err != nil {
		return false, fmt.Errorf("unable to clear tombstone of %s: %w", obj.ObjectURI(), err)
	}
	return true, nil
}

// writeObjectTx writes obj unconditionally and queues its notification.
func (s *Service) writeObjectTx(w *txWork, userId string, obj models.Object) error {
	data, err := json.Marshal(obj)
	if err != nil {
		return fmt.Errorf("unable to encode %s: %w", obj.ObjectURI(), err)
	}

	var accountUri, debtorUri sql.NullString
	if m, ok := obj.(models.AccountMember); ok {
		accountUri = sql.NullString{String: m.OwnerURI(), Valid: true}
	}
	if a, ok := obj.(*models.Account); ok {
		debtorUri = sql.NullString{String: a.Debtor.URI, Valid: true}
	}

	_, err = w.tx.ExecContext(w.ctx, queryUpsertObject,
		obj.ObjectURI(), string(obj.ObjectType()), userId, accountUri, debtorUri, int64(obj.UpdateID()), data)
	if err != nil {
		return fmt.Errorf("unable to write %s: %w", obj.ObjectURI(), err)
	}
	w.publish(bus.Added(obj))
	return nil
}

func (s *Service) deleteObjectTx(w *txWork, uri string, objType models.ObjectType, updateId uint64) (bool, error) {
	var stored sql.NullInt64
	err := w.tx.QueryRowContext(w.ctx, `SELECT latest_update_id FROM objects WHERE uri = ?`, uri).Scan(&stored)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("unable to read version of %s: %w", uri, err)
	}
	if stored.Valid && uint64(stored.Int64) > updateId {
		zap.L().Debug("Ignoring stale deletion",
			zap.String("uri", uri),
			zap.Uint64("deletion_update_id", updateId),
			zap.Uint64("stored_update_id", uint64(stored.Int64)))
		return false, nil
	}

	if err := s.raiseTombstoneTx(w, uri, objType, updateId); err != nil {
		return false, err
	}
	if !stored.Valid {
		return false, nil
	}
	if _, err := w.tx.ExecContext(w.ctx, queryDeleteObject, uri); err != nil {
		return false, fmt.Errorf("unable to delete %s: %w", uri, err)
	}
	w.publish(bus.Deleted(uri, objType, updateId))
	return true, nil
}

// raiseTombstoneTx records a deletion at updateId unless a later one is
// already recorded.
func (s *Service) raiseTombstoneTx(w *txWork, uri string, objType models.ObjectType, updateId uint64) error {
	var tomb sql.NullInt64
	err := w.tx.QueryRowContext(w.ctx, queryGetTombstone, uri).Scan(&tomb)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("unable to read tombstone of %s: %w", uri, err)
	}
	if tomb.Valid && uint64(tomb.Int64) >= updateId {
		return nil
	}
	if _, err := w.tx.ExecContext(w.ctx, queryUpsertTombstone, uri, string(objType), int64(updateId)); err != nil {
		return fmt.Errorf("unable to record deletion of %s: %w", uri, err)
	}
	return nil
}

func (s *Service) getObjectTx(w *txWork, uri string) (models.Object, error) {
	obj, _, err := scanObject(w.tx.QueryRowContext(w.ctx, queryGetObject, uri))
	return obj, err
}

func scanObject(row rowScanner) (models.Object, string, error) {
	var (
		objType  models.ObjectType
		userId   string
		updateId int64
		data     []byte
	)
	if err := row.Scan(&objType, &userId, &updateId, &data); err != nil {
		return nil, "", err
	}
	obj, err := decodeObject(objType, data)
	return obj, userId, err
}

func decodeObject(objType models.ObjectType, data []byte) (models.Object, error) {
	obj, err := models.NewObject(objType)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, obj); err != nil {
		return nil, fmt.Errorf("unable to decode %s: %w", objType, err)
	}
	return obj, nil
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func queryObjectsByType(ctx context.Context, q dbtx, objType models.ObjectType) ([]models.Object, error) {
	rows, err := q.QueryContext(ctx, queryGetObjectsByType, string(objType))
	if err != nil {
		return nil, fmt.Errorf("unable to query %s objects: %w", objType, err)
	}
	defer closeRows(rows)

	var out []models.Object
	for rows.Next() {
		var t models.ObjectType
		var data []byte
		if err := rows.Scan(&t, &data); err != nil {
			return nil, fmt.Errorf("unable to scan object row: %w", err)
		}
		obj, err := decodeObject(t, data)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating object rows: %w", err)
	}
	return out, nil
}
