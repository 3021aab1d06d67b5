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
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/reconcile"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/store"

	"go.uber.org/zap"
)

// checkAccountInfoTx compares the acknowledged and the observed metadata of
// an account and records an AckAccountInfo action when they differ and no
// such action is pending yet.
func (s *Service) checkAccountInfoTx(w *txWork, userId, accountUri string) error {
	aggregate, err := loadAccount(w.ctx, w.tx, accountUri)
	if errors.Is(err, store.ErrRecordDoesNotExist) {
		return nil
	}
	if err != nil {
		return err
	}

	// Nothing to acknowledge before the user has accepted the currency.
	if !aggregate.Display.HasConfirmedName() {
		return nil
	}

	debtor, err := s.debtorDataTx(w, userId, aggregate)
	if err != nil {
		return err
	}

	changes := reconcile.Diff(aggregate.Knowledge, aggregate.Info, debtor)
	if !changes.Any() {
		return nil
	}

	pending, err := s.findReusableActionTx(w, userId, models.ActionAckAccountInfo, accountUri)
	if err != nil {
		return err
	}
	if pending != nil {
		return nil
	}

	action := reconcile.NewAckAction(userId, w.now, aggregate.Knowledge, aggregate.Info, debtor, changes)
	id, err := s.insertActionTx(w, action)
	if err != nil {
		return err
	}

	zap.L().Info("Account info changed",
		zap.String("user_id", userId),
		zap.String("account_uri", accountUri),
		zap.Int64("action_id", id),
		zap.Uint64("info_update_id", aggregate.Info.LatestUpdateID),
		zap.Uint64("knowledge_update_id", aggregate.Knowledge.LatestUpdateID))
	return nil
}

// debtorDataTx returns the parsed debtor info the account refers to, or nil
// when it is not available yet. A missing or outdated document arms a fetch.
func (s *Service) debtorDataTx(w *txWork, userId string, aggregate *models.AccountAggregate) (*models.DebtorData, error) {
	ref := aggregate.Info.DebtorInfo
	if ref == nil || ref.IRI == "" {
		return nil, nil
	}

	var doc *models.Document
	obj, err := s.getObjectTx(w, ref.IRI)
	switch {
	case err == nil:
		doc, _ = obj.(*models.Document)
	case !isNoRows(err):
		return nil, fmt.Errorf("unable to load document %s: %w", ref.IRI, err)
	}

	if doc == nil || (ref.SHA256 != "" && !strings.EqualFold(doc.SHA256, ref.SHA256)) {
		_, err := s.putTaskTx(w, &models.Task{
			UserID:       userId,
			TaskType:     models.TaskFetchDebtorInfo,
			ScheduledFor: w.now,
			IRI:          ref.IRI,
		})
		return nil, err
	}

	data, err := s.debtors.Parse(doc)
	if err != nil {
		zap.L().Warn("Unable to parse debtor info",
			zap.String("iri", ref.IRI),
			zap.String("account_uri", aggregate.Account.URI),
			zap.Error(err))
		return nil, nil
	}
	return data, nil
}

type infoRef struct {
	userId     string
	accountUri string
	sha256     string
}

// infosReferencingTx finds the account infos that point at a debtor-info IRI.
func (s *Service) infosReferencingTx(w *txWork, iri string) ([]infoRef, error) {
	rows, err := w.tx.QueryContext(w.ctx, queryGetOwnedObjectsByType, string(models.TypeAccountInfo))
	if err != nil {
		return nil, fmt.Errorf("unable to query account infos: %w", err)
	}
	defer closeRows(rows)

	var refs []infoRef
	for rows.Next() {
		var userId string
		var data []byte
		if err := rows.Scan(&userId, &data); err != nil {
			return nil, fmt.Errorf("unable to scan account info row: %w", err)
		}
		var info models.AccountInfo
		if err := json.Unmarshal(data, &info); err != nil {
			return nil, fmt.Errorf("unable to decode account info: %w", err)
		}
		if info.DebtorInfo != nil && info.DebtorInfo.IRI == iri {
			refs = append(refs, infoRef{userId: userId, accountUri: info.Account.URI, sha256: info.DebtorInfo.SHA256})
		}
	}
	return refs, rows.Err()
}
