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
	"strings"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/docs"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"

	"go.uber.org/zap"
)

// PutDocument stores a fetched document. Documents carry no server update
// id; a document whose content hash changed gets the next local one. Every
// account referring to the document is reconciled again.
func (s *Service) PutDocument(ctx context.Context, userId string, doc *models.Document) (bool, error) {
	if doc == nil || doc.URI == "" {
		return false, fmt.Errorf("document without uri")
	}

	var applied bool
	err := s.inTx(ctx, func(w *txWork) error {
		if err := s.requireUserTx(w, userId); err != nil {
			return err
		}
		var err error
		applied, err = s.putDocumentTx(w, userId, doc)
		return err
	})
	return applied, err
}

func (s *Service) putDocumentTx(w *txWork, userId string, doc *models.Document) (bool, error) {
	d := *doc
	if d.SHA256 == "" {
		d.SHA256 = docs.ContentHash(d.Content)
	}

	version, known, err := s.versionTx(w, d.URI)
	if err != nil {
		return false, err
	}
	if known {
		if existing, err := s.getObjectTx(w, d.URI); err == nil {
			if stored, ok := existing.(*models.Document); ok && strings.EqualFold(stored.SHA256, d.SHA256) {
				return false, nil
			}
		} else if !isNoRows(err) {
			return false, err
		}
		if d.LatestUpdateID <= version {
			d.LatestUpdateID = version + 1
		}
	}

	applied, err := s.putObjectTx(w, userId, &d)
	if err != nil || !applied {
		return applied, err
	}

	refs, err := s.infosReferencingTx(w, d.URI)
	if err != nil {
		return false, err
	}
	for _, ref := range refs {
		if err := s.checkAccountInfoTx(w, ref.userId, ref.accountUri); err != nil {
			return false, err
		}
	}

	zap.L().Info("Document stored",
		zap.String("uri", d.URI),
		zap.String("sha256", d.SHA256),
		zap.Int("referencing_accounts", len(refs)))
	return true, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
