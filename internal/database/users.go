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
	"time"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/bus"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/store"

	"go.uber.org/zap"
)

func (s *Service) GetUsers(ctx context.Context) ([]models.User, error) {
	zap.L().Debug("Querying installed users")

	rows, err := s.db.QueryContext(ctx, queryGetUsers)
	if err != nil {
		zap.L().Error("Failed to query users", zap.Error(err))
		return nil, fmt.Errorf("unable to query users: %w", err)
	}
	defer closeRows(rows)

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			zap.L().Error("Failed to scan user row", zap.Error(err))
			return nil, fmt.Errorf("unable to scan user row: %w", err)
		}
		users = append(users, *user)
	}

	// Check for errors during iteration
	if err := rows.Err(); err != nil {
		zap.L().Error("Error during user row iteration", zap.Error(err))
		return nil, fmt.Errorf("error iterating user rows: %w", err)
	}

	zap.L().Debug("Retrieved users", zap.Int("count", len(users)))
	return users, nil
}

func (s *Service) GetUserById(ctx context.Context, userId string) (*models.User, error) {
	zap.L().Debug("Querying user by ID", zap.String("user_id", userId))

	user, err := scanUser(s.db.QueryRowContext(ctx, queryGetUserById, userId))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", store.ErrUserNotInstalled, userId)
		}
		zap.L().Error("Failed to query user by ID", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("unable to query user by ID: %w", err)
	}
	return user, nil
}

// InstallUser registers a user so that actions and tasks can be stored for
// it. Installing an existing user updates its wallet URI.
func (s *Service) InstallUser(ctx context.Context, userId, walletUri string) (*models.User, error) {
	if userId == "" {
		return nil, fmt.Errorf("user id cannot be empty")
	}
	zap.L().Info("Installing user", zap.String("user_id", userId), zap.String("wallet_uri", walletUri))

	if _, err := s.db.ExecContext(ctx, queryInsertUser, userId, walletUri, s.now().UnixMilli()); err != nil {
		zap.L().Error("Failed to insert user", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("unable to insert user: %w", err)
	}
	return s.GetUserById(ctx, userId)
}

// UninstallUser removes the user and every record stored for it.
func (s *Service) UninstallUser(ctx context.Context, userId string) error {
	zap.L().Info("Uninstalling user", zap.String("user_id", userId))

	return s.inTx(ctx, func(w *txWork) error {
		if err := s.requireUserTx(w, userId); err != nil {
			return err
		}

		rows, err := w.tx.QueryContext(w.ctx, queryGetUserObjects, userId)
		if err != nil {
			return fmt.Errorf("unable to query user objects: %w", err)
		}
		type ref struct {
			uri      string
			objType  models.ObjectType
			updateId uint64
		}
		var refs []ref
		for rows.Next() {
			var r ref
			if err := rows.Scan(&r.uri, &r.objType, &r.updateId); err != nil {
				closeRows(rows)
				return fmt.Errorf("unable to scan object row: %w", err)
			}
			refs = append(refs, r)
		}
		closeRows(rows)
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating object rows: %w", err)
		}

		for _, r := range refs {
			if _, err := w.tx.ExecContext(w.ctx, queryDeleteObject, r.uri); err != nil {
				return fmt.Errorf("unable to delete object %s: %w", r.uri, err)
			}
			w.publish(bus.Deleted(r.uri, r.objType, r.updateId))
		}

		for _, q := range []string{queryDeleteUserActions, queryDeleteUserTasks, queryDeleteUserTransfers, queryDeleteUser} {
			if _, err := w.tx.ExecContext(w.ctx, q, userId); err != nil {
				return fmt.Errorf("unable to remove user records: %w", err)
			}
		}

		zap.L().Info("User uninstalled",
			zap.String("user_id", userId),
			zap.Int("objects_removed", len(refs)))
		return nil
	})
}

func (s *Service) requireUserTx(w *txWork, userId string) error {
	var id string
	err := w.tx.QueryRowContext(w.ctx, `SELECT id FROM users WHERE id = ?`, userId).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", store.ErrUserNotInstalled, userId)
	}
	if err != nil {
		return fmt.Errorf("unable to check user %s: %w", userId, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var installedAt int64
	if err := row.Scan(&user.Id, &user.WalletURI, &installedAt); err != nil {
		return nil, err
	}
	user.InstalledAt = time.UnixMilli(installedAt).UTC()
	return &user, nil
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		zap.L().Warn("Failed to close rows", zap.Error(err))
	}
}
