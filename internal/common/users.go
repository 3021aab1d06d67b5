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

package common

import (
	"context"
	"fmt"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"

	"go.uber.org/zap"
)

// UserLister is the part of the store that knows installed users.
type UserLister interface {
	GetUsers(ctx context.Context) ([]models.User, error)
	GetUserById(ctx context.Context, userId string) (*models.User, error)
}

// InitializeUsers retrieves users based on an optional id filter.
// If userFilter is provided, returns that single user.
// If userFilter is empty, returns all installed users.
func InitializeUsers(ctx context.Context, dbService UserLister, userFilter string) ([]models.User, error) {
	if userFilter != "" {
		zap.L().Info("Looking up user", zap.String("user_id", userFilter))
		user, err := dbService.GetUserById(ctx, userFilter)
		if err != nil {
			return nil, fmt.Errorf("user not found: %w", err)
		}
		return []models.User{*user}, nil
	}

	users, err := dbService.GetUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get users: %w", err)
	}
	zap.L().Info("Retrieved users", zap.Int("count", len(users)))
	return users, nil
}
