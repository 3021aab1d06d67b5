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
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/bus"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/database"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/index"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/remote"

	"go.uber.org/zap"
)

// init loads environment variables from .env file if it exists
func init() {
	// Environment variables can also be set via shell export, docker, etc.
	if err := godotenv.Load(); err != nil {
		log.Printf("Note: No .env file found or unable to load it: %v\n", err)
	} else {
		log.Println("✓ Loaded environment variables from .env file")
	}
}

type Services struct {
	DbService *database.Service
	Bus       bus.Bus
	Accounts  *index.AccountsMap
	Remote    *remote.Client
}

func InitializeLogger() (*zap.Logger, func()) {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	zap.ReplaceGlobals(logger)

	cleanup := func() {
		if err := logger.Sync(); err != nil {
			if !isIgnorableSyncError(err) {
				log.Printf("Failed to sync logger: %v\n", err)
			}
		}
	}

	return logger, cleanup
}

// NewBus connects to the notification channel the configuration selects.
func NewBus(cfg models.BusConfig) (bus.Bus, error) {
	switch cfg.Kind {
	case "", "memory":
		return bus.NewHub().Connect(), nil
	case "zmq":
		zap.L().Info("Connecting to bus broker",
			zap.String("publish_to", cfg.PublishTo),
			zap.String("subscribe_to", cfg.SubscribeTo),
			zap.String("topic", cfg.Topic))
		zb, err := bus.NewZMQBus(cfg.PublishTo, cfg.SubscribeTo, cfg.Topic)
		if err != nil {
			return nil, err
		}
		return zb, nil
	default:
		return nil, fmt.Errorf("unknown bus kind %q", cfg.Kind)
	}
}

// InitializeServices opens the store, joins the bus, seeds the accounts
// index and prepares the server client.
func InitializeServices(ctx context.Context, cfg *models.Config) (*Services, error) {
	b, err := NewBus(cfg.Bus)
	if err != nil {
		return nil, err
	}

	dbService, err := database.NewService(ctx, cfg.Database,
		database.WithBus(b),
		database.WithTransfersConfig(cfg.Transfers))
	if err != nil {
		_ = b.Close()
		return nil, err
	}
	services := &Services{DbService: dbService, Bus: b}

	services.Accounts = index.NewAccountsMap(b, dbService)
	if err := services.Accounts.Init(ctx); err != nil {
		services.Close()
		return nil, err
	}

	services.Remote, err = remote.NewClient(cfg.Scheduler.FetchTimeout)
	if err != nil {
		services.Close()
		return nil, err
	}

	zap.L().Info("Services initialized",
		zap.String("database", cfg.Database.Path),
		zap.String("bus", cfg.Bus.Kind),
		zap.Int("accounts", len(services.Accounts.AccountURIs())))
	return services, nil
}

// InitializeDatabaseOnly initializes just the database service without the bus
// Useful for read-only operations like listing actions
func InitializeDatabaseOnly(ctx context.Context, cfg *models.Config) (*database.Service, error) {
	dbService, err := database.NewService(ctx, cfg.Database, database.WithTransfersConfig(cfg.Transfers))
	if err != nil {
		return nil, err
	}
	return dbService, nil
}

func (cs *Services) Close() {
	if cs.Accounts != nil {
		cs.Accounts.Close()
	}
	if cs.DbService != nil {
		cs.DbService.Close()
	}
	if cs.Bus != nil {
		if err := cs.Bus.Close(); err != nil {
			zap.L().Warn("Failed to close bus", zap.Error(err))
		}
	}
}

func isIgnorableSyncError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "sync /dev/stderr: inappropriate ioctl for device") ||
		strings.Contains(msg, "sync /dev/stdout: inappropriate ioctl for device")
}
