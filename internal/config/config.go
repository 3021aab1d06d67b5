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

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
)

const (
	// TransferDeletionMinDelay is the shortest time a finalized transfer is kept on the server.
	TransferDeletionMinDelay = 5 * 24 * time.Hour
	// TransferDelayedAfter is how long an unfinalized transfer waits before it counts as delayed.
	TransferDelayedAfter = 24 * time.Hour
)

func Load() (*models.Config, error) {
	connMaxLifetime, err := getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	connMaxIdleTime, err := getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Second)
	if err != nil {
		return nil, err
	}

	pingTimeout, err := getEnvDuration("DB_PING_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	pollingInterval, err := getEnvDuration("SCHEDULER_POLLING_INTERVAL", 30*time.Second)
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := getEnvDuration("SCHEDULER_FETCH_TIMEOUT", 20*time.Second)
	if err != nil {
		return nil, err
	}

	deletionDelay, err := getEnvDuration("TRANSFER_DELETION_DELAY", 15*24*time.Hour)
	if err != nil {
		return nil, err
	}

	return &models.Config{
		Database: models.DatabaseConfig{
			Path:            getEnvString("DATABASE_PATH", "walletsync.db"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 1),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 1),
			ConnMaxLifetime: connMaxLifetime,
			ConnMaxIdleTime: connMaxIdleTime,
			PingTimeout:     pingTimeout,
		},
		Scheduler: models.SchedulerConfig{
			PollingInterval: pollingInterval,
			BatchSize:       getEnvInt("SCHEDULER_BATCH_SIZE", 50),
			FetchTimeout:    fetchTimeout,
		},
		Transfers: TransfersConfig(deletionDelay),
		Bus: models.BusConfig{
			Kind:        getEnvString("BUS_KIND", "memory"),
			PublishTo:   getEnvString("BUS_PUBLISH_TO", "tcp://127.0.0.1:5557"),
			SubscribeTo: getEnvString("BUS_SUBSCRIBE_TO", "tcp://127.0.0.1:5558"),
			Topic:       getEnvString("BUS_TOPIC", "walletsync"),
		},
	}, nil
}

// TransfersConfig returns the transfer settings, never letting the deletion
// delay drop below the minimum.
func TransfersConfig(deletionDelay time.Duration) models.TransfersConfig {
	if deletionDelay < TransferDeletionMinDelay {
		deletionDelay = TransferDeletionMinDelay
	}
	return models.TransfersConfig{
		DeletionMinDelay: TransferDeletionMinDelay,
		DeletionDelay:    deletionDelay,
		DelayedAfter:     TransferDelayedAfter,
	}
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	if value := os.Getenv(key); value != "" {
		duration, err := time.ParseDuration(value)
		if err != nil {
			return 0, fmt.Errorf("invalid duration for %s: %q (%w)", key, value, err)
		}
		return duration, nil
	}
	return defaultValue, nil
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
