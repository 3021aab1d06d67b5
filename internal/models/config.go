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

package models

import "time"

// Config represents the application configuration
type Config struct {
	Database  DatabaseConfig
	Scheduler SchedulerConfig
	Transfers TransfersConfig
	Bus       BusConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
}

// SchedulerConfig holds background task runner settings
type SchedulerConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	FetchTimeout    time.Duration
}

// TransfersConfig holds transfer lifecycle settings
type TransfersConfig struct {
	DeletionMinDelay time.Duration
	DeletionDelay    time.Duration
	DelayedAfter     time.Duration
}

// BusConfig selects the cross-context notification channel
type BusConfig struct {
	Kind        string // "memory" or "zmq"
	PublishTo   string // XSUB endpoint of the broker
	SubscribeTo string // XPUB endpoint of the broker
	Topic       string
}
