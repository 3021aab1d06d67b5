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

package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/store"

	"go.uber.org/zap"
)

// Store is what the syncer writes to.
type Store interface {
	store.ObjectStore
	StoreTransfer(ctx context.Context, userId string, snapshot *models.TransferSnapshot, originatesHere bool) (*models.Transfer, error)
}

// Stats counts what happened to the records of one or more batches.
type Stats struct {
	Batches   int
	Applied   int
	Ignored   int
	Deleted   int
	Transfers int
	Failed    int
}

func (s *Stats) add(o Stats) {
	s.Batches += o.Batches
	s.Applied += o.Applied
	s.Ignored += o.Ignored
	s.Deleted += o.Deleted
	s.Transfers += o.Transfers
	s.Failed += o.Failed
}

// SyncerConfig contains configuration for Syncer
type SyncerConfig struct {
	Store           Store
	Source          Source
	PollingInterval time.Duration
}

// Syncer polls a Source and merges every batch into the store.
type Syncer struct {
	store           Store
	source          Source
	pollingInterval time.Duration

	mutex sync.RWMutex
	stats Stats

	// Control channels
	stopChan chan struct{}
	doneChan chan struct{}
}

func NewSyncer(cfg SyncerConfig) *Syncer {
	interval := cfg.PollingInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Syncer{
		store:           cfg.Store,
		source:          cfg.Source,
		pollingInterval: interval,
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
}

// Start begins polling the source in the background.
func (s *Syncer) Start(ctx context.Context) {
	zap.L().Info("Starting feed syncer", zap.Duration("polling_interval", s.pollingInterval))
	go s.pollLoop(ctx)
}

// Stop gracefully stops the syncer
func (s *Syncer) Stop() {
	zap.L().Info("Stopping feed syncer")
	close(s.stopChan)
	<-s.doneChan
	stats := s.Stats()
	zap.L().Info("Feed syncer stopped",
		zap.Int("batches", stats.Batches),
		zap.Int("applied", stats.Applied),
		zap.Int("failed", stats.Failed))
}

// Stats returns the totals since the syncer was created.
func (s *Syncer) Stats() Stats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.stats
}

func (s *Syncer) pollLoop(ctx context.Context) {
	defer close(s.doneChan)

	ticker := time.NewTicker(s.pollingInterval)
	defer ticker.Stop()

	for {
		if _, err := s.Drain(ctx); err != nil {
			if errors.Is(err, io.EOF) {
				zap.L().Info("Feed source exhausted")
				return
			}
			zap.L().Error("Failed to drain feed source", zap.Error(err))
		}

		select {
		case <-ticker.C:
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Drain applies batches until the source is idle. It returns io.EOF once
// the source is exhausted.
func (s *Syncer) Drain(ctx context.Context) (Stats, error) {
	var total Stats
	for {
		batch, err := s.source.Next(ctx)
		if err != nil {
			return total, err
		}
		if batch == nil {
			return total, nil
		}
		stats, err := s.Apply(ctx, batch)
		total.add(stats)
		if err != nil {
			return total, err
		}
	}
}

// Apply merges one batch. Accounts go first so the sub-objects and committed
// transfers that follow find their owner; deletions go last. A record the
// store rejects is logged and counted, and the rest of the batch proceeds.
func (s *Syncer) Apply(ctx context.Context, batch *Batch) (Stats, error) {
	stats := Stats{Batches: 1}
	if batch.UserID == "" {
		return stats, fmt.Errorf("feed batch without user id")
	}
	defer func() {
		s.mutex.Lock()
		s.stats.add(stats)
		s.mutex.Unlock()
	}()

	for i := range batch.Accounts {
		aggregate := &batch.Accounts[i]
		if err := s.store.StoreAccount(ctx, batch.UserID, aggregate); err != nil {
			if errors.Is(err, store.ErrUserNotInstalled) {
				return stats, err
			}
			stats.Failed++
			zap.L().Error("Failed to store account", zap.String("account_uri", accountURI(aggregate)), zap.Error(err))
			continue
		}
		stats.Applied++
	}

	for _, obj := range batch.Objects() {
		applied, err := s.store.PutObject(ctx, batch.UserID, obj)
		switch {
		case errors.Is(err, store.ErrUserNotInstalled):
			return stats, err
		case err != nil:
			stats.Failed++
			zap.L().Error("Failed to store object",
				zap.String("uri", obj.ObjectURI()),
				zap.String("type", string(obj.ObjectType())),
				zap.Error(err))
		case applied:
			stats.Applied++
		default:
			stats.Ignored++
		}
	}

	for i := range batch.Transfers {
		snapshot := &batch.Transfers[i]
		if _, err := s.store.StoreTransfer(ctx, batch.UserID, snapshot, false); err != nil {
			if errors.Is(err, store.ErrUserNotInstalled) {
				return stats, err
			}
			stats.Failed++
			zap.L().Error("Failed to store transfer", zap.String("uri", snapshot.URI), zap.Error(err))
			continue
		}
		stats.Transfers++
	}

	for _, d := range batch.Deletions {
		var (
			applied bool
			err     error
		)
		if d.Type == models.TypeAccount {
			applied, err = s.store.DeleteAccount(ctx, d.URI, d.UpdateID)
		} else {
			applied, err = s.store.DeleteObject(ctx, d.URI, d.Type, d.UpdateID)
		}
		switch {
		case err != nil:
			stats.Failed++
			zap.L().Error("Failed to delete object",
				zap.String("uri", d.URI),
				zap.String("type", string(d.Type)),
				zap.Error(err))
		case applied:
			stats.Deleted++
		default:
			stats.Ignored++
		}
	}

	zap.L().Debug("Applied feed batch",
		zap.String("user_id", batch.UserID),
		zap.Int("applied", stats.Applied),
		zap.Int("ignored", stats.Ignored),
		zap.Int("deleted", stats.Deleted),
		zap.Int("transfers", stats.Transfers),
		zap.Int("failed", stats.Failed))
	return stats, nil
}

func accountURI(a *models.AccountAggregate) string {
	if a.Account == nil {
		return ""
	}
	return a.Account.URI
}
