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
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/bus"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/config"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/docs"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/store"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Compile-time check: *Service must satisfy store.WalletStore.
var _ store.WalletStore = (*Service)(nil)

type Service struct {
	db        *sql.DB
	bus       bus.Bus
	transfers models.TransfersConfig
	debtors   docs.DebtorInfoCodec
	notes     docs.TransferNoteCodec

	now       func() time.Time
	rngMu     sync.Mutex
	rng       *rand.Rand
	faultHook func(step string) error
}

// Option customizes a Service.
type Option func(*Service)

// WithBus makes the service publish every committed change to b.
func WithBus(b bus.Bus) Option {
	return func(s *Service) { s.bus = b }
}

func WithTransfersConfig(cfg models.TransfersConfig) Option {
	return func(s *Service) { s.transfers = cfg }
}

func WithDebtorInfoCodec(c docs.DebtorInfoCodec) Option {
	return func(s *Service) { s.debtors = c }
}

func WithTransferNoteCodec(c docs.TransferNoteCodec) Option {
	return func(s *Service) { s.notes = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithRandSource seeds the backoff jitter.
func WithRandSource(src rand.Source) Option {
	return func(s *Service) { s.rng = rand.New(src) }
}

// WithFaultHook installs a hook called between the steps of multi-record
// writes. A non-nil error aborts the write and rolls it back.
func WithFaultHook(hook func(step string) error) Option {
	return func(s *Service) { s.faultHook = hook }
}

func NewService(ctx context.Context, cfg models.DatabaseConfig, opts ...Option) (*Service, error) {
	// Validate configuration
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if cfg.MaxOpenConns <= 0 {
		return nil, fmt.Errorf("max open connections must be positive, got %d", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns < 0 {
		return nil, fmt.Errorf("max idle connections cannot be negative, got %d", cfg.MaxIdleConns)
	}
	if cfg.PingTimeout <= 0 {
		return nil, fmt.Errorf("ping timeout must be positive, got %v", cfg.PingTimeout)
	}

	zap.L().Info("Opening SQLite database", zap.String("file", cfg.Path))
	// Immediate transactions take the write lock up front, so a
	// read-compare-write inside one transaction cannot interleave with
	// another context writing to the same file.
	db, err := sql.Open("sqlite3", cfg.Path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}

	// Set connection timeouts and limits
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	// Test connection with timeout
	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		if cerr := db.Close(); cerr != nil {
			zap.L().Warn("Failed to close database connection", zap.Error(cerr))
		}
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	service := &Service{
		db:        db,
		transfers: config.TransfersConfig(config.TransferDeletionMinDelay),
		debtors:   docs.JSONDebtorInfoCodec{},
		notes:     docs.PlainNoteCodec{},
		now:       time.Now,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(service)
	}

	if err := service.initSchema(ctx); err != nil {
		if cerr := db.Close(); cerr != nil {
			zap.L().Warn("Failed to close database connection", zap.Error(cerr))
		}
		return nil, fmt.Errorf("unable to initialize schema: %w", err)
	}

	zap.L().Info("Database service initialized successfully")
	return service, nil
}

func (s *Service) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close database connection", zap.Error(err))
	}
}

func (s *Service) initSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Service) fault(step string) error {
	if s.faultHook == nil {
		return nil
	}
	if err := s.faultHook(step); err != nil {
		return fmt.Errorf("aborted at %s: %w", step, err)
	}
	return nil
}

func (s *Service) int63n(n int64) int64 {
	s.rngMu.Lock()
	defer s.rngMu.Unlock()
	return s.rng.Int63n(n)
}

// txWork is the state of one write transaction. Events are published only
// after the transaction commits.
type txWork struct {
	ctx    context.Context
	tx     *sql.Tx
	now    time.Time
	events []bus.Event
}

func (w *txWork) publish(ev bus.Event) {
	w.events = append(w.events, ev)
}

func (s *Service) inTx(ctx context.Context, fn func(w *txWork) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("unable to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			zap.L().Warn("Failed to rollback transaction", zap.Error(err))
		}
	}()

	w := &txWork{ctx: ctx, tx: tx, now: s.now()}
	if err := fn(w); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("unable to commit transaction: %w", err)
	}

	if s.bus != nil {
		for _, ev := range w.events {
			if err := s.bus.Publish(ctx, ev); err != nil {
				zap.L().Warn("Failed to publish change notification",
					zap.String("uri", ev.URI),
					zap.String("kind", string(ev.Kind)),
					zap.Error(err))
			}
		}
	}
	return nil
}
