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

package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/bus"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/docs"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/store"

	"go.uber.org/zap"
)

// DocumentFetcher downloads a remote document.
type DocumentFetcher interface {
	Fetch(ctx context.Context, iri string) (content []byte, contentType string, err error)
}

// TransferDeleter removes a finalized transfer from the server.
type TransferDeleter interface {
	DeleteTransfer(ctx context.Context, transferUri string) error
}

// AccountDeleter removes an account from the server.
type AccountDeleter interface {
	DeleteAccount(ctx context.Context, accountUri string) error
}

// TaskStore is what the runner needs from the persistent mirror.
type TaskStore interface {
	store.TaskStore
	GetUsers(ctx context.Context) ([]models.User, error)
	RefreshTransfers(ctx context.Context, userId string) (int, error)
}

// RunnerConfig contains configuration for Runner
type RunnerConfig struct {
	Store     TaskStore
	Fetcher   DocumentFetcher
	Transfers TransferDeleter
	Accounts  AccountDeleter
	// Bus is optional. When set, store changes wake the runner early.
	Bus             bus.Bus
	PollingInterval time.Duration
	BatchSize       int
	FetchTimeout    time.Duration
	Now             func() time.Time
}

// Runner executes due tasks in the background and feeds their outcome back
// to the store.
type Runner struct {
	store     TaskStore
	fetcher   DocumentFetcher
	transfers TransferDeleter
	accounts  AccountDeleter
	bus       bus.Bus

	pollingInterval time.Duration
	batchSize       int
	fetchTimeout    time.Duration
	now             func() time.Time

	runMutex sync.Mutex
	wake     chan struct{}

	// Control channels
	stopChan chan struct{}
	doneChan chan struct{}
}

func NewRunner(cfg RunnerConfig) *Runner {
	r := &Runner{
		store:           cfg.Store,
		fetcher:         cfg.Fetcher,
		transfers:       cfg.Transfers,
		accounts:        cfg.Accounts,
		bus:             cfg.Bus,
		pollingInterval: cfg.PollingInterval,
		batchSize:       cfg.BatchSize,
		fetchTimeout:    cfg.FetchTimeout,
		now:             cfg.Now,
		wake:            make(chan struct{}, 1),
		stopChan:        make(chan struct{}),
		doneChan:        make(chan struct{}),
	}
	if r.pollingInterval <= 0 {
		r.pollingInterval = time.Minute
	}
	if r.fetchTimeout <= 0 {
		r.fetchTimeout = 30 * time.Second
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Start runs the task loop until Stop is called or ctx is done.
func (r *Runner) Start(ctx context.Context) {
	zap.L().Info("Starting task runner",
		zap.Duration("polling_interval", r.pollingInterval),
		zap.Int("batch_size", r.batchSize))
	go r.loop(ctx)
}

// Stop gracefully stops the runner
func (r *Runner) Stop() {
	zap.L().Info("Stopping task runner")
	close(r.stopChan)
	<-r.doneChan
	zap.L().Info("Task runner stopped")
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.doneChan)

	if r.bus != nil {
		unsubscribe := r.bus.Subscribe(func(bus.Event) { r.Wake() })
		defer unsubscribe()
	}

	ticker := time.NewTicker(r.pollingInterval)
	defer ticker.Stop()

	r.runLogged(ctx)
	for {
		select {
		case <-ticker.C:
			r.runLogged(ctx)
		case <-r.wake:
			r.runLogged(ctx)
		case <-r.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Wake asks the loop for an early pass.
func (r *Runner) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Runner) runLogged(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		zap.L().Error("Task runner pass failed", zap.Error(err))
	}
}

// RunOnce executes every user's due tasks and refreshes the settlement state
// of their transfers. It returns the number of tasks executed.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	r.runMutex.Lock()
	defer r.runMutex.Unlock()

	users, err := r.store.GetUsers(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get users: %w", err)
	}

	executed := 0
	for _, user := range users {
		if _, err := r.store.RefreshTransfers(ctx, user.Id); err != nil {
			zap.L().Error("Failed to refresh transfers",
				zap.String("user_id", user.Id),
				zap.Error(err))
		}

		tasks, err := r.store.DueTasks(ctx, user.Id, r.now(), r.batchSize)
		if err != nil {
			zap.L().Error("Failed to get due tasks",
				zap.String("user_id", user.Id),
				zap.Error(err))
			continue
		}
		for i := range tasks {
			if ctx.Err() != nil {
				return executed, ctx.Err()
			}
			r.runTask(ctx, &tasks[i])
			executed++
		}
	}
	return executed, nil
}

func (r *Runner) runTask(ctx context.Context, task *models.Task) {
	result, err := r.execute(ctx, task)
	if err != nil {
		zap.L().Warn("Task failed",
			zap.Int64("task_id", task.TaskID),
			zap.String("task_type", string(task.TaskType)),
			zap.String("target", task.TargetKey()),
			zap.Error(err))
	}
	if err := r.store.RescheduleTask(ctx, task, err == nil, result); err != nil {
		zap.L().Error("Failed to record task outcome",
			zap.Int64("task_id", task.TaskID),
			zap.Error(err))
	}
}

func (r *Runner) execute(ctx context.Context, task *models.Task) (*store.TaskResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	switch task.TaskType {
	case models.TaskFetchDebtorInfo:
		if r.fetcher == nil {
			return nil, fmt.Errorf("no document fetcher configured")
		}
		content, contentType, err := r.fetcher.Fetch(ctx, task.IRI)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch %s: %w", task.IRI, err)
		}
		return &store.TaskResult{Document: &models.Document{
			URI:         task.IRI,
			ContentType: contentType,
			Content:     content,
			SHA256:      docs.ContentHash(content),
		}}, nil
	case models.TaskDeleteTransfer:
		if r.transfers == nil {
			return nil, fmt.Errorf("no transfer deleter configured")
		}
		return nil, r.transfers.DeleteTransfer(ctx, task.TransferURI)
	case models.TaskDeleteAccount:
		if r.accounts == nil {
			return nil, fmt.Errorf("no account deleter configured")
		}
		return nil, r.accounts.DeleteAccount(ctx, task.AccountURI)
	default:
		return nil, fmt.Errorf("unknown task type %q", task.TaskType)
	}
}
