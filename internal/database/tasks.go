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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/docs"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/scheduler"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/store"

	"go.uber.org/zap"
)

// PutTask arms a task. Delete tasks replace any earlier schedule for the same
// target; a pending fetch keeps its schedule and backoff.
func (s *Service) PutTask(ctx context.Context, task *models.Task) (int64, error) {
	var id int64
	err := s.inTx(ctx, func(w *txWork) error {
		if err := s.requireUserTx(w, task.UserID); err != nil {
			return err
		}
		var err error
		id, err = s.putTaskTx(w, task)
		return err
	})
	return id, err
}

// ScheduleAccountDeletion arms an immediate DeleteAccount task. Once the
// server has deleted the account, the local aggregate is removed whatever
// its update id.
func (s *Service) ScheduleAccountDeletion(ctx context.Context, userId, accountUri string) (*models.Task, error) {
	task := &models.Task{
		UserID:     userId,
		TaskType:   models.TaskDeleteAccount,
		AccountURI: accountUri,
	}
	err := s.inTx(ctx, func(w *txWork) error {
		if err := s.requireUserTx(w, userId); err != nil {
			return err
		}
		exists, err := s.accountExistsTx(w, accountUri)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: account %s", store.ErrRecordDoesNotExist, accountUri)
		}
		task.ScheduledFor = w.now
		_, err = s.putTaskTx(w, task)
		return err
	})
	if err != nil {
		return nil, err
	}
	zap.L().Info("Account deletion scheduled",
		zap.String("user_id", userId),
		zap.String("account_uri", accountUri),
		zap.Int64("task_id", task.TaskID))
	return task, nil
}

// DueTasks returns the user's tasks scheduled at or before now, earliest first.
func (s *Service) DueTasks(ctx context.Context, userId string, now time.Time, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, queryDueTasks, userId, now.UnixMilli(), limit)
	if err != nil {
		zap.L().Error("Failed to query due tasks", zap.String("user_id", userId), zap.Error(err))
		return nil, fmt.Errorf("unable to query due tasks: %w", err)
	}
	defer closeRows(rows)

	var tasks []models.Task
	for rows.Next() {
		var (
			id, scheduledFor, backoff int64
			data                      []byte
		)
		if err := rows.Scan(&id, &scheduledFor, &backoff, &data); err != nil {
			return nil, fmt.Errorf("unable to scan task row: %w", err)
		}
		var task models.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return nil, fmt.Errorf("unable to decode task %d: %w", id, err)
		}
		task.TaskID = id
		task.ScheduledFor = time.UnixMilli(scheduledFor).UTC()
		task.BackoffSeconds = backoff
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating task rows: %w", err)
	}
	return tasks, nil
}

// RemoveTask deletes a task; a task deleted before it fires is cancelled.
func (s *Service) RemoveTask(ctx context.Context, taskId int64) error {
	if _, err := s.db.ExecContext(ctx, queryDeleteTask, taskId); err != nil {
		return fmt.Errorf("unable to delete task %d: %w", taskId, err)
	}
	return nil
}

// RescheduleTask records the outcome of running a task. A successful task
// applies its result and is deleted. A failed one backs off.
func (s *Service) RescheduleTask(ctx context.Context, task *models.Task, success bool, result *store.TaskResult) error {
	return s.inTx(ctx, func(w *txWork) error {
		var id, backoff int64
		var data []byte
		err := w.tx.QueryRowContext(w.ctx, queryGetTask, task.TaskID).Scan(&id, &backoff, &data)
		if isNoRows(err) {
			zap.L().Debug("Task was cancelled before completion", zap.Int64("task_id", task.TaskID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("unable to load task %d: %w", task.TaskID, err)
		}

		if success {
			done, err := s.completeTaskTx(w, task, result)
			if err != nil || done {
				return err
			}
		}
		return s.backOffTx(w, task, backoff)
	})
}

// completeTaskTx applies a task's result. It returns false when the result
// turns out unusable and the task should be retried.
func (s *Service) completeTaskTx(w *txWork, task *models.Task, result *store.TaskResult) (bool, error) {
	switch task.TaskType {
	case models.TaskFetchDebtorInfo:
		if result == nil || result.Document == nil {
			return false, fmt.Errorf("fetch task %d completed without a document", task.TaskID)
		}
		ok, err := s.matchesDeclaredHashTx(w, task.IRI, result.Document)
		if err != nil {
			return false, err
		}
		if !ok {
			zap.L().Warn("Fetched document does not match the declared hash", zap.String("iri", task.IRI))
			return false, nil
		}
		if _, err := s.putDocumentTx(w, task.UserID, result.Document); err != nil {
			return false, err
		}
	case models.TaskDeleteTransfer:
		// The server resource is gone; the local record stays as history.
	case models.TaskDeleteAccount:
		if _, err := s.deleteAccountTx(w, task.AccountURI, 0, true); err != nil {
			return false, err
		}
	default:
		return false, fmt.Errorf("unknown task type %q", task.TaskType)
	}

	if _, err := w.tx.ExecContext(w.ctx, queryDeleteTask, task.TaskID); err != nil {
		return false, fmt.Errorf("unable to delete task %d: %w", task.TaskID, err)
	}
	zap.L().Info("Task completed",
		zap.Int64("task_id", task.TaskID),
		zap.String("task_type", string(task.TaskType)))
	return true, nil
}

func (s *Service) backOffTx(w *txWork, task *models.Task, backoffSeconds int64) error {
	next := scheduler.NextBackoff(time.Duration(backoffSeconds)*time.Second, lockedRand{s})
	scheduledFor := w.now.Add(next)

	if _, err := w.tx.ExecContext(w.ctx, queryRescheduleTask, scheduledFor.UnixMilli(), int64(next/time.Second), task.TaskID); err != nil {
		return fmt.Errorf("unable to reschedule task %d: %w", task.TaskID, err)
	}
	task.BackoffSeconds = int64(next / time.Second)
	task.ScheduledFor = scheduledFor

	zap.L().Info("Task rescheduled",
		zap.Int64("task_id", task.TaskID),
		zap.String("task_type", string(task.TaskType)),
		zap.Int64("backoff_seconds", task.BackoffSeconds),
		zap.Time("scheduled_for", scheduledFor))
	return nil
}

// matchesDeclaredHashTx accepts a document if no account declares a hash for
// it, or if at least one declared hash matches its content.
func (s *Service) matchesDeclaredHashTx(w *txWork, iri string, doc *models.Document) (bool, error) {
	refs, err := s.infosReferencingTx(w, iri)
	if err != nil {
		return false, err
	}
	hash := doc.SHA256
	if hash == "" {
		hash = docs.ContentHash(doc.Content)
	}

	declared := false
	for _, ref := range refs {
		if ref.sha256 == "" {
			continue
		}
		declared = true
		if strings.EqualFold(ref.sha256, hash) {
			return true, nil
		}
	}
	return !declared, nil
}

func (s *Service) putTaskTx(w *txWork, task *models.Task) (int64, error) {
	key := task.TargetKey()
	if key == "" {
		return 0, fmt.Errorf("task of type %q has no target", task.TaskType)
	}
	if task.ScheduledFor.IsZero() {
		task.ScheduledFor = w.now
	}
	data, err := json.Marshal(task)
	if err != nil {
		return 0, fmt.Errorf("unable to encode task: %w", err)
	}

	var id int64
	err = w.tx.QueryRowContext(w.ctx, queryFindTask, task.UserID, string(task.TaskType), key).Scan(&id)
	switch {
	case isNoRows(err):
		res, err := w.tx.ExecContext(w.ctx, queryInsertTask,
			task.UserID, string(task.TaskType), key, nullString(task.AccountURI),
			task.ScheduledFor.UnixMilli(), task.BackoffSeconds, data)
		if err != nil {
			return 0, fmt.Errorf("unable to insert task: %w", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return 0, fmt.Errorf("unable to get task id: %w", err)
		}
		zap.L().Debug("Task armed",
			zap.Int64("task_id", id),
			zap.String("task_type", string(task.TaskType)),
			zap.String("target", key),
			zap.Time("scheduled_for", task.ScheduledFor))
	case err != nil:
		return 0, fmt.Errorf("unable to look up task: %w", err)
	case task.TaskType == models.TaskFetchDebtorInfo:
	default:
		if _, err := w.tx.ExecContext(w.ctx, queryRearmTask, task.ScheduledFor.UnixMilli(), data, id); err != nil {
			return 0, fmt.Errorf("unable to re-arm task %d: %w", id, err)
		}
		task.BackoffSeconds = 0
	}

	task.TaskID = id
	return id, nil
}

// lockedRand adapts the service's jitter source to scheduler.Rand.
type lockedRand struct{ s *Service }

func (r lockedRand) Int63n(n int64) int64 { return r.s.int63n(n) }
