package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/store"
)

func TestPutTask_RearmReplacesSchedule(t *testing.T) {
	service, clock := setupTestService(t)
	ctx := context.Background()

	task := &models.Task{
		UserID:       testUser,
		TaskType:     models.TaskDeleteTransfer,
		TransferURI:  "tr-1",
		ScheduledFor: clock.Now().Add(time.Hour),
	}
	id1, err := service.PutTask(ctx, task)
	if err != nil {
		t.Fatalf("PutTask failed: %v", err)
	}

	again := *task
	again.ScheduledFor = clock.Now().Add(3 * time.Hour)
	id2, err := service.PutTask(ctx, &again)
	if err != nil {
		t.Fatalf("PutTask failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("Expected the same task to be re-armed, got %d and %d", id1, id2)
	}

	due, _ := service.DueTasks(ctx, testUser, clock.Now().Add(2*time.Hour), 10)
	if len(due) != 0 {
		t.Errorf("Expected the earlier schedule to be replaced, got %d due tasks", len(due))
	}
	due, _ = service.DueTasks(ctx, testUser, clock.Now().Add(3*time.Hour), 10)
	if len(due) != 1 {
		t.Errorf("Expected one due task, got %d", len(due))
	}
}

func TestDueTasks_Order(t *testing.T) {
	service, clock := setupTestService(t)
	ctx := context.Background()

	for i, offset := range []time.Duration{3 * time.Minute, time.Minute, 2 * time.Minute} {
		if _, err := service.PutTask(ctx, &models.Task{
			UserID:       testUser,
			TaskType:     models.TaskDeleteTransfer,
			TransferURI:  "tr-" + string(rune('a'+i)),
			ScheduledFor: clock.Now().Add(offset),
		}); err != nil {
			t.Fatalf("PutTask failed: %v", err)
		}
	}

	due, err := service.DueTasks(ctx, testUser, clock.Now().Add(time.Hour), 2)
	if err != nil {
		t.Fatalf("DueTasks failed: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("Expected 2 tasks, got %d", len(due))
	}
	if due[0].TransferURI != "tr-b" || due[1].TransferURI != "tr-c" {
		t.Errorf("Expected tasks ordered by schedule, got %s, %s", due[0].TransferURI, due[1].TransferURI)
	}
}

func TestRescheduleTask_Backoff(t *testing.T) {
	service, clock := setupTestService(t)
	ctx := context.Background()

	task := &models.Task{UserID: testUser, TaskType: models.TaskFetchDebtorInfo, IRI: "https://example.com/doc"}
	if _, err := service.PutTask(ctx, task); err != nil {
		t.Fatalf("PutTask failed: %v", err)
	}

	var previous int64
	for attempt := 0; attempt < 12; attempt++ {
		due, err := service.DueTasks(ctx, testUser, clock.Now(), 10)
		if err != nil {
			t.Fatalf("DueTasks failed: %v", err)
		}
		if len(due) != 1 {
			t.Fatalf("Attempt %d: expected one due task, got %d", attempt, len(due))
		}
		if err := service.RescheduleTask(ctx, &due[0], false, nil); err != nil {
			t.Fatalf("RescheduleTask failed: %v", err)
		}

		if due[0].BackoffSeconds < previous {
			t.Errorf("Attempt %d: backoff decreased from %d to %d", attempt, previous, due[0].BackoffSeconds)
		}
		if !due[0].ScheduledFor.After(clock.Now()) {
			t.Errorf("Attempt %d: expected a future schedule", attempt)
		}
		if attempt == 0 && (due[0].BackoffSeconds < 15*60 || due[0].BackoffSeconds > 30*60) {
			t.Errorf("Expected seed backoff within [15, 30] minutes, got %d seconds", due[0].BackoffSeconds)
		}
		if due[0].BackoffSeconds > 28*24*3600 {
			t.Errorf("Backoff %d exceeds the ceiling", due[0].BackoffSeconds)
		}
		previous = due[0].BackoffSeconds
		clock.Advance(time.Duration(due[0].BackoffSeconds) * time.Second)
	}

	// Re-arming a pending fetch keeps its backoff.
	if _, err := service.PutTask(ctx, &models.Task{UserID: testUser, TaskType: models.TaskFetchDebtorInfo, IRI: "https://example.com/doc"}); err != nil {
		t.Fatalf("PutTask failed: %v", err)
	}
	due, _ := service.DueTasks(ctx, testUser, clock.Now(), 10)
	if len(due) != 1 || due[0].BackoffSeconds != previous {
		t.Errorf("Expected the pending fetch to keep backoff %d, got %+v", previous, due)
	}
}

func TestRescheduleTask_CancelledTask(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	task := &models.Task{UserID: testUser, TaskType: models.TaskDeleteTransfer, TransferURI: "tr-1"}
	if _, err := service.PutTask(ctx, task); err != nil {
		t.Fatalf("PutTask failed: %v", err)
	}
	if err := service.RemoveTask(ctx, task.TaskID); err != nil {
		t.Fatalf("RemoveTask failed: %v", err)
	}
	if err := service.RescheduleTask(ctx, task, false, nil); err != nil {
		t.Errorf("Expected rescheduling a cancelled task to be a no-op, got %v", err)
	}
}

func TestRescheduleTask_DeleteAccount(t *testing.T) {
	service, clock := setupTestService(t)
	ctx := context.Background()
	storeTestAccount(t, service, "acc-1", "debtor-1", 3)

	task := &models.Task{UserID: testUser, TaskType: models.TaskDeleteAccount, AccountURI: "acc-1"}
	if _, err := service.PutTask(ctx, task); err != nil {
		t.Fatalf("PutTask failed: %v", err)
	}
	due, _ := service.DueTasks(ctx, testUser, clock.Now(), 10)
	if len(due) != 1 {
		t.Fatalf("Expected one due task, got %d", len(due))
	}
	if err := service.RescheduleTask(ctx, &due[0], true, nil); err != nil {
		t.Fatalf("RescheduleTask failed: %v", err)
	}
	if got := countAccountRecords(t, service, "acc-1"); got != 0 {
		t.Errorf("Expected the account to be deleted, got %d records", got)
	}
}

func TestScheduleAccountDeletion(t *testing.T) {
	service, clock := setupTestService(t)
	ctx := context.Background()
	storeTestAccount(t, service, "acc-1", "debtor-1", 3)

	if _, err := service.ScheduleAccountDeletion(ctx, testUser, "acc-9"); !errors.Is(err, store.ErrRecordDoesNotExist) {
		t.Errorf("Expected ErrRecordDoesNotExist for an unknown account, got %v", err)
	}
	if _, err := service.ScheduleAccountDeletion(ctx, "stranger", "acc-1"); !errors.Is(err, store.ErrUserNotInstalled) {
		t.Errorf("Expected ErrUserNotInstalled, got %v", err)
	}

	task, err := service.ScheduleAccountDeletion(ctx, testUser, "acc-1")
	if err != nil {
		t.Fatalf("ScheduleAccountDeletion failed: %v", err)
	}
	if !task.ScheduledFor.Equal(clock.Now()) {
		t.Errorf("Expected the task to be due now, got %v", task.ScheduledFor)
	}

	// Scheduling twice keeps a single task.
	if _, err := service.ScheduleAccountDeletion(ctx, testUser, "acc-1"); err != nil {
		t.Fatalf("ScheduleAccountDeletion failed: %v", err)
	}
	due, err := service.DueTasks(ctx, testUser, clock.Now(), 10)
	if err != nil {
		t.Fatalf("DueTasks failed: %v", err)
	}
	if len(due) != 1 || due[0].TaskType != models.TaskDeleteAccount || due[0].AccountURI != "acc-1" {
		t.Fatalf("Expected one DeleteAccount task, got %+v", due)
	}

	if err := service.RescheduleTask(ctx, &due[0], true, nil); err != nil {
		t.Fatalf("RescheduleTask failed: %v", err)
	}
	if got := countAccountRecords(t, service, "acc-1"); got != 0 {
		t.Errorf("Expected the account to be deleted, got %d records", got)
	}
}

func TestFetchTaskSurvivesAccountDeletion(t *testing.T) {
	service, clock := setupTestService(t)
	ctx := context.Background()

	for i, uri := range []string{"acc-1", "acc-2"} {
		aggregate := newAggregate(uri, "debtor-"+uri, 1)
		aggregate.Info.DebtorInfo = &models.DebtorInfoRef{IRI: debtorInfoIRI}
		if err := service.StoreAccount(ctx, testUser, aggregate); err != nil {
			t.Fatalf("StoreAccount %d failed: %v", i, err)
		}
	}
	due, _ := service.DueTasks(ctx, testUser, clock.Now(), 10)
	if len(due) != 1 || due[0].TaskType != models.TaskFetchDebtorInfo {
		t.Fatalf("Expected one shared fetch task, got %+v", due)
	}

	if deleted, err := service.DeleteAccount(ctx, "acc-1", 1); err != nil || !deleted {
		t.Fatalf("DeleteAccount failed: deleted=%v err=%v", deleted, err)
	}
	due, _ = service.DueTasks(ctx, testUser, clock.Now(), 10)
	if len(due) != 1 || due[0].IRI != debtorInfoIRI {
		t.Errorf("Expected the fetch task to remain for acc-2, got %+v", due)
	}
}
