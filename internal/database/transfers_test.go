package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/config"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/docs"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/store"
)

func newSnapshot(uri string, initiatedAt time.Time, updateId uint64) *models.TransferSnapshot {
	return &models.TransferSnapshot{
		URI:            uri,
		TransferUUID:   "uuid-" + uri,
		InitiatedAt:    initiatedAt,
		Amount:         100,
		Recipient:      models.ObjectReference{URI: "swpt:1/2"},
		NoteFormat:     docs.PaymentRequestFormat,
		Note:           "INV-1\nACME\nrent",
		LatestUpdateID: updateId,
	}
}

func TestStoreTransfer_TimeTieBreak(t *testing.T) {
	service, clock := setupTestService(t)
	ctx := context.Background()
	at := clock.Now()

	first, err := service.StoreTransfer(ctx, testUser, newSnapshot("tr-1", at, 1), true)
	if err != nil {
		t.Fatalf("StoreTransfer failed: %v", err)
	}
	second, err := service.StoreTransfer(ctx, testUser, newSnapshot("tr-2", at, 1), false)
	if err != nil {
		t.Fatalf("StoreTransfer failed: %v", err)
	}

	if first.Time != at.UnixMilli() {
		t.Errorf("Expected time %d, got %d", at.UnixMilli(), first.Time)
	}
	if second.Time != at.UnixMilli()+1 {
		t.Errorf("Expected colliding time to move forward, got %d", second.Time)
	}
	if first.PaymentInfo.PayeeName != "ACME" || first.PaymentInfo.PayeeReference != "INV-1" {
		t.Errorf("Unexpected payment info %+v", first.PaymentInfo)
	}

	list, err := service.ListTransfers(ctx, testUser, 10)
	if err != nil {
		t.Fatalf("ListTransfers failed: %v", err)
	}
	if len(list) != 2 || list[0].URI != "tr-2" {
		t.Errorf("Expected most recent transfer first, got %+v", list)
	}
}

func TestStoreTransfer_MergeByUpdateId(t *testing.T) {
	service, clock := setupTestService(t)
	ctx := context.Background()

	snapshot := newSnapshot("tr-1", clock.Now(), 2)
	if _, err := service.StoreTransfer(ctx, testUser, snapshot, false); err != nil {
		t.Fatalf("StoreTransfer failed: %v", err)
	}

	stale := newSnapshot("tr-1", clock.Now(), 1)
	stale.Amount = 999
	stored, err := service.StoreTransfer(ctx, testUser, stale, true)
	if err != nil {
		t.Fatalf("StoreTransfer failed: %v", err)
	}
	if stored.Amount != 100 {
		t.Errorf("Expected stale snapshot to be ignored, got amount %d", stored.Amount)
	}
	if !stored.OriginatesHere {
		t.Error("Expected OriginatesHere to be recorded")
	}

	loaded, err := service.GetTransfer(ctx, "tr-1")
	if err != nil {
		t.Fatalf("GetTransfer failed: %v", err)
	}
	if loaded.Time != clock.Now().UnixMilli() {
		t.Errorf("Expected ordering time to stay, got %d", loaded.Time)
	}
	if _, err := service.GetTransfer(ctx, "tr-x"); !errors.Is(err, store.ErrRecordDoesNotExist) {
		t.Errorf("Expected ErrRecordDoesNotExist, got %v", err)
	}
}

func TestTransferLifecycle_DelayedThenSuccessful(t *testing.T) {
	service, clock := setupTestService(t)
	ctx := context.Background()

	if _, err := service.StoreTransfer(ctx, testUser, newSnapshot("tr-1", clock.Now(), 1), true); err != nil {
		t.Fatalf("StoreTransfer failed: %v", err)
	}
	if got := actionsOfType(t, service, models.ActionAbortTransfer); len(got) != 0 {
		t.Fatalf("Expected no AbortTransfer while waiting, got %d", len(got))
	}

	clock.Advance(25 * time.Hour)
	n, err := service.RefreshTransfers(ctx, testUser)
	if err != nil {
		t.Fatalf("RefreshTransfers failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected one delayed transfer, got %d", n)
	}
	aborts := actionsOfType(t, service, models.ActionAbortTransfer)
	if len(aborts) != 1 || aborts[0].AbortTransfer.TransferURI != "tr-1" {
		t.Fatalf("Expected one AbortTransfer for tr-1, got %+v", aborts)
	}

	// Refreshing again does not duplicate the action.
	if _, err := service.RefreshTransfers(ctx, testUser); err != nil {
		t.Fatalf("RefreshTransfers failed: %v", err)
	}
	if got := actionsOfType(t, service, models.ActionAbortTransfer); len(got) != 1 {
		t.Errorf("Expected still one AbortTransfer, got %d", len(got))
	}

	finalized := clock.Now()
	done := newSnapshot("tr-1", finalized.Add(-25*time.Hour), 2)
	done.Result = &models.TransferResult{FinalizedAt: finalized, CommittedAmount: 100}
	if _, err := service.StoreTransfer(ctx, testUser, done, false); err != nil {
		t.Fatalf("StoreTransfer failed: %v", err)
	}
	if got := actionsOfType(t, service, models.ActionAbortTransfer); len(got) != 0 {
		t.Errorf("Expected AbortTransfer to be retracted, got %d", len(got))
	}

	deletionAt := finalized.Add(config.TransferDeletionMinDelay)
	tasks, _ := service.DueTasks(ctx, testUser, deletionAt.Add(-time.Second), 10)
	if len(tasks) != 0 {
		t.Errorf("Expected no deletion before the delay, got %d tasks", len(tasks))
	}
	tasks, _ = service.DueTasks(ctx, testUser, deletionAt, 10)
	if len(tasks) != 1 || tasks[0].TaskType != models.TaskDeleteTransfer || tasks[0].TransferURI != "tr-1" {
		t.Fatalf("Expected a DeleteTransfer task, got %+v", tasks)
	}

	// The server deletion keeps the local history.
	if err := service.RescheduleTask(ctx, &tasks[0], true, nil); err != nil {
		t.Fatalf("RescheduleTask failed: %v", err)
	}
	if _, err := service.GetTransfer(ctx, "tr-1"); err != nil {
		t.Errorf("Expected transfer to remain in history, got %v", err)
	}
}

func TestTransferLifecycle_UnsuccessfulThenAborted(t *testing.T) {
	service, clock := setupTestService(t)
	ctx := context.Background()

	snapshot := newSnapshot("tr-1", clock.Now(), 1)
	snapshot.Result = &models.TransferResult{
		FinalizedAt: clock.Now(),
		Error:       &models.TransferError{ErrorCode: "INSUFFICIENT_AVAILABLE_AMOUNT"},
	}
	if _, err := service.StoreTransfer(ctx, testUser, snapshot, true); err != nil {
		t.Fatalf("StoreTransfer failed: %v", err)
	}
	aborts := actionsOfType(t, service, models.ActionAbortTransfer)
	if len(aborts) != 1 {
		t.Fatalf("Expected one AbortTransfer, got %d", len(aborts))
	}

	if err := service.RemoveAction(ctx, aborts[0].ActionID); err != nil {
		t.Fatalf("RemoveAction failed: %v", err)
	}
	transfer, err := service.GetTransfer(ctx, "tr-1")
	if err != nil {
		t.Fatalf("GetTransfer failed: %v", err)
	}
	if !transfer.Aborted {
		t.Error("Expected transfer to be marked aborted")
	}

	tasks, _ := service.DueTasks(ctx, testUser, clock.Now().Add(config.TransferDeletionMinDelay), 10)
	if len(tasks) != 1 || tasks[0].TaskType != models.TaskDeleteTransfer {
		t.Fatalf("Expected a DeleteTransfer task after the minimum delay, got %+v", tasks)
	}

	// An aborted transfer does not get a new action.
	snapshot.LatestUpdateID = 2
	if _, err := service.StoreTransfer(ctx, testUser, snapshot, false); err != nil {
		t.Fatalf("StoreTransfer failed: %v", err)
	}
	if got := actionsOfType(t, service, models.ActionAbortTransfer); len(got) != 0 {
		t.Errorf("Expected no AbortTransfer for an aborted transfer, got %d", len(got))
	}
}

func TestStoreTransfer_UserNotInstalled(t *testing.T) {
	service, clock := setupTestService(t)
	_, err := service.StoreTransfer(context.Background(), "stranger", newSnapshot("tr-1", clock.Now(), 1), false)
	if !errors.Is(err, store.ErrUserNotInstalled) {
		t.Errorf("Expected ErrUserNotInstalled, got %v", err)
	}
}
