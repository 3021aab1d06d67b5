package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/config"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/store"
)

func configAction(accountUri, name string) *models.Action {
	return &models.Action{
		UserID:     testUser,
		ActionType: models.ActionConfigAccount,
		ConfigAccount: &models.ConfigAccountAction{
			AccountURI:             accountUri,
			EditedNegligibleAmount: decimal.NewFromInt(1),
			EditedDebtorName:       name,
		},
	}
}

func TestCreateAction_UserNotInstalled(t *testing.T) {
	service, _ := setupTestService(t)
	action := configAction("acc-1", "x")
	action.UserID = "stranger"

	if _, err := service.CreateAction(context.Background(), action); !errors.Is(err, store.ErrUserNotInstalled) {
		t.Errorf("Expected ErrUserNotInstalled, got %v", err)
	}
}

func TestCreateAction_RejectsMismatchedPayload(t *testing.T) {
	service, _ := setupTestService(t)
	action := configAction("acc-1", "x")
	action.ActionType = models.ActionUpdatePolicy

	if _, err := service.CreateAction(context.Background(), action); err == nil {
		t.Error("Expected validation error")
	}
}

func TestListActions_OrderAndBounds(t *testing.T) {
	service, clock := setupTestService(t)
	ctx := context.Background()

	var created []time.Time
	for i := 0; i < 4; i++ {
		action := configAction("acc-1", "name")
		action.CreatedAt = clock.Now()
		if _, err := service.CreateAction(ctx, action); err != nil {
			t.Fatalf("CreateAction failed: %v", err)
		}
		created = append(created, action.CreatedAt)
		clock.Advance(time.Minute)
	}

	all, err := service.ListActions(ctx, testUser, store.ListOptions{})
	if err != nil {
		t.Fatalf("ListActions failed: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("Expected 4 actions, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.Before(all[i-1].CreatedAt) {
			t.Errorf("Actions out of order at %d", i)
		}
	}

	latest, err := service.ListActions(ctx, testUser, store.ListOptions{LatestFirst: true, Limit: 2})
	if err != nil {
		t.Fatalf("ListActions failed: %v", err)
	}
	if len(latest) != 2 || latest[0].ActionID != all[3].ActionID {
		t.Errorf("Expected the two latest actions, got %+v", latest)
	}

	before := created[2]
	bounded, err := service.ListActions(ctx, testUser, store.ListOptions{After: &created[0], Before: &before})
	if err != nil {
		t.Fatalf("ListActions failed: %v", err)
	}
	if len(bounded) != 1 || bounded[0].ActionID != all[1].ActionID {
		t.Errorf("Expected only the second action, got %d actions", len(bounded))
	}
}

func TestReplaceAction_CompareAndSwap(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	action := configAction("acc-1", "first")
	if _, err := service.CreateAction(ctx, action); err != nil {
		t.Fatalf("CreateAction failed: %v", err)
	}

	// Two editors read the same record.
	editorA, _ := service.GetAction(ctx, action.ActionID)
	editorB, _ := service.GetAction(ctx, action.ActionID)

	updateA, _ := editorA.Clone()
	updateA.ConfigAccount.EditedDebtorName = "from A"
	if err := service.ReplaceAction(ctx, editorA, updateA); err != nil {
		t.Fatalf("First replace failed: %v", err)
	}

	updateB, _ := editorB.Clone()
	updateB.ConfigAccount.EditedDebtorName = "from B"
	err := service.ReplaceAction(ctx, editorB, updateB)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}

	stored, err := service.GetAction(ctx, action.ActionID)
	if err != nil {
		t.Fatalf("GetAction failed: %v", err)
	}
	if stored.ConfigAccount.EditedDebtorName != "from A" {
		t.Errorf("Expected the first writer to win, got %q", stored.ConfigAccount.EditedDebtorName)
	}

	// Retrying with a fresh read succeeds.
	fresh, _ := stored.Clone()
	fresh.ConfigAccount.EditedDebtorName = "from B"
	if err := service.ReplaceAction(ctx, stored, fresh); err != nil {
		t.Errorf("Retry failed: %v", err)
	}
}

func TestReplaceAction_DeletedRecord(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	action := configAction("acc-1", "first")
	if _, err := service.CreateAction(ctx, action); err != nil {
		t.Fatalf("CreateAction failed: %v", err)
	}
	if err := service.ReplaceAction(ctx, action, nil); err != nil {
		t.Fatalf("Delete via replace failed: %v", err)
	}

	err := service.ReplaceAction(ctx, action, nil)
	if !errors.Is(err, store.ErrConflict) || !errors.Is(err, store.ErrRecordDoesNotExist) {
		t.Errorf("Expected conflict wrapping ErrRecordDoesNotExist, got %v", err)
	}
	if _, err := service.GetAction(ctx, action.ActionID); !errors.Is(err, store.ErrRecordDoesNotExist) {
		t.Errorf("Expected ErrRecordDoesNotExist, got %v", err)
	}
}

func TestReplaceAction_WithNewRecord(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	action := configAction("acc-1", "first")
	if _, err := service.CreateAction(ctx, action); err != nil {
		t.Fatalf("CreateAction failed: %v", err)
	}
	replacement := configAction("acc-1", "second")
	if err := service.ReplaceAction(ctx, action, replacement); err != nil {
		t.Fatalf("ReplaceAction failed: %v", err)
	}
	if replacement.ActionID == 0 || replacement.ActionID == action.ActionID {
		t.Errorf("Expected a new action id, got %d", replacement.ActionID)
	}
	if got := actionsOfType(t, service, models.ActionConfigAccount); len(got) != 1 {
		t.Errorf("Expected exactly one action, got %d", len(got))
	}
}

func TestCreateOrReuseAction(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	first := configAction("acc-1", "first")
	id1, err := service.CreateOrReuseAction(ctx, first, false)
	if err != nil {
		t.Fatalf("CreateOrReuseAction failed: %v", err)
	}

	id2, err := service.CreateOrReuseAction(ctx, configAction("acc-1", "second"), false)
	if err != nil {
		t.Fatalf("CreateOrReuseAction failed: %v", err)
	}
	if id1 != id2 {
		t.Errorf("Expected reuse of action %d, got %d", id1, id2)
	}

	id3, err := service.CreateOrReuseAction(ctx, configAction("acc-1", "third"), true)
	if err != nil {
		t.Fatalf("CreateOrReuseAction failed: %v", err)
	}
	if id3 == id1 {
		t.Error("Expected override to create a new action")
	}
	actions := actionsOfType(t, service, models.ActionConfigAccount)
	if len(actions) != 1 || actions[0].ConfigAccount.EditedDebtorName != "third" {
		t.Errorf("Expected only the overriding action, got %+v", actions)
	}

	// Another account gets its own action.
	if _, err := service.CreateOrReuseAction(ctx, configAction("acc-2", "other"), false); err != nil {
		t.Fatalf("CreateOrReuseAction failed: %v", err)
	}
	if got := actionsOfType(t, service, models.ActionConfigAccount); len(got) != 2 {
		t.Errorf("Expected 2 actions, got %d", len(got))
	}
}

func pegAction(coin string) *models.Action {
	return &models.Action{
		UserID:     testUser,
		ActionType: models.ActionApprovePeg,
		ApprovePeg: &models.ApprovePegAction{
			AccountURI: "acc-1",
			Peg: models.Peg{
				ExchangeRate:     decimal.NewFromInt(2),
				DebtorURI:        "debtor-2",
				Display:          models.PegDisplay{AmountDivisor: decimal.NewFromInt(100), DecimalPlaces: 2, Unit: "USD"},
				LatestDebtorInfo: coin,
			},
		},
	}
}

func TestCreateOrReuseAction_ApprovePegRefreshesCoin(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	first := pegAction("https://example.com/coin/1")
	first.ApprovePeg.IgnoreCoinMismatch = true
	first.ApprovePeg.PegAccountURI = "acc-2"
	id, err := service.CreateOrReuseAction(ctx, first, false)
	if err != nil {
		t.Fatalf("CreateOrReuseAction failed: %v", err)
	}

	reused, err := service.CreateOrReuseAction(ctx, pegAction("https://example.com/coin/2"), false)
	if err != nil {
		t.Fatalf("CreateOrReuseAction failed: %v", err)
	}
	if reused != id {
		t.Fatalf("Expected reuse of %d, got %d", id, reused)
	}

	stored, err := service.GetAction(ctx, id)
	if err != nil {
		t.Fatalf("GetAction failed: %v", err)
	}
	if stored.ApprovePeg.Peg.LatestDebtorInfo != "https://example.com/coin/2" {
		t.Errorf("Expected refreshed coin link, got %s", stored.ApprovePeg.Peg.LatestDebtorInfo)
	}
	if stored.ApprovePeg.IgnoreCoinMismatch {
		t.Error("Expected IgnoreCoinMismatch to be reset")
	}
	if stored.ApprovePeg.PegAccountURI != "acc-2" {
		t.Error("Expected other edits to be kept")
	}
}

func TestRemoveAction_Missing(t *testing.T) {
	service, _ := setupTestService(t)
	if err := service.RemoveAction(context.Background(), 42); err != nil {
		t.Errorf("Expected removing a missing action to succeed, got %v", err)
	}
}

func TestReplaceAction_ChangedCreatedAtIsNewRecord(t *testing.T) {
	service, _ := setupTestService(t)
	ctx := context.Background()

	action := configAction("acc-1", "first")
	if _, err := service.CreateAction(ctx, action); err != nil {
		t.Fatalf("CreateAction failed: %v", err)
	}
	originalId := action.ActionID

	replacement, _ := action.Clone()
	replacement.CreatedAt = action.CreatedAt.Add(time.Hour)
	if err := service.ReplaceAction(ctx, action, replacement); err != nil {
		t.Fatalf("ReplaceAction failed: %v", err)
	}
	if replacement.ActionID == originalId {
		t.Errorf("Expected a new action id, still %d", originalId)
	}
	if _, err := service.GetAction(ctx, originalId); !errors.Is(err, store.ErrRecordDoesNotExist) {
		t.Errorf("Expected the original to be deleted, got %v", err)
	}

	// Same id, type and creation time is an in-place update.
	update, _ := replacement.Clone()
	update.ConfigAccount.EditedDebtorName = "second"
	if err := service.ReplaceAction(ctx, replacement, update); err != nil {
		t.Fatalf("ReplaceAction failed: %v", err)
	}
	if update.ActionID != replacement.ActionID {
		t.Errorf("Expected id %d to be kept, got %d", replacement.ActionID, update.ActionID)
	}
}

func TestReplaceAction_DeletingAbortTransferAbortsTransfer(t *testing.T) {
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

	if err := service.ReplaceAction(ctx, &aborts[0], nil); err != nil {
		t.Fatalf("ReplaceAction failed: %v", err)
	}
	transfer, err := service.GetTransfer(ctx, "tr-1")
	if err != nil {
		t.Fatalf("GetTransfer failed: %v", err)
	}
	if !transfer.Aborted {
		t.Error("Expected transfer to be marked aborted")
	}
	tasks, _ := service.DueTasks(ctx, testUser, clock.Now().Add(config.TransferDeletionMinDelay), 10)
	if len(tasks) != 1 || tasks[0].TaskType != models.TaskDeleteTransfer || tasks[0].TransferURI != "tr-1" {
		t.Errorf("Expected a DeleteTransfer task, got %+v", tasks)
	}
}
