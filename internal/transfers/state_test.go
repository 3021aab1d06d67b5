package transfers

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func TestState(t *testing.T) {
	day := 24 * time.Hour
	checkup := t0.Add(2 * time.Hour)

	cases := []struct {
		name     string
		snapshot models.TransferSnapshot
		now      time.Time
		want     SettlementState
	}{
		{"fresh", models.TransferSnapshot{InitiatedAt: t0}, t0.Add(time.Hour), StateWaiting},
		{"after a day", models.TransferSnapshot{InitiatedAt: t0}, t0.Add(day), StateDelayed},
		{"checkup not reached", models.TransferSnapshot{InitiatedAt: t0, CheckupAt: &checkup}, t0.Add(time.Hour), StateWaiting},
		{"checkup passed", models.TransferSnapshot{InitiatedAt: t0, CheckupAt: &checkup}, checkup, StateDelayed},
		{"committed", models.TransferSnapshot{InitiatedAt: t0, Result: &models.TransferResult{FinalizedAt: t0, CommittedAmount: 10}}, t0, StateSuccessful},
		{"rejected", models.TransferSnapshot{InitiatedAt: t0, Result: &models.TransferResult{FinalizedAt: t0}}, t0.Add(2 * day), StateUnsuccessful},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, State(&tc.snapshot, tc.now, day))
		})
	}

	assert.True(t, StateSuccessful.IsFinal())
	assert.True(t, StateUnsuccessful.IsFinal())
	assert.False(t, StateDelayed.IsFinal())
}

func TestStatus(t *testing.T) {
	minDelay := 5 * 24 * time.Hour
	sentAt := t0.Add(time.Second)

	draft := &models.CreateTransferAction{}
	assert.Equal(t, StatusDraft, Status(draft, t0, minDelay))

	notSent := &models.CreateTransferAction{Execution: &models.TransferExecution{StartedAt: t0}}
	assert.Equal(t, StatusNotSent, Status(notSent, t0.Add(time.Second), minDelay))

	notConfirmed := &models.CreateTransferAction{Execution: &models.TransferExecution{StartedAt: t0, UnresolvedRequestAt: &sentAt}}
	assert.Equal(t, StatusNotConfirmed, Status(notConfirmed, t0.Add(time.Second), minDelay))

	timedOut := t0.Add(minDelay + time.Second)
	assert.Equal(t, StatusTimedOut, Status(notSent, timedOut, minDelay))
	assert.Equal(t, StatusTimedOut, Status(notConfirmed, timedOut, minDelay))
	assert.Equal(t, StatusNotSent, Status(notSent, t0.Add(minDelay), minDelay))

	initiated := &models.CreateTransferAction{Execution: &models.TransferExecution{
		StartedAt: t0,
		Result:    &models.TransferExecutionResult{OK: true, TransferURI: "tr-1"},
	}}
	assert.Equal(t, StatusInitiated, Status(initiated, timedOut, minDelay))

	failed := &models.CreateTransferAction{Execution: &models.TransferExecution{
		StartedAt: t0,
		Result:    &models.TransferExecutionResult{Error: "INSUFFICIENT_AVAILABLE_AMOUNT"},
	}}
	assert.Equal(t, StatusFailed, Status(failed, t0, minDelay))
}
