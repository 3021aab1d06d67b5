package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestEncodeDecodeAddedEvent(t *testing.T) {
	name := "Euro"
	display := &models.AccountDisplay{
		URI:            "https://example.com/accounts/1/display",
		Account:        models.ObjectReference{URI: "https://example.com/accounts/1/"},
		DebtorName:     &name,
		AmountDivisor:  decimal.NewFromInt(100),
		DecimalPlaces:  2,
		Unit:           "EUR",
		LatestUpdateID: 7,
	}

	raw, err := Encode(Added(display))
	require.NoError(t, err)

	ev, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, EventAdded, ev.Kind)
	assert.Equal(t, models.TypeAccountDisplay, ev.ObjectType)
	assert.Equal(t, uint64(7), ev.UpdateID)

	got, ok := ev.Object.(*models.AccountDisplay)
	require.True(t, ok)
	require.NotNil(t, got.DebtorName)
	assert.Equal(t, "Euro", *got.DebtorName)
	assert.True(t, got.AmountDivisor.Equal(decimal.NewFromInt(100)))
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	raw, err := Encode(Event{Kind: "renamed", URI: "x"})
	require.NoError(t, err)

	_, err = Decode(raw)
	assert.Error(t, err)
}

func TestHubDeliversToEveryContextInSendOrder(t *testing.T) {
	hub := NewHub()
	a := hub.Connect()
	b := hub.Connect()
	defer a.Close()
	defer b.Close()

	var gotA, gotB recorder
	a.Subscribe(gotA.handle)
	b.Subscribe(gotB.handle)

	ctx := context.Background()
	for i := uint64(1); i <= 20; i++ {
		require.NoError(t, a.Publish(ctx, Deleted("https://example.com/x", models.TypeAccountLedger, i)))
	}

	require.Eventually(t, func() bool {
		return len(gotA.snapshot()) == 20 && len(gotB.snapshot()) == 20
	}, time.Second, 5*time.Millisecond)

	for i, ev := range gotB.snapshot() {
		assert.Equal(t, uint64(i+1), ev.UpdateID)
		assert.Equal(t, a.Origin(), ev.Origin)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	a := hub.Connect()
	defer a.Close()

	var got recorder
	unsubscribe := a.Subscribe(got.handle)
	unsubscribe()
	unsubscribe()

	require.NoError(t, a.Publish(context.Background(), Deleted("u", models.TypeAccount, 1)))
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, got.snapshot())
}

func TestPublishAfterCloseFails(t *testing.T) {
	hub := NewHub()
	a := hub.Connect()
	require.NoError(t, a.Close())

	err := a.Publish(context.Background(), Deleted("u", models.TypeAccount, 1))
	assert.ErrorIs(t, err, ErrClosed)
}
