package database

import (
	"context"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/store"
)

var storeListAll = store.ListOptions{}

const testUser = "user-1"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testDatabaseConfig(path string) models.DatabaseConfig {
	return models.DatabaseConfig{
		Path:         path,
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		PingTimeout:  5 * time.Second,
	}
}

// setupTestService opens a fresh database file with one installed user.
func setupTestService(t *testing.T, opts ...Option) (*Service, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	opts = append([]Option{WithClock(clock.Now), WithRandSource(rand.NewSource(1))}, opts...)

	path := filepath.Join(t.TempDir(), "wallet.db")
	service, err := NewService(context.Background(), testDatabaseConfig(path), opts...)
	if err != nil {
		t.Fatalf("Failed to create service: %v", err)
	}
	t.Cleanup(service.Close)

	if _, err := service.InstallUser(context.Background(), testUser, "https://example.com/creditors/1/wallet"); err != nil {
		t.Fatalf("Failed to install user: %v", err)
	}
	return service, clock
}

func strPtr(s string) *string { return &s }

var rateChangedAt = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// newAggregate builds a complete account whose sub-objects all carry updateId.
func newAggregate(accountUri, debtorUri string, updateId uint64) *models.AccountAggregate {
	ref := models.ObjectReference{URI: accountUri}
	return &models.AccountAggregate{
		Account: &models.Account{
			URI:            accountUri,
			Debtor:         models.ObjectReference{URI: debtorUri},
			Display:        models.ObjectReference{URI: accountUri + "/display"},
			Config:         models.ObjectReference{URI: accountUri + "/config"},
			Knowledge:      models.ObjectReference{URI: accountUri + "/knowledge"},
			Exchange:       models.ObjectReference{URI: accountUri + "/exchange"},
			Info:           models.ObjectReference{URI: accountUri + "/info"},
			Ledger:         models.ObjectReference{URI: accountUri + "/ledger"},
			CreatedAt:      rateChangedAt,
			LatestUpdateID: updateId,
		},
		Display: &models.AccountDisplay{
			URI:            accountUri + "/display",
			Account:        ref,
			DebtorName:     strPtr("Euro"),
			AmountDivisor:  decimal.NewFromInt(100),
			DecimalPlaces:  2,
			Unit:           "EUR",
			LatestUpdateID: updateId,
		},
		Config: &models.AccountConfig{
			URI:              accountUri + "/config",
			Account:          ref,
			NegligibleAmount: decimal.NewFromInt(0),
			LatestUpdateID:   updateId,
		},
		Knowledge: &models.AccountKnowledge{
			URI:                   accountUri + "/knowledge",
			Account:               ref,
			InterestRate:          decimal.NewFromFloat(2.0),
			InterestRateChangedAt: rateChangedAt,
			LatestUpdateID:        updateId,
		},
		Exchange: &models.AccountExchange{
			URI:            accountUri + "/exchange",
			Account:        ref,
			MaxPrincipal:   1000000,
			LatestUpdateID: updateId,
		},
		Info: &models.AccountInfo{
			URI:                   accountUri + "/info",
			Account:               ref,
			InterestRate:          decimal.NewFromFloat(2.0),
			InterestRateChangedAt: rateChangedAt,
			NoteMaxBytes:          500,
			LatestUpdateID:        updateId,
		},
		Ledger: &models.AccountLedger{
			URI:            accountUri + "/ledger",
			Account:        ref,
			LatestUpdateID: updateId,
		},
	}
}

func storeTestAccount(t *testing.T, s *Service, accountUri, debtorUri string, updateId uint64) *models.AccountAggregate {
	t.Helper()
	aggregate := newAggregate(accountUri, debtorUri, updateId)
	if err := s.StoreAccount(context.Background(), testUser, aggregate); err != nil {
		t.Fatalf("StoreAccount failed: %v", err)
	}
	return aggregate
}

func actionsOfType(t *testing.T, s *Service, actionType models.ActionType) []models.Action {
	t.Helper()
	all, err := s.ListActions(context.Background(), testUser, storeListAll)
	if err != nil {
		t.Fatalf("ListActions failed: %v", err)
	}
	var out []models.Action
	for _, a := range all {
		if a.ActionType == actionType {
			out = append(out, a)
		}
	}
	return out
}
