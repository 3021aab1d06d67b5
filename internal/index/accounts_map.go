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

package index

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/bus"
	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"

	"go.uber.org/zap"
)

// Loader reads the account records an index is seeded from.
type Loader interface {
	ListAccountObjects(ctx context.Context) ([]models.Object, error)
}

// AccountsMap is an in-memory view of the stored accounts and their
// sub-objects, kept current by bus events. It is never a source of truth and
// can be rebuilt from the store at any time.
type AccountsMap struct {
	bus    bus.Bus
	loader Loader

	mu          sync.RWMutex
	objects     map[string]models.Object
	tombstones  map[string]uint64
	debtors     map[string]string
	ready       bool
	pending     []bus.Event
	unsubscribe func()
}

func NewAccountsMap(b bus.Bus, loader Loader) *AccountsMap {
	return &AccountsMap{
		bus:        b,
		loader:     loader,
		objects:    make(map[string]models.Object),
		tombstones: make(map[string]uint64),
		debtors:    make(map[string]string),
	}
}

// Init subscribes to the bus, seeds the map from the store, then replays the
// events that arrived during the scan in arrival order.
func (m *AccountsMap) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.unsubscribe != nil {
		m.mu.Unlock()
		return fmt.Errorf("accounts map already initialized")
	}
	m.unsubscribe = m.bus.Subscribe(m.handle)
	m.mu.Unlock()

	objects, err := m.loader.ListAccountObjects(ctx)
	if err != nil {
		m.Close()
		return fmt.Errorf("unable to seed accounts map: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, obj := range objects {
		m.addLocked(obj)
	}
	replayed := len(m.pending)
	for _, ev := range m.pending {
		m.applyLocked(ev)
	}
	m.pending = nil
	m.ready = true

	zap.L().Info("Accounts map initialized",
		zap.Int("objects", len(m.objects)),
		zap.Int("replayed_events", replayed))
	return nil
}

// Close stops listening to the bus.
func (m *AccountsMap) Close() {
	m.mu.Lock()
	unsubscribe := m.unsubscribe
	m.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (m *AccountsMap) handle(ev bus.Event) {
	if !ev.ObjectType.IsAccountMember() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.ready {
		m.pending = append(m.pending, ev)
		return
	}
	m.applyLocked(ev)
}

func (m *AccountsMap) applyLocked(ev bus.Event) {
	switch ev.Kind {
	case bus.EventAdded:
		m.addLocked(ev.Object)
	case bus.EventDeleted:
		m.deleteLocked(ev.URI, ev.UpdateID)
	default:
		zap.L().Warn("Ignoring unknown bus event", zap.String("kind", string(ev.Kind)), zap.String("uri", ev.URI))
	}
}

// addLocked accepts an object whose update id is not older than the held
// one and newer than any recorded deletion. Equal ids are accepted so that a
// locally rewritten record replaces the copy it was derived from.
func (m *AccountsMap) addLocked(obj models.Object) {
	if obj == nil || !obj.ObjectType().IsAccountMember() {
		return
	}
	uri := obj.ObjectURI()
	if current, ok := m.objects[uri]; ok && obj.UpdateID() < current.UpdateID() {
		return
	}
	if deleted, ok := m.tombstones[uri]; ok && obj.UpdateID() <= deleted {
		return
	}

	delete(m.tombstones, uri)
	m.objects[uri] = obj
	if account, ok := obj.(*models.Account); ok {
		m.debtors[account.Debtor.URI] = uri
	}
}

func (m *AccountsMap) deleteLocked(uri string, updateId uint64) {
	current, ok := m.objects[uri]
	if ok && current.UpdateID() > updateId {
		return
	}
	if deleted, seen := m.tombstones[uri]; !seen || updateId > deleted {
		m.tombstones[uri] = updateId
	}
	if !ok {
		return
	}

	delete(m.objects, uri)
	if account, isAccount := current.(*models.Account); isAccount && m.debtors[account.Debtor.URI] == uri {
		delete(m.debtors, account.Debtor.URI)
	}
}

func (m *AccountsMap) AccountExists(accountUri string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.accountLocked(accountUri)
	return ok
}

// Object returns the held object, or nil.
func (m *AccountsMap) Object(uri string) models.Object {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[uri]
}

func (m *AccountsMap) AccountURIByDebtorURI(debtorUri string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	uri, ok := m.debtors[debtorUri]
	return uri, ok
}

// FollowPegChain returns the account followed by the accounts its currency is
// transitively pegged to. It stops at the first unknown account or repeat.
func (m *AccountsMap) FollowPegChain(accountUri string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var chain []string
	seen := make(map[string]bool)
	uri := accountUri
	for {
		account, ok := m.accountLocked(uri)
		if !ok || seen[uri] {
			return chain
		}
		seen[uri] = true
		chain = append(chain, uri)

		exchange, ok := m.objects[account.Exchange.URI].(*models.AccountExchange)
		if !ok || exchange.Peg == nil {
			return chain
		}
		uri = exchange.Peg.Account.URI
	}
}

// DisplaysMatchingDebtorName returns the displays with a confirmed debtor
// name matching re, ordered by account.
func (m *AccountsMap) DisplaysMatchingDebtorName(re *regexp.Regexp) []*models.AccountDisplay {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*models.AccountDisplay
	for _, obj := range m.objects {
		display, ok := obj.(*models.AccountDisplay)
		if !ok || !display.HasConfirmedName() {
			continue
		}
		if re.MatchString(*display.DebtorName) {
			out = append(out, display)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Account.URI < out[j].Account.URI })
	return out
}

// DebtorNameIsTaken reports whether another account already uses the name,
// ignoring case and surrounding spaces.
func (m *AccountsMap) DebtorNameIsTaken(name, exceptAccountUri string) bool {
	re := regexp.MustCompile(`(?i)^\s*` + regexp.QuoteMeta(strings.TrimSpace(name)) + `\s*$`)
	for _, display := range m.DisplaysMatchingDebtorName(re) {
		if display.Account.URI != exceptAccountUri {
			return true
		}
	}
	return false
}

// AccountURIs returns the known accounts in lexical order.
func (m *AccountsMap) AccountURIs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for uri, obj := range m.objects {
		if obj.ObjectType() == models.TypeAccount {
			out = append(out, uri)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot maps every held URI to its update id.
func (m *AccountsMap) Snapshot() map[string]uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]uint64, len(m.objects))
	for uri, obj := range m.objects {
		out[uri] = obj.UpdateID()
	}
	return out
}

func (m *AccountsMap) accountLocked(uri string) (*models.Account, bool) {
	account, ok := m.objects[uri].(*models.Account)
	return account, ok
}
