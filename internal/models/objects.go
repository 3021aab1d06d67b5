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

package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrUnknownObjectType = errors.New("unknown object type")

// ObjectType tags every object mirrored from the server.
type ObjectType string

const (
	TypeAccount           ObjectType = "Account"
	TypeAccountDisplay    ObjectType = "AccountDisplay"
	TypeAccountConfig     ObjectType = "AccountConfig"
	TypeAccountKnowledge  ObjectType = "AccountKnowledge"
	TypeAccountExchange   ObjectType = "AccountExchange"
	TypeAccountInfo       ObjectType = "AccountInfo"
	TypeAccountLedger     ObjectType = "AccountLedger"
	TypeCommittedTransfer ObjectType = "CommittedTransfer"
	TypeDocument          ObjectType = "Document"
)

// AccountSubObjectTypes lists the six records that exist together with an Account.
var AccountSubObjectTypes = []ObjectType{
	TypeAccountDisplay,
	TypeAccountConfig,
	TypeAccountKnowledge,
	TypeAccountExchange,
	TypeAccountInfo,
	TypeAccountLedger,
}

// IsAccountMember reports whether objects of this type belong to an account aggregate.
func (t ObjectType) IsAccountMember() bool {
	switch t {
	case TypeAccount, TypeAccountDisplay, TypeAccountConfig, TypeAccountKnowledge,
		TypeAccountExchange, TypeAccountInfo, TypeAccountLedger:
		return true
	}
	return false
}

// Object is implemented only by the types in this file.
type Object interface {
	ObjectURI() string
	ObjectType() ObjectType
	UpdateID() uint64
	isObject()
}

// AccountMember is an object that hangs off an account.
type AccountMember interface {
	Object
	OwnerURI() string
}

type ObjectReference struct {
	URI string `json:"uri" msgpack:"uri" yaml:"uri"`
}

type Account struct {
	URI            string          `json:"uri" msgpack:"uri" yaml:"uri"`
	Debtor         ObjectReference `json:"debtor" msgpack:"debtor" yaml:"debtor"`
	Display        ObjectReference `json:"display" msgpack:"display" yaml:"display"`
	Config         ObjectReference `json:"config" msgpack:"config" yaml:"config"`
	Knowledge      ObjectReference `json:"knowledge" msgpack:"knowledge" yaml:"knowledge"`
	Exchange       ObjectReference `json:"exchange" msgpack:"exchange" yaml:"exchange"`
	Info           ObjectReference `json:"info" msgpack:"info" yaml:"info"`
	Ledger         ObjectReference `json:"ledger" msgpack:"ledger" yaml:"ledger"`
	CreatedAt      time.Time       `json:"createdAt" msgpack:"createdAt" yaml:"createdAt"`
	LatestUpdateID uint64          `json:"latestUpdateId" msgpack:"latestUpdateId" yaml:"latestUpdateId"`
}

// SubObjectURIs returns the member URIs keyed by type.
func (a *Account) SubObjectURIs() map[ObjectType]string {
	return map[ObjectType]string{
		TypeAccountDisplay:   a.Display.URI,
		TypeAccountConfig:    a.Config.URI,
		TypeAccountKnowledge: a.Knowledge.URI,
		TypeAccountExchange:  a.Exchange.URI,
		TypeAccountInfo:      a.Info.URI,
		TypeAccountLedger:    a.Ledger.URI,
	}
}

type AccountDisplay struct {
	URI            string          `json:"uri" msgpack:"uri" yaml:"uri"`
	Account        ObjectReference `json:"account" msgpack:"account" yaml:"account"`
	DebtorName     *string         `json:"debtorName,omitempty" msgpack:"debtorName,omitempty" yaml:"debtorName,omitempty"`
	AmountDivisor  decimal.Decimal `json:"amountDivisor" msgpack:"amountDivisor" yaml:"amountDivisor"`
	DecimalPlaces  int64           `json:"decimalPlaces" msgpack:"decimalPlaces" yaml:"decimalPlaces"`
	Unit           string          `json:"unit" msgpack:"unit" yaml:"unit"`
	KnownDebtor    bool            `json:"knownDebtor" msgpack:"knownDebtor" yaml:"knownDebtor"`
	LatestUpdateID uint64          `json:"latestUpdateId" msgpack:"latestUpdateId" yaml:"latestUpdateId"`
}

// HasConfirmedName is false until the user has accepted the currency's identity.
func (d *AccountDisplay) HasConfirmedName() bool {
	return d.DebtorName != nil
}

type AccountConfig struct {
	URI                  string          `json:"uri" msgpack:"uri" yaml:"uri"`
	Account              ObjectReference `json:"account" msgpack:"account" yaml:"account"`
	NegligibleAmount     decimal.Decimal `json:"negligibleAmount" msgpack:"negligibleAmount" yaml:"negligibleAmount"`
	ScheduledForDeletion bool            `json:"scheduledForDeletion" msgpack:"scheduledForDeletion" yaml:"scheduledForDeletion"`
	AllowUnsafeDeletion  bool            `json:"allowUnsafeDeletion" msgpack:"allowUnsafeDeletion" yaml:"allowUnsafeDeletion"`
	LatestUpdateID       uint64          `json:"latestUpdateId" msgpack:"latestUpdateId" yaml:"latestUpdateId"`
}

// DebtorInfoRef points at a remote debtor-info document.
type DebtorInfoRef struct {
	IRI         string `json:"iri" msgpack:"iri" yaml:"iri"`
	ContentType string `json:"contentType,omitempty" msgpack:"contentType,omitempty" yaml:"contentType,omitempty"`
	SHA256      string `json:"sha256,omitempty" msgpack:"sha256,omitempty" yaml:"sha256,omitempty"`
}

// Peg declares a fixed exchange rate to another currency.
type Peg struct {
	ExchangeRate decimal.Decimal `json:"exchangeRate" msgpack:"exchangeRate" yaml:"exchangeRate"`
	DebtorURI    string          `json:"debtorUri" msgpack:"debtorUri" yaml:"debtorUri"`
	Display      PegDisplay      `json:"display" msgpack:"display" yaml:"display"`
	// LatestDebtorInfo is the "coin" link of the peg currency.
	LatestDebtorInfo string `json:"latestDebtorInfo" msgpack:"latestDebtorInfo" yaml:"latestDebtorInfo"`
}

type PegDisplay struct {
	AmountDivisor decimal.Decimal `json:"amountDivisor" msgpack:"amountDivisor" yaml:"amountDivisor"`
	DecimalPlaces int64           `json:"decimalPlaces" msgpack:"decimalPlaces" yaml:"decimalPlaces"`
	Unit          string          `json:"unit" msgpack:"unit" yaml:"unit"`
}

// DebtorData is the parsed content of a debtor-info document.
type DebtorData struct {
	DebtorURI          string          `json:"debtorUri" msgpack:"debtorUri" yaml:"debtorUri"`
	DebtorName         string          `json:"debtorName" msgpack:"debtorName" yaml:"debtorName"`
	DebtorHomepage     string          `json:"debtorHomepage,omitempty" msgpack:"debtorHomepage,omitempty" yaml:"debtorHomepage,omitempty"`
	Summary            string          `json:"summary,omitempty" msgpack:"summary,omitempty" yaml:"summary,omitempty"`
	AmountDivisor      decimal.Decimal `json:"amountDivisor" msgpack:"amountDivisor" yaml:"amountDivisor"`
	DecimalPlaces      int64           `json:"decimalPlaces" msgpack:"decimalPlaces" yaml:"decimalPlaces"`
	Unit               string          `json:"unit" msgpack:"unit" yaml:"unit"`
	Peg                *Peg            `json:"peg,omitempty" msgpack:"peg,omitempty" yaml:"peg,omitempty"`
	WillNotChangeUntil *time.Time      `json:"willNotChangeUntil,omitempty" msgpack:"willNotChangeUntil,omitempty" yaml:"willNotChangeUntil,omitempty"`
}

// AccountKnowledge is the metadata the user has acknowledged last.
type AccountKnowledge struct {
	URI                   string          `json:"uri" msgpack:"uri" yaml:"uri"`
	Account               ObjectReference `json:"account" msgpack:"account" yaml:"account"`
	InterestRate          decimal.Decimal `json:"interestRate" msgpack:"interestRate" yaml:"interestRate"`
	InterestRateChangedAt time.Time       `json:"interestRateChangedAt" msgpack:"interestRateChangedAt" yaml:"interestRateChangedAt"`
	ConfigError           *string         `json:"configError,omitempty" msgpack:"configError,omitempty" yaml:"configError,omitempty"`
	DebtorInfo            *DebtorInfoRef  `json:"debtorInfo,omitempty" msgpack:"debtorInfo,omitempty" yaml:"debtorInfo,omitempty"`
	DebtorData            *DebtorData     `json:"debtorData,omitempty" msgpack:"debtorData,omitempty" yaml:"debtorData,omitempty"`
	LatestUpdateID        uint64          `json:"latestUpdateId" msgpack:"latestUpdateId" yaml:"latestUpdateId"`
}

type CurrencyPeg struct {
	ExchangeRate decimal.Decimal `json:"exchangeRate" msgpack:"exchangeRate" yaml:"exchangeRate"`
	Account      ObjectReference `json:"account" msgpack:"account" yaml:"account"`
}

type AccountExchange struct {
	URI            string          `json:"uri" msgpack:"uri" yaml:"uri"`
	Account        ObjectReference `json:"account" msgpack:"account" yaml:"account"`
	Policy         string          `json:"policy,omitempty" msgpack:"policy,omitempty" yaml:"policy,omitempty"`
	MinPrincipal   int64           `json:"minPrincipal" msgpack:"minPrincipal" yaml:"minPrincipal"`
	MaxPrincipal   int64           `json:"maxPrincipal" msgpack:"maxPrincipal" yaml:"maxPrincipal"`
	Peg            *CurrencyPeg    `json:"peg,omitempty" msgpack:"peg,omitempty" yaml:"peg,omitempty"`
	LatestUpdateID uint64          `json:"latestUpdateId" msgpack:"latestUpdateId" yaml:"latestUpdateId"`
}

// AccountInfo is the latest metadata observed on the server.
type AccountInfo struct {
	URI                   string          `json:"uri" msgpack:"uri" yaml:"uri"`
	Account               ObjectReference `json:"account" msgpack:"account" yaml:"account"`
	InterestRate          decimal.Decimal `json:"interestRate" msgpack:"interestRate" yaml:"interestRate"`
	InterestRateChangedAt time.Time       `json:"interestRateChangedAt" msgpack:"interestRateChangedAt" yaml:"interestRateChangedAt"`
	ConfigError           *string         `json:"configError,omitempty" msgpack:"configError,omitempty" yaml:"configError,omitempty"`
	DebtorInfo            *DebtorInfoRef  `json:"debtorInfo,omitempty" msgpack:"debtorInfo,omitempty" yaml:"debtorInfo,omitempty"`
	SafeToDelete          bool            `json:"safeToDelete" msgpack:"safeToDelete" yaml:"safeToDelete"`
	NoteMaxBytes          int64           `json:"noteMaxBytes" msgpack:"noteMaxBytes" yaml:"noteMaxBytes"`
	LatestUpdateID        uint64          `json:"latestUpdateId" msgpack:"latestUpdateId" yaml:"latestUpdateId"`
}

type AccountLedger struct {
	URI            string          `json:"uri" msgpack:"uri" yaml:"uri"`
	Account        ObjectReference `json:"account" msgpack:"account" yaml:"account"`
	Principal      int64           `json:"principal" msgpack:"principal" yaml:"principal"`
	Interest       int64           `json:"interest" msgpack:"interest" yaml:"interest"`
	NextEntryID    uint64          `json:"nextEntryId" msgpack:"nextEntryId" yaml:"nextEntryId"`
	LatestUpdateID uint64          `json:"latestUpdateId" msgpack:"latestUpdateId" yaml:"latestUpdateId"`
}

type CommittedTransfer struct {
	URI            string          `json:"uri" msgpack:"uri" yaml:"uri"`
	Account        ObjectReference `json:"account" msgpack:"account" yaml:"account"`
	Sender         ObjectReference `json:"sender" msgpack:"sender" yaml:"sender"`
	Recipient      ObjectReference `json:"recipient" msgpack:"recipient" yaml:"recipient"`
	Amount         int64           `json:"amount" msgpack:"amount" yaml:"amount"`
	NoteFormat     string          `json:"noteFormat" msgpack:"noteFormat" yaml:"noteFormat"`
	Note           string          `json:"note" msgpack:"note" yaml:"note"`
	CommittedAt    time.Time       `json:"committedAt" msgpack:"committedAt" yaml:"committedAt"`
	LatestUpdateID uint64          `json:"latestUpdateId" msgpack:"latestUpdateId" yaml:"latestUpdateId"`
}

// Document is a fetched remote document, stored verbatim.
type Document struct {
	URI            string `json:"uri" msgpack:"uri" yaml:"uri"`
	ContentType    string `json:"contentType" msgpack:"contentType" yaml:"contentType"`
	Content        []byte `json:"content" msgpack:"content" yaml:"content"`
	SHA256         string `json:"sha256" msgpack:"sha256" yaml:"sha256"`
	LatestUpdateID uint64 `json:"latestUpdateId" msgpack:"latestUpdateId" yaml:"latestUpdateId"`
}

func (o *Account) ObjectURI() string { return o.URI }
func (o *Account) ObjectType() ObjectType { return TypeAccount }
func (o *Account) UpdateID() uint64 { return o.LatestUpdateID }
func (o *Account) OwnerURI() string { return o.URI }
func (*Account) isObject() {}
func (o *AccountDisplay) ObjectURI() string { return o.URI }
func (o *AccountDisplay) ObjectType() ObjectType { return TypeAccountDisplay }
func (o *AccountDisplay) UpdateID() uint64 { return o.LatestUpdateID }
func (o *AccountDisplay) OwnerURI() string { return o.Account.URI }
func (*AccountDisplay) isObject() {}
func (o *AccountConfig) ObjectURI() string { return o.URI }
func (o *AccountConfig) ObjectType() ObjectType { return TypeAccountConfig }
func (o *AccountConfig) UpdateID() uint64 { return o.LatestUpdateID }
func (o *AccountConfig) OwnerURI() string { return o.Account.URI }
func (*AccountConfig) isObject() {}
func (o *AccountKnowledge) ObjectURI() string { return o.URI }
func (o *AccountKnowledge) ObjectType() ObjectType { return TypeAccountKnowledge }
func (o *AccountKnowledge) UpdateID() uint64 { return o.LatestUpdateID }
func (o *AccountKnowledge) OwnerURI() string { return o.Account.URI }
func (*AccountKnowledge) isObject() {}
func (o *AccountExchange) ObjectURI() string { return o.URI }
func (o *AccountExchange) ObjectType() ObjectType { return TypeAccountExchange }
func (o *AccountExchange) UpdateID() uint64 { return o.LatestUpdateID }
func (o *AccountExchange) OwnerURI() string { return o.Account.URI }
func (*AccountExchange) isObject() {}
func (o *AccountInfo) ObjectURI() string { return o.URI }
func (o *AccountInfo) ObjectType() ObjectType { return TypeAccountInfo }
func (o *AccountInfo) UpdateID() uint64 { return o.LatestUpdateID }
func (o *AccountInfo) OwnerURI() string { return o.Account.URI }
func (*AccountInfo) isObject() {}
func (o *AccountLedger) ObjectURI() string { return o.URI }
func (o *AccountLedger) ObjectType() ObjectType { return TypeAccountLedger }
func (o *AccountLedger) UpdateID() uint64 { return o.LatestUpdateID }
func (o *AccountLedger) OwnerURI() string { return o.Account.URI }
func (*AccountLedger) isObject() {}
func (o *CommittedTransfer) ObjectURI() string { return o.URI }
func (o *CommittedTransfer) ObjectType() ObjectType { return TypeCommittedTransfer }
func (o *CommittedTransfer) UpdateID() uint64 { return o.LatestUpdateID }
func (o *CommittedTransfer) OwnerURI() string { return o.Account.URI }
func (*CommittedTransfer) isObject() {}
func (o *Document) ObjectURI() string { return o.URI }
func (o *Document) ObjectType() ObjectType { return TypeDocument }
func (o *Document) UpdateID() uint64 { return o.LatestUpdateID }
func (*Document) isObject() {}

// NewObject returns an empty object of the given type, ready to be decoded into.
func NewObject(t ObjectType) (Object, error) {
	switch t {
	case TypeAccount:
		return &Account{}, nil
	case TypeAccountDisplay:
		return &AccountDisplay{}, nil
	case TypeAccountConfig:
		return &AccountConfig{}, nil
	case TypeAccountKnowledge:
		return &AccountKnowledge{}, nil
	case TypeAccountExchange:
		return &AccountExchange{}, nil
	case TypeAccountInfo:
		return &AccountInfo{}, nil
	case TypeAccountLedger:
		return &AccountLedger{}, nil
	case TypeCommittedTransfer:
		return &CommittedTransfer{}, nil
	case TypeDocument:
		return &Document{}, nil
	default:
		return nil, ErrUnknownObjectType
	}
}

// AccountAggregate bundles an account with its six sub-objects.
type AccountAggregate struct {
	Account   *Account
	Display   *AccountDisplay
	Config    *AccountConfig
	Knowledge *AccountKnowledge
	Exchange  *AccountExchange
	Info      *AccountInfo
	Ledger    *AccountLedger
}

// Members returns the six sub-objects in a stable order.
func (a *AccountAggregate) Members() []AccountMember {
	return []AccountMember{a.Display, a.Config, a.Knowledge, a.Exchange, a.Info, a.Ledger}
}

// Validate checks that every member is present and points back at the account.
func (a *AccountAggregate) Validate() error {
	if a.Account == nil || a.Account.URI == "" {
		return errors.New("account aggregate without account")
	}
	if a.Account.Debtor.URI == "" {
		return errors.New("account without debtor uri")
	}
	refs := a.Account.SubObjectURIs()
	for _, m := range a.Members() {
		if isNilMember(m) {
			return errors.New("account aggregate is missing a sub-object")
		}
		if m.OwnerURI() != a.Account.URI {
			return errors.New("sub-object " + m.ObjectURI() + " belongs to another account")
		}
		if refs[m.ObjectType()] != m.ObjectURI() {
			return errors.New("account does not reference sub-object " + m.ObjectURI())
		}
	}
	return nil
}

func isNilMember(m AccountMember) bool {
	switch v := m.(type) {
	case *AccountDisplay:
		return v == nil
	case *AccountConfig:
		return v == nil
	case *AccountKnowledge:
		return v == nil
	case *AccountExchange:
		return v == nil
	case *AccountInfo:
		return v == nil
	case *AccountLedger:
		return v == nil
	default:
		return m == nil
	}
}
