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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrUnknownActionType = errors.New("unknown action type")

type ActionType string

const (
	ActionCreateAccount        ActionType = "CreateAccount"
	ActionAckAccountInfo       ActionType = "AckAccountInfo"
	ActionApprovePeg           ActionType = "ApprovePeg"
	ActionApproveAmountDisplay ActionType = "ApproveAmountDisplay"
	ActionApproveDebtorName    ActionType = "ApproveDebtorName"
	ActionConfigAccount        ActionType = "ConfigAccount"
	ActionUpdatePolicy         ActionType = "UpdatePolicy"
	ActionPaymentRequest       ActionType = "PaymentRequest"
	ActionCreateTransfer       ActionType = "CreateTransfer"
	ActionAbortTransfer        ActionType = "AbortTransfer"
)

// Action is a locally persisted unit of pending user-facing work. Exactly one
// payload pointer is set, and it must match ActionType.
type Action struct {
	ActionID   int64      `json:"actionId,omitempty"`
	UserID     string     `json:"userId"`
	CreatedAt  time.Time  `json:"createdAt"`
	ActionType ActionType `json:"actionType"`

	CreateAccount        *CreateAccountAction        `json:"createAccount,omitempty"`
	AckAccountInfo       *AckAccountInfoAction       `json:"ackAccountInfo,omitempty"`
	ApprovePeg           *ApprovePegAction           `json:"approvePeg,omitempty"`
	ApproveAmountDisplay *ApproveAmountDisplayAction `json:"approveAmountDisplay,omitempty"`
	ApproveDebtorName    *ApproveDebtorNameAction    `json:"approveDebtorName,omitempty"`
	ConfigAccount        *ConfigAccountAction        `json:"configAccount,omitempty"`
	UpdatePolicy         *UpdatePolicyAction         `json:"updatePolicy,omitempty"`
	PaymentRequest       *PaymentRequestAction       `json:"paymentRequest,omitempty"`
	CreateTransfer       *CreateTransferAction       `json:"createTransfer,omitempty"`
	AbortTransfer        *AbortTransferAction        `json:"abortTransfer,omitempty"`
}

type CreateAccountAction struct {
	DebtorURI  string         `json:"debtorUri"`
	AccountURI string         `json:"accountUri,omitempty"`
	DebtorInfo *DebtorInfoRef `json:"debtorInfo,omitempty"`
}

// AccountInfoChanges flags every category in which the observed account
// metadata differs from the acknowledged one.
type AccountInfoChanges struct {
	ConfigError    bool `json:"configError"`
	InterestRate   bool `json:"interestRate"`
	Peg            bool `json:"peg"`
	PegCoin        bool `json:"pegCoin"`
	AmountDivisor  bool `json:"amountDivisor"`
	DecimalPlaces  bool `json:"decimalPlaces"`
	Unit           bool `json:"unit"`
	DebtorName     bool `json:"debtorName"`
	DebtorHomepage bool `json:"debtorHomepage"`
	Summary        bool `json:"summary"`
	OtherChanges   bool `json:"otherChanges"`
}

// Any reports whether at least one category changed.
func (c AccountInfoChanges) Any() bool {
	return c.ConfigError || c.InterestRate || c.Peg || c.PegCoin || c.AmountDivisor ||
		c.DecimalPlaces || c.Unit || c.DebtorName || c.DebtorHomepage || c.Summary || c.OtherChanges
}

type AckAccountInfoAction struct {
	AccountURI        string             `json:"accountUri"`
	KnowledgeUpdateID uint64             `json:"knowledgeUpdateId"`
	InfoUpdateID      uint64             `json:"infoUpdateId"`
	Changes           AccountInfoChanges `json:"changes"`
	Info              AccountInfo        `json:"info"`
	DebtorData        *DebtorData        `json:"debtorData,omitempty"`
	PrevInterestRate  decimal.Decimal    `json:"prevInterestRate"`
	PrevPeg           *Peg               `json:"prevPeg,omitempty"`
	Acknowledged      bool               `json:"acknowledged"`
}

type ApprovePegAction struct {
	AccountURI    string `json:"accountUri"`
	Peg           Peg    `json:"peg"`
	PegAccountURI string `json:"pegAccountUri,omitempty"`
	// IgnoreCoinMismatch is the user's decision to accept a peg whose coin
	// link does not match the known one.
	IgnoreCoinMismatch bool  `json:"ignoreCoinMismatch"`
	AlreadyApproved    *bool `json:"alreadyApproved,omitempty"`
}

type ApproveAmountDisplayAction struct {
	AccountURI    string          `json:"accountUri"`
	AmountDivisor decimal.Decimal `json:"amountDivisor"`
	DecimalPlaces int64           `json:"decimalPlaces"`
	Unit          string          `json:"unit"`
	Approved      *bool           `json:"approved,omitempty"`
}

type ApproveDebtorNameAction struct {
	AccountURI       string  `json:"accountUri"`
	DebtorName       string  `json:"debtorName"`
	EditedDebtorName *string `json:"editedDebtorName,omitempty"`
}

type ConfigAccountAction struct {
	AccountURI                 string          `json:"accountUri"`
	EditedNegligibleAmount     decimal.Decimal `json:"editedNegligibleAmount"`
	EditedScheduledForDeletion bool            `json:"editedScheduledForDeletion"`
	EditedDebtorName           string          `json:"editedDebtorName"`
}

type UpdatePolicyAction struct {
	AccountURI         string `json:"accountUri"`
	EditedPolicy       string `json:"editedPolicy,omitempty"`
	EditedMinPrincipal int64  `json:"editedMinPrincipal"`
	EditedMaxPrincipal int64  `json:"editedMaxPrincipal"`
	EditedUseExchange  bool   `json:"editedUseExchange"`
}

type PaymentRequestAction struct {
	DocumentURI  string `json:"documentUri"`
	SHA256       string `json:"sha256"`
	PayeeName    string `json:"payeeName"`
	PayeeRef     string `json:"payeeReference"`
	Amount       int64  `json:"amount"`
	Description  string `json:"description,omitempty"`
	AccountURI   string `json:"accountUri,omitempty"`
	RecipientURI string `json:"recipientUri"`
}

// TransferExecution records how far a CreateTransfer action has got.
type TransferExecution struct {
	StartedAt           time.Time                `json:"startedAt"`
	UnresolvedRequestAt *time.Time               `json:"unresolvedRequestAt,omitempty"`
	Result              *TransferExecutionResult `json:"result,omitempty"`
}

type TransferExecutionResult struct {
	OK          bool   `json:"ok"`
	TransferURI string `json:"transferUri,omitempty"`
	Error       string `json:"error,omitempty"`
}

type CreateTransferAction struct {
	AccountURI   string             `json:"accountUri"`
	TransferUUID string             `json:"transferUuid"`
	RecipientURI string             `json:"recipientUri"`
	Amount       int64              `json:"amount"`
	NoteFormat   string             `json:"noteFormat"`
	Note         string             `json:"note"`
	PaymentInfo  PaymentInfo        `json:"paymentInfo"`
	Deadline     *time.Time         `json:"deadline,omitempty"`
	Execution    *TransferExecution `json:"execution,omitempty"`
}

type AbortTransferAction struct {
	TransferURI string   `json:"transferUri"`
	AccountURI  string   `json:"accountUri,omitempty"`
	Transfer    Transfer `json:"transfer"`
}

// Validate checks that the payload agrees with the tag.
func (a *Action) Validate() error {
	set := 0
	for _, p := range []bool{
		a.CreateAccount != nil, a.AckAccountInfo != nil, a.ApprovePeg != nil,
		a.ApproveAmountDisplay != nil, a.ApproveDebtorName != nil, a.ConfigAccount != nil,
		a.UpdatePolicy != nil, a.PaymentRequest != nil, a.CreateTransfer != nil,
		a.AbortTransfer != nil,
	} {
		if p {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("action must carry exactly one payload, got %d", set)
	}

	var ok bool
	switch a.ActionType {
	case ActionCreateAccount:
		ok = a.CreateAccount != nil
	case ActionAckAccountInfo:
		ok = a.AckAccountInfo != nil
	case ActionApprovePeg:
		ok = a.ApprovePeg != nil
	case ActionApproveAmountDisplay:
		ok = a.ApproveAmountDisplay != nil
	case ActionApproveDebtorName:
		ok = a.ApproveDebtorName != nil
	case ActionConfigAccount:
		ok = a.ConfigAccount != nil
	case ActionUpdatePolicy:
		ok = a.UpdatePolicy != nil
	case ActionPaymentRequest:
		ok = a.PaymentRequest != nil
	case ActionCreateTransfer:
		ok = a.CreateTransfer != nil
	case ActionAbortTransfer:
		ok = a.AbortTransfer != nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownActionType, a.ActionType)
	}
	if !ok {
		return fmt.Errorf("payload does not match action type %s", a.ActionType)
	}
	return nil
}

// AccountURI returns the account the action is about, if any.
func (a *Action) AccountURI() string {
	switch a.ActionType {
	case ActionCreateAccount:
		return a.CreateAccount.AccountURI
	case ActionAckAccountInfo:
		return a.AckAccountInfo.AccountURI
	case ActionApprovePeg:
		return a.ApprovePeg.AccountURI
	case ActionApproveAmountDisplay:
		return a.ApproveAmountDisplay.AccountURI
	case ActionApproveDebtorName:
		return a.ApproveDebtorName.AccountURI
	case ActionConfigAccount:
		return a.ConfigAccount.AccountURI
	case ActionUpdatePolicy:
		return a.UpdatePolicy.AccountURI
	case ActionPaymentRequest:
		return a.PaymentRequest.AccountURI
	case ActionCreateTransfer:
		return a.CreateTransfer.AccountURI
	case ActionAbortTransfer:
		return a.AbortTransfer.AccountURI
	}
	return ""
}

// ReuseKey identifies the target that at most one unresolved action of this
// kind may exist for. Kinds without such a target return "".
func (a *Action) ReuseKey() string {
	switch a.ActionType {
	case ActionCreateAccount:
		return a.CreateAccount.DebtorURI
	case ActionAckAccountInfo, ActionApprovePeg, ActionApproveAmountDisplay,
		ActionApproveDebtorName, ActionConfigAccount, ActionUpdatePolicy:
		return a.AccountURI()
	case ActionAbortTransfer:
		return a.AbortTransfer.TransferURI
	case ActionPaymentRequest, ActionCreateTransfer:
		return ""
	}
	return ""
}

// Clone returns a deep copy of the action.
func (a *Action) Clone() (*Action, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var c Action
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	return &c, nil
}
