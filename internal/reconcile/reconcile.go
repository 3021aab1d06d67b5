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

// Package reconcile compares the account metadata a user has acknowledged
// with what the server currently reports, and derives the actions needed to
// bring the two back in line.
package reconcile

import (
	"time"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
)

// Diff flags every category in which info (plus the parsed debtor data, when
// available) differs from knowledge. A nil debtor means the debtor-info
// document has not been fetched yet, so debtor-data categories are skipped.
func Diff(knowledge *models.AccountKnowledge, info *models.AccountInfo, debtor *models.DebtorData) models.AccountInfoChanges {
	var c models.AccountInfoChanges

	c.ConfigError = !equalStringPtr(knowledge.ConfigError, info.ConfigError)
	c.InterestRate = !knowledge.InterestRate.Equal(info.InterestRate) ||
		!knowledge.InterestRateChangedAt.Equal(info.InterestRateChangedAt)

	if debtor == nil {
		return c
	}

	known := knowledge.DebtorData
	if known == nil {
		known = &models.DebtorData{}
	}
	c.DebtorName = known.DebtorName != debtor.DebtorName
	c.DebtorHomepage = known.DebtorHomepage != debtor.DebtorHomepage
	c.Summary = known.Summary != debtor.Summary
	c.AmountDivisor = !known.AmountDivisor.Equal(debtor.AmountDivisor)
	c.DecimalPlaces = known.DecimalPlaces != debtor.DecimalPlaces
	c.Unit = known.Unit != debtor.Unit
	c.Peg = !SamePegParams(known.Peg, debtor.Peg)
	c.PegCoin = !c.Peg && known.Peg != nil && debtor.Peg != nil &&
		known.Peg.LatestDebtorInfo != debtor.Peg.LatestDebtorInfo
	c.OtherChanges = known.DebtorURI != debtor.DebtorURI ||
		!equalTimePtr(known.WillNotChangeUntil, debtor.WillNotChangeUntil)
	return c
}

// SamePegParams compares everything about two pegs except the coin link.
func SamePegParams(a, b *models.Peg) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ExchangeRate.Equal(b.ExchangeRate) &&
		a.DebtorURI == b.DebtorURI &&
		a.Display.AmountDivisor.Equal(b.Display.AmountDivisor) &&
		a.Display.DecimalPlaces == b.Display.DecimalPlaces &&
		a.Display.Unit == b.Display.Unit
}

// NewAckAction builds the AckAccountInfo action for a detected difference.
func NewAckAction(userId string, now time.Time, knowledge *models.AccountKnowledge, info *models.AccountInfo,
	debtor *models.DebtorData, changes models.AccountInfoChanges) *models.Action {
	ack := &models.AckAccountInfoAction{
		AccountURI:        info.Account.URI,
		KnowledgeUpdateID: knowledge.LatestUpdateID,
		InfoUpdateID:      info.LatestUpdateID,
		Changes:           changes,
		Info:              *info,
		DebtorData:        debtor,
		PrevInterestRate:  knowledge.InterestRate,
	}
	if knowledge.DebtorData != nil {
		ack.PrevPeg = knowledge.DebtorData.Peg
	}
	return &models.Action{
		UserID:         userId,
		CreatedAt:      now,
		ActionType:     models.ActionAckAccountInfo,
		AckAccountInfo: ack,
	}
}

// AcknowledgedKnowledge returns knowledge updated with everything the
// acknowledged action showed to the user. The update id is kept.
func AcknowledgedKnowledge(knowledge *models.AccountKnowledge, ack *models.AckAccountInfoAction) *models.AccountKnowledge {
	k := *knowledge
	k.InterestRate = ack.Info.InterestRate
	k.InterestRateChangedAt = ack.Info.InterestRateChangedAt
	k.ConfigError = ack.Info.ConfigError
	if ack.DebtorData != nil {
		data := *ack.DebtorData
		k.DebtorData = &data
		k.DebtorInfo = ack.Info.DebtorInfo
	}
	return &k
}

// FollowUp is an action to create after an acknowledgement, together with
// whether it should override an existing action of the same kind.
type FollowUp struct {
	Action   *models.Action
	Override bool
}

// FollowUps derives the approval actions an acknowledged change requires.
func FollowUps(userId string, now time.Time, ack *models.AckAccountInfoAction) []FollowUp {
	data := ack.DebtorData
	if data == nil {
		return nil
	}
	c := ack.Changes

	var out []FollowUp
	newAction := func(t models.ActionType) *models.Action {
		return &models.Action{UserID: userId, CreatedAt: now, ActionType: t}
	}

	if c.DebtorName {
		a := newAction(models.ActionApproveDebtorName)
		a.ApproveDebtorName = &models.ApproveDebtorNameAction{
			AccountURI: ack.AccountURI,
			DebtorName: data.DebtorName,
		}
		out = append(out, FollowUp{Action: a, Override: true})
	}

	if c.AmountDivisor || c.DecimalPlaces || c.Unit {
		a := newAction(models.ActionApproveAmountDisplay)
		a.ApproveAmountDisplay = &models.ApproveAmountDisplayAction{
			AccountURI:    ack.AccountURI,
			AmountDivisor: data.AmountDivisor,
			DecimalPlaces: data.DecimalPlaces,
			Unit:          data.Unit,
		}
		out = append(out, FollowUp{Action: a, Override: true})
	}

	if (c.Peg || c.PegCoin) && data.Peg != nil {
		a := newAction(models.ActionApprovePeg)
		a.ApprovePeg = &models.ApprovePegAction{
			AccountURI: ack.AccountURI,
			Peg:        *data.Peg,
		}
		// A coin-only change refreshes a pending approval instead of restarting it.
		out = append(out, FollowUp{Action: a, Override: c.Peg})
	}

	return out
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
