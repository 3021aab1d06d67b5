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

package docs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
)

const (
	DebtorInfoContentType = "application/vnd.swaptacular.swpt-debtor-info+json"
	PlainNoteFormat       = ""
	PaymentRequestFormat  = "PAYMENT0"
)

var (
	ErrIntegrity          = errors.New("document content does not match its hash")
	ErrUnsupportedContent = errors.New("unsupported document content type")
)

// DebtorInfoCodec turns a fetched debtor-info document into debtor data.
type DebtorInfoCodec interface {
	Parse(doc *models.Document) (*models.DebtorData, error)
}

// TransferNoteCodec extracts display fields from a transfer note.
type TransferNoteCodec interface {
	Parse(noteFormat, note string) models.PaymentInfo
}

// ContentHash returns the upper-case hex SHA-256 of content.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// VerifyHash compares content against a declared hash, ignoring case.
func VerifyHash(content []byte, declared string) error {
	if declared == "" {
		return nil
	}
	if !strings.EqualFold(ContentHash(content), declared) {
		return ErrIntegrity
	}
	return nil
}

// JSONDebtorInfoCodec reads debtor-info documents in their JSON form.
type JSONDebtorInfoCodec struct{}

func (JSONDebtorInfoCodec) Parse(doc *models.Document) (*models.DebtorData, error) {
	if doc == nil {
		return nil, fmt.Errorf("nil document")
	}
	contentType := strings.TrimSpace(strings.SplitN(doc.ContentType, ";", 2)[0])
	if contentType != DebtorInfoContentType && contentType != "application/json" {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContent, doc.ContentType)
	}
	if err := VerifyHash(doc.Content, doc.SHA256); err != nil {
		return nil, fmt.Errorf("debtor info %s: %w", doc.URI, err)
	}

	var data models.DebtorData
	if err := json.Unmarshal(doc.Content, &data); err != nil {
		return nil, fmt.Errorf("unable to parse debtor info %s: %w", doc.URI, err)
	}
	if data.DebtorName == "" {
		return nil, fmt.Errorf("debtor info %s has no debtor name", doc.URI)
	}
	if data.AmountDivisor.IsZero() || data.AmountDivisor.IsNegative() {
		return nil, fmt.Errorf("debtor info %s has invalid amount divisor %s", doc.URI, data.AmountDivisor)
	}
	return &data, nil
}

// PlainNoteCodec understands plain-text notes and the PAYMENT0 request format
// (first line payee reference, second payee name, the rest is a description).
type PlainNoteCodec struct{}

func (PlainNoteCodec) Parse(noteFormat, note string) models.PaymentInfo {
	if noteFormat != PaymentRequestFormat {
		return models.PaymentInfo{Description: note}
	}
	lines := strings.SplitN(note, "\n", 3)
	info := models.PaymentInfo{}
	if len(lines) > 0 {
		info.PayeeReference = strings.TrimSpace(lines[0])
	}
	if len(lines) > 1 {
		info.PayeeName = strings.TrimSpace(lines[1])
	}
	if len(lines) > 2 {
		info.Description = lines[2]
	}
	return info
}
