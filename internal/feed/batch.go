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

package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
	"gopkg.in/yaml.v2"
)

// Deletion reports that the server no longer has an object.
type Deletion struct {
	URI      string            `yaml:"uri"`
	Type     models.ObjectType `yaml:"type"`
	UpdateID uint64            `yaml:"updateId"`
}

// Batch is one delivery of the upstream object feed for a user.
type Batch struct {
	UserID             string                     `yaml:"userId"`
	Accounts           []models.AccountAggregate  `yaml:"accounts"`
	Displays           []models.AccountDisplay    `yaml:"displays"`
	Configs            []models.AccountConfig     `yaml:"configs"`
	Knowledge          []models.AccountKnowledge  `yaml:"knowledge"`
	Exchanges          []models.AccountExchange   `yaml:"exchanges"`
	Infos              []models.AccountInfo       `yaml:"infos"`
	Ledgers            []models.AccountLedger     `yaml:"ledgers"`
	CommittedTransfers []models.CommittedTransfer `yaml:"committedTransfers"`
	Transfers          []models.TransferSnapshot  `yaml:"transfers"`
	Deletions          []Deletion                 `yaml:"deletions"`
}

// Objects returns the single objects of the batch in feed order.
func (b *Batch) Objects() []models.Object {
	var out []models.Object
	for i := range b.Displays {
		out = append(out, &b.Displays[i])
	}
	for i := range b.Configs {
		out = append(out, &b.Configs[i])
	}
	for i := range b.Knowledge {
		out = append(out, &b.Knowledge[i])
	}
	for i := range b.Exchanges {
		out = append(out, &b.Exchanges[i])
	}
	for i := range b.Infos {
		out = append(out, &b.Infos[i])
	}
	for i := range b.Ledgers {
		out = append(out, &b.Ledgers[i])
	}
	for i := range b.CommittedTransfers {
		out = append(out, &b.CommittedTransfers[i])
	}
	return out
}

// Source delivers feed batches. Next returns (nil, nil) when nothing is
// available yet and io.EOF once the source is exhausted.
type Source interface {
	Next(ctx context.Context) (*Batch, error)
}

// FileSource reads a stream of YAML documents, one batch per document.
type FileSource struct {
	file    *os.File
	decoder *yaml.Decoder
}

func NewFileSource(path string) (*FileSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open feed file: %w", err)
	}
	return &FileSource{file: file, decoder: yaml.NewDecoder(file)}, nil
}

func (s *FileSource) Next(ctx context.Context) (*Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var batch Batch
	if err := s.decoder.Decode(&batch); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to parse feed batch: %w", err)
	}
	return &batch, nil
}

func (s *FileSource) Close() error {
	return s.file.Close()
}
