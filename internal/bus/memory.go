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

package bus

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrClosed = errors.New("bus is closed")

// Hub connects in-process contexts that share one store. Every endpoint
// attached to the hub receives every event, its own included.
type Hub struct {
	mu        sync.Mutex
	endpoints map[*MemoryBus]struct{}
}

func NewHub() *Hub {
	return &Hub{endpoints: make(map[*MemoryBus]struct{})}
}

// MemoryBus is one context's endpoint on a Hub. Events cross the hub in
// encoded form, so contexts never share object pointers.
type MemoryBus struct {
	hub    *Hub
	origin string
	out    *fanout

	mu     sync.Mutex
	closed bool
}

// Connect attaches a new context to the hub.
func (h *Hub) Connect() *MemoryBus {
	b := &MemoryBus{hub: h, origin: uuid.New().String(), out: newFanout()}
	h.mu.Lock()
	h.endpoints[b] = struct{}{}
	h.mu.Unlock()
	return b
}

func (b *MemoryBus) Origin() string {
	return b.origin
}

func (b *MemoryBus) Publish(_ context.Context, ev Event) error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	ev.Origin = b.origin
	raw, err := Encode(ev)
	if err != nil {
		return err
	}

	// Holding the hub lock while delivering keeps every endpoint's view of
	// this sender's stream in send order.
	b.hub.mu.Lock()
	defer b.hub.mu.Unlock()
	for ep := range b.hub.endpoints {
		decoded, err := Decode(raw)
		if err != nil {
			zap.L().Error("Failed to decode bus event", zap.String("uri", ev.URI), zap.Error(err))
			return err
		}
		ep.out.deliver(decoded)
	}
	return nil
}

func (b *MemoryBus) Subscribe(h Handler) func() {
	return b.out.subscribe(h)
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	b.hub.mu.Lock()
	delete(b.hub.endpoints, b)
	b.hub.mu.Unlock()
	b.out.closeAll()
	return nil
}
