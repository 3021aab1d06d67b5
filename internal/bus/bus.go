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
	"fmt"
	"sync"

	"github.com/swaptacular/swpt-creditors-ui-sub000/internal/models"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

type EventKind string

const (
	EventAdded   EventKind = "added"
	EventDeleted EventKind = "deleted"
)

// Event is a change notification broadcast to every context sharing a store.
// Added events carry the object; deleted events carry only its identity.
type Event struct {
	Origin     string
	Kind       EventKind
	ObjectType models.ObjectType
	URI        string
	UpdateID   uint64
	Object     models.Object
}

// Added builds the notification for a successful put.
func Added(obj models.Object) Event {
	return Event{
		Kind:       EventAdded,
		ObjectType: obj.ObjectType(),
		URI:        obj.ObjectURI(),
		UpdateID:   obj.UpdateID(),
		Object:     obj,
	}
}

// Deleted builds the notification for a successful delete.
func Deleted(uri string, objType models.ObjectType, updateId uint64) Event {
	return Event{Kind: EventDeleted, ObjectType: objType, URI: uri, UpdateID: updateId}
}

// Handler receives events in the order they were published by each sender.
type Handler func(Event)

// Bus is the publish/subscribe channel between contexts.
type Bus interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(h Handler) (unsubscribe func())
	Close() error
}

type envelope struct {
	Origin     string            `msgpack:"o"`
	Kind       EventKind         `msgpack:"k"`
	ObjectType models.ObjectType `msgpack:"t"`
	URI        string            `msgpack:"u"`
	UpdateID   uint64            `msgpack:"v"`
	Payload    []byte            `msgpack:"p,omitempty"`
}

// Encode serializes an event with MessagePack.
func Encode(ev Event) ([]byte, error) {
	env := envelope{
		Origin:     ev.Origin,
		Kind:       ev.Kind,
		ObjectType: ev.ObjectType,
		URI:        ev.URI,
		UpdateID:   ev.UpdateID,
	}
	if ev.Kind == EventAdded {
		if ev.Object == nil {
			return nil, fmt.Errorf("added event for %s without object", ev.URI)
		}
		payload, err := msgpack.Marshal(ev.Object)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", ev.ObjectType, err)
		}
		env.Payload = payload
	}
	return msgpack.Marshal(&env)
}

// Decode is the inverse of Encode.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		return Event{}, fmt.Errorf("decode envelope: %w", err)
	}
	ev := Event{
		Origin:     env.Origin,
		Kind:       env.Kind,
		ObjectType: env.ObjectType,
		URI:        env.URI,
		UpdateID:   env.UpdateID,
	}
	switch env.Kind {
	case EventAdded:
		obj, err := models.NewObject(env.ObjectType)
		if err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", env.URI, err)
		}
		if err := msgpack.Unmarshal(env.Payload, obj); err != nil {
			return Event{}, fmt.Errorf("decode %s payload: %w", env.ObjectType, err)
		}
		ev.Object = obj
	case EventDeleted:
	default:
		return Event{}, fmt.Errorf("unknown event kind %q", env.Kind)
	}
	return ev, nil
}

// fanout delivers events to every subscriber, each on its own goroutine so a
// slow subscriber never blocks the publisher or reorders another's stream.
type fanout struct {
	mu     sync.Mutex
	nextId int
	subs   map[int]*mailbox
}

func newFanout() *fanout {
	return &fanout{subs: make(map[int]*mailbox)}
}

func (f *fanout) subscribe(h Handler) func() {
	f.mu.Lock()
	id := f.nextId
	f.nextId++
	mb := newMailbox(h)
	f.subs[id] = mb
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			mb.close()
		})
	}
}

func (f *fanout) deliver(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, mb := range f.subs {
		mb.push(ev)
	}
}

func (f *fanout) closeAll() {
	f.mu.Lock()
	subs := f.subs
	f.subs = make(map[int]*mailbox)
	f.mu.Unlock()
	for _, mb := range subs {
		mb.close()
	}
}

type mailbox struct {
	mu      sync.Mutex
	queue   []Event
	closed  bool
	signal  chan struct{}
	done    chan struct{}
	handler Handler
}

func newMailbox(h Handler) *mailbox {
	mb := &mailbox{
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		handler: h,
	}
	go mb.run()
	return mb
}

func (mb *mailbox) push(ev Event) {
	mb.mu.Lock()
	if mb.closed {
		mb.mu.Unlock()
		return
	}
	mb.queue = append(mb.queue, ev)
	mb.mu.Unlock()

	select {
	case mb.signal <- struct{}{}:
	default:
	}
}

func (mb *mailbox) close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	if mb.closed {
		return
	}
	mb.closed = true
	close(mb.done)
}

func (mb *mailbox) run() {
	for {
		select {
		case <-mb.signal:
		case <-mb.done:
			return
		}
		for {
			mb.mu.Lock()
			if len(mb.queue) == 0 || mb.closed {
				mb.mu.Unlock()
				break
			}
			ev := mb.queue[0]
			mb.queue = mb.queue[1:]
			mb.mu.Unlock()
			mb.dispatch(ev)
		}
	}
}

func (mb *mailbox) dispatch(ev Event) {
	defer func() {
		if r := recover(); r != nil {
			zap.L().Error("Bus subscriber panicked",
				zap.String("uri", ev.URI),
				zap.String("kind", string(ev.Kind)),
				zap.Any("panic", r))
		}
	}()
	mb.handler(ev)
}
