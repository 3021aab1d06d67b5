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
	"fmt"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	zmq "github.com/pebbe/zmq4"
	"go.uber.org/zap"
)

const zmqReceiveTimeout = 250 * time.Millisecond

// ZMQBus links contexts living in different processes through an XSUB/XPUB
// proxy (see cmd/broker): events are published to the proxy's XSUB side and
// received from its XPUB side, the sender's own events included.
type ZMQBus struct {
	topic  string
	origin string
	out    *fanout

	pubMu sync.Mutex
	pub   *zmq.Socket
	sub   *zmq.Socket

	stopChan chan struct{}
	doneChan chan struct{}
	once     sync.Once
}

// NewZMQBus connects to a running broker.
func NewZMQBus(publishTo, subscribeTo, topic string) (*ZMQBus, error) {
	if publishTo == "" || subscribeTo == "" {
		return nil, fmt.Errorf("zmq bus requires publish and subscribe endpoints")
	}
	if topic == "" {
		topic = "walletsync"
	}

	pub, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return nil, fmt.Errorf("unable to create PUB socket: %w", err)
	}
	if err := pub.Connect(publishTo); err != nil {
		pub.Close()
		return nil, fmt.Errorf("unable to connect PUB socket to %s: %w", publishTo, err)
	}

	sub, err := zmq.NewSocket(zmq.SUB)
	if err != nil {
		pub.Close()
		return nil, fmt.Errorf("unable to create SUB socket: %w", err)
	}
	if err := sub.Connect(subscribeTo); err != nil {
		pub.Close()
		sub.Close()
		return nil, fmt.Errorf("unable to connect SUB socket to %s: %w", subscribeTo, err)
	}
	if err := sub.SetSubscribe(topic); err != nil {
		pub.Close()
		sub.Close()
		return nil, fmt.Errorf("unable to subscribe to %s: %w", topic, err)
	}
	if err := sub.SetRcvtimeo(zmqReceiveTimeout); err != nil {
		pub.Close()
		sub.Close()
		return nil, fmt.Errorf("unable to set receive timeout: %w", err)
	}

	b := &ZMQBus{
		topic:    topic,
		origin:   uuid.New().String(),
		out:      newFanout(),
		pub:      pub,
		sub:      sub,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
	go b.receiveLoop()

	zap.L().Info("Connected to notification broker",
		zap.String("publish_to", publishTo),
		zap.String("subscribe_to", subscribeTo),
		zap.String("topic", topic),
		zap.String("origin", b.origin))
	return b, nil
}

func (b *ZMQBus) Publish(_ context.Context, ev Event) error {
	ev.Origin = b.origin
	raw, err := Encode(ev)
	if err != nil {
		return err
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if _, err := b.pub.SendMessage(b.topic, raw); err != nil {
		return fmt.Errorf("unable to publish %s event for %s: %w", ev.Kind, ev.URI, err)
	}
	return nil
}

func (b *ZMQBus) Subscribe(h Handler) func() {
	return b.out.subscribe(h)
}

func (b *ZMQBus) receiveLoop() {
	defer close(b.doneChan)

	for {
		select {
		case <-b.stopChan:
			return
		default:
		}

		parts, err := b.sub.RecvMessageBytes(0)
		if err != nil {
			if zmq.AsErrno(err) == zmq.Errno(syscall.EAGAIN) {
				continue
			}
			select {
			case <-b.stopChan:
				return
			default:
			}
			zap.L().Warn("Failed to receive bus message", zap.Error(err))
			continue
		}
		if len(parts) < 2 {
			zap.L().Warn("Ignoring malformed bus message", zap.Int("parts", len(parts)))
			continue
		}

		ev, err := Decode(parts[1])
		if err != nil {
			zap.L().Error("Failed to decode bus message", zap.Error(err))
			continue
		}
		b.out.deliver(ev)
	}
}

func (b *ZMQBus) Close() error {
	var err error
	b.once.Do(func() {
		close(b.stopChan)
		<-b.doneChan
		b.out.closeAll()

		b.pubMu.Lock()
		errPub := b.pub.Close()
		b.pubMu.Unlock()
		errSub := b.sub.Close()
		err = errors.Join(errPub, errSub)
	})
	return err
}
