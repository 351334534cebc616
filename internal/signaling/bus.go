// Package signaling carries call control messages between the participants
// of a room over a topic-scoped broadcast transport.
//
// Delivery is at-least-once, unordered and best effort. Publishers receive
// their own messages; filtering them is left to the consumer.
package signaling

import (
	"context"
	"errors"
	"sync"
)

// subscriptionBuffer bounds how far a slow subscriber may fall behind before
// messages are dropped.
const subscriptionBuffer = 256

var ErrClosed = errors.New("signaling: closed")

// Bus is a broadcast pub/sub transport.
type Bus interface {
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Publish(ctx context.Context, topic string, data []byte) error
}

// Subscription delivers raw payloads published on one topic. C is closed
// once Close returns or the transport goes away.
type Subscription interface {
	C() <-chan []byte
	Close() error
}

// MemoryBus fans messages out inside one process.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string]map[*memorySub]struct{}
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[*memorySub]struct{})}
}

type memorySub struct {
	bus   *MemoryBus
	topic string
	ch    chan []byte
	once  sync.Once
}

func (s *memorySub) C() <-chan []byte { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs[s.topic], s)
		if len(s.bus.subs[s.topic]) == 0 {
			delete(s.bus.subs, s.topic)
		}
		s.bus.mu.Unlock()
		close(s.ch)
	})
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sub := &memorySub{bus: b, topic: topic, ch: make(chan []byte, subscriptionBuffer)}

	b.mu.Lock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*memorySub]struct{})
	}
	b.subs[topic][sub] = struct{}{}
	b.mu.Unlock()
	return sub, nil
}

func (b *MemoryBus) Publish(ctx context.Context, topic string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[topic] {
		payload := make([]byte, len(data))
		copy(payload, data)
		select {
		case sub.ch <- payload:
		default:
			// subscriber buffer full, best effort
		}
	}
	return nil
}

// Subscribers returns the number of live subscriptions on topic.
func (b *MemoryBus) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
