package pubsub

import (
	"context"
	"errors"
	"sync"
)

const defaultBuffer = 64

var errBrokerClosed = errors.New("broker closed")

// MemoryBroker fans messages out in-process. A subscriber whose buffer is full misses the
// message rather than stalling the publisher.
type MemoryBroker struct {
	mu     sync.RWMutex
	topics map[string]map[*memorySub]struct{}
	buffer int
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{topics: make(map[string]map[*memorySub]struct{}), buffer: defaultBuffer}
}

type memorySub struct {
	broker *MemoryBroker
	topic  string
	ch     chan Message
	once   sync.Once
}

func (s *memorySub) C() <-chan Message { return s.ch }

func (s *memorySub) Close() error {
	s.broker.mu.Lock()
	defer s.broker.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *memorySub) closeLocked() {
	s.once.Do(func() {
		if subs := s.broker.topics[s.topic]; subs != nil {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.broker.topics, s.topic)
			}
		}
		close(s.ch)
	})
}

func (b *MemoryBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, channelErr("subscribe", topic, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, channelErr("subscribe", topic, errBrokerClosed)
	}

	sub := &memorySub{broker: b, topic: topic, ch: make(chan Message, b.buffer)}
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[*memorySub]struct{})
	}
	b.topics[topic][sub] = struct{}{}
	return sub, nil
}

func (b *MemoryBroker) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return channelErr("publish", msg.Topic, err)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return channelErr("publish", msg.Topic, errBrokerClosed)
	}

	for sub := range b.topics[msg.Topic] {
		select {
		case sub.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribers returns how many subscriptions are open on topic.
func (b *MemoryBroker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Interrupt ends every subscription on topic, as a dropped connection would.
func (b *MemoryBroker) Interrupt(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.topics[topic] {
		sub.closeLocked()
	}
}

// Close ends all subscriptions; later calls fail with a channel error.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.topics {
		for sub := range subs {
			sub.closeLocked()
		}
	}
	return nil
}
