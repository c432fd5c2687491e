package pubsub

import (
	"context"
	"sync"
)

const defaultBuffer = 64

type memorySub struct {
	ch   chan Event
	once sync.Once
}

func (s *memorySub) close() {
	s.once.Do(func() { close(s.ch) })
}

// MemoryBroker is an in-process Broker. It is used when no Redis is
// configured and in tests.
type MemoryBroker struct {
	Buffer int

	mu     sync.RWMutex
	topics map[string]map[*memorySub]struct{}
	closed bool
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{Buffer: defaultBuffer, topics: map[string]map[*memorySub]struct{}{}}
}

func (b *MemoryBroker) Publish(_ context.Context, ev Event) error {
	var slow []*memorySub

	b.mu.RLock()
	for sub := range b.topics[ev.Topic] {
		select {
		case sub.ch <- ev:
		default:
			slow = append(slow, sub)
		}
	}
	b.mu.RUnlock()

	for _, sub := range slow {
		b.remove(ev.Topic, sub)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error) {
	size := b.Buffer
	if size <= 0 {
		size = defaultBuffer
	}
	sub := &memorySub{ch: make(chan Event, size)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		sub.close()
		return sub.ch, func() {}, nil
	}
	if b.topics[topic] == nil {
		b.topics[topic] = map[*memorySub]struct{}{}
	}
	b.topics[topic][sub] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	var stop sync.Once
	cancel := func() {
		stop.Do(func() {
			close(done)
			b.remove(topic, sub)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return sub.ch, cancel, nil
}

// Subscribers reports how many subscribers a topic has.
func (b *MemoryBroker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for topic, subs := range b.topics {
		for sub := range subs {
			sub.close()
		}
		delete(b.topics, topic)
	}
	b.closed = true
	return nil
}

func (b *MemoryBroker) remove(topic string, sub *memorySub) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs, ok := b.topics[topic]
	if !ok {
		return
	}
	if _, ok := subs[sub]; ok {
		delete(subs, sub)
		sub.close()
	}
	if len(subs) == 0 {
		delete(b.topics, topic)
	}
}
