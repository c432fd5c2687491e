package pubsub

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisBroker fans events out through Redis Pub/Sub so that every server
// instance sees events published by any other.
type RedisBroker struct {
	Client *redis.Client
	Logger zerolog.Logger
	Buffer int
}

func NewRedisBroker(client *redis.Client, logger zerolog.Logger) *RedisBroker {
	return &RedisBroker{Client: client, Logger: logger, Buffer: defaultBuffer}
}

func (b *RedisBroker) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.Client.Publish(ctx, ev.Topic, data).Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (<-chan Event, func(), error) {
	ps := b.Client.Subscribe(ctx, topic)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}

	size := b.Buffer
	if size <= 0 {
		size = defaultBuffer
	}
	out := make(chan Event, size)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			_ = ps.Close()
		})
	}

	go func() {
		defer close(out)
		in := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				cancel()
				return
			case <-done:
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.Logger.Warn().Err(err).Str("topic", topic).Msg("dropping malformed event")
					continue
				}
				select {
				case out <- ev:
				default:
					b.Logger.Warn().Str("topic", topic).Msg("subscriber too slow, dropping")
					cancel()
					return
				}
			}
		}
	}()
	return out, cancel, nil
}

func (b *RedisBroker) Close() error {
	return nil
}
