package bus

import (
	"context"

	"github.com/workmesh/chatsync/bus/local"
	busredis "github.com/workmesh/chatsync/bus/redis"
	"github.com/workmesh/chatsync/config"
)

// Message is a received pub/sub message.
type Message struct {
	Topic   string
	Payload string
}

// TypingTopic returns the ephemeral broadcast topic carrying typing
// signals for a conversation.
func TypingTopic(conversationID string) string {
	return "typing:" + conversationID
}

// PubSub delivers ephemeral broadcast messages on named topics.
// Messages are transient: no durable storage, no replay.
type PubSub interface {
	Publish(ctx context.Context, topic, message string) error
	Subscribe(ctx context.Context, topics ...string) (<-chan *Message, func(), error)
}

// NewPubSub returns a PubSub backed by Redis if RedisAddr is set,
// otherwise an in-process fan-out implementation.
func NewPubSub(cfg config.BusConfig) (PubSub, error) {
	if cfg.RedisAddr != "" {
		rps, err := busredis.NewPubSub(busredis.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, err
		}
		return &redisAdapter{ps: rps}, nil
	}
	buf := cfg.LocalBuf
	if buf <= 0 {
		buf = 256
	}
	return &localAdapter{ps: local.NewPubSub(buf)}, nil
}

// ---- adapters bridging sub-package message types to bus.Message ----

type localAdapter struct {
	ps *local.PubSub
}

func (a *localAdapter) Publish(ctx context.Context, topic, message string) error {
	return a.ps.Publish(ctx, topic, message)
}

func (a *localAdapter) Subscribe(ctx context.Context, topics ...string) (<-chan *Message, func(), error) {
	localCh, cancel, err := a.ps.Subscribe(ctx, topics...)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan *Message, 256)
	go func() {
		defer close(out)
		for msg := range localCh {
			out <- &Message{Topic: msg.Topic, Payload: msg.Payload}
		}
	}()
	return out, cancel, nil
}

type redisAdapter struct {
	ps *busredis.PubSub
}

func (a *redisAdapter) Publish(ctx context.Context, topic, message string) error {
	return a.ps.Publish(ctx, topic, message)
}

func (a *redisAdapter) Subscribe(ctx context.Context, topics ...string) (<-chan *Message, func(), error) {
	redisCh, cancel, err := a.ps.Subscribe(ctx, topics...)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan *Message, 256)
	go func() {
		defer close(out)
		for msg := range redisCh {
			out <- &Message{Topic: msg.Channel, Payload: msg.Payload}
		}
	}()
	return out, cancel, nil
}
