package local

import (
	"context"
	"sync"
)

// Message is an in-process pub/sub message.
type Message struct {
	Topic   string
	Payload string
}

type subscriber struct {
	ch chan *Message
}

// PubSub is an in-process fan-out pub/sub implementation. It backs the
// realtime bus in single-node deployments and in tests.
type PubSub struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscriber
	bufSize     int
}

// NewPubSub creates a PubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *PubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &PubSub{
		subscribers: make(map[string][]*subscriber),
		bufSize:     bufSize,
	}
}

// Publish sends a message to all subscribers of the given topic.
// Slow subscribers with a full buffer miss the message; the bus carries
// ephemeral signals, so consumers must tolerate drops.
func (ps *PubSub) Publish(_ context.Context, topic, message string) error {
	msg := &Message{Topic: topic, Payload: message}
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	// Sends stay under the read lock so cancel (which closes the channel
	// under the write lock) cannot interleave with an in-flight send.
	for _, s := range ps.subscribers[topic] {
		select {
		case s.ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of messages for the given topics, and a
// cancel function that removes the subscription and closes the channel.
func (ps *PubSub) Subscribe(_ context.Context, topics ...string) (<-chan *Message, func(), error) {
	ch := make(chan *Message, ps.bufSize)
	subs := make([]*subscriber, len(topics))

	ps.mu.Lock()
	for i, t := range topics {
		s := &subscriber{ch: ch}
		ps.subscribers[t] = append(ps.subscribers[t], s)
		subs[i] = s
	}
	ps.mu.Unlock()

	cancel := func() {
		ps.mu.Lock()
		defer ps.mu.Unlock()
		for i, t := range topics {
			list := ps.subscribers[t]
			for j, sub := range list {
				if sub == subs[i] {
					ps.subscribers[t] = append(list[:j], list[j+1:]...)
					break
				}
			}
		}
		close(ch)
	}

	return ch, cancel, nil
}
