package bus

import (
	"context"

	"github.com/workmesh/chatsync/bus/local"
)

// Presence event kinds for an ephemeral presence topic.
const (
	PresenceSync  = "sync"
	PresenceJoin  = "join"
	PresenceLeave = "leave"
)

// PresenceEvent is delivered to presence subscribers. A sync event carries
// the full membership snapshot in Keys and replaces local state; join and
// leave carry the single affected key.
type PresenceEvent struct {
	Type string
	Keys []string
	Key  string
}

// Presence is an ephemeral membership channel keyed by opaque string keys
// (user ids here). Membership is never persisted; it exists only while
// tracked. Meta travels with the announcement and is not interpreted by
// the channel.
type Presence interface {
	// Join subscribes to a presence topic. The first event on the returned
	// channel is a sync snapshot; the cancel func tears the subscription down.
	Join(ctx context.Context, topic, key string) (<-chan *PresenceEvent, func(), error)
	// Track announces key as present on topic. Re-tracking an already
	// present key is a heartbeat no-op for other members.
	Track(ctx context.Context, topic, key, meta string) error
	// Untrack withdraws key from topic, emitting a single leave event.
	Untrack(ctx context.Context, topic, key string) error
}

// NewPresence returns the in-process presence channel implementation.
// The realtime transport itself is out of scope here; a networked backend
// plugs in behind the same interface.
func NewPresence() Presence {
	return &presenceAdapter{p: local.NewPresence()}
}

type presenceAdapter struct {
	p *local.Presence
}

func (a *presenceAdapter) Join(ctx context.Context, topic, key string) (<-chan *PresenceEvent, func(), error) {
	localCh, cancel, err := a.p.Join(ctx, topic, key)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan *PresenceEvent, 64)
	go func() {
		defer close(out)
		for ev := range localCh {
			out <- &PresenceEvent{Type: ev.Type, Keys: ev.Keys, Key: ev.Key}
		}
	}()
	return out, cancel, nil
}

func (a *presenceAdapter) Track(ctx context.Context, topic, key, meta string) error {
	return a.p.Track(ctx, topic, key, meta)
}

func (a *presenceAdapter) Untrack(ctx context.Context, topic, key string) error {
	return a.p.Untrack(ctx, topic, key)
}
