package local

import (
	"context"
	"sync"
)

// PresenceEvent mirrors the wire shape of an ephemeral presence channel:
// a sync snapshot on subscribe, then join/leave deltas.
type PresenceEvent struct {
	Type string // "sync" | "join" | "leave"
	Keys []string
	Key  string
}

type presenceTopic struct {
	members map[string]string // key → meta
	subs    []*presenceSub
}

type presenceSub struct {
	ch chan *PresenceEvent
}

// Presence is the in-process presence channel. State lives only in memory
// for the lifetime of the process; nothing is persisted.
type Presence struct {
	mu     sync.Mutex
	topics map[string]*presenceTopic
}

// NewPresence creates an empty in-process presence registry.
func NewPresence() *Presence {
	return &Presence{topics: make(map[string]*presenceTopic)}
}

// Join subscribes to topic. The subscriber immediately receives a sync
// event with the current membership snapshot. The cancel func removes the
// subscription and closes the event channel; it does not untrack keys.
func (p *Presence) Join(_ context.Context, topic, _ string) (<-chan *PresenceEvent, func(), error) {
	sub := &presenceSub{ch: make(chan *PresenceEvent, 64)}

	p.mu.Lock()
	t := p.topics[topic]
	if t == nil {
		t = &presenceTopic{members: make(map[string]string)}
		p.topics[topic] = t
	}
	t.subs = append(t.subs, sub)
	snapshot := make([]string, 0, len(t.members))
	for k := range t.members {
		snapshot = append(snapshot, k)
	}
	// Queued before the lock is released so a concurrent Track cannot
	// slip a join ahead of the snapshot. The channel is fresh and
	// buffered, the send never blocks.
	sub.ch <- &PresenceEvent{Type: "sync", Keys: snapshot}
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		t := p.topics[topic]
		if t == nil {
			return
		}
		for i, s := range t.subs {
			if s == sub {
				t.subs = append(t.subs[:i], t.subs[i+1:]...)
				close(sub.ch)
				break
			}
		}
	}

	return sub.ch, cancel, nil
}

// Track announces key on topic. The first track broadcasts a join to all
// subscribers; re-tracking only refreshes the stored meta (heartbeat).
func (p *Presence) Track(_ context.Context, topic, key, meta string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.topics[topic]
	if t == nil {
		t = &presenceTopic{members: make(map[string]string)}
		p.topics[topic] = t
	}
	_, present := t.members[key]
	t.members[key] = meta
	if !present {
		t.broadcast(&PresenceEvent{Type: "join", Key: key})
	}
	return nil
}

// Untrack withdraws key from topic. Untracking an absent key is a no-op,
// so duplicate leaves produce a single event.
func (p *Presence) Untrack(_ context.Context, topic, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	t := p.topics[topic]
	if t == nil {
		return nil
	}
	if _, present := t.members[key]; !present {
		return nil
	}
	delete(t.members, key)
	t.broadcast(&PresenceEvent{Type: "leave", Key: key})
	return nil
}

// broadcast delivers ev to every subscriber; callers hold p.mu.
func (t *presenceTopic) broadcast(ev *PresenceEvent) {
	for _, s := range t.subs {
		select {
		case s.ch <- ev:
		default:
		}
	}
}
