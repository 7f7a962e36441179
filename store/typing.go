package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/workmesh/chatsync/bus"
	"go.uber.org/zap"
)

// typingTTL is how long a typing signal stays visible without renewal.
const typingTTL = 3000 * time.Millisecond

// typingSignal is the wire shape broadcast on a conversation's typing topic.
type typingSignal struct {
	UserID   string `json:"user_id"`
	IsTyping bool   `json:"is_typing"`
}

// armedTimer pairs an expiry timer with the sequence number it was armed
// under, so a callback from a superseded timer can recognize itself.
type armedTimer struct {
	timer *time.Timer
	seq   uint64
}

// TypingCoordinator tracks who is typing in one conversation. Each remote
// signal self-expires after typingTTL unless renewed; a renewal re-arms the
// sender's timer so continuous typing never flickers. The coordinator owns
// every timer it arms and Close cancels them all, so no late expiry can
// touch a disposed instance.
type TypingCoordinator struct {
	ps             bus.PubSub
	conversationID string
	viewer         string
	onChange       func()
	logger         *zap.Logger

	mu     sync.Mutex
	typing map[string]struct{}
	timers map[string]armedTimer
	seq    uint64
	closed bool

	cancelSub func()
	done      chan struct{}
}

// NewTypingCoordinator creates a coordinator for one conversation.
// onChange may be nil; when set it runs after every typing-set change.
func NewTypingCoordinator(ps bus.PubSub, conversationID, viewer string, onChange func(), logger *zap.Logger) *TypingCoordinator {
	return &TypingCoordinator{
		ps:             ps,
		conversationID: conversationID,
		viewer:         viewer,
		onChange:       onChange,
		logger:         logger,
		typing:         make(map[string]struct{}),
		timers:         make(map[string]armedTimer),
		done:           make(chan struct{}),
	}
}

// Start subscribes to the conversation's typing topic.
func (t *TypingCoordinator) Start(ctx context.Context) error {
	ch, cancel, err := t.ps.Subscribe(ctx, bus.TypingTopic(t.conversationID))
	if err != nil {
		return err
	}
	t.cancelSub = cancel

	go func() {
		defer close(t.done)
		for msg := range ch {
			t.handle(msg.Payload)
		}
	}()
	return nil
}

// Close unsubscribes and cancels all outstanding expiry timers.
func (t *TypingCoordinator) Close() {
	if t.cancelSub != nil {
		t.cancelSub()
		<-t.done
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	for id, at := range t.timers {
		at.timer.Stop()
		delete(t.timers, id)
	}
}

// SetTyping broadcasts the viewer's typing state to the conversation.
func (t *TypingCoordinator) SetTyping(ctx context.Context, isTyping bool) error {
	raw, err := json.Marshal(typingSignal{UserID: t.viewer, IsTyping: isTyping})
	if err != nil {
		return err
	}
	return t.ps.Publish(ctx, bus.TypingTopic(t.conversationID), string(raw))
}

// handle folds one received signal into the typing set. The viewer's own
// broadcasts are ignored; malformed payloads are dropped.
func (t *TypingCoordinator) handle(payload string) {
	var sig typingSignal
	if err := json.Unmarshal([]byte(payload), &sig); err != nil {
		t.logger.Warn("unparseable typing signal dropped", zap.Error(err))
		return
	}
	if sig.UserID == "" || sig.UserID == t.viewer {
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	// Any pending expiry for this sender is superseded by the new signal.
	if at, ok := t.timers[sig.UserID]; ok {
		at.timer.Stop()
		delete(t.timers, sig.UserID)
	}
	changed := false
	if sig.IsTyping {
		if _, ok := t.typing[sig.UserID]; !ok {
			t.typing[sig.UserID] = struct{}{}
			changed = true
		}
		userID := sig.UserID
		t.seq++
		seq := t.seq
		t.timers[userID] = armedTimer{
			seq: seq,
			timer: time.AfterFunc(typingTTL, func() {
				t.expire(userID, seq)
			}),
		}
	} else {
		if _, ok := t.typing[sig.UserID]; ok {
			delete(t.typing, sig.UserID)
			changed = true
		}
	}
	t.mu.Unlock()

	if changed {
		t.notify()
	}
}

// expire removes a sender whose signal aged out without renewal. A timer
// that fired while a renewal was being handled finds a newer seq in the
// map and must leave the renewed indicator alone.
func (t *TypingCoordinator) expire(userID string, seq uint64) {
	t.mu.Lock()
	at, ok := t.timers[userID]
	if t.closed || !ok || at.seq != seq {
		t.mu.Unlock()
		return
	}
	delete(t.timers, userID)
	_, present := t.typing[userID]
	delete(t.typing, userID)
	t.mu.Unlock()

	if present {
		t.notify()
	}
}

func (t *TypingCoordinator) notify() {
	if t.onChange != nil {
		t.onChange()
	}
}

// Typing returns a snapshot of user ids currently typing.
func (t *TypingCoordinator) Typing() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.typing))
	for id := range t.typing {
		out = append(out, id)
	}
	return out
}

// IsTyping reports whether userID is currently typing.
func (t *TypingCoordinator) IsTyping(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.typing[userID]
	return ok
}
