package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/workmesh/chatsync/bus"
	"github.com/workmesh/chatsync/scheduler"
	"go.uber.org/zap"
)

// PresenceService maintains the live online-set for one viewer. It is an
// explicit object owned by the composition root with a Start/Stop
// lifecycle, injected into consumers; nothing about it is global.
//
// The viewer announces itself on subscribe, on a fixed heartbeat, and on
// Foreground(); every announcement is guarded by the visibility probe so a
// backgrounded client does not keep claiming to be online.
type PresenceService struct {
	presence  bus.Presence
	sched     *scheduler.Scheduler
	topic     string
	viewer    string
	heartbeat time.Duration
	visible   func() bool
	logger    *zap.Logger

	mu     sync.RWMutex
	online map[string]struct{}

	cancelSub func()
	done      chan struct{}
}

// PresenceOptions configures a PresenceService.
type PresenceOptions struct {
	Topic     string        // defaults to "online-users"
	Heartbeat time.Duration // defaults to 30s
	// Visible reports whether the client is in the foreground. nil means
	// always visible (headless consumers).
	Visible func() bool
}

// NewPresenceService creates a PresenceService for viewer.
func NewPresenceService(p bus.Presence, sched *scheduler.Scheduler, viewer string, opts PresenceOptions, logger *zap.Logger) *PresenceService {
	topic := opts.Topic
	if topic == "" {
		topic = "online-users"
	}
	hb := opts.Heartbeat
	if hb <= 0 {
		hb = 30 * time.Second
	}
	visible := opts.Visible
	if visible == nil {
		visible = func() bool { return true }
	}
	return &PresenceService{
		presence:  p,
		sched:     sched,
		topic:     topic,
		viewer:    viewer,
		heartbeat: hb,
		visible:   visible,
		logger:    logger,
		online:    make(map[string]struct{}),
		done:      make(chan struct{}),
	}
}

// Start joins the presence topic, announces the viewer, and begins the
// heartbeat.
func (s *PresenceService) Start(ctx context.Context) error {
	ch, cancel, err := s.presence.Join(ctx, s.topic, s.viewer)
	if err != nil {
		return err
	}
	s.cancelSub = cancel

	go func() {
		defer close(s.done)
		for ev := range ch {
			s.handle(ev)
		}
	}()

	s.announce(ctx)
	s.sched.AddTicker(s.tickerName(), s.heartbeat, func() {
		hctx, hcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer hcancel()
		s.announce(hctx)
	})
	return nil
}

// Stop withdraws the viewer, cancels the heartbeat and the subscription.
func (s *PresenceService) Stop() {
	s.sched.Remove(s.tickerName())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.presence.Untrack(ctx, s.topic, s.viewer); err != nil {
		s.logger.Warn("presence untrack failed", zap.Error(err))
	}
	if s.cancelSub != nil {
		s.cancelSub()
		<-s.done
	}
}

// Foreground re-announces the viewer when the client regains focus.
func (s *PresenceService) Foreground(ctx context.Context) {
	s.announce(ctx)
}

// announce tracks the viewer on the topic, only while visible.
func (s *PresenceService) announce(ctx context.Context) {
	if !s.visible() {
		return
	}
	meta, _ := json.Marshal(map[string]string{
		"user_id":   s.viewer,
		"online_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err := s.presence.Track(ctx, s.topic, s.viewer, string(meta)); err != nil {
		s.logger.Warn("presence announce failed", zap.Error(err))
	}
}

// handle folds one presence event into the online-set.
func (s *PresenceService) handle(ev *bus.PresenceEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Type {
	case bus.PresenceSync:
		online := make(map[string]struct{}, len(ev.Keys))
		for _, k := range ev.Keys {
			online[k] = struct{}{}
		}
		s.online = online
	case bus.PresenceJoin:
		s.online[ev.Key] = struct{}{}
	case bus.PresenceLeave:
		delete(s.online, ev.Key)
	}
}

// IsOnline reports whether userID is currently online.
func (s *PresenceService) IsOnline(userID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.online[userID]
	return ok
}

// Online returns a snapshot of the online user ids.
func (s *PresenceService) Online() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.online))
	for id := range s.online {
		out = append(out, id)
	}
	return out
}

func (s *PresenceService) tickerName() string {
	return "presence_heartbeat:" + s.viewer
}
