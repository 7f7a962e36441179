package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/workmesh/chatsync/bus"
	"github.com/workmesh/chatsync/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// conversationsTable is the change-feed table name for conversation rows.
const conversationsTable = "conversations"

// UnreadAggregator derives the viewer's global unread badge from raw
// per-role counters on conversations.
//
// Capping policy: an unaccepted request conversation contributes at most 1
// to its recipient's total, so an unsolicited sender cannot inflate the
// badge (or retrigger the new-message callback) by sending more messages.
type UnreadAggregator struct {
	db           *gorm.DB
	ps           bus.PubSub
	viewer       string
	onNewMessage func()
	logger       *zap.Logger

	mu       sync.RWMutex
	total    int
	unique   int
	perConv  map[string]bool
	computed bool // at least one computation finished

	cancelSub func()
	done      chan struct{}
}

// NewUnreadAggregator creates an aggregator for viewer. onNewMessage may be
// nil; when set it fires only on a strict increase of the total, never on
// the very first computation.
func NewUnreadAggregator(db *gorm.DB, ps bus.PubSub, viewer string, onNewMessage func(), logger *zap.Logger) *UnreadAggregator {
	return &UnreadAggregator{
		db:           db,
		ps:           ps,
		viewer:       viewer,
		onNewMessage: onNewMessage,
		logger:       logger,
		perConv:      make(map[string]bool),
		done:         make(chan struct{}),
	}
}

// Start computes the initial counts and subscribes to conversation changes.
func (a *UnreadAggregator) Start(ctx context.Context) error {
	if err := a.Refresh(ctx); err != nil {
		return err
	}

	ch, cancel, err := a.ps.Subscribe(ctx, bus.ChangeTopic(conversationsTable))
	if err != nil {
		return err
	}
	a.cancelSub = cancel

	go func() {
		defer close(a.done)
		for msg := range ch {
			a.handleChange(msg.Payload)
		}
	}()
	return nil
}

// Close tears down the change subscription.
func (a *UnreadAggregator) Close() {
	if a.cancelSub != nil {
		a.cancelSub()
		<-a.done
	}
}

// handleChange re-computes when a conversation change involves the viewer.
func (a *UnreadAggregator) handleChange(payload string) {
	c, err := bus.DecodeChange(payload)
	if err != nil || c == nil {
		a.logger.Warn("unparseable conversation change dropped", zap.Error(err))
		return
	}
	var row struct {
		CustomerID string `json:"customer_id"`
		AdminID    string `json:"admin_id"`
	}
	if err := json.Unmarshal(c.Row, &row); err != nil {
		a.logger.Warn("unparseable conversation row dropped", zap.Error(err))
		return
	}
	if row.CustomerID != a.viewer && row.AdminID != a.viewer {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Refresh(ctx); err != nil {
		a.logger.Warn("unread refresh failed", zap.Error(err))
	}
}

// Refresh recomputes the totals from the datastore.
func (a *UnreadAggregator) Refresh(ctx context.Context) error {
	var convs []model.Conversation
	err := a.db.WithContext(ctx).
		Where("customer_id = ? OR admin_id = ?", a.viewer, a.viewer).
		Find(&convs).Error
	if err != nil {
		return err
	}

	total, unique := 0, 0
	perConv := make(map[string]bool, len(convs))
	for _, conv := range convs {
		n := a.contribution(&conv)
		total += n
		perConv[conv.ID] = n > 0
		if n > 0 {
			unique++
		}
	}

	a.mu.Lock()
	fire := a.computed && total > a.total && a.onNewMessage != nil
	a.total, a.unique, a.perConv = total, unique, perConv
	a.computed = true
	a.mu.Unlock()

	if fire {
		a.onNewMessage()
	}
	return nil
}

// contribution selects the viewer-side raw counter and applies the cap.
func (a *UnreadAggregator) contribution(conv *model.Conversation) int {
	raw := conv.UnreadCountAdmin
	if conv.CustomerID == a.viewer {
		raw = conv.UnreadCountCustomer
	}
	if conv.IsRequest && conv.AdminID == a.viewer && raw > 1 {
		return 1
	}
	return raw
}

// Total returns the viewer's global unread count.
func (a *UnreadAggregator) Total() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.total
}

// Unique returns the number of conversations with unread messages.
func (a *UnreadAggregator) Unique() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.unique
}

// HasUnread reports whether a conversation contributes to the badge.
func (a *UnreadAggregator) HasUnread(conversationID string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.perConv[conversationID]
}
