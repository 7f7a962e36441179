package store

import (
	"context"
	"sync"
	"time"

	"github.com/workmesh/chatsync/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MuteRegistry tracks per-conversation mute state for one viewer.
// A nil expiry means muted indefinitely. Expired timed mutes are not
// cleaned up proactively; IsMuted resolves staleness lazily on read,
// which is enough for a badge and keeps the write path quiet.
type MuteRegistry struct {
	db     *gorm.DB
	viewer string

	mu    sync.RWMutex
	muted map[string]*time.Time // conversationID → mutedUntil (nil = forever)
}

// NewMuteRegistry creates an empty registry for viewer. Call Load before
// first use.
func NewMuteRegistry(db *gorm.DB, viewer string) *MuteRegistry {
	return &MuteRegistry{
		db:     db,
		viewer: viewer,
		muted:  make(map[string]*time.Time),
	}
}

// Load fetches the viewer's mutes from the datastore.
func (r *MuteRegistry) Load(ctx context.Context) error {
	var rows []model.ConversationMute
	err := r.db.WithContext(ctx).
		Where("user_id = ?", r.viewer).
		Find(&rows).Error
	if err != nil {
		return err
	}

	muted := make(map[string]*time.Time, len(rows))
	for _, m := range rows {
		muted[m.ConversationID] = m.MutedUntil
	}
	r.mu.Lock()
	r.muted = muted
	r.mu.Unlock()
	return nil
}

// Mute silences a conversation. A zero duration mutes indefinitely;
// otherwise the mute expires duration from now.
func (r *MuteRegistry) Mute(ctx context.Context, conversationID string, duration time.Duration) error {
	var until *time.Time
	if duration > 0 {
		t := time.Now().Add(duration)
		until = &t
	}

	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"muted_until"}),
		}).
		Create(&model.ConversationMute{
			ConversationID: conversationID,
			UserID:         r.viewer,
			MutedUntil:     until,
		}).Error
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.muted[conversationID] = until
	r.mu.Unlock()
	return nil
}

// Unmute removes the mute for a conversation.
func (r *MuteRegistry) Unmute(ctx context.Context, conversationID string) error {
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, r.viewer).
		Delete(&model.ConversationMute{}).Error
	if err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.muted, conversationID)
	r.mu.Unlock()
	return nil
}

// IsMuted reports whether the conversation is currently muted.
func (r *MuteRegistry) IsMuted(conversationID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	until, ok := r.muted[conversationID]
	if !ok {
		return false
	}
	if until == nil {
		return true // muted forever
	}
	return time.Now().Before(*until)
}
