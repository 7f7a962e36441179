package store

import (
	"context"
	"errors"
	"time"

	"github.com/workmesh/chatsync/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ConversationOverlayStore layers per-viewer archive/pin/soft-delete flags
// on conversations without touching the shared conversation record.
// The flags are independent, idempotent and commutative; no ordering
// between them is guaranteed or needed.
type ConversationOverlayStore struct {
	db     *gorm.DB
	viewer string
}

// NewConversationOverlayStore creates an overlay store for viewer.
func NewConversationOverlayStore(db *gorm.DB, viewer string) *ConversationOverlayStore {
	return &ConversationOverlayStore{db: db, viewer: viewer}
}

// Archive hides the conversation from the viewer's main list.
func (s *ConversationOverlayStore) Archive(ctx context.Context, conversationID string) error {
	return s.setFlag(ctx, conversationID, "archived_at")
}

// Unarchive restores the conversation to the viewer's main list.
func (s *ConversationOverlayStore) Unarchive(ctx context.Context, conversationID string) error {
	return s.clearFlag(ctx, conversationID, "archived_at")
}

// Delete soft-deletes the conversation for this viewer only.
func (s *ConversationOverlayStore) Delete(ctx context.Context, conversationID string) error {
	return s.setFlag(ctx, conversationID, "deleted_at")
}

// Pin pins the conversation for this viewer.
func (s *ConversationOverlayStore) Pin(ctx context.Context, conversationID string) error {
	return s.setFlag(ctx, conversationID, "pinned_at")
}

// Unpin unpins the conversation for this viewer.
func (s *ConversationOverlayStore) Unpin(ctx context.Context, conversationID string) error {
	return s.clearFlag(ctx, conversationID, "pinned_at")
}

// State returns the overlay row for a conversation, or nil when the
// conversation is in its default state for this viewer.
func (s *ConversationOverlayStore) State(ctx context.Context, conversationID string) (*model.ConversationState, error) {
	var row model.ConversationState
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, s.viewer).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// setFlag upserts the overlay row with the named timestamp set to now.
func (s *ConversationOverlayStore) setFlag(ctx context.Context, conversationID, column string) error {
	now := time.Now()
	row := model.ConversationState{
		ConversationID: conversationID,
		UserID:         s.viewer,
	}
	switch column {
	case "archived_at":
		row.ArchivedAt = &now
	case "deleted_at":
		row.DeletedAt = &now
	case "pinned_at":
		row.PinnedAt = &now
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{column}),
		}).
		Create(&row).Error
}

// clearFlag nulls the named timestamp on an existing overlay row.
// Clearing a flag that was never set is a no-op.
func (s *ConversationOverlayStore) clearFlag(ctx context.Context, conversationID, column string) error {
	return s.db.WithContext(ctx).
		Model(&model.ConversationState{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, s.viewer).
		Update(column, nil).Error
}
