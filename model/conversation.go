package model

import "time"

// Conversation is owned by the messaging service; this layer reads it to
// derive unread badges. IsRequest marks an unsolicited first-contact thread
// that the admin side has not yet accepted.
type Conversation struct {
	ID                  string    `gorm:"primaryKey;size:36" json:"id"`
	CustomerID          string    `gorm:"size:36;index;not null" json:"customer_id"`
	AdminID             string    `gorm:"size:36;index;not null" json:"admin_id"`
	UnreadCountCustomer int       `gorm:"default:0" json:"unread_count_customer"`
	UnreadCountAdmin    int       `gorm:"default:0" json:"unread_count_admin"`
	IsRequest           bool      `gorm:"default:false" json:"is_request"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// ConversationState is per-viewer metadata layered on a shared conversation.
// Absence of a row means default: visible, unpinned, not deleted.
type ConversationState struct {
	ConversationID string     `gorm:"primaryKey;size:36" json:"conversation_id"`
	UserID         string     `gorm:"primaryKey;size:36" json:"user_id"`
	ArchivedAt     *time.Time `json:"archived_at"`
	DeletedAt      *time.Time `json:"deleted_at"`
	PinnedAt       *time.Time `json:"pinned_at"`
}

// ConversationMute mutes a conversation for one viewer.
// MutedUntil nil means muted indefinitely; an expired timestamp is not
// cleaned up proactively, callers evaluate it lazily on read.
type ConversationMute struct {
	ConversationID string     `gorm:"primaryKey;size:36" json:"conversation_id"`
	UserID         string     `gorm:"primaryKey;size:36" json:"user_id"`
	MutedUntil     *time.Time `json:"muted_until"`
}

// UserBlock is the conversation-level block, independent of the social-graph
// block carried by Relationship.Status. Both are consulted by their owners.
type UserBlock struct {
	BlockerID string    `gorm:"primaryKey;size:36" json:"blocker_id"`
	BlockedID string    `gorm:"primaryKey;size:36" json:"blocked_id"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
