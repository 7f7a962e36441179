package store

import (
	"context"
	"sync"

	"github.com/workmesh/chatsync/model"
	"gorm.io/gorm"
)

// BlockRegistry tracks conversation-level blocks for one viewer. It is
// independent of the social-graph block carried by relationship status;
// the two capabilities are deliberately kept separate.
//
// The membership set is loaded once per session and mutated optimistically:
// a failed remote write leaves the local set ahead of the datastore until
// the next Load. The datastore remains the source of truth.
type BlockRegistry struct {
	db     *gorm.DB
	viewer string

	mu      sync.RWMutex
	blocked map[string]struct{}
}

// NewBlockRegistry creates an empty registry for viewer. Call Load before
// first use.
func NewBlockRegistry(db *gorm.DB, viewer string) *BlockRegistry {
	return &BlockRegistry{
		db:      db,
		viewer:  viewer,
		blocked: make(map[string]struct{}),
	}
}

// Load fetches the viewer's block set from the datastore.
func (r *BlockRegistry) Load(ctx context.Context) error {
	var rows []model.UserBlock
	err := r.db.WithContext(ctx).
		Where("blocker_id = ?", r.viewer).
		Find(&rows).Error
	if err != nil {
		return err
	}

	blocked := make(map[string]struct{}, len(rows))
	for _, b := range rows {
		blocked[b.BlockedID] = struct{}{}
	}
	r.mu.Lock()
	r.blocked = blocked
	r.mu.Unlock()
	return nil
}

// Block adds userID to the viewer's block set.
func (r *BlockRegistry) Block(ctx context.Context, userID string) error {
	r.mu.Lock()
	r.blocked[userID] = struct{}{}
	r.mu.Unlock()

	return r.db.WithContext(ctx).
		Create(&model.UserBlock{BlockerID: r.viewer, BlockedID: userID}).Error
}

// Unblock removes userID from the viewer's block set.
func (r *BlockRegistry) Unblock(ctx context.Context, userID string) error {
	r.mu.Lock()
	delete(r.blocked, userID)
	r.mu.Unlock()

	return r.db.WithContext(ctx).
		Where("blocker_id = ? AND blocked_id = ?", r.viewer, userID).
		Delete(&model.UserBlock{}).Error
}

// IsBlocked reports whether the viewer has blocked userID.
func (r *BlockRegistry) IsBlocked(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.blocked[userID]
	return ok
}

// Blocked returns a snapshot of the blocked user ids.
func (r *BlockRegistry) Blocked() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.blocked))
	for id := range r.blocked {
		out = append(out, id)
	}
	return out
}
