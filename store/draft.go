package store

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"
)

// DraftStore keeps unsent message text per conversation in a client-local
// Pebble database, namespaced by viewer. Drafts never reach the remote
// service. The whole namespace is loaded once at open and written back as
// a single serialized map on every mutation.
type DraftStore struct {
	db     *pebble.DB
	key    []byte
	logger *zap.Logger

	mu     sync.Mutex
	drafts map[string]string // conversationID → text
}

// NewDraftStore loads the viewer's draft namespace from db. A missing or
// corrupt stored map is treated as empty rather than surfaced as an error.
func NewDraftStore(db *pebble.DB, viewerID string, logger *zap.Logger) *DraftStore {
	s := &DraftStore{
		db:     db,
		key:    []byte("drafts:" + viewerID),
		logger: logger,
		drafts: make(map[string]string),
	}

	raw, closer, err := db.Get(s.key)
	if err != nil {
		if !errors.Is(err, pebble.ErrNotFound) {
			logger.Warn("draft namespace read failed", zap.Error(err))
		}
		return s
	}
	defer closer.Close()

	if err := json.Unmarshal(raw, &s.drafts); err != nil {
		logger.Warn("corrupt draft namespace discarded", zap.Error(err))
		s.drafts = make(map[string]string)
	}
	return s
}

// GetDraft returns the stored draft for a conversation, or "".
func (s *DraftStore) GetDraft(conversationID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drafts[conversationID]
}

// SetDraft stores text for a conversation. Blank or whitespace-only text
// deletes the key instead, so empty drafts never accumulate.
func (s *DraftStore) SetDraft(conversationID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(text) == "" {
		delete(s.drafts, conversationID)
	} else {
		s.drafts[conversationID] = text
	}
	return s.persist()
}

// ClearDraft removes the draft for a conversation.
func (s *DraftStore) ClearDraft(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, conversationID)
	return s.persist()
}

// persist writes the whole namespace back; callers hold s.mu.
func (s *DraftStore) persist() error {
	raw, err := json.Marshal(s.drafts)
	if err != nil {
		return err
	}
	return s.db.Set(s.key, raw, pebble.Sync)
}
