package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/workmesh/chatsync/api/rest"
	"github.com/workmesh/chatsync/bus"
	"github.com/workmesh/chatsync/model"
	"go.uber.org/zap"
)

// relationshipsTable matches the table name the friends service announces on.
const relationshipsTable = "user_relationships"

// RelationshipConfig configures a RelationshipStore client.
type RelationshipConfig struct {
	BaseURL  string // friends service root, e.g. http://host:8080
	Token    string // bearer credential for the viewer
	ViewerID string
}

// RelationshipStore is the client-resident view of the viewer's social
// graph. It is never authoritative: every mutation goes to the remote
// friends service, and all four query views are re-fetched after each
// command and on every relationship change notification touching the
// viewer. Stale in-flight list responses are discarded by generation.
type RelationshipStore struct {
	cfg    RelationshipConfig
	hc     *http.Client
	ps     bus.PubSub
	logger *zap.Logger

	mu       sync.RWMutex
	friends  []rest.Item
	incoming []rest.Item
	outgoing []rest.Item
	blocked  []rest.Item
	search   []rest.SearchedUser

	gen uint64

	searchMu    sync.Mutex
	searchTimer *time.Timer

	cancelSub func()
	done      chan struct{}
}

// NewRelationshipStore creates a RelationshipStore. Call Start to load the
// initial views and begin listening for change notifications.
func NewRelationshipStore(cfg RelationshipConfig, ps bus.PubSub, logger *zap.Logger) *RelationshipStore {
	return &RelationshipStore{
		cfg:    cfg,
		hc:     &http.Client{Timeout: 10 * time.Second},
		ps:     ps,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Start fetches the initial views and subscribes to relationship changes.
func (s *RelationshipStore) Start(ctx context.Context) error {
	if err := s.Refresh(ctx); err != nil {
		return err
	}

	ch, cancel, err := s.ps.Subscribe(ctx, bus.ChangeTopic(relationshipsTable))
	if err != nil {
		return err
	}
	s.cancelSub = cancel

	go func() {
		defer close(s.done)
		for msg := range ch {
			s.handleChange(msg.Payload)
		}
	}()
	return nil
}

// Close tears down the subscription and any pending debounced search.
func (s *RelationshipStore) Close() {
	if s.cancelSub != nil {
		s.cancelSub()
		<-s.done
	}
	s.searchMu.Lock()
	if s.searchTimer != nil {
		s.searchTimer.Stop()
		s.searchTimer = nil
	}
	s.searchMu.Unlock()
}

// handleChange re-fetches when a relationship change touches the viewer.
// Malformed payloads are dropped, preserving the last reconciled state.
func (s *RelationshipStore) handleChange(payload string) {
	c, err := bus.DecodeChange(payload)
	if err != nil || c == nil {
		s.logger.Warn("unparseable relationship change dropped", zap.Error(err))
		return
	}
	var row struct {
		RequesterID string `json:"requester_id"`
		AddresseeID string `json:"addressee_id"`
	}
	if err := json.Unmarshal(c.Row, &row); err != nil {
		s.logger.Warn("unparseable relationship row dropped", zap.Error(err))
		return
	}
	if row.RequesterID != s.cfg.ViewerID && row.AddresseeID != s.cfg.ViewerID {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Refresh(ctx); err != nil {
		s.logger.Warn("relationship refresh failed", zap.Error(err))
	}
}

// Refresh re-fetches all four views. Responses belonging to a superseded
// refresh are discarded so an older in-flight fetch can never overwrite a
// newer one.
func (s *RelationshipStore) Refresh(ctx context.Context) error {
	gen := atomic.AddUint64(&s.gen, 1)

	var friends, incoming, outgoing, blocked []rest.Item
	for _, l := range []struct {
		listType string
		dst      *[]rest.Item
	}{
		{"friends", &friends},
		{"incoming", &incoming},
		{"outgoing", &outgoing},
		{"blocked", &blocked},
	} {
		items, err := s.fetchList(ctx, l.listType)
		if err != nil {
			return err
		}
		*l.dst = items
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != atomic.LoadUint64(&s.gen) {
		return nil // a newer refresh finished or started; drop this one
	}
	s.friends, s.incoming, s.outgoing, s.blocked = friends, incoming, outgoing, blocked
	return nil
}

func (s *RelationshipStore) fetchList(ctx context.Context, listType string) ([]rest.Item, error) {
	var resp struct {
		Items []rest.Item `json:"items"`
	}
	if err := s.get(ctx, "/api/friends/list?type="+listType, &resp); err != nil {
		return nil, err
	}
	return resp.Items, nil
}

// Friends returns the accepted relationships view.
func (s *RelationshipStore) Friends() []rest.Item { return s.view(&s.friends) }

// Incoming returns pending requests addressed to the viewer.
func (s *RelationshipStore) Incoming() []rest.Item { return s.view(&s.incoming) }

// Outgoing returns pending requests sent by the viewer.
func (s *RelationshipStore) Outgoing() []rest.Item { return s.view(&s.outgoing) }

// Blocked returns users the viewer has blocked.
func (s *RelationshipStore) Blocked() []rest.Item { return s.view(&s.blocked) }

func (s *RelationshipStore) view(src *[]rest.Item) []rest.Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]rest.Item, len(*src))
	copy(out, *src)
	return out
}

// Send creates a pending request toward target. The returned relationship
// is canonical; it is merged into any cached search results by user id so
// the two never diverge.
func (s *RelationshipStore) Send(ctx context.Context, targetID string) (*model.Relationship, error) {
	var resp struct {
		Relationship *model.Relationship `json:"relationship"`
	}
	err := s.post(ctx, "/api/friends/send", map[string]string{"target_user_id": targetID}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.Relationship != nil {
		s.mergeSearchResult(resp.Relationship)
	}
	if err := s.Refresh(ctx); err != nil {
		return resp.Relationship, err
	}
	return resp.Relationship, nil
}

// Accept accepts an incoming pending request.
func (s *RelationshipStore) Accept(ctx context.Context, relationshipID string) error {
	return s.command(ctx, "/api/friends/accept", map[string]string{"relationship_id": relationshipID})
}

// Decline declines an incoming pending request.
func (s *RelationshipStore) Decline(ctx context.Context, relationshipID string) error {
	return s.command(ctx, "/api/friends/decline", map[string]string{"relationship_id": relationshipID})
}

// Cancel withdraws an outgoing pending request.
func (s *RelationshipStore) Cancel(ctx context.Context, relationshipID string) error {
	return s.command(ctx, "/api/friends/cancel", map[string]string{"relationship_id": relationshipID})
}

// Remove deletes an accepted relationship from either side.
func (s *RelationshipStore) Remove(ctx context.Context, targetID string) error {
	return s.command(ctx, "/api/friends/remove", map[string]string{"target_user_id": targetID})
}

// Block blocks target regardless of current status.
func (s *RelationshipStore) Block(ctx context.Context, targetID string) error {
	return s.command(ctx, "/api/friends/block", map[string]string{"target_user_id": targetID})
}

// Unblock removes a block; the pair reverts to no relationship.
func (s *RelationshipStore) Unblock(ctx context.Context, targetID string) error {
	return s.command(ctx, "/api/friends/unblock", map[string]string{"target_user_id": targetID})
}

func (s *RelationshipStore) command(ctx context.Context, path string, body map[string]string) error {
	if err := s.post(ctx, path, body, nil); err != nil {
		return err
	}
	return s.Refresh(ctx)
}

// Search queries candidate users annotated with their relationship to the
// viewer. Results are cached so later commands can patch them in place.
func (s *RelationshipStore) Search(ctx context.Context, query string) ([]rest.SearchedUser, error) {
	var resp struct {
		Users []rest.SearchedUser `json:"users"`
	}
	if err := s.get(ctx, "/api/friends/search?q="+url.QueryEscape(query), &resp); err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.search = resp.Users
	s.mu.Unlock()
	return resp.Users, nil
}

// SearchDebounced schedules Search after delay, replacing any pending
// search. The callback runs on the timer goroutine; Close cancels it.
func (s *RelationshipStore) SearchDebounced(query string, delay time.Duration, fn func([]rest.SearchedUser, error)) {
	s.searchMu.Lock()
	defer s.searchMu.Unlock()
	if s.searchTimer != nil {
		s.searchTimer.Stop()
	}
	s.searchTimer = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		fn(s.Search(ctx, query))
	})
}

// mergeSearchResult patches the cached search results with the canonical
// relationship returned by a command.
func (s *RelationshipStore) mergeSearchResult(rel *model.Relationship) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.search {
		u := &s.search[i]
		if u.ID == rel.RequesterID || u.ID == rel.AddresseeID {
			u.Relationship = &rest.RelationshipRef{
				ID:          rel.ID,
				Status:      rel.Status,
				RequesterID: rel.RequesterID,
			}
		}
	}
}

// ---- HTTP plumbing ----

func (s *RelationshipStore) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+path, nil)
	if err != nil {
		return err
	}
	return s.do(req, out)
}

func (s *RelationshipStore) post(ctx context.Context, path string, body, out interface{}) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return s.do(req, out)
}

func (s *RelationshipStore) do(req *http.Request, out interface{}) error {
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	resp, err := s.hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("friends: %s", e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
