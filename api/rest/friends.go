package rest

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/workmesh/chatsync/audit"
	"github.com/workmesh/chatsync/bus"
	mw "github.com/workmesh/chatsync/middleware"
	"github.com/workmesh/chatsync/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// relationshipsTable is the table name announced on the change feed.
const relationshipsTable = "user_relationships"

// FriendsHandler owns the friend-relationship lifecycle REST endpoints.
// Every successful mutation is announced on the realtime bus so that
// client stores can re-synchronize.
type FriendsHandler struct {
	db     *gorm.DB
	ps     bus.PubSub
	audit  *audit.Service
	logger *zap.Logger
}

// NewFriendsHandler creates a new FriendsHandler. auditSvc may be nil to
// disable the audit trail.
func NewFriendsHandler(db *gorm.DB, ps bus.PubSub, auditSvc *audit.Service, logger *zap.Logger) *FriendsHandler {
	return &FriendsHandler{db: db, ps: ps, audit: auditSvc, logger: logger}
}

// Item is the list-response shape: the relationship with the counterpart
// user resolved, so the UI never has to join users itself.
type Item struct {
	ID          string       `json:"id"`
	Status      model.Status `json:"status"`
	User        *model.User  `json:"user"`
	CreatedAt   time.Time    `json:"created_at"`
	RespondedAt *time.Time   `json:"responded_at"`
	RequesterID string       `json:"requester_id"`
	AddresseeID string       `json:"addressee_id"`
}

// SearchedUser is a search hit annotated with the caller's relationship.
type SearchedUser struct {
	model.User
	Relationship *RelationshipRef `json:"relationship"`
}

// RelationshipRef is the minimal relationship projection attached to
// search results; enough for the UI to pick the right action button.
type RelationshipRef struct {
	ID          string       `json:"id"`
	Status      model.Status `json:"status"`
	RequesterID string       `json:"requester_id"`
}

// List handles GET /api/friends/list?type=friends|incoming|outgoing|blocked.
func (h *FriendsHandler) List(c *gin.Context) {
	viewer := mw.GetUserID(c)
	listType := c.DefaultQuery("type", "friends")

	q := h.db.Model(&model.Relationship{})
	switch listType {
	case "friends":
		q = q.Where("status = ? AND (requester_id = ? OR addressee_id = ?)",
			model.StatusAccepted, viewer, viewer)
	case "incoming":
		q = q.Where("status = ? AND addressee_id = ?", model.StatusPending, viewer)
	case "outgoing":
		q = q.Where("status = ? AND requester_id = ?", model.StatusPending, viewer)
	case "blocked":
		q = q.Where("status = ? AND requester_id = ?", model.StatusBlocked, viewer)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown list type"})
		return
	}

	var rels []model.Relationship
	if err := q.Order("created_at DESC").Find(&rels).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	items := make([]Item, 0, len(rels))
	users, err := h.counterparts(viewer, rels)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	for _, r := range rels {
		items = append(items, Item{
			ID:          r.ID,
			Status:      r.Status,
			User:        users[r.Other(viewer)],
			CreatedAt:   r.CreatedAt,
			RespondedAt: r.RespondedAt,
			RequesterID: r.RequesterID,
			AddresseeID: r.AddresseeID,
		})
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

// counterparts fetches the "other user" for each relationship in one query.
func (h *FriendsHandler) counterparts(viewer string, rels []model.Relationship) (map[string]*model.User, error) {
	ids := make([]string, 0, len(rels))
	for _, r := range rels {
		ids = append(ids, r.Other(viewer))
	}
	users := make(map[string]*model.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	var rows []model.User
	if err := h.db.Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, err
	}
	for i := range rows {
		users[rows[i].ID] = &rows[i]
	}
	return users, nil
}

type targetReq struct {
	TargetUserID string `json:"target_user_id" binding:"required"`
}

type relationshipReq struct {
	RelationshipID string `json:"relationship_id" binding:"required"`
}

// Send handles POST /api/friends/send.
// Conflict rules for an existing pair record:
// accepted → 409, blocked → 403, pending toward the caller → auto-accept,
// pending from the caller → 409, declined → re-request as pending.
func (h *FriendsHandler) Send(c *gin.Context) {
	started := time.Now()
	viewer := mw.GetUserID(c)
	var req targetReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TargetUserID == viewer {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot add yourself"})
		return
	}

	pk := model.PairKey(viewer, req.TargetUserID)
	var existing model.Relationship
	err := h.db.Where("pair_key = ?", pk).First(&existing).Error
	switch {
	case err == nil:
		h.sendExisting(c, started, viewer, req.TargetUserID, &existing)
		return
	case !errors.Is(err, gorm.ErrRecordNotFound):
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	rel := &model.Relationship{
		ID:          uuid.NewString(),
		RequesterID: viewer,
		AddresseeID: req.TargetUserID,
		PairKey:     pk,
		Status:      model.StatusPending,
	}
	if err := h.db.Create(rel).Error; err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "request failed"})
		return
	}
	h.announce(c, bus.EventInsert, rel)
	h.record(c, started, "friend_send", req.TargetUserID, req, rel)
	c.JSON(http.StatusOK, gin.H{"relationship": rel})
}

// sendExisting resolves a send against a pre-existing pair record.
func (h *FriendsHandler) sendExisting(c *gin.Context, started time.Time, viewer, target string, existing *model.Relationship) {
	switch existing.Status {
	case model.StatusAccepted:
		c.JSON(http.StatusConflict, gin.H{"error": "already_friends"})
	case model.StatusBlocked:
		c.JSON(http.StatusForbidden, gin.H{"error": "blocked"})
	case model.StatusPending:
		if existing.AddresseeID == viewer {
			// Both sides want the connection; accept instead of duplicating.
			now := time.Now()
			existing.Status = model.StatusAccepted
			existing.RespondedAt = &now
			if err := h.db.Save(existing).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
				return
			}
			h.announce(c, bus.EventUpdate, existing)
			h.record(c, started, "friend_send", target, nil, existing)
			c.JSON(http.StatusOK, gin.H{"relationship": existing, "auto_accepted": true})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": "already_requested"})
	case model.StatusDeclined:
		// A declined record does not bar a fresh attempt; the direction
		// flips to whoever asks now.
		existing.Status = model.StatusPending
		existing.RequesterID = viewer
		existing.AddresseeID = target
		existing.RespondedAt = nil
		if err := h.db.Save(existing).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		h.announce(c, bus.EventUpdate, existing)
		h.record(c, started, "friend_send", target, nil, existing)
		c.JSON(http.StatusOK, gin.H{"relationship": existing})
	}
}

// Accept handles POST /api/friends/accept. Addressee only, pending only.
func (h *FriendsHandler) Accept(c *gin.Context) {
	started := time.Now()
	viewer := mw.GetUserID(c)
	var req relationshipReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rel, ok := h.findPending(c, req.RelationshipID)
	if !ok {
		return
	}
	if rel.AddresseeID != viewer {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	now := time.Now()
	rel.Status = model.StatusAccepted
	rel.RespondedAt = &now
	if err := h.db.Save(rel).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.announce(c, bus.EventUpdate, rel)
	h.record(c, started, "friend_accept", rel.Other(viewer), req, rel)
	c.JSON(http.StatusOK, gin.H{"relationship": rel})
}

// Decline handles POST /api/friends/decline. Addressee only, pending only.
// The record is kept with status declined so history survives; a later
// send from either side revives it.
func (h *FriendsHandler) Decline(c *gin.Context) {
	started := time.Now()
	viewer := mw.GetUserID(c)
	var req relationshipReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rel, ok := h.findPending(c, req.RelationshipID)
	if !ok {
		return
	}
	if rel.AddresseeID != viewer {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	now := time.Now()
	rel.Status = model.StatusDeclined
	rel.RespondedAt = &now
	if err := h.db.Save(rel).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.announce(c, bus.EventUpdate, rel)
	h.record(c, started, "friend_decline", rel.Other(viewer), req, rel)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Cancel handles POST /api/friends/cancel. Requester only, pending only;
// the record is removed entirely.
func (h *FriendsHandler) Cancel(c *gin.Context) {
	started := time.Now()
	viewer := mw.GetUserID(c)
	var req relationshipReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rel, ok := h.findPending(c, req.RelationshipID)
	if !ok {
		return
	}
	if rel.RequesterID != viewer {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}

	if err := h.db.Delete(rel).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.announce(c, bus.EventDelete, rel)
	h.record(c, started, "friend_cancel", rel.Other(viewer), req, rel)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// findPending loads a relationship by id and rejects non-pending ones.
func (h *FriendsHandler) findPending(c *gin.Context, id string) (*model.Relationship, bool) {
	var rel model.Relationship
	if err := h.db.Where("id = ?", id).First(&rel).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return nil, false
	}
	if rel.Status != model.StatusPending {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not pending"})
		return nil, false
	}
	return &rel, true
}

// Remove handles POST /api/friends/remove: deletes the accepted record for
// the pair. The relationship reverts to "none", not to any prior state.
func (h *FriendsHandler) Remove(c *gin.Context) {
	started := time.Now()
	viewer := mw.GetUserID(c)
	var req targetReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pk := model.PairKey(viewer, req.TargetUserID)
	var rel model.Relationship
	err := h.db.Where("pair_key = ? AND status = ?", pk, model.StatusAccepted).First(&rel).Error
	if err == nil {
		if err := h.db.Delete(&rel).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		h.announce(c, bus.EventDelete, &rel)
		h.record(c, started, "friend_remove", req.TargetUserID, req, &rel)
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Block handles POST /api/friends/block. Works from any prior status and
// from either side; the blocker becomes the requester so blocked() lists
// resolve per viewer.
func (h *FriendsHandler) Block(c *gin.Context) {
	started := time.Now()
	viewer := mw.GetUserID(c)
	var req targetReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.TargetUserID == viewer {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot block yourself"})
		return
	}

	pk := model.PairKey(viewer, req.TargetUserID)
	var rel model.Relationship
	err := h.db.Where("pair_key = ?", pk).First(&rel).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		rel = model.Relationship{
			ID:          uuid.NewString(),
			RequesterID: viewer,
			AddresseeID: req.TargetUserID,
			PairKey:     pk,
			Status:      model.StatusBlocked,
		}
		if err := h.db.Create(&rel).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		h.announce(c, bus.EventInsert, &rel)
	case err == nil:
		rel.Status = model.StatusBlocked
		rel.RequesterID = viewer
		rel.AddresseeID = req.TargetUserID
		if err := h.db.Save(&rel).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		h.announce(c, bus.EventUpdate, &rel)
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.record(c, started, "friend_block", req.TargetUserID, req, &rel)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Unblock handles POST /api/friends/unblock: deletes the blocked record.
// The pair ends at "none", never at whatever preceded the block.
func (h *FriendsHandler) Unblock(c *gin.Context) {
	started := time.Now()
	viewer := mw.GetUserID(c)
	var req targetReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	pk := model.PairKey(viewer, req.TargetUserID)
	var rel model.Relationship
	err := h.db.Where("pair_key = ? AND status = ?", pk, model.StatusBlocked).First(&rel).Error
	if err == nil {
		if err := h.db.Delete(&rel).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		h.announce(c, bus.EventDelete, &rel)
		h.record(c, started, "friend_unblock", req.TargetUserID, req, &rel)
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Search handles GET /api/friends/search?q=. Hits are annotated with the
// caller's relationship so the UI can render the right action.
func (h *FriendsHandler) Search(c *gin.Context) {
	viewer := mw.GetUserID(c)
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusOK, gin.H{"users": []SearchedUser{}})
		return
	}

	var users []model.User
	err := h.db.
		Where("username LIKE ? AND id <> ?", "%"+q+"%", viewer).
		Limit(20).
		Find(&users).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	pks := make([]string, 0, len(users))
	for _, u := range users {
		pks = append(pks, model.PairKey(viewer, u.ID))
	}
	relByPair := make(map[string]*model.Relationship)
	if len(pks) > 0 {
		var rels []model.Relationship
		if err := h.db.Where("pair_key IN ?", pks).Find(&rels).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		for i := range rels {
			relByPair[rels[i].PairKey] = &rels[i]
		}
	}

	annotated := make([]SearchedUser, 0, len(users))
	for _, u := range users {
		su := SearchedUser{User: u}
		if rel := relByPair[model.PairKey(viewer, u.ID)]; rel != nil {
			su.Relationship = &RelationshipRef{
				ID:          rel.ID,
				Status:      rel.Status,
				RequesterID: rel.RequesterID,
			}
		}
		annotated = append(annotated, su)
	}
	c.JSON(http.StatusOK, gin.H{"users": annotated})
}

// Status handles GET /api/friends/status?target_user_id=: the raw pair
// record, or null when the pair has no relationship.
func (h *FriendsHandler) Status(c *gin.Context) {
	viewer := mw.GetUserID(c)
	target := c.Query("target_user_id")
	if target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_user_id required"})
		return
	}

	var rel model.Relationship
	err := h.db.Where("pair_key = ?", model.PairKey(viewer, target)).First(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusOK, gin.H{"relationship": nil})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"relationship": rel})
}

// record appends an audit entry for a completed mutation. The trail is
// optional; a nil audit service turns it off.
func (h *FriendsHandler) record(c *gin.Context, started time.Time, action, targetID string, req, resp interface{}) {
	if h.audit == nil {
		return
	}
	h.audit.Log(audit.Entry{
		TraceID:    mw.GetTraceID(c),
		ActorID:    mw.GetUserID(c),
		TargetID:   targetID,
		Action:     action,
		Request:    req,
		Response:   resp,
		IP:         c.ClientIP(),
		DurationMs: int(time.Since(started).Milliseconds()),
	})
}

// announce publishes a relationship change on the bus. Delivery is best
// effort: a failed publish only delays clients until their next re-fetch.
func (h *FriendsHandler) announce(c *gin.Context, event string, rel *model.Relationship) {
	if err := bus.PublishChange(c.Request.Context(), h.ps, relationshipsTable, event, rel); err != nil {
		h.logger.Warn("relationship change publish failed",
			zap.String("event", event),
			zap.String("relationship_id", rel.ID),
			zap.Error(err))
	}
}
