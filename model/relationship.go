package model

import "time"

// Status is the lifecycle state of a Relationship.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAccepted Status = "accepted"
	StatusDeclined Status = "declined"
	StatusBlocked  Status = "blocked"
)

// Valid reports whether s is one of the four known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAccepted, StatusDeclined, StatusBlocked:
		return true
	}
	return false
}

// Relationship is a directed friend-request record with a lifecycle status.
// Only the addressee may accept/decline; only the requester may cancel.
// PairKey enforces at most one record per unordered user pair.
type Relationship struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	RequesterID string     `gorm:"size:36;index;not null" json:"requester_id"`
	AddresseeID string     `gorm:"size:36;index;not null" json:"addressee_id"`
	PairKey     string     `gorm:"size:80;uniqueIndex;not null" json:"-"`
	Status      Status     `gorm:"size:16;not null" json:"status"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	RespondedAt *time.Time `json:"responded_at"`
}

// PairKey builds the unordered-pair key for two user ids.
func PairKey(a, b string) string {
	if a < b {
		return a + ":" + b
	}
	return b + ":" + a
}

// Other returns the counterpart of userID in the relationship.
func (r *Relationship) Other(userID string) string {
	if r.RequesterID == userID {
		return r.AddresseeID
	}
	return r.RequesterID
}
