package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records one relationship mutation for traceability. Request and
// Response keep the raw JSON shapes so disputes ("I never blocked him")
// can be resolved without guessing.
type AuditLog struct {
	ID         int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID    string         `gorm:"size:64;index" json:"trace_id"`
	ActorID    string         `gorm:"size:36;index" json:"actor_id"`
	TargetID   string         `gorm:"size:36" json:"target_id"`
	Action     string         `gorm:"size:32;index" json:"action"`
	Request    datatypes.JSON `json:"request"`
	Response   datatypes.JSON `json:"response"`
	Error      string         `gorm:"size:255" json:"error"`
	IP         string         `gorm:"size:64" json:"ip"`
	DurationMs int            `json:"duration_ms"`
	CreatedAt  time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}
