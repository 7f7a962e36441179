package model

import "time"

// User is the profile projection exposed by the friends service.
// The full account record (auth, wizard state, billing) lives outside
// this layer; only the fields needed for list/search responses are mapped.
type User struct {
	ID                string    `gorm:"primaryKey;size:36" json:"id"`
	Username          string    `gorm:"size:64;index" json:"username"`
	FirstName         string    `gorm:"size:64" json:"first_name"`
	LastName          string    `gorm:"size:64" json:"last_name"`
	ProfilePictureURL string    `gorm:"size:512" json:"profile_picture_url"`
	UserType          string    `gorm:"size:32" json:"user_type"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}
