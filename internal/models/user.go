// Package models contains data structures for the application's domain models.
package models

import (
	"time"
)

// User is the slice of a profile the engagement ledger needs: privacy,
// industry tag and the denormalized follow counters.
type User struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	Username       string    `gorm:"uniqueIndex;not null" json:"username"`
	DisplayName    string    `json:"display_name"`
	Industry       string    `gorm:"index" json:"industry"`
	IsPrivate      bool      `gorm:"default:false" json:"is_private"`
	IsAdmin        bool      `gorm:"default:false" json:"is_admin"`
	FollowersCount int64     `gorm:"default:0" json:"followers_count"`
	FollowingCount int64     `gorm:"default:0" json:"following_count"`
	PostsCount     int64     `gorm:"default:0" json:"posts_count"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UserSummary is the compact author/actor shape embedded in list responses.
type UserSummary struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Industry    string `json:"industry,omitempty"`
}

// Summary returns the compact representation of u.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Industry:    u.Industry,
	}
}
