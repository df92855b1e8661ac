package models

import "time"

// ShareType distinguishes the ways a post can be shared.
type ShareType string

const (
	ShareTypeRepost   ShareType = "repost"
	ShareTypeQuote    ShareType = "quote"
	ShareTypeExternal ShareType = "external"
)

// Valid reports whether t is a known share type.
func (t ShareType) Valid() bool {
	switch t {
	case ShareTypeRepost, ShareTypeQuote, ShareTypeExternal:
		return true
	}
	return false
}

// Share records one share of a post. A user may share the same post many
// times; Ref is generated by the writer so replays never duplicate a row.
type Share struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Ref       string    `gorm:"type:varchar(36);uniqueIndex;not null" json:"ref"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	PostID    uint      `gorm:"not null;index" json:"post_id"`
	User      User      `gorm:"foreignKey:UserID" json:"user"`
	ShareType ShareType `gorm:"type:varchar(16);not null" json:"share_type"`
	Caption   string    `gorm:"type:text" json:"caption,omitempty"`
	Platform  string    `gorm:"type:varchar(32)" json:"platform,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ShareStats aggregates shares of a post by type.
type ShareStats struct {
	PostID     uint                `json:"post_id"`
	Total      int64               `json:"total"`
	Live       int64               `json:"live"`
	ByType     map[ShareType]int64 `json:"by_type"`
	ByPlatform map[string]int64    `json:"by_platform"`
}
