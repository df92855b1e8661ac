package models

import "time"

// Comment is a comment on a post. ParentID points at a top-level comment;
// replies are never nested deeper than one level.
type Comment struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	PostID       uint       `gorm:"not null;index" json:"post_id"`
	UserID       uint       `gorm:"not null;index" json:"user_id"`
	User         User       `gorm:"foreignKey:UserID" json:"user"`
	ParentID     *uint      `gorm:"index" json:"parent_id,omitempty"`
	Content      string     `gorm:"type:text;not null" json:"content"`
	IsActive     bool       `gorm:"default:true;index" json:"is_active"`
	LikesCount   int64      `gorm:"default:0" json:"likes_count"`
	RepliesCount int64      `gorm:"default:0" json:"replies_count"`
	Liked        bool       `gorm:"-" json:"liked"`
	EditedAt     *time.Time `json:"edited_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
