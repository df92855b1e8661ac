package models

import (
	"time"
)

// Visibility controls who may see a post in any feed.
type Visibility string

const (
	VisibilityPublic    Visibility = "public"
	VisibilityFollowers Visibility = "followers"
	VisibilityPrivate   Visibility = "private"
)

// DefaultVisibility is assigned to posts created without an explicit value.
// The feed predicate treats it as visible to everyone, so freshly seeded
// content always reaches the global feed.
const DefaultVisibility = VisibilityPublic

// Valid reports whether v is one of the known visibility values.
func (v Visibility) Valid() bool {
	switch v {
	case VisibilityPublic, VisibilityFollowers, VisibilityPrivate:
		return true
	}
	return false
}

// Content types carried on a post.
const (
	ContentTypeText  = "text"
	ContentTypeImage = "image"
	ContentTypeVideo = "video"
	ContentTypeLink  = "link"
)

// Post represents a published post together with its denormalized
// engagement counters and ranking score.
type Post struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"not null;index" json:"user_id"`
	User           User       `gorm:"foreignKey:UserID" json:"user"`
	Content        string     `gorm:"type:text" json:"content"`
	ContentType    string     `gorm:"default:text" json:"content_type"`
	MediaURL       string     `json:"media_url,omitempty"`
	Industry       string     `gorm:"index" json:"industry"`
	Visibility     Visibility `gorm:"type:varchar(16);default:public;index" json:"visibility"`
	IsActive       bool       `gorm:"default:true;index" json:"is_active"`
	LikesCount     int64      `gorm:"default:0" json:"likes_count"`
	CommentsCount  int64      `gorm:"default:0" json:"comments_count"`
	SharesCount    int64      `gorm:"default:0" json:"shares_count"`
	ViewsCount     int64      `gorm:"default:0" json:"views_count"`
	Score          float64    `gorm:"default:0;index" json:"score"`
	ScoreUpdatedAt *time.Time `json:"score_updated_at,omitempty"`
	CreatedAt      time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Engagement is the live counter view of a post.
type Engagement struct {
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Shares   int64 `json:"shares"`
	Views    int64 `json:"views"`
}

// Engagement returns the denormalized counters stored on the post.
func (p *Post) Engagement() Engagement {
	return Engagement{
		Likes:    p.LikesCount,
		Comments: p.CommentsCount,
		Shares:   p.SharesCount,
		Views:    p.ViewsCount,
	}
}

// FeedItem is a post as returned by the feed endpoints, with live counters
// merged in and the viewer's liked flag.
type FeedItem struct {
	ID          uint        `json:"id"`
	Author      UserSummary `json:"author"`
	Content     string      `json:"content"`
	ContentType string      `json:"content_type"`
	MediaURL    string      `json:"media_url,omitempty"`
	Industry    string      `json:"industry,omitempty"`
	Visibility  Visibility  `json:"visibility"`
	Engagement  Engagement  `json:"engagement"`
	Score       float64     `json:"score"`
	Liked       bool        `json:"liked"`
	CreatedAt   time.Time   `json:"created_at"`
}
