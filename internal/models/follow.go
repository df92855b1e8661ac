package models

import "time"

// FollowStatus represents the state of a follow edge.
type FollowStatus string

const (
	FollowStatusPending  FollowStatus = "pending"
	FollowStatusAccepted FollowStatus = "accepted"
)

// Follow is a directed edge from follower to followee. Edges towards
// private accounts start pending and only count once accepted.
type Follow struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	FollowerID  uint         `gorm:"not null;uniqueIndex:idx_follow_pair" json:"follower_id"`
	FollowingID uint         `gorm:"not null;uniqueIndex:idx_follow_pair;index" json:"following_id"`
	Status      FollowStatus `gorm:"type:varchar(16);not null;default:accepted;index" json:"status"`
	Follower    User         `gorm:"foreignKey:FollowerID" json:"follower"`
	Following   User         `gorm:"foreignKey:FollowingID" json:"following"`
	AcceptedAt  *time.Time   `json:"accepted_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// TableName specifies the table name for Follow.
func (Follow) TableName() string {
	return "follows"
}

// FollowRequest is a pending follow as shown to the followee.
type FollowRequest struct {
	Requester   UserSummary `json:"requester"`
	RequestedAt *time.Time  `json:"requested_at,omitempty"`
}

// FollowState is returned by follow, unfollow, accept and reject.
type FollowState struct {
	Status         string `json:"status"`
	FollowersCount int64  `json:"followersCount"`
	FollowingCount int64  `json:"followingCount"`
}
