package repository

import "gorm.io/gorm"

// Repositories bundles every repository over one connection.
type Repositories struct {
	Users    UserRepository
	Posts    PostRepository
	Likes    LikeRepository
	Follows  FollowRepository
	Shares   ShareRepository
	Comments CommentRepository
}

// New builds all repositories on db.
func New(db *gorm.DB) *Repositories {
	return &Repositories{
		Users:    NewUserRepository(db),
		Posts:    NewPostRepository(db),
		Likes:    NewLikeRepository(db),
		Follows:  NewFollowRepository(db),
		Shares:   NewShareRepository(db),
		Comments: NewCommentRepository(db),
	}
}
