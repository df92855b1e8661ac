package repository

import (
	"context"

	"momentum/internal/models"
	"momentum/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LikeRepository stores post likes and comment likes. Ensure and Remove
// are idempotent and report whether a row changed.
type LikeRepository interface {
	Ensure(ctx context.Context, target models.LikeTarget, userID, targetID uint) (bool, error)
	Remove(ctx context.Context, target models.LikeTarget, userID, targetID uint) (bool, error)
	Exists(ctx context.Context, target models.LikeTarget, userID, targetID uint) (bool, error)
	Count(ctx context.Context, target models.LikeTarget, targetID uint) (int64, error)
	// Likers lists users who like a post, newest first.
	Likers(ctx context.Context, postID uint, offset, limit int) ([]models.User, int64, error)
	// ListBatch walks post likes in id order.
	ListBatch(ctx context.Context, afterID uint, limit int) ([]models.Like, error)
	// ListCommentBatch walks comment likes in id order.
	ListCommentBatch(ctx context.Context, afterID uint, limit int) ([]models.CommentLike, error)
}

type likeRepository struct {
	db *gorm.DB
}

// NewLikeRepository creates a new like repository
func NewLikeRepository(db *gorm.DB) LikeRepository {
	return &likeRepository{db: db}
}

func (r *likeRepository) Ensure(ctx context.Context, target models.LikeTarget, userID, targetID uint) (bool, error) {
	defer observability.TrackQuery("insert", likeTable(target))()
	var row interface{}
	switch target {
	case models.LikeTargetComment:
		row = &models.CommentLike{UserID: userID, CommentID: targetID}
	default:
		row = &models.Like{UserID: userID, PostID: targetID}
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(row)
	if res.Error != nil {
		return false, dbError(res.Error, "Like", targetID)
	}
	return res.RowsAffected == 1, nil
}

func (r *likeRepository) Remove(ctx context.Context, target models.LikeTarget, userID, targetID uint) (bool, error) {
	defer observability.TrackQuery("delete", likeTable(target))()
	var res *gorm.DB
	switch target {
	case models.LikeTargetComment:
		res = r.db.WithContext(ctx).Where("user_id = ? AND comment_id = ?", userID, targetID).Delete(&models.CommentLike{})
	default:
		res = r.db.WithContext(ctx).Where("user_id = ? AND post_id = ?", userID, targetID).Delete(&models.Like{})
	}
	if res.Error != nil {
		return false, dbError(res.Error, "Like", targetID)
	}
	return res.RowsAffected > 0, nil
}

func (r *likeRepository) Exists(ctx context.Context, target models.LikeTarget, userID, targetID uint) (bool, error) {
	var count int64
	if err := r.scope(ctx, target, targetID).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return false, dbError(err, "Like", targetID)
	}
	return count > 0, nil
}

func (r *likeRepository) Count(ctx context.Context, target models.LikeTarget, targetID uint) (int64, error) {
	var count int64
	if err := r.scope(ctx, target, targetID).Count(&count).Error; err != nil {
		return 0, dbError(err, "Like", targetID)
	}
	return count, nil
}

func (r *likeRepository) scope(ctx context.Context, target models.LikeTarget, targetID uint) *gorm.DB {
	if target == models.LikeTargetComment {
		return r.db.WithContext(ctx).Model(&models.CommentLike{}).Where("comment_id = ?", targetID)
	}
	return r.db.WithContext(ctx).Model(&models.Like{}).Where("post_id = ?", targetID)
}

func (r *likeRepository) Likers(ctx context.Context, postID uint, offset, limit int) ([]models.User, int64, error) {
	defer observability.TrackQuery("select", "likes")()
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Like{}).Where("post_id = ?", postID).Count(&total).Error; err != nil {
		return nil, 0, dbError(err, "Like", postID)
	}

	var likes []models.Like
	if err := r.db.WithContext(ctx).
		Preload("User").
		Where("post_id = ?", postID).
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&likes).Error; err != nil {
		return nil, 0, dbError(err, "Like", postID)
	}

	users := make([]models.User, 0, len(likes))
	for _, l := range likes {
		users = append(users, l.User)
	}
	return users, total, nil
}

func (r *likeRepository) ListBatch(ctx context.Context, afterID uint, limit int) ([]models.Like, error) {
	var likes []models.Like
	if err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(batchSize(limit)).
		Find(&likes).Error; err != nil {
		return nil, dbError(err, "Like", afterID)
	}
	return likes, nil
}

func (r *likeRepository) ListCommentBatch(ctx context.Context, afterID uint, limit int) ([]models.CommentLike, error) {
	var likes []models.CommentLike
	if err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(batchSize(limit)).
		Find(&likes).Error; err != nil {
		return nil, dbError(err, "CommentLike", afterID)
	}
	return likes, nil
}

func likeTable(target models.LikeTarget) string {
	if target == models.LikeTargetComment {
		return "comment_likes"
	}
	return "likes"
}
