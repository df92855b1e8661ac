package repository

import (
	"context"
	"time"

	"momentum/internal/models"
	"momentum/internal/observability"

	"gorm.io/gorm"
)

// CommentRepository defines the interface for comment data operations
type CommentRepository interface {
	Create(ctx context.Context, comment *models.Comment) error
	GetByID(ctx context.Context, id uint) (*models.Comment, error)
	UpdateContent(ctx context.Context, id uint, content string) (*models.Comment, error)
	// Deactivate soft-deletes the comment and reports whether it was active.
	Deactivate(ctx context.Context, id uint) (bool, error)
	ListByPost(ctx context.Context, postID uint, offset, limit int) ([]models.Comment, int64, error)
	Replies(ctx context.Context, parentID uint, offset, limit int) ([]models.Comment, int64, error)
	// RecomputeCounters rewrites likes and replies counts from records.
	RecomputeCounters(ctx context.Context, id uint) (*models.Comment, error)
	ListBatch(ctx context.Context, afterID uint, limit int) ([]models.Comment, error)
}

type commentRepository struct {
	db *gorm.DB
}

// NewCommentRepository creates a new comment repository
func NewCommentRepository(db *gorm.DB) CommentRepository {
	return &commentRepository{db: db}
}

func (r *commentRepository) Create(ctx context.Context, comment *models.Comment) error {
	defer observability.TrackQuery("insert", "comments")()
	if err := r.db.WithContext(ctx).Create(comment).Error; err != nil {
		return dbError(err, "Comment", comment.ID)
	}
	if err := r.db.WithContext(ctx).Preload("User").First(comment, comment.ID).Error; err != nil {
		return dbError(err, "Comment", comment.ID)
	}
	return nil
}

func (r *commentRepository) GetByID(ctx context.Context, id uint) (*models.Comment, error) {
	var comment models.Comment
	if err := r.db.WithContext(ctx).Preload("User").First(&comment, id).Error; err != nil {
		return nil, dbError(err, "Comment", id)
	}
	return &comment, nil
}

func (r *commentRepository) UpdateContent(ctx context.Context, id uint, content string) (*models.Comment, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Comment{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]interface{}{"content": content, "edited_at": time.Now()})
	if res.Error != nil {
		return nil, dbError(res.Error, "Comment", id)
	}
	if res.RowsAffected == 0 {
		return nil, models.NewNotFoundError("Comment", id)
	}
	return r.GetByID(ctx, id)
}

func (r *commentRepository) Deactivate(ctx context.Context, id uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Comment{}).
		Where("id = ? AND is_active = ?", id, true).
		Update("is_active", false)
	if res.Error != nil {
		return false, dbError(res.Error, "Comment", id)
	}
	return res.RowsAffected > 0, nil
}

func (r *commentRepository) ListByPost(ctx context.Context, postID uint, offset, limit int) ([]models.Comment, int64, error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("post_id = ? AND parent_id IS NULL AND is_active = ?", postID, true), offset, limit)
}

func (r *commentRepository) Replies(ctx context.Context, parentID uint, offset, limit int) ([]models.Comment, int64, error) {
	return r.list(ctx, r.db.WithContext(ctx).Where("parent_id = ? AND is_active = ?", parentID, true), offset, limit)
}

func (r *commentRepository) list(ctx context.Context, scope *gorm.DB, offset, limit int) ([]models.Comment, int64, error) {
	defer observability.TrackQuery("select", "comments")()
	var total int64
	if err := scope.Session(&gorm.Session{}).Model(&models.Comment{}).Count(&total).Error; err != nil {
		return nil, 0, dbError(err, "Comment", "list")
	}
	var comments []models.Comment
	if err := scope.Session(&gorm.Session{}).
		Preload("User").
		Order("created_at ASC").
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&comments).Error; err != nil {
		return nil, 0, dbError(err, "Comment", "list")
	}
	return comments, total, nil
}

func (r *commentRepository) RecomputeCounters(ctx context.Context, id uint) (*models.Comment, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Comment{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"likes_count":   gorm.Expr("(SELECT COUNT(*) FROM comment_likes WHERE comment_likes.comment_id = ?)", id),
			"replies_count": gorm.Expr("(SELECT COUNT(*) FROM comments AS r WHERE r.parent_id = ? AND r.is_active = ?)", id, true),
		})
	if res.Error != nil {
		return nil, dbError(res.Error, "Comment", id)
	}
	if res.RowsAffected == 0 {
		return nil, models.NewNotFoundError("Comment", id)
	}
	return r.GetByID(ctx, id)
}

func (r *commentRepository) ListBatch(ctx context.Context, afterID uint, limit int) ([]models.Comment, error) {
	var comments []models.Comment
	if err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(batchSize(limit)).
		Find(&comments).Error; err != nil {
		return nil, dbError(err, "Comment", afterID)
	}
	return comments, nil
}
