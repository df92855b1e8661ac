package repository

import (
	"context"
	"time"

	"momentum/internal/models"
	"momentum/internal/observability"

	"gorm.io/gorm"
)

// CandidateQuery selects feed candidates. Zero-valued filters are ignored.
type CandidateQuery struct {
	Since           time.Time
	ExcludeAuthorID uint
	AuthorID        uint
	Industry        string
	Limit           int
}

// PostRepository defines the interface for post data operations
type PostRepository interface {
	Create(ctx context.Context, post *models.Post) error
	GetByID(ctx context.Context, id uint) (*models.Post, error)
	// GetActive returns the post only when it exists and is active.
	GetActive(ctx context.Context, id uint) (*models.Post, error)
	GetByIDs(ctx context.Context, ids []uint) ([]models.Post, error)
	Candidates(ctx context.Context, q CandidateQuery) ([]models.Post, error)
	// RecomputeEngagement rewrites likes, comments and shares counts from
	// the corresponding records and returns the updated post.
	RecomputeEngagement(ctx context.Context, postID uint) (*models.Post, error)
	// CountEngagement counts the records behind the engagement counters without writing.
	CountEngagement(ctx context.Context, postID uint) (models.Engagement, error)
	UpdateScore(ctx context.Context, postID uint, score float64, at time.Time) error
	SetActive(ctx context.Context, postID uint, active bool) error
	RecentIDs(ctx context.Context, since time.Time) ([]uint, error)
	RecentIDsByAuthor(ctx context.Context, userID uint, since time.Time) ([]uint, error)
	ListBatch(ctx context.Context, afterID uint, limit int) ([]models.Post, error)
}

type postRepository struct {
	db *gorm.DB
}

// NewPostRepository creates a new post repository
func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(ctx context.Context, post *models.Post) error {
	if post.Visibility == "" {
		post.Visibility = models.DefaultVisibility
	}
	if post.ContentType == "" {
		post.ContentType = models.ContentTypeText
	}
	if err := r.db.WithContext(ctx).Create(post).Error; err != nil {
		return dbError(err, "Post", post.ID)
	}
	return nil
}

func (r *postRepository) GetByID(ctx context.Context, id uint) (*models.Post, error) {
	defer observability.TrackQuery("select", "posts")()
	var post models.Post
	if err := r.db.WithContext(ctx).Preload("User").First(&post, id).Error; err != nil {
		return nil, dbError(err, "Post", id)
	}
	return &post, nil
}

func (r *postRepository) GetActive(ctx context.Context, id uint) (*models.Post, error) {
	post, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !post.IsActive {
		return nil, models.NewNotFoundError("Post", id)
	}
	return post, nil
}

func (r *postRepository) GetByIDs(ctx context.Context, ids []uint) ([]models.Post, error) {
	if len(ids) == 0 {
		return []models.Post{}, nil
	}
	defer observability.TrackQuery("select", "posts")()
	var posts []models.Post
	if err := r.db.WithContext(ctx).Preload("User").Where("id IN ?", ids).Find(&posts).Error; err != nil {
		return nil, dbError(err, "Post", ids)
	}
	return posts, nil
}

func (r *postRepository) Candidates(ctx context.Context, q CandidateQuery) ([]models.Post, error) {
	defer observability.TrackQuery("candidates", "posts")()
	query := r.db.WithContext(ctx).
		Preload("User").
		Where("is_active = ?", true)
	if !q.Since.IsZero() {
		query = query.Where("created_at >= ?", q.Since)
	}
	if q.ExcludeAuthorID != 0 {
		query = query.Where("user_id <> ?", q.ExcludeAuthorID)
	}
	if q.AuthorID != 0 {
		query = query.Where("user_id = ?", q.AuthorID)
	}
	if q.Industry != "" {
		query = query.Where("industry = ?", q.Industry)
	}
	if q.Limit > 0 {
		query = query.Limit(q.Limit)
	}

	var posts []models.Post
	if err := query.Order("created_at DESC").Order("id DESC").Find(&posts).Error; err != nil {
		return nil, dbError(err, "Post", "candidates")
	}
	return posts, nil
}

func (r *postRepository) RecomputeEngagement(ctx context.Context, postID uint) (*models.Post, error) {
	defer observability.TrackQuery("update", "posts")()
	res := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ?", postID).
		Updates(map[string]interface{}{
			"likes_count":    gorm.Expr("(SELECT COUNT(*) FROM likes WHERE likes.post_id = ?)", postID),
			"comments_count": gorm.Expr("(SELECT COUNT(*) FROM comments WHERE comments.post_id = ? AND comments.is_active = ?)", postID, true),
			"shares_count":   gorm.Expr("(SELECT COUNT(*) FROM shares WHERE shares.post_id = ?)", postID),
		})
	if res.Error != nil {
		return nil, dbError(res.Error, "Post", postID)
	}
	if res.RowsAffected == 0 {
		return nil, models.NewNotFoundError("Post", postID)
	}
	return r.GetByID(ctx, postID)
}

func (r *postRepository) CountEngagement(ctx context.Context, postID uint) (models.Engagement, error) {
	defer observability.TrackQuery("count", "posts")()
	var e models.Engagement
	err := r.db.WithContext(ctx).
		Raw(`SELECT
			(SELECT COUNT(*) FROM likes WHERE likes.post_id = ?) AS likes,
			(SELECT COUNT(*) FROM comments WHERE comments.post_id = ? AND comments.is_active = ?) AS comments,
			(SELECT COUNT(*) FROM shares WHERE shares.post_id = ?) AS shares`,
			postID, postID, true, postID).
		Scan(&e).Error
	if err != nil {
		return e, dbError(err, "Post", postID)
	}
	return e, nil
}

func (r *postRepository) UpdateScore(ctx context.Context, postID uint, score float64, at time.Time) error {
	res := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ?", postID).
		Updates(map[string]interface{}{"score": score, "score_updated_at": at})
	if res.Error != nil {
		return dbError(res.Error, "Post", postID)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Post", postID)
	}
	return nil
}

func (r *postRepository) SetActive(ctx context.Context, postID uint, active bool) error {
	res := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("id = ?", postID).
		Update("is_active", active)
	if res.Error != nil {
		return dbError(res.Error, "Post", postID)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Post", postID)
	}
	return nil
}

func (r *postRepository) RecentIDs(ctx context.Context, since time.Time) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("is_active = ? AND created_at >= ?", true, since).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, dbError(err, "Post", "recent")
	}
	return ids, nil
}

func (r *postRepository) RecentIDsByAuthor(ctx context.Context, userID uint, since time.Time) ([]uint, error) {
	var ids []uint
	if err := r.db.WithContext(ctx).
		Model(&models.Post{}).
		Where("user_id = ? AND created_at >= ?", userID, since).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, dbError(err, "Post", "recent")
	}
	return ids, nil
}

func (r *postRepository) ListBatch(ctx context.Context, afterID uint, limit int) ([]models.Post, error) {
	var posts []models.Post
	if err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(batchSize(limit)).
		Find(&posts).Error; err != nil {
		return nil, dbError(err, "Post", afterID)
	}
	return posts, nil
}
