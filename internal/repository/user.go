package repository

import (
	"context"

	"momentum/internal/models"
	"momentum/internal/observability"

	"gorm.io/gorm"
)

// UserRepository defines the interface for user data operations
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByIDs(ctx context.Context, ids []uint) (map[uint]models.User, error)
	// RecomputeCounters rewrites followers, following and posts counts from records.
	RecomputeCounters(ctx context.Context, userID uint) (*models.User, error)
	// CountFollows counts accepted follow records without writing.
	CountFollows(ctx context.Context, userID uint) (followers, following int64, err error)
	// ListBatch returns users with id > afterID in id order.
	ListBatch(ctx context.Context, afterID uint, limit int) ([]models.User, error)
}

type userRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *gorm.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return dbError(err, "User", user.ID)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	defer observability.TrackQuery("select", "users")()
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, dbError(err, "User", id)
	}
	return &user, nil
}

func (r *userRepository) GetByIDs(ctx context.Context, ids []uint) (map[uint]models.User, error) {
	out := make(map[uint]models.User, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var users []models.User
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, dbError(err, "User", ids)
	}
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

func (r *userRepository) RecomputeCounters(ctx context.Context, userID uint) (*models.User, error) {
	defer observability.TrackQuery("update", "users")()
	res := r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Updates(map[string]interface{}{
			"followers_count": gorm.Expr("(SELECT COUNT(*) FROM follows WHERE follows.following_id = ? AND follows.status = ?)", userID, models.FollowStatusAccepted),
			"following_count": gorm.Expr("(SELECT COUNT(*) FROM follows WHERE follows.follower_id = ? AND follows.status = ?)", userID, models.FollowStatusAccepted),
			"posts_count":     gorm.Expr("(SELECT COUNT(*) FROM posts WHERE posts.user_id = ? AND posts.is_active = ?)", userID, true),
		})
	if res.Error != nil {
		return nil, dbError(res.Error, "User", userID)
	}
	if res.RowsAffected == 0 {
		return nil, models.NewNotFoundError("User", userID)
	}
	return r.GetByID(ctx, userID)
}

func (r *userRepository) CountFollows(ctx context.Context, userID uint) (int64, int64, error) {
	var followers, following int64
	if err := r.db.WithContext(ctx).Model(&models.Follow{}).
		Where("following_id = ? AND status = ?", userID, models.FollowStatusAccepted).
		Count(&followers).Error; err != nil {
		return 0, 0, dbError(err, "User", userID)
	}
	if err := r.db.WithContext(ctx).Model(&models.Follow{}).
		Where("follower_id = ? AND status = ?", userID, models.FollowStatusAccepted).
		Count(&following).Error; err != nil {
		return 0, 0, dbError(err, "User", userID)
	}
	return followers, following, nil
}

func (r *userRepository) ListBatch(ctx context.Context, afterID uint, limit int) ([]models.User, error) {
	var users []models.User
	if err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(batchSize(limit)).
		Find(&users).Error; err != nil {
		return nil, dbError(err, "User", afterID)
	}
	return users, nil
}
