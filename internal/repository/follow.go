package repository

import (
	"context"
	"errors"
	"time"

	"momentum/internal/models"
	"momentum/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FollowRepository defines the interface for follow edge operations
type FollowRepository interface {
	// Get returns the edge or nil when none exists.
	Get(ctx context.Context, followerID, followingID uint) (*models.Follow, error)
	// Upsert creates the edge or moves it to status.
	Upsert(ctx context.Context, followerID, followingID uint, status models.FollowStatus) error
	Delete(ctx context.Context, followerID, followingID uint) (bool, error)
	Pending(ctx context.Context, followingID uint, offset, limit int) ([]models.Follow, int64, error)
	// PendingSince returns when each of followerIDs requested to follow followingID.
	PendingSince(ctx context.Context, followingID uint, followerIDs []uint) (map[uint]time.Time, error)
	// FollowingIDs returns accepted followees of followerID among candidates.
	FollowingIDs(ctx context.Context, followerID uint, candidates []uint) (map[uint]bool, error)
	ListBatch(ctx context.Context, afterID uint, limit int) ([]models.Follow, error)
}

type followRepository struct {
	db *gorm.DB
}

// NewFollowRepository creates a new follow repository
func NewFollowRepository(db *gorm.DB) FollowRepository {
	return &followRepository{db: db}
}

func (r *followRepository) Get(ctx context.Context, followerID, followingID uint) (*models.Follow, error) {
	var follow models.Follow
	if err := r.db.WithContext(ctx).
		Where("follower_id = ? AND following_id = ?", followerID, followingID).
		First(&follow).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, dbError(err, "Follow", followingID)
	}
	return &follow, nil
}

func (r *followRepository) Upsert(ctx context.Context, followerID, followingID uint, status models.FollowStatus) error {
	defer observability.TrackQuery("upsert", "follows")()
	now := time.Now()
	follow := models.Follow{
		FollowerID:  followerID,
		FollowingID: followingID,
		Status:      status,
	}
	updates := map[string]interface{}{"status": status, "updated_at": now}
	if status == models.FollowStatusAccepted {
		follow.AcceptedAt = &now
		updates["accepted_at"] = now
	} else {
		updates["accepted_at"] = nil
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "follower_id"}, {Name: "following_id"}},
		DoUpdates: clause.Assignments(updates),
	}).Create(&follow).Error
	if err != nil {
		return dbError(err, "Follow", followingID)
	}
	return nil
}

func (r *followRepository) Delete(ctx context.Context, followerID, followingID uint) (bool, error) {
	defer observability.TrackQuery("delete", "follows")()
	res := r.db.WithContext(ctx).
		Where("follower_id = ? AND following_id = ?", followerID, followingID).
		Delete(&models.Follow{})
	if res.Error != nil {
		return false, dbError(res.Error, "Follow", followingID)
	}
	return res.RowsAffected > 0, nil
}

func (r *followRepository) Pending(ctx context.Context, followingID uint, offset, limit int) ([]models.Follow, int64, error) {
	base := r.db.WithContext(ctx).
		Model(&models.Follow{}).
		Where("following_id = ? AND status = ?", followingID, models.FollowStatusPending)

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return nil, 0, dbError(err, "Follow", followingID)
	}

	var follows []models.Follow
	if err := r.db.WithContext(ctx).
		Preload("Follower").
		Where("following_id = ? AND status = ?", followingID, models.FollowStatusPending).
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&follows).Error; err != nil {
		return nil, 0, dbError(err, "Follow", followingID)
	}
	return follows, total, nil
}

func (r *followRepository) PendingSince(ctx context.Context, followingID uint, followerIDs []uint) (map[uint]time.Time, error) {
	out := make(map[uint]time.Time, len(followerIDs))
	if len(followerIDs) == 0 {
		return out, nil
	}
	var follows []models.Follow
	if err := r.db.WithContext(ctx).
		Select("follower_id", "created_at").
		Where("following_id = ? AND status = ? AND follower_id IN ?", followingID, models.FollowStatusPending, followerIDs).
		Find(&follows).Error; err != nil {
		return nil, dbError(err, "Follow", followingID)
	}
	for _, f := range follows {
		out[f.FollowerID] = f.CreatedAt
	}
	return out, nil
}

func (r *followRepository) FollowingIDs(ctx context.Context, followerID uint, candidates []uint) (map[uint]bool, error) {
	out := make(map[uint]bool, len(candidates))
	if len(candidates) == 0 {
		return out, nil
	}
	var ids []uint
	if err := r.db.WithContext(ctx).
		Model(&models.Follow{}).
		Where("follower_id = ? AND status = ? AND following_id IN ?", followerID, models.FollowStatusAccepted, candidates).
		Pluck("following_id", &ids).Error; err != nil {
		return nil, dbError(err, "Follow", followerID)
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (r *followRepository) ListBatch(ctx context.Context, afterID uint, limit int) ([]models.Follow, error) {
	var follows []models.Follow
	if err := r.db.WithContext(ctx).
		Where("id > ?", afterID).
		Order("id ASC").
		Limit(batchSize(limit)).
		Find(&follows).Error; err != nil {
		return nil, dbError(err, "Follow", afterID)
	}
	return follows, nil
}
