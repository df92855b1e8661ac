package repository

import (
	"context"

	"momentum/internal/models"
	"momentum/internal/observability"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ShareRepository defines the interface for share data operations
type ShareRepository interface {
	// Ensure inserts the share unless a row with the same ref exists.
	Ensure(ctx context.Context, share *models.Share) (bool, error)
	List(ctx context.Context, postID uint, offset, limit int) ([]models.Share, int64, error)
	Stats(ctx context.Context, postID uint) (*models.ShareStats, error)
}

type shareRepository struct {
	db *gorm.DB
}

// NewShareRepository creates a new share repository
func NewShareRepository(db *gorm.DB) ShareRepository {
	return &shareRepository{db: db}
}

func (r *shareRepository) Ensure(ctx context.Context, share *models.Share) (bool, error) {
	defer observability.TrackQuery("insert", "shares")()
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "ref"}}, DoNothing: true}).
		Create(share)
	if res.Error != nil {
		return false, dbError(res.Error, "Share", share.Ref)
	}
	return res.RowsAffected == 1, nil
}

func (r *shareRepository) List(ctx context.Context, postID uint, offset, limit int) ([]models.Share, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.Share{}).Where("post_id = ?", postID).Count(&total).Error; err != nil {
		return nil, 0, dbError(err, "Share", postID)
	}

	var shares []models.Share
	if err := r.db.WithContext(ctx).
		Preload("User").
		Where("post_id = ?", postID).
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&shares).Error; err != nil {
		return nil, 0, dbError(err, "Share", postID)
	}
	return shares, total, nil
}

type groupCount struct {
	Bucket string
	Count  int64
}

func (r *shareRepository) Stats(ctx context.Context, postID uint) (*models.ShareStats, error) {
	defer observability.TrackQuery("aggregate", "shares")()
	stats := &models.ShareStats{
		PostID:     postID,
		ByType:     make(map[models.ShareType]int64),
		ByPlatform: make(map[string]int64),
	}

	var byType []groupCount
	if err := r.db.WithContext(ctx).
		Model(&models.Share{}).
		Select("share_type AS bucket, COUNT(*) AS count").
		Where("post_id = ?", postID).
		Group("share_type").
		Scan(&byType).Error; err != nil {
		return nil, dbError(err, "Share", postID)
	}
	for _, g := range byType {
		stats.ByType[models.ShareType(g.Bucket)] = g.Count
		stats.Total += g.Count
	}

	var byPlatform []groupCount
	if err := r.db.WithContext(ctx).
		Model(&models.Share{}).
		Select("platform AS bucket, COUNT(*) AS count").
		Where("post_id = ? AND platform <> ''", postID).
		Group("platform").
		Scan(&byPlatform).Error; err != nil {
		return nil, dbError(err, "Share", postID)
	}
	for _, g := range byPlatform {
		stats.ByPlatform[g.Bucket] = g.Count
	}
	return stats, nil
}
