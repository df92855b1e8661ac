package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"momentum/internal/counterstore"
	"momentum/internal/models"
	"momentum/internal/queue"

	"github.com/google/uuid"
)

const (
	maxCaptionLen  = 500
	maxPlatformLen = 32
)

// ShareService records shares. Like the other engagement writes it bumps the
// live counter and leaves the row to the sync queue.
type ShareService struct {
	*Deps
}

// NewShareService returns a new ShareService.
func NewShareService(deps *Deps) *ShareService {
	return &ShareService{Deps: deps}
}

type ShareInput struct {
	UserID    uint
	PostID    uint
	ShareType models.ShareType
	Caption   string
	Platform  string
}

// ShareResult identifies the share and carries the live share count.
type ShareResult struct {
	Success     bool   `json:"success"`
	Ref         string `json:"ref"`
	SharesCount int64  `json:"sharesCount"`
}

// Share records one share. Unlike likes, every call is a new share.
func (s *ShareService) Share(ctx context.Context, in ShareInput) (*ShareResult, error) {
	if in.UserID == 0 {
		return nil, models.NewUnauthorizedError("authentication required")
	}
	if in.ShareType == "" {
		in.ShareType = models.ShareTypeRepost
	}
	if !in.ShareType.Valid() {
		return nil, models.NewValidationError("share_type must be repost, quote or external")
	}
	in.Caption = strings.TrimSpace(in.Caption)
	in.Platform = strings.ToLower(strings.TrimSpace(in.Platform))
	switch in.ShareType {
	case models.ShareTypeQuote:
		if in.Caption == "" {
			return nil, models.NewValidationError("caption is required for quote shares")
		}
		if utf8.RuneCountInString(in.Caption) > maxCaptionLen {
			return nil, models.NewValidationError("Caption too long (max 500 characters)")
		}
		in.Platform = ""
	case models.ShareTypeExternal:
		if in.Platform == "" {
			return nil, models.NewValidationError("platform is required for external shares")
		}
		if len(in.Platform) > maxPlatformLen {
			return nil, models.NewValidationError("platform too long (max 32 characters)")
		}
		in.Caption = ""
	default:
		in.Caption, in.Platform = "", ""
	}

	post, err := s.visiblePost(ctx, in.UserID, in.PostID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Store.SeedCounter(ctx, counterstore.PostSharesKey(in.PostID), post.SharesCount); err != nil {
		return nil, storeErr(err)
	}
	count, err := s.Store.Incr(ctx, counterstore.PostSharesKey(in.PostID), 1)
	if err != nil {
		return nil, storeErr(err)
	}
	recordWrite("share", true)

	ref := uuid.NewString()
	s.enqueue(ctx, queue.KindSyncShare, queue.ShareKey(ref), queue.SharePayload{
		Ref:       ref,
		UserID:    in.UserID,
		PostID:    in.PostID,
		ShareType: in.ShareType,
		Caption:   in.Caption,
		Platform:  in.Platform,
	})
	s.notify(ctx, queue.NotificationPayload{
		RecipientID: post.UserID,
		ActorID:     in.UserID,
		Type:        queue.NotifyShare,
		PostID:      in.PostID,
	})
	return &ShareResult{Success: true, Ref: ref, SharesCount: count}, nil
}

// List pages through the durable shares of a post, newest first.
func (s *ShareService) List(ctx context.Context, viewerID, postID uint, page, limit int) (models.Page[models.Share], error) {
	page, limit = Pagination(page, limit)
	if _, err := s.visiblePost(ctx, viewerID, postID); err != nil {
		return models.Page[models.Share]{}, err
	}
	shares, total, err := s.Repos.Shares.List(ctx, postID, models.Offset(page, limit), limit)
	if err != nil {
		return models.Page[models.Share]{}, err
	}
	return models.NewPage(shares, page, limit, total), nil
}

// Stats aggregates durable shares by type and platform next to the live
// counter.
func (s *ShareService) Stats(ctx context.Context, viewerID, postID uint) (*models.ShareStats, error) {
	post, err := s.visiblePost(ctx, viewerID, postID)
	if err != nil {
		return nil, err
	}
	stats, err := s.Repos.Shares.Stats(ctx, postID)
	if err != nil {
		return nil, err
	}
	live, err := s.Store.GetMany(ctx, []string{counterstore.PostSharesKey(postID)})
	if err != nil {
		return nil, storeErr(err)
	}
	if v, ok := live[counterstore.PostSharesKey(postID)]; ok {
		stats.Live = v
	} else {
		stats.Live = post.SharesCount
	}
	return stats, nil
}
