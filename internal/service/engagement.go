package service

import (
	"context"
	"sort"

	"momentum/internal/counterstore"
	"momentum/internal/models"
	"momentum/internal/observability"
	"momentum/internal/queue"
)

// Follow states reported to clients.
const (
	FollowStateAccepted = "accepted"
	FollowStatePending  = "pending"
	FollowStateNone     = "none"
	FollowStateRejected = "rejected"
)

// LikeResult is the optimistic outcome of a like toggle, read from the
// Counter Store.
type LikeResult struct {
	Success    bool  `json:"success"`
	Liked      bool  `json:"liked"`
	LikesCount int64 `json:"likesCount"`
}

// EngagementService records likes and follows in the Counter Store and
// defers persistence to the sync queue. Nothing on its write path waits for
// the database beyond the existence check.
type EngagementService struct {
	*Deps
}

// NewEngagementService returns a new EngagementService.
func NewEngagementService(deps *Deps) *EngagementService {
	return &EngagementService{Deps: deps}
}

// LikePost likes postID for userID. Liking twice is a no-op that reports the
// current count.
func (s *EngagementService) LikePost(ctx context.Context, userID, postID uint) (*LikeResult, error) {
	if userID == 0 {
		return nil, models.NewUnauthorizedError("authentication required")
	}
	post, err := s.visiblePost(ctx, userID, postID)
	if err != nil {
		return nil, err
	}
	// continue from the durable value on a cold store
	if _, err := s.Store.SeedCounter(ctx, counterstore.PostLikesKey(postID), post.LikesCount); err != nil {
		return nil, storeErr(err)
	}
	created, counts, err := s.Store.Link(ctx, counterstore.PostLikeEdge(userID, postID))
	if err != nil {
		return nil, storeErr(err)
	}
	recordWrite("like", created)

	if created {
		s.enqueue(ctx, queue.KindSyncLike, queue.LikeKey(models.LikeTargetPost, postID, userID), queue.LikePayload{
			UserID:   userID,
			TargetID: postID,
			Target:   models.LikeTargetPost,
			PostID:   postID,
		})
		s.notify(ctx, queue.NotificationPayload{
			RecipientID: post.UserID,
			ActorID:     userID,
			Type:        queue.NotifyLike,
			PostID:      postID,
		})
	}
	return &LikeResult{Success: true, Liked: true, LikesCount: counts[0]}, nil
}

// UnlikePost removes userID's like. Unliking a post that is not liked is a
// no-op.
func (s *EngagementService) UnlikePost(ctx context.Context, userID, postID uint) (*LikeResult, error) {
	if userID == 0 {
		return nil, models.NewUnauthorizedError("authentication required")
	}
	post, err := s.visiblePost(ctx, userID, postID)
	if err != nil {
		return nil, err
	}
	if _, err := s.Store.SeedCounter(ctx, counterstore.PostLikesKey(postID), post.LikesCount); err != nil {
		return nil, storeErr(err)
	}
	removed, counts, err := s.Store.Unlink(ctx, counterstore.PostLikeEdge(userID, postID))
	if err != nil {
		return nil, storeErr(err)
	}
	recordWrite("unlike", removed)

	if removed {
		s.enqueue(ctx, queue.KindSyncUnlike, queue.LikeKey(models.LikeTargetPost, postID, userID), queue.LikePayload{
			UserID:   userID,
			TargetID: postID,
			Target:   models.LikeTargetPost,
			PostID:   postID,
		})
	}
	return &LikeResult{Success: true, Liked: false, LikesCount: counts[0]}, nil
}

// IsLiked reports whether userID currently likes postID.
func (s *EngagementService) IsLiked(ctx context.Context, userID, postID uint) (bool, error) {
	liked, err := s.Store.IsMember(ctx, counterstore.UserLikedPostsKey(userID), counterstore.ID(postID))
	if err == nil {
		return liked, nil
	}
	observability.LogAsyncOperationError(ctx, "is_liked", err, map[string]interface{}{"user_id": userID, "post_id": postID})
	// records may trail a toggle whose sync is still queued
	liked, dbErr := s.Repos.Likes.Exists(ctx, models.LikeTargetPost, userID, postID)
	if dbErr != nil {
		return false, storeErr(err)
	}
	return liked, nil
}

// Likers lists the users who liked postID, most recent first. It reads the
// durable records, so a like made within the sync lag may be missing.
func (s *EngagementService) Likers(ctx context.Context, viewerID, postID uint, page, limit int) (models.Page[models.UserSummary], error) {
	page, limit = Pagination(page, limit)
	if _, err := s.visiblePost(ctx, viewerID, postID); err != nil {
		return models.Page[models.UserSummary]{}, err
	}
	users, total, err := s.Repos.Likes.Likers(ctx, postID, models.Offset(page, limit), limit)
	if err != nil {
		return models.Page[models.UserSummary]{}, err
	}
	out := make([]models.UserSummary, 0, len(users))
	for i := range users {
		out = append(out, users[i].Summary())
	}
	return models.NewPage(out, page, limit, total), nil
}

// LikeComment likes an active comment. It shares the post-like path with a
// comment target.
func (s *EngagementService) LikeComment(ctx context.Context, userID, commentID uint) (*LikeResult, error) {
	return s.toggleComment(ctx, userID, commentID, true)
}

// UnlikeComment removes a comment like.
func (s *EngagementService) UnlikeComment(ctx context.Context, userID, commentID uint) (*LikeResult, error) {
	return s.toggleComment(ctx, userID, commentID, false)
}

func (s *EngagementService) toggleComment(ctx context.Context, userID, commentID uint, like bool) (*LikeResult, error) {
	if userID == 0 {
		return nil, models.NewUnauthorizedError("authentication required")
	}
	comment, err := s.Repos.Comments.GetByID(ctx, commentID)
	if err != nil {
		return nil, err
	}
	if !comment.IsActive {
		return nil, models.NewNotFoundError("Comment", commentID)
	}
	if _, err := s.visiblePost(ctx, userID, comment.PostID); err != nil {
		return nil, err
	}
	if _, err := s.Store.SeedCounter(ctx, counterstore.CommentLikesKey(commentID), comment.LikesCount); err != nil {
		return nil, storeErr(err)
	}

	edge := counterstore.CommentLikeEdge(userID, commentID)
	var (
		changed bool
		counts  []int64
	)
	if like {
		changed, counts, err = s.Store.Link(ctx, edge)
	} else {
		changed, counts, err = s.Store.Unlink(ctx, edge)
	}
	if err != nil {
		return nil, storeErr(err)
	}

	kind, action := queue.KindSyncLike, "comment_like"
	if !like {
		kind, action = queue.KindSyncUnlike, "comment_unlike"
	}
	recordWrite(action, changed)
	if changed {
		s.enqueue(ctx, kind, queue.LikeKey(models.LikeTargetComment, commentID, userID), queue.LikePayload{
			UserID:   userID,
			TargetID: commentID,
			Target:   models.LikeTargetComment,
			PostID:   comment.PostID,
		})
		if like {
			s.notify(ctx, queue.NotificationPayload{
				RecipientID: comment.UserID,
				ActorID:     userID,
				Type:        queue.NotifyLike,
				PostID:      comment.PostID,
				CommentID:   commentID,
			})
		}
	}
	return &LikeResult{Success: true, Liked: like, LikesCount: counts[0]}, nil
}

// seedFollowCounters primes both live follow counters from their durable
// rows.
func (s *EngagementService) seedFollowCounters(ctx context.Context, follower, followee *models.User) error {
	if _, err := s.Store.SeedCounter(ctx, counterstore.FollowersCountKey(followee.ID), followee.FollowersCount); err != nil {
		return storeErr(err)
	}
	if _, err := s.Store.SeedCounter(ctx, counterstore.FollowingCountKey(follower.ID), follower.FollowingCount); err != nil {
		return storeErr(err)
	}
	return nil
}

func (s *EngagementService) followState(ctx context.Context, status string, followerID, followeeID uint) (*models.FollowState, error) {
	followersKey := counterstore.FollowersCountKey(followeeID)
	followingKey := counterstore.FollowingCountKey(followerID)
	counts, err := s.Store.GetMany(ctx, []string{followersKey, followingKey})
	if err != nil {
		return nil, storeErr(err)
	}
	return &models.FollowState{
		Status:         status,
		FollowersCount: counts[followersKey],
		FollowingCount: counts[followingKey],
	}, nil
}

func (s *EngagementService) followPair(ctx context.Context, followerID, followeeID uint) (*models.User, *models.User, error) {
	if followerID == 0 {
		return nil, nil, models.NewUnauthorizedError("authentication required")
	}
	if followeeID == 0 {
		return nil, nil, models.NewValidationError("user id is required")
	}
	if followerID == followeeID {
		return nil, nil, models.NewValidationError("Cannot follow yourself")
	}
	users, err := s.Repos.Users.GetByIDs(ctx, []uint{followerID, followeeID})
	if err != nil {
		return nil, nil, err
	}
	follower, ok := users[followerID]
	if !ok {
		return nil, nil, models.NewNotFoundError("User", followerID)
	}
	followee, ok := users[followeeID]
	if !ok {
		return nil, nil, models.NewNotFoundError("User", followeeID)
	}
	return &follower, &followee, nil
}

// Follow follows followeeID. A private account gets a pending request and
// no counter moves until it is accepted.
func (s *EngagementService) Follow(ctx context.Context, followerID, followeeID uint) (*models.FollowState, error) {
	follower, followee, err := s.followPair(ctx, followerID, followeeID)
	if err != nil {
		return nil, err
	}
	if err := s.seedFollowCounters(ctx, follower, followee); err != nil {
		return nil, err
	}

	// an accepted edge stays accepted even if the account went private since
	following, err := s.Store.IsMember(ctx, counterstore.FollowingKey(followerID), counterstore.ID(followeeID))
	if err != nil {
		return nil, storeErr(err)
	}
	if following {
		recordWrite("follow", false)
		return s.followState(ctx, FollowStateAccepted, followerID, followeeID)
	}

	payload := queue.FollowPayload{FollowerID: followerID, FollowingID: followeeID}
	if followee.IsPrivate {
		created, _, err := s.Store.Link(ctx, counterstore.FollowRequestEdge(followerID, followeeID))
		if err != nil {
			return nil, storeErr(err)
		}
		recordWrite("follow_request", created)
		if created {
			s.enqueue(ctx, queue.KindSyncFollow, queue.FollowKey(followerID, followeeID), payload)
			s.notify(ctx, queue.NotificationPayload{RecipientID: followeeID, ActorID: followerID, Type: queue.NotifyFollowRequest})
		}
		return s.followState(ctx, FollowStatePending, followerID, followeeID)
	}

	created, _, err := s.Store.Link(ctx, counterstore.FollowEdge(followerID, followeeID))
	if err != nil {
		return nil, storeErr(err)
	}
	recordWrite("follow", created)
	if created {
		s.enqueue(ctx, queue.KindSyncFollow, queue.FollowKey(followerID, followeeID), payload)
		s.notify(ctx, queue.NotificationPayload{RecipientID: followeeID, ActorID: followerID, Type: queue.NotifyFollow})
	}
	return s.followState(ctx, FollowStateAccepted, followerID, followeeID)
}

// Unfollow removes an accepted edge or withdraws a pending request.
func (s *EngagementService) Unfollow(ctx context.Context, followerID, followeeID uint) (*models.FollowState, error) {
	follower, followee, err := s.followPair(ctx, followerID, followeeID)
	if err != nil {
		return nil, err
	}
	if err := s.seedFollowCounters(ctx, follower, followee); err != nil {
		return nil, err
	}

	removed, _, err := s.Store.Unlink(ctx, counterstore.FollowEdge(followerID, followeeID))
	if err != nil {
		return nil, storeErr(err)
	}
	withdrawn, _, err := s.Store.Unlink(ctx, counterstore.FollowRequestEdge(followerID, followeeID))
	if err != nil {
		return nil, storeErr(err)
	}
	recordWrite("unfollow", removed || withdrawn)
	if removed || withdrawn {
		s.enqueue(ctx, queue.KindSyncUnfollow, queue.FollowKey(followerID, followeeID),
			queue.FollowPayload{FollowerID: followerID, FollowingID: followeeID})
	}
	return s.followState(ctx, FollowStateNone, followerID, followeeID)
}

// AcceptFollowRequest turns requesterID's pending request to userID into an
// accepted edge. This is where the counters move.
func (s *EngagementService) AcceptFollowRequest(ctx context.Context, userID, requesterID uint) (*models.FollowState, error) {
	requester, user, err := s.followPair(ctx, requesterID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.seedFollowCounters(ctx, requester, user); err != nil {
		return nil, err
	}

	pending, _, err := s.Store.Unlink(ctx, counterstore.FollowRequestEdge(requesterID, userID))
	if err != nil {
		return nil, storeErr(err)
	}
	if !pending {
		// accepting twice is fine, accepting nothing is not
		following, err := s.Store.IsMember(ctx, counterstore.FollowingKey(requesterID), counterstore.ID(userID))
		if err != nil {
			return nil, storeErr(err)
		}
		if !following {
			return nil, models.NewNotFoundError("FollowRequest", requesterID)
		}
		recordWrite("accept", false)
		return s.followState(ctx, FollowStateAccepted, requesterID, userID)
	}

	if _, _, err := s.Store.Link(ctx, counterstore.FollowEdge(requesterID, userID)); err != nil {
		return nil, storeErr(err)
	}
	recordWrite("accept", true)
	s.enqueue(ctx, queue.KindSyncFollow, queue.FollowKey(requesterID, userID),
		queue.FollowPayload{FollowerID: requesterID, FollowingID: userID})
	s.notify(ctx, queue.NotificationPayload{RecipientID: requesterID, ActorID: userID, Type: queue.NotifyFollowAccepted})
	return s.followState(ctx, FollowStateAccepted, requesterID, userID)
}

// RejectFollowRequest drops requesterID's pending request to userID.
func (s *EngagementService) RejectFollowRequest(ctx context.Context, userID, requesterID uint) (*models.FollowState, error) {
	if _, _, err := s.followPair(ctx, requesterID, userID); err != nil {
		return nil, err
	}
	pending, _, err := s.Store.Unlink(ctx, counterstore.FollowRequestEdge(requesterID, userID))
	if err != nil {
		return nil, storeErr(err)
	}
	if !pending {
		return nil, models.NewNotFoundError("FollowRequest", requesterID)
	}
	recordWrite("reject", true)
	s.enqueue(ctx, queue.KindSyncUnfollow, queue.FollowKey(requesterID, userID),
		queue.FollowPayload{FollowerID: requesterID, FollowingID: userID})
	return s.followState(ctx, FollowStateRejected, requesterID, userID)
}

// FollowRequests lists the pending requests addressed to userID, newest
// requester first. Membership comes from the Counter Store so a request is
// listed as soon as it is made.
func (s *EngagementService) FollowRequests(ctx context.Context, userID uint, page, limit int) (models.Page[models.FollowRequest], error) {
	page, limit = Pagination(page, limit)
	members, err := s.Store.Members(ctx, counterstore.FollowRequestsKey(userID))
	if err != nil {
		observability.LogAsyncOperationError(ctx, "follow_requests", err, map[string]interface{}{"user_id": userID})
		return s.durableFollowRequests(ctx, userID, page, limit, err)
	}
	ids := make([]uint, 0, len(members))
	for _, m := range members {
		id, err := counterstore.ParseID(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })

	total := int64(len(ids))
	start := models.Offset(page, limit)
	if start < 0 || start > len(ids) {
		start = len(ids)
	}
	end := start + limit
	if end > len(ids) {
		end = len(ids)
	}
	ids = ids[start:end]

	users, err := s.Repos.Users.GetByIDs(ctx, ids)
	if err != nil {
		return models.Page[models.FollowRequest]{}, err
	}
	since, err := s.Repos.Follows.PendingSince(ctx, userID, ids)
	if err != nil {
		return models.Page[models.FollowRequest]{}, err
	}

	out := make([]models.FollowRequest, 0, len(ids))
	for _, id := range ids {
		u, ok := users[id]
		if !ok {
			continue
		}
		req := models.FollowRequest{Requester: u.Summary()}
		if at, ok := since[id]; ok {
			req.RequestedAt = &at
		}
		out = append(out, req)
	}
	return models.NewPage(out, page, limit, total), nil
}

// durableFollowRequests lists pending requests from the follow records when
// the Counter Store cannot be read.
func (s *EngagementService) durableFollowRequests(ctx context.Context, userID uint, page, limit int, storeFailure error) (models.Page[models.FollowRequest], error) {
	follows, total, err := s.Repos.Follows.Pending(ctx, userID, models.Offset(page, limit), limit)
	if err != nil {
		return models.Page[models.FollowRequest]{}, storeErr(storeFailure)
	}
	out := make([]models.FollowRequest, 0, len(follows))
	for _, f := range follows {
		at := f.CreatedAt
		out = append(out, models.FollowRequest{Requester: f.Follower.Summary(), RequestedAt: &at})
	}
	return models.NewPage(out, page, limit, total), nil
}

// FollowStatus reports how viewerID relates to targetID along with the
// same counters Follow returns. It reads the Counter Store and falls back
// to the follow records and the users' durable counters.
func (s *EngagementService) FollowStatus(ctx context.Context, viewerID, targetID uint) (*models.FollowState, error) {
	viewer, target, err := s.followPair(ctx, viewerID, targetID)
	if err != nil {
		return nil, err
	}

	status, err := s.liveFollowStatus(ctx, viewerID, targetID)
	if err == nil {
		return s.followState(ctx, status, viewerID, targetID)
	}
	observability.LogAsyncOperationError(ctx, "follow_status", err, map[string]interface{}{"viewer_id": viewerID, "target_id": targetID})

	follow, dbErr := s.Repos.Follows.Get(ctx, viewerID, targetID)
	if dbErr != nil {
		return nil, storeErr(err)
	}
	status = FollowStateNone
	if follow != nil {
		status = string(follow.Status)
	}
	return &models.FollowState{
		Status:         status,
		FollowersCount: target.FollowersCount,
		FollowingCount: viewer.FollowingCount,
	}, nil
}

func (s *EngagementService) liveFollowStatus(ctx context.Context, viewerID, targetID uint) (string, error) {
	following, err := s.Store.IsMember(ctx, counterstore.FollowingKey(viewerID), counterstore.ID(targetID))
	if err != nil {
		return "", err
	}
	if following {
		return FollowStateAccepted, nil
	}
	requested, err := s.Store.IsMember(ctx, counterstore.FollowRequestsKey(targetID), counterstore.ID(viewerID))
	if err != nil {
		return "", err
	}
	if requested {
		return FollowStatePending, nil
	}
	return FollowStateNone, nil
}
