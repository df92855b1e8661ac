package service

import (
	"context"
	"testing"

	"momentum/internal/counterstore"
	"momentum/internal/models"
	"momentum/internal/queue"
	"momentum/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLikePost_LiveCountLeadsDurableUntilDrained(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db)
	post := testutil.CreatePost(t, f.db, author, func(p *models.Post) { p.LikesCount = 5 })
	for i := 0; i < 5; i++ {
		u := testutil.CreateUser(t, f.db)
		_, err := f.repos.Likes.Ensure(ctx, models.LikeTargetPost, u.ID, post.ID)
		require.NoError(t, err)
	}
	liker := testutil.CreateUser(t, f.db)

	svc := NewEngagementService(f.deps)
	res, err := svc.LikePost(ctx, liker.ID, post.ID)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Liked)
	assert.Equal(t, int64(6), res.LikesCount)
	assert.Equal(t, int64(5), f.post(t, post.ID).LikesCount)

	f.drain(t)

	assert.Equal(t, int64(6), f.post(t, post.ID).LikesCount)
	exists, err := f.repos.Likes.Exists(ctx, models.LikeTargetPost, liker.ID, post.ID)
	require.NoError(t, err)
	assert.True(t, exists)
	records, err := f.repos.Likes.Count(ctx, models.LikeTargetPost, post.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6), records)
}

func TestLikePost_TogglesAreIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db)
	liker := testutil.CreateUser(t, f.db)
	post := testutil.CreatePost(t, f.db, author)
	svc := NewEngagementService(f.deps)

	for i := 0; i < 2; i++ {
		res, err := svc.LikePost(ctx, liker.ID, post.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.LikesCount)
	}
	assert.Equal(t, 1, f.q.Len(queue.KindSyncLike))
	assert.Equal(t, 1, f.q.Len(queue.KindSendNotification))

	liked, err := svc.IsLiked(ctx, liker.ID, post.ID)
	require.NoError(t, err)
	assert.True(t, liked)

	for i := 0; i < 2; i++ {
		res, err := svc.UnlikePost(ctx, liker.ID, post.ID)
		require.NoError(t, err)
		assert.False(t, res.Liked)
		assert.Equal(t, int64(0), res.LikesCount)
	}
	assert.Equal(t, 1, f.q.Len(queue.KindSyncUnlike))

	f.drain(t)
	records, err := f.repos.Likes.Count(ctx, models.LikeTargetPost, post.ID)
	require.NoError(t, err)
	assert.Zero(t, records)
	assert.Zero(t, f.post(t, post.ID).LikesCount)
}

func TestLikePost_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db)
	other := testutil.CreateUser(t, f.db)
	private := testutil.CreatePost(t, f.db, author, func(p *models.Post) { p.Visibility = models.VisibilityPrivate })
	svc := NewEngagementService(f.deps)

	_, err := svc.LikePost(ctx, 0, private.ID)
	assert.True(t, models.HasCode(err, models.CodeUnauthorized))

	_, err = svc.LikePost(ctx, other.ID, private.ID)
	assert.True(t, models.HasCode(err, models.CodeNotFound))

	_, err = svc.LikePost(ctx, other.ID, 999999)
	assert.True(t, models.HasCode(err, models.CodeNotFound))

	// the author can like their own private post without notifying themselves
	res, err := svc.LikePost(ctx, author.ID, private.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.LikesCount)
	assert.Zero(t, f.q.Len(queue.KindSendNotification))
}

func TestLikePost_StoreDownFailsFast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db)
	liker := testutil.CreateUser(t, f.db)
	post := testutil.CreatePost(t, f.db, author)

	f.deps.Store = downStore{}
	svc := NewEngagementService(f.deps)

	_, err := svc.LikePost(ctx, liker.ID, post.ID)
	require.Error(t, err)
	assert.True(t, models.HasCode(err, models.CodeTransientStore))
	assert.Equal(t, 503, models.StatusFor(err))
	assert.Zero(t, f.q.Len(queue.KindSyncLike))

	_, err = svc.Follow(ctx, liker.ID, author.ID)
	assert.True(t, models.HasCode(err, models.CodeTransientStore))
}

func TestLikePost_EnqueueFailureStillSucceeds(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db)
	liker := testutil.CreateUser(t, f.db)
	post := testutil.CreatePost(t, f.db, author)

	f.deps.Queue = failingQueue{}
	svc := NewEngagementService(f.deps)

	res, err := svc.LikePost(ctx, liker.ID, post.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.LikesCount)

	liked, err := svc.IsLiked(ctx, liker.ID, post.ID)
	require.NoError(t, err)
	assert.True(t, liked)
}

func TestLikeComment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db)
	liker := testutil.CreateUser(t, f.db)
	post := testutil.CreatePost(t, f.db, author)
	comment, err := NewCommentService(f.deps).CreateComment(ctx, CreateCommentInput{
		UserID: author.ID, PostID: post.ID, Content: "first",
	})
	require.NoError(t, err)

	svc := NewEngagementService(f.deps)
	res, err := svc.LikeComment(ctx, liker.ID, comment.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.LikesCount)

	f.drain(t)
	got, err := f.repos.Comments.GetByID(ctx, comment.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.LikesCount)
	assert.Zero(t, f.post(t, post.ID).LikesCount)

	res, err = svc.UnlikeComment(ctx, liker.ID, comment.ID)
	require.NoError(t, err)
	assert.Zero(t, res.LikesCount)
	f.drain(t)
	got, err = f.repos.Comments.GetByID(ctx, comment.ID)
	require.NoError(t, err)
	assert.Zero(t, got.LikesCount)
}

func TestLikers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db)
	post := testutil.CreatePost(t, f.db, author)
	svc := NewEngagementService(f.deps)
	for i := 0; i < 3; i++ {
		u := testutil.CreateUser(t, f.db)
		_, err := svc.LikePost(ctx, u.ID, post.ID)
		require.NoError(t, err)
	}
	f.drain(t)

	page, err := svc.Likers(ctx, author.ID, post.ID, 0, 2)
	require.NoError(t, err)
	assert.Len(t, page.Data, 2)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, 2, page.TotalPages)
}

func TestFollow_PublicAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := testutil.CreateUser(t, f.db)
	bob := testutil.CreateUser(t, f.db)
	svc := NewEngagementService(f.deps)

	state, err := svc.Follow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, &models.FollowState{Status: FollowStateAccepted, FollowersCount: 1, FollowingCount: 1}, state)

	state, err = svc.Follow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.FollowersCount)
	assert.Equal(t, 1, f.q.Len(queue.KindSyncFollow))

	f.drain(t)
	edge, err := f.repos.Follows.Get(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	require.NotNil(t, edge)
	assert.Equal(t, models.FollowStatusAccepted, edge.Status)
	got, err := f.repos.Users.GetByID(ctx, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.FollowersCount)

	state, err = svc.Unfollow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, FollowStateNone, state.Status)
	assert.Zero(t, state.FollowersCount)

	f.drain(t)
	edge, err = f.repos.Follows.Get(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Nil(t, edge)
}

func TestFollow_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := testutil.CreateUser(t, f.db)
	svc := NewEngagementService(f.deps)

	_, err := svc.Follow(ctx, alice.ID, alice.ID)
	assert.True(t, models.HasCode(err, models.CodeValidation))
	_, err = svc.Follow(ctx, 0, alice.ID)
	assert.True(t, models.HasCode(err, models.CodeUnauthorized))
	_, err = svc.Follow(ctx, alice.ID, 424242)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestFollow_PrivateAccountPendingThenAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	requester := testutil.CreateUser(t, f.db)
	owner := testutil.CreateUser(t, f.db, func(u *models.User) { u.IsPrivate = true })
	svc := NewEngagementService(f.deps)

	state, err := svc.Follow(ctx, requester.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, FollowStatePending, state.Status)
	assert.Zero(t, state.FollowersCount)
	assert.Zero(t, state.FollowingCount)

	f.drain(t)
	edge, err := f.repos.Follows.Get(ctx, requester.ID, owner.ID)
	require.NoError(t, err)
	require.NotNil(t, edge)
	assert.Equal(t, models.FollowStatusPending, edge.Status)

	requests, err := svc.FollowRequests(ctx, owner.ID, 0, 10)
	require.NoError(t, err)
	require.Len(t, requests.Data, 1)
	assert.Equal(t, requester.ID, requests.Data[0].Requester.ID)
	assert.NotNil(t, requests.Data[0].RequestedAt)

	state, err = svc.AcceptFollowRequest(ctx, owner.ID, requester.ID)
	require.NoError(t, err)
	assert.Equal(t, &models.FollowState{Status: FollowStateAccepted, FollowersCount: 1, FollowingCount: 1}, state)

	// accepting again reports the same state
	state, err = svc.AcceptFollowRequest(ctx, owner.ID, requester.ID)
	require.NoError(t, err)
	assert.Equal(t, FollowStateAccepted, state.Status)
	assert.Equal(t, int64(1), state.FollowersCount)

	f.drain(t)
	edge, err = f.repos.Follows.Get(ctx, requester.ID, owner.ID)
	require.NoError(t, err)
	require.NotNil(t, edge)
	assert.Equal(t, models.FollowStatusAccepted, edge.Status)
	assert.NotNil(t, edge.AcceptedAt)

	requests, err = svc.FollowRequests(ctx, owner.ID, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, requests.Data)

	_, err = svc.RejectFollowRequest(ctx, owner.ID, requester.ID)
	assert.True(t, models.HasCode(err, models.CodeNotFound))
}

func TestRejectFollowRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	requester := testutil.CreateUser(t, f.db)
	owner := testutil.CreateUser(t, f.db, func(u *models.User) { u.IsPrivate = true })
	svc := NewEngagementService(f.deps)

	_, err := svc.AcceptFollowRequest(ctx, owner.ID, requester.ID)
	assert.True(t, models.HasCode(err, models.CodeNotFound))

	_, err = svc.Follow(ctx, requester.ID, owner.ID)
	require.NoError(t, err)
	f.drain(t)

	state, err := svc.RejectFollowRequest(ctx, owner.ID, requester.ID)
	require.NoError(t, err)
	assert.Equal(t, FollowStateRejected, state.Status)
	assert.Zero(t, state.FollowersCount)

	f.drain(t)
	edge, err := f.repos.Follows.Get(ctx, requester.ID, owner.ID)
	require.NoError(t, err)
	assert.Nil(t, edge)

	pending, err := f.store.IsMember(ctx, counterstore.FollowRequestsKey(owner.ID), counterstore.ID(requester.ID))
	require.NoError(t, err)
	assert.False(t, pending)
}

func TestUnfollow_WithdrawsPendingRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	requester := testutil.CreateUser(t, f.db)
	owner := testutil.CreateUser(t, f.db, func(u *models.User) { u.IsPrivate = true })
	svc := NewEngagementService(f.deps)

	_, err := svc.Follow(ctx, requester.ID, owner.ID)
	require.NoError(t, err)
	state, err := svc.Unfollow(ctx, requester.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, FollowStateNone, state.Status)

	f.drain(t)
	edge, err := f.repos.Follows.Get(ctx, requester.ID, owner.ID)
	require.NoError(t, err)
	assert.Nil(t, edge)

	requests, err := svc.FollowRequests(ctx, owner.ID, 0, 10)
	require.NoError(t, err)
	assert.Zero(t, requests.Total)
}

func TestIsLiked_StoreDownReadsRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	author := testutil.CreateUser(t, f.db)
	liker := testutil.CreateUser(t, f.db)
	liked := testutil.CreatePost(t, f.db, author)
	other := testutil.CreatePost(t, f.db, author)

	_, err := NewEngagementService(f.deps).LikePost(ctx, liker.ID, liked.ID)
	require.NoError(t, err)
	f.drain(t)

	f.deps.Store = downStore{}
	svc := NewEngagementService(f.deps)

	got, err := svc.IsLiked(ctx, liker.ID, liked.ID)
	require.NoError(t, err)
	assert.True(t, got)
	got, err = svc.IsLiked(ctx, liker.ID, other.ID)
	require.NoError(t, err)
	assert.False(t, got)
}

func TestFollowRequests_StoreDownReadsRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, f.db, func(u *models.User) { u.IsPrivate = true })
	requester := testutil.CreateUser(t, f.db)

	_, err := NewEngagementService(f.deps).Follow(ctx, requester.ID, owner.ID)
	require.NoError(t, err)
	f.drain(t)

	f.deps.Store = downStore{}
	page, err := NewEngagementService(f.deps).FollowRequests(ctx, owner.ID, 0, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
	require.Len(t, page.Data, 1)
	assert.Equal(t, requester.ID, page.Data[0].Requester.ID)
	assert.NotNil(t, page.Data[0].RequestedAt)
}

func TestFollowStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := testutil.CreateUser(t, f.db, func(u *models.User) { u.IsPrivate = true })
	public := testutil.CreateUser(t, f.db)
	viewer := testutil.CreateUser(t, f.db)
	svc := NewEngagementService(f.deps)

	state, err := svc.FollowStatus(ctx, viewer.ID, public.ID)
	require.NoError(t, err)
	assert.Equal(t, FollowStateNone, state.Status)

	_, err = svc.Follow(ctx, viewer.ID, public.ID)
	require.NoError(t, err)
	_, err = svc.Follow(ctx, viewer.ID, owner.ID)
	require.NoError(t, err)

	state, err = svc.FollowStatus(ctx, viewer.ID, public.ID)
	require.NoError(t, err)
	assert.Equal(t, FollowStateAccepted, state.Status)
	assert.Equal(t, int64(1), state.FollowersCount)
	assert.Equal(t, int64(1), state.FollowingCount)

	state, err = svc.FollowStatus(ctx, viewer.ID, owner.ID)
	require.NoError(t, err)
	assert.Equal(t, FollowStatePending, state.Status)

	_, err = svc.FollowStatus(ctx, viewer.ID, viewer.ID)
	assert.True(t, models.HasCode(err, models.CodeValidation))

	t.Run("store down reads records", func(t *testing.T) {
		f.drain(t)
		f.deps.Store = downStore{}
		svc := NewEngagementService(f.deps)

		state, err := svc.FollowStatus(ctx, viewer.ID, public.ID)
		require.NoError(t, err)
		assert.Equal(t, FollowStateAccepted, state.Status)
		assert.Equal(t, int64(1), state.FollowersCount)
		assert.Equal(t, int64(1), state.FollowingCount)

		state, err = svc.FollowStatus(ctx, viewer.ID, owner.ID)
		require.NoError(t, err)
		assert.Equal(t, FollowStatePending, state.Status)
	})
}
