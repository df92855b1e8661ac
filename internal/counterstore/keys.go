package counterstore

import (
	"fmt"
	"strconv"
)

// Key layout. Post counters and sets are keyed by post, follow state by user.
const (
	userLikedPostsKey    = "user:%d:liked_posts"
	postLikersKey        = "post:%d:likers"
	postLikesKey         = "post:%d:likes"
	postCommentsKey      = "post:%d:comments"
	postSharesKey        = "post:%d:shares"
	userLikedCommentsKey = "user:%d:liked_comments"
	commentLikersKey     = "comment:%d:likers"
	commentLikesKey      = "comment:%d:likes"
	followingKey         = "user:%d:following"
	followersKey         = "user:%d:followers"
	followRequestsKey    = "user:%d:follow_requests"
	requestedKey         = "user:%d:requested"
	followersCountKey    = "user:%d:followers_count"
	followingCountKey    = "user:%d:following_count"
	feedVersionKey       = "feed:version:%d"
	industryFeedKey      = "feed:industry:%s"
)

// GlobalFeedKey ranks every public active post by persisted score.
const GlobalFeedKey = "feed:global"

func UserLikedPostsKey(userID uint) string { return fmt.Sprintf(userLikedPostsKey, userID) }
func PostLikersKey(postID uint) string { return fmt.Sprintf(postLikersKey, postID) }
func PostLikesKey(postID uint) string { return fmt.Sprintf(postLikesKey, postID) }
func PostCommentsKey(postID uint) string { return fmt.Sprintf(postCommentsKey, postID) }
func PostSharesKey(postID uint) string { return fmt.Sprintf(postSharesKey, postID) }
func UserLikedCommentsKey(userID uint) string { return fmt.Sprintf(userLikedCommentsKey, userID) }
func CommentLikersKey(commentID uint) string { return fmt.Sprintf(commentLikersKey, commentID) }
func CommentLikesKey(commentID uint) string { return fmt.Sprintf(commentLikesKey, commentID) }
func FollowingKey(userID uint) string { return fmt.Sprintf(followingKey, userID) }
func FollowersKey(userID uint) string { return fmt.Sprintf(followersKey, userID) }
func FollowRequestsKey(userID uint) string { return fmt.Sprintf(followRequestsKey, userID) }
func RequestedKey(userID uint) string { return fmt.Sprintf(requestedKey, userID) }
func FollowersCountKey(userID uint) string { return fmt.Sprintf(followersCountKey, userID) }
func FollowingCountKey(userID uint) string { return fmt.Sprintf(followingCountKey, userID) }
func FeedVersionKey(userID uint) string { return fmt.Sprintf(feedVersionKey, userID) }
func IndustryFeedKey(industry string) string { return fmt.Sprintf(industryFeedKey, industry) }

// ID renders an entity id as a set member.
func ID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseID is the inverse of ID.
func ParseID(member string) (uint, error) {
	v, err := strconv.ParseUint(member, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("counterstore: bad member %q: %w", member, err)
	}
	return uint(v), nil
}

// PostLikeEdge is the toggle for user liking post.
func PostLikeEdge(userID, postID uint) Edge {
	return Edge{
		Set:          UserLikedPostsKey(userID),
		Member:       ID(postID),
		Mirror:       PostLikersKey(postID),
		MirrorMember: ID(userID),
		Counters:     []string{PostLikesKey(postID)},
	}
}

// CommentLikeEdge is the toggle for user liking comment.
func CommentLikeEdge(userID, commentID uint) Edge {
	return Edge{
		Set:          UserLikedCommentsKey(userID),
		Member:       ID(commentID),
		Mirror:       CommentLikersKey(commentID),
		MirrorMember: ID(userID),
		Counters:     []string{CommentLikesKey(commentID)},
	}
}

// FollowEdge is an accepted follow; counters are [followers of followee, following of follower].
func FollowEdge(followerID, followeeID uint) Edge {
	return Edge{
		Set:          FollowingKey(followerID),
		Member:       ID(followeeID),
		Mirror:       FollowersKey(followeeID),
		MirrorMember: ID(followerID),
		Counters:     []string{FollowersCountKey(followeeID), FollowingCountKey(followerID)},
	}
}

// FollowRequestEdge is a pending follow; it carries no counters.
func FollowRequestEdge(followerID, followeeID uint) Edge {
	return Edge{
		Set:          FollowRequestsKey(followeeID),
		Member:       ID(followerID),
		Mirror:       RequestedKey(followerID),
		MirrorMember: ID(followeeID),
	}
}
