package ranking

import "momentum/internal/models"

// CanView is the single visibility predicate every feed applies. Public
// posts are visible to everyone, followers-only posts to accepted followers,
// private posts to their author only. An inactive post is visible to nobody.
func CanView(viewerID uint, post *models.Post, acceptedFollower bool) bool {
	if !post.IsActive {
		return false
	}
	if viewerID != 0 && viewerID == post.UserID {
		return true
	}
	switch post.Visibility {
	case models.VisibilityPublic:
		return true
	case models.VisibilityFollowers:
		return viewerID != 0 && acceptedFollower
	default:
		return false
	}
}
