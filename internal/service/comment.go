package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"momentum/internal/counterstore"
	"momentum/internal/models"
	"momentum/internal/observability"
	"momentum/internal/queue"
)

const maxCommentLen = 5000

// CommentService writes comments to the database synchronously; only the
// post's counter and score follow through the queue.
type CommentService struct {
	*Deps
}

// NewCommentService returns a new CommentService.
func NewCommentService(deps *Deps) *CommentService {
	return &CommentService{Deps: deps}
}

type CreateCommentInput struct {
	UserID   uint
	PostID   uint
	ParentID *uint
	Content  string
}

type UpdateCommentInput struct {
	UserID    uint
	CommentID uint
	Content   string
}

type DeleteCommentInput struct {
	UserID    uint
	CommentID uint
}

func validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", models.NewValidationError("Content is required")
	}
	if utf8.RuneCountInString(content) > maxCommentLen {
		return "", models.NewValidationError("Comment too long (max 5000 characters)")
	}
	return content, nil
}

// CreateComment adds a comment or a reply. A reply to a reply is attached
// to the root comment.
func (s *CommentService) CreateComment(ctx context.Context, in CreateCommentInput) (*models.Comment, error) {
	if in.UserID == 0 {
		return nil, models.NewUnauthorizedError("authentication required")
	}
	content, err := validateContent(in.Content)
	if err != nil {
		return nil, err
	}
	post, err := s.visiblePost(ctx, in.UserID, in.PostID)
	if err != nil {
		return nil, err
	}

	var parent *models.Comment
	if in.ParentID != nil {
		parent, err = s.Repos.Comments.GetByID(ctx, *in.ParentID)
		if err != nil {
			return nil, err
		}
		if !parent.IsActive || parent.PostID != in.PostID {
			return nil, models.NewNotFoundError("Comment", *in.ParentID)
		}
		if parent.ParentID != nil {
			parent, err = s.Repos.Comments.GetByID(ctx, *parent.ParentID)
			if err != nil {
				return nil, err
			}
		}
	}

	comment := &models.Comment{
		PostID:  in.PostID,
		UserID:  in.UserID,
		Content: content,
	}
	if parent != nil {
		comment.ParentID = &parent.ID
	}
	if err := s.Repos.Comments.Create(ctx, comment); err != nil {
		return nil, err
	}
	if parent != nil {
		if _, err := s.Repos.Comments.RecomputeCounters(ctx, parent.ID); err != nil {
			return nil, err
		}
	}

	s.bumpComments(ctx, post, 1)
	s.feedUpdate(ctx, in.PostID)
	if parent != nil {
		s.notify(ctx, queue.NotificationPayload{
			RecipientID: parent.UserID,
			ActorID:     in.UserID,
			Type:        queue.NotifyReply,
			PostID:      in.PostID,
			CommentID:   comment.ID,
		})
	} else {
		s.notify(ctx, queue.NotificationPayload{
			RecipientID: post.UserID,
			ActorID:     in.UserID,
			Type:        queue.NotifyComment,
			PostID:      in.PostID,
			CommentID:   comment.ID,
		})
	}
	return comment, nil
}

// bumpComments moves the live comment counter after the row is already
// committed. A store failure here cannot undo the comment, so it is logged
// and left to the reconciler.
func (s *CommentService) bumpComments(ctx context.Context, post *models.Post, delta int64) {
	key := counterstore.PostCommentsKey(post.ID)
	_, err := s.Store.SeedCounter(ctx, key, post.CommentsCount)
	if err == nil {
		_, err = s.Store.Incr(ctx, key, delta)
	}
	if err != nil {
		observability.LogAsyncOperationError(ctx, "comment_counter", err, map[string]interface{}{"post_id": post.ID})
	}
	recordWrite("comment", err == nil)
}

// ListComments pages through the top-level comments of a post, oldest first.
func (s *CommentService) ListComments(ctx context.Context, viewerID, postID uint, page, limit int) (models.Page[models.Comment], error) {
	page, limit = Pagination(page, limit)
	if _, err := s.visiblePost(ctx, viewerID, postID); err != nil {
		return models.Page[models.Comment]{}, err
	}
	comments, total, err := s.Repos.Comments.ListByPost(ctx, postID, models.Offset(page, limit), limit)
	if err != nil {
		return models.Page[models.Comment]{}, err
	}
	if err := s.mergeLive(ctx, viewerID, comments); err != nil {
		return models.Page[models.Comment]{}, err
	}
	return models.NewPage(comments, page, limit, total), nil
}

// Replies pages through the replies of a top-level comment.
func (s *CommentService) Replies(ctx context.Context, viewerID, commentID uint, page, limit int) (models.Page[models.Comment], error) {
	page, limit = Pagination(page, limit)
	parent, err := s.Repos.Comments.GetByID(ctx, commentID)
	if err != nil {
		return models.Page[models.Comment]{}, err
	}
	if !parent.IsActive {
		return models.Page[models.Comment]{}, models.NewNotFoundError("Comment", commentID)
	}
	if _, err := s.visiblePost(ctx, viewerID, parent.PostID); err != nil {
		return models.Page[models.Comment]{}, err
	}
	replies, total, err := s.Repos.Comments.Replies(ctx, commentID, models.Offset(page, limit), limit)
	if err != nil {
		return models.Page[models.Comment]{}, err
	}
	if err := s.mergeLive(ctx, viewerID, replies); err != nil {
		return models.Page[models.Comment]{}, err
	}
	return models.NewPage(replies, page, limit, total), nil
}

// mergeLive overlays live like counts and the viewer's liked flag.
func (s *CommentService) mergeLive(ctx context.Context, viewerID uint, comments []models.Comment) error {
	if len(comments) == 0 {
		return nil
	}
	keys := make([]string, len(comments))
	members := make([]string, len(comments))
	for i, c := range comments {
		keys[i] = counterstore.CommentLikesKey(c.ID)
		members[i] = counterstore.ID(c.ID)
	}
	live, err := s.Store.GetMany(ctx, keys)
	if err != nil {
		return storeErr(err)
	}
	var liked []bool
	if viewerID != 0 {
		liked, err = s.Store.AreMembers(ctx, counterstore.UserLikedCommentsKey(viewerID), members)
		if err != nil {
			return storeErr(err)
		}
	}
	for i := range comments {
		if v, ok := live[keys[i]]; ok {
			comments[i].LikesCount = v
		}
		if liked != nil {
			comments[i].Liked = liked[i]
		}
	}
	return nil
}

// UpdateComment edits the content of the caller's own comment.
func (s *CommentService) UpdateComment(ctx context.Context, in UpdateCommentInput) (*models.Comment, error) {
	comment, err := s.Repos.Comments.GetByID(ctx, in.CommentID)
	if err != nil {
		return nil, err
	}
	if !comment.IsActive {
		return nil, models.NewNotFoundError("Comment", in.CommentID)
	}
	if comment.UserID != in.UserID {
		return nil, models.NewForbiddenError("You can only update your own comments")
	}
	content, err := validateContent(in.Content)
	if err != nil {
		return nil, err
	}
	return s.Repos.Comments.UpdateContent(ctx, in.CommentID, content)
}

// DeleteComment soft-deletes a comment. Authors and admins may delete.
func (s *CommentService) DeleteComment(ctx context.Context, in DeleteCommentInput) (*models.Comment, error) {
	comment, err := s.Repos.Comments.GetByID(ctx, in.CommentID)
	if err != nil {
		return nil, err
	}
	if !comment.IsActive {
		return nil, models.NewNotFoundError("Comment", in.CommentID)
	}
	if comment.UserID != in.UserID {
		user, err := s.Repos.Users.GetByID(ctx, in.UserID)
		if err != nil {
			return nil, err
		}
		if !user.IsAdmin {
			return nil, models.NewForbiddenError("You can only delete your own comments")
		}
	}

	deactivated, err := s.Repos.Comments.Deactivate(ctx, in.CommentID)
	if err != nil {
		return nil, err
	}
	if !deactivated {
		return comment, nil
	}
	comment.IsActive = false
	if comment.ParentID != nil {
		if _, err := s.Repos.Comments.RecomputeCounters(ctx, *comment.ParentID); err != nil {
			return nil, err
		}
	}

	post, err := s.Repos.Posts.GetByID(ctx, comment.PostID)
	if err != nil {
		return nil, err
	}
	s.bumpComments(ctx, post, -1)
	s.feedUpdate(ctx, comment.PostID)
	return comment, nil
}
