package server

import (
	"momentum/internal/middleware"
	"momentum/internal/models"
	"momentum/internal/service"

	"github.com/gofiber/fiber/v2"
)

type shareRequest struct {
	ShareType models.ShareType `json:"share_type"`
	Caption   string           `json:"caption"`
	Platform  string           `json:"platform"`
}

// SharePost handles POST /api/posts/:id/share
func (s *Server) SharePost(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id", "post")
	if err != nil {
		return nil
	}
	var req shareRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	res, err := s.shares.Share(c.UserContext(), service.ShareInput{
		UserID:    middleware.CurrentUserID(c),
		PostID:    postID,
		ShareType: req.ShareType,
		Caption:   req.Caption,
		Platform:  req.Platform,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// GetShares handles GET /api/posts/:id/shares
func (s *Server) GetShares(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id", "post")
	if err != nil {
		return nil
	}
	p := parsePagination(c)
	page, err := s.shares.List(c.UserContext(), middleware.CurrentUserID(c), postID, p.Page, p.Limit)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(page)
}

// GetShareStats handles GET /api/posts/:id/share-stats
func (s *Server) GetShareStats(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id", "post")
	if err != nil {
		return nil
	}
	stats, err := s.shares.Stats(c.UserContext(), middleware.CurrentUserID(c), postID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(stats)
}

type commentRequest struct {
	Content  string `json:"content"`
	ParentID *uint  `json:"parent_id"`
}

// CreateComment handles POST /api/posts/:id/comments
func (s *Server) CreateComment(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id", "post")
	if err != nil {
		return nil
	}
	var req commentRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	comment, err := s.comments.CreateComment(c.UserContext(), service.CreateCommentInput{
		UserID:   middleware.CurrentUserID(c),
		PostID:   postID,
		ParentID: req.ParentID,
		Content:  req.Content,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(comment)
}

// GetComments handles GET /api/posts/:id/comments. Only top-level comments
// are listed; replies come from /api/comments/:id/replies.
func (s *Server) GetComments(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id", "post")
	if err != nil {
		return nil
	}
	p := parsePagination(c)
	page, err := s.comments.ListComments(c.UserContext(), middleware.CurrentUserID(c), postID, p.Page, p.Limit)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(page)
}

// GetReplies handles GET /api/comments/:id/replies
func (s *Server) GetReplies(c *fiber.Ctx) error {
	commentID, err := s.parseID(c, "id", "comment")
	if err != nil {
		return nil
	}
	p := parsePagination(c)
	page, err := s.comments.Replies(c.UserContext(), middleware.CurrentUserID(c), commentID, p.Page, p.Limit)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(page)
}

// UpdateComment handles PUT /api/comments/:id
func (s *Server) UpdateComment(c *fiber.Ctx) error {
	commentID, err := s.parseID(c, "id", "comment")
	if err != nil {
		return nil
	}
	var req commentRequest
	if err := parseBody(c, &req); err != nil {
		return nil
	}
	comment, err := s.comments.UpdateComment(c.UserContext(), service.UpdateCommentInput{
		UserID:    middleware.CurrentUserID(c),
		CommentID: commentID,
		Content:   req.Content,
	})
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(comment)
}

// DeleteComment handles DELETE /api/comments/:id
func (s *Server) DeleteComment(c *fiber.Ctx) error {
	commentID, err := s.parseID(c, "id", "comment")
	if err != nil {
		return nil
	}
	if _, err := s.comments.DeleteComment(c.UserContext(), service.DeleteCommentInput{
		UserID:    middleware.CurrentUserID(c),
		CommentID: commentID,
	}); err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"message": "Comment deleted"})
}
