package server

import (
	"momentum/internal/middleware"
	"momentum/internal/models"
	"momentum/internal/service"

	"github.com/gofiber/fiber/v2"
)

// LikePost handles POST /api/posts/:id/like
func (s *Server) LikePost(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id", "post")
	if err != nil {
		return nil
	}
	res, err := s.engagement.LikePost(c.UserContext(), middleware.CurrentUserID(c), postID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(res)
}

// UnlikePost handles DELETE /api/posts/:id/like
func (s *Server) UnlikePost(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id", "post")
	if err != nil {
		return nil
	}
	res, err := s.engagement.UnlikePost(c.UserContext(), middleware.CurrentUserID(c), postID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(res)
}

// IsLiked handles GET /api/posts/:id/liked
func (s *Server) IsLiked(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id", "post")
	if err != nil {
		return nil
	}
	liked, err := s.engagement.IsLiked(c.UserContext(), middleware.CurrentUserID(c), postID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"liked": liked})
}

// GetLikers handles GET /api/posts/:id/likes
func (s *Server) GetLikers(c *fiber.Ctx) error {
	postID, err := s.parseID(c, "id", "post")
	if err != nil {
		return nil
	}
	p := parsePagination(c)
	page, err := s.engagement.Likers(c.UserContext(), middleware.CurrentUserID(c), postID, p.Page, p.Limit)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(page)
}

// LikeComment handles POST /api/comments/:id/like
func (s *Server) LikeComment(c *fiber.Ctx) error {
	commentID, err := s.parseID(c, "id", "comment")
	if err != nil {
		return nil
	}
	res, err := s.engagement.LikeComment(c.UserContext(), middleware.CurrentUserID(c), commentID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(res)
}

// UnlikeComment handles DELETE /api/comments/:id/like
func (s *Server) UnlikeComment(c *fiber.Ctx) error {
	commentID, err := s.parseID(c, "id", "comment")
	if err != nil {
		return nil
	}
	res, err := s.engagement.UnlikeComment(c.UserContext(), middleware.CurrentUserID(c), commentID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(res)
}

// FollowUser handles POST /api/users/:id/follow. Following a private
// account answers 202 with a pending state.
func (s *Server) FollowUser(c *fiber.Ctx) error {
	targetID, err := s.parseID(c, "id", "user")
	if err != nil {
		return nil
	}
	state, err := s.engagement.Follow(c.UserContext(), middleware.CurrentUserID(c), targetID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	status := fiber.StatusOK
	if state.Status == service.FollowStatePending {
		status = fiber.StatusAccepted
	}
	return c.Status(status).JSON(state)
}

// GetFollowStatus handles GET /api/users/:id/follow
func (s *Server) GetFollowStatus(c *fiber.Ctx) error {
	targetID, err := s.parseID(c, "id", "user")
	if err != nil {
		return nil
	}
	state, err := s.engagement.FollowStatus(c.UserContext(), middleware.CurrentUserID(c), targetID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(state)
}

// UnfollowUser handles DELETE /api/users/:id/follow
func (s *Server) UnfollowUser(c *fiber.Ctx) error {
	targetID, err := s.parseID(c, "id", "user")
	if err != nil {
		return nil
	}
	state, err := s.engagement.Unfollow(c.UserContext(), middleware.CurrentUserID(c), targetID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(state)
}

// GetFollowRequests handles GET /api/follow-requests
func (s *Server) GetFollowRequests(c *fiber.Ctx) error {
	p := parsePagination(c)
	page, err := s.engagement.FollowRequests(c.UserContext(), middleware.CurrentUserID(c), p.Page, p.Limit)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(page)
}

// AcceptFollowRequest handles POST /api/follow-requests/:id/accept where
// :id is the requesting user.
func (s *Server) AcceptFollowRequest(c *fiber.Ctx) error {
	requesterID, err := s.parseID(c, "id", "user")
	if err != nil {
		return nil
	}
	state, err := s.engagement.AcceptFollowRequest(c.UserContext(), middleware.CurrentUserID(c), requesterID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(state)
}

// RejectFollowRequest handles POST /api/follow-requests/:id/reject
func (s *Server) RejectFollowRequest(c *fiber.Ctx) error {
	requesterID, err := s.parseID(c, "id", "user")
	if err != nil {
		return nil
	}
	state, err := s.engagement.RejectFollowRequest(c.UserContext(), middleware.CurrentUserID(c), requesterID)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(state)
}
