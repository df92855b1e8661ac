package server

import (
	"momentum/internal/middleware"
	"momentum/internal/models"
	"momentum/internal/service"

	"github.com/gofiber/fiber/v2"
)

// feedRequest reads the query parameters shared by every feed endpoint:
// page, limit, algorithm and timeRange.
func feedRequest(c *fiber.Ctx, scope service.FeedScope) service.FeedRequest {
	p := parsePagination(c)
	return service.FeedRequest{
		ViewerID:  middleware.CurrentUserID(c),
		Scope:     scope,
		Page:      p.Page,
		Limit:     p.Limit,
		Algorithm: c.Query("algorithm"),
		TimeRange: c.Query("timeRange"),
	}
}

func (s *Server) serveFeed(c *fiber.Ctx, req service.FeedRequest) error {
	page, err := s.feeds.Feed(c.UserContext(), req)
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	if page.Degraded {
		c.Set("X-Feed-Degraded", "true")
	}
	return c.JSON(page)
}

// GetFeed handles GET /api/feed, the viewer's personal feed.
func (s *Server) GetFeed(c *fiber.Ctx) error {
	return s.serveFeed(c, feedRequest(c, service.ScopePersonal))
}

// GetTrendingFeed handles GET /api/feed/trending
func (s *Server) GetTrendingFeed(c *fiber.Ctx) error {
	return s.serveFeed(c, feedRequest(c, service.ScopeTrending))
}

// GetIndustryFeed handles GET /api/feed/industry/:industry
func (s *Server) GetIndustryFeed(c *fiber.Ctx) error {
	req := feedRequest(c, service.ScopeIndustry)
	req.Industry = c.Params("industry")
	return s.serveFeed(c, req)
}

// GetUserPostsFeed handles GET /api/feed/users/:id/posts
func (s *Server) GetUserPostsFeed(c *fiber.Ctx) error {
	authorID, err := s.parseID(c, "id", "user")
	if err != nil {
		return nil
	}
	req := feedRequest(c, service.ScopeUser)
	req.AuthorID = authorID
	return s.serveFeed(c, req)
}

// InvalidateFeed handles POST /api/feed/invalidate
func (s *Server) InvalidateFeed(c *fiber.Ctx) error {
	gen, err := s.feeds.InvalidateFeed(c.UserContext(), middleware.CurrentUserID(c))
	if err != nil {
		return models.RespondWithAppError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "generation": gen})
}
