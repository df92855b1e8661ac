// Package server contains the HTTP handlers for the engagement and feed API.
package server

import (
	"context"
	"time"

	"momentum/internal/bootstrap"
	"momentum/internal/config"
	"momentum/internal/counterstore"
	"momentum/internal/jobs"
	"momentum/internal/middleware"
	"momentum/internal/models"
	"momentum/internal/queue"
	"momentum/internal/repository"
	"momentum/internal/service"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Server holds all dependencies and provides handlers
type Server struct {
	config         *config.Config
	db             *gorm.DB
	redis          *redis.Client
	store          counterstore.Store
	queue          queue.Queue
	repos          *repository.Repositories
	app            *fiber.App
	promMiddleware *fiberprometheus.FiberPrometheus
	engagement     *service.EngagementService
	shares         *service.ShareService
	comments       *service.CommentService
	feeds          *service.FeedService
	reconciler     *jobs.Reconciler
}

// NewServer creates a server over an initialized runtime.
func NewServer(rt *bootstrap.Runtime) (*Server, error) {
	feedCfg, err := rt.FeedConfig()
	if err != nil {
		return nil, err
	}
	deps := rt.ServiceDeps()

	return &Server{
		config:         rt.Config,
		db:             rt.DB,
		redis:          rt.Redis,
		store:          rt.Store,
		queue:          rt.Queue,
		repos:          rt.Repos,
		promMiddleware: middleware.InitMetrics("momentum-api"),
		engagement:     service.NewEngagementService(deps),
		shares:         service.NewShareService(deps),
		comments:       service.NewCommentService(deps),
		feeds:          service.NewFeedService(deps, feedCfg),
		reconciler:     rt.NewReconciler(),
	}, nil
}

// App builds the Fiber application with middleware and routes installed.
func (s *Server) App() *fiber.App {
	if s.app != nil {
		return s.app
	}
	app := fiber.New(fiber.Config{
		AppName:   "Momentum API",
		BodyLimit: 1 * 1024 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			if fe, ok := err.(*fiber.Error); ok {
				return c.Status(fe.Code).JSON(models.ErrorResponse{Error: fe.Message})
			}
			middleware.Logger.ErrorContext(c.UserContext(), "unhandled error", "error", err.Error())
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	s.SetupMiddleware(app)
	s.SetupRoutes(app)
	s.app = app
	return app
}

// SetupMiddleware configures middleware for the Fiber app
func (s *Server) SetupMiddleware(app *fiber.App) {
	// Panic recovery
	app.Use(recover.New())

	// Request ID for tracing
	app.Use(requestid.New())

	app.Use(middleware.TracingMiddleware())

	// Context Middleware to propagate Request ID and User ID
	app.Use(middleware.ContextMiddleware())

	if s.promMiddleware != nil {
		app.Use(middleware.MetricsMiddleware(s.promMiddleware))
	}

	// Security headers
	app.Use(helmet.New())

	// Structured Logging middleware (after requestid and context middleware)
	app.Use(middleware.StructuredLogger())

	// CORS runs before the limiter so rejected requests still carry CORS headers.
	app.Use(cors.New(cors.Config{
		AllowOrigins:     s.config.AllowedOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: s.config.AllowedOrigins != "*",
		MaxAge:           86400,
	}))

	// Global rate limiting (300 requests per minute per IP)
	app.Use(limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		Next: func(c *fiber.Ctx) bool {
			return c.Method() == fiber.MethodOptions || !s.config.IsProduction()
		},
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "Too many requests, please try again later.",
			})
		},
	}))
}

// SetupRoutes configures all routes for the application
func (s *Server) SetupRoutes(app *fiber.App) {
	app.Get("/health/live", s.LivenessCheck)
	app.Get("/health/ready", s.ReadinessCheck)
	if s.promMiddleware != nil {
		s.promMiddleware.RegisterAt(app, "/metrics")
	}

	auth := middleware.AuthRequired(s.config.JWTSecret)
	optional := middleware.OptionalAuth(s.config.JWTSecret)
	api := app.Group("/api")

	// Define specific /:id/:resource routes; posts themselves are owned elsewhere
	posts := api.Group("/posts")
	posts.Post("/:id/like", auth, s.LikePost)
	posts.Delete("/:id/like", auth, s.UnlikePost)
	posts.Get("/:id/liked", auth, s.IsLiked)
	posts.Get("/:id/likes", optional, s.GetLikers)
	posts.Post("/:id/share", auth, middleware.RateLimit(s.redis, middleware.ShareRule), s.SharePost)
	posts.Get("/:id/shares", optional, s.GetShares)
	posts.Get("/:id/share-stats", optional, s.GetShareStats)
	posts.Post("/:id/comments", auth, middleware.RateLimit(s.redis, middleware.CommentRule), s.CreateComment)
	posts.Get("/:id/comments", optional, s.GetComments)

	comments := api.Group("/comments")
	comments.Get("/:id/replies", optional, s.GetReplies)
	comments.Post("/:id/like", auth, s.LikeComment)
	comments.Delete("/:id/like", auth, s.UnlikeComment)
	comments.Put("/:id", auth, s.UpdateComment)
	comments.Delete("/:id", auth, s.DeleteComment)

	users := api.Group("/users")
	users.Post("/:id/follow", auth, middleware.RateLimit(s.redis, middleware.FollowRule), s.FollowUser)
	users.Get("/:id/follow", auth, s.GetFollowStatus)
	users.Delete("/:id/follow", auth, s.UnfollowUser)

	requests := api.Group("/follow-requests", auth)
	requests.Get("/", s.GetFollowRequests)
	requests.Post("/:id/accept", s.AcceptFollowRequest)
	requests.Post("/:id/reject", s.RejectFollowRequest)

	feed := api.Group("/feed")
	feed.Get("/", auth, s.GetFeed)
	feed.Get("/trending", optional, s.GetTrendingFeed)
	feed.Get("/industry/:industry", optional, s.GetIndustryFeed)
	feed.Get("/users/:id/posts", optional, s.GetUserPostsFeed)
	feed.Post("/invalidate", auth, s.InvalidateFeed)

	admin := api.Group("/admin", auth, s.AdminRequired())
	admin.Get("/dead-letters/:kind", s.GetDeadLetters)
	admin.Post("/reconcile", middleware.RateLimit(s.redis, middleware.ReconcileRule), s.Reconcile)
}

// LivenessCheck handles liveness probe requests
func (s *Server) LivenessCheck(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status": "up",
		"time":   time.Now(),
	})
}

// ReadinessCheck reports whether the Durable Record Store and the Counter
// Store both answer.
func (s *Server) ReadinessCheck(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 5*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if sqlDB, err := s.db.DB(); err != nil {
		dbStatus = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "unhealthy"
	}

	storeStatus := "healthy"
	if err := s.store.Ping(ctx); err != nil {
		storeStatus = "unhealthy"
	}

	status := fiber.StatusOK
	overallStatus := "healthy"
	if dbStatus != "healthy" || storeStatus != "healthy" {
		status = fiber.StatusServiceUnavailable
		overallStatus = "unhealthy"
	}

	return c.Status(status).JSON(fiber.Map{
		"status": overallStatus,
		"checks": fiber.Map{
			"database":      dbStatus,
			"counter_store": storeStatus,
		},
		"time": time.Now(),
	})
}

// AdminRequired returns middleware that rejects non-admin users with 403.
// Must be placed after AuthRequired so that userID is available in locals.
func (s *Server) AdminRequired() fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := s.repos.Users.GetByID(c.UserContext(), middleware.CurrentUserID(c))
		if err != nil {
			if models.HasCode(err, models.CodeNotFound) {
				return models.RespondWithError(c, fiber.StatusForbidden,
					models.NewForbiddenError("Admin access required"))
			}
			return models.RespondWithAppError(c, err)
		}
		if !user.IsAdmin {
			return models.RespondWithError(c, fiber.StatusForbidden,
				models.NewForbiddenError("Admin access required"))
		}
		return c.Next()
	}
}

// Start listens on the configured port until Shutdown.
func (s *Server) Start() error {
	app := s.App()
	middleware.Logger.Info("Server starting", "port", s.config.Port)
	return app.Listen(":" + s.config.Port)
}

// Shutdown stops accepting requests and waits for in-flight ones. The
// runtime's connections are closed by its owner.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.app == nil {
		return nil
	}
	return s.app.ShutdownWithContext(ctx)
}
