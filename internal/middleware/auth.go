// Package middleware provides authentication, logging, tracing, metrics and rate limiting for the HTTP layer.
package middleware

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"momentum/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

var errMissingToken = errors.New("authorization required")

// AuthRequired returns middleware that verifies a bearer JWT signed with
// secret and stores the subject as c.Locals("userID"). Token issuance lives
// outside this service.
func AuthRequired(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, err := userIDFromRequest(c, secret)
		if err != nil {
			msg := "Invalid or expired token"
			if errors.Is(err, errMissingToken) {
				msg = "Authorization header required"
			}
			return models.RespondWithError(c, fiber.StatusUnauthorized, models.NewUnauthorizedError(msg))
		}

		setUser(c, userID)
		return c.Next()
	}
}

// OptionalAuth attaches the user when a valid token is present and lets
// anonymous requests through otherwise.
func OptionalAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if userID, err := userIDFromRequest(c, secret); err == nil {
			setUser(c, userID)
		}
		return c.Next()
	}
}

// CurrentUserID returns the authenticated user, or 0 when anonymous.
func CurrentUserID(c *fiber.Ctx) uint {
	if uid, ok := c.Locals("userID").(uint); ok {
		return uid
	}
	return 0
}

func setUser(c *fiber.Ctx, userID uint) {
	c.Locals("userID", userID)
	// Sync to UserContext for logging and downstream services
	c.SetUserContext(context.WithValue(c.UserContext(), UserIDKey, userID))
}

func userIDFromRequest(c *fiber.Ctx, secret string) (uint, error) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return 0, errMissingToken
	}

	// Extract token from "Bearer <token>"
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return 0, errors.New("invalid authorization header format")
	}

	token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !token.Valid {
		return 0, errors.New("invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errors.New("invalid token claims")
	}

	// Subject claim per RFC 7519
	sub, ok := claims["sub"].(string)
	if !ok {
		return 0, errors.New("missing subject")
	}

	userID, err := strconv.ParseUint(sub, 10, 32)
	if err != nil || userID == 0 {
		return 0, errors.New("invalid user ID in token")
	}
	return uint(userID), nil
}
