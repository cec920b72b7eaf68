package middleware

import (
	"strings"

	"tunesync-backend/config"
	"tunesync-backend/internal/apperr"
	"tunesync-backend/internal/auth"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
)

const claimsKey = "user"

// Protected middleware
func Protected(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing authorization header",
			})
		}

		claims, err := auth.ValidateToken(token, cfg)
		if err != nil {
			return rejectToken(c, err)
		}

		// Add claims to context for use in protected routes
		c.Locals(claimsKey, claims)
		return c.Next()
	}
}

// OptionalIdentity attaches claims when a valid token is present and lets
// anonymous requests through. A token that is present but invalid is rejected.
func OptionalIdentity(cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := bearerToken(c)
		if token == "" {
			return c.Next()
		}

		claims, err := auth.ValidateToken(token, cfg)
		if err != nil {
			return rejectToken(c, err)
		}

		c.Locals(claimsKey, claims)
		return c.Next()
	}
}

// RequireAccess middleware checks for specific access level
func RequireAccess(requiredAccess string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := GetClaims(c)
		if claims != nil && claims.HasAccess(requiredAccess) {
			return c.Next()
		}

		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Insufficient access rights",
		})
	}
}

// GetClaims returns the claims stored by Protected or OptionalIdentity, or nil.
func GetClaims(c *fiber.Ctx) *auth.Claims {
	claims, _ := c.Locals(claimsKey).(*auth.Claims)
	return claims
}

// bearerToken reads the Authorization header, falling back to the token
// query parameter for websocket upgrades where browsers cannot set headers.
func bearerToken(c *fiber.Ctx) string {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return c.Query("token")
	}

	// Handle both cases: with and without "Bearer " prefix
	if strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
		return strings.TrimSpace(authHeader[7:])
	}
	return authHeader
}

func rejectToken(c *fiber.Ctx, err error) error {
	if apperr.IsKind(err, apperr.KindConfiguration) {
		log.Error().Err(err).Msg("Token validation is misconfigured")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Internal server error",
		})
	}
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "Invalid token",
	})
}
