package middleware

import (
	"net/http/httptest"
	"testing"

	"tunesync-backend/config"
	"tunesync-backend/internal/auth"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newApp(cfg *config.Config) *fiber.App {
	app := fiber.New()
	whoami := func(c *fiber.Ctx) error {
		claims := GetClaims(c)
		if claims == nil {
			return c.SendString("anonymous")
		}
		return c.SendString(claims.PrincipalID)
	}
	app.Get("/protected", Protected(cfg), whoami)
	app.Get("/optional", OptionalIdentity(cfg), whoami)
	app.Get("/admin", Protected(cfg), RequireAccess(auth.AccessAdmin), whoami)
	return app
}

func TestProtected(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	app := newApp(cfg)
	token, err := auth.GenerateToken("user-1", false, nil, cfg)
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest("GET", "/protected", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestOptionalIdentity(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	app := newApp(cfg)

	resp, err := app.Test(httptest.NewRequest("GET", "/optional", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	req := httptest.NewRequest("GET", "/optional", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequireAccess(t *testing.T) {
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	app := newApp(cfg)

	plain, err := auth.GenerateToken("user-1", true, nil, cfg)
	require.NoError(t, err)
	admin, err := auth.GenerateToken("ops-1", false, []string{auth.AccessAdmin}, cfg)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+plain)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest("GET", "/admin?token="+admin, nil)
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestMissingSecretIsServerError(t *testing.T) {
	app := newApp(config.Default())

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer whatever")
	resp, err := app.Test(req)

	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
}
