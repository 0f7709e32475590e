package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authApp() *fiber.App {
	app := fiber.New()
	app.Use(JWTAuth(testSecret))
	app.Get("/me", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"user_id": UserID(c), "privileged": IsPrivileged(c)})
	})
	app.Get("/admin", RequireRole(RoleAdmin), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusNoContent)
	})
	return app
}

func get(t *testing.T, app *fiber.App, path, token string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, path, nil)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestJWTAuth(t *testing.T) {
	app := authApp()

	userToken, err := IssueToken(testSecret, "user-a", RoleUser, time.Minute)
	require.NoError(t, err)
	adminToken, err := IssueToken(testSecret, "ops-1", RoleAdmin, time.Minute)
	require.NoError(t, err)
	expired, err := IssueToken(testSecret, "user-a", RoleUser, -time.Minute)
	require.NoError(t, err)
	forged, err := IssueToken("other-secret", "user-a", RoleAdmin, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, fiber.StatusUnauthorized, get(t, app, "/me", ""))
	assert.Equal(t, fiber.StatusOK, get(t, app, "/me", userToken))
	assert.Equal(t, fiber.StatusUnauthorized, get(t, app, "/me", expired))
	assert.Equal(t, fiber.StatusUnauthorized, get(t, app, "/me", forged))

	assert.Equal(t, fiber.StatusForbidden, get(t, app, "/admin", userToken))
	assert.Equal(t, fiber.StatusNoContent, get(t, app, "/admin", adminToken))
}

func TestParseTokenRejectsOtherAlgorithms(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		Role:             RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{Subject: "mallory"},
	})
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseToken(testSecret, raw)
	assert.Error(t, err)
}

func TestParseTokenDefaults(t *testing.T) {
	raw, err := IssueToken(testSecret, "user-a", "", time.Minute)
	require.NoError(t, err)
	claims, err := ParseToken(testSecret, raw)
	require.NoError(t, err)
	assert.Equal(t, "user-a", claims.Subject)
	assert.Empty(t, claims.Role)

	_, err = IssueToken("", "user-a", RoleUser, time.Minute)
	assert.Error(t, err)
}
