package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitPerUser(t *testing.T) {
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	app := fiber.New()
	app.Use(JWTAuth(testSecret))
	app.Post("/transfers", RateLimit(cache, "transfer", 2), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})

	send := func(user string) int {
		token, err := IssueToken(testSecret, user, RoleUser, time.Minute)
		require.NoError(t, err)
		req := httptest.NewRequest(fiber.MethodPost, "/transfers", nil)
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
		resp, err := app.Test(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusCreated, send("user-a"))
	assert.Equal(t, fiber.StatusCreated, send("user-a"))
	assert.Equal(t, fiber.StatusTooManyRequests, send("user-a"))
	assert.Equal(t, fiber.StatusCreated, send("user-b"))

	ttl := mr.TTL("rl:transfer:user-a")
	assert.True(t, ttl > 0 && ttl <= time.Minute, "counter must expire, ttl=%s", ttl)

	mr.FastForward(time.Minute + time.Second)
	assert.Equal(t, fiber.StatusCreated, send("user-a"))
}

func TestRateLimitFailsOpenWithoutRedis(t *testing.T) {
	app := fiber.New()
	app.Post("/transfers", RateLimit(nil, "transfer", 1), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusCreated)
	})
	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/transfers", nil))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}
}
