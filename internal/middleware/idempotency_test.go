package middleware

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/gestion-vehicule/gestion_vehicule/internal/logging"
)

const testSecret = "test-secret"

func setupTestApp(t *testing.T) (*fiber.App, *miniredis.Miniredis, *int32) {
	t.Helper()
	mr := miniredis.RunT(t)

	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { cache.Close() })

	var calls int32
	app := fiber.New()
	logger := logging.Discard()
	app.Use(JWTAuth(testSecret), Idempotency(cache, time.Minute, logger))
	app.Post("/resource", func(c *fiber.Ctx) error {
		n := atomic.AddInt32(&calls, 1)
		return c.Status(fiber.StatusCreated).JSON(fiber.Map{"ok": true, "call": n})
	})
	return app, mr, &calls
}

func post(t *testing.T, app *fiber.App, userID, key string) (int, string) {
	t.Helper()
	token, err := IssueToken(testSecret, userID, RoleUser, time.Minute)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(fiber.MethodPost, "/resource", strings.NewReader("{}"))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	if key != "" {
		req.Header.Set(idempotencyKeyHeader, key)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, string(body)
}

func TestIdempotencyRequiresHeader(t *testing.T) {
	app, _, _ := setupTestApp(t)

	status, _ := post(t, app, "user-a", "")
	if status != fiber.StatusBadRequest {
		t.Fatalf("expected %d got %d", fiber.StatusBadRequest, status)
	}
}

func TestIdempotencyReturnsCachedResponse(t *testing.T) {
	app, _, calls := setupTestApp(t)

	status, payload := post(t, app, "user-a", "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("expected status %d got %d", fiber.StatusCreated, status)
	}

	// Second request should return the cached response without invoking handler again.
	status, cached := post(t, app, "user-a", "abc123")
	if status != fiber.StatusCreated {
		t.Fatalf("expected cached status %d got %d", fiber.StatusCreated, status)
	}
	if cached != payload {
		t.Fatalf("expected cached payload %s got %s", payload, cached)
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Fatalf("handler ran %d times", atomic.LoadInt32(calls))
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(cached), &decoded); err != nil {
		t.Fatalf("cached payload invalid json: %v", err)
	}
}

func TestIdempotencyKeysAreScopedPerUser(t *testing.T) {
	app, mr, calls := setupTestApp(t)

	post(t, app, "user-a", "same-key")
	post(t, app, "user-b", "same-key")

	if atomic.LoadInt32(calls) != 2 {
		t.Fatalf("expected each user to reach the handler, got %d calls", atomic.LoadInt32(calls))
	}
	if !mr.Exists(idempotencyKey("user-a", "same-key")) || !mr.Exists(idempotencyKey("user-b", "same-key")) {
		t.Fatalf("expected one stored response per user, keys=%v", mr.Keys())
	}
}

func TestIdempotencyRejectsConcurrentDuplicate(t *testing.T) {
	app, mr, calls := setupTestApp(t)
	if err := mr.Set(idempotencyKey("user-a", "busy"), inProgressMarker); err != nil {
		t.Fatalf("seed marker: %v", err)
	}

	status, _ := post(t, app, "user-a", "busy")
	if status != fiber.StatusConflict {
		t.Fatalf("expected %d got %d", fiber.StatusConflict, status)
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Fatalf("handler must not run for an in-flight key")
	}
}
