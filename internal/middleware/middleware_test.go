package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func TestRateLimiterDisabledWithoutRedis(t *testing.T) {
	rl := NewRateLimiter(nil, zaptest.NewLogger(t))
	app := fiber.New()
	app.Post("/upload", rl.UploadLimit(1), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest("POST", "/upload", nil), -1)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, resp.StatusCode)
		}
	}
}

func TestRateLimiterAllowsWhenRedisUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	rl := NewRateLimiter(client, zaptest.NewLogger(t))
	app := fiber.New()
	app.Post("/upload", rl.UploadLimit(1), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("POST", "/upload", nil), -1)
		if err != nil {
			t.Fatal(err)
		}
		if resp.StatusCode != fiber.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, resp.StatusCode)
		}
	}
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	app := fiber.New()
	app.Use(requestid.New())
	app.Use(AccessLog(zap.New(core)))
	app.Get("/ok", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/missing", func(c *fiber.Ctx) error { return fiber.ErrNotFound })

	req := httptest.NewRequest("GET", "/ok", nil)
	req.Header.Set(fiber.HeaderXRequestID, "req-123")
	if _, err := app.Test(req, -1); err != nil {
		t.Fatal(err)
	}
	if _, err := app.Test(httptest.NewRequest("GET", "/missing", nil), -1); err != nil {
		t.Fatal(err)
	}

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d log entries, want 2", len(entries))
	}

	first := entries[0].ContextMap()
	if first["path"] != "/ok" || first["status"] != int64(200) || first["request_id"] != "req-123" {
		t.Errorf("unexpected fields %v", first)
	}
	if entries[0].Level != zap.InfoLevel {
		t.Errorf("level = %v, want info", entries[0].Level)
	}

	second := entries[1].ContextMap()
	if second["status"] != int64(404) {
		t.Errorf("status = %v, want 404", second["status"])
	}
	if entries[1].Level != zap.WarnLevel {
		t.Errorf("level = %v, want warn", entries[1].Level)
	}
}
