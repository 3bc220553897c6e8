package routes

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"gorm.io/gorm"

	"github.com/vistream/vistream/internal/config"
	"github.com/vistream/vistream/internal/handlers"
	"github.com/vistream/vistream/internal/middleware"
	"github.com/vistream/vistream/internal/ratelimit"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	db *gorm.DB,
	authHandler *handlers.AuthHandler,
	healthHandler *handlers.HealthHandler,
	planHandler *handlers.PlanHandler,
	paymentHandler *handlers.PaymentHandler,
	webhookHandler *handlers.WebhookHandler,
	adminHandler *handlers.AdminHandler,
) {
	api := app.Group("/api")

	// Webhooks first: payment providers retry aggressively on errors, so
	// they must never hit the rate limiter or JWT middleware.
	webhooks := api.Group("/webhooks")
	webhooks.Post("/mollie", webhookHandler.HandleMollie)
	webhooks.Post("/stripe", webhookHandler.HandleStripe)

	// General API rate limiter: 60 req/min per IP. Backed by Redis when
	// configured so limits hold across replicas; in-memory otherwise.
	var store fiber.Storage
	if cfg.RedisURL != "" {
		rs, err := ratelimit.NewRedisStorage(cfg.RedisURL)
		if err != nil {
			slog.Warn("redis unavailable, falling back to in-memory rate limiting", "error", err)
		} else {
			store = rs
		}
	}
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
		Storage:           store,
	}))

	api.Get("/health", healthHandler.Check)
	api.Get("/plans", planHandler.List)

	// Auth-specific rate limit: 10 req/min per IP (stricter)
	auth := api.Group("/auth")
	auth.Use(limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
		Storage:           store,
	}))
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Post("/refresh", authHandler.Refresh)

	// Protected routes (JWT required) - apply middleware per route so the
	// public routes above are unaffected.
	api.Post("/auth/logout", middleware.JWTProtected(cfg), authHandler.Logout)

	api.Post("/payments/create", middleware.JWTProtected(cfg), paymentHandler.Create)
	api.Post("/payments/complete", middleware.JWTProtected(cfg), paymentHandler.Complete)

	// Back-office listings: JWT plus role gate; non-admin callers get
	// results scoped to their own rows inside the handlers.
	admin := api.Group("/admin", middleware.BackOfficeJWT(cfg), middleware.BackOfficeRequired(db, cfg))
	admin.Get("/payments", adminHandler.ListPayments)
	admin.Get("/subscriptions", adminHandler.ListSubscriptions)
}
