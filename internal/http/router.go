package http

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"
	"github.com/yodo-services/backend/internal/config"
	"github.com/yodo-services/backend/internal/http/handlers"
	"github.com/yodo-services/backend/internal/middleware"
	"go.uber.org/zap"
)

func SetupRouter(
	app *fiber.App,
	cfg *config.Config,
	log *zap.Logger,
	rdb *redis.Client,
	authHandler *handlers.AuthHandler,
	userHandler *handlers.UserHandler,
	catalogHandler *handlers.CatalogHandler,
	orderHandler *handlers.OrderHandler,
	disputeHandler *handlers.DisputeHandler,
	pushHandler *handlers.PushHandler,
	webhookHandler *handlers.WebhookHandler,
	wsHub *handlers.WSHub,
) {
	// Global middleware
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Request-ID",
	}))
	app.Use(middleware.RequestIDMiddleware())
	app.Use(middleware.LoggerMiddleware(log))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api/v1")

	// Provider webhook (authenticated by HMAC signature, not JWT)
	api.Post("/payments/webhook", webhookHandler.HandleGatewayWebhook)

	// Auth (public)
	api.Post("/auth/register", authHandler.Register)
	api.Post("/auth/login", authHandler.Login)

	// Rate-limited public endpoints
	api.Use(middleware.RateLimitMiddleware(rdb, 100, time.Minute))

	api.Get("/push/vapid-key", pushHandler.VAPIDKey)
	api.Get("/specialists", catalogHandler.ListSpecialists)
	api.Get("/specialists/:id", catalogHandler.GetSpecialist)
	api.Get("/specialists/:id/reviews", catalogHandler.ListReviews)
	api.Get("/services", catalogHandler.ListServices)
	api.Get("/search", catalogHandler.Search)

	// Protected endpoints
	protected := api.Group("", middleware.AuthMiddleware(cfg, log))

	// User
	protected.Get("/me", userHandler.GetMe)
	protected.Post("/me/ping", userHandler.Ping)

	// Catalog management
	protected.Post("/services", catalogHandler.CreateService)
	protected.Post("/reviews", catalogHandler.CreateReview)

	// Orders + escrow lifecycle
	protected.Post("/orders", orderHandler.CreateOrder)
	protected.Get("/orders", orderHandler.ListOrders)
	protected.Get("/orders/:id", orderHandler.GetOrder)
	protected.Get("/orders/:id/events", orderHandler.GetOrderEvents)
	protected.Post("/orders/:id/pay", orderHandler.Pay)
	protected.Get("/orders/:id/payment", orderHandler.GetPaymentInfo)
	protected.Post("/orders/:id/start", orderHandler.StartWork)
	protected.Post("/orders/:id/complete", orderHandler.CompleteWork)
	protected.Post("/orders/:id/confirm", orderHandler.ConfirmCompletion)
	protected.Post("/orders/:id/cancel", orderHandler.CancelOrder)
	protected.Post("/orders/:id/dispute", orderHandler.OpenDispute)

	// Disputes
	protected.Get("/disputes/:id", disputeHandler.GetDispute)
	protected.Post("/disputes/:id/resolve", middleware.ArbiterMiddleware(cfg), disputeHandler.ResolveDispute)

	// Web Push subscriptions
	protected.Post("/push/subscribe", pushHandler.Subscribe)
	protected.Delete("/push/subscribe", pushHandler.Unsubscribe)

	// WebSocket
	app.Use("/ws", handlers.WSUpgradeMiddleware())
	app.Get("/ws", websocket.New(wsHub.HandleWS))
}
