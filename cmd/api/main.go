package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/yodo-services/backend/internal/config"
	"github.com/yodo-services/backend/internal/db"
	"github.com/yodo-services/backend/internal/events"
	apphttp "github.com/yodo-services/backend/internal/http"
	"github.com/yodo-services/backend/internal/http/handlers"
	"github.com/yodo-services/backend/internal/repositories"
	"github.com/yodo-services/backend/internal/services"
	"github.com/yodo-services/backend/migrations"
	"go.uber.org/zap"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	cfg.Validate(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, db.PoolOptions{}, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	// Run migrations
	if err := db.RunMigrations(ctx, pool, migrations.FS, log); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	// Redis
	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repositories
	userRepo := repositories.NewUserRepo(pool)
	specialistRepo := repositories.NewSpecialistRepo(pool)
	orderRepo := repositories.NewOrderRepo(pool)
	ledgerRepo := repositories.NewLedgerRepo(pool)
	disputeRepo := repositories.NewDisputeRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	gatewayEventRepo := repositories.NewGatewayEventRepo(pool)
	subscriptionRepo := repositories.NewSubscriptionRepo(pool)
	reviewRepo := repositories.NewReviewRepo(pool)

	// Events
	publisher := events.NewRedisPublisher(rdb, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	// Services
	gatewayClient := services.NewGatewayClient(cfg.GatewayBaseURL, cfg.GatewayShopID, cfg.GatewaySecretKey,
		cfg.GatewayWebhookSecret, cfg.GatewayTimeout, cfg.GatewayMaxRetries, log)
	escrowService := services.NewEscrowService(ledgerRepo, orderRepo, gatewayEventRepo, auditRepo, gatewayClient, publisher, cfg, log)
	disputeService := services.NewDisputeService(disputeRepo, orderRepo, ledgerRepo, escrowService, publisher, log)
	pushDispatcher := services.NewPushDispatcher(subscriptionRepo, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject, log)

	// Handlers
	authHandler := handlers.NewAuthHandler(cfg, userRepo, specialistRepo, log)
	userHandler := handlers.NewUserHandler(userRepo, log)
	catalogHandler := handlers.NewCatalogHandler(specialistRepo, reviewRepo, orderRepo, log)
	orderHandler := handlers.NewOrderHandler(orderRepo, ledgerRepo, auditRepo, specialistRepo, escrowService, disputeService, log)
	disputeHandler := handlers.NewDisputeHandler(disputeService, log)
	pushHandler := handlers.NewPushHandler(subscriptionRepo, pushDispatcher, log)
	webhookHandler := handlers.NewWebhookHandler(gatewayClient, escrowService, log)
	wsHub := handlers.NewWSHub(cfg, subscriber, log)

	// Start WS hub
	wsHub.Start(ctx)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	apphttp.SetupRouter(app, cfg, log, rdb, authHandler, userHandler, catalogHandler,
		orderHandler, disputeHandler, pushHandler, webhookHandler, wsHub)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")
		cancel()
		_ = app.Shutdown()
	}()

	addr := fmt.Sprintf(":%s", cfg.APIPort)
	log.Info("starting API server", zap.String("addr", addr))
	if err := app.Listen(addr); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}
