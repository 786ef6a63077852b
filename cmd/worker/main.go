package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/yodo-services/backend/internal/config"
	"github.com/yodo-services/backend/internal/db"
	"github.com/yodo-services/backend/internal/events"
	"github.com/yodo-services/backend/internal/repositories"
	"github.com/yodo-services/backend/internal/services"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// The worker owns everything time-driven: applying queued gateway events,
// auto-releasing confirmed work, and cancelling abandoned payments.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, db.PoolOptions{}, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	// Repos
	orderRepo := repositories.NewOrderRepo(pool)
	ledgerRepo := repositories.NewLedgerRepo(pool)
	auditRepo := repositories.NewAuditRepo(pool)
	gatewayEventRepo := repositories.NewGatewayEventRepo(pool)

	// Services
	publisher := events.NewRedisPublisher(rdb, log)
	gatewayClient := services.NewGatewayClient(cfg.GatewayBaseURL, cfg.GatewayShopID, cfg.GatewaySecretKey,
		cfg.GatewayWebhookSecret, cfg.GatewayTimeout, cfg.GatewayMaxRetries, log)
	escrowService := services.NewEscrowService(ledgerRepo, orderRepo, gatewayEventRepo, auditRepo, gatewayClient, publisher, cfg, log)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down worker")
		cancel()
	}()

	log.Info("worker started")

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runTicker(gctx, 5*time.Second, func() {
			n, err := escrowService.ProcessGatewayEvents(gctx)
			if err != nil {
				log.Error("gateway event sweep failed", zap.Error(err))
				return
			}
			if n > 0 {
				log.Info("applied gateway events", zap.Int("count", n))
			}
		})
	})

	g.Go(func() error {
		return runTicker(gctx, time.Minute, func() {
			n, err := escrowService.SweepAutoRelease(gctx, time.Now())
			if err != nil {
				log.Error("auto-release sweep failed", zap.Error(err))
				return
			}
			if n > 0 {
				log.Info("auto-released payments", zap.Int("count", n))
			}
		})
	})

	g.Go(func() error {
		return runTicker(gctx, time.Minute, func() {
			n, err := escrowService.SweepPendingTimeouts(gctx, time.Now())
			if err != nil {
				log.Error("pending timeout sweep failed", zap.Error(err))
				return
			}
			if n > 0 {
				log.Info("cancelled abandoned payments", zap.Int("count", n))
			}
		})
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Error("worker stopped", zap.Error(err))
	}
}

func runTicker(ctx context.Context, interval time.Duration, job func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			job()
		}
	}
}
