package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/yodo-services/backend/internal/config"
	"github.com/yodo-services/backend/internal/db"
	"github.com/yodo-services/backend/internal/events"
	"github.com/yodo-services/backend/internal/models"
	"github.com/yodo-services/backend/internal/repositories"
	"github.com/yodo-services/backend/internal/services"
	"go.uber.org/zap"
)

// Notifier subscribes to ledger events and turns them into Web Push
// notifications for the order's parties.

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.VAPIDPrivateKey == "" {
		log.Fatal("VAPID keys are required for the notifier")
	}

	pool, err := db.NewPostgresPool(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4}, log)
	if err != nil {
		log.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := db.NewRedisClient(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Fatal("failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	subscriptionRepo := repositories.NewSubscriptionRepo(pool)
	dispatcher := services.NewPushDispatcher(subscriptionRepo, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject, log)
	subscriber := events.NewRedisSubscriber(rdb, log)

	log.Info("notifier started")

	_ = subscriber.Subscribe(ctx, events.ChannelLedger, func(event events.Event) {
		dispatch(ctx, dispatcher, event, log)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down notifier")
	cancel()
}

func dispatch(ctx context.Context, dispatcher *services.PushDispatcher, event events.Event, log *zap.Logger) {
	msg, recipients := render(event)
	if msg == nil {
		return
	}

	for _, userID := range recipients {
		if err := dispatcher.SendToUser(ctx, userID, *msg); err != nil {
			log.Warn("push dispatch failed", zap.String("user_id", userID.String()), zap.Error(err))
		}
	}
}

// render maps an event to a user-facing message and its recipients. Events
// with no notification mapping return nil.
func render(event events.Event) (*models.PushMessage, []uuid.UUID) {
	clientID := payloadUUID(event, "client_id")
	specialistID := payloadUUID(event, "specialist_id")
	orderID, _ := event.Payload["order_id"].(string)
	data := map[string]any{"order_id": orderID, "type": event.Type}

	switch event.Type {
	case events.EventLedgerTransition:
		newState, _ := event.Payload["new_state"].(string)
		switch newState {
		case models.LedgerStateFundsHeld:
			return &models.PushMessage{
				Title: "Оплата получена",
				Body:  "Средства зарезервированы. Специалист может приступать к работе.",
				Data:  data,
			}, compact(clientID, specialistID)
		case models.LedgerStateCompletionRequested:
			return &models.PushMessage{
				Title: "Работа выполнена",
				Body:  "Специалист отметил заказ выполненным. Подтвердите завершение.",
				Data:  data,
			}, compact(clientID)
		case models.LedgerStateReleased:
			return &models.PushMessage{
				Title: "Оплата переведена",
				Body:  "Средства переведены специалисту.",
				Data:  data,
			}, compact(clientID, specialistID)
		case models.LedgerStateRefunded:
			return &models.PushMessage{
				Title: "Возврат средств",
				Body:  "Оплата по заказу возвращена.",
				Data:  data,
			}, compact(clientID, specialistID)
		case models.LedgerStateCancelled:
			return &models.PushMessage{
				Title: "Заказ отменён",
				Body:  "Платёж по заказу отменён.",
				Data:  data,
			}, compact(clientID, specialistID)
		}
	case events.EventDisputeOpened:
		return &models.PushMessage{
			Title: "Открыт спор",
			Body:  "По заказу открыт спор. Средства заморожены до решения арбитра.",
			Data:  data,
		}, compact(clientID, specialistID)
	case events.EventDisputeResolved:
		return &models.PushMessage{
			Title: "Спор решён",
			Body:  "Арбитр вынес решение по спору.",
			Data:  data,
		}, compact(clientID, specialistID)
	}
	return nil, nil
}

func payloadUUID(event events.Event, key string) *uuid.UUID {
	s, ok := event.Payload[key].(string)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}

func compact(ids ...*uuid.UUID) []uuid.UUID {
	var out []uuid.UUID
	for _, id := range ids {
		if id != nil {
			out = append(out, *id)
		}
	}
	return out
}
