package services

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/google/uuid"
	"github.com/yodo-services/backend/internal/models"
	"github.com/yodo-services/backend/internal/repositories"
	"go.uber.org/zap"
)

type SubscriptionStore interface {
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.PushSubscription, error)
	Delete(ctx context.Context, userID uuid.UUID, endpoint string) error
}

// PushDispatcher delivers Web Push notifications with VAPID auth. Endpoints
// that the push service reports gone are pruned on the spot.
type PushDispatcher struct {
	subs            SubscriptionStore
	vapidPublicKey  string
	vapidPrivateKey string
	subject         string
	maxRetries      int
	log             *zap.Logger
}

func NewPushDispatcher(subs SubscriptionStore, vapidPublicKey, vapidPrivateKey, subject string, log *zap.Logger) *PushDispatcher {
	return &PushDispatcher{
		subs:            subs,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		subject:         subject,
		maxRetries:      2,
		log:             log,
	}
}

func (d *PushDispatcher) VAPIDPublicKey() string {
	return d.vapidPublicKey
}

// SendToUser pushes the message to every subscription the user has
// registered. Individual endpoint failures do not abort the fan-out.
func (d *PushDispatcher) SendToUser(ctx context.Context, userID uuid.UUID, msg models.PushMessage) error {
	subs, err := d.subs.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	for _, sub := range subs {
		if err := d.sendOne(ctx, &sub, payload); err != nil {
			d.log.Warn("push delivery failed",
				zap.String("user_id", userID.String()),
				zap.String("endpoint", sub.Endpoint),
				zap.Error(err))
		}
	}
	return nil
}

func (d *PushDispatcher) sendOne(ctx context.Context, sub *models.PushSubscription, payload []byte) error {
	target := &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256DH,
			Auth:   sub.Auth,
		},
	}
	opts := &webpush.Options{
		Subscriber:      d.subject,
		VAPIDPublicKey:  d.vapidPublicKey,
		VAPIDPrivateKey: d.vapidPrivateKey,
		TTL:             3600,
	}

	var lastErr error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}

		resp, err := webpush.SendNotificationWithContext(ctx, payload, target, opts)
		if err != nil {
			lastErr = err
			continue
		}
		status := resp.StatusCode
		resp.Body.Close()

		switch {
		case status == http.StatusNotFound || status == http.StatusGone:
			// Subscription expired on the push service side.
			if err := d.subs.Delete(ctx, sub.UserID, sub.Endpoint); err != nil {
				d.log.Warn("failed to prune dead subscription", zap.Error(err))
			}
			return nil
		case status >= 500:
			lastErr = &models.GatewayError{Transient: true, Status: status, Reason: "push service error"}
			continue
		case status >= 400:
			return &models.GatewayError{Transient: false, Status: status, Reason: "push rejected"}
		default:
			return nil
		}
	}
	return lastErr
}

var _ SubscriptionStore = (*repositories.SubscriptionRepo)(nil)
