package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/yodo-services/backend/internal/http/dto"
	"github.com/yodo-services/backend/internal/services"
	"go.uber.org/zap"
)

// WebhookHandler receives payment provider notifications. The contract with
// the provider: 200 means "durably accepted", anything else gets redelivered.
type WebhookHandler struct {
	gateway *services.GatewayClient
	escrow  *services.EscrowService
	log     *zap.Logger
}

func NewWebhookHandler(gateway *services.GatewayClient, escrow *services.EscrowService, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{gateway: gateway, escrow: escrow, log: log}
}

func (h *WebhookHandler) HandleGatewayWebhook(c *fiber.Ctx) error {
	body := c.Body()
	signature := c.Get("X-Gateway-Signature")

	if !h.gateway.VerifyWebhookSignature(body, signature) {
		h.log.Warn("webhook signature mismatch", zap.Int("body_len", len(body)))
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid signature"})
	}

	ev, err := h.gateway.ParseWebhook(body)
	if err != nil {
		// Verified but unparseable: acknowledge so the provider stops
		// redelivering something we will never accept.
		h.log.Warn("webhook parse failed", zap.Error(err))
		return c.JSON(dto.SuccessResponse{OK: true})
	}

	inserted, err := h.escrow.EnqueueGatewayEvent(c.Context(), ev, body)
	if err != nil {
		h.log.Error("webhook enqueue failed", zap.String("provider_event_id", ev.ProviderEventID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	if !inserted {
		h.log.Debug("webhook redelivery ignored", zap.String("provider_event_id", ev.ProviderEventID))
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}
