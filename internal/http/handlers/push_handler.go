package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/yodo-services/backend/internal/http/dto"
	"github.com/yodo-services/backend/internal/middleware"
	"github.com/yodo-services/backend/internal/models"
	"github.com/yodo-services/backend/internal/repositories"
	"github.com/yodo-services/backend/internal/services"
	"go.uber.org/zap"
)

type PushHandler struct {
	subs       *repositories.SubscriptionRepo
	dispatcher *services.PushDispatcher
	log        *zap.Logger
}

func NewPushHandler(subs *repositories.SubscriptionRepo, dispatcher *services.PushDispatcher, log *zap.Logger) *PushHandler {
	return &PushHandler{subs: subs, dispatcher: dispatcher, log: log}
}

// VAPIDKey is public so the frontend can subscribe before login completes.
func (h *PushHandler) VAPIDKey(c *fiber.Ctx) error {
	return c.JSON(dto.VAPIDKeyResponse{PublicKey: h.dispatcher.VAPIDPublicKey()})
}

func (h *PushHandler) Subscribe(c *fiber.Ctx) error {
	var req dto.PushSubscribeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.Endpoint == "" || req.Keys.P256DH == "" || req.Keys.Auth == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "endpoint and keys are required"})
	}

	ua := c.Get("User-Agent")
	sub := &models.PushSubscription{
		UserID:   middleware.GetUserID(c),
		Endpoint: req.Endpoint,
		P256DH:   req.Keys.P256DH,
		Auth:     req.Keys.Auth,
	}
	if ua != "" {
		sub.UserAgent = &ua
	}
	if err := h.subs.Upsert(c.Context(), sub); err != nil {
		h.log.Error("push subscribe failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: sub})
}

func (h *PushHandler) Unsubscribe(c *fiber.Ctx) error {
	var req dto.PushUnsubscribeRequest
	if err := c.BodyParser(&req); err != nil || req.Endpoint == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "endpoint is required"})
	}

	if err := h.subs.Delete(c.Context(), middleware.GetUserID(c), req.Endpoint); err != nil {
		h.log.Error("push unsubscribe failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}
