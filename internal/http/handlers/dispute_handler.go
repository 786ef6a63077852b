package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/yodo-services/backend/internal/http/dto"
	"github.com/yodo-services/backend/internal/middleware"
	"github.com/yodo-services/backend/internal/services"
	"go.uber.org/zap"
)

type DisputeHandler struct {
	disputes *services.DisputeService
	log      *zap.Logger
}

func NewDisputeHandler(disputes *services.DisputeService, log *zap.Logger) *DisputeHandler {
	return &DisputeHandler{disputes: disputes, log: log}
}

func (h *DisputeHandler) GetDispute(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid dispute id"})
	}

	dispute, err := h.disputes.Get(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "dispute not found"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dispute})
}

// ResolveDispute is arbiter-only; the route is behind ArbiterMiddleware.
func (h *DisputeHandler) ResolveDispute(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid dispute id"})
	}

	var req dto.ResolveDisputeRequest
	if err := c.BodyParser(&req); err != nil || req.Resolution == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "resolution is required"})
	}

	dispute, err := h.disputes.Resolve(c.Context(), id, req.Resolution, req.SplitNetMinor, middleware.GetUserID(c))
	if err != nil {
		return escrowError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: dispute})
}
