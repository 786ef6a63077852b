package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/yodo-services/backend/internal/http/dto"
	"github.com/yodo-services/backend/internal/middleware"
	"github.com/yodo-services/backend/internal/repositories"
	"go.uber.org/zap"
)

type UserHandler struct {
	users *repositories.UserRepo
	log   *zap.Logger
}

func NewUserHandler(users *repositories.UserRepo, log *zap.Logger) *UserHandler {
	return &UserHandler{users: users, log: log}
}

func (h *UserHandler) GetMe(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	user, err := h.users.GetByID(c.Context(), userID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "user not found"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: user})
}

func (h *UserHandler) Ping(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	if err := h.users.UpdateLastActive(c.Context(), userID); err != nil {
		h.log.Warn("ping failed", zap.Error(err))
	}
	return c.JSON(dto.SuccessResponse{OK: true})
}
