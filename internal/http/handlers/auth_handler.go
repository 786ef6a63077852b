package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/yodo-services/backend/internal/auth"
	"github.com/yodo-services/backend/internal/config"
	"github.com/yodo-services/backend/internal/http/dto"
	"github.com/yodo-services/backend/internal/models"
	"github.com/yodo-services/backend/internal/repositories"
	"go.uber.org/zap"
)

type AuthHandler struct {
	cfg         *config.Config
	users       *repositories.UserRepo
	specialists *repositories.SpecialistRepo
	log         *zap.Logger
}

func NewAuthHandler(cfg *config.Config, users *repositories.UserRepo, specialists *repositories.SpecialistRepo, log *zap.Logger) *AuthHandler {
	return &AuthHandler{cfg: cfg, users: users, specialists: specialists, log: log}
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "valid email is required"})
	}
	if req.Name == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "name is required"})
	}
	if req.Role != models.RoleClient && req.Role != models.RoleSpecialist {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "role must be client or specialist"})
	}
	if req.Role == models.RoleSpecialist && (req.Headline == "" || req.Category == "") {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "headline and category are required for specialists"})
	}

	hash, err := auth.HashPassword(req.Password, h.cfg.BcryptCost)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}

	user := &models.User{
		Email:        req.Email,
		PasswordHash: hash,
		Name:         req.Name,
		Role:         req.Role,
	}
	if err := h.users.Create(c.Context(), user); err != nil {
		h.log.Warn("user create failed", zap.String("email", req.Email), zap.Error(err))
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "email already registered"})
	}

	if req.Role == models.RoleSpecialist {
		sp := &models.Specialist{
			UserID:   user.ID,
			Headline: req.Headline,
			Bio:      req.Bio,
			Category: req.Category,
			City:     req.City,
		}
		if err := h.specialists.Create(c.Context(), sp); err != nil {
			h.log.Error("specialist profile create failed", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
		}
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, user.ID, user.Email, user.Role, h.cfg.JWTExpiration)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.AuthResponse{Token: token, User: user})
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	user, err := h.users.GetByEmail(c.Context(), strings.TrimSpace(req.Email))
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid credentials"})
	}
	if !auth.CheckPassword(user.PasswordHash, req.Password) {
		return c.Status(fiber.StatusUnauthorized).JSON(dto.ErrorResponse{Error: "invalid credentials"})
	}

	token, err := auth.GenerateJWT(h.cfg.JWTSecret, user.ID, user.Email, user.Role, h.cfg.JWTExpiration)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.AuthResponse{Token: token, User: user})
}
