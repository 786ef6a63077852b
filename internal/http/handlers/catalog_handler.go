package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/yodo-services/backend/internal/http/dto"
	"github.com/yodo-services/backend/internal/middleware"
	"github.com/yodo-services/backend/internal/models"
	"github.com/yodo-services/backend/internal/rbac"
	"github.com/yodo-services/backend/internal/repositories"
	"go.uber.org/zap"
)

type CatalogHandler struct {
	specialists *repositories.SpecialistRepo
	reviews     *repositories.ReviewRepo
	orders      *repositories.OrderRepo
	log         *zap.Logger
}

func NewCatalogHandler(specialists *repositories.SpecialistRepo, reviews *repositories.ReviewRepo, orders *repositories.OrderRepo, log *zap.Logger) *CatalogHandler {
	return &CatalogHandler{specialists: specialists, reviews: reviews, orders: orders, log: log}
}

func parsePaging(c *fiber.Ctx) (int, int) {
	limit, offset := 20, 0
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			offset = n
		}
	}
	return limit, offset
}

func (h *CatalogHandler) ListSpecialists(c *fiber.Ctx) error {
	limit, offset := parsePaging(c)
	filter := repositories.SpecialistFilter{Limit: limit, Offset: offset}
	if v := c.Query("category"); v != "" {
		filter.Category = &v
	}
	if v := c.Query("city"); v != "" {
		filter.City = &v
	}
	if v := c.Query("q"); v != "" {
		filter.Query = &v
	}

	specialists, err := h.specialists.List(c.Context(), filter)
	if err != nil {
		h.log.Error("list specialists failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: specialists})
}

func (h *CatalogHandler) GetSpecialist(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid specialist id"})
	}

	sp, err := h.specialists.GetByID(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "specialist not found"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: sp})
}

func (h *CatalogHandler) CreateService(c *fiber.Ctx) error {
	sp, err := h.specialists.GetByUserID(c.Context(), middleware.GetUserID(c))
	if err != nil {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "specialist profile required"})
	}

	var req dto.CreateServiceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	if req.Title == "" || req.Category == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "title and category are required"})
	}
	if req.PriceMinor <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "price_minor must be positive"})
	}

	svc := &models.Service{
		SpecialistID: sp.ID,
		Title:        req.Title,
		Description:  req.Description,
		PriceMinor:   req.PriceMinor,
		Currency:     "RUB",
		Category:     req.Category,
	}
	if err := h.specialists.CreateService(c.Context(), svc); err != nil {
		h.log.Error("service create failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: svc})
}

func (h *CatalogHandler) ListServices(c *fiber.Ctx) error {
	limit, offset := parsePaging(c)

	var specialistID *uuid.UUID
	if v := c.Query("specialist_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid specialist_id"})
		}
		specialistID = &id
	}
	var search *string
	if v := c.Query("q"); v != "" {
		search = &v
	}

	services, err := h.specialists.ListServices(c.Context(), specialistID, search, limit, offset)
	if err != nil {
		h.log.Error("list services failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: services})
}

// Search runs the catalog query across specialists and services at once.
func (h *CatalogHandler) Search(c *fiber.Ctx) error {
	q := c.Query("q")
	if q == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "q is required"})
	}
	limit, offset := parsePaging(c)

	specialists, err := h.specialists.List(c.Context(), repositories.SpecialistFilter{
		Query: &q, Limit: limit, Offset: offset,
	})
	if err != nil {
		h.log.Error("search specialists failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	services, err := h.specialists.ListServices(c.Context(), nil, &q, limit, offset)
	if err != nil {
		h.log.Error("search services failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.JSON(dto.SuccessResponse{OK: true, Data: fiber.Map{
		"specialists": specialists,
		"services":    services,
	}})
}

// CreateReview: clients review completed orders, once each.
func (h *CatalogHandler) CreateReview(c *fiber.Ctx) error {
	if !rbac.HasPermission(middleware.GetUserRole(c), rbac.PermWriteReview) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "clients only"})
	}

	var req dto.CreateReviewRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order_id"})
	}
	if req.Rating < 1 || req.Rating > 5 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "rating must be 1..5"})
	}

	order, err := h.orders.GetByID(c.Context(), orderID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "order not found"})
	}
	clientID := middleware.GetUserID(c)
	if order.ClientID != clientID {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "only the order's client can review"})
	}
	if order.Status != models.OrderStatusCompleted {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "order is not completed"})
	}

	exists, err := h.reviews.ExistsForOrder(c.Context(), orderID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	if exists {
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "order already reviewed"})
	}

	sp, err := h.specialists.GetByUserID(c.Context(), order.SpecialistID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "specialist not found"})
	}

	review := &models.Review{
		OrderID:      orderID,
		ClientID:     clientID,
		SpecialistID: sp.ID,
		Rating:       req.Rating,
		Text:         req.Text,
	}
	if err := h.reviews.Create(c.Context(), review); err != nil {
		h.log.Error("review create failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	if err := h.specialists.RefreshRating(c.Context(), sp.ID); err != nil {
		h.log.Warn("rating refresh failed", zap.String("specialist_id", sp.ID.String()), zap.Error(err))
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: review})
}

func (h *CatalogHandler) ListReviews(c *fiber.Ctx) error {
	specialistID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid specialist id"})
	}

	limit, offset := parsePaging(c)
	reviews, err := h.reviews.ListBySpecialist(c.Context(), specialistID, limit, offset)
	if err != nil {
		h.log.Error("list reviews failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: reviews})
}
