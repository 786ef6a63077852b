package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/yodo-services/backend/internal/http/dto"
	"github.com/yodo-services/backend/internal/middleware"
	"github.com/yodo-services/backend/internal/models"
	"github.com/yodo-services/backend/internal/rbac"
	"github.com/yodo-services/backend/internal/repositories"
	"github.com/yodo-services/backend/internal/services"
	"go.uber.org/zap"
)

type OrderHandler struct {
	orders      *repositories.OrderRepo
	ledger      *repositories.LedgerRepo
	audit       *repositories.AuditRepo
	specialists *repositories.SpecialistRepo
	escrow      *services.EscrowService
	disputes    *services.DisputeService
	log         *zap.Logger
}

func NewOrderHandler(
	orders *repositories.OrderRepo,
	ledger *repositories.LedgerRepo,
	audit *repositories.AuditRepo,
	specialists *repositories.SpecialistRepo,
	escrow *services.EscrowService,
	disputes *services.DisputeService,
	log *zap.Logger,
) *OrderHandler {
	return &OrderHandler{
		orders:      orders,
		ledger:      ledger,
		audit:       audit,
		specialists: specialists,
		escrow:      escrow,
		disputes:    disputes,
		log:         log,
	}
}

// escrowError maps service errors to HTTP statuses.
func escrowError(c *fiber.Ctx, err error) error {
	var ve *models.ValidationError
	var ite *models.InvalidTransitionError
	var sse *models.StaleStateError
	var ge *models.GatewayError
	switch {
	case errors.Is(err, models.ErrDuplicatePayment):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.As(err, &ve):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.As(err, &ite):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: err.Error()})
	case errors.As(err, &sse):
		return c.Status(fiber.StatusConflict).JSON(dto.ErrorResponse{Error: "concurrent update, try again"})
	case errors.As(err, &ge):
		return c.Status(fiber.StatusBadGateway).JSON(dto.ErrorResponse{Error: err.Error()})
	default:
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: err.Error()})
	}
}

func (h *OrderHandler) CreateOrder(c *fiber.Ctx) error {
	if !rbac.HasPermission(middleware.GetUserRole(c), rbac.PermCreateOrder) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "clients only"})
	}

	var req dto.CreateOrderRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid request"})
	}

	specialistID, err := uuid.Parse(req.SpecialistID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid specialist_id"})
	}
	if req.Title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "title is required"})
	}
	if req.AmountMinor <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "amount_minor must be positive"})
	}

	sp, err := h.specialists.GetByID(c.Context(), specialistID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "specialist not found"})
	}

	var serviceID *uuid.UUID
	if req.ServiceID != nil {
		id, err := uuid.Parse(*req.ServiceID)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid service_id"})
		}
		serviceID = &id
	}

	order := &models.Order{
		ServiceID:    serviceID,
		ClientID:     middleware.GetUserID(c),
		SpecialistID: sp.UserID,
		Title:        req.Title,
		Description:  req.Description,
		Address:      req.Address,
		AmountMinor:  req.AmountMinor,
		Currency:     "RUB",
		ScheduledAt:  req.ScheduledAt,
		Status:       models.OrderStatusPending,
	}
	if err := h.orders.Create(c.Context(), order); err != nil {
		h.log.Error("order create failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}

	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: order})
}

func (h *OrderHandler) ListOrders(c *fiber.Ctx) error {
	userID := middleware.GetUserID(c)
	filter := repositories.OrderFilter{Limit: 20}

	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}
	if v := c.Query("status"); v != "" {
		filter.Status = &v
	}

	switch middleware.GetUserRole(c) {
	case models.RoleSpecialist:
		filter.SpecialistID = &userID
	default:
		filter.ClientID = &userID
	}

	orders, err := h.orders.ListWithNames(c.Context(), filter)
	if err != nil {
		h.log.Error("list orders failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: orders})
}

func (h *OrderHandler) GetOrder(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order id"})
	}

	order, err := h.orders.GetByID(c.Context(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "order not found"})
	}

	userID := middleware.GetUserID(c)
	if order.ClientID != userID && order.SpecialistID != userID && middleware.GetUserRole(c) != models.RoleArbiter {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "not a party to this order"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: order})
}

// GetOrderEvents returns the audit trail of the order's payment.
func (h *OrderHandler) GetOrderEvents(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order id"})
	}

	entry, err := h.ledger.GetLiveByOrderID(c.Context(), id)
	if err != nil {
		h.log.Error("get order events failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	if entry == nil {
		return c.JSON(dto.SuccessResponse{OK: true, Data: []models.AuditLog{}})
	}

	logs, err := h.audit.GetByEntity(c.Context(), "ledger_entry", entry.ID, 100, 0)
	if err != nil {
		h.log.Error("get order events failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Error: "internal error"})
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: logs})
}

func (h *OrderHandler) Pay(c *fiber.Ctx) error {
	if !rbac.HasPermission(middleware.GetUserRole(c), rbac.PermPayOrder) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "clients only"})
	}

	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order id"})
	}

	entry, err := h.escrow.Pay(c.Context(), orderID, middleware.GetUserID(c))
	if err != nil {
		return escrowError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: entry})
}

func (h *OrderHandler) GetPaymentInfo(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order id"})
	}

	entry, err := h.escrow.GetPaymentInfo(c.Context(), orderID)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Error: "payment info not found"})
	}

	resp := dto.PaymentInfoResponse{
		OrderID:         entry.OrderID.String(),
		LedgerID:        entry.ID.String(),
		State:           entry.State,
		AmountMinor:     entry.AmountMinor,
		CommissionMinor: entry.CommissionMinor,
		NetMinor:        entry.NetMinor,
		Currency:        entry.Currency,
	}
	if entry.ExternalRef != nil {
		resp.ExternalRef = *entry.ExternalRef
	}
	return c.JSON(resp)
}

func (h *OrderHandler) StartWork(c *fiber.Ctx) error {
	if !rbac.HasPermission(middleware.GetUserRole(c), rbac.PermStartWork) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "specialists only"})
	}

	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order id"})
	}

	entry, err := h.escrow.StartWork(c.Context(), orderID, middleware.GetUserID(c))
	if err != nil {
		return escrowError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entry})
}

func (h *OrderHandler) CompleteWork(c *fiber.Ctx) error {
	if !rbac.HasPermission(middleware.GetUserRole(c), rbac.PermCompleteWork) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "specialists only"})
	}

	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order id"})
	}

	entry, err := h.escrow.CompleteWork(c.Context(), orderID, middleware.GetUserID(c))
	if err != nil {
		return escrowError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entry})
}

func (h *OrderHandler) ConfirmCompletion(c *fiber.Ctx) error {
	if !rbac.HasPermission(middleware.GetUserRole(c), rbac.PermConfirmRelease) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "clients only"})
	}

	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order id"})
	}

	entry, err := h.escrow.ConfirmCompletion(c.Context(), orderID, middleware.GetUserID(c))
	if err != nil {
		return escrowError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entry})
}

func (h *OrderHandler) CancelOrder(c *fiber.Ctx) error {
	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order id"})
	}

	entry, err := h.escrow.Cancel(c.Context(), orderID, middleware.GetUserID(c))
	if err != nil {
		return escrowError(c, err)
	}
	return c.JSON(dto.SuccessResponse{OK: true, Data: entry})
}

func (h *OrderHandler) OpenDispute(c *fiber.Ctx) error {
	if !rbac.HasPermission(middleware.GetUserRole(c), rbac.PermOpenDispute) {
		return c.Status(fiber.StatusForbidden).JSON(dto.ErrorResponse{Error: "order parties only"})
	}

	orderID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "invalid order id"})
	}

	var req dto.OpenDisputeRequest
	if err := c.BodyParser(&req); err != nil || req.Reason == "" {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Error: "reason is required"})
	}

	dispute, err := h.disputes.Open(c.Context(), orderID, middleware.GetUserID(c), req.Reason)
	if err != nil {
		return escrowError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(dto.SuccessResponse{OK: true, Data: dispute})
}
