package services

import (
	"context"

	"github.com/google/uuid"
	"github.com/yodo-services/backend/internal/events"
	"github.com/yodo-services/backend/internal/models"
	"github.com/yodo-services/backend/internal/repositories"
	"go.uber.org/zap"
)

type DisputeStore interface {
	Create(ctx context.Context, d *models.Dispute) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error)
	MarkResolved(ctx context.Context, id uuid.UUID, resolution string, arbiterID uuid.UUID, splitNetMinor *int64) (*models.Dispute, error)
}

// DisputeService opens and resolves disputes. The money movement itself is
// delegated to EscrowService; this layer owns the dispute record and the
// party checks.
type DisputeService struct {
	disputes  DisputeStore
	orders    OrderStore
	ledger    LedgerStore
	escrow    *EscrowService
	publisher events.Publisher
	log       *zap.Logger
}

func NewDisputeService(disputes DisputeStore, orders OrderStore, ledger LedgerStore, escrow *EscrowService, publisher events.Publisher, log *zap.Logger) *DisputeService {
	return &DisputeService{
		disputes:  disputes,
		orders:    orders,
		ledger:    ledger,
		escrow:    escrow,
		publisher: publisher,
		log:       log,
	}
}

// Open freezes the order's live ledger entry and records the dispute.
// Either party can open one while funds are in play.
func (s *DisputeService) Open(ctx context.Context, orderID, openerID uuid.UUID, reason string) (*models.Dispute, error) {
	if reason == "" {
		return nil, &models.ValidationError{Field: "reason", Reason: "required"}
	}

	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ClientID != openerID && order.SpecialistID != openerID {
		return nil, &models.ValidationError{Field: "order", Reason: "not a party to this order"}
	}

	entry, err := s.ledger.GetLiveByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, &models.ValidationError{Field: "order", Reason: "no live payment to dispute"}
	}
	if !models.IsValidLedgerTransition(entry.State, models.LedgerStateDisputed) {
		return nil, &models.InvalidTransitionError{From: entry.State, To: models.LedgerStateDisputed}
	}

	dispute := &models.Dispute{
		LedgerID: entry.ID,
		OrderID:  orderID,
		OpenerID: openerID,
		Reason:   reason,
	}
	if err := s.disputes.Create(ctx, dispute); err != nil {
		return nil, err
	}

	if _, err := s.escrow.FreezeForDispute(ctx, entry.ID, dispute.ID, openerID); err != nil {
		return nil, err
	}

	if err := s.publisher.Publish(ctx, events.ChannelLedger, events.Event{
		Type: events.EventDisputeOpened,
		Payload: map[string]any{
			"dispute_id":    dispute.ID.String(),
			"order_id":      orderID.String(),
			"ledger_id":     entry.ID.String(),
			"opener_id":     openerID.String(),
			"client_id":     order.ClientID.String(),
			"specialist_id": order.SpecialistID.String(),
		},
	}); err != nil {
		s.log.Warn("failed to publish dispute event", zap.Error(err))
	}
	return dispute, nil
}

// Resolve applies the arbiter's decision. The dispute row is write-once, so
// a concurrent second resolution loses at the database and errors out here.
func (s *DisputeService) Resolve(ctx context.Context, disputeID uuid.UUID, resolution string, splitNetMinor *int64, arbiterID uuid.UUID) (*models.Dispute, error) {
	if !models.IsValidResolution(resolution) {
		return nil, &models.ValidationError{Field: "resolution", Reason: "unknown resolution"}
	}
	if resolution == models.ResolutionSplit && splitNetMinor == nil {
		return nil, &models.ValidationError{Field: "split_net_minor", Reason: "required for split"}
	}
	if resolution != models.ResolutionSplit {
		splitNetMinor = nil
	}

	dispute, err := s.disputes.GetByID(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if dispute.Resolution != nil {
		return nil, &models.ValidationError{Field: "dispute", Reason: "already resolved"}
	}

	// Ledger first: if the transition fails the dispute stays open.
	if _, err := s.escrow.ApplyResolution(ctx, dispute.LedgerID, resolution, splitNetMinor, arbiterID); err != nil {
		return nil, err
	}

	resolved, err := s.disputes.MarkResolved(ctx, disputeID, resolution, arbiterID, splitNetMinor)
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"dispute_id": resolved.ID.String(),
		"order_id":   resolved.OrderID.String(),
		"ledger_id":  resolved.LedgerID.String(),
		"resolution": resolution,
	}
	if order, err := s.orders.GetByID(ctx, resolved.OrderID); err == nil {
		payload["client_id"] = order.ClientID.String()
		payload["specialist_id"] = order.SpecialistID.String()
	}
	if err := s.publisher.Publish(ctx, events.ChannelLedger, events.Event{
		Type:    events.EventDisputeResolved,
		Payload: payload,
	}); err != nil {
		s.log.Warn("failed to publish dispute event", zap.Error(err))
	}
	return resolved, nil
}

func (s *DisputeService) Get(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	return s.disputes.GetByID(ctx, id)
}

var _ DisputeStore = (*repositories.DisputeRepo)(nil)
