package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/yodo-services/backend/internal/config"
	"github.com/yodo-services/backend/internal/events"
	"github.com/yodo-services/backend/internal/models"
	"github.com/yodo-services/backend/internal/repositories"
	"go.uber.org/zap"
)

// Store interfaces are satisfied by the pgx repositories; tests swap in
// in-memory fakes.

type LedgerStore interface {
	Create(ctx context.Context, e *models.LedgerEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error)
	GetLiveByOrderID(ctx context.Context, orderID uuid.UUID) (*models.LedgerEntry, error)
	GetByExternalRef(ctx context.Context, ref string) (*models.LedgerEntry, error)
	Transition(ctx context.Context, id uuid.UUID, from string, fromVersion int, to string, side models.TransitionSide) (*models.LedgerEntry, error)
	ListStuck(ctx context.Context, state string, olderThan time.Time, limit int) ([]models.LedgerEntry, error)
}

type OrderStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
}

type GatewayEventStore interface {
	Insert(ctx context.Context, e *models.GatewayEvent) (bool, error)
	ListUnprocessed(ctx context.Context, limit int) ([]models.GatewayEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, note string) error
}

type AuditStore interface {
	Log(ctx context.Context, entry models.AuditLog) error
}

type PaymentGateway interface {
	Capture(ctx context.Context, orderID, ledgerID uuid.UUID, amountMinor int64, currency, idemKey string) (*CaptureResult, error)
	Refund(ctx context.Context, externalRef string, amountMinor int64, currency, idemKey string) error
}

// EscrowService drives the payment state machine. Per-entry safety is
// optimistic: every write is a compare-and-swap on (state, version) and a
// losing writer re-reads and retries a bounded number of times.
type EscrowService struct {
	ledger    LedgerStore
	orders    OrderStore
	gwEvents  GatewayEventStore
	audit     AuditStore
	gateway   PaymentGateway
	publisher events.Publisher
	cfg       *config.Config
	log       *zap.Logger
}

func NewEscrowService(
	ledger LedgerStore,
	orders OrderStore,
	gwEvents GatewayEventStore,
	audit AuditStore,
	gateway PaymentGateway,
	publisher events.Publisher,
	cfg *config.Config,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		ledger:    ledger,
		orders:    orders,
		gwEvents:  gwEvents,
		audit:     audit,
		gateway:   gateway,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

// transition moves a ledger entry to newState with bounded CAS retries.
// Reaching an entry already in newState is an idempotent no-op; any other
// mismatch against the transition table is a hard InvalidTransitionError.
// Side effects (audit, event fan-out) run only after the durable write.
func (s *EscrowService) transition(ctx context.Context, ledgerID uuid.UUID, newState string, side models.TransitionSide, actorID *uuid.UUID, actorType string) (*models.LedgerEntry, error) {
	retries := s.cfg.TransitionMaxRetries
	if retries <= 0 {
		retries = 3
	}

	for attempt := 0; attempt < retries; attempt++ {
		entry, err := s.ledger.GetByID(ctx, ledgerID)
		if err != nil {
			return nil, err
		}

		if entry.State == newState {
			return entry, nil // already there
		}
		if !models.IsValidLedgerTransition(entry.State, newState) {
			return nil, &models.InvalidTransitionError{From: entry.State, To: newState}
		}

		updated, err := s.ledger.Transition(ctx, ledgerID, entry.State, entry.Version, newState, side)
		if _, stale := err.(*models.StaleStateError); stale {
			continue // lost the race, re-read
		}
		if err != nil {
			return nil, err
		}

		s.afterTransition(ctx, updated, entry.State, actorID, actorType)
		return updated, nil
	}
	return nil, &models.StaleStateError{LedgerID: ledgerID}
}

// afterTransition records the audit trail, mirrors the order status and
// publishes the ledger event. None of these roll back the state change.
func (s *EscrowService) afterTransition(ctx context.Context, entry *models.LedgerEntry, oldState string, actorID *uuid.UUID, actorType string) {
	_ = s.audit.Log(ctx, models.AuditLog{
		ActorUserID: actorID,
		ActorType:   actorType,
		Action:      fmt.Sprintf("ledger_%s_to_%s", oldState, entry.State),
		EntityType:  "ledger_entry",
		EntityID:    &entry.ID,
		Meta:        map[string]any{"old_state": oldState, "new_state": entry.State, "order_id": entry.OrderID.String()},
	})

	if status, ok := orderStatusFor(entry.State); ok {
		if err := s.orders.UpdateStatus(ctx, entry.OrderID, status); err != nil {
			s.log.Warn("failed to mirror order status", zap.String("order_id", entry.OrderID.String()), zap.Error(err))
		}
	}

	payload := map[string]any{
		"ledger_id":    entry.ID.String(),
		"order_id":     entry.OrderID.String(),
		"old_state":    oldState,
		"new_state":    entry.State,
		"amount_minor": entry.AmountMinor,
		"currency":     entry.Currency,
	}
	if order, err := s.orders.GetByID(ctx, entry.OrderID); err == nil {
		payload["client_id"] = order.ClientID.String()
		payload["specialist_id"] = order.SpecialistID.String()
	}
	if err := s.publisher.Publish(ctx, events.ChannelLedger, events.Event{
		Type:    events.EventLedgerTransition,
		Payload: payload,
	}); err != nil {
		s.log.Warn("failed to publish ledger event", zap.Error(err))
	}
}

func orderStatusFor(ledgerState string) (string, bool) {
	switch ledgerState {
	case models.LedgerStateWorkInProgress:
		return models.OrderStatusInProgress, true
	case models.LedgerStateReleased:
		return models.OrderStatusCompleted, true
	case models.LedgerStateRefunded, models.LedgerStateCancelled:
		return models.OrderStatusCancelled, true
	case models.LedgerStateDisputed:
		return models.OrderStatusDisputed, true
	default:
		return "", false
	}
}

// Pay initiates the escrow payment for an order: one live ledger entry per
// order, amount frozen from the order, capture submitted to the gateway.
func (s *EscrowService) Pay(ctx context.Context, orderID, clientID uuid.UUID) (*models.LedgerEntry, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ClientID != clientID {
		return nil, &models.ValidationError{Field: "order", Reason: "only the order's client can pay"}
	}
	if order.AmountMinor <= 0 {
		return nil, &models.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if order.Currency != s.cfg.Currency {
		return nil, &models.ValidationError{Field: "currency", Reason: fmt.Sprintf("only %s is supported", s.cfg.Currency)}
	}

	if live, err := s.ledger.GetLiveByOrderID(ctx, orderID); err != nil {
		return nil, err
	} else if live != nil {
		return nil, models.ErrDuplicatePayment
	}

	entry := models.NewLedgerEntry(orderID, order.AmountMinor, order.Currency, s.cfg.PlatformFeeBPS)
	if err := s.ledger.Create(ctx, entry); err != nil {
		return nil, err
	}

	entry, err = s.transition(ctx, entry.ID, models.LedgerStatePendingPayment, models.TransitionSide{}, &clientID, "user")
	if err != nil {
		return nil, err
	}

	result, err := s.gateway.Capture(ctx, orderID, entry.ID, entry.AmountMinor, entry.Currency, entry.IdempotencyKey)
	if err != nil {
		// Transient exhaustion or terminal rejection: no funds secured,
		// cancel the entry so the client can retry cleanly.
		if _, cErr := s.transition(ctx, entry.ID, models.LedgerStateCancelled, models.TransitionSide{}, nil, "system"); cErr != nil {
			s.log.Error("failed to cancel after capture error", zap.String("ledger_id", entry.ID.String()), zap.Error(cErr))
		}
		return nil, err
	}
	if !result.Accepted {
		if _, tErr := s.transition(ctx, entry.ID, models.LedgerStateCancelled, models.TransitionSide{}, nil, "gateway"); tErr != nil {
			return nil, tErr
		}
		return nil, &models.GatewayError{Transient: false, Reason: result.Reason}
	}

	ref := result.ExternalRef
	// Store the provider reference without a state change; funds_held waits
	// for the verified webhook.
	entry, err = s.ledger.GetByID(ctx, entry.ID)
	if err != nil {
		return nil, err
	}
	if entry.ExternalRef == nil {
		if updated, err := s.ledger.Transition(ctx, entry.ID, entry.State, entry.Version, entry.State, models.TransitionSide{ExternalRef: &ref}); err == nil {
			entry = updated
		}
	}
	return entry, nil
}

// EnqueueGatewayEvent durably stores a verified webhook for the worker.
// Redelivery of the same provider event id inserts nothing. Events arriving
// without a ledger id are resolved through the provider reference.
func (s *EscrowService) EnqueueGatewayEvent(ctx context.Context, ev *WebhookEvent, raw []byte) (bool, error) {
	if ev.LedgerID == uuid.Nil {
		entry, err := s.ledger.GetByExternalRef(ctx, ev.ExternalRef)
		if err != nil {
			return false, fmt.Errorf("resolve ledger for ref %q: %w", ev.ExternalRef, err)
		}
		ev.LedgerID = entry.ID
	}
	return s.gwEvents.Insert(ctx, &models.GatewayEvent{
		ProviderEventID: ev.ProviderEventID,
		LedgerID:        ev.LedgerID,
		ExternalRef:     ev.ExternalRef,
		Outcome:         ev.Outcome,
		Sequence:        ev.Sequence,
		RawPayload:      raw,
	})
}

// ProcessGatewayEvents applies queued webhook events in sequence order.
// Events that arrive after the ledger has already moved past the state they
// imply are recorded as no-ops, never errors.
func (s *EscrowService) ProcessGatewayEvents(ctx context.Context) (int, error) {
	evs, err := s.gwEvents.ListUnprocessed(ctx, s.cfg.GatewayEventBatchSize)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, ev := range evs {
		note, err := s.applyGatewayEvent(ctx, &ev)
		if err != nil {
			s.log.Error("failed to apply gateway event",
				zap.String("provider_event_id", ev.ProviderEventID), zap.Error(err))
			continue // left unprocessed, retried next sweep
		}
		if err := s.gwEvents.MarkProcessed(ctx, ev.ID, note); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func (s *EscrowService) applyGatewayEvent(ctx context.Context, ev *models.GatewayEvent) (string, error) {
	entry, err := s.ledger.GetByID(ctx, ev.LedgerID)
	if err != nil {
		return "", err
	}

	switch ev.Outcome {
	case models.GatewayOutcomeCaptured:
		if entry.State != models.LedgerStatePendingPayment {
			return "stale: ledger past pending_payment", nil
		}
		ref := ev.ExternalRef
		if _, err := s.transition(ctx, entry.ID, models.LedgerStateFundsHeld,
			models.TransitionSide{ExternalRef: &ref}, nil, "gateway"); err != nil {
			return "", err
		}
		return "applied: funds_held", nil

	case models.GatewayOutcomeFailed:
		if entry.State != models.LedgerStatePendingPayment {
			return "stale: ledger past pending_payment", nil
		}
		if _, err := s.transition(ctx, entry.ID, models.LedgerStateCancelled,
			models.TransitionSide{}, nil, "gateway"); err != nil {
			return "", err
		}
		return "applied: cancelled", nil

	case models.GatewayOutcomeRefunded:
		if models.IsTerminalLedgerState(entry.State) {
			return "stale: ledger already terminal", nil
		}
		refund := entry.AmountMinor
		if _, err := s.transition(ctx, entry.ID, models.LedgerStateRefunded,
			models.TransitionSide{RefundMinor: &refund}, nil, "gateway"); err != nil {
			return "", err
		}
		return "applied: refunded", nil

	default:
		return "", fmt.Errorf("unknown gateway outcome %q", ev.Outcome)
	}
}

// StartWork: specialist acknowledges the job. Informational, no money moves.
func (s *EscrowService) StartWork(ctx context.Context, orderID, specialistID uuid.UUID) (*models.LedgerEntry, error) {
	entry, err := s.liveEntryForActor(ctx, orderID, specialistID, false)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, entry.ID, models.LedgerStateWorkInProgress, models.TransitionSide{}, &specialistID, "user")
}

// CompleteWork: specialist marks the job done; the confirmation window
// starts from this transition.
func (s *EscrowService) CompleteWork(ctx context.Context, orderID, specialistID uuid.UUID) (*models.LedgerEntry, error) {
	entry, err := s.liveEntryForActor(ctx, orderID, specialistID, false)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, entry.ID, models.LedgerStateCompletionRequested, models.TransitionSide{}, &specialistID, "user")
}

// ConfirmCompletion: client releases the held funds to the specialist.
func (s *EscrowService) ConfirmCompletion(ctx context.Context, orderID, clientID uuid.UUID) (*models.LedgerEntry, error) {
	entry, err := s.liveEntryForActor(ctx, orderID, clientID, true)
	if err != nil {
		return nil, err
	}
	net := entry.NetMinor
	return s.transition(ctx, entry.ID, models.LedgerStateReleased,
		models.TransitionSide{ReleaseNet: &net}, &clientID, "user")
}

// Cancel is synchronous before funds are held. Once money has moved the
// client must open a dispute instead.
func (s *EscrowService) Cancel(ctx context.Context, orderID, actorID uuid.UUID) (*models.LedgerEntry, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.ClientID != actorID && order.SpecialistID != actorID {
		return nil, &models.ValidationError{Field: "order", Reason: "not a party to this order"}
	}

	entry, err := s.ledger.GetLiveByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		// No payment yet: cancelling is just an order status change.
		if err := s.orders.UpdateStatus(ctx, orderID, models.OrderStatusCancelled); err != nil {
			return nil, err
		}
		return nil, nil
	}

	if entry.State != models.LedgerStateCreated && entry.State != models.LedgerStatePendingPayment {
		return nil, &models.InvalidTransitionError{From: entry.State, To: models.LedgerStateCancelled}
	}
	return s.transition(ctx, entry.ID, models.LedgerStateCancelled, models.TransitionSide{}, &actorID, "user")
}

// FreezeForDispute moves a live entry to disputed and links the dispute.
func (s *EscrowService) FreezeForDispute(ctx context.Context, ledgerID, disputeID, openerID uuid.UUID) (*models.LedgerEntry, error) {
	return s.transition(ctx, ledgerID, models.LedgerStateDisputed,
		models.TransitionSide{DisputeID: &disputeID}, &openerID, "user")
}

// ApplyResolution drives disputed -> terminal on the arbiter's decision.
// refund_client issues the refund through the gateway; split refunds the
// client leg and releases the rest.
func (s *EscrowService) ApplyResolution(ctx context.Context, ledgerID uuid.UUID, resolution string, splitNetMinor *int64, arbiterID uuid.UUID) (*models.LedgerEntry, error) {
	entry, err := s.ledger.GetByID(ctx, ledgerID)
	if err != nil {
		return nil, err
	}

	switch resolution {
	case models.ResolutionReleaseSpecialist:
		net := entry.NetMinor
		return s.transition(ctx, ledgerID, models.LedgerStateReleased,
			models.TransitionSide{ReleaseNet: &net}, &arbiterID, "arbiter")

	case models.ResolutionRefundClient:
		refund := entry.AmountMinor
		updated, err := s.transition(ctx, ledgerID, models.LedgerStateRefunded,
			models.TransitionSide{RefundMinor: &refund}, &arbiterID, "arbiter")
		if err != nil {
			return nil, err
		}
		s.refundCaptured(ctx, updated, refund)
		return updated, nil

	case models.ResolutionSplit:
		if splitNetMinor == nil || *splitNetMinor < 0 || *splitNetMinor > entry.NetMinor {
			return nil, &models.ValidationError{Field: "split_net_minor", Reason: "must be within 0..net"}
		}
		release := *splitNetMinor
		refund := entry.NetMinor - release
		updated, err := s.transition(ctx, ledgerID, models.LedgerStateReleased,
			models.TransitionSide{ReleaseNet: &release, RefundMinor: &refund}, &arbiterID, "arbiter")
		if err != nil {
			return nil, err
		}
		if refund > 0 {
			s.refundCaptured(ctx, updated, refund)
		}
		return updated, nil

	default:
		return nil, &models.ValidationError{Field: "resolution", Reason: "unknown resolution"}
	}
}

// refundCaptured issues the gateway refund leg, best-effort: the ledger has
// already durably recorded the decision, the money movement is retried by
// operators if the provider call fails.
func (s *EscrowService) refundCaptured(ctx context.Context, entry *models.LedgerEntry, amountMinor int64) {
	if entry.ExternalRef == nil {
		return
	}
	idemKey := fmt.Sprintf("refund:%s", entry.ID)
	if err := s.gateway.Refund(ctx, *entry.ExternalRef, amountMinor, entry.Currency, idemKey); err != nil {
		s.log.Error("gateway refund failed",
			zap.String("ledger_id", entry.ID.String()),
			zap.Int64("amount_minor", amountMinor),
			zap.Error(err))
	}
}

// SweepAutoRelease releases completion_requested entries older than the
// confirmation window. Runs from the worker so it fires with zero client
// activity.
func (s *EscrowService) SweepAutoRelease(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.cfg.ConfirmWindow)
	entries, err := s.ledger.ListStuck(ctx, models.LedgerStateCompletionRequested, cutoff, 0)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, entry := range entries {
		net := entry.NetMinor
		if _, err := s.transition(ctx, entry.ID, models.LedgerStateReleased,
			models.TransitionSide{ReleaseNet: &net}, nil, "system"); err != nil {
			s.log.Error("auto-release failed", zap.String("ledger_id", entry.ID.String()), zap.Error(err))
			continue
		}
		s.log.Info("auto-released escrow after confirmation window",
			zap.String("ledger_id", entry.ID.String()),
			zap.String("order_id", entry.OrderID.String()))
		released++
	}
	return released, nil
}

// SweepPendingTimeouts cancels pending_payment entries older than the
// payment timeout. If the provider captured late, the refund leg returns it.
func (s *EscrowService) SweepPendingTimeouts(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-s.cfg.PaymentTimeout)
	entries, err := s.ledger.ListStuck(ctx, models.LedgerStatePendingPayment, cutoff, 0)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, entry := range entries {
		updated, err := s.transition(ctx, entry.ID, models.LedgerStateCancelled,
			models.TransitionSide{}, nil, "system")
		if err != nil {
			s.log.Error("pending timeout cancel failed", zap.String("ledger_id", entry.ID.String()), zap.Error(err))
			continue
		}
		if updated.ExternalRef != nil {
			s.refundCaptured(ctx, updated, updated.AmountMinor)
		}
		cancelled++
	}
	return cancelled, nil
}

// GetPaymentInfo returns the live ledger entry for an order, if any.
func (s *EscrowService) GetPaymentInfo(ctx context.Context, orderID uuid.UUID) (*models.LedgerEntry, error) {
	entry, err := s.ledger.GetLiveByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, fmt.Errorf("no live payment for order %s", orderID)
	}
	return entry, nil
}

// liveEntryForActor loads the order, checks the acting party and returns
// the live ledger entry.
func (s *EscrowService) liveEntryForActor(ctx context.Context, orderID, actorID uuid.UUID, wantClient bool) (*models.LedgerEntry, error) {
	order, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if wantClient && order.ClientID != actorID {
		return nil, &models.ValidationError{Field: "order", Reason: "only the order's client can do this"}
	}
	if !wantClient && order.SpecialistID != actorID {
		return nil, &models.ValidationError{Field: "order", Reason: "only the order's specialist can do this"}
	}

	entry, err := s.ledger.GetLiveByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, &models.ValidationError{Field: "order", Reason: "no live payment for this order"}
	}
	return entry, nil
}

// ensure the pgx repos satisfy the store interfaces
var (
	_ LedgerStore       = (*repositories.LedgerRepo)(nil)
	_ OrderStore        = (*repositories.OrderRepo)(nil)
	_ GatewayEventStore = (*repositories.GatewayEventRepo)(nil)
	_ AuditStore        = (*repositories.AuditRepo)(nil)
)
