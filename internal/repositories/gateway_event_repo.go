package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yodo-services/backend/internal/models"
)

type GatewayEventRepo struct {
	pool *pgxpool.Pool
}

func NewGatewayEventRepo(pool *pgxpool.Pool) *GatewayEventRepo {
	return &GatewayEventRepo{pool: pool}
}

// Insert stores an inbound webhook event. Returns false when the provider
// event id was already seen — the duplicate is dropped at the door.
func (r *GatewayEventRepo) Insert(ctx context.Context, e *models.GatewayEvent) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO gateway_events (provider_event_id, ledger_id, external_ref, outcome, sequence, raw_payload)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider_event_id) DO NOTHING
	`, e.ProviderEventID, e.LedgerID, e.ExternalRef, e.Outcome, e.Sequence, e.RawPayload)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListUnprocessed returns pending events in (ledger, sequence) order so
// events for the same payment apply in the order the provider implies.
func (r *GatewayEventRepo) ListUnprocessed(ctx context.Context, limit int) ([]models.GatewayEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, provider_event_id, ledger_id, external_ref, outcome, sequence, received_at
		FROM gateway_events
		WHERE processed_at IS NULL
		ORDER BY ledger_id, sequence ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.GatewayEvent
	for rows.Next() {
		var e models.GatewayEvent
		if err := rows.Scan(&e.ID, &e.ProviderEventID, &e.LedgerID, &e.ExternalRef,
			&e.Outcome, &e.Sequence, &e.ReceivedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *GatewayEventRepo) MarkProcessed(ctx context.Context, id uuid.UUID, note string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE gateway_events SET processed_at = now(), process_note = $1 WHERE id = $2
	`, note, id)
	return err
}
