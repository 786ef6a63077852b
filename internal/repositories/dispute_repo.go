package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yodo-services/backend/internal/models"
)

type DisputeRepo struct {
	pool *pgxpool.Pool
}

func NewDisputeRepo(pool *pgxpool.Pool) *DisputeRepo {
	return &DisputeRepo{pool: pool}
}

func (r *DisputeRepo) Create(ctx context.Context, d *models.Dispute) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO disputes (ledger_id, order_id, opener_id, reason)
		VALUES ($1, $2, $3, $4)
		RETURNING id, opened_at
	`, d.LedgerID, d.OrderID, d.OpenerID, d.Reason).Scan(&d.ID, &d.OpenedAt)
}

func (r *DisputeRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Dispute, error) {
	var d models.Dispute
	err := r.pool.QueryRow(ctx, `
		SELECT id, ledger_id, order_id, opener_id, reason, resolution, arbiter_id,
		       split_net_minor, opened_at, resolved_at
		FROM disputes WHERE id = $1
	`, id).Scan(&d.ID, &d.LedgerID, &d.OrderID, &d.OpenerID, &d.Reason, &d.Resolution,
		&d.ArbiterID, &d.SplitNetMinor, &d.OpenedAt, &d.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// MarkResolved records the final decision. Resolutions are write-once: a row
// already carrying a resolution is left untouched and zero rows come back.
func (r *DisputeRepo) MarkResolved(ctx context.Context, id uuid.UUID, resolution string, arbiterID uuid.UUID, splitNetMinor *int64) (*models.Dispute, error) {
	var d models.Dispute
	err := r.pool.QueryRow(ctx, `
		UPDATE disputes
		SET resolution = $1, arbiter_id = $2, split_net_minor = $3, resolved_at = now()
		WHERE id = $4 AND resolution IS NULL
		RETURNING id, ledger_id, order_id, opener_id, reason, resolution, arbiter_id,
		          split_net_minor, opened_at, resolved_at
	`, resolution, arbiterID, splitNetMinor, id).Scan(&d.ID, &d.LedgerID, &d.OrderID, &d.OpenerID,
		&d.Reason, &d.Resolution, &d.ArbiterID, &d.SplitNetMinor, &d.OpenedAt, &d.ResolvedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
