package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yodo-services/backend/internal/models"
)

type LedgerRepo struct {
	pool *pgxpool.Pool
}

func NewLedgerRepo(pool *pgxpool.Pool) *LedgerRepo {
	return &LedgerRepo{pool: pool}
}

const ledgerColumns = `id, order_id, state, amount_minor, commission_minor, net_minor, currency,
	fee_bps, idempotency_key, external_ref, dispute_id, version, created_at, transitioned_at`

func scanLedger(row pgx.Row) (*models.LedgerEntry, error) {
	var e models.LedgerEntry
	err := row.Scan(&e.ID, &e.OrderID, &e.State, &e.AmountMinor, &e.CommissionMinor, &e.NetMinor,
		&e.Currency, &e.FeeBPS, &e.IdempotencyKey, &e.ExternalRef, &e.DisputeID, &e.Version,
		&e.CreatedAt, &e.TransitionedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *LedgerRepo) Create(ctx context.Context, e *models.LedgerEntry) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO ledger_entries (order_id, state, amount_minor, commission_minor, net_minor,
		                            currency, fee_bps, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, version, created_at, transitioned_at
	`, e.OrderID, e.State, e.AmountMinor, e.CommissionMinor, e.NetMinor,
		e.Currency, e.FeeBPS, e.IdempotencyKey,
	).Scan(&e.ID, &e.Version, &e.CreatedAt, &e.TransitionedAt)
}

func (r *LedgerRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.LedgerEntry, error) {
	return scanLedger(r.pool.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE id = $1`, id))
}

// GetLiveByOrderID returns the order's non-terminal entry, or (nil, nil)
// when every entry is terminal.
func (r *LedgerRepo) GetLiveByOrderID(ctx context.Context, orderID uuid.UUID) (*models.LedgerEntry, error) {
	e, err := scanLedger(r.pool.QueryRow(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE order_id = $1 AND state NOT IN ('released', 'refunded', 'cancelled')
	`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *LedgerRepo) GetByExternalRef(ctx context.Context, ref string) (*models.LedgerEntry, error) {
	return scanLedger(r.pool.QueryRow(ctx,
		`SELECT `+ledgerColumns+` FROM ledger_entries WHERE external_ref = $1`, ref))
}

// Transition performs a compare-and-swap on (state, version) and appends the
// audit row in the same transaction, so the state change and its side data
// are atomic. Zero rows updated means the expected state has already moved
// on: StaleStateError.
func (r *LedgerRepo) Transition(ctx context.Context, id uuid.UUID, from string, fromVersion int, to string, side models.TransitionSide) (*models.LedgerEntry, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	e, err := scanLedger(tx.QueryRow(ctx, `
		UPDATE ledger_entries
		SET state = $1,
		    version = version + 1,
		    transitioned_at = now(),
		    external_ref = COALESCE($2, external_ref),
		    dispute_id = COALESCE($3, dispute_id)
		WHERE id = $4 AND state = $5 AND version = $6
		RETURNING `+ledgerColumns,
		to, side.ExternalRef, side.DisputeID, id, from, fromVersion))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &models.StaleStateError{LedgerID: id, Expected: from}
	}
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO ledger_transitions (ledger_id, from_state, to_state, release_net_minor, refund_minor)
		VALUES ($1, $2, $3, $4, $5)
	`, id, from, to, side.ReleaseNet, side.RefundMinor); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// ListStuck returns non-terminal entries sitting in a state since before the
// cutoff, for the worker sweeps.
func (r *LedgerRepo) ListStuck(ctx context.Context, state string, olderThan time.Time, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+ledgerColumns+` FROM ledger_entries
		WHERE state = $1 AND transitioned_at < $2
		ORDER BY transitioned_at ASC
		LIMIT $3
	`, state, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		e, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}
