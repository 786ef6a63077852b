package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yodo-services/backend/internal/models"
)

type OrderRepo struct {
	pool *pgxpool.Pool
}

func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

func (r *OrderRepo) Create(ctx context.Context, o *models.Order) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO orders (service_id, client_id, specialist_id, title, description, address,
		                    amount_minor, currency, scheduled_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`, o.ServiceID, o.ClientID, o.SpecialistID, o.Title, o.Description, o.Address,
		o.AmountMinor, o.Currency, o.ScheduledAt, o.Status,
	).Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
}

func (r *OrderRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var o models.Order
	err := r.pool.QueryRow(ctx, `
		SELECT id, service_id, client_id, specialist_id, title, description, address,
		       amount_minor, currency, scheduled_at, status, created_at, updated_at
		FROM orders WHERE id = $1
	`, id).Scan(&o.ID, &o.ServiceID, &o.ClientID, &o.SpecialistID, &o.Title, &o.Description,
		&o.Address, &o.AmountMinor, &o.Currency, &o.ScheduledAt, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

type OrderFilter struct {
	ClientID     *uuid.UUID
	SpecialistID *uuid.UUID
	Status       *string
	Limit        int
	Offset       int
}

func (r *OrderRepo) ListWithNames(ctx context.Context, f OrderFilter) ([]models.OrderWithNames, error) {
	query := `
		SELECT o.id, o.service_id, o.client_id, o.specialist_id, o.title, o.description, o.address,
		       o.amount_minor, o.currency, o.scheduled_at, o.status, o.created_at, o.updated_at,
		       cu.name, su.name
		FROM orders o
		JOIN users cu ON cu.id = o.client_id
		JOIN users su ON su.id = o.specialist_id
	`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.ClientID != nil {
		where = append(where, fmt.Sprintf("o.client_id = $%d", argIdx))
		args = append(args, *f.ClientID)
		argIdx++
	}
	if f.SpecialistID != nil {
		where = append(where, fmt.Sprintf("o.specialist_id = $%d", argIdx))
		args = append(args, *f.SpecialistID)
		argIdx++
	}
	if f.Status != nil {
		where = append(where, fmt.Sprintf("o.status = $%d", argIdx))
		args = append(args, *f.Status)
		argIdx++
	}

	if len(where) > 0 {
		query += " WHERE "
		for i, w := range where {
			if i > 0 {
				query += " AND "
			}
			query += w
		}
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY o.created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []models.OrderWithNames
	for rows.Next() {
		var o models.OrderWithNames
		if err := rows.Scan(&o.ID, &o.ServiceID, &o.ClientID, &o.SpecialistID, &o.Title, &o.Description,
			&o.Address, &o.AmountMinor, &o.Currency, &o.ScheduledAt, &o.Status, &o.CreatedAt, &o.UpdatedAt,
			&o.ClientName, &o.SpecialistName); err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (r *OrderRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `UPDATE orders SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	return err
}
