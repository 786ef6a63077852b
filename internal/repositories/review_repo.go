package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yodo-services/backend/internal/models"
)

type ReviewRepo struct {
	pool *pgxpool.Pool
}

func NewReviewRepo(pool *pgxpool.Pool) *ReviewRepo {
	return &ReviewRepo{pool: pool}
}

func (r *ReviewRepo) Create(ctx context.Context, rv *models.Review) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO reviews (order_id, client_id, specialist_id, rating, text)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, rv.OrderID, rv.ClientID, rv.SpecialistID, rv.Rating, rv.Text).Scan(&rv.ID, &rv.CreatedAt)
}

func (r *ReviewRepo) ListBySpecialist(ctx context.Context, specialistID uuid.UUID, limit, offset int) ([]models.Review, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, order_id, client_id, specialist_id, rating, text, created_at
		FROM reviews
		WHERE specialist_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, specialistID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reviews []models.Review
	for rows.Next() {
		var rv models.Review
		if err := rows.Scan(&rv.ID, &rv.OrderID, &rv.ClientID, &rv.SpecialistID,
			&rv.Rating, &rv.Text, &rv.CreatedAt); err != nil {
			return nil, err
		}
		reviews = append(reviews, rv)
	}
	return reviews, rows.Err()
}

func (r *ReviewRepo) ExistsForOrder(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM reviews WHERE order_id = $1)`, orderID).Scan(&exists)
	return exists, err
}
