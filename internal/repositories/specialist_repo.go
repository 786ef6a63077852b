package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yodo-services/backend/internal/models"
)

type SpecialistRepo struct {
	pool *pgxpool.Pool
}

func NewSpecialistRepo(pool *pgxpool.Pool) *SpecialistRepo {
	return &SpecialistRepo{pool: pool}
}

func (r *SpecialistRepo) Create(ctx context.Context, s *models.Specialist) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO specialists (user_id, headline, bio, category, city)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, rating, review_count, verified, created_at
	`, s.UserID, s.Headline, s.Bio, s.Category, s.City,
	).Scan(&s.ID, &s.Rating, &s.ReviewCount, &s.Verified, &s.CreatedAt)
}

func (r *SpecialistRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Specialist, error) {
	var s models.Specialist
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, headline, bio, category, city, rating, review_count, verified, created_at
		FROM specialists WHERE id = $1
	`, id).Scan(&s.ID, &s.UserID, &s.Headline, &s.Bio, &s.Category, &s.City,
		&s.Rating, &s.ReviewCount, &s.Verified, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *SpecialistRepo) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.Specialist, error) {
	var s models.Specialist
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, headline, bio, category, city, rating, review_count, verified, created_at
		FROM specialists WHERE user_id = $1
	`, userID).Scan(&s.ID, &s.UserID, &s.Headline, &s.Bio, &s.Category, &s.City,
		&s.Rating, &s.ReviewCount, &s.Verified, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

type SpecialistFilter struct {
	Category *string
	City     *string
	Query    *string
	Limit    int
	Offset   int
}

func (r *SpecialistRepo) List(ctx context.Context, f SpecialistFilter) ([]models.Specialist, error) {
	query := `
		SELECT id, user_id, headline, bio, category, city, rating, review_count, verified, created_at
		FROM specialists
	`
	args := []any{}
	argIdx := 1
	where := []string{}

	if f.Category != nil {
		where = append(where, fmt.Sprintf("category = $%d", argIdx))
		args = append(args, *f.Category)
		argIdx++
	}
	if f.City != nil {
		where = append(where, fmt.Sprintf("city = $%d", argIdx))
		args = append(args, *f.City)
		argIdx++
	}
	if f.Query != nil {
		where = append(where, fmt.Sprintf("(headline ILIKE '%%' || $%d || '%%' OR bio ILIKE '%%' || $%d || '%%')", argIdx, argIdx))
		args = append(args, *f.Query)
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
	query += fmt.Sprintf(" ORDER BY rating DESC, review_count DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, f.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var specialists []models.Specialist
	for rows.Next() {
		var s models.Specialist
		if err := rows.Scan(&s.ID, &s.UserID, &s.Headline, &s.Bio, &s.Category, &s.City,
			&s.Rating, &s.ReviewCount, &s.Verified, &s.CreatedAt); err != nil {
			return nil, err
		}
		specialists = append(specialists, s)
	}
	return specialists, rows.Err()
}

// RefreshRating recomputes the aggregate from reviews after a new one lands.
func (r *SpecialistRepo) RefreshRating(ctx context.Context, specialistID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE specialists SET
			rating = COALESCE((SELECT AVG(rating)::float8 FROM reviews WHERE specialist_id = $1), 0),
			review_count = (SELECT COUNT(*) FROM reviews WHERE specialist_id = $1)
		WHERE id = $1
	`, specialistID)
	return err
}

// ---- Services ----

func (r *SpecialistRepo) CreateService(ctx context.Context, s *models.Service) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO services (specialist_id, title, description, price_minor, currency, category)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, s.SpecialistID, s.Title, s.Description, s.PriceMinor, s.Currency, s.Category).Scan(&s.ID, &s.CreatedAt)
}

func (r *SpecialistRepo) ListServices(ctx context.Context, specialistID *uuid.UUID, search *string, limit, offset int) ([]models.Service, error) {
	query := `
		SELECT id, specialist_id, title, description, price_minor, currency, category, created_at
		FROM services
	`
	args := []any{}
	argIdx := 1
	where := []string{}

	if specialistID != nil {
		where = append(where, fmt.Sprintf("specialist_id = $%d", argIdx))
		args = append(args, *specialistID)
		argIdx++
	}
	if search != nil {
		where = append(where, fmt.Sprintf("(title ILIKE '%%' || $%d || '%%' OR description ILIKE '%%' || $%d || '%%')", argIdx, argIdx))
		args = append(args, *search)
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

	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []models.Service
	for rows.Next() {
		var s models.Service
		if err := rows.Scan(&s.ID, &s.SpecialistID, &s.Title, &s.Description,
			&s.PriceMinor, &s.Currency, &s.Category, &s.CreatedAt); err != nil {
			return nil, err
		}
		services = append(services, s)
	}
	return services, rows.Err()
}
