package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// ErrPlanSlugTaken is returned when a plan slug is already in use.
var ErrPlanSlugTaken = errors.New("plan slug already taken")

const planColumns = `p.id, p.name, p.slug, p.type, p.duration_days, p.price, p.is_active, p.created_at, p.updated_at`

func scanPlan(row rowScanner, extra ...any) (*Plan, error) {
	var p Plan
	dest := append([]any{
		&p.ID, &p.Name, &p.Slug, &p.Type, &p.DurationDays, &p.Price, &p.IsActive,
		&p.CreatedAt, &p.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPlans returns plans ordered by price with their announcement counts.
func (r *Repository) ListPlans(ctx context.Context, activeOnly bool) ([]*Plan, error) {
	query := `
		SELECT ` + planColumns + `, COUNT(a.id)
		FROM announcement_plans p
		LEFT JOIN announcements a ON a.plan_id = p.id
		WHERE ($1 = FALSE OR p.is_active)
		GROUP BY p.id
		ORDER BY p.price, p.id
	`

	rows, err := r.db.Pool().Query(ctx, query, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		var count int
		p, err := scanPlan(rows, &count)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		p.AnnouncementCount = count
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate plans: %w", err)
	}
	return plans, nil
}

// GetPlan loads a plan by id.
func (r *Repository) GetPlan(ctx context.Context, id int64) (*Plan, error) {
	p, err := scanPlan(r.db.Pool().QueryRow(ctx,
		`SELECT `+planColumns+` FROM announcement_plans p WHERE p.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query plan %d: %w", id, err)
	}
	return p, nil
}

// FindActivePlan looks up an active plan by exact name or slug.
func (r *Repository) FindActivePlan(ctx context.Context, nameOrSlug string) (*Plan, error) {
	p, err := scanPlan(r.db.Pool().QueryRow(ctx,
		`SELECT `+planColumns+` FROM announcement_plans p
		 WHERE p.is_active AND (p.name = $1 OR p.slug = $1)
		 ORDER BY p.id LIMIT 1`, nameOrSlug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query active plan %q: %w", nameOrSlug, err)
	}
	return p, nil
}

// CreatePlan inserts p.
func (r *Repository) CreatePlan(ctx context.Context, p *Plan) error {
	err := r.db.Pool().QueryRow(ctx, `
		INSERT INTO announcement_plans (name, slug, type, duration_days, price, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`,
		p.Name, p.Slug, p.Type, p.DurationDays, p.Price, p.IsActive,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)

	if isConstraintViolation(err, codeUniqueViolation, "announcement_plans_slug_key") {
		return ErrPlanSlugTaken
	}
	if err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}

	r.logger.Info("plan created", zap.Int64("plan_id", p.ID), zap.String("slug", p.Slug))
	return nil
}

// UpdatePlan overwrites every editable column of p.
func (r *Repository) UpdatePlan(ctx context.Context, p *Plan) error {
	err := r.db.Pool().QueryRow(ctx, `
		UPDATE announcement_plans
		SET name = $1, slug = $2, type = $3, duration_days = $4, price = $5,
			is_active = $6, updated_at = NOW()
		WHERE id = $7
		RETURNING created_at, updated_at`,
		p.Name, p.Slug, p.Type, p.DurationDays, p.Price, p.IsActive, p.ID,
	).Scan(&p.CreatedAt, &p.UpdatedAt)

	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if isConstraintViolation(err, codeUniqueViolation, "announcement_plans_slug_key") {
		return ErrPlanSlugTaken
	}
	if err != nil {
		return fmt.Errorf("update plan %d: %w", p.ID, err)
	}
	return nil
}

// TogglePlan flips is_active and returns the updated plan.
func (r *Repository) TogglePlan(ctx context.Context, id int64) (*Plan, error) {
	p, err := scanPlan(r.db.Pool().QueryRow(ctx, `
		UPDATE announcement_plans p
		SET is_active = NOT p.is_active, updated_at = NOW()
		WHERE p.id = $1
		RETURNING `+planColumns, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("toggle plan %d: %w", id, err)
	}

	r.logger.Info("plan toggled", zap.Int64("plan_id", id), zap.Bool("is_active", p.IsActive))
	return p, nil
}
