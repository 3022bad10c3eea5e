package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrSlugTaken is returned when an insert collides on a unique slug.
	ErrSlugTaken = errors.New("slug already taken")
	// ErrInUse is returned when a delete is blocked by referencing rows.
	ErrInUse = errors.New("row is still referenced")
)

const announcementSelect = `
	SELECT
		a.id, a.slug, a.type, a.name, a.date_of_birth, a.date_of_death,
		a.location, a.description, a.author, a.photo_path, a.document_path,
		a.advertiser_id, a.plan_id,
		a.status, a.payment_status, a.payment_method, a.payment_reference,
		a.paid_at, a.published_at, a.expires_at,
		a.created_at, a.updated_at,
		p.id, p.name, p.slug, p.type, p.duration_days, p.price, p.is_active,
		p.created_at, p.updated_at
	FROM announcements a
	LEFT JOIN announcement_plans p ON p.id = a.plan_id`

// VisibleCondition is the SQL form of the public visibility rule: published
// and not yet expired at the instant bound to placeholder.
func VisibleCondition(placeholder string) string {
	return "a.status = 'published' AND (a.expires_at IS NULL OR a.expires_at > " + placeholder + ")"
}

// Repository handles database operations for announcements, plans and
// advertisers.
type Repository struct {
	db     *DB
	logger *zap.Logger
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger *zap.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAnnouncement(row rowScanner) (*Announcement, error) {
	var (
		a         Announcement
		planID    *int64
		planName  *string
		planSlug  *string
		planType  *AnnouncementType
		planDays  *int
		planPrice *int64
		planOn    *bool
		planCAt   *time.Time
		planUAt   *time.Time
	)

	err := row.Scan(
		&a.ID, &a.Slug, &a.Type, &a.Name, &a.DateOfBirth, &a.DateOfDeath,
		&a.Location, &a.Description, &a.Author, &a.PhotoPath, &a.DocumentPath,
		&a.AdvertiserID, &a.PlanID,
		&a.Status, &a.PaymentStatus, &a.PaymentMethod, &a.PaymentReference,
		&a.PaidAt, &a.PublishedAt, &a.ExpiresAt,
		&a.CreatedAt, &a.UpdatedAt,
		&planID, &planName, &planSlug, &planType, &planDays, &planPrice, &planOn,
		&planCAt, &planUAt,
	)
	if err != nil {
		return nil, err
	}

	if planID != nil {
		a.Plan = &Plan{
			ID:           *planID,
			Name:         *planName,
			Slug:         *planSlug,
			Type:         *planType,
			DurationDays: *planDays,
			Price:        *planPrice,
			IsActive:     *planOn,
			CreatedAt:    *planCAt,
			UpdatedAt:    *planUAt,
		}
	}

	return &a, nil
}

func collectAnnouncements(rows pgx.Rows) ([]*Announcement, error) {
	defer rows.Close()

	var out []*Announcement
	for rows.Next() {
		a, err := scanAnnouncement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan announcement: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate announcements: %w", err)
	}
	return out, nil
}

// CreateAnnouncement inserts a. A collision on the slug returns ErrSlugTaken
// so the caller can retry with the next candidate.
func (r *Repository) CreateAnnouncement(ctx context.Context, a *Announcement) error {
	query := `
		INSERT INTO announcements (
			slug, type, name, date_of_birth, date_of_death, location,
			description, author, photo_path, document_path,
			advertiser_id, plan_id, status, payment_status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
		RETURNING id, created_at, updated_at
	`

	err := r.db.Pool().QueryRow(ctx, query,
		a.Slug, a.Type, a.Name, a.DateOfBirth, a.DateOfDeath, a.Location,
		a.Description, a.Author, a.PhotoPath, a.DocumentPath,
		a.AdvertiserID, a.PlanID, a.Status, a.PaymentStatus,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)

	if isConstraintViolation(err, codeUniqueViolation, "announcements_slug_key") {
		return ErrSlugTaken
	}
	if err != nil {
		r.logger.Error("failed to create announcement",
			zap.Error(err),
			zap.String("slug", a.Slug),
		)
		return fmt.Errorf("insert announcement: %w", err)
	}

	r.logger.Info("announcement created",
		zap.Int64("announcement_id", a.ID),
		zap.String("slug", a.Slug),
		zap.String("type", string(a.Type)),
	)
	return nil
}

// GetAnnouncement loads an announcement and its plan by id.
func (r *Repository) GetAnnouncement(ctx context.Context, id int64) (*Announcement, error) {
	a, err := scanAnnouncement(r.db.Pool().QueryRow(ctx, announcementSelect+` WHERE a.id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query announcement %d: %w", id, err)
	}
	return a, nil
}

// GetAnnouncementBySlug loads an announcement and its plan by slug.
func (r *Repository) GetAnnouncementBySlug(ctx context.Context, slug string) (*Announcement, error) {
	a, err := scanAnnouncement(r.db.Pool().QueryRow(ctx, announcementSelect+` WHERE a.slug = $1`, slug))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query announcement %q: %w", slug, err)
	}
	return a, nil
}

// SlugsWithBase returns existing slugs equal to base or of the form base-N.
func (r *Repository) SlugsWithBase(ctx context.Context, base string) ([]string, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT slug FROM announcements WHERE slug = $1 OR slug LIKE $2`,
		base, escapeLike(base)+"-%",
	)
	if err != nil {
		return nil, fmt.Errorf("query slugs: %w", err)
	}
	slugs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect slugs: %w", err)
	}
	return slugs, nil
}

// UpdateLifecycle writes next only if the row still holds the status and
// payment status observed in prev. It reports whether the row was updated;
// false means another writer got there first.
func (r *Repository) UpdateLifecycle(ctx context.Context, id int64, prev, next Lifecycle) (bool, error) {
	query := `
		UPDATE announcements
		SET status = $1, payment_status = $2, payment_method = $3,
			payment_reference = $4, paid_at = $5, published_at = $6,
			expires_at = $7, updated_at = NOW()
		WHERE id = $8 AND status = $9 AND payment_status = $10
	`

	tag, err := r.db.Pool().Exec(ctx, query,
		next.Status, next.PaymentStatus, next.PaymentMethod,
		next.PaymentReference, next.PaidAt, next.PublishedAt,
		next.ExpiresAt, id, prev.Status, prev.PaymentStatus,
	)
	if err != nil {
		r.logger.Error("failed to update announcement lifecycle",
			zap.Error(err),
			zap.Int64("announcement_id", id),
		)
		return false, fmt.Errorf("update lifecycle: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// ListPublic returns announcements visible at now, newest first.
func (r *Repository) ListPublic(ctx context.Context, f PublicFilter, now time.Time) ([]*Announcement, error) {
	args := []any{now}
	conds := []string{VisibleCondition("$1")}

	if f.Type != "" {
		args = append(args, f.Type)
		conds = append(conds, fmt.Sprintf("a.type = $%d", len(args)))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		args = append(args, "%"+escapeLike(q)+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(a.name ILIKE $%d OR a.location ILIKE $%d)", n, n))
	}
	args = append(args, f.Limit)

	query := announcementSelect +
		` WHERE ` + strings.Join(conds, " AND ") +
		fmt.Sprintf(` ORDER BY a.created_at DESC, a.id DESC LIMIT $%d`, len(args))

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query public announcements: %w", err)
	}
	return collectAnnouncements(rows)
}

// ListAnnouncements returns every announcement created within the filter's
// range, newest first.
func (r *Repository) ListAnnouncements(ctx context.Context, f AdminFilter) ([]*Announcement, error) {
	where, args := createdRange(f.From, f.To)
	args = append(args, f.Limit, f.Offset)

	query := announcementSelect + where +
		fmt.Sprintf(` ORDER BY a.created_at DESC, a.id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query announcements: %w", err)
	}
	return collectAnnouncements(rows)
}

// createdRange builds a WHERE clause on a.created_at. to is inclusive of the
// whole day.
func createdRange(from, to *time.Time) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if from != nil {
		args = append(args, *from)
		conds = append(conds, fmt.Sprintf("a.created_at >= $%d", len(args)))
	}
	if to != nil {
		args = append(args, to.AddDate(0, 0, 1))
		conds = append(conds, fmt.Sprintf("a.created_at < $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
