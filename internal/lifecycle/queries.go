package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mariomelembe98/necrologia-tempo/internal/db"
	"github.com/mariomelembe98/necrologia-tempo/internal/slug"
)

// GetBySlug returns the announcement regardless of status.
func (m *Manager) GetBySlug(ctx context.Context, s string) (*db.Announcement, error) {
	a, err := m.store.GetAnnouncementBySlug(ctx, s)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load announcement: %w", err)
	}
	return a, nil
}

// GetPublicBySlug returns the announcement only while it is publicly
// visible.
func (m *Manager) GetPublicBySlug(ctx context.Context, s string) (*db.Announcement, error) {
	a, err := m.GetBySlug(ctx, s)
	if err != nil {
		return nil, err
	}
	if !IsPubliclyVisible(a, m.now()) {
		return nil, ErrNotFound
	}
	return a, nil
}

// ListPublic returns visible announcements, newest first.
func (m *Manager) ListPublic(ctx context.Context, f db.PublicFilter) ([]*db.Announcement, error) {
	if f.Type != "" && !f.Type.Valid() {
		return nil, invalid("type", "deve ser um de: tribute, notice, other")
	}
	if f.Limit <= 0 || f.Limit > maxPublicLimit {
		f.Limit = maxPublicLimit
	}
	out, err := m.store.ListPublic(ctx, f, m.now())
	if err != nil {
		return nil, fmt.Errorf("list public announcements: %w", err)
	}
	return out, nil
}

// ListForAdmin returns every announcement created within the range.
func (m *Manager) ListForAdmin(ctx context.Context, f db.AdminFilter) ([]*db.Announcement, error) {
	if err := checkRange(f.From, f.To); err != nil {
		return nil, err
	}
	if f.Limit <= 0 {
		f.Limit = defaultAdminLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	out, err := m.store.ListAnnouncements(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list announcements: %w", err)
	}
	return out, nil
}

// Dashboard aggregates announcements created within the range.
func (m *Manager) Dashboard(ctx context.Context, from, to *time.Time) (*db.DashboardStats, error) {
	if err := checkRange(from, to); err != nil {
		return nil, err
	}
	var promotionEnd *time.Time
	if !m.opts.PromotionEnd.IsZero() {
		pe := m.opts.PromotionEnd
		promotionEnd = &pe
	}
	stats, err := m.store.Dashboard(ctx, from, to, m.now(), promotionEnd)
	if err != nil {
		return nil, fmt.Errorf("dashboard: %w", err)
	}
	return stats, nil
}

func checkRange(from, to *time.Time) error {
	if from != nil && to != nil && to.Before(*from) {
		return invalid("to", "deve ser igual ou posterior a from")
	}
	return nil
}

// PlanInput carries the editable fields of a plan.
type PlanInput struct {
	Name         string              `json:"name" validate:"required,max=255"`
	Slug         string              `json:"slug" validate:"omitempty,max=255"`
	Type         db.AnnouncementType `json:"type" validate:"required,oneof=tribute notice other"`
	DurationDays int                 `json:"duration_days" validate:"gt=0,lte=3650"`
	Price        int64               `json:"price" validate:"gte=0"`
	IsActive     *bool               `json:"is_active"`
}

func (in *PlanInput) toPlan() (*db.Plan, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Slug = strings.TrimSpace(in.Slug)

	if err := validate.Struct(in); err != nil {
		return nil, toValidationError(err)
	}

	p := &db.Plan{
		Name:         in.Name,
		Slug:         in.Slug,
		Type:         in.Type,
		DurationDays: in.DurationDays,
		Price:        in.Price,
		IsActive:     true,
	}
	if p.Slug == "" {
		p.Slug = slug.Make(p.Name)
	} else {
		p.Slug = slug.Make(p.Slug)
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
	return p, nil
}

// ListPlans returns the plan catalogue ordered by price.
func (m *Manager) ListPlans(ctx context.Context, activeOnly bool) ([]*db.Plan, error) {
	plans, err := m.store.ListPlans(ctx, activeOnly)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	return plans, nil
}

func (m *Manager) CreatePlan(ctx context.Context, in PlanInput) (*db.Plan, error) {
	p, err := in.toPlan()
	if err != nil {
		return nil, err
	}
	if err := m.store.CreatePlan(ctx, p); err != nil {
		return nil, planError(err)
	}
	return p, nil
}

func (m *Manager) UpdatePlan(ctx context.Context, id int64, in PlanInput) (*db.Plan, error) {
	p, err := in.toPlan()
	if err != nil {
		return nil, err
	}
	current, err := m.store.GetPlan(ctx, id)
	if err != nil {
		return nil, planError(err)
	}
	p.ID = id
	if in.IsActive == nil {
		p.IsActive = current.IsActive
	}
	if err := m.store.UpdatePlan(ctx, p); err != nil {
		return nil, planError(err)
	}
	return p, nil
}

// TogglePlan flips a plan's active flag. Announcements already on the plan
// are unaffected.
func (m *Manager) TogglePlan(ctx context.Context, id int64) (*db.Plan, error) {
	p, err := m.store.TogglePlan(ctx, id)
	if err != nil {
		return nil, planError(err)
	}
	return p, nil
}

func planError(err error) error {
	switch {
	case errors.Is(err, db.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, db.ErrPlanSlugTaken):
		return ErrPlanSlugTaken
	default:
		return fmt.Errorf("plan: %w", err)
	}
}

// AdvertiserPage is one page of advertisers and the total matching count.
type AdvertiserPage struct {
	Advertisers []*db.Advertiser `json:"advertisers"`
	Total       int              `json:"total"`
}

// ListAdvertisers filters by document status when status is not empty.
func (m *Manager) ListAdvertisers(ctx context.Context, status db.DocumentStatus, limit, offset int) (*AdvertiserPage, error) {
	if status != "" && !status.Valid() {
		return nil, invalid("status", "deve ser um de: pending, verified, rejected")
	}
	if limit <= 0 {
		limit = defaultAdminLimit
	}
	if offset < 0 {
		offset = 0
	}
	list, total, err := m.store.ListAdvertisers(ctx, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list advertisers: %w", err)
	}
	return &AdvertiserPage{Advertisers: list, Total: total}, nil
}

// DeleteOptions guards the destructive cascade.
type DeleteOptions struct {
	// Confirm also deletes every announcement of the advertiser.
	Confirm bool
}

// DeleteAdvertiser removes an advertiser. Announcements are deleted with it
// only when opts.Confirm is set; otherwise an advertiser that still has
// announcements yields ErrAdvertiserHasAnnouncements.
func (m *Manager) DeleteAdvertiser(ctx context.Context, id int64, opts DeleteOptions) (int64, error) {
	removed, err := m.store.DeleteAdvertiser(ctx, id, opts.Confirm)
	switch {
	case errors.Is(err, db.ErrNotFound):
		return 0, ErrNotFound
	case errors.Is(err, db.ErrInUse):
		return 0, ErrAdvertiserHasAnnouncements
	case err != nil:
		return 0, fmt.Errorf("delete advertiser: %w", err)
	}

	if removed > 0 {
		m.logger.Warn("advertiser deleted with announcements",
			zap.Int64("advertiser_id", id),
			zap.Int64("announcements_removed", removed),
		)
	}
	return removed, nil
}
