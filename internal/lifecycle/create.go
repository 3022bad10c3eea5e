package lifecycle

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/mariomelembe98/necrologia-tempo/internal/db"
	"github.com/mariomelembe98/necrologia-tempo/internal/metrics"
	"github.com/mariomelembe98/necrologia-tempo/internal/slug"
)

// CreatePending validates s and stores a new pending announcement with a
// unique slug. Submission notifications are sent in the background.
func (m *Manager) CreatePending(ctx context.Context, s Submission) (*db.Announcement, error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.CreatePending")
	defer span.End()

	s.normalize()
	if err := s.Validate(); err != nil {
		return nil, err
	}

	var plan *db.Plan
	if s.Plan != "" {
		p, err := m.store.FindActivePlan(ctx, s.Plan)
		if errors.Is(err, db.ErrNotFound) {
			return nil, invalid("plan", "o plano selecionado não existe ou não está ativo")
		}
		if err != nil {
			return nil, fmt.Errorf("find plan: %w", err)
		}
		plan = p
	}

	adv, err := m.store.FindOrCreateAdvertiser(ctx, db.AdvertiserContact{
		Name:         s.AdvertiserName,
		Phone:        s.AdvertiserPhone,
		Email:        s.AdvertiserEmail,
		DocumentPath: s.AdvertiserDocumentPath,
	})
	if err != nil {
		return nil, fmt.Errorf("find or create advertiser: %w", err)
	}

	a := &db.Announcement{
		Type:         s.Type,
		Name:         s.Name,
		DateOfBirth:  s.DateOfBirth.ptr(),
		DateOfDeath:  s.DateOfDeath.ptr(),
		Location:     s.Location,
		Description:  s.Description,
		Author:       s.Author,
		PhotoPath:    s.PhotoPath,
		DocumentPath: s.DocumentPath,
		AdvertiserID: adv.ID,
		Lifecycle: db.Lifecycle{
			Status:        db.StatusPending,
			PaymentStatus: db.PaymentPending,
		},
		Plan: plan,
	}
	if plan != nil {
		a.PlanID = &plan.ID
	}

	if err := m.insertWithUniqueSlug(ctx, a); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "insert failed")
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("announcement.id", a.ID),
		attribute.String("announcement.slug", a.Slug),
	)
	metrics.RecordSubmission(string(a.Type))

	m.notify(ctx, "submission", a, adv, m.notifier.NotifySubmission)
	if plan == nil && m.inPromotion(a) {
		m.notify(ctx, "moderation_required", a, adv, m.notifier.NotifyModerationRequired)
	}
	return a, nil
}

// insertWithUniqueSlug picks the first free candidate and retries with the
// next one when a concurrent insert claims it first.
func (m *Manager) insertWithUniqueSlug(ctx context.Context, a *db.Announcement) error {
	base := slug.Make(a.Name)

	taken, err := m.store.SlugsWithBase(ctx, base)
	if err != nil {
		return fmt.Errorf("load slugs: %w", err)
	}

	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		a.Slug, _ = slug.NextFree(base, taken)
		err := m.store.CreateAnnouncement(ctx, a)
		if err == nil {
			return nil
		}
		if !errors.Is(err, db.ErrSlugTaken) {
			return fmt.Errorf("create announcement: %w", err)
		}

		m.logger.Debug("slug collision, retrying",
			zap.String("slug", a.Slug),
			zap.Int("attempt", attempt+1),
		)
		taken = append(taken, a.Slug)
	}
	return fmt.Errorf("create announcement: no free slug for %q after %d attempts", base, maxSlugAttempts)
}

// inPromotion reports whether a was created on or before the end of the
// free-submission window.
func (m *Manager) inPromotion(a *db.Announcement) bool {
	if m.opts.PromotionEnd.IsZero() {
		return false
	}
	created := a.CreatedAt
	if created.IsZero() {
		created = m.now()
	}
	return !created.After(m.opts.PromotionEnd)
}
