package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mariomelembe98/necrologia-tempo/internal/db"
	"github.com/mariomelembe98/necrologia-tempo/internal/metrics"
)

// PaymentOutcome is what the payment provider reported for an announcement.
type PaymentOutcome struct {
	Success bool
	// Reference is the provider transaction id, when one was returned.
	Reference string
	// Message explains a failure.
	Message string
}

// Moderate moves an announcement to target. The first publication stamps
// published_at and, with a plan, expires_at; publishing again keeps both.
func (m *Manager) Moderate(ctx context.Context, id int64, target db.Status) (*db.Announcement, error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.Moderate")
	defer span.End()
	span.SetAttributes(attribute.Int64("announcement.id", id), attribute.String("status.target", string(target)))

	if !target.Valid() {
		return nil, invalid("status", "deve ser um de: "+statusList())
	}

	prev, a, err := m.mutate(ctx, id, func(a *db.Announcement, now time.Time) (db.Lifecycle, error) {
		next := a.Lifecycle
		if a.Status == target {
			return next, nil
		}
		if !m.opts.Policy.Allow(a.Status, target) {
			return next, invalid("status", fmt.Sprintf("transição de %s para %s não permitida", a.Status, target))
		}
		next.Status = target
		if target == db.StatusPublished {
			stampPublication(&next, a.Plan, now)
		}
		return next, nil
	})
	if err != nil {
		return nil, err
	}

	if prev.Status != a.Status {
		m.statusChanged(ctx, a, prev.Status)
	}
	return a, nil
}

// RecordPaymentResult applies a provider outcome. Success pays and, when
// the transition policy allows it, publishes in the same write; failure only
// marks the payment failed. Repeating a success with the same or no
// reference returns the stored announcement.
func (m *Manager) RecordPaymentResult(ctx context.Context, id int64, outcome PaymentOutcome) (*db.Announcement, error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.RecordPaymentResult")
	defer span.End()
	span.SetAttributes(attribute.Int64("announcement.id", id), attribute.Bool("payment.success", outcome.Success))

	ref := strings.TrimSpace(outcome.Reference)
	result := "ignored"
	var held db.Status

	prev, a, err := m.mutate(ctx, id, func(a *db.Announcement, now time.Time) (db.Lifecycle, error) {
		next := a.Lifecycle
		held = ""

		if a.PaymentStatus == db.PaymentPaid {
			if !outcome.Success {
				result = "ignored"
				return next, nil
			}
			if ref != "" && a.PaymentReference != nil && *a.PaymentReference != ref {
				return next, ErrPaymentConflict
			}
			result = "duplicate"
			return next, nil
		}

		if !outcome.Success {
			result = "failed"
			next.PaymentStatus = db.PaymentFailed
			return next, nil
		}

		result = "paid"
		method := db.PaymentMethodMpesa
		paidAt := now
		next.PaymentStatus = db.PaymentPaid
		next.PaymentMethod = &method
		if ref != "" {
			next.PaymentReference = &ref
		}
		next.PaidAt = &paidAt
		if a.Status != db.StatusPublished && !m.opts.Policy.Allow(a.Status, db.StatusPublished) {
			held = a.Status
			return next, nil
		}
		next.Status = db.StatusPublished
		stampPublication(&next, a.Plan, now)
		return next, nil
	})
	if err != nil {
		if errors.Is(err, ErrPaymentConflict) {
			metrics.RecordPayment("conflict")
			m.logger.Warn("payment reference conflict",
				zap.Int64("announcement_id", id),
				zap.String("reference", ref),
			)
		}
		return nil, err
	}

	metrics.RecordPayment(result)
	m.logger.Info("payment result recorded",
		zap.Int64("announcement_id", id),
		zap.String("result", result),
		zap.String("reference", ref),
		zap.String("message", outcome.Message),
	)
	if held != "" {
		m.logger.Warn("payment recorded without publishing, transition not allowed",
			zap.Int64("announcement_id", id),
			zap.String("status", string(held)),
		)
	}

	if prev.Status != a.Status {
		m.statusChanged(ctx, a, prev.Status)
	}
	return a, nil
}

// stampPublication sets published_at on first publication and derives
// expires_at from it when a plan is attached and no expiry exists yet.
func stampPublication(l *db.Lifecycle, plan *db.Plan, now time.Time) {
	if l.PublishedAt == nil {
		published := now
		l.PublishedAt = &published
	}
	if l.ExpiresAt == nil && plan != nil {
		expires := l.PublishedAt.Add(plan.Duration())
		l.ExpiresAt = &expires
	}
}

func (m *Manager) statusChanged(ctx context.Context, a *db.Announcement, from db.Status) {
	metrics.RecordStatusTransition(string(from), string(a.Status))
	m.logger.Info("announcement status changed",
		zap.Int64("announcement_id", a.ID),
		zap.String("from", string(from)),
		zap.String("to", string(a.Status)),
	)
	m.notify(ctx, "status_changed", a, m.advertiserFor(ctx, a), m.notifier.NotifyStatusChange)
}

// mutate loads the announcement, lets fn compute the next lifecycle and
// writes it with a conditional update on the observed status and payment
// status. A lost race reloads and re-evaluates. It returns the lifecycle
// observed before the write and the resulting announcement.
func (m *Manager) mutate(ctx context.Context, id int64,
	fn func(a *db.Announcement, now time.Time) (db.Lifecycle, error)) (db.Lifecycle, *db.Announcement, error) {
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		a, err := m.store.GetAnnouncement(ctx, id)
		if errors.Is(err, db.ErrNotFound) {
			return db.Lifecycle{}, nil, ErrNotFound
		}
		if err != nil {
			return db.Lifecycle{}, nil, fmt.Errorf("load announcement: %w", err)
		}

		prev := a.Lifecycle
		next, err := fn(a, m.now())
		if err != nil {
			return prev, nil, err
		}
		if lifecycleEqual(prev, next) {
			return prev, a, nil
		}

		ok, err := m.store.UpdateLifecycle(ctx, id, prev, next)
		if err != nil {
			return prev, nil, fmt.Errorf("update lifecycle: %w", err)
		}
		if ok {
			a.Lifecycle = next
			return prev, a, nil
		}

		m.logger.Debug("lifecycle update lost race, retrying",
			zap.Int64("announcement_id", id),
			zap.Int("attempt", attempt+1),
		)
	}
	return db.Lifecycle{}, nil, ErrConcurrentUpdate
}

func lifecycleEqual(a, b db.Lifecycle) bool {
	return a.Status == b.Status &&
		a.PaymentStatus == b.PaymentStatus &&
		strPtrEqual(a.PaymentMethod, b.PaymentMethod) &&
		strPtrEqual(a.PaymentReference, b.PaymentReference) &&
		timePtrEqual(a.PaidAt, b.PaidAt) &&
		timePtrEqual(a.PublishedAt, b.PublishedAt) &&
		timePtrEqual(a.ExpiresAt, b.ExpiresAt)
}

func strPtrEqual(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func statusList() string {
	names := make([]string, len(db.Statuses))
	for i, s := range db.Statuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}
