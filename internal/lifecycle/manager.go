// Package lifecycle owns announcement state: submission, moderation,
// payment bookkeeping and public visibility.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mariomelembe98/necrologia-tempo/internal/db"
	"github.com/mariomelembe98/necrologia-tempo/internal/mpesa"
)

// Store is the persistence the manager needs. *db.Repository satisfies it.
type Store interface {
	CreateAnnouncement(ctx context.Context, a *db.Announcement) error
	GetAnnouncement(ctx context.Context, id int64) (*db.Announcement, error)
	GetAnnouncementBySlug(ctx context.Context, slug string) (*db.Announcement, error)
	SlugsWithBase(ctx context.Context, base string) ([]string, error)
	UpdateLifecycle(ctx context.Context, id int64, prev, next db.Lifecycle) (bool, error)
	ListPublic(ctx context.Context, f db.PublicFilter, now time.Time) ([]*db.Announcement, error)
	ListAnnouncements(ctx context.Context, f db.AdminFilter) ([]*db.Announcement, error)
	Dashboard(ctx context.Context, from, to *time.Time, now time.Time, promotionEnd *time.Time) (*db.DashboardStats, error)

	ListPlans(ctx context.Context, activeOnly bool) ([]*db.Plan, error)
	GetPlan(ctx context.Context, id int64) (*db.Plan, error)
	FindActivePlan(ctx context.Context, nameOrSlug string) (*db.Plan, error)
	CreatePlan(ctx context.Context, p *db.Plan) error
	UpdatePlan(ctx context.Context, p *db.Plan) error
	TogglePlan(ctx context.Context, id int64) (*db.Plan, error)

	FindOrCreateAdvertiser(ctx context.Context, c db.AdvertiserContact) (*db.Advertiser, error)
	GetAdvertiser(ctx context.Context, id int64) (*db.Advertiser, error)
	ListAdvertisers(ctx context.Context, status db.DocumentStatus, limit, offset int) ([]*db.Advertiser, int, error)
	DeleteAdvertiser(ctx context.Context, id int64, cascade bool) (int64, error)
}

// Gateway initiates mobile-money payments. *mpesa.Client satisfies it.
type Gateway interface {
	InitiatePayment(ctx context.Context, req mpesa.PaymentRequest, phone string) mpesa.Result
	Timeout() time.Duration
}

// Notifier receives lifecycle events. Errors are logged, never returned to
// the caller of the triggering operation.
type Notifier interface {
	NotifySubmission(ctx context.Context, a *db.Announcement, adv *db.Advertiser) error
	NotifyModerationRequired(ctx context.Context, a *db.Announcement, adv *db.Advertiser) error
	NotifyStatusChange(ctx context.Context, a *db.Announcement, adv *db.Advertiser) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) NotifySubmission(context.Context, *db.Announcement, *db.Advertiser) error {
	return nil
}

func (NopNotifier) NotifyModerationRequired(context.Context, *db.Announcement, *db.Advertiser) error {
	return nil
}

func (NopNotifier) NotifyStatusChange(context.Context, *db.Announcement, *db.Advertiser) error {
	return nil
}

// Locker provides short exclusive locks. *redis.Locker satisfies it.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (func(context.Context), bool, error)
}

// Options tune a Manager. Zero values select the defaults.
type Options struct {
	Policy TransitionPolicy
	// PromotionEnd closes the free-submission window; zero disables it.
	PromotionEnd time.Time
	// NotifyTimeout bounds each background notification.
	NotifyTimeout time.Duration
	Now           func() time.Time
}

const (
	maxSlugAttempts   = 8
	maxUpdateAttempts = 3
	maxPublicLimit    = 60
	defaultAdminLimit = 50
)

// Manager is safe for concurrent use.
type Manager struct {
	store    Store
	gateway  Gateway
	notifier Notifier
	locker   Locker
	opts     Options
	tracer   trace.Tracer
	logger   *zap.Logger

	// notifications tracks in-flight background notifications.
	notifications sync.WaitGroup
}

// New builds a Manager. gateway, notifier and locker may be nil.
func New(store Store, gateway Gateway, notifier Notifier, locker Locker, opts Options, logger *zap.Logger) *Manager {
	if opts.Policy == nil {
		opts.Policy = PermissiveTransitions{}
	}
	if opts.NotifyTimeout == 0 {
		opts.NotifyTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Manager{
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		locker:   locker,
		opts:     opts,
		tracer:   otel.Tracer("necrologia/lifecycle"),
		logger:   logger,
	}
}

// Wait blocks until background notifications have finished.
func (m *Manager) Wait() {
	m.notifications.Wait()
}

func (m *Manager) now() time.Time {
	return m.opts.Now().UTC()
}

// notify runs fn detached from the request so a client disconnect does not
// cancel delivery.
func (m *Manager) notify(ctx context.Context, event string, a *db.Announcement, adv *db.Advertiser,
	fn func(context.Context, *db.Announcement, *db.Advertiser) error) {
	m.notifications.Add(1)
	go func() {
		defer m.notifications.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("notifier panicked", zap.String("event", event), zap.Any("panic", r))
			}
		}()

		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.opts.NotifyTimeout)
		defer cancel()

		if err := fn(nctx, a, adv); err != nil {
			m.logger.Warn("notification failed",
				zap.Error(err),
				zap.String("event", event),
				zap.Int64("announcement_id", a.ID),
			)
		}
	}()
}

// advertiserFor loads the advertiser for notifications; nil on failure.
func (m *Manager) advertiserFor(ctx context.Context, a *db.Announcement) *db.Advertiser {
	adv, err := m.store.GetAdvertiser(ctx, a.AdvertiserID)
	if err != nil {
		m.logger.Warn("failed to load advertiser for notification",
			zap.Error(err),
			zap.Int64("advertiser_id", a.AdvertiserID),
		)
		return nil
	}
	return adv
}
