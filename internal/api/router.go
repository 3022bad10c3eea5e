package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mariomelembe98/necrologia-tempo/internal/metrics"
	"github.com/mariomelembe98/necrologia-tempo/internal/redis"
)

// RouterConfig carries the optional pieces of the HTTP surface.
type RouterConfig struct {
	RateLimiter *redis.RateLimiter
	AdminToken  string
	// Health reports dependency health; nil always answers OK.
	Health func(*http.Request) error
	// RequestTimeout must exceed the M-Pesa timeout so checkout can finish.
	RequestTimeout time.Duration
}

// NewRouter mounts every route on a chi router.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) http.Handler {
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 2 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Use(RateLimitMiddleware(cfg.RateLimiter, logger, IPKeyFunc))

		r.Get("/plans", h.ListPlans)
		r.Post("/announcements", h.CreateAnnouncement)
		r.Get("/announcements", h.ListAnnouncements)
		r.Get("/announcements/{slug}", h.GetAnnouncement)
		r.Post("/announcements/{slug}/checkout", h.Checkout)

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuth(cfg.AdminToken))

			r.Get("/dashboard", h.Dashboard)
			r.Get("/announcements", h.AdminListAnnouncements)
			r.Get("/announcements/{slug}", h.AdminGetAnnouncement)
			r.Patch("/announcements/{slug}/status", h.UpdateStatus)
			r.Post("/announcements/{slug}/payments/mpesa", h.RequestPayment)

			r.Get("/plans", h.AdminListPlans)
			r.Post("/plans", h.CreatePlan)
			r.Put("/plans/{id}", h.UpdatePlan)
			r.Patch("/plans/{id}/toggle", h.TogglePlan)

			r.Get("/advertisers", h.ListAdvertisers)
			r.Delete("/advertisers/{id}", h.DeleteAdvertiser)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(r); err != nil {
				logger.Warn("health check failed", zap.Error(err))
				http.Error(w, "UNAVAILABLE", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	r.Handle("/metrics", metrics.Handler())

	return r
}
