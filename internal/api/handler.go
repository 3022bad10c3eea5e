package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mariomelembe98/necrologia-tempo/internal/db"
	"github.com/mariomelembe98/necrologia-tempo/internal/lifecycle"
	"github.com/mariomelembe98/necrologia-tempo/internal/redis"
)

// idempotencyScope namespaces submission keys in redis.
const idempotencyScope = "announcements"

// Service is the lifecycle surface the HTTP layer drives. *lifecycle.Manager
// implements it.
type Service interface {
	CreatePending(ctx context.Context, s lifecycle.Submission) (*db.Announcement, error)
	GetBySlug(ctx context.Context, slug string) (*db.Announcement, error)
	GetPublicBySlug(ctx context.Context, slug string) (*db.Announcement, error)
	ListPublic(ctx context.Context, f db.PublicFilter) ([]*db.Announcement, error)
	ListForAdmin(ctx context.Context, f db.AdminFilter) ([]*db.Announcement, error)
	Dashboard(ctx context.Context, from, to *time.Time) (*db.DashboardStats, error)
	Moderate(ctx context.Context, id int64, status db.Status) (*db.Announcement, error)
	Checkout(ctx context.Context, slug, phone string) (*lifecycle.CheckoutResult, error)
	RequestPayment(ctx context.Context, id int64, phone string) (*lifecycle.CheckoutResult, error)

	ListPlans(ctx context.Context, activeOnly bool) ([]*db.Plan, error)
	CreatePlan(ctx context.Context, in lifecycle.PlanInput) (*db.Plan, error)
	UpdatePlan(ctx context.Context, id int64, in lifecycle.PlanInput) (*db.Plan, error)
	TogglePlan(ctx context.Context, id int64) (*db.Plan, error)

	ListAdvertisers(ctx context.Context, status db.DocumentStatus, limit, offset int) (*lifecycle.AdvertiserPage, error)
	DeleteAdvertiser(ctx context.Context, id int64, opts lifecycle.DeleteOptions) (int64, error)
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger      *zap.Logger
	svc         Service
	idempotency *redis.IdempotencyService // nil if Redis not configured
}

// NewHandler creates a new API handler. idempotency may be nil.
func NewHandler(logger *zap.Logger, svc Service, idempotency *redis.IdempotencyService) *Handler {
	return &Handler{
		logger:      logger,
		svc:         svc,
		idempotency: idempotency,
	}
}

type phoneRequest struct {
	Phone string `json:"phone"`
}

type statusRequest struct {
	Status db.Status `json:"status"`
}

// ListPlans handles GET /v1/plans
func (h *Handler) ListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.svc.ListPlans(r.Context(), true)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": plans})
}

// CreateAnnouncement handles POST /v1/announcements
// Supports idempotency via the Idempotency-Key header.
func (h *Handler) CreateAnnouncement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))

	var req lifecycle.Submission
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	reserved := false
	if idempotencyKey != "" && h.idempotency != nil {
		cached, err := h.idempotency.CheckOrReserve(ctx, idempotencyScope, idempotencyKey)
		switch {
		case errors.Is(err, redis.ErrDuplicateRequest):
			h.writeError(w, http.StatusConflict, "duplicate_request",
				"Request is already being processed",
				"Another request with this idempotency key is in progress")
			return
		case err != nil:
			h.logger.Warn("idempotency check failed, proceeding",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		case cached != nil:
			h.replay(w, r, cached)
			return
		default:
			reserved = true
		}
	}

	a, err := h.svc.CreatePending(ctx, req)
	if err != nil {
		if reserved {
			if relErr := h.idempotency.Release(ctx, idempotencyScope, idempotencyKey); relErr != nil {
				h.logger.Warn("failed to release idempotency key", zap.Error(relErr))
			}
		}
		h.writeServiceError(w, r, err)
		return
	}

	if reserved {
		result := &redis.IdempotencyResult{
			AnnouncementID: a.ID,
			Slug:           a.Slug,
			StatusCode:     http.StatusCreated,
		}
		if err := h.idempotency.Store(ctx, idempotencyScope, idempotencyKey, result, redis.IdempotencyTTL); err != nil {
			h.logger.Warn("failed to store idempotency result",
				zap.Error(err),
				zap.String("idempotency_key", idempotencyKey),
			)
		}
	}

	writeJSON(w, http.StatusCreated, a)
}

func (h *Handler) replay(w http.ResponseWriter, r *http.Request, cached *redis.IdempotencyResult) {
	a, err := h.svc.GetBySlug(r.Context(), cached.Slug)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("X-Idempotency-Replayed", "true")
	writeJSON(w, cached.StatusCode, a)
}

// ListAnnouncements handles GET /v1/announcements?type=&q=&limit=
func (h *Handler) ListAnnouncements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := db.PublicFilter{
		Type:  db.AnnouncementType(q.Get("type")),
		Query: strings.TrimSpace(q.Get("q")),
		Limit: intParam(q.Get("limit"), 0),
	}

	list, err := h.svc.ListPublic(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":  list,
		"count": len(list),
	})
}

// GetAnnouncement handles GET /v1/announcements/{slug}
func (h *Handler) GetAnnouncement(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetPublicBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Checkout handles POST /v1/announcements/{slug}/checkout
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	res, err := h.svc.Checkout(r.Context(), chi.URLParam(r, "slug"), req.Phone)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCheckout(w, res)
}

// writeCheckout answers 200 for an accepted initiation and 422 otherwise.
func writeCheckout(w http.ResponseWriter, res *lifecycle.CheckoutResult) {
	status := http.StatusOK
	if !res.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
