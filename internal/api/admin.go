package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mariomelembe98/necrologia-tempo/internal/db"
	"github.com/mariomelembe98/necrologia-tempo/internal/lifecycle"
)

const dateLayout = "2006-01-02"

// Dashboard handles GET /v1/admin/dashboard?from=&to=
func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.dateRange(w, r)
	if !ok {
		return
	}

	stats, err := h.svc.Dashboard(r.Context(), from, to)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// AdminListAnnouncements handles GET /v1/admin/announcements?from=&to=&limit=&offset=
func (h *Handler) AdminListAnnouncements(w http.ResponseWriter, r *http.Request) {
	from, to, ok := h.dateRange(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	f := db.AdminFilter{
		From:   from,
		To:     to,
		Limit:  intParam(q.Get("limit"), 0),
		Offset: intParam(q.Get("offset"), 0),
	}

	list, err := h.svc.ListForAdmin(r.Context(), f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"data":   list,
		"limit":  f.Limit,
		"offset": f.Offset,
		"count":  len(list),
	})
}

// AdminGetAnnouncement handles GET /v1/admin/announcements/{slug}
func (h *Handler) AdminGetAnnouncement(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// UpdateStatus handles PATCH /v1/admin/announcements/{slug}/status
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	a, err := h.svc.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	updated, err := h.svc.Moderate(r.Context(), a.ID, req.Status)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	h.logger.Info("announcement moderated",
		zap.Int64("announcement_id", a.ID),
		zap.String("status", string(updated.Status)),
	)
	writeJSON(w, http.StatusOK, updated)
}

// RequestPayment handles POST /v1/admin/announcements/{slug}/payments/mpesa
func (h *Handler) RequestPayment(w http.ResponseWriter, r *http.Request) {
	var req phoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	a, err := h.svc.GetBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	res, err := h.svc.RequestPayment(r.Context(), a.ID, req.Phone)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeCheckout(w, res)
}

// AdminListPlans handles GET /v1/admin/plans
func (h *Handler) AdminListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.svc.ListPlans(r.Context(), false)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": plans})
}

// CreatePlan handles POST /v1/admin/plans
func (h *Handler) CreatePlan(w http.ResponseWriter, r *http.Request) {
	var in lifecycle.PlanInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	p, err := h.svc.CreatePlan(r.Context(), in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// UpdatePlan handles PUT /v1/admin/plans/{id}
func (h *Handler) UpdatePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}

	var in lifecycle.PlanInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	p, err := h.svc.UpdatePlan(r.Context(), id, in)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// TogglePlan handles PATCH /v1/admin/plans/{id}/toggle
func (h *Handler) TogglePlan(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}

	p, err := h.svc.TogglePlan(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ListAdvertisers handles GET /v1/admin/advertisers?status=&limit=&offset=
func (h *Handler) ListAdvertisers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.svc.ListAdvertisers(r.Context(),
		db.DocumentStatus(q.Get("status")),
		intParam(q.Get("limit"), 0),
		intParam(q.Get("offset"), 0),
	)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

// DeleteAdvertiser handles DELETE /v1/admin/advertisers/{id}?confirm=true
func (h *Handler) DeleteAdvertiser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.idParam(w, r)
	if !ok {
		return
	}
	confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))

	removed, err := h.svc.DeleteAdvertiser(r.Context(), id, lifecycle.DeleteOptions{Confirm: confirm})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":                    id,
		"status":                "deleted",
		"announcements_removed": removed,
	})
}

func (h *Handler) idParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid ID", "ID must be a positive integer")
		return 0, false
	}
	return id, true
}

// dateRange parses the optional from/to query parameters as YYYY-MM-DD.
func (h *Handler) dateRange(w http.ResponseWriter, r *http.Request) (from, to *time.Time, ok bool) {
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  **time.Time
	}{{"from", &from}, {"to", &to}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		t, err := time.ParseInLocation(dateLayout, raw, time.UTC)
		if err != nil {
			writeProblem(w, ErrorResponse{
				Type:   "validation_error",
				Title:  "Validation failed",
				Status: http.StatusBadRequest,
				Errors: map[string]string{p.name: "deve estar no formato AAAA-MM-DD"},
			})
			return nil, nil, false
		}
		*p.dst = &t
	}
	return from, to, true
}
