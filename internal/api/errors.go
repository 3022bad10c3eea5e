package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/mariomelembe98/necrologia-tempo/internal/lifecycle"
)

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string            `json:"type"`
	Title  string            `json:"title"`
	Status int               `json:"status"`
	Detail string            `json:"detail,omitempty"`
	Errors map[string]string `json:"errors,omitempty"`
}

// conflicts maps lifecycle sentinels to their problem type.
var conflicts = []struct {
	err     error
	errType string
	title   string
}{
	{lifecycle.ErrAlreadyPaid, "already_paid", "Announcement already paid"},
	{lifecycle.ErrPaymentConflict, "payment_conflict", "Payment reference conflict"},
	{lifecycle.ErrCheckoutInProgress, "checkout_in_progress", "Payment already in progress"},
	{lifecycle.ErrAdvertiserHasAnnouncements, "advertiser_in_use", "Advertiser still has announcements"},
	{lifecycle.ErrConcurrentUpdate, "concurrent_update", "Announcement was modified concurrently"},
	{lifecycle.ErrPlanSlugTaken, "plan_slug_taken", "Plan slug already taken"},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, p ErrorResponse) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	writeProblem(w, ErrorResponse{Type: errType, Title: title, Status: status, Detail: detail})
}

// writeServiceError translates a lifecycle error into a problem response.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *lifecycle.ValidationError
	if errors.As(err, &verr) {
		writeProblem(w, ErrorResponse{
			Type:   "validation_error",
			Title:  "Validation failed",
			Status: http.StatusBadRequest,
			Errors: verr.Fields,
		})
		return
	}

	if errors.Is(err, lifecycle.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "not_found", "Resource not found", "")
		return
	}

	for _, c := range conflicts {
		if errors.Is(err, c.err) {
			h.writeError(w, http.StatusConflict, c.errType, c.title, c.err.Error())
			return
		}
	}

	h.logger.Error("request failed",
		zap.Error(err),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)
	h.writeError(w, http.StatusInternalServerError, "internal_error", "Internal server error", "")
}
