package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/mariomelembe98/necrologia-tempo/internal/db"
	"github.com/mariomelembe98/necrologia-tempo/internal/lifecycle"
	"github.com/mariomelembe98/necrologia-tempo/internal/redis"
)

var ErrDatabaseError = errors.New("database error")

// MockService is a fake lifecycle service for testing
type MockService struct {
	mu            sync.Mutex
	announcements map[string]*db.Announcement
	plans         []*db.Plan

	createCalls   int
	lastPublic    db.PublicFilter
	lastAdmin     db.AdminFilter
	lastStatus    db.Status
	lastDelete    lifecycle.DeleteOptions
	checkout      *lifecycle.CheckoutResult
	err           error
	dashboardFrom *time.Time
}

func NewMockService() *MockService {
	return &MockService{announcements: make(map[string]*db.Announcement)}
}

func (m *MockService) add(a *db.Announcement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.announcements[a.Slug] = a
}

func (m *MockService) CreatePending(_ context.Context, s lifecycle.Submission) (*db.Announcement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.err != nil {
		return nil, m.err
	}
	a := &db.Announcement{
		ID:        int64(len(m.announcements) + 1),
		Slug:      "maria-silva",
		Type:      s.Type,
		Name:      s.Name,
		Lifecycle: db.Lifecycle{Status: db.StatusPending, PaymentStatus: db.PaymentPending},
	}
	m.announcements[a.Slug] = a
	return a, nil
}

func (m *MockService) GetBySlug(_ context.Context, slug string) (*db.Announcement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.announcements[slug]
	if !ok {
		return nil, lifecycle.ErrNotFound
	}
	return a, nil
}

func (m *MockService) GetPublicBySlug(ctx context.Context, slug string) (*db.Announcement, error) {
	a, err := m.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if a.Status != db.StatusPublished {
		return nil, lifecycle.ErrNotFound
	}
	return a, nil
}

func (m *MockService) ListPublic(_ context.Context, f db.PublicFilter) ([]*db.Announcement, error) {
	m.lastPublic = f
	if m.err != nil {
		return nil, m.err
	}
	return []*db.Announcement{}, nil
}

func (m *MockService) ListForAdmin(_ context.Context, f db.AdminFilter) ([]*db.Announcement, error) {
	m.lastAdmin = f
	return []*db.Announcement{}, m.err
}

func (m *MockService) Dashboard(_ context.Context, from, _ *time.Time) (*db.DashboardStats, error) {
	m.dashboardFrom = from
	return &db.DashboardStats{Total: 3}, m.err
}

func (m *MockService) Moderate(_ context.Context, id int64, status db.Status) (*db.Announcement, error) {
	m.lastStatus = status
	if m.err != nil {
		return nil, m.err
	}
	for _, a := range m.announcements {
		if a.ID == id {
			a.Status = status
			return a, nil
		}
	}
	return nil, lifecycle.ErrNotFound
}

func (m *MockService) Checkout(_ context.Context, slug, _ string) (*lifecycle.CheckoutResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.checkout, nil
}

func (m *MockService) RequestPayment(_ context.Context, _ int64, _ string) (*lifecycle.CheckoutResult, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.checkout, nil
}

func (m *MockService) ListPlans(_ context.Context, activeOnly bool) ([]*db.Plan, error) {
	var out []*db.Plan
	for _, p := range m.plans {
		if !activeOnly || p.IsActive {
			out = append(out, p)
		}
	}
	return out, m.err
}

func (m *MockService) CreatePlan(_ context.Context, in lifecycle.PlanInput) (*db.Plan, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &db.Plan{ID: 1, Name: in.Name, Slug: "plano", IsActive: true}, nil
}

func (m *MockService) UpdatePlan(_ context.Context, id int64, in lifecycle.PlanInput) (*db.Plan, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &db.Plan{ID: id, Name: in.Name}, nil
}

func (m *MockService) TogglePlan(_ context.Context, id int64) (*db.Plan, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &db.Plan{ID: id}, nil
}

func (m *MockService) ListAdvertisers(_ context.Context, _ db.DocumentStatus, _, _ int) (*lifecycle.AdvertiserPage, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &lifecycle.AdvertiserPage{Advertisers: []*db.Advertiser{}, Total: 0}, nil
}

func (m *MockService) DeleteAdvertiser(_ context.Context, _ int64, opts lifecycle.DeleteOptions) (int64, error) {
	m.lastDelete = opts
	if m.err != nil {
		return 0, m.err
	}
	return 2, nil
}

func newTestRouter(svc Service, idem *redis.IdempotencyService, cfg RouterConfig) http.Handler {
	logger := zap.NewNop()
	return NewRouter(NewHandler(logger, svc, idem), cfg, logger)
}

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	if err != nil {
		t.Fatal(err)
	}
	client, err := redis.New(context.Background(), redis.Config{Host: mr.Host(), Port: port}, zap.NewNop())
	if err != nil {
		t.Fatalf("connect miniredis: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func do(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	if ct := rec.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected problem+json, got %q", ct)
	}
	var p ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&p); err != nil {
		t.Fatalf("decode problem: %v", err)
	}
	return p
}

func submissionBody() map[string]any {
	return map[string]any{
		"type":             "notice",
		"name":             "Maria Silva",
		"location":         "Maputo",
		"description":      "...",
		"author":           "Família Silva",
		"advertiser_name":  "João Silva",
		"advertiser_phone": "841234567",
	}
}

func TestCreateAnnouncement(t *testing.T) {
	svc := NewMockService()
	router := newTestRouter(svc, nil, RouterConfig{})

	rec := do(t, router, http.MethodPost, "/v1/announcements", submissionBody(), nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var a db.Announcement
	if err := json.NewDecoder(rec.Body).Decode(&a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if a.Slug != "maria-silva" || a.Status != db.StatusPending {
		t.Errorf("unexpected announcement: %+v", a)
	}
}

func TestCreateAnnouncement_Errors(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		err        error
		wantStatus int
		wantType   string
	}{
		{"malformed json", `{"name":`, nil, http.StatusBadRequest, "invalid_request"},
		{
			name:       "validation",
			body:       submissionBody(),
			err:        &lifecycle.ValidationError{Fields: map[string]string{"name": "é obrigatório"}},
			wantStatus: http.StatusBadRequest,
			wantType:   "validation_error",
		},
		{"storage failure", submissionBody(), ErrDatabaseError, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewMockService()
			svc.err = tt.err
			router := newTestRouter(svc, nil, RouterConfig{})

			rec := do(t, router, http.MethodPost, "/v1/announcements", tt.body, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			p := decodeProblem(t, rec)
			if p.Type != tt.wantType {
				t.Errorf("type = %q, want %q", p.Type, tt.wantType)
			}
			if tt.wantType == "validation_error" && p.Errors["name"] != "é obrigatório" {
				t.Errorf("expected field errors, got %v", p.Errors)
			}
		})
	}
}

func TestCreateAnnouncement_IdempotentReplay(t *testing.T) {
	svc := NewMockService()
	idem := redis.NewIdempotencyService(setupRedis(t), zap.NewNop())
	router := newTestRouter(svc, idem, RouterConfig{})
	headers := map[string]string{"Idempotency-Key": "abc-123"}

	first := do(t, router, http.MethodPost, "/v1/announcements", submissionBody(), headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.Code)
	}

	second := do(t, router, http.MethodPost, "/v1/announcements", submissionBody(), headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", second.Code)
	}
	if second.Header().Get("X-Idempotency-Replayed") != "true" {
		t.Error("expected replay header")
	}
	if svc.createCalls != 1 {
		t.Fatalf("expected one creation, got %d", svc.createCalls)
	}
}

func TestCreateAnnouncement_FailureReleasesKey(t *testing.T) {
	svc := NewMockService()
	svc.err = &lifecycle.ValidationError{Fields: map[string]string{"name": "é obrigatório"}}
	idem := redis.NewIdempotencyService(setupRedis(t), zap.NewNop())
	router := newTestRouter(svc, idem, RouterConfig{})
	headers := map[string]string{"Idempotency-Key": "retry-me"}

	if rec := do(t, router, http.MethodPost, "/v1/announcements", submissionBody(), headers); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	svc.err = nil
	rec := do(t, router, http.MethodPost, "/v1/announcements", submissionBody(), headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("corrected retry should create, got %d", rec.Code)
	}
	if svc.createCalls != 2 {
		t.Fatalf("expected two attempts, got %d", svc.createCalls)
	}
}

func TestCreateAnnouncement_InFlightKey(t *testing.T) {
	svc := NewMockService()
	idem := redis.NewIdempotencyService(setupRedis(t), zap.NewNop())
	if _, err := idem.Reserve(context.Background(), idempotencyScope, "busy"); err != nil {
		t.Fatal(err)
	}
	router := newTestRouter(svc, idem, RouterConfig{})

	rec := do(t, router, http.MethodPost, "/v1/announcements", submissionBody(), map[string]string{"Idempotency-Key": "busy"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if p := decodeProblem(t, rec); p.Type != "duplicate_request" {
		t.Errorf("unexpected problem type %q", p.Type)
	}
	if svc.createCalls != 0 {
		t.Error("service must not be called")
	}
}

func TestGetAnnouncement(t *testing.T) {
	svc := NewMockService()
	svc.add(&db.Announcement{ID: 1, Slug: "publicado", Lifecycle: db.Lifecycle{Status: db.StatusPublished}})
	svc.add(&db.Announcement{ID: 2, Slug: "pendente", Lifecycle: db.Lifecycle{Status: db.StatusPending}})
	router := newTestRouter(svc, nil, RouterConfig{})

	tests := []struct {
		path       string
		wantStatus int
	}{
		{"/v1/announcements/publicado", http.StatusOK},
		{"/v1/announcements/pendente", http.StatusNotFound},
		{"/v1/announcements/nao-existe", http.StatusNotFound},
		{"/v1/admin/announcements/pendente", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := do(t, router, http.MethodGet, tt.path, nil, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}

func TestListAnnouncements_Filters(t *testing.T) {
	svc := NewMockService()
	router := newTestRouter(svc, nil, RouterConfig{})

	rec := do(t, router, http.MethodGet, "/v1/announcements?type=tribute&q=+Silva+&limit=10", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := db.PublicFilter{Type: db.TypeTribute, Query: "Silva", Limit: 10}
	if svc.lastPublic != want {
		t.Errorf("filter = %+v, want %+v", svc.lastPublic, want)
	}
}

func TestCheckout(t *testing.T) {
	tests := []struct {
		name       string
		result     *lifecycle.CheckoutResult
		err        error
		wantStatus int
	}{
		{"accepted", &lifecycle.CheckoutResult{Success: true, Message: "Pedido enviado"}, nil, http.StatusOK},
		{"declined", &lifecycle.CheckoutResult{Message: "Saldo insuficiente"}, nil, http.StatusUnprocessableEntity},
		{"already paid", nil, lifecycle.ErrAlreadyPaid, http.StatusConflict},
		{"in progress", nil, lifecycle.ErrCheckoutInProgress, http.StatusConflict},
		{"not found", nil, lifecycle.ErrNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewMockService()
			svc.checkout = tt.result
			svc.err = tt.err
			router := newTestRouter(svc, nil, RouterConfig{})

			rec := do(t, router, http.MethodPost, "/v1/announcements/maria/checkout", map[string]string{"phone": "841234567"}, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rec.Code, rec.Body.String())
			}
			if tt.result != nil {
				var got lifecycle.CheckoutResult
				if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
					t.Fatal(err)
				}
				if got.Message != tt.result.Message {
					t.Errorf("message = %q, want %q", got.Message, tt.result.Message)
				}
			}
		})
	}
}

func TestUpdateStatus(t *testing.T) {
	svc := NewMockService()
	svc.add(&db.Announcement{ID: 7, Slug: "maria", Lifecycle: db.Lifecycle{Status: db.StatusPending}})
	router := newTestRouter(svc, nil, RouterConfig{})

	rec := do(t, router, http.MethodPatch, "/v1/admin/announcements/maria/status", map[string]string{"status": "published"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if svc.lastStatus != db.StatusPublished {
		t.Errorf("status = %q, want published", svc.lastStatus)
	}

	rec = do(t, router, http.MethodPatch, "/v1/admin/announcements/outro/status", map[string]string{"status": "published"}, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAdminAnnouncements_DateRange(t *testing.T) {
	svc := NewMockService()
	router := newTestRouter(svc, nil, RouterConfig{})

	rec := do(t, router, http.MethodGet, "/v1/admin/announcements?from=2025-06-01&to=2025-06-30&limit=5&offset=10", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	f := svc.lastAdmin
	if f.From == nil || !f.From.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("from = %v", f.From)
	}
	if f.To == nil || f.Limit != 5 || f.Offset != 10 {
		t.Errorf("unexpected filter: %+v", f)
	}

	rec = do(t, router, http.MethodGet, "/v1/admin/dashboard?from=01/06/2025", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if p := decodeProblem(t, rec); p.Errors["from"] == "" {
		t.Errorf("expected error on from, got %v", p.Errors)
	}
}

func TestDeleteAdvertiser(t *testing.T) {
	tests := []struct {
		name        string
		path        string
		err         error
		wantStatus  int
		wantConfirm bool
	}{
		{"confirmed", "/v1/admin/advertisers/3?confirm=true", nil, http.StatusOK, true},
		{"unconfirmed with announcements", "/v1/admin/advertisers/3", lifecycle.ErrAdvertiserHasAnnouncements, http.StatusConflict, false},
		{"bad id", "/v1/admin/advertisers/abc", nil, http.StatusBadRequest, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewMockService()
			svc.err = tt.err
			router := newTestRouter(svc, nil, RouterConfig{})

			rec := do(t, router, http.MethodDelete, tt.path, nil, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if svc.lastDelete.Confirm != tt.wantConfirm {
				t.Errorf("confirm = %v, want %v", svc.lastDelete.Confirm, tt.wantConfirm)
			}
		})
	}
}

func TestPlans(t *testing.T) {
	svc := NewMockService()
	svc.plans = []*db.Plan{
		{ID: 1, Name: "Ativo", IsActive: true},
		{ID: 2, Name: "Inativo"},
	}
	router := newTestRouter(svc, nil, RouterConfig{})

	count := func(path string) int {
		rec := do(t, router, http.MethodGet, path, nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		var body struct {
			Data []*db.Plan `json:"data"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		return len(body.Data)
	}

	if n := count("/v1/plans"); n != 1 {
		t.Errorf("public plans = %d, want 1", n)
	}
	if n := count("/v1/admin/plans"); n != 2 {
		t.Errorf("admin plans = %d, want 2", n)
	}

	rec := do(t, router, http.MethodPost, "/v1/admin/plans", map[string]any{"name": "Novo"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	svc.err = lifecycle.ErrPlanSlugTaken
	rec = do(t, router, http.MethodPut, "/v1/admin/plans/1", map[string]any{"name": "Novo"}, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		health     func(*http.Request) error
		wantStatus int
	}{
		{"no check", nil, http.StatusOK},
		{"healthy", func(*http.Request) error { return nil }, http.StatusOK},
		{"database down", func(*http.Request) error { return ErrDatabaseError }, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(NewMockService(), nil, RouterConfig{Health: tt.health})
			rec := do(t, router, http.MethodGet, "/health", nil, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
		})
	}
}
