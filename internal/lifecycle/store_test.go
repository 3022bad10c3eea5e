package lifecycle

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mariomelembe98/necrologia-tempo/internal/db"
)

// memStore is an in-memory Store with the same conditional-update
// semantics as the Postgres repository.
type memStore struct {
	mu          sync.Mutex
	nextID      int64
	anns        map[int64]*db.Announcement
	plans       map[int64]*db.Plan
	advertisers map[int64]*db.Advertiser

	// lostRaces makes the next n UpdateLifecycle calls report a lost race.
	lostRaces int
	// slugCollisions makes the next n CreateAnnouncement calls collide.
	slugCollisions int
	updates        int
}

func newMemStore() *memStore {
	return &memStore{
		anns:        map[int64]*db.Announcement{},
		plans:       map[int64]*db.Plan{},
		advertisers: map[int64]*db.Advertiser{},
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) addPlan(p db.Plan) *db.Plan {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.id()
	s.plans[p.ID] = &p
	return &p
}

func (s *memStore) put(a db.Announcement) *db.Announcement {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = s.id()
	if a.PlanID != nil {
		a.Plan = s.plans[*a.PlanID]
	}
	s.anns[a.ID] = &a
	return clone(&a)
}

func clone(a *db.Announcement) *db.Announcement {
	c := *a
	if a.Plan != nil {
		p := *a.Plan
		c.Plan = &p
	}
	return &c
}

func (s *memStore) CreateAnnouncement(_ context.Context, a *db.Announcement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slugCollisions > 0 {
		s.slugCollisions--
		// Simulates a concurrent writer claiming the candidate.
		s.anns[s.id()] = &db.Announcement{Slug: a.Slug}
		return db.ErrSlugTaken
	}
	for _, e := range s.anns {
		if e.Slug == a.Slug {
			return db.ErrSlugTaken
		}
	}
	a.ID = s.id()
	a.CreatedAt = time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	a.UpdatedAt = a.CreatedAt
	s.anns[a.ID] = clone(a)
	return nil
}

func (s *memStore) GetAnnouncement(_ context.Context, id int64) (*db.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.anns[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return clone(a), nil
}

func (s *memStore) GetAnnouncementBySlug(_ context.Context, slug string) (*db.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.anns {
		if a.Slug == slug {
			return clone(a), nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *memStore) SlugsWithBase(_ context.Context, base string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, a := range s.anns {
		if a.Slug == base || strings.HasPrefix(a.Slug, base+"-") {
			out = append(out, a.Slug)
		}
	}
	return out, nil
}

func (s *memStore) UpdateLifecycle(_ context.Context, id int64, prev, next db.Lifecycle) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if s.lostRaces > 0 {
		s.lostRaces--
		return false, nil
	}
	a, ok := s.anns[id]
	if !ok || a.Status != prev.Status || a.PaymentStatus != prev.PaymentStatus {
		return false, nil
	}
	a.Lifecycle = next
	return true, nil
}

func (s *memStore) ListPublic(_ context.Context, f db.PublicFilter, now time.Time) ([]*db.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.Announcement
	for _, a := range s.anns {
		if IsPubliclyVisible(a, now) && (f.Type == "" || a.Type == f.Type) {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *memStore) ListAnnouncements(_ context.Context, f db.AdminFilter) ([]*db.Announcement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.Announcement
	for _, a := range s.anns {
		out = append(out, clone(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memStore) Dashboard(_ context.Context, _, _ *time.Time, _ time.Time, promotionEnd *time.Time) (*db.DashboardStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &db.DashboardStats{ByStatus: map[db.Status]int{}}
	for _, a := range s.anns {
		stats.Total++
		stats.ByStatus[a.Status]++
		if promotionEnd != nil && a.Status == db.StatusPending && !a.CreatedAt.After(*promotionEnd) {
			stats.PendingPromotion++
		}
	}
	return stats, nil
}

func (s *memStore) ListPlans(_ context.Context, activeOnly bool) ([]*db.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.Plan
	for _, p := range s.plans {
		if !activeOnly || p.IsActive {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price < out[j].Price })
	return out, nil
}

func (s *memStore) GetPlan(_ context.Context, id int64) (*db.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (s *memStore) FindActivePlan(_ context.Context, nameOrSlug string) (*db.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.plans {
		if p.IsActive && (p.Name == nameOrSlug || p.Slug == nameOrSlug) {
			c := *p
			return &c, nil
		}
	}
	return nil, db.ErrNotFound
}

func (s *memStore) CreatePlan(_ context.Context, p *db.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.plans {
		if e.Slug == p.Slug {
			return db.ErrPlanSlugTaken
		}
	}
	p.ID = s.id()
	c := *p
	s.plans[p.ID] = &c
	return nil
}

func (s *memStore) UpdatePlan(_ context.Context, p *db.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[p.ID]; !ok {
		return db.ErrNotFound
	}
	c := *p
	s.plans[p.ID] = &c
	return nil
}

func (s *memStore) TogglePlan(_ context.Context, id int64) (*db.Plan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	p.IsActive = !p.IsActive
	c := *p
	return &c, nil
}

func (s *memStore) FindOrCreateAdvertiser(_ context.Context, c db.AdvertiserContact) (*db.Advertiser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var match *db.Advertiser
	for _, v := range s.advertisers {
		if c.Email != "" && v.Email != nil && strings.EqualFold(*v.Email, c.Email) {
			return v, nil
		}
		if c.Email == "" && v.Phone == c.Phone && (match == nil || v.ID < match.ID) {
			match = v
		}
	}
	if match != nil {
		return match, nil
	}
	v := &db.Advertiser{ID: s.id(), Name: c.Name, Phone: c.Phone, DocumentStatus: db.DocumentPending}
	if c.Email != "" {
		email := c.Email
		v.Email = &email
	}
	s.advertisers[v.ID] = v
	return v, nil
}

func (s *memStore) GetAdvertiser(_ context.Context, id int64) (*db.Advertiser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.advertisers[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	return v, nil
}

func (s *memStore) ListAdvertisers(_ context.Context, status db.DocumentStatus, limit, offset int) ([]*db.Advertiser, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*db.Advertiser
	for _, v := range s.advertisers {
		if status == "" || v.DocumentStatus == status {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, len(out), nil
}

func (s *memStore) DeleteAdvertiser(_ context.Context, id int64, cascade bool) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.advertisers[id]; !ok {
		return 0, db.ErrNotFound
	}
	var owned []int64
	for aid, a := range s.anns {
		if a.AdvertiserID == id {
			owned = append(owned, aid)
		}
	}
	if len(owned) > 0 && !cascade {
		return 0, db.ErrInUse
	}
	for _, aid := range owned {
		delete(s.anns, aid)
	}
	delete(s.advertisers, id)
	return int64(len(owned)), nil
}
