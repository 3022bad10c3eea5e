package db

import (
	"time"
)

// AnnouncementType classifies a listing.
type AnnouncementType string

const (
	TypeTribute AnnouncementType = "tribute"
	TypeNotice  AnnouncementType = "notice"
	TypeOther   AnnouncementType = "other"
)

// Valid reports whether t is a known type.
func (t AnnouncementType) Valid() bool {
	switch t {
	case TypeTribute, TypeNotice, TypeOther:
		return true
	}
	return false
}

// Status is the moderation state of an announcement.
type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusRejected  Status = "rejected"
	StatusArchived  Status = "archived"
)

// Statuses lists every moderation state in display order.
var Statuses = []Status{StatusPending, StatusPublished, StatusRejected, StatusArchived}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// PaymentStatus is the payment state of an announcement.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// PaymentMethodMpesa is the only payment method the service records.
const PaymentMethodMpesa = "mpesa"

// DocumentStatus tracks verification of an advertiser's identity document.
type DocumentStatus string

const (
	DocumentPending  DocumentStatus = "pending"
	DocumentVerified DocumentStatus = "verified"
	DocumentRejected DocumentStatus = "rejected"
)

// Valid reports whether s is a known document status.
func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentPending, DocumentVerified, DocumentRejected:
		return true
	}
	return false
}

// Lifecycle groups the columns that moderation and payment mutate. They are
// always written together.
type Lifecycle struct {
	Status           Status        `json:"status"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	PaymentMethod    *string       `json:"payment_method,omitempty"`
	PaymentReference *string       `json:"payment_reference,omitempty"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
	PublishedAt      *time.Time    `json:"published_at,omitempty"`
	ExpiresAt        *time.Time    `json:"expires_at,omitempty"`
}

// Announcement is a published-or-pending necrology listing.
type Announcement struct {
	ID           int64            `json:"id"`
	Slug         string           `json:"slug"`
	Type         AnnouncementType `json:"type"`
	Name         string           `json:"name"`
	DateOfBirth  *time.Time       `json:"date_of_birth,omitempty"`
	DateOfDeath  *time.Time       `json:"date_of_death,omitempty"`
	Location     string           `json:"location"`
	Description  string           `json:"description"`
	Author       string           `json:"author"`
	PhotoPath    string           `json:"photo_path,omitempty"`
	DocumentPath string           `json:"document_path,omitempty"`
	AdvertiserID int64            `json:"advertiser_id"`
	PlanID       *int64           `json:"plan_id,omitempty"`

	Lifecycle

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Plan is loaded alongside the announcement when PlanID is set.
	Plan *Plan `json:"plan,omitempty"`
}

// Advertiser is the person who submitted one or more announcements.
type Advertiser struct {
	ID                 int64          `json:"id"`
	Name               string         `json:"name"`
	Phone              string         `json:"phone"`
	Email              *string        `json:"email,omitempty"`
	DocumentPath       string         `json:"document_path,omitempty"`
	DocumentStatus     DocumentStatus `json:"document_status"`
	DocumentVerifiedAt *time.Time     `json:"document_verified_at,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	UpdatedAt          time.Time      `json:"updated_at"`

	// AnnouncementCount is filled by listing queries only.
	AnnouncementCount int `json:"announcement_count"`
}

// Plan is a catalogue entry determining price and publication duration.
type Plan struct {
	ID           int64            `json:"id"`
	Name         string           `json:"name"`
	Slug         string           `json:"slug"`
	Type         AnnouncementType `json:"type"`
	DurationDays int              `json:"duration_days"`
	Price        int64            `json:"price"`
	IsActive     bool             `json:"is_active"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`

	// AnnouncementCount is filled by listing queries only.
	AnnouncementCount int `json:"announcement_count"`
}

// Duration is the publication window granted by the plan.
func (p *Plan) Duration() time.Duration {
	return time.Duration(p.DurationDays) * 24 * time.Hour
}

// PublicFilter narrows public listings.
type PublicFilter struct {
	Type  AnnouncementType
	Query string
	Limit int
}

// AdminFilter narrows staff listings by creation date.
type AdminFilter struct {
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// DailyCount is one point of the submissions trend.
type DailyCount struct {
	Day   time.Time `json:"day"`
	Count int       `json:"count"`
}

// DashboardStats aggregates announcements created within a date range.
type DashboardStats struct {
	Total            int                      `json:"total"`
	ByStatus         map[Status]int           `json:"by_status"`
	ByType           map[AnnouncementType]int `json:"by_type"`
	ByPaymentStatus  map[PaymentStatus]int    `json:"by_payment_status"`
	ExpiringSoon     int                      `json:"expiring_soon"`
	Expired          int                      `json:"expired"`
	PendingPromotion int                      `json:"pending_promotion"`
	Recent           []*Announcement          `json:"recent"`
	Trend            []DailyCount             `json:"trend"`
}
