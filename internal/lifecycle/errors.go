package lifecycle

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrPaymentConflict means a second, different payment reference was
	// reported for an already paid announcement.
	ErrPaymentConflict = errors.New("announcement already paid with a different reference")
	ErrAlreadyPaid     = errors.New("announcement already paid")
	// ErrCheckoutInProgress means another payment initiation for the same
	// announcement has not finished yet.
	ErrCheckoutInProgress = errors.New("a payment for this announcement is already in progress")
	// ErrAdvertiserHasAnnouncements guards advertiser deletion without an
	// explicit confirmation.
	ErrAdvertiserHasAnnouncements = errors.New("advertiser still has announcements")
	// ErrConcurrentUpdate is returned when a lifecycle update keeps losing
	// the race against other writers.
	ErrConcurrentUpdate = errors.New("announcement was modified concurrently")
	ErrPlanSlugTaken    = errors.New("plan slug already taken")
)

// ValidationError maps field names to human-readable reasons. Nothing is
// persisted when it is returned.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: reason}}
}
