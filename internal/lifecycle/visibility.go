package lifecycle

import (
	"time"

	"github.com/mariomelembe98/necrologia-tempo/internal/db"
)

// IsPubliclyVisible reports whether a is shown to the public at now. The
// SQL form used by listings is db.VisibleCondition.
func IsPubliclyVisible(a *db.Announcement, now time.Time) bool {
	if a == nil || a.Status != db.StatusPublished {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}
