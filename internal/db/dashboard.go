package db

import (
	"context"
	"fmt"
	"time"
)

const (
	expiringSoonWindow = 7 * 24 * time.Hour
	dashboardRecent    = 50
)

// Dashboard aggregates announcements created in [from, to]. promotionEnd may
// be nil when no free-submission window is configured.
func (r *Repository) Dashboard(ctx context.Context, from, to *time.Time, now time.Time, promotionEnd *time.Time) (*DashboardStats, error) {
	where, args := createdRange(from, to)

	stats := &DashboardStats{
		ByStatus:        map[Status]int{},
		ByType:          map[AnnouncementType]int{},
		ByPaymentStatus: map[PaymentStatus]int{},
	}

	rows, err := r.db.Pool().Query(ctx,
		`SELECT a.status, a.type, a.payment_status, COUNT(*) FROM announcements a`+where+
			` GROUP BY a.status, a.type, a.payment_status`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query dashboard counts: %w", err)
	}
	for rows.Next() {
		var (
			status  Status
			typ     AnnouncementType
			payment PaymentStatus
			n       int
		)
		if err := rows.Scan(&status, &typ, &payment, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan dashboard counts: %w", err)
		}
		stats.Total += n
		stats.ByStatus[status] += n
		stats.ByType[typ] += n
		stats.ByPaymentStatus[payment] += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dashboard counts: %w", err)
	}

	base := len(args)
	windowArgs := append(append([]any{}, args...), now, now.Add(expiringSoonWindow), promotionEnd)
	query := fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE a.status = 'published' AND a.expires_at BETWEEN $%[1]d AND $%[2]d),
			COUNT(*) FILTER (WHERE a.status = 'published' AND a.expires_at < $%[1]d),
			COUNT(*) FILTER (WHERE a.status = 'pending' AND a.created_at <= $%[3]d)
		FROM announcements a`, base+1, base+2, base+3) + where

	err = r.db.Pool().QueryRow(ctx, query, windowArgs...).Scan(
		&stats.ExpiringSoon, &stats.Expired, &stats.PendingPromotion,
	)
	if err != nil {
		return nil, fmt.Errorf("query dashboard windows: %w", err)
	}

	stats.Recent, err = r.ListAnnouncements(ctx, AdminFilter{From: from, To: to, Limit: dashboardRecent})
	if err != nil {
		return nil, err
	}

	trendRows, err := r.db.Pool().Query(ctx,
		`SELECT DATE(a.created_at) AS day, COUNT(*) FROM announcements a`+where+
			` GROUP BY day ORDER BY day`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query dashboard trend: %w", err)
	}
	defer trendRows.Close()
	for trendRows.Next() {
		var point DailyCount
		if err := trendRows.Scan(&point.Day, &point.Count); err != nil {
			return nil, fmt.Errorf("scan dashboard trend: %w", err)
		}
		stats.Trend = append(stats.Trend, point)
	}
	if err := trendRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dashboard trend: %w", err)
	}

	return stats, nil
}
