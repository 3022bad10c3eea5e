package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// AdvertiserContact identifies the submitter of an announcement.
type AdvertiserContact struct {
	Name         string
	Phone        string
	Email        string
	DocumentPath string
}

const advertiserColumns = `v.id, v.name, v.phone, v.email, v.document_path, v.document_status,
	v.document_verified_at, v.created_at, v.updated_at`

func scanAdvertiser(row rowScanner, extra ...any) (*Advertiser, error) {
	var v Advertiser
	dest := append([]any{
		&v.ID, &v.Name, &v.Phone, &v.Email, &v.DocumentPath, &v.DocumentStatus,
		&v.DocumentVerifiedAt, &v.CreatedAt, &v.UpdatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &v, nil
}

// FindOrCreateAdvertiser returns the advertiser matching the contact's email
// (case-insensitive) or, without an email, the oldest advertiser with its
// phone, whether or not that one has an email. A concurrent insert of the
// same key is resolved by re-reading the winner's row.
func (r *Repository) FindOrCreateAdvertiser(ctx context.Context, c AdvertiserContact) (*Advertiser, error) {
	email := strings.TrimSpace(c.Email)

	for attempt := 0; attempt < 2; attempt++ {
		v, err := r.findAdvertiser(ctx, email, c.Phone)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}

		var emailArg *string
		if email != "" {
			emailArg = &email
		}

		v, err = scanAdvertiser(r.db.Pool().QueryRow(ctx, `
			INSERT INTO advertisers AS v (name, phone, email, document_path)
			VALUES ($1, $2, $3, $4)
			RETURNING `+advertiserColumns,
			c.Name, c.Phone, emailArg, c.DocumentPath,
		))
		if isConstraintViolation(err, codeUniqueViolation, "") {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("insert advertiser: %w", err)
		}

		r.logger.Info("advertiser created", zap.Int64("advertiser_id", v.ID))
		return v, nil
	}

	return r.findAdvertiser(ctx, email, c.Phone)
}

func (r *Repository) findAdvertiser(ctx context.Context, email, phone string) (*Advertiser, error) {
	cond, arg := advertiserLookup(email, phone)
	v, err := scanAdvertiser(r.db.Pool().QueryRow(ctx,
		`SELECT `+advertiserColumns+` FROM advertisers v WHERE `+cond, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query advertiser: %w", err)
	}
	return v, nil
}

// advertiserLookup picks the find-or-create key: email when given, else the
// oldest advertiser with the phone.
func advertiserLookup(email, phone string) (string, string) {
	if email != "" {
		return `LOWER(v.email) = LOWER($1)`, email
	}
	return `v.phone = $1 ORDER BY v.id LIMIT 1`, phone
}

// GetAdvertiser loads an advertiser with its announcement count.
func (r *Repository) GetAdvertiser(ctx context.Context, id int64) (*Advertiser, error) {
	var count int
	v, err := scanAdvertiser(r.db.Pool().QueryRow(ctx, `
		SELECT `+advertiserColumns+`,
			(SELECT COUNT(*) FROM announcements a WHERE a.advertiser_id = v.id)
		FROM advertisers v WHERE v.id = $1`, id), &count)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query advertiser %d: %w", id, err)
	}
	v.AnnouncementCount = count
	return v, nil
}

// ListAdvertisers pages advertisers by name, optionally filtered by
// document status, and returns the total matching count.
func (r *Repository) ListAdvertisers(ctx context.Context, status DocumentStatus, limit, offset int) ([]*Advertiser, int, error) {
	var total int
	if err := r.db.Pool().QueryRow(ctx,
		`SELECT COUNT(*) FROM advertisers v WHERE ($1 = '' OR v.document_status = $1)`,
		string(status),
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count advertisers: %w", err)
	}

	rows, err := r.db.Pool().Query(ctx, `
		SELECT `+advertiserColumns+`, COUNT(a.id)
		FROM advertisers v
		LEFT JOIN announcements a ON a.advertiser_id = v.id
		WHERE ($1 = '' OR v.document_status = $1)
		GROUP BY v.id
		ORDER BY v.name, v.id
		LIMIT $2 OFFSET $3`,
		string(status), limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query advertisers: %w", err)
	}
	defer rows.Close()

	var out []*Advertiser
	for rows.Next() {
		var count int
		v, err := scanAdvertiser(rows, &count)
		if err != nil {
			return nil, 0, fmt.Errorf("scan advertiser: %w", err)
		}
		v.AnnouncementCount = count
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate advertisers: %w", err)
	}
	return out, total, nil
}

// DeleteAdvertiser removes an advertiser. With cascade it first deletes the
// advertiser's announcements in the same transaction and returns how many
// were removed; without it a referencing announcement yields ErrInUse.
func (r *Repository) DeleteAdvertiser(ctx context.Context, id int64, cascade bool) (int64, error) {
	var removed int64

	err := r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if cascade {
			tag, err := tx.Exec(ctx, `DELETE FROM announcements WHERE advertiser_id = $1`, id)
			if err != nil {
				return fmt.Errorf("delete announcements: %w", err)
			}
			removed = tag.RowsAffected()
		}

		tag, err := tx.Exec(ctx, `DELETE FROM advertisers WHERE id = $1`, id)
		if isConstraintViolation(err, codeForeignKeyViolation, "") {
			return ErrInUse
		}
		if err != nil {
			return fmt.Errorf("delete advertiser: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.Warn("advertiser deleted",
		zap.Int64("advertiser_id", id),
		zap.Int64("announcements_removed", removed),
	)
	return removed, nil
}
