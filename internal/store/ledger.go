package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	apierrors "licensegate/internal/errors"
	"licensegate/internal/license"
)

// ListActivations returns every activation row for a license, active or
// not, newest first.
func (s *Store) ListActivations(ctx context.Context, licenseID string) ([]license.Activation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, license_id, site_url, site_hash, active, health,
		       last_checked_at, activated_at, deactivated_at
		FROM activations WHERE license_id = ?
		ORDER BY activated_at DESC`, licenseID)
	if err != nil {
		return nil, fmt.Errorf("failed to list activations: %w", err)
	}
	defer rows.Close()

	var out []license.Activation
	for rows.Next() {
		act, err := scanActivation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *act)
	}
	return out, rows.Err()
}

// CountActive returns the number of activations currently holding a
// capacity slot.
func (s *Store) CountActive(ctx context.Context, licenseID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activations WHERE license_id = ? AND active = 1`,
		licenseID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count activations: %w", err)
	}
	return count, nil
}

// CanActivate reports whether the active count is strictly below
// capacity. This is an advisory read; Activate re-verifies inside its
// transaction because concurrent attempts race on this check.
func (s *Store) CanActivate(ctx context.Context, licenseID string, capacity int) (bool, error) {
	count, err := s.CountActive(ctx, licenseID)
	if err != nil {
		return false, err
	}
	return count < capacity, nil
}

// Activate claims a capacity slot for (license, site). An existing row
// for the same site is reactivated in place, so repeat calls from one
// site never consume a second slot. A new site is admitted only if the
// transactional recount still shows spare capacity; two concurrent new
// sites can never both slip past a full license. Returns the activation
// and the active count after the commit.
func (s *Store) Activate(ctx context.Context, licenseID string, capacity int, siteURL, siteHash string) (*license.Activation, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()

	var existingID string
	var active bool
	err = tx.QueryRowContext(ctx,
		`SELECT id, active FROM activations WHERE license_id = ? AND site_hash = ?`,
		licenseID, siteHash).Scan(&existingID, &active)
	switch {
	case err == sql.ErrNoRows:
		// New site: recount under the write lock before inserting.
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM activations WHERE license_id = ? AND active = 1`,
			licenseID).Scan(&count); err != nil {
			return nil, 0, fmt.Errorf("failed to recount activations: %w", err)
		}
		if count >= capacity {
			return nil, count, apierrors.ErrActivationLimitReached
		}
		existingID = uuid.New().String()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO activations
				(id, license_id, site_url, site_hash, active, health,
				 last_checked_at, activated_at)
			VALUES (?, ?, ?, ?, 1, 'healthy', ?, ?)`,
			existingID, licenseID, siteURL, siteHash, now, now); err != nil {
			return nil, 0, fmt.Errorf("failed to insert activation: %w", err)
		}
	case err != nil:
		return nil, 0, fmt.Errorf("failed to look up activation: %w", err)
	default:
		if !active {
			// Reclaiming a released slot still competes for capacity.
			var count int
			if err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM activations WHERE license_id = ? AND active = 1`,
				licenseID).Scan(&count); err != nil {
				return nil, 0, fmt.Errorf("failed to recount activations: %w", err)
			}
			if count >= capacity {
				return nil, count, apierrors.ErrActivationLimitReached
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE activations
			SET active = 1, site_url = ?, last_checked_at = ?,
			    deactivated_at = NULL
			WHERE id = ?`, siteURL, now, existingID); err != nil {
			return nil, 0, fmt.Errorf("failed to reactivate: %w", err)
		}
	}

	var used int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activations WHERE license_id = ? AND active = 1`,
		licenseID).Scan(&used); err != nil {
		return nil, 0, fmt.Errorf("failed to count after activation: %w", err)
	}

	row := tx.QueryRowContext(ctx, `
		SELECT id, license_id, site_url, site_hash, active, health,
		       last_checked_at, activated_at, deactivated_at
		FROM activations WHERE id = ?`, existingID)
	act, err := scanActivation(row)
	if err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, fmt.Errorf("failed to commit activation: %w", err)
	}
	return act, used, nil
}

// Deactivate releases the slot held by (license, site). Deactivating an
// already-inactive site is a no-op; an unknown site is NotFound.
func (s *Store) Deactivate(ctx context.Context, licenseID, siteHash string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE activations
		SET active = 0, deactivated_at = ?
		WHERE license_id = ? AND site_hash = ?`,
		now, licenseID, siteHash)
	if err != nil {
		return fmt.Errorf("failed to deactivate: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.ErrNotFound
	}
	return nil
}

// ReportHealth updates health fields and the last-checked timestamp.
// Does not affect capacity accounting.
func (s *Store) ReportHealth(ctx context.Context, licenseID, siteHash string, health license.HealthStatus) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE activations
		SET health = ?, last_checked_at = ?
		WHERE license_id = ? AND site_hash = ?`,
		string(health), now, licenseID, siteHash)
	if err != nil {
		return fmt.Errorf("failed to report health: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apierrors.ErrNotFound
	}
	return nil
}

func scanActivation(row rowScanner) (*license.Activation, error) {
	var (
		act           license.Activation
		health        string
		lastChecked   sql.NullTime
		deactivatedAt sql.NullTime
	)
	err := row.Scan(&act.ID, &act.LicenseID, &act.SiteURL, &act.SiteHash,
		&act.Active, &health, &lastChecked, &act.ActivatedAt, &deactivatedAt)
	if err == sql.ErrNoRows {
		return nil, apierrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan activation: %w", err)
	}
	act.Health = license.HealthStatus(health)
	if lastChecked.Valid {
		t := lastChecked.Time
		act.LastCheckedAt = &t
	}
	if deactivatedAt.Valid {
		t := deactivatedAt.Time
		act.DeactivatedAt = &t
	}
	return &act, nil
}
