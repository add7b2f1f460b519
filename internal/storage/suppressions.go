package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/model"
)

// GetSuppressions retrieves every dismissal and snooze, expired or not.
func (s *SQLiteStorage) GetSuppressions(ctx context.Context) ([]model.Suppression, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getSuppressionsTx(ctx, s.db)
}

func (s *SQLiteStorage) getSuppressionsTx(ctx context.Context, q queryable) ([]model.Suppression, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT vendor_fingerprint, kind, suppressed_until, created_at
		FROM candidate_suppressions
		ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query suppressions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var suppressions []model.Suppression
	for rows.Next() {
		var (
			suppression model.Suppression
			kind        string
			until       sql.NullTime
		)
		if err := rows.Scan(&suppression.VendorFingerprint, &kind, &until, &suppression.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan suppression: %w", err)
		}
		suppression.Kind = model.SuppressionKind(kind)
		suppression.Until = timePtr(until)
		suppressions = append(suppressions, suppression)
	}

	return suppressions, rows.Err()
}

// SaveSuppression records or replaces the suppression for a fingerprint.
func (s *SQLiteStorage) SaveSuppression(ctx context.Context, suppression *model.Suppression) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSuppression(suppression); err != nil {
		return err
	}
	return s.saveSuppressionTx(ctx, s.db, suppression)
}

func (s *SQLiteStorage) saveSuppressionTx(ctx context.Context, q queryable, suppression *model.Suppression) error {
	if suppression.CreatedAt.IsZero() {
		suppression.CreatedAt = time.Now()
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO candidate_suppressions (vendor_fingerprint, kind, suppressed_until, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(vendor_fingerprint) DO UPDATE SET
			kind = excluded.kind,
			suppressed_until = excluded.suppressed_until,
			created_at = excluded.created_at
	`, suppression.VendorFingerprint, string(suppression.Kind), nullTime(suppression.Until), utc(suppression.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save suppression: %w", err)
	}
	return nil
}

// DeleteSuppression removes the suppression for a fingerprint. Removing a
// fingerprint that was never suppressed is not an error.
func (s *SQLiteStorage) DeleteSuppression(ctx context.Context, fingerprint string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(fingerprint, "fingerprint"); err != nil {
		return err
	}
	return s.deleteSuppressionTx(ctx, s.db, fingerprint)
}

func (s *SQLiteStorage) deleteSuppressionTx(ctx context.Context, q queryable, fingerprint string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM candidate_suppressions WHERE vendor_fingerprint = ?`, fingerprint); err != nil {
		return fmt.Errorf("failed to delete suppression: %w", err)
	}
	return nil
}
