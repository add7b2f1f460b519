package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/common"
	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/shopspring/decimal"
)

const templateColumns = `id, vendor_fingerprint, vendor_only_fingerprint, vendor_display_name,
	vendor_short_name, due_day_of_month, tolerance_days, amount_min, amount_max, currency,
	is_active, source, matched_document_count, paid_instance_count, missed_instance_count,
	version, created_at, updated_at`

// GetTemplates retrieves every template, active or not.
func (s *SQLiteStorage) GetTemplates(ctx context.Context) ([]model.RecurringTemplate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getTemplatesTx(ctx, s.db, "", nil)
}

// GetActiveTemplates retrieves templates that still generate instances.
func (s *SQLiteStorage) GetActiveTemplates(ctx context.Context) ([]model.RecurringTemplate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getTemplatesTx(ctx, s.db, "WHERE is_active = 1", nil)
}

// GetTemplatesByVendorOnlyFingerprint retrieves every template that shares a vendor, across services.
func (s *SQLiteStorage) GetTemplatesByVendorOnlyFingerprint(ctx context.Context, fingerprint string) ([]model.RecurringTemplate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(fingerprint, "fingerprint"); err != nil {
		return nil, err
	}
	return s.getTemplatesTx(ctx, s.db, "WHERE vendor_only_fingerprint = ?", []any{fingerprint})
}

func (s *SQLiteStorage) getTemplatesTx(ctx context.Context, q queryable, where string, args []any) ([]model.RecurringTemplate, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+templateColumns+` FROM recurring_templates `+where+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var templates []model.RecurringTemplate
	for rows.Next() {
		template, err := scanTemplate(rows)
		if err != nil {
			return nil, err
		}
		templates = append(templates, *template)
	}

	return templates, rows.Err()
}

// GetTemplateByFingerprint returns the active template for a fingerprint, falling back
// to the most recently updated inactive one.
func (s *SQLiteStorage) GetTemplateByFingerprint(ctx context.Context, fingerprint string) (*model.RecurringTemplate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(fingerprint, "fingerprint"); err != nil {
		return nil, err
	}
	return s.getTemplateByFingerprintTx(ctx, s.db, fingerprint)
}

func (s *SQLiteStorage) getTemplateByFingerprintTx(ctx context.Context, q queryable, fingerprint string) (*model.RecurringTemplate, error) {
	row := q.QueryRowContext(ctx, `
		SELECT `+templateColumns+`
		FROM recurring_templates
		WHERE vendor_fingerprint = ?
		ORDER BY is_active DESC, updated_at DESC
		LIMIT 1
	`, fingerprint)

	template, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template for fingerprint %s: %w", fingerprint, common.ErrNotFound)
	}
	return template, err
}

// GetTemplate retrieves a template by ID.
func (s *SQLiteStorage) GetTemplate(ctx context.Context, id string) (*model.RecurringTemplate, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getTemplateTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getTemplateTx(ctx context.Context, q queryable, id string) (*model.RecurringTemplate, error) {
	row := q.QueryRowContext(ctx, `SELECT `+templateColumns+` FROM recurring_templates WHERE id = ?`, id)
	template, err := scanTemplate(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", id, common.ErrNotFound)
	}
	return template, err
}

// SaveTemplate inserts a new template (Version 0) or updates an existing one
// when its stored version still equals template.Version.
func (s *SQLiteStorage) SaveTemplate(ctx context.Context, template *model.RecurringTemplate) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateTemplate(template); err != nil {
		return err
	}
	return s.saveTemplateTx(ctx, s.db, template)
}

func (s *SQLiteStorage) saveTemplateTx(ctx context.Context, q queryable, template *model.RecurringTemplate) error {
	now := time.Now()
	if template.CreatedAt.IsZero() {
		template.CreatedAt = now
	}

	amountMin, amountMax := templateAmounts(template)

	if template.Version == 0 {
		_, err := q.ExecContext(ctx, `
			INSERT INTO recurring_templates (`+templateColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		`,
			template.ID, template.VendorFingerprint, template.VendorOnlyFingerprint,
			template.VendorDisplayName, template.VendorShortName, template.DueDayOfMonth,
			template.ToleranceDays, amountMin, amountMax, template.Currency, template.IsActive,
			string(template.Source), template.MatchedDocumentCount, template.PaidInstanceCount,
			template.MissedInstanceCount, utc(template.CreatedAt), utc(now))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("template %s for fingerprint %s: %w",
					template.ID, template.VendorFingerprint, common.ErrDuplicateEntry)
			}
			return fmt.Errorf("failed to insert template: %w", err)
		}
		template.Version = 1
		template.UpdatedAt = now
		return nil
	}

	result, err := q.ExecContext(ctx, `
		UPDATE recurring_templates SET
			vendor_fingerprint = ?,
			vendor_only_fingerprint = ?,
			vendor_display_name = ?,
			vendor_short_name = ?,
			due_day_of_month = ?,
			tolerance_days = ?,
			amount_min = ?,
			amount_max = ?,
			currency = ?,
			is_active = ?,
			source = ?,
			matched_document_count = ?,
			paid_instance_count = ?,
			missed_instance_count = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`,
		template.VendorFingerprint, template.VendorOnlyFingerprint, template.VendorDisplayName,
		template.VendorShortName, template.DueDayOfMonth, template.ToleranceDays,
		amountMin, amountMax, template.Currency, template.IsActive, string(template.Source),
		template.MatchedDocumentCount, template.PaidInstanceCount, template.MissedInstanceCount,
		utc(now), template.ID, template.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("template %s for fingerprint %s: %w",
				template.ID, template.VendorFingerprint, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to update template: %w", err)
	}

	if err := checkVersionedUpdate(ctx, q, result, "recurring_templates", template.ID); err != nil {
		return err
	}
	template.Version++
	template.UpdatedAt = now
	return nil
}

// checkVersionedUpdate distinguishes a stale version from a missing row after a
// conditional UPDATE touched nothing.
func checkVersionedUpdate(ctx context.Context, q queryable, result sql.Result, table, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	var exists int
	err = q.QueryRowContext(ctx, fmt.Sprintf("SELECT 1 FROM %s WHERE id = ?", table), id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", table, id, common.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to check %s %s: %w", table, id, err)
	}
	return fmt.Errorf("%s %s: %w", table, id, common.ErrConcurrentModification)
}

// DeleteTemplate hard-deletes a template row. Callers purge its instances first.
func (s *SQLiteStorage) DeleteTemplate(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return s.deleteByIDTx(ctx, s.db, "recurring_templates", id)
}

func templateAmounts(template *model.RecurringTemplate) (decimal.NullDecimal, decimal.NullDecimal) {
	if !template.HasAmount {
		return decimal.NullDecimal{}, decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(template.AmountMin), decimal.NewNullDecimal(template.AmountMax)
}

func scanTemplate(row rowScanner) (*model.RecurringTemplate, error) {
	var (
		template             model.RecurringTemplate
		amountMin, amountMax decimal.NullDecimal
		source               string
	)
	err := row.Scan(
		&template.ID,
		&template.VendorFingerprint,
		&template.VendorOnlyFingerprint,
		&template.VendorDisplayName,
		&template.VendorShortName,
		&template.DueDayOfMonth,
		&template.ToleranceDays,
		&amountMin,
		&amountMax,
		&template.Currency,
		&template.IsActive,
		&source,
		&template.MatchedDocumentCount,
		&template.PaidInstanceCount,
		&template.MissedInstanceCount,
		&template.Version,
		&template.CreatedAt,
		&template.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan template: %w", err)
	}

	template.Source = model.TemplateSource(source)
	if amountMin.Valid && amountMax.Valid {
		template.HasAmount = true
		template.AmountMin = amountMin.Decimal
		template.AmountMax = amountMax.Decimal
	}
	return &template, nil
}
