package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/common"
	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/shopspring/decimal"
)

const instanceColumns = `id, template_id, period_key, expected_due_date, expected_amount,
	matched_document_id, final_due_date, final_amount, invoice_number, matched_at, status,
	side_effects, version, created_at, updated_at`

// GetInstancesByTemplate retrieves every instance of a template in period order.
func (s *SQLiteStorage) GetInstancesByTemplate(ctx context.Context, templateID string) ([]model.RecurringInstance, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(templateID, "templateID"); err != nil {
		return nil, err
	}
	return s.getInstancesTx(ctx, s.db, "WHERE template_id = ? ORDER BY period_key", []any{templateID})
}

// GetInstancesByStatus retrieves instances in one status, earliest due first.
func (s *SQLiteStorage) GetInstancesByStatus(ctx context.Context, status model.InstanceStatus) ([]model.RecurringInstance, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateStatus(status); err != nil {
		return nil, err
	}
	return s.getInstancesTx(ctx, s.db, "WHERE status = ? ORDER BY expected_due_date", []any{string(status)})
}

// GetUpcomingInstances retrieves open instances due on or after from.
func (s *SQLiteStorage) GetUpcomingInstances(ctx context.Context, from time.Time, limit int) ([]model.RecurringInstance, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getUpcomingInstancesTx(ctx, s.db, from, limit)
}

func (s *SQLiteStorage) getUpcomingInstancesTx(ctx context.Context, q queryable, from time.Time, limit int) ([]model.RecurringInstance, error) {
	clause := "WHERE status IN (?, ?) AND expected_due_date >= ? ORDER BY expected_due_date, id"
	args := []any{string(model.InstanceExpected), string(model.InstanceMatched), utc(model.DateOnly(from))}
	if limit > 0 {
		clause += " LIMIT ?"
		args = append(args, limit)
	}
	return s.getInstancesTx(ctx, q, clause, args)
}

func (s *SQLiteStorage) getInstancesTx(ctx context.Context, q queryable, whereAndOrder string, args []any) ([]model.RecurringInstance, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+instanceColumns+` FROM recurring_instances `+whereAndOrder, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query instances: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var instances []model.RecurringInstance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, *instance)
	}

	return instances, rows.Err()
}

// GetInstance retrieves an instance by ID.
func (s *SQLiteStorage) GetInstance(ctx context.Context, id string) (*model.RecurringInstance, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getInstanceTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getInstanceTx(ctx context.Context, q queryable, id string) (*model.RecurringInstance, error) {
	row := q.QueryRowContext(ctx, `SELECT `+instanceColumns+` FROM recurring_instances WHERE id = ?`, id)
	instance, err := scanInstance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instance %s: %w", id, common.ErrNotFound)
	}
	return instance, err
}

// SaveInstance inserts a new instance (Version 0) or updates an existing one under
// optimistic concurrency. A second live instance for the same period is rejected
// with common.ErrDuplicateEntry.
func (s *SQLiteStorage) SaveInstance(ctx context.Context, instance *model.RecurringInstance) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateInstance(instance); err != nil {
		return err
	}
	return s.saveInstanceTx(ctx, s.db, instance)
}

func (s *SQLiteStorage) saveInstanceTx(ctx context.Context, q queryable, instance *model.RecurringInstance) error {
	sideEffects, err := json.Marshal(handlesOrEmpty(instance.SideEffects))
	if err != nil {
		return fmt.Errorf("failed to encode side effects: %w", err)
	}

	now := time.Now()
	if instance.CreatedAt.IsZero() {
		instance.CreatedAt = now
	}

	if instance.Version == 0 {
		_, err = q.ExecContext(ctx, `
			INSERT INTO recurring_instances (`+instanceColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		`,
			instance.ID, instance.TemplateID, instance.PeriodKey, utc(instance.ExpectedDueDate),
			nullDecimal(instance.ExpectedAmount), instance.MatchedDocumentID,
			nullTime(instance.FinalDueDate), nullDecimal(instance.FinalAmount),
			instance.InvoiceNumber, nullTime(instance.MatchedAt), string(instance.Status),
			string(sideEffects), utc(instance.CreatedAt), utc(now))
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("instance for template %s period %s: %w",
					instance.TemplateID, instance.PeriodKey, common.ErrDuplicateEntry)
			}
			return fmt.Errorf("failed to insert instance: %w", err)
		}
		instance.Version = 1
		instance.UpdatedAt = now
		return nil
	}

	result, err := q.ExecContext(ctx, `
		UPDATE recurring_instances SET
			template_id = ?,
			period_key = ?,
			expected_due_date = ?,
			expected_amount = ?,
			matched_document_id = ?,
			final_due_date = ?,
			final_amount = ?,
			invoice_number = ?,
			matched_at = ?,
			status = ?,
			side_effects = ?,
			version = version + 1,
			updated_at = ?
		WHERE id = ? AND version = ?
	`,
		instance.TemplateID, instance.PeriodKey, utc(instance.ExpectedDueDate),
		nullDecimal(instance.ExpectedAmount), instance.MatchedDocumentID,
		nullTime(instance.FinalDueDate), nullDecimal(instance.FinalAmount),
		instance.InvoiceNumber, nullTime(instance.MatchedAt), string(instance.Status),
		string(sideEffects), utc(now), instance.ID, instance.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("instance for template %s period %s: %w",
				instance.TemplateID, instance.PeriodKey, common.ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to update instance: %w", err)
	}

	if err := checkVersionedUpdate(ctx, q, result, "recurring_instances", instance.ID); err != nil {
		return err
	}
	instance.Version++
	instance.UpdatedAt = now
	return nil
}

// TransitionInstanceStatus moves an instance from one status to another only if it is
// still in the from status. It reports whether this call performed the change.
func (s *SQLiteStorage) TransitionInstanceStatus(ctx context.Context, id string, from, to model.InstanceStatus) (bool, error) {
	if err := validateContext(ctx); err != nil {
		return false, err
	}
	if err := validateTransition(id, from, to); err != nil {
		return false, err
	}
	return s.transitionInstanceStatusTx(ctx, s.db, id, from, to)
}

func (s *SQLiteStorage) transitionInstanceStatusTx(ctx context.Context, q queryable, id string, from, to model.InstanceStatus) (bool, error) {
	if !model.CanTransition(from, to) {
		return false, fmt.Errorf("%w: cannot move instance %s from %s to %s", common.ErrInvalidState, id, from, to)
	}

	result, err := q.ExecContext(ctx, `
		UPDATE recurring_instances
		SET status = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(to), utc(time.Now()), id, string(from))
	if err != nil {
		return false, fmt.Errorf("failed to transition instance %s: %w", id, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected == 1, nil
}

// DeleteInstance hard-deletes an instance. Only template purges use it.
func (s *SQLiteStorage) DeleteInstance(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return s.deleteByIDTx(ctx, s.db, "recurring_instances", id)
}

func handlesOrEmpty(handles []model.ExternalHandle) []model.ExternalHandle {
	if handles == nil {
		return []model.ExternalHandle{}
	}
	return handles
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

func decimalPtr(nd decimal.NullDecimal) *decimal.Decimal {
	if !nd.Valid {
		return nil
	}
	d := nd.Decimal
	return &d
}

func scanInstance(row rowScanner) (*model.RecurringInstance, error) {
	var (
		instance                    model.RecurringInstance
		expectedAmount, finalAmount decimal.NullDecimal
		finalDueDate, matchedAt     sql.NullTime
		status, sideEffects         string
	)
	err := row.Scan(
		&instance.ID,
		&instance.TemplateID,
		&instance.PeriodKey,
		&instance.ExpectedDueDate,
		&expectedAmount,
		&instance.MatchedDocumentID,
		&finalDueDate,
		&finalAmount,
		&instance.InvoiceNumber,
		&matchedAt,
		&status,
		&sideEffects,
		&instance.Version,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan instance: %w", err)
	}

	instance.ExpectedDueDate = instance.ExpectedDueDate.UTC()
	instance.ExpectedAmount = decimalPtr(expectedAmount)
	instance.FinalAmount = decimalPtr(finalAmount)
	instance.FinalDueDate = timePtr(finalDueDate)
	instance.MatchedAt = timePtr(matchedAt)
	instance.Status = model.InstanceStatus(status)

	if sideEffects != "" {
		if err := json.Unmarshal([]byte(sideEffects), &instance.SideEffects); err != nil {
			return nil, fmt.Errorf("failed to decode side effects of instance %s: %w", instance.ID, err)
		}
	}
	if len(instance.SideEffects) == 0 {
		instance.SideEffects = nil
	}
	return &instance, nil
}
