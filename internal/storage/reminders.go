package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/model"
)

// CreateReminders stores scheduled reminders in one transaction.
func (s *SQLiteStorage) CreateReminders(ctx context.Context, reminders []model.Reminder) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if len(reminders) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO reminders (handle, instance_id, fire_at, created_at)
		VALUES (?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now()
	for i := range reminders {
		r := &reminders[i]
		if err = validateString(r.Handle, "handle"); err != nil {
			return err
		}
		if err = validateString(r.InstanceID, "instanceID"); err != nil {
			return err
		}
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if _, err = stmt.ExecContext(ctx, r.Handle, r.InstanceID, utc(r.FireAt), utc(r.CreatedAt)); err != nil {
			return fmt.Errorf("failed to insert reminder %s: %w", r.Handle, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit reminders: %w", err)
	}
	return nil
}

// CancelReminders marks reminders cancelled and returns how many were still pending.
// Unknown or already cancelled handles are ignored.
func (s *SQLiteStorage) CancelReminders(ctx context.Context, handles []string) (int, error) {
	if err := validateContext(ctx); err != nil {
		return 0, err
	}
	if len(handles) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(handles)), ",")
	args := make([]any, 0, len(handles)+1)
	args = append(args, utc(time.Now()))
	for _, h := range handles {
		args = append(args, h)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE reminders SET cancelled_at = ?
		WHERE cancelled_at IS NULL AND handle IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel reminders: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// GetDueReminders returns pending reminders whose fire time is at or before at.
func (s *SQLiteStorage) GetDueReminders(ctx context.Context, at time.Time) ([]model.Reminder, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.queryReminders(ctx, "WHERE cancelled_at IS NULL AND fire_at <= ? ORDER BY fire_at, handle", utc(at))
}

// GetRemindersByInstance returns every reminder ever scheduled for an instance.
func (s *SQLiteStorage) GetRemindersByInstance(ctx context.Context, instanceID string) ([]model.Reminder, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(instanceID, "instanceID"); err != nil {
		return nil, err
	}
	return s.queryReminders(ctx, "WHERE instance_id = ? ORDER BY fire_at, handle", instanceID)
}

func (s *SQLiteStorage) queryReminders(ctx context.Context, whereAndOrder string, args ...any) ([]model.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT handle, instance_id, fire_at, created_at, cancelled_at FROM reminders `+whereAndOrder, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var reminders []model.Reminder
	for rows.Next() {
		var r model.Reminder
		var cancelledAt sql.NullTime
		if err := rows.Scan(&r.Handle, &r.InstanceID, &r.FireAt, &r.CreatedAt, &cancelledAt); err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		r.FireAt = r.FireAt.UTC()
		r.CancelledAt = timePtr(cancelledAt)
		reminders = append(reminders, r)
	}

	return reminders, rows.Err()
}
