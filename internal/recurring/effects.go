package recurring

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/Veraticus/the-dues-must-flow/internal/service"
)

// sideEffects talks to the reminder and calendar collaborators. Both are optional.
// It is only ever called after the owning transaction committed, so a failure here
// is logged and never undoes engine state.
type sideEffects struct {
	reminders service.ReminderScheduler
	calendar  service.CalendarSync
	offsets   []int
}

func (e sideEffects) enabled() bool {
	return e.reminders != nil || e.calendar != nil
}

// schedule requests reminders and a calendar event for one instance and returns
// whatever handles were created.
func (e sideEffects) schedule(ctx context.Context, template *model.RecurringTemplate, instance *model.RecurringInstance) []model.ExternalHandle {
	var handles []model.ExternalHandle

	if e.reminders != nil {
		ids, err := e.reminders.Schedule(ctx, instance.ID, instance.EffectiveDueDate(), e.offsets)
		if err != nil {
			slog.Warn("Failed to schedule reminders",
				"instance_id", instance.ID,
				"period_key", instance.PeriodKey,
				"error", err)
		}
		for _, id := range ids {
			handles = append(handles, model.ExternalHandle{Kind: model.HandleReminder, ID: id})
		}
	}

	if e.calendar != nil {
		title := fmt.Sprintf("%s payment due", template.VendorDisplayName)
		id, err := e.calendar.CreateEvent(ctx, *instance, title)
		if err != nil {
			slog.Warn("Failed to create calendar event",
				"instance_id", instance.ID,
				"period_key", instance.PeriodKey,
				"error", err)
		} else if id != "" {
			handles = append(handles, model.ExternalHandle{Kind: model.HandleCalendar, ID: id})
		}
	}

	return handles
}

// cancel withdraws previously scheduled side effects.
func (e sideEffects) cancel(ctx context.Context, handles []model.ExternalHandle) {
	if len(handles) == 0 {
		return
	}

	reminderIDs, calendarIDs := model.SplitHandles(handles)

	if len(reminderIDs) > 0 && e.reminders != nil {
		if err := e.reminders.Cancel(ctx, reminderIDs); err != nil {
			slog.Warn("Failed to cancel reminders", "handles", reminderIDs, "error", err)
		}
	}

	if e.calendar != nil {
		for _, id := range calendarIDs {
			if err := e.calendar.DeleteEvent(ctx, id); err != nil {
				slog.Warn("Failed to delete calendar event", "handle", id, "error", err)
			}
		}
	}
}

// attach schedules side effects for freshly committed instances that are still open
// and not yet due, then records the handles on each instance.
// Callers hold the template lock.
func (s *Scheduler) attach(ctx context.Context, template *model.RecurringTemplate, instances []model.RecurringInstance) {
	if !s.effects.enabled() {
		return
	}

	today := s.cfg.today()
	for i := range instances {
		instance := &instances[i]
		if instance.Status.IsTerminal() || instance.EffectiveDueDate().Before(today) {
			continue
		}

		handles := s.effects.schedule(ctx, template, instance)
		if len(handles) == 0 {
			continue
		}

		if err := s.recordHandles(ctx, instance.ID, handles); err != nil {
			slog.Warn("Failed to record side effect handles, withdrawing them",
				"instance_id", instance.ID,
				"error", err)
			s.effects.cancel(ctx, handles)
			continue
		}
		instance.AddSideEffects(handles...)
	}
}

func (s *Scheduler) recordHandles(ctx context.Context, instanceID string, handles []model.ExternalHandle) error {
	fresh, err := s.storage.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}
	fresh.AddSideEffects(handles...)
	return s.storage.SaveInstance(ctx, fresh)
}

// withTx runs fn inside one transaction and commits only if fn succeeds.
func withTx(ctx context.Context, storage service.Storage, fn func(tx service.Transaction) error) error {
	tx, err := storage.BeginTx(ctx)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
