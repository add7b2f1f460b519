// Package reminder implements the side-effect collaborators of the recurring engine:
// payment reminders kept in the local database and calendar events written as
// iCalendar files.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/google/uuid"
)

// FireHour is the UTC hour of the day a reminder fires.
const FireHour = 9

// Store persists reminders.
type Store interface {
	CreateReminders(ctx context.Context, reminders []model.Reminder) error
	CancelReminders(ctx context.Context, handles []string) (int, error)
	GetDueReminders(ctx context.Context, at time.Time) ([]model.Reminder, error)
}

// Scheduler schedules reminders a number of days ahead of a due date.
type Scheduler struct {
	store Store
	now   func() time.Time
}

// NewScheduler creates a reminder scheduler. now defaults to time.Now.
func NewScheduler(store Store, now func() time.Time) *Scheduler {
	if now == nil {
		now = time.Now
	}
	return &Scheduler{store: store, now: now}
}

// Schedule creates one reminder per distinct offset and returns their handles.
// Reminders that would fire on a day already past are skipped.
func (s *Scheduler) Schedule(ctx context.Context, instanceID string, dueDate time.Time, offsetDays []int) ([]string, error) {
	if instanceID == "" {
		return nil, fmt.Errorf("instance ID is required")
	}

	today := model.DateOnly(s.now())
	created := s.now().UTC()
	due := model.DateOnly(dueDate)

	seen := make(map[int]bool, len(offsetDays))
	var reminders []model.Reminder
	for _, offset := range offsetDays {
		if offset < 0 || seen[offset] {
			continue
		}
		seen[offset] = true

		day := due.AddDate(0, 0, -offset)
		if day.Before(today) {
			continue
		}
		reminders = append(reminders, model.Reminder{
			Handle:     uuid.NewString(),
			InstanceID: instanceID,
			FireAt:     day.Add(FireHour * time.Hour),
			CreatedAt:  created,
		})
	}
	if len(reminders) == 0 {
		return nil, nil
	}

	sort.Slice(reminders, func(i, j int) bool {
		return reminders[i].FireAt.Before(reminders[j].FireAt)
	})

	if err := s.store.CreateReminders(ctx, reminders); err != nil {
		return nil, fmt.Errorf("failed to store reminders: %w", err)
	}

	handles := make([]string, len(reminders))
	for i, r := range reminders {
		handles[i] = r.Handle
	}

	slog.Debug("Scheduled reminders",
		"instance_id", instanceID,
		"due_date", due.Format(time.DateOnly),
		"count", len(handles))
	return handles, nil
}

// Cancel withdraws reminders. Unknown or already cancelled handles are ignored.
func (s *Scheduler) Cancel(ctx context.Context, handles []string) error {
	if len(handles) == 0 {
		return nil
	}
	n, err := s.store.CancelReminders(ctx, handles)
	if err != nil {
		return fmt.Errorf("failed to cancel reminders: %w", err)
	}
	slog.Debug("Cancelled reminders", "requested", len(handles), "cancelled", n)
	return nil
}

// Due lists the reminders that should have fired by now.
func (s *Scheduler) Due(ctx context.Context) ([]model.Reminder, error) {
	return s.store.GetDueReminders(ctx, s.now())
}
