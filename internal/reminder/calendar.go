package reminder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/model"
	ics "github.com/arran4/golang-ical"
	"github.com/google/uuid"
)

// ICSCalendar mirrors instances as all-day events, one iCalendar file per event,
// into a directory that calendar clients can subscribe to or import from.
type ICSCalendar struct {
	now func() time.Time
	dir string
}

// NewICSCalendar creates the calendar directory if needed.
func NewICSCalendar(dir string, now func() time.Time) (*ICSCalendar, error) {
	if dir == "" {
		return nil, fmt.Errorf("calendar directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create calendar directory: %w", err)
	}
	if now == nil {
		now = time.Now
	}
	return &ICSCalendar{dir: dir, now: now}, nil
}

// CreateEvent writes an event for the instance's effective due date and returns
// the event UID as its handle.
func (c *ICSCalendar) CreateEvent(ctx context.Context, instance model.RecurringInstance, title string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	uid := uuid.NewString()
	due := model.DateOnly(instance.EffectiveDueDate())

	var description string
	if amount := instance.EffectiveAmount(); amount != nil {
		description = fmt.Sprintf("Amount %s (%s)", amount.StringFixed(2), instance.PeriodKey)
	} else {
		description = instance.PeriodKey
	}

	cal := ics.NewCalendarFor("the-dues-must-flow")
	cal.SetMethod(ics.MethodPublish)
	event := cal.AddEvent(uid)
	event.SetDtStampTime(c.now())
	event.SetAllDayStartAt(due)
	event.SetAllDayEndAt(due.AddDate(0, 0, 1))
	event.SetSummary(title)
	event.SetDescription(description)

	path := c.path(uid)
	if err := os.WriteFile(path, []byte(cal.Serialize(ics.WithNewLineWindows)), 0o600); err != nil {
		return "", fmt.Errorf("failed to write calendar event: %w", err)
	}

	slog.Debug("Created calendar event", "instance_id", instance.ID, "handle", uid, "path", path)
	return uid, nil
}

// DeleteEvent removes an event file. A missing file is not an error.
func (c *ICSCalendar) DeleteEvent(ctx context.Context, handle string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if handle == "" || strings.ContainsAny(handle, `/\`) {
		return fmt.Errorf("invalid calendar handle %q", handle)
	}
	if err := os.Remove(c.path(handle)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete calendar event: %w", err)
	}
	return nil
}

func (c *ICSCalendar) path(uid string) string {
	return filepath.Join(c.dir, uid+".ics")
}
