package model

// HandleKind tags an opaque reference to an external side effect.
type HandleKind string

// Handle kinds.
const (
	HandleReminder HandleKind = "reminder"
	HandleCalendar HandleKind = "calendar"
)

// ExternalHandle references something another system scheduled for an instance.
// The engine stores and returns IDs but never looks inside them.
type ExternalHandle struct {
	Kind HandleKind `json:"kind"`
	ID   string     `json:"id"`
}

// ReminderHandles returns the IDs of every reminder handle.
func (i *RecurringInstance) ReminderHandles() []string {
	return handleIDs(i.SideEffects, HandleReminder)
}

// CalendarEventID returns the calendar event handle, or "" if none.
func (i *RecurringInstance) CalendarEventID() string {
	ids := handleIDs(i.SideEffects, HandleCalendar)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// NotificationsScheduled reports whether any reminder is scheduled.
func (i *RecurringInstance) NotificationsScheduled() bool {
	return len(i.ReminderHandles()) > 0
}

// AddSideEffects records newly scheduled handles.
func (i *RecurringInstance) AddSideEffects(handles ...ExternalHandle) {
	i.SideEffects = append(i.SideEffects, handles...)
}

// SplitHandles separates a handle list into reminder IDs and calendar IDs.
func SplitHandles(handles []ExternalHandle) (reminders, calendar []string) {
	return handleIDs(handles, HandleReminder), handleIDs(handles, HandleCalendar)
}

func handleIDs(handles []ExternalHandle, kind HandleKind) []string {
	var ids []string
	for _, h := range handles {
		if h.Kind == kind && h.ID != "" {
			ids = append(ids, h.ID)
		}
	}
	return ids
}

// ClearSideEffects removes and returns every recorded handle.
func (i *RecurringInstance) ClearSideEffects() []ExternalHandle {
	return i.takeSideEffects()
}
