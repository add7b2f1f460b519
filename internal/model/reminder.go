package model

import "time"

// Reminder is one scheduled notification ahead of an instance's due date.
type Reminder struct {
	FireAt      time.Time
	CreatedAt   time.Time
	CancelledAt *time.Time
	Handle      string
	InstanceID  string
}

// IsCancelled reports whether the reminder was withdrawn.
func (r *Reminder) IsCancelled() bool {
	return r.CancelledAt != nil
}
