// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/model"
)

//go:generate mockgen -destination=mocks/mocks.go -package=mocks github.com/Veraticus/the-dues-must-flow/internal/service ReminderScheduler,CalendarSync

// DocumentStore persists scanned documents.
type DocumentStore interface {
	GetDocuments(ctx context.Context) ([]model.Document, error)
	GetDocumentsByVendorFingerprint(ctx context.Context, fingerprint string) ([]model.Document, error)
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	SaveDocument(ctx context.Context, doc *model.Document) error
	DeleteDocument(ctx context.Context, id string) error
	// DeleteUnlinkedDocument deletes a document only while it is not linked to a
	// recurring instance. A linked document returns ErrConcurrentModification.
	DeleteUnlinkedDocument(ctx context.Context, id string) error
}

// TemplateStore persists recurring templates.
type TemplateStore interface {
	GetTemplates(ctx context.Context) ([]model.RecurringTemplate, error)
	GetActiveTemplates(ctx context.Context) ([]model.RecurringTemplate, error)
	// GetTemplateByFingerprint prefers the active template for the fingerprint,
	// then the most recently created inactive one.
	GetTemplateByFingerprint(ctx context.Context, fingerprint string) (*model.RecurringTemplate, error)
	GetTemplatesByVendorOnlyFingerprint(ctx context.Context, fingerprint string) ([]model.RecurringTemplate, error)
	GetTemplate(ctx context.Context, id string) (*model.RecurringTemplate, error)
	SaveTemplate(ctx context.Context, template *model.RecurringTemplate) error
	DeleteTemplate(ctx context.Context, id string) error
}

// InstanceStore persists recurring instances.
type InstanceStore interface {
	GetInstancesByTemplate(ctx context.Context, templateID string) ([]model.RecurringInstance, error)
	GetInstance(ctx context.Context, id string) (*model.RecurringInstance, error)
	GetInstancesByStatus(ctx context.Context, status model.InstanceStatus) ([]model.RecurringInstance, error)
	GetUpcomingInstances(ctx context.Context, from time.Time, limit int) ([]model.RecurringInstance, error)
	SaveInstance(ctx context.Context, instance *model.RecurringInstance) error
	// TransitionInstanceStatus changes status only if the stored status still equals from.
	// It reports whether the row changed.
	TransitionInstanceStatus(ctx context.Context, id string, from, to model.InstanceStatus) (bool, error)
	DeleteInstance(ctx context.Context, id string) error
}

// SuppressionStore persists dismissed and snoozed candidates.
type SuppressionStore interface {
	GetSuppressions(ctx context.Context) ([]model.Suppression, error)
	SaveSuppression(ctx context.Context, suppression *model.Suppression) error
	DeleteSuppression(ctx context.Context, fingerprint string) error
}

// Stores groups every store the recurring engine reads and writes.
type Stores interface {
	DocumentStore
	TemplateStore
	InstanceStore
	SuppressionStore
}

// Storage defines the contract for our persistence layer.
type Storage interface {
	Stores

	// Database management
	Migrate(ctx context.Context) error
	BeginTx(ctx context.Context) (Transaction, error)
	Close() error
}

// Transaction represents a database transaction.
type Transaction interface {
	Stores
	Commit() error
	Rollback() error
}

// ReminderScheduler schedules payment reminders outside the engine. Handles are opaque.
type ReminderScheduler interface {
	Schedule(ctx context.Context, instanceID string, dueDate time.Time, offsetDays []int) ([]string, error)
	Cancel(ctx context.Context, handles []string) error
}

// CalendarSync mirrors instances into a calendar. An empty handle means no event was created.
type CalendarSync interface {
	CreateEvent(ctx context.Context, instance model.RecurringInstance, title string) (string, error)
	DeleteEvent(ctx context.Context, handle string) error
}

// BatchFailure records one item a batch operation could not process.
type BatchFailure struct {
	Err error
	Key string
}

// BatchResult summarizes a best-effort batch operation.
type BatchResult struct {
	Failed    []BatchFailure
	Processed int
	Changed   int
}

// HasFailures reports whether any item failed.
func (r BatchResult) HasFailures() bool {
	return len(r.Failed) > 0
}
