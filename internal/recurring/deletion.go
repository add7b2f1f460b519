package recurring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/the-dues-must-flow/internal/common"
	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/Veraticus/the-dues-must-flow/internal/service"
)

// Orchestrator runs the destructive scenarios on documents and instances. Each
// scenario commits as a whole or not at all and is retried from scratch when it
// loses an optimistic concurrency race.
type Orchestrator struct {
	storage   service.Storage
	scheduler *Scheduler
}

// NewOrchestrator creates an orchestrator sharing the scheduler's locks and
// side-effect collaborators.
func NewOrchestrator(storage service.Storage, scheduler *Scheduler) *Orchestrator {
	return &Orchestrator{
		storage:   storage,
		scheduler: scheduler,
	}
}

// DeleteDocumentOnly unlinks a document from its instance and deletes it. The
// template and every other instance are untouched. A paid instance is final and
// keeps its status, final values and document ID.
func (o *Orchestrator) DeleteDocumentOnly(ctx context.Context, documentID string) error {
	err := o.retry(ctx, func() error {
		return o.deleteDocument(ctx, documentID, false, nil)
	})
	if err != nil {
		return common.NewUserError("the document was not deleted", err)
	}
	return nil
}

// DeleteDocumentAndCancelRecurring deletes a document and stops the recurring bill
// it belongs to: the template is deactivated and its open instances from today on
// are cancelled. Past instances are kept. It returns how many were cancelled.
func (o *Orchestrator) DeleteDocumentAndCancelRecurring(ctx context.Context, documentID string) (int, error) {
	var cancelled int
	err := o.retry(ctx, func() error {
		cancelled = 0
		return o.deleteDocument(ctx, documentID, true, &cancelled)
	})
	if err != nil {
		return 0, common.NewUserError("the document was not deleted and recurring payments were not cancelled", err)
	}
	return cancelled, nil
}

// CancelInstance cancels one instance. Its document, if any, is unlinked and kept.
func (o *Orchestrator) CancelInstance(ctx context.Context, instanceID string) error {
	err := o.retry(ctx, func() error {
		return o.cancelInstance(ctx, instanceID)
	})
	if err != nil {
		return common.NewUserError("the payment was not cancelled", err)
	}
	return nil
}

// CancelFutureOccurrences deactivates the instance's template and cancels the
// instance together with every open instance due today or later. It returns how
// many were cancelled.
func (o *Orchestrator) CancelFutureOccurrences(ctx context.Context, instanceID string) (int, error) {
	var cancelled int
	err := o.retry(ctx, func() error {
		var err error
		cancelled, err = o.cancelFuture(ctx, instanceID)
		return err
	})
	if err != nil {
		return 0, common.NewUserError("future payments were not cancelled", err)
	}
	return cancelled, nil
}

func (o *Orchestrator) retry(ctx context.Context, scenario func() error) error {
	return common.WithRetry(ctx, scenario, o.scheduler.cfg.Retry)
}

func (o *Orchestrator) deleteDocument(ctx context.Context, documentID string, cancelRecurring bool, cancelled *int) error {
	doc, err := o.storage.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	if doc.RecurringTemplateID == "" {
		// No template lock to take yet. A match that lands first makes the
		// delete fail with ErrConcurrentModification and the retry takes the
		// linked path.
		err := withTx(ctx, o.storage, func(tx service.Transaction) error {
			current, err := tx.GetDocument(ctx, documentID)
			if err != nil {
				return err
			}
			if current.IsLinked() || current.RecurringTemplateID != "" {
				return fmt.Errorf("document %s was linked meanwhile: %w", documentID, common.ErrConcurrentModification)
			}
			return tx.DeleteUnlinkedDocument(ctx, documentID)
		})
		if err != nil {
			return err
		}
		slog.Info("Deleted unlinked document", "document_id", documentID)
		return nil
	}

	templateID := doc.RecurringTemplateID
	unlock := o.scheduler.locks.lock(templateID)
	defer unlock()

	var (
		handles    []model.ExternalHandle
		reschedule *model.RecurringInstance
		template   *model.RecurringTemplate
	)

	err = withTx(ctx, o.storage, func(tx service.Transaction) error {
		doc, err := tx.GetDocument(ctx, documentID)
		if err != nil {
			return err
		}
		if doc.RecurringTemplateID != templateID {
			return fmt.Errorf("document %s moved to another template: %w", documentID, common.ErrConcurrentModification)
		}

		template, err = tx.GetTemplate(ctx, templateID)
		if err != nil {
			return err
		}

		if doc.RecurringInstanceID != "" {
			instance, err := tx.GetInstance(ctx, doc.RecurringInstanceID)
			switch {
			case errors.Is(err, common.ErrNotFound):
			case err != nil:
				return err
			default:
				h, unlinked, err := detachInstance(instance, documentID)
				if err != nil {
					return err
				}
				if err := tx.SaveInstance(ctx, instance); err != nil {
					return err
				}
				handles = append(handles, h...)
				if unlinked {
					reschedule = instance
				}
			}
		}

		if cancelRecurring {
			n, h, err := o.scheduler.deactivateTx(ctx, tx, template, "")
			if err != nil {
				return err
			}
			*cancelled = n
			handles = append(handles, h...)
			reschedule = nil
		} else if err := saveCounters(ctx, tx, template); err != nil {
			return err
		}

		return tx.DeleteDocument(ctx, documentID)
	})
	if err != nil {
		return err
	}

	o.scheduler.effects.cancel(ctx, handles)
	if reschedule != nil {
		o.scheduler.attach(ctx, template, []model.RecurringInstance{*reschedule})
	}

	slog.Info("Deleted linked document",
		"document_id", documentID,
		"template_id", templateID,
		"cancel_recurring", cancelRecurring)
	return nil
}

// detachInstance drops a document from its instance. Matched instances revert to
// expected and their side effects are withdrawn so they can be scheduled afresh.
// Paid instances are final and keep the document ID as a record of what paid them.
func detachInstance(instance *model.RecurringInstance, documentID string) ([]model.ExternalHandle, bool, error) {
	if instance.MatchedDocumentID != documentID {
		return nil, false, nil
	}

	switch instance.Status {
	case model.InstanceMatched:
		if err := instance.UnlinkDocument(); err != nil {
			return nil, false, err
		}
		return instance.ClearSideEffects(), true, nil
	case model.InstancePaid:
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("%w: instance %s is %s but references document %s",
			common.ErrInvalidState, instance.ID, instance.Status, documentID)
	}
}

func (o *Orchestrator) cancelInstance(ctx context.Context, instanceID string) error {
	snapshot, err := o.storage.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	unlock := o.scheduler.locks.lock(snapshot.TemplateID)
	defer unlock()

	var handles []model.ExternalHandle
	err = withTx(ctx, o.storage, func(tx service.Transaction) error {
		instance, err := tx.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if instance.Status == model.InstanceCancelled {
			return fmt.Errorf("instance %s is already cancelled: %w", instanceID, common.ErrNotFound)
		}

		docID, h, err := instance.Cancel()
		if err != nil {
			return err
		}
		if err := tx.SaveInstance(ctx, instance); err != nil {
			return err
		}
		if docID != "" {
			if err := unlinkDocumentTx(ctx, tx, docID); err != nil {
				return err
			}
		}
		handles = h

		template, err := tx.GetTemplate(ctx, instance.TemplateID)
		if err != nil {
			return err
		}
		return saveCounters(ctx, tx, template)
	})
	if err != nil {
		return err
	}

	o.scheduler.effects.cancel(ctx, handles)
	slog.Info("Cancelled instance",
		"instance_id", instanceID,
		"template_id", snapshot.TemplateID,
		"period_key", snapshot.PeriodKey)
	return nil
}

func (o *Orchestrator) cancelFuture(ctx context.Context, instanceID string) (int, error) {
	snapshot, err := o.storage.GetInstance(ctx, instanceID)
	if err != nil {
		return 0, err
	}

	unlock := o.scheduler.locks.lock(snapshot.TemplateID)
	defer unlock()

	var (
		cancelled int
		handles   []model.ExternalHandle
	)
	err = withTx(ctx, o.storage, func(tx service.Transaction) error {
		template, err := tx.GetTemplate(ctx, snapshot.TemplateID)
		if err != nil {
			return err
		}
		cancelled, handles, err = o.scheduler.deactivateTx(ctx, tx, template, instanceID)
		return err
	})
	if err != nil {
		return 0, err
	}

	o.scheduler.effects.cancel(ctx, handles)
	slog.Info("Cancelled future occurrences",
		"instance_id", instanceID,
		"template_id", snapshot.TemplateID,
		"cancelled", cancelled)
	return cancelled, nil
}
