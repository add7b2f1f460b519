package recurring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/common"
	"github.com/Veraticus/the-dues-must-flow/internal/fingerprint"
	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/Veraticus/the-dues-must-flow/internal/service"
	"github.com/google/uuid"
)

// CreateTemplate saves a new active template and generates its instances.
// A second active template for the same vendor fingerprint is rejected.
func (s *Scheduler) CreateTemplate(ctx context.Context, template *model.RecurringTemplate, includeHistorical bool) (GenerationResult, error) {
	if template.ID == "" {
		template.ID = uuid.NewString()
	}
	if template.Source == "" {
		template.Source = model.TemplateSourceManual
	}
	if template.VendorFingerprint == "" && template.VendorDisplayName != "" {
		template.VendorFingerprint = fingerprint.Fingerprint(template.VendorDisplayName, "")
	}
	if template.VendorOnlyFingerprint == "" && template.VendorDisplayName != "" {
		template.VendorOnlyFingerprint = fingerprint.VendorOnly(template.VendorDisplayName)
	}
	template.Currency = strings.ToUpper(template.Currency)
	template.IsActive = true
	template.Version = 0

	if err := template.Validate(); err != nil {
		return GenerationResult{}, err
	}

	existing, err := s.storage.GetTemplateByFingerprint(ctx, template.VendorFingerprint)
	switch {
	case errors.Is(err, common.ErrNotFound):
	case err != nil:
		return GenerationResult{}, err
	case existing.IsActive:
		return GenerationResult{}, fmt.Errorf("vendor %s already has active template %s: %w",
			template.VendorDisplayName, existing.ID, common.ErrDuplicateEntry)
	}

	if err := s.storage.SaveTemplate(ctx, template); err != nil {
		return GenerationResult{}, fmt.Errorf("failed to save template: %w", err)
	}

	slog.Info("Created recurring template",
		"template_id", template.ID,
		"vendor", template.VendorDisplayName,
		"source", template.Source,
		"due_day", template.DueDayOfMonth)

	return s.GenerateInstances(ctx, template.ID, s.cfg.MonthsAhead, includeHistorical)
}

// PauseTemplate deactivates a template and cancels its open instances that are
// not yet due. History is kept. It returns how many instances were cancelled.
func (s *Scheduler) PauseTemplate(ctx context.Context, templateID string) (int, error) {
	unlock := s.locks.lock(templateID)
	defer unlock()

	var (
		cancelled int
		handles   []model.ExternalHandle
	)

	err := withTx(ctx, s.storage, func(tx service.Transaction) error {
		template, err := tx.GetTemplate(ctx, templateID)
		if err != nil {
			return err
		}
		if !template.IsActive {
			return nil
		}

		cancelled, handles, err = s.deactivateTx(ctx, tx, template, "")
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to pause template %s: %w", templateID, err)
	}

	s.effects.cancel(ctx, handles)
	slog.Info("Paused recurring template", "template_id", templateID, "cancelled", cancelled)
	return cancelled, nil
}

// ResumeTemplate reactivates a paused template and generates its forward instances.
// It refuses if another template for the same fingerprint became active meanwhile.
func (s *Scheduler) ResumeTemplate(ctx context.Context, templateID string) (GenerationResult, error) {
	resumed, err := s.reactivate(ctx, templateID)
	if err != nil {
		return GenerationResult{}, err
	}
	if resumed {
		slog.Info("Resumed recurring template", "template_id", templateID)
	}
	return s.generate(ctx, templateID, s.cfg.MonthsAhead, false, true)
}

func (s *Scheduler) reactivate(ctx context.Context, templateID string) (bool, error) {
	unlock := s.locks.lock(templateID)
	defer unlock()

	resumed := false
	err := withTx(ctx, s.storage, func(tx service.Transaction) error {
		template, err := tx.GetTemplate(ctx, templateID)
		if err != nil {
			return err
		}
		if template.IsActive {
			return nil
		}

		current, err := tx.GetTemplateByFingerprint(ctx, template.VendorFingerprint)
		if err != nil {
			return err
		}
		if current.IsActive && current.ID != template.ID {
			return fmt.Errorf("template %s is already active for this vendor: %w", current.ID, common.ErrDuplicateEntry)
		}

		template.IsActive = true
		resumed = true
		return tx.SaveTemplate(ctx, template)
	})
	if err != nil {
		return false, fmt.Errorf("failed to resume template %s: %w", templateID, err)
	}
	return resumed, nil
}

// PurgeTemplate hard-deletes a template and all of its instances. Linked documents
// are kept and unlinked. It returns how many instances were removed.
func (s *Scheduler) PurgeTemplate(ctx context.Context, templateID string) (int, error) {
	unlock := s.locks.lock(templateID)
	defer unlock()

	var (
		removed int
		handles []model.ExternalHandle
	)

	err := withTx(ctx, s.storage, func(tx service.Transaction) error {
		template, err := tx.GetTemplate(ctx, templateID)
		if err != nil {
			return err
		}

		docs, err := tx.GetDocumentsByVendorFingerprint(ctx, template.VendorFingerprint)
		if err != nil {
			return err
		}
		instances, err := tx.GetInstancesByTemplate(ctx, templateID)
		if err != nil {
			return err
		}

		linked := make(map[string]bool)
		for _, inst := range instances {
			if inst.MatchedDocumentID != "" {
				linked[inst.MatchedDocumentID] = true
			}
		}
		for i := range docs {
			doc := &docs[i]
			if doc.RecurringTemplateID == templateID {
				delete(linked, doc.ID)
				doc.Unlink()
				if err := tx.SaveDocument(ctx, doc); err != nil {
					return err
				}
			}
		}
		// Documents linked under a split-off fingerprint are not in docs.
		for docID := range linked {
			if err := unlinkDocumentTx(ctx, tx, docID); err != nil {
				return err
			}
		}

		for i := range instances {
			handles = append(handles, instances[i].ClearSideEffects()...)
			if err := tx.DeleteInstance(ctx, instances[i].ID); err != nil {
				return err
			}
			removed++
		}
		return tx.DeleteTemplate(ctx, templateID)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge template %s: %w", templateID, err)
	}

	s.effects.cancel(ctx, handles)
	slog.Info("Purged recurring template", "template_id", templateID, "instances", removed)
	return removed, nil
}

// MarkInstancePaid records payment of an expected or matched instance. The linked
// document is marked paid and pending reminders are withdrawn.
func (s *Scheduler) MarkInstancePaid(ctx context.Context, instanceID string) error {
	snapshot, err := s.storage.GetInstance(ctx, instanceID)
	if err != nil {
		return err
	}

	unlock := s.locks.lock(snapshot.TemplateID)
	defer unlock()

	var handles []model.ExternalHandle
	err = withTx(ctx, s.storage, func(tx service.Transaction) error {
		instance, err := tx.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		template, err := tx.GetTemplate(ctx, instance.TemplateID)
		if err != nil {
			return err
		}

		handles, err = instance.MarkPaid()
		if err != nil {
			return err
		}
		if err := tx.SaveInstance(ctx, instance); err != nil {
			return err
		}

		if instance.MatchedDocumentID != "" {
			doc, err := tx.GetDocument(ctx, instance.MatchedDocumentID)
			if err != nil {
				return err
			}
			doc.Status = model.DocumentPaid
			if err := tx.SaveDocument(ctx, doc); err != nil {
				return err
			}
		}

		return saveCounters(ctx, tx, template)
	})
	if err != nil {
		return fmt.Errorf("failed to mark instance %s paid: %w", instanceID, err)
	}

	s.effects.cancel(ctx, handles)
	slog.Info("Instance paid", "instance_id", instanceID, "template_id", snapshot.TemplateID)
	return nil
}

// deactivateTx cancels every open instance due today or later, plus anchorID if it
// is still open, and deactivates the template. It returns the cancelled count and
// the handles to withdraw after commit.
func (s *Scheduler) deactivateTx(ctx context.Context, tx service.Transaction, template *model.RecurringTemplate, anchorID string) (int, []model.ExternalHandle, error) {
	instances, err := tx.GetInstancesByTemplate(ctx, template.ID)
	if err != nil {
		return 0, nil, err
	}

	cancelled, handles, err := cancelOpenFrom(ctx, tx, instances, s.cfg.today(), anchorID)
	if err != nil {
		return 0, nil, err
	}

	template.IsActive = false
	if err := saveCounters(ctx, tx, template); err != nil {
		return 0, nil, err
	}
	return cancelled, handles, nil
}

func cancelOpenFrom(ctx context.Context, tx service.Transaction, instances []model.RecurringInstance, from time.Time, anchorID string) (int, []model.ExternalHandle, error) {
	var (
		cancelled int
		handles   []model.ExternalHandle
	)
	for i := range instances {
		instance := &instances[i]
		if instance.Status.IsTerminal() {
			continue
		}
		if instance.ID != anchorID && instance.EffectiveDueDate().Before(from) {
			continue
		}

		docID, h, err := instance.Cancel()
		if err != nil {
			return 0, nil, err
		}
		if docID != "" {
			if err := unlinkDocumentTx(ctx, tx, docID); err != nil {
				return 0, nil, err
			}
		}
		if err := tx.SaveInstance(ctx, instance); err != nil {
			return 0, nil, err
		}
		handles = append(handles, h...)
		cancelled++
	}
	return cancelled, handles, nil
}

// unlinkDocumentTx clears a document's recurring links. A document that no longer
// exists needs no unlinking.
func unlinkDocumentTx(ctx context.Context, tx service.Transaction, documentID string) error {
	doc, err := tx.GetDocument(ctx, documentID)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	doc.Unlink()
	return tx.SaveDocument(ctx, doc)
}
