// Package storage provides the data persistence layer for the dues application.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/the-dues-must-flow/internal/model"
)

// Validation errors.
var (
	ErrNilContext         = errors.New("context cannot be nil")
	ErrEmptyString        = errors.New("string parameter cannot be empty")
	ErrNilParameter       = errors.New("parameter cannot be nil")
	ErrInvalidStatus      = errors.New("invalid instance status")
	ErrInvalidDocument    = errors.New("invalid document")
	ErrInvalidInstance    = errors.New("invalid instance")
	ErrInvalidSuppression = errors.New("invalid suppression")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateDocument validates a single document.
func validateDocument(doc *model.Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document", ErrNilParameter)
	}
	if doc.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidDocument)
	}
	if doc.DueDate.IsZero() {
		return fmt.Errorf("%w: missing due date", ErrInvalidDocument)
	}
	if strings.TrimSpace(doc.Currency) == "" {
		return fmt.Errorf("%w: missing currency", ErrInvalidDocument)
	}
	if doc.RecurringInstanceID != "" && doc.RecurringTemplateID == "" {
		return fmt.Errorf("%w: instance link without template link", ErrInvalidDocument)
	}
	return nil
}

// validateTemplate validates a recurring template.
func validateTemplate(template *model.RecurringTemplate) error {
	if template == nil {
		return fmt.Errorf("%w: template", ErrNilParameter)
	}
	return template.Validate()
}

// validateInstance validates a recurring instance.
func validateInstance(instance *model.RecurringInstance) error {
	if instance == nil {
		return fmt.Errorf("%w: instance", ErrNilParameter)
	}
	if instance.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidInstance)
	}
	if instance.TemplateID == "" {
		return fmt.Errorf("%w: missing template ID", ErrInvalidInstance)
	}
	if _, err := model.ParsePeriodKey(instance.PeriodKey); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInstance, err)
	}
	if instance.ExpectedDueDate.IsZero() {
		return fmt.Errorf("%w: missing expected due date", ErrInvalidInstance)
	}
	if err := validateStatus(instance.Status); err != nil {
		return err
	}
	if instance.MatchedDocumentID != "" &&
		instance.Status != model.InstanceMatched && instance.Status != model.InstancePaid {
		return fmt.Errorf("%w: %s instance cannot reference a document", ErrInvalidInstance, instance.Status)
	}
	if instance.Status == model.InstanceMatched && instance.MatchedDocumentID == "" {
		return fmt.Errorf("%w: matched instance without a document", ErrInvalidInstance)
	}
	return nil
}

// validateStatus ensures status is a known instance status.
func validateStatus(status model.InstanceStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	return nil
}

// validateTransition validates a compare-and-set status change request.
func validateTransition(id string, from, to model.InstanceStatus) error {
	if err := validateString(id, "id"); err != nil {
		return err
	}
	if err := validateStatus(from); err != nil {
		return err
	}
	return validateStatus(to)
}

// validateSuppression validates a candidate suppression.
func validateSuppression(suppression *model.Suppression) error {
	if suppression == nil {
		return fmt.Errorf("%w: suppression", ErrNilParameter)
	}
	if strings.TrimSpace(suppression.VendorFingerprint) == "" {
		return fmt.Errorf("%w: missing fingerprint", ErrInvalidSuppression)
	}
	switch suppression.Kind {
	case model.SuppressionDismissed:
		if suppression.Until != nil {
			return fmt.Errorf("%w: dismissals are permanent", ErrInvalidSuppression)
		}
	case model.SuppressionSnoozed:
		if suppression.Until == nil {
			return fmt.Errorf("%w: snooze needs an expiry", ErrInvalidSuppression)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSuppression, suppression.Kind)
	}
	return nil
}
