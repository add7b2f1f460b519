package model

import (
	"fmt"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/common"
	"github.com/shopspring/decimal"
)

// InstanceStatus is the lifecycle state of a recurring instance.
type InstanceStatus string

// Instance status constants.
const (
	InstanceExpected  InstanceStatus = "expected"
	InstanceMatched   InstanceStatus = "matched"
	InstancePaid      InstanceStatus = "paid"
	InstanceMissed    InstanceStatus = "missed"
	InstanceCancelled InstanceStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible from s.
func (s InstanceStatus) IsTerminal() bool {
	return s == InstancePaid || s == InstanceMissed || s == InstanceCancelled
}

// Valid reports whether s is a known status.
func (s InstanceStatus) Valid() bool {
	switch s {
	case InstanceExpected, InstanceMatched, InstancePaid, InstanceMissed, InstanceCancelled:
		return true
	}
	return false
}

// transitions lists every allowed status change. matched -> expected only happens
// through UnlinkDocument.
var transitions = map[InstanceStatus][]InstanceStatus{
	InstanceExpected: {InstanceMatched, InstancePaid, InstanceMissed, InstanceCancelled},
	InstanceMatched:  {InstancePaid, InstanceCancelled, InstanceExpected},
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to InstanceStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// RecurringInstance is one expected or realized occurrence of a template for a calendar month.
type RecurringInstance struct {
	ExpectedDueDate   time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ExpectedAmount    *decimal.Decimal
	FinalDueDate      *time.Time
	FinalAmount       *decimal.Decimal
	MatchedAt         *time.Time
	ID                string
	TemplateID        string
	PeriodKey         string
	MatchedDocumentID string
	InvoiceNumber     string
	Status            InstanceStatus
	SideEffects       []ExternalHandle
	Version           int
}

// EffectiveDueDate is the final due date if known, else the expected one.
func (i *RecurringInstance) EffectiveDueDate() time.Time {
	if i.FinalDueDate != nil {
		return *i.FinalDueDate
	}
	return i.ExpectedDueDate
}

// EffectiveAmount is the final amount if known, else the expected one.
func (i *RecurringInstance) EffectiveAmount() *decimal.Decimal {
	if i.FinalAmount != nil {
		return i.FinalAmount
	}
	return i.ExpectedAmount
}

func (i *RecurringInstance) transition(to InstanceStatus) error {
	if !CanTransition(i.Status, to) {
		return fmt.Errorf("%w: instance %s (%s) cannot move from %s to %s",
			common.ErrInvalidState, i.ID, i.PeriodKey, i.Status, to)
	}
	i.Status = to
	return nil
}

// MatchDocument links a document to an expected instance and records its final values.
func (i *RecurringInstance) MatchDocument(documentID string, dueDate time.Time, amount decimal.Decimal, invoiceNumber string, at time.Time) error {
	if documentID == "" {
		return fmt.Errorf("%w: cannot match instance %s to an empty document ID", common.ErrInvalidState, i.ID)
	}
	if i.Status != InstanceExpected {
		return fmt.Errorf("%w: instance %s is %s, only expected instances can be matched",
			common.ErrInvalidState, i.ID, i.Status)
	}
	if err := i.transition(InstanceMatched); err != nil {
		return err
	}
	due := DateOnly(dueDate)
	amt := amount
	matchedAt := at
	i.MatchedDocumentID = documentID
	i.FinalDueDate = &due
	i.FinalAmount = &amt
	i.InvoiceNumber = invoiceNumber
	i.MatchedAt = &matchedAt
	return nil
}

// UnlinkDocument reverts a matched instance to expected and clears every matched field.
func (i *RecurringInstance) UnlinkDocument() error {
	if i.Status != InstanceMatched {
		return fmt.Errorf("%w: instance %s is %s, only matched instances can be unlinked",
			common.ErrInvalidState, i.ID, i.Status)
	}
	if err := i.transition(InstanceExpected); err != nil {
		return err
	}
	i.clearMatch()
	return nil
}

// MarkPaid moves an expected or matched instance to paid and returns the handles
// whose external side effects must be cancelled.
func (i *RecurringInstance) MarkPaid() ([]ExternalHandle, error) {
	if err := i.transition(InstancePaid); err != nil {
		return nil, err
	}
	return i.takeSideEffects(), nil
}

// MarkMissed moves an expected instance to missed.
func (i *RecurringInstance) MarkMissed() error {
	if i.Status != InstanceExpected {
		return fmt.Errorf("%w: instance %s is %s, only expected instances can be missed",
			common.ErrInvalidState, i.ID, i.Status)
	}
	return i.transition(InstanceMissed)
}

// Cancel soft-deletes a non-terminal instance. It returns the document ID that was linked,
// if any, and the handles whose side effects must be cancelled.
func (i *RecurringInstance) Cancel() (string, []ExternalHandle, error) {
	if err := i.transition(InstanceCancelled); err != nil {
		return "", nil, err
	}
	documentID := i.MatchedDocumentID
	i.clearMatch()
	return documentID, i.takeSideEffects(), nil
}

// IsOverdue reports whether an expected instance is past its due date plus tolerance.
func (i *RecurringInstance) IsOverdue(now time.Time, toleranceDays int) bool {
	if i.Status != InstanceExpected {
		return false
	}
	cutoff := DateOnly(now).AddDate(0, 0, -toleranceDays)
	return DateOnly(i.EffectiveDueDate()).Before(cutoff)
}

func (i *RecurringInstance) clearMatch() {
	i.MatchedDocumentID = ""
	i.FinalDueDate = nil
	i.FinalAmount = nil
	i.InvoiceNumber = ""
	i.MatchedAt = nil
}

func (i *RecurringInstance) takeSideEffects() []ExternalHandle {
	handles := i.SideEffects
	i.SideEffects = nil
	return handles
}
