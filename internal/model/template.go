package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidTemplate is returned when a template fails validation.
var ErrInvalidTemplate = errors.New("invalid template")

// TemplateSource indicates how a recurring template was created.
type TemplateSource string

const (
	// TemplateSourceManual indicates the user entered the template directly.
	TemplateSourceManual TemplateSource = "manual"
	// TemplateSourceAutoDetection indicates the template came from an accepted candidate.
	TemplateSourceAutoDetection TemplateSource = "auto_detection"
)

// RecurringTemplate defines a recurring obligation for one vendor.
type RecurringTemplate struct {
	CreatedAt             time.Time
	UpdatedAt             time.Time
	AmountMin             decimal.Decimal
	AmountMax             decimal.Decimal
	ID                    string
	VendorFingerprint     string
	VendorOnlyFingerprint string
	VendorDisplayName     string
	VendorShortName       string
	Currency              string
	Source                TemplateSource
	DueDayOfMonth         int
	ToleranceDays         int
	MatchedDocumentCount  int
	PaidInstanceCount     int
	MissedInstanceCount   int
	Version               int
	HasAmount             bool
	IsActive              bool
}

// Validate checks the template's invariants.
func (t *RecurringTemplate) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTemplate)
	}
	if strings.TrimSpace(t.VendorFingerprint) == "" {
		return fmt.Errorf("%w: missing vendor fingerprint", ErrInvalidTemplate)
	}
	if t.DueDayOfMonth < 1 || t.DueDayOfMonth > 31 {
		return fmt.Errorf("%w: due day %d must be between 1 and 31", ErrInvalidTemplate, t.DueDayOfMonth)
	}
	if t.ToleranceDays < 0 {
		return fmt.Errorf("%w: tolerance days cannot be negative", ErrInvalidTemplate)
	}
	if t.HasAmount && t.AmountMin.GreaterThan(t.AmountMax) {
		return fmt.Errorf("%w: amount min %s exceeds amount max %s", ErrInvalidTemplate, t.AmountMin, t.AmountMax)
	}
	switch t.Source {
	case TemplateSourceManual, TemplateSourceAutoDetection:
	default:
		return fmt.Errorf("%w: unknown source %q", ErrInvalidTemplate, t.Source)
	}
	return nil
}

// TypicalAmount is the midpoint of the learned amount range.
func (t *RecurringTemplate) TypicalAmount() (decimal.Decimal, bool) {
	if !t.HasAmount {
		return decimal.Zero, false
	}
	return t.AmountMin.Add(t.AmountMax).Div(decimal.NewFromInt(2)), true
}

// AmountInRange reports whether amount lies inside the learned range.
func (t *RecurringTemplate) AmountInRange(amount decimal.Decimal) bool {
	if !t.HasAmount {
		return true
	}
	return amount.GreaterThanOrEqual(t.AmountMin) && amount.LessThanOrEqual(t.AmountMax)
}

// AmountDeviation returns |amount - typical| / typical. It is zero when no range is learned.
func (t *RecurringTemplate) AmountDeviation(amount decimal.Decimal) float64 {
	typical, ok := t.TypicalAmount()
	if !ok || typical.IsZero() {
		return 0
	}
	return amount.Sub(typical).Abs().Div(typical.Abs()).InexactFloat64()
}

// LearnAmount widens the amount range to include amount. It never narrows it.
func (t *RecurringTemplate) LearnAmount(amount decimal.Decimal) {
	if !t.HasAmount {
		t.AmountMin = amount
		t.AmountMax = amount
		t.HasAmount = true
		return
	}
	if amount.LessThan(t.AmountMin) {
		t.AmountMin = amount
	}
	if amount.GreaterThan(t.AmountMax) {
		t.AmountMax = amount
	}
}

// ExpectedDueDate returns the due date the template expects inside the month of monthStart.
func (t *RecurringTemplate) ExpectedDueDate(monthStart time.Time) time.Time {
	return DueDateInMonth(monthStart, t.DueDayOfMonth)
}

// RecomputeCounters derives the display counters from the template's instances.
func (t *RecurringTemplate) RecomputeCounters(instances []RecurringInstance) {
	var matched, paid, missed int
	for i := range instances {
		inst := &instances[i]
		if inst.TemplateID != t.ID {
			continue
		}
		if inst.MatchedDocumentID != "" {
			matched++
		}
		switch inst.Status {
		case InstancePaid:
			paid++
		case InstanceMissed:
			missed++
		}
	}
	t.MatchedDocumentCount = matched
	t.PaidInstanceCount = paid
	t.MissedInstanceCount = missed
}
