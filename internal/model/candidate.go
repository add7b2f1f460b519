package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RecurringCandidate is an unaccepted suggestion that a vendor's documents form a recurring bill.
type RecurringCandidate struct {
	LastDueDate           time.Time
	AverageAmount         *decimal.Decimal
	AmountMin             *decimal.Decimal
	AmountMax             *decimal.Decimal
	DominantDueDayOfMonth *int
	VendorFingerprint     string
	VendorOnlyFingerprint string
	VendorDisplayName     string
	Currency              string
	DocumentCategory      DocumentCategory
	DocumentIDs           []string
	DocumentCount         int
	ConfidenceScore       float64
	HasStableIBAN         bool
	VariableSpend         bool
}

// FuzzyMatchCandidate asks the user whether a document with an unusual amount
// belongs to an existing recurring template.
type FuzzyMatchCandidate struct {
	ExistingTypicalAmount decimal.Decimal
	TemplateID            string
	VendorDisplayName     string
	PercentDifference     float64
	DueDayOfMonth         int
	MatchedCount          int
}

// SuppressionKind tells whether a candidate was dismissed for good or snoozed.
type SuppressionKind string

// Suppression kinds.
const (
	SuppressionDismissed SuppressionKind = "dismissed"
	SuppressionSnoozed   SuppressionKind = "snoozed"
)

// Suppression hides candidates for a vendor fingerprint, permanently or until a date.
type Suppression struct {
	CreatedAt         time.Time
	Until             *time.Time
	VendorFingerprint string
	Kind              SuppressionKind
}

// ActiveAt reports whether the suppression still hides the candidate at now.
func (s *Suppression) ActiveAt(now time.Time) bool {
	return s.Until == nil || now.Before(*s.Until)
}
