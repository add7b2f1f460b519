package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// DocumentStatus tracks where a scanned document is in its payment lifecycle.
type DocumentStatus string

// Document status constants.
const (
	DocumentPending   DocumentStatus = "pending"
	DocumentPaid      DocumentStatus = "paid"
	DocumentCancelled DocumentStatus = "cancelled"
)

// DocumentSource indicates how a document entered the system.
type DocumentSource string

// Document source constants.
const (
	DocumentSourceManual   DocumentSource = "manual"
	DocumentSourceManifest DocumentSource = "manifest"
	DocumentSourceOFX      DocumentSource = "ofx"
)

// Document is a pre-parsed invoice or bill. The recurring engine only ever writes
// the vendor fingerprint, the two recurring links and the status.
type Document struct {
	DueDate             time.Time
	CreatedAt           time.Time
	Amount              decimal.Decimal
	ID                  string
	Title               string
	Currency            string
	VendorName          string
	VendorTaxID         string
	BankAccount         string
	InvoiceNumber       string
	VendorFingerprint   string
	RecurringTemplateID string
	RecurringInstanceID string
	Category            DocumentCategory
	Status              DocumentStatus
	Source              DocumentSource
}

// IsLinked reports whether the document is attached to a recurring instance.
func (d *Document) IsLinked() bool {
	return d.RecurringInstanceID != ""
}

// Unlink clears both recurring links.
func (d *Document) Unlink() {
	d.RecurringTemplateID = ""
	d.RecurringInstanceID = ""
}

// LinkTo attaches the document to an instance of a template.
func (d *Document) LinkTo(templateID, instanceID string) {
	d.RecurringTemplateID = templateID
	d.RecurringInstanceID = instanceID
}
