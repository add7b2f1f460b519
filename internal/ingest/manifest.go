// Package ingest turns external document sources into documents for the
// recurring engine: YAML or JSON manifests written by hand or by a scanner, and
// OFX/QFX bank statements.
package ingest

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ErrInvalidManifest is returned when a manifest entry cannot become a document.
var ErrInvalidManifest = errors.New("invalid manifest")

// Manifest is a list of already parsed invoices. JSON manifests use the same keys.
type Manifest struct {
	Currency  string          `yaml:"currency"`
	Documents []ManifestEntry `yaml:"documents"`
}

// ManifestEntry is one invoice in a manifest.
type ManifestEntry struct {
	ID          string `yaml:"id"`
	Title       string `yaml:"title"`
	Vendor      string `yaml:"vendor"`
	TaxID       string `yaml:"tax_id"`
	BankAccount string `yaml:"bank_account"`
	Invoice     string `yaml:"invoice"`
	Amount      string `yaml:"amount"`
	Currency    string `yaml:"currency"`
	Due         string `yaml:"due"`
	Category    string `yaml:"category"`
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) ([]model.Document, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the user
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer func() { _ = f.Close() }()

	return ParseManifest(f)
}

// ParseManifest decodes a manifest and converts every entry. The first invalid
// entry fails the whole manifest.
func ParseManifest(r io.Reader) ([]model.Document, error) {
	var manifest Manifest
	if err := yaml.NewDecoder(r).Decode(&manifest); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}

	docs := make([]model.Document, 0, len(manifest.Documents))
	for i, entry := range manifest.Documents {
		doc, err := entry.document(manifest.Currency)
		if err != nil {
			return nil, fmt.Errorf("document %d: %w", i+1, err)
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func (e ManifestEntry) document(defaultCurrency string) (model.Document, error) {
	if strings.TrimSpace(e.Vendor) == "" {
		return model.Document{}, fmt.Errorf("%w: vendor is required", ErrInvalidManifest)
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(e.Amount))
	if err != nil {
		return model.Document{}, fmt.Errorf("%w: amount %q: %w", ErrInvalidManifest, e.Amount, err)
	}
	if amount.IsNegative() {
		return model.Document{}, fmt.Errorf("%w: amount %s is negative", ErrInvalidManifest, amount)
	}

	due, err := time.ParseInLocation(time.DateOnly, strings.TrimSpace(e.Due), time.UTC)
	if err != nil {
		return model.Document{}, fmt.Errorf("%w: due date %q: %w", ErrInvalidManifest, e.Due, err)
	}

	currency := e.Currency
	if currency == "" {
		currency = defaultCurrency
	}
	if currency == "" {
		return model.Document{}, fmt.Errorf("%w: currency is required", ErrInvalidManifest)
	}

	title := e.Title
	if title == "" {
		title = e.Vendor
	}

	return model.Document{
		ID:            e.ID,
		Title:         title,
		VendorName:    strings.TrimSpace(e.Vendor),
		VendorTaxID:   e.TaxID,
		BankAccount:   e.BankAccount,
		InvoiceNumber: e.Invoice,
		Amount:        amount,
		Currency:      strings.ToUpper(currency),
		DueDate:       due,
		Category:      model.ParseDocumentCategory(e.Category),
		Source:        model.DocumentSourceManifest,
	}, nil
}
