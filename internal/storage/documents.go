package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/common"
	"github.com/Veraticus/the-dues-must-flow/internal/model"
)

const documentColumns = `id, title, amount, currency, due_date, vendor_name, vendor_tax_id,
	bank_account, invoice_number, vendor_fingerprint, recurring_template_id,
	recurring_instance_id, category, status, source, created_at`

// GetDocuments retrieves every document, oldest due date first.
func (s *SQLiteStorage) GetDocuments(ctx context.Context) ([]model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	return s.getDocumentsTx(ctx, s.db, "", nil)
}

// GetDocumentsByVendorFingerprint retrieves the documents of one vendor.
func (s *SQLiteStorage) GetDocumentsByVendorFingerprint(ctx context.Context, fingerprint string) ([]model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(fingerprint, "fingerprint"); err != nil {
		return nil, err
	}
	return s.getDocumentsTx(ctx, s.db, "WHERE vendor_fingerprint = ?", []any{fingerprint})
}

func (s *SQLiteStorage) getDocumentsTx(ctx context.Context, q queryable, where string, args []any) ([]model.Document, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+documentColumns+` FROM documents `+where+` ORDER BY due_date, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []model.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}

	return docs, rows.Err()
}

// GetDocument retrieves a document by ID.
func (s *SQLiteStorage) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getDocumentTx(ctx, s.db, id)
}

func (s *SQLiteStorage) getDocumentTx(ctx context.Context, q queryable, id string) (*model.Document, error) {
	row := q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, common.ErrNotFound)
	}
	return doc, err
}

// SaveDocument inserts or updates a document.
func (s *SQLiteStorage) SaveDocument(ctx context.Context, doc *model.Document) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateDocument(doc); err != nil {
		return err
	}
	return s.saveDocumentTx(ctx, s.db, doc)
}

func (s *SQLiteStorage) saveDocumentTx(ctx context.Context, q queryable, doc *model.Document) error {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now()
	}
	if doc.Status == "" {
		doc.Status = model.DocumentPending
	}
	if doc.Source == "" {
		doc.Source = model.DocumentSourceManual
	}
	if doc.Category == "" {
		doc.Category = model.CategoryOther
	}

	_, err := q.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			amount = excluded.amount,
			currency = excluded.currency,
			due_date = excluded.due_date,
			vendor_name = excluded.vendor_name,
			vendor_tax_id = excluded.vendor_tax_id,
			bank_account = excluded.bank_account,
			invoice_number = excluded.invoice_number,
			vendor_fingerprint = excluded.vendor_fingerprint,
			recurring_template_id = excluded.recurring_template_id,
			recurring_instance_id = excluded.recurring_instance_id,
			category = excluded.category,
			status = excluded.status,
			source = excluded.source
	`,
		doc.ID, doc.Title, doc.Amount, doc.Currency, utc(doc.DueDate),
		doc.VendorName, doc.VendorTaxID, doc.BankAccount, doc.InvoiceNumber,
		doc.VendorFingerprint, doc.RecurringTemplateID, doc.RecurringInstanceID,
		string(doc.Category), string(doc.Status), string(doc.Source), utc(doc.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}
	return nil
}

// DeleteDocument hard-deletes a document.
func (s *SQLiteStorage) DeleteDocument(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return s.deleteByIDTx(ctx, s.db, "documents", id)
}

// DeleteUnlinkedDocument hard-deletes a document that no instance references.
func (s *SQLiteStorage) DeleteUnlinkedDocument(ctx context.Context, id string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return s.deleteUnlinkedDocumentTx(ctx, s.db, id)
}

func (s *SQLiteStorage) deleteUnlinkedDocumentTx(ctx context.Context, q queryable, id string) error {
	result, err := q.ExecContext(ctx,
		`DELETE FROM documents WHERE id = ? AND recurring_instance_id = '' AND recurring_template_id = ''`, id)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}

	if _, err := s.getDocumentTx(ctx, q, id); err != nil {
		return err
	}
	return fmt.Errorf("document %s was linked before it could be deleted: %w", id, common.ErrConcurrentModification)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*model.Document, error) {
	var (
		doc                      model.Document
		category, status, source string
	)
	err := row.Scan(
		&doc.ID,
		&doc.Title,
		&doc.Amount,
		&doc.Currency,
		&doc.DueDate,
		&doc.VendorName,
		&doc.VendorTaxID,
		&doc.BankAccount,
		&doc.InvoiceNumber,
		&doc.VendorFingerprint,
		&doc.RecurringTemplateID,
		&doc.RecurringInstanceID,
		&category,
		&status,
		&source,
		&doc.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan document: %w", err)
	}

	doc.DueDate = doc.DueDate.UTC()
	doc.Category = model.DocumentCategory(category)
	doc.Status = model.DocumentStatus(status)
	doc.Source = model.DocumentSource(source)
	return &doc, nil
}
