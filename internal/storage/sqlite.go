package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/common"
	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/Veraticus/the-dues-must-flow/internal/service"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// SQLiteStorage implements the Storage interface using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if err := validateString(dbPath, "dbPath"); err != nil {
		return nil, err
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection serializes writers and keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &SQLiteStorage{
		db:     db,
		dbPath: dbPath,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new database transaction.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	return &sqliteTransaction{
		tx:      tx,
		storage: s,
	}, nil
}

// sqliteTransaction wraps sql.Tx to implement service.Transaction.
type sqliteTransaction struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTransaction) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTransaction) Rollback() error {
	return t.tx.Rollback()
}

// Transaction methods delegate to the main storage with the transaction.
func (t *sqliteTransaction) GetDocuments(ctx context.Context) ([]model.Document, error) {
	return t.storage.getDocumentsTx(ctx, t.tx, "", nil)
}

func (t *sqliteTransaction) GetDocumentsByVendorFingerprint(ctx context.Context, fingerprint string) ([]model.Document, error) {
	if err := validateString(fingerprint, "fingerprint"); err != nil {
		return nil, err
	}
	return t.storage.getDocumentsTx(ctx, t.tx, "WHERE vendor_fingerprint = ?", []any{fingerprint})
}

func (t *sqliteTransaction) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getDocumentTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) SaveDocument(ctx context.Context, doc *model.Document) error {
	if err := validateDocument(doc); err != nil {
		return err
	}
	return t.storage.saveDocumentTx(ctx, t.tx, doc)
}

func (t *sqliteTransaction) DeleteDocument(ctx context.Context, id string) error {
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return t.storage.deleteByIDTx(ctx, t.tx, "documents", id)
}

func (t *sqliteTransaction) DeleteUnlinkedDocument(ctx context.Context, id string) error {
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return t.storage.deleteUnlinkedDocumentTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetTemplates(ctx context.Context) ([]model.RecurringTemplate, error) {
	return t.storage.getTemplatesTx(ctx, t.tx, "", nil)
}

func (t *sqliteTransaction) GetActiveTemplates(ctx context.Context) ([]model.RecurringTemplate, error) {
	return t.storage.getTemplatesTx(ctx, t.tx, "WHERE is_active = 1", nil)
}

func (t *sqliteTransaction) GetTemplateByFingerprint(ctx context.Context, fingerprint string) (*model.RecurringTemplate, error) {
	if err := validateString(fingerprint, "fingerprint"); err != nil {
		return nil, err
	}
	return t.storage.getTemplateByFingerprintTx(ctx, t.tx, fingerprint)
}

func (t *sqliteTransaction) GetTemplatesByVendorOnlyFingerprint(ctx context.Context, fingerprint string) ([]model.RecurringTemplate, error) {
	if err := validateString(fingerprint, "fingerprint"); err != nil {
		return nil, err
	}
	return t.storage.getTemplatesTx(ctx, t.tx, "WHERE vendor_only_fingerprint = ?", []any{fingerprint})
}

func (t *sqliteTransaction) GetTemplate(ctx context.Context, id string) (*model.RecurringTemplate, error) {
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getTemplateTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) SaveTemplate(ctx context.Context, template *model.RecurringTemplate) error {
	if err := validateTemplate(template); err != nil {
		return err
	}
	return t.storage.saveTemplateTx(ctx, t.tx, template)
}

func (t *sqliteTransaction) DeleteTemplate(ctx context.Context, id string) error {
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return t.storage.deleteByIDTx(ctx, t.tx, "recurring_templates", id)
}

func (t *sqliteTransaction) GetInstancesByTemplate(ctx context.Context, templateID string) ([]model.RecurringInstance, error) {
	if err := validateString(templateID, "templateID"); err != nil {
		return nil, err
	}
	return t.storage.getInstancesTx(ctx, t.tx, "WHERE template_id = ? ORDER BY period_key", []any{templateID})
}

func (t *sqliteTransaction) GetInstance(ctx context.Context, id string) (*model.RecurringInstance, error) {
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return t.storage.getInstanceTx(ctx, t.tx, id)
}

func (t *sqliteTransaction) GetInstancesByStatus(ctx context.Context, status model.InstanceStatus) ([]model.RecurringInstance, error) {
	if err := validateStatus(status); err != nil {
		return nil, err
	}
	return t.storage.getInstancesTx(ctx, t.tx, "WHERE status = ? ORDER BY expected_due_date", []any{string(status)})
}

func (t *sqliteTransaction) GetUpcomingInstances(ctx context.Context, from time.Time, limit int) ([]model.RecurringInstance, error) {
	return t.storage.getUpcomingInstancesTx(ctx, t.tx, from, limit)
}

func (t *sqliteTransaction) SaveInstance(ctx context.Context, instance *model.RecurringInstance) error {
	if err := validateInstance(instance); err != nil {
		return err
	}
	return t.storage.saveInstanceTx(ctx, t.tx, instance)
}

func (t *sqliteTransaction) TransitionInstanceStatus(ctx context.Context, id string, from, to model.InstanceStatus) (bool, error) {
	if err := validateTransition(id, from, to); err != nil {
		return false, err
	}
	return t.storage.transitionInstanceStatusTx(ctx, t.tx, id, from, to)
}

func (t *sqliteTransaction) DeleteInstance(ctx context.Context, id string) error {
	if err := validateString(id, "id"); err != nil {
		return err
	}
	return t.storage.deleteByIDTx(ctx, t.tx, "recurring_instances", id)
}

func (t *sqliteTransaction) GetSuppressions(ctx context.Context) ([]model.Suppression, error) {
	return t.storage.getSuppressionsTx(ctx, t.tx)
}

func (t *sqliteTransaction) SaveSuppression(ctx context.Context, suppression *model.Suppression) error {
	if err := validateSuppression(suppression); err != nil {
		return err
	}
	return t.storage.saveSuppressionTx(ctx, t.tx, suppression)
}

func (t *sqliteTransaction) DeleteSuppression(ctx context.Context, fingerprint string) error {
	if err := validateString(fingerprint, "fingerprint"); err != nil {
		return err
	}
	return t.storage.deleteSuppressionTx(ctx, t.tx, fingerprint)
}

// deleteByIDTx removes one row by primary key from a fixed table name.
func (s *SQLiteStorage) deleteByIDTx(ctx context.Context, q queryable, table, id string) error {
	result, err := q.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	if err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s %s: %w", table, id, common.ErrNotFound)
	}
	return nil
}

// queryable is an interface satisfied by both *sql.DB and *sql.Tx.
type queryable interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// isUniqueViolation reports whether err came from a UNIQUE constraint.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// utc normalizes a time before it is written so string comparisons in SQL stay ordered.
func utc(t time.Time) time.Time {
	return t.UTC()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}
