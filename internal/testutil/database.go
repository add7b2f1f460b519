// Package testutil provides shared test fixtures: a migrated in-memory database
// and builders for series of bills.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/Veraticus/the-dues-must-flow/internal/storage"
	"github.com/google/uuid"
)

// SetupTestDB creates a migrated in-memory database that is closed when the test ends.
func SetupTestDB(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return store
}

// DocumentSaver is the part of the storage SeedDocuments needs.
type DocumentSaver interface {
	SaveDocument(ctx context.Context, doc *model.Document) error
}

// SeedDocuments saves docs without matching them, giving each a fresh ID if it
// has none, and returns them.
func SeedDocuments(t *testing.T, store DocumentSaver, docs []model.Document) []model.Document {
	t.Helper()

	for i := range docs {
		if docs[i].ID == "" {
			docs[i].ID = uuid.NewString()
		}
		if err := store.SaveDocument(context.Background(), &docs[i]); err != nil {
			t.Fatalf("failed to seed document %d (%s): %v", i, docs[i].VendorName, err)
		}
	}
	return docs
}
