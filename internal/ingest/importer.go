package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/Veraticus/the-dues-must-flow/internal/common"
	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/Veraticus/the-dues-must-flow/internal/recurring"
)

// Ingester saves a document and tries to match it to a recurring instance.
type Ingester interface {
	IngestDocument(ctx context.Context, doc *model.Document) (recurring.MatchOutcome, error)
}

// DocumentLookup finds already imported documents.
type DocumentLookup interface {
	GetDocument(ctx context.Context, id string) (*model.Document, error)
}

// PendingFuzzy is a document waiting for the user's fuzzy match decision.
type PendingFuzzy struct {
	Document   model.Document
	Candidates []model.FuzzyMatchCandidate
}

// Result summarizes an import.
type Result struct {
	Failed   map[string]error
	Fuzzy    []PendingFuzzy
	Matched  int
	Unlinked int
	Skipped  int
}

// Importer feeds documents from any source through the engine.
type Importer struct {
	ingester Ingester
	lookup   DocumentLookup
}

// NewImporter creates an importer.
func NewImporter(ingester Ingester, lookup DocumentLookup) *Importer {
	return &Importer{ingester: ingester, lookup: lookup}
}

// Import ingests docs one by one. Documents whose ID is already stored are
// skipped, so importing the same statement twice is harmless. A failing document
// is recorded and the rest continue. progress, if set, is called after each one.
func (i *Importer) Import(ctx context.Context, docs []model.Document, progress func()) (Result, error) {
	result := Result{Failed: make(map[string]error)}

	for idx := range docs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		doc := docs[idx]
		i.importOne(ctx, &doc, &result)
		if progress != nil {
			progress()
		}
	}

	slog.Info("Import finished",
		"documents", len(docs),
		"matched", result.Matched,
		"fuzzy", len(result.Fuzzy),
		"unlinked", result.Unlinked,
		"skipped", result.Skipped,
		"failed", len(result.Failed))
	return result, nil
}

func (i *Importer) importOne(ctx context.Context, doc *model.Document, result *Result) {
	if doc.ID != "" {
		_, err := i.lookup.GetDocument(ctx, doc.ID)
		switch {
		case err == nil:
			result.Skipped++
			return
		case !errors.Is(err, common.ErrNotFound):
			result.Failed[doc.ID] = err
			return
		}
	}

	outcome, err := i.ingester.IngestDocument(ctx, doc)
	if err != nil {
		key := doc.ID
		if key == "" {
			key = fmt.Sprintf("%s %s", doc.VendorName, doc.DueDate.Format("2006-01-02"))
		}
		result.Failed[key] = err
		return
	}

	switch outcome.Kind {
	case recurring.MatchMatched:
		result.Matched++
	case recurring.MatchFuzzy:
		result.Fuzzy = append(result.Fuzzy, PendingFuzzy{Document: *doc, Candidates: outcome.FuzzyCandidates})
	default:
		result.Unlinked++
	}
}

// LoadFile reads documents from a manifest (.yaml, .yml, .json) or a bank
// statement (.ofx, .qfx).
func LoadFile(ctx context.Context, path string) ([]model.Document, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return LoadManifest(path)
	case ".ofx", ".qfx":
		f, err := os.Open(path) //nolint:gosec // path comes from the user
		if err != nil {
			return nil, fmt.Errorf("failed to open statement: %w", err)
		}
		defer func() { _ = f.Close() }()
		return NewOFXParser().Parse(ctx, f)
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
}
