package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Veraticus/the-dues-must-flow/internal/common"
	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/Veraticus/the-dues-must-flow/internal/recurring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockIngester struct {
	mock.Mock
}

func (m *mockIngester) IngestDocument(ctx context.Context, doc *model.Document) (recurring.MatchOutcome, error) {
	args := m.Called(ctx, doc)
	return args.Get(0).(recurring.MatchOutcome), args.Error(1)
}

func vendor(name string) any {
	return mock.MatchedBy(func(doc *model.Document) bool { return doc.VendorName == name })
}

func assignID(args mock.Arguments) {
	doc := args.Get(1).(*model.Document)
	if doc.ID == "" {
		doc.ID = "generated-" + doc.VendorName
	}
}

type fakeLookup map[string]bool

func (f fakeLookup) GetDocument(_ context.Context, id string) (*model.Document, error) {
	if f[id] {
		return &model.Document{ID: id}, nil
	}
	return nil, common.ErrNotFound
}

func TestImporter_Import(t *testing.T) {
	fuzzy := []model.FuzzyMatchCandidate{{TemplateID: "tpl-2", VendorDisplayName: "Orange"}}

	ingester := &mockIngester{}
	ingester.On("IngestDocument", mock.Anything, vendor("PGE")).
		Return(recurring.MatchOutcome{Kind: recurring.MatchMatched, TemplateID: "tpl-1", InstanceID: "inst-1"}, nil).Once()
	ingester.On("IngestDocument", mock.Anything, vendor("Orange")).
		Run(assignID).
		Return(recurring.MatchOutcome{Kind: recurring.MatchFuzzy, FuzzyCandidates: fuzzy}, nil).Once()
	ingester.On("IngestDocument", mock.Anything, vendor("Lidl")).
		Return(recurring.MatchOutcome{Kind: recurring.MatchUnlinked}, nil).Once()
	ingester.On("IngestDocument", mock.Anything, vendor("Broken")).
		Return(recurring.MatchOutcome{}, errors.New("disk full")).Once()

	importer := NewImporter(ingester, fakeLookup{"seen": true})

	docs := []model.Document{
		{ID: "pge-1", VendorName: "PGE"},
		{VendorName: "Orange"},
		{ID: "seen", VendorName: "PGE"},
		{VendorName: "Lidl"},
		{ID: "broken-1", VendorName: "Broken"},
	}

	var calls int
	result, err := importer.Import(context.Background(), docs, func() { calls++ })
	require.NoError(t, err)

	assert.Equal(t, 5, calls)
	assert.Equal(t, 1, result.Matched)
	assert.Equal(t, 1, result.Unlinked)
	assert.Equal(t, 1, result.Skipped)
	require.Len(t, result.Fuzzy, 1)
	assert.Equal(t, "generated-Orange", result.Fuzzy[0].Document.ID)
	assert.Equal(t, "tpl-2", result.Fuzzy[0].Candidates[0].TemplateID)
	assert.Contains(t, result.Failed, "broken-1")
	ingester.AssertExpectations(t)
}

func TestImporter_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ingester := &mockIngester{}
	_, err := NewImporter(ingester, fakeLookup{}).Import(ctx, []model.Document{{VendorName: "PGE"}}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	ingester.AssertNotCalled(t, "IngestDocument", mock.Anything, mock.Anything)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
		return path
	}

	docs, err := LoadFile(context.Background(), write("bills.yml", sampleManifest))
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	docs, err = LoadFile(context.Background(), write("statement.QFX", sampleCreditCardOFX))
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	_, err = LoadFile(context.Background(), write("notes.txt", "hello"))
	assert.Error(t, err)
}
