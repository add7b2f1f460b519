package recurring

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/common"
	"github.com/Veraticus/the-dues-must-flow/internal/fingerprint"
	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/Veraticus/the-dues-must-flow/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMatchDocument_Tolerance(t *testing.T) {
	tests := []struct {
		name string
		due  time.Time
		want MatchKind
	}{
		{name: "on the due date", due: day(2025, time.January, 10), want: MatchMatched},
		{name: "exactly tolerance days late", due: day(2025, time.January, 13), want: MatchMatched},
		{name: "exactly tolerance days early", due: day(2025, time.January, 7), want: MatchMatched},
		{name: "one day beyond tolerance", due: day(2025, time.January, 14), want: MatchUnlinked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, day(2025, time.January, 1))
			template := e.createTemplate(t, pgeTemplate(10, "50", "55"))

			doc := pgeDocument(tt.due, "52")
			outcome := e.ingest(t, doc)
			assert.Equal(t, tt.want, outcome.Kind)

			stored := e.document(t, doc.ID)
			if tt.want == MatchMatched {
				assert.Equal(t, template.ID, stored.RecurringTemplateID)
				jan := e.byPeriod(t, template.ID)["2025-01"]
				assert.Equal(t, model.InstanceMatched, jan.Status)
				assert.Equal(t, doc.ID, jan.MatchedDocumentID)
				require.NotNil(t, jan.FinalDueDate)
				assert.True(t, jan.FinalDueDate.Equal(tt.due))
			} else {
				assert.False(t, stored.IsLinked())
				assert.NotEmpty(t, outcome.Reason)
			}
		})
	}
}

func TestMatchDocument_AmountBands(t *testing.T) {
	tests := []struct {
		name   string
		amount string
		want   MatchKind
	}{
		{name: "inside the range", amount: "105", want: MatchMatched},
		{name: "slightly outside the range", amount: "120", want: MatchMatched},
		{name: "about half above typical", amount: "160", want: MatchFuzzy},
		{name: "far above typical", amount: "300", want: MatchUnlinked},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEngine(t, day(2025, time.January, 1))
			template := e.createTemplate(t, pgeTemplate(10, "100", "110"))

			doc := pgeDocument(day(2025, time.January, 10), tt.amount)
			outcome := e.ingest(t, doc)
			assert.Equal(t, tt.want, outcome.Kind)

			switch tt.want {
			case MatchFuzzy:
				require.Len(t, outcome.FuzzyCandidates, 1)
				candidate := outcome.FuzzyCandidates[0]
				assert.Equal(t, template.ID, candidate.TemplateID)
				assert.True(t, candidate.ExistingTypicalAmount.Equal(decimal.NewFromInt(105)))
				assert.InDelta(t, 52.38, candidate.PercentDifference, 0.01)
				assert.False(t, e.document(t, doc.ID).IsLinked())
			case MatchUnlinked:
				assert.Empty(t, outcome.FuzzyCandidates)
				assert.False(t, e.document(t, doc.ID).IsLinked())
			case MatchMatched:
				assert.Equal(t, template.ID, outcome.TemplateID)
			}
		})
	}
}

func TestMatchDocument_CurrencyMismatch(t *testing.T) {
	e := newTestEngine(t, day(2025, time.January, 1))
	e.createTemplate(t, pgeTemplate(10, "50", "55"))

	doc := pgeDocument(day(2025, time.January, 10), "52")
	doc.Currency = "EUR"
	outcome := e.ingest(t, doc)
	assert.Equal(t, MatchUnlinked, outcome.Kind)
}

func TestMatchDocument_LearnsAmount(t *testing.T) {
	e := newTestEngine(t, day(2025, time.January, 1))
	template := e.createTemplate(t, pgeTemplate(10, "50", "55"))

	outcome := e.ingest(t, pgeDocument(day(2025, time.January, 10), "58"))
	require.Equal(t, MatchMatched, outcome.Kind)

	stored := e.template(t, template.ID)
	assert.True(t, stored.AmountMin.Equal(decimal.NewFromInt(50)))
	assert.True(t, stored.AmountMax.Equal(decimal.NewFromInt(58)))
	assert.Equal(t, 1, stored.MatchedDocumentCount)
}

func TestMatchDocument_CreatesSlotForUncoveredMonth(t *testing.T) {
	e := newTestEngine(t, day(2025, time.January, 1))
	template := e.createTemplate(t, pgeTemplate(10, "50", "55"))

	// April is past the generated window.
	outcome := e.ingest(t, pgeDocument(day(2025, time.April, 11), "52"))
	require.Equal(t, MatchMatched, outcome.Kind)

	apr := e.byPeriod(t, template.ID)["2025-04"]
	assert.Equal(t, outcome.InstanceID, apr.ID)
	assert.Equal(t, model.InstanceMatched, apr.Status)
}

func TestMatchDocument_MissedIsTerminal(t *testing.T) {
	e := newTestEngine(t, day(2025, time.January, 1))
	ctx := context.Background()
	template := e.createTemplate(t, pgeTemplate(10, "50", "55"))

	e.clock.Set(day(2025, time.January, 20))
	changed, err := e.scheduler.MarkOverdueInstancesAsMissed(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, changed)

	outcome := e.ingest(t, pgeDocument(day(2025, time.January, 10), "52"))
	assert.Equal(t, MatchUnlinked, outcome.Kind)
	assert.Equal(t, model.InstanceMissed, e.byPeriod(t, template.ID)["2025-01"].Status)
}

func TestMatchDocument_SecondDocumentSameMonth(t *testing.T) {
	e := newTestEngine(t, day(2025, time.January, 1))
	e.createTemplate(t, pgeTemplate(10, "50", "55"))

	first := e.ingest(t, pgeDocument(day(2025, time.January, 10), "52"))
	require.Equal(t, MatchMatched, first.Kind)

	second := e.ingest(t, pgeDocument(day(2025, time.January, 11), "52"))
	assert.Equal(t, MatchUnlinked, second.Kind)
}

func TestMatchDocument_AlreadyLinked(t *testing.T) {
	e := newTestEngine(t, day(2025, time.January, 1))
	e.createTemplate(t, pgeTemplate(10, "50", "55"))

	doc := pgeDocument(day(2025, time.January, 10), "52")
	first := e.ingest(t, doc)
	require.Equal(t, MatchMatched, first.Kind)

	again, err := e.scheduler.MatchDocument(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestMatchDocument_NoFingerprint(t *testing.T) {
	e := newTestEngine(t, day(2025, time.January, 1))

	outcome := e.ingest(t, &model.Document{
		Title:    "Receipt",
		Amount:   decimal.NewFromInt(10),
		Currency: "PLN",
		DueDate:  day(2025, time.January, 10),
	})
	assert.Equal(t, MatchUnlinked, outcome.Kind)
}

func TestIngestDocument_Fingerprints(t *testing.T) {
	e := newTestEngine(t, day(2025, time.January, 1))

	doc := pgeDocument(time.Date(2025, time.January, 10, 15, 30, 0, 0, time.UTC), "52")
	doc.VendorName = "  pge   OBRÓT "
	e.ingest(t, doc)

	assert.NotEmpty(t, doc.ID)
	assert.Equal(t, fingerprint.Fingerprint(pgeName, pgeTaxID), doc.VendorFingerprint)
	assert.True(t, e.document(t, doc.ID).DueDate.Equal(day(2025, time.January, 10)))
}

func TestResolveFuzzyMatch_SameService(t *testing.T) {
	e := newTestEngine(t, day(2025, time.January, 1))
	ctx := context.Background()
	template := e.createTemplate(t, pgeTemplate(10, "100", "110"))

	doc := pgeDocument(day(2025, time.January, 10), "160")
	require.Equal(t, MatchFuzzy, e.ingest(t, doc).Kind)

	outcome, err := e.scheduler.ResolveFuzzyMatch(ctx, doc.ID, template.ID, true)
	require.NoError(t, err)
	assert.Equal(t, MatchMatched, outcome.Kind)
	assert.Equal(t, template.ID, outcome.TemplateID)

	stored := e.template(t, template.ID)
	assert.True(t, stored.AmountMax.Equal(decimal.NewFromInt(160)))
	assert.Equal(t, template.ID, e.document(t, doc.ID).RecurringTemplateID)
}

func TestResolveFuzzyMatch_NewService(t *testing.T) {
	e := newTestEngine(t, day(2025, time.January, 1))
	ctx := context.Background()
	base := e.createTemplate(t, pgeTemplate(10, "100", "110"))

	doc := pgeDocument(day(2025, time.January, 12), "160")
	require.Equal(t, MatchFuzzy, e.ingest(t, doc).Kind)

	outcome, err := e.scheduler.ResolveFuzzyMatch(ctx, doc.ID, base.ID, false)
	require.NoError(t, err)
	assert.Equal(t, MatchMatched, outcome.Kind)
	require.NotEqual(t, base.ID, outcome.TemplateID)

	split := e.template(t, outcome.TemplateID)
	assert.True(t, split.IsActive)
	assert.NotEqual(t, base.VendorFingerprint, split.VendorFingerprint)
	assert.Equal(t, base.VendorOnlyFingerprint, split.VendorOnlyFingerprint)
	assert.Equal(t, 12, split.DueDayOfMonth)
	assert.True(t, split.AmountMin.Equal(decimal.NewFromInt(160)))
	assert.Equal(t, 1, split.MatchedDocumentCount)

	// The base template is untouched.
	stored := e.template(t, base.ID)
	assert.True(t, stored.AmountMax.Equal(decimal.NewFromInt(110)))
	assert.Equal(t, model.InstanceExpected, e.byPeriod(t, base.ID)["2025-01"].Status)

	// Later documents of each service find their own template.
	next := e.ingest(t, pgeDocument(day(2025, time.February, 12), "161"))
	assert.Equal(t, split.ID, next.TemplateID)
	other := e.ingest(t, pgeDocument(day(2025, time.February, 10), "104"))
	assert.Equal(t, base.ID, other.TemplateID)
}

func TestResolveFuzzyMatch_NoSlot(t *testing.T) {
	e := newTestEngine(t, day(2025, time.January, 1))
	ctx := context.Background()
	template := e.createTemplate(t, pgeTemplate(10, "100", "110"))

	require.Equal(t, MatchMatched, e.ingest(t, pgeDocument(day(2025, time.January, 10), "105")).Kind)
	doc := pgeDocument(day(2025, time.January, 11), "160")
	e.ingest(t, doc)

	_, err := e.scheduler.ResolveFuzzyMatch(ctx, doc.ID, template.ID, true)
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

// staleRangeStorage hands out candidate templates with a wider amount range than
// the one stored, as if the range was narrowed right after they were read.
type staleRangeStorage struct {
	service.Storage
	amountMax decimal.Decimal
}

func (s *staleRangeStorage) GetTemplatesByVendorOnlyFingerprint(ctx context.Context, fp string) ([]model.RecurringTemplate, error) {
	templates, err := s.Storage.GetTemplatesByVendorOnlyFingerprint(ctx, fp)
	for i := range templates {
		templates[i].AmountMax = s.amountMax
	}
	return templates, err
}

func (s *staleRangeStorage) GetTemplateByFingerprint(ctx context.Context, fp string) (*model.RecurringTemplate, error) {
	template, err := s.Storage.GetTemplateByFingerprint(ctx, fp)
	if err != nil {
		return nil, err
	}
	template.AmountMax = s.amountMax
	return template, nil
}

func TestMatchDocument_RangeNarrowedBeforeLink(t *testing.T) {
	e := newTestEngine(t, day(2025, time.January, 1))
	template := e.createTemplate(t, pgeTemplate(10, "100", "110"))

	stale := &staleRangeStorage{Storage: e.store, amountMax: decimal.NewFromInt(200)}
	scheduler := NewScheduler(stale, nil, nil, testConfig(e.clock))

	doc := pgeDocument(day(2025, time.January, 10), "160")
	outcome, err := scheduler.IngestDocument(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, MatchFuzzy, outcome.Kind)
	require.Len(t, outcome.FuzzyCandidates, 1)
	assert.Equal(t, template.ID, outcome.FuzzyCandidates[0].TemplateID)

	assert.False(t, e.document(t, doc.ID).IsLinked())
	stored := e.template(t, template.ID)
	assert.True(t, stored.AmountMax.Equal(decimal.NewFromInt(110)))
	assert.Zero(t, stored.MatchedDocumentCount)
	assert.Equal(t, model.InstanceExpected, e.byPeriod(t, template.ID)["2025-01"].Status)
}

// docSaveFailingStorage fails every document save made inside a transaction.
type docSaveFailingStorage struct {
	service.Storage
}

func (f *docSaveFailingStorage) BeginTx(ctx context.Context) (service.Transaction, error) {
	tx, err := f.Storage.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return &docSaveFailingTx{Transaction: tx}, nil
}

type docSaveFailingTx struct {
	service.Transaction
}

func (t *docSaveFailingTx) SaveDocument(context.Context, *model.Document) error {
	return errInjected
}

func TestResolveFuzzyMatch_NewServiceLinkFails(t *testing.T) {
	e := newTestEngine(t, day(2025, time.January, 1))
	ctx := context.Background()
	base := e.createTemplate(t, pgeTemplate(10, "100", "110"))

	doc := pgeDocument(day(2025, time.January, 12), "160")
	require.Equal(t, MatchFuzzy, e.ingest(t, doc).Kind)

	scheduler := NewScheduler(&docSaveFailingStorage{Storage: e.store}, nil, nil, testConfig(e.clock))
	_, err := scheduler.ResolveFuzzyMatch(ctx, doc.ID, base.ID, false)
	require.ErrorIs(t, err, errInjected)

	templates, err := e.store.GetTemplatesByVendorOnlyFingerprint(ctx, base.VendorOnlyFingerprint)
	require.NoError(t, err)
	require.Len(t, templates, 1)
	assert.Equal(t, base.ID, templates[0].ID)
	assert.False(t, e.document(t, doc.ID).IsLinked())
	assert.Equal(t, model.InstanceExpected, e.byPeriod(t, base.ID)["2025-01"].Status)
}

func TestFindSlot(t *testing.T) {
	template := pgeTemplate(10, "", "")
	instances := []model.RecurringInstance{
		{ID: "jan", PeriodKey: "2025-01", ExpectedDueDate: day(2025, time.January, 10), Status: model.InstanceExpected},
		{ID: "feb", PeriodKey: "2025-02", ExpectedDueDate: day(2025, time.February, 10), Status: model.InstanceMatched},
		{ID: "mar", PeriodKey: "2025-03", ExpectedDueDate: day(2025, time.March, 10), Status: model.InstanceCancelled},
	}

	tests := []struct {
		name       string
		due        time.Time
		wantIndex  int
		wantCreate bool
	}{
		{name: "expected within tolerance", due: day(2025, time.January, 12), wantIndex: 0},
		{name: "period taken by a matched instance", due: day(2025, time.February, 10), wantIndex: -1},
		{name: "period only has a cancelled instance", due: day(2025, time.March, 10), wantIndex: -1, wantCreate: true},
		{name: "uncovered period", due: day(2025, time.May, 10), wantIndex: -1, wantCreate: true},
		{name: "outside tolerance of its period", due: day(2025, time.January, 25), wantIndex: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, create := findSlot(template, instances, tt.due)
			assert.Equal(t, tt.wantIndex, idx)
			assert.Equal(t, tt.wantCreate, create)
		})
	}
}

func TestClassifyAmount(t *testing.T) {
	s := NewScheduler(nil, nil, nil, DefaultConfig())
	template := pgeTemplate(10, "100", "110")

	tests := []struct {
		amount string
		want   amountBand
	}{
		{amount: "100", want: bandExact},
		{amount: "131.25", want: bandExact},
		{amount: "131.26", want: bandFuzzy},
		{amount: "167", want: bandFuzzy},
		{amount: "168", want: bandNone},
		{amount: "42", want: bandNone},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			doc := pgeDocument(day(2025, time.January, 10), tt.amount)
			band, _ := s.classifyAmount(template, doc)
			assert.Equal(t, tt.want, band)
		})
	}

	t.Run("no learned amount", func(t *testing.T) {
		band, _ := s.classifyAmount(pgeTemplate(10, "", ""), pgeDocument(day(2025, time.January, 10), "9999"))
		assert.Equal(t, bandExact, band)
	})
}
