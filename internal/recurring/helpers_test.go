package recurring

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/fingerprint"
	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/Veraticus/the-dues-must-flow/internal/service"
	"github.com/Veraticus/the-dues-must-flow/internal/storage"
	"github.com/Veraticus/the-dues-must-flow/internal/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const (
	pgeName  = "PGE Obrót"
	pgeTaxID = "5260250995"
)

type testClock struct {
	now time.Time
	mu  sync.Mutex
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

type testEngine struct {
	store        *storage.SQLiteStorage
	clock        *testClock
	scheduler    *Scheduler
	orchestrator *Orchestrator
	detector     *Detector
}

func newTestStorage(t *testing.T) *storage.SQLiteStorage {
	t.Helper()
	return testutil.SetupTestDB(t)
}

func testConfig(clock *testClock) Config {
	cfg := DefaultConfig()
	cfg.Now = clock.Now
	cfg.Retry.InitialDelay = time.Millisecond
	cfg.Retry.MaxDelay = time.Millisecond
	return cfg
}

// newTestEngine wires an engine over a fresh database with the clock pinned to now.
func newTestEngine(t *testing.T, now time.Time) *testEngine {
	t.Helper()
	return newTestEngineWith(t, now, nil, nil)
}

func newTestEngineWith(t *testing.T, now time.Time, reminders service.ReminderScheduler, calendar service.CalendarSync) *testEngine {
	t.Helper()
	clock := &testClock{now: now}
	store := newTestStorage(t)
	scheduler := NewScheduler(store, reminders, calendar, testConfig(clock))
	return &testEngine{
		store:        store,
		clock:        clock,
		scheduler:    scheduler,
		orchestrator: NewOrchestrator(store, scheduler),
		detector:     NewDetector(store, scheduler),
	}
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func pgeTemplate(dueDay int, amountMin, amountMax string) *model.RecurringTemplate {
	template := &model.RecurringTemplate{
		VendorDisplayName:     pgeName,
		VendorShortName:       "PGE",
		VendorFingerprint:     fingerprint.Fingerprint(pgeName, pgeTaxID),
		VendorOnlyFingerprint: fingerprint.VendorOnly(pgeName),
		Currency:              "PLN",
		DueDayOfMonth:         dueDay,
		ToleranceDays:         3,
		Source:                model.TemplateSourceManual,
	}
	if amountMin != "" {
		template.LearnAmount(decimal.RequireFromString(amountMin))
		template.LearnAmount(decimal.RequireFromString(amountMax))
	}
	return template
}

func pgeDocument(due time.Time, amount string) *model.Document {
	return vendorDocument(pgeName, pgeTaxID, due, amount, model.CategoryUtility)
}

func vendorDocument(name, taxID string, due time.Time, amount string, category model.DocumentCategory) *model.Document {
	return &model.Document{
		Title:       name + " invoice",
		VendorName:  name,
		VendorTaxID: taxID,
		Amount:      decimal.RequireFromString(amount),
		Currency:    "PLN",
		DueDate:     due,
		Category:    category,
	}
}

// createTemplate saves template through the scheduler and returns the stored copy.
func (e *testEngine) createTemplate(t *testing.T, template *model.RecurringTemplate) *model.RecurringTemplate {
	t.Helper()
	_, err := e.scheduler.CreateTemplate(context.Background(), template, false)
	require.NoError(t, err)
	return e.template(t, template.ID)
}

func (e *testEngine) template(t *testing.T, id string) *model.RecurringTemplate {
	t.Helper()
	template, err := e.store.GetTemplate(context.Background(), id)
	require.NoError(t, err)
	return template
}

func (e *testEngine) instance(t *testing.T, id string) *model.RecurringInstance {
	t.Helper()
	instance, err := e.store.GetInstance(context.Background(), id)
	require.NoError(t, err)
	return instance
}

func (e *testEngine) document(t *testing.T, id string) *model.Document {
	t.Helper()
	doc, err := e.store.GetDocument(context.Background(), id)
	require.NoError(t, err)
	return doc
}

// byPeriod indexes a template's instances by period key.
func (e *testEngine) byPeriod(t *testing.T, templateID string) map[string]model.RecurringInstance {
	t.Helper()
	instances, err := e.store.GetInstancesByTemplate(context.Background(), templateID)
	require.NoError(t, err)
	out := make(map[string]model.RecurringInstance, len(instances))
	for _, inst := range instances {
		out[inst.PeriodKey] = inst
	}
	return out
}

// ingest saves and matches a document, failing the test on error.
func (e *testEngine) ingest(t *testing.T, doc *model.Document) MatchOutcome {
	t.Helper()
	outcome, err := e.scheduler.IngestDocument(context.Background(), doc)
	require.NoError(t, err)
	return outcome
}
