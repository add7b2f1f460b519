package recurring

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/common"
	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/Veraticus/the-dues-must-flow/internal/service"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Scheduler owns the instance lifecycle of every template: generation, matching,
// the overdue sweep and payment.
type Scheduler struct {
	storage service.Storage
	locks   *lockSet
	effects sideEffects
	cfg     Config
}

// GenerationResult describes what one generation run created.
type GenerationResult struct {
	Created []model.RecurringInstance
	Linked  int
}

// NewScheduler creates a scheduler. reminders and calendar may be nil.
func NewScheduler(storage service.Storage, reminders service.ReminderScheduler, calendar service.CalendarSync, cfg Config) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		storage: storage,
		locks:   newLockSet(),
		effects: sideEffects{
			reminders: reminders,
			calendar:  calendar,
			offsets:   cfg.ReminderOffsets,
		},
		cfg: cfg,
	}
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// GenerateInstances creates the expected instances of a template for the current
// month and the following months, monthsAhead in total. With includeHistorical it
// also covers every past month that has an unlinked document of the vendor and
// links those documents. Periods that already have an instance are skipped, even
// a cancelled one, so a month the user cancelled stays cancelled.
func (s *Scheduler) GenerateInstances(ctx context.Context, templateID string, monthsAhead int, includeHistorical bool) (GenerationResult, error) {
	return s.generate(ctx, templateID, monthsAhead, includeHistorical, false)
}

// generate is GenerateInstances. With refillCancelled, periods whose only instance
// is cancelled get a fresh one; resuming a paused template relies on it.
func (s *Scheduler) generate(ctx context.Context, templateID string, monthsAhead int, includeHistorical, refillCancelled bool) (GenerationResult, error) {
	unlock := s.locks.lock(templateID)
	defer unlock()

	var (
		result   GenerationResult
		template *model.RecurringTemplate
	)

	err := withTx(ctx, s.storage, func(tx service.Transaction) error {
		var err error
		template, err = tx.GetTemplate(ctx, templateID)
		if err != nil {
			return err
		}
		if !template.IsActive {
			return fmt.Errorf("%w: template %s is paused", common.ErrInvalidState, templateID)
		}

		result, err = s.generateTx(ctx, tx, template, monthsAhead, includeHistorical, refillCancelled)
		return err
	})
	if err != nil {
		return GenerationResult{}, fmt.Errorf("failed to generate instances for template %s: %w", templateID, err)
	}

	if len(result.Created) > 0 {
		slog.Info("Generated recurring instances",
			"template_id", templateID,
			"created", len(result.Created),
			"linked", result.Linked)
	}

	s.attach(ctx, template, result.Created)
	return result, nil
}

func (s *Scheduler) generateTx(ctx context.Context, tx service.Transaction, template *model.RecurringTemplate, monthsAhead int, includeHistorical, refillCancelled bool) (GenerationResult, error) {
	var result GenerationResult

	existing, err := tx.GetInstancesByTemplate(ctx, template.ID)
	if err != nil {
		return result, err
	}
	taken := make(map[string]bool, len(existing))
	for _, inst := range existing {
		if inst.Status != model.InstanceCancelled || !refillCancelled {
			taken[inst.PeriodKey] = true
		}
	}

	periods := make(map[string]time.Time)
	forward := make(map[string]bool)
	start := model.MonthStart(s.cfg.Now())
	for i := 0; i < monthsAhead; i++ {
		month := start.AddDate(0, i, 0)
		periods[model.PeriodKey(month)] = month
		forward[model.PeriodKey(month)] = true
	}

	var unlinked []model.Document
	if includeHistorical {
		docs, err := tx.GetDocumentsByVendorFingerprint(ctx, template.VendorFingerprint)
		if err != nil {
			return result, err
		}
		for _, doc := range docs {
			if doc.IsLinked() || doc.Status == model.DocumentCancelled {
				continue
			}
			unlinked = append(unlinked, doc)
			month := model.MonthStart(doc.DueDate)
			periods[model.PeriodKey(month)] = month
		}
	}

	keys := make([]string, 0, len(periods))
	for key := range periods {
		if !taken[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	now := s.cfg.Now()
	used := make(map[string]bool)
	for _, key := range keys {
		instance := newInstance(template, periods[key])

		if includeHistorical {
			doc := closestDocument(unlinked, used, instance.ExpectedDueDate, template.ToleranceDays)
			if doc == nil && !forward[key] {
				// A past month is only worth an instance if it gets a document.
				continue
			}
			if doc != nil {
				if err := instance.MatchDocument(doc.ID, doc.DueDate, doc.Amount, doc.InvoiceNumber, now); err != nil {
					return result, err
				}
				used[doc.ID] = true
				doc.LinkTo(template.ID, instance.ID)
				if err := tx.SaveDocument(ctx, doc); err != nil {
					return result, err
				}
				template.LearnAmount(doc.Amount)
				result.Linked++
			}
		}

		if err := tx.SaveInstance(ctx, instance); err != nil {
			return result, err
		}
		result.Created = append(result.Created, *instance)
	}

	if len(result.Created) > 0 {
		if err := saveCounters(ctx, tx, template); err != nil {
			return result, err
		}
	}
	return result, nil
}

// GenerateAll tops up every active template. Templates run concurrently and a
// failing template never stops the others.
func (s *Scheduler) GenerateAll(ctx context.Context, monthsAhead int) (service.BatchResult, error) {
	templates, err := s.storage.GetActiveTemplates(ctx)
	if err != nil {
		return service.BatchResult{}, fmt.Errorf("failed to get active templates: %w", err)
	}

	var (
		result service.BatchResult
		mu     sync.Mutex
		g      errgroup.Group
	)
	g.SetLimit(s.cfg.Workers)

	for _, template := range templates {
		templateID := template.ID
		g.Go(func() error {
			generated, genErr := s.GenerateInstances(ctx, templateID, monthsAhead, false)

			mu.Lock()
			defer mu.Unlock()
			result.Processed++
			if genErr != nil {
				result.Failed = append(result.Failed, service.BatchFailure{Key: templateID, Err: genErr})
				slog.Error("Failed to generate instances", "template_id", templateID, "error", genErr)
				return nil
			}
			result.Changed += len(generated.Created)
			return nil
		})
	}
	_ = g.Wait()

	return result, ctx.Err()
}

// UpcomingInstances lists open instances due today or later.
func (s *Scheduler) UpcomingInstances(ctx context.Context, limit int) ([]model.RecurringInstance, error) {
	return s.storage.GetUpcomingInstances(ctx, s.cfg.today(), limit)
}

func newInstance(template *model.RecurringTemplate, monthStart time.Time) *model.RecurringInstance {
	instance := &model.RecurringInstance{
		ID:              uuid.NewString(),
		TemplateID:      template.ID,
		PeriodKey:       model.PeriodKey(monthStart),
		ExpectedDueDate: template.ExpectedDueDate(monthStart),
		Status:          model.InstanceExpected,
	}
	if typical, ok := template.TypicalAmount(); ok {
		instance.ExpectedAmount = &typical
	}
	return instance
}

// closestDocument picks the unused document whose due date is nearest to due and
// within tolerance.
func closestDocument(docs []model.Document, used map[string]bool, due time.Time, toleranceDays int) *model.Document {
	var (
		best     *model.Document
		bestDist int
	)
	for i := range docs {
		doc := &docs[i]
		if used[doc.ID] {
			continue
		}
		dist := model.DaysBetween(due, doc.DueDate)
		if dist > toleranceDays {
			continue
		}
		if best == nil || dist < bestDist {
			best, bestDist = doc, dist
		}
	}
	return best
}

// saveCounters recomputes the template's counters from its instances and saves it.
func saveCounters(ctx context.Context, tx service.Transaction, template *model.RecurringTemplate) error {
	instances, err := tx.GetInstancesByTemplate(ctx, template.ID)
	if err != nil {
		return err
	}
	template.RecomputeCounters(instances)
	return tx.SaveTemplate(ctx, template)
}
