package recurring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/common"
	"github.com/Veraticus/the-dues-must-flow/internal/fingerprint"
	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/Veraticus/the-dues-must-flow/internal/service"
	"github.com/shopspring/decimal"
)

// Confidence weights. They sum to one.
const (
	weightCount    = 0.30
	weightDay      = 0.25
	weightAmount   = 0.25
	weightCategory = 0.20

	fullCountAt    = 6.0
	dayStddevLimit = 10.0
	amountCVLimit  = 0.5
)

// Detector proposes recurring bills from document history and records the user's
// answers to those proposals.
type Detector struct {
	storage   service.Storage
	scheduler *Scheduler
	cfg       Config
}

// NewDetector creates a detector. Accepted candidates are handed to scheduler.
func NewDetector(storage service.Storage, scheduler *Scheduler) *Detector {
	return &Detector{
		storage:   storage,
		scheduler: scheduler,
		cfg:       scheduler.cfg,
	}
}

// Detect groups documents by vendor fingerprint and scores every group large
// enough to suggest a recurring bill. Vendors that already have an active template
// or are suppressed are left out. The result is sorted by confidence, highest first.
func (d *Detector) Detect(ctx context.Context) ([]model.RecurringCandidate, error) {
	docs, err := d.storage.GetDocuments(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get documents: %w", err)
	}

	groups := make(map[string][]model.Document)
	for _, doc := range docs {
		if doc.VendorFingerprint == "" || doc.Status == model.DocumentCancelled {
			continue
		}
		groups[doc.VendorFingerprint] = append(groups[doc.VendorFingerprint], doc)
	}

	excluded, err := d.excludedFingerprints(ctx)
	if err != nil {
		return nil, err
	}

	var candidates []model.RecurringCandidate
	for fp, group := range groups {
		if len(group) < d.cfg.MinDocumentCount || excluded[fp] {
			continue
		}
		candidates = append(candidates, analyzeGroup(fp, group))
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].ConfidenceScore != candidates[j].ConfidenceScore {
			return candidates[i].ConfidenceScore > candidates[j].ConfidenceScore
		}
		return candidates[i].VendorFingerprint < candidates[j].VendorFingerprint
	})

	slog.Debug("Detected recurring candidates",
		"documents", len(docs),
		"groups", len(groups),
		"candidates", len(candidates))
	return candidates, nil
}

func (d *Detector) excludedFingerprints(ctx context.Context) (map[string]bool, error) {
	excluded := make(map[string]bool)

	templates, err := d.storage.GetActiveTemplates(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get active templates: %w", err)
	}
	for _, t := range templates {
		excluded[t.VendorFingerprint] = true
	}

	suppressions, err := d.storage.GetSuppressions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get suppressions: %w", err)
	}
	now := d.cfg.Now()
	for i := range suppressions {
		if suppressions[i].ActiveAt(now) {
			excluded[suppressions[i].VendorFingerprint] = true
		}
	}

	return excluded, nil
}

// Accept turns the candidate for fp into an auto-detected template and backfills
// its history. If a paused template exists for fp it is resumed instead.
func (d *Detector) Accept(ctx context.Context, fp string) (*model.RecurringTemplate, GenerationResult, error) {
	docs, err := d.storage.GetDocumentsByVendorFingerprint(ctx, fp)
	if err != nil {
		return nil, GenerationResult{}, fmt.Errorf("failed to get documents: %w", err)
	}
	var group []model.Document
	for _, doc := range docs {
		if doc.Status != model.DocumentCancelled {
			group = append(group, doc)
		}
	}
	if len(group) == 0 {
		return nil, GenerationResult{}, fmt.Errorf("no documents for fingerprint %s: %w", fp, common.ErrNotFound)
	}

	var (
		template *model.RecurringTemplate
		result   GenerationResult
	)

	existing, err := d.storage.GetTemplateByFingerprint(ctx, fp)
	switch {
	case errors.Is(err, common.ErrNotFound):
		template = templateFromCandidate(analyzeGroup(fp, group), d.cfg.DefaultToleranceDays)
		result, err = d.scheduler.CreateTemplate(ctx, template, true)
		if err != nil {
			return nil, GenerationResult{}, err
		}

	case err != nil:
		return nil, GenerationResult{}, err

	case existing.IsActive:
		return nil, GenerationResult{}, fmt.Errorf("vendor %s already has active template %s: %w",
			existing.VendorDisplayName, existing.ID, common.ErrDuplicateEntry)

	default:
		forward, err := d.scheduler.ResumeTemplate(ctx, existing.ID)
		if err != nil {
			return nil, GenerationResult{}, err
		}
		backfill, err := d.scheduler.GenerateInstances(ctx, existing.ID, d.cfg.MonthsAhead, true)
		if err != nil {
			return nil, GenerationResult{}, err
		}
		result = GenerationResult{
			Created: append(forward.Created, backfill.Created...),
			Linked:  forward.Linked + backfill.Linked,
		}
		if template, err = d.storage.GetTemplate(ctx, existing.ID); err != nil {
			return nil, GenerationResult{}, err
		}
	}

	if err := d.storage.DeleteSuppression(ctx, fp); err != nil {
		return nil, GenerationResult{}, err
	}

	slog.Info("Accepted recurring candidate",
		"vendor_fingerprint", fp,
		"template_id", template.ID,
		"linked", result.Linked)
	return template, result, nil
}

// Dismiss hides the candidate for fp permanently.
func (d *Detector) Dismiss(ctx context.Context, fp string) error {
	return d.storage.SaveSuppression(ctx, &model.Suppression{
		VendorFingerprint: fp,
		Kind:              model.SuppressionDismissed,
		CreatedAt:         d.cfg.Now(),
	})
}

// Snooze hides the candidate for fp until the snooze period ends and returns when.
func (d *Detector) Snooze(ctx context.Context, fp string) (time.Time, error) {
	now := d.cfg.Now()
	until := now.Add(d.cfg.SnoozeDuration)
	err := d.storage.SaveSuppression(ctx, &model.Suppression{
		VendorFingerprint: fp,
		Kind:              model.SuppressionSnoozed,
		Until:             &until,
		CreatedAt:         now,
	})
	if err != nil {
		return time.Time{}, err
	}
	return until, nil
}

// ClearSuppression lets a dismissed or snoozed candidate surface again.
func (d *Detector) ClearSuppression(ctx context.Context, fp string) error {
	return d.storage.DeleteSuppression(ctx, fp)
}

// analyzeGroup computes the statistics and confidence of one vendor's documents.
func analyzeGroup(fp string, group []model.Document) model.RecurringCandidate {
	docs := make([]model.Document, len(group))
	copy(docs, group)
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].DueDate.Before(docs[j].DueDate)
	})
	latest := docs[len(docs)-1]

	candidate := model.RecurringCandidate{
		VendorFingerprint:     fp,
		VendorOnlyFingerprint: fingerprint.VendorOnly(latest.VendorName),
		VendorDisplayName:     latest.VendorName,
		Currency:              latest.Currency,
		DocumentCount:         len(docs),
		LastDueDate:           latest.DueDate,
	}

	var (
		days     []float64
		amounts  []float64
		sum      decimal.Decimal
		lo, hi   decimal.Decimal
		accounts = make(map[string]bool)
		ids      = make([]string, 0, len(docs))
	)
	for i, doc := range docs {
		ids = append(ids, doc.ID)
		days = append(days, float64(doc.DueDate.Day()))
		amounts = append(amounts, doc.Amount.InexactFloat64())
		sum = sum.Add(doc.Amount)
		if i == 0 || doc.Amount.LessThan(lo) {
			lo = doc.Amount
		}
		if i == 0 || doc.Amount.GreaterThan(hi) {
			hi = doc.Amount
		}
		if account := normalizeAccount(doc.BankAccount); account != "" {
			accounts[account] = true
		}
	}
	candidate.DocumentIDs = ids

	average := sum.Div(decimal.NewFromInt(int64(len(docs)))).Round(2)
	candidate.AverageAmount = &average
	candidate.AmountMin = &lo
	candidate.AmountMax = &hi

	dominant := dominantDay(docs)
	candidate.DominantDueDayOfMonth = &dominant
	candidate.HasStableIBAN = len(accounts) == 1

	candidate.DocumentCategory = dominantCategory(docs)
	candidate.VariableSpend = candidate.DocumentCategory.IsVariableSpend()

	candidate.ConfidenceScore = confidence(len(docs), stddev(days), coefficientOfVariation(amounts), candidate.DocumentCategory)
	return candidate
}

// confidence combines the group statistics into a score in [0,1]. It grows with
// the document count and falls as day or amount spread grows.
func confidence(count int, dayStddev, amountCV float64, category model.DocumentCategory) float64 {
	countScore := math.Min(float64(count)/fullCountAt, 1)
	dayScore := 1 - math.Min(dayStddev/dayStddevLimit, 1)
	amountScore := 1 - math.Min(amountCV/amountCVLimit, 1)

	score := weightCount*countScore +
		weightDay*dayScore +
		weightAmount*amountScore +
		weightCategory*category.RecurrenceWeight()
	return math.Max(0, math.Min(1, score))
}

// dominantDay is the most frequent day of month. Ties go to the day seen most recently.
// docs must be sorted by due date.
func dominantDay(docs []model.Document) int {
	counts := make(map[int]int)
	lastSeen := make(map[int]int)
	for i, doc := range docs {
		day := doc.DueDate.Day()
		counts[day]++
		lastSeen[day] = i
	}

	best := 0
	for day, n := range counts {
		if best == 0 || n > counts[best] || (n == counts[best] && lastSeen[day] > lastSeen[best]) {
			best = day
		}
	}
	return best
}

// dominantCategory is the most frequent category, ties going to the most recent.
func dominantCategory(docs []model.Document) model.DocumentCategory {
	counts := make(map[model.DocumentCategory]int)
	lastSeen := make(map[model.DocumentCategory]int)
	for i, doc := range docs {
		c := doc.Category
		if c == "" {
			c = model.CategoryOther
		}
		counts[c]++
		lastSeen[c] = i
	}

	var best model.DocumentCategory
	for c, n := range counts {
		if best == "" || n > counts[best] || (n == counts[best] && lastSeen[c] > lastSeen[best]) {
			best = c
		}
	}
	return best
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// stddev is the population standard deviation.
func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sumSq float64
	for _, v := range values {
		d := v - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(values)))
}

func coefficientOfVariation(values []float64) float64 {
	m := mean(values)
	if m == 0 {
		return math.Inf(1)
	}
	return stddev(values) / math.Abs(m)
}

func normalizeAccount(account string) string {
	return strings.ToUpper(strings.Join(strings.Fields(account), ""))
}

func templateFromCandidate(c model.RecurringCandidate, toleranceDays int) *model.RecurringTemplate {
	template := &model.RecurringTemplate{
		VendorFingerprint:     c.VendorFingerprint,
		VendorOnlyFingerprint: c.VendorOnlyFingerprint,
		VendorDisplayName:     c.VendorDisplayName,
		VendorShortName:       shortName(c.VendorDisplayName),
		DueDayOfMonth:         c.LastDueDate.Day(),
		ToleranceDays:         toleranceDays,
		Currency:              c.Currency,
		Source:                model.TemplateSourceAutoDetection,
	}
	if c.DominantDueDayOfMonth != nil {
		template.DueDayOfMonth = *c.DominantDueDayOfMonth
	}
	if c.AmountMin != nil && c.AmountMax != nil {
		template.LearnAmount(*c.AmountMin)
		template.LearnAmount(*c.AmountMax)
	}
	return template
}

func shortName(display string) string {
	fields := strings.Fields(display)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
