package recurring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/common"
	"github.com/Veraticus/the-dues-must-flow/internal/fingerprint"
	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/Veraticus/the-dues-must-flow/internal/service"
	"github.com/google/uuid"
)

// MatchKind is the result of trying to place a document on a template.
type MatchKind string

// Match kinds.
const (
	MatchMatched  MatchKind = "matched"
	MatchFuzzy    MatchKind = "fuzzy"
	MatchUnlinked MatchKind = "unlinked"
)

// MatchOutcome reports where a document ended up.
type MatchOutcome struct {
	Kind            MatchKind
	TemplateID      string
	InstanceID      string
	Reason          string
	FuzzyCandidates []model.FuzzyMatchCandidate
}

type amountBand int

const (
	bandExact amountBand = iota
	bandFuzzy
	bandNone
)

func (b amountBand) String() string {
	switch b {
	case bandExact:
		return "exact"
	case bandFuzzy:
		return "fuzzy"
	default:
		return "none"
	}
}

var (
	// errNoSlot means a template has no instance the document can fill.
	errNoSlot = errors.New("no open instance for document")
	// errAmountMoved means the template's amount range changed after it was read
	// and no longer takes the document as an exact match.
	errAmountMoved = errors.New("template amount range changed")
)

// classifyAmount places a document amount relative to the template's learned range.
func (s *Scheduler) classifyAmount(template *model.RecurringTemplate, doc *model.Document) (amountBand, float64) {
	if template.Currency != "" && doc.Currency != "" && !strings.EqualFold(template.Currency, doc.Currency) {
		return bandNone, 0
	}
	if !template.HasAmount || template.AmountInRange(doc.Amount) {
		return bandExact, template.AmountDeviation(doc.Amount)
	}

	deviation := template.AmountDeviation(doc.Amount)
	switch {
	case deviation <= s.cfg.FuzzyLowerBound:
		return bandExact, deviation
	case deviation < s.cfg.FuzzyUpperBound:
		return bandFuzzy, deviation
	default:
		return bandNone, deviation
	}
}

// findSlot returns the index of the expected instance closest to due within
// tolerance. When there is none and the due date's period has no live instance,
// it reports that a fresh instance may be created for that period.
func findSlot(template *model.RecurringTemplate, instances []model.RecurringInstance, due time.Time) (int, bool) {
	best, bestDist := -1, 0
	for i := range instances {
		inst := &instances[i]
		if inst.Status != model.InstanceExpected {
			continue
		}
		dist := model.DaysBetween(inst.ExpectedDueDate, due)
		if dist > template.ToleranceDays {
			continue
		}
		if best < 0 || dist < bestDist {
			best, bestDist = i, dist
		}
	}
	if best >= 0 {
		return best, false
	}

	period := model.PeriodKey(due)
	for i := range instances {
		if instances[i].PeriodKey == period && instances[i].Status != model.InstanceCancelled {
			return -1, false
		}
	}
	return -1, true
}

// MatchDocument tries to link a saved document to an instance of one of its
// vendor's active templates. Templates with the exact vendor fingerprint are tried
// first. Moderately divergent amounts come back as fuzzy candidates for the caller
// to decide on.
func (s *Scheduler) MatchDocument(ctx context.Context, documentID string) (MatchOutcome, error) {
	doc, err := s.storage.GetDocument(ctx, documentID)
	if err != nil {
		return MatchOutcome{}, err
	}
	if doc.IsLinked() {
		return MatchOutcome{Kind: MatchMatched, TemplateID: doc.RecurringTemplateID, InstanceID: doc.RecurringInstanceID}, nil
	}
	if doc.VendorFingerprint == "" {
		return unlinked("document has no vendor fingerprint"), nil
	}
	if doc.Status == model.DocumentCancelled {
		return unlinked("document is cancelled"), nil
	}

	templates, err := s.candidateTemplates(ctx, doc)
	if err != nil {
		return MatchOutcome{}, err
	}
	if len(templates) == 0 {
		return unlinked("vendor has no active template"), nil
	}

	var fuzzy []model.FuzzyMatchCandidate
	reread := make(map[string]bool)
	for i := 0; i < len(templates); i++ {
		template := &templates[i]
		band, deviation := s.classifyAmount(template, doc)

		slog.Debug("Evaluating template for document",
			"document_id", doc.ID,
			"template_id", template.ID,
			"band", band,
			"deviation", deviation)

		switch band {
		case bandExact:
			outcome, err := s.link(ctx, template.ID, doc.ID, true)
			switch {
			case errors.Is(err, errAmountMoved) && !reread[template.ID]:
				// Evaluate the template again with its current range.
				fresh, err := s.storage.GetTemplate(ctx, template.ID)
				if err != nil {
					return MatchOutcome{}, err
				}
				reread[template.ID] = true
				templates[i] = *fresh
				i--
			case errors.Is(err, errNoSlot), errors.Is(err, errAmountMoved):
			case err != nil:
				return MatchOutcome{}, err
			default:
				return outcome, nil
			}

		case bandFuzzy:
			instances, err := s.storage.GetInstancesByTemplate(ctx, template.ID)
			if err != nil {
				return MatchOutcome{}, err
			}
			if idx, create := findSlot(template, instances, doc.DueDate); idx < 0 && !create {
				continue
			}
			typical, _ := template.TypicalAmount()
			fuzzy = append(fuzzy, model.FuzzyMatchCandidate{
				TemplateID:            template.ID,
				VendorDisplayName:     template.VendorDisplayName,
				ExistingTypicalAmount: typical,
				PercentDifference:     deviation * 100,
				DueDayOfMonth:         template.DueDayOfMonth,
				MatchedCount:          template.MatchedDocumentCount,
			})

		case bandNone:
		}
	}

	if len(fuzzy) > 0 {
		slog.Info("Document needs a fuzzy match decision",
			"document_id", doc.ID,
			"candidates", len(fuzzy))
		return MatchOutcome{Kind: MatchFuzzy, FuzzyCandidates: fuzzy}, nil
	}
	return unlinked("no template offered a matching instance"), nil
}

// candidateTemplates lists the active templates of the document's vendor, exact
// fingerprint first.
func (s *Scheduler) candidateTemplates(ctx context.Context, doc *model.Document) ([]model.RecurringTemplate, error) {
	var templates []model.RecurringTemplate

	if doc.VendorName != "" {
		all, err := s.storage.GetTemplatesByVendorOnlyFingerprint(ctx, fingerprint.VendorOnly(doc.VendorName))
		if err != nil {
			return nil, err
		}
		for _, t := range all {
			if t.IsActive {
				templates = append(templates, t)
			}
		}
	}

	exact, err := s.storage.GetTemplateByFingerprint(ctx, doc.VendorFingerprint)
	switch {
	case errors.Is(err, common.ErrNotFound):
	case err != nil:
		return nil, err
	case exact.IsActive && !containsTemplate(templates, exact.ID):
		templates = append(templates, *exact)
	}

	sort.SliceStable(templates, func(i, j int) bool {
		iExact := templates[i].VendorFingerprint == doc.VendorFingerprint
		jExact := templates[j].VendorFingerprint == doc.VendorFingerprint
		return iExact && !jExact
	})
	return templates, nil
}

func containsTemplate(templates []model.RecurringTemplate, id string) bool {
	for _, t := range templates {
		if t.ID == id {
			return true
		}
	}
	return false
}

// link matches a document to the best slot of one template. It returns errNoSlot
// when the template cannot take the document. With exactOnly the amount is
// classified again against the template read under the lock, and anything but an
// exact fit returns errAmountMoved.
func (s *Scheduler) link(ctx context.Context, templateID, documentID string, exactOnly bool) (MatchOutcome, error) {
	unlock := s.locks.lock(templateID)
	defer unlock()

	var (
		template *model.RecurringTemplate
		created  []model.RecurringInstance
		outcome  MatchOutcome
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

		doc, err := tx.GetDocument(ctx, documentID)
		if err != nil {
			return err
		}
		if doc.IsLinked() {
			outcome = MatchOutcome{Kind: MatchMatched, TemplateID: doc.RecurringTemplateID, InstanceID: doc.RecurringInstanceID}
			return nil
		}
		if exactOnly {
			if band, _ := s.classifyAmount(template, doc); band != bandExact {
				return fmt.Errorf("template %s now rates document %s %s: %w", templateID, documentID, band, errAmountMoved)
			}
		}

		instances, err := tx.GetInstancesByTemplate(ctx, templateID)
		if err != nil {
			return err
		}

		var instance *model.RecurringInstance
		idx, create := findSlot(template, instances, doc.DueDate)
		switch {
		case idx >= 0:
			instance = &instances[idx]
		case create:
			instance = newInstance(template, model.MonthStart(doc.DueDate))
			if err := tx.SaveInstance(ctx, instance); err != nil {
				return err
			}
			created = append(created, *instance)
		default:
			return errNoSlot
		}

		if err := instance.MatchDocument(doc.ID, doc.DueDate, doc.Amount, doc.InvoiceNumber, s.cfg.Now()); err != nil {
			return err
		}
		if err := tx.SaveInstance(ctx, instance); err != nil {
			return err
		}

		doc.LinkTo(template.ID, instance.ID)
		if err := tx.SaveDocument(ctx, doc); err != nil {
			return err
		}

		template.LearnAmount(doc.Amount)
		if err := saveCounters(ctx, tx, template); err != nil {
			return err
		}

		outcome = MatchOutcome{Kind: MatchMatched, TemplateID: template.ID, InstanceID: instance.ID}
		return nil
	})
	if err != nil {
		return MatchOutcome{}, err
	}

	if outcome.InstanceID != "" {
		slog.Info("Matched document to recurring instance",
			"document_id", documentID,
			"template_id", outcome.TemplateID,
			"instance_id", outcome.InstanceID)
	}

	// A slot created for the match is already matched; it still gets reminders
	// until it is paid.
	for i := range created {
		if created[i].ID == outcome.InstanceID {
			created[i].Status = model.InstanceMatched
		}
	}
	s.attach(ctx, template, created)
	return outcome, nil
}

// ResolveFuzzyMatch applies the user's answer to a fuzzy match. With sameService the
// document is matched to templateID regardless of its amount. Otherwise a new
// template is split off for the same vendor, seeded from the document.
func (s *Scheduler) ResolveFuzzyMatch(ctx context.Context, documentID, templateID string, sameService bool) (MatchOutcome, error) {
	if sameService {
		outcome, err := s.link(ctx, templateID, documentID, false)
		if errors.Is(err, errNoSlot) {
			return MatchOutcome{}, fmt.Errorf("%w: template %s has no open instance for document %s",
				common.ErrInvalidState, templateID, documentID)
		}
		return outcome, err
	}

	base, err := s.storage.GetTemplate(ctx, templateID)
	if err != nil {
		return MatchOutcome{}, err
	}
	doc, err := s.storage.GetDocument(ctx, documentID)
	if err != nil {
		return MatchOutcome{}, err
	}

	siblings, err := s.storage.GetTemplatesByVendorOnlyFingerprint(ctx, base.VendorOnlyFingerprint)
	if err != nil {
		return MatchOutcome{}, err
	}
	taken := make(map[string]bool, len(siblings))
	for _, t := range siblings {
		taken[t.VendorFingerprint] = true
	}
	n := len(siblings) + 1
	fp := fingerprint.Distinct(base.VendorFingerprint, n)
	for taken[fp] {
		n++
		fp = fingerprint.Distinct(base.VendorFingerprint, n)
	}

	split := &model.RecurringTemplate{
		ID:                    uuid.NewString(),
		VendorFingerprint:     fp,
		VendorOnlyFingerprint: base.VendorOnlyFingerprint,
		VendorDisplayName:     base.VendorDisplayName,
		VendorShortName:       base.VendorShortName,
		DueDayOfMonth:         doc.DueDate.Day(),
		ToleranceDays:         base.ToleranceDays,
		Currency:              doc.Currency,
		IsActive:              true,
		Source:                model.TemplateSourceManual,
	}
	split.LearnAmount(doc.Amount)

	if _, err := s.CreateTemplate(ctx, split, false); err != nil {
		return MatchOutcome{}, err
	}

	slog.Info("Split a new service off an existing vendor template",
		"template_id", split.ID,
		"base_template_id", base.ID,
		"document_id", doc.ID)

	outcome, err := s.link(ctx, split.ID, documentID, false)
	if errors.Is(err, errNoSlot) {
		err = fmt.Errorf("%w: new template %s has no slot for document %s",
			common.ErrInvalidState, split.ID, documentID)
	}
	if err != nil {
		// The split exists only for this document.
		if _, purgeErr := s.PurgeTemplate(ctx, split.ID); purgeErr != nil {
			slog.Error("Failed to remove split template after failed match",
				"template_id", split.ID,
				"error", purgeErr)
		}
		return MatchOutcome{}, err
	}
	return outcome, nil
}

// IngestDocument fingerprints and saves a new document, then tries to match it.
// A matching failure leaves the document saved and unlinked.
func (s *Scheduler) IngestDocument(ctx context.Context, doc *model.Document) (MatchOutcome, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.VendorFingerprint == "" && doc.VendorName != "" {
		doc.VendorFingerprint = fingerprint.Fingerprint(doc.VendorName, doc.VendorTaxID)
	}
	doc.DueDate = model.DateOnly(doc.DueDate)

	if err := s.storage.SaveDocument(ctx, doc); err != nil {
		return MatchOutcome{}, fmt.Errorf("failed to save document: %w", err)
	}

	outcome, err := s.MatchDocument(ctx, doc.ID)
	if err != nil {
		slog.Warn("Matching failed, document saved unlinked",
			"document_id", doc.ID,
			"error", err)
		return unlinked(err.Error()), nil
	}
	return outcome, nil
}

func unlinked(reason string) MatchOutcome {
	return MatchOutcome{Kind: MatchUnlinked, Reason: reason}
}
