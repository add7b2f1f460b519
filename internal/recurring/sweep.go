package recurring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/Veraticus/the-dues-must-flow/internal/service"
)

// MarkOverdueInstancesAsMissed moves every expected instance whose due date plus
// tolerance has passed to missed and returns how many changed. Each change is a
// compare-and-set, so the sweep can run alongside live matching and running it
// twice changes nothing the second time. Templates fail independently.
func (s *Scheduler) MarkOverdueInstancesAsMissed(ctx context.Context) (int, error) {
	expected, err := s.storage.GetInstancesByStatus(ctx, model.InstanceExpected)
	if err != nil {
		return 0, fmt.Errorf("failed to get expected instances: %w", err)
	}

	byTemplate := make(map[string][]string)
	var order []string
	for _, inst := range expected {
		if _, seen := byTemplate[inst.TemplateID]; !seen {
			order = append(order, inst.TemplateID)
		}
		byTemplate[inst.TemplateID] = append(byTemplate[inst.TemplateID], inst.ID)
	}

	var (
		total int
		errs  []error
	)
	for _, templateID := range order {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		changed, err := s.sweepTemplate(ctx, templateID, byTemplate[templateID])
		if err != nil {
			slog.Error("Failed to sweep template", "template_id", templateID, "error", err)
			errs = append(errs, fmt.Errorf("template %s: %w", templateID, err))
			continue
		}
		total += changed
	}

	if total > 0 {
		slog.Info("Marked overdue instances as missed", "count", total)
	}
	return total, errors.Join(errs...)
}

func (s *Scheduler) sweepTemplate(ctx context.Context, templateID string, instanceIDs []string) (int, error) {
	unlock := s.locks.lock(templateID)
	defer unlock()

	now := s.cfg.Now()
	changed := 0

	err := withTx(ctx, s.storage, func(tx service.Transaction) error {
		template, err := tx.GetTemplate(ctx, templateID)
		if err != nil {
			return err
		}

		for _, id := range instanceIDs {
			instance, err := tx.GetInstance(ctx, id)
			if err != nil {
				return err
			}
			if !instance.IsOverdue(now, template.ToleranceDays) {
				continue
			}

			ok, err := tx.TransitionInstanceStatus(ctx, id, model.InstanceExpected, model.InstanceMissed)
			if err != nil {
				return err
			}
			if ok {
				changed++
				slog.Debug("Instance missed",
					"template_id", templateID,
					"instance_id", id,
					"period_key", instance.PeriodKey)
			}
		}

		if changed == 0 {
			return nil
		}
		return saveCounters(ctx, tx, template)
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}
