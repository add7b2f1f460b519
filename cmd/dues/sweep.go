package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/the-dues-must-flow/internal/cli"
	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/spf13/cobra"
)

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Mark overdue expected instances as missed",
		Long: `Mark every expected instance whose due date plus tolerance has passed as
missed. Safe to run from cron as often as you like.`,
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			missed, err := a.scheduler.MarkOverdueInstancesAsMissed(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if missed == 0 {
				_, _ = fmt.Fprintln(out, cli.FormatSuccess("Nothing overdue"))
				return nil
			}
			_, _ = fmt.Fprintln(out, cli.FormatWarning(fmt.Sprintf("%d instance(s) marked as missed", missed)))
			return nil
		}),
	}
}

func remindersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reminders",
		Short: "Inspect payment reminders",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "due",
		Short: "List reminders that should have fired by now",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			ctx := cmd.Context()
			due, err := a.reminders.Due(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(due) == 0 {
				_, _ = fmt.Fprintln(out, cli.FormatInfo("No reminders due"))
				return nil
			}

			rows := make([][]string, 0, len(due))
			for _, r := range due {
				rows = append(rows, reminderRow(ctx, a, r))
			}
			_, _ = fmt.Fprint(out, cli.RenderTable([]string{"Fires", "Instance", "Vendor", "Due", "Amount"}, rows))
			return nil
		}),
	})
	return cmd
}

// reminderRow describes a reminder with its instance. A reminder whose instance
// is gone still gets a row.
func reminderRow(ctx context.Context, a *app, r model.Reminder) []string {
	row := []string{r.FireAt.Format("2006-01-02 15:04"), r.InstanceID, "-", "-", "-"}

	instance, err := a.store.GetInstance(ctx, r.InstanceID)
	if err != nil {
		slog.Debug("Reminder without instance", "handle", r.Handle, "error", err)
		return row
	}
	row[3] = instance.EffectiveDueDate().Format(dateLayout)
	row[4] = formatAmount(instance.EffectiveAmount(), "")

	if template, err := a.store.GetTemplate(ctx, instance.TemplateID); err == nil {
		row[2] = template.VendorDisplayName
		row[4] = formatAmount(instance.EffectiveAmount(), template.Currency)
	}
	return row
}
