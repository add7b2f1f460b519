package main

import (
	"context"
	"fmt"

	"github.com/Veraticus/the-dues-must-flow/internal/cli"
	"github.com/spf13/cobra"
)

func instancesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "instances",
		Short: "Work with expected monthly occurrences",
	}
	cmd.AddCommand(instancesListCmd())
	cmd.AddCommand(instancesGenerateCmd())
	cmd.AddCommand(instancesUpcomingCmd())
	cmd.AddCommand(instancesPayCmd())
	cmd.AddCommand(instancesCancelCmd())
	return cmd
}

func instancesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <template-id>",
		Short: "List every instance of a template",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			template, err := a.store.GetTemplate(ctx, args[0])
			if err != nil {
				return err
			}
			instances, err := a.store.GetInstancesByTemplate(ctx, template.ID)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, cli.FormatTitle(template.VendorDisplayName))
			_, _ = fmt.Fprint(out, instanceTable(instances, map[string]string{template.ID: template.VendorDisplayName}))
			return nil
		}),
	}
}

func instancesGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate [template-id]",
		Short: "Create missing instances up to the horizon",
		Long: `Create the expected instances for the coming months. Without a template ID
every active template is processed. Months that already have an instance,
including cancelled ones, are left alone.`,
		Args: cobra.MaximumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			months, _ := cmd.Flags().GetInt("months")
			if months <= 0 {
				months = a.cfg.MonthsAhead
			}
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				historical, _ := cmd.Flags().GetBool("historical")
				result, err := a.scheduler.GenerateInstances(cmd.Context(), args[0], months, historical)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf(
					"%d instance(s) created, %d document(s) linked", len(result.Created), result.Linked)))
				return nil
			}

			result, err := a.scheduler.GenerateAll(cmd.Context(), months)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf(
				"%d template(s) processed, %d instance(s) created", result.Processed, result.Changed)))
			for _, failure := range result.Failed {
				_, _ = fmt.Fprintln(out, cli.FormatError(fmt.Sprintf("%s: %v", failure.Key, failure.Err)))
			}
			return nil
		}),
	}
	cmd.Flags().Int("months", 0, "months ahead to cover (default from config)")
	cmd.Flags().Bool("historical", false, "also cover past months that have documents")
	return cmd
}

func instancesUpcomingCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "Show the next open instances",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			ctx := cmd.Context()

			instances, err := a.scheduler.UpcomingInstances(ctx, limit)
			if err != nil {
				return err
			}
			names, err := templateNames(ctx, a)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), instanceTable(instances, names))
			return nil
		}),
	}
	cmd.Flags().Int("limit", 10, "maximum number of instances")
	return cmd
}

func templateNames(ctx context.Context, a *app) (map[string]string, error) {
	templates, err := a.store.GetTemplates(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(templates))
	for _, t := range templates {
		names[t.ID] = t.VendorDisplayName
	}
	return names, nil
}

func instancesPayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pay <instance-id>",
		Short: "Mark an instance as paid",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			if err := a.scheduler.MarkInstancePaid(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Marked "+args[0]+" as paid"))
			return nil
		}),
	}
}

func instancesCancelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cancel <instance-id>",
		Short: "Cancel one occurrence, or it and every later one",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			allFuture, _ := cmd.Flags().GetBool("all-future")
			out := cmd.OutOrStdout()

			if !allFuture {
				if err := a.orchestrator.CancelInstance(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(out, cli.FormatSuccess("Cancelled "+args[0]))
				return nil
			}

			cancelled, err := a.orchestrator.CancelFutureOccurrences(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, cli.FormatSuccess(
				fmt.Sprintf("Cancelled %d instance(s) and paused the template", cancelled)))
			return nil
		}),
	}
	cmd.Flags().Bool("all-future", false, "cancel this and every later instance and pause the template")
	return cmd
}
