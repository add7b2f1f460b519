package main

import (
	"fmt"
	"log/slog"

	"github.com/Veraticus/the-dues-must-flow/internal/cli"
	"github.com/spf13/cobra"
)

func candidatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "candidates",
		Short: "Review vendors that look like recurring bills",
	}
	cmd.AddCommand(candidatesListCmd())
	cmd.AddCommand(candidatesAcceptCmd())
	cmd.AddCommand(candidatesDismissCmd())
	cmd.AddCommand(candidatesSnoozeCmd())
	cmd.AddCommand(candidatesClearCmd())
	return cmd
}

func candidatesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Detect recurring bill candidates",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			out := cmd.OutOrStdout()
			candidates, err := a.detector.Detect(cmd.Context())
			if err != nil {
				slog.Error("Candidate detection failed", "error", err)
				_, _ = fmt.Fprintln(out, cli.FormatWarning("Could not detect candidates, no suggestions this time"))
				return nil
			}
			if len(candidates) == 0 {
				_, _ = fmt.Fprintln(out, cli.FormatInfo("No recurring bill candidates"))
				return nil
			}
			_, _ = fmt.Fprintln(out, cli.FormatTitle("Recurring bill candidates"))
			_, _ = fmt.Fprint(out, candidateTable(candidates))
			return nil
		}),
	}
}

func candidatesAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <fingerprint>",
		Short: "Turn a candidate into a recurring template",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			template, result, err := a.detector.Accept(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
				"Tracking %s (template %s): %d instance(s) created, %d past document(s) linked",
				template.VendorDisplayName, template.ID, len(result.Created), result.Linked)))
			return nil
		}),
	}
}

func candidatesDismissCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <fingerprint>",
		Short: "Never suggest this vendor again",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			if err := a.detector.Dismiss(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Dismissed "+args[0]))
			return nil
		}),
	}
}

func candidatesSnoozeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snooze <fingerprint>",
		Short: "Hide a candidate for a while",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			until, err := a.detector.Snooze(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(
				fmt.Sprintf("Snoozed %s until %s", args[0], until.Format(dateLayout))))
			return nil
		}),
	}
}

func candidatesClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <fingerprint>",
		Short: "Undo a dismiss or snooze",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			if err := a.detector.ClearSuppression(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Cleared suppression for "+args[0]))
			return nil
		}),
	}
}
