package main

import (
	"fmt"
	"strings"

	"github.com/Veraticus/the-dues-must-flow/internal/cli"
	"github.com/Veraticus/the-dues-must-flow/internal/fingerprint"
	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func templatesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage recurring bill templates",
	}
	cmd.AddCommand(templatesListCmd())
	cmd.AddCommand(templatesCreateCmd())
	cmd.AddCommand(templatesPauseCmd())
	cmd.AddCommand(templatesResumeCmd())
	cmd.AddCommand(templatesPurgeCmd())
	return cmd
}

func templatesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			templates, err := a.store.GetTemplates(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), templateTable(templates))
			return nil
		}),
	}
}

func templatesCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start tracking a recurring bill by hand",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			template, err := templateFromFlags(cmd, a.cfg.DefaultToleranceDays)
			if err != nil {
				return err
			}
			historical, _ := cmd.Flags().GetBool("historical")

			result, err := a.scheduler.CreateTemplate(cmd.Context(), template, historical)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf(
				"Created template %s for %s: %d instance(s), %d document(s) linked",
				template.ID, template.VendorDisplayName, len(result.Created), result.Linked)))
			return nil
		}),
	}

	cmd.Flags().String("vendor", "", "vendor name (required)")
	cmd.Flags().String("tax-id", "", "vendor tax ID")
	cmd.Flags().Int("due-day", 0, "day of month the bill is due, 1-31 (required)")
	cmd.Flags().Int("tolerance", -1, "days a document may be off the due date (default from config)")
	cmd.Flags().String("currency", "PLN", "currency code")
	cmd.Flags().String("min", "", "lowest expected amount")
	cmd.Flags().String("max", "", "highest expected amount (default: min)")
	cmd.Flags().Bool("historical", false, "also cover past months that already have documents")
	_ = cmd.MarkFlagRequired("vendor")
	_ = cmd.MarkFlagRequired("due-day")
	return cmd
}

func templateFromFlags(cmd *cobra.Command, defaultTolerance int) (*model.RecurringTemplate, error) {
	flags := cmd.Flags()
	vendor, _ := flags.GetString("vendor")
	taxID, _ := flags.GetString("tax-id")
	dueDay, _ := flags.GetInt("due-day")
	tolerance, _ := flags.GetInt("tolerance")
	currency, _ := flags.GetString("currency")
	minText, _ := flags.GetString("min")
	maxText, _ := flags.GetString("max")

	if tolerance < 0 {
		tolerance = defaultTolerance
	}
	short := vendor
	if words := strings.Fields(vendor); len(words) > 0 {
		short = words[0]
	}

	template := &model.RecurringTemplate{
		VendorDisplayName:     vendor,
		VendorShortName:       short,
		VendorFingerprint:     fingerprint.Fingerprint(vendor, taxID),
		VendorOnlyFingerprint: fingerprint.VendorOnly(vendor),
		Currency:              strings.ToUpper(currency),
		DueDayOfMonth:         dueDay,
		ToleranceDays:         tolerance,
		Source:                model.TemplateSourceManual,
	}

	if minText == "" {
		if maxText != "" {
			return nil, fmt.Errorf("--max needs --min")
		}
		return template, nil
	}
	if maxText == "" {
		maxText = minText
	}
	for _, text := range []string{minText, maxText} {
		amount, err := decimal.NewFromString(text)
		if err != nil || amount.IsNegative() {
			return nil, fmt.Errorf("invalid amount %q", text)
		}
		template.LearnAmount(amount)
	}
	return template, nil
}

func templatesPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <template-id>",
		Short: "Stop expecting a bill; upcoming instances are cancelled",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			cancelled, err := a.scheduler.PauseTemplate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(
				fmt.Sprintf("Paused %s, cancelled %d instance(s)", args[0], cancelled)))
			return nil
		}),
	}
}

func templatesResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <template-id>",
		Short: "Expect a paused bill again",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			result, err := a.scheduler.ResumeTemplate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(
				fmt.Sprintf("Resumed %s, %d instance(s) created", args[0], len(result.Created))))
			return nil
		}),
	}
}

func templatesPurgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge <template-id>",
		Short: "Delete a template and all its instances; documents are kept unlinked",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			out := cmd.OutOrStdout()
			if yes, _ := cmd.Flags().GetBool("yes"); !yes {
				ok, err := cli.NewPrompter(cmd.InOrStdin(), out).Confirm(cmd.Context(),
					fmt.Sprintf("Permanently delete template %s and its history?", args[0]))
				if err != nil {
					return err
				}
				if !ok {
					_, _ = fmt.Fprintln(out, cli.FormatInfo("Nothing deleted"))
					return nil
				}
			}

			deleted, err := a.scheduler.PurgeTemplate(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, cli.FormatSuccess(
				fmt.Sprintf("Purged %s and %d instance(s)", args[0], deleted)))
			return nil
		}),
	}
	cmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	return cmd
}
