package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/cli"
	"github.com/Veraticus/the-dues-must-flow/internal/ingest"
	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/Veraticus/the-dues-must-flow/internal/recurring"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func documentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "documents",
		Aliases: []string{"docs"},
		Short:   "Add, import, list and delete bills",
	}
	cmd.AddCommand(documentsAddCmd())
	cmd.AddCommand(documentsImportCmd())
	cmd.AddCommand(documentsListCmd())
	cmd.AddCommand(documentsDeleteCmd())
	return cmd
}

func documentsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add one bill and match it against recurring templates",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			doc, err := documentFromFlags(cmd)
			if err != nil {
				return err
			}

			outcome, err := a.scheduler.IngestDocument(cmd.Context(), doc)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, describeOutcome(doc, outcome))

			if outcome.Kind == recurring.MatchFuzzy && !noPrompt(cmd) {
				pending := []ingest.PendingFuzzy{{Document: *doc, Candidates: outcome.FuzzyCandidates}}
				return resolvePending(cmd.Context(), a, cli.NewPrompter(cmd.InOrStdin(), out), out, pending)
			}
			return nil
		}),
	}

	cmd.Flags().String("vendor", "", "vendor name (required)")
	cmd.Flags().String("tax-id", "", "vendor tax ID")
	cmd.Flags().String("account", "", "bank account the bill is paid to")
	cmd.Flags().String("invoice", "", "invoice number")
	cmd.Flags().String("title", "", "document title (default: vendor)")
	cmd.Flags().String("amount", "", "amount due (required)")
	cmd.Flags().String("currency", "PLN", "currency code")
	cmd.Flags().String("due", "", "due date YYYY-MM-DD (required)")
	cmd.Flags().String("category", "other", "category (utility, telecom, rent, insurance, subscription, fuel, grocery, retail, other)")
	cmd.Flags().Bool("paid", false, "the bill is already paid")
	cmd.Flags().Bool("no-prompt", false, "leave fuzzy matches unresolved")
	_ = cmd.MarkFlagRequired("vendor")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("due")
	return cmd
}

func documentFromFlags(cmd *cobra.Command) (*model.Document, error) {
	flags := cmd.Flags()
	vendor, _ := flags.GetString("vendor")
	taxID, _ := flags.GetString("tax-id")
	account, _ := flags.GetString("account")
	invoice, _ := flags.GetString("invoice")
	title, _ := flags.GetString("title")
	amountText, _ := flags.GetString("amount")
	currency, _ := flags.GetString("currency")
	dueText, _ := flags.GetString("due")
	category, _ := flags.GetString("category")
	paid, _ := flags.GetBool("paid")

	amount, err := decimal.NewFromString(amountText)
	if err != nil || amount.IsNegative() {
		return nil, fmt.Errorf("invalid amount %q", amountText)
	}
	due, err := time.ParseInLocation(time.DateOnly, dueText, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("invalid due date %q, expected YYYY-MM-DD", dueText)
	}
	if title == "" {
		title = vendor
	}

	doc := &model.Document{
		Title:         title,
		VendorName:    vendor,
		VendorTaxID:   taxID,
		BankAccount:   account,
		InvoiceNumber: invoice,
		Amount:        amount,
		Currency:      strings.ToUpper(currency),
		DueDate:       due,
		Category:      model.ParseDocumentCategory(category),
		Source:        model.DocumentSourceManual,
	}
	if paid {
		doc.Status = model.DocumentPaid
	}
	return doc, nil
}

func documentsImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import <file>...",
		Short: "Import bills from YAML/JSON manifests or OFX/QFX statements",
		Args:  cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			var docs []model.Document
			for _, path := range args {
				loaded, err := ingest.LoadFile(ctx, path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				slog.Info("Loaded documents", "file", path, "count", len(loaded))
				docs = append(docs, loaded...)
			}
			if len(docs) == 0 {
				_, _ = fmt.Fprintln(out, cli.FormatInfo("Nothing to import"))
				return nil
			}

			bar := cli.NewProgressBar(cmd.ErrOrStderr(), len(docs), "Importing documents...")
			result, err := ingest.NewImporter(a.scheduler, a.store).Import(ctx, docs, func() { _ = bar.Add(1) })
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintln(out, cli.RenderBox("Import complete", importSummary(result)))
			for key, failure := range result.Failed {
				_, _ = fmt.Fprintln(out, cli.FormatError(fmt.Sprintf("%s: %v", key, failure)))
			}

			if len(result.Fuzzy) > 0 && !noPrompt(cmd) {
				return resolvePending(ctx, a, cli.NewPrompter(cmd.InOrStdin(), out), out, result.Fuzzy)
			}
			return nil
		}),
	}
	cmd.Flags().Bool("no-prompt", false, "leave fuzzy matches unresolved")
	return cmd
}

func importSummary(result ingest.Result) string {
	return fmt.Sprintf("  • Matched: %d\n  • Needs review: %d\n  • Unlinked: %d\n  • Already imported: %d\n  • Failed: %d",
		result.Matched, len(result.Fuzzy), result.Unlinked, result.Skipped, len(result.Failed))
}

// resolvePending asks about each fuzzy match in turn. Documents the user skips
// stay unlinked and can be matched later.
func resolvePending(ctx context.Context, a *app, prompter *cli.Prompter, out io.Writer, pending []ingest.PendingFuzzy) error {
	for i := range pending {
		p := &pending[i]
		decision, err := prompter.ResolveFuzzy(ctx, p.Document, p.Candidates)
		if err != nil {
			return err
		}
		if decision.Skip {
			continue
		}

		outcome, err := a.scheduler.ResolveFuzzyMatch(ctx, p.Document.ID, decision.TemplateID, decision.SameService)
		if err != nil {
			_, _ = fmt.Fprintln(out, cli.FormatError(fmt.Sprintf("%s: %v", p.Document.VendorName, err)))
			continue
		}
		_, _ = fmt.Fprintln(out, describeOutcome(&p.Document, outcome))
	}
	return nil
}

func describeOutcome(doc *model.Document, outcome recurring.MatchOutcome) string {
	switch outcome.Kind {
	case recurring.MatchMatched:
		return cli.FormatSuccess(fmt.Sprintf("%s matched instance %s", doc.VendorName, outcome.InstanceID))
	case recurring.MatchFuzzy:
		return cli.FormatWarning(fmt.Sprintf("%s looks like %d known bill(s) but the amount differs",
			doc.VendorName, len(outcome.FuzzyCandidates)))
	default:
		msg := fmt.Sprintf("%s saved as %s, not linked", doc.VendorName, doc.ID)
		if outcome.Reason != "" {
			msg += " (" + outcome.Reason + ")"
		}
		return cli.FormatInfo(msg)
	}
}

func documentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored documents",
		RunE: withApp(func(cmd *cobra.Command, a *app, _ []string) error {
			docs, err := a.store.GetDocuments(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprint(cmd.OutOrStdout(), documentTable(docs))
			return nil
		}),
	}
}

func documentsDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Delete a document, optionally ending its recurring bill",
		Long: `Delete a document. The instance it was matched to goes back to expected.

With --cancel-recurring the template is paused and every open instance from
the document's month on is cancelled as well.`,
		Args: cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			cancelRecurring, _ := cmd.Flags().GetBool("cancel-recurring")
			out := cmd.OutOrStdout()

			if !cancelRecurring {
				if err := a.orchestrator.DeleteDocumentOnly(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, _ = fmt.Fprintln(out, cli.FormatSuccess("Deleted document "+args[0]))
				return nil
			}

			cancelled, err := a.orchestrator.DeleteDocumentAndCancelRecurring(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, cli.FormatSuccess(
				fmt.Sprintf("Deleted document %s and cancelled %d upcoming instance(s)", args[0], cancelled)))
			return nil
		}),
	}
	cmd.Flags().Bool("cancel-recurring", false, "also stop the recurring bill this document belongs to")
	return cmd
}

func noPrompt(cmd *cobra.Command) bool {
	v, err := cmd.Flags().GetBool("no-prompt")
	if err != nil {
		return false
	}
	return v
}
