package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/schollz/progressbar/v3"
)

// FuzzyDecision is the user's answer to a fuzzy match.
type FuzzyDecision struct {
	TemplateID string
	// SameService means the amount changed but it is still the same bill.
	SameService bool
	Skip        bool
}

// Prompter asks the user to settle what the engine cannot decide alone.
type Prompter struct {
	writer io.Writer
	reader *LineReader
}

// NewPrompter creates a prompter reading from reader and writing to writer.
func NewPrompter(reader io.Reader, writer io.Writer) *Prompter {
	if reader == nil {
		reader = os.Stdin
	}
	if writer == nil {
		writer = os.Stdout
	}
	return &Prompter{reader: NewLineReader(reader), writer: writer}
}

// ResolveFuzzy shows a document next to the templates it nearly matched and asks
// which one it belongs to, if any.
func (p *Prompter) ResolveFuzzy(ctx context.Context, doc model.Document, candidates []model.FuzzyMatchCandidate) (FuzzyDecision, error) {
	if len(candidates) == 0 {
		return FuzzyDecision{Skip: true}, nil
	}

	if _, err := fmt.Fprintln(p.writer, RenderBox("Amount looks different", formatFuzzy(doc, candidates))); err != nil {
		return FuzzyDecision{}, fmt.Errorf("failed to write fuzzy match box: %w", err)
	}

	choices := make([]string, 0, len(candidates)+1)
	for i := range candidates {
		choices = append(choices, strconv.Itoa(i+1))
	}
	choices = append(choices, "k")

	choice, err := p.promptChoice(ctx, fmt.Sprintf("Template [1-%d] or [K]eep unlinked", len(candidates)), choices)
	if err != nil {
		return FuzzyDecision{}, err
	}
	if choice == "k" {
		return FuzzyDecision{Skip: true}, nil
	}

	idx, _ := strconv.Atoi(choice)
	candidate := candidates[idx-1]

	kind, err := p.promptChoice(ctx, "[S]ame service with a new price or [N]ew service", []string{"s", "n"})
	if err != nil {
		return FuzzyDecision{}, err
	}
	return FuzzyDecision{TemplateID: candidate.TemplateID, SameService: kind == "s"}, nil
}

// Confirm asks a yes/no question. Anything but y or yes is a no.
func (p *Prompter) Confirm(ctx context.Context, question string) (bool, error) {
	if _, err := fmt.Fprint(p.writer, FormatPrompt(question+" [y/N]")); err != nil {
		return false, fmt.Errorf("failed to write prompt: %w", err)
	}
	answer, err := p.reader.ReadLine(ctx)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func (p *Prompter) promptChoice(ctx context.Context, prompt string, validChoices []string) (string, error) {
	for {
		if _, err := fmt.Fprint(p.writer, FormatPrompt(prompt)); err != nil {
			return "", fmt.Errorf("failed to write prompt: %w", err)
		}

		input, err := p.reader.ReadLine(ctx)
		if err != nil {
			return "", err
		}

		choice := strings.ToLower(input)
		for _, valid := range validChoices {
			if choice == valid {
				return choice, nil
			}
		}

		if _, err := fmt.Fprintln(p.writer, FormatError("Invalid choice. Please try again.")); err != nil {
			slog.Warn("Failed to write error message", "error", err)
		}
	}
}

func formatFuzzy(doc model.Document, candidates []model.FuzzyMatchCandidate) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s %s  due %s\n\n",
		doc.VendorName, doc.Amount.StringFixed(2), doc.Currency, doc.DueDate.Format("2006-01-02"))

	rows := make([][]string, 0, len(candidates))
	for i, c := range candidates {
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			c.VendorDisplayName,
			c.ExistingTypicalAmount.StringFixed(2),
			fmt.Sprintf("%+.1f%%", c.PercentDifference),
			strconv.Itoa(c.DueDayOfMonth),
			strconv.Itoa(c.MatchedCount),
		})
	}
	b.WriteString(RenderTable([]string{"#", "Template", "Typical", "Diff", "Due day", "Matched"}, rows))
	return strings.TrimRight(b.String(), "\n")
}

// NewProgressBar creates the progress bar used by long running commands.
func NewProgressBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("[cyan][bold]"+description+"[reset]"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			if _, err := fmt.Fprintln(w); err != nil {
				slog.Warn("Failed to write newline after progress bar", "error", err)
			}
		}),
	)
}
