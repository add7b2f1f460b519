package main

import (
	"fmt"
	"strconv"

	"github.com/Veraticus/the-dues-must-flow/internal/cli"
	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

func formatAmount(amount *decimal.Decimal, currency string) string {
	if amount == nil {
		return "-"
	}
	if currency == "" {
		return amount.StringFixed(2)
	}
	return amount.StringFixed(2) + " " + currency
}

func formatRange(t *model.RecurringTemplate) string {
	if !t.HasAmount {
		return "-"
	}
	if t.AmountMin.Equal(t.AmountMax) {
		return t.AmountMin.StringFixed(2) + " " + t.Currency
	}
	return fmt.Sprintf("%s-%s %s", t.AmountMin.StringFixed(2), t.AmountMax.StringFixed(2), t.Currency)
}

func styleStatus(status model.InstanceStatus) string {
	switch status {
	case model.InstancePaid:
		return cli.SuccessStyle.Render(string(status))
	case model.InstanceMatched:
		return cli.InfoStyle.Render(string(status))
	case model.InstanceMissed:
		return cli.ErrorStyle.Render(string(status))
	case model.InstanceCancelled:
		return cli.SubtleStyle.Render(string(status))
	default:
		return string(status)
	}
}

func templateTable(templates []model.RecurringTemplate) string {
	rows := make([][]string, 0, len(templates))
	for i := range templates {
		t := &templates[i]
		state := "active"
		if !t.IsActive {
			state = "paused"
		}
		rows = append(rows, []string{
			t.ID,
			t.VendorDisplayName,
			strconv.Itoa(t.DueDayOfMonth),
			formatRange(t),
			state,
			fmt.Sprintf("%d/%d/%d", t.MatchedDocumentCount, t.PaidInstanceCount, t.MissedInstanceCount),
		})
	}
	return cli.RenderTable([]string{"ID", "Vendor", "Due day", "Amount", "State", "Matched/Paid/Missed"}, rows)
}

// instanceTable renders instances. names maps template IDs to vendor names and may be nil.
func instanceTable(instances []model.RecurringInstance, names map[string]string) string {
	rows := make([][]string, 0, len(instances))
	for i := range instances {
		inst := &instances[i]
		vendor := names[inst.TemplateID]
		if vendor == "" {
			vendor = inst.TemplateID
		}
		rows = append(rows, []string{
			inst.ID,
			vendor,
			inst.PeriodKey,
			inst.EffectiveDueDate().Format(dateLayout),
			formatAmount(inst.EffectiveAmount(), ""),
			styleStatus(inst.Status),
		})
	}
	return cli.RenderTable([]string{"ID", "Vendor", "Period", "Due", "Amount", "Status"}, rows)
}

func candidateTable(candidates []model.RecurringCandidate) string {
	rows := make([][]string, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		day := "-"
		if c.DominantDueDayOfMonth != nil {
			day = strconv.Itoa(*c.DominantDueDayOfMonth)
		}
		iban := ""
		if c.HasStableIBAN {
			iban = "yes"
		}
		rows = append(rows, []string{
			c.VendorFingerprint,
			c.VendorDisplayName,
			strconv.Itoa(c.DocumentCount),
			formatAmount(c.AverageAmount, c.Currency),
			day,
			fmt.Sprintf("%.0f%%", c.ConfidenceScore*100),
			iban,
		})
	}
	return cli.RenderTable([]string{"Fingerprint", "Vendor", "Docs", "Average", "Day", "Confidence", "Stable IBAN"}, rows)
}

func documentTable(docs []model.Document) string {
	rows := make([][]string, 0, len(docs))
	for i := range docs {
		d := &docs[i]
		link := ""
		if d.IsLinked() {
			link = d.RecurringInstanceID
		}
		rows = append(rows, []string{
			d.ID,
			d.VendorName,
			d.DueDate.Format(dateLayout),
			formatAmount(&d.Amount, d.Currency),
			string(d.Status),
			link,
		})
	}
	return cli.RenderTable([]string{"ID", "Vendor", "Due", "Amount", "Status", "Instance"}, rows)
}
