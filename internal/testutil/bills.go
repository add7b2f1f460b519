package testutil

import (
	"fmt"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/fingerprint"
	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/shopspring/decimal"
)

// BillSeries builds one vendor's bills, one per month.
//
//	docs := testutil.NewBillSeries("PGE Obrót", "5260250995").
//		Starting(2024, time.September).
//		OnDay(10).
//		Amounts("52", "52", "52", "52").
//		Build()
type BillSeries struct {
	start    time.Time
	vendor   string
	taxID    string
	account  string
	currency string
	category model.DocumentCategory
	amounts  []string
	day      int
}

// NewBillSeries starts a series for a vendor. Defaults: January 2025, day 10,
// PLN, utility.
func NewBillSeries(vendor, taxID string) *BillSeries {
	return &BillSeries{
		vendor:   vendor,
		taxID:    taxID,
		start:    time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC),
		day:      10,
		currency: "PLN",
		category: model.CategoryUtility,
	}
}

// Starting sets the month of the first bill.
func (b *BillSeries) Starting(year int, month time.Month) *BillSeries {
	b.start = time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	return b
}

// OnDay sets the due day, clamped to each month's length.
func (b *BillSeries) OnDay(day int) *BillSeries {
	b.day = day
	return b
}

// Amounts sets one amount per month; the series has as many bills as amounts.
func (b *BillSeries) Amounts(amounts ...string) *BillSeries {
	b.amounts = amounts
	return b
}

// Account sets the bank account every bill is paid to.
func (b *BillSeries) Account(account string) *BillSeries {
	b.account = account
	return b
}

// Category sets the category of every bill.
func (b *BillSeries) Category(category model.DocumentCategory) *BillSeries {
	b.category = category
	return b
}

// Currency sets the currency of every bill.
func (b *BillSeries) Currency(currency string) *BillSeries {
	b.currency = currency
	return b
}

// Build returns the bills. They have no IDs and are not linked.
func (b *BillSeries) Build() []model.Document {
	fp := fingerprint.Fingerprint(b.vendor, b.taxID)
	docs := make([]model.Document, 0, len(b.amounts))
	for i, amount := range b.amounts {
		month := b.start.AddDate(0, i, 0)
		docs = append(docs, model.Document{
			Title:             fmt.Sprintf("%s %s", b.vendor, model.PeriodKey(month)),
			VendorName:        b.vendor,
			VendorTaxID:       b.taxID,
			VendorFingerprint: fp,
			BankAccount:       b.account,
			Amount:            decimal.RequireFromString(amount),
			Currency:          b.currency,
			DueDate:           model.DueDateInMonth(month, b.day),
			Category:          b.category,
		})
	}
	return docs
}
