package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"

	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/aclindsa/ofxgo"
	"github.com/shopspring/decimal"
)

var (
	severityPattern = regexp.MustCompile(`(?i)<SEVERITY>(Info|Warn|Error)</SEVERITY>`)
	openTagPattern  = regexp.MustCompile(`(?m)^(\s*<[A-Z][A-Z0-9._]*[A-Z0-9])$`)
)

// cardPrefixes are noise some banks put in front of the payee name.
var cardPrefixes = []string{
	"POS PURCHASE ",
	"PURCHASE AUTHORIZED ON ",
	"DEBIT CARD PURCHASE ",
	"ACH DEBIT ",
	"DIRECT DEBIT ",
	"STANDING ORDER ",
	"CHECK CARD ",
	"VISA PURCHASE ",
	"MC PURCHASE ",
}

// nonBillTypes are outgoing transactions that never represent a bill, keyed by
// their OFX type name.
var nonBillTypes = map[string]bool{
	ofxgo.TrnTypeATM.String():    true,
	ofxgo.TrnTypeFee.String():    true,
	ofxgo.TrnTypeSrvChg.String(): true,
	ofxgo.TrnTypeXfer.String():   true,
	ofxgo.TrnTypeCash.String():   true,
}

// OFXParser reads bank and credit card statements. Every outgoing payment becomes a
// paid document, which lets the detector learn standing orders and direct debits.
type OFXParser struct{}

// NewOFXParser creates a statement parser.
func NewOFXParser() *OFXParser {
	return &OFXParser{}
}

// preprocess fixes formatting mistakes common in bank exports.
func (p *OFXParser) preprocess(content string) string {
	content = strings.TrimLeft(content, " \t\r\n")
	content = severityPattern.ReplaceAllStringFunc(content, strings.ToUpper)
	return openTagPattern.ReplaceAllString(content, "$1>")
}

// Parse converts the outgoing payments of every statement in r into documents.
func (p *OFXParser) Parse(ctx context.Context, r io.Reader) ([]model.Document, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read OFX file: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := ofxgo.ParseResponse(strings.NewReader(p.preprocess(string(content))))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OFX file: %w", err)
	}

	var docs []model.Document
	var statements int

	for _, msg := range resp.Bank {
		stmt, ok := msg.(*ofxgo.StatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		statements++
		docs = append(docs, p.convert(stmt.BankTranList.Transactions, string(stmt.BankAcctFrom.AcctID), stmt.CurDef.String())...)
	}

	for _, msg := range resp.CreditCard {
		stmt, ok := msg.(*ofxgo.CCStatementResponse)
		if !ok || stmt.BankTranList == nil {
			continue
		}
		statements++
		docs = append(docs, p.convert(stmt.BankTranList.Transactions, string(stmt.CCAcctFrom.AcctID), stmt.CurDef.String())...)
	}

	slog.Info("Parsed OFX file", "statements", statements, "documents", len(docs))
	return docs, nil
}

func (p *OFXParser) convert(transactions []ofxgo.Transaction, accountID, currency string) []model.Document {
	var docs []model.Document
	for _, tx := range transactions {
		if tx.TrnAmt.Sign() >= 0 || nonBillTypes[tx.TrnType.String()] {
			continue
		}

		amount, err := decimal.NewFromString(tx.TrnAmt.FloatString(2))
		if err != nil {
			slog.Warn("Skipping transaction with unreadable amount", "fitid", tx.FiTID, "error", err)
			continue
		}

		payee := payeeName(tx)
		if payee == "" {
			continue
		}

		docs = append(docs, model.Document{
			ID:            fmt.Sprintf("ofx-%s-%s", accountID, tx.FiTID),
			Title:         strings.TrimSpace(string(tx.Name)),
			VendorName:    payee,
			InvoiceNumber: strings.TrimSpace(string(tx.RefNum)),
			Amount:        amount.Abs(),
			Currency:      currency,
			DueDate:       tx.DtPosted.Time,
			Category:      model.CategoryOther,
			Status:        model.DocumentPaid,
			Source:        model.DocumentSourceOFX,
		})
	}
	return docs
}

// payeeName picks the cleanest vendor name a transaction offers.
func payeeName(tx ofxgo.Transaction) string {
	if tx.Payee != nil && tx.Payee.Name != "" {
		return strings.TrimSpace(string(tx.Payee.Name))
	}

	name := strings.TrimSpace(string(tx.Name))
	if tx.Memo != "" && isGeneric(name) {
		name = strings.TrimSpace(string(tx.Memo))
	}

	upper := strings.ToUpper(name)
	for _, prefix := range cardPrefixes {
		if strings.HasPrefix(upper, prefix) {
			name = name[len(prefix):]
			break
		}
	}

	// Some banks prefix the posting date as "MM/DD ".
	if len(name) > 5 && name[2] == '/' && name[5] == ' ' {
		name = strings.TrimSpace(name[6:])
	}
	return name
}

func isGeneric(name string) bool {
	switch strings.ToUpper(name) {
	case "", "DEBIT", "PAYMENT", "PURCHASE", "DIRECT DEBIT", "POS TRANSACTION", "CARD PURCHASE":
		return true
	}
	return false
}
