package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/model"
)

func TestValidateContext(t *testing.T) {
	tests := []struct {
		ctx     context.Context
		name    string
		wantErr bool
	}{
		{
			name:    "valid context",
			ctx:     context.Background(),
			wantErr: false,
		},
		{
			name:    "nil context",
			ctx:     nil,
			wantErr: true,
		},
		{
			name: "canceled context still valid",
			ctx: func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			}(),
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateContext(tt.ctx)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateContext() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateString(t *testing.T) {
	tests := []struct {
		name      string
		str       string
		paramName string
		wantErr   bool
	}{
		{name: "valid string", str: "test", paramName: "param"},
		{name: "empty string", str: "", paramName: "param", wantErr: true},
		{name: "whitespace only", str: "   ", paramName: "param", wantErr: true},
		{name: "string with spaces", str: "  test  ", paramName: "param"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateString(tt.str, tt.paramName)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateString() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !strings.Contains(err.Error(), tt.paramName) {
				t.Errorf("validateString() error should contain param name %s, got %v", tt.paramName, err)
			}
		})
	}
}

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		doc     *model.Document
		name    string
		wantErr bool
	}{
		{
			name: "valid document",
			doc:  testDocument("doc-1", day(2025, time.January, 10), "10"),
		},
		{
			name:    "nil document",
			wantErr: true,
		},
		{
			name: "missing ID",
			doc: func() *model.Document {
				d := testDocument("", day(2025, time.January, 10), "10")
				return d
			}(),
			wantErr: true,
		},
		{
			name: "missing due date",
			doc: func() *model.Document {
				d := testDocument("doc-1", day(2025, time.January, 10), "10")
				d.DueDate = time.Time{}
				return d
			}(),
			wantErr: true,
		},
		{
			name: "missing currency",
			doc: func() *model.Document {
				d := testDocument("doc-1", day(2025, time.January, 10), "10")
				d.Currency = " "
				return d
			}(),
			wantErr: true,
		},
		{
			name: "instance link without template",
			doc: func() *model.Document {
				d := testDocument("doc-1", day(2025, time.January, 10), "10")
				d.RecurringInstanceID = "inst-1"
				return d
			}(),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateDocument(tt.doc)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateDocument() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateInstance(t *testing.T) {
	valid := func() *model.RecurringInstance {
		return testInstance("inst-1", "tmpl-1", "2025-01", day(2025, time.January, 10))
	}

	tests := []struct {
		instance *model.RecurringInstance
		name     string
		wantErr  bool
	}{
		{name: "valid instance", instance: valid()},
		{name: "nil instance", wantErr: true},
		{
			name: "bad period key",
			instance: func() *model.RecurringInstance {
				i := valid()
				i.PeriodKey = "2025-1"
				return i
			}(),
			wantErr: true,
		},
		{
			name: "unknown status",
			instance: func() *model.RecurringInstance {
				i := valid()
				i.Status = "overdue"
				return i
			}(),
			wantErr: true,
		},
		{
			name: "matched without document",
			instance: func() *model.RecurringInstance {
				i := valid()
				i.Status = model.InstanceMatched
				return i
			}(),
			wantErr: true,
		},
		{
			name: "missed with document",
			instance: func() *model.RecurringInstance {
				i := valid()
				i.Status = model.InstanceMissed
				i.MatchedDocumentID = "doc-1"
				return i
			}(),
			wantErr: true,
		},
		{
			name: "paid after document deletion",
			instance: func() *model.RecurringInstance {
				i := valid()
				i.Status = model.InstancePaid
				return i
			}(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateInstance(tt.instance)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateInstance() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSuppression(t *testing.T) {
	until := day(2025, time.March, 1)

	tests := []struct {
		suppression *model.Suppression
		name        string
		wantErr     bool
	}{
		{
			name:        "permanent dismissal",
			suppression: &model.Suppression{VendorFingerprint: "fp", Kind: model.SuppressionDismissed},
		},
		{
			name:        "snooze with expiry",
			suppression: &model.Suppression{VendorFingerprint: "fp", Kind: model.SuppressionSnoozed, Until: &until},
		},
		{
			name:        "dismissal with expiry",
			suppression: &model.Suppression{VendorFingerprint: "fp", Kind: model.SuppressionDismissed, Until: &until},
			wantErr:     true,
		},
		{
			name:        "missing fingerprint",
			suppression: &model.Suppression{Kind: model.SuppressionDismissed},
			wantErr:     true,
		},
		{
			name:        "unknown kind",
			suppression: &model.Suppression{VendorFingerprint: "fp", Kind: "muted"},
			wantErr:     true,
		},
		{name: "nil suppression", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateSuppression(tt.suppression)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateSuppression() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
