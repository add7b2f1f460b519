package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fuzzyFixture() (model.Document, []model.FuzzyMatchCandidate) {
	doc := model.Document{
		ID:         "doc-1",
		VendorName: "PGE Obrót",
		Amount:     decimal.RequireFromString("160"),
		Currency:   "PLN",
		DueDate:    time.Date(2025, time.February, 10, 0, 0, 0, 0, time.UTC),
	}
	candidates := []model.FuzzyMatchCandidate{
		{
			TemplateID:            "tpl-1",
			VendorDisplayName:     "PGE Obrót",
			ExistingTypicalAmount: decimal.RequireFromString("105"),
			PercentDifference:     52.38,
			DueDayOfMonth:         10,
			MatchedCount:          4,
		},
		{
			TemplateID:            "tpl-2",
			VendorDisplayName:     "PGE Dystrybucja",
			ExistingTypicalAmount: decimal.RequireFromString("110"),
			PercentDifference:     45.45,
			DueDayOfMonth:         12,
			MatchedCount:          1,
		},
	}
	return doc, candidates
}

func TestPrompter_ResolveFuzzy(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected FuzzyDecision
	}{
		{name: "same service", input: "1\ns\n", expected: FuzzyDecision{TemplateID: "tpl-1", SameService: true}},
		{name: "new service", input: "2\nn\n", expected: FuzzyDecision{TemplateID: "tpl-2"}},
		{name: "keep unlinked", input: "k\n", expected: FuzzyDecision{Skip: true}},
		{name: "invalid then valid", input: "7\nK\n", expected: FuzzyDecision{Skip: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewPrompter(strings.NewReader(tt.input), &out)
			doc, candidates := fuzzyFixture()

			decision, err := p.ResolveFuzzy(context.Background(), doc, candidates)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, decision)

			assert.Contains(t, out.String(), "PGE Dystrybucja")
			assert.Contains(t, out.String(), "+52.4%")
			assert.Contains(t, out.String(), "160.00 PLN")
		})
	}
}

func TestPrompter_ResolveFuzzy_NoCandidates(t *testing.T) {
	p := NewPrompter(strings.NewReader(""), &bytes.Buffer{})
	doc, _ := fuzzyFixture()

	decision, err := p.ResolveFuzzy(context.Background(), doc, nil)
	require.NoError(t, err)
	assert.True(t, decision.Skip)
}

func TestPrompter_ResolveFuzzy_InputEnds(t *testing.T) {
	p := NewPrompter(strings.NewReader("1\n"), &bytes.Buffer{})
	doc, candidates := fuzzyFixture()

	_, err := p.ResolveFuzzy(context.Background(), doc, candidates)
	assert.Error(t, err)
}

func TestPrompter_Confirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"maybe\n", false},
	}

	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			p := NewPrompter(strings.NewReader(tt.input), &bytes.Buffer{})
			got, err := p.Confirm(context.Background(), "Cancel 3 future instances?")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderTable(t *testing.T) {
	out := RenderTable([]string{"Period", "Status"}, [][]string{
		{"2025-01", "paid"},
		{"2025-02", "expected"},
	})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Period")
	assert.Equal(t, "2025-01  paid", lines[1])
	assert.Equal(t, "2025-02  expected", lines[2])
}
