package model

import (
	"testing"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func expectedInstance() *RecurringInstance {
	return &RecurringInstance{
		ID:              "inst-1",
		TemplateID:      "tpl-1",
		PeriodKey:       "2025-01",
		ExpectedDueDate: day(2025, time.January, 10),
		Status:          InstanceExpected,
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from InstanceStatus
		to   InstanceStatus
		want bool
	}{
		{InstanceExpected, InstanceMatched, true},
		{InstanceExpected, InstancePaid, true},
		{InstanceExpected, InstanceMissed, true},
		{InstanceExpected, InstanceCancelled, true},
		{InstanceMatched, InstancePaid, true},
		{InstanceMatched, InstanceCancelled, true},
		{InstanceMatched, InstanceExpected, true},
		{InstanceMatched, InstanceMissed, false},
		{InstancePaid, InstanceExpected, false},
		{InstancePaid, InstanceCancelled, false},
		{InstanceMissed, InstanceMatched, false},
		{InstanceMissed, InstanceExpected, false},
		{InstanceCancelled, InstanceExpected, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestInstanceStatus_IsTerminal(t *testing.T) {
	assert.False(t, InstanceExpected.IsTerminal())
	assert.False(t, InstanceMatched.IsTerminal())
	assert.True(t, InstancePaid.IsTerminal())
	assert.True(t, InstanceMissed.IsTerminal())
	assert.True(t, InstanceCancelled.IsTerminal())
	assert.False(t, InstanceStatus("bogus").Valid())
}

func TestRecurringInstance_MatchAndUnlink(t *testing.T) {
	inst := expectedInstance()
	at := time.Date(2025, time.January, 9, 15, 4, 0, 0, time.UTC)

	err := inst.MatchDocument("doc-1", time.Date(2025, time.January, 11, 18, 0, 0, 0, time.UTC), decimal.RequireFromString("52.30"), "FV/1", at)
	require.NoError(t, err)

	assert.Equal(t, InstanceMatched, inst.Status)
	assert.Equal(t, "doc-1", inst.MatchedDocumentID)
	assert.Equal(t, day(2025, time.January, 11), inst.EffectiveDueDate())
	assert.Equal(t, "52.3", inst.EffectiveAmount().String())
	assert.Equal(t, "FV/1", inst.InvoiceNumber)
	require.NotNil(t, inst.MatchedAt)

	// A matched instance cannot take a second document.
	err = inst.MatchDocument("doc-2", day(2025, time.January, 10), decimal.NewFromInt(50), "", at)
	assert.ErrorIs(t, err, common.ErrInvalidState)
	assert.Equal(t, "doc-1", inst.MatchedDocumentID)

	require.NoError(t, inst.UnlinkDocument())
	assert.Equal(t, InstanceExpected, inst.Status)
	assert.Empty(t, inst.MatchedDocumentID)
	assert.Nil(t, inst.FinalDueDate)
	assert.Nil(t, inst.FinalAmount)
	assert.Nil(t, inst.MatchedAt)
	assert.Empty(t, inst.InvoiceNumber)
	assert.Equal(t, day(2025, time.January, 10), inst.EffectiveDueDate())
}

func TestRecurringInstance_MatchRequiresDocument(t *testing.T) {
	inst := expectedInstance()
	err := inst.MatchDocument("", day(2025, time.January, 10), decimal.NewFromInt(1), "", time.Now())
	assert.ErrorIs(t, err, common.ErrInvalidState)
	assert.Equal(t, InstanceExpected, inst.Status)
}

func TestRecurringInstance_MarkPaid(t *testing.T) {
	inst := expectedInstance()
	inst.AddSideEffects(
		ExternalHandle{Kind: HandleReminder, ID: "r1"},
		ExternalHandle{Kind: HandleCalendar, ID: "c1"},
	)
	require.True(t, inst.NotificationsScheduled())
	assert.Equal(t, "c1", inst.CalendarEventID())

	handles, err := inst.MarkPaid()
	require.NoError(t, err)
	assert.Len(t, handles, 2)
	assert.Equal(t, InstancePaid, inst.Status)
	assert.False(t, inst.NotificationsScheduled())
	assert.Empty(t, inst.CalendarEventID())

	_, err = inst.MarkPaid()
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

func TestRecurringInstance_Cancel(t *testing.T) {
	inst := expectedInstance()
	require.NoError(t, inst.MatchDocument("doc-1", day(2025, time.January, 10), decimal.NewFromInt(50), "", time.Now()))
	inst.AddSideEffects(ExternalHandle{Kind: HandleReminder, ID: "r1"})

	docID, handles, err := inst.Cancel()
	require.NoError(t, err)
	assert.Equal(t, "doc-1", docID)
	assert.Equal(t, []ExternalHandle{{Kind: HandleReminder, ID: "r1"}}, handles)
	assert.Equal(t, InstanceCancelled, inst.Status)
	assert.Empty(t, inst.MatchedDocumentID)

	_, _, err = inst.Cancel()
	assert.ErrorIs(t, err, common.ErrInvalidState)
}

func TestRecurringInstance_MarkMissed(t *testing.T) {
	inst := expectedInstance()
	require.NoError(t, inst.MarkMissed())
	assert.Equal(t, InstanceMissed, inst.Status)

	matched := expectedInstance()
	require.NoError(t, matched.MatchDocument("doc-1", day(2025, time.January, 10), decimal.NewFromInt(50), "", time.Now()))
	assert.ErrorIs(t, matched.MarkMissed(), common.ErrInvalidState)
}

func TestRecurringInstance_IsOverdue(t *testing.T) {
	tests := []struct {
		name      string
		status    InstanceStatus
		now       time.Time
		tolerance int
		want      bool
	}{
		{"inside tolerance", InstanceExpected, day(2025, time.January, 13), 3, false},
		{"one day past tolerance", InstanceExpected, day(2025, time.January, 14), 3, true},
		{"zero tolerance on due day", InstanceExpected, time.Date(2025, time.January, 10, 23, 0, 0, 0, time.UTC), 0, false},
		{"zero tolerance day after", InstanceExpected, day(2025, time.January, 11), 0, true},
		{"matched never overdue", InstanceMatched, day(2025, time.March, 1), 3, false},
		{"missed never overdue", InstanceMissed, day(2025, time.March, 1), 3, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := expectedInstance()
			inst.Status = tt.status
			assert.Equal(t, tt.want, inst.IsOverdue(tt.now, tt.tolerance))
		})
	}
}

func TestSplitHandles(t *testing.T) {
	reminders, calendar := SplitHandles([]ExternalHandle{
		{Kind: HandleReminder, ID: "r1"},
		{Kind: HandleCalendar, ID: "c1"},
		{Kind: HandleReminder, ID: ""},
		{Kind: HandleReminder, ID: "r2"},
	})
	assert.Equal(t, []string{"r1", "r2"}, reminders)
	assert.Equal(t, []string{"c1"}, calendar)
}
