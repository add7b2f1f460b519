package recurring

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/Veraticus/the-dues-must-flow/internal/model"
	"github.com/Veraticus/the-dues-must-flow/internal/service/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func reminderFor(_ context.Context, instanceID string, _ time.Time, _ []int) ([]string, error) {
	return []string{"r-" + instanceID}, nil
}

func eventFor(_ context.Context, instance model.RecurringInstance, _ string) (string, error) {
	return "evt-" + instance.ID, nil
}

func TestSideEffects_ScheduledOnGeneration(t *testing.T) {
	ctrl := gomock.NewController(t)
	reminders := mocks.NewMockReminderScheduler(ctrl)
	calendar := mocks.NewMockCalendarSync(ctrl)

	reminders.EXPECT().
		Schedule(gomock.Any(), gomock.Any(), gomock.Any(), []int{3, 1, 0}).
		DoAndReturn(reminderFor).
		Times(3)
	calendar.EXPECT().
		CreateEvent(gomock.Any(), gomock.Any(), "PGE Obrót payment due").
		DoAndReturn(eventFor).
		Times(3)

	e := newTestEngineWith(t, day(2025, time.January, 1), reminders, calendar)
	template := e.createTemplate(t, pgeTemplate(10, "50", "55"))

	for period, inst := range e.byPeriod(t, template.ID) {
		assert.Equal(t, []string{"r-" + inst.ID}, inst.ReminderHandles(), period)
		assert.Equal(t, "evt-"+inst.ID, inst.CalendarEventID(), period)
		assert.True(t, inst.NotificationsScheduled(), period)
	}
}

func TestSideEffects_PastInstancesSkipped(t *testing.T) {
	ctrl := gomock.NewController(t)
	reminders := mocks.NewMockReminderScheduler(ctrl)

	reminders.EXPECT().
		Schedule(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(reminderFor).
		Times(2)

	e := newTestEngineWith(t, day(2025, time.January, 15), reminders, nil)
	template := e.createTemplate(t, pgeTemplate(10, "50", "55"))

	instances := e.byPeriod(t, template.ID)
	january, february := instances["2025-01"], instances["2025-02"]
	assert.False(t, january.NotificationsScheduled())
	assert.True(t, february.NotificationsScheduled())
}

func TestSideEffects_SchedulingFailureIsNotFatal(t *testing.T) {
	ctrl := gomock.NewController(t)
	reminders := mocks.NewMockReminderScheduler(ctrl)

	reminders.EXPECT().
		Schedule(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil, errors.New("notification service down")).
		Times(3)

	e := newTestEngineWith(t, day(2025, time.January, 1), reminders, nil)
	result, err := e.scheduler.CreateTemplate(context.Background(), pgeTemplate(10, "50", "55"), false)
	require.NoError(t, err)
	require.Len(t, result.Created, 3)

	for _, inst := range result.Created {
		assert.Empty(t, e.instance(t, inst.ID).SideEffects)
	}
}

func TestSideEffects_CancelledWithInstance(t *testing.T) {
	ctrl := gomock.NewController(t)
	reminders := mocks.NewMockReminderScheduler(ctrl)
	calendar := mocks.NewMockCalendarSync(ctrl)

	reminders.EXPECT().Schedule(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(reminderFor).Times(3)
	calendar.EXPECT().CreateEvent(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(eventFor).Times(3)

	e := newTestEngineWith(t, day(2025, time.January, 1), reminders, calendar)
	template := e.createTemplate(t, pgeTemplate(10, "50", "55"))
	feb := e.byPeriod(t, template.ID)["2025-02"]

	reminders.EXPECT().Cancel(gomock.Any(), []string{"r-" + feb.ID}).Return(nil)
	calendar.EXPECT().DeleteEvent(gomock.Any(), "evt-"+feb.ID).Return(nil)

	require.NoError(t, e.orchestrator.CancelInstance(context.Background(), feb.ID))
	assert.Empty(t, e.instance(t, feb.ID).SideEffects)
}

func TestSideEffects_CancelledOnPayment(t *testing.T) {
	ctrl := gomock.NewController(t)
	reminders := mocks.NewMockReminderScheduler(ctrl)

	reminders.EXPECT().Schedule(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(reminderFor).Times(3)

	e := newTestEngineWith(t, day(2025, time.January, 1), reminders, nil)
	template := e.createTemplate(t, pgeTemplate(10, "50", "55"))
	jan := e.byPeriod(t, template.ID)["2025-01"]

	reminders.EXPECT().Cancel(gomock.Any(), []string{"r-" + jan.ID}).Return(errors.New("already fired"))

	// A failed cancellation is logged, the payment still stands.
	require.NoError(t, e.scheduler.MarkInstancePaid(context.Background(), jan.ID))
	paid := e.instance(t, jan.ID)
	assert.Equal(t, model.InstancePaid, paid.Status)
	assert.Empty(t, paid.SideEffects)
}

func TestSideEffects_RescheduledAfterUnlink(t *testing.T) {
	ctrl := gomock.NewController(t)
	reminders := mocks.NewMockReminderScheduler(ctrl)

	scheduled := 0
	nextHandle := func(_ context.Context, _ string, _ time.Time, _ []int) ([]string, error) {
		scheduled++
		return []string{fmt.Sprintf("r-%d", scheduled)}, nil
	}
	reminders.EXPECT().Schedule(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(nextHandle).Times(3)

	e := newTestEngineWith(t, day(2025, time.January, 1), reminders, nil)
	template := e.createTemplate(t, pgeTemplate(10, "50", "55"))
	jan := e.byPeriod(t, template.ID)["2025-01"]
	old := jan.ReminderHandles()
	require.Len(t, old, 1)

	doc := pgeDocument(day(2025, time.January, 10), "52")
	require.Equal(t, MatchMatched, e.ingest(t, doc).Kind)

	gomock.InOrder(
		reminders.EXPECT().Cancel(gomock.Any(), old).Return(nil),
		reminders.EXPECT().Schedule(gomock.Any(), jan.ID, day(2025, time.January, 10), gomock.Any()).DoAndReturn(nextHandle),
	)

	require.NoError(t, e.orchestrator.DeleteDocumentOnly(context.Background(), doc.ID))

	after := e.instance(t, jan.ID)
	assert.Equal(t, model.InstanceExpected, after.Status)
	assert.Equal(t, []string{"r-4"}, after.ReminderHandles())
}

func TestSideEffects_WithdrawnOnCancelRecurring(t *testing.T) {
	ctrl := gomock.NewController(t)
	reminders := mocks.NewMockReminderScheduler(ctrl)

	reminders.EXPECT().Schedule(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(reminderFor).Times(3)

	e := newTestEngineWith(t, day(2025, time.January, 1), reminders, nil)
	template := e.createTemplate(t, pgeTemplate(10, "50", "55"))
	instances := e.byPeriod(t, template.ID)

	doc := pgeDocument(day(2025, time.January, 10), "52")
	require.Equal(t, MatchMatched, e.ingest(t, doc).Kind)

	reminders.EXPECT().
		Cancel(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, handles []string) error {
			assert.ElementsMatch(t, []string{
				"r-" + instances["2025-01"].ID,
				"r-" + instances["2025-02"].ID,
				"r-" + instances["2025-03"].ID,
			}, handles)
			return nil
		})

	cancelled, err := e.orchestrator.DeleteDocumentAndCancelRecurring(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, cancelled)
}
