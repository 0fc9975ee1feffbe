package healthevent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/doug-martin/goqu/v9"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/healthevents/internal/domain/timing"
)

func TestInsertQuery(t *testing.T) {
	events := []*HealthEvent{
		{ID: uuid.New(), PatientID: uuid.New(), EventDateTime: time.Now(), EventTiming: timing.Exact,
			Resource: ResourceRef{EventType: "MedicationRequest", EventReferenceID: "mr-1"}},
		{ID: uuid.New(), PatientID: uuid.New(), EventDateTime: time.Now(), EventTiming: timing.Morning,
			Resource: ResourceRef{EventType: "MedicationRequest", EventReferenceID: "mr-1"}, Sequence: 1},
	}
	query, args, err := insertQuery(events)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(query, `INSERT INTO "health_events"`), query)
	assert.Contains(t, query, `"event_reference_id"`)
	assert.Contains(t, query, "$20")
	assert.Len(t, args, 20)
	assert.Contains(t, args, "MORN")
}

func TestDeleteSeriesQuery(t *testing.T) {
	query, args, err := deleteSeriesQuery("mr-1")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(query, `DELETE FROM "health_events"`), query)
	assert.Contains(t, query, `"event_reference_id" = $1`)
	assert.Equal(t, []interface{}{"mr-1"}, args)
}

func TestInWindow(t *testing.T) {
	patient := uuid.New()
	window := timing.Interval{
		Start: time.Date(2023, 6, 15, 10, 0, 0, 0, time.UTC),
		End:   time.Date(2023, 6, 15, 16, 0, 0, 0, time.UTC),
	}
	day := timing.Interval{
		Start: time.Date(2023, 6, 15, 4, 0, 0, 0, time.UTC),
		End:   time.Date(2023, 6, 16, 4, 0, 0, 0, time.UTC),
	}

	t.Run("exact and symbolic", func(t *testing.T) {
		where, ok := inWindow(WindowQuery{PatientID: patient, Window: window, Timing: timing.Morning, Day: day})
		require.True(t, ok)
		query, args, err := countQuery(where)
		require.NoError(t, err)
		assert.Contains(t, query, "COUNT(*)")
		assert.Contains(t, query, `"exact_time_is_setup" IS TRUE`)
		assert.Contains(t, query, `"event_timing" = `)
		assert.Contains(t, query, " OR ")
		assert.Contains(t, args, "MORN")
	})

	t.Run("exact only", func(t *testing.T) {
		where, ok := inWindow(WindowQuery{PatientID: patient, Window: window})
		require.True(t, ok)
		query, _, err := countQuery(where)
		require.NoError(t, err)
		assert.NotContains(t, query, "event_timing")
	})

	t.Run("symbolic only", func(t *testing.T) {
		where, ok := inWindow(WindowQuery{PatientID: patient, Timing: timing.BeforeSleep, Day: day})
		require.True(t, ok)
		query, _, err := countQuery(where)
		require.NoError(t, err)
		assert.NotContains(t, query, "exact_time_is_setup")
	})

	t.Run("nothing selected", func(t *testing.T) {
		_, ok := inWindow(WindowQuery{PatientID: patient})
		assert.False(t, ok)
	})
}

func TestSelectQuery_OrderAndPaging(t *testing.T) {
	order := []exp.OrderedExpression{goqu.C("event_datetime").Asc(), goqu.C("seq").Asc()}
	query, _, err := selectQuery(byReference("mr-1"), order, 20, 40)
	require.NoError(t, err)
	assert.Contains(t, query, `ORDER BY "event_datetime" ASC, "seq" ASC`)
	assert.Contains(t, query, "LIMIT")
	assert.Contains(t, query, "OFFSET")
	assert.Contains(t, query, `"event_reference_id"`)

	query, _, err = selectQuery(byReference("mr-1"), order, 0, 0)
	require.NoError(t, err)
	assert.NotContains(t, query, "LIMIT")
}

func TestStamp_LeavesOriginalsUntouched(t *testing.T) {
	kept := uuid.New()
	events := []*HealthEvent{
		{PatientID: uuid.New(), EventTiming: timing.Exact},
		{ID: kept, PatientID: uuid.New(), EventTiming: timing.Morning},
	}
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.FixedZone("CET", 3600))

	stamped := stamp(events, now)
	require.Len(t, stamped, 2)
	assert.NotEqual(t, uuid.Nil, stamped[0].ID)
	assert.Equal(t, kept, stamped[1].ID)
	assert.True(t, stamped[0].CreatedAt.Equal(now))
	assert.Equal(t, time.UTC, stamped[0].CreatedAt.Location())

	assert.Equal(t, uuid.Nil, events[0].ID)
	assert.True(t, events[0].CreatedAt.IsZero())
	assert.True(t, events[1].CreatedAt.IsZero())

	adopt(events, stamped)
	assert.Equal(t, stamped[0].ID, events[0].ID)
	assert.Equal(t, kept, events[1].ID)
	assert.True(t, events[1].CreatedAt.Equal(now))
}

func TestStorePG_FailedWriteKeepsEventsUnstamped(t *testing.T) {
	store := NewStorePG(nil)
	events := []*HealthEvent{
		{PatientID: uuid.New(), EventTiming: timing.Exact,
			Resource: ResourceRef{EventType: "MedicationRequest", EventReferenceID: "mr-1"}},
	}

	require.Error(t, store.CreateEvents(context.Background(), events))
	assert.Equal(t, uuid.Nil, events[0].ID)
	assert.True(t, events[0].CreatedAt.IsZero())

	require.Error(t, store.ReplaceSeries(context.Background(), "mr-1", events))
	assert.Equal(t, uuid.Nil, events[0].ID)
	assert.True(t, events[0].CreatedAt.IsZero())
}
