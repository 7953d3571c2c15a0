package domain

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func TestEffectiveStatusFollowsClosedAt(t *testing.T) {
	closedAt := time.Now()
	for _, status := range []TaskStatus{TaskStatusNew, TaskStatusOpen, TaskStatusInProgress, TaskStatusClosed} {
		r := &ServiceRequest{TaskStatus: status}
		assert.Equal(t, status, r.EffectiveStatus())

		r.ClosedAt = &closedAt
		assert.Equal(t, TaskStatusClosed, r.EffectiveStatus(), "stored %s", status)
	}
}

func TestClosedRequestIsNeverOverdue(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	closedAt := now.Add(-time.Hour)
	r := &ServiceRequest{
		TaskStatus: TaskStatusOpen,
		DueDate:    date(2025, 1, 1),
		ClosedAt:   &closedAt,
	}

	assert.Equal(t, TaskStatusClosed, r.EffectiveStatus())
	assert.False(t, r.IsOverdue(now, time.UTC))

	r.ClosedAt = nil
	assert.True(t, r.IsOverdue(now, time.UTC))
}

func TestIsOverdue(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	nine := "09:00"

	cases := []struct {
		name    string
		request ServiceRequest
		want    bool
	}{
		{name: "no due date", request: ServiceRequest{TaskStatus: TaskStatusOpen}},
		{name: "due later today", request: ServiceRequest{TaskStatus: TaskStatusOpen, DueDate: date(2025, 3, 10)}},
		{name: "due this morning", request: ServiceRequest{TaskStatus: TaskStatusOpen, DueDate: date(2025, 3, 10), DueTime: &nine}, want: true},
		{name: "due yesterday", request: ServiceRequest{TaskStatus: TaskStatusInProgress, DueDate: date(2025, 3, 9)}, want: true},
		{name: "stored closed", request: ServiceRequest{TaskStatus: TaskStatusClosed, DueDate: date(2025, 3, 9)}},
		{name: "future", request: ServiceRequest{TaskStatus: TaskStatusNew, DueDate: date(2025, 4, 1)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.request.IsOverdue(now, time.UTC))
		})
	}
}

func TestOverdueUsesViewerTimezone(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	// 2025-03-10 20:00 UTC is already 2025-03-11 05:00 in Tokyo.
	now := time.Date(2025, 3, 10, 20, 0, 0, 0, time.UTC)
	r := &ServiceRequest{TaskStatus: TaskStatusOpen, DueDate: date(2025, 3, 10)}

	assert.False(t, r.IsOverdue(now, time.UTC))
	assert.True(t, r.IsOverdue(now, tokyo))
}

func TestTimeSpent(t *testing.T) {
	start := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	end := start.Add(2*time.Hour + 5*time.Minute)
	manual := 45

	r := &ServiceRequest{}
	assert.Equal(t, NoTimeSpent, r.TimeSpentDisplay())

	r.InProgressAt = &start
	r.ClosedAt = &end
	assert.Equal(t, "2h 05m", r.TimeSpentDisplay())

	r.TimeSpent = &manual
	minutes, ok := r.TimeSpentMinutes()
	assert.True(t, ok)
	assert.Equal(t, 45, minutes)
	assert.Equal(t, "45m", r.TimeSpentDisplay())
}

func TestValidClock(t *testing.T) {
	assert.True(t, ValidClock("09:30"))
	assert.True(t, ValidClock("23:59:59"))
	assert.False(t, ValidClock("24:00"))
	assert.False(t, ValidClock("9am"))
}

func TestUserLocationFallsBackToUTC(t *testing.T) {
	assert.Equal(t, time.UTC, (&User{Timezone: "Not/AZone"}).Location())
	assert.Equal(t, time.UTC, (*User)(nil).Location())
	assert.Equal(t, "Europe/Berlin", (&User{Timezone: "Europe/Berlin"}).Location().String())
}
