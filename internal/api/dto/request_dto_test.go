package dto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/spec-kit/service-portal/internal/domain"
	"github.com/spec-kit/service-portal/internal/service"
)

// dueInTwoHoursUTC is due two hours from now on a UTC wall clock, which has
// already passed for anyone east of UTC+2.
func dueInTwoHoursUTC() *domain.ServiceRequest {
	due := time.Now().UTC().Add(2 * time.Hour)
	date := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
	clock := due.Format("15:04")
	return &domain.ServiceRequest{
		ID:             "req-1",
		ServiceQueueID: "SQ-0000000A",
		TaskStatus:     domain.TaskStatusNew,
		DueDate:        &date,
		DueTime:        &clock,
	}
}

func TestRequestResponseOverdueUsesCallerLocation(t *testing.T) {
	r := dueInTwoHoursUTC()

	assert.False(t, NewRequestResponse(r, time.UTC).Overdue)
	assert.False(t, NewRequestResponse(r, nil).Overdue)
	assert.False(t, NewRequestResponse(r, time.FixedZone("UTC-5", -5*3600)).Overdue)
	assert.True(t, NewRequestResponse(r, time.FixedZone("UTC+5", 5*3600)).Overdue)
}

func TestMutationResponseCarriesLocation(t *testing.T) {
	res := &service.MutationResult{Request: dueInTwoHoursUTC()}

	east := NewMutationResponse(res, time.FixedZone("UTC+5", 5*3600))
	assert.True(t, east.Request.Overdue)
	assert.Equal(t, []string{}, east.IgnoredFields)

	assert.False(t, NewMutationResponse(res, time.UTC).Request.Overdue)
}
