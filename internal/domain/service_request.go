package domain

import (
	"fmt"
	"time"
)

// TaskStatus enumerates lifecycle states shared by requests and sub-tasks.
type TaskStatus string

const (
	TaskStatusNew        TaskStatus = "new"
	TaskStatusOpen       TaskStatus = "open"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusClosed     TaskStatus = "closed"
)

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusNew, TaskStatusOpen, TaskStatusInProgress, TaskStatusClosed:
		return true
	}
	return false
}

// Category classifies a service request.
type Category string

const (
	CategoryPolicyInquiry    Category = "policy_inquiry"
	CategoryClaimsProcessing Category = "claims_processing"
	CategoryAccountUpdate    Category = "account_update"
	CategoryTechnicalSupport Category = "technical_support"
	CategoryBillingInquiry   Category = "billing_inquiry"
	CategoryCancelNonRenewal Category = "insured_service_cancel_non_renewal"
	CategoryOther            Category = "other"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryPolicyInquiry, CategoryClaimsProcessing, CategoryAccountUpdate,
		CategoryTechnicalSupport, CategoryBillingInquiry, CategoryCancelNonRenewal, CategoryOther:
		return true
	}
	return false
}

// NoTimeSpent is rendered when neither a manual value nor a delta is available.
const NoTimeSpent = "—"

// ServiceRequest is the aggregate for a tenant support request.
type ServiceRequest struct {
	ID             string
	ServiceQueueID string
	CompanyID      string
	Insured        string
	Narrative      string
	Category       Category
	TaskStatus     TaskStatus
	DueDate        *time.Time
	DueTime        *string
	InProgressAt   *time.Time
	ClosedAt       *time.Time
	TimeSpent      *int
	AssignedByID   string
	AssignedToID   *string
	ModifiedByID   *string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EffectiveStatus is the status shown to users. A request carrying a closedAt
// timestamp is closed regardless of the stored taskStatus.
func (r *ServiceRequest) EffectiveStatus() TaskStatus {
	if r.ClosedAt != nil {
		return TaskStatusClosed
	}
	return r.TaskStatus
}

// DueAt combines dueDate and dueTime in loc. Without a parseable dueTime the
// request is due at the end of the due date.
func (r *ServiceRequest) DueAt(loc *time.Location) (time.Time, bool) {
	if r.DueDate == nil {
		return time.Time{}, false
	}
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := r.DueDate.Date()
	hour, minute, sec := 23, 59, 59
	if r.DueTime != nil {
		if t, ok := parseClock(*r.DueTime); ok {
			hour, minute, sec = t.Hour(), t.Minute(), 0
		}
	}
	return time.Date(y, m, d, hour, minute, sec, 0, loc), true
}

// IsOverdue reports whether the request is past due as seen from loc.
func (r *ServiceRequest) IsOverdue(now time.Time, loc *time.Location) bool {
	if r.EffectiveStatus() == TaskStatusClosed {
		return false
	}
	due, ok := r.DueAt(loc)
	if !ok {
		return false
	}
	return now.After(due)
}

// TimeSpentMinutes prefers the manually entered value and falls back to the
// inProgressAt -> closedAt delta. The two sources are never reconciled.
func (r *ServiceRequest) TimeSpentMinutes() (int, bool) {
	if r.TimeSpent != nil {
		return *r.TimeSpent, true
	}
	if r.InProgressAt != nil && r.ClosedAt != nil && r.ClosedAt.After(*r.InProgressAt) {
		return int(r.ClosedAt.Sub(*r.InProgressAt).Minutes()), true
	}
	return 0, false
}

// TimeSpentDisplay renders TimeSpentMinutes for listings.
func (r *ServiceRequest) TimeSpentDisplay() string {
	minutes, ok := r.TimeSpentMinutes()
	if !ok {
		return NoTimeSpent
	}
	return FormatMinutes(minutes)
}

// FormatMinutes renders a minute count as "1h 05m" or "45m".
func FormatMinutes(minutes int) string {
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dh %02dm", minutes/60, minutes%60)
}

func parseClock(value string) (time.Time, bool) {
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ValidClock reports whether value is an HH:MM (or HH:MM:SS) clock time.
func ValidClock(value string) bool {
	_, ok := parseClock(value)
	return ok
}
