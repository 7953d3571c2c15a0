package domain

import "time"

// ActivityType classifies an audit entry.
type ActivityType string

const (
	ActivityRequestCreated            ActivityType = "request_created"
	ActivityRequestUpdated            ActivityType = "request_updated"
	ActivityRequestAssigned           ActivityType = "request_assigned"
	ActivityStatusChanged             ActivityType = "status_changed"
	ActivityNoteAdded                 ActivityType = "note_added"
	ActivityAttachmentUploaded        ActivityType = "attachment_uploaded"
	ActivityAttachmentDeleted         ActivityType = "attachment_deleted"
	ActivitySubTaskCreated            ActivityType = "subtask_created"
	ActivitySubTaskStatusChanged      ActivityType = "subtask_status_changed"
	ActivityAssignmentChangeRequested ActivityType = "assignment_change_requested"
	ActivityAssignmentChangeApproved  ActivityType = "assignment_change_approved"
	ActivityAssignmentChangeRejected  ActivityType = "assignment_change_rejected"
	ActivityUserCreated               ActivityType = "user_created"
	ActivityUserUpdated               ActivityType = "user_updated"
	ActivityUserPromoted              ActivityType = "user_promoted"
	ActivityUserDemoted               ActivityType = "user_demoted"
	ActivityCompanyUpdated            ActivityType = "company_updated"
)

// ActivityLog is an immutable record of a mutation.
type ActivityLog struct {
	ID          string
	Type        ActivityType
	Description string
	UserID      string
	CompanyID   *string
	RequestID   *string
	Metadata    map[string]any
	CreatedAt   time.Time
}
