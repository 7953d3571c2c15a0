package domain

import "time"

// SubTask is a manager-assigned slice of work on a service request. Its status
// is tracked independently of the parent.
type SubTask struct {
	ID           string
	TaskID       string
	RequestID    string
	Description  string
	AssignedToID string
	AssignedByID string
	DueDate      *time.Time
	TaskStatus   TaskStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ChangeRequestStatus enumerates assignment-change review states.
type ChangeRequestStatus string

const (
	ChangeRequestPending  ChangeRequestStatus = "pending"
	ChangeRequestApproved ChangeRequestStatus = "approved"
	ChangeRequestRejected ChangeRequestStatus = "rejected"
)

// Terminal reports whether the change request has been reviewed.
func (s ChangeRequestStatus) Terminal() bool {
	return s == ChangeRequestApproved || s == ChangeRequestRejected
}

// AssignmentChangeRequest is an agent's petition to move a request to another
// assignee. A nil RequestedAssigneeID leaves the choice to the reviewer.
type AssignmentChangeRequest struct {
	ID                  string
	RequestID           string
	RequestedByID       string
	CurrentAssigneeID   *string
	RequestedAssigneeID *string
	Reason              string
	Status              ChangeRequestStatus
	ReviewedByID        *string
	ReviewComment       *string
	ReviewedAt          *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// RequestNote is an append-only entry in a request's conversation thread.
type RequestNote struct {
	ID         string
	RequestID  string
	AuthorID   string
	AuthorName string
	Content    string
	IsInternal bool
	CreatedAt  time.Time
}

// RequestAttachment describes a stored file associated with a request.
type RequestAttachment struct {
	ID          string
	RequestID   string
	FileName    string
	StoragePath string
	SizeBytes   int64
	MimeType    string
	UploadedBy  string
	CreatedAt   time.Time
}
