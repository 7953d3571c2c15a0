package dto

import (
	"time"

	"github.com/spec-kit/service-portal/internal/domain"
)

// CreateNotePayload is the body of POST /requests/:id/notes.
type CreateNotePayload struct {
	Content        string  `json:"content" validate:"required"`
	RecipientEmail *string `json:"recipientEmail" validate:"omitempty,email"`
}

// NoteResponse renders a note.
type NoteResponse struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"requestId"`
	AuthorID   string    `json:"authorId"`
	AuthorName string    `json:"authorName"`
	Content    string    `json:"content"`
	IsInternal bool      `json:"isInternal"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewNoteResponse renders a single note.
func NewNoteResponse(n *domain.RequestNote) NoteResponse {
	return NoteResponse{
		ID:         n.ID,
		RequestID:  n.RequestID,
		AuthorID:   n.AuthorID,
		AuthorName: n.AuthorName,
		Content:    n.Content,
		IsInternal: n.IsInternal,
		CreatedAt:  n.CreatedAt,
	}
}

// NewNoteResponses renders a thread.
func NewNoteResponses(notes []domain.RequestNote) []NoteResponse {
	out := make([]NoteResponse, 0, len(notes))
	for i := range notes {
		out = append(out, NewNoteResponse(&notes[i]))
	}
	return out
}

// AttachmentResponse renders attachment metadata. The storage path is never exposed.
type AttachmentResponse struct {
	ID         string    `json:"id"`
	RequestID  string    `json:"requestId"`
	FileName   string    `json:"fileName"`
	SizeBytes  int64     `json:"size"`
	MimeType   string    `json:"mimeType"`
	UploadedBy string    `json:"uploadedBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

// NewAttachmentResponses renders attachment metadata.
func NewAttachmentResponses(items []domain.RequestAttachment) []AttachmentResponse {
	out := make([]AttachmentResponse, 0, len(items))
	for _, a := range items {
		out = append(out, AttachmentResponse{
			ID:         a.ID,
			RequestID:  a.RequestID,
			FileName:   a.FileName,
			SizeBytes:  a.SizeBytes,
			MimeType:   a.MimeType,
			UploadedBy: a.UploadedBy,
			CreatedAt:  a.CreatedAt,
		})
	}
	return out
}

// CreateSubTaskPayload is the body of POST /requests/:id/subtasks.
type CreateSubTaskPayload struct {
	Description  string  `json:"description" validate:"required"`
	AssignedToID string  `json:"assignedToId" validate:"required"`
	DueDate      *string `json:"dueDate" validate:"omitempty,datetime=2006-01-02"`
}

// UpdateSubTaskStatusPayload is the body of PATCH /subtasks/:id.
type UpdateSubTaskStatusPayload struct {
	TaskStatus domain.TaskStatus `json:"taskStatus" validate:"required,oneof=new open in_progress closed"`
}

// SubTaskResponse renders a sub-task.
type SubTaskResponse struct {
	ID           string            `json:"id"`
	TaskID       string            `json:"taskId"`
	RequestID    string            `json:"requestId"`
	Description  string            `json:"description"`
	AssignedToID string            `json:"assignedToId"`
	AssignedByID string            `json:"assignedById"`
	DueDate      *string           `json:"dueDate"`
	TaskStatus   domain.TaskStatus `json:"taskStatus"`
	CreatedAt    time.Time         `json:"createdAt"`
	UpdatedAt    time.Time         `json:"updatedAt"`
}

// NewSubTaskResponse renders one sub-task.
func NewSubTaskResponse(t *domain.SubTask) SubTaskResponse {
	var due *string
	if t.DueDate != nil {
		s := t.DueDate.Format("2006-01-02")
		due = &s
	}
	return SubTaskResponse{
		ID:           t.ID,
		TaskID:       t.TaskID,
		RequestID:    t.RequestID,
		Description:  t.Description,
		AssignedToID: t.AssignedToID,
		AssignedByID: t.AssignedByID,
		DueDate:      due,
		TaskStatus:   t.TaskStatus,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

// NewSubTaskResponses renders a list of sub-tasks.
func NewSubTaskResponses(tasks []domain.SubTask) []SubTaskResponse {
	out := make([]SubTaskResponse, 0, len(tasks))
	for i := range tasks {
		out = append(out, NewSubTaskResponse(&tasks[i]))
	}
	return out
}

// CreateChangeRequestPayload is an agent's reassignment petition.
type CreateChangeRequestPayload struct {
	Reason              string  `json:"reason" validate:"required"`
	RequestedAssigneeID *string `json:"requestedAssigneeId"`
}

// ReviewChangeRequestPayload is a manager's decision.
type ReviewChangeRequestPayload struct {
	Decision   string  `json:"decision" validate:"required,oneof=approve reject"`
	Comment    *string `json:"comment"`
	AssigneeID *string `json:"assigneeId"`
}

// ChangeRequestResponse renders an assignment-change request.
type ChangeRequestResponse struct {
	ID                  string                     `json:"id"`
	RequestID           string                     `json:"requestId"`
	RequestedByID       string                     `json:"requestedById"`
	CurrentAssigneeID   *string                    `json:"currentAssigneeId"`
	RequestedAssigneeID *string                    `json:"requestedAssigneeId"`
	Reason              string                     `json:"reason"`
	Status              domain.ChangeRequestStatus `json:"status"`
	ReviewedByID        *string                    `json:"reviewedById"`
	ReviewComment       *string                    `json:"reviewComment"`
	ReviewedAt          *time.Time                 `json:"reviewedAt"`
	CreatedAt           time.Time                  `json:"createdAt"`
}

// NewChangeRequestResponse renders one change request.
func NewChangeRequestResponse(c *domain.AssignmentChangeRequest) ChangeRequestResponse {
	return ChangeRequestResponse{
		ID:                  c.ID,
		RequestID:           c.RequestID,
		RequestedByID:       c.RequestedByID,
		CurrentAssigneeID:   c.CurrentAssigneeID,
		RequestedAssigneeID: c.RequestedAssigneeID,
		Reason:              c.Reason,
		Status:              c.Status,
		ReviewedByID:        c.ReviewedByID,
		ReviewComment:       c.ReviewComment,
		ReviewedAt:          c.ReviewedAt,
		CreatedAt:           c.CreatedAt,
	}
}

// NewChangeRequestResponses renders a list.
func NewChangeRequestResponses(changes []domain.AssignmentChangeRequest) []ChangeRequestResponse {
	out := make([]ChangeRequestResponse, 0, len(changes))
	for i := range changes {
		out = append(out, NewChangeRequestResponse(&changes[i]))
	}
	return out
}

// ActivityResponse renders an audit entry.
type ActivityResponse struct {
	ID          string              `json:"id"`
	Type        domain.ActivityType `json:"type"`
	Description string              `json:"description"`
	UserID      string              `json:"userId"`
	CompanyID   *string             `json:"companyId"`
	RequestID   *string             `json:"requestId"`
	Metadata    map[string]any      `json:"metadata"`
	CreatedAt   time.Time           `json:"createdAt"`
}

// NewActivityResponses renders audit entries.
func NewActivityResponses(entries []domain.ActivityLog) []ActivityResponse {
	out := make([]ActivityResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, ActivityResponse{
			ID:          e.ID,
			Type:        e.Type,
			Description: e.Description,
			UserID:      e.UserID,
			CompanyID:   e.CompanyID,
			RequestID:   e.RequestID,
			Metadata:    e.Metadata,
			CreatedAt:   e.CreatedAt,
		})
	}
	return out
}
