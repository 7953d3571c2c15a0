package events

import (
	"time"

	"github.com/spec-kit/service-portal/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventRequestCreated          EventType = "request_created"
	EventRequestAssigned         EventType = "request_assigned"
	EventRequestStatusChanged    EventType = "request_status_changed"
	EventNoteAdded               EventType = "note_added"
	EventSubTaskCreated          EventType = "subtask_created"
	EventAssignmentChangeCreated EventType = "assignment_change_requested"
	EventAssignmentChangeDecided EventType = "assignment_change_reviewed"
)

// Actor identifies who caused an event.
type Actor struct {
	UserID string      `json:"user_id"`
	Name   string      `json:"name"`
	Role   domain.Role `json:"role"`
}

// Event represents a domain event emitted by services.
type Event struct {
	ID             string      `json:"id"`
	Type           EventType   `json:"type"`
	RequestID      string      `json:"request_id"`
	ServiceQueueID string      `json:"service_queue_id"`
	CompanyID      string      `json:"company_id"`
	Actor          Actor       `json:"actor"`
	Timestamp      time.Time   `json:"timestamp"`
	Payload        interface{} `json:"payload"`
}

// RequestCreatedPayload payload.
type RequestCreatedPayload struct {
	Insured    string          `json:"insured"`
	Category   domain.Category `json:"category"`
	AssigneeID *string         `json:"assignee_id,omitempty"`
}

// RequestAssignedPayload payload.
type RequestAssignedPayload struct {
	AssigneeID         string  `json:"assignee_id"`
	PreviousAssigneeID *string `json:"previous_assignee_id,omitempty"`
}

// StatusChangedPayload payload.
type StatusChangedPayload struct {
	FromStatus domain.TaskStatus `json:"from_status"`
	ToStatus   domain.TaskStatus `json:"to_status"`
}

// NoteAddedPayload payload.
type NoteAddedPayload struct {
	NoteID         string  `json:"note_id"`
	Preview        string  `json:"preview"`
	RecipientEmail *string `json:"recipient_email,omitempty"`
}

// SubTaskCreatedPayload payload.
type SubTaskCreatedPayload struct {
	SubTaskID   string `json:"subtask_id"`
	TaskID      string `json:"task_id"`
	AssigneeID  string `json:"assignee_id"`
	Description string `json:"description"`
}

// AssignmentChangeCreatedPayload payload.
type AssignmentChangeCreatedPayload struct {
	ChangeRequestID     string  `json:"change_request_id"`
	Reason              string  `json:"reason"`
	RequestedAssigneeID *string `json:"requested_assignee_id,omitempty"`
}

// AssignmentChangeDecidedPayload payload.
type AssignmentChangeDecidedPayload struct {
	ChangeRequestID string                     `json:"change_request_id"`
	Decision        domain.ChangeRequestStatus `json:"decision"`
	RequestedByID   string                     `json:"requested_by_id"`
	Comment         *string                    `json:"comment,omitempty"`
}
