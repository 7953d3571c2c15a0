package domain

import "time"

// NotificationKind selects the outbound template.
type NotificationKind string

const (
	NotifyRequestAssigned         NotificationKind = "request_assigned"
	NotifyNoteAdded               NotificationKind = "note_added"
	NotifySubTaskAssigned         NotificationKind = "subtask_assigned"
	NotifyAssignmentChangeCreated NotificationKind = "assignment_change_requested"
	NotifyAssignmentChangeDecided NotificationKind = "assignment_change_reviewed"
)

// Notification is the fixed payload handed to the outbound mail collaborator.
type Notification struct {
	ID             string            `json:"id"`
	Kind           NotificationKind  `json:"kind"`
	RequestID      string            `json:"requestId"`
	ServiceQueueID string            `json:"serviceQueueId"`
	ActorName      string            `json:"actorName"`
	Recipient      string            `json:"recipient"`
	Fields         map[string]string `json:"fields,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}
