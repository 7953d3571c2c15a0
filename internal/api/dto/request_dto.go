package dto

import (
	"time"

	"github.com/spec-kit/service-portal/internal/domain"
	"github.com/spec-kit/service-portal/internal/service"
)

// CreateRequestPayload is the JSON body (or multipart "data" part) of
// POST /requests.
type CreateRequestPayload struct {
	Insured      string          `json:"insured" validate:"required,max=255"`
	Narrative    string          `json:"serviceRequestNarrative" validate:"required"`
	Category     domain.Category `json:"serviceQueueCategory" validate:"omitempty,max=64"`
	CompanyID    *string         `json:"companyId"`
	AssignedByID *string         `json:"assignedById"`
	AssignedToID *string         `json:"assignedToId"`
	DueDate      *string         `json:"dueDate" validate:"omitempty,datetime=2006-01-02"`
	DueTime      *string         `json:"dueTime"`
}

// UpdateRequestPayload is a partial update. Absent fields are untouched and
// explicit nulls clear the field.
type UpdateRequestPayload struct {
	Insured      domain.Optional[string]            `json:"insured"`
	Narrative    domain.Optional[string]            `json:"serviceRequestNarrative"`
	Category     domain.Optional[domain.Category]   `json:"serviceQueueCategory"`
	AssignedByID domain.Optional[string]            `json:"assignedById"`
	AssignedToID domain.Optional[string]            `json:"assignedToId"`
	TaskStatus   domain.Optional[domain.TaskStatus] `json:"taskStatus"`
	TimeSpent    domain.Optional[int]               `json:"timeSpent"`
	DueDate      domain.Optional[string]            `json:"dueDate"`
	DueTime      domain.Optional[string]            `json:"dueTime"`
	ClosedAt     domain.Optional[time.Time]         `json:"closedAt"`
}

// AssignPayload is the body of POST /requests/:id/assign.
type AssignPayload struct {
	AssignedToID string `json:"assignedToId" validate:"required"`
}

// UserSummaryResponse is an embedded user reference.
type UserSummaryResponse struct {
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Email string      `json:"email,omitempty"`
	Role  domain.Role `json:"role,omitempty"`
}

// RequestResponse renders a service request.
type RequestResponse struct {
	ID              string            `json:"id"`
	ServiceQueueID  string            `json:"serviceQueueId"`
	CompanyID       string            `json:"companyId"`
	Insured         string            `json:"insured"`
	Narrative       string            `json:"serviceRequestNarrative"`
	Category        domain.Category   `json:"serviceQueueCategory"`
	TaskStatus      domain.TaskStatus `json:"taskStatus"`
	EffectiveStatus domain.TaskStatus `json:"effectiveStatus"`
	Overdue         bool              `json:"overdue"`
	DueDate         *string           `json:"dueDate"`
	DueTime         *string           `json:"dueTime"`
	InProgressAt    *time.Time        `json:"inProgressAt"`
	ClosedAt        *time.Time        `json:"closedAt"`
	TimeSpent       *int              `json:"timeSpent"`
	TimeSpentLabel  string            `json:"timeSpentDisplay"`
	AssignedByID    string            `json:"assignedById"`
	AssignedToID    *string           `json:"assignedToId"`
	ModifiedByID    *string           `json:"modifiedById"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// RequestDetailResponse adds related records and the caller's capabilities.
type RequestDetailResponse struct {
	RequestResponse
	CompanyName  string               `json:"companyName"`
	AssignedBy   *UserSummaryResponse `json:"assignedBy"`
	AssignedTo   *UserSummaryResponse `json:"assignedTo"`
	ModifiedBy   *UserSummaryResponse `json:"modifiedBy"`
	Notes        []NoteResponse       `json:"notes"`
	Attachments  []AttachmentResponse `json:"attachments"`
	SubTasks     []SubTaskResponse    `json:"subTasks,omitempty"`
	Capabilities CapabilitiesResponse `json:"capabilities"`
}

// CapabilitiesResponse drives which actions the client offers.
type CapabilitiesResponse struct {
	CanUpload        bool `json:"canUpload"`
	CanDelete        bool `json:"canDelete"`
	CanEditDueDate   bool `json:"canEditDueDate"`
	CanClose         bool `json:"canClose"`
	CanReassign      bool `json:"canReassign"`
	CanRequestChange bool `json:"canRequestChange"`
	CanCreateSubTask bool `json:"canCreateSubTask"`
}

// MutationResponse is returned by create and update.
type MutationResponse struct {
	Request       RequestResponse      `json:"request"`
	Attachments   []AttachmentResponse `json:"attachments"`
	IgnoredFields []string             `json:"ignoredFields"`
}

// RequestPageResponse is one page of a listing.
type RequestPageResponse struct {
	Items    []RequestResponse `json:"items"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
}

// NewRequestResponse renders a bare request. Overdue is judged against the
// calendar day in loc, the caller's timezone; nil means UTC.
func NewRequestResponse(r *domain.ServiceRequest, loc *time.Location) RequestResponse {
	if loc == nil {
		loc = time.UTC
	}
	return newRequestResponse(service.RequestView{
		Request:         *r,
		EffectiveStatus: r.EffectiveStatus(),
		Overdue:         r.IsOverdue(time.Now(), loc),
		TimeSpent:       r.TimeSpentDisplay(),
	})
}

func newRequestResponse(v service.RequestView) RequestResponse {
	r := v.Request
	var due *string
	if r.DueDate != nil {
		s := r.DueDate.Format("2006-01-02")
		due = &s
	}
	return RequestResponse{
		ID:              r.ID,
		ServiceQueueID:  r.ServiceQueueID,
		CompanyID:       r.CompanyID,
		Insured:         r.Insured,
		Narrative:       r.Narrative,
		Category:        r.Category,
		TaskStatus:      r.TaskStatus,
		EffectiveStatus: v.EffectiveStatus,
		Overdue:         v.Overdue,
		DueDate:         due,
		DueTime:         r.DueTime,
		InProgressAt:    r.InProgressAt,
		ClosedAt:        r.ClosedAt,
		TimeSpent:       r.TimeSpent,
		TimeSpentLabel:  v.TimeSpent,
		AssignedByID:    r.AssignedByID,
		AssignedToID:    r.AssignedToID,
		ModifiedByID:    r.ModifiedByID,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// NewRequestPageResponse renders a listing page.
func NewRequestPageResponse(page *service.RequestPage) RequestPageResponse {
	items := make([]RequestResponse, 0, len(page.Items))
	for _, v := range page.Items {
		items = append(items, newRequestResponse(v))
	}
	return RequestPageResponse{Items: items, Total: page.Total, Page: page.Page, PageSize: page.PageSize}
}

// NewRequestDetailResponse renders the detail view.
func NewRequestDetailResponse(d *service.RequestDetail) RequestDetailResponse {
	out := RequestDetailResponse{
		RequestResponse: newRequestResponse(d.RequestView),
		CompanyName:     d.CompanyName,
		AssignedBy:      newUserSummary(d.AssignedBy),
		AssignedTo:      newUserSummary(d.AssignedTo),
		ModifiedBy:      newUserSummary(d.ModifiedBy),
		Notes:           NewNoteResponses(d.Notes),
		Attachments:     NewAttachmentResponses(d.Attachments),
		Capabilities: CapabilitiesResponse{
			CanUpload:        d.Capabilities.CanUpload,
			CanDelete:        d.Capabilities.CanDelete,
			CanEditDueDate:   d.Capabilities.CanEditDueDate,
			CanClose:         d.Capabilities.CanClose,
			CanReassign:      d.Capabilities.CanReassign,
			CanRequestChange: d.Capabilities.CanRequestChange,
			CanCreateSubTask: d.Capabilities.CanCreateSubTask,
		},
	}
	if d.SubTasks != nil {
		out.SubTasks = NewSubTaskResponses(d.SubTasks)
	}
	return out
}

// NewMutationResponse renders a create or update result.
func NewMutationResponse(res *service.MutationResult, loc *time.Location) MutationResponse {
	ignored := res.IgnoredFields
	if ignored == nil {
		ignored = []string{}
	}
	return MutationResponse{
		Request:       NewRequestResponse(res.Request, loc),
		Attachments:   NewAttachmentResponses(res.Attachments),
		IgnoredFields: ignored,
	}
}

func newUserSummary(u *service.UserSummary) *UserSummaryResponse {
	if u == nil {
		return nil
	}
	return &UserSummaryResponse{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role}
}
