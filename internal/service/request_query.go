package service

import (
	"context"
	"time"

	"github.com/spec-kit/service-portal/internal/auth"
	"github.com/spec-kit/service-portal/internal/domain"
	"github.com/spec-kit/service-portal/internal/repository"
)

// UserSummary is the slim user reference embedded in request views.
type UserSummary struct {
	ID    string
	Name  string
	Email string
	Role  domain.Role
}

// RequestCapabilities are the caller's computed permissions on a request.
type RequestCapabilities struct {
	CanUpload        bool
	CanDelete        bool
	CanEditDueDate   bool
	CanClose         bool
	CanReassign      bool
	CanRequestChange bool
	CanCreateSubTask bool
}

// RequestView carries a request with its display-derived values.
type RequestView struct {
	Request         domain.ServiceRequest
	EffectiveStatus domain.TaskStatus
	Overdue         bool
	TimeSpent       string
}

// RequestDetail is the full read model behind the detail page.
type RequestDetail struct {
	RequestView
	CompanyName  string
	AssignedBy   *UserSummary
	AssignedTo   *UserSummary
	ModifiedBy   *UserSummary
	Notes        []domain.RequestNote
	Attachments  []domain.RequestAttachment
	SubTasks     []domain.SubTask
	Capabilities RequestCapabilities
}

// RequestListInput filters listings. Status filters use the effective status.
type RequestListInput struct {
	Statuses     []domain.TaskStatus
	Insured      string
	Category     *domain.Category
	AssignedToID *string
	CompanyID    *string
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
	Page         int
	PageSize     int
}

// RequestPage is one page of request summaries.
type RequestPage struct {
	Items    []RequestView
	Total    int
	Page     int
	PageSize int
}

const (
	defaultPageSize = 20
	maxPageSize     = 200
	maxExportRows   = 5000
)

// Get returns the detail view of a visible request.
func (s *RequestService) Get(ctx context.Context, p *auth.Principal, requestID string) (*RequestDetail, error) {
	request, err := loadVisibleRequest(ctx, s.requests, p, requestID)
	if err != nil {
		return nil, err
	}

	detail := &RequestDetail{RequestView: s.view(p, request)}
	if company, err := s.companies.GetByID(ctx, request.CompanyID); err == nil {
		detail.CompanyName = company.Name
	}
	detail.AssignedBy = s.summary(ctx, &request.AssignedByID)
	detail.AssignedTo = s.summary(ctx, request.AssignedToID)
	detail.ModifiedBy = s.summary(ctx, request.ModifiedByID)

	if detail.Notes, err = s.notes.ListByRequest(ctx, request.ID); err != nil {
		return nil, mapRepoErr(err, "note")
	}
	if detail.Attachments, err = s.attachments.attachments.ListByRequest(ctx, request.ID); err != nil {
		return nil, mapRepoErr(err, "attachment")
	}
	if !p.Role.IsCustomer() {
		if detail.SubTasks, err = s.subTasks.ListByRequest(ctx, request.ID); err != nil {
			return nil, mapRepoErr(err, "sub-task")
		}
	}

	detail.Capabilities = RequestCapabilities{
		CanUpload:        s.attachments.CanUpload(p, request),
		CanDelete:        p.ManagerOrAdmin(),
		CanEditDueDate:   CanEditField(p.Role, FieldDueDate),
		CanClose:         p.ManagerOrAdmin() && request.EffectiveStatus() != domain.TaskStatusClosed,
		CanReassign:      p.ManagerOrAdmin(),
		CanRequestChange: p.Role == domain.RoleAgent,
		CanCreateSubTask: p.Role == domain.RoleAgentManager,
	}
	return detail, nil
}

// List returns the caller's scoped page of requests, newest first.
func (s *RequestService) List(ctx context.Context, p *auth.Principal, input RequestListInput) (*RequestPage, error) {
	page, size := input.Page, input.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}

	filter := s.filterFor(p, input)
	filter.Limit = size
	filter.Offset = (page - 1) * size

	requests, total, err := s.requests.List(ctx, filter)
	if err != nil {
		return nil, mapRepoErr(err, "service request")
	}
	items := make([]RequestView, 0, len(requests))
	for i := range requests {
		items = append(items, s.view(p, &requests[i]))
	}
	return &RequestPage{Items: items, Total: total, Page: page, PageSize: size}, nil
}

func (s *RequestService) filterFor(p *auth.Principal, input RequestListInput) repository.RequestFilter {
	scoped, companyIDs := p.CompanyScope()
	if input.CompanyID != nil && *input.CompanyID != "" {
		if p.CanSeeCompany(*input.CompanyID) {
			companyIDs = []string{*input.CompanyID}
		} else {
			companyIDs = []string{}
		}
		scoped = true
	}
	return repository.RequestFilter{
		Scoped:       scoped,
		CompanyIDs:   companyIDs,
		Statuses:     input.Statuses,
		Insured:      input.Insured,
		Category:     input.Category,
		AssignedToID: input.AssignedToID,
		CreatedFrom:  input.CreatedFrom,
		CreatedTo:    input.CreatedTo,
	}
}

func (s *RequestService) view(p *auth.Principal, request *domain.ServiceRequest) RequestView {
	return RequestView{
		Request:         *request,
		EffectiveStatus: request.EffectiveStatus(),
		Overdue:         request.IsOverdue(s.now(), p.User.Location()),
		TimeSpent:       request.TimeSpentDisplay(),
	}
}

func (s *RequestService) summary(ctx context.Context, userID *string) *UserSummary {
	if userID == nil || *userID == "" {
		return nil
	}
	user, err := s.users.GetByID(ctx, *userID)
	if err != nil {
		return &UserSummary{ID: *userID}
	}
	return &UserSummary{ID: user.ID, Name: user.Name, Email: user.Email, Role: user.Role}
}
