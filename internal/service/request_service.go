package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/service-portal/internal/auth"
	"github.com/spec-kit/service-portal/internal/domain"
	"github.com/spec-kit/service-portal/internal/events"
	"github.com/spec-kit/service-portal/internal/observability"
	"github.com/spec-kit/service-portal/internal/repository"
	apperrors "github.com/spec-kit/service-portal/pkg/util"
)

// RequestService coordinates the service request lifecycle.
type RequestService struct {
	requests    repository.ServiceRequestRepository
	users       repository.UserRepository
	companies   repository.CompanyRepository
	notes       repository.NoteRepository
	subTasks    repository.SubTaskRepository
	attachments *AttachmentService
	activity    *ActivityService
	tx          repository.TxManager
	dispatcher  events.Dispatcher
	metrics     *observability.Metrics
	logger      *zap.Logger
	now         func() time.Time
}

// RequestDependencies bundles collaborators for the request service.
type RequestDependencies struct {
	RequestRepo repository.ServiceRequestRepository
	UserRepo    repository.UserRepository
	CompanyRepo repository.CompanyRepository
	NoteRepo    repository.NoteRepository
	SubTaskRepo repository.SubTaskRepository
	Attachments *AttachmentService
	Activity    *ActivityService
	TxManager   repository.TxManager
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// NewRequestService constructs the service.
func NewRequestService(deps RequestDependencies) *RequestService {
	return &RequestService{
		requests:    deps.RequestRepo,
		users:       deps.UserRepo,
		companies:   deps.CompanyRepo,
		notes:       deps.NoteRepo,
		subTasks:    deps.SubTaskRepo,
		attachments: deps.Attachments,
		activity:    deps.Activity,
		tx:          deps.TxManager,
		dispatcher:  deps.Dispatcher,
		metrics:     deps.Metrics,
		logger:      nopLogger(deps.Logger),
		now:         time.Now,
	}
}

// RequestCreateInput describes a new service request.
type RequestCreateInput struct {
	Insured      string
	Narrative    string
	Category     domain.Category
	CompanyID    *string
	AssignedByID *string
	AssignedToID *string
	DueDate      *string
	DueTime      *string
	Attachments  []FileUpload
}

// RequestUpdateInput is a partial update. Only fields with Set are applied.
type RequestUpdateInput struct {
	Insured      domain.Optional[string]
	Narrative    domain.Optional[string]
	Category     domain.Optional[domain.Category]
	AssignedByID domain.Optional[string]
	AssignedToID domain.Optional[string]
	TaskStatus   domain.Optional[domain.TaskStatus]
	TimeSpent    domain.Optional[int]
	DueDate      domain.Optional[string]
	DueTime      domain.Optional[string]
	ClosedAt     domain.Optional[time.Time]
	Attachments  []FileUpload
}

// MutationResult reports the stored request and any fields dropped by the
// role capability table.
type MutationResult struct {
	Request       *domain.ServiceRequest
	Attachments   []domain.RequestAttachment
	IgnoredFields []string
}

// Create opens a new service request.
func (s *RequestService) Create(ctx context.Context, p *auth.Principal, input RequestCreateInput) (*MutationResult, error) {
	gate := &fieldGate{role: p.Role}

	companyID, err := s.resolveCompany(ctx, p, input.CompanyID)
	if err != nil {
		return nil, err
	}

	request := &domain.ServiceRequest{
		CompanyID:    companyID,
		Insured:      strings.TrimSpace(input.Insured),
		Narrative:    strings.TrimSpace(input.Narrative),
		Category:     input.Category,
		TaskStatus:   domain.TaskStatusNew,
		AssignedByID: p.UserID(),
		ModifiedByID: strPtr(p.UserID()),
	}
	problems := map[string]any{}
	if request.Insured == "" {
		problems["insured"] = "required"
	}
	if request.Narrative == "" {
		problems["serviceRequestNarrative"] = "required"
	}
	if request.Category == "" {
		request.Category = domain.CategoryOther
	} else if !request.Category.Valid() {
		problems["serviceQueueCategory"] = "unknown category"
	}
	if input.AssignedByID != nil {
		request.AssignedByID = strings.TrimSpace(*input.AssignedByID)
		if request.AssignedByID == "" {
			problems["assignedById"] = "required"
		}
	}
	if len(problems) > 0 {
		return nil, apperrors.NewValidationError("invalid service request", problems)
	}
	if request.AssignedByID != p.UserID() {
		if err := s.ensureUserExists(ctx, request.AssignedByID, "assignedById"); err != nil {
			return nil, err
		}
	}

	if gate.allow(FieldAssignedTo, input.AssignedToID != nil) && strings.TrimSpace(*input.AssignedToID) != "" {
		if _, err := loadAssignee(ctx, s.users, *input.AssignedToID); err != nil {
			return nil, err
		}
		request.AssignedToID = strPtr(strings.TrimSpace(*input.AssignedToID))
	}
	if gate.allow(FieldDueDate, input.DueDate != nil) && strings.TrimSpace(*input.DueDate) != "" {
		if request.DueDate, err = parseDate("dueDate", *input.DueDate); err != nil {
			return nil, err
		}
	}
	if gate.allow(FieldDueTime, input.DueTime != nil) && strings.TrimSpace(*input.DueTime) != "" {
		if !domain.ValidClock(strings.TrimSpace(*input.DueTime)) {
			return nil, apperrors.NewValidationError("invalid due time, expected HH:MM", map[string]any{"dueTime": *input.DueTime})
		}
		request.DueTime = strPtr(strings.TrimSpace(*input.DueTime))
	}
	files := input.Attachments
	if len(files) > 0 && !gate.allow(FieldAttachments, true) {
		files = nil
	}
	if err := s.attachments.Validate(files); err != nil {
		return nil, err
	}

	// Files land first so a storage failure leaves no request behind.
	staged, err := s.attachments.stage(files, companyID)
	if err != nil {
		return nil, err
	}
	var stored []domain.RequestAttachment
	err = s.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		err := withUniqueCode(s.logger, "SQ-", func(code string) error {
			request.ServiceQueueID = code
			return s.requests.Create(ctx, request)
		})
		if err != nil {
			return err
		}
		stored, err = s.attachments.record(ctx, p, request.ID, staged)
		return err
	})
	if err != nil {
		s.attachments.discard(staged)
		return nil, mapRepoErr(err, "service request")
	}
	s.metrics.RecordLifecycle(string(domain.ActivityRequestCreated))

	s.activity.recordForRequest(ctx, p, request, domain.ActivityRequestCreated,
		fmt.Sprintf("%s created service request %s", p.User.Name, request.ServiceQueueID),
		map[string]any{"serviceQueueId": request.ServiceQueueID, "category": request.Category})
	s.attachments.logUploads(ctx, p, request, stored)

	publish(ctx, s.dispatcher, p, request, events.EventRequestCreated, events.RequestCreatedPayload{
		Insured:    request.Insured,
		Category:   request.Category,
		AssigneeID: request.AssignedToID,
	})
	return &MutationResult{Request: request, Attachments: stored, IgnoredFields: gate.ignored}, nil
}

func (s *RequestService) resolveCompany(ctx context.Context, p *auth.Principal, requested *string) (string, error) {
	if p.Role.IsCustomer() {
		if p.CompanyID == nil {
			return "", apperrors.NewPermissionError("customer account has no company")
		}
		return *p.CompanyID, nil
	}
	if requested == nil || strings.TrimSpace(*requested) == "" {
		return "", apperrors.NewValidationError("companyId is required", map[string]any{"companyId": "required"})
	}
	companyID := strings.TrimSpace(*requested)
	if !p.CanSeeCompany(companyID) {
		return "", apperrors.NewNotFound("company", nil)
	}
	if _, err := s.companies.GetByID(ctx, companyID); err != nil {
		return "", mapRepoErr(err, "company")
	}
	return companyID, nil
}

func (s *RequestService) ensureUserExists(ctx context.Context, userID, field string) error {
	if _, err := s.users.GetByID(ctx, userID); err != nil {
		if repository.IsNotFound(err) {
			return apperrors.NewValidationError("user does not exist", map[string]any{field: userID})
		}
		return apperrors.MapError(err)
	}
	return nil
}

// Update applies the fields the caller's role may write. Fields outside the
// capability table are dropped and reported in IgnoredFields. Only the
// columns present in the payload are written.
func (s *RequestService) Update(ctx context.Context, p *auth.Principal, requestID string, input RequestUpdateInput) (*MutationResult, error) {
	before, err := loadVisibleRequest(ctx, s.requests, p, requestID)
	if err != nil {
		return nil, err
	}
	gate := &fieldGate{role: p.Role}
	patch := repository.RequestPatch{ModifiedByID: p.UserID()}

	if gate.allow(FieldInsured, input.Insured.Set) {
		if input.Insured.Value == nil || strings.TrimSpace(*input.Insured.Value) == "" {
			return nil, apperrors.NewValidationError("insured cannot be blank", map[string]any{"insured": "required"})
		}
		patch.Insured = strPtr(strings.TrimSpace(*input.Insured.Value))
	}
	if gate.allow(FieldNarrative, input.Narrative.Set) {
		if input.Narrative.Value == nil || strings.TrimSpace(*input.Narrative.Value) == "" {
			return nil, apperrors.NewValidationError("narrative cannot be blank", map[string]any{"serviceRequestNarrative": "required"})
		}
		patch.Narrative = strPtr(strings.TrimSpace(*input.Narrative.Value))
	}
	if gate.allow(FieldCategory, input.Category.Set) {
		if input.Category.Value == nil || !input.Category.Value.Valid() {
			return nil, apperrors.NewValidationError("unknown category", map[string]any{"serviceQueueCategory": input.Category.Value})
		}
		category := *input.Category.Value
		patch.Category = &category
	}
	if gate.allow(FieldAssignedBy, input.AssignedByID.Set) {
		if input.AssignedByID.Value == nil || strings.TrimSpace(*input.AssignedByID.Value) == "" {
			return nil, apperrors.NewValidationError("assignedById cannot be blank", map[string]any{"assignedById": "required"})
		}
		id := strings.TrimSpace(*input.AssignedByID.Value)
		if err := s.ensureUserExists(ctx, id, "assignedById"); err != nil {
			return nil, err
		}
		patch.AssignedByID = &id
	}
	if gate.allow(FieldAssignedTo, input.AssignedToID.Set) {
		patch.AssignedToID = domain.Null[string]()
		if input.AssignedToID.Value != nil && strings.TrimSpace(*input.AssignedToID.Value) != "" {
			assignee, err := loadAssignee(ctx, s.users, strings.TrimSpace(*input.AssignedToID.Value))
			if err != nil {
				return nil, err
			}
			patch.AssignedToID = domain.Some(assignee.ID)
		}
	}
	if gate.allow(FieldTaskStatus, input.TaskStatus.Set) {
		if input.TaskStatus.Value == nil || !input.TaskStatus.Value.Valid() {
			return nil, apperrors.NewValidationError("unknown task status", map[string]any{"taskStatus": input.TaskStatus.Value})
		}
		status := *input.TaskStatus.Value
		patch.TaskStatus = &status
		if status == domain.TaskStatusInProgress {
			now := s.now()
			patch.StampInProgressAt = &now
		}
	}
	if gate.allow(FieldTimeSpent, input.TimeSpent.Set) {
		if input.TimeSpent.Value != nil && *input.TimeSpent.Value < 0 {
			return nil, apperrors.NewValidationError("timeSpent cannot be negative", map[string]any{"timeSpent": *input.TimeSpent.Value})
		}
		patch.TimeSpent = input.TimeSpent
	}
	if gate.allow(FieldDueDate, input.DueDate.Set) {
		patch.DueDate = domain.Null[time.Time]()
		if input.DueDate.Value != nil && strings.TrimSpace(*input.DueDate.Value) != "" {
			due, err := parseDate("dueDate", *input.DueDate.Value)
			if err != nil {
				return nil, err
			}
			patch.DueDate = domain.Some(*due)
		}
	}
	if gate.allow(FieldDueTime, input.DueTime.Set) {
		patch.DueTime = domain.Null[string]()
		if input.DueTime.Value != nil && strings.TrimSpace(*input.DueTime.Value) != "" {
			clock := strings.TrimSpace(*input.DueTime.Value)
			if !domain.ValidClock(clock) {
				return nil, apperrors.NewValidationError("invalid due time, expected HH:MM", map[string]any{"dueTime": clock})
			}
			patch.DueTime = domain.Some(clock)
		}
	}
	if gate.allow(FieldClosedAt, input.ClosedAt.Set) {
		patch.ClosedAt = input.ClosedAt
	}
	files := input.Attachments
	if len(files) > 0 && !gate.allow(FieldAttachments, true) {
		files = nil
	}
	if err := s.attachments.Validate(files); err != nil {
		return nil, err
	}

	if len(gate.ignored) > 0 {
		s.logger.Info("dropped fields outside role capability",
			zap.String("request_id", before.ID),
			zap.String("role", string(p.Role)),
			zap.Strings("fields", gate.ignored))
	}

	staged, err := s.attachments.stage(files, before.ID)
	if err != nil {
		return nil, err
	}
	var request *domain.ServiceRequest
	var stored []domain.RequestAttachment
	err = s.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		if request, err = s.requests.Patch(ctx, before.ID, patch); err != nil {
			return err
		}
		stored, err = s.attachments.record(ctx, p, request.ID, staged)
		return err
	})
	if err != nil {
		s.attachments.discard(staged)
		return nil, mapRepoErr(err, "service request")
	}

	if patch.TaskStatus != nil && *patch.TaskStatus != before.TaskStatus {
		s.metrics.RecordLifecycle(string(domain.ActivityStatusChanged))
		s.activity.recordForRequest(ctx, p, request, domain.ActivityStatusChanged,
			fmt.Sprintf("%s changed status from %s to %s", p.User.Name, before.TaskStatus, *patch.TaskStatus),
			map[string]any{"fromStatus": before.TaskStatus, "toStatus": *patch.TaskStatus})
		publish(ctx, s.dispatcher, p, request, events.EventRequestStatusChanged, events.StatusChangedPayload{
			FromStatus: before.TaskStatus,
			ToStatus:   *patch.TaskStatus,
		})
	}
	s.attachments.logUploads(ctx, p, request, stored)

	s.metrics.RecordLifecycle(string(domain.ActivityRequestUpdated))
	s.activity.recordForRequest(ctx, p, request, domain.ActivityRequestUpdated,
		fmt.Sprintf("%s updated service request %s", p.User.Name, request.ServiceQueueID),
		map[string]any{"fields": patch.Fields(), "ignoredFields": gate.ignored})

	if patch.AssignedToID.Set && request.AssignedToID != nil && !samePtr(before.AssignedToID, request.AssignedToID) {
		publish(ctx, s.dispatcher, p, request, events.EventRequestAssigned, events.RequestAssignedPayload{
			AssigneeID:         *request.AssignedToID,
			PreviousAssigneeID: before.AssignedToID,
		})
	}
	return &MutationResult{Request: request, Attachments: stored, IgnoredFields: gate.ignored}, nil
}

// Assign reassigns a request directly. Managers and administrators only;
// agents go through the assignment-change workflow.
func (s *RequestService) Assign(ctx context.Context, p *auth.Principal, requestID, assigneeID string) (*domain.ServiceRequest, error) {
	if !p.ManagerOrAdmin() {
		return nil, apperrors.NewPermissionError("only managers may reassign requests directly")
	}
	request, err := loadVisibleRequest(ctx, s.requests, p, requestID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(assigneeID) == "" {
		return nil, apperrors.NewValidationError("assignedToId is required", map[string]any{"assignedToId": "required"})
	}
	assignee, err := loadAssignee(ctx, s.users, strings.TrimSpace(assigneeID))
	if err != nil {
		return nil, err
	}

	previous := request.AssignedToID
	request, err = s.requests.Patch(ctx, request.ID, repository.RequestPatch{
		AssignedToID: domain.Some(assignee.ID),
		ModifiedByID: p.UserID(),
	})
	if err != nil {
		return nil, mapRepoErr(err, "service request")
	}
	s.metrics.RecordLifecycle(string(domain.ActivityRequestAssigned))

	s.activity.recordForRequest(ctx, p, request, domain.ActivityRequestAssigned,
		fmt.Sprintf("%s assigned %s to %s", p.User.Name, request.ServiceQueueID, assignee.Name),
		map[string]any{"fromAssigneeId": previous, "toAssigneeId": assignee.ID})
	publish(ctx, s.dispatcher, p, request, events.EventRequestAssigned, events.RequestAssignedPayload{
		AssigneeID:         assignee.ID,
		PreviousAssigneeID: previous,
	})
	return request, nil
}

// Close sets taskStatus and closedAt together so stored and effective status agree.
func (s *RequestService) Close(ctx context.Context, p *auth.Principal, requestID string) (*domain.ServiceRequest, error) {
	if !p.ManagerOrAdmin() {
		return nil, apperrors.NewPermissionError("only managers may close requests")
	}
	request, err := loadVisibleRequest(ctx, s.requests, p, requestID)
	if err != nil {
		return nil, err
	}
	if request.TaskStatus == domain.TaskStatusClosed && request.ClosedAt != nil {
		return nil, apperrors.NewConflict("service request is already closed", nil)
	}

	from := request.TaskStatus
	now := s.now()
	closed := domain.TaskStatusClosed
	request, err = s.requests.Patch(ctx, request.ID, repository.RequestPatch{
		TaskStatus:       &closed,
		StampClosedAt:    &now,
		ModifiedByID:     p.UserID(),
		RequireNotClosed: true,
	})
	if errors.Is(err, repository.ErrStaleState) {
		return nil, apperrors.NewConflict("service request is already closed", nil)
	}
	if err != nil {
		return nil, mapRepoErr(err, "service request")
	}
	s.metrics.RecordLifecycle(string(domain.ActivityStatusChanged))

	s.activity.recordForRequest(ctx, p, request, domain.ActivityStatusChanged,
		fmt.Sprintf("%s closed service request %s", p.User.Name, request.ServiceQueueID),
		map[string]any{"fromStatus": from, "toStatus": domain.TaskStatusClosed})
	publish(ctx, s.dispatcher, p, request, events.EventRequestStatusChanged, events.StatusChangedPayload{
		FromStatus: from,
		ToStatus:   domain.TaskStatusClosed,
	})
	return request, nil
}

func samePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
