package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/service-portal/internal/auth"
	"github.com/spec-kit/service-portal/internal/domain"
	"github.com/spec-kit/service-portal/internal/events"
	"github.com/spec-kit/service-portal/internal/repository"
	apperrors "github.com/spec-kit/service-portal/pkg/util"
)

// SubTaskService manages manager-assigned sub-tasks. Sub-task status never
// cascades to the parent request.
type SubTaskService struct {
	subTasks   repository.SubTaskRepository
	requests   repository.ServiceRequestRepository
	users      repository.UserRepository
	activity   *ActivityService
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// SubTaskDependencies bundles collaborators for the sub-task service.
type SubTaskDependencies struct {
	SubTaskRepo repository.SubTaskRepository
	RequestRepo repository.ServiceRequestRepository
	UserRepo    repository.UserRepository
	Activity    *ActivityService
	Dispatcher  events.Dispatcher
	Logger      *zap.Logger
}

// NewSubTaskService constructs the service.
func NewSubTaskService(deps SubTaskDependencies) *SubTaskService {
	return &SubTaskService{
		subTasks:   deps.SubTaskRepo,
		requests:   deps.RequestRepo,
		users:      deps.UserRepo,
		activity:   deps.Activity,
		dispatcher: deps.Dispatcher,
		logger:     nopLogger(deps.Logger),
	}
}

// SubTaskCreateInput describes a new sub-task.
type SubTaskCreateInput struct {
	Description  string
	AssignedToID string
	DueDate      *string
}

// Create adds a sub-task. The parent's status is deliberately not checked,
// so closed requests accept sub-tasks too.
func (s *SubTaskService) Create(ctx context.Context, p *auth.Principal, requestID string, input SubTaskCreateInput) (*domain.SubTask, error) {
	if p.Role != domain.RoleAgentManager {
		return nil, apperrors.NewPermissionError("only agent managers may create sub-tasks")
	}
	request, err := loadVisibleRequest(ctx, s.requests, p, requestID)
	if err != nil {
		return nil, err
	}

	task := &domain.SubTask{
		RequestID:    request.ID,
		Description:  strings.TrimSpace(input.Description),
		AssignedToID: strings.TrimSpace(input.AssignedToID),
		AssignedByID: p.UserID(),
		TaskStatus:   domain.TaskStatusNew,
	}
	problems := map[string]any{}
	if task.Description == "" {
		problems["description"] = "required"
	}
	if task.AssignedToID == "" {
		problems["assignedToId"] = "required"
	}
	if len(problems) > 0 {
		return nil, apperrors.NewValidationError("invalid sub-task", problems)
	}
	if input.DueDate != nil && strings.TrimSpace(*input.DueDate) != "" {
		if task.DueDate, err = parseDate("dueDate", *input.DueDate); err != nil {
			return nil, err
		}
	}
	assignee, err := s.agentForCompany(ctx, task.AssignedToID, request.CompanyID)
	if err != nil {
		return nil, err
	}

	err = withUniqueCode(s.logger, "ST-", func(code string) error {
		task.TaskID = code
		return s.subTasks.Create(ctx, task)
	})
	if err != nil {
		return nil, mapRepoErr(err, "sub-task")
	}

	s.activity.recordForRequest(ctx, p, request, domain.ActivitySubTaskCreated,
		fmt.Sprintf("%s created sub-task %s for %s", p.User.Name, task.TaskID, assignee.Name),
		map[string]any{"subTaskId": task.ID, "taskId": task.TaskID, "assignedToId": task.AssignedToID})
	publish(ctx, s.dispatcher, p, request, events.EventSubTaskCreated, events.SubTaskCreatedPayload{
		SubTaskID:   task.ID,
		TaskID:      task.TaskID,
		AssigneeID:  task.AssignedToID,
		Description: stringPreview(task.Description, 200),
	})
	return task, nil
}

// agentForCompany checks that userID is an active agent servicing companyID.
func (s *SubTaskService) agentForCompany(ctx context.Context, userID, companyID string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, apperrors.NewValidationError("assignee does not exist", map[string]any{"assignedToId": userID})
		}
		return nil, apperrors.MapError(err)
	}
	if !user.Active || !user.Role.IsAgent() {
		return nil, apperrors.NewValidationError("sub-tasks can only be assigned to agents", map[string]any{"assignedToId": userID})
	}
	companies, err := s.users.AgentCompanyIDs(ctx, user.ID)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	agent := domain.Agent{User: *user, CompanyIDs: companies}
	if !agent.ServesCompany(companyID) {
		return nil, apperrors.NewValidationError("assignee does not service this company", map[string]any{"assignedToId": userID})
	}
	return user, nil
}

// List returns sub-tasks of a visible request. Customers do not see sub-tasks.
func (s *SubTaskService) List(ctx context.Context, p *auth.Principal, requestID string) ([]domain.SubTask, error) {
	if p.Role.IsCustomer() {
		return nil, apperrors.NewPermissionError("sub-tasks are visible to agents only")
	}
	if _, err := loadVisibleRequest(ctx, s.requests, p, requestID); err != nil {
		return nil, err
	}
	tasks, err := s.subTasks.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, mapRepoErr(err, "sub-task")
	}
	return tasks, nil
}

// UpdateStatus moves a sub-task to any status. Only the assignee or an agent
// manager may call it.
func (s *SubTaskService) UpdateStatus(ctx context.Context, p *auth.Principal, subTaskID string, status domain.TaskStatus) (*domain.SubTask, error) {
	if !status.Valid() {
		return nil, apperrors.NewValidationError("unknown task status", map[string]any{"taskStatus": status})
	}
	task, err := s.subTasks.GetByID(ctx, subTaskID)
	if err != nil {
		return nil, mapRepoErr(err, "sub-task")
	}
	request, err := s.requests.GetByID(ctx, task.RequestID)
	if err != nil || !p.CanSeeCompany(request.CompanyID) {
		return nil, apperrors.NewNotFound("sub-task", nil)
	}
	if task.AssignedToID != p.UserID() && p.Role != domain.RoleAgentManager {
		return nil, apperrors.NewPermissionError("only the assignee or a manager may update this sub-task")
	}

	from := task.TaskStatus
	task.TaskStatus = status
	if err := s.subTasks.UpdateStatus(ctx, task); err != nil {
		return nil, mapRepoErr(err, "sub-task")
	}
	if from != status {
		s.activity.recordForRequest(ctx, p, request, domain.ActivitySubTaskStatusChanged,
			fmt.Sprintf("%s moved sub-task %s from %s to %s", p.User.Name, task.TaskID, from, status),
			map[string]any{"subTaskId": task.ID, "fromStatus": from, "toStatus": status})
	}
	return task, nil
}
