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

// AssignmentChangeService runs the pending -> approved|rejected workflow that
// lets agents petition for reassignment.
type AssignmentChangeService struct {
	changes    repository.AssignmentChangeRepository
	requests   repository.ServiceRequestRepository
	users      repository.UserRepository
	tx         repository.TxManager
	activity   *ActivityService
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// AssignmentChangeDependencies bundles collaborators.
type AssignmentChangeDependencies struct {
	ChangeRepo  repository.AssignmentChangeRepository
	RequestRepo repository.ServiceRequestRepository
	UserRepo    repository.UserRepository
	TxManager   repository.TxManager
	Activity    *ActivityService
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// NewAssignmentChangeService constructs the service.
func NewAssignmentChangeService(deps AssignmentChangeDependencies) *AssignmentChangeService {
	return &AssignmentChangeService{
		changes:    deps.ChangeRepo,
		requests:   deps.RequestRepo,
		users:      deps.UserRepo,
		tx:         deps.TxManager,
		activity:   deps.Activity,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     nopLogger(deps.Logger),
		now:        time.Now,
	}
}

// ChangeRequestInput is an agent's reassignment petition.
type ChangeRequestInput struct {
	Reason string
	// RequestedAssigneeID nil leaves the choice to the reviewing manager.
	RequestedAssigneeID *string
}

// ReviewInput is a manager's decision.
type ReviewInput struct {
	Approve bool
	Comment *string
	// AssigneeID is used on approval when no assignee was requested.
	AssigneeID *string
}

// Request files a petition against a visible request.
func (s *AssignmentChangeService) Request(ctx context.Context, p *auth.Principal, requestID string, input ChangeRequestInput) (*domain.AssignmentChangeRequest, error) {
	if p.Role != domain.RoleAgent {
		return nil, apperrors.NewPermissionError("only agents may request an assignment change")
	}
	request, err := loadVisibleRequest(ctx, s.requests, p, requestID)
	if err != nil {
		return nil, err
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, apperrors.NewValidationError("reason is required", map[string]any{"reason": "required"})
	}

	change := &domain.AssignmentChangeRequest{
		RequestID:         request.ID,
		RequestedByID:     p.UserID(),
		CurrentAssigneeID: request.AssignedToID,
		Reason:            reason,
		Status:            domain.ChangeRequestPending,
	}
	if input.RequestedAssigneeID != nil && strings.TrimSpace(*input.RequestedAssigneeID) != "" {
		assignee, err := loadAssignee(ctx, s.users, strings.TrimSpace(*input.RequestedAssigneeID))
		if err != nil {
			return nil, err
		}
		change.RequestedAssigneeID = strPtr(assignee.ID)
	}

	pending, err := s.changes.HasPending(ctx, request.ID, p.UserID())
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	if pending {
		return nil, apperrors.NewConflict("a pending assignment change already exists for this request", nil)
	}
	if err := s.changes.Create(ctx, change); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.NewConflict("a pending assignment change already exists for this request", nil)
		}
		return nil, apperrors.MapError(err)
	}

	s.activity.recordForRequest(ctx, p, request, domain.ActivityAssignmentChangeRequested,
		fmt.Sprintf("%s requested an assignment change on %s", p.User.Name, request.ServiceQueueID),
		map[string]any{
			"changeRequestId":     change.ID,
			"reason":              change.Reason,
			"currentAssigneeId":   change.CurrentAssigneeID,
			"requestedAssigneeId": change.RequestedAssigneeID,
		})
	publish(ctx, s.dispatcher, p, request, events.EventAssignmentChangeCreated, events.AssignmentChangeCreatedPayload{
		ChangeRequestID:     change.ID,
		Reason:              change.Reason,
		RequestedAssigneeID: change.RequestedAssigneeID,
	})
	return change, nil
}

// Review approves or rejects a pending petition. A second review of the same
// petition fails with a conflict and leaves the request untouched.
func (s *AssignmentChangeService) Review(ctx context.Context, p *auth.Principal, changeID string, input ReviewInput) (*domain.AssignmentChangeRequest, *domain.ServiceRequest, error) {
	if p.Role != domain.RoleAgentManager {
		return nil, nil, apperrors.NewPermissionError("only agent managers may review assignment changes")
	}
	change, err := s.changes.GetByID(ctx, changeID)
	if err != nil {
		return nil, nil, mapRepoErr(err, "assignment change request")
	}
	request, err := s.requests.GetByID(ctx, change.RequestID)
	if err != nil || !p.CanSeeCompany(request.CompanyID) {
		return nil, nil, apperrors.NewNotFound("assignment change request", nil)
	}
	if change.Status.Terminal() {
		return nil, nil, apperrors.NewConflict("assignment change request has already been reviewed",
			map[string]any{"status": change.Status})
	}

	decision := repository.ReviewDecision{
		Status:       domain.ChangeRequestRejected,
		ReviewedByID: p.UserID(),
		ReviewedAt:   s.now(),
	}
	if input.Comment != nil && strings.TrimSpace(*input.Comment) != "" {
		decision.Comment = strPtr(strings.TrimSpace(*input.Comment))
	}

	var newAssignee *string
	if input.Approve {
		decision.Status = domain.ChangeRequestApproved
		switch {
		case change.RequestedAssigneeID != nil:
			newAssignee = change.RequestedAssigneeID
		case input.AssigneeID != nil && strings.TrimSpace(*input.AssigneeID) != "":
			assignee, err := loadAssignee(ctx, s.users, strings.TrimSpace(*input.AssigneeID))
			if err != nil {
				return nil, nil, err
			}
			newAssignee = strPtr(assignee.ID)
		}
	}

	var reviewed *domain.AssignmentChangeRequest
	var previousAssignee *string
	err = s.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		if reviewed, err = s.changes.Review(ctx, change.ID, decision); err != nil {
			return err
		}
		// Re-read under lock so edits committed since the first read survive.
		if request, err = s.requests.GetForUpdate(ctx, change.RequestID); err != nil {
			return err
		}
		previousAssignee = request.AssignedToID
		if newAssignee == nil {
			return nil
		}
		request, err = s.requests.Patch(ctx, request.ID, repository.RequestPatch{
			AssignedToID: domain.Some(*newAssignee),
			ModifiedByID: p.UserID(),
		})
		return err
	})
	if err != nil {
		if errors.Is(err, repository.ErrStaleState) {
			return nil, nil, apperrors.NewConflict("assignment change request has already been reviewed", nil)
		}
		return nil, nil, mapRepoErr(err, "assignment change request")
	}
	s.metrics.RecordLifecycle("assignment_change_" + string(reviewed.Status))

	kind := domain.ActivityAssignmentChangeRejected
	verb := "rejected"
	if reviewed.Status == domain.ChangeRequestApproved {
		kind = domain.ActivityAssignmentChangeApproved
		verb = "approved"
	}
	s.activity.recordForRequest(ctx, p, request, kind,
		fmt.Sprintf("%s %s the assignment change on %s", p.User.Name, verb, request.ServiceQueueID),
		map[string]any{
			"changeRequestId": reviewed.ID,
			"comment":         reviewed.ReviewComment,
			"fromAssigneeId":  previousAssignee,
			"toAssigneeId":    request.AssignedToID,
		})
	publish(ctx, s.dispatcher, p, request, events.EventAssignmentChangeDecided, events.AssignmentChangeDecidedPayload{
		ChangeRequestID: reviewed.ID,
		Decision:        reviewed.Status,
		RequestedByID:   reviewed.RequestedByID,
		Comment:         reviewed.ReviewComment,
	})
	return reviewed, request, nil
}

// ListForRequest returns every petition filed on a visible request.
func (s *AssignmentChangeService) ListForRequest(ctx context.Context, p *auth.Principal, requestID string) ([]domain.AssignmentChangeRequest, error) {
	if p.Role.IsCustomer() {
		return nil, apperrors.NewPermissionError("assignment changes are visible to agents only")
	}
	if _, err := loadVisibleRequest(ctx, s.requests, p, requestID); err != nil {
		return nil, err
	}
	changes, err := s.changes.List(ctx, repository.ChangeRequestFilter{RequestID: &requestID})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return changes, nil
}

// ListPending returns the review queue of a manager, or every pending
// petition for an administrator.
func (s *AssignmentChangeService) ListPending(ctx context.Context, p *auth.Principal) ([]domain.AssignmentChangeRequest, error) {
	if !p.ManagerOrAdmin() {
		return nil, apperrors.NewPermissionError("only managers may view the review queue")
	}
	status := domain.ChangeRequestPending
	scoped, companyIDs := p.CompanyScope()
	changes, err := s.changes.List(ctx, repository.ChangeRequestFilter{
		Status:     &status,
		Scoped:     scoped,
		CompanyIDs: companyIDs,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return changes, nil
}
