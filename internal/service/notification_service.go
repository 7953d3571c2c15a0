package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/service-portal/internal/domain"
	"github.com/spec-kit/service-portal/internal/events"
	"github.com/spec-kit/service-portal/internal/repository"
)

// NotificationQueue accepts outbound notifications for asynchronous delivery.
type NotificationQueue interface {
	Enqueue(ctx context.Context, n domain.Notification) error
}

// NotificationService turns domain events into queued notifications.
type NotificationService struct {
	dispatcher events.Dispatcher
	users      repository.UserRepository
	queue      NotificationQueue
	logger     *zap.Logger
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, users repository.UserRepository, queue NotificationQueue, logger *zap.Logger) *NotificationService {
	return &NotificationService{
		dispatcher: dispatcher,
		users:      users,
		queue:      queue,
		logger:     nopLogger(logger),
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventRequestCreated, n.handleRequestCreated)
	n.dispatcher.Subscribe(events.EventRequestAssigned, n.handleRequestAssigned)
	n.dispatcher.Subscribe(events.EventRequestStatusChanged, n.handleStatusChanged)
	n.dispatcher.Subscribe(events.EventNoteAdded, n.handleNoteAdded)
	n.dispatcher.Subscribe(events.EventSubTaskCreated, n.handleSubTaskCreated)
	n.dispatcher.Subscribe(events.EventAssignmentChangeCreated, n.handleChangeCreated)
	n.dispatcher.Subscribe(events.EventAssignmentChangeDecided, n.handleChangeDecided)
}

func (n *NotificationService) handleRequestCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.RequestCreatedPayload)
	if !ok || payload.AssigneeID == nil {
		return nil
	}
	return n.notifyUser(ctx, event, domain.NotifyRequestAssigned, *payload.AssigneeID, map[string]string{
		"insured":  payload.Insured,
		"category": string(payload.Category),
	})
}

func (n *NotificationService) handleRequestAssigned(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.RequestAssignedPayload)
	if !ok {
		return nil
	}
	return n.notifyUser(ctx, event, domain.NotifyRequestAssigned, payload.AssigneeID, nil)
}

func (n *NotificationService) handleStatusChanged(_ context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.StatusChangedPayload)
	if !ok {
		return nil
	}
	n.logger.Debug("request status changed",
		zap.String("request_id", event.RequestID),
		zap.String("from", string(payload.FromStatus)),
		zap.String("to", string(payload.ToStatus)))
	return nil
}

func (n *NotificationService) handleNoteAdded(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.NoteAddedPayload)
	if !ok {
		return nil
	}
	fields := map[string]string{"noteId": payload.NoteID, "preview": payload.Preview}
	if payload.RecipientEmail != nil {
		n.enqueue(ctx, n.build(event, domain.NotifyNoteAdded, *payload.RecipientEmail, fields))
	}
	return nil
}

func (n *NotificationService) handleSubTaskCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.SubTaskCreatedPayload)
	if !ok {
		return nil
	}
	return n.notifyUser(ctx, event, domain.NotifySubTaskAssigned, payload.AssigneeID, map[string]string{
		"taskId":      payload.TaskID,
		"description": payload.Description,
	})
}

// handleChangeCreated fans out to every active manager servicing the company.
func (n *NotificationService) handleChangeCreated(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.AssignmentChangeCreatedPayload)
	if !ok {
		return nil
	}
	managers, err := n.users.List(ctx, repository.UserFilter{
		Roles:           []domain.Role{domain.RoleAgentManager},
		ServesCompanyID: &event.CompanyID,
		ActiveOnly:      true,
	})
	if err != nil {
		return fmt.Errorf("list managers: %w", err)
	}
	fields := map[string]string{"changeRequestId": payload.ChangeRequestID, "reason": payload.Reason}
	for _, manager := range managers {
		n.enqueue(ctx, n.build(event, domain.NotifyAssignmentChangeCreated, manager.Email, fields))
	}
	return nil
}

func (n *NotificationService) handleChangeDecided(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.AssignmentChangeDecidedPayload)
	if !ok {
		return nil
	}
	fields := map[string]string{
		"changeRequestId": payload.ChangeRequestID,
		"decision":        string(payload.Decision),
	}
	if payload.Comment != nil {
		fields["comment"] = *payload.Comment
	}
	return n.notifyUser(ctx, event, domain.NotifyAssignmentChangeDecided, payload.RequestedByID, fields)
}

// notifyUser resolves userID to an address. The actor is never notified of
// their own action.
func (n *NotificationService) notifyUser(ctx context.Context, event events.Event, kind domain.NotificationKind, userID string, fields map[string]string) error {
	if userID == "" || userID == event.Actor.UserID {
		return nil
	}
	user, err := n.users.GetByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("resolve recipient %s: %w", userID, err)
	}
	if !user.Active || strings.TrimSpace(user.Email) == "" {
		return nil
	}
	n.enqueue(ctx, n.build(event, kind, user.Email, fields))
	return nil
}

func (n *NotificationService) build(event events.Event, kind domain.NotificationKind, recipient string, fields map[string]string) domain.Notification {
	copied := make(map[string]string, len(fields))
	for k, v := range fields {
		copied[k] = v
	}
	return domain.Notification{
		ID:             uuid.NewString(),
		Kind:           kind,
		RequestID:      event.RequestID,
		ServiceQueueID: event.ServiceQueueID,
		ActorName:      event.Actor.Name,
		Recipient:      recipient,
		Fields:         copied,
		CreatedAt:      time.Now().UTC(),
	}
}

func (n *NotificationService) enqueue(ctx context.Context, notification domain.Notification) {
	if n.queue == nil {
		return
	}
	if err := n.queue.Enqueue(ctx, notification); err != nil {
		n.logger.Warn("notification enqueue failed",
			zap.String("kind", string(notification.Kind)),
			zap.String("request_id", notification.RequestID),
			zap.Error(err))
	}
}
