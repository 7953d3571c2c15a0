package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/service-portal/internal/auth"
	"github.com/spec-kit/service-portal/internal/domain"
	"github.com/spec-kit/service-portal/internal/events"
	"github.com/spec-kit/service-portal/internal/repository"
	apperrors "github.com/spec-kit/service-portal/pkg/util"
)

const dateLayout = "2006-01-02"

// mapRepoErr turns repository sentinels into API errors.
func mapRepoErr(err error, resource string) error {
	switch {
	case err == nil:
		return nil
	case repository.IsNotFound(err):
		return apperrors.NewNotFound(resource, nil)
	case errors.Is(err, repository.ErrDuplicate):
		return apperrors.NewConflict(resource+" already exists", nil)
	}
	return apperrors.MapError(err)
}

// loadVisibleRequest fetches a request and hides it when it is outside the
// caller's tenant scope.
func loadVisibleRequest(ctx context.Context, repo repository.ServiceRequestRepository, p *auth.Principal, id string) (*domain.ServiceRequest, error) {
	request, err := repo.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err, "service request")
	}
	if !p.CanSeeCompany(request.CompanyID) {
		return nil, apperrors.NewNotFound("service request", nil)
	}
	return request, nil
}

// loadAssignee checks that userID may hold a service request.
func loadAssignee(ctx context.Context, users repository.UserRepository, userID string) (*domain.User, error) {
	user, err := users.GetByID(ctx, userID)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, apperrors.NewValidationError("assignee does not exist", map[string]any{"assignedToId": userID})
		}
		return nil, apperrors.MapError(err)
	}
	if !user.Active || !user.Role.CanBeAssigned() {
		return nil, apperrors.NewValidationError("user cannot be assigned service requests", map[string]any{"assignedToId": userID})
	}
	return user, nil
}

func parseDate(field, value string) (*time.Time, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(value))
	if err != nil {
		return nil, apperrors.NewValidationError("invalid date, expected YYYY-MM-DD", map[string]any{field: value})
	}
	return &t, nil
}

func publish(ctx context.Context, dispatcher events.Dispatcher, p *auth.Principal, request *domain.ServiceRequest, eventType events.EventType, payload any) {
	if dispatcher == nil {
		return
	}
	event := events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	if request != nil {
		event.RequestID = request.ID
		event.ServiceQueueID = request.ServiceQueueID
		event.CompanyID = request.CompanyID
	}
	if p != nil {
		event.Actor = events.Actor{UserID: p.UserID(), Name: p.User.Name, Role: p.Role}
	}
	_ = dispatcher.Publish(ctx, event)
}

// shortCode builds a prefixed identifier with eight uppercase hex characters.
func shortCode(prefix string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

const maxCodeAttempts = 5

// withUniqueCode retries create while it collides on the generated code.
func withUniqueCode(logger *zap.Logger, prefix string, create func(code string) error) error {
	var err error
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := shortCode(prefix)
		if err = create(code); !errors.Is(err, repository.ErrDuplicate) {
			return err
		}
		logger.Debug("generated code collided", zap.String("code", code))
	}
	return err
}

func strPtr(s string) *string {
	return &s
}

// stringPreview shortens body to at most max runes.
func stringPreview(body string, max int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}

func nopLogger(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(dateLayout)
}

func formatTimestamp(t *time.Time, loc *time.Location) string {
	if t == nil {
		return ""
	}
	return t.In(loc).Format("2006-01-02 15:04")
}
