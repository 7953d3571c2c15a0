package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/service-portal/internal/auth"
	"github.com/spec-kit/service-portal/internal/domain"
	"github.com/spec-kit/service-portal/internal/repository"
)

// ActivityService writes and reads the audit log.
type ActivityService struct {
	activity repository.ActivityRepository
	requests repository.ServiceRequestRepository
	logger   *zap.Logger
}

// NewActivityService constructs the service.
func NewActivityService(activity repository.ActivityRepository, requests repository.ServiceRequestRepository, logger *zap.Logger) *ActivityService {
	return &ActivityService{activity: activity, requests: requests, logger: nopLogger(logger)}
}

// Record appends an entry. Failures are logged and swallowed so the primary
// mutation is never rolled back by the audit trail.
func (s *ActivityService) Record(ctx context.Context, entry domain.ActivityLog) {
	if err := s.activity.Create(ctx, &entry); err != nil {
		fields := []zap.Field{zap.String("type", string(entry.Type)), zap.String("user_id", entry.UserID), zap.Error(err)}
		if entry.RequestID != nil {
			fields = append(fields, zap.String("request_id", *entry.RequestID))
		}
		s.logger.Warn("activity log write failed", fields...)
	}
}

// recordForRequest is the common shape for request-scoped entries.
func (s *ActivityService) recordForRequest(ctx context.Context, p *auth.Principal, request *domain.ServiceRequest, kind domain.ActivityType, description string, metadata map[string]any) {
	s.Record(ctx, domain.ActivityLog{
		Type:        kind,
		Description: description,
		UserID:      p.UserID(),
		CompanyID:   strPtr(request.CompanyID),
		RequestID:   strPtr(request.ID),
		Metadata:    metadata,
	})
}

// ListForRequest returns the request's entries newest first.
func (s *ActivityService) ListForRequest(ctx context.Context, p *auth.Principal, requestID string, limit, offset int) ([]domain.ActivityLog, error) {
	if _, err := loadVisibleRequest(ctx, s.requests, p, requestID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	entries, err := s.activity.List(ctx, repository.ActivityFilter{RequestID: &requestID, Limit: limit, Offset: offset})
	if err != nil {
		return nil, mapRepoErr(err, "activity")
	}
	return entries, nil
}
