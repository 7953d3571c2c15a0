package service

import (
	"context"
	"fmt"
	"net/mail"
	"strings"

	"github.com/spec-kit/service-portal/internal/auth"
	"github.com/spec-kit/service-portal/internal/domain"
	"github.com/spec-kit/service-portal/internal/events"
	"github.com/spec-kit/service-portal/internal/repository"
	apperrors "github.com/spec-kit/service-portal/pkg/util"
)

// NoteService appends to a request's note thread.
type NoteService struct {
	notes      repository.NoteRepository
	requests   repository.ServiceRequestRepository
	activity   *ActivityService
	dispatcher events.Dispatcher
}

// NewNoteService constructs the service.
func NewNoteService(notes repository.NoteRepository, requests repository.ServiceRequestRepository, activity *ActivityService, dispatcher events.Dispatcher) *NoteService {
	return &NoteService{notes: notes, requests: requests, activity: activity, dispatcher: dispatcher}
}

// Add appends a note. recipientEmail, when given, receives a copy.
func (s *NoteService) Add(ctx context.Context, p *auth.Principal, requestID, content string, recipientEmail *string) (*domain.RequestNote, error) {
	request, err := loadVisibleRequest(ctx, s.requests, p, requestID)
	if err != nil {
		return nil, err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, apperrors.NewValidationError("note content is required", map[string]any{"content": "required"})
	}
	var recipient *string
	if recipientEmail != nil && strings.TrimSpace(*recipientEmail) != "" {
		addr, err := mail.ParseAddress(strings.TrimSpace(*recipientEmail))
		if err != nil {
			return nil, apperrors.NewValidationError("invalid recipient email", map[string]any{"recipientEmail": *recipientEmail})
		}
		recipient = &addr.Address
	}

	note := &domain.RequestNote{
		RequestID:  request.ID,
		AuthorID:   p.UserID(),
		AuthorName: p.User.Name,
		Content:    content,
		IsInternal: false,
	}
	if err := s.notes.Create(ctx, note); err != nil {
		return nil, mapRepoErr(err, "note")
	}

	s.activity.recordForRequest(ctx, p, request, domain.ActivityNoteAdded,
		fmt.Sprintf("%s added a note to %s", p.User.Name, request.ServiceQueueID),
		map[string]any{"noteId": note.ID})
	publish(ctx, s.dispatcher, p, request, events.EventNoteAdded, events.NoteAddedPayload{
		NoteID:         note.ID,
		Preview:        stringPreview(note.Content, 200),
		RecipientEmail: recipient,
	})
	return note, nil
}

// List returns the thread oldest first.
func (s *NoteService) List(ctx context.Context, p *auth.Principal, requestID string) ([]domain.RequestNote, error) {
	if _, err := loadVisibleRequest(ctx, s.requests, p, requestID); err != nil {
		return nil, err
	}
	notes, err := s.notes.ListByRequest(ctx, requestID)
	if err != nil {
		return nil, mapRepoErr(err, "note")
	}
	return notes, nil
}
