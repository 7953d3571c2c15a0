package service

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/service-portal/internal/domain"
	"github.com/spec-kit/service-portal/internal/events"
	apperrors "github.com/spec-kit/service-portal/pkg/util"
)

func TestAddNoteAppendsAndPublishes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	company := env.company(t, "ACME")
	customer := env.user(t, "Cora Customer", domain.RoleCustomer, company)
	request := env.request(t, company, nil)
	recipient := "Broker <broker@example.com>"

	note, err := env.notes.Add(ctx, env.principal(t, customer), request.ID, "  Please call me back  ", &recipient)
	require.NoError(t, err)
	assert.Equal(t, "Please call me back", note.Content)
	assert.False(t, note.IsInternal)

	_, err = env.notes.Add(ctx, env.principal(t, env.admin), request.ID, "Called", nil)
	require.NoError(t, err)

	notes, err := env.notes.List(ctx, env.principal(t, customer), request.ID)
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "Please call me back", notes[0].Content)
	assert.Equal(t, customer.Name, notes[0].AuthorName)
	assert.Equal(t, "Called", notes[1].Content)

	published := env.published.ofType(events.EventNoteAdded)
	require.Len(t, published, 2)
	payload := published[0].Payload.(events.NoteAddedPayload)
	require.NotNil(t, payload.RecipientEmail)
	assert.Equal(t, "broker@example.com", *payload.RecipientEmail)

	count := 0
	for _, kind := range env.activityTypes(t, request.ID) {
		if kind == domain.ActivityNoteAdded {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

func TestAddNoteValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	company := env.company(t, "ACME")
	foreign := env.company(t, "FOREIGN")
	outsider := env.user(t, "Otto Outsider", domain.RoleCustomer, foreign)
	request := env.request(t, company, nil)
	p := env.principal(t, env.admin)

	_, err := env.notes.Add(ctx, p, request.ID, "   ", nil)
	requireCode(t, err, apperrors.CodeValidation)

	bad := "not-an-address"
	_, err = env.notes.Add(ctx, p, request.ID, "hello", &bad)
	requireCode(t, err, apperrors.CodeValidation)

	_, err = env.notes.Add(ctx, env.principal(t, outsider), request.ID, "hello", nil)
	requireCode(t, err, apperrors.CodeNotFound)
}

func TestNotePreviewIsTruncated(t *testing.T) {
	env := newTestEnv(t)
	company := env.company(t, "ACME")
	request := env.request(t, company, nil)

	_, err := env.notes.Add(context.Background(), env.principal(t, env.admin), request.ID, strings.Repeat("a", 500), nil)
	require.NoError(t, err)

	published := env.published.ofType(events.EventNoteAdded)
	require.Len(t, published, 1)
	preview := published[0].Payload.(events.NoteAddedPayload).Preview
	assert.Len(t, preview, 200)
	assert.True(t, strings.HasSuffix(preview, "..."))
}
