package service

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/service-portal/internal/domain"
	apperrors "github.com/spec-kit/service-portal/pkg/util"
)

func upload(name, body string) FileUpload {
	return FileUpload{FileName: name, Size: int64(len(body)), Content: strings.NewReader(body)}
}

func TestAttachmentLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	company := env.company(t, "ACME")
	customer := env.user(t, "Cora Customer", domain.RoleCustomer, company)
	request := env.request(t, company, nil)
	p := env.principal(t, customer)

	stored, err := env.attachments.Upload(ctx, p, request.ID, []FileUpload{upload("notes.txt", "plain text body")})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, customer.ID, stored[0].UploadedBy)
	assert.True(t, strings.HasPrefix(stored[0].MimeType, "text/plain"))

	listed, err := env.attachments.List(ctx, p, request.ID)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	attachment, rc, err := env.attachments.Open(ctx, p, stored[0].ID)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "plain text body", string(body))
	assert.Equal(t, "notes.txt", attachment.FileName)

	require.NoError(t, env.attachments.Delete(ctx, p, stored[0].ID))
	listed, err = env.attachments.List(ctx, p, request.ID)
	require.NoError(t, err)
	assert.Empty(t, listed)

	types := env.activityTypes(t, request.ID)
	assert.Contains(t, types, domain.ActivityAttachmentUploaded)
	assert.Contains(t, types, domain.ActivityAttachmentDeleted)
}

func TestUploadRejectsOversizedBeforeStoring(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	company := env.company(t, "ACME")
	request := env.request(t, company, nil)
	p := env.principal(t, env.admin)

	files := []FileUpload{
		upload("small.txt", "ok"),
		{FileName: "big.bin", Size: testMaxUpload + 1, Content: bytes.NewReader(nil)},
	}
	_, err := env.attachments.Upload(ctx, p, request.ID, files)
	requireCode(t, err, apperrors.CodeValidation)

	listed, err := env.attachments.List(ctx, p, request.ID)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestUploadCatchesUnderstatedSize(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	company := env.company(t, "ACME")
	request := env.request(t, company, nil)
	p := env.principal(t, env.admin)

	body := bytes.Repeat([]byte("x"), testMaxUpload+10)
	_, err := env.attachments.Upload(ctx, p, request.ID, []FileUpload{{
		FileName: "liar.bin",
		Size:     10,
		Content:  bytes.NewReader(body),
	}})
	requireCode(t, err, apperrors.CodeValidation)

	listed, err := env.attachments.List(ctx, p, request.ID)
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestAttachmentDeletePermissions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	company := env.company(t, "ACME")
	foreign := env.company(t, "FOREIGN")
	uploader := env.user(t, "Cora Customer", domain.RoleCustomer, company)
	colleague := env.user(t, "Carl Customer", domain.RoleCustomer, company)
	outsider := env.user(t, "Otto Outsider", domain.RoleCustomer, foreign)
	manager := env.agent(t, "Mia Manager", domain.RoleAgentManager, company)
	request := env.request(t, company, nil)

	stored, err := env.attachments.Upload(ctx, env.principal(t, uploader), request.ID, []FileUpload{upload("a.txt", "a")})
	require.NoError(t, err)

	err = env.attachments.Delete(ctx, env.principal(t, colleague), stored[0].ID)
	requireCode(t, err, apperrors.CodePermission)

	_, _, err = env.attachments.Open(ctx, env.principal(t, outsider), stored[0].ID)
	requireCode(t, err, apperrors.CodeNotFound)

	require.NoError(t, env.attachments.Delete(ctx, env.principal(t, manager), stored[0].ID))
}

func TestUploadRequiresFiles(t *testing.T) {
	env := newTestEnv(t)
	company := env.company(t, "ACME")
	request := env.request(t, company, nil)

	_, err := env.attachments.Upload(context.Background(), env.principal(t, env.admin), request.ID, nil)
	requireCode(t, err, apperrors.CodeValidation)
}
