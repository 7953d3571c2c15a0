package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/spec-kit/service-portal/internal/api/http/handlers"
	"github.com/spec-kit/service-portal/internal/auth"
	"github.com/spec-kit/service-portal/internal/config"
	"github.com/spec-kit/service-portal/internal/events"
	"github.com/spec-kit/service-portal/internal/observability"
	"github.com/spec-kit/service-portal/internal/repository/memory"
	"github.com/spec-kit/service-portal/internal/service"
	"github.com/spec-kit/service-portal/internal/storage"
)

const (
	adminEmail    = "root@example.com"
	adminPassword = "correct horse battery"
)

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	store := memory.NewStore()
	files, err := storage.NewLocalFileStore(t.TempDir())
	require.NoError(t, err)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	dispatcher := events.NewInMemoryDispatcher(nil)

	authService := service.NewAuthService(config.AuthConfig{JWTSecret: "test", AccessTokenTTLMinutes: 5, BcryptCost: 4}, store.Users(), nil)
	require.NoError(t, authService.EnsureAdmin(context.Background(), adminEmail, adminPassword, "Root"))

	activity := service.NewActivityService(store.Activity(), store.Requests(), nil)
	attachments := service.NewAttachmentService(service.AttachmentDependencies{
		AttachmentRepo: store.Attachments(),
		RequestRepo:    store.Requests(),
		Files:          files,
		Activity:       activity,
		TxManager:      store.TxManager(),
		MaxUploadBytes: 1 << 20,
	})
	requests := service.NewRequestService(service.RequestDependencies{
		RequestRepo: store.Requests(),
		UserRepo:    store.Users(),
		CompanyRepo: store.Companies(),
		NoteRepo:    store.Notes(),
		SubTaskRepo: store.SubTasks(),
		Attachments: attachments,
		Activity:    activity,
		TxManager:   store.TxManager(),
		Dispatcher:  dispatcher,
		Metrics:     metrics,
	})
	directory := service.NewDirectoryService(service.DirectoryDependencies{
		CompanyRepo: store.Companies(),
		UserRepo:    store.Users(),
		TxManager:   store.TxManager(),
		Activity:    activity,
		BcryptCost:  4,
	})

	app := fiber.New()
	RegisterMiddlewares(app, zap.NewNop(), metrics, 5*time.Second)
	RegisterRoutes(app, RouteConfig{
		Health:    handlers.NewHealthHandler("portal", "test", map[string]handlers.Pinger{}),
		Auth:      handlers.NewAuthHandler(authService),
		Requests:  handlers.NewRequestsHandler(requests),
		Directory: handlers.NewDirectoryHandler(directory),
		Workflow: handlers.NewWorkflowHandler(handlers.WorkflowServices{
			SubTasks: service.NewSubTaskService(service.SubTaskDependencies{
				SubTaskRepo: store.SubTasks(),
				RequestRepo: store.Requests(),
				UserRepo:    store.Users(),
				Activity:    activity,
				Dispatcher:  dispatcher,
			}),
			Changes: service.NewAssignmentChangeService(service.AssignmentChangeDependencies{
				ChangeRepo:  store.Changes(),
				RequestRepo: store.Requests(),
				UserRepo:    store.Users(),
				TxManager:   store.TxManager(),
				Activity:    activity,
				Dispatcher:  dispatcher,
			}),
			Notes:       service.NewNoteService(store.Notes(), store.Requests(), activity, dispatcher),
			Attachments: attachments,
			Activity:    activity,
		}),
		AuthMiddleware: auth.NewAuthMiddleware(authService.TokenManager(), store.Users()),
		Gatherer:       registry,
	})
	return app
}

func call(t *testing.T, app *fiber.App, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	}
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		require.NoError(t, json.Unmarshal(raw, &out))
	}
	return resp.StatusCode, out
}

func dataOf(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	payload, ok := body["data"].(map[string]any)
	require.True(t, ok, "missing data envelope: %v", body)
	return payload
}

func adminToken(t *testing.T, app *fiber.App) string {
	t.Helper()
	status, body := call(t, app, fiber.MethodPost, "/auth/admin/login", "", map[string]string{
		"email":    adminEmail,
		"password": adminPassword,
	})
	require.Equal(t, fiber.StatusOK, status, "%v", body)
	return dataOf(t, body)["token"].(string)
}

func TestRequestLifecycleOverHTTP(t *testing.T) {
	app := newTestApp(t)
	token := adminToken(t, app)

	status, body := call(t, app, fiber.MethodPost, "/companies", token, map[string]string{"name": "Acme Mutual", "code": "acm"})
	require.Equal(t, fiber.StatusCreated, status, "%v", body)
	companyID := dataOf(t, body)["id"].(string)

	status, body = call(t, app, fiber.MethodPost, "/requests", token, map[string]any{
		"insured":                 "Acme Corp",
		"serviceRequestNarrative": "Policy question",
		"serviceQueueCategory":    "policy_inquiry",
		"companyId":               companyID,
	})
	require.Equal(t, fiber.StatusCreated, status, "%v", body)
	created := dataOf(t, body)["request"].(map[string]any)
	assert.Regexp(t, `^SQ-[0-9A-F]{8}$`, created["serviceQueueId"])
	assert.Equal(t, "new", created["taskStatus"])
	requestID := created["id"].(string)

	status, body = call(t, app, fiber.MethodPatch, "/requests/"+requestID, token, map[string]any{
		"taskStatus": "in_progress",
		"dueDate":    "2030-01-31",
	})
	require.Equal(t, fiber.StatusOK, status, "%v", body)
	updated := dataOf(t, body)["request"].(map[string]any)
	assert.Equal(t, "in_progress", updated["taskStatus"])
	assert.Equal(t, "2030-01-31", updated["dueDate"])

	status, body = call(t, app, fiber.MethodGet, "/requests/"+requestID, token, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "Acme Mutual", dataOf(t, body)["companyName"])

	status, body = call(t, app, fiber.MethodGet, "/requests?status=in_progress", token, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.EqualValues(t, 1, dataOf(t, body)["total"])

	status, body = call(t, app, fiber.MethodPost, "/requests/"+requestID+"/close", token, nil)
	require.Equal(t, fiber.StatusOK, status, "%v", body)

	status, body = call(t, app, fiber.MethodPost, "/requests/"+requestID+"/close", token, nil)
	assert.Equal(t, fiber.StatusConflict, status)
	assert.Equal(t, "CONFLICT", body["code"])

	status, body = call(t, app, fiber.MethodGet, "/requests/"+requestID+"/activity", token, nil)
	require.Equal(t, fiber.StatusOK, status)
	assert.Len(t, body["data"], 4)
}

func TestCustomerSignsInWithLoginCode(t *testing.T) {
	app := newTestApp(t)
	token := adminToken(t, app)

	_, body := call(t, app, fiber.MethodPost, "/companies", token, map[string]string{"name": "Acme Mutual", "code": "ACM"})
	companyID := dataOf(t, body)["id"].(string)

	status, body := call(t, app, fiber.MethodPost, "/users", token, map[string]any{
		"name":      "Cora Customer",
		"email":     "cora@example.com",
		"role":      "customer",
		"companyId": companyID,
	})
	require.Equal(t, fiber.StatusCreated, status, "%v", body)
	code := dataOf(t, body)["loginCode"].(string)

	status, body = call(t, app, fiber.MethodPost, "/auth/login", "", map[string]string{"loginCode": code})
	require.Equal(t, fiber.StatusOK, status, "%v", body)
	customerToken := dataOf(t, body)["token"].(string)

	status, body = call(t, app, fiber.MethodPost, "/companies", customerToken, map[string]string{"name": "Mine", "code": "MINE"})
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "FORBIDDEN", body["code"])

	status, body = call(t, app, fiber.MethodPost, "/requests", customerToken, map[string]any{
		"insured":                 "Acme Corp",
		"serviceRequestNarrative": "Need a certificate",
		"assignedToId":            "someone",
	})
	require.Equal(t, fiber.StatusCreated, status, "%v", body)
	result := dataOf(t, body)
	assert.Equal(t, []any{"assignedToId"}, result["ignoredFields"])
	assert.Equal(t, companyID, result["request"].(map[string]any)["companyId"])
}

func TestErrorsRenderFlatBody(t *testing.T) {
	app := newTestApp(t)

	status, body := call(t, app, fiber.MethodGet, "/requests", "", nil)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body["code"])
	assert.NotEmpty(t, body["error"])

	status, body = call(t, app, fiber.MethodGet, "/does-not-exist", "", nil)
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["code"])

	status, body = call(t, app, fiber.MethodPost, "/auth/admin/login", "", map[string]string{"email": "nope", "password": "x"})
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "VALIDATION_FAILED", body["code"])
	details, ok := body["details"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, details, "email")

	status, body = call(t, app, fiber.MethodPost, "/auth/admin/login", "", map[string]string{"email": adminEmail, "password": "wrong"})
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "UNAUTHORIZED", body["code"])
}

func TestExportReturnsWorkbook(t *testing.T) {
	app := newTestApp(t)
	token := adminToken(t, app)
	_, body := call(t, app, fiber.MethodPost, "/companies", token, map[string]string{"name": "Acme Mutual", "code": "ACM"})
	companyID := dataOf(t, body)["id"].(string)
	status, _ := call(t, app, fiber.MethodPost, "/requests", token, map[string]any{
		"insured":                 "Acme Corp",
		"serviceRequestNarrative": "Export me",
		"companyId":               companyID,
	})
	require.Equal(t, fiber.StatusCreated, status)

	req := httptest.NewRequest(fiber.MethodGet, "/requests/export", nil)
	req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get(fiber.HeaderContentDisposition), ".xlsx")

	book, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer book.Close()
	rows, err := book.GetRows(book.GetSheetName(0))
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t)

	status, body := call(t, app, fiber.MethodGet, "/health/live", "", nil)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "alive", body["status"])

	status, _ = call(t, app, fiber.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, fiber.StatusOK, status)

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "portal_http_requests_total")
}
