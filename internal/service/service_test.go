package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/service-portal/internal/auth"
	"github.com/spec-kit/service-portal/internal/domain"
	"github.com/spec-kit/service-portal/internal/events"
	"github.com/spec-kit/service-portal/internal/repository"
	"github.com/spec-kit/service-portal/internal/repository/memory"
	"github.com/spec-kit/service-portal/internal/storage"
	apperrors "github.com/spec-kit/service-portal/pkg/util"
)

const testMaxUpload = 1 << 20

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(_ context.Context, event events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) ofType(eventType events.EventType) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []events.Event
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

type testEnv struct {
	store       *memory.Store
	dispatcher  events.Dispatcher
	published   *recorder
	activity    *ActivityService
	attachments *AttachmentService
	requests    *RequestService
	subTasks    *SubTaskService
	changes     *AssignmentChangeService
	notes       *NoteService
	directory   *DirectoryService
	admin       *domain.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	files, err := storage.NewLocalFileStore(t.TempDir())
	require.NoError(t, err)

	dispatcher := events.NewInMemoryDispatcher(nil)
	rec := &recorder{}
	for _, eventType := range []events.EventType{
		events.EventRequestCreated,
		events.EventRequestAssigned,
		events.EventRequestStatusChanged,
		events.EventNoteAdded,
		events.EventSubTaskCreated,
		events.EventAssignmentChangeCreated,
		events.EventAssignmentChangeDecided,
	} {
		dispatcher.Subscribe(eventType, rec.handle)
	}

	activity := NewActivityService(store.Activity(), store.Requests(), nil)
	attachments := NewAttachmentService(AttachmentDependencies{
		AttachmentRepo: store.Attachments(),
		RequestRepo:    store.Requests(),
		Files:          files,
		Activity:       activity,
		TxManager:      store.TxManager(),
		MaxUploadBytes: testMaxUpload,
	})
	return &testEnv{
		store:       store,
		dispatcher:  dispatcher,
		published:   rec,
		activity:    activity,
		attachments: attachments,
		requests: NewRequestService(RequestDependencies{
			RequestRepo: store.Requests(),
			UserRepo:    store.Users(),
			CompanyRepo: store.Companies(),
			NoteRepo:    store.Notes(),
			SubTaskRepo: store.SubTasks(),
			Attachments: attachments,
			Activity:    activity,
			TxManager:   store.TxManager(),
			Dispatcher:  dispatcher,
		}),
		subTasks: NewSubTaskService(SubTaskDependencies{
			SubTaskRepo: store.SubTasks(),
			RequestRepo: store.Requests(),
			UserRepo:    store.Users(),
			Activity:    activity,
			Dispatcher:  dispatcher,
		}),
		changes: NewAssignmentChangeService(AssignmentChangeDependencies{
			ChangeRepo:  store.Changes(),
			RequestRepo: store.Requests(),
			UserRepo:    store.Users(),
			TxManager:   store.TxManager(),
			Activity:    activity,
			Dispatcher:  dispatcher,
		}),
		notes: NewNoteService(store.Notes(), store.Requests(), activity, dispatcher),
		directory: NewDirectoryService(DirectoryDependencies{
			CompanyRepo: store.Companies(),
			UserRepo:    store.Users(),
			TxManager:   store.TxManager(),
			Activity:    activity,
			BcryptCost:  4,
		}),
	}
}

func (e *testEnv) company(t *testing.T, code string) *domain.Company {
	t.Helper()
	company := &domain.Company{Name: code + " Insurance", Code: code}
	require.NoError(t, e.store.Companies().Create(context.Background(), company))
	return company
}

func (e *testEnv) user(t *testing.T, name string, role domain.Role, company *domain.Company) *domain.User {
	t.Helper()
	user := &domain.User{
		Name:     name,
		Email:    strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		Role:     role,
		Active:   true,
		Timezone: "UTC",
	}
	if company != nil {
		user.CompanyID = &company.ID
	}
	require.NoError(t, e.store.Users().Create(context.Background(), user))
	return user
}

// agent creates an agent-side user servicing the given companies.
func (e *testEnv) agent(t *testing.T, name string, role domain.Role, companies ...*domain.Company) *domain.User {
	t.Helper()
	user := e.user(t, name, role, nil)
	ids := make([]string, 0, len(companies))
	for _, c := range companies {
		ids = append(ids, c.ID)
	}
	require.NoError(t, e.store.Users().SetAgentCompanies(context.Background(), user.ID, ids))
	return user
}

func (e *testEnv) principal(t *testing.T, user *domain.User) *auth.Principal {
	t.Helper()
	stored, err := e.store.Users().GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	companies, err := e.store.Users().AgentCompanyIDs(context.Background(), user.ID)
	require.NoError(t, err)
	return auth.NewPrincipal(stored, companies)
}

// request opens a request in company as a super_admin.
func (e *testEnv) request(t *testing.T, company *domain.Company, assignee *domain.User) *domain.ServiceRequest {
	t.Helper()
	if e.admin == nil {
		e.admin = e.user(t, "Root Admin", domain.RoleSuperAdmin, nil)
	}
	input := RequestCreateInput{
		Insured:   "Acme Holdings",
		Narrative: "Policy renewal question",
		Category:  domain.CategoryPolicyInquiry,
		CompanyID: &company.ID,
	}
	if assignee != nil {
		input.AssignedToID = &assignee.ID
	}
	result, err := e.requests.Create(context.Background(), e.principal(t, e.admin), input)
	require.NoError(t, err)
	return result.Request
}

func (e *testEnv) activityTypes(t *testing.T, requestID string) []domain.ActivityType {
	t.Helper()
	entries, err := e.store.Activity().List(context.Background(), repository.ActivityFilter{RequestID: &requestID})
	require.NoError(t, err)
	types := make([]domain.ActivityType, 0, len(entries))
	for _, entry := range entries {
		types = append(types, entry.Type)
	}
	return types
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.True(t, apperrors.HasCode(err, code), "expected %s, got %v", code, err)
}

func TestStringPreviewKeepsRunesIntact(t *testing.T) {
	preview := stringPreview(strings.Repeat("é", 150), 100)
	assert.True(t, utf8.ValidString(preview))
	assert.Equal(t, 100, utf8.RuneCountInString(preview))
	assert.True(t, strings.HasSuffix(preview, "..."))

	assert.Equal(t, "日本語", stringPreview("  日本語  ", 3))
	assert.Equal(t, "日本", stringPreview("日本語です", 2))
}
