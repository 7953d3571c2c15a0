package service

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/service-portal/internal/domain"
	"github.com/spec-kit/service-portal/internal/events"
	"github.com/spec-kit/service-portal/internal/repository"
	"github.com/spec-kit/service-portal/internal/storage"
	apperrors "github.com/spec-kit/service-portal/pkg/util"
)

// hookedRequests runs afterRead once, right after the first GetByID returns,
// to stage an edit that lands between a caller's read and its write.
type hookedRequests struct {
	repository.ServiceRequestRepository
	once      sync.Once
	afterRead func()
	patchErr  error
}

func (r *hookedRequests) GetByID(ctx context.Context, id string) (*domain.ServiceRequest, error) {
	request, err := r.ServiceRequestRepository.GetByID(ctx, id)
	if r.afterRead != nil {
		r.once.Do(r.afterRead)
	}
	return request, err
}

func (r *hookedRequests) Patch(ctx context.Context, id string, patch repository.RequestPatch) (*domain.ServiceRequest, error) {
	if r.patchErr != nil {
		return nil, r.patchErr
	}
	return r.ServiceRequestRepository.Patch(ctx, id, patch)
}

// failingFiles refuses every write after the first allowed ones and
// remembers what was deleted.
type failingFiles struct {
	storage.FileStore
	allowed int
	err     error

	mu      sync.Mutex
	saved   []string
	deleted []string
}

func (f *failingFiles) Save(r io.Reader, name, prefix string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.saved) >= f.allowed {
		return "", f.err
	}
	path, err := f.FileStore.Save(r, name, prefix)
	if err == nil {
		f.saved = append(f.saved, path)
	}
	return path, err
}

func (f *failingFiles) Delete(path string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, path)
	f.mu.Unlock()
	return f.FileStore.Delete(path)
}

type failingAttachmentRows struct {
	repository.AttachmentRepository
	err error
}

func (r failingAttachmentRows) Create(context.Context, *domain.RequestAttachment) error {
	return r.err
}

func (e *testEnv) changeServiceWith(requests repository.ServiceRequestRepository) *AssignmentChangeService {
	return NewAssignmentChangeService(AssignmentChangeDependencies{
		ChangeRepo:  e.store.Changes(),
		RequestRepo: requests,
		UserRepo:    e.store.Users(),
		TxManager:   e.store.TxManager(),
		Activity:    e.activity,
		Dispatcher:  e.dispatcher,
	})
}

func (e *testEnv) requestServiceWith(requests repository.ServiceRequestRepository, attachments *AttachmentService) *RequestService {
	if attachments == nil {
		attachments = e.attachments
	}
	return NewRequestService(RequestDependencies{
		RequestRepo: requests,
		UserRepo:    e.store.Users(),
		CompanyRepo: e.store.Companies(),
		NoteRepo:    e.store.Notes(),
		SubTaskRepo: e.store.SubTasks(),
		Attachments: attachments,
		Activity:    e.activity,
		TxManager:   e.store.TxManager(),
		Dispatcher:  e.dispatcher,
	})
}

func (e *testEnv) attachmentServiceWith(files storage.FileStore, rows repository.AttachmentRepository) *AttachmentService {
	if rows == nil {
		rows = e.store.Attachments()
	}
	return NewAttachmentService(AttachmentDependencies{
		AttachmentRepo: rows,
		RequestRepo:    e.store.Requests(),
		Files:          files,
		Activity:       e.activity,
		TxManager:      e.store.TxManager(),
		MaxUploadBytes: testMaxUpload,
	})
}

func (e *testEnv) requestCount(t *testing.T) int {
	t.Helper()
	_, total, err := e.store.Requests().List(context.Background(), repository.RequestFilter{})
	require.NoError(t, err)
	return total
}

func TestReviewKeepsEditsMadeAfterItsRead(t *testing.T) {
	f := newChangeFixture(t)
	ctx := context.Background()
	agentPrincipal := f.env.principal(t, f.agentX)

	change, err := f.env.changes.Request(ctx, agentPrincipal, f.request.ID, ChangeRequestInput{Reason: "overloaded"})
	require.NoError(t, err)

	hooked := &hookedRequests{ServiceRequestRepository: f.env.store.Requests()}
	hooked.afterRead = func() {
		_, err := f.env.requests.Update(ctx, agentPrincipal, f.request.ID, RequestUpdateInput{
			Insured:    domain.Some("Renamed Insured"),
			TaskStatus: domain.Some(domain.TaskStatusInProgress),
		})
		require.NoError(t, err)
	}

	_, request, err := f.env.changeServiceWith(hooked).Review(ctx, f.env.principal(t, f.manager), change.ID, ReviewInput{
		Approve:    true,
		AssigneeID: &f.agentY.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed Insured", request.Insured)

	stored, err := f.env.store.Requests().GetByID(ctx, f.request.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed Insured", stored.Insured)
	assert.Equal(t, domain.TaskStatusInProgress, stored.TaskStatus)
	assert.NotNil(t, stored.InProgressAt)
	require.NotNil(t, stored.AssignedToID)
	assert.Equal(t, f.agentY.ID, *stored.AssignedToID)
}

func TestUpdateWritesOnlyItsOwnFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	company := env.company(t, "ACME")
	agent := env.agent(t, "Andy Agent", domain.RoleAgent, company)
	manager := env.agent(t, "Mia Manager", domain.RoleAgentManager, company)
	request := env.request(t, company, agent)

	hooked := &hookedRequests{ServiceRequestRepository: env.store.Requests()}
	hooked.afterRead = func() {
		_, err := env.requests.Update(ctx, env.principal(t, manager), request.ID, RequestUpdateInput{
			DueDate:   domain.Some("2030-06-30"),
			Narrative: domain.Some("Manager narrative"),
		})
		require.NoError(t, err)
	}

	_, err := env.requestServiceWith(hooked, nil).Update(ctx, env.principal(t, agent), request.ID, RequestUpdateInput{
		Insured: domain.Some("Agent Insured"),
	})
	require.NoError(t, err)

	stored, err := env.store.Requests().GetByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, "Agent Insured", stored.Insured)
	assert.Equal(t, "Manager narrative", stored.Narrative)
	require.NotNil(t, stored.DueDate)
	assert.Equal(t, "2030-06-30", stored.DueDate.Format(dateLayout))
	require.NotNil(t, stored.ModifiedByID)
	assert.Equal(t, agent.ID, *stored.ModifiedByID)
}

func TestConcurrentUpdatesToDifferentFieldsBothPersist(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	company := env.company(t, "ACME")
	agent := env.agent(t, "Andy Agent", domain.RoleAgent, company)
	manager := env.agent(t, "Mia Manager", domain.RoleAgentManager, company)
	agentPrincipal := env.principal(t, agent)
	managerPrincipal := env.principal(t, manager)

	for i := 0; i < 20; i++ {
		request := env.request(t, company, agent)
		start := make(chan struct{})
		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, errs[0] = env.requests.Update(ctx, agentPrincipal, request.ID, RequestUpdateInput{
				Insured: domain.Some("Agent Insured"),
			})
		}()
		go func() {
			defer wg.Done()
			<-start
			_, errs[1] = env.requests.Update(ctx, managerPrincipal, request.ID, RequestUpdateInput{
				DueTime: domain.Some("09:30"),
			})
		}()
		close(start)
		wg.Wait()
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		stored, err := env.store.Requests().GetByID(ctx, request.ID)
		require.NoError(t, err)
		assert.Equal(t, "Agent Insured", stored.Insured)
		require.NotNil(t, stored.DueTime)
		assert.Equal(t, "09:30", *stored.DueTime)
	}
}

func TestConcurrentReviewsDecideOnce(t *testing.T) {
	f := newChangeFixture(t)
	ctx := context.Background()
	other := f.env.agent(t, "Zed Agent", domain.RoleAgent, f.company)
	managerPrincipal := f.env.principal(t, f.manager)

	change, err := f.env.changes.Request(ctx, f.env.principal(t, f.agentX), f.request.ID, ChangeRequestInput{Reason: "overloaded"})
	require.NoError(t, err)

	inputs := []ReviewInput{
		{Approve: true, AssigneeID: &f.agentY.ID},
		{Approve: true, AssigneeID: &other.ID},
	}
	start := make(chan struct{})
	errs := make([]error, len(inputs))
	var wg sync.WaitGroup
	for i := range inputs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, _, errs[i] = f.env.changes.Review(ctx, managerPrincipal, change.ID, inputs[i])
		}(i)
	}
	close(start)
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, winner, "both reviews succeeded")
			winner = i
			continue
		}
		requireCode(t, err, apperrors.CodeConflict)
	}
	require.NotEqual(t, -1, winner, "no review succeeded")
	assert.Equal(t, *inputs[winner].AssigneeID, f.assignee(t))

	types := f.env.activityTypes(t, f.request.ID)
	approvals := 0
	for _, kind := range types {
		if kind == domain.ActivityAssignmentChangeApproved {
			approvals++
		}
	}
	assert.Equal(t, 1, approvals)
}

func TestFailedApprovalLeavesChangePending(t *testing.T) {
	f := newChangeFixture(t)
	ctx := context.Background()

	change, err := f.env.changes.Request(ctx, f.env.principal(t, f.agentX), f.request.ID, ChangeRequestInput{Reason: "overloaded"})
	require.NoError(t, err)

	hooked := &hookedRequests{
		ServiceRequestRepository: f.env.store.Requests(),
		patchErr:                 errors.New("connection reset"),
	}
	_, _, err = f.env.changeServiceWith(hooked).Review(ctx, f.env.principal(t, f.manager), change.ID, ReviewInput{
		Approve:    true,
		AssigneeID: &f.agentY.ID,
	})
	require.Error(t, err)

	stored, err := f.env.store.Changes().GetByID(ctx, change.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ChangeRequestPending, stored.Status)
	assert.Nil(t, stored.ReviewedByID)
	assert.Equal(t, f.agentX.ID, f.assignee(t))

	_, _, err = f.env.changes.Review(ctx, f.env.principal(t, f.manager), change.ID, ReviewInput{
		Approve:    true,
		AssigneeID: &f.agentY.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, f.agentY.ID, f.assignee(t))
}

func TestConcurrentCloseSucceedsOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	company := env.company(t, "ACME")
	manager := env.agent(t, "Mia Manager", domain.RoleAgentManager, company)
	managerPrincipal := env.principal(t, manager)
	request := env.request(t, company, nil)

	start := make(chan struct{})
	errs := make([]error, 4)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = env.requests.Close(ctx, managerPrincipal, request.ID)
		}(i)
	}
	close(start)
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		requireCode(t, err, apperrors.CodeConflict)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, []domain.ActivityType{domain.ActivityStatusChanged, domain.ActivityRequestCreated},
		env.activityTypes(t, request.ID))
}

func TestCreateStorageFailureLeavesNoRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	company := env.company(t, "ACME")
	customer := env.user(t, "Cora Customer", domain.RoleCustomer, company)
	local, err := storage.NewLocalFileStore(t.TempDir())
	require.NoError(t, err)
	files := &failingFiles{FileStore: local, allowed: 1, err: errors.New("disk full")}
	requests := env.requestServiceWith(env.store.Requests(), env.attachmentServiceWith(files, nil))

	result, err := requests.Create(ctx, env.principal(t, customer), RequestCreateInput{
		Insured:     "Acme Corp",
		Narrative:   "Two statements",
		Attachments: []FileUpload{upload("a.txt", "first"), upload("b.txt", "second")},
	})
	requireCode(t, err, apperrors.CodeStorage)
	assert.Nil(t, result)
	assert.Zero(t, env.requestCount(t))
	assert.Equal(t, files.saved, files.deleted)
	assert.Empty(t, env.published.ofType(events.EventRequestCreated))
}

func TestCreateRollsBackWhenAttachmentRowFails(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	company := env.company(t, "ACME")
	customer := env.user(t, "Cora Customer", domain.RoleCustomer, company)
	local, err := storage.NewLocalFileStore(t.TempDir())
	require.NoError(t, err)
	files := &failingFiles{FileStore: local, allowed: 10}
	rows := failingAttachmentRows{AttachmentRepository: env.store.Attachments(), err: errors.New("connection reset")}
	requests := env.requestServiceWith(env.store.Requests(), env.attachmentServiceWith(files, rows))

	_, err = requests.Create(ctx, env.principal(t, customer), RequestCreateInput{
		Insured:     "Acme Corp",
		Narrative:   "Statement attached",
		Attachments: []FileUpload{upload("statement.txt", "body")},
	})
	require.Error(t, err)
	assert.Zero(t, env.requestCount(t))
	require.Len(t, files.saved, 1)
	assert.Equal(t, files.saved, files.deleted)
}

func TestUpdateStorageFailureChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	company := env.company(t, "ACME")
	manager := env.agent(t, "Mia Manager", domain.RoleAgentManager, company)
	request := env.request(t, company, nil)
	local, err := storage.NewLocalFileStore(t.TempDir())
	require.NoError(t, err)
	files := &failingFiles{FileStore: local, err: errors.New("disk full")}
	requests := env.requestServiceWith(env.store.Requests(), env.attachmentServiceWith(files, nil))

	_, err = requests.Update(ctx, env.principal(t, manager), request.ID, RequestUpdateInput{
		Insured:     domain.Some("Renamed Insured"),
		TaskStatus:  domain.Some(domain.TaskStatusInProgress),
		Attachments: []FileUpload{upload("photo.txt", strings.Repeat("x", 64))},
	})
	requireCode(t, err, apperrors.CodeStorage)

	stored, err := env.store.Requests().GetByID(ctx, request.ID)
	require.NoError(t, err)
	assert.Equal(t, request.Insured, stored.Insured)
	assert.Equal(t, domain.TaskStatusNew, stored.TaskStatus)
	assert.Nil(t, stored.InProgressAt)
	assert.Equal(t, []domain.ActivityType{domain.ActivityRequestCreated}, env.activityTypes(t, request.ID))

	attachments, err := env.store.Attachments().ListByRequest(ctx, request.ID)
	require.NoError(t, err)
	assert.Empty(t, attachments)
}

func TestUpdateWithAttachmentRecordsEverything(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	company := env.company(t, "ACME")
	manager := env.agent(t, "Mia Manager", domain.RoleAgentManager, company)
	request := env.request(t, company, nil)

	result, err := env.requests.Update(ctx, env.principal(t, manager), request.ID, RequestUpdateInput{
		Insured:     domain.Some("Renamed Insured"),
		Attachments: []FileUpload{upload("photo.txt", "pixels")},
	})
	require.NoError(t, err)
	require.Len(t, result.Attachments, 1)
	assert.Equal(t, "Renamed Insured", result.Request.Insured)
	assert.ElementsMatch(t, []domain.ActivityType{
		domain.ActivityRequestUpdated,
		domain.ActivityAttachmentUploaded,
		domain.ActivityRequestCreated,
	}, env.activityTypes(t, request.ID))
}
