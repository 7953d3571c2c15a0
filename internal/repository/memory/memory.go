// Package memory provides in-process implementations of the repository
// interfaces. They back service and handler tests and share one Store so
// joins (note author names, agent scopes) behave like the SQL versions.
package memory

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/service-portal/internal/domain"
	"github.com/spec-kit/service-portal/internal/repository"
)

// Store holds every table.
type Store struct {
	mu             sync.RWMutex
	txMu           sync.Mutex
	now            func() time.Time
	companies      map[string]domain.Company
	users          map[string]domain.User
	agentCompanies map[string][]string
	requests       map[string]domain.ServiceRequest
	subTasks       map[string]domain.SubTask
	changes        map[string]domain.AssignmentChangeRequest
	notes          []domain.RequestNote
	attachments    map[string]domain.RequestAttachment
	activity       []domain.ActivityLog

	// FailActivity makes activity inserts fail, to exercise best-effort logging.
	FailActivity error
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		now:            time.Now,
		companies:      map[string]domain.Company{},
		users:          map[string]domain.User{},
		agentCompanies: map[string][]string{},
		requests:       map[string]domain.ServiceRequest{},
		subTasks:       map[string]domain.SubTask{},
		changes:        map[string]domain.AssignmentChangeRequest{},
		attachments:    map[string]domain.RequestAttachment{},
	}
}

// Companies returns the company repository view.
func (s *Store) Companies() repository.CompanyRepository { return companyRepo{s} }

// Users returns the user repository view.
func (s *Store) Users() repository.UserRepository { return userRepo{s} }

// Requests returns the service request repository view.
func (s *Store) Requests() repository.ServiceRequestRepository { return requestRepo{s} }

// SubTasks returns the sub-task repository view.
func (s *Store) SubTasks() repository.SubTaskRepository { return subTaskRepo{s} }

// Changes returns the assignment-change repository view.
func (s *Store) Changes() repository.AssignmentChangeRepository { return changeRepo{s} }

// Notes returns the note repository view.
func (s *Store) Notes() repository.NoteRepository { return noteRepo{s} }

// Attachments returns the attachment repository view.
func (s *Store) Attachments() repository.AttachmentRepository { return attachmentRepo{s} }

// Activity returns the activity repository view.
func (s *Store) Activity() repository.ActivityRepository { return activityRepo{s} }

// TxManager serializes units of work and restores every table when fn
// fails, so a failed step leaves nothing behind. Writes made outside a
// transaction while one is running are lost if it rolls back.
func (s *Store) TxManager() repository.TxManager { return txManager{s} }

type txManager struct{ s *Store }

type txKey struct{}

func (m txManager) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}
	m.s.txMu.Lock()
	defer m.s.txMu.Unlock()

	saved := m.s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			m.s.restore(saved)
			panic(p)
		}
		if err != nil {
			m.s.restore(saved)
		}
	}()
	return fn(context.WithValue(ctx, txKey{}, true))
}

type tables struct {
	companies      map[string]domain.Company
	users          map[string]domain.User
	agentCompanies map[string][]string
	requests       map[string]domain.ServiceRequest
	subTasks       map[string]domain.SubTask
	changes        map[string]domain.AssignmentChangeRequest
	notes          []domain.RequestNote
	attachments    map[string]domain.RequestAttachment
	activity       []domain.ActivityLog
}

func (s *Store) snapshot() tables {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agentCompanies := make(map[string][]string, len(s.agentCompanies))
	for k, v := range s.agentCompanies {
		agentCompanies[k] = append([]string(nil), v...)
	}
	return tables{
		companies:      maps.Clone(s.companies),
		users:          maps.Clone(s.users),
		agentCompanies: agentCompanies,
		requests:       maps.Clone(s.requests),
		subTasks:       maps.Clone(s.subTasks),
		changes:        maps.Clone(s.changes),
		notes:          append([]domain.RequestNote(nil), s.notes...),
		attachments:    maps.Clone(s.attachments),
		activity:       append([]domain.ActivityLog(nil), s.activity...),
	}
}

func (s *Store) restore(t tables) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.companies = t.companies
	s.users = t.users
	s.agentCompanies = t.agentCompanies
	s.requests = t.requests
	s.subTasks = t.subTasks
	s.changes = t.changes
	s.notes = t.notes
	s.attachments = t.attachments
	s.activity = t.activity
}

// companies

type companyRepo struct{ s *Store }

func (r companyRepo) Create(_ context.Context, company *domain.Company) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.companies {
		if existing.Code == company.Code {
			return repository.ErrDuplicate
		}
	}
	company.ID = uuid.NewString()
	company.CreatedAt = r.s.now()
	company.UpdatedAt = company.CreatedAt
	r.s.companies[company.ID] = *company
	return nil
}

func (r companyRepo) Update(_ context.Context, company *domain.Company) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.companies[company.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	existing.Name = company.Name
	existing.PrimaryContact = company.PrimaryContact
	existing.Email = company.Email
	existing.Phone = company.Phone
	existing.UpdatedAt = r.s.now()
	r.s.companies[company.ID] = existing
	company.UpdatedAt = existing.UpdatedAt
	return nil
}

func (r companyRepo) GetByID(_ context.Context, id string) (*domain.Company, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	company, ok := r.s.companies[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &company, nil
}

func (r companyRepo) List(_ context.Context, filter repository.CompanyFilter) ([]domain.Company, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := []domain.Company{}
	for _, company := range r.s.companies {
		if filter.Scoped && !contains(filter.IDs, company.ID) {
			continue
		}
		result = append(result, company)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// users

type userRepo struct{ s *Store }

func (r userRepo) Create(_ context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.checkUnique(user); err != nil {
		return err
	}
	user.ID = uuid.NewString()
	user.CreatedAt = r.s.now()
	user.UpdatedAt = user.CreatedAt
	r.s.users[user.ID] = *user
	return nil
}

func (r userRepo) checkUnique(user *domain.User) error {
	for _, existing := range r.s.users {
		if existing.ID == user.ID {
			continue
		}
		if strings.EqualFold(existing.Email, user.Email) {
			return repository.ErrDuplicate
		}
		if user.LoginCode != nil && existing.LoginCode != nil && *existing.LoginCode == *user.LoginCode {
			return repository.ErrDuplicate
		}
	}
	return nil
}

func (r userRepo) Update(_ context.Context, user *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.users[user.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	if err := r.checkUnique(user); err != nil {
		return err
	}
	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = r.s.now()
	r.s.users[user.ID] = *user
	return nil
}

func (r userRepo) GetByID(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	user, ok := r.s.users[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &user, nil
}

func (r userRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r userRepo) GetByLoginCode(_ context.Context, code string) (*domain.User, error) {
	return r.find(func(u domain.User) bool { return u.LoginCode != nil && *u.LoginCode == code })
}

func (r userRepo) find(match func(domain.User) bool) (*domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, user := range r.s.users {
		if match(user) {
			u := user
			return &u, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r userRepo) List(_ context.Context, filter repository.UserFilter) ([]domain.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := []domain.User{}
	for _, user := range r.s.users {
		if filter.CompanyID != nil && (user.CompanyID == nil || *user.CompanyID != *filter.CompanyID) {
			continue
		}
		if len(filter.Roles) > 0 && !containsRole(filter.Roles, user.Role) {
			continue
		}
		if filter.ServesCompanyID != nil && !contains(r.s.agentCompanies[user.ID], *filter.ServesCompanyID) {
			continue
		}
		if filter.ActiveOnly && !user.Active {
			continue
		}
		result = append(result, user)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (r userRepo) AgentCompanyIDs(_ context.Context, agentID string) ([]string, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return append([]string{}, r.s.agentCompanies[agentID]...), nil
}

func (r userRepo) SetAgentCompanies(_ context.Context, agentID string, companyIDs []string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	unique := []string{}
	for _, id := range companyIDs {
		if !contains(unique, id) {
			unique = append(unique, id)
		}
	}
	r.s.agentCompanies[agentID] = unique
	return nil
}

// service requests

type requestRepo struct{ s *Store }

func (r requestRepo) Create(_ context.Context, request *domain.ServiceRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.requests {
		if existing.ServiceQueueID == request.ServiceQueueID {
			return repository.ErrDuplicate
		}
	}
	request.ID = uuid.NewString()
	request.CreatedAt = r.s.now()
	request.UpdatedAt = request.CreatedAt
	r.s.requests[request.ID] = cloneRequest(*request)
	return nil
}

func (r requestRepo) Patch(_ context.Context, id string, patch repository.RequestPatch) (*domain.ServiceRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	request, ok := r.s.requests[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	if patch.RequireNotClosed && request.TaskStatus == domain.TaskStatusClosed && request.ClosedAt != nil {
		return nil, repository.ErrStaleState
	}
	if patch.Insured != nil {
		request.Insured = *patch.Insured
	}
	if patch.Narrative != nil {
		request.Narrative = *patch.Narrative
	}
	if patch.Category != nil {
		request.Category = *patch.Category
	}
	if patch.TaskStatus != nil {
		request.TaskStatus = *patch.TaskStatus
	}
	if patch.AssignedByID != nil {
		request.AssignedByID = *patch.AssignedByID
	}
	if patch.AssignedToID.Set {
		request.AssignedToID = clonePtr(patch.AssignedToID.Value)
	}
	if patch.TimeSpent.Set {
		request.TimeSpent = clonePtr(patch.TimeSpent.Value)
	}
	if patch.DueDate.Set {
		request.DueDate = clonePtr(patch.DueDate.Value)
	}
	if patch.DueTime.Set {
		request.DueTime = clonePtr(patch.DueTime.Value)
	}
	if patch.ClosedAt.Set {
		request.ClosedAt = clonePtr(patch.ClosedAt.Value)
	} else if patch.StampClosedAt != nil && request.ClosedAt == nil {
		request.ClosedAt = clonePtr(patch.StampClosedAt)
	}
	if patch.StampInProgressAt != nil && request.InProgressAt == nil {
		request.InProgressAt = clonePtr(patch.StampInProgressAt)
	}
	request.ModifiedByID = clonePtr(&patch.ModifiedByID)
	request.UpdatedAt = r.s.now()
	r.s.requests[id] = cloneRequest(request)
	out := cloneRequest(request)
	return &out, nil
}

func (r requestRepo) GetForUpdate(ctx context.Context, id string) (*domain.ServiceRequest, error) {
	return r.GetByID(ctx, id)
}

func (r requestRepo) GetByID(_ context.Context, id string) (*domain.ServiceRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	request, ok := r.s.requests[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := cloneRequest(request)
	return &out, nil
}

func (r requestRepo) List(_ context.Context, filter repository.RequestFilter) ([]domain.ServiceRequest, int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	matched := []domain.ServiceRequest{}
	for _, request := range r.s.requests {
		req := request
		if filter.Matches(&req) {
			matched = append(matched, cloneRequest(req))
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	total := len(matched)
	return page(matched, filter.Limit, filter.Offset), total, nil
}

// sub-tasks

type subTaskRepo struct{ s *Store }

func (r subTaskRepo) Create(_ context.Context, task *domain.SubTask) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, existing := range r.s.subTasks {
		if existing.TaskID == task.TaskID {
			return repository.ErrDuplicate
		}
	}
	task.ID = uuid.NewString()
	task.CreatedAt = r.s.now()
	task.UpdatedAt = task.CreatedAt
	r.s.subTasks[task.ID] = *task
	return nil
}

func (r subTaskRepo) UpdateStatus(_ context.Context, task *domain.SubTask) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	existing, ok := r.s.subTasks[task.ID]
	if !ok {
		return pgx.ErrNoRows
	}
	existing.TaskStatus = task.TaskStatus
	existing.UpdatedAt = r.s.now()
	r.s.subTasks[task.ID] = existing
	task.UpdatedAt = existing.UpdatedAt
	return nil
}

func (r subTaskRepo) GetByID(_ context.Context, id string) (*domain.SubTask, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	task, ok := r.s.subTasks[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &task, nil
}

func (r subTaskRepo) ListByRequest(_ context.Context, requestID string) ([]domain.SubTask, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := []domain.SubTask{}
	for _, task := range r.s.subTasks {
		if task.RequestID == requestID {
			result = append(result, task)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

// assignment changes

type changeRepo struct{ s *Store }

func (r changeRepo) Create(_ context.Context, change *domain.AssignmentChangeRequest) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if change.Status == domain.ChangeRequestPending {
		for _, existing := range r.s.changes {
			if existing.RequestID == change.RequestID && existing.RequestedByID == change.RequestedByID &&
				existing.Status == domain.ChangeRequestPending {
				return repository.ErrDuplicate
			}
		}
	}
	change.ID = uuid.NewString()
	change.CreatedAt = r.s.now()
	change.UpdatedAt = change.CreatedAt
	r.s.changes[change.ID] = *change
	return nil
}

func (r changeRepo) GetByID(_ context.Context, id string) (*domain.AssignmentChangeRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	change, ok := r.s.changes[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &change, nil
}

func (r changeRepo) List(_ context.Context, filter repository.ChangeRequestFilter) ([]domain.AssignmentChangeRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := []domain.AssignmentChangeRequest{}
	for _, change := range r.s.changes {
		if filter.RequestID != nil && change.RequestID != *filter.RequestID {
			continue
		}
		if filter.Status != nil && change.Status != *filter.Status {
			continue
		}
		if filter.Scoped {
			parent, ok := r.s.requests[change.RequestID]
			if !ok || !contains(filter.CompanyIDs, parent.CompanyID) {
				continue
			}
		}
		result = append(result, change)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (r changeRepo) HasPending(_ context.Context, requestID, requestedByID string) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	for _, change := range r.s.changes {
		if change.RequestID == requestID && change.RequestedByID == requestedByID &&
			change.Status == domain.ChangeRequestPending {
			return true, nil
		}
	}
	return false, nil
}

func (r changeRepo) Review(_ context.Context, id string, decision repository.ReviewDecision) (*domain.AssignmentChangeRequest, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	change, ok := r.s.changes[id]
	if !ok || change.Status != domain.ChangeRequestPending {
		return nil, repository.ErrStaleState
	}
	reviewer := decision.ReviewedByID
	reviewedAt := decision.ReviewedAt
	change.Status = decision.Status
	change.ReviewedByID = &reviewer
	change.ReviewComment = decision.Comment
	change.ReviewedAt = &reviewedAt
	change.UpdatedAt = r.s.now()
	r.s.changes[id] = change
	return &change, nil
}

// notes

type noteRepo struct{ s *Store }

func (r noteRepo) Create(_ context.Context, note *domain.RequestNote) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	note.ID = uuid.NewString()
	note.CreatedAt = r.s.now()
	r.s.notes = append(r.s.notes, *note)
	return nil
}

func (r noteRepo) ListByRequest(_ context.Context, requestID string) ([]domain.RequestNote, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := []domain.RequestNote{}
	for _, note := range r.s.notes {
		if note.RequestID != requestID {
			continue
		}
		if author, ok := r.s.users[note.AuthorID]; ok {
			note.AuthorName = author.Name
		}
		result = append(result, note)
	}
	return result, nil
}

// attachments

type attachmentRepo struct{ s *Store }

func (r attachmentRepo) Create(_ context.Context, attachment *domain.RequestAttachment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	attachment.ID = uuid.NewString()
	attachment.CreatedAt = r.s.now()
	r.s.attachments[attachment.ID] = *attachment
	return nil
}

func (r attachmentRepo) GetByID(_ context.Context, id string) (*domain.RequestAttachment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	attachment, ok := r.s.attachments[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &attachment, nil
}

func (r attachmentRepo) ListByRequest(_ context.Context, requestID string) ([]domain.RequestAttachment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := []domain.RequestAttachment{}
	for _, attachment := range r.s.attachments {
		if attachment.RequestID == requestID {
			result = append(result, attachment)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (r attachmentRepo) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.attachments[id]; !ok {
		return pgx.ErrNoRows
	}
	delete(r.s.attachments, id)
	return nil
}

// activity

type activityRepo struct{ s *Store }

func (r activityRepo) Create(_ context.Context, entry *domain.ActivityLog) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.FailActivity != nil {
		return r.s.FailActivity
	}
	entry.ID = uuid.NewString()
	entry.CreatedAt = r.s.now()
	r.s.activity = append(r.s.activity, *entry)
	return nil
}

func (r activityRepo) List(_ context.Context, filter repository.ActivityFilter) ([]domain.ActivityLog, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	result := []domain.ActivityLog{}
	// Walk backwards so equal timestamps still come out newest first.
	for i := len(r.s.activity) - 1; i >= 0; i-- {
		entry := r.s.activity[i]
		if filter.RequestID != nil && (entry.RequestID == nil || *entry.RequestID != *filter.RequestID) {
			continue
		}
		if filter.CompanyID != nil && (entry.CompanyID == nil || *entry.CompanyID != *filter.CompanyID) {
			continue
		}
		if filter.UserID != nil && entry.UserID != *filter.UserID {
			continue
		}
		result = append(result, entry)
	}
	return page(result, filter.Limit, filter.Offset), nil
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneRequest(r domain.ServiceRequest) domain.ServiceRequest {
	r.DueDate = clonePtr(r.DueDate)
	r.DueTime = clonePtr(r.DueTime)
	r.InProgressAt = clonePtr(r.InProgressAt)
	r.ClosedAt = clonePtr(r.ClosedAt)
	r.TimeSpent = clonePtr(r.TimeSpent)
	r.AssignedToID = clonePtr(r.AssignedToID)
	r.ModifiedByID = clonePtr(r.ModifiedByID)
	return r
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func containsRole(roles []domain.Role, target domain.Role) bool {
	for _, role := range roles {
		if role == target {
			return true
		}
	}
	return false
}
