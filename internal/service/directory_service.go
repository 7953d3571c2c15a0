package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/service-portal/internal/auth"
	"github.com/spec-kit/service-portal/internal/domain"
	"github.com/spec-kit/service-portal/internal/repository"
	apperrors "github.com/spec-kit/service-portal/pkg/util"
)

// DirectoryService manages companies, users and agent company assignments.
type DirectoryService struct {
	companies  repository.CompanyRepository
	users      repository.UserRepository
	tx         repository.TxManager
	activity   *ActivityService
	bcryptCost int
	logger     *zap.Logger
}

// DirectoryDependencies bundles collaborators.
type DirectoryDependencies struct {
	CompanyRepo repository.CompanyRepository
	UserRepo    repository.UserRepository
	TxManager   repository.TxManager
	Activity    *ActivityService
	BcryptCost  int
	Logger      *zap.Logger
}

// NewDirectoryService constructs the service.
func NewDirectoryService(deps DirectoryDependencies) *DirectoryService {
	return &DirectoryService{
		companies:  deps.CompanyRepo,
		users:      deps.UserRepo,
		tx:         deps.TxManager,
		activity:   deps.Activity,
		bcryptCost: deps.BcryptCost,
		logger:     nopLogger(deps.Logger),
	}
}

// CompanyInput creates a tenant.
type CompanyInput struct {
	Name           string
	Code           string
	PrimaryContact string
	Email          string
	Phone          string
}

// CompanyUpdateInput patches contact fields. The code is immutable.
type CompanyUpdateInput struct {
	Name           domain.Optional[string]
	PrimaryContact domain.Optional[string]
	Email          domain.Optional[string]
	Phone          domain.Optional[string]
}

// CreateCompany registers a tenant.
func (s *DirectoryService) CreateCompany(ctx context.Context, p *auth.Principal, input CompanyInput) (*domain.Company, error) {
	if !p.IsAdmin() {
		return nil, apperrors.NewPermissionError("only administrators may create companies")
	}
	company := &domain.Company{
		Name:           strings.TrimSpace(input.Name),
		Code:           strings.ToUpper(strings.TrimSpace(input.Code)),
		PrimaryContact: strings.TrimSpace(input.PrimaryContact),
		Email:          strings.TrimSpace(input.Email),
		Phone:          strings.TrimSpace(input.Phone),
	}
	problems := map[string]any{}
	if company.Name == "" {
		problems["name"] = "required"
	}
	if company.Code == "" {
		problems["code"] = "required"
	}
	if len(problems) > 0 {
		return nil, apperrors.NewValidationError("invalid company", problems)
	}
	if err := s.companies.Create(ctx, company); err != nil {
		return nil, mapRepoErr(err, "company code")
	}
	s.logger.Info("company created", zap.String("company_id", company.ID), zap.String("code", company.Code))
	return company, nil
}

// ListCompanies returns the companies visible to the caller.
func (s *DirectoryService) ListCompanies(ctx context.Context, p *auth.Principal) ([]domain.Company, error) {
	scoped, ids := p.CompanyScope()
	companies, err := s.companies.List(ctx, repository.CompanyFilter{Scoped: scoped, IDs: ids})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return companies, nil
}

// GetCompany returns a visible company.
func (s *DirectoryService) GetCompany(ctx context.Context, p *auth.Principal, id string) (*domain.Company, error) {
	if !p.CanSeeCompany(id) {
		return nil, apperrors.NewNotFound("company", nil)
	}
	company, err := s.companies.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err, "company")
	}
	return company, nil
}

// UpdateCompany edits contact details. Administrators may edit any company;
// customer admins only their own.
func (s *DirectoryService) UpdateCompany(ctx context.Context, p *auth.Principal, id string, input CompanyUpdateInput) (*domain.Company, error) {
	ownCompany := p.Role == domain.RoleCustomerAdmin && p.CompanyID != nil && *p.CompanyID == id
	if !p.IsAdmin() && !ownCompany {
		return nil, apperrors.NewPermissionError("not allowed to edit this company")
	}
	company, err := s.companies.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err, "company")
	}

	var changed []string
	apply := func(name string, opt domain.Optional[string], dst *string) {
		if !opt.Set {
			return
		}
		*dst = strings.TrimSpace(deref(opt.Value))
		changed = append(changed, name)
	}
	apply("name", input.Name, &company.Name)
	apply("primaryContact", input.PrimaryContact, &company.PrimaryContact)
	apply("email", input.Email, &company.Email)
	apply("phone", input.Phone, &company.Phone)
	if company.Name == "" {
		return nil, apperrors.NewValidationError("company name cannot be empty", map[string]any{"name": "required"})
	}

	if err := s.companies.Update(ctx, company); err != nil {
		return nil, mapRepoErr(err, "company")
	}
	s.activity.Record(ctx, domain.ActivityLog{
		Type:        domain.ActivityCompanyUpdated,
		Description: fmt.Sprintf("%s updated company %s", p.User.Name, company.Code),
		UserID:      p.UserID(),
		CompanyID:   strPtr(company.ID),
		Metadata:    map[string]any{"fields": changed},
	})
	return company, nil
}

// UserInput creates a portal account.
type UserInput struct {
	Name      string
	Email     string
	Role      domain.Role
	CompanyID *string
	Password  *string
	Timezone  string
}

// UserUpdateInput patches a user.
type UserUpdateInput struct {
	Name     domain.Optional[string]
	Active   domain.Optional[bool]
	Timezone domain.Optional[string]
}

// CreateUser adds an account. Administrators may create any role; customer
// admins may only add customers to their own company. Non-admin accounts get
// a login code.
func (s *DirectoryService) CreateUser(ctx context.Context, p *auth.Principal, input UserInput) (*domain.User, error) {
	switch {
	case p.IsAdmin():
	case p.Role == domain.RoleCustomerAdmin:
		if input.Role != domain.RoleCustomer && input.Role != domain.RoleCustomerAdmin {
			return nil, apperrors.NewPermissionError("customer admins may only create customer accounts")
		}
		input.CompanyID = p.CompanyID
	default:
		return nil, apperrors.NewPermissionError("not allowed to create users")
	}

	user := &domain.User{
		Name:     strings.TrimSpace(input.Name),
		Email:    strings.ToLower(strings.TrimSpace(input.Email)),
		Role:     input.Role,
		Active:   true,
		Timezone: strings.TrimSpace(input.Timezone),
	}
	if user.Timezone == "" {
		user.Timezone = "UTC"
	}
	if err := s.validateUser(ctx, user, input.CompanyID); err != nil {
		return nil, err
	}
	if input.Role.IsCustomer() {
		user.CompanyID = input.CompanyID
	}
	if input.Password != nil && *input.Password != "" {
		hash, err := auth.HashPassword(*input.Password, s.bcryptCost)
		if err != nil {
			return nil, apperrors.NewInternalError(err)
		}
		user.PasswordHash = &hash
	}
	if user.Role != domain.RoleSuperAdmin {
		code := auth.NewLoginCode()
		user.LoginCode = &code
	} else if user.PasswordHash == nil {
		return nil, apperrors.NewValidationError("administrators require a password", map[string]any{"password": "required"})
	}

	if err := s.users.Create(ctx, user); err != nil {
		return nil, mapRepoErr(err, "user")
	}
	s.activity.Record(ctx, domain.ActivityLog{
		Type:        domain.ActivityUserCreated,
		Description: fmt.Sprintf("%s created %s account for %s", p.User.Name, user.Role, user.Name),
		UserID:      p.UserID(),
		CompanyID:   user.CompanyID,
		Metadata:    map[string]any{"targetUserId": user.ID, "role": user.Role},
	})
	return user, nil
}

func (s *DirectoryService) validateUser(ctx context.Context, user *domain.User, companyID *string) error {
	problems := map[string]any{}
	if user.Name == "" {
		problems["name"] = "required"
	}
	if user.Email == "" {
		problems["email"] = "required"
	}
	if !user.Role.Valid() {
		problems["role"] = "unknown role"
	}
	if _, err := time.LoadLocation(user.Timezone); err != nil {
		problems["timezone"] = "unknown timezone"
	}
	if user.Role.IsCustomer() && (companyID == nil || *companyID == "") {
		problems["companyId"] = "required for customer accounts"
	}
	if len(problems) > 0 {
		return apperrors.NewValidationError("invalid user", problems)
	}
	if user.Role.IsCustomer() {
		if _, err := s.companies.GetByID(ctx, *companyID); err != nil {
			if repository.IsNotFound(err) {
				return apperrors.NewValidationError("company does not exist", map[string]any{"companyId": *companyID})
			}
			return apperrors.MapError(err)
		}
	}
	return nil
}

// UpdateUser edits name, active flag and timezone.
func (s *DirectoryService) UpdateUser(ctx context.Context, p *auth.Principal, id string, input UserUpdateInput) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err, "user")
	}
	if !s.canManageUser(p, user) {
		return nil, apperrors.NewPermissionError("not allowed to edit this user")
	}

	var changed []string
	if input.Name.Set {
		name := strings.TrimSpace(deref(input.Name.Value))
		if name == "" {
			return nil, apperrors.NewValidationError("name cannot be empty", map[string]any{"name": "required"})
		}
		user.Name = name
		changed = append(changed, "name")
	}
	if input.Active.Set && input.Active.Value != nil {
		if user.ID == p.UserID() && !*input.Active.Value {
			return nil, apperrors.NewValidationError("cannot deactivate your own account", nil)
		}
		user.Active = *input.Active.Value
		changed = append(changed, "active")
	}
	if input.Timezone.Set {
		tz := strings.TrimSpace(deref(input.Timezone.Value))
		if tz == "" {
			tz = "UTC"
		}
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, apperrors.NewValidationError("unknown timezone", map[string]any{"timezone": tz})
		}
		user.Timezone = tz
		changed = append(changed, "timezone")
	}

	if err := s.users.Update(ctx, user); err != nil {
		return nil, mapRepoErr(err, "user")
	}
	s.activity.Record(ctx, domain.ActivityLog{
		Type:        domain.ActivityUserUpdated,
		Description: fmt.Sprintf("%s updated %s", p.User.Name, user.Name),
		UserID:      p.UserID(),
		CompanyID:   user.CompanyID,
		Metadata:    map[string]any{"targetUserId": user.ID, "fields": changed},
	})
	return user, nil
}

func (s *DirectoryService) canManageUser(p *auth.Principal, user *domain.User) bool {
	if p.IsAdmin() {
		return true
	}
	return p.Role == domain.RoleCustomerAdmin && user.Role.IsCustomer() &&
		p.CompanyID != nil && user.CompanyID != nil && *p.CompanyID == *user.CompanyID
}

// ListUsers returns accounts of a company. Customer admins are pinned to
// their own company.
func (s *DirectoryService) ListUsers(ctx context.Context, p *auth.Principal, companyID *string) ([]domain.User, error) {
	switch {
	case p.IsAdmin():
	case p.Role == domain.RoleCustomerAdmin:
		companyID = p.CompanyID
	default:
		return nil, apperrors.NewPermissionError("not allowed to list users")
	}
	users, err := s.users.List(ctx, repository.UserFilter{CompanyID: companyID})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return users, nil
}

// AgentView carries an agent plus the actions the caller may take on it.
type AgentView struct {
	User       domain.User
	CompanyIDs []string
	CanPromote bool
	CanDemote  bool
}

// ListAgents returns agents and managers. The promote and demote flags are
// computed for the caller on every call.
func (s *DirectoryService) ListAgents(ctx context.Context, p *auth.Principal) ([]AgentView, error) {
	if !p.ManagerOrAdmin() {
		return nil, apperrors.NewPermissionError("not allowed to list agents")
	}
	users, err := s.users.List(ctx, repository.UserFilter{Roles: []domain.Role{domain.RoleAgent, domain.RoleAgentManager}})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	views := make([]AgentView, 0, len(users))
	for _, u := range users {
		companies, err := s.users.AgentCompanyIDs(ctx, u.ID)
		if err != nil {
			return nil, apperrors.MapError(err)
		}
		views = append(views, AgentView{
			User:       u,
			CompanyIDs: companies,
			CanPromote: p.IsAdmin() && u.Role == domain.RoleAgent,
			CanDemote:  p.IsAdmin() && u.Role == domain.RoleAgentManager,
		})
	}
	return views, nil
}

// SetAgentCompanies replaces the companies an agent services.
func (s *DirectoryService) SetAgentCompanies(ctx context.Context, p *auth.Principal, agentID string, companyIDs []string) (*AgentView, error) {
	if !p.IsAdmin() {
		return nil, apperrors.NewPermissionError("only administrators may assign agent companies")
	}
	agent, err := s.loadAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	unique := make([]string, 0, len(companyIDs))
	for _, id := range companyIDs {
		id = strings.TrimSpace(id)
		if id != "" && !containsID(unique, id) {
			unique = append(unique, id)
		}
	}

	err = s.tx.RunInTransaction(ctx, func(ctx context.Context) error {
		for _, id := range unique {
			if _, err := s.companies.GetByID(ctx, id); err != nil {
				if repository.IsNotFound(err) {
					return apperrors.NewValidationError("company does not exist", map[string]any{"companyIds": id})
				}
				return err
			}
		}
		return s.users.SetAgentCompanies(ctx, agent.ID, unique)
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	s.activity.Record(ctx, domain.ActivityLog{
		Type:        domain.ActivityUserUpdated,
		Description: fmt.Sprintf("%s set companies for %s", p.User.Name, agent.Name),
		UserID:      p.UserID(),
		Metadata:    map[string]any{"targetUserId": agent.ID, "companyIds": unique},
	})
	return &AgentView{
		User:       *agent,
		CompanyIDs: unique,
		CanPromote: agent.Role == domain.RoleAgent,
		CanDemote:  agent.Role == domain.RoleAgentManager,
	}, nil
}

// Promote turns an agent into an agent manager.
func (s *DirectoryService) Promote(ctx context.Context, p *auth.Principal, agentID string) (*domain.User, error) {
	return s.changeRole(ctx, p, agentID, domain.RoleAgent, domain.RoleAgentManager, domain.ActivityUserPromoted)
}

// Demote turns an agent manager back into an agent.
func (s *DirectoryService) Demote(ctx context.Context, p *auth.Principal, agentID string) (*domain.User, error) {
	return s.changeRole(ctx, p, agentID, domain.RoleAgentManager, domain.RoleAgent, domain.ActivityUserDemoted)
}

func (s *DirectoryService) changeRole(ctx context.Context, p *auth.Principal, agentID string, from, to domain.Role, kind domain.ActivityType) (*domain.User, error) {
	if !p.IsAdmin() {
		return nil, apperrors.NewPermissionError("only administrators may change agent roles")
	}
	agent, err := s.loadAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Role != from {
		return nil, apperrors.NewConflict(fmt.Sprintf("user is %s, expected %s", agent.Role, from),
			map[string]any{"role": agent.Role})
	}
	agent.Role = to
	if err := s.users.Update(ctx, agent); err != nil {
		return nil, mapRepoErr(err, "user")
	}
	s.activity.Record(ctx, domain.ActivityLog{
		Type:        kind,
		Description: fmt.Sprintf("%s changed %s from %s to %s", p.User.Name, agent.Name, from, to),
		UserID:      p.UserID(),
		Metadata:    map[string]any{"targetUserId": agent.ID, "fromRole": from, "toRole": to},
	})
	return agent, nil
}

func (s *DirectoryService) loadAgent(ctx context.Context, id string) (*domain.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, mapRepoErr(err, "agent")
	}
	if !user.Role.IsAgent() {
		return nil, apperrors.NewNotFound("agent", nil)
	}
	return user, nil
}

// AssigneeCandidates lists who may hold a request of companyID: active agents
// servicing the company plus active administrators.
func (s *DirectoryService) AssigneeCandidates(ctx context.Context, p *auth.Principal, companyID string) ([]domain.User, error) {
	if p.Role.IsCustomer() {
		return nil, apperrors.NewPermissionError("not allowed to list assignees")
	}
	if !p.CanSeeCompany(companyID) {
		return nil, apperrors.NewNotFound("company", nil)
	}
	agents, err := s.users.List(ctx, repository.UserFilter{
		Roles:           []domain.Role{domain.RoleAgent, domain.RoleAgentManager},
		ServesCompanyID: &companyID,
		ActiveOnly:      true,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	admins, err := s.users.List(ctx, repository.UserFilter{
		Roles:      []domain.Role{domain.RoleSuperAdmin},
		ActiveOnly: true,
	})
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return append(agents, admins...), nil
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
