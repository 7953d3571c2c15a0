package dto

import (
	"time"

	"github.com/spec-kit/service-portal/internal/domain"
	"github.com/spec-kit/service-portal/internal/service"
)

// AdminLoginPayload is the body of POST /auth/admin/login.
type AdminLoginPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// CodeLoginPayload is the body of POST /auth/login.
type CodeLoginPayload struct {
	LoginCode string `json:"loginCode" validate:"required"`
}

// LoginResponse is returned by both login flows.
type LoginResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expiresAt"`
	User      UserResponse `json:"user"`
}

// UserResponse renders a portal account. Password hashes never leave the server.
type UserResponse struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"`
	Email     string      `json:"email"`
	Role      domain.Role `json:"role"`
	CompanyID *string     `json:"companyId"`
	LoginCode *string     `json:"loginCode,omitempty"`
	Active    bool        `json:"active"`
	Timezone  string      `json:"timezone"`
	CreatedAt time.Time   `json:"createdAt"`
}

// NewUserResponse renders a user. The login code is included only when
// withCode is set.
func NewUserResponse(u *domain.User, withCode bool) UserResponse {
	out := UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      u.Role,
		CompanyID: u.CompanyID,
		Active:    u.Active,
		Timezone:  u.Timezone,
		CreatedAt: u.CreatedAt,
	}
	if withCode {
		out.LoginCode = u.LoginCode
	}
	return out
}

// NewUserResponses renders a list of users without login codes.
func NewUserResponses(users []domain.User) []UserResponse {
	out := make([]UserResponse, 0, len(users))
	for i := range users {
		out = append(out, NewUserResponse(&users[i], false))
	}
	return out
}

// NewLoginResponse renders a login result.
func NewLoginResponse(res *service.LoginResult) LoginResponse {
	return LoginResponse{Token: res.Token, ExpiresAt: res.ExpiresAt, User: NewUserResponse(res.User, false)}
}

// CreateCompanyPayload is the body of POST /companies.
type CreateCompanyPayload struct {
	Name           string `json:"name" validate:"required,max=255"`
	Code           string `json:"code" validate:"required,max=32"`
	PrimaryContact string `json:"primaryContact"`
	Email          string `json:"email" validate:"omitempty,email"`
	Phone          string `json:"phone"`
}

// UpdateCompanyPayload patches company contact fields.
type UpdateCompanyPayload struct {
	Name           domain.Optional[string] `json:"name"`
	PrimaryContact domain.Optional[string] `json:"primaryContact"`
	Email          domain.Optional[string] `json:"email"`
	Phone          domain.Optional[string] `json:"phone"`
}

// CompanyResponse renders a tenant.
type CompanyResponse struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Code           string    `json:"code"`
	PrimaryContact string    `json:"primaryContact"`
	Email          string    `json:"email"`
	Phone          string    `json:"phone"`
	CreatedAt      time.Time `json:"createdAt"`
}

// NewCompanyResponse renders a company.
func NewCompanyResponse(c *domain.Company) CompanyResponse {
	return CompanyResponse{
		ID:             c.ID,
		Name:           c.Name,
		Code:           c.Code,
		PrimaryContact: c.PrimaryContact,
		Email:          c.Email,
		Phone:          c.Phone,
		CreatedAt:      c.CreatedAt,
	}
}

// NewCompanyResponses renders a list of companies.
func NewCompanyResponses(companies []domain.Company) []CompanyResponse {
	out := make([]CompanyResponse, 0, len(companies))
	for i := range companies {
		out = append(out, NewCompanyResponse(&companies[i]))
	}
	return out
}

// CreateUserPayload is the body of POST /users.
type CreateUserPayload struct {
	Name      string      `json:"name" validate:"required,max=255"`
	Email     string      `json:"email" validate:"required,email"`
	Role      domain.Role `json:"role" validate:"required,oneof=customer customer_admin agent agent_manager super_admin"`
	CompanyID *string     `json:"companyId"`
	Password  *string     `json:"password" validate:"omitempty,min=8"`
	Timezone  string      `json:"timezone"`
}

// UpdateUserPayload patches a user.
type UpdateUserPayload struct {
	Name     domain.Optional[string] `json:"name"`
	Active   domain.Optional[bool]   `json:"active"`
	Timezone domain.Optional[string] `json:"timezone"`
}

// SetAgentCompaniesPayload replaces an agent's company list.
type SetAgentCompaniesPayload struct {
	CompanyIDs []string `json:"companyIds" validate:"required"`
}

// AgentResponse renders an agent with the caller's allowed actions.
type AgentResponse struct {
	UserResponse
	CompanyIDs []string `json:"companyIds"`
	CanPromote bool     `json:"canPromote"`
	CanDemote  bool     `json:"canDemote"`
}

// NewAgentResponse renders one agent view.
func NewAgentResponse(v *service.AgentView) AgentResponse {
	ids := v.CompanyIDs
	if ids == nil {
		ids = []string{}
	}
	return AgentResponse{
		UserResponse: NewUserResponse(&v.User, false),
		CompanyIDs:   ids,
		CanPromote:   v.CanPromote,
		CanDemote:    v.CanDemote,
	}
}

// NewAgentResponses renders agent views.
func NewAgentResponses(views []service.AgentView) []AgentResponse {
	out := make([]AgentResponse, 0, len(views))
	for i := range views {
		out = append(out, NewAgentResponse(&views[i]))
	}
	return out
}
