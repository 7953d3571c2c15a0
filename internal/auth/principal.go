package auth

import "github.com/spec-kit/service-portal/internal/domain"

// Principal represents the authenticated caller. Agents and agent managers
// share one principal shape; Manager carries the difference.
type Principal struct {
	User      *domain.User
	Role      domain.Role
	CompanyID *string
	Manager   bool
	// AgentCompanyIDs lists the companies an agent services.
	AgentCompanyIDs []string
}

// NewPrincipal derives a principal from a stored user.
func NewPrincipal(user *domain.User, agentCompanyIDs []string) *Principal {
	return &Principal{
		User:            user,
		Role:            user.Role,
		CompanyID:       user.CompanyID,
		Manager:         user.Role == domain.RoleAgentManager,
		AgentCompanyIDs: agentCompanyIDs,
	}
}

// UserID is shorthand for the caller's id.
func (p *Principal) UserID() string {
	return p.User.ID
}

// IsAdmin reports super_admin.
func (p *Principal) IsAdmin() bool {
	return p.Role == domain.RoleSuperAdmin
}

// ManagerOrAdmin reports agent_manager or super_admin.
func (p *Principal) ManagerOrAdmin() bool {
	return p.Manager || p.IsAdmin()
}

// CanSeeCompany reports whether requests of companyID are visible to the caller.
func (p *Principal) CanSeeCompany(companyID string) bool {
	switch {
	case p.IsAdmin():
		return true
	case p.Role.IsAgent():
		for _, id := range p.AgentCompanyIDs {
			if id == companyID {
				return true
			}
		}
		return false
	case p.Role.IsCustomer():
		return p.CompanyID != nil && *p.CompanyID == companyID
	}
	return false
}

// CompanyScope returns the companies the caller is restricted to. scoped is
// false for administrators, who see every tenant.
func (p *Principal) CompanyScope() (scoped bool, companyIDs []string) {
	switch {
	case p.IsAdmin():
		return false, nil
	case p.Role.IsAgent():
		return true, append([]string{}, p.AgentCompanyIDs...)
	case p.Role.IsCustomer() && p.CompanyID != nil:
		return true, []string{*p.CompanyID}
	}
	return true, []string{}
}
