package domain

// Role enumerates the portal user classes.
type Role string

const (
	RoleCustomer      Role = "customer"
	RoleCustomerAdmin Role = "customer_admin"
	RoleAgent         Role = "agent"
	RoleAgentManager  Role = "agent_manager"
	RoleSuperAdmin    Role = "super_admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleCustomerAdmin, RoleAgent, RoleAgentManager, RoleSuperAdmin:
		return true
	}
	return false
}

// IsCustomer covers both tenant-scoped customer roles.
func (r Role) IsCustomer() bool {
	return r == RoleCustomer || r == RoleCustomerAdmin
}

// IsAgent covers agents and agent managers.
func (r Role) IsAgent() bool {
	return r == RoleAgent || r == RoleAgentManager
}

// CanBeAssigned reports whether a user with this role may hold a service request.
func (r Role) CanBeAssigned() bool {
	return r == RoleAgent || r == RoleAgentManager || r == RoleSuperAdmin
}
