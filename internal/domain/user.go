package domain

import "time"

// Company is a tenant. Requests and customer users belong to exactly one company.
type Company struct {
	ID             string
	Name           string
	Code           string
	PrimaryContact string
	Email          string
	Phone          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// User is any portal account. CompanyID is nil for agents and admins.
type User struct {
	ID           string
	Name         string
	Email        string
	LoginCode    *string
	PasswordHash *string
	Role         Role
	CompanyID    *string
	Active       bool
	Timezone     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Location resolves the user's configured timezone, falling back to UTC.
func (u *User) Location() *time.Location {
	if u == nil || u.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Agent extends a user holding the agent or agent_manager role with the
// companies the agent is allowed to service.
type Agent struct {
	User       User
	CompanyIDs []string
}

// ServesCompany reports whether the agent is assigned to companyID.
func (a *Agent) ServesCompany(companyID string) bool {
	if a == nil {
		return false
	}
	for _, id := range a.CompanyIDs {
		if id == companyID {
			return true
		}
	}
	return false
}
