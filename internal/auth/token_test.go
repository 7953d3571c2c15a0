package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/service-portal/internal/domain"
)

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", 15)
	company := "c-1"

	token, exp, err := tm.GenerateToken("u-1", domain.RoleCustomer, &company)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), exp, 5*time.Second)

	claims, err := tm.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, domain.RoleCustomer, claims.Role)
	require.NotNil(t, claims.CompanyID)
	assert.Equal(t, company, *claims.CompanyID)
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	token, _, err := NewTokenManager("one", 5).GenerateToken("u-1", domain.RoleAgent, nil)
	require.NoError(t, err)

	_, err = NewTokenManager("two", 5).ParseToken(token)
	assert.Error(t, err)
}

func TestParseTokenRejectsExpired(t *testing.T) {
	tm := NewTokenManager("secret", 1)
	tm.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, _, err := tm.GenerateToken("u-1", domain.RoleAgent, nil)
	require.NoError(t, err)

	_, err = tm.ParseToken(token)
	assert.Error(t, err)
}

func TestPrincipalScope(t *testing.T) {
	company := "c-1"
	customer := NewPrincipal(&domain.User{ID: "u", Role: domain.RoleCustomer, CompanyID: &company}, nil)
	scoped, ids := customer.CompanyScope()
	assert.True(t, scoped)
	assert.Equal(t, []string{"c-1"}, ids)
	assert.True(t, customer.CanSeeCompany("c-1"))
	assert.False(t, customer.CanSeeCompany("c-2"))

	agent := NewPrincipal(&domain.User{ID: "a", Role: domain.RoleAgent}, nil)
	scoped, ids = agent.CompanyScope()
	assert.True(t, scoped)
	assert.Empty(t, ids)
	assert.False(t, agent.CanSeeCompany("c-1"))
	assert.False(t, agent.Manager)

	manager := NewPrincipal(&domain.User{ID: "m", Role: domain.RoleAgentManager}, []string{"c-2"})
	assert.True(t, manager.Manager)
	assert.True(t, manager.CanSeeCompany("c-2"))

	admin := NewPrincipal(&domain.User{ID: "s", Role: domain.RoleSuperAdmin}, nil)
	scoped, _ = admin.CompanyScope()
	assert.False(t, scoped)
	assert.True(t, admin.CanSeeCompany("anything"))
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("s3cret", 4)
	require.NoError(t, err)
	assert.NoError(t, ComparePassword(hash, "s3cret"))
	assert.Error(t, ComparePassword(hash, "wrong"))
	assert.Len(t, NewLoginCode(), 10)
}
