package dto

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/spec-kit/service-portal/pkg/util"
)

func TestValidateKeysDetailsByJSONName(t *testing.T) {
	err := Validate(&CreateRequestPayload{Narrative: "something"})
	require.Error(t, err)

	var domainErr *apperrors.DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, apperrors.CodeValidation, domainErr.Code)
	assert.Equal(t, "is required", domainErr.Details["insured"])
	assert.NotContains(t, domainErr.Details, "serviceRequestNarrative")
}

func TestValidateMessages(t *testing.T) {
	err := Validate(&CreateUserPayload{Name: "Cora", Email: "not-an-email", Role: "owner"})
	require.Error(t, err)

	var domainErr *apperrors.DomainError
	require.True(t, errors.As(err, &domainErr))
	assert.Equal(t, "must be a valid email", domainErr.Details["email"])
	assert.Equal(t, "must be one of [customer customer_admin agent agent_manager super_admin]", domainErr.Details["role"])
}

func TestValidateDueDateFormat(t *testing.T) {
	bad := "31/01/2030"
	err := Validate(&CreateRequestPayload{Insured: "Acme", Narrative: "n", DueDate: &bad})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeValidation))

	good := "2030-01-31"
	assert.NoError(t, Validate(&CreateRequestPayload{Insured: "Acme", Narrative: "n", DueDate: &good}))
}
