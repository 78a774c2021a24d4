package services

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewDomainError(t *testing.T) {
	baseErr := errors.New("base error")
	domainErr := NewDomainError(ErrorTypeExternal, "userinfo request failed", baseErr)

	assert.Equal(t, ErrorTypeExternal, domainErr.Type)
	assert.Equal(t, "userinfo request failed", domainErr.Message)
	assert.Equal(t, baseErr, domainErr.Err)
	assert.NotNil(t, domainErr.Details)
}

func TestDomainError_Error(t *testing.T) {
	tests := []struct {
		name    string
		err     *DomainError
		wantMsg string
	}{
		{
			name:    "error with wrapped error",
			err:     &DomainError{Type: ErrorTypeInternal, Message: "insert auth event", Err: errors.New("db error")},
			wantMsg: "internal: insert auth event (db error)",
		},
		{
			name:    "error without wrapped error",
			err:     &DomainError{Type: ErrorTypeValidation, Message: "invalid input"},
			wantMsg: "validation: invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantMsg, tt.err.Error())
		})
	}
}

func TestDomainError_Is(t *testing.T) {
	err := fmt.Errorf("advanced: %w", ErrUserInfoFailed.Wrap(errors.New("status 401")))

	assert.ErrorIs(t, err, ErrUserInfoFailed)
	assert.NotErrorIs(t, err, ErrDatabaseError)
	assert.True(t, IsExternalError(err))
	assert.False(t, IsInternalError(err))
	assert.Equal(t, ErrorTypeExternal, GetErrorType(err))
}

func TestErrorTypeHelpers(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{"validation", ErrInvalidInput, IsValidationError},
		{"forbidden", ErrNoPrincipal, IsForbiddenError},
		{"internal", ErrDatabaseError.Wrap(errors.New("boom")), IsInternalError},
		{"external", ErrUserInfoFailed, IsExternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.check(tt.err))
			assert.False(t, tt.check(errors.New("plain")))
		})
	}
}

func TestWithDetail(t *testing.T) {
	err := NewDomainError(ErrorTypeExternal, "userinfo request failed", nil).
		WithDetail("endpoint", "https://example.auth0.com/userinfo")

	assert.Equal(t, "https://example.auth0.com/userinfo", GetErrorDetails(err)["endpoint"])
	assert.Nil(t, GetErrorDetails(errors.New("plain")))

	empty := &DomainError{Type: ErrorTypeInternal}
	empty.WithDetail("k", "v")
	assert.Equal(t, "v", empty.Details["k"])
}

func TestDomainError_Wrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := ErrDatabaseError.Wrap(cause).WithDetail("table", "auth_events")

	assert.ErrorIs(t, err, ErrDatabaseError)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "internal: database error (connection refused)", err.Error())
	assert.Equal(t, "auth_events", err.Details["table"])

	assert.Nil(t, ErrDatabaseError.Err)
	assert.Empty(t, ErrDatabaseError.Details)
}
