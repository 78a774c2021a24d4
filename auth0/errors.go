package auth0

import (
	"errors"
	"fmt"
)

// ValidationKind identifies why a single token was rejected.
type ValidationKind string

const (
	KindMalformed    ValidationKind = "malformed"
	KindUnknownKey   ValidationKind = "unknown_key"
	KindBadSignature ValidationKind = "bad_signature"
	KindBadIssuer    ValidationKind = "bad_issuer"
	KindBadAudience  ValidationKind = "bad_audience"
	KindExpired      ValidationKind = "expired"
	KindNotYetValid  ValidationKind = "not_yet_valid"
)

// AuthErrorKind is the boundary-facing failure category.
type AuthErrorKind string

const (
	AuthPrimaryRejected   AuthErrorKind = "primary_rejected"
	AuthSecondaryRejected AuthErrorKind = "secondary_rejected"
	AuthMissingToken      AuthErrorKind = "missing_token"
	AuthMalformedHeader   AuthErrorKind = "malformed_header"
	AuthCanceled          AuthErrorKind = "canceled"
)

// FetchError reports a failure retrieving or parsing the discovery document
// or the key set.
type FetchError struct {
	Op  string
	URL string
	Err error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("signing key fetch failed: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("signing key fetch failed: %s %s: %v", e.Op, e.URL, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches any *FetchError target.
func (e *FetchError) Is(target error) bool {
	_, ok := target.(*FetchError)
	return ok
}

// UserInfoError reports a failed call to the provider's /userinfo endpoint.
// StatusCode is zero when no response was received.
type UserInfoError struct {
	URL        string
	StatusCode int
	Err        error
}

// Error implements the error interface
func (e *UserInfoError) Error() string {
	return fmt.Sprintf("userinfo request failed: %s: %v", e.URL, e.Err)
}

// Unwrap implements errors.Unwrap
func (e *UserInfoError) Unwrap() error {
	return e.Err
}

// Is matches any *UserInfoError target.
func (e *UserInfoError) Is(target error) bool {
	_, ok := target.(*UserInfoError)
	return ok
}

// ValidationError is returned by Validator.Validate.
type ValidationError struct {
	Kind    ValidationKind
	Message string
	Err     error
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("token validation failed: %s", e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += fmt.Sprintf(" (%v)", e.Err)
	}
	return msg
}

// Unwrap implements errors.Unwrap
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Is compares kinds, so errors.Is(err, ErrExpired) works on wrapped values.
func (e *ValidationError) Is(target error) bool {
	t, ok := target.(*ValidationError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// AuthError is the only error kind returned by Authenticator.Authenticate.
// Index is the position of the offending secondary token, or -1.
type AuthError struct {
	Kind  AuthErrorKind
	Index int
	Err   error
}

// Error implements the error interface
func (e *AuthError) Error() string {
	var msg string
	if e.Index >= 0 {
		msg = fmt.Sprintf("authentication failed: %s (secondary token %d)", e.Kind, e.Index)
	} else {
		msg = fmt.Sprintf("authentication failed: %s", e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements errors.Unwrap
func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is compares kinds.
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Challenge reports whether the failure concerns the primary bearer token,
// in which case the boundary adds a WWW-Authenticate header.
func (e *AuthError) Challenge() bool {
	return e.Kind != AuthSecondaryRejected && e.Index < 0
}

func newValidationError(kind ValidationKind, message string, err error) *ValidationError {
	return &ValidationError{Kind: kind, Message: message, Err: err}
}

// NewAuthError builds an AuthError not tied to a secondary token.
func NewAuthError(kind AuthErrorKind, err error) *AuthError {
	return &AuthError{Kind: kind, Index: -1, Err: err}
}

// NewSecondaryAuthError builds an AuthError for the secondary token at index.
func NewSecondaryAuthError(kind AuthErrorKind, index int, err error) *AuthError {
	return &AuthError{Kind: kind, Index: index, Err: err}
}

var (
	ErrMalformed    = &ValidationError{Kind: KindMalformed}
	ErrUnknownKey   = &ValidationError{Kind: KindUnknownKey}
	ErrBadSignature = &ValidationError{Kind: KindBadSignature}
	ErrBadIssuer    = &ValidationError{Kind: KindBadIssuer}
	ErrBadAudience  = &ValidationError{Kind: KindBadAudience}
	ErrExpired      = &ValidationError{Kind: KindExpired}
	ErrNotYetValid  = &ValidationError{Kind: KindNotYetValid}

	ErrPrimaryRejected   = &AuthError{Kind: AuthPrimaryRejected, Index: -1}
	ErrSecondaryRejected = &AuthError{Kind: AuthSecondaryRejected, Index: -1}
	ErrMissingToken      = &AuthError{Kind: AuthMissingToken, Index: -1}
	ErrMalformedHeader   = &AuthError{Kind: AuthMalformedHeader, Index: -1}
	ErrCanceled          = &AuthError{Kind: AuthCanceled, Index: -1}

	ErrFetch    = &FetchError{}
	ErrUserInfo = &UserInfoError{}
)

// ValidationKindOf returns the kind of the first ValidationError in err's chain.
func ValidationKindOf(err error) (ValidationKind, bool) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Kind, true
	}
	return "", false
}

// AuthErrorKindOf returns the kind of the first AuthError in err's chain.
func AuthErrorKindOf(err error) (AuthErrorKind, bool) {
	var aErr *AuthError
	if errors.As(err, &aErr) {
		return aErr.Kind, true
	}
	return "", false
}

// IsFetchError reports whether err was caused by a key configuration fetch.
func IsFetchError(err error) bool {
	var fErr *FetchError
	return errors.As(err, &fErr)
}
