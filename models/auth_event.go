package models

import (
	"time"

	"github.com/google/uuid"
)

// AuthResult is the outcome of one gateway authentication attempt
type AuthResult string

const (
	AuthResultAllowed AuthResult = "allowed"
	AuthResultDenied  AuthResult = "denied"
)

// AuthEvent is one row of the authentication audit trail
type AuthEvent struct {
	ID         uuid.UUID  `json:"id" db:"id"`
	RequestID  string     `json:"request_id" db:"request_id"`
	Result     AuthResult `json:"result" db:"result"`
	Reason     string     `json:"reason" db:"reason"` // ok, missing_token, primary_rejected, ...
	Subject    string     `json:"subject,omitempty" db:"subject"`
	Issuer     string     `json:"issuer,omitempty" db:"issuer"`
	TokenCount int        `json:"token_count" db:"token_count"`
	IPAddress  string     `json:"ip_address" db:"ip_address"`
	UserAgent  string     `json:"user_agent" db:"user_agent"`
	Timestamp  time.Time  `json:"timestamp" db:"timestamp"`
}

// TableName returns the table name for the AuthEvent model
func (AuthEvent) TableName() string {
	return "auth_events"
}

// NewAuthEvent creates a new AuthEvent instance
func NewAuthEvent(result AuthResult, reason string) *AuthEvent {
	return &AuthEvent{
		ID:        uuid.New(),
		Result:    result,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
}

// WithPrincipal sets the subject and issuer of the primary identity
func (e *AuthEvent) WithPrincipal(subject, issuer string, tokenCount int) *AuthEvent {
	e.Subject = subject
	e.Issuer = issuer
	e.TokenCount = tokenCount
	return e
}

// WithRequest sets request metadata
func (e *AuthEvent) WithRequest(requestID, ipAddress, userAgent string) *AuthEvent {
	e.RequestID = requestID
	e.IPAddress = ipAddress
	e.UserAgent = userAgent
	return e
}
