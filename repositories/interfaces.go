package repositories

import (
	"context"

	"github.com/upb/auth0-gateway/models"
)

// AuthEventRepository handles authentication audit trail operations
type AuthEventRepository interface {
	// Insert inserts a new auth event
	Insert(ctx context.Context, event *models.AuthEvent) error

	// ListRecent retrieves the most recent events, newest first
	ListRecent(ctx context.Context, limit int) ([]*models.AuthEvent, error)
}
