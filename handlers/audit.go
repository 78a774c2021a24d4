package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/upb/auth0-gateway/models"
	"github.com/upb/auth0-gateway/services"
	"github.com/upb/auth0-gateway/utils"
	"go.uber.org/zap"
)

const defaultEventLimit = 50

// AuthEventLister reads recorded authentication events
type AuthEventLister interface {
	ListRecent(ctx context.Context, limit int) ([]*models.AuthEvent, error)
}

// AuditHandler exposes recorded authentication events
type AuditHandler struct {
	events AuthEventLister
	logger *zap.Logger
}

// NewAuditHandler creates a new AuditHandler
func NewAuditHandler(events AuthEventLister, logger *zap.Logger) *AuditHandler {
	return &AuditHandler{events: events, logger: logger}
}

// HandleListEvents handles GET /audit/events?limit=N
func (h *AuditHandler) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := defaultEventLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			HandleServiceError(w, services.ErrInvalidInput.Wrap(err).WithDetail("limit", raw), h.logger)
			return
		}
		limit = n
	}

	events, err := h.events.ListRecent(r.Context(), limit)
	if err != nil {
		HandleServiceError(w, services.ErrDatabaseError.Wrap(err), h.logger)
		return
	}
	if events == nil {
		events = []*models.AuthEvent{}
	}

	if err := utils.WriteOK(w, events); err != nil {
		h.logger.Error("failed to write events response", zap.Error(err))
	}
}
