package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/upb/auth0-gateway/auth0"
	"github.com/upb/auth0-gateway/middleware"
	"github.com/upb/auth0-gateway/services"
	"github.com/upb/auth0-gateway/utils"
	"go.uber.org/zap"
)

// ClaimsHandler serves the claims of the authenticated caller
type ClaimsHandler struct {
	logger *zap.Logger
}

// NewClaimsHandler creates a new ClaimsHandler
func NewClaimsHandler(logger *zap.Logger) *ClaimsHandler {
	return &ClaimsHandler{logger: logger}
}

// HandleHello handles GET /hello.
// Responds with one line per claim of the primary identity.
func (h *ClaimsHandler) HandleHello(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetRequestIDFromContext(r.Context())

	identity := middleware.GetPrincipalFromContext(r.Context()).Primary()
	if identity == nil {
		h.logger.Error("principal not found in context", zap.String("request_id", requestID))
		HandleServiceError(w, services.ErrNoPrincipal, h.logger)
		return
	}

	h.logger.Info("authenticated caller", zap.String("request_id", requestID), zap.String("name", identity.Name()))

	lines := make([]string, 0, len(identity.Claims))
	for _, claim := range identity.Claims {
		h.logger.Debug("claim",
			zap.String("request_id", requestID),
			zap.String("type", claim.Type),
			zap.String("value", claim.Value))
		lines = append(lines, formatClaim(claim))
	}

	if err := utils.WriteText(w, http.StatusOK, strings.Join(lines, "\n")); err != nil {
		h.logger.Error("failed to write claims response", zap.Error(err))
	}
}

func formatClaim(c auth0.Claim) string {
	return fmt.Sprintf("Claim `%s` is `%s`", c.Type, c.Value)
}
