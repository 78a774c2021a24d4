package handlers

import (
	"context"
	"net/http"

	"github.com/upb/auth0-gateway/auth0"
	"github.com/upb/auth0-gateway/middleware"
	"github.com/upb/auth0-gateway/services"
	"github.com/upb/auth0-gateway/utils"
	"go.uber.org/zap"
)

// UserInfoFetcher retrieves the provider profile for a caller
type UserInfoFetcher interface {
	Fetch(ctx context.Context, authorization string) (map[string]interface{}, error)
}

// AdvancedResponse is the payload of GET /advanced
type AdvancedResponse struct {
	UserInfo map[string]interface{} `json:"userinfo"`
	Claims   []auth0.Claim          `json:"claims"`
}

// UserInfoHandler combines the provider profile with the token claims
type UserInfoHandler struct {
	client UserInfoFetcher
	logger *zap.Logger
}

// NewUserInfoHandler creates a new UserInfoHandler
func NewUserInfoHandler(client UserInfoFetcher, logger *zap.Logger) *UserInfoHandler {
	return &UserInfoHandler{client: client, logger: logger}
}

// HandleAdvanced handles GET /advanced.
// The caller's Authorization header is forwarded to the /userinfo endpoint.
func (h *UserInfoHandler) HandleAdvanced(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestIDFromContext(ctx)

	identity := middleware.GetPrincipalFromContext(ctx).Primary()
	if identity == nil {
		HandleServiceError(w, services.ErrNoPrincipal, h.logger)
		return
	}

	info, err := h.client.Fetch(ctx, middleware.GetAuthorizationFromContext(ctx))
	if err != nil {
		h.logger.Warn("userinfo request failed",
			zap.String("request_id", requestID),
			zap.Error(err))
		HandleServiceError(w, services.ErrUserInfoFailed.Wrap(err), h.logger)
		return
	}

	claims := identity.Claims
	if claims == nil {
		claims = []auth0.Claim{}
	}
	if err := utils.WriteOK(w, AdvancedResponse{UserInfo: info, Claims: claims}); err != nil {
		h.logger.Error("failed to write advanced response", zap.Error(err))
	}
}
