package middleware

import (
	"net/http"
	"strings"

	"github.com/upb/auth0-gateway/auth0"
	"github.com/upb/auth0-gateway/utils"
	"go.uber.org/zap"
)

// RequireScope is a middleware that requires the primary identity to carry
// scope, either in the space-delimited scope claim or in the permissions
// claim. It must run after RequireAuth. An empty scope denies every caller.
func (g *AuthGateway) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := GetRequestIDFromContext(ctx)

			primary := GetPrincipalFromContext(ctx).Primary()
			if primary == nil {
				g.logger.Error("principal not found in context",
					zap.String("request_id", requestID))
				_ = utils.WriteForbidden(w, "")
				return
			}

			if !hasScope(primary, scope) {
				g.logger.Warn("insufficient permissions",
					zap.String("request_id", requestID),
					zap.String("sub", claimOrEmpty(primary, "sub")),
					zap.String("required_scope", scope))
				_ = utils.WriteForbidden(w, "")
				return
			}

			g.logger.Debug("scope check passed",
				zap.String("request_id", requestID),
				zap.String("required_scope", scope))

			next.ServeHTTP(w, r)
		})
	}
}

func hasScope(identity *auth0.Identity, scope string) bool {
	if scope == "" {
		return false
	}
	for _, value := range identity.FindAll("scope") {
		for _, granted := range strings.Fields(value) {
			if granted == scope {
				return true
			}
		}
	}
	for _, permission := range identity.FindAll("permissions") {
		if permission == scope {
			return true
		}
	}
	return false
}
