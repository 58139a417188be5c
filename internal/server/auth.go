package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"tms/internal/authz"
	"tms/internal/engine"
	"tms/internal/token"
)

type AuthConfig struct {
	Codec  *token.Codec
	Logger *log.Logger
}

func (c AuthConfig) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}

// Principal is the resolved caller attached to the request context after
// the decision engine allowed it.
type Principal struct {
	UserID int64
	Email  string
	Roles  []string
}

type principalKey struct{}
type requestIDKey struct{}

func withPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

func principalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

func userIDFromContext(ctx context.Context) (int64, huma.StatusError) {
	if p, ok := principalFromContext(ctx); ok && p.UserID != 0 {
		return p.UserID, nil
	}
	return 0, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
}

func requestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func bearerToken(authorization string) (string, bool) {
	parts := strings.Fields(authorization)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

// newAuthMiddleware authenticates the bearer credential, asks the decision
// engine whether the request may proceed and attaches the principal.
// Credential problems answer 401; authorization denials answer a uniform
// 403 with no hint of which rule matched.
func newAuthMiddleware(cfg AuthConfig, eng engine.Engine, decider authz.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			reqID := uuid.NewString()
			w.Header().Set("X-Request-Id", reqID)
			ctx := context.WithValue(req.Context(), requestIDKey{}, reqID)

			var ident authz.Identity
			var principal Principal
			authorization := strings.TrimSpace(req.Header.Get("Authorization"))
			if authorization != "" {
				raw, ok := bearerToken(authorization)
				if !ok {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				tid, err := cfg.Codec.Parse(raw)
				if err != nil {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				if tid.Expired {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "token_expired", "token expired", nil))
					return
				}
				u, err := eng.Repo.GetUserByEmail(ctx, tid.Subject)
				if err != nil || !u.Enabled {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "invalid_credentials", "invalid credentials", nil))
					return
				}
				ident = authz.Identity{UserID: u.ID, Roles: tid.Roles, Authenticated: true}
				principal = Principal{UserID: u.ID, Email: u.Email, Roles: tid.Roles}
			}

			decision, err := decider.Decide(ctx, ident, req.Method, req.URL.Path)
			if err != nil {
				cfg.logger().Printf("authorize %s %s (request_id=%s): %v", req.Method, req.URL.Path, reqID, err)
				respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil))
				return
			}
			if decision != authz.Allow {
				if !ident.Authenticated {
					respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
					return
				}
				respondStatusError(w, newAPIError(http.StatusForbidden, "forbidden", "access denied", nil))
				return
			}
			if ident.Authenticated {
				ctx = withPrincipal(ctx, principal)
			}
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	}
}

func respondStatusError(w http.ResponseWriter, err huma.StatusError) {
	status := http.StatusInternalServerError
	if e, ok := err.(interface{ GetStatus() int }); ok {
		status = e.GetStatus()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err)
}
