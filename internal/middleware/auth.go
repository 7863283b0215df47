// Package middleware provides HTTP middleware for the inbox server.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/zeeshangondal/ClinicsDashboard-V9/internal/session"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// AgentKey is the context key for the authenticated agent.
	AgentKey ContextKey = "agent"
	// ClinicIDKey is the context key for the agent's clinic.
	ClinicIDKey ContextKey = "clinic_id"
	// ScopesKey is the context key for JWT scopes.
	ScopesKey ContextKey = "scopes"
)

// ScopeInbound allows posting inbound customer messages.
const ScopeInbound = "inbox:inbound"

// Claims represents JWT claims.
type Claims struct {
	jwt.RegisteredClaims
	Name     string   `json:"name"`
	ClinicID string   `json:"clinic_id"`
	Scopes   []string `json:"scope"`
}

// Auth creates JWT authentication middleware. The token subject and name
// become the session actor for the request.
func Auth(jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				writeAuthError(w, http.StatusUnauthorized, "missing or malformed authorization")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
				return []byte(jwtSecret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()}))

			if err != nil || !token.Valid || claims.Subject == "" {
				writeAuthError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			setRequestUser(r.Context(), claims.Subject)

			ctx := context.WithValue(r.Context(), AgentKey, session.Agent{UserID: claims.Subject, Name: claims.Name})
			ctx = context.WithValue(ctx, ClinicIDKey, claims.ClinicID)
			ctx = context.WithValue(ctx, ScopesKey, claims.Scopes)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken reads the token from the Authorization header, or from the
// access_token query parameter for EventSource clients that cannot set
// headers.
func bearerToken(r *http.Request) (string, bool) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") || parts[1] == "" {
			return "", false
		}
		return parts[1], true
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, true
	}
	return "", false
}

// GetAgent gets the authenticated agent from context.
func GetAgent(ctx context.Context) (session.Agent, bool) {
	agent, ok := ctx.Value(AgentKey).(session.Agent)
	return agent, ok
}

// GetUserID gets the authenticated user ID from context.
func GetUserID(ctx context.Context) string {
	agent, _ := GetAgent(ctx)
	return agent.UserID
}

// GetClinicID gets the clinic ID from context.
func GetClinicID(ctx context.Context) string {
	id, _ := ctx.Value(ClinicIDKey).(string)
	return id
}

// GetScopes gets scopes from context.
func GetScopes(ctx context.Context) []string {
	scopes, _ := ctx.Value(ScopesKey).([]string)
	return scopes
}

// HasScope checks if the context has a specific scope.
func HasScope(ctx context.Context, scope string) bool {
	for _, s := range GetScopes(ctx) {
		if s == scope {
			return true
		}
	}
	return false
}

// RequireScope creates middleware that requires a specific scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !HasScope(r.Context(), scope) {
				writeAuthError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + message + `"}`))
}
