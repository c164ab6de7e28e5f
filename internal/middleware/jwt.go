package myMiddleware

import (
	"context"
	"net/http"

	"go-chat-relay/internal/apperr"
	"go-chat-relay/internal/gateway"
)

// Context keys, exported so handlers can read the authenticated user.
type contextKey string

const (
	UserKey     contextKey = "user_id"
	UsernameKey contextKey = "username"
)

// TokenValidator decouples the middleware from the user package.
type TokenValidator interface {
	ValidateToken(tokenString string) (int, string, error)
}

type AuthMiddleware struct {
	validator TokenValidator
}

func NewAuthMiddleware(v TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{validator: v}
}

// Handle accepts the same credentials as the socket handshake: the
// accessToken cookie, a bearer header or the token query parameter.
func (am *AuthMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := gateway.TokenFromRequest(r)
		if tokenString == "" {
			WriteError(w, apperr.Unauthorized("missing authentication token"))
			return
		}

		userID, username, err := am.validator.ValidateToken(tokenString)
		if err != nil {
			WriteError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), UserKey, userID)
		ctx = context.WithValue(ctx, UsernameKey, username)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the authenticated user stored by Handle.
func UserID(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(UserKey).(int)
	return id, ok
}
