package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/sentra-auth/sentra/internal/models"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	accountContextKey contextKey = "account"
	sessionContextKey contextKey = "session"
)

// SessionAuthenticator resolves a bearer session token to its session
// and owning account. Implemented by the session service.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*models.Session, *models.Account, error)
}

// SessionMiddleware authenticates requests via a bearer session token
// or the session cookie and injects the session and account into the
// request context.
func SessionMiddleware(authenticator SessionAuthenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractSessionToken(r)
			if token == "" {
				http.Error(w, "missing session token", http.StatusUnauthorized)
				return
			}

			session, account, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				// Expired and unknown tokens look identical to the client
				http.Error(w, "invalid or expired session", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey, session)
			ctx = context.WithValue(ctx, accountContextKey, account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireLevel enforces a minimum admin level. Must be used after
// SessionMiddleware.
func RequireLevel(min models.AdminLevel) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			account := GetAccountFromContext(r)
			if account == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			if !account.AdminLevel.Meets(min) {
				http.Error(w, "forbidden: insufficient privilege", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// extractSessionToken pulls the session token from the Authorization
// header (preferred) or the session cookie.
func extractSessionToken(r *http.Request) string {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}

	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}

	return ""
}

// GetAccountFromContext retrieves the authenticated account, or nil.
func GetAccountFromContext(r *http.Request) *models.Account {
	account, ok := r.Context().Value(accountContextKey).(*models.Account)
	if !ok {
		return nil
	}
	return account
}

// GetSessionFromContext retrieves the authenticated session, or nil.
func GetSessionFromContext(r *http.Request) *models.Session {
	session, ok := r.Context().Value(sessionContextKey).(*models.Session)
	if !ok {
		return nil
	}
	return session
}

// WithAccount returns a request context carrying the given account and
// session. Test helper for handler tests.
func WithAccount(ctx context.Context, account *models.Account, session *models.Session) context.Context {
	ctx = context.WithValue(ctx, accountContextKey, account)
	return context.WithValue(ctx, sessionContextKey, session)
}
