package auth

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// TokenCookieName is the HTTP-only cookie carrying the identity token.
const TokenCookieName = "token"

// Session is the per-request decoded identity. It lives only in the request
// context and is never persisted.
type Session struct {
	Email string
}

type contextKey string

const sessionContextKey contextKey = "servicehub.session"

// Middleware gates protected routes: it extracts the token cookie, verifies
// it and binds the decoded subject into the request context. Missing, invalid
// and expired tokens are all rejected with the same 401 body before the
// handler runs.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(TokenCookieName)
			if err != nil || strings.TrimSpace(cookie.Value) == "" {
				writeUnauthorized(w)
				return
			}
			subject, err := VerifyToken(cookie.Value, secret, time.Now().UTC())
			if err != nil {
				writeUnauthorized(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), Session{Email: subject})))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"message":"unauthorized access"}`))
}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

func SessionFromContext(ctx context.Context) (Session, bool) {
	v := ctx.Value(sessionContextKey)
	if v == nil {
		return Session{}, false
	}
	s, ok := v.(Session)
	return s, ok
}

// OwnsIdentity reports whether the authenticated session may act as the
// caller-asserted identity. Exact case-sensitive equality; anything else is
// impersonation.
func OwnsIdentity(s Session, claimed string) bool {
	return claimed == s.Email
}
