package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"moddash/audit"
)

type sessionKey struct{}

func WithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFrom returns the session attached by RequireAuth, or nil.
func SessionFrom(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionKey{}).(*Session)
	return sess
}

// RequireAuth lets a request through only when its session is valid. The
// request then carries the session and the audit actor in its context.
// Otherwise the cleared session is written back and denied handles the
// request.
func RequireAuth(cookies *CookieSessions, guard *Guard, denied http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := cookies.Load(r)
			if !guard.IsAuthenticated(r.Context(), sess) {
				if err := cookies.Save(w, r, sess); err != nil {
					guard.logger.Error("Failed to save session", zap.Error(err))
				}
				denied.ServeHTTP(w, r)
				return
			}
			ctx := WithSession(r.Context(), sess)
			ctx = audit.WithActor(ctx, sess.Actor())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
