package auth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"moddash/audit"
	"moddash/config"
	"moddash/errs"
)

// Session is the per-client authentication state. It is owned by the
// caller and passed by reference; nothing here keeps sessions in globals.
type Session struct {
	Authenticated bool
	Username      string
	Role          string
	LoginTime     time.Time
	Token         string
}

// Clear resets every field.
func (s *Session) Clear() {
	*s = Session{}
}

// Actor returns the audit identity of the session holder.
func (s *Session) Actor() audit.Actor {
	if s == nil {
		return audit.Actor{}
	}
	return audit.Actor{Username: s.Username, Role: s.Role}
}

// Guard decides whether a session may call a protected operation.
type Guard struct {
	signer  *TokenSigner
	trail   *audit.Trail
	logger  *zap.Logger
	timeout time.Duration
	now     func() time.Time
}

type GuardOption func(*Guard)

func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// WithTimeout overrides the session lifetime. Non-positive values keep the
// default.
func WithTimeout(d time.Duration) GuardOption {
	return func(g *Guard) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func NewGuard(signer *TokenSigner, trail *audit.Trail, logger *zap.Logger, opts ...GuardOption) *Guard {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Guard{
		signer:  signer,
		trail:   trail,
		logger:  logger,
		timeout: time.Duration(config.DefaultSessionTimeout) * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func (g *Guard) Timeout() time.Duration {
	return g.timeout
}

// IsAuthenticated reports whether sess is logged in and still valid. An
// expired or tampered session is logged out as a side effect.
func (g *Guard) IsAuthenticated(ctx context.Context, sess *Session) bool {
	if sess == nil || !sess.Authenticated {
		return false
	}

	// A zero login time is treated as the epoch, so it always expires.
	login := sess.LoginTime
	if login.IsZero() {
		login = time.Unix(0, 0)
	}
	if g.now().Sub(login) > g.timeout {
		g.logger.Info("Session expired", zap.String("username", sess.Username))
		g.Logout(ctx, sess)
		return false
	}

	if err := g.signer.Verify(sess); err != nil {
		g.logger.Warn("SECURITY: Session token rejected", zap.String("username", sess.Username),
			zap.String("error_code", string(errs.CodeOf(err))), zap.Error(err))
		g.Logout(ctx, sess)
		return false
	}
	return true
}

// Logout clears sess and records a LOGOUT entry for its holder.
func (g *Guard) Logout(ctx context.Context, sess *Session) {
	if sess == nil {
		return
	}
	actor := sess.Actor()
	username := actor.Username
	if username == "" {
		username = "unknown"
	}
	sess.Clear()
	g.trail.LogActionAs(ctx, actor, "LOGOUT", nil, true)
	g.logger.Info("User logged out", zap.String("username", username))
}
