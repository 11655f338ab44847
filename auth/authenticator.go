package auth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"moddash/audit"
	"moddash/crypto"
)

const (
	MaxFailedAttempts = 5
	LockoutDuration   = 15 * time.Minute
	FailureDelay      = time.Second
)

// Authenticator checks credentials against the store and applies the
// lockout policy.
type Authenticator struct {
	store  *CredentialStore
	signer *TokenSigner
	trail  *audit.Trail
	logger *zap.Logger
	now    func() time.Time
	sleep  func(time.Duration)
}

type Option func(*Authenticator)

func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// WithSleep replaces the delay applied after a failed attempt.
func WithSleep(sleep func(time.Duration)) Option {
	return func(a *Authenticator) { a.sleep = sleep }
}

func NewAuthenticator(store *CredentialStore, signer *TokenSigner, trail *audit.Trail, logger *zap.Logger, opts ...Option) *Authenticator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Authenticator{
		store:  store,
		signer: signer,
		trail:  trail,
		logger: logger,
		now:    time.Now,
		sleep:  time.Sleep,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type outcome int

const (
	outcomeRejected outcome = iota
	outcomeUnknown
	outcomeLocked
	outcomeMismatch
	outcomeLockedNow
	outcomeSuccess
)

// Authenticate verifies username and password. On success sess is filled
// in; on failure sess is left as it was.
func (a *Authenticator) Authenticate(ctx context.Context, sess *Session, username, password string) bool {
	if username == "" || password == "" {
		return false
	}

	now := a.now()
	result, rec := a.attempt(username, password, now)
	actor := audit.Actor{Username: username, Role: rec.Role}

	switch result {
	case outcomeUnknown:
		a.logger.Warn("Authentication attempt for unknown user", zap.String("username", username))
		a.sleep(FailureDelay)
		return false
	case outcomeLocked:
		a.logger.Warn("Authentication attempt for locked account", zap.String("username", username),
			zap.Time("locked_until", rec.LockedUntil))
		return false
	case outcomeMismatch:
		a.logger.Warn("Failed authentication attempt", zap.String("username", username),
			zap.Int("failed_attempts", rec.FailedAttempts))
		a.sleep(FailureDelay)
		return false
	case outcomeLockedNow:
		a.logger.Warn("Account locked after repeated failures", zap.String("username", username),
			zap.Int("failed_attempts", rec.FailedAttempts), zap.Time("locked_until", rec.LockedUntil))
		a.trail.LogActionAs(ctx, actor, "ACCOUNT_LOCKED", map[string]any{
			"failed_attempts": rec.FailedAttempts,
			"locked_until":    rec.LockedUntil.UTC().Format(time.RFC3339),
		}, false)
		a.sleep(FailureDelay)
		return false
	case outcomeSuccess:
	default:
		return false
	}

	token, err := a.signer.Issue(rec.Username, rec.Role, now)
	if err != nil {
		a.logger.Error("Failed to issue session token", zap.String("username", username), zap.Error(err))
		return false
	}
	*sess = Session{
		Authenticated: true,
		Username:      rec.Username,
		Role:          rec.Role,
		LoginTime:     now,
		Token:         token,
	}
	a.logger.Info("Successful authentication", zap.String("username", username))
	a.trail.LogActionAs(ctx, actor, "LOGIN", map[string]any{"login_time": now.UTC().Format(time.RFC3339)}, true)
	return true
}

// attempt runs the check-compare-update sequence under the store lock and
// returns a snapshot of the record afterwards.
func (a *Authenticator) attempt(username, password string, now time.Time) (outcome, CredentialRecord) {
	a.store.mu.Lock()
	defer a.store.mu.Unlock()

	rec, ok := a.store.records[username]
	if !ok {
		return outcomeUnknown, CredentialRecord{}
	}
	if rec.lockedAt(now) {
		return outcomeLocked, *rec
	}
	if !rec.LockedUntil.IsZero() {
		rec.LockedUntil = time.Time{}
		rec.FailedAttempts = 0
	}

	if !crypto.CheckPasswordHash(password, rec.PasswordHash) {
		rec.FailedAttempts++
		if rec.FailedAttempts >= MaxFailedAttempts {
			rec.LockedUntil = now.Add(LockoutDuration)
			return outcomeLockedNow, *rec
		}
		return outcomeMismatch, *rec
	}

	rec.FailedAttempts = 0
	rec.LockedUntil = time.Time{}
	rec.LastLogin = now
	return outcomeSuccess, *rec
}
