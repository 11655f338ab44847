// Package audit records every administrative action, successful or not,
// with the acting administrator taken from the request context.
package audit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const unknown = "unknown"

// Entry is one append-only audit record.
type Entry struct {
	Timestamp time.Time      `json:"timestamp" db:"timestamp"`
	Username  string         `json:"username" db:"username"`
	Role      string         `json:"role" db:"role"`
	Action    string         `json:"action" db:"action"`
	Success   bool           `json:"success" db:"success"`
	Details   map[string]any `json:"details"`
}

// Actor identifies who performed an action.
type Actor struct {
	Username string
	Role     string
}

func (a Actor) withDefaults() Actor {
	if a.Username == "" {
		a.Username = unknown
	}
	if a.Role == "" {
		a.Role = unknown
	}
	return a
}

type actorKey struct{}

// WithActor attaches the acting administrator to ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor stored in ctx, or "unknown" for both fields.
func ActorFrom(ctx context.Context) Actor {
	a, _ := ctx.Value(actorKey{}).(Actor)
	return a.withDefaults()
}

// Sink persists or forwards audit entries.
type Sink interface {
	Write(ctx context.Context, e Entry) error
}

// Trail fans entries out to its sinks. A sink failure is reported on the
// application logger and never reaches the caller.
type Trail struct {
	sinks  []Sink
	logger *zap.Logger
	now    func() time.Time
}

type Option func(*Trail)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(t *Trail) { t.now = now }
}

func NewTrail(logger *zap.Logger, sinks []Sink, opts ...Option) *Trail {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Trail{sinks: sinks, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// LogAction records action for the actor found in ctx.
func (t *Trail) LogAction(ctx context.Context, action string, details map[string]any, success bool) {
	t.LogActionAs(ctx, ActorFrom(ctx), action, details, success)
}

// LogActionAs records action for an explicit actor. Used on the login path
// where no session exists in the context yet.
func (t *Trail) LogActionAs(ctx context.Context, actor Actor, action string, details map[string]any, success bool) {
	if t == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	actor = actor.withDefaults()
	e := Entry{
		Timestamp: t.now().UTC(),
		Username:  actor.Username,
		Role:      actor.Role,
		Action:    action,
		Success:   success,
		Details:   details,
	}
	for _, s := range t.sinks {
		if err := s.Write(ctx, e); err != nil {
			t.logger.Error("audit sink write failed", zap.String("action", action), zap.Error(err))
		}
	}
}

// Do runs fn and records exactly one entry for it. The error returned by
// fn is passed back untouched.
func (t *Trail) Do(ctx context.Context, action string, fn func(ctx context.Context) error) error {
	_, err := Run(ctx, t, action, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Run is Do for operations that return a value. A panic in fn is recorded
// as a failure and then re-raised.
func Run[T any](ctx context.Context, t *Trail, action string, fn func(ctx context.Context) (T, error)) (T, error) {
	defer func() {
		if p := recover(); p != nil {
			t.LogAction(ctx, action, map[string]any{"operation": action, "error": fmt.Sprint(p), "panic": true}, false)
			panic(p)
		}
	}()

	v, err := fn(ctx)
	if err != nil {
		t.LogAction(ctx, action, map[string]any{"operation": action, "error": err.Error()}, false)
		return v, err
	}
	t.LogAction(ctx, action, map[string]any{"operation": action}, true)
	return v, nil
}
