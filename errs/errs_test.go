package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSentinelMatching(t *testing.T) {
	err := fmt.Errorf("lookup: %w", UserNotFound("42"))

	require.True(t, errors.Is(err, ErrUserNotFound))
	require.False(t, errors.Is(err, ErrValidation))
	require.Equal(t, CodeUserNotFound, CodeOf(err))
	require.Equal(t, "User not found: 42", UserNotFound("42").Error())
	require.Equal(t, "42", UserNotFound("42").Details["user_id"])
	require.Equal(t, "User not found", UserNotFound("").Error())
}

func TestConstructorCodes(t *testing.T) {
	tests := []struct {
		err      *Error
		sentinel error
	}{
		{Authentication(""), ErrAuth},
		{Authorization(""), ErrAuthz},
		{Security("", map[string]any{"path": "/login"}), ErrSecurity},
		{Config(""), ErrConfig},
		{Database("", nil), ErrDatabase},
	}
	for _, tt := range tests {
		require.ErrorIs(t, fmt.Errorf("wrapped: %w", tt.err), tt.sentinel, string(tt.err.Code))
		require.NotEmpty(t, tt.err.Message)
		require.NotNil(t, tt.err.Details)
	}
}

func TestValidationField(t *testing.T) {
	err := Validation("Invalid user ID format", "user_id")
	require.Equal(t, CodeValidation, err.Code)
	require.Equal(t, "user_id", err.Details["field"])

	def := Validation("", "")
	require.Equal(t, "Validation failed", def.Message)
	require.NotContains(t, def.Details, "field")
}

func TestCodeOfUnclassified(t *testing.T) {
	require.Equal(t, CodeDashboard, CodeOf(errors.New("boom")))
}

func TestHandleDatabase(t *testing.T) {
	require.NoError(t, HandleDatabase("op", nil))

	validation := Validation("bad", "")
	require.Same(t, validation, HandleDatabase("op", validation))

	cause := errors.New("connection refused")
	err := HandleDatabase("GetUser", cause)
	require.True(t, errors.Is(err, ErrDatabase))
	require.True(t, errors.Is(err, cause))

	var e *Error
	require.True(t, errors.As(err, &e))
	require.Equal(t, "Database operation failed in GetUser", e.Message)
	require.Equal(t, "connection refused", e.Details["original_error"])
}

func TestPublicMessage(t *testing.T) {
	require.Equal(t, "", PublicMessage(nil))
	require.Equal(t, "Invalid user ID format", PublicMessage(Validation("Invalid user ID format", "")))
	require.Equal(t, "User not found: 7", PublicMessage(UserNotFound("7")))
	require.Equal(t, genericMessage, PublicMessage(Database("", errors.New("dial tcp 10.0.0.3:3306"))))
	require.Equal(t, genericMessage, PublicMessage(errors.New("raw")))
	require.Equal(t, "Authentication required", PublicMessage(Authentication("")))
	require.Equal(t, "Access denied", PublicMessage(Authorization("")))
	require.Equal(t, genericMessage, PublicMessage(Security("token signature mismatch", nil)))
	require.Equal(t, genericMessage, PublicMessage(Config("missing DB_PASSWORD")))
}

func TestSafeExecute(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	got := SafeExecute(logger, "count", func() (int, error) { return 3, nil }, -1)
	require.Equal(t, 3, got)
	require.Equal(t, 0, logs.Len())

	got = SafeExecute(logger, "count", func() (int, error) { return 0, Validation("nope", "") }, -1)
	require.Equal(t, -1, got)
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.WarnLevel).Len())

	got = SafeExecute(logger, "count", func() (int, error) { return 0, errors.New("boom") }, -2)
	require.Equal(t, -2, got)
	require.Equal(t, 1, logs.FilterLevelExact(zapcore.ErrorLevel).Len())
}
