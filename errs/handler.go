package errs

import (
	"errors"

	"go.uber.org/zap"
)

const genericMessage = "An unexpected error occurred. Please try again later."

// HandleDatabase classifies an error returned from a storage call made by
// operation op. Classified errors pass through unchanged; anything else
// becomes a database error carrying the original text.
func HandleDatabase(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return Database("Database operation failed in "+op, err)
}

// SafeExecute runs fn and returns fallback when it fails. The failure is
// logged at a level that matches its classification.
func SafeExecute[T any](logger *zap.Logger, op string, fn func() (T, error), fallback T) T {
	v, err := fn()
	if err == nil {
		return v
	}
	fields := []zap.Field{zap.String("operation", op), zap.Error(err), zap.String("error_code", string(CodeOf(err)))}
	switch CodeOf(err) {
	case CodeValidation, CodeUserNotFound:
		logger.Warn("operation failed", fields...)
	default:
		logger.Error("operation failed", fields...)
	}
	return fallback
}

// PublicMessage returns the text that may be shown to the operator.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		switch e.Code {
		case CodeValidation, CodeUserNotFound, CodeAuth, CodeAuthz:
			return e.Message
		}
	}
	return genericMessage
}
