// Package logging builds the zap loggers used across the dashboard: an
// application logger that tees to the console and rotated JSON files, and
// a security logger dedicated to the audit trail.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Environment string
	Level       string
	Dir         string
}

func jsonEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(cfg)
}

func consoleEncoder(environment string) zapcore.Encoder {
	if environment == "production" {
		return jsonEncoder()
	}
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewConsoleEncoder(cfg)
}

func rotated(dir, name string, maxSizeMB, backups int) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    maxSizeMB,
		MaxBackups: backups,
	})
}

func parseLevel(s string) zapcore.Level {
	level := zapcore.InfoLevel
	if s != "" {
		if err := level.UnmarshalText([]byte(s)); err != nil {
			level = zapcore.InfoLevel
		}
	}
	return level
}

// New returns the application logger. Console output honours the
// configured level; dashboard.log keeps everything from debug up and
// errors.log only errors.
func New(opts Options) (*zap.Logger, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}
	level := parseLevel(opts.Level)

	core := zapcore.NewTee(
		zapcore.NewCore(consoleEncoder(opts.Environment), zapcore.Lock(os.Stderr), level),
		zapcore.NewCore(jsonEncoder(), rotated(opts.Dir, "dashboard.log", 10, 5), zapcore.DebugLevel),
		zapcore.NewCore(jsonEncoder(), rotated(opts.Dir, "errors.log", 5, 3), zapcore.ErrorLevel),
	)

	logger := zap.New(core, zap.AddCaller())
	if opts.Environment == "production" {
		logger = logger.WithOptions(zap.AddStacktrace(zapcore.ErrorLevel))
	}
	logger.Info("Logging system initialized", zap.String("dir", opts.Dir), zap.Stringer("level", level))
	return logger, nil
}

// NewSecurity returns the logger behind the audit trail. It writes JSON to
// security_audit.log only and never reaches the console.
func NewSecurity(opts Options) (*zap.Logger, error) {
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, err
	}
	// Audit records carry their own timestamp field.
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = ""
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), rotated(opts.Dir, "security_audit.log", 50, 10), zapcore.InfoLevel)
	return zap.New(core).Named("security"), nil
}
